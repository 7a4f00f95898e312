package emit

// NullEmitter implements Emitter by discarding every event. Useful as the
// zero-overhead default when no observability backend is configured.
type NullEmitter struct{}

// NewNullEmitter returns a NullEmitter.
func NewNullEmitter() *NullEmitter { return &NullEmitter{} }

// Emit discards event.
func (n *NullEmitter) Emit(event Event) {}
