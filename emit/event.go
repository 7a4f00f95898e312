// Package emit provides pluggable observability event emission for the
// workflow engine: compile-time diagnostics (races, cycles, elided
// checkpoints) and run-time node lifecycle events.
package emit

// Event represents an observability event emitted during graph compilation
// or execution.
//
// Msg values: workflow.Executor emits "node_start" and "node_finish". The
// other names are reserved for compile-time diagnostics; workflow.Builder
// does not emit them and reports those failures only as errors from
// Finalize.
//   - "node_start" / "node_finish": a compiled node began or finished its job.
//   - "cycle_detected": finalize() found a cycle; Meta["nodes"] lists the cycle.
//   - "race_rejected": finalize() found a resource-access conflict; Meta holds
//     the two node names and the offending resource names.
//   - "checkpoint_elided": a checkpoint with <= 1 reference was removed;
//     logged as a likely typo per spec.md §4.1.
type Event struct {
	// RunID identifies the execution run that emitted this event. Empty
	// for compile-time events, which happen before any run exists.
	RunID string

	// NodeID identifies which node emitted this event. Empty for
	// graph-level events.
	NodeID string

	// Msg is a short machine-matchable event name (see examples above).
	Msg string

	// Meta carries event-specific structured details, e.g. offending
	// resource names for a race, or a cycle's node list.
	Meta map[string]interface{}
}
