package workflow

import (
	"fmt"
	"sync"
)

// checkpointEdge records a user-declared edge between two checkpoint
// names, added via Builder.AddCheckpointEdge before either checkpoint's
// functional neighbors are known.
type checkpointEdge struct {
	from, to string
}

// Builder accumulates node submissions and checkpoint edges, then compiles
// them into an immutable Graph via Finalize.
//
// Node submission is serialized by a single mutex so that background
// scanners may register nodes concurrently with a driver that finalizes
// once every node is in; this mirrors the teacher's pattern of guarding a
// shared node map with one lock for the whole Engine/Builder lifetime.
type Builder struct {
	mu sync.Mutex

	nodes           map[string]*buildingNode
	checkpointEdges []checkpointEdge

	// verify controls whether Finalize runs the race-verification pass.
	// Verification is on by default; this flag only lets a caller skip
	// the O(N^2) pass when they are confident no race exists, e.g. a
	// single-threaded graph.
	verify bool

	metrics *Metrics // optional, nil disables instrumentation
}

// WithMetrics attaches m to the builder so every Finalize call reports
// rejected compilations and elided checkpoints.
func (b *Builder) WithMetrics(m *Metrics) *Builder {
	b.metrics = m
	return b
}

// NewBuilder creates an empty Builder. verify sets the default for whether
// Finalize runs race verification; it can be overridden per-call via
// FinalizeOptions.
func NewBuilder(verify bool) *Builder {
	return &Builder{
		nodes:  make(map[string]*buildingNode),
		verify: verify,
	}
}

// ensureCheckpoint returns the existing node named name, creating an empty
// checkpoint node for it if absent. It does not mark the node submitted.
func (b *Builder) ensureCheckpoint(name string) *buildingNode {
	if n, ok := b.nodes[name]; ok {
		return n
	}
	n := &buildingNode{name: name, isCheckpoint: true}
	b.nodes[name] = n
	return n
}

// AddCheckpointEdge records a checkpoint-scoped edge between two
// synchronization labels. Both endpoints are auto-created as checkpoints
// if they do not exist yet. Fails with ErrCheckpointCollision if either
// name already exists as a submitted functional node.
func (b *Builder) AddCheckpointEdge(from, to string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if n, ok := b.nodes[from]; ok && n.submitted && n.fn != nil {
		return &CompileError{
			Code:     "CHECKPOINT_COLLISION",
			Message:  fmt.Sprintf("workflow: %q is already a functional node, cannot be used as a checkpoint", from),
			Nodes:    []string{from},
			sentinel: ErrCheckpointCollision,
		}
	}
	if n, ok := b.nodes[to]; ok && n.submitted && n.fn != nil {
		return &CompileError{
			Code:     "CHECKPOINT_COLLISION",
			Message:  fmt.Sprintf("workflow: %q is already a functional node, cannot be used as a checkpoint", to),
			Nodes:    []string{to},
			sentinel: ErrCheckpointCollision,
		}
	}

	b.ensureCheckpoint(from)
	b.ensureCheckpoint(to)
	b.checkpointEdges = append(b.checkpointEdges, checkpointEdge{from, to})
	return nil
}

// NodeCreate returns an unsubmitted NodeHandle for name. The node does not
// become visible to other Builder operations (Finalize, duplicate
// detection) until NodeSubmit is called.
func (b *Builder) NodeCreate(name string) *NodeHandle {
	return &NodeHandle{
		b:    b,
		node: &buildingNode{name: name},
	}
}

// NodeSubmit registers h's node in the builder. It fails if a node with
// this name was already submitted (ErrDuplicateNode), if the name is
// already a checkpoint created by AddCheckpointEdge
// (ErrCheckpointCollision), or if h has no function attached (a
// function-less submission would be a checkpoint, and checkpoints may only
// be created implicitly via edges, never submitted explicitly).
func (b *Builder) NodeSubmit(h *NodeHandle) error {
	if h.node.fn == nil {
		return &CompileError{
			Code:     "MISSING_FUNCTION",
			Message:  fmt.Sprintf("workflow: node %q has no function", h.node.name),
			Nodes:    []string{h.node.name},
			sentinel: ErrMissingFunction,
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if existing, ok := b.nodes[h.node.name]; ok {
		if existing.submitted {
			return &CompileError{
				Code:     "DUPLICATE_NODE",
				Message:  fmt.Sprintf("workflow: duplicate node submission: %q", h.node.name),
				Nodes:    []string{h.node.name},
				sentinel: ErrDuplicateNode,
			}
		}
		// A checkpoint with this name was created by AddCheckpointEdge;
		// the later-arriving functional submission is rejected.
		return &CompileError{
			Code:     "CHECKPOINT_COLLISION",
			Message:  fmt.Sprintf("workflow: %q is already a checkpoint, cannot be submitted as a functional node", h.node.name),
			Nodes:    []string{h.node.name},
			sentinel: ErrCheckpointCollision,
		}
	}

	h.node.isCheckpoint = false
	h.node.submitted = true
	b.nodes[h.node.name] = h.node
	return nil
}

// NodeDestroy discards h. It is only valid before submission; destroying a
// submitted node is a no-op (the builder already owns it and Finalize will
// reset the builder's node set regardless).
func (b *Builder) NodeDestroy(h *NodeHandle) {
	if h.node.submitted {
		return
	}
	h.node = nil
}

// Validate runs the same cycle/race verification pass Finalize applies,
// without compiling or resetting the builder. It lets a caller check a
// graph is well-formed before committing to Finalize, and is the
// first-class "validate" entry point spec.md §9's open question asks for:
// verification is cheap enough (O(N^2) over nodes with small bitsets) to
// always be available rather than gated behind a build flag.
func (b *Builder) Validate() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	inter, err := b.materialize()
	if err != nil {
		return err
	}
	if err := verifyAcyclic(inter); err != nil {
		return err
	}
	return verifyRaceFree(inter)
}

// reset clears all builder state so the Builder can be reused for another
// compilation.
func (b *Builder) reset() {
	b.nodes = make(map[string]*buildingNode)
	b.checkpointEdges = nil
}

// Destroy releases the builder's internal state. After Destroy the Builder
// must not be used again.
func (b *Builder) Destroy() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nodes = nil
	b.checkpointEdges = nil
}
