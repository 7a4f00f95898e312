package workflow

import "errors"

// Sentinel errors for Builder.Finalize failure modes. Use errors.Is to
// test for these; use errors.As with *CompileError to recover the
// offending node/resource names.
var (
	// ErrEmptyGraph is returned when the graph, after checkpoint
	// elision, contains no functional nodes.
	ErrEmptyGraph = errors.New("workflow: graph has no functional nodes")

	// ErrNoStartNodes is returned when every node has a non-zero
	// in-degree after elision (this always co-occurs with a cycle,
	// since a DAG with at least one node always has an in-degree-0
	// node).
	ErrNoStartNodes = errors.New("workflow: graph has no start nodes")

	// ErrCycleDetected is returned when the DFS verification pass finds
	// a directed cycle among functional nodes.
	ErrCycleDetected = errors.New("workflow: cycle detected")

	// ErrRaceDetected is returned when two concurrent nodes declare
	// conflicting resource accesses.
	ErrRaceDetected = errors.New("workflow: race detected between concurrent nodes")

	// ErrDuplicateNode is returned by NodeSubmit when a node with the
	// same name was already submitted.
	ErrDuplicateNode = errors.New("workflow: duplicate node submission")

	// ErrCheckpointCollision is returned when a checkpoint edge names a
	// node that already exists as a functional node, or vice versa.
	ErrCheckpointCollision = errors.New("workflow: checkpoint/functional name collision")

	// ErrNodeNotFound is returned by Finalize/Validate when an edge names
	// a node that is missing from the intermediate graph.
	ErrNodeNotFound = errors.New("workflow: node not found")

	// ErrMissingFunction is returned by NodeSubmit when the node has no
	// NodeFunc attached (submitting a function-less node would create a
	// checkpoint, which is only allowed implicitly via edges).
	ErrMissingFunction = errors.New("workflow: node has no function")
)

// CompileError carries structured detail about why Builder.Finalize
// failed, in the familiar EngineError{Message, Code} shape so callers
// can pattern-match machine-readable codes as well as use errors.Is
// against the sentinel.
type CompileError struct {
	// Code is a short machine-readable identifier, e.g. "CYCLE_DETECTED",
	// "RACE_DETECTED", "DUPLICATE_NODE".
	Code string

	// Message is a human-readable description, including offending node
	// and resource names where applicable.
	Message string

	// Nodes lists node names implicated in the failure (cycle members,
	// the two racing nodes, ...).
	Nodes []string

	// Resources lists resource names implicated in a race (empty for
	// non-race failures).
	Resources []string

	sentinel error
}

func (e *CompileError) Error() string { return e.Message }

// Unwrap exposes the underlying sentinel so errors.Is(err, ErrCycleDetected)
// etc. work transparently.
func (e *CompileError) Unwrap() error { return e.sentinel }
