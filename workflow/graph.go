package workflow

import "github.com/kan-go/workflow/intern"

// CompiledNode is one functional node in a compiled Graph. It is immutable
// and safe to read concurrently from many goroutines during execution.
//
// A single contiguous allocation per graph with out-edges stored inline
// after each node header is the natural design in a language without a
// garbage collector; Go's GC and slice model make a hand-rolled flat
// arena the wrong idiom here. Instead the Graph itself owns one flat
// []int32 edge arena and every CompiledNode holds a slice view into it,
// which gives the same single-allocation-per-edge-set property without
// per-node allocations.
type CompiledNode struct {
	Name intern.Handle
	Fn   NodeFunc
	Data any

	// outEdges indexes into Graph.edgeArena: the successor node indices to
	// notify when this node completes.
	outEdges []int32

	// inDegree is the static number of predecessors; the Executor copies
	// this into an atomic counter per run.
	inDegree int32

	access []resourceAccess
}

// GraphHeader carries graph-level metadata alongside the node array.
type GraphHeader struct {
	NodeCount  int
	EdgeCount  int
	StartNodes []int32 // indices of nodes with inDegree == 0
}

// Graph is the immutable, race-verified, checkpoint-elided compilation
// result produced by Builder.Finalize. A Graph may be run concurrently by
// any number of Executors, any number of times — graphs are re-runnable,
// not single-shot.
type Graph struct {
	Header GraphHeader
	Nodes  []CompiledNode
	names  *intern.Table

	edgeArena []int32
}

// NodeCount returns the number of functional nodes in the graph.
func (g *Graph) NodeCount() int { return len(g.Nodes) }

// NodeName resolves a compiled node's interned name back to a string.
func (g *Graph) NodeName(idx int) string {
	return g.names.Text(g.Nodes[idx].Name)
}
