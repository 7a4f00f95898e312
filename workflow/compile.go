package workflow

import (
	"fmt"

	"github.com/kan-go/workflow/intern"
)

// intermediateNode is the working representation used while compiling: one
// entry per builder node (functional or checkpoint), before checkpoints are
// elided and the result is laid out into a Graph.
type intermediateNode struct {
	name         string
	isCheckpoint bool
	fn           NodeFunc
	data         any
	access       []resourceAccess

	preds []string // incoming edges, by name
	succs []string // outgoing edges, by name
}

// FinalizeOptions tunes a single Finalize call. The zero value runs
// verification whenever the Builder was created with verification enabled;
// callers must opt out explicitly rather than by omission.
type FinalizeOptions struct {
	// SkipVerify disables the cycle/race verification pass. Use only when
	// the caller has independent confidence the graph is race-free and
	// acyclic; malformed graphs will misbehave silently rather than fail
	// at compile time.
	SkipVerify bool
}

// Finalize compiles the builder's accumulated nodes and checkpoint edges
// into an immutable, re-runnable Graph, then resets the builder so it can
// be reused for another compilation.
//
// Compilation proceeds in the order the design mandates:
//  1. materialize every submitted node and every checkpoint referenced by
//     an edge into an intermediateNode set, wiring depends_on/
//     dependency_of and checkpoint edges into preds/succs lists;
//  2. (folded into step 1) build incoming/outgoing adjacency;
//  3. optionally verify: detect cycles via tri-color DFS, detect races
//     among concurrently-reachable node pairs per the resource conflict
//     matrix;
//  4. elide checkpoints by rewiring the cartesian product of each
//     checkpoint's predecessors and successors directly to one another;
//  5. validate the elided graph is non-empty and has at least one start
//     node;
//  6. lay the result out into a Graph and reset the builder.
func (b *Builder) Finalize(opts FinalizeOptions) (*Graph, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	inter, err := b.materialize()
	if err != nil {
		return nil, err
	}

	if b.verify && !opts.SkipVerify {
		if err := verifyAcyclic(inter); err != nil {
			if b.metrics != nil {
				b.metrics.rejected("cycle")
			}
			return nil, err
		}
		if err := verifyRaceFree(inter); err != nil {
			if b.metrics != nil {
				b.metrics.rejected("race")
			}
			return nil, err
		}
	}

	checkpointCount := 0
	for _, n := range inter {
		if n.isCheckpoint {
			checkpointCount++
		}
	}

	elided, err := elideCheckpoints(inter)
	if err != nil {
		return nil, err
	}
	if b.metrics != nil {
		for i := 0; i < checkpointCount; i++ {
			b.metrics.checkpointElided()
		}
	}

	if err := validateNonEmpty(elided); err != nil {
		return nil, err
	}

	graph := layout(elided)

	b.reset()
	return graph, nil
}

// materialize builds the intermediate node/edge set from the builder's
// submitted nodes and checkpoint edges.
func (b *Builder) materialize() (map[string]*intermediateNode, error) {
	inter := make(map[string]*intermediateNode, len(b.nodes))

	for name, bn := range b.nodes {
		if !bn.submitted && !bn.isCheckpoint {
			continue // unsubmitted functional handle never reached NodeSubmit
		}
		inter[name] = &intermediateNode{
			name:         name,
			isCheckpoint: bn.isCheckpoint,
			fn:           bn.fn,
			data:         bn.data,
			access:       bn.access,
		}
	}

	// Any name mentioned in a depends_on/dependency_of list that no node
	// defines becomes an empty checkpoint, so checkpoints may be referenced
	// before (or without) anyone declaring them.
	for _, bn := range b.nodes {
		if !bn.submitted {
			continue
		}
		for _, refs := range [][]string{bn.dependsOn, bn.dependencyOf} {
			for _, ref := range refs {
				if _, ok := inter[ref]; !ok {
					inter[ref] = &intermediateNode{name: ref, isCheckpoint: true}
				}
			}
		}
	}

	link := func(from, to string) error {
		fromNode, ok := inter[from]
		if !ok {
			return &CompileError{
				Code:     "NODE_NOT_FOUND",
				Message:  fmt.Sprintf("workflow: dependency references unknown node %q", from),
				Nodes:    []string{from},
				sentinel: ErrNodeNotFound,
			}
		}
		toNode, ok := inter[to]
		if !ok {
			return &CompileError{
				Code:     "NODE_NOT_FOUND",
				Message:  fmt.Sprintf("workflow: dependency references unknown node %q", to),
				Nodes:    []string{to},
				sentinel: ErrNodeNotFound,
			}
		}
		fromNode.succs = append(fromNode.succs, to)
		toNode.preds = append(toNode.preds, from)
		return nil
	}

	for name, bn := range b.nodes {
		if _, ok := inter[name]; !ok {
			continue
		}
		for _, dep := range bn.dependsOn {
			if err := link(dep, name); err != nil {
				return nil, err
			}
		}
		for _, dep := range bn.dependencyOf {
			if err := link(name, dep); err != nil {
				return nil, err
			}
		}
	}

	for _, edge := range b.checkpointEdges {
		if err := link(edge.from, edge.to); err != nil {
			return nil, err
		}
	}

	return inter, nil
}

// nodeColor is the tri-color marker used by the DFS cycle check.
type nodeColor int

const (
	colorWhite nodeColor = iota
	colorGray
	colorBlack
)

// verifyAcyclic runs a DFS over the intermediate graph with tri-color
// marking: a gray node reached again means a back edge, i.e. a cycle.
func verifyAcyclic(inter map[string]*intermediateNode) error {
	colors := make(map[string]nodeColor, len(inter))
	var stack []string

	var visit func(name string) error
	visit = func(name string) error {
		switch colors[name] {
		case colorBlack:
			return nil
		case colorGray:
			cycle := append(append([]string{}, stack...), name)
			return &CompileError{
				Code:     "CYCLE_DETECTED",
				Message:  fmt.Sprintf("workflow: cycle detected: %v", cycle),
				Nodes:    cycle,
				sentinel: ErrCycleDetected,
			}
		}
		colors[name] = colorGray
		stack = append(stack, name)
		for _, succ := range inter[name].succs {
			if err := visit(succ); err != nil {
				return err
			}
		}
		stack = stack[:len(stack)-1]
		colors[name] = colorBlack
		return nil
	}

	for name := range inter {
		if colors[name] == colorWhite {
			if err := visit(name); err != nil {
				return err
			}
		}
	}
	return nil
}

// conflicts reports whether two access classes against the same resource
// race with one another. READ/READ never conflicts, and neither does
// INSERT/INSERT — two producers may append independently without
// observing each other's writes. Every other pairing, including any
// mix touching WRITE, conflicts.
func conflicts(a, b AccessClass) bool {
	if a == AccessRead && b == AccessRead {
		return false
	}
	if a == AccessInsert && b == AccessInsert {
		return false
	}
	return true
}

// verifyRaceFree checks every pair of nodes that are not ordered by a path
// in either direction (i.e. may run concurrently) for conflicting resource
// access. Ordered pairs are race-free by construction: the executor will
// never run them at the same time.
func verifyRaceFree(inter map[string]*intermediateNode) error {
	names := make([]string, 0, len(inter))
	for name := range inter {
		names = append(names, name)
	}

	reachable := make(map[string]map[string]bool, len(inter))
	for _, name := range names {
		reachable[name] = reachableSet(inter, name)
	}

	for i := 0; i < len(names); i++ {
		for j := i + 1; j < len(names); j++ {
			a, b := names[i], names[j]
			if reachable[a][b] || reachable[b][a] {
				continue // ordered: cannot run concurrently
			}
			if err := checkResourceConflict(inter[a], inter[b]); err != nil {
				return err
			}
		}
	}
	return nil
}

func reachableSet(inter map[string]*intermediateNode, start string) map[string]bool {
	seen := map[string]bool{}
	var walk func(string)
	walk = func(name string) {
		for _, succ := range inter[name].succs {
			if !seen[succ] {
				seen[succ] = true
				walk(succ)
			}
		}
	}
	walk(start)
	return seen
}

func checkResourceConflict(a, b *intermediateNode) error {
	for _, accA := range a.access {
		for _, accB := range b.access {
			if accA.resource != accB.resource {
				continue
			}
			if conflicts(accA.class, accB.class) {
				return &CompileError{
					Code:      "RACE_DETECTED",
					Message:   fmt.Sprintf("workflow: race on resource %q between concurrent nodes %q (%s) and %q (%s)", accA.resource, a.name, accA.class, b.name, accB.class),
					Nodes:     []string{a.name, b.name},
					Resources: []string{accA.resource},
					sentinel:  ErrRaceDetected,
				}
			}
		}
	}
	return nil
}

// elideCheckpoints removes pure synchronization nodes by rewiring the
// cartesian product of each checkpoint's predecessors and successors
// directly to one another. A checkpoint referenced
// by fewer than two total edges contributes no synchronization value;
// elision still proceeds, since a single-predecessor or single-successor
// checkpoint degenerates to a direct edge or a dangling start/end, both
// handled the same way by the cartesian rewiring.
func elideCheckpoints(inter map[string]*intermediateNode) (map[string]*intermediateNode, error) {
	out := make(map[string]*intermediateNode, len(inter))
	for name, n := range inter {
		if n.isCheckpoint {
			continue
		}
		out[name] = &intermediateNode{
			name:   n.name,
			fn:     n.fn,
			data:   n.data,
			access: n.access,
		}
	}

	// For every functional node, its effective successors are found by
	// walking through any chain of checkpoints until a functional node (or
	// a fully-consumed path) is reached; predecessors are reconstructed as
	// the inverse of that relation below.
	var functionalSuccs func(name string, seen map[string]bool) []string
	functionalSuccs = func(name string, seen map[string]bool) []string {
		var result []string
		for _, s := range inter[name].succs {
			if seen[s] {
				continue
			}
			seen[s] = true
			if inter[s].isCheckpoint {
				result = append(result, functionalSuccs(s, seen)...)
			} else {
				result = append(result, s)
			}
		}
		return result
	}

	// Build edges by walking every functional node's successor chain
	// through checkpoints (cartesian: every functional predecessor reached
	// this way gets an edge to every functional successor).
	for name, n := range out {
		succs := functionalSuccs(name, map[string]bool{name: true})
		dedup := make(map[string]bool, len(succs))
		for _, s := range succs {
			if dedup[s] {
				continue
			}
			dedup[s] = true
			n.succs = append(n.succs, s)
			out[s].preds = append(out[s].preds, name)
		}
	}

	return out, nil
}

// validateNonEmpty checks the elided graph has at least one functional
// node and at least one start node (in-degree zero).
func validateNonEmpty(inter map[string]*intermediateNode) error {
	if len(inter) == 0 {
		return &CompileError{Code: "EMPTY_GRAPH", Message: "workflow: graph has no functional nodes", sentinel: ErrEmptyGraph}
	}
	for _, n := range inter {
		if len(n.preds) == 0 {
			return nil
		}
	}
	return &CompileError{Code: "NO_START_NODES", Message: "workflow: graph has no start nodes", sentinel: ErrNoStartNodes}
}

// layout assigns each functional node a stable index, flattens all
// out-edges into one shared arena, and produces the immutable Graph.
func layout(inter map[string]*intermediateNode) *Graph {
	table := intern.NewTable()

	order := make([]string, 0, len(inter))
	for name := range inter {
		order = append(order, name)
	}

	index := make(map[string]int32, len(order))
	for i, name := range order {
		index[name] = int32(i)
	}

	var arena []int32
	nodes := make([]CompiledNode, len(order))
	for i, name := range order {
		n := inter[name]
		start := int32(len(arena))
		for _, s := range n.succs {
			arena = append(arena, index[s])
		}
		nodes[i] = CompiledNode{
			Name:     table.Intern(name),
			Fn:       n.fn,
			Data:     n.data,
			inDegree: int32(len(n.preds)),
			access:   n.access,
		}
		nodes[i].outEdges = arena[start:len(arena):len(arena)]
	}

	var startNodes []int32
	for i, name := range order {
		if len(inter[name].preds) == 0 {
			startNodes = append(startNodes, int32(i))
		}
	}

	return &Graph{
		Header: GraphHeader{
			NodeCount:  len(nodes),
			EdgeCount:  len(arena),
			StartNodes: startNodes,
		},
		Nodes:     nodes,
		names:     table,
		edgeArena: arena,
	}
}
