package workflow

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kan-go/workflow/emit"
	"github.com/kan-go/workflow/jobsystem"
	"github.com/kan-go/workflow/workflow/history"
)

// Executor runs a compiled Graph over a JobSystem. One Executor may run the
// same Graph any number of times, including concurrently from different
// goroutines: each Run allocates its own in-degree counters and never
// mutates the Graph.
type Executor struct {
	jobs      jobsystem.JobSystem
	emitter   emit.Emitter
	metrics   *Metrics // optional, nil disables instrumentation
	history   history.Store
	chunkSize int
}

// NewExecutor creates an Executor dispatching work onto jobs. If emitter is
// nil, events are discarded (emit.NullEmitter semantics).
func NewExecutor(jobs jobsystem.JobSystem, emitter emit.Emitter) *Executor {
	if emitter == nil {
		emitter = emit.NewNullEmitter()
	}
	return &Executor{jobs: jobs, emitter: emitter}
}

// WithMetrics attaches m to the executor so every Run reports inflight
// node counts, queue depth, and per-node latency.
func (e *Executor) WithMetrics(m *Metrics) *Executor {
	e.metrics = m
	return e
}

// WithHistory attaches store so every Run appends an audit record for each
// node_start/node_finish event. A nil store (the default) disables
// history recording entirely rather than writing to a no-op store, so
// runs pay no overhead unless a caller opts in.
func (e *Executor) WithHistory(store history.Store) *Executor {
	e.history = store
	return e
}

// WithScratchChunkSize sets the chunk size of the per-run ScratchAllocator
// handed to node functions via ScratchFromContext. 0 keeps the
// ScratchAllocator default (64KiB).
func (e *Executor) WithScratchChunkSize(n int) *Executor {
	e.chunkSize = n
	return e
}

// runState is the per-run mutable scratch: one atomic in-degree counter per
// node plus a completion latch, allocated fresh for every Run call so
// concurrent runs of the same Graph never share state.
type runState struct {
	graph    *Graph
	indegree []int32 // atomic via sync/atomic functions
	done     sync.WaitGroup
	runID    string
	scratch  *ScratchAllocator
}

// scratchCtxKey is the context key under which a run's ScratchAllocator is
// stashed, so a NodeFunc can pull per-run scratch buffers via
// ScratchFromContext without the Executor threading an extra parameter
// through every call.
type scratchCtxKey struct{}

// ScratchFromContext returns the ScratchAllocator for the run ctx belongs
// to, matching §4.2/§9's per-run bump allocator: node functions may carve
// transient working buffers from it without returning to the general
// allocator per request. Returns nil if ctx was not produced by an
// Executor.Run call.
func ScratchFromContext(ctx context.Context) *ScratchAllocator {
	s, _ := ctx.Value(scratchCtxKey{}).(*ScratchAllocator)
	return s
}

// Run executes every node of graph to completion, honoring the
// dependency order implied by its compiled edges. Independent nodes are
// dispatched concurrently onto the Executor's JobSystem. Run blocks until
// every node has finished.
//
// There is no cancellation or timeout: once started, a node runs to
// completion. A caller wanting cooperative cancellation should make
// NodeFunc observe ctx itself.
func (e *Executor) Run(ctx context.Context, graph *Graph, runID string) {
	scratch := NewScratchAllocator(e.chunkSize)
	rs := &runState{
		graph:    graph,
		indegree: make([]int32, len(graph.Nodes)),
		runID:    runID,
		scratch:  scratch,
	}
	for i, n := range graph.Nodes {
		rs.indegree[i] = n.inDegree
	}
	rs.done.Add(len(graph.Nodes))

	job := e.jobs.NewJob(func() {})

	for _, start := range graph.Header.StartNodes {
		e.dispatch(ctx, job, rs, int(start))
	}

	job.Detach()
	rs.done.Wait()
	scratch.Reset()
}

func (e *Executor) dispatch(ctx context.Context, job jobsystem.Job, rs *runState, idx int) {
	if e.metrics != nil {
		e.metrics.queued(rs.runID, 1)
	}
	job.Dispatch(func(taskCtx context.Context) {
		node := &rs.graph.Nodes[idx]
		name := rs.graph.NodeName(idx)

		// The JobSystem implementation owns taskCtx's lineage (e.g. the
		// worker pool's own long-lived context); re-attach this run's
		// scratch allocator on top so ScratchFromContext works regardless
		// of what the underlying JobSystem otherwise threads through.
		taskCtx = context.WithValue(taskCtx, scratchCtxKey{}, rs.scratch)

		if e.metrics != nil {
			e.metrics.queued(rs.runID, -1)
			e.metrics.nodeStarted(rs.runID)
		}
		started := time.Now()

		e.emitter.Emit(emit.Event{RunID: rs.runID, NodeID: name, Msg: "node_start"})
		e.record(taskCtx, rs.runID, name, "node_start", nil)
		if node.Fn != nil {
			node.Fn(taskCtx, job, node.Data)
		}
		e.emitter.Emit(emit.Event{RunID: rs.runID, NodeID: name, Msg: "node_finish"})

		elapsedMs := float64(time.Since(started).Milliseconds())
		e.record(taskCtx, rs.runID, name, "node_finish", map[string]any{"latency_ms": elapsedMs})

		if e.metrics != nil {
			e.metrics.nodeFinished(rs.runID, name, elapsedMs)
		}

		rs.done.Done()

		for _, next := range node.outEdges {
			if atomic.AddInt32(&rs.indegree[next], -1) == 0 {
				e.dispatch(ctx, job, rs, int(next))
			}
		}
	})
}

// record appends an audit row to e.history if one is configured. A history
// write failure is not fatal to the run: the executor has no error channel
// of its own (spec.md §7 — a user callable's failures are its own
// responsibility, and history is purely observability on top of that), so
// a failed Append is dropped rather than aborting the node.
func (e *Executor) record(ctx context.Context, runID, nodeID, msg string, meta map[string]any) {
	if e.history == nil {
		return
	}
	_ = e.history.Append(ctx, history.Record{
		RunID:     runID,
		NodeID:    nodeID,
		Msg:       msg,
		Meta:      meta,
		Timestamp: time.Now(),
	})
}
