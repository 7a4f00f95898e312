package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kan-go/workflow/jobsystem"
	"github.com/kan-go/workflow/workflow/history"
)

func submit(t *testing.T, b *Builder, name string, fn NodeFunc, configure func(*NodeHandle)) {
	t.Helper()
	h := b.NodeCreate(name)
	h.SetFunction(fn, nil)
	if configure != nil {
		configure(h)
	}
	if err := b.NodeSubmit(h); err != nil {
		t.Fatalf("NodeSubmit(%s): %v", name, err)
	}
}

func recorder() (NodeFunc, func() []string) {
	var mu sync.Mutex
	var order []string
	fn := func(ctx context.Context, job jobsystem.Job, userData any) {
		name, _ := userData.(string)
		mu.Lock()
		order = append(order, name)
		mu.Unlock()
	}
	return fn, func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string{}, order...)
	}
}

func indexOf(s []string, v string) int {
	for i, x := range s {
		if x == v {
			return i
		}
	}
	return -1
}

func TestDiamondGraphRunsInDependencyOrder(t *testing.T) {
	var mu sync.Mutex
	var order []string
	record := func(name string) NodeFunc {
		return func(ctx context.Context, job jobsystem.Job, userData any) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
		}
	}

	b := NewBuilder(true)
	submit(t, b, "A", record("A"), nil)
	submit(t, b, "B", record("B"), func(h *NodeHandle) { h.DependOn("A") })
	submit(t, b, "C", record("C"), func(h *NodeHandle) { h.DependOn("A") })
	submit(t, b, "D", record("D"), func(h *NodeHandle) { h.DependOn("B"); h.DependOn("C") })

	graph, err := b.Finalize(FinalizeOptions{})
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	exec := NewExecutor(jobsystem.NewWorkerPoolJobSystem(4, 16), nil)
	exec.Run(context.Background(), graph, "run-diamond")

	mu.Lock()
	got := append([]string{}, order...)
	mu.Unlock()

	if len(got) != 4 {
		t.Fatalf("expected 4 node executions, got %v", got)
	}
	if indexOf(got, "A") > indexOf(got, "B") || indexOf(got, "A") > indexOf(got, "C") {
		t.Fatalf("A must run before B and C: %v", got)
	}
	if indexOf(got, "B") > indexOf(got, "D") || indexOf(got, "C") > indexOf(got, "D") {
		t.Fatalf("D must run after B and C: %v", got)
	}
}

func TestCheckpointBridgeFansInThenOut(t *testing.T) {
	fn, order := recorder()

	b := NewBuilder(true)
	if err := b.AddCheckpointEdge("fan_in", "fan_out"); err != nil {
		t.Fatalf("AddCheckpointEdge: %v", err)
	}
	submit(t, b, "P1", fn, func(h *NodeHandle) { h.MakeDependencyOf("fan_in") })
	submit(t, b, "P2", fn, func(h *NodeHandle) { h.MakeDependencyOf("fan_in") })
	submit(t, b, "S1", fn, func(h *NodeHandle) { h.DependOn("fan_out") })
	submit(t, b, "S2", fn, func(h *NodeHandle) { h.DependOn("fan_out") })

	graph, err := b.Finalize(FinalizeOptions{})
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if graph.NodeCount() != 4 {
		t.Fatalf("expected checkpoints elided down to 4 functional nodes, got %d", graph.NodeCount())
	}

	exec := NewExecutor(jobsystem.NewWorkerPoolJobSystem(4, 16), nil)
	exec.Run(context.Background(), graph, "run-bridge")

	got := order()
	if len(got) != 4 {
		t.Fatalf("expected 4 executions, got %v", got)
	}
}

func TestRaceDetectedBetweenConcurrentWriters(t *testing.T) {
	noop := func(ctx context.Context, job jobsystem.Job, userData any) {}

	b := NewBuilder(true)
	submit(t, b, "W1", noop, func(h *NodeHandle) { h.WriteResource("r") })
	submit(t, b, "W2", noop, func(h *NodeHandle) { h.WriteResource("r") })

	_, err := b.Finalize(FinalizeOptions{})
	if err == nil {
		t.Fatal("expected a race error, got nil")
	}
	if !errors.Is(err, ErrRaceDetected) {
		t.Fatalf("expected ErrRaceDetected, got %v", err)
	}
	var ce *CompileError
	if errors.As(err, &ce) {
		if len(ce.Resources) != 1 || ce.Resources[0] != "r" {
			t.Fatalf("CompileError.Resources = %v, want [r]", ce.Resources)
		}
	}
}

func TestConcurrentReadersDoNotRace(t *testing.T) {
	noop := func(ctx context.Context, job jobsystem.Job, userData any) {}

	b := NewBuilder(true)
	submit(t, b, "R1", noop, func(h *NodeHandle) { h.ReadResource("r") })
	submit(t, b, "R2", noop, func(h *NodeHandle) { h.ReadResource("r") })

	if _, err := b.Finalize(FinalizeOptions{}); err != nil {
		t.Fatalf("unexpected error for read/read pair: %v", err)
	}
}

func TestCycleDetected(t *testing.T) {
	noop := func(ctx context.Context, job jobsystem.Job, userData any) {}

	b := NewBuilder(true)
	submit(t, b, "A", noop, func(h *NodeHandle) { h.DependOn("B") })
	submit(t, b, "B", noop, func(h *NodeHandle) { h.DependOn("A") })

	_, err := b.Finalize(FinalizeOptions{})
	if err == nil {
		t.Fatal("expected a cycle error, got nil")
	}
	if !errors.Is(err, ErrCycleDetected) {
		t.Fatalf("expected ErrCycleDetected, got %v", err)
	}
}

func TestValidateMatchesFinalizeVerdict(t *testing.T) {
	noop := func(ctx context.Context, job jobsystem.Job, userData any) {}

	cyclic := NewBuilder(true)
	submit(t, cyclic, "A", noop, func(h *NodeHandle) { h.DependOn("B") })
	submit(t, cyclic, "B", noop, func(h *NodeHandle) { h.DependOn("A") })
	if err := cyclic.Validate(); !errors.Is(err, ErrCycleDetected) {
		t.Fatalf("Validate: expected ErrCycleDetected, got %v", err)
	}
	// Validate must not consume the builder's state: Finalize should
	// still see, and reject, the same cycle afterward.
	if _, err := cyclic.Finalize(FinalizeOptions{}); !errors.Is(err, ErrCycleDetected) {
		t.Fatalf("Finalize after Validate: expected ErrCycleDetected, got %v", err)
	}

	clean := NewBuilder(true)
	submit(t, clean, "A", noop, nil)
	submit(t, clean, "B", noop, func(h *NodeHandle) { h.DependOn("A") })
	if err := clean.Validate(); err != nil {
		t.Fatalf("Validate: expected nil for an acyclic race-free graph, got %v", err)
	}
}

func TestDuplicateNodeSubmission(t *testing.T) {
	noop := func(ctx context.Context, job jobsystem.Job, userData any) {}
	b := NewBuilder(true)
	submit(t, b, "A", noop, nil)

	h := b.NodeCreate("A")
	h.SetFunction(noop, nil)
	err := b.NodeSubmit(h)
	if !errors.Is(err, ErrDuplicateNode) {
		t.Fatalf("expected ErrDuplicateNode, got %v", err)
	}
}

func TestMissingFunctionRejected(t *testing.T) {
	b := NewBuilder(true)
	h := b.NodeCreate("A")
	if err := b.NodeSubmit(h); !errors.Is(err, ErrMissingFunction) {
		t.Fatalf("expected ErrMissingFunction, got %v", err)
	}
}

func TestGraphIsRerunnable(t *testing.T) {
	var count int32
	var mu sync.Mutex
	fn := func(ctx context.Context, job jobsystem.Job, userData any) {
		mu.Lock()
		count++
		mu.Unlock()
	}

	b := NewBuilder(true)
	submit(t, b, "A", fn, nil)
	submit(t, b, "B", fn, func(h *NodeHandle) { h.DependOn("A") })

	graph, err := b.Finalize(FinalizeOptions{})
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	exec := NewExecutor(jobsystem.NewWorkerPoolJobSystem(2, 8), nil)
	exec.Run(context.Background(), graph, "run-1")
	exec.Run(context.Background(), graph, "run-2")

	mu.Lock()
	got := count
	mu.Unlock()
	if got != 4 {
		t.Fatalf("expected graph to run twice (4 node executions total), got %d", got)
	}
}

func TestExecutorRecordsHistoryAndExposesScratch(t *testing.T) {
	var scratchSeen []byte
	fn := func(ctx context.Context, job jobsystem.Job, userData any) {
		scratchSeen = ScratchFromContext(ctx).Alloc(8)
	}

	b := NewBuilder(true)
	submit(t, b, "A", fn, nil)
	graph, err := b.Finalize(FinalizeOptions{})
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	store := history.NewMemoryStore()
	exec := NewExecutor(jobsystem.NewWorkerPoolJobSystem(2, 8), nil).WithHistory(store)
	exec.Run(context.Background(), graph, "run-1")

	if len(scratchSeen) != 8 {
		t.Fatalf("expected node func to receive an 8-byte scratch buffer, got %d bytes", len(scratchSeen))
	}

	records, err := store.Events(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	var msgs []string
	for _, r := range records {
		msgs = append(msgs, r.Msg)
	}
	if indexOf(msgs, "node_start") < 0 || indexOf(msgs, "node_finish") < 0 {
		t.Fatalf("expected node_start and node_finish records, got %v", msgs)
	}
}

func TestScratchAllocatorBumpAndReset(t *testing.T) {
	s := NewScratchAllocator(64)
	a := s.Alloc(32)
	bBuf := s.Alloc(32)
	if len(a) != 32 || len(bBuf) != 32 {
		t.Fatalf("unexpected lengths: %d, %d", len(a), len(bBuf))
	}
	// a third allocation should grow a new chunk since 32+32+16 > 64
	c := s.Alloc(16)
	if len(c) != 16 {
		t.Fatalf("len(c) = %d, want 16", len(c))
	}
	s.Reset()
}

func TestEngineBuildsBuilderAndExecutor(t *testing.T) {
	eng, err := New(WithWorkerCount(2))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer eng.Close()

	noop := func(ctx context.Context, job jobsystem.Job, userData any) {}
	b := eng.NewBuilder()
	submit(t, b, "A", noop, nil)
	graph, err := b.Finalize(FinalizeOptions{})
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	done := make(chan struct{})
	go func() {
		eng.Executor().Run(context.Background(), graph, "run")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not complete in time")
	}
}
