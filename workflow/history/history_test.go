package history

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestMemoryStore_Construction(t *testing.T) {
	t.Run("new store is empty", func(t *testing.T) {
		store := NewMemoryStore()

		ctx := context.Background()
		_, err := store.Events(ctx, "nonexistent-run")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound for empty store, got %v", err)
		}
	})

	t.Run("multiple stores are independent", func(t *testing.T) {
		s1 := NewMemoryStore()
		s2 := NewMemoryStore()
		ctx := context.Background()

		_ = s1.Append(ctx, Record{RunID: "run-001", NodeID: "a", Msg: "node_start"})

		if _, err := s2.Events(ctx, "run-001"); !errors.Is(err, ErrNotFound) {
			t.Error("s2 should not see s1's data")
		}
	})
}

func TestMemoryStore_AppendPreservesOrder(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		err := store.Append(ctx, Record{
			RunID:     "run-001",
			NodeID:    "node",
			Msg:       "node_start",
			Meta:      map[string]any{"i": i},
			Timestamp: time.Now(),
		})
		if err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	events, err := store.Events(ctx, "run-001")
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(events) != 5 {
		t.Fatalf("expected 5 events, got %d", len(events))
	}
	for i, rec := range events {
		got, ok := rec.Meta["i"].(int)
		if !ok || got != i {
			t.Fatalf("expected event %d to carry meta i=%d, got %+v", i, i, rec.Meta)
		}
	}
}

func TestMemoryStore_ConcurrentAppend(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_ = store.Append(ctx, Record{RunID: "run-concurrent", NodeID: "node", Msg: "node_finish"})
		}(i)
	}
	wg.Wait()

	events, err := store.Events(ctx, "run-concurrent")
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(events) != 20 {
		t.Fatalf("expected 20 events, got %d", len(events))
	}
}

func TestMemoryStore_EventsReturnsCopy(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	_ = store.Append(ctx, Record{RunID: "run-001", NodeID: "a", Msg: "node_start"})

	events, err := store.Events(ctx, "run-001")
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	events[0].NodeID = "mutated"

	fresh, err := store.Events(ctx, "run-001")
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if fresh[0].NodeID != "a" {
		t.Fatalf("expected internal record untouched by caller mutation, got %q", fresh[0].NodeID)
	}
}

func TestSQLiteStore_AppendAndEvents(t *testing.T) {
	store, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	base := time.Unix(1700000000, 0)
	for i, msg := range []string{"node_start", "node_finish"} {
		err := store.Append(ctx, Record{
			RunID:     "run-sqlite",
			NodeID:    "fetch",
			Msg:       msg,
			Meta:      map[string]any{"seq": float64(i)},
			Timestamp: base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	events, err := store.Events(ctx, "run-sqlite")
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Msg != "node_start" || events[1].Msg != "node_finish" {
		t.Fatalf("expected events in append order, got %+v", events)
	}
	if events[0].RunID != "run-sqlite" {
		t.Fatalf("expected RunID populated on read, got %q", events[0].RunID)
	}
}

func TestSQLiteStore_EventsNotFound(t *testing.T) {
	store, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer store.Close()

	if _, err := store.Events(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*MySQLStore)(nil)
)
