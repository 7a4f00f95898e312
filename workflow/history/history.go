// Package history provides append-only persistence for workflow execution
// events (workflow.Executor appends node_start/node_finish records), for
// audit and post-hoc inspection. It is not a resume mechanism — the
// workflow engine has no cancellation or checkpoint-resume concept
// (workflow.Graph checkpoints are pure synchronization labels, elided at
// compile time) — this package exists purely so operators can answer
// "what happened during run X" after the fact.
package history

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested run ID has no recorded events.
var ErrNotFound = errors.New("history: run not found")

// Record is one persisted execution event.
type Record struct {
	RunID     string
	NodeID    string
	Msg       string
	Meta      map[string]any
	Timestamp time.Time
}

// Store persists workflow execution events for later retrieval.
//
// Implementations: Memory (tests), SQLite (single-process local
// deployments), MySQL (shared/multi-process deployments).
type Store interface {
	// Append records one event for runID.
	Append(ctx context.Context, record Record) error

	// Events returns every recorded event for runID in the order they
	// were appended. Returns ErrNotFound if runID has no recorded events.
	Events(ctx context.Context, runID string) ([]Record, error)

	// Close releases any resources the store holds open.
	Close() error
}
