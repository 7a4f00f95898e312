package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a SQLite-backed Store: a single-file, append-only event
// log. Designed for development and single-process deployments — zero
// setup, one writer at a time, WAL mode for concurrent readers.
type SQLiteStore struct {
	db   *sql.DB
	mu   sync.Mutex
	path string
}

// NewSQLiteStore opens (creating if absent) a SQLite database at path and
// prepares the events table. path may be ":memory:" for a throwaway store.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("history: open sqlite connection: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("history: enable WAL mode: %w", err)
	}

	const schema = `
CREATE TABLE IF NOT EXISTS workflow_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	node_id TEXT NOT NULL,
	msg TEXT NOT NULL,
	meta TEXT NOT NULL,
	ts INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_workflow_events_run_id ON workflow_events(run_id);
`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("history: create schema: %w", err)
	}

	return &SQLiteStore{db: db, path: path}, nil
}

func (s *SQLiteStore) Append(ctx context.Context, record Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta, err := json.Marshal(record.Meta)
	if err != nil {
		return fmt.Errorf("history: marshal meta: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO workflow_events (run_id, node_id, msg, meta, ts) VALUES (?, ?, ?, ?, ?)`,
		record.RunID, record.NodeID, record.Msg, string(meta), record.Timestamp.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("history: insert event: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Events(ctx context.Context, runID string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT node_id, msg, meta, ts FROM workflow_events WHERE run_id = ? ORDER BY id ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("history: query events: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var metaJSON string
		var ts int64
		if err := rows.Scan(&rec.NodeID, &rec.Msg, &metaJSON, &ts); err != nil {
			return nil, fmt.Errorf("history: scan event: %w", err)
		}
		if err := json.Unmarshal([]byte(metaJSON), &rec.Meta); err != nil {
			return nil, fmt.Errorf("history: unmarshal meta: %w", err)
		}
		rec.RunID = runID
		rec.Timestamp = time.Unix(0, ts)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	return out, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
