package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore is a MySQL/MariaDB-backed Store, for shared deployments where
// more than one process needs to read or write the same run's history.
//
// The DSN format is the usual go-sql-driver one:
//
//	user:password@tcp(host:3306)/dbname?parseTime=true
type MySQLStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewMySQLStore opens a pooled connection to dsn and ensures the events
// table exists.
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("history: open mysql connection: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("history: ping mysql: %w", err)
	}

	store := &MySQLStore{db: db}
	if err := store.createTable(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (m *MySQLStore) createTable(ctx context.Context) error {
	const schema = `
		CREATE TABLE IF NOT EXISTS workflow_events (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			run_id VARCHAR(255) NOT NULL,
			node_id VARCHAR(255) NOT NULL,
			msg VARCHAR(255) NOT NULL,
			meta JSON NOT NULL,
			ts BIGINT NOT NULL,
			INDEX idx_run_id (run_id)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
	`
	if _, err := m.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("history: create workflow_events table: %w", err)
	}
	return nil
}

func (m *MySQLStore) Append(ctx context.Context, record Record) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return fmt.Errorf("history: store is closed")
	}
	m.mu.RUnlock()

	meta, err := json.Marshal(record.Meta)
	if err != nil {
		return fmt.Errorf("history: marshal meta: %w", err)
	}
	_, err = m.db.ExecContext(ctx,
		`INSERT INTO workflow_events (run_id, node_id, msg, meta, ts) VALUES (?, ?, ?, ?, ?)`,
		record.RunID, record.NodeID, record.Msg, meta, record.Timestamp.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("history: insert event: %w", err)
	}
	return nil
}

func (m *MySQLStore) Events(ctx context.Context, runID string) ([]Record, error) {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return nil, fmt.Errorf("history: store is closed")
	}
	m.mu.RUnlock()

	rows, err := m.db.QueryContext(ctx,
		`SELECT node_id, msg, meta, ts FROM workflow_events WHERE run_id = ? ORDER BY id ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("history: query events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Record
	for rows.Next() {
		var rec Record
		var metaJSON []byte
		var ts int64
		if err := rows.Scan(&rec.NodeID, &rec.Msg, &metaJSON, &ts); err != nil {
			return nil, fmt.Errorf("history: scan event: %w", err)
		}
		if err := json.Unmarshal(metaJSON, &rec.Meta); err != nil {
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

func (m *MySQLStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	return m.db.Close()
}
