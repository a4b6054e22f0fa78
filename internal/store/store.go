// Package store implements the per-run embedded SQL store: one SQLite
// database per workflow run, opened and migrated once on Start and owned
// exclusively by that run's actor for its lifetime.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS tokens (
  id TEXT PRIMARY KEY,
  run_id TEXT NOT NULL,
  node_id TEXT NOT NULL,
  status TEXT NOT NULL,
  parent_token_id TEXT,
  path_id TEXT NOT NULL,
  sibling_group TEXT,
  branch_index INTEGER NOT NULL,
  branch_total INTEGER NOT NULL,
  iteration_counts TEXT,
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL,
  arrived_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_tokens_run ON tokens(run_id);
CREATE INDEX IF NOT EXISTS idx_tokens_status ON tokens(status);
CREATE INDEX IF NOT EXISTS idx_tokens_sibling ON tokens(sibling_group);
CREATE INDEX IF NOT EXISTS idx_tokens_path ON tokens(path_id);

CREATE TABLE IF NOT EXISTS fan_ins (
  id TEXT PRIMARY KEY,
  run_id TEXT NOT NULL,
  node_id TEXT NOT NULL,
  fan_in_path TEXT NOT NULL,
  status TEXT NOT NULL,
  transition_id TEXT NOT NULL,
  first_arrival_at TEXT NOT NULL,
  activated_at TEXT,
  activated_by_token_id TEXT,
  UNIQUE(run_id, fan_in_path)
);

CREATE TABLE IF NOT EXISTS workflow_status (
  run_id TEXT PRIMARY KEY,
  status TEXT NOT NULL,
  updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS subworkflows (
  id TEXT PRIMARY KEY,
  run_id TEXT NOT NULL,
  parent_token_id TEXT NOT NULL,
  subworkflow_run_id TEXT NOT NULL UNIQUE,
  status TEXT NOT NULL,
  timeout_ms INTEGER,
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS context_input  (path TEXT PRIMARY KEY, value TEXT NOT NULL);
CREATE TABLE IF NOT EXISTS context_state  (path TEXT PRIMARY KEY, value TEXT NOT NULL);
CREATE TABLE IF NOT EXISTS context_output (path TEXT PRIMARY KEY, value TEXT NOT NULL);
`

// Config controls how a run's embedded store is opened.
type Config struct {
	BusyTimeout time.Duration
	WALMode     bool
}

// Store wraps the per-run SQLite connection.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the SQLite database at path and applies
// the schema. path may be ":memory:" for tests.
func Open(ctx context.Context, path string, cfg Config) (*Store, error) {
	dsn := path
	if cfg.WALMode && path != ":memory:" {
		dsn = path + "?_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	db.SetMaxOpenConns(1) // single-threaded per-run actor owns this connection exclusively

	if cfg.BusyTimeout > 0 {
		if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds())); err != nil {
			db.Close()
			return nil, fmt.Errorf("set busy_timeout: %w", err)
		}
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate store schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying connection for operations that have no
// method of their own.
func (s *Store) DB() *sql.DB {
	return s.db
}

func nowString() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
