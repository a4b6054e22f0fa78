package store

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
)

// Section names the three context tables.
type Section string

const (
	SectionInput  Section = "context_input"
	SectionState  Section = "context_state"
	SectionOutput Section = "context_output"
)

// SetPath upserts a single leaf path/value pair in one of the three context
// tables. value is JSON-encoded before storage so any scalar or nested
// structure round-trips.
func (s *Store) SetPath(ctx context.Context, section Section, path string, value interface{}) error {
	b, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal context value at %s: %w", path, err)
	}

	q := fmt.Sprintf(`INSERT INTO %s (path, value) VALUES (?, ?)
		ON CONFLICT(path) DO UPDATE SET value = excluded.value`, string(section))
	if _, err := s.db.ExecContext(ctx, q, path, string(b)); err != nil {
		return fmt.Errorf("set context path %s: %w", path, err)
	}
	return nil
}

// LoadSection loads every path/value row in a context table into a nested
// map, reversing dotted paths into object structure (e.g. "user.id" ->
// {"user": {"id": ...}}).
func (s *Store) LoadSection(ctx context.Context, section Section) (map[string]interface{}, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT path, value FROM %s`, string(section)))
	if err != nil {
		return nil, fmt.Errorf("load context section %s: %w", section, err)
	}
	defer rows.Close()

	out := make(map[string]interface{})
	for rows.Next() {
		var path, raw string
		if err := rows.Scan(&path, &raw); err != nil {
			return nil, fmt.Errorf("scan context row: %w", err)
		}
		var value interface{}
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			return nil, fmt.Errorf("unmarshal context value at %s: %w", path, err)
		}
		setNested(out, path, value)
	}
	return out, rows.Err()
}

func setNested(root map[string]interface{}, path string, value interface{}) {
	segments := splitPath(path)
	cur := root
	for i, seg := range segments {
		if i == len(segments)-1 {
			cur[seg] = value
			return
		}
		next, ok := cur[seg].(map[string]interface{})
		if !ok {
			next = make(map[string]interface{})
			cur[seg] = next
		}
		cur = next
	}
}

func splitPath(path string) []string {
	var out []string
	start := 0
	for i := 0; i < len(path); i++ {
		if path[i] == '.' {
			out = append(out, path[start:i])
			start = i + 1
		}
	}
	out = append(out, path[start:])
	return out
}

var branchTableNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

func branchTableName(tokenID string) (string, error) {
	if !branchTableNamePattern.MatchString(tokenID) {
		return "", fmt.Errorf("invalid token id for branch table: %s", tokenID)
	}
	return "branch_output_" + tokenID, nil
}

// CreateBranchTable creates the ephemeral output table for a freshly
// fanned-out token. Dropped again in DropBranchTable once merged.
func (s *Store) CreateBranchTable(ctx context.Context, tokenID string) error {
	name, err := branchTableName(tokenID)
	if err != nil {
		return err
	}
	q := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (path TEXT PRIMARY KEY, value TEXT NOT NULL)`, name)
	if _, err := s.db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("create branch table for %s: %w", tokenID, err)
	}
	return nil
}

// SetBranchOutput upserts a path/value pair into a token's branch table.
func (s *Store) SetBranchOutput(ctx context.Context, tokenID, path string, value interface{}) error {
	name, err := branchTableName(tokenID)
	if err != nil {
		return err
	}
	b, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal branch output at %s: %w", path, err)
	}

	q := fmt.Sprintf(`INSERT INTO %s (path, value) VALUES (?, ?)
		ON CONFLICT(path) DO UPDATE SET value = excluded.value`, name)
	if _, err := s.db.ExecContext(ctx, q, path, string(b)); err != nil {
		return fmt.Errorf("set branch output for %s: %w", tokenID, err)
	}
	return nil
}

// LoadBranchOutput loads a token's branch table into a nested map, or nil
// if the table no longer exists (already dropped).
func (s *Store) LoadBranchOutput(ctx context.Context, tokenID string) (map[string]interface{}, error) {
	name, err := branchTableName(tokenID)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT path, value FROM %s`, name))
	if err != nil {
		return nil, nil // table missing: sibling failed or was already dropped
	}
	defer rows.Close()

	out := make(map[string]interface{})
	for rows.Next() {
		var path, raw string
		if err := rows.Scan(&path, &raw); err != nil {
			return nil, fmt.Errorf("scan branch output row: %w", err)
		}
		var value interface{}
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			return nil, fmt.Errorf("unmarshal branch output at %s: %w", path, err)
		}
		setNested(out, path, value)
	}
	return out, rows.Err()
}

// DropBranchTable removes a token's branch table after its output has been
// merged (or after the sibling failed and contributes nothing).
func (s *Store) DropBranchTable(ctx context.Context, tokenID string) error {
	name, err := branchTableName(tokenID)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, name)); err != nil {
		return fmt.Errorf("drop branch table for %s: %w", tokenID, err)
	}
	return nil
}
