package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lyzr/flowcore/internal/werrors"
	"github.com/lyzr/flowcore/internal/workflow"
)

// CreateToken inserts a new token row.
func (s *Store) CreateToken(ctx context.Context, t *workflow.Token) error {
	counts, err := json.Marshal(t.IterationCounts)
	if err != nil {
		return fmt.Errorf("marshal iteration_counts: %w", err)
	}

	var arrivedAt interface{}
	if t.ArrivedAt != nil {
		arrivedAt = t.ArrivedAt.UTC().Format(rfc3339Nano)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tokens (id, run_id, node_id, status, parent_token_id, path_id, sibling_group,
			branch_index, branch_total, iteration_counts, created_at, updated_at, arrived_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.RunID, t.NodeID, t.Status, nullable(t.ParentTokenID), t.PathID, nullable(t.SiblingGroup),
		t.BranchIndex, t.BranchTotal, string(counts),
		t.CreatedAt.UTC().Format(rfc3339Nano), t.UpdatedAt.UTC().Format(rfc3339Nano), arrivedAt)
	if err != nil {
		return fmt.Errorf("insert token %s: %w", t.ID, err)
	}
	return nil
}

// UpdateTokenStatus idempotently transitions a token's status. If the token
// is already in a terminal state its status is left unchanged and it
// returns false, nil — this is the store-level half of the "terminal state
// rejects updates" invariant. setArrivedAt records arrived_at (never cleared
// later); on a terminal token it is only filled in when still unset.
func (s *Store) UpdateTokenStatus(ctx context.Context, tokenID, newStatus string, setArrivedAt bool) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var current string
	var arrivedAt sql.NullString
	err = tx.QueryRowContext(ctx, `SELECT status, arrived_at FROM tokens WHERE id = ?`, tokenID).Scan(&current, &arrivedAt)
	if err == sql.ErrNoRows {
		return false, fmt.Errorf("token not found: %s", tokenID)
	}
	if err != nil {
		return false, fmt.Errorf("query token status: %w", err)
	}

	if workflow.IsTerminal(current) {
		// The status transition itself is rejected, but a fan-out sibling is
		// frequently already completed by the time it reaches its sync
		// transition's arrival check (CompleteTask completes it before
		// routing decides there's a wait). Still record the first-arrival
		// timestamp so OnTimeoutAlarm's oldest-arrival deadline has a value
		// to read, without resurrecting a terminal token's status.
		if setArrivedAt && !arrivedAt.Valid {
			if _, err := tx.ExecContext(ctx, `UPDATE tokens SET arrived_at = ? WHERE id = ?`, nowString(), tokenID); err != nil {
				return false, fmt.Errorf("backfill arrived_at: %w", err)
			}
			if err := tx.Commit(); err != nil {
				return false, fmt.Errorf("commit: %w", err)
			}
		}
		return false, nil
	}

	if setArrivedAt {
		_, err = tx.ExecContext(ctx, `UPDATE tokens SET status = ?, updated_at = ?, arrived_at = ? WHERE id = ?`,
			newStatus, nowString(), nowString(), tokenID)
	} else {
		_, err = tx.ExecContext(ctx, `UPDATE tokens SET status = ?, updated_at = ? WHERE id = ?`,
			newStatus, nowString(), tokenID)
	}
	if err != nil {
		return false, fmt.Errorf("update token status: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}

// GetToken fetches a token by id. Returns a *werrors.DefinitionError when no
// token with that id exists — callers must not treat a nil, nil result as
// "no such token" since scanToken itself never returns that combination.
func (s *Store) GetToken(ctx context.Context, id string) (*workflow.Token, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, run_id, node_id, status, parent_token_id, path_id, sibling_group,
			branch_index, branch_total, iteration_counts, created_at, updated_at, arrived_at
		FROM tokens WHERE id = ?`, id)
	tok, err := scanToken(row)
	if err != nil {
		return nil, err
	}
	if tok == nil {
		return nil, &werrors.DefinitionError{Kind: "token", ID: id}
	}
	return tok, nil
}

// ListBySiblingGroup returns every token sharing a sibling group, ordered by
// branch_index.
func (s *Store) ListBySiblingGroup(ctx context.Context, runID, siblingGroup string) ([]*workflow.Token, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, node_id, status, parent_token_id, path_id, sibling_group,
			branch_index, branch_total, iteration_counts, created_at, updated_at, arrived_at
		FROM tokens WHERE run_id = ? AND sibling_group = ? ORDER BY branch_index`, runID, siblingGroup)
	if err != nil {
		return nil, fmt.Errorf("query sibling group: %w", err)
	}
	defer rows.Close()
	return scanTokens(rows)
}

// CountActiveByRun returns how many tokens in a run are in a non-terminal
// status, for the completion check.
func (s *Store) CountActiveByRun(ctx context.Context, runID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM tokens WHERE run_id = ? AND status IN (?, ?, ?, ?, ?)`,
		runID,
		workflow.StatusPending, workflow.StatusDispatched, workflow.StatusExecuting,
		workflow.StatusWaitingForSiblings, workflow.StatusWaitingForSubworkflow).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count active tokens: %w", err)
	}
	return count, nil
}

// ListActiveByRun returns every non-terminal token in a run, for cancellation.
func (s *Store) ListActiveByRun(ctx context.Context, runID string) ([]*workflow.Token, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, node_id, status, parent_token_id, path_id, sibling_group,
			branch_index, branch_total, iteration_counts, created_at, updated_at, arrived_at
		FROM tokens WHERE run_id = ? AND status IN (?, ?, ?, ?, ?)`,
		runID,
		workflow.StatusPending, workflow.StatusDispatched, workflow.StatusExecuting,
		workflow.StatusWaitingForSiblings, workflow.StatusWaitingForSubworkflow)
	if err != nil {
		return nil, fmt.Errorf("query active tokens: %w", err)
	}
	defer rows.Close()
	return scanTokens(rows)
}

const rfc3339Nano = "2006-01-02T15:04:05.999999999Z07:00"

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanToken(row rowScanner) (*workflow.Token, error) {
	var (
		t                                    workflow.Token
		parentTokenID, siblingGroup, arrived sql.NullString
		countsJSON                           string
		createdAt, updatedAt                 string
	)

	err := row.Scan(&t.ID, &t.RunID, &t.NodeID, &t.Status, &parentTokenID, &t.PathID, &siblingGroup,
		&t.BranchIndex, &t.BranchTotal, &countsJSON, &createdAt, &updatedAt, &arrived)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan token: %w", err)
	}

	t.ParentTokenID = parentTokenID.String
	t.SiblingGroup = siblingGroup.String

	if countsJSON != "" {
		if err := json.Unmarshal([]byte(countsJSON), &t.IterationCounts); err != nil {
			return nil, fmt.Errorf("unmarshal iteration_counts: %w", err)
		}
	}
	if t.IterationCounts == nil {
		t.IterationCounts = make(map[string]int)
	}

	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if t.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	if arrived.Valid {
		at, err := parseTime(arrived.String)
		if err != nil {
			return nil, fmt.Errorf("parse arrived_at: %w", err)
		}
		t.ArrivedAt = &at
	}

	return &t, nil
}

func scanTokens(rows *sql.Rows) ([]*workflow.Token, error) {
	var out []*workflow.Token
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
