package store

import (
	"context"
	"database/sql"
	"fmt"
)

// CreateSubworkflow inserts a subworkflow link row.
func (s *Store) CreateSubworkflow(ctx context.Context, id, runID, parentTokenID, subworkflowRunID, status string, timeoutMS int64) error {
	var timeout interface{}
	if timeoutMS > 0 {
		timeout = timeoutMS
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO subworkflows (id, run_id, parent_token_id, subworkflow_run_id, status, timeout_ms, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, runID, parentTokenID, subworkflowRunID, status, timeout, nowString(), nowString())
	if err != nil {
		return fmt.Errorf("create subworkflow: %w", err)
	}
	return nil
}

// UpdateSubworkflowStatus updates a subworkflow's status by its
// subworkflow_run_id (the correlation key onSubworkflowResult arrives with).
func (s *Store) UpdateSubworkflowStatus(ctx context.Context, subworkflowRunID, status string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE subworkflows SET status = ?, updated_at = ? WHERE subworkflow_run_id = ?`,
		status, nowString(), subworkflowRunID)
	if err != nil {
		return fmt.Errorf("update subworkflow status: %w", err)
	}
	return nil
}

// GetSubworkflowByRunID looks up the parent token id and status for a
// subworkflow_run_id.
func (s *Store) GetSubworkflowByRunID(ctx context.Context, subworkflowRunID string) (parentTokenID, status string, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT parent_token_id, status FROM subworkflows WHERE subworkflow_run_id = ?`,
		subworkflowRunID).Scan(&parentTokenID, &status)
	if err == sql.ErrNoRows {
		return "", "", fmt.Errorf("subworkflow not found: %s", subworkflowRunID)
	}
	if err != nil {
		return "", "", fmt.Errorf("get subworkflow: %w", err)
	}
	return parentTokenID, status, nil
}
