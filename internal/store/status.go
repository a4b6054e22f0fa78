package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lyzr/flowcore/internal/workflow"
)

// InitWorkflowStatus creates the single status row for a run, set to running.
func (s *Store) InitWorkflowStatus(ctx context.Context, runID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workflow_status (run_id, status, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(run_id) DO NOTHING`,
		runID, workflow.WorkflowRunning, nowString())
	if err != nil {
		return fmt.Errorf("init workflow status: %w", err)
	}
	return nil
}

// GetWorkflowStatus fetches the current status for a run.
func (s *Store) GetWorkflowStatus(ctx context.Context, runID string) (string, error) {
	var status string
	err := s.db.QueryRowContext(ctx, `SELECT status FROM workflow_status WHERE run_id = ?`, runID).Scan(&status)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("workflow status not found for run %s", runID)
	}
	if err != nil {
		return "", fmt.Errorf("get workflow status: %w", err)
	}
	return status, nil
}

// FinalizeWorkflowStatus writes a terminal status, guarded so the first
// terminal write wins and every later attempt is a no-op. Returns whether
// this call performed the write.
func (s *Store) FinalizeWorkflowStatus(ctx context.Context, runID, newStatus string) (bool, error) {
	if !workflow.IsWorkflowTerminal(newStatus) {
		return false, fmt.Errorf("finalize called with non-terminal status %q", newStatus)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE workflow_status SET status = ?, updated_at = ?
		WHERE run_id = ? AND status = ?`,
		newStatus, nowString(), runID, workflow.WorkflowRunning)
	if err != nil {
		return false, fmt.Errorf("finalize workflow status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}
