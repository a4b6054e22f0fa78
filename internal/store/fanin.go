package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lyzr/flowcore/internal/workflow"
)

// InsertFanInIfAbsent creates a fan-in record for (run_id, fan_in_path) if
// one doesn't already exist. Returns the existing or newly created record
// and whether this call created it — the race-safe "insert-if-absent"
// primitive the synchronization design depends on.
func (s *Store) InsertFanInIfAbsent(ctx context.Context, f *workflow.FanIn) (*workflow.FanIn, bool, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO fan_ins (id, run_id, node_id, fan_in_path, status, transition_id, first_arrival_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, fan_in_path) DO NOTHING`,
		f.ID, f.RunID, f.NodeID, f.FanInPath, workflow.FanInWaiting, f.TransitionID,
		f.FirstArrivalAt.UTC().Format(rfc3339Nano))
	if err != nil {
		return nil, false, fmt.Errorf("insert fan_in if absent: %w", err)
	}

	existing, err := s.GetFanIn(ctx, f.RunID, f.FanInPath)
	if err != nil {
		return nil, false, err
	}
	return existing, existing.ID == f.ID, nil
}

// GetFanIn fetches a fan-in record by (run_id, fan_in_path).
func (s *Store) GetFanIn(ctx context.Context, runID, fanInPath string) (*workflow.FanIn, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, run_id, node_id, fan_in_path, status, transition_id, first_arrival_at,
			activated_at, activated_by_token_id
		FROM fan_ins WHERE run_id = ? AND fan_in_path = ?`, runID, fanInPath)
	return scanFanIn(row)
}

// ActivateIfWaiting conditionally transitions a fan-in from waiting to
// activated, naming activatorTokenID as the winner. Returns true iff this
// call performed the activation (the "update-if-status" race-safe
// primitive); false means either the path is already activated (the caller
// lost the race) or timed out.
func (s *Store) ActivateIfWaiting(ctx context.Context, runID, fanInPath, activatorTokenID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE fan_ins SET status = ?, activated_at = ?, activated_by_token_id = ?
		WHERE run_id = ? AND fan_in_path = ? AND status = ?`,
		workflow.FanInActivated, nowString(), activatorTokenID, runID, fanInPath, workflow.FanInWaiting)
	if err != nil {
		return false, fmt.Errorf("activate fan_in: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// MarkFanInTimedOut transitions a waiting fan-in to timed_out. No-op if it
// is no longer waiting.
func (s *Store) MarkFanInTimedOut(ctx context.Context, runID, fanInPath string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE fan_ins SET status = ? WHERE run_id = ? AND fan_in_path = ? AND status = ?`,
		workflow.FanInTimedOut, runID, fanInPath, workflow.FanInWaiting)
	if err != nil {
		return false, fmt.Errorf("mark fan_in timed out: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// ListWaitingFanIns returns every fan_ins row still waiting, for the alarm
// sweep to check against each one's oldest sibling arrival.
func (s *Store) ListWaitingFanIns(ctx context.Context, runID string) ([]*workflow.FanIn, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, node_id, fan_in_path, status, transition_id, first_arrival_at,
			activated_at, activated_by_token_id
		FROM fan_ins WHERE run_id = ? AND status = ?`, runID, workflow.FanInWaiting)
	if err != nil {
		return nil, fmt.Errorf("query waiting fan_ins: %w", err)
	}
	defer rows.Close()

	var out []*workflow.FanIn
	for rows.Next() {
		f, err := scanFanIn(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func scanFanIn(row rowScanner) (*workflow.FanIn, error) {
	var (
		f                          workflow.FanIn
		activatedAt, activatedByID sql.NullString
		firstArrival               string
	)

	err := row.Scan(&f.ID, &f.RunID, &f.NodeID, &f.FanInPath, &f.Status, &f.TransitionID,
		&firstArrival, &activatedAt, &activatedByID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan fan_in: %w", err)
	}

	f.FirstArrivalAt, err = parseTime(firstArrival)
	if err != nil {
		return nil, fmt.Errorf("parse first_arrival_at: %w", err)
	}
	if activatedAt.Valid {
		at, err := parseTime(activatedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse activated_at: %w", err)
		}
		f.ActivatedAt = &at
	}
	f.ActivatedByTokenID = activatedByID.String

	return &f, nil
}

// OldestArrivalAmong returns the earliest arrived_at across the given
// tokens, used to compute the fan-in's effective deadline.
func OldestArrivalAmong(tokens []*workflow.Token) (time.Time, bool) {
	var oldest time.Time
	found := false
	for _, t := range tokens {
		if t.ArrivedAt == nil {
			continue
		}
		if !found || t.ArrivedAt.Before(oldest) {
			oldest = *t.ArrivedAt
			found = true
		}
	}
	return oldest, found
}
