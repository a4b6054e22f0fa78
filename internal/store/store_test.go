package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lyzr/flowcore/internal/werrors"
	"github.com/lyzr/flowcore/internal/workflow"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), ":memory:", Config{})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateAndGetToken(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	tok := &workflow.Token{
		ID: "t1", RunID: "r1", NodeID: "A", Status: workflow.StatusPending,
		PathID: "root", BranchIndex: 0, BranchTotal: 1,
		IterationCounts: map[string]int{}, CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	require.NoError(t, s.CreateToken(ctx, tok))

	got, err := s.GetToken(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, "A", got.NodeID)
	require.Equal(t, workflow.StatusPending, got.Status)
}

func TestGetTokenReturnsDefinitionErrorForUnknownID(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetToken(context.Background(), "does-not-exist")
	require.Error(t, err)
	var defErr *werrors.DefinitionError
	require.ErrorAs(t, err, &defErr)
	require.Equal(t, "token", defErr.Kind)
	require.Equal(t, "does-not-exist", defErr.ID)
}

func TestUpdateTokenStatusBackfillsArrivedAtOnTerminalToken(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	tok := &workflow.Token{
		ID: "t1", RunID: "r1", NodeID: "A", Status: workflow.StatusExecuting,
		PathID: "root", BranchIndex: 0, BranchTotal: 1,
		IterationCounts: map[string]int{}, CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	require.NoError(t, s.CreateToken(ctx, tok))

	changed, err := s.UpdateTokenStatus(ctx, "t1", workflow.StatusCompleted, false)
	require.NoError(t, err)
	require.True(t, changed)

	// A token already terminal by the time a sync transition's arrival check
	// runs still needs an arrived_at recorded for the oldest-arrival deadline.
	changed, err = s.UpdateTokenStatus(ctx, "t1", workflow.StatusWaitingForSiblings, true)
	require.NoError(t, err)
	require.False(t, changed, "status must stay completed, not revert to waiting")

	got, err := s.GetToken(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, workflow.StatusCompleted, got.Status)
	require.NotNil(t, got.ArrivedAt)
}

func TestUpdateTokenStatusIdempotentOnTerminal(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	tok := &workflow.Token{
		ID: "t1", RunID: "r1", NodeID: "A", Status: workflow.StatusExecuting,
		PathID: "root", BranchIndex: 0, BranchTotal: 1,
		IterationCounts: map[string]int{}, CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	require.NoError(t, s.CreateToken(ctx, tok))

	changed, err := s.UpdateTokenStatus(ctx, "t1", workflow.StatusCompleted, false)
	require.NoError(t, err)
	require.True(t, changed)

	changed, err = s.UpdateTokenStatus(ctx, "t1", workflow.StatusFailed, false)
	require.NoError(t, err)
	require.False(t, changed, "terminal token must reject further status updates")

	got, err := s.GetToken(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, workflow.StatusCompleted, got.Status)
}

func TestFanInRaceSafety(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	fi := &workflow.FanIn{ID: "f1", RunID: "r1", NodeID: "M", FanInPath: "judges", TransitionID: "t-sync", FirstArrivalAt: time.Now()}
	existing, created, err := s.InsertFanInIfAbsent(ctx, fi)
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, workflow.FanInWaiting, existing.Status)

	// Second insert-if-absent with a different id: record already exists, doesn't overwrite.
	fi2 := &workflow.FanIn{ID: "f2", RunID: "r1", NodeID: "M", FanInPath: "judges", TransitionID: "t-sync", FirstArrivalAt: time.Now()}
	existing2, created2, err := s.InsertFanInIfAbsent(ctx, fi2)
	require.NoError(t, err)
	require.False(t, created2)
	require.Equal(t, "f1", existing2.ID)

	won, err := s.ActivateIfWaiting(ctx, "r1", "judges", "winner-token")
	require.NoError(t, err)
	require.True(t, won)

	wonAgain, err := s.ActivateIfWaiting(ctx, "r1", "judges", "loser-token")
	require.NoError(t, err)
	require.False(t, wonAgain, "second activation attempt must lose the race")

	final, err := s.GetFanIn(ctx, "r1", "judges")
	require.NoError(t, err)
	require.Equal(t, "winner-token", final.ActivatedByTokenID)
}

func TestContextPathValueRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetPath(ctx, SectionState, "user.id", "u1"))
	require.NoError(t, s.SetPath(ctx, SectionState, "score", 85.0))

	loaded, err := s.LoadSection(ctx, SectionState)
	require.NoError(t, err)
	require.Equal(t, 85.0, loaded["score"])
	require.Equal(t, "u1", loaded["user"].(map[string]interface{})["id"])
}

func TestBranchTableLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateBranchTable(ctx, "tok1"))
	require.NoError(t, s.SetBranchOutput(ctx, "tok1", "vote", "A"))

	out, err := s.LoadBranchOutput(ctx, "tok1")
	require.NoError(t, err)
	require.Equal(t, "A", out["vote"])

	require.NoError(t, s.DropBranchTable(ctx, "tok1"))

	out, err = s.LoadBranchOutput(ctx, "tok1")
	require.NoError(t, err)
	require.Empty(t, out)
}

func TestWorkflowStatusFinalizeOnce(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.InitWorkflowStatus(ctx, "r1"))

	won, err := s.FinalizeWorkflowStatus(ctx, "r1", workflow.WorkflowCompleted)
	require.NoError(t, err)
	require.True(t, won)

	wonAgain, err := s.FinalizeWorkflowStatus(ctx, "r1", workflow.WorkflowFailed)
	require.NoError(t, err)
	require.False(t, wonAgain, "finalization must be idempotent")

	status, err := s.GetWorkflowStatus(ctx, "r1")
	require.NoError(t, err)
	require.Equal(t, workflow.WorkflowCompleted, status)
}
