package actor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lyzr/flowcore/internal/alarm"
	"github.com/lyzr/flowcore/internal/clients"
	"github.com/lyzr/flowcore/internal/condition"
	"github.com/lyzr/flowcore/internal/dispatch"
	"github.com/lyzr/flowcore/internal/events"
	"github.com/lyzr/flowcore/internal/store"
	"github.com/lyzr/flowcore/internal/workflow"
)

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Debug(string, ...any) {}

func newTestRun(t *testing.T, def *workflow.Definition, exec clients.Executor) (*Run, *store.Store) {
	t.Helper()
	s, err := store.Open(context.Background(), ":memory:", store.Config{})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	deps := &dispatch.Deps{
		Store:    s,
		Def:      def,
		Executor: exec,
		Alarm:    alarm.NewMemoryScheduler(func(alarm.Fired) {}),
		Events:   events.NewRecorder(),
		Eval:     condition.NewEvaluator(),
		RunID:    "run-1",
	}
	r := New("run-1", def, deps, noopLogger{})
	t.Cleanup(r.Close)
	return r, s
}

func twoStepDef() *workflow.Definition {
	return &workflow.Definition{
		ID:            "two-step",
		InitialNodeID: "A",
		Nodes: map[string]*workflow.Node{
			"A": {ID: "A", Kind: workflow.NodeKindTask, TaskRef: "step-a", RetryBudget: 2},
			"B": {ID: "B", Kind: workflow.NodeKindTask, TaskRef: "step-b"},
		},
		TransitionsFrom: map[string][]*workflow.Transition{
			"A": {{ID: "t-a-b", From: "A", To: "B"}},
		},
	}
}

func TestStartDispatchesRootToken(t *testing.T) {
	def := twoStepDef()
	exec := clients.NewFakeExecutor(nil)
	r, s := newTestRun(t, def, exec)

	require.NoError(t, r.Start(context.Background(), map[string]interface{}{"x": 1.0}))

	calls := exec.Calls()
	require.Len(t, calls, 1)
	require.Equal(t, "step-a", calls[0].TaskRef.StepRef)

	status, err := s.GetWorkflowStatus(context.Background(), "run-1")
	require.NoError(t, err)
	require.Equal(t, workflow.WorkflowRunning, status)
}

func TestStartRejectsInputViolatingSchema(t *testing.T) {
	def := twoStepDef()
	def.InputSchema = []byte(`{"type":"object","required":["x"],"properties":{"x":{"type":"number"}}}`)
	exec := clients.NewFakeExecutor(nil)
	r, _ := newTestRun(t, def, exec)

	err := r.Start(context.Background(), map[string]interface{}{})
	require.Error(t, err)
	require.Empty(t, exec.Calls())
}

func TestOnTaskResultRoutesToNextNodeOnSuccess(t *testing.T) {
	def := twoStepDef()
	exec := clients.NewFakeExecutor(nil)
	r, s := newTestRun(t, def, exec)

	require.NoError(t, r.Start(context.Background(), nil))
	rootTokenID := exec.Calls()[0].Correlation

	require.NoError(t, r.OnTaskResult(context.Background(), rootTokenID, &workflow.TaskOutcome{Success: true}))

	calls := exec.Calls()
	require.Len(t, calls, 2)
	require.Equal(t, "step-b", calls[1].TaskRef.StepRef)

	root, err := s.GetToken(context.Background(), rootTokenID)
	require.NoError(t, err)
	require.Equal(t, workflow.StatusCompleted, root.Status)
}

func TestOnTaskResultRetriesRetryableFailureUnderBudget(t *testing.T) {
	def := twoStepDef()
	exec := clients.NewFakeExecutor(nil)
	r, _ := newTestRun(t, def, exec)

	require.NoError(t, r.Start(context.Background(), nil))
	rootTokenID := exec.Calls()[0].Correlation

	outcome := &workflow.TaskOutcome{Success: false, Error: &workflow.TaskError{Type: "timeout", Message: "boom", Retryable: true}}
	require.NoError(t, r.OnTaskResult(context.Background(), rootTokenID, outcome))

	calls := exec.Calls()
	require.Len(t, calls, 2, "retry should re-dispatch the same task")
	require.Equal(t, "step-a", calls[1].TaskRef.StepRef)
}

func TestOnTaskResultEscalatesAfterRetryBudgetExhausted(t *testing.T) {
	def := twoStepDef() // node A has RetryBudget: 2
	exec := clients.NewFakeExecutor(nil)
	r, s := newTestRun(t, def, exec)

	require.NoError(t, r.Start(context.Background(), nil))
	rootTokenID := exec.Calls()[0].Correlation

	outcome := &workflow.TaskOutcome{Success: false, Error: &workflow.TaskError{Type: "timeout", Message: "boom", Retryable: true}}
	require.NoError(t, r.OnTaskResult(context.Background(), rootTokenID, outcome)) // attempt 1, retried
	require.NoError(t, r.OnTaskResult(context.Background(), rootTokenID, outcome)) // attempt 2, retried
	require.NoError(t, r.OnTaskResult(context.Background(), rootTokenID, outcome)) // attempt 3, budget exhausted

	status, err := s.GetWorkflowStatus(context.Background(), "run-1")
	require.NoError(t, err)
	require.Equal(t, workflow.WorkflowFailed, status)
}

func TestOnTaskResultNonRetryableFailureFailsWorkflowImmediately(t *testing.T) {
	def := twoStepDef()
	exec := clients.NewFakeExecutor(nil)
	r, s := newTestRun(t, def, exec)

	require.NoError(t, r.Start(context.Background(), nil))
	rootTokenID := exec.Calls()[0].Correlation

	outcome := &workflow.TaskOutcome{Success: false, Error: &workflow.TaskError{Type: "fatal", Message: "boom", Retryable: false}}
	require.NoError(t, r.OnTaskResult(context.Background(), rootTokenID, outcome))

	status, err := s.GetWorkflowStatus(context.Background(), "run-1")
	require.NoError(t, err)
	require.Equal(t, workflow.WorkflowFailed, status)
	require.Len(t, exec.Calls(), 1, "no retry for a non-retryable failure")
}

func TestOnTaskResultIsIdempotentForTerminalTokens(t *testing.T) {
	def := twoStepDef()
	exec := clients.NewFakeExecutor(nil)
	r, _ := newTestRun(t, def, exec)

	require.NoError(t, r.Start(context.Background(), nil))
	rootTokenID := exec.Calls()[0].Correlation

	require.NoError(t, r.OnTaskResult(context.Background(), rootTokenID, &workflow.TaskOutcome{Success: true}))
	require.Len(t, exec.Calls(), 2)

	// Redelivery of the same result must not re-route the already completed token.
	require.NoError(t, r.OnTaskResult(context.Background(), rootTokenID, &workflow.TaskOutcome{Success: true}))
	require.Len(t, exec.Calls(), 2)
}

func TestCancelMarksActiveTokensCancelledAndFinalizesRun(t *testing.T) {
	def := twoStepDef()
	exec := clients.NewFakeExecutor(nil)
	r, s := newTestRun(t, def, exec)

	require.NoError(t, r.Start(context.Background(), nil))
	rootTokenID := exec.Calls()[0].Correlation

	require.NoError(t, r.Cancel(context.Background(), "operator request"))

	root, err := s.GetToken(context.Background(), rootTokenID)
	require.NoError(t, err)
	require.Equal(t, workflow.StatusCancelled, root.Status)

	status, err := s.GetWorkflowStatus(context.Background(), "run-1")
	require.NoError(t, err)
	require.Equal(t, workflow.WorkflowCancelled, status)
}

func TestOnTimeoutAlarmProceedsFanInWithAvailableSiblings(t *testing.T) {
	def := &workflow.Definition{
		ID:            "fan-in-timeout",
		InitialNodeID: "A",
		Nodes: map[string]*workflow.Node{
			"A": {ID: "A", Kind: workflow.NodeKindTask, TaskRef: "step-a"},
			"M": {ID: "M", Kind: workflow.NodeKindTask, TaskRef: "step-m"},
		},
		TransitionsFrom: map[string][]*workflow.Transition{
			"A": {{
				ID: "t-sync", From: "A", To: "M", SiblingGroup: "grp",
				Synchronization: &workflow.Synchronization{
					Strategy: workflow.SyncAll, SiblingGroup: "grp", TimeoutMS: 1,
					OnTimeout: workflow.OnTimeoutProceedWithAvailable,
				},
			}},
		},
	}
	exec := clients.NewFakeExecutor(nil)
	r, s := newTestRun(t, def, exec)
	ctx := context.Background()

	arrived := &workflow.Token{
		ID: "arrived", RunID: "run-1", NodeID: "A", Status: workflow.StatusCompleted,
		PathID: "root", SiblingGroup: "grp", BranchIndex: 0, BranchTotal: 2,
		IterationCounts: map[string]int{}, CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	require.NoError(t, s.CreateToken(ctx, arrived))
	_, _, err := s.InsertFanInIfAbsent(ctx, &workflow.FanIn{
		ID: "fi1", RunID: "run-1", NodeID: "M", FanInPath: "grp", TransitionID: "t-sync",
		FirstArrivalAt: time.Now().Add(-time.Hour),
	})
	require.NoError(t, err)

	require.NoError(t, r.OnTimeoutAlarm(ctx))

	calls := exec.Calls()
	require.Len(t, calls, 1)
	require.Equal(t, "step-m", calls[0].TaskRef.StepRef)
}
