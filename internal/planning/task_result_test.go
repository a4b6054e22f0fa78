package planning

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lyzr/flowcore/internal/condition"
	"github.com/lyzr/flowcore/internal/workflow"
)

func TestCompleteTaskAppliesOutputMappingToContext(t *testing.T) {
	cond, err := condition.Compile(`output._task.output.score`)
	require.NoError(t, err)
	node := &workflow.Node{ID: "A", OutputMapping: []workflow.FieldMapping{{Target: "output.score", Source: cond}}}
	tok := &workflow.Token{ID: "tok-1", NodeID: "A"}
	outcome := &workflow.TaskOutcome{Success: true, Output: map[string]interface{}{"score": 9.0}}

	decisions, events, err := CompleteTask(node, tok, outcome, &condition.Context{}, condition.NewEvaluator())
	require.NoError(t, err)
	require.Len(t, decisions, 2)
	require.Equal(t, KindApplyOutput, decisions[0].Kind)
	require.Equal(t, 9.0, decisions[0].ApplyOutput.Fields["output.score"])
	require.Equal(t, KindUpdateTokenStatus, decisions[1].Kind)
	require.Equal(t, workflow.StatusCompleted, decisions[1].UpdateTokenStatus.Status)
	require.Equal(t, "operation.tokens.completed", events[0].Type)
}

func TestCompleteTaskRoutesBranchTokenOutputToBranchTable(t *testing.T) {
	cond, err := condition.Compile(`output._task.output.value`)
	require.NoError(t, err)
	node := &workflow.Node{ID: "A", OutputMapping: []workflow.FieldMapping{{Target: "_branch.output", Source: cond}}}
	tok := &workflow.Token{ID: "tok-1", NodeID: "A", SiblingGroup: "grp"}
	outcome := &workflow.TaskOutcome{Success: true, Output: map[string]interface{}{"value": "x"}}

	decisions, _, err := CompleteTask(node, tok, outcome, &condition.Context{}, condition.NewEvaluator())
	require.NoError(t, err)
	require.Len(t, decisions, 2)
	require.Equal(t, KindApplyBranchOutput, decisions[0].Kind)
	require.Equal(t, "x", decisions[0].ApplyBranchOutput.Fields["_branch.output"])
}

func TestCompleteTaskNoMappingJustMarksCompleted(t *testing.T) {
	node := &workflow.Node{ID: "A"}
	tok := &workflow.Token{ID: "tok-1", NodeID: "A"}
	outcome := &workflow.TaskOutcome{Success: true}

	decisions, _, err := CompleteTask(node, tok, outcome, &condition.Context{}, condition.NewEvaluator())
	require.NoError(t, err)
	require.Len(t, decisions, 1)
	require.Equal(t, KindUpdateTokenStatus, decisions[0].Kind)
}

func TestCompleteTaskFailureMarksTokenFailed(t *testing.T) {
	node := &workflow.Node{ID: "A"}
	tok := &workflow.Token{ID: "tok-1", NodeID: "A"}
	outcome := &workflow.TaskOutcome{Success: false, Error: &workflow.TaskError{Type: "timeout", Message: "boom", Retryable: true}}

	decisions, events, err := CompleteTask(node, tok, outcome, &condition.Context{}, condition.NewEvaluator())
	require.NoError(t, err)
	require.Len(t, decisions, 1)
	require.Equal(t, workflow.StatusFailed, decisions[0].UpdateTokenStatus.Status)
	require.Equal(t, true, events[0].Payload["retryable"])
}
