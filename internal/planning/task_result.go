package planning

import (
	"github.com/lyzr/flowcore/internal/condition"
	"github.com/lyzr/flowcore/internal/workflow"
)

// CompleteTask computes the decisions arising from a task's reported
// outcome. A success applies the node's output mapping — to the token's
// branch table when it belongs to a fan-out, to context state/output
// otherwise — and marks the token completed. A failure marks it failed;
// whether that failure is retried is the actor's call (it owns the retry
// budget), not planning's.
func CompleteTask(node *workflow.Node, tok *workflow.Token, outcome *workflow.TaskOutcome, ctx *condition.Context, eval *condition.Evaluator) ([]Decision, []Event, error) {
	if !outcome.Success {
		return failTask(tok, outcome)
	}

	fields, err := evaluateOutputMapping(node, outcome, ctx, eval)
	if err != nil {
		return nil, nil, err
	}

	var decisions []Decision
	switch {
	case tok.SiblingGroup != "":
		decisions = append(decisions, Decision{Kind: KindApplyBranchOutput, ApplyBranchOutput: &ApplyBranchOutputPayload{TokenID: tok.ID, Fields: fields}})
	case len(fields) > 0:
		decisions = append(decisions, Decision{Kind: KindApplyOutput, ApplyOutput: &ApplyOutputPayload{TokenID: tok.ID, Fields: fields}})
	}
	decisions = append(decisions, Decision{Kind: KindUpdateTokenStatus, UpdateTokenStatus: &UpdateTokenStatusPayload{TokenID: tok.ID, Status: workflow.StatusCompleted}})

	return decisions, []Event{{Type: "operation.tokens.completed", Payload: map[string]interface{}{
		"token_id": tok.ID, "node_id": tok.NodeID,
	}}}, nil
}

func failTask(tok *workflow.Token, outcome *workflow.TaskOutcome) ([]Decision, []Event, error) {
	decisions := []Decision{{Kind: KindUpdateTokenStatus, UpdateTokenStatus: &UpdateTokenStatusPayload{TokenID: tok.ID, Status: workflow.StatusFailed}}}
	events := []Event{{Type: "operation.tokens.failed", Payload: map[string]interface{}{
		"token_id": tok.ID, "node_id": tok.NodeID, "retryable": outcome.Error.Retryable, "error_type": outcome.Error.Type,
	}}}
	return decisions, events, nil
}

// evaluateOutputMapping evaluates a task node's output mapping against the
// run's context with the raw outcome output exposed under the reserved
// "_task.output" path — mirroring the "_branch.output" convention merge
// configs use for fan-in sources.
func evaluateOutputMapping(node *workflow.Node, outcome *workflow.TaskOutcome, ctx *condition.Context, eval *condition.Evaluator) (map[string]interface{}, error) {
	if len(node.OutputMapping) == 0 {
		return nil, nil
	}

	mergedOutput := make(map[string]interface{}, len(ctx.Output)+1)
	for k, v := range ctx.Output {
		mergedOutput[k] = v
	}
	mergedOutput["_task"] = map[string]interface{}{"output": outcome.Output}
	mergedCtx := &condition.Context{Input: ctx.Input, State: ctx.State, Output: mergedOutput}

	fields := make(map[string]interface{}, len(node.OutputMapping))
	for _, m := range node.OutputMapping {
		v, err := eval.EvaluateValue(m.Source, mergedCtx)
		if err != nil {
			return nil, err
		}
		fields[m.Target] = v
	}
	return fields, nil
}
