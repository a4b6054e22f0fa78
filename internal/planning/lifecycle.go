package planning

import (
	"time"

	"github.com/google/uuid"

	"github.com/lyzr/flowcore/internal/condition"
	"github.com/lyzr/flowcore/internal/workflow"
)

// Start computes the decisions for a fresh run: a root token at the
// definition's initial node and workflow status initialization. Input
// schema validation happens before Start is ever called (the run actor
// rejects an invalid start request outright).
func Start(def *workflow.Definition, runID string, now time.Time) ([]Decision, []Event) {
	root := newToken(
		uuid.NewString(), runID, def.InitialNodeID, workflow.StatusPending,
		"", "root", "", 0, 1, map[string]int{}, now,
	)
	return []Decision{
			{Kind: KindCreateToken, CreateToken: &CreateTokenPayload{Token: root}},
		}, []Event{
			{Type: "decision.lifecycle.started", Payload: map[string]interface{}{
				"run_id": runID, "node_id": def.InitialNodeID,
			}},
		}
}

// CheckCompletion decides whether a run has finished: no token is in an
// active status. When finished, it resolves the definition's output
// mapping against the final context and emits COMPLETE_WORKFLOW.
// activeCount is the number of tokens in ActiveStatuses for this run,
// fetched by the caller.
func CheckCompletion(def *workflow.Definition, ctx *condition.Context, eval *condition.Evaluator, activeCount int) ([]Decision, []Event, error) {
	if activeCount > 0 {
		return nil, nil, nil
	}

	output := make(map[string]interface{}, len(def.OutputMapping))
	for _, m := range def.OutputMapping {
		v, err := eval.EvaluateValue(m.Source, ctx)
		if err != nil {
			return nil, nil, err
		}
		output[m.Target] = v
	}

	return []Decision{
			{Kind: KindCompleteWorkflow, CompleteWorkflow: &CompleteWorkflowPayload{Output: output}},
		}, []Event{
			{Type: "decision.completion.satisfied", Payload: map[string]interface{}{"output_fields": len(output)}},
		}, nil
}

// Fail computes the decisions to propagate an unrecoverable task failure:
// every other active token in the run is cancelled and the workflow is
// failed. activeTokenIDs excludes the failing token itself.
func Fail(reason string, activeTokenIDs []string) ([]Decision, []Event) {
	decisions := make([]Decision, 0, len(activeTokenIDs)+1)
	for _, id := range activeTokenIDs {
		decisions = append(decisions, Decision{
			Kind: KindUpdateTokenStatus,
			UpdateTokenStatus: &UpdateTokenStatusPayload{
				TokenID: id,
				Status:  workflow.StatusCancelled,
			},
		})
	}
	decisions = append(decisions, Decision{
		Kind:         KindFailWorkflow,
		FailWorkflow: &FailWorkflowPayload{Reason: reason, Status: workflow.WorkflowFailed},
	})
	return decisions, []Event{
		{Type: "decision.lifecycle.failed", Payload: map[string]interface{}{
			"reason": reason, "cancelled_tokens": len(activeTokenIDs),
		}},
	}
}

// Cancel computes the decisions for an operator-requested cancellation:
// every active token is cancelled and the workflow is marked cancelled.
func Cancel(activeTokenIDs []string) ([]Decision, []Event) {
	decisions := make([]Decision, 0, len(activeTokenIDs)+1)
	for _, id := range activeTokenIDs {
		decisions = append(decisions, Decision{
			Kind: KindUpdateTokenStatus,
			UpdateTokenStatus: &UpdateTokenStatusPayload{
				TokenID: id,
				Status:  workflow.StatusCancelled,
			},
		})
	}
	decisions = append(decisions, Decision{
		Kind:         KindFailWorkflow,
		FailWorkflow: &FailWorkflowPayload{Reason: "cancelled by operator", Status: workflow.WorkflowCancelled},
	})
	return decisions, []Event{
		{Type: "decision.lifecycle.cancelled", Payload: map[string]interface{}{"cancelled_tokens": len(activeTokenIDs)}},
	}
}
