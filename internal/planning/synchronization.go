package planning

import (
	"time"

	"github.com/google/uuid"

	"github.com/lyzr/flowcore/internal/workflow"
)

// Check evaluates a fan-in arrival: a token has routed onto a transition
// carrying a Synchronization config. The caller fetches siblings (every
// token sharing arriving.SiblingGroup, including arriving itself) and the
// existing fan-in record (nil if none has been created yet) before calling
// in — Check never touches a store.
//
// Guard: if arriving's sibling_group doesn't match the transition's
// configured sibling_group, this is an ordinary continuation and no wait
// is introduced — a single token proceeds as if Synchronization were nil.
func Check(tr *workflow.Transition, arriving *workflow.Token, siblings []*workflow.Token, existingFanIn *workflow.FanIn) ([]Decision, []Event, error) {
	sync := tr.Synchronization
	fanInPath := arriving.SiblingGroup

	if sync.SiblingGroup != "" && arriving.SiblingGroup != sync.SiblingGroup {
		child := newToken(
			uuid.NewString(), arriving.RunID, tr.To, workflow.StatusPending,
			arriving.ID, arriving.PathID, arriving.SiblingGroup, 0, 1, copyCounts(arriving.IterationCounts, tr.ID), time.Now(),
		)
		return []Decision{{Kind: KindCreateToken, CreateToken: &CreateTokenPayload{Token: child}}},
			[]Event{{Type: "decision.synchronization.guard_mismatch", Payload: map[string]interface{}{
				"transition_id": tr.ID, "token_id": arriving.ID,
			}}}, nil
	}

	satisfied := evaluateStrategy(sync, siblings)

	if !satisfied {
		decision := Decision{
			Kind: KindUpdateTokenStatus,
			UpdateTokenStatus: &UpdateTokenStatusPayload{
				TokenID:      arriving.ID,
				Status:       workflow.StatusWaitingForSiblings,
				SetArrivedAt: true,
				ArmFanIn: &ArmFanInInfo{
					FanInPath:      fanInPath,
					NodeID:         tr.To,
					TransitionID:   tr.ID,
					TimeoutMS:      sync.TimeoutMS,
					CreateIfAbsent: existingFanIn == nil,
				},
			},
		}
		return []Decision{decision}, []Event{{
			Type: "decision.synchronization.waiting",
			Payload: map[string]interface{}{
				"fan_in_path": fanInPath, "token_id": arriving.ID,
			},
		}}, nil
	}

	if existingFanIn != nil && existingFanIn.Status == workflow.FanInActivated {
		// Another sibling already won this fan-in; this arrival just
		// completes quietly.
		return []Decision{{
				Kind: KindUpdateTokenStatus,
				UpdateTokenStatus: &UpdateTokenStatusPayload{
					TokenID: arriving.ID,
					Status:  workflow.StatusCompleted,
				},
			}}, []Event{{
				Type:    "decision.synchronization.lost_race",
				Payload: map[string]interface{}{"fan_in_path": fanInPath, "token_id": arriving.ID},
			}}, nil
	}

	return []Decision{{
			Kind: KindActivateFanIn,
			ActivateFanIn: &ActivateFanInPayload{
				RunID:            arriving.RunID,
				FanInPath:        fanInPath,
				TransitionID:     tr.ID,
				SiblingGroup:     arriving.SiblingGroup,
				ActivatorTokenID: arriving.ID,
				ProceedingNodeID: tr.To,
				Merge:            sync.Merge,
			},
		}}, []Event{{
			Type:    "decision.synchronization.activation_attempted",
			Payload: map[string]interface{}{"fan_in_path": fanInPath, "token_id": arriving.ID},
		}}, nil
}

// HandleTimeout evaluates a fan-in whose alarm has fired while still
// waiting. siblings must include every token sharing waiting.FanInPath as
// their sibling_group.
func HandleTimeout(waiting *workflow.FanIn, sync *workflow.Synchronization, siblings []*workflow.Token) ([]Decision, []Event) {
	var out []Decision
	var events []Event

	out = append(out, Decision{
		Kind: KindMarkFanInTimedOut,
		MarkFanInTimedOut: &MarkFanInTimedOutPayload{
			RunID:     waiting.RunID,
			FanInPath: waiting.FanInPath,
		},
	})
	events = append(events, Event{
		Type:    "decision.synchronization.timed_out",
		Payload: map[string]interface{}{"fan_in_path": waiting.FanInPath},
	})

	if sync.OnTimeout != workflow.OnTimeoutProceedWithAvailable {
		return append(out, Decision{
			Kind: KindFailWorkflow,
			FailWorkflow: &FailWorkflowPayload{
				Reason: "synchronization timeout on fan-in " + waiting.FanInPath,
				Status: workflow.WorkflowFailed,
			},
		}), events
	}

	var available []*workflow.Token
	var activator *workflow.Token
	for _, s := range siblings {
		if s.Status == workflow.StatusCompleted {
			available = append(available, s)
			if activator == nil {
				activator = s
			}
		}
	}
	if activator == nil {
		// Nothing completed at all: there is nothing to proceed with.
		return append(out, Decision{
			Kind: KindFailWorkflow,
			FailWorkflow: &FailWorkflowPayload{
				Reason: "synchronization timeout on fan-in " + waiting.FanInPath + " with no completed siblings",
				Status: workflow.WorkflowFailed,
			},
		}), events
	}

	out = append(out, Decision{
		Kind: KindActivateFanIn,
		ActivateFanIn: &ActivateFanInPayload{
			RunID:            waiting.RunID,
			FanInPath:        waiting.FanInPath,
			TransitionID:     waiting.TransitionID,
			SiblingGroup:     activator.SiblingGroup,
			ActivatorTokenID: activator.ID,
			ProceedingNodeID: waiting.NodeID,
			Merge:            sync.Merge,
		},
	})
	events = append(events, Event{
		Type:    "decision.synchronization.proceed_with_available",
		Payload: map[string]interface{}{"fan_in_path": waiting.FanInPath, "available": len(available)},
	})
	return out, events
}

func evaluateStrategy(sync *workflow.Synchronization, siblings []*workflow.Token) bool {
	if len(siblings) == 0 {
		return false
	}
	terminal, completed := 0, 0
	for _, s := range siblings {
		if workflow.IsTerminal(s.Status) {
			terminal++
		}
		if s.Status == workflow.StatusCompleted {
			completed++
		}
	}
	switch sync.Strategy {
	case workflow.SyncAll:
		return terminal == len(siblings)
	case workflow.SyncAny:
		return completed >= 1
	case workflow.SyncMOfN:
		return terminal >= sync.MOfN
	default:
		return false
	}
}

func copyCounts(src map[string]int, incrementKey string) map[string]int {
	out := make(map[string]int, len(src)+1)
	for k, v := range src {
		out[k] = v
	}
	out[incrementKey] = out[incrementKey] + 1
	return out
}
