package planning

import (
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/lyzr/flowcore/internal/condition"
	"github.com/lyzr/flowcore/internal/workflow"
)

// Route computes the routing decisions for a completed token per the
// priority-tier algorithm: group outbound transitions by priority, evaluate
// each tier in ascending order, skip loop-exhausted transitions, and let
// the first tier with a qualifying transition win (all qualifying
// transitions in that tier fire in parallel).
func Route(def *workflow.Definition, token *workflow.Token, ctx *condition.Context, eval *condition.Evaluator) ([]Decision, []Event, error) {
	transitions := def.Outbound(token.NodeID)
	if len(transitions) == 0 {
		return nil, nil, nil
	}

	tiers := groupByPriority(transitions)

	var events []Event
	for _, tier := range tiers {
		var qualifying []*workflow.Transition

		for _, tr := range tier {
			if tr.Loop != nil && tr.Loop.MaxIterations > 0 {
				if token.IterationCounts[tr.ID] >= tr.Loop.MaxIterations {
					events = append(events, Event{
						Type: "decision.routing.loop_limit_reached",
						Payload: map[string]interface{}{
							"transition_id": tr.ID,
							"token_id":      token.ID,
						},
					})
					continue
				}
			}

			ok, err := eval.Evaluate(tr.Condition, ctx)
			if err != nil {
				return nil, events, err
			}
			if ok {
				qualifying = append(qualifying, tr)
			}
		}

		if len(qualifying) == 0 {
			continue
		}

		decisions, tierEvents := routeTier(token, ctx, qualifying)
		events = append(events, tierEvents...)
		return decisions, events, nil
	}

	return nil, events, nil
}

func groupByPriority(transitions []*workflow.Transition) [][]*workflow.Transition {
	byPriority := make(map[int][]*workflow.Transition)
	for _, tr := range transitions {
		byPriority[tr.Priority] = append(byPriority[tr.Priority], tr)
	}

	priorities := make([]int, 0, len(byPriority))
	for p := range byPriority {
		priorities = append(priorities, p)
	}
	sort.Ints(priorities)

	tiers := make([][]*workflow.Transition, len(priorities))
	for i, p := range priorities {
		tiers[i] = byPriority[p]
	}
	return tiers
}

func routeTier(token *workflow.Token, ctx *condition.Context, matched []*workflow.Transition) ([]Decision, []Event) {
	var plain []*workflow.Transition
	var decisions []Decision
	var events []Event

	for _, tr := range matched {
		if tr.Synchronization != nil {
			// Defer the guard (does token.sibling_group match the fan-in's
			// sibling_group?) to planning.Check, which has the sibling/fan-in
			// snapshot dispatch fetches for it — routing only knows that this
			// arrival needs to be evaluated against the fan-in.
			decisions = append(decisions, Decision{
				Kind: KindCheckSynchronization,
				CheckSynchronization: &CheckSynchronizationPayload{
					TokenID:      token.ID,
					TransitionID: tr.ID,
				},
			})
			events = append(events, Event{
				Type: "decision.synchronization.arrived",
				Payload: map[string]interface{}{
					"transition_id": tr.ID,
					"token_id":      token.ID,
				},
			})
			continue
		}
		plain = append(plain, tr)
	}

	if len(plain) == 0 {
		return decisions, events
	}

	plainDecisions, plainEvents := routePlainTier(token, ctx, plain)
	decisions = append(decisions, plainDecisions...)
	events = append(events, plainEvents...)
	return decisions, events
}

func routePlainTier(token *workflow.Token, ctx *condition.Context, matched []*workflow.Transition) ([]Decision, []Event) {
	spawnCounts := make(map[string]int, len(matched))
	siblingGroups := make(map[string]string, len(matched))
	groupTotals := make(map[string]int)

	for _, tr := range matched {
		count := spawnCount(tr, ctx)
		spawnCounts[tr.ID] = count

		group := siblingGroup(tr, token, count)
		siblingGroups[tr.ID] = group
		groupTotals[group] += count
	}

	groupCounters := make(map[string]int)
	var decisions []Decision
	var events []Event

	for _, tr := range matched {
		count := spawnCounts[tr.ID]
		if count == 0 {
			continue
		}

		group := siblingGroups[tr.ID]
		total := groupTotals[group]

		for i := 0; i < count; i++ {
			branchIndex := token.BranchIndex
			if total > 1 {
				branchIndex = groupCounters[group]
				groupCounters[group]++
			}

			pathID := token.PathID
			if total > 1 {
				pathID = token.PathID + "." + tr.To + "." + strconv.Itoa(branchIndex)
			}

			counts := make(map[string]int, len(token.IterationCounts)+1)
			for k, v := range token.IterationCounts {
				counts[k] = v
			}
			counts[tr.ID] = counts[tr.ID] + 1

			childGroup := group
			if total <= 1 {
				childGroup = token.SiblingGroup
			}

			child := newToken(
				uuid.NewString(), token.RunID, tr.To, workflow.StatusPending,
				token.ID, pathID, childGroup, branchIndex, total, counts, time.Now(),
			)

			decisions = append(decisions, Decision{
				Kind:        KindCreateToken,
				CreateToken: &CreateTokenPayload{Token: child},
			})
			if total > 1 {
				// A fan-out child's completion writes its output into its own
				// branch table (task_result.go); the table must exist before
				// that write lands, not just before the eventual merge read.
				decisions = append(decisions, Decision{
					Kind:            KindInitBranchTable,
					InitBranchTable: &InitBranchTablePayload{TokenID: child.ID},
				})
			}
			events = append(events, Event{
				Type: "decision.routing.token_created",
				Payload: map[string]interface{}{
					"transition_id": tr.ID,
					"parent_token":  token.ID,
					"child_node":    tr.To,
					"branch_index":  branchIndex,
					"branch_total":  total,
				},
			})
		}
	}

	return decisions, events
}

func spawnCount(tr *workflow.Transition, ctx *condition.Context) int {
	if tr.Foreach != "" {
		val := condition.Resolve(tr.Foreach, ctx)
		arr, ok := val.([]interface{})
		if !ok {
			return 1 // missing or non-array collection: graceful degradation to a single spawn
		}
		return len(arr)
	}
	if tr.SpawnCount > 0 {
		return tr.SpawnCount
	}
	return 1
}

func siblingGroup(tr *workflow.Transition, parent *workflow.Token, count int) string {
	if tr.SiblingGroup != "" {
		return tr.SiblingGroup
	}
	if count > 1 {
		if tr.Ref != "" {
			return tr.Ref
		}
		return tr.ID
	}
	return parent.SiblingGroup
}
