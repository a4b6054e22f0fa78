// Package dispatch applies planning's pure decisions as effects: store
// mutations, executor enqueues, alarm scheduling, trace emission. Nothing in
// internal/planning imports this package — the dependency runs one way.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lyzr/flowcore/internal/alarm"
	"github.com/lyzr/flowcore/internal/clients"
	"github.com/lyzr/flowcore/internal/condition"
	"github.com/lyzr/flowcore/internal/merge"
	"github.com/lyzr/flowcore/internal/planning"
	"github.com/lyzr/flowcore/internal/store"
	"github.com/lyzr/flowcore/internal/workflow"
)

// Publisher is the subset of events.Publisher dispatch depends on.
type Publisher interface {
	Publish(ctx context.Context, runID string, evts []planning.Event)
}

// Deps bundles dispatch's collaborators. One Deps is built per run actor and
// reused across every entry point call.
type Deps struct {
	Store    *store.Store
	Def      *workflow.Definition
	Executor clients.Executor
	Alarm    alarm.Scheduler
	Events   Publisher
	Eval     *condition.Evaluator
	RunID    string
}

// Apply runs every decision in order, publishing events once all store
// mutations for this call have landed. Decisions that recurse (
// CHECK_SYNCHRONIZATION, ACTIVATE_FAN_IN's proceeding token) apply their
// own follow-on decisions inline, depth-first, before the call returns.
func (d *Deps) Apply(ctx context.Context, decisions []planning.Decision, evts []planning.Event) error {
	for _, dec := range decisions {
		if err := d.applyOne(ctx, dec); err != nil {
			return err
		}
	}
	if d.Events != nil {
		d.Events.Publish(ctx, d.RunID, evts)
	}
	return nil
}

func (d *Deps) applyOne(ctx context.Context, dec planning.Decision) error {
	switch dec.Kind {
	case planning.KindCreateToken:
		return d.applyCreateToken(ctx, dec.CreateToken.Token)

	case planning.KindUpdateTokenStatus:
		return d.applyUpdateTokenStatus(ctx, dec.UpdateTokenStatus)

	case planning.KindMarkForDispatch:
		return d.applyMarkForDispatch(ctx, dec.MarkForDispatch)

	case planning.KindSetContext:
		return d.applySetContext(ctx, dec.SetContext)

	case planning.KindApplyOutput:
		return d.applyApplyOutput(ctx, dec.ApplyOutput)

	case planning.KindInitBranchTable:
		return d.Store.CreateBranchTable(ctx, dec.InitBranchTable.TokenID)

	case planning.KindApplyBranchOutput:
		return d.applyBranchOutput(ctx, dec.ApplyBranchOutput)

	case planning.KindMergeBranches:
		return d.applyMergeBranches(ctx, dec.MergeBranches)

	case planning.KindDropBranchTables:
		for _, id := range dec.DropBranchTables.TokenIDs {
			if err := d.Store.DropBranchTable(ctx, id); err != nil {
				return err
			}
		}
		return nil

	case planning.KindCheckSynchronization:
		return d.applyCheckSynchronization(ctx, dec.CheckSynchronization)

	case planning.KindActivateFanIn:
		return d.applyActivateFanIn(ctx, dec.ActivateFanIn)

	case planning.KindMarkFanInTimedOut:
		_, err := d.Store.MarkFanInTimedOut(ctx, dec.MarkFanInTimedOut.RunID, dec.MarkFanInTimedOut.FanInPath)
		return err

	case planning.KindCompleteWorkflow:
		return d.applyCompleteWorkflow(ctx, dec.CompleteWorkflow)

	case planning.KindFailWorkflow:
		status := dec.FailWorkflow.Status
		if status == "" {
			status = workflow.WorkflowFailed
		}
		_, err := d.Store.FinalizeWorkflowStatus(ctx, d.RunID, status)
		return err

	default:
		return fmt.Errorf("dispatch: unhandled decision kind %q", dec.Kind)
	}
}

func (d *Deps) applyCreateToken(ctx context.Context, tok *workflow.Token) error {
	if err := d.Store.CreateToken(ctx, tok); err != nil {
		return err
	}
	return d.advance(ctx, tok)
}

// advance decides what happens to a freshly created, still-pending token:
// a task node is marked for dispatch, a subworkflow node spawns its child
// run, a control node completes instantly and routes onward.
func (d *Deps) advance(ctx context.Context, tok *workflow.Token) error {
	node, ok := d.Def.Node(tok.NodeID)
	if !ok {
		return fmt.Errorf("dispatch: unknown node %q referenced by token %s", tok.NodeID, tok.ID)
	}

	switch node.Kind {
	case workflow.NodeKindTask:
		return d.dispatchTask(ctx, tok, node, 0)

	case workflow.NodeKindSubworkflow:
		return d.dispatchSubworkflow(ctx, tok, node)

	case workflow.NodeKindControl:
		return d.passThroughControlNode(ctx, tok)

	default:
		return fmt.Errorf("dispatch: unknown node kind %q for node %s", node.Kind, node.ID)
	}
}

func (d *Deps) dispatchTask(ctx context.Context, tok *workflow.Token, node *workflow.Node, timeoutMS int64) error {
	input, err := d.buildMapping(ctx, node.InputMapping)
	if err != nil {
		return err
	}
	body, err := json.Marshal(input)
	if err != nil {
		return fmt.Errorf("marshal task input for %s: %w", tok.ID, err)
	}

	if err := d.Executor.Dispatch(ctx, clients.DispatchRequest{
		TaskRef:     clients.TaskRef{StepRef: node.TaskRef, Kind: "task"},
		Input:       body,
		Correlation: tok.ID,
		TimeoutMS:   timeoutMS,
	}); err != nil {
		return fmt.Errorf("dispatch task for token %s: %w", tok.ID, err)
	}

	_, err = d.Store.UpdateTokenStatus(ctx, tok.ID, workflow.StatusDispatched, false)
	return err
}

func (d *Deps) dispatchSubworkflow(ctx context.Context, tok *workflow.Token, node *workflow.Node) error {
	input, err := d.buildMapping(ctx, node.InputMapping)
	if err != nil {
		return err
	}
	body, err := json.Marshal(input)
	if err != nil {
		return fmt.Errorf("marshal subworkflow input for %s: %w", tok.ID, err)
	}

	subRunID := uuid.NewString()
	if err := d.Store.CreateSubworkflow(ctx, uuid.NewString(), d.RunID, tok.ID, subRunID, workflow.WorkflowRunning, 0); err != nil {
		return err
	}

	if err := d.Executor.Dispatch(ctx, clients.DispatchRequest{
		TaskRef:     clients.TaskRef{StepRef: node.TaskRef, Kind: "subworkflow"},
		Input:       body,
		Correlation: subRunID,
	}); err != nil {
		return fmt.Errorf("dispatch subworkflow for token %s: %w", tok.ID, err)
	}

	_, err = d.Store.UpdateTokenStatus(ctx, tok.ID, workflow.StatusWaitingForSubworkflow, false)
	return err
}

// passThroughControlNode completes a control-node token immediately and
// routes onward, applying whatever decisions that produces — control nodes
// have no executor and never suspend.
func (d *Deps) passThroughControlNode(ctx context.Context, tok *workflow.Token) error {
	if _, err := d.Store.UpdateTokenStatus(ctx, tok.ID, workflow.StatusCompleted, false); err != nil {
		return err
	}

	ctxSnapshot, err := d.loadContext(ctx)
	if err != nil {
		return err
	}
	completed, err := d.Store.GetToken(ctx, tok.ID)
	if err != nil {
		return err
	}

	decisions, evts, err := planning.Route(d.Def, completed, ctxSnapshot, d.Eval)
	if err != nil {
		return err
	}
	return d.Apply(ctx, decisions, evts)
}

func (d *Deps) buildMapping(ctx context.Context, mapping []workflow.FieldMapping) (map[string]interface{}, error) {
	snapshot, err := d.loadContext(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]interface{}, len(mapping))
	for _, m := range mapping {
		v, err := d.Eval.EvaluateValue(m.Source, snapshot)
		if err != nil {
			return nil, fmt.Errorf("evaluate mapping for %s: %w", m.Target, err)
		}
		out[m.Target] = v
	}
	return out, nil
}

func (d *Deps) loadContext(ctx context.Context) (*condition.Context, error) {
	input, err := d.Store.LoadSection(ctx, store.SectionInput)
	if err != nil {
		return nil, err
	}
	state, err := d.Store.LoadSection(ctx, store.SectionState)
	if err != nil {
		return nil, err
	}
	output, err := d.Store.LoadSection(ctx, store.SectionOutput)
	if err != nil {
		return nil, err
	}
	return &condition.Context{Input: input, State: state, Output: output}, nil
}

func (d *Deps) applyUpdateTokenStatus(ctx context.Context, p *planning.UpdateTokenStatusPayload) error {
	if p.TokenID != "" {
		if _, err := d.Store.UpdateTokenStatus(ctx, p.TokenID, p.Status, p.SetArrivedAt); err != nil {
			return err
		}
	}
	if p.ArmFanIn == nil {
		return nil
	}
	return d.armFanIn(ctx, p.ArmFanIn)
}

func (d *Deps) armFanIn(ctx context.Context, arm *planning.ArmFanInInfo) error {
	if arm.CreateIfAbsent {
		_, _, err := d.Store.InsertFanInIfAbsent(ctx, &workflow.FanIn{
			ID:             uuid.NewString(),
			RunID:          d.RunID,
			NodeID:         arm.NodeID,
			FanInPath:      arm.FanInPath,
			TransitionID:   arm.TransitionID,
			FirstArrivalAt: time.Now(),
		})
		if err != nil {
			return err
		}
	}
	if arm.TimeoutMS <= 0 {
		return nil
	}
	fireAt := time.Now().Add(time.Duration(arm.TimeoutMS) * time.Millisecond)
	return d.Alarm.Schedule(ctx, d.RunID, arm.FanInPath, fireAt)
}

func (d *Deps) applyMarkForDispatch(ctx context.Context, p *planning.MarkForDispatchPayload) error {
	node, ok := d.Def.Node(p.NodeID)
	if !ok {
		return fmt.Errorf("dispatch: unknown node %q", p.NodeID)
	}
	tok, err := d.Store.GetToken(ctx, p.TokenID)
	if err != nil {
		return err
	}
	return d.dispatchTask(ctx, tok, node, p.TimeoutMS)
}

func (d *Deps) applySetContext(ctx context.Context, p *planning.SetContextPayload) error {
	section, path, err := splitTarget(p.Target)
	if err != nil {
		return err
	}
	return d.Store.SetPath(ctx, section, path, p.Value)
}

func (d *Deps) applyApplyOutput(ctx context.Context, p *planning.ApplyOutputPayload) error {
	for target, value := range p.Fields {
		section, path, err := splitTarget(target)
		if err != nil {
			return err
		}
		if err := d.Store.SetPath(ctx, section, path, value); err != nil {
			return err
		}
	}
	return nil
}

func (d *Deps) applyBranchOutput(ctx context.Context, p *planning.ApplyBranchOutputPayload) error {
	for path, value := range p.Fields {
		if err := d.Store.SetBranchOutput(ctx, p.TokenID, path, value); err != nil {
			return err
		}
	}
	return nil
}

func (d *Deps) applyMergeBranches(ctx context.Context, p *planning.MergeBranchesPayload) error {
	siblings, err := d.Store.ListBySiblingGroup(ctx, d.RunID, p.SiblingGroup)
	if err != nil {
		return err
	}

	source := p.Source
	if source == "" {
		source = "_branch.output"
	}

	var results []merge.BranchResult
	for _, s := range siblings {
		if s.Status != workflow.StatusCompleted {
			continue
		}
		loaded, err := d.Store.LoadBranchOutput(ctx, s.ID)
		if err != nil {
			return err
		}
		if loaded == nil {
			continue
		}
		results = append(results, merge.BranchResult{
			TokenID:     s.ID,
			BranchIndex: s.BranchIndex,
			Output:      condition.ResolveFlat(loaded, source),
		})
	}

	merged, err := merge.Apply(p.Strategy, results)
	if err != nil {
		return err
	}

	section, path, err := splitTarget(p.Target)
	if err != nil {
		return err
	}
	return d.Store.SetPath(ctx, section, path, merged)
}

func (d *Deps) applyCheckSynchronization(ctx context.Context, p *planning.CheckSynchronizationPayload) error {
	tr, ok := FindTransition(d.Def, p.TransitionID)
	if !ok {
		return fmt.Errorf("dispatch: unknown transition %q", p.TransitionID)
	}
	arriving, err := d.Store.GetToken(ctx, p.TokenID)
	if err != nil {
		return err
	}

	var siblings []*workflow.Token
	var existing *workflow.FanIn
	if arriving.SiblingGroup != "" {
		siblings, err = d.Store.ListBySiblingGroup(ctx, d.RunID, arriving.SiblingGroup)
		if err != nil {
			return err
		}
		existing, err = d.Store.GetFanIn(ctx, d.RunID, arriving.SiblingGroup)
		if err != nil {
			return err
		}
	}

	decisions, evts, err := planning.Check(tr, arriving, siblings, existing)
	if err != nil {
		return err
	}
	return d.Apply(ctx, decisions, evts)
}

func (d *Deps) applyActivateFanIn(ctx context.Context, p *planning.ActivateFanInPayload) error {
	won, err := d.Store.ActivateIfWaiting(ctx, p.RunID, p.FanInPath, p.ActivatorTokenID)
	if err != nil {
		return err
	}
	if !won {
		_, err := d.Store.UpdateTokenStatus(ctx, p.ActivatorTokenID, workflow.StatusCompleted, false)
		return err
	}

	siblings, err := d.Store.ListBySiblingGroup(ctx, d.RunID, p.SiblingGroup)
	if err != nil {
		return err
	}

	var dropIDs []string
	for _, s := range siblings {
		dropIDs = append(dropIDs, s.ID)
		if s.ID == p.ActivatorTokenID {
			continue
		}
		if s.Status == workflow.StatusWaitingForSiblings || !workflow.IsTerminal(s.Status) {
			// A straggler that never arrived (or is still mid-flight) didn't
			// complete — it timed out. Only the activator itself is completed,
			// below.
			if _, err := d.Store.UpdateTokenStatus(ctx, s.ID, workflow.StatusTimedOut, false); err != nil {
				return err
			}
		}
	}

	if p.Merge != nil {
		if err := d.applyMergeBranches(ctx, &planning.MergeBranchesPayload{
			SiblingGroup: p.SiblingGroup,
			Strategy:     p.Merge.Strategy,
			Source:       p.Merge.Source,
			Target:       p.Merge.Target,
		}); err != nil {
			return err
		}
	}

	for _, id := range dropIDs {
		if err := d.Store.DropBranchTable(ctx, id); err != nil {
			return err
		}
	}

	// Mark the activator completed — its own sibling token is done; the
	// run continues through a freshly created token at the fan-in's
	// downstream node.
	if _, err := d.Store.UpdateTokenStatus(ctx, p.ActivatorTokenID, workflow.StatusCompleted, false); err != nil {
		return err
	}

	activator, err := d.Store.GetToken(ctx, p.ActivatorTokenID)
	if err != nil {
		return err
	}

	proceeding := &workflow.Token{
		ID:              uuid.NewString(),
		RunID:           d.RunID,
		NodeID:          p.ProceedingNodeID,
		Status:          workflow.StatusPending,
		ParentTokenID:   activator.ID,
		PathID:          activator.PathID,
		SiblingGroup:    "",
		BranchIndex:     0,
		BranchTotal:     1,
		IterationCounts: activator.IterationCounts,
		CreatedAt:       time.Now(),
		UpdatedAt:       time.Now(),
	}
	return d.applyCreateToken(ctx, proceeding)
}

func (d *Deps) applyCompleteWorkflow(ctx context.Context, p *planning.CompleteWorkflowPayload) error {
	for target, value := range p.Output {
		if err := d.Store.SetPath(ctx, store.SectionOutput, target, value); err != nil {
			return err
		}
	}
	_, err := d.Store.FinalizeWorkflowStatus(ctx, d.RunID, workflow.WorkflowCompleted)
	return err
}

func splitTarget(target string) (store.Section, string, error) {
	for i := 0; i < len(target); i++ {
		if target[i] == '.' {
			prefix := target[:i]
			rest := target[i+1:]
			switch prefix {
			case "state":
				return store.SectionState, rest, nil
			case "output":
				return store.SectionOutput, rest, nil
			}
			break
		}
	}
	return "", "", fmt.Errorf("dispatch: context write target must be state.* or output.*, got %q", target)
}

// FindTransition scans every node's outbound transitions for transitionID.
// Definition only indexes transitions by source node, so lookups by id are
// linear; fine at the per-run scale this runs at.
func FindTransition(def *workflow.Definition, transitionID string) (*workflow.Transition, bool) {
	for _, transitions := range def.TransitionsFrom {
		for _, tr := range transitions {
			if tr.ID == transitionID {
				return tr, true
			}
		}
	}
	return nil, false
}
