// Package actor hosts the per-run actor: the single addressable unit that
// owns one run's store connection and workflow definition, and serializes
// every mutating entry point onto one goroutine so planning and dispatch
// never race against themselves within a run.
package actor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/lyzr/flowcore/internal/condition"
	"github.com/lyzr/flowcore/internal/dispatch"
	"github.com/lyzr/flowcore/internal/planning"
	"github.com/lyzr/flowcore/internal/store"
	"github.com/lyzr/flowcore/internal/werrors"
	"github.com/lyzr/flowcore/internal/workflow"
)

const defaultRetryBudget = 3

// Logger is the subset of *logger.Logger the actor needs.
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
	Debug(msg string, args ...any)
}

// Run is the per-run actor. Every public method enqueues its work onto a
// single-goroutine inbox and blocks the caller until it finishes — entry
// points present a synchronous call shape while actually running one at a
// time per run, per the concurrency model.
type Run struct {
	ID     string
	def    *workflow.Definition
	deps   *dispatch.Deps
	logger Logger

	inbox chan func()
	done  chan struct{}
	once  sync.Once

	retries map[string]int // token id -> retryable failures seen so far
}

// New builds a run actor and starts its inbox goroutine. Close must be
// called once the run is finalized to release the goroutine.
func New(id string, def *workflow.Definition, deps *dispatch.Deps, logger Logger) *Run {
	r := &Run{
		ID:      id,
		def:     def,
		deps:    deps,
		logger:  logger,
		inbox:   make(chan func(), 64),
		done:    make(chan struct{}),
		retries: make(map[string]int),
	}
	go r.loop()
	return r
}

func (r *Run) loop() {
	for {
		select {
		case fn, ok := <-r.inbox:
			if !ok {
				return
			}
			fn()
		case <-r.done:
			return
		}
	}
}

// Close stops the inbox goroutine. Entries already queued are dropped.
func (r *Run) Close() {
	r.once.Do(func() { close(r.done) })
}

func (r *Run) submit(fn func() error) error {
	errCh := make(chan error, 1)
	select {
	case r.inbox <- func() { errCh <- fn() }:
	case <-r.done:
		return fmt.Errorf("run %s: actor closed", r.ID)
	}
	select {
	case err := <-errCh:
		return err
	case <-r.done:
		return fmt.Errorf("run %s: actor closed while processing", r.ID)
	}
}

// Start validates input against the workflow's schema, seeds the input
// context, creates the root token, and dispatches it. Returns once the
// initial dispatch is scheduled.
func (r *Run) Start(ctx context.Context, input map[string]interface{}) error {
	return r.submit(func() error {
		if len(r.def.InputSchema) > 0 {
			if err := validateInput(r.def.InputSchema, input); err != nil {
				return err
			}
		}
		if err := r.deps.Store.InitWorkflowStatus(ctx, r.ID); err != nil {
			return err
		}
		for k, v := range input {
			if err := r.deps.Store.SetPath(ctx, store.SectionInput, k, v); err != nil {
				return err
			}
		}

		decisions, events := planning.Start(r.def, r.ID, time.Now())
		return r.deps.Apply(ctx, decisions, events)
	})
}

// OnTaskResult processes a task's reported outcome. Idempotent by token id:
// a token already in a terminal state makes this a no-op, since the host
// may deliver the same result more than once.
func (r *Run) OnTaskResult(ctx context.Context, tokenID string, outcome *workflow.TaskOutcome) error {
	return r.submit(func() error {
		tok, err := r.deps.Store.GetToken(ctx, tokenID)
		if err != nil {
			return err
		}
		if workflow.IsTerminal(tok.Status) {
			return nil
		}

		node, ok := r.def.Node(tok.NodeID)
		if !ok {
			return &werrors.DefinitionError{Kind: "node", ID: tok.NodeID}
		}

		if !outcome.Success && outcome.Error != nil && outcome.Error.Retryable && r.underRetryBudget(node, tokenID) {
			r.retries[tokenID]++
			r.logger.Warn("retrying task", "token_id", tokenID, "node_id", tok.NodeID, "attempt", r.retries[tokenID])
			retryDecision := planning.Decision{Kind: planning.KindMarkForDispatch, MarkForDispatch: &planning.MarkForDispatchPayload{
				TokenID: tokenID, NodeID: tok.NodeID,
			}}
			return r.deps.Apply(ctx, []planning.Decision{retryDecision}, []planning.Event{{
				Type: "operation.tokens.retried",
				Payload: map[string]interface{}{
					"token_id": tokenID, "node_id": tok.NodeID, "attempt": r.retries[tokenID],
				},
			}})
		}

		ctxSnapshot, err := r.loadContext(ctx)
		if err != nil {
			return err
		}

		decisions, events, err := planning.CompleteTask(node, tok, outcome, ctxSnapshot, r.deps.Eval)
		if err != nil {
			return err
		}
		if err := r.deps.Apply(ctx, decisions, events); err != nil {
			return err
		}

		if !outcome.Success {
			return r.failWorkflow(ctx, fmt.Sprintf("task %s failed: %s", tok.NodeID, outcome.Error.Message))
		}
		return r.continueAfterCompletion(ctx, tokenID)
	})
}

// underRetryBudget reports whether tokenID has not yet exhausted its
// node's retry budget. A node's RetryBudget of 0 falls back to
// defaultRetryBudget.
func (r *Run) underRetryBudget(node *workflow.Node, tokenID string) bool {
	budget := node.RetryBudget
	if budget <= 0 {
		budget = defaultRetryBudget
	}
	return r.retries[tokenID] < budget
}

// OnSubworkflowResult processes a child run's completion, completing the
// parent token that spawned it with the child's outcome and routing on.
func (r *Run) OnSubworkflowResult(ctx context.Context, subworkflowRunID string, outcome *workflow.TaskOutcome) error {
	return r.submit(func() error {
		parentTokenID, status, err := r.deps.Store.GetSubworkflowByRunID(ctx, subworkflowRunID)
		if err != nil {
			return err
		}
		if status == workflow.WorkflowCompleted || status == workflow.WorkflowFailed || status == workflow.WorkflowCancelled {
			return nil // already resolved, outcome delivered again
		}

		newStatus := workflow.WorkflowCompleted
		if !outcome.Success {
			newStatus = workflow.WorkflowFailed
		}
		if err := r.deps.Store.UpdateSubworkflowStatus(ctx, subworkflowRunID, newStatus); err != nil {
			return err
		}

		tok, err := r.deps.Store.GetToken(ctx, parentTokenID)
		if err != nil {
			return err
		}
		if workflow.IsTerminal(tok.Status) {
			return nil
		}

		node, ok := r.def.Node(tok.NodeID)
		if !ok {
			return &werrors.DefinitionError{Kind: "node", ID: tok.NodeID}
		}

		ctxSnapshot, err := r.loadContext(ctx)
		if err != nil {
			return err
		}
		decisions, events, err := planning.CompleteTask(node, tok, outcome, ctxSnapshot, r.deps.Eval)
		if err != nil {
			return err
		}
		if err := r.deps.Apply(ctx, decisions, events); err != nil {
			return err
		}

		if !outcome.Success {
			return r.failWorkflow(ctx, fmt.Sprintf("subworkflow for %s failed: %s", tok.NodeID, outcome.Error.Message))
		}
		return r.continueAfterCompletion(ctx, parentTokenID)
	})
}

// OnTimeoutAlarm re-evaluates every fan-in still waiting in this run,
// proceeding with available siblings or failing per on_timeout.
func (r *Run) OnTimeoutAlarm(ctx context.Context) error {
	return r.submit(func() error {
		waiting, err := r.deps.Store.ListWaitingFanIns(ctx, r.ID)
		if err != nil {
			return err
		}

		for _, fi := range waiting {
			tr, ok := dispatch.FindTransition(r.def, fi.TransitionID)
			if !ok {
				continue
			}
			siblings, err := r.deps.Store.ListBySiblingGroup(ctx, r.ID, fi.FanInPath)
			if err != nil {
				return err
			}

			oldest, found := store.OldestArrivalAmong(siblings)
			if found && time.Since(oldest) < time.Duration(tr.Synchronization.TimeoutMS)*time.Millisecond {
				continue // not actually due yet; the oldest arrival is still within timeout_ms
			}

			decisions, events := planning.HandleTimeout(fi, tr.Synchronization, siblings)
			if err := r.deps.Apply(ctx, decisions, events); err != nil {
				return err
			}
		}
		return nil
	})
}

// Cancel transitions every active token to cancelled and finalizes the
// workflow as cancelled. Idempotent.
func (r *Run) Cancel(ctx context.Context, reason string) error {
	return r.submit(func() error {
		active, err := r.deps.Store.ListActiveByRun(ctx, r.ID)
		if err != nil {
			return err
		}
		ids := make([]string, len(active))
		for i, t := range active {
			ids[i] = t.ID
		}

		decisions, events := planning.Cancel(ids)
		return r.deps.Apply(ctx, decisions, events)
	})
}

// continueAfterCompletion routes a just-completed token onward and, if no
// active tokens remain anywhere in the run, finalizes it.
func (r *Run) continueAfterCompletion(ctx context.Context, tokenID string) error {
	tok, err := r.deps.Store.GetToken(ctx, tokenID)
	if err != nil {
		return err
	}

	ctxSnapshot, err := r.loadContext(ctx)
	if err != nil {
		return err
	}

	decisions, events, err := planning.Route(r.def, tok, ctxSnapshot, r.deps.Eval)
	if err != nil {
		return err
	}
	if err := r.deps.Apply(ctx, decisions, events); err != nil {
		return err
	}

	active, err := r.deps.Store.CountActiveByRun(ctx, r.ID)
	if err != nil {
		return err
	}

	finalCtx, err := r.loadContext(ctx)
	if err != nil {
		return err
	}
	completionDecisions, completionEvents, err := planning.CheckCompletion(r.def, finalCtx, r.deps.Eval, active)
	if err != nil {
		return err
	}
	return r.deps.Apply(ctx, completionDecisions, completionEvents)
}

func (r *Run) failWorkflow(ctx context.Context, reason string) error {
	active, err := r.deps.Store.ListActiveByRun(ctx, r.ID)
	if err != nil {
		return err
	}
	ids := make([]string, len(active))
	for i, t := range active {
		ids[i] = t.ID
	}
	decisions, events := planning.Fail(reason, ids)
	return r.deps.Apply(ctx, decisions, events)
}

func (r *Run) loadContext(ctx context.Context) (*condition.Context, error) {
	input, err := r.deps.Store.LoadSection(ctx, store.SectionInput)
	if err != nil {
		return nil, err
	}
	state, err := r.deps.Store.LoadSection(ctx, store.SectionState)
	if err != nil {
		return nil, err
	}
	output, err := r.deps.Store.LoadSection(ctx, store.SectionOutput)
	if err != nil {
		return nil, err
	}
	return &condition.Context{Input: input, State: state, Output: output}, nil
}

func validateInput(schema []byte, input map[string]interface{}) error {
	result, err := gojsonschema.Validate(gojsonschema.NewBytesLoader(schema), gojsonschema.NewGoLoader(input))
	if err != nil {
		return &werrors.ValidationError{Detail: err.Error()}
	}
	if !result.Valid() {
		detail := ""
		for i, e := range result.Errors() {
			if i > 0 {
				detail += "; "
			}
			detail += e.String()
		}
		return &werrors.ValidationError{Detail: detail}
	}
	return nil
}
