package clients

import (
	"context"
	"sync"
)

// FakeExecutor records dispatches in memory and optionally auto-completes
// them via a callback, for planning/dispatch tests and the coordinatorctl
// demo where no live executor process is available.
type FakeExecutor struct {
	mu        sync.Mutex
	Dispatched []DispatchRequest
	onDispatch func(DispatchRequest)
}

// NewFakeExecutor creates a FakeExecutor. onDispatch, if non-nil, runs
// synchronously after recording each dispatch (e.g. to feed onTaskResult
// back into a run actor under test).
func NewFakeExecutor(onDispatch func(DispatchRequest)) *FakeExecutor {
	return &FakeExecutor{onDispatch: onDispatch}
}

// Dispatch records the request and invokes the configured callback.
func (f *FakeExecutor) Dispatch(ctx context.Context, req DispatchRequest) error {
	f.mu.Lock()
	f.Dispatched = append(f.Dispatched, req)
	cb := f.onDispatch
	f.mu.Unlock()

	if cb != nil {
		cb(req)
	}
	return nil
}

// Calls returns a snapshot of recorded dispatch requests.
func (f *FakeExecutor) Calls() []DispatchRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]DispatchRequest, len(f.Dispatched))
	copy(out, f.Dispatched)
	return out
}

// FakeCatalog serves workflow definitions and runs from an in-memory map.
type FakeCatalog struct {
	mu    sync.Mutex
	Defs  map[string]*WorkflowDef
	Runs  map[string]*WorkflowRun
}

// NewFakeCatalog creates an empty FakeCatalog.
func NewFakeCatalog() *FakeCatalog {
	return &FakeCatalog{
		Defs: make(map[string]*WorkflowDef),
		Runs: make(map[string]*WorkflowRun),
	}
}

// PutDef registers a workflow definition for later lookup.
func (f *FakeCatalog) PutDef(def *WorkflowDef) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Defs[def.ID] = def
}

// PutRun registers run metadata for later lookup.
func (f *FakeCatalog) PutRun(run *WorkflowRun) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Runs[run.ID] = run
}

// GetWorkflowDef returns the registered definition, ignoring version (the
// fake keeps a single definition per id).
func (f *FakeCatalog) GetWorkflowDef(ctx context.Context, id, version string) (*WorkflowDef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	def, ok := f.Defs[id]
	if !ok {
		return nil, errNotFound("workflow def", id)
	}
	return def, nil
}

// GetWorkflowRun returns the registered run metadata.
func (f *FakeCatalog) GetWorkflowRun(ctx context.Context, id string) (*WorkflowRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	run, ok := f.Runs[id]
	if !ok {
		return nil, errNotFound("workflow run", id)
	}
	return run, nil
}

type notFoundError struct {
	kind string
	id   string
}

func (e *notFoundError) Error() string {
	return e.kind + " not found: " + e.id
}

func errNotFound(kind, id string) error {
	return &notFoundError{kind: kind, id: id}
}
