package main

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/lyzr/flowcore/internal/actor"
	"github.com/lyzr/flowcore/internal/alarm"
	"github.com/lyzr/flowcore/internal/clients"
	"github.com/lyzr/flowcore/internal/compiler"
	"github.com/lyzr/flowcore/internal/condition"
	"github.com/lyzr/flowcore/internal/dispatch"
	"github.com/lyzr/flowcore/internal/store"
)

// Registry holds the run actors live in this coordinator process. A run's
// actor is created lazily on its first start and stays resident for the
// run's lifetime — it owns the only connection to that run's SQLite file,
// per the per-run actor model. A coordinator restart loses residency for
// any in-flight run; re-hydrating from disk is not implemented (see
// DESIGN.md).
type Registry struct {
	mu       sync.Mutex
	runs     map[string]*actor.Run
	storeDir string

	catalog  clients.ResourceCatalog
	executor clients.Executor
	events   dispatch.Publisher
	alarm    alarm.Scheduler
	logger   actor.Logger
}

// NewRegistry builds an empty run registry.
func NewRegistry(storeDir string, catalog clients.ResourceCatalog, executor clients.Executor, events dispatch.Publisher, sched alarm.Scheduler, logger actor.Logger) *Registry {
	return &Registry{
		runs:     make(map[string]*actor.Run),
		storeDir: storeDir,
		catalog:  catalog,
		executor: executor,
		events:   events,
		alarm:    sched,
		logger:   logger,
	}
}

// Get returns the resident actor for runID, if any.
func (reg *Registry) Get(runID string) (*actor.Run, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	r, ok := reg.runs[runID]
	return r, ok
}

// GetOrCreate returns the resident actor for runID, fetching the run's
// workflow definition from the catalog and opening its store on first use.
func (reg *Registry) GetOrCreate(ctx context.Context, runID string) (*actor.Run, error) {
	reg.mu.Lock()
	if r, ok := reg.runs[runID]; ok {
		reg.mu.Unlock()
		return r, nil
	}
	reg.mu.Unlock()

	run, err := reg.catalog.GetWorkflowRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("fetch workflow run %s: %w", runID, err)
	}
	rawDef, err := reg.catalog.GetWorkflowDef(ctx, run.WorkflowID, "")
	if err != nil {
		return nil, fmt.Errorf("fetch workflow def %s: %w", run.WorkflowID, err)
	}
	def, err := compiler.Compile(rawDef)
	if err != nil {
		return nil, fmt.Errorf("compile workflow def %s: %w", run.WorkflowID, err)
	}

	s, err := store.Open(ctx, filepath.Join(reg.storeDir, runID+".db"), store.Config{WALMode: true})
	if err != nil {
		return nil, fmt.Errorf("open store for run %s: %w", runID, err)
	}

	deps := &dispatch.Deps{
		Store:    s,
		Def:      def,
		Executor: reg.executor,
		Alarm:    reg.alarm,
		Events:   reg.events,
		Eval:     condition.NewEvaluator(),
		RunID:    runID,
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()
	if r, ok := reg.runs[runID]; ok {
		s.Close()
		return r, nil
	}
	r := actor.New(runID, def, deps, reg.logger)
	reg.runs[runID] = r
	return r, nil
}
