// Command coordinatorctl drives the six end-to-end scenarios this engine is
// built against, entirely in-process against clients.FakeExecutor and
// compiler.Compile — no live executor or catalog service required. It is a
// demo and smoke-check, not the production entry point (that's
// cmd/coordinator).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lyzr/flowcore/internal/actor"
	"github.com/lyzr/flowcore/internal/alarm"
	"github.com/lyzr/flowcore/internal/clients"
	"github.com/lyzr/flowcore/internal/compiler"
	"github.com/lyzr/flowcore/internal/condition"
	"github.com/lyzr/flowcore/internal/dispatch"
	"github.com/lyzr/flowcore/internal/events"
	"github.com/lyzr/flowcore/internal/store"
	"github.com/lyzr/flowcore/internal/workflow"
)

type cliLogger struct{ name string }

func (l cliLogger) Info(msg string, args ...any)  { fmt.Printf("[%s] INFO  %s %v\n", l.name, msg, args) }
func (l cliLogger) Warn(msg string, args ...any)  { fmt.Printf("[%s] WARN  %s %v\n", l.name, msg, args) }
func (l cliLogger) Error(msg string, args ...any) { fmt.Printf("[%s] ERROR %s %v\n", l.name, msg, args) }
func (l cliLogger) Debug(msg string, args ...any) {}

func main() {
	only := flag.String("scenario", "", "run a single scenario by name instead of all six")
	flag.Parse()

	all := scenarios()
	if *only != "" {
		var filtered []scenario
		for _, sc := range all {
			if sc.name == *only {
				filtered = append(filtered, sc)
			}
		}
		if len(filtered) == 0 {
			fmt.Fprintf(os.Stderr, "unknown scenario %q\n", *only)
			os.Exit(1)
		}
		all = filtered
	}

	// Scenarios are mutually independent runs; driving them concurrently
	// exercises the per-run isolation the actor model is built on.
	g, ctx := errgroup.WithContext(context.Background())
	var mu sync.Mutex
	failures := 0

	for _, sc := range all {
		sc := sc
		g.Go(func() error {
			if err := runScenario(ctx, sc); err != nil {
				mu.Lock()
				failures++
				mu.Unlock()
				fmt.Printf("[%s] FAILED: %v\n", sc.name, err)
				return nil // don't cancel sibling scenarios over one failure
			}
			return nil
		})
	}
	_ = g.Wait()

	if failures > 0 {
		os.Exit(1)
	}
}

func runScenario(ctx context.Context, sc scenario) error {
	def, err := compiler.Compile(sc.def)
	if err != nil {
		return fmt.Errorf("compile: %w", err)
	}

	s, err := store.Open(ctx, ":memory:", store.Config{})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer s.Close()

	log := cliLogger{name: sc.name}
	runID := "demo-" + sc.name

	var run *actor.Run
	sched := alarm.NewMemoryScheduler(func(f alarm.Fired) {
		if run != nil {
			_ = run.OnTimeoutAlarm(context.Background())
		}
	})

	deps := &dispatch.Deps{
		Store:    s,
		Def:      def,
		Executor: clients.NewFakeExecutor(nil),
		Alarm:    sched,
		Events:   events.NewRecorder(),
		Eval:     condition.NewEvaluator(),
		RunID:    runID,
	}
	run = actor.New(runID, def, deps, log)
	defer run.Close()

	exec := deps.Executor.(*clients.FakeExecutor)

	if err := run.Start(ctx, sc.input); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	answered := make(map[string]bool)
	votes := []string{"A", "B", "A", "B", "A"}
	voteIdx := 0
	workersAnswered := 0

	// Drive dispatched tasks to completion in rounds until the workflow
	// reaches a terminal status or the executor goes quiet. The timeout
	// scenario deliberately leaves one sibling unanswered so its fan-in
	// times out and proceeds with what arrived.
	for round := 0; round < 10; round++ {
		status, err := s.GetWorkflowStatus(ctx, runID)
		if err != nil {
			return fmt.Errorf("get status: %w", err)
		}
		if status != "" && status != workflow.WorkflowRunning {
			break
		}

		progressed := false
		for _, call := range exec.Calls() {
			if answered[call.Correlation] {
				continue
			}
			if sc.name == "timeout-proceed-with-available" && call.TaskRef.StepRef == "worker" && workersAnswered >= 2 {
				// leave the third worker unanswered so its fan-in times out
				continue
			}

			output := map[string]interface{}{}
			switch call.TaskRef.StepRef {
			case "judge":
				output["vote"] = votes[voteIdx%len(votes)]
				voteIdx++
			case "worker":
				workersAnswered++
			case "step-a":
				if sc.name == "conditional-priority" {
					output["score"] = 85.0
				}
			}

			answered[call.Correlation] = true
			if err := run.OnTaskResult(ctx, call.Correlation, &workflow.TaskOutcome{Success: true, Output: output}); err != nil {
				return fmt.Errorf("task result: %w", err)
			}
			progressed = true
		}

		if sc.name == "timeout-proceed-with-available" && !progressed {
			time.Sleep(150 * time.Millisecond)
		} else if !progressed {
			break
		}
	}

	status, err := s.GetWorkflowStatus(ctx, runID)
	if err != nil {
		return fmt.Errorf("final status: %w", err)
	}
	fmt.Printf("[%s] final status: %s\n", sc.name, status)
	return nil
}
