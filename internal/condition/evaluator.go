package condition

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// Evaluator evaluates pre-compiled conditions against a three-section
// context, caching compiled programs by AST identity. The teacher's
// evaluator caches by normalized source string; since evaluation here never
// sees source (conditions arrive pre-parsed), the cache key is the *cel.Ast
// pointer instead.
type Evaluator struct {
	mu    sync.RWMutex
	cache map[*cel.Ast]cel.Program
}

// NewEvaluator creates a condition evaluator with an empty program cache.
func NewEvaluator() *Evaluator {
	return &Evaluator{
		cache: make(map[*cel.Ast]cel.Program),
	}
}

// Evaluate returns the boolean result of cond against ctx. A nil condition
// is always true. Unsupported expression shapes or a non-boolean result
// surface as an error (evaluation is never allowed to panic or guess).
func (e *Evaluator) Evaluate(cond *Condition, ctx *Context) (bool, error) {
	if cond == nil {
		return true, nil
	}

	prg, err := e.programFor(cond)
	if err != nil {
		return false, err
	}

	out, _, err := prg.Eval(map[string]interface{}{
		"input":  ctx.Input,
		"state":  ctx.State,
		"output": ctx.Output,
	})
	if err != nil {
		return false, fmt.Errorf("CEL evaluation error: %w", err)
	}

	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("condition did not evaluate to a boolean, got %T", out.Value())
	}
	return result, nil
}

// EvaluateValue returns the raw result of cond against ctx, for field
// mappings (input_mapping/output_mapping) rather than boolean conditions.
// A nil condition resolves to nil.
func (e *Evaluator) EvaluateValue(cond *Condition, ctx *Context) (interface{}, error) {
	if cond == nil {
		return nil, nil
	}

	prg, err := e.programFor(cond)
	if err != nil {
		return nil, err
	}

	out, _, err := prg.Eval(map[string]interface{}{
		"input":  ctx.Input,
		"state":  ctx.State,
		"output": ctx.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("CEL evaluation error: %w", err)
	}
	return out.Value(), nil
}

func (e *Evaluator) programFor(cond *Condition) (cel.Program, error) {
	e.mu.RLock()
	prg, ok := e.cache[cond.Program]
	e.mu.RUnlock()
	if ok {
		return prg, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if prg, ok := e.cache[cond.Program]; ok {
		return prg, nil
	}

	env, err := env()
	if err != nil {
		return nil, err
	}

	prg, err = env.Program(cond.Program)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}

	e.cache[cond.Program] = prg
	return prg, nil
}

// ClearCache empties the compiled program cache.
func (e *Evaluator) ClearCache() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cache = make(map[*cel.Ast]cel.Program)
}
