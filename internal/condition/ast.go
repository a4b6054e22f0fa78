// Package condition evaluates pre-parsed condition ASTs against the
// three-section run context (input, state, output) and resolves dotted
// paths into it. Expression-language design is out of scope: Compile is a
// one-time, upstream step (test fixtures and the definition loader), never
// called from the evaluation hot path.
package condition

import (
	"fmt"

	"github.com/google/cel-go/cel"
)

// Condition is the pre-parsed expression AST referenced throughout routing,
// synchronization guards, and field mappings. A nil *Condition means "true".
type Condition struct {
	Program *cel.Ast
}

var sharedEnv *cel.Env

func env() (*cel.Env, error) {
	if sharedEnv != nil {
		return sharedEnv, nil
	}
	e, err := cel.NewEnv(
		cel.Variable("input", cel.DynType),
		cel.Variable("state", cel.DynType),
		cel.Variable("output", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL env: %w", err)
	}
	sharedEnv = e
	return sharedEnv, nil
}

// Compile parses and type-checks a CEL source expression into a Condition.
// Used by the definition loader and test fixtures to produce the AST ahead
// of time; never called during routing/synchronization evaluation.
func Compile(source string) (*Condition, error) {
	e, err := env()
	if err != nil {
		return nil, err
	}

	ast, issues := e.Compile(source)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("CEL compilation error: %w", issues.Err())
	}

	return &Condition{Program: ast}, nil
}
