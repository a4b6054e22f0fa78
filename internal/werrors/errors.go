// Package werrors defines the typed error kinds planning, dispatch, and the
// run actor surface to callers (see error handling design).
package werrors

import "errors"

// Sentinel kinds. Use errors.Is against these, or errors.As against the
// wrapping types below when a kind carries structured fields.
var (
	// ErrValidation: input violates schema. Fails start before any token is created.
	ErrValidation = errors.New("validation error")
	// ErrEvaluation: condition or mapping AST references an unsupported construct.
	ErrEvaluation = errors.New("evaluation error")
	// ErrTaskFailure: a task result reported failure.
	ErrTaskFailure = errors.New("task failure")
	// ErrSynchronizationTimeout: a fan-in alarm fired with on_timeout=fail.
	ErrSynchronizationTimeout = errors.New("synchronization timeout")
	// ErrMerge: unknown merge strategy.
	ErrMerge = errors.New("merge error")
	// ErrConcurrencyConflict: a benign fan-in race loss. Never surfaced to callers.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	// ErrDefinition: a node or transition referenced at runtime is missing.
	ErrDefinition = errors.New("definition error")
)

// ValidationError wraps ErrValidation with the schema violation detail.
type ValidationError struct {
	Detail string
}

func (e *ValidationError) Error() string { return "validation error: " + e.Detail }
func (e *ValidationError) Unwrap() error { return ErrValidation }

// EvaluationError wraps ErrEvaluation with the offending expression context.
type EvaluationError struct {
	Expr   string
	Detail string
}

func (e *EvaluationError) Error() string {
	return "evaluation error: " + e.Detail + " (expr: " + e.Expr + ")"
}
func (e *EvaluationError) Unwrap() error { return ErrEvaluation }

// TaskFailure wraps ErrTaskFailure with the reported error.
type TaskFailure struct {
	Type       string
	StepRef    string
	Message    string
	Retryable  bool
}

func (e *TaskFailure) Error() string { return "task failure: " + e.Message }
func (e *TaskFailure) Unwrap() error { return ErrTaskFailure }

// MergeError wraps ErrMerge with the unknown strategy name.
type MergeError struct {
	Strategy string
}

func (e *MergeError) Error() string { return "merge error: unknown strategy " + e.Strategy }
func (e *MergeError) Unwrap() error { return ErrMerge }

// DefinitionError wraps ErrDefinition with the missing reference.
type DefinitionError struct {
	Kind string // "node", "transition" or "token"
	ID   string
}

func (e *DefinitionError) Error() string { return "definition error: missing " + e.Kind + " " + e.ID }
func (e *DefinitionError) Unwrap() error { return ErrDefinition }

// SynchronizationTimeoutError wraps ErrSynchronizationTimeout with the path.
type SynchronizationTimeoutError struct {
	FanInPath string
}

func (e *SynchronizationTimeoutError) Error() string {
	return "synchronization timeout on " + e.FanInPath
}
func (e *SynchronizationTimeoutError) Unwrap() error { return ErrSynchronizationTimeout }
