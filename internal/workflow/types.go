// Package workflow holds the data model shared by condition, merge,
// planning, dispatch, store, and actor: workflow definitions, tokens,
// transitions, fan-in records, and workflow status.
package workflow

import (
	"time"

	"github.com/lyzr/flowcore/internal/condition"
)

// Token status values. Terminal: Completed, Failed, TimedOut, Cancelled.
const (
	StatusPending               = "pending"
	StatusDispatched            = "dispatched"
	StatusExecuting             = "executing"
	StatusWaitingForSiblings    = "waiting_for_siblings"
	StatusWaitingForSubworkflow = "waiting_for_subworkflow"
	StatusCompleted             = "completed"
	StatusFailed                = "failed"
	StatusTimedOut              = "timed_out"
	StatusCancelled             = "cancelled"
)

// ActiveStatuses lists the non-terminal token statuses consulted by the
// completion check.
var ActiveStatuses = []string{
	StatusPending,
	StatusDispatched,
	StatusExecuting,
	StatusWaitingForSiblings,
	StatusWaitingForSubworkflow,
}

// IsTerminal reports whether status is one of the four terminal states.
func IsTerminal(status string) bool {
	switch status {
	case StatusCompleted, StatusFailed, StatusTimedOut, StatusCancelled:
		return true
	default:
		return false
	}
}

// Fan-in record status values.
const (
	FanInWaiting   = "waiting"
	FanInActivated = "activated"
	FanInTimedOut  = "timed_out"
)

// Workflow status values.
const (
	WorkflowRunning   = "running"
	WorkflowCompleted = "completed"
	WorkflowFailed    = "failed"
	WorkflowTimedOut  = "timed_out"
	WorkflowCancelled = "cancelled"
)

// IsWorkflowTerminal reports whether a workflow status is final.
func IsWorkflowTerminal(status string) bool {
	switch status {
	case WorkflowCompleted, WorkflowFailed, WorkflowTimedOut, WorkflowCancelled:
		return true
	default:
		return false
	}
}

// NodeKind distinguishes task nodes (dispatched to the executor) from pure
// control-flow nodes reached only via routing.
type NodeKind string

const (
	NodeKindTask        NodeKind = "task"
	NodeKindSubworkflow NodeKind = "subworkflow"
	NodeKindControl     NodeKind = "control"
)

// FieldMapping maps a target context path to a source expression evaluated
// against the three-section context (input mapping on dispatch, output
// mapping on completion).
type FieldMapping struct {
	Target string
	Source *condition.Condition
}

// Node is one vertex of the workflow graph.
type Node struct {
	ID            string
	Kind          NodeKind
	TaskRef       string
	InputMapping  []FieldMapping
	OutputMapping []FieldMapping
	RetryBudget   int // retryable task failures re-dispatch up to this many times; 0 uses the actor's default
}

// OnTimeout names what happens when a fan-in's alarm fires unsatisfied.
type OnTimeout string

const (
	OnTimeoutProceedWithAvailable OnTimeout = "proceed_with_available"
	OnTimeoutFail                 OnTimeout = "fail"
)

// SyncStrategy names a fan-in synchronization policy.
type SyncStrategy string

const (
	SyncAll  SyncStrategy = "all"
	SyncAny  SyncStrategy = "any"
	SyncMOfN SyncStrategy = "m_of_n"
)

// MergeConfig describes how branch outputs collapse into a context value
// once a fan-in activates.
type MergeConfig struct {
	Source   string // field inside each branch row, default "_branch.output"
	Target   string // context path in state or output
	Strategy string // append|collect|merge_object|keyed_by_branch|last_wins
}

// Synchronization configures a fan-in transition.
type Synchronization struct {
	Strategy     SyncStrategy
	SiblingGroup string
	MOfN         int // used when Strategy == SyncMOfN
	TimeoutMS    int64
	OnTimeout    OnTimeout
	Merge        *MergeConfig
}

// LoopConfig bounds a self-transition's iteration count.
type LoopConfig struct {
	MaxIterations int
}

// Transition is one directed edge of the workflow graph.
type Transition struct {
	ID              string
	Ref             string
	From            string
	To              string
	Priority        int
	Condition       *condition.Condition
	SpawnCount      int    // mutually exclusive with Foreach; 0 means unset
	Foreach         string // collection path; mutually exclusive with SpawnCount
	SiblingGroup    string
	Synchronization *Synchronization
	Loop            *LoopConfig
}

// Definition is the read-only per-run workflow graph.
type Definition struct {
	ID              string
	Version         string
	InitialNodeID   string
	Nodes           map[string]*Node
	TransitionsFrom map[string][]*Transition // node id -> outbound transitions
	InputSchema     []byte                   // raw JSON schema, validated at Start
	OutputMapping   []FieldMapping
}

// Node looks up a node by id.
func (d *Definition) Node(id string) (*Node, bool) {
	n, ok := d.Nodes[id]
	return n, ok
}

// Outbound returns the transitions leaving a node, grouped ascending by
// priority by the caller (routing.go does the grouping).
func (d *Definition) Outbound(nodeID string) []*Transition {
	return d.TransitionsFrom[nodeID]
}

// Token is a position-in-the-graph record.
type Token struct {
	ID              string
	RunID           string
	NodeID          string
	Status          string
	ParentTokenID   string
	PathID          string
	SiblingGroup    string
	BranchIndex     int
	BranchTotal     int
	IterationCounts map[string]int
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ArrivedAt       *time.Time
}

// FanIn is a synchronization record, unique per (run_id, fan_in_path).
type FanIn struct {
	ID                 string
	RunID              string
	NodeID             string
	FanInPath          string
	Status             string
	TransitionID       string
	FirstArrivalAt     time.Time
	ActivatedAt        *time.Time
	ActivatedByTokenID string
}

// Subworkflow links a parent token to a spawned child run.
type Subworkflow struct {
	ID               string
	RunID            string
	ParentTokenID    string
	SubworkflowRunID string
	Status           string
	TimeoutMS        int64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// TaskOutcome is the payload of onTaskResult.
type TaskOutcome struct {
	Success bool
	Output  map[string]interface{}
	Error   *TaskError
}

// TaskError describes a failed task outcome.
type TaskError struct {
	Type      string
	StepRef   string
	Message   string
	Retryable bool
}
