// Package planning implements the pure half of the engine: given a context
// snapshot (and, for synchronization, sibling/fan-in state already fetched
// by the caller), it computes what should happen next as a list of
// Decisions and TraceEvents. It never touches a store or the executor
// directly — dispatch applies the decisions as effects. New tokens are
// stamped from the caller's now in Start and from time.Now() elsewhere.
package planning

import (
	"time"

	"github.com/lyzr/flowcore/internal/workflow"
)

// Kind discriminates the Decision tagged union. Dispatch matches
// exhaustively over these.
type Kind string

const (
	KindCreateToken          Kind = "CREATE_TOKEN"
	KindUpdateTokenStatus    Kind = "UPDATE_TOKEN_STATUS"
	KindMarkForDispatch      Kind = "MARK_FOR_DISPATCH"
	KindSetContext           Kind = "SET_CONTEXT"
	KindApplyOutput          Kind = "APPLY_OUTPUT"
	KindInitBranchTable      Kind = "INIT_BRANCH_TABLE"
	KindApplyBranchOutput    Kind = "APPLY_BRANCH_OUTPUT"
	KindMergeBranches        Kind = "MERGE_BRANCHES"
	KindDropBranchTables     Kind = "DROP_BRANCH_TABLES"
	KindCheckSynchronization Kind = "CHECK_SYNCHRONIZATION"
	KindActivateFanIn        Kind = "ACTIVATE_FAN_IN"
	KindMarkFanInTimedOut    Kind = "MARK_FAN_IN_TIMED_OUT"
	KindCompleteWorkflow     Kind = "COMPLETE_WORKFLOW"
	KindFailWorkflow         Kind = "FAIL_WORKFLOW"
)

// Decision is a tagged union over every state mutation the engine can
// request. Exactly one of the typed fields is populated, matching Kind.
type Decision struct {
	Kind Kind

	CreateToken          *CreateTokenPayload
	UpdateTokenStatus    *UpdateTokenStatusPayload
	MarkForDispatch      *MarkForDispatchPayload
	SetContext           *SetContextPayload
	ApplyOutput          *ApplyOutputPayload
	InitBranchTable      *InitBranchTablePayload
	ApplyBranchOutput    *ApplyBranchOutputPayload
	MergeBranches        *MergeBranchesPayload
	DropBranchTables     *DropBranchTablesPayload
	CheckSynchronization *CheckSynchronizationPayload
	ActivateFanIn        *ActivateFanInPayload
	MarkFanInTimedOut    *MarkFanInTimedOutPayload
	CompleteWorkflow     *CompleteWorkflowPayload
	FailWorkflow         *FailWorkflowPayload
}

// CreateTokenPayload carries every field routing computes for a new token.
type CreateTokenPayload struct {
	Token *workflow.Token
}

// UpdateTokenStatusPayload requests an idempotent status write. ArmFanIn is
// populated only when Status is waiting_for_siblings — it tells dispatch to
// also ensure a fan-in record exists and (re)arm the run's timeout alarm.
type UpdateTokenStatusPayload struct {
	TokenID      string
	Status       string
	SetArrivedAt bool
	ArmFanIn     *ArmFanInInfo
}

// ArmFanInInfo is dispatch's instruction to create-if-absent a fan-in
// record and schedule/refresh its timeout alarm.
type ArmFanInInfo struct {
	FanInPath      string
	NodeID         string
	TransitionID   string
	TimeoutMS      int64
	CreateIfAbsent bool
}

// MarkForDispatchPayload requests an executor enqueue for a task token.
type MarkForDispatchPayload struct {
	TokenID   string
	NodeID    string
	TimeoutMS int64
}

// SetContextPayload writes a single resolved value into state or output.
type SetContextPayload struct {
	Target string // "state.path" or "output.path"
	Value  interface{}
}

// ApplyOutputPayload writes a task's output_data into the output context,
// field by field per the node's output mapping.
type ApplyOutputPayload struct {
	TokenID string
	Fields  map[string]interface{} // target context path -> value
}

// InitBranchTablePayload requests creation of a fan-out child's branch table.
type InitBranchTablePayload struct {
	TokenID string
}

// ApplyBranchOutputPayload writes a completed sibling's output into its
// branch table.
type ApplyBranchOutputPayload struct {
	TokenID string
	Fields  map[string]interface{}
}

// MergeBranchesPayload requests the merge reducer run over a sibling group's
// branch outputs and the result written to Target.
type MergeBranchesPayload struct {
	SiblingGroup string
	Strategy     string
	Source       string
	Target       string
}

// DropBranchTablesPayload requests branch table cleanup for a sibling group.
type DropBranchTablesPayload struct {
	TokenIDs []string
}

// CheckSynchronizationPayload requests a synchronization check — emitted
// by routing when a token takes a transition with a synchronization config;
// dispatch fetches the siblings and fan-in record and runs Check.
type CheckSynchronizationPayload struct {
	TokenID      string
	TransitionID string
}

// ActivateFanInPayload names the winning token for a fan-in path and
// carries everything dispatch needs to run the activation cascade
// (marking still-active siblings timed_out, merging branch outputs,
// completing the activator, creating the one
// proceeding token) without re-deriving it from the definition.
type ActivateFanInPayload struct {
	RunID            string
	FanInPath        string
	TransitionID     string
	SiblingGroup     string
	ActivatorTokenID string
	ProceedingNodeID string
	Merge            *workflow.MergeConfig
}

// MarkFanInTimedOutPayload marks a fan-in record itself (not any one
// token) as timed_out.
type MarkFanInTimedOutPayload struct {
	RunID     string
	FanInPath string
}

// CompleteWorkflowPayload carries the extracted final output.
type CompleteWorkflowPayload struct {
	Output map[string]interface{}
}

// FailWorkflowPayload carries the failure reason and the terminal workflow
// status to finalize with. Status defaults to workflow.WorkflowFailed when
// empty; Cancel uses workflow.WorkflowCancelled instead.
type FailWorkflowPayload struct {
	Reason string
	Status string
}

// Event is a fire-and-forget trace event. Type values are drawn from
// decision.routing.*, decision.synchronization.*, decision.completion.*,
// decision.lifecycle.*, operation.tokens.*, operation.context.*.
type Event struct {
	Type    string
	Payload map[string]interface{}
}

func newToken(id, runID, nodeID, status, parentID, pathID, siblingGroup string, branchIndex, branchTotal int, iterationCounts map[string]int, now time.Time) *workflow.Token {
	return &workflow.Token{
		ID:              id,
		RunID:           runID,
		NodeID:          nodeID,
		Status:          status,
		ParentTokenID:   parentID,
		PathID:          pathID,
		SiblingGroup:    siblingGroup,
		BranchIndex:     branchIndex,
		BranchTotal:     branchTotal,
		IterationCounts: iterationCounts,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}
