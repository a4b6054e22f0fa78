package planning

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lyzr/flowcore/internal/workflow"
)

func TestCheckGuardMismatchIsOrdinaryContinuation(t *testing.T) {
	tr := &workflow.Transition{
		ID: "t-sync", From: "J", To: "M",
		Synchronization: &workflow.Synchronization{Strategy: workflow.SyncAll, SiblingGroup: "judges"},
	}
	arriving := &workflow.Token{ID: "solo", RunID: "r1", SiblingGroup: "", IterationCounts: map[string]int{}}

	decisions, events, err := Check(tr, arriving, nil, nil)
	require.NoError(t, err)
	require.Len(t, decisions, 1)
	require.Equal(t, KindCreateToken, decisions[0].Kind)
	require.Equal(t, "M", decisions[0].CreateToken.Token.NodeID)
	require.Equal(t, "decision.synchronization.guard_mismatch", events[0].Type)
}

func TestCheckAllStrategyWaitsUntilEveryoneTerminal(t *testing.T) {
	tr := &workflow.Transition{
		ID: "t-sync", From: "J", To: "M",
		Synchronization: &workflow.Synchronization{Strategy: workflow.SyncAll, SiblingGroup: "judges", TimeoutMS: 5000},
	}
	arriving := &workflow.Token{ID: "t1", RunID: "r1", SiblingGroup: "judges"}
	siblings := []*workflow.Token{
		{ID: "t1", SiblingGroup: "judges", Status: workflow.StatusCompleted},
		{ID: "t2", SiblingGroup: "judges", Status: workflow.StatusExecuting},
		{ID: "t3", SiblingGroup: "judges", Status: workflow.StatusExecuting},
	}

	decisions, events, err := Check(tr, arriving, siblings, nil)
	require.NoError(t, err)
	require.Len(t, decisions, 1)
	require.Equal(t, KindUpdateTokenStatus, decisions[0].Kind)
	require.Equal(t, workflow.StatusWaitingForSiblings, decisions[0].UpdateTokenStatus.Status)
	require.NotNil(t, decisions[0].UpdateTokenStatus.ArmFanIn)
	require.True(t, decisions[0].UpdateTokenStatus.ArmFanIn.CreateIfAbsent)
	require.Equal(t, "decision.synchronization.waiting", events[0].Type)
}

func TestCheckAllStrategySatisfiedActivates(t *testing.T) {
	tr := &workflow.Transition{
		ID: "t-sync", From: "J", To: "M",
		Synchronization: &workflow.Synchronization{
			Strategy: workflow.SyncAll, SiblingGroup: "judges",
			Merge: &workflow.MergeConfig{Target: "state.votes", Strategy: "collect"},
		},
	}
	arriving := &workflow.Token{ID: "t3", RunID: "r1", SiblingGroup: "judges"}
	siblings := []*workflow.Token{
		{ID: "t1", SiblingGroup: "judges", Status: workflow.StatusCompleted},
		{ID: "t2", SiblingGroup: "judges", Status: workflow.StatusCompleted},
		{ID: "t3", SiblingGroup: "judges", Status: workflow.StatusCompleted},
	}

	decisions, events, err := Check(tr, arriving, siblings, nil)
	require.NoError(t, err)
	require.Len(t, decisions, 1)
	require.Equal(t, KindActivateFanIn, decisions[0].Kind)
	require.Equal(t, "t3", decisions[0].ActivateFanIn.ActivatorTokenID)
	require.Equal(t, "M", decisions[0].ActivateFanIn.ProceedingNodeID)
	require.NotNil(t, decisions[0].ActivateFanIn.Merge)
	require.Equal(t, "decision.synchronization.activation_attempted", events[0].Type)
}

func TestCheckLosesRaceWhenFanInAlreadyActivated(t *testing.T) {
	tr := &workflow.Transition{
		ID: "t-sync", From: "J", To: "M",
		Synchronization: &workflow.Synchronization{Strategy: workflow.SyncAny, SiblingGroup: "judges"},
	}
	arriving := &workflow.Token{ID: "t2", RunID: "r1", SiblingGroup: "judges"}
	siblings := []*workflow.Token{
		{ID: "t1", SiblingGroup: "judges", Status: workflow.StatusCompleted},
		{ID: "t2", SiblingGroup: "judges", Status: workflow.StatusCompleted},
	}
	existing := &workflow.FanIn{ID: "f1", RunID: "r1", FanInPath: "judges", Status: workflow.FanInActivated, ActivatedByTokenID: "t1"}

	decisions, events, err := Check(tr, arriving, siblings, existing)
	require.NoError(t, err)
	require.Len(t, decisions, 1)
	require.Equal(t, KindUpdateTokenStatus, decisions[0].Kind)
	require.Equal(t, workflow.StatusCompleted, decisions[0].UpdateTokenStatus.Status)
	require.Equal(t, "decision.synchronization.lost_race", events[0].Type)
}

func TestCheckMOfNStrategy(t *testing.T) {
	tr := &workflow.Transition{
		ID: "t-sync", From: "J", To: "M",
		Synchronization: &workflow.Synchronization{Strategy: workflow.SyncMOfN, MOfN: 2, SiblingGroup: "judges"},
	}
	arriving := &workflow.Token{ID: "t2", RunID: "r1", SiblingGroup: "judges"}
	siblings := []*workflow.Token{
		{ID: "t1", SiblingGroup: "judges", Status: workflow.StatusCompleted},
		{ID: "t2", SiblingGroup: "judges", Status: workflow.StatusFailed},
		{ID: "t3", SiblingGroup: "judges", Status: workflow.StatusExecuting},
	}

	decisions, _, err := Check(tr, arriving, siblings, nil)
	require.NoError(t, err)
	require.Equal(t, KindActivateFanIn, decisions[0].Kind)
}

func TestHandleTimeoutProceedWithAvailable(t *testing.T) {
	waiting := &workflow.FanIn{
		RunID: "r1", NodeID: "M", FanInPath: "judges", TransitionID: "t-sync",
		Status: workflow.FanInWaiting, FirstArrivalAt: time.Now().Add(-time.Minute),
	}
	sync := &workflow.Synchronization{Strategy: workflow.SyncAll, OnTimeout: workflow.OnTimeoutProceedWithAvailable}
	siblings := []*workflow.Token{
		{ID: "t1", SiblingGroup: "judges", Status: workflow.StatusCompleted},
		{ID: "t2", SiblingGroup: "judges", Status: workflow.StatusCompleted},
		{ID: "t3", SiblingGroup: "judges", Status: workflow.StatusExecuting},
	}

	decisions, events := HandleTimeout(waiting, sync, siblings)
	require.Len(t, decisions, 2)
	require.Equal(t, KindMarkFanInTimedOut, decisions[0].Kind)
	require.Equal(t, KindActivateFanIn, decisions[1].Kind)
	require.Equal(t, "t1", decisions[1].ActivateFanIn.ActivatorTokenID)

	var sawProceed bool
	for _, e := range events {
		if e.Type == "decision.synchronization.proceed_with_available" {
			sawProceed = true
		}
	}
	require.True(t, sawProceed)
}

func TestHandleTimeoutFailsWorkflowWhenOnTimeoutIsFail(t *testing.T) {
	waiting := &workflow.FanIn{RunID: "r1", NodeID: "M", FanInPath: "judges", FirstArrivalAt: time.Now()}
	sync := &workflow.Synchronization{Strategy: workflow.SyncAll, OnTimeout: workflow.OnTimeoutFail}
	siblings := []*workflow.Token{{ID: "t1", SiblingGroup: "judges", Status: workflow.StatusExecuting}}

	decisions, _ := HandleTimeout(waiting, sync, siblings)
	require.Len(t, decisions, 2)
	require.Equal(t, KindMarkFanInTimedOut, decisions[0].Kind)
	require.Equal(t, KindFailWorkflow, decisions[1].Kind)
}
