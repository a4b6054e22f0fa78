package compiler

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lyzr/flowcore/internal/clients"
	"github.com/lyzr/flowcore/internal/workflow"
)

func minimalDef() *clients.WorkflowDef {
	return &clients.WorkflowDef{
		ID: "wf-1", Version: "v1", InitialNodeID: "A",
		Nodes: []byte(`[
			{"id":"A","kind":"task","task_ref":"step-a","output_mapping":[{"target":"state.score","source":"output._task.output.score"}]},
			{"id":"B","kind":"task","task_ref":"step-b","retry_budget":5},
			{"id":"C","kind":"control"}
		]`),
		Transitions: []byte(`[
			{"id":"t-ab","from":"A","to":"B","priority":1,"condition":"state.score >= 90.0"},
			{"id":"t-ac","from":"A","to":"C","priority":2}
		]`),
		OutputMapping: []byte(`[{"target":"final_score","source":"state.score"}]`),
	}
}

func TestCompileBuildsNodesAndTransitions(t *testing.T) {
	def, err := Compile(minimalDef())
	require.NoError(t, err)

	require.Equal(t, "A", def.InitialNodeID)
	require.Len(t, def.Nodes, 3)

	a, ok := def.Node("A")
	require.True(t, ok)
	require.Equal(t, workflow.NodeKindTask, a.Kind)
	require.Len(t, a.OutputMapping, 1)
	require.Equal(t, "state.score", a.OutputMapping[0].Target)

	b, ok := def.Node("B")
	require.True(t, ok)
	require.Equal(t, 5, b.RetryBudget)

	c, ok := def.Node("C")
	require.True(t, ok)
	require.Equal(t, workflow.NodeKindControl, c.Kind)

	outbound := def.Outbound("A")
	require.Len(t, outbound, 2)
	require.NotNil(t, outbound[0].Condition)

	require.Len(t, def.OutputMapping, 1)
	require.Equal(t, "final_score", def.OutputMapping[0].Target)
}

func TestCompileRejectsMissingInitialNode(t *testing.T) {
	def := minimalDef()
	def.InitialNodeID = ""
	_, err := Compile(def)
	require.Error(t, err)
}

func TestCompileRejectsUnknownNodeKind(t *testing.T) {
	def := minimalDef()
	def.Nodes = []byte(`[{"id":"A","kind":"bogus"}]`)
	_, err := Compile(def)
	require.Error(t, err)
}

func TestCompileRejectsUnknownSynchronizationStrategy(t *testing.T) {
	def := minimalDef()
	def.Transitions = []byte(`[{"id":"t1","from":"A","to":"B","synchronization":{"strategy":"bogus","sibling_group":"g"}}]`)
	_, err := Compile(def)
	require.Error(t, err)
}

func TestCompileRejectsUnknownOnTimeout(t *testing.T) {
	def := minimalDef()
	def.Transitions = []byte(`[{"id":"t1","from":"A","to":"B","synchronization":{"strategy":"all","sibling_group":"g","on_timeout":"bogus"}}]`)
	_, err := Compile(def)
	require.Error(t, err)
}

func TestCompileDefaultsOnTimeoutToFail(t *testing.T) {
	def := minimalDef()
	def.Transitions = []byte(`[{"id":"t1","from":"A","to":"B","synchronization":{"strategy":"all","sibling_group":"g"}}]`)
	compiled, err := Compile(def)
	require.NoError(t, err)
	require.Equal(t, workflow.OnTimeoutFail, compiled.Outbound("A")[0].Synchronization.OnTimeout)
}

func TestCompileLeavesEmptyConditionAndMappingsNil(t *testing.T) {
	def := &clients.WorkflowDef{
		ID: "wf-2", InitialNodeID: "A",
		Nodes:       []byte(`[{"id":"A","kind":"task","task_ref":"step-a"}]`),
		Transitions: []byte(`[{"id":"t1","from":"A","to":"A"}]`),
	}
	compiled, err := Compile(def)
	require.NoError(t, err)

	a, _ := compiled.Node("A")
	require.Nil(t, a.InputMapping)
	require.Nil(t, a.OutputMapping)

	tr := compiled.Outbound("A")[0]
	require.Nil(t, tr.Condition)
	require.Nil(t, tr.Synchronization)
	require.Nil(t, tr.Loop)
}

func TestCompileLoopConfig(t *testing.T) {
	def := minimalDef()
	def.Transitions = []byte(`[{"id":"t1","from":"A","to":"A","loop":{"max_iterations":3}}]`)
	compiled, err := Compile(def)
	require.NoError(t, err)
	require.Equal(t, 3, compiled.Outbound("A")[0].Loop.MaxIterations)
}
