package main

import (
	"encoding/json"

	"github.com/lyzr/flowcore/internal/clients"
)

// scenario bundles a compilable workflow definition with the input it should
// start with, for the CLI demo runner.
type scenario struct {
	name  string
	def   *clients.WorkflowDef
	input map[string]interface{}
}

func rawJSON(v string) json.RawMessage { return json.RawMessage(v) }

// scenarios mirrors the six end-to-end cases this engine is built against:
// linear routing, conditional priority tiers, static fan-out with an "all"
// fan-in, an "any" race, a bounded loop with fallback, and a timeout that
// proceeds with whatever sibling outputs arrived in time.
func scenarios() []scenario {
	return []scenario{
		{
			name: "linear",
			def: &clients.WorkflowDef{
				ID: "linear", Version: "v1", InitialNodeID: "A",
				Nodes: rawJSON(`[
					{"id":"A","kind":"task","task_ref":"step-a"},
					{"id":"B","kind":"task","task_ref":"step-b"},
					{"id":"C","kind":"task","task_ref":"step-c"}
				]`),
				Transitions: rawJSON(`[
					{"id":"t-ab","from":"A","to":"B","spawn_count":1},
					{"id":"t-bc","from":"B","to":"C","spawn_count":1}
				]`),
			},
		},
		{
			name: "conditional-priority",
			def: &clients.WorkflowDef{
				ID: "conditional-priority", Version: "v1", InitialNodeID: "A",
				Nodes: rawJSON(`[
					{"id":"A","kind":"task","task_ref":"step-a","output_mapping":[{"target":"state.score","source":"output._task.output.score"}]},
					{"id":"B","kind":"task","task_ref":"step-b"},
					{"id":"C","kind":"task","task_ref":"step-c"}
				]`),
				Transitions: rawJSON(`[
					{"id":"t-ab","from":"A","to":"B","priority":1,"condition":"state.score >= 90.0"},
					{"id":"t-ac","from":"A","to":"C","priority":2}
				]`),
			},
		},
		{
			name: "fan-out-all",
			def: &clients.WorkflowDef{
				ID: "fan-out-all", Version: "v1", InitialNodeID: "A",
				Nodes: rawJSON(`[
					{"id":"A","kind":"task","task_ref":"step-a"},
					{"id":"J","kind":"task","task_ref":"judge","output_mapping":[{"target":"_branch.output.vote","source":"output._task.output.vote"}]},
					{"id":"M","kind":"task","task_ref":"step-m"}
				]`),
				Transitions: rawJSON(`[
					{"id":"t-aj","from":"A","to":"J","spawn_count":3,"sibling_group":"judges"},
					{"id":"t-jm","from":"J","to":"M","sibling_group":"judges","synchronization":{
						"strategy":"all","sibling_group":"judges","on_timeout":"fail",
						"merge":{"source":"_branch.output.vote","target":"state.votes","strategy":"append"}
					}}
				]`),
			},
		},
		{
			name: "fan-out-any-race",
			def: &clients.WorkflowDef{
				ID: "fan-out-any-race", Version: "v1", InitialNodeID: "A",
				Nodes: rawJSON(`[
					{"id":"A","kind":"task","task_ref":"step-a"},
					{"id":"R","kind":"task","task_ref":"racer"},
					{"id":"M","kind":"task","task_ref":"step-m"}
				]`),
				Transitions: rawJSON(`[
					{"id":"t-ar","from":"A","to":"R","spawn_count":5,"sibling_group":"racers"},
					{"id":"t-rm","from":"R","to":"M","sibling_group":"racers","synchronization":{
						"strategy":"any","sibling_group":"racers","on_timeout":"fail"
					}}
				]`),
			},
		},
		{
			name: "loop-cap-fallback",
			def: &clients.WorkflowDef{
				ID: "loop-cap-fallback", Version: "v1", InitialNodeID: "X",
				Nodes: rawJSON(`[
					{"id":"X","kind":"task","task_ref":"step-x"},
					{"id":"Y","kind":"task","task_ref":"step-y"}
				]`),
				Transitions: rawJSON(`[
					{"id":"t-xx","from":"X","to":"X","priority":1,"loop":{"max_iterations":3}},
					{"id":"t-xy","from":"X","to":"Y","priority":2}
				]`),
			},
		},
		{
			name: "timeout-proceed-with-available",
			def: &clients.WorkflowDef{
				ID: "timeout-proceed-with-available", Version: "v1", InitialNodeID: "A",
				Nodes: rawJSON(`[
					{"id":"A","kind":"task","task_ref":"step-a"},
					{"id":"J","kind":"task","task_ref":"worker"},
					{"id":"M","kind":"task","task_ref":"step-m"}
				]`),
				Transitions: rawJSON(`[
					{"id":"t-aj","from":"A","to":"J","spawn_count":3,"sibling_group":"workers"},
					{"id":"t-jm","from":"J","to":"M","sibling_group":"workers","synchronization":{
						"strategy":"all","sibling_group":"workers","timeout_ms":100,"on_timeout":"proceed_with_available"
					}}
				]`),
			},
		},
	}
}
