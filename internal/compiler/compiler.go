// Package compiler turns a catalog-fetched workflow definition's raw JSON
// into the compiled *workflow.Definition the run actor executes: every CEL
// expression embedded in a condition or field mapping is parsed once here,
// so routing and dispatch never touch source text.
package compiler

import (
	"encoding/json"
	"fmt"

	"github.com/lyzr/flowcore/internal/clients"
	"github.com/lyzr/flowcore/internal/condition"
	"github.com/lyzr/flowcore/internal/workflow"
)

type fieldMappingJSON struct {
	Target string `json:"target"`
	Source string `json:"source"`
}

type nodeJSON struct {
	ID            string             `json:"id"`
	Kind          string             `json:"kind"`
	TaskRef       string             `json:"task_ref"`
	InputMapping  []fieldMappingJSON `json:"input_mapping"`
	OutputMapping []fieldMappingJSON `json:"output_mapping"`
	RetryBudget   int                `json:"retry_budget"`
}

type mergeJSON struct {
	Source   string `json:"source"`
	Target   string `json:"target"`
	Strategy string `json:"strategy"`
}

type syncJSON struct {
	Strategy     string     `json:"strategy"`
	SiblingGroup string     `json:"sibling_group"`
	MOfN         int        `json:"m_of_n"`
	TimeoutMS    int64      `json:"timeout_ms"`
	OnTimeout    string     `json:"on_timeout"`
	Merge        *mergeJSON `json:"merge"`
}

type loopJSON struct {
	MaxIterations int `json:"max_iterations"`
}

type transitionJSON struct {
	ID              string    `json:"id"`
	Ref             string    `json:"ref"`
	From            string    `json:"from"`
	To              string    `json:"to"`
	Priority        int       `json:"priority"`
	Condition       string    `json:"condition"`
	SpawnCount      int       `json:"spawn_count"`
	Foreach         string    `json:"foreach"`
	SiblingGroup    string    `json:"sibling_group"`
	Synchronization *syncJSON `json:"synchronization"`
	Loop            *loopJSON `json:"loop"`
}

// Compile parses def's raw JSON graph into a *workflow.Definition, compiling
// every condition and field mapping source expression to a CEL AST.
func Compile(def *clients.WorkflowDef) (*workflow.Definition, error) {
	if def.InitialNodeID == "" {
		return nil, fmt.Errorf("compiler: workflow %s missing initial_node_id", def.ID)
	}

	var rawNodes []nodeJSON
	if err := json.Unmarshal(def.Nodes, &rawNodes); err != nil {
		return nil, fmt.Errorf("compiler: unmarshal nodes: %w", err)
	}
	var rawTransitions []transitionJSON
	if len(def.Transitions) > 0 {
		if err := json.Unmarshal(def.Transitions, &rawTransitions); err != nil {
			return nil, fmt.Errorf("compiler: unmarshal transitions: %w", err)
		}
	}

	nodes := make(map[string]*workflow.Node, len(rawNodes))
	for _, n := range rawNodes {
		inputMapping, err := compileMappings(n.InputMapping)
		if err != nil {
			return nil, fmt.Errorf("compiler: node %s input_mapping: %w", n.ID, err)
		}
		outputMapping, err := compileMappings(n.OutputMapping)
		if err != nil {
			return nil, fmt.Errorf("compiler: node %s output_mapping: %w", n.ID, err)
		}
		kind, err := compileNodeKind(n.Kind)
		if err != nil {
			return nil, fmt.Errorf("compiler: node %s: %w", n.ID, err)
		}
		nodes[n.ID] = &workflow.Node{
			ID:            n.ID,
			Kind:          kind,
			TaskRef:       n.TaskRef,
			InputMapping:  inputMapping,
			OutputMapping: outputMapping,
			RetryBudget:   n.RetryBudget,
		}
	}

	transitionsFrom := make(map[string][]*workflow.Transition, len(nodes))
	for _, t := range rawTransitions {
		tr, err := compileTransition(t)
		if err != nil {
			return nil, fmt.Errorf("compiler: transition %s: %w", t.ID, err)
		}
		transitionsFrom[t.From] = append(transitionsFrom[t.From], tr)
	}

	outputMapping, err := compileRawMappings(def.OutputMapping)
	if err != nil {
		return nil, fmt.Errorf("compiler: output_mapping: %w", err)
	}

	return &workflow.Definition{
		ID:              def.ID,
		Version:         def.Version,
		InitialNodeID:   def.InitialNodeID,
		Nodes:           nodes,
		TransitionsFrom: transitionsFrom,
		InputSchema:     def.InputSchema,
		OutputMapping:   outputMapping,
	}, nil
}

func compileNodeKind(kind string) (workflow.NodeKind, error) {
	switch workflow.NodeKind(kind) {
	case workflow.NodeKindTask, workflow.NodeKindSubworkflow, workflow.NodeKindControl:
		return workflow.NodeKind(kind), nil
	default:
		return "", fmt.Errorf("unknown node kind %q", kind)
	}
}

func compileTransition(t transitionJSON) (*workflow.Transition, error) {
	cond, err := compileCondition(t.Condition)
	if err != nil {
		return nil, fmt.Errorf("condition: %w", err)
	}

	var sync *workflow.Synchronization
	if t.Synchronization != nil {
		sync, err = compileSync(t.Synchronization)
		if err != nil {
			return nil, err
		}
	}

	var loop *workflow.LoopConfig
	if t.Loop != nil {
		loop = &workflow.LoopConfig{MaxIterations: t.Loop.MaxIterations}
	}

	return &workflow.Transition{
		ID:              t.ID,
		Ref:             t.Ref,
		From:            t.From,
		To:              t.To,
		Priority:        t.Priority,
		Condition:       cond,
		SpawnCount:      t.SpawnCount,
		Foreach:         t.Foreach,
		SiblingGroup:    t.SiblingGroup,
		Synchronization: sync,
		Loop:            loop,
	}, nil
}

func compileSync(s *syncJSON) (*workflow.Synchronization, error) {
	var merge *workflow.MergeConfig
	if s.Merge != nil {
		merge = &workflow.MergeConfig{Source: s.Merge.Source, Target: s.Merge.Target, Strategy: s.Merge.Strategy}
	}

	onTimeout := workflow.OnTimeout(s.OnTimeout)
	switch onTimeout {
	case workflow.OnTimeoutProceedWithAvailable, workflow.OnTimeoutFail:
	case "":
		onTimeout = workflow.OnTimeoutFail
	default:
		return nil, fmt.Errorf("unknown on_timeout %q", s.OnTimeout)
	}

	strategy := workflow.SyncStrategy(s.Strategy)
	switch strategy {
	case workflow.SyncAll, workflow.SyncAny, workflow.SyncMOfN:
	default:
		return nil, fmt.Errorf("unknown synchronization strategy %q", s.Strategy)
	}

	return &workflow.Synchronization{
		Strategy:     strategy,
		SiblingGroup: s.SiblingGroup,
		MOfN:         s.MOfN,
		TimeoutMS:    s.TimeoutMS,
		OnTimeout:    onTimeout,
		Merge:        merge,
	}, nil
}

func compileCondition(src string) (*condition.Condition, error) {
	if src == "" {
		return nil, nil
	}
	return condition.Compile(src)
}

func compileMappings(raw []fieldMappingJSON) ([]workflow.FieldMapping, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make([]workflow.FieldMapping, 0, len(raw))
	for _, m := range raw {
		cond, err := condition.Compile(m.Source)
		if err != nil {
			return nil, fmt.Errorf("mapping %s: %w", m.Target, err)
		}
		out = append(out, workflow.FieldMapping{Target: m.Target, Source: cond})
	}
	return out, nil
}

func compileRawMappings(raw json.RawMessage) ([]workflow.FieldMapping, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var parsed []fieldMappingJSON
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, err
	}
	return compileMappings(parsed)
}
