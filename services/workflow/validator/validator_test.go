// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package validator

import (
	"reflect"
	"testing"

	"github.com/AleutianAI/AleutianFlow/services/workflow/dsl"
)

func intPtr(v int) *int          { return &v }
func strPtr(v string) *string    { return &v }
func f64Ptr(v float64) *float64  { return &v }

// linearGraph builds a minimal valid LINEAR chain trigger -> a -> b.
func linearGraph() *dsl.Graph {
	return &dsl.Graph{
		WorkflowID: "wf-1",
		Name:       "price check",
		Mode:       dsl.ModeLinear,
		Nodes: []dsl.Node{
			{ID: "t1", Type: "schedule-trigger", Enabled: true},
			{ID: "a", Type: "data-fetch", Enabled: true},
			{ID: "b", Type: "notify", Enabled: true},
		},
		Edges: []dsl.Edge{
			{ID: "e1", From: "t1", To: "a", EdgeType: dsl.EdgeTypeControl},
			{ID: "e2", From: "a", To: "b", EdgeType: dsl.EdgeTypeData},
		},
	}
}

func TestValidate_LinearGraphIsValidAtSave(t *testing.T) {
	res := Validate(linearGraph(), StageSave)
	if !res.Valid {
		t.Fatalf("expected valid graph, got issues: %+v", res.Issues)
	}
}

func TestValidate_Deterministic(t *testing.T) {
	g := linearGraph()
	g.Edges = append(g.Edges, dsl.Edge{ID: "e3", From: "a", To: "missing", EdgeType: dsl.EdgeTypeData})

	first := Validate(g, StagePublish)
	for i := 0; i < 5; i++ {
		again := Validate(g, StagePublish)
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("validation is not deterministic:\nfirst: %+v\nagain: %+v", first, again)
		}
	}
}

func TestValidate_MissingTopLevelFields(t *testing.T) {
	res := Validate(&dsl.Graph{}, StageSave)
	if !res.HasCode(CodeMissingFields) {
		t.Errorf("expected %s for empty graph, got %+v", CodeMissingFields, res.Issues)
	}
	if res.Valid {
		t.Error("empty graph must not be valid")
	}
}

func TestValidate_DuplicateIDs(t *testing.T) {
	g := linearGraph()
	g.Nodes = append(g.Nodes, dsl.Node{ID: "a", Type: "notify", Enabled: true})
	res := Validate(g, StageSave)
	if !res.HasCode(CodeDuplicateID) {
		t.Errorf("expected %s, got %+v", CodeDuplicateID, res.Issues)
	}
}

func TestValidate_DanglingEdge(t *testing.T) {
	g := linearGraph()
	g.Edges[1].To = "ghost"
	res := Validate(g, StageSave)
	if !res.HasCode(CodeDanglingEdge) {
		t.Errorf("expected %s, got %+v", CodeDanglingEdge, res.Issues)
	}
}

func TestValidate_OrphanNodeIsWarning(t *testing.T) {
	g := linearGraph()
	g.Nodes = append(g.Nodes, dsl.Node{ID: "lonely", Type: "notify", Enabled: true})
	res := Validate(g, StageSave)
	if !res.HasCode(CodeOrphanNode) {
		t.Fatalf("expected %s, got %+v", CodeOrphanNode, res.Issues)
	}
	if !res.Valid {
		t.Error("orphan is advisory and must not block save")
	}
}

func TestValidate_OrphanTriggerExempt(t *testing.T) {
	g := linearGraph()
	g.Nodes = append(g.Nodes, dsl.Node{ID: "manual", Type: "manual-trigger", Enabled: true})
	res := Validate(g, StageSave)
	if res.HasCode(CodeOrphanNode) {
		t.Errorf("trigger nodes are exempt from orphan detection: %+v", res.Issues)
	}
}

func TestValidate_LinearBranchingForbidden(t *testing.T) {
	g := linearGraph()
	g.Nodes = append(g.Nodes, dsl.Node{ID: "c", Type: "notify", Enabled: true})
	g.Edges = append(g.Edges, dsl.Edge{ID: "e3", From: "a", To: "c", EdgeType: dsl.EdgeTypeData})
	res := Validate(g, StageSave)
	if !res.HasCode(CodeLinearBranch) {
		t.Errorf("expected %s for fan-out in LINEAR graph, got %+v", CodeLinearBranch, res.Issues)
	}
}

func TestValidate_DAGRequiresJoin(t *testing.T) {
	g := linearGraph()
	g.Mode = dsl.ModeDAG
	res := Validate(g, StageSave)
	if !res.HasCode(CodeDAGNeedsJoin) {
		t.Errorf("expected %s, got %+v", CodeDAGNeedsJoin, res.Issues)
	}

	g.Nodes = append(g.Nodes, dsl.Node{ID: "j", Type: "join", Enabled: true})
	g.Edges = append(g.Edges, dsl.Edge{ID: "ej", From: "b", To: "j", EdgeType: dsl.EdgeTypeControl})
	res = Validate(g, StageSave)
	if res.HasCode(CodeDAGNeedsJoin) {
		t.Errorf("join node present, %s should be gone: %+v", CodeDAGNeedsJoin, res.Issues)
	}

	// Still fails publish without a risk gate.
	res = Validate(g, StagePublish)
	if !res.HasCode(CodeRiskGateMissing) {
		t.Errorf("expected %s at publish, got %+v", CodeRiskGateMissing, res.Issues)
	}
}

func TestValidate_DebateRoles(t *testing.T) {
	g := linearGraph()
	g.Mode = dsl.ModeDebate
	res := Validate(g, StageSave)
	if !res.HasCode(CodeDebateRoles) {
		t.Fatalf("expected %s, got %+v", CodeDebateRoles, res.Issues)
	}

	g.Nodes = append(g.Nodes,
		dsl.Node{ID: "cb", Type: "context-builder", Enabled: true},
		dsl.Node{ID: "dr", Type: "debate-round", Enabled: true},
		dsl.Node{ID: "ja", Type: "judge-agent", Enabled: true},
	)
	g.Edges = append(g.Edges,
		dsl.Edge{ID: "d1", From: "b", To: "cb", EdgeType: dsl.EdgeTypeControl},
		dsl.Edge{ID: "d2", From: "cb", To: "dr", EdgeType: dsl.EdgeTypeControl},
		dsl.Edge{ID: "d3", From: "dr", To: "ja", EdgeType: dsl.EdgeTypeControl},
	)
	res = Validate(g, StageSave)
	if res.HasCode(CodeDebateRoles) {
		t.Errorf("all roles present, got %+v", res.Issues)
	}
}

func TestValidate_QuorumBranches(t *testing.T) {
	g := linearGraph()
	g.Mode = dsl.ModeDAG
	g.Nodes = append(g.Nodes, dsl.Node{
		ID: "j", Type: "join", Enabled: true,
		Config: map[string]any{"joinPolicy": "QUORUM", "quorumBranches": float64(1)},
	})
	g.Edges = append(g.Edges, dsl.Edge{ID: "ej", From: "b", To: "j", EdgeType: dsl.EdgeTypeControl})

	res := Validate(g, StageSave)
	if !res.HasCode(CodeQuorumBranches) {
		t.Errorf("quorumBranches=1 must be rejected, got %+v", res.Issues)
	}

	g.Nodes[3].Config["quorumBranches"] = float64(2)
	res = Validate(g, StageSave)
	if res.HasCode(CodeQuorumBranches) {
		t.Errorf("quorumBranches=2 must be accepted, got %+v", res.Issues)
	}
}

func TestValidate_DecisionMergeInDegree(t *testing.T) {
	g := linearGraph()
	g.Nodes = append(g.Nodes, dsl.Node{ID: "m", Type: "decision-merge", Enabled: true})
	g.Edges = append(g.Edges, dsl.Edge{ID: "em", From: "b", To: "m", EdgeType: dsl.EdgeTypeControl})
	res := Validate(g, StageSave)
	if !res.HasCode(CodeMergeInDegree) {
		t.Errorf("expected %s for in-degree 1, got %+v", CodeMergeInDegree, res.Issues)
	}
}

func TestValidate_ApprovalTargets(t *testing.T) {
	g := &dsl.Graph{
		WorkflowID: "wf-appr", Name: "approval", Mode: dsl.ModeLinear,
		Nodes: []dsl.Node{
			{ID: "ap", Type: "approval", Enabled: true},
			{ID: "df", Type: "data-fetch", Enabled: true},
		},
		Edges: []dsl.Edge{{ID: "e1", From: "ap", To: "df", EdgeType: dsl.EdgeTypeControl}},
	}
	res := Validate(g, StageSave)
	if !res.HasCode(CodeApprovalTarget) {
		t.Errorf("approval feeding data-fetch must be rejected, got %+v", res.Issues)
	}

	g.Nodes[1].Type = "notify"
	res = Validate(g, StageSave)
	if res.HasCode(CodeApprovalTarget) {
		t.Errorf("approval feeding notify is allowed, got %+v", res.Issues)
	}
}

func TestValidate_ConditionShape(t *testing.T) {
	g := linearGraph()
	g.Edges[1].EdgeType = dsl.EdgeTypeCondition

	cases := []struct {
		name string
		cond any
		ok   bool
	}{
		{"bool", true, true},
		{"expression string", "{{a.score}} > 0.5", true},
		{"empty string", "", false},
		{"object", map[string]any{"field": "score", "operator": "gt"}, true},
		{"object missing operator", map[string]any{"field": "score"}, false},
		{"number", float64(3), false},
		{"nil", nil, false},
	}
	for _, tc := range cases {
		g.Edges[1].Condition = tc.cond
		res := Validate(g, StageSave)
		if got := !res.HasCode(CodeBadCondition); got != tc.ok {
			t.Errorf("%s: condition acceptance = %v, want %v (%+v)", tc.name, got, tc.ok, res.Issues)
		}
	}
}
