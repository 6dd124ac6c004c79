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
	"strings"
	"testing"

	"github.com/AleutianAI/AleutianFlow/services/workflow/dsl"
)

// publishableGraph builds a DAG that passes every publish gate.
func publishableGraph() *dsl.Graph {
	defaults := dsl.NodePolicy{
		TimeoutMs:      intPtr(30000),
		RetryCount:     intPtr(1),
		RetryBackoffMs: intPtr(500),
		OnError:        strPtr("halt"),
	}
	return &dsl.Graph{
		WorkflowID:  "wf-pub",
		Name:        "grain risk pipeline",
		Mode:        dsl.ModeDAG,
		OwnerUserID: "u-100",
		RunPolicy:   dsl.RunPolicy{NodeDefaults: defaults},
		Nodes: []dsl.Node{
			{ID: "t1", Type: "schedule-trigger", Enabled: true},
			{ID: "fetch", Type: "data-fetch", Enabled: true},
			{ID: "rules", Type: "rule-pack-eval", Enabled: true},
			{ID: "agent", Type: "single-agent", Enabled: true},
			{ID: "join", Type: "join", Enabled: true},
			{ID: "gate", Type: "risk-gate", Enabled: true},
			{ID: "out", Type: "notify", Enabled: true},
		},
		Edges: []dsl.Edge{
			{ID: "e1", From: "t1", To: "fetch", EdgeType: dsl.EdgeTypeControl},
			{ID: "e2", From: "fetch", To: "rules", EdgeType: dsl.EdgeTypeControl},
			{ID: "e3", From: "fetch", To: "agent", EdgeType: dsl.EdgeTypeControl},
			{ID: "e4", From: "rules", To: "join", EdgeType: dsl.EdgeTypeControl},
			{ID: "e5", From: "agent", To: "join", EdgeType: dsl.EdgeTypeControl},
			{ID: "e6", From: "join", To: "gate", EdgeType: dsl.EdgeTypeControl},
			{ID: "e7", From: "gate", To: "out", EdgeType: dsl.EdgeTypeControl},
		},
	}
}

func TestPublish_HappyPath(t *testing.T) {
	res := Validate(publishableGraph(), StagePublish)
	if !res.Valid {
		t.Fatalf("expected publishable graph, got %+v", res.Issues)
	}
}

func TestPublish_OwnerRequired(t *testing.T) {
	g := publishableGraph()
	g.OwnerUserID = ""
	res := Validate(g, StagePublish)
	if !res.HasCode(CodePolicyUnresolved) {
		t.Errorf("expected %s for missing owner, got %+v", CodePolicyUnresolved, res.Issues)
	}
}

func TestPublish_RuntimePolicyLayering(t *testing.T) {
	g := publishableGraph()
	// Remove the graph-wide default for onError; the agent node supplies
	// it via config, every other non-trigger node now fails to resolve.
	g.RunPolicy.NodeDefaults.OnError = nil
	for i := range g.Nodes {
		if g.Nodes[i].ID == "agent" {
			g.Nodes[i].Config = map[string]any{"onError": "degrade"}
		}
	}
	res := Validate(g, StagePublish)
	if !res.HasCode(CodePolicyUnresolved) {
		t.Fatalf("expected %s, got %+v", CodePolicyUnresolved, res.Issues)
	}
	for _, iss := range res.Issues {
		if iss.Code == CodePolicyUnresolved && iss.NodeID == "agent" {
			t.Errorf("agent resolves onError from config, must not be flagged: %+v", iss)
		}
		if iss.Code == CodePolicyUnresolved && iss.NodeID == "fetch" && !strings.Contains(iss.Message, "onError") {
			t.Errorf("fetch should be missing onError, got %q", iss.Message)
		}
	}
}

func TestPublish_DisabledNodeSkipsPolicyCheck(t *testing.T) {
	g := publishableGraph()
	g.RunPolicy.NodeDefaults = dsl.NodePolicy{}
	for i := range g.Nodes {
		g.Nodes[i].Enabled = false
	}
	res := Validate(g, StagePublish)
	if res.HasCode(CodePolicyUnresolved) {
		t.Errorf("disabled nodes are exempt from policy resolution, got %+v", res.Issues)
	}
}

func TestPublish_EvidenceCategories(t *testing.T) {
	g := publishableGraph()
	for i := range g.Nodes {
		if g.Nodes[i].ID == "rules" {
			g.Nodes[i].Type = "join" // drop the only rule-evidence node
		}
	}
	res := Validate(g, StagePublish)
	if !res.HasCode(CodeEvidenceMissing) {
		t.Fatalf("expected %s, got %+v", CodeEvidenceMissing, res.Issues)
	}
	found := false
	for _, iss := range res.Issues {
		if iss.Code == CodeEvidenceMissing && strings.Contains(iss.Message, "rule-evidence") {
			found = true
		}
	}
	if !found {
		t.Errorf("evidence issue must name the missing category: %+v", res.Issues)
	}
}

func TestPublish_EvidenceOnlyWhenRiskGated(t *testing.T) {
	g := linearGraph()
	g.OwnerUserID = "u-1"
	g.RunPolicy.NodeDefaults = dsl.NodePolicy{
		TimeoutMs: intPtr(1000), RetryCount: intPtr(0), RetryBackoffMs: intPtr(0), OnError: strPtr("halt"),
	}
	res := Validate(g, StagePublish)
	if res.HasCode(CodeEvidenceMissing) {
		t.Errorf("no risk gate, evidence categories must not be required: %+v", res.Issues)
	}
	if !res.HasCode(CodeRiskGateMissing) {
		t.Errorf("expected %s, got %+v", CodeRiskGateMissing, res.Issues)
	}
}

func TestPublish_ExperimentConfig(t *testing.T) {
	base := func() *dsl.ExperimentConfig {
		return &dsl.ExperimentConfig{
			Enabled:        true,
			ExperimentCode: "exp-grain-1",
			Variants: []dsl.ExperimentVariant{
				{Version: "v1", Traffic: 30},
				{Version: "v2", Traffic: 70},
			},
			SplitPolicy: "RANDOM",
		}
	}

	cases := []struct {
		name   string
		mutate func(*dsl.ExperimentConfig)
		wantOK bool
	}{
		{"valid percent split", func(c *dsl.ExperimentConfig) {}, true},
		{"valid fraction split", func(c *dsl.ExperimentConfig) {
			c.Variants[0].Traffic = 0.3
			c.Variants[1].Traffic = 0.7
		}, true},
		{"missing code", func(c *dsl.ExperimentConfig) { c.ExperimentCode = " " }, false},
		{"single variant", func(c *dsl.ExperimentConfig) { c.Variants = c.Variants[:1] }, false},
		{"zero traffic", func(c *dsl.ExperimentConfig) { c.Variants[0].Traffic = 0 }, false},
		{"bad sum", func(c *dsl.ExperimentConfig) { c.Variants[0].Traffic = 40 }, false},
		{"bad split policy", func(c *dsl.ExperimentConfig) { c.SplitPolicy = "ROUND_ROBIN" }, false},
		{"auto stop without threshold", func(c *dsl.ExperimentConfig) {
			c.AutoStop = &dsl.AutoStopConfig{Enabled: true}
		}, false},
		{"auto stop threshold out of range", func(c *dsl.ExperimentConfig) {
			c.AutoStop = &dsl.AutoStopConfig{Enabled: true, BadCaseThreshold: f64Ptr(1.5)}
		}, false},
		{"auto stop valid", func(c *dsl.ExperimentConfig) {
			c.AutoStop = &dsl.AutoStopConfig{Enabled: true, BadCaseThreshold: f64Ptr(0.3)}
		}, true},
		{"disabled experiment skips checks", func(c *dsl.ExperimentConfig) {
			c.Enabled = false
			c.Variants = nil
		}, true},
	}

	for _, tc := range cases {
		g := publishableGraph()
		g.Experiment = base()
		tc.mutate(g.Experiment)
		res := Validate(g, StagePublish)
		if got := !res.HasCode(CodeExperimentConfig); got != tc.wantOK {
			t.Errorf("%s: acceptance = %v, want %v (%+v)", tc.name, got, tc.wantOK, res.Issues)
		}
	}
}
