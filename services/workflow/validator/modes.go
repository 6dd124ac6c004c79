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

	"github.com/AleutianAI/AleutianFlow/services/workflow/dsl"
)

// outputClassNodes are the only legal targets of an approval node's
// outgoing edges.
var outputClassNodes = map[string]bool{
	"notify":            true,
	"report-generate":   true,
	"dashboard-publish": true,
}

// debateRoles must each appear at least once in a DEBATE graph.
var debateRoles = []string{"context-builder", "debate-round", "judge-agent"}

// checkMode runs the mode-specific and node-kind structural gates.
func checkMode(g *dsl.Graph, res *Result) {
	switch g.Mode {
	case dsl.ModeLinear:
		for i := range g.Nodes {
			n := &g.Nodes[i]
			if in := g.InDegree(n.ID); in > 1 {
				res.errorf(CodeLinearBranch, n.ID, "", "LINEAR graph forbids fan-in: node %q has in-degree %d", n.ID, in)
			}
			if out := g.OutDegree(n.ID); out > 1 {
				res.errorf(CodeLinearBranch, n.ID, "", "LINEAR graph forbids fan-out: node %q has out-degree %d", n.ID, out)
			}
		}
	case dsl.ModeDAG:
		if countNodesOfType(g, "join") == 0 {
			res.errorf(CodeDAGNeedsJoin, "", "", "DAG graph requires at least one join node")
		}
	case dsl.ModeDebate:
		for _, role := range debateRoles {
			if countNodesOfType(g, role) == 0 {
				res.errorf(CodeDebateRoles, "", "", "DEBATE graph requires at least one %q node", role)
			}
		}
	}

	for i := range g.Nodes {
		n := &g.Nodes[i]
		switch n.Type {
		case "approval":
			checkApprovalTargets(g, n, res)
		case "join":
			checkJoinQuorum(n, res)
		case "decision-merge":
			if in := g.InDegree(n.ID); in < 2 {
				res.errorf(CodeMergeInDegree, n.ID, "", "decision-merge node %q requires in-degree >= 2, has %d", n.ID, in)
			}
		}
	}
}

func checkApprovalTargets(g *dsl.Graph, n *dsl.Node, res *Result) {
	for i := range g.Edges {
		e := &g.Edges[i]
		if e.From != n.ID {
			continue
		}
		target := g.NodeByID(e.To)
		if target == nil {
			continue // dangling edges are reported by checkEdges
		}
		if !outputClassNodes[target.Type] {
			res.errorf(CodeApprovalTarget, n.ID, e.ID,
				"approval node %q may only feed output nodes, edge %q targets %q (%s)", n.ID, e.ID, target.ID, target.Type)
		}
	}
}

func checkJoinQuorum(n *dsl.Node, res *Result) {
	policy, _ := n.Config["joinPolicy"].(string)
	if !strings.EqualFold(policy, dsl.JoinPolicyQuorum) {
		return
	}
	branches, ok := intConfig(n.Config, "quorumBranches")
	if !ok || branches < 2 {
		res.errorf(CodeQuorumBranches, n.ID, "",
			"join node %q with QUORUM policy must declare quorumBranches as an integer >= 2", n.ID)
	}
}

func countNodesOfType(g *dsl.Graph, nodeType string) int {
	n := 0
	for i := range g.Nodes {
		if g.Nodes[i].Type == nodeType {
			n++
		}
	}
	return n
}

// intConfig reads an integer-valued config key. JSON decoding produces
// float64, so whole floats are accepted; fractional values are not.
func intConfig(cfg map[string]any, key string) (int, bool) {
	v, ok := cfg[key]
	if !ok {
		return 0, false
	}
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case float64:
		if t == float64(int(t)) {
			return int(t), true
		}
	}
	return 0, false
}
