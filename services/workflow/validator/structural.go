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
	"github.com/AleutianAI/AleutianFlow/services/workflow/dsl"
)

// checkIdentity enforces node and edge id uniqueness.
func checkIdentity(g *dsl.Graph, res *Result) {
	nodeIDs := make(map[string]bool, len(g.Nodes))
	for i := range g.Nodes {
		n := &g.Nodes[i]
		if n.ID == "" {
			res.errorf(CodeMissingFields, "", "", "node at index %d has no id", i)
			continue
		}
		if nodeIDs[n.ID] {
			res.errorf(CodeDuplicateID, n.ID, "", "duplicate node id %q", n.ID)
		}
		nodeIDs[n.ID] = true
	}

	edgeIDs := make(map[string]bool, len(g.Edges))
	for i := range g.Edges {
		e := &g.Edges[i]
		if e.ID == "" {
			res.errorf(CodeMissingFields, "", "", "edge at index %d has no id", i)
			continue
		}
		if edgeIDs[e.ID] {
			res.errorf(CodeDuplicateID, "", e.ID, "duplicate edge id %q", e.ID)
		}
		edgeIDs[e.ID] = true
	}
}

// checkEdges verifies edge endpoints and condition shapes.
func checkEdges(g *dsl.Graph, res *Result) {
	for i := range g.Edges {
		e := &g.Edges[i]
		if g.NodeByID(e.From) == nil {
			res.errorf(CodeDanglingEdge, "", e.ID, "edge %q references unknown source node %q", e.ID, e.From)
		}
		if g.NodeByID(e.To) == nil {
			res.errorf(CodeDanglingEdge, "", e.ID, "edge %q references unknown target node %q", e.ID, e.To)
		}
		if e.EdgeType == dsl.EdgeTypeCondition && !validCondition(e.Condition) {
			res.errorf(CodeBadCondition, "", e.ID,
				"edge %q condition must be a boolean, a non-empty string, or an object with field and operator", e.ID)
		}
	}
}

func validCondition(c any) bool {
	switch t := c.(type) {
	case bool:
		return true
	case string:
		return t != ""
	case map[string]any:
		_, hasField := t["field"]
		_, hasOperator := t["operator"]
		return hasField && hasOperator
	default:
		return false
	}
}

// checkOrphans flags nodes with no incident edges. Trigger nodes are entry
// points and exempt.
func checkOrphans(g *dsl.Graph, res *Result) {
	for i := range g.Nodes {
		n := &g.Nodes[i]
		if dsl.IsTrigger(n.Type) {
			continue
		}
		if g.InDegree(n.ID) == 0 && g.OutDegree(n.ID) == 0 {
			res.warnf(CodeOrphanNode, n.ID, "", "node %q is not connected to the graph", n.ID)
		}
	}
}
