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
	"github.com/AleutianAI/AleutianFlow/services/workflow/expr"
)

// Scopes exempt from node-reference resolution.
var exemptScopes = map[string]bool{
	"params": true,
	"meta":   true,
}

// checkReferences resolves every moustache expression in node configs,
// input bindings, and condition-edge strings against the declaring graph.
//
// A reference scope must be "params", "meta", or a declared node id; for a
// node id the path must resolve against that node's declared output fields.
// Separately, any params reference anywhere requires the graph to declare
// at least one non-empty param-set binding.
func checkReferences(g *dsl.Graph, res *Result) {
	paramsReferenced := false

	checkRef := func(ref expr.Ref, nodeID, edgeID string) {
		if ref.Scope == "" {
			return
		}
		if exemptScopes[ref.Scope] {
			if ref.Scope == "params" {
				paramsReferenced = true
			}
			return
		}
		src := g.NodeByID(ref.Scope)
		if src == nil {
			res.errorf(CodeRefUnknownNode, nodeID, edgeID,
				"expression %q references unknown node %q", ref.Raw, ref.Scope)
			return
		}
		types := outputFieldTypes(src)
		if types == nil {
			// Source declares no output schema; nothing to resolve against.
			return
		}
		if _, ok := resolveFieldType(types, ref.Path); !ok {
			res.errorf(CodeRefUnresolved, nodeID, edgeID,
				"expression %q does not resolve against the declared outputs of node %q", ref.Raw, ref.Scope)
		}
	}

	for i := range g.Nodes {
		n := &g.Nodes[i]
		for _, ref := range expr.ScanValue(configWithoutSchemas(n.Config)) {
			checkRef(ref, n.ID, "")
		}
		for _, binding := range n.InputBindings {
			for _, ref := range expr.Scan(binding) {
				checkRef(ref, n.ID, "")
			}
			if len(expr.ParamCodes(binding)) > 0 {
				paramsReferenced = true
			}
		}
		for _, s := range stringLeaves(n.Config) {
			if len(expr.ParamCodes(s)) > 0 {
				paramsReferenced = true
			}
		}
	}
	for i := range g.Edges {
		e := &g.Edges[i]
		cond, ok := e.Condition.(string)
		if !ok {
			continue
		}
		for _, ref := range expr.Scan(cond) {
			checkRef(ref, "", e.ID)
		}
		if len(expr.ParamCodes(cond)) > 0 {
			paramsReferenced = true
		}
	}

	if paramsReferenced && !hasParamBinding(g) {
		res.errorf(CodeParamsUnbound, "", "",
			"graph references parameters but declares no param-set binding")
	}
}

func hasParamBinding(g *dsl.Graph) bool {
	for _, b := range g.ParamSetBindings {
		if strings.TrimSpace(b) != "" {
			return true
		}
	}
	return false
}

// configWithoutSchemas strips the inputSchema key so type declarations are
// not scanned as expressions.
func configWithoutSchemas(cfg map[string]any) map[string]any {
	if _, ok := cfg["inputSchema"]; !ok {
		return cfg
	}
	out := make(map[string]any, len(cfg))
	for k, v := range cfg {
		if k == "inputSchema" {
			continue
		}
		out[k] = v
	}
	return out
}

func stringLeaves(v any) []string {
	var out []string
	var walk func(any)
	walk = func(x any) {
		switch t := x.(type) {
		case string:
			out = append(out, t)
		case map[string]any:
			for _, mv := range t {
				walk(mv)
			}
		case []any:
			for _, sv := range t {
				walk(sv)
			}
		}
	}
	walk(v)
	return out
}
