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

// typeUnknown is compatible with everything. Unresolvable schema tokens
// normalize to it.
const typeUnknown = "unknown"

var knownTypes = map[string]bool{
	"string":  true,
	"number":  true,
	"boolean": true,
	"object":  true,
	"array":   true,
}

// normalizeType maps schema tokens onto the engine's type lattice.
// Numeric aliases collapse to "number"; anything unrecognized is unknown.
func normalizeType(tok string) string {
	t := strings.ToLower(strings.TrimSpace(tok))
	switch t {
	case "int", "integer", "float", "double", "long":
		return "number"
	case "bool":
		return "boolean"
	}
	if knownTypes[t] {
		return t
	}
	return typeUnknown
}

// fieldTypes flattens a schema document into a field-path -> type map.
// Nested maps become dotted paths and are themselves recorded as "object".
func fieldTypes(schema map[string]any) map[string]string {
	out := make(map[string]string)
	flattenSchema("", schema, out)
	return out
}

func flattenSchema(prefix string, schema map[string]any, out map[string]string) {
	for key, v := range schema {
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}
		switch t := v.(type) {
		case string:
			out[path] = normalizeType(t)
		case map[string]any:
			out[path] = "object"
			flattenSchema(path, t, out)
		default:
			out[path] = typeUnknown
		}
	}
}

// outputFieldTypes returns the declared output field types of a node.
// Nil means the node declares no output schema at all, which disables
// reference and type checks against it.
func outputFieldTypes(n *dsl.Node) map[string]string {
	if len(n.OutputSchema) == 0 {
		return nil
	}
	return fieldTypes(n.OutputSchema)
}

// inputFieldTypes returns the declared input field types of a node,
// read from config.inputSchema. Nil when absent.
func inputFieldTypes(n *dsl.Node) map[string]string {
	raw, _ := n.Config["inputSchema"].(map[string]any)
	if len(raw) == 0 {
		return nil
	}
	return fieldTypes(raw)
}

// resolveFieldType looks a field path up in a declared type map.
//
// Resolution order, first match wins:
//  1. exact path
//  2. bracket indices converted to dots ("a[0].b" -> "a.0.b")
//  3. trailing segments trimmed progressively until a declared ancestor
//     is found (the ancestor's type is returned)
func resolveFieldType(types map[string]string, path string) (string, bool) {
	if len(types) == 0 || path == "" {
		return "", false
	}
	if t, ok := types[path]; ok {
		return t, true
	}
	dotted := bracketsToDots(path)
	if t, ok := types[dotted]; ok {
		return t, true
	}
	for p := trimLastSegment(dotted); p != ""; p = trimLastSegment(p) {
		if t, ok := types[p]; ok {
			return t, true
		}
	}
	return "", false
}

func bracketsToDots(path string) string {
	var b strings.Builder
	for i := 0; i < len(path); i++ {
		switch path[i] {
		case '[':
			if b.Len() > 0 {
				b.WriteByte('.')
			}
		case ']':
		default:
			b.WriteByte(path[i])
		}
	}
	return b.String()
}

func trimLastSegment(path string) string {
	idx := strings.LastIndexByte(path, '.')
	if idx < 0 {
		return ""
	}
	return path[:idx]
}

func compatibleTypes(a, b string) bool {
	return a == typeUnknown || b == typeUnknown || a == b
}

// checkDataFlow verifies field-type compatibility along every data edge.
//
// When the target node declares input bindings that reference the source
// node, each bound pair is checked. Without such bindings, fields are
// matched by identical path name across the two declared maps.
func checkDataFlow(g *dsl.Graph, res *Result) {
	for i := range g.Edges {
		e := &g.Edges[i]
		if e.EdgeType != dsl.EdgeTypeData {
			continue
		}
		src := g.NodeByID(e.From)
		tgt := g.NodeByID(e.To)
		if src == nil || tgt == nil {
			continue
		}
		srcTypes := outputFieldTypes(src)
		tgtTypes := inputFieldTypes(tgt)

		bound := false
		for inputField, binding := range tgt.InputBindings {
			for _, ref := range expr.Scan(binding) {
				if ref.Scope != src.ID {
					continue
				}
				bound = true
				srcType, okSrc := resolveFieldType(srcTypes, ref.Path)
				if !okSrc {
					continue // unresolved paths are reported by checkReferences
				}
				tgtType, okTgt := resolveFieldType(tgtTypes, inputField)
				if !okTgt {
					continue
				}
				if !compatibleTypes(srcType, tgtType) {
					res.errorf(CodeBoundTypeMismatch, tgt.ID, e.ID,
						"binding %q: source field %s.%s is %s, target field %s expects %s",
						binding, src.ID, ref.Path, srcType, inputField, tgtType)
				}
			}
		}
		if bound {
			continue
		}

		// No explicit bindings: compare identically named fields.
		for path, tgtType := range tgtTypes {
			srcType, ok := srcTypes[path]
			if !ok {
				continue
			}
			if !compatibleTypes(srcType, tgtType) {
				res.errorf(CodeNamedTypeMismatch, tgt.ID, e.ID,
					"field %q flows from %s as %s but %s expects %s", path, src.ID, srcType, tgt.ID, tgtType)
			}
		}
	}
}
