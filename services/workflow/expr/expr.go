// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package expr implements a small scanner for moustache expressions of the
// form {{scope.path | default}}.
//
// The scanner replaces the regex extraction used in earlier revisions. It
// tracks brace depth and quoted string literals, so pipes or braces inside
// a quoted default no longer terminate the token early.
//
// Grammar (informal):
//
//	token   = "{{" expr [ "|" default ] "}}"
//	expr    = scope [ "." path ]
//	scope   = ident
//	path    = dotted field path, bracket indices allowed ("a[0].b")
//	default = any text, single or double quotes protect "|" and "}}"
//
// Thread Safety: all functions are pure and safe for concurrent use.
package expr

import (
	"fmt"
	"strings"
)

// Ref is one parsed moustache token.
type Ref struct {
	// Scope is the first path segment ("params", "meta", or a node id).
	Scope string

	// Path is everything after the first dot. Empty for bare {{scope}}.
	Path string

	// Default is the trimmed default text after "|", quotes stripped.
	Default string

	// HasDefault distinguishes {{x|}} from {{x}}.
	HasDefault bool

	// Raw is the full token including the surrounding braces.
	Raw string
}

// Expr returns the reference without its default suffix ("scope.path").
func (r Ref) Expr() string {
	if r.Path == "" {
		return r.Scope
	}
	return r.Scope + "." + r.Path
}

// Scan extracts every moustache token from s, in order of appearance.
// Malformed tokens (unterminated braces) are ignored.
func Scan(s string) []Ref {
	var refs []Ref
	for i := 0; i+1 < len(s); {
		if s[i] != '{' || s[i+1] != '{' {
			i++
			continue
		}
		inner, end, ok := scanToken(s, i+2)
		if !ok {
			i += 2
			continue
		}
		ref := parseInner(inner)
		ref.Raw = s[i:end]
		refs = append(refs, ref)
		i = end
	}
	return refs
}

// scanToken consumes characters from start until the matching "}}" at
// depth zero, honoring quoted literals. Returns the inner text and the
// index just past the closing braces.
func scanToken(s string, start int) (inner string, end int, ok bool) {
	depth := 0
	var quote byte
	for i := start; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"':
			quote = c
		case '{':
			if i+1 < len(s) && s[i+1] == '{' {
				depth++
				i++
			}
		case '}':
			if i+1 < len(s) && s[i+1] == '}' {
				if depth == 0 {
					return s[start:i], i + 2, true
				}
				depth--
				i++
			}
		}
	}
	return "", 0, false
}

// parseInner splits the token body into expression and default parts on
// the first unquoted pipe, then splits the expression into scope and path.
func parseInner(inner string) Ref {
	exprPart := inner
	defaultPart := ""
	hasDefault := false

	var quote byte
	for i := 0; i < len(inner); i++ {
		c := inner[i]
		if quote != 0 {
			if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"':
			quote = c
		case '|':
			exprPart = inner[:i]
			defaultPart = inner[i+1:]
			hasDefault = true
		}
		if hasDefault {
			break
		}
	}

	ref := Ref{
		Default:    unquote(strings.TrimSpace(defaultPart)),
		HasDefault: hasDefault,
	}

	e := strings.TrimSpace(exprPart)
	for i := 0; i < len(e); i++ {
		if e[i] == '.' || e[i] == '[' {
			ref.Scope = e[:i]
			if e[i] == '.' {
				ref.Path = e[i+1:]
			} else {
				ref.Path = e[i:]
			}
			return ref
		}
	}
	ref.Scope = e
	return ref
}

func unquote(s string) string {
	if len(s) >= 2 {
		if (s[0] == '\'' && s[len(s)-1] == '\'') || (s[0] == '"' && s[len(s)-1] == '"') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

// ScanValue walks an arbitrary decoded-JSON value (maps, slices, strings)
// and returns every moustache token found in any string leaf.
func ScanValue(v any) []Ref {
	var refs []Ref
	walkStrings(v, func(s string) {
		refs = append(refs, Scan(s)...)
	})
	return refs
}

func walkStrings(v any, fn func(string)) {
	switch t := v.(type) {
	case string:
		fn(t)
	case map[string]any:
		for _, mv := range t {
			walkStrings(mv, fn)
		}
	case []any:
		for _, sv := range t {
			walkStrings(sv, fn)
		}
	}
}

// ParamCodes returns the parameter codes referenced in s, either as bare
// "params.<code>" text or as {{params.<code>}} tokens. Moustache references
// are listed first, then bare references, without duplicates.
func ParamCodes(s string) []string {
	seen := make(map[string]bool)
	var codes []string
	add := func(code string) {
		if code != "" && !seen[code] {
			seen[code] = true
			codes = append(codes, code)
		}
	}

	for _, ref := range Scan(s) {
		if ref.Scope == "params" {
			add(firstSegment(ref.Path))
		}
	}

	const marker = "params."
	for i := 0; i+len(marker) <= len(s); i++ {
		if s[i:i+len(marker)] != marker {
			continue
		}
		if i > 0 && isIdentByte(s[i-1]) {
			continue
		}
		j := i + len(marker)
		k := j
		for k < len(s) && isIdentByte(s[k]) {
			k++
		}
		add(s[j:k])
		i = k
	}
	return codes
}

func firstSegment(path string) string {
	for i := 0; i < len(path); i++ {
		if path[i] == '.' || path[i] == '[' {
			return path[:i]
		}
	}
	return path
}

func isIdentByte(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}

// Interpolate replaces every moustache token in template with the matching
// value from vars. Lookup tries the full expression text first, then a
// nested walk (vars[scope] descended by path segments). Unmatched tokens
// without a default are left verbatim.
func Interpolate(template string, vars map[string]any) string {
	refs := Scan(template)
	if len(refs) == 0 {
		return template
	}
	var b strings.Builder
	rest := template
	for _, ref := range refs {
		idx := strings.Index(rest, ref.Raw)
		if idx < 0 {
			continue
		}
		b.WriteString(rest[:idx])
		if v, ok := lookup(vars, ref); ok {
			b.WriteString(fmt.Sprint(v))
		} else if ref.HasDefault {
			b.WriteString(ref.Default)
		} else {
			b.WriteString(ref.Raw)
		}
		rest = rest[idx+len(ref.Raw):]
	}
	b.WriteString(rest)
	return b.String()
}

func lookup(vars map[string]any, ref Ref) (any, bool) {
	if v, ok := vars[ref.Expr()]; ok {
		return v, true
	}
	cur, ok := vars[ref.Scope]
	if !ok {
		return nil, false
	}
	if ref.Path == "" {
		return cur, true
	}
	for _, seg := range strings.Split(ref.Path, ".") {
		m, isMap := cur.(map[string]any)
		if !isMap {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}
