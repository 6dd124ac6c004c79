// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package executor

import (
	"encoding/json"
	"strings"
)

// ParseOutput turns a raw model completion into a structured output map.
//
// For the "text" format the raw completion is wrapped as {"text": raw}.
// For JSON formats three strategies run in order: a fenced ```json block,
// a balanced-brace scan over the whole completion, and finally a
// degraded wrapper {"rawText": raw, "parseError": true} so callers can
// route on the failure instead of losing the completion.
func ParseOutput(raw, format string) map[string]any {
	if !isJSONFormat(format) {
		return map[string]any{"text": raw}
	}

	if body, ok := fencedJSON(raw); ok {
		if m, ok := tryUnmarshal(body); ok {
			return m
		}
	}
	if body, ok := balancedBraces(raw); ok {
		if m, ok := tryUnmarshal(body); ok {
			return m
		}
	}
	return map[string]any{"rawText": raw, "parseError": true}
}

func tryUnmarshal(body string) (map[string]any, bool) {
	var m map[string]any
	if err := json.Unmarshal([]byte(body), &m); err != nil {
		return nil, false
	}
	return m, true
}

// fencedJSON extracts the body of the first ```json fence, or any ```
// fence if no json-tagged one exists.
func fencedJSON(raw string) (string, bool) {
	for _, tag := range []string{"```json", "```"} {
		start := strings.Index(raw, tag)
		if start < 0 {
			continue
		}
		rest := raw[start+len(tag):]
		end := strings.Index(rest, "```")
		if end < 0 {
			continue
		}
		return strings.TrimSpace(rest[:end]), true
	}
	return "", false
}

// balancedBraces returns the first top-level {...} span, tracking string
// literals and escapes so braces inside values do not break the scan.
func balancedBraces(raw string) (string, bool) {
	start := strings.IndexByte(raw, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(raw); i++ {
		c := raw[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return raw[start : i+1], true
				}
			}
		}
	}
	return "", false
}
