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
	"fmt"
	"math"
	"strings"
)

// CheckGuardrails applies the profile's output constraints: required
// fields present, confidence above the floor, and no forbidden
// substrings anywhere in the serialized output. Each violation yields
// one message; an empty slice means the output passed.
func CheckGuardrails(output map[string]any, profile *AgentProfile) []string {
	var problems []string

	for _, field := range profile.RequiredFields {
		if _, ok := output[field]; !ok {
			problems = append(problems, fmt.Sprintf("required field %q missing", field))
		}
	}

	if profile.MinConfidence != nil {
		conf, ok := numericField(output, "confidence")
		if !ok {
			problems = append(problems, "confidence is not numeric")
		} else if conf < *profile.MinConfidence {
			problems = append(problems, fmt.Sprintf("confidence %.3f below minimum %.3f", conf, *profile.MinConfidence))
		}
	}

	if len(profile.ForbiddenSubstrings) > 0 {
		serialized, err := json.Marshal(output)
		if err == nil {
			haystack := strings.ToLower(string(serialized))
			for _, sub := range profile.ForbiddenSubstrings {
				if sub != "" && strings.Contains(haystack, strings.ToLower(sub)) {
					problems = append(problems, fmt.Sprintf("forbidden content %q present", sub))
				}
			}
		}
	}

	return problems
}

// CheckBaseFields enforces the base verdict contract every JSON agent
// output carries: a non-empty thesis string, a finite numeric
// confidence, and an evidence array.
func CheckBaseFields(output map[string]any) []string {
	var problems []string

	thesis, ok := output["thesis"].(string)
	if !ok || strings.TrimSpace(thesis) == "" {
		problems = append(problems, "thesis must be a non-empty string")
	}

	conf, ok := numericField(output, "confidence")
	if !ok || math.IsNaN(conf) || math.IsInf(conf, 0) {
		problems = append(problems, "confidence must be a finite number")
	}

	if _, ok := output["evidence"].([]any); !ok {
		problems = append(problems, "evidence must be an array")
	}

	return problems
}

func numericField(output map[string]any, key string) (float64, bool) {
	switch v := output[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
