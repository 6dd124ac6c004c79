// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package schema

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tradeThesis() Definition {
	return Definition{
		Code:     "trade-thesis",
		Required: []string{"thesis", "confidence"},
		Fields: map[string]string{
			"thesis":     "string",
			"confidence": "number",
			"evidence":   "array",
		},
	}
}

func TestValidateByCode(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(tradeThesis())

	res := r.ValidateByCode("trade-thesis", map[string]any{
		"thesis":     "corn basis widens",
		"confidence": 0.8,
		"evidence":   []any{"usda report"},
	})
	assert.True(t, res.Valid, "%v", res.Errors)

	res = r.ValidateByCode("trade-thesis", map[string]any{
		"thesis":     42,
		"confidence": "high",
	})
	assert.False(t, res.Valid)
	assert.Len(t, res.Errors, 2)

	res = r.ValidateByCode("trade-thesis", map[string]any{"confidence": 0.5})
	assert.False(t, res.Valid, "missing required thesis")
}

func TestValidateByCode_UnregisteredFails(t *testing.T) {
	r := NewRegistry(nil)
	res := r.ValidateByCode("ghost", map[string]any{})
	assert.False(t, res.Valid)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "not registered")
}

func TestValidateByCode_NestedPaths(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(Definition{
		Code:     "risk-verdict",
		Required: []string{"verdict.level"},
		Fields:   map[string]string{"verdict.level": "string"},
	})

	res := r.ValidateByCode("risk-verdict", map[string]any{
		"verdict": map[string]any{"level": "high"},
	})
	assert.True(t, res.Valid, "%v", res.Errors)

	res = r.ValidateByCode("risk-verdict", map[string]any{"verdict": "high"})
	assert.False(t, res.Valid)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "schemas.yaml")
	content := `
schemas:
  - code: trade-thesis
    required: [thesis]
    fields:
      thesis: string
  - code: risk-verdict
    fields:
      level: string
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	r := NewRegistry(nil)
	require.NoError(t, r.LoadFile(path))
	assert.ElementsMatch(t, []string{"trade-thesis", "risk-verdict"}, r.Codes())

	res := r.ValidateByCode("trade-thesis", map[string]any{"thesis": "ok"})
	assert.True(t, res.Valid)
}

func TestLoadFile_RejectsMissingCode(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "schemas.yaml")
	require.NoError(t, os.WriteFile(path, []byte("schemas:\n  - required: [x]\n"), 0o600))

	r := NewRegistry(nil)
	assert.Error(t, r.LoadFile(path))
}
