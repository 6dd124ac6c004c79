// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package params

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateItem_NumberRange(t *testing.T) {
	it := &Item{
		ParamCode: "max_position", ParamType: TypeNumber, ScopeLevel: ScopeGlobal,
		MinValue: float64(0), MaxValue: float64(10),
	}

	it.Value = float64(11)
	assert.Error(t, ValidateItem(it), "11 is outside [0,10]")

	it.Value = float64(10)
	assert.NoError(t, ValidateItem(it), "10 is the inclusive upper bound")

	it.Value = float64(-1)
	assert.Error(t, ValidateItem(it))
}

func TestValidateItem_NumberCoercion(t *testing.T) {
	it := &Item{ParamCode: "n", ParamType: TypeNumber, ScopeLevel: ScopeGlobal}

	it.Value = "3.5"
	assert.NoError(t, ValidateItem(it), "numeric strings coerce")

	it.Value = "not-a-number"
	assert.Error(t, ValidateItem(it))

	it.Value = nil
	it.DefaultValue = true
	assert.Error(t, ValidateItem(it), "defaultValue must coerce too")
}

func TestValidateItem_MinGreaterThanMax(t *testing.T) {
	it := &Item{
		ParamCode: "n", ParamType: TypeNumber, ScopeLevel: ScopeGlobal,
		MinValue: float64(5), MaxValue: float64(1),
	}
	assert.Error(t, ValidateItem(it))
}

func TestValidateItem_Boolean(t *testing.T) {
	it := &Item{ParamCode: "flag", ParamType: TypeBoolean, ScopeLevel: ScopeGlobal, Value: true}
	assert.NoError(t, ValidateItem(it))

	it.Value = "true"
	assert.Error(t, ValidateItem(it))
}

func TestValidateItem_StringKinds(t *testing.T) {
	for _, pt := range []ParamType{TypeString, TypeEnum, TypeExpression} {
		it := &Item{ParamCode: "s", ParamType: pt, ScopeLevel: ScopeGlobal, Value: "ok"}
		assert.NoError(t, ValidateItem(it), string(pt))

		it.Value = float64(1)
		assert.Error(t, ValidateItem(it), string(pt))
	}
}

func TestValidateItem_JSONUnchecked(t *testing.T) {
	it := &Item{
		ParamCode: "blob", ParamType: TypeJSON, ScopeLevel: ScopeGlobal,
		Value: map[string]any{"anything": []any{1, "two"}},
	}
	assert.NoError(t, ValidateItem(it))
}

func TestValidateItem_UnitRules(t *testing.T) {
	it := &Item{ParamCode: "n", ParamType: TypeNumber, ScopeLevel: ScopeGlobal, Unit: "USD/bushel"}
	assert.NoError(t, ValidateItem(it))

	it.Unit = strings.Repeat("x", MaxUnitLength+1)
	assert.Error(t, ValidateItem(it), "unit too long")

	str := &Item{ParamCode: "s", ParamType: TypeString, ScopeLevel: ScopeGlobal, Unit: "kg"}
	assert.Error(t, ValidateItem(str), "unit forbidden on non-numeric types")
}

func TestCheckExpressionRefs(t *testing.T) {
	set := &Set{
		ID: "ps-1", IsActive: true,
		Items: []Item{
			{ID: "i1", ParamCode: "stop_loss", ParamType: TypeNumber, ScopeLevel: ScopeGlobal, IsActive: true},
			{ID: "i2", ParamCode: "gone", ParamType: TypeNumber, ScopeLevel: ScopeGlobal, IsActive: false},
		},
	}

	ok := &Item{ParamCode: "derived", ParamType: TypeExpression, ScopeLevel: ScopeGlobal,
		Value: "{{params.stop_loss}} * 2"}
	assert.NoError(t, CheckExpressionRefs(set, ok))

	selfRef := &Item{ParamCode: "derived", ParamType: TypeExpression, ScopeLevel: ScopeGlobal,
		Value: "params.derived + 1"}
	assert.NoError(t, CheckExpressionRefs(set, selfRef), "self references are ignored")

	bad := &Item{ParamCode: "derived", ParamType: TypeExpression, ScopeLevel: ScopeGlobal,
		Value: "params.gone + params.never_existed"}
	err := CheckExpressionRefs(set, bad)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownParamRefs)
	assert.Contains(t, err.Error(), "gone")
	assert.Contains(t, err.Error(), "never_existed")
}

func TestCheckScopeUniqueness(t *testing.T) {
	set := &Set{
		ID: "ps-1", IsActive: true,
		Items: []Item{
			{ID: "i1", ParamCode: "x", ScopeLevel: ScopeCommodity, ScopeValue: "CORN", IsActive: true},
			{ID: "i2", ParamCode: "x", ScopeLevel: ScopeCommodity, ScopeValue: "WHEAT", IsActive: true},
			{ID: "i3", ParamCode: "x", ScopeLevel: ScopeGlobal, IsActive: false},
		},
	}

	dup := &Item{ID: "new", ParamCode: "x", ScopeLevel: ScopeCommodity, ScopeValue: "CORN"}
	assert.ErrorIs(t, CheckScopeUniqueness(set, dup), ErrDuplicateScope)

	// Updating the occupying item itself is fine.
	same := &Item{ID: "i1", ParamCode: "x", ScopeLevel: ScopeCommodity, ScopeValue: "CORN"}
	assert.NoError(t, CheckScopeUniqueness(set, same))

	// Inactive items do not block the slot.
	global := &Item{ID: "new", ParamCode: "x", ScopeLevel: ScopeGlobal}
	assert.NoError(t, CheckScopeUniqueness(set, global))
}

// memSetStore is a test double for SetStore.
type memSetStore struct {
	sets map[string]*Set
}

func (m *memSetStore) GetSet(_ context.Context, id string) (*Set, error) {
	s, ok := m.sets[id]
	if !ok {
		return nil, nil
	}
	cp := *s
	cp.Items = append([]Item(nil), s.Items...)
	return &cp, nil
}

func (m *memSetStore) PutSet(_ context.Context, s *Set) error {
	m.sets[s.ID] = s
	return nil
}

// memAudit is a test double for AuditLog.
type memAudit struct {
	entries []AuditEntry
}

func (m *memAudit) Append(_ context.Context, e AuditEntry) error {
	m.entries = append(m.entries, e)
	return nil
}

func TestService_WriteLifecycle(t *testing.T) {
	store := &memSetStore{sets: map[string]*Set{
		"ps-1": {ID: "ps-1", Code: "grain", IsActive: true},
	}}
	audit := &memAudit{}
	svc := NewService(store, audit, nil)
	ctx := context.Background()

	created, err := svc.CreateItem(ctx, "ps-1", Item{
		ParamCode: "window", ParamType: TypeNumber, ScopeLevel: ScopeGlobal, Value: float64(14),
	}, "u-1")
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)

	created.Value = float64(21)
	updated, err := svc.UpdateItem(ctx, "ps-1", *created, "u-1")
	require.NoError(t, err)
	assert.Equal(t, float64(21), updated.Value)

	require.NoError(t, svc.DeactivateItem(ctx, "ps-1", created.ID, "u-1"))

	// Deactivated, never deleted.
	set, err := store.GetSet(ctx, "ps-1")
	require.NoError(t, err)
	require.Len(t, set.Items, 1)
	assert.False(t, set.Items[0].IsActive)

	require.Len(t, audit.entries, 3)
	assert.Equal(t, AuditCreate, audit.entries[0].Action)
	assert.Equal(t, AuditUpdate, audit.entries[1].Action)
	assert.Equal(t, AuditDeactivate, audit.entries[2].Action)
	for _, e := range audit.entries {
		assert.NotEmpty(t, e.ID)
		assert.False(t, e.At.IsZero())
	}
}

func TestService_RejectsInvalidWrite(t *testing.T) {
	store := &memSetStore{sets: map[string]*Set{"ps-1": {ID: "ps-1", IsActive: true}}}
	svc := NewService(store, &memAudit{}, nil)

	_, err := svc.CreateItem(context.Background(), "ps-1", Item{
		ParamCode: "n", ParamType: TypeNumber, ScopeLevel: ScopeGlobal,
		Value: float64(11), MinValue: float64(0), MaxValue: float64(10),
	}, "u-1")
	assert.Error(t, err)

	_, err = svc.CreateItem(context.Background(), "missing", Item{
		ParamCode: "n", ParamType: TypeNumber, ScopeLevel: ScopeGlobal,
	}, "u-1")
	assert.ErrorIs(t, err, ErrSetNotFound)
}
