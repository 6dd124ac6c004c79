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
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/AleutianAI/AleutianFlow/pkg/validation"
	"github.com/AleutianAI/AleutianFlow/services/workflow/expr"
)

// MaxUnitLength caps the unit string on numeric items.
const MaxUnitLength = 20

// Write-side sentinel errors.
var (
	// ErrInvalidItem wraps type and range violations found by ValidateItem.
	ErrInvalidItem = errors.New("invalid parameter item")

	// ErrDuplicateScope indicates another active item already occupies the
	// same (paramCode, scopeLevel, scopeValue) slot in the set.
	ErrDuplicateScope = errors.New("active item already exists for this code and scope")

	// ErrUnknownParamRefs indicates an expression value references codes
	// that do not exist as active items in the set.
	ErrUnknownParamRefs = errors.New("expression references unknown parameter codes")
)

// ValidateItem applies the type-specific write checks to one item.
//
// Description:
//
//	number items coerce value/default/min/max and require finiteness;
//	boolean items require bools; string, enum, and expression items
//	require strings; json items are unchecked. The range check applies
//	only to numbers: min <= max when both are present, and the value must
//	lie inside [min, max]. Unit is forbidden on non-numeric items and
//	capped at MaxUnitLength on numeric ones.
func ValidateItem(it *Item) error {
	if err := validation.ValidateParamCode(it.ParamCode); err != nil {
		return err
	}
	if _, ok := scopePriority[it.ScopeLevel]; !ok {
		return fmt.Errorf("unknown scopeLevel %q", it.ScopeLevel)
	}
	if it.ScopeValue != "" {
		if err := validation.ValidateScopeValue(it.ScopeValue); err != nil {
			return err
		}
	}

	switch it.ParamType {
	case TypeNumber:
		if err := validateNumberItem(it); err != nil {
			return err
		}
	case TypeBoolean:
		for name, v := range map[string]any{"value": it.Value, "defaultValue": it.DefaultValue} {
			if v == nil {
				continue
			}
			if _, ok := v.(bool); !ok {
				return fmt.Errorf("%s of boolean parameter %q must be a boolean", name, it.ParamCode)
			}
		}
	case TypeString, TypeEnum, TypeExpression:
		for name, v := range map[string]any{"value": it.Value, "defaultValue": it.DefaultValue} {
			if v == nil {
				continue
			}
			if _, ok := v.(string); !ok {
				return fmt.Errorf("%s of %s parameter %q must be a string", name, it.ParamType, it.ParamCode)
			}
		}
	case TypeJSON:
		// Unchecked; downstream consumers decode it themselves.
	default:
		return fmt.Errorf("unknown paramType %q", it.ParamType)
	}

	if it.Unit != "" {
		if it.ParamType != TypeNumber {
			return fmt.Errorf("unit is not allowed on %s parameter %q", it.ParamType, it.ParamCode)
		}
		if len(it.Unit) > MaxUnitLength {
			return fmt.Errorf("unit of parameter %q exceeds %d characters", it.ParamCode, MaxUnitLength)
		}
	}
	return nil
}

func validateNumberItem(it *Item) error {
	coerce := func(name string, v any) (*float64, error) {
		if v == nil {
			return nil, nil
		}
		f, ok := toFloat(v)
		if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("%s of numeric parameter %q must be a finite number", name, it.ParamCode)
		}
		return &f, nil
	}

	value, err := coerce("value", it.Value)
	if err != nil {
		return err
	}
	if _, err := coerce("defaultValue", it.DefaultValue); err != nil {
		return err
	}
	minV, err := coerce("minValue", it.MinValue)
	if err != nil {
		return err
	}
	maxV, err := coerce("maxValue", it.MaxValue)
	if err != nil {
		return err
	}

	if minV != nil && maxV != nil {
		if *minV > *maxV {
			return fmt.Errorf("parameter %q has minValue %g > maxValue %g", it.ParamCode, *minV, *maxV)
		}
		if value != nil && (*value < *minV || *value > *maxV) {
			return fmt.Errorf("value %g of parameter %q is outside [%g, %g]", *value, it.ParamCode, *minV, *maxV)
		}
	}
	return nil
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// CheckScopeUniqueness rejects a write that would create a second active
// item for the same (paramCode, scopeLevel, scopeValue) key. The item
// being updated is identified by id and skipped.
func CheckScopeUniqueness(set *Set, it *Item) error {
	for i := range set.Items {
		existing := &set.Items[i]
		if !existing.IsActive || existing.ID == it.ID {
			continue
		}
		if existing.ParamCode == it.ParamCode &&
			existing.ScopeLevel == it.ScopeLevel &&
			existing.ScopeValue == it.ScopeValue {
			return fmt.Errorf("%w: %s/%s/%s", ErrDuplicateScope, it.ParamCode, it.ScopeLevel, it.ScopeValue)
		}
	}
	return nil
}

// CheckExpressionRefs verifies that an expression value only references
// parameter codes that exist as active items in the same set. Self
// references are ignored.
func CheckExpressionRefs(set *Set, it *Item) error {
	if it.ParamType != TypeExpression {
		return nil
	}
	value, _ := it.Value.(string)
	if value == "" {
		return nil
	}

	active := make(map[string]bool)
	for _, existing := range set.ActiveItems() {
		active[existing.ParamCode] = true
	}

	var missing []string
	for _, code := range expr.ParamCodes(value) {
		if code == it.ParamCode || active[code] {
			continue
		}
		missing = append(missing, code)
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrUnknownParamRefs, strings.Join(missing, ", "))
	}
	return nil
}
