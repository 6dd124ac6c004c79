// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package params resolves layered, scope-prioritized parameter sets into
// effective key/value pairs and validates writes against them.
//
// A parameter set owns many items. Each item binds a code to a value at
// one scope level (template, global, dimensional, or session) with an
// optional effective window. Resolution picks, per code, the matching item
// with the highest scope priority, breaking ties by most recent update.
// Session values never come from stored items; they arrive as request
// overrides and always win.
package params

import "time"

// ScopeLevel is a priority tier for a stored parameter item.
type ScopeLevel string

const (
	ScopePublicTemplate ScopeLevel = "PUBLIC_TEMPLATE"
	ScopeUserTemplate   ScopeLevel = "USER_TEMPLATE"
	ScopeGlobal         ScopeLevel = "GLOBAL"
	ScopeCommodity      ScopeLevel = "COMMODITY"
	ScopeRegion         ScopeLevel = "REGION"
	ScopeRoute          ScopeLevel = "ROUTE"
	ScopeStrategy       ScopeLevel = "STRATEGY"
	ScopeSession        ScopeLevel = "SESSION"
)

// scopePriority ranks scopes; a higher number wins the resolution fold.
// Dimensional scopes outrank the global baseline, templates outrank all
// stored scopes. Session is listed for completeness; stored session items
// never match (see matches), session values arrive as request overrides.
var scopePriority = map[ScopeLevel]int{
	ScopeGlobal:         1,
	ScopeCommodity:      2,
	ScopeRegion:         3,
	ScopeRoute:          4,
	ScopeStrategy:       5,
	ScopeUserTemplate:   6,
	ScopePublicTemplate: 7,
	ScopeSession:        8,
}

// ParamType classifies an item's value.
type ParamType string

const (
	TypeNumber     ParamType = "number"
	TypeBoolean    ParamType = "boolean"
	TypeString     ParamType = "string"
	TypeEnum       ParamType = "enum"
	TypeExpression ParamType = "expression"
	TypeJSON       ParamType = "json"
)

// Item is one stored parameter value. Items are never physically deleted;
// deactivation clears IsActive and the change lands in the audit log.
type Item struct {
	ID            string     `json:"id"`
	ParamCode     string     `json:"paramCode"`
	ParamType     ParamType  `json:"paramType"`
	Value         any        `json:"value,omitempty"`
	DefaultValue  any        `json:"defaultValue,omitempty"`
	MinValue      any        `json:"minValue,omitempty"`
	MaxValue      any        `json:"maxValue,omitempty"`
	Unit          string     `json:"unit,omitempty"`
	ScopeLevel    ScopeLevel `json:"scopeLevel"`
	ScopeValue    string     `json:"scopeValue,omitempty"`
	EffectiveFrom *time.Time `json:"effectiveFrom,omitempty"`
	EffectiveTo   *time.Time `json:"effectiveTo,omitempty"`
	IsActive      bool       `json:"isActive"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// Set owns a collection of items under one code.
type Set struct {
	ID          string `json:"id"`
	Code        string `json:"code"`
	Name        string `json:"name,omitempty"`
	OwnerUserID string `json:"ownerUserId,omitempty"`
	IsActive    bool   `json:"isActive"`
	Items       []Item `json:"items"`
}

// ActiveItems returns the set's active items.
func (s *Set) ActiveItems() []Item {
	out := make([]Item, 0, len(s.Items))
	for _, it := range s.Items {
		if it.IsActive {
			out = append(out, it)
		}
	}
	return out
}

// Context carries the request dimensions a resolution runs against.
type Context struct {
	Commodity        string         `json:"commodity,omitempty"`
	Region           string         `json:"region,omitempty"`
	Route            string         `json:"route,omitempty"`
	Strategy         string         `json:"strategy,omitempty"`
	SessionOverrides map[string]any `json:"sessionOverrides,omitempty"`

	// Now anchors the effective-window check. Zero means time.Now().
	Now time.Time `json:"-"`
}

// Resolved is one effective parameter value.
type Resolved struct {
	ParamCode   string     `json:"paramCode"`
	Value       any        `json:"value"`
	SourceScope ScopeLevel `json:"sourceScope"`
}
