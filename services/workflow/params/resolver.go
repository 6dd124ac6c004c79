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
	"sort"
	"time"
)

// Resolve computes the effective values of a set for a request context.
//
// Description:
//
//	Matching, currently-effective items are stable-sorted by ascending
//	scope priority, then by ascending update time. The sorted items are
//	folded into a map where later entries overwrite earlier ones, so the
//	highest-priority item wins per code and the most recently updated item
//	wins among equal priorities. Session overrides from the context are
//	applied last and win unconditionally.
//
//	The effective value of an item is value, else defaultValue, else nil.
//
// Thread Safety:
//
//	Resolve is a pure computation over the supplied set; it is safe to
//	call concurrently as long as callers do not mutate the set.
func Resolve(set *Set, rc Context) []Resolved {
	now := rc.Now
	if now.IsZero() {
		now = time.Now()
	}

	candidates := make([]Item, 0, len(set.Items))
	for _, it := range set.Items {
		if !it.IsActive || !matches(it, rc) || !effectiveAt(it, now) {
			continue
		}
		candidates = append(candidates, it)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		pi, pj := scopePriority[candidates[i].ScopeLevel], scopePriority[candidates[j].ScopeLevel]
		if pi != pj {
			return pi < pj
		}
		return candidates[i].UpdatedAt.Before(candidates[j].UpdatedAt)
	})

	merged := make(map[string]Resolved, len(candidates))
	for _, it := range candidates {
		merged[it.ParamCode] = Resolved{
			ParamCode:   it.ParamCode,
			Value:       effectiveValue(it),
			SourceScope: it.ScopeLevel,
		}
	}

	for code, v := range rc.SessionOverrides {
		merged[code] = Resolved{ParamCode: code, Value: v, SourceScope: ScopeSession}
	}

	out := make([]Resolved, 0, len(merged))
	for _, r := range merged {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ParamCode < out[j].ParamCode })
	return out
}

// ResolveMap is Resolve flattened into a code -> value map, the shape the
// node executors embed into their execution context.
func ResolveMap(set *Set, rc Context) map[string]any {
	resolved := Resolve(set, rc)
	out := make(map[string]any, len(resolved))
	for _, r := range resolved {
		out[r.ParamCode] = r.Value
	}
	return out
}

// matches reports whether a stored item applies to the request context.
// Template and global scopes always apply. Dimensional scopes apply only
// when the context supplies the dimension and it equals the item's scope
// value. Stored session items never apply.
func matches(it Item, rc Context) bool {
	switch it.ScopeLevel {
	case ScopePublicTemplate, ScopeUserTemplate, ScopeGlobal:
		return true
	case ScopeCommodity:
		return rc.Commodity != "" && rc.Commodity == it.ScopeValue
	case ScopeRegion:
		return rc.Region != "" && rc.Region == it.ScopeValue
	case ScopeRoute:
		return rc.Route != "" && rc.Route == it.ScopeValue
	case ScopeStrategy:
		return rc.Strategy != "" && rc.Strategy == it.ScopeValue
	case ScopeSession:
		return false
	default:
		return false
	}
}

func effectiveAt(it Item, now time.Time) bool {
	if it.EffectiveFrom != nil && now.Before(*it.EffectiveFrom) {
		return false
	}
	if it.EffectiveTo != nil && now.After(*it.EffectiveTo) {
		return false
	}
	return true
}

func effectiveValue(it Item) any {
	if it.Value != nil {
		return it.Value
	}
	if it.DefaultValue != nil {
		return it.DefaultValue
	}
	return nil
}
