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
	"context"

	"github.com/AleutianAI/AleutianFlow/services/workflow/dsl"
)

// passthroughTypes are structural nodes with no computation of their
// own: the input flows through unchanged.
var passthroughTypes = map[string]struct{}{
	"trigger":        {},
	"cron-trigger":   {},
	"signal-trigger": {},
	"manual-trigger": {},
	"join":           {},
	"parallel-join":  {},
	"decision-merge": {},
	"notify":         {},
}

// PassthroughExecutor handles structural node types by echoing input to
// output. It keeps pipelines runnable before type-specific executors
// exist and serves as the terminal executor for trigger and join nodes.
type PassthroughExecutor struct{}

func (PassthroughExecutor) Supports(node *dsl.Node) bool {
	if node == nil {
		return false
	}
	if dsl.IsTrigger(node.Type) {
		return true
	}
	_, ok := passthroughTypes[node.Type]
	return ok
}

func (PassthroughExecutor) Execute(_ context.Context, ec *Context) (*Result, error) {
	if ec == nil || ec.Node == nil {
		return nil, ErrNilContext
	}
	out := make(map[string]any, len(ec.Input))
	for k, v := range ec.Input {
		out[k] = v
	}
	return &Result{Status: StatusSuccess, Output: out}, nil
}
