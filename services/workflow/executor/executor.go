// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package executor dispatches pipeline nodes to their executors.
//
// Description:
//
//	The package defines the node-executor contract (Supports/Execute), an
//	execution context created per node invocation, and a registry that
//	routes a node to the first executor supporting its type. Executors
//	produce results, never side effects; persistence belongs to the
//	calling service. Whether sibling branches of a DAG run concurrently
//	is the orchestrating scheduler's concern, not this package's: a
//	dispatch handles exactly one node.
//
// Thread Safety:
//
//	Registry is safe for concurrent use; concurrent dispatches may run on
//	the same Registry. A Context belongs to a single dispatch and must
//	not be shared.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianFlow/services/workflow/dsl"
)

var (
	tracer = otel.Tracer("aleutianflow.executor")
	meter  = otel.Meter("aleutianflow.executor")
)

// Sentinel errors.
var (
	// ErrNoExecutor indicates no registered executor supports the node type.
	ErrNoExecutor = errors.New("no executor supports node type")

	// ErrNilContext indicates a nil execution context was passed.
	ErrNilContext = errors.New("execution context must not be nil")
)

// Status is the terminal state of one node execution.
type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusFailed  Status = "FAILED"
)

// Result is what an executor produces. It is a value, not an error:
// node failures are data the caller routes on.
type Result struct {
	Status  Status         `json:"status"`
	Output  map[string]any `json:"output,omitempty"`
	Message string         `json:"message,omitempty"`
}

// Context is the ephemeral per-invocation state handed to an executor.
// It is created by the dispatching caller and discarded once the result
// is produced.
type Context struct {
	// ExecutionID identifies this invocation in logs and traces.
	ExecutionID string `json:"executionId"`

	// TriggerUserID is the user on whose behalf the run executes.
	TriggerUserID string `json:"triggerUserId,omitempty"`

	// Node is the node being executed.
	Node *dsl.Node `json:"node"`

	// Input is the upstream payload.
	Input map[string]any `json:"input,omitempty"`

	// ParamSnapshot is the resolved parameter map for this run.
	ParamSnapshot map[string]any `json:"paramSnapshot,omitempty"`
}

// NewContext builds an execution context with a fresh execution id.
func NewContext(node *dsl.Node, input, paramSnapshot map[string]any, triggerUserID string) *Context {
	return &Context{
		ExecutionID:   uuid.NewString(),
		TriggerUserID: triggerUserID,
		Node:          node,
		Input:         input,
		ParamSnapshot: paramSnapshot,
	}
}

// NodeExecutor is the polymorphic dispatch contract. One implementation
// typically serves a family of node types.
type NodeExecutor interface {
	// Supports reports whether this executor handles the node.
	Supports(node *dsl.Node) bool

	// Execute runs the node and produces a result. The error return is
	// reserved for infrastructure failures (cancelled context, broken
	// collaborator); domain failures are StatusFailed results.
	Execute(ctx context.Context, ec *Context) (*Result, error)
}

// Registry routes nodes to executors in registration order.
type Registry struct {
	mu        sync.RWMutex
	executors []NodeExecutor
	logger    *slog.Logger

	metricsOnce   sync.Once
	nodeLatency   metric.Float64Histogram
	nodeSuccesses metric.Int64Counter
	nodeFailures  metric.Int64Counter
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register appends an executor. First registered wins on overlap.
func (r *Registry) Register(e NodeExecutor) {
	if e == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors = append(r.executors, e)
}

// initMetrics lazily initializes metrics. Metric failures degrade
// observability, not execution.
func (r *Registry) initMetrics() {
	r.metricsOnce.Do(func() {
		var initErrors []string

		var err error
		r.nodeLatency, err = meter.Float64Histogram("flow_node_duration_seconds",
			metric.WithDescription("Time spent executing each pipeline node"),
			metric.WithUnit("s"),
		)
		if err != nil {
			initErrors = append(initErrors, "node_latency: "+err.Error())
		}

		r.nodeSuccesses, err = meter.Int64Counter("flow_node_success_total",
			metric.WithDescription("Number of successful node executions"),
		)
		if err != nil {
			initErrors = append(initErrors, "node_successes: "+err.Error())
		}

		r.nodeFailures, err = meter.Int64Counter("flow_node_failure_total",
			metric.WithDescription("Number of failed node executions"),
		)
		if err != nil {
			initErrors = append(initErrors, "node_failures: "+err.Error())
		}

		if len(initErrors) > 0 {
			r.logger.Error("failed to initialize some executor metrics (observability degraded)",
				slog.Int("failed_count", len(initErrors)),
				slog.Any("errors", initErrors),
			)
		}
	})
}

// Dispatch routes one node invocation to its executor.
func (r *Registry) Dispatch(ctx context.Context, ec *Context) (*Result, error) {
	if ec == nil || ec.Node == nil {
		return nil, ErrNilContext
	}
	r.initMetrics()

	ctx, span := tracer.Start(ctx, "executor.Dispatch",
		trace.WithAttributes(
			attribute.String("node.id", ec.Node.ID),
			attribute.String("node.type", ec.Node.Type),
			attribute.String("execution.id", ec.ExecutionID),
		),
	)
	defer span.End()

	exec := r.executorFor(ec.Node)
	if exec == nil {
		err := fmt.Errorf("%w: %q", ErrNoExecutor, ec.Node.Type)
		span.RecordError(err)
		span.SetStatus(codes.Error, "no executor")
		return nil, err
	}

	start := time.Now()
	res, err := exec.Execute(ctx, ec)
	elapsed := time.Since(start)

	attrs := metric.WithAttributes(attribute.String("node.type", ec.Node.Type))
	if r.nodeLatency != nil {
		r.nodeLatency.Record(ctx, elapsed.Seconds(), attrs)
	}

	switch {
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if r.nodeFailures != nil {
			r.nodeFailures.Add(ctx, 1, attrs)
		}
		r.logger.Error("node dispatch failed",
			slog.String("node_id", ec.Node.ID),
			slog.String("execution_id", ec.ExecutionID),
			slog.Duration("elapsed", elapsed),
			slog.Any("error", err),
		)
	case res.Status == StatusFailed:
		span.SetStatus(codes.Error, res.Message)
		if r.nodeFailures != nil {
			r.nodeFailures.Add(ctx, 1, attrs)
		}
		r.logger.Warn("node execution failed",
			slog.String("node_id", ec.Node.ID),
			slog.String("execution_id", ec.ExecutionID),
			slog.String("message", res.Message),
		)
	default:
		span.SetStatus(codes.Ok, "")
		if r.nodeSuccesses != nil {
			r.nodeSuccesses.Add(ctx, 1, attrs)
		}
		r.logger.Debug("node executed",
			slog.String("node_id", ec.Node.ID),
			slog.String("execution_id", ec.ExecutionID),
			slog.Duration("elapsed", elapsed),
		)
	}
	return res, err
}

func (r *Registry) executorFor(node *dsl.Node) NodeExecutor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.executors {
		if e.Supports(node) {
			return e
		}
	}
	return nil
}
