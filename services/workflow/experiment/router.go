// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package experiment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	routedRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flow_experiment_routed_total",
		Help: "Runs routed to an experiment variant.",
	}, []string{"variant"})
	autoAborts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flow_experiment_auto_aborts_total",
		Help: "Experiments aborted automatically by the bad-case check.",
	})
)

// Sentinel errors.
var (
	// ErrExperimentNotFound indicates the id resolves to no experiment.
	ErrExperimentNotFound = errors.New("experiment not found")

	// ErrNotRunning indicates routing was requested outside RUNNING.
	ErrNotRunning = errors.New("experiment is not running")

	// ErrExecutionCapReached indicates maxExecutions has been consumed.
	ErrExecutionCapReached = errors.New("experiment execution cap reached")

	// ErrBadTransition indicates an illegal lifecycle transition.
	ErrBadTransition = errors.New("invalid experiment state transition")
)

// Store persists experiment records. Implementations must return the
// same *Experiment instance across Gets for a given id while the router
// holds it; the router serializes access per experiment.
type Store interface {
	GetExperiment(ctx context.Context, id string) (*Experiment, error)
	PutExperiment(ctx context.Context, exp *Experiment) error
}

// RunSink receives individual run records for persistence. Sink failures
// do not unwind metric updates.
type RunSink interface {
	AppendRun(ctx context.Context, run Run) error
}

// Router owns experiment lifecycle, traffic splitting and metric
// aggregation.
//
// Thread Safety:
//
//	Safe for concurrent use. All reads and writes to one experiment are
//	serialized under a per-experiment mutex, so the max-executions check
//	and counter increments are atomic with respect to each other.
type Router struct {
	store  Store
	sink   RunSink
	logger *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	// randFn returns a draw in [0,100). Replaced in tests.
	randFn func() float64
	now    func() time.Time
}

// NewRouter wires a router. sink may be nil when run persistence is not
// needed.
func NewRouter(store Store, sink RunSink, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		store:  store,
		sink:   sink,
		logger: logger,
		locks:  make(map[string]*sync.Mutex),
		randFn: func() float64 { return rand.Float64() * 100 },
		now:    time.Now,
	}
}

func (r *Router) lockFor(id string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[id]
	if !ok {
		l = &sync.Mutex{}
		r.locks[id] = l
	}
	return l
}

// withExperiment runs fn with the experiment loaded and locked, then
// persists it.
func (r *Router) withExperiment(ctx context.Context, id string, fn func(*Experiment) error) error {
	lock := r.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	exp, err := r.store.GetExperiment(ctx, id)
	if err != nil {
		return err
	}
	if exp == nil {
		return fmt.Errorf("experiment %q: %w", id, ErrExperimentNotFound)
	}
	if err := fn(exp); err != nil {
		return err
	}
	exp.UpdatedAt = r.now()
	return r.store.PutExperiment(ctx, exp)
}

// RouteTraffic picks a variant for one run. The experiment must be
// RUNNING; a configured maxExecutions cap is enforced before the draw.
func (r *Router) RouteTraffic(ctx context.Context, id string) (*Routing, error) {
	var routing *Routing
	err := r.withExperiment(ctx, id, func(exp *Experiment) error {
		if exp.State != StateRunning {
			return fmt.Errorf("experiment %q in state %s: %w", id, exp.State, ErrNotRunning)
		}
		if exp.MaxExecutions > 0 && exp.CurrentExecutionsA+exp.CurrentExecutionsB >= exp.MaxExecutions {
			return fmt.Errorf("experiment %q: %w", id, ErrExecutionCapReached)
		}

		draw := r.randFn()
		if draw < exp.TrafficSplitPercent {
			exp.CurrentExecutionsA++
			routing = &Routing{Variant: VariantA, GraphVersionID: exp.VariantAVersion}
		} else {
			exp.CurrentExecutionsB++
			routing = &Routing{Variant: VariantB, GraphVersionID: exp.VariantBVersion}
		}
		routedRuns.WithLabelValues(string(routing.Variant)).Inc()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return routing, nil
}

// RecordMetrics folds one run outcome into the experiment's snapshot and
// applies the auto-stop check. Returns the updated snapshot.
func (r *Router) RecordMetrics(ctx context.Context, id string, run Run) (*MetricsSnapshot, error) {
	var snapshot *MetricsSnapshot
	err := r.withExperiment(ctx, id, func(exp *Experiment) error {
		vm := exp.Metrics.variant(run.Variant)
		vm.record(run.Success, run.DurationMs)
		exp.Metrics.LastUpdatedAt = r.now()

		if exp.AutoStopEnabled &&
			(exp.State == StateRunning || exp.State == StatePaused) &&
			vm.TotalExecutions >= autoStopMinExecutions &&
			vm.BadCaseRate > exp.BadCaseThreshold {
			exp.State = StateAborted
			exp.Conclusion = fmt.Sprintf(
				"auto-aborted: variant %s bad-case rate %.2f exceeded threshold %.2f after %d executions",
				run.Variant, vm.BadCaseRate, exp.BadCaseThreshold, vm.TotalExecutions,
			)
			autoAborts.Inc()
			r.logger.Warn("experiment auto-aborted",
				slog.String("experiment_id", id),
				slog.String("variant", string(run.Variant)),
				slog.Float64("bad_case_rate", vm.BadCaseRate),
				slog.Float64("threshold", exp.BadCaseThreshold),
			)
		}

		snap := exp.Metrics
		snapshot = &snap

		if r.sink != nil {
			run.ExperimentID = exp.ID
			if run.RecordedAt.IsZero() {
				run.RecordedAt = r.now()
			}
			if err := r.sink.AppendRun(ctx, run); err != nil {
				// The snapshot already advanced; losing one run record is
				// preferable to double-counting on retry.
				r.logger.Error("run sink append failed",
					slog.String("experiment_id", id),
					slog.Any("error", err),
				)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}

// Start moves DRAFT to RUNNING.
func (r *Router) Start(ctx context.Context, id string) error {
	return r.transition(ctx, id, StateRunning, StateDraft)
}

// Pause moves RUNNING to PAUSED.
func (r *Router) Pause(ctx context.Context, id string) error {
	return r.transition(ctx, id, StatePaused, StateRunning)
}

// Resume moves PAUSED back to RUNNING.
func (r *Router) Resume(ctx context.Context, id string) error {
	return r.transition(ctx, id, StateRunning, StatePaused)
}

// Complete concludes a RUNNING or PAUSED experiment.
func (r *Router) Complete(ctx context.Context, id string, conclusion string) error {
	return r.withExperiment(ctx, id, func(exp *Experiment) error {
		if exp.State != StateRunning && exp.State != StatePaused {
			return fmt.Errorf("%s -> COMPLETED: %w", exp.State, ErrBadTransition)
		}
		exp.State = StateCompleted
		exp.Conclusion = conclusion
		return nil
	})
}

// Abort manually aborts a RUNNING or PAUSED experiment.
func (r *Router) Abort(ctx context.Context, id string, reason string) error {
	return r.withExperiment(ctx, id, func(exp *Experiment) error {
		if exp.State != StateRunning && exp.State != StatePaused {
			return fmt.Errorf("%s -> ABORTED: %w", exp.State, ErrBadTransition)
		}
		exp.State = StateAborted
		exp.Conclusion = reason
		return nil
	})
}

func (r *Router) transition(ctx context.Context, id string, to State, from ...State) error {
	return r.withExperiment(ctx, id, func(exp *Experiment) error {
		for _, f := range from {
			if exp.State == f {
				exp.State = to
				return nil
			}
		}
		return fmt.Errorf("%s -> %s: %w", exp.State, to, ErrBadTransition)
	})
}
