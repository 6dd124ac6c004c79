// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package experiment routes A/B traffic between two published graph
// variants and aggregates running metrics to decide automatic abort.
package experiment

import "time"

// State is the experiment lifecycle state.
type State string

const (
	StateDraft     State = "DRAFT"
	StateRunning   State = "RUNNING"
	StatePaused    State = "PAUSED"
	StateCompleted State = "COMPLETED"
	StateAborted   State = "ABORTED"
)

// Variant labels one arm of the experiment.
type Variant string

const (
	VariantA Variant = "A"
	VariantB Variant = "B"
)

// autoStopMinExecutions is the per-variant sample floor before the
// bad-case rate is trusted enough to abort on.
const autoStopMinExecutions = 10

// Experiment is the mutable experiment record.
type Experiment struct {
	ID             string `json:"id"`
	ExperimentCode string `json:"experimentCode"`
	WorkflowID     string `json:"workflowId"`
	State          State  `json:"state"`

	// VariantAVersion and VariantBVersion are the published graph-version
	// ids bound to each arm.
	VariantAVersion string `json:"variantAVersion"`
	VariantBVersion string `json:"variantBVersion"`

	// TrafficSplitPercent is variant A's share, in [0,100].
	TrafficSplitPercent float64 `json:"trafficSplitPercent"`

	// MaxExecutions caps total routed runs across both variants. 0 means
	// uncapped.
	MaxExecutions int `json:"maxExecutions,omitempty"`

	CurrentExecutionsA int `json:"currentExecutionsA"`
	CurrentExecutionsB int `json:"currentExecutionsB"`

	AutoStopEnabled  bool    `json:"autoStopEnabled"`
	BadCaseThreshold float64 `json:"badCaseThreshold,omitempty"`

	Metrics MetricsSnapshot `json:"metrics"`

	// Conclusion records why the experiment ended, human-readable.
	Conclusion string `json:"conclusion,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// VariantMetrics are the running counters for one arm. All fields are
// updated incrementally; nothing is recomputed from stored runs.
type VariantMetrics struct {
	TotalExecutions int     `json:"totalExecutions"`
	SuccessCount    int     `json:"successCount"`
	FailureCount    int     `json:"failureCount"`
	SuccessRate     float64 `json:"successRate"`
	AvgDurationMs   float64 `json:"avgDurationMs"`

	// P95DurationMs is approximated by the running maximum, trading
	// accuracy for constant memory.
	P95DurationMs float64 `json:"p95DurationMs"`

	BadCaseRate float64 `json:"badCaseRate"`
}

// MetricsSnapshot aggregates both arms.
type MetricsSnapshot struct {
	VariantA      VariantMetrics `json:"variantA"`
	VariantB      VariantMetrics `json:"variantB"`
	LastUpdatedAt time.Time      `json:"lastUpdatedAt"`
}

// Run is one routed execution outcome.
type Run struct {
	ExperimentID string   `json:"experimentId"`
	Variant      Variant  `json:"variant"`
	Success      bool     `json:"success"`
	DurationMs   float64  `json:"durationMs"`
	Confidence   *float64 `json:"confidence,omitempty"`
	RecordedAt   time.Time `json:"recordedAt"`
}

// Routing is the answer to a routeTraffic call.
type Routing struct {
	Variant        Variant `json:"variant"`
	GraphVersionID string  `json:"graphVersionId"`
}

// record applies one outcome to the variant's counters.
func (m *VariantMetrics) record(success bool, durationMs float64) {
	m.TotalExecutions++
	if success {
		m.SuccessCount++
	} else {
		m.FailureCount++
	}
	n := float64(m.TotalExecutions)
	m.SuccessRate = float64(m.SuccessCount) / n
	m.BadCaseRate = float64(m.FailureCount) / n
	m.AvgDurationMs = (m.AvgDurationMs*(n-1) + durationMs) / n
	if durationMs > m.P95DurationMs {
		m.P95DurationMs = durationMs
	}
}

func (m *MetricsSnapshot) variant(v Variant) *VariantMetrics {
	if v == VariantA {
		return &m.VariantA
	}
	return &m.VariantB
}
