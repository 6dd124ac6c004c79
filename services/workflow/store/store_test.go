// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianFlow/services/workflow/dsl"
	"github.com/AleutianAI/AleutianFlow/services/workflow/executor"
	"github.com/AleutianAI/AleutianFlow/services/workflow/experiment"
	"github.com/AleutianAI/AleutianFlow/services/workflow/params"
)

func TestRunLog_RunRoundTrip(t *testing.T) {
	log, err := OpenRunLog(InMemoryBadgerConfig())
	require.NoError(t, err)
	defer log.Close()

	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	conf := 0.8
	for i := 0; i < 3; i++ {
		err := log.AppendRun(ctx, experiment.Run{
			ExperimentID: "exp-1",
			Variant:      experiment.VariantA,
			Success:      i != 1,
			DurationMs:   float64(100 * (i + 1)),
			Confidence:   &conf,
			RecordedAt:   base.Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
	}
	require.NoError(t, log.AppendRun(ctx, experiment.Run{
		ExperimentID: "exp-2", Variant: experiment.VariantB, Success: true,
		DurationMs: 50, RecordedAt: base,
	}))

	runs, err := log.Runs(ctx, "exp-1")
	require.NoError(t, err)
	require.Len(t, runs, 3, "prefix scan is scoped to one experiment")
	assert.Equal(t, 100.0, runs[0].DurationMs, "replay preserves append order")
	assert.False(t, runs[1].Success)
	require.NotNil(t, runs[0].Confidence)
	assert.Equal(t, 0.8, *runs[0].Confidence)
}

func TestRunLog_AuditRoundTrip(t *testing.T) {
	log, err := OpenRunLog(InMemoryBadgerConfig())
	require.NoError(t, err)
	defer log.Close()

	ctx := context.Background()
	after := params.Item{ID: "i1", ParamCode: "stop_loss", ParamType: params.TypeNumber, Value: 0.02}
	require.NoError(t, log.Append(ctx, params.AuditEntry{
		ID: "a1", SetID: "set-1", ItemID: "i1", ParamCode: "stop_loss",
		Action: params.AuditCreate, After: &after, Actor: "u1",
		At: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}))

	entries, err := log.AuditEntries(ctx, "set-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, params.AuditCreate, entries[0].Action)
	require.NotNil(t, entries[0].After)
	assert.Equal(t, "stop_loss", entries[0].After.ParamCode)

	other, err := log.AuditEntries(ctx, "set-2")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestRunLog_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultBadgerConfig(dir)

	log, err := OpenRunLog(cfg)
	require.NoError(t, err)
	require.NoError(t, log.AppendRun(context.Background(), experiment.Run{
		ExperimentID: "exp-1", Variant: experiment.VariantA, Success: true, DurationMs: 10,
		RecordedAt: time.Now(),
	}))
	require.NoError(t, log.Close())

	log, err = OpenRunLog(cfg)
	require.NoError(t, err)
	defer log.Close()
	runs, err := log.Runs(context.Background(), "exp-1")
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestGraphMemory_PublishFreezesSnapshot(t *testing.T) {
	ctx := context.Background()
	gs := NewGraphMemory()

	g := &dsl.Graph{
		WorkflowID: "wf-1",
		Name:       "corn pipeline",
		Mode:       dsl.ModeLinear,
		Version:    "v1",
		Nodes: []dsl.Node{
			{ID: "t", Type: "cron-trigger", Enabled: true},
		},
	}
	require.NoError(t, gs.PutDraft(ctx, g))
	require.NoError(t, gs.Publish(ctx, g))

	// Mutating the draft after publish must not leak into the frozen
	// version.
	g.Nodes[0].Type = "signal-trigger"
	g.Name = "renamed"

	frozen, err := gs.GetPublished(ctx, "wf-1", "v1")
	require.NoError(t, err)
	require.NotNil(t, frozen)
	assert.Equal(t, "cron-trigger", frozen.Nodes[0].Type)
	assert.Equal(t, "corn pipeline", frozen.Name)

	missing, err := gs.GetPublished(ctx, "wf-1", "v9")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestProfileMemory(t *testing.T) {
	ps := NewProfileMemory()
	ps.PutAgentProfile(&executor.AgentProfile{Code: "corn-judge", PromptTemplateCode: "thesis-prompt", ModelConfigCode: "gpt-judge"})
	ps.PutPromptTemplate(&executor.PromptTemplate{Code: "thesis-prompt", User: "judge {{input.commodity}}"})

	got, err := ps.AgentProfile(context.Background(), "corn-judge")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "thesis-prompt", got.PromptTemplateCode)

	none, err := ps.AgentProfile(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestExperimentMemory(t *testing.T) {
	es := NewExperimentMemory()
	exp := &experiment.Experiment{ID: "exp-1", State: experiment.StateDraft}
	require.NoError(t, es.PutExperiment(context.Background(), exp))

	got, err := es.GetExperiment(context.Background(), "exp-1")
	require.NoError(t, err)
	assert.Same(t, exp, got, "router relies on a stable instance per id")
}
