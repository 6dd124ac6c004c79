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
	"encoding/json"
	"fmt"
	"sync"

	"github.com/AleutianAI/AleutianFlow/services/workflow/dsl"
	"github.com/AleutianAI/AleutianFlow/services/workflow/executor"
	"github.com/AleutianAI/AleutianFlow/services/workflow/experiment"
	"github.com/AleutianAI/AleutianFlow/services/workflow/params"
)

// GraphMemory keeps draft and published graph snapshots in memory.
// Drafts are keyed by workflow id; publishing freezes a deep copy under
// the graph's version, so later draft edits cannot mutate published
// history.
//
// Thread Safety: safe for concurrent use.
type GraphMemory struct {
	mu        sync.RWMutex
	drafts    map[string]*dsl.Graph
	published map[string]map[string]*dsl.Graph
}

// NewGraphMemory creates an empty graph store.
func NewGraphMemory() *GraphMemory {
	return &GraphMemory{
		drafts:    make(map[string]*dsl.Graph),
		published: make(map[string]map[string]*dsl.Graph),
	}
}

// GetDraft returns the current draft, or nil when none exists.
func (s *GraphMemory) GetDraft(_ context.Context, workflowID string) (*dsl.Graph, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.drafts[workflowID], nil
}

// PutDraft stores the draft snapshot.
func (s *GraphMemory) PutDraft(_ context.Context, g *dsl.Graph) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drafts[g.WorkflowID] = g
	return nil
}

// Publish freezes the graph under its version.
func (s *GraphMemory) Publish(_ context.Context, g *dsl.Graph) error {
	frozen, err := copyGraph(g)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	versions, ok := s.published[g.WorkflowID]
	if !ok {
		versions = make(map[string]*dsl.Graph)
		s.published[g.WorkflowID] = versions
	}
	versions[g.Version] = frozen
	return nil
}

// GetPublished returns the frozen snapshot for a version, or nil.
func (s *GraphMemory) GetPublished(_ context.Context, workflowID, version string) (*dsl.Graph, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.published[workflowID][version], nil
}

// copyGraph deep-copies through JSON. Graphs are JSON-shaped documents,
// so the round trip is lossless.
func copyGraph(g *dsl.Graph) (*dsl.Graph, error) {
	raw, err := json.Marshal(g)
	if err != nil {
		return nil, fmt.Errorf("freeze graph: %w", err)
	}
	var frozen dsl.Graph
	if err := json.Unmarshal(raw, &frozen); err != nil {
		return nil, fmt.Errorf("freeze graph: %w", err)
	}
	return &frozen, nil
}

// ProfileMemory holds agent profiles and prompt templates in memory. It
// implements the executor's ProfileStore.
type ProfileMemory struct {
	mu        sync.RWMutex
	profiles  map[string]*executor.AgentProfile
	templates map[string]*executor.PromptTemplate
}

// NewProfileMemory creates an empty profile store.
func NewProfileMemory() *ProfileMemory {
	return &ProfileMemory{
		profiles:  make(map[string]*executor.AgentProfile),
		templates: make(map[string]*executor.PromptTemplate),
	}
}

// PutAgentProfile adds or replaces a profile by code.
func (s *ProfileMemory) PutAgentProfile(p *executor.AgentProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.Code] = p
}

// PutPromptTemplate adds or replaces a template by code.
func (s *ProfileMemory) PutPromptTemplate(t *executor.PromptTemplate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.templates[t.Code] = t
}

func (s *ProfileMemory) AgentProfile(_ context.Context, code string) (*executor.AgentProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.profiles[code], nil
}

func (s *ProfileMemory) PromptTemplate(_ context.Context, code string) (*executor.PromptTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.templates[code], nil
}

// SetMemory is the in-memory params.SetStore.
type SetMemory struct {
	mu   sync.RWMutex
	sets map[string]*params.Set
}

// NewSetMemory creates an empty parameter-set store.
func NewSetMemory() *SetMemory {
	return &SetMemory{sets: make(map[string]*params.Set)}
}

func (s *SetMemory) GetSet(_ context.Context, setID string) (*params.Set, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sets[setID], nil
}

func (s *SetMemory) PutSet(_ context.Context, set *params.Set) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sets[set.ID] = set
	return nil
}

// ExperimentMemory is the in-memory experiment.Store.
type ExperimentMemory struct {
	mu   sync.RWMutex
	exps map[string]*experiment.Experiment
}

// NewExperimentMemory creates an empty experiment store.
func NewExperimentMemory() *ExperimentMemory {
	return &ExperimentMemory{exps: make(map[string]*experiment.Experiment)}
}

func (s *ExperimentMemory) GetExperiment(_ context.Context, id string) (*experiment.Experiment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.exps[id], nil
}

func (s *ExperimentMemory) PutExperiment(_ context.Context, exp *experiment.Experiment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exps[exp.ID] = exp
	return nil
}
