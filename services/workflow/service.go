// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package workflow wires the decision-pipeline components (graph
// validation, parameter resolution, node execution, experiment routing)
// behind one service and its HTTP surface.
package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianFlow/services/llm"
	"github.com/AleutianAI/AleutianFlow/services/workflow/dsl"
	"github.com/AleutianAI/AleutianFlow/services/workflow/executor"
	"github.com/AleutianAI/AleutianFlow/services/workflow/experiment"
	"github.com/AleutianAI/AleutianFlow/services/workflow/modelcfg"
	"github.com/AleutianAI/AleutianFlow/services/workflow/params"
	"github.com/AleutianAI/AleutianFlow/services/workflow/schema"
	"github.com/AleutianAI/AleutianFlow/services/workflow/store"
	"github.com/AleutianAI/AleutianFlow/services/workflow/validator"
)

// ServiceVersion is the workflow service version.
const ServiceVersion = "0.1.0"

// Service owns the wired components. Construction is cheap apart from
// opening the run log; model clients are built lazily on first use.
type Service struct {
	cfg    Config
	logger *slog.Logger

	graphs      *store.GraphMemory
	profiles    *store.ProfileMemory
	sets        *store.SetMemory
	expStore    *store.ExperimentMemory
	runLog      *store.RunLog
	schemas     *schema.Registry
	models      *modelcfg.Cache
	paramSvc    *params.Service
	registry    *executor.Registry
	experiments *experiment.Router

	clientMu sync.Mutex
	clients  map[string]llm.Client
}

// NewService builds a fully wired service from the configuration.
func NewService(cfg Config, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Service{
		cfg:      cfg,
		logger:   logger,
		graphs:   store.NewGraphMemory(),
		profiles: store.NewProfileMemory(),
		sets:     store.NewSetMemory(),
		expStore: store.NewExperimentMemory(),
		schemas:  schema.NewRegistry(logger),
		clients:  make(map[string]llm.Client),
	}

	badgerCfg := store.InMemoryBadgerConfig()
	if cfg.BadgerPath != "" {
		badgerCfg = store.DefaultBadgerConfig(cfg.BadgerPath)
	}
	runLog, err := store.OpenRunLog(badgerCfg)
	if err != nil {
		return nil, fmt.Errorf("open run log: %w", err)
	}
	s.runLog = runLog

	if cfg.SchemaPath != "" {
		if err := s.schemas.LoadFile(cfg.SchemaPath); err != nil {
			runLog.Close()
			return nil, fmt.Errorf("load schemas: %w", err)
		}
	}

	loader := modelcfg.LoadFunc(func(ctx context.Context) (map[string]modelcfg.ModelConfig, error) {
		return map[string]modelcfg.ModelConfig{}, nil
	})
	if cfg.ModelConfigPath != "" {
		loader = ModelConfigLoader(cfg.ModelConfigPath)
	}
	s.models = modelcfg.NewCache(loader, cfg.ModelConfigTTL(), logger)

	s.paramSvc = params.NewService(s.sets, runLog, logger)
	s.experiments = experiment.NewRouter(s.expStore, runLog, logger)

	agentExec := executor.NewAgentExecutor(
		s.profiles, s.models, s.schemas, s.resolveClient,
		func() bool { return cfg.StrictAgentAuth },
		logger,
	)
	s.registry = executor.NewRegistry(logger)
	s.registry.Register(agentExec)
	s.registry.Register(executor.PassthroughExecutor{})

	return s, nil
}

// Close releases held resources.
func (s *Service) Close() error {
	return s.runLog.Close()
}

// WatchSchemas reloads schema definitions on file edits until ctx ends.
func (s *Service) WatchSchemas(ctx context.Context) error {
	if s.cfg.SchemaPath == "" {
		return nil
	}
	return s.schemas.Watch(ctx, s.cfg.SchemaPath)
}

// resolveClient builds at most one client per provider.
func (s *Service) resolveClient(provider string) (llm.Client, error) {
	s.clientMu.Lock()
	defer s.clientMu.Unlock()
	if c, ok := s.clients[provider]; ok {
		return c, nil
	}
	switch provider {
	case "openai":
		c, err := llm.NewOpenAIClient()
		if err != nil {
			return nil, err
		}
		s.clients[provider] = c
		return c, nil
	case "ollama":
		c, err := llm.NewOllamaClient()
		if err != nil {
			return nil, err
		}
		s.clients[provider] = c
		return c, nil
	case "anthropic":
		c, err := llm.NewAnthropicClient()
		if err != nil {
			return nil, err
		}
		s.clients[provider] = c
		return c, nil
	default:
		return nil, nil
	}
}

// ValidateGraph runs the validator at a stage without touching storage.
func (s *Service) ValidateGraph(g *dsl.Graph, stage validator.Stage) validator.Result {
	return validator.Validate(g, stage)
}

// SaveGraph validates at SAVE and stores the draft when no blocking
// issues exist. The result is returned either way so callers can render
// warnings.
func (s *Service) SaveGraph(ctx context.Context, g *dsl.Graph) (validator.Result, error) {
	res := validator.Validate(g, validator.StageSave)
	if !res.Valid {
		return res, fmt.Errorf("workflow %s: %w", g.WorkflowID, ErrValidationFailed)
	}
	if err := s.graphs.PutDraft(ctx, g); err != nil {
		return res, err
	}
	s.logger.Info("graph draft saved",
		slog.String("workflow_id", g.WorkflowID),
		slog.Int("nodes", len(g.Nodes)),
		slog.Int("warnings", len(res.Issues)),
	)
	return res, nil
}

// PublishGraph validates the stored draft at PUBLISH and freezes it
// under its version.
func (s *Service) PublishGraph(ctx context.Context, workflowID string) (validator.Result, *dsl.Graph, error) {
	g, err := s.graphs.GetDraft(ctx, workflowID)
	if err != nil {
		return validator.Result{}, nil, err
	}
	if g == nil {
		return validator.Result{}, nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, workflowID)
	}
	if g.Version == "" {
		return validator.Result{}, nil, fmt.Errorf("workflow %s: %w", workflowID, ErrVersionRequired)
	}

	res := validator.Validate(g, validator.StagePublish)
	if !res.Valid {
		return res, nil, fmt.Errorf("workflow %s: %w", workflowID, ErrValidationFailed)
	}

	g.Status = "PUBLISHED"
	if err := s.graphs.Publish(ctx, g); err != nil {
		return res, nil, err
	}
	s.logger.Info("graph published",
		slog.String("workflow_id", workflowID),
		slog.String("version", g.Version),
	)
	return res, g, nil
}

// ExecuteNode dispatches one node through the registry.
func (s *Service) ExecuteNode(ctx context.Context, node *dsl.Node, input, paramSnapshot map[string]any, userID string) (*executor.Result, error) {
	return s.registry.Dispatch(ctx, executor.NewContext(node, input, paramSnapshot, userID))
}

// CreateExperiment stores a new experiment in DRAFT.
func (s *Service) CreateExperiment(ctx context.Context, exp *experiment.Experiment) (*experiment.Experiment, error) {
	exp.ID = uuid.NewString()
	exp.State = experiment.StateDraft
	exp.CreatedAt = time.Now()
	exp.UpdatedAt = exp.CreatedAt
	if err := s.expStore.PutExperiment(ctx, exp); err != nil {
		return nil, err
	}
	s.logger.Info("experiment created",
		slog.String("experiment_id", exp.ID),
		slog.String("workflow_id", exp.WorkflowID),
	)
	return exp, nil
}

// Params exposes the parameter service.
func (s *Service) Params() *params.Service { return s.paramSvc }

// Experiments exposes the experiment router.
func (s *Service) Experiments() *experiment.Router { return s.experiments }

// Sets exposes the parameter-set store for handler-level CRUD.
func (s *Service) Sets() *store.SetMemory { return s.sets }

// Profiles exposes the agent-profile store for seeding.
func (s *Service) Profiles() *store.ProfileMemory { return s.profiles }

// Schemas exposes the output-schema registry.
func (s *Service) Schemas() *schema.Registry { return s.schemas }

// RunLog exposes the append-only run/audit log.
func (s *Service) RunLog() *store.RunLog { return s.runLog }
