// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command flow starts the AleutianFlow decision-pipeline API server.
//
// AleutianFlow provides workflow-graph tooling for decision pipelines:
//   - Graph validation at save and publish stages (stable WF### codes)
//   - Scope-layered parameter resolution with an audited write path
//   - Agent node execution against LLM backends with retry/guardrails
//   - A/B experiment routing with incremental metrics and auto-abort
//
// Usage:
//
//	go run ./cmd/flow
//	go run ./cmd/flow -config flow.yaml -port 9090
//
// With OpenAI (for agent nodes):
//
//	OPENAI_API_KEY=sk-... OPENAI_MODEL=gpt-4o go run ./cmd/flow
//
// Example requests:
//
//	# Health check
//	curl http://localhost:8086/v1/flow/health
//
//	# Validate a graph snapshot
//	curl -X POST http://localhost:8086/v1/flow/workflows/validate \
//	  -H "Content-Type: application/json" \
//	  -d '{"stage": "PUBLISH", "graph": {...}}'
//
//	# Resolve parameters for a context
//	curl -X POST http://localhost:8086/v1/flow/params/sets/SET_ID/resolve \
//	  -H "Content-Type: application/json" \
//	  -d '{"commodity": "CORN"}'
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianFlow/pkg/logging"
	"github.com/AleutianAI/AleutianFlow/services/workflow"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config (optional)")
	port := flag.Int("port", 0, "Port to listen on (overrides config)")
	debug := flag.Bool("debug", false, "Enable debug mode")
	flag.Parse()

	cfg, err := workflow.LoadConfig(*configPath)
	if err != nil {
		slog.Error("Failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if *port != 0 {
		cfg.ListenAddr = fmt.Sprintf(":%d", *port)
	}
	if *debug {
		cfg.LogLevel = "debug"
	}

	logger := logging.New(logging.Config{
		Level:   logging.ParseLevel(cfg.LogLevel),
		Service: "flow",
		JSON:    !*debug,
	})
	defer logger.Close()
	slog.SetDefault(logger.Slog())

	if *debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	svc, err := workflow.NewService(cfg, logger.Slog())
	if err != nil {
		logger.Error("Failed to build service", "error", err)
		os.Exit(1)
	}
	defer svc.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Hot-reload output schemas while the server runs.
	go func() {
		if err := svc.WatchSchemas(ctx); err != nil {
			logger.Warn("Schema watcher stopped", "error", err)
		}
	}()

	router := gin.New()
	router.Use(gin.Recovery())
	if *debug {
		router.Use(gin.Logger())
	}
	v1 := router.Group("/v1")
	workflow.RegisterRoutes(v1, workflow.NewHandlers(svc))

	go func() {
		<-ctx.Done()
		logger.Info("Shutting down AleutianFlow server")
		_ = svc.Close()
		_ = logger.Close()
		os.Exit(0)
	}()

	logger.Info("Starting AleutianFlow server",
		"address", cfg.ListenAddr,
		"strict_agent_auth", cfg.StrictAgentAuth,
	)
	if err := router.Run(cfg.ListenAddr); err != nil {
		logger.Error("Failed to start server", "error", err)
		os.Exit(1)
	}
}
