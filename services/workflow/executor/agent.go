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
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianFlow/services/llm"
	"github.com/AleutianAI/AleutianFlow/services/workflow/dsl"
	"github.com/AleutianAI/AleutianFlow/services/workflow/expr"
	"github.com/AleutianAI/AleutianFlow/services/workflow/modelcfg"
	"github.com/AleutianAI/AleutianFlow/services/workflow/schema"
)

// Sentinel errors surfaced by the agent executor's collaborators.
var (
	// ErrAgentNotFound indicates the node references an agent code with no
	// stored profile.
	ErrAgentNotFound = errors.New("agent profile not found")

	// ErrTemplateNotFound indicates the agent profile references a prompt
	// template code with no stored template.
	ErrTemplateNotFound = errors.New("prompt template not found")

	// ErrModelConfigNotFound indicates the agent profile references a model
	// configuration code absent from the cache.
	ErrModelConfigNotFound = errors.New("model configuration not found")

	// ErrUnknownProvider indicates no LLM client is wired for the model
	// configuration's provider.
	ErrUnknownProvider = errors.New("no client for provider")
)

// AgentProfile is the stored definition of one invocable agent.
type AgentProfile struct {
	Code               string `json:"code"`
	Name               string `json:"name,omitempty"`
	PromptTemplateCode string `json:"promptTemplateCode"`
	ModelConfigCode    string `json:"modelConfigCode"`

	// RetryCount is the number of attempts AFTER the first; 0 means one
	// call total.
	RetryCount     int `json:"retryCount,omitempty"`
	RetryBackoffMs int `json:"retryBackoffMs,omitempty"`

	// OutputFormat is "json" or "text". JSON outputs go through parsing,
	// base-field checks and schema validation; text outputs are wrapped
	// verbatim.
	OutputFormat     string `json:"outputFormat,omitempty"`
	OutputSchemaCode string `json:"outputSchemaCode,omitempty"`

	// Guardrails applied to JSON output after parsing.
	RequiredFields      []string `json:"requiredFields,omitempty"`
	MinConfidence       *float64 `json:"minConfidence,omitempty"`
	ForbiddenSubstrings []string `json:"forbiddenSubstrings,omitempty"`

	// FewShot examples appended to the user prompt, oldest first.
	FewShot []FewShotExample `json:"fewShot,omitempty"`

	// Variables are profile-level defaults merged under the interpolation
	// context before node input and params.
	Variables map[string]any `json:"variables,omitempty"`
}

// FewShotExample is one worked example shown to the model.
type FewShotExample struct {
	Input  string `json:"input"`
	Output string `json:"output"`
}

// PromptTemplate holds the moustache-templated system and user prompts.
type PromptTemplate struct {
	Code   string `json:"code"`
	System string `json:"system,omitempty"`
	User   string `json:"user"`
}

// ProfileStore supplies agent profiles and prompt templates. Defined on
// the consumer side; the store package provides implementations.
type ProfileStore interface {
	AgentProfile(ctx context.Context, code string) (*AgentProfile, error)
	PromptTemplate(ctx context.Context, code string) (*PromptTemplate, error)
}

// ClientResolver maps a provider name ("openai", "ollama") to a client.
// A nil client with nil error means the provider is unknown.
type ClientResolver func(provider string) (llm.Client, error)

// agent-type node types handled by AgentExecutor.
var agentNodeTypes = map[string]struct{}{
	"single-agent": {},
	"agent-call":   {},
	"agent-group":  {},
	"judge-agent":  {},
	"debate-round": {},
}

// auth failure heuristics. Provider SDKs wrap status codes differently,
// so the match is on error text.
var authErrorMarkers = []string{
	"401",
	"unauthorized",
	"invalid api key",
	"authentication",
	"permission denied",
}

// AgentExecutor runs agent-type nodes against an LLM backend.
//
// Description:
//
//	Execution resolves the node's agent profile, prompt template and model
//	configuration, interpolates the prompts against input and parameters,
//	calls the model with linear-backoff retries, parses the output per the
//	profile's format, and applies guardrail, base-field and schema checks.
//	A node without an agentCode is skipped, not failed. Authentication
//	failures degrade to a skipped result unless strict mode is on.
//
// Thread Safety:
//
//	Safe for concurrent use; all per-invocation state lives in the
//	execution context and locals.
type AgentExecutor struct {
	profiles ProfileStore
	models   *modelcfg.Cache
	schemas  *schema.Registry
	resolve  ClientResolver
	logger   *slog.Logger

	// strictAuth reports whether auth failures abort instead of degrade.
	strictAuth func() bool

	// sleep is replaced in tests.
	sleep func(context.Context, time.Duration) error
}

// NewAgentExecutor wires an agent executor. strictAuth may be nil, in
// which case the FLOW_STRICT_AGENT_AUTH environment variable decides.
func NewAgentExecutor(profiles ProfileStore, models *modelcfg.Cache, schemas *schema.Registry, resolve ClientResolver, strictAuth func() bool, logger *slog.Logger) *AgentExecutor {
	if strictAuth == nil {
		strictAuth = strictAuthFromEnv
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AgentExecutor{
		profiles:   profiles,
		models:     models,
		schemas:    schemas,
		resolve:    resolve,
		logger:     logger,
		strictAuth: strictAuth,
		sleep:      sleepCtx,
	}
}

func strictAuthFromEnv() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("FLOW_STRICT_AGENT_AUTH")))
	return v == "1" || v == "true" || v == "yes"
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Supports reports whether the node is an agent-type node.
func (a *AgentExecutor) Supports(node *dsl.Node) bool {
	if node == nil {
		return false
	}
	_, ok := agentNodeTypes[node.Type]
	return ok
}

// Execute runs one agent node.
func (a *AgentExecutor) Execute(ctx context.Context, ec *Context) (*Result, error) {
	if ec == nil || ec.Node == nil {
		return nil, ErrNilContext
	}
	node := ec.Node

	ctx, span := tracer.Start(ctx, "executor.Agent",
		trace.WithAttributes(
			attribute.String("node.id", node.ID),
			attribute.String("execution.id", ec.ExecutionID),
		),
	)
	defer span.End()

	// Step 1: the agent code comes from config.agentCode, falling back
	// to the legacy config.agentProfileCode key. A node with neither
	// passes its input through untouched, flagged as skipped.
	agentCode, _ := node.Config["agentCode"].(string)
	if strings.TrimSpace(agentCode) == "" {
		agentCode, _ = node.Config["agentProfileCode"].(string)
	}
	if strings.TrimSpace(agentCode) == "" {
		a.logger.Info("agent node has no agentCode, skipping",
			slog.String("node_id", node.ID),
			slog.String("execution_id", ec.ExecutionID),
		)
		span.SetStatus(codes.Ok, "skipped")
		return &Result{Status: StatusSuccess, Output: skippedOutput(ec.Input, "agentCode-missing")}, nil
	}
	span.SetAttributes(attribute.String("agent.code", agentCode))

	// Step 2: resolve the profile and its collaborators. Lookup failures
	// are infrastructure errors, not node failures.
	profile, err := a.profiles.AgentProfile(ctx, agentCode)
	if err != nil {
		return nil, a.fail(span, fmt.Errorf("agent %q: %w", agentCode, err))
	}
	if profile == nil {
		return nil, a.fail(span, fmt.Errorf("agent %q: %w", agentCode, ErrAgentNotFound))
	}

	tmpl, err := a.profiles.PromptTemplate(ctx, profile.PromptTemplateCode)
	if err != nil {
		return nil, a.fail(span, fmt.Errorf("template %q: %w", profile.PromptTemplateCode, err))
	}
	if tmpl == nil {
		return nil, a.fail(span, fmt.Errorf("template %q: %w", profile.PromptTemplateCode, ErrTemplateNotFound))
	}

	modelCfg, ok, err := a.models.Get(ctx, profile.ModelConfigCode)
	if err != nil {
		return nil, a.fail(span, fmt.Errorf("model config %q: %w", profile.ModelConfigCode, err))
	}
	if !ok {
		return nil, a.fail(span, fmt.Errorf("model config %q: %w", profile.ModelConfigCode, ErrModelConfigNotFound))
	}

	client, err := a.resolve(modelCfg.Provider)
	if err != nil {
		return nil, a.fail(span, fmt.Errorf("provider %q: %w", modelCfg.Provider, err))
	}
	if client == nil {
		return nil, a.fail(span, fmt.Errorf("provider %q: %w", modelCfg.Provider, ErrUnknownProvider))
	}

	// Step 3: build the prompts. Interpolation context layers profile
	// variables under node input under the parameter snapshot. Input is
	// addressable both bare ({{commodity}}) and scoped ({{input.commodity}});
	// unmatched tokens stay verbatim so prompt bugs are visible in traces.
	vars := mergeVars(profile.Variables, ec.Input, map[string]any{
		"input":  ec.Input,
		"params": ec.ParamSnapshot,
	})
	systemPrompt := expr.Interpolate(tmpl.System, vars)
	userPrompt := expr.Interpolate(tmpl.User, vars)
	if len(profile.FewShot) > 0 {
		userPrompt = appendFewShot(userPrompt, profile.FewShot)
	}

	opts := llm.GenerationOptions{
		Model:       modelCfg.Model,
		Temperature: modelCfg.Temperature,
		MaxTokens:   modelCfg.MaxTokens,
		TimeoutMs:   effectiveTimeoutMs(node, modelCfg),
	}

	// Step 4: call with linear backoff (backoff * attempt between tries).
	raw, attempts, callErr := a.callWithRetry(ctx, client, systemPrompt, userPrompt, opts, profile)
	if callErr != nil {
		if isAuthError(callErr) && !a.strictAuth() {
			// Step 5: degrade. Downstream nodes see a skipped marker and
			// can route around the missing verdict.
			a.logger.Warn("agent auth failed, degrading to skip",
				slog.String("agent_code", agentCode),
				slog.String("execution_id", ec.ExecutionID),
				slog.Int("attempts", attempts),
				slog.Any("error", callErr),
			)
			span.SetStatus(codes.Ok, "degraded")
			out := skippedOutput(nil, "agent-auth-invalid")
			out["degraded"] = true
			out["error"] = callErr.Error()
			out["retryAttempts"] = attempts
			return &Result{Status: StatusSuccess, Output: out}, nil
		}
		span.RecordError(callErr)
		span.SetStatus(codes.Error, "llm call failed")
		return &Result{
			Status:  StatusFailed,
			Message: fmt.Sprintf("agent %q: llm call failed after %d attempts: %v", agentCode, attempts, callErr),
		}, nil
	}

	// Step 6: parse and validate per the declared output format.
	output := ParseOutput(raw, profile.OutputFormat)

	var problems []string
	if isJSONFormat(profile.OutputFormat) {
		problems = append(problems, CheckGuardrails(output, profile)...)
		problems = append(problems, CheckBaseFields(output)...)
		if profile.OutputSchemaCode != "" && a.schemas != nil {
			sr := a.schemas.ValidateByCode(profile.OutputSchemaCode, output)
			problems = append(problems, sr.Errors...)
		}
	}
	if len(problems) > 0 {
		span.SetStatus(codes.Error, "output rejected")
		return &Result{
			Status:  StatusFailed,
			Output:  output,
			Message: fmt.Sprintf("agent %q output rejected: %s", agentCode, strings.Join(problems, "; ")),
		}, nil
	}

	span.SetStatus(codes.Ok, "")
	return &Result{Status: StatusSuccess, Output: output}, nil
}

// callWithRetry makes up to 1+RetryCount calls with linear backoff. It
// returns the raw completion, the attempt count, and the last error.
func (a *AgentExecutor) callWithRetry(ctx context.Context, client llm.Client, systemPrompt, userPrompt string, opts llm.GenerationOptions, profile *AgentProfile) (string, int, error) {
	retries := profile.RetryCount
	if retries < 0 {
		retries = 0
	}
	backoff := time.Duration(profile.RetryBackoffMs) * time.Millisecond

	var lastErr error
	for attempt := 1; attempt <= retries+1; attempt++ {
		raw, err := client.GenerateResponse(ctx, systemPrompt, userPrompt, opts)
		if err == nil {
			return raw, attempt, nil
		}
		lastErr = err
		if isAuthError(err) {
			// Auth failures are not retried.
			return "", attempt, err
		}
		if attempt <= retries {
			a.logger.Warn("llm call failed, retrying",
				slog.String("agent_code", profile.Code),
				slog.Int("attempt", attempt),
				slog.Any("error", err),
			)
			if backoff > 0 {
				if serr := a.sleep(ctx, backoff*time.Duration(attempt)); serr != nil {
					return "", attempt, serr
				}
			}
		}
	}
	return "", retries + 1, lastErr
}

func (a *AgentExecutor) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func isAuthError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range authErrorMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func isJSONFormat(format string) bool {
	return format == "" || strings.EqualFold(format, "json")
}

// effectiveTimeoutMs prefers the node's runtime policy over the model
// configuration's default.
func effectiveTimeoutMs(node *dsl.Node, cfg modelcfg.ModelConfig) int {
	if node.RuntimePolicy != nil && node.RuntimePolicy.TimeoutMs != nil && *node.RuntimePolicy.TimeoutMs > 0 {
		return *node.RuntimePolicy.TimeoutMs
	}
	return cfg.TimeoutMs
}

// mergeVars flattens layers left to right, later layers winning.
func mergeVars(layers ...map[string]any) map[string]any {
	merged := make(map[string]any)
	for _, layer := range layers {
		for k, v := range layer {
			merged[k] = v
		}
	}
	return merged
}

func appendFewShot(userPrompt string, examples []FewShotExample) string {
	var b strings.Builder
	b.WriteString(userPrompt)
	b.WriteString("\n\nExamples:")
	for _, ex := range examples {
		b.WriteString("\n\nInput:\n")
		b.WriteString(ex.Input)
		b.WriteString("\nOutput:\n")
		b.WriteString(ex.Output)
	}
	return b.String()
}

func skippedOutput(input map[string]any, reason string) map[string]any {
	out := make(map[string]any, len(input)+2)
	for k, v := range input {
		out[k] = v
	}
	out["skipped"] = true
	out["skipReason"] = reason
	return out
}
