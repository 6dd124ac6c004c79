// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package workflow

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianFlow/services/workflow/dsl"
	"github.com/AleutianAI/AleutianFlow/services/workflow/experiment"
	"github.com/AleutianAI/AleutianFlow/services/workflow/params"
	graphvalidator "github.com/AleutianAI/AleutianFlow/services/workflow/validator"
)

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// Handlers contains the HTTP handlers for the workflow service.
type Handlers struct {
	svc      *Service
	validate *validator.Validate
}

// NewHandlers creates handlers for the given service.
func NewHandlers(svc *Service) *Handlers {
	return &Handlers{svc: svc, validate: validator.New()}
}

// ValidateRequest is the body of POST /workflows/validate.
type ValidateRequest struct {
	Stage string     `json:"stage" validate:"omitempty,oneof=SAVE PUBLISH"`
	Graph *dsl.Graph `json:"graph" validate:"required"`
}

// HandleValidate handles POST /v1/flow/workflows/validate.
//
// Response:
//
//	200 OK: validator result (issues included even when valid)
//	400 Bad Request: malformed body
func (h *Handlers) HandleValidate(c *gin.Context) {
	logger := h.requestLogger(c, "HandleValidate")

	var req ValidateRequest
	if !h.bind(c, logger, &req) {
		return
	}
	stage := graphvalidator.StageSave
	if req.Stage == string(graphvalidator.StagePublish) {
		stage = graphvalidator.StagePublish
	}

	res := h.svc.ValidateGraph(req.Graph, stage)
	logger.Info("graph validated",
		"workflow_id", req.Graph.WorkflowID,
		"stage", string(stage),
		"valid", res.Valid,
		"issues", len(res.Issues),
	)
	c.JSON(http.StatusOK, res)
}

// HandleSaveWorkflow handles POST /v1/flow/workflows.
func (h *Handlers) HandleSaveWorkflow(c *gin.Context) {
	logger := h.requestLogger(c, "HandleSaveWorkflow")

	var g dsl.Graph
	if !h.bind(c, logger, &g) {
		return
	}

	res, err := h.svc.SaveGraph(c.Request.Context(), &g)
	if err != nil {
		if errors.Is(err, ErrValidationFailed) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"error":  "graph has blocking validation issues",
				"code":   "VALIDATION_FAILED",
				"result": res,
			})
			return
		}
		h.internalError(c, logger, err, "SAVE_FAILED")
		return
	}
	c.JSON(http.StatusOK, gin.H{"workflowId": g.WorkflowID, "result": res})
}

// HandlePublishWorkflow handles POST /v1/flow/workflows/:id/publish.
func (h *Handlers) HandlePublishWorkflow(c *gin.Context) {
	logger := h.requestLogger(c, "HandlePublishWorkflow")
	workflowID := c.Param("id")

	res, g, err := h.svc.PublishGraph(c.Request.Context(), workflowID)
	if err != nil {
		switch {
		case errors.Is(err, ErrWorkflowNotFound):
			c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "WORKFLOW_NOT_FOUND"})
		case errors.Is(err, ErrVersionRequired):
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "VERSION_REQUIRED"})
		case errors.Is(err, ErrValidationFailed):
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"error":  "graph has blocking publish issues",
				"code":   "VALIDATION_FAILED",
				"result": res,
			})
		default:
			h.internalError(c, logger, err, "PUBLISH_FAILED")
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"workflowId": g.WorkflowID,
		"version":    g.Version,
		"status":     g.Status,
		"result":     res,
	})
}

// CreateSetRequest is the body of POST /params/sets.
type CreateSetRequest struct {
	Code        string `json:"code" validate:"required"`
	Name        string `json:"name"`
	OwnerUserID string `json:"ownerUserId"`
}

// HandleCreateSet handles POST /v1/flow/params/sets.
func (h *Handlers) HandleCreateSet(c *gin.Context) {
	logger := h.requestLogger(c, "HandleCreateSet")

	var req CreateSetRequest
	if !h.bind(c, logger, &req) {
		return
	}

	set := &params.Set{
		ID:          uuid.NewString(),
		Code:        req.Code,
		Name:        req.Name,
		OwnerUserID: req.OwnerUserID,
		IsActive:    true,
	}
	if err := h.svc.Sets().PutSet(c.Request.Context(), set); err != nil {
		h.internalError(c, logger, err, "SET_CREATE_FAILED")
		return
	}
	c.JSON(http.StatusCreated, set)
}

// HandleCreateItem handles POST /v1/flow/params/sets/:id/items.
func (h *Handlers) HandleCreateItem(c *gin.Context) {
	logger := h.requestLogger(c, "HandleCreateItem")

	var item params.Item
	if !h.bind(c, logger, &item) {
		return
	}

	created, err := h.svc.Params().CreateItem(c.Request.Context(), c.Param("id"), item, actor(c))
	if err != nil {
		h.paramWriteError(c, logger, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

// HandleUpdateItem handles PUT /v1/flow/params/sets/:id/items/:itemID.
func (h *Handlers) HandleUpdateItem(c *gin.Context) {
	logger := h.requestLogger(c, "HandleUpdateItem")

	var item params.Item
	if !h.bind(c, logger, &item) {
		return
	}
	item.ID = c.Param("itemID")

	updated, err := h.svc.Params().UpdateItem(c.Request.Context(), c.Param("id"), item, actor(c))
	if err != nil {
		h.paramWriteError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

// HandleDeactivateItem handles DELETE /v1/flow/params/sets/:id/items/:itemID.
// Items are soft-deactivated, never removed.
func (h *Handlers) HandleDeactivateItem(c *gin.Context) {
	logger := h.requestLogger(c, "HandleDeactivateItem")

	err := h.svc.Params().DeactivateItem(c.Request.Context(), c.Param("id"), c.Param("itemID"), actor(c))
	if err != nil {
		h.paramWriteError(c, logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ResolveRequest is the body of POST /params/sets/:id/resolve.
type ResolveRequest struct {
	Commodity        string         `json:"commodity"`
	Region           string         `json:"region"`
	Route            string         `json:"route"`
	Strategy         string         `json:"strategy"`
	SessionOverrides map[string]any `json:"sessionOverrides"`
}

// HandleResolve handles POST /v1/flow/params/sets/:id/resolve.
func (h *Handlers) HandleResolve(c *gin.Context) {
	logger := h.requestLogger(c, "HandleResolve")

	var req ResolveRequest
	if !h.bind(c, logger, &req) {
		return
	}

	resolved, err := h.svc.Params().Resolve(c.Request.Context(), c.Param("id"), params.Context{
		Commodity:        req.Commodity,
		Region:           req.Region,
		Route:            req.Route,
		Strategy:         req.Strategy,
		SessionOverrides: req.SessionOverrides,
	})
	if err != nil {
		if errors.Is(err, params.ErrSetNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "SET_NOT_FOUND"})
			return
		}
		h.internalError(c, logger, err, "RESOLVE_FAILED")
		return
	}
	c.JSON(http.StatusOK, gin.H{"resolved": resolved})
}

// ExecuteNodeRequest is the body of POST /nodes/execute.
type ExecuteNodeRequest struct {
	Node          *dsl.Node      `json:"node" validate:"required"`
	Input         map[string]any `json:"input"`
	ParamSnapshot map[string]any `json:"paramSnapshot"`
	TriggerUserID string         `json:"triggerUserId"`
}

// HandleExecuteNode handles POST /v1/flow/nodes/execute.
func (h *Handlers) HandleExecuteNode(c *gin.Context) {
	logger := h.requestLogger(c, "HandleExecuteNode")

	var req ExecuteNodeRequest
	if !h.bind(c, logger, &req) {
		return
	}

	res, err := h.svc.ExecuteNode(c.Request.Context(), req.Node, req.Input, req.ParamSnapshot, req.TriggerUserID)
	if err != nil {
		h.internalError(c, logger, err, "EXECUTE_FAILED")
		return
	}
	c.JSON(http.StatusOK, res)
}

// CreateExperimentRequest is the body of POST /experiments.
type CreateExperimentRequest struct {
	ExperimentCode      string  `json:"experimentCode" validate:"required"`
	WorkflowID          string  `json:"workflowId" validate:"required"`
	VariantAVersion     string  `json:"variantAVersion" validate:"required"`
	VariantBVersion     string  `json:"variantBVersion" validate:"required"`
	TrafficSplitPercent float64 `json:"trafficSplitPercent" validate:"gte=0,lte=100"`
	MaxExecutions       int     `json:"maxExecutions" validate:"gte=0"`
	AutoStopEnabled     bool    `json:"autoStopEnabled"`
	BadCaseThreshold    float64 `json:"badCaseThreshold" validate:"gte=0,lte=1"`
}

// HandleCreateExperiment handles POST /v1/flow/experiments.
func (h *Handlers) HandleCreateExperiment(c *gin.Context) {
	logger := h.requestLogger(c, "HandleCreateExperiment")

	var req CreateExperimentRequest
	if !h.bind(c, logger, &req) {
		return
	}

	exp, err := h.svc.CreateExperiment(c.Request.Context(), &experiment.Experiment{
		ExperimentCode:      req.ExperimentCode,
		WorkflowID:          req.WorkflowID,
		VariantAVersion:     req.VariantAVersion,
		VariantBVersion:     req.VariantBVersion,
		TrafficSplitPercent: req.TrafficSplitPercent,
		MaxExecutions:       req.MaxExecutions,
		AutoStopEnabled:     req.AutoStopEnabled,
		BadCaseThreshold:    req.BadCaseThreshold,
	})
	if err != nil {
		h.internalError(c, logger, err, "EXPERIMENT_CREATE_FAILED")
		return
	}
	c.JSON(http.StatusCreated, exp)
}

// HandleExperimentTransition handles the start/pause/resume/conclude/
// abort lifecycle endpoints.
func (h *Handlers) HandleExperimentTransition(action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := h.requestLogger(c, "HandleExperimentTransition")
		id := c.Param("id")
		ctx := c.Request.Context()

		var err error
		switch action {
		case "start":
			err = h.svc.Experiments().Start(ctx, id)
		case "pause":
			err = h.svc.Experiments().Pause(ctx, id)
		case "resume":
			err = h.svc.Experiments().Resume(ctx, id)
		case "conclude":
			var body struct {
				Conclusion string `json:"conclusion"`
			}
			_ = c.ShouldBindJSON(&body)
			err = h.svc.Experiments().Complete(ctx, id, body.Conclusion)
		case "abort":
			var body struct {
				Reason string `json:"reason"`
			}
			_ = c.ShouldBindJSON(&body)
			err = h.svc.Experiments().Abort(ctx, id, body.Reason)
		}
		if err != nil {
			h.experimentError(c, logger, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"experimentId": id, "action": action})
	}
}

// HandleRouteTraffic handles POST /v1/flow/experiments/:id/route.
func (h *Handlers) HandleRouteTraffic(c *gin.Context) {
	logger := h.requestLogger(c, "HandleRouteTraffic")

	routing, err := h.svc.Experiments().RouteTraffic(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.experimentError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, routing)
}

// RecordMetricsRequest is the body of POST /experiments/:id/metrics.
type RecordMetricsRequest struct {
	Variant    string   `json:"variant" validate:"required,oneof=A B"`
	Success    bool     `json:"success"`
	DurationMs float64  `json:"durationMs" validate:"gte=0"`
	Confidence *float64 `json:"confidence"`
}

// HandleRecordMetrics handles POST /v1/flow/experiments/:id/metrics.
func (h *Handlers) HandleRecordMetrics(c *gin.Context) {
	logger := h.requestLogger(c, "HandleRecordMetrics")

	var req RecordMetricsRequest
	if !h.bind(c, logger, &req) {
		return
	}

	snapshot, err := h.svc.Experiments().RecordMetrics(c.Request.Context(), c.Param("id"), experiment.Run{
		Variant:    experiment.Variant(req.Variant),
		Success:    req.Success,
		DurationMs: req.DurationMs,
		Confidence: req.Confidence,
	})
	if err != nil {
		h.experimentError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

// HandleHealth handles GET /v1/flow/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": ServiceVersion})
}

// bind decodes and validates the request body, writing the 400 itself
// on failure.
func (h *Handlers) bind(c *gin.Context, logger *slog.Logger, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body", Code: "INVALID_REQUEST"})
		return false
	}
	if err := h.validate.Struct(v); err != nil {
		logger.Warn("Request failed validation", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_REQUEST"})
		return false
	}
	return true
}

func (h *Handlers) paramWriteError(c *gin.Context, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, params.ErrSetNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "SET_NOT_FOUND"})
	case errors.Is(err, params.ErrItemNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "ITEM_NOT_FOUND"})
	case errors.Is(err, params.ErrDuplicateScope):
		c.JSON(http.StatusConflict, ErrorResponse{Error: err.Error(), Code: "DUPLICATE_SCOPE"})
	case errors.Is(err, params.ErrUnknownParamRefs):
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{Error: err.Error(), Code: "UNKNOWN_PARAM_REFS"})
	case errors.Is(err, params.ErrInvalidItem):
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{Error: err.Error(), Code: "INVALID_ITEM"})
	default:
		h.internalError(c, logger, err, "PARAM_WRITE_FAILED")
	}
}

func (h *Handlers) experimentError(c *gin.Context, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, experiment.ErrExperimentNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "EXPERIMENT_NOT_FOUND"})
	case errors.Is(err, experiment.ErrNotRunning):
		c.JSON(http.StatusConflict, ErrorResponse{Error: err.Error(), Code: "NOT_RUNNING"})
	case errors.Is(err, experiment.ErrExecutionCapReached):
		c.JSON(http.StatusConflict, ErrorResponse{Error: err.Error(), Code: "EXECUTION_CAP_REACHED"})
	case errors.Is(err, experiment.ErrBadTransition):
		c.JSON(http.StatusConflict, ErrorResponse{Error: err.Error(), Code: "INVALID_TRANSITION"})
	default:
		h.internalError(c, logger, err, "EXPERIMENT_FAILED")
	}
}

func (h *Handlers) internalError(c *gin.Context, logger *slog.Logger, err error, code string) {
	logger.Error("Request failed", "error", err)
	c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: code})
}

func (h *Handlers) requestLogger(c *gin.Context, handler string) *slog.Logger {
	return slog.With("request_id", getOrCreateRequestID(c), "handler", handler)
}

func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}

// actor identifies who made the change, for the audit trail.
func actor(c *gin.Context) string {
	if v := c.GetHeader("X-User-ID"); v != "" {
		return v
	}
	return "anonymous"
}
