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
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRouter(t *testing.T) (*gin.Engine, *Service) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	svc, err := NewService(DefaultConfig(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })

	router := gin.New()
	v1 := router.Group("/v1")
	RegisterRoutes(v1, NewHandlers(svc))
	return router, svc
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), "body: %s", w.Body.String())
	return out
}

func linearGraphDoc(workflowID string) map[string]any {
	return map[string]any{
		"workflowId": workflowID,
		"name":       "corn linear",
		"mode":       "LINEAR",
		"version":    "v1",
		"nodes": []map[string]any{
			{"id": "t", "type": "cron-trigger", "enabled": true},
			{"id": "fetch", "type": "data-fetch", "enabled": true},
		},
		"edges": []map[string]any{
			{"id": "e1", "from": "t", "to": "fetch", "edgeType": "data-edge"},
		},
	}
}

func TestHandleHealth(t *testing.T) {
	router, _ := setupTestRouter(t)
	w := doJSON(t, router, http.MethodGet, "/v1/flow/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode(t, w)["status"])
}

func TestHandleValidate_Valid(t *testing.T) {
	router, _ := setupTestRouter(t)
	w := doJSON(t, router, http.MethodPost, "/v1/flow/workflows/validate", map[string]any{
		"stage": "SAVE",
		"graph": linearGraphDoc("wf-1"),
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["valid"])
}

func TestHandleValidate_IssuesReported(t *testing.T) {
	router, _ := setupTestRouter(t)
	doc := linearGraphDoc("wf-1")
	doc["mode"] = "" // WF001
	w := doJSON(t, router, http.MethodPost, "/v1/flow/workflows/validate", map[string]any{
		"graph": doc,
	})
	require.Equal(t, http.StatusOK, w.Code, "issues are data, not an HTTP error")
	body := decode(t, w)
	assert.Equal(t, false, body["valid"])
	assert.NotEmpty(t, body["issues"])
}

func TestHandleValidate_MissingGraph(t *testing.T) {
	router, _ := setupTestRouter(t)
	w := doJSON(t, router, http.MethodPost, "/v1/flow/workflows/validate", map[string]any{"stage": "SAVE"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSaveWorkflow(t *testing.T) {
	router, _ := setupTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/v1/flow/workflows", linearGraphDoc("wf-1"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// A graph with blocking issues is rejected with the result attached.
	bad := linearGraphDoc("wf-2")
	bad["nodes"] = append(bad["nodes"].([]map[string]any),
		map[string]any{"id": "fetch", "type": "data-fetch", "enabled": true}) // duplicate id
	w = doJSON(t, router, http.MethodPost, "/v1/flow/workflows", bad)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "VALIDATION_FAILED", decode(t, w)["code"])
}

func TestPublishWorkflow_NotFound(t *testing.T) {
	router, _ := setupTestRouter(t)
	w := doJSON(t, router, http.MethodPost, "/v1/flow/workflows/ghost/publish", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "WORKFLOW_NOT_FOUND", decode(t, w)["code"])
}

func TestParamsEndToEnd(t *testing.T) {
	router, _ := setupTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/v1/flow/params/sets", map[string]any{
		"code": "grain-defaults", "name": "Grain defaults",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	setID := decode(t, w)["id"].(string)

	itemsPath := fmt.Sprintf("/v1/flow/params/sets/%s/items", setID)
	w = doJSON(t, router, http.MethodPost, itemsPath, map[string]any{
		"paramCode": "stop_loss", "paramType": "number", "value": 1,
		"minValue": 0, "maxValue": 10, "scopeLevel": "GLOBAL",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = doJSON(t, router, http.MethodPost, itemsPath, map[string]any{
		"paramCode": "stop_loss", "paramType": "number", "value": 2,
		"scopeLevel": "COMMODITY", "scopeValue": "CORN",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	// Out-of-range write is rejected with a typed code.
	w = doJSON(t, router, http.MethodPost, itemsPath, map[string]any{
		"paramCode": "max_drawdown", "paramType": "number", "value": 11,
		"minValue": 0, "maxValue": 10, "scopeLevel": "GLOBAL",
	})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "INVALID_ITEM", decode(t, w)["code"])

	// Duplicate scope slot conflicts.
	w = doJSON(t, router, http.MethodPost, itemsPath, map[string]any{
		"paramCode": "stop_loss", "paramType": "number", "value": 3, "scopeLevel": "GLOBAL",
	})
	require.Equal(t, http.StatusConflict, w.Code)

	w = doJSON(t, router, http.MethodPost, fmt.Sprintf("/v1/flow/params/sets/%s/resolve", setID),
		map[string]any{"commodity": "CORN"})
	require.Equal(t, http.StatusOK, w.Code)
	var resolved struct {
		Resolved []struct {
			ParamCode   string `json:"paramCode"`
			Value       any    `json:"value"`
			SourceScope string `json:"sourceScope"`
		} `json:"resolved"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resolved))
	require.Len(t, resolved.Resolved, 1)
	assert.Equal(t, "stop_loss", resolved.Resolved[0].ParamCode)
	assert.Equal(t, 2.0, resolved.Resolved[0].Value)
	assert.Equal(t, "COMMODITY", resolved.Resolved[0].SourceScope)
}

func TestExecuteNode_Passthrough(t *testing.T) {
	router, _ := setupTestRouter(t)
	w := doJSON(t, router, http.MethodPost, "/v1/flow/nodes/execute", map[string]any{
		"node":  map[string]any{"id": "t", "type": "cron-trigger", "enabled": true},
		"input": map[string]any{"commodity": "CORN"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, "SUCCESS", body["status"])
	assert.Equal(t, "CORN", body["output"].(map[string]any)["commodity"])
}

func TestExperimentLifecycleOverHTTP(t *testing.T) {
	router, _ := setupTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/v1/flow/experiments", map[string]any{
		"experimentCode":      "corn-ab",
		"workflowId":          "wf-1",
		"variantAVersion":     "v1",
		"variantBVersion":     "v2",
		"trafficSplitPercent": 50,
		"autoStopEnabled":     false,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	body := decode(t, w)
	expID := body["id"].(string)
	assert.Equal(t, "DRAFT", body["state"])

	// Routing before start conflicts.
	w = doJSON(t, router, http.MethodPost, "/v1/flow/experiments/"+expID+"/route", nil)
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "NOT_RUNNING", decode(t, w)["code"])

	w = doJSON(t, router, http.MethodPost, "/v1/flow/experiments/"+expID+"/start", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodPost, "/v1/flow/experiments/"+expID+"/route", nil)
	require.Equal(t, http.StatusOK, w.Code)
	routing := decode(t, w)
	assert.Contains(t, []any{"A", "B"}, routing["variant"])

	w = doJSON(t, router, http.MethodPost, "/v1/flow/experiments/"+expID+"/metrics", map[string]any{
		"variant": "A", "success": true, "durationMs": 120,
	})
	require.Equal(t, http.StatusOK, w.Code)
	snap := decode(t, w)
	variantA := snap["variantA"].(map[string]any)
	assert.Equal(t, 1.0, variantA["totalExecutions"])

	w = doJSON(t, router, http.MethodPost, "/v1/flow/experiments/"+expID+"/conclude", map[string]any{
		"conclusion": "no difference detected",
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodPost, "/v1/flow/experiments/"+expID+"/start", nil)
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "INVALID_TRANSITION", decode(t, w)["code"])
}

func TestRecordMetrics_RejectsBadVariant(t *testing.T) {
	router, _ := setupTestRouter(t)
	w := doJSON(t, router, http.MethodPost, "/v1/flow/experiments/x/metrics", map[string]any{
		"variant": "C", "success": true, "durationMs": 10,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
