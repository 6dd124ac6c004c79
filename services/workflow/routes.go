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

import "github.com/gin-gonic/gin"

// RegisterRoutes mounts the workflow endpoints on the given group.
//
// Usage:
//
//	v1 := router.Group("/v1")
//	workflow.RegisterRoutes(v1, handlers)
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	flow := rg.Group("/flow")
	{
		flow.GET("/health", handlers.HandleHealth)

		// Graph validation and lifecycle
		flow.POST("/workflows/validate", handlers.HandleValidate)
		flow.POST("/workflows", handlers.HandleSaveWorkflow)
		flow.POST("/workflows/:id/publish", handlers.HandlePublishWorkflow)

		// Parameter sets: write path plus resolution
		flow.POST("/params/sets", handlers.HandleCreateSet)
		flow.POST("/params/sets/:id/items", handlers.HandleCreateItem)
		flow.PUT("/params/sets/:id/items/:itemID", handlers.HandleUpdateItem)
		flow.DELETE("/params/sets/:id/items/:itemID", handlers.HandleDeactivateItem)
		flow.POST("/params/sets/:id/resolve", handlers.HandleResolve)

		// Node execution
		flow.POST("/nodes/execute", handlers.HandleExecuteNode)

		// Experiments
		flow.POST("/experiments", handlers.HandleCreateExperiment)
		flow.POST("/experiments/:id/start", handlers.HandleExperimentTransition("start"))
		flow.POST("/experiments/:id/pause", handlers.HandleExperimentTransition("pause"))
		flow.POST("/experiments/:id/resume", handlers.HandleExperimentTransition("resume"))
		flow.POST("/experiments/:id/conclude", handlers.HandleExperimentTransition("conclude"))
		flow.POST("/experiments/:id/abort", handlers.HandleExperimentTransition("abort"))
		flow.POST("/experiments/:id/route", handlers.HandleRouteTraffic)
		flow.POST("/experiments/:id/metrics", handlers.HandleRecordMetrics)
	}
}
