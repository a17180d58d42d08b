// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package server

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// SetupRoutes wires the chat-completions, health, and metrics surface
// onto router, grounded on the teacher's
// services/orchestrator/routes.SetupRoutes shape (one flat function
// registering every route against a *gin.Engine).
func SetupRoutes(router *gin.Engine, s *Server) {
	router.Use(otelgin.Middleware("agentcore"))

	router.GET("/health", s.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	{
		v1.POST("/chat/completions", s.ChatCompletionsV1)
	}

	v2 := router.Group("/v2")
	{
		v2.POST("/chat/completions", s.ChatCompletionsV2)
	}
}
