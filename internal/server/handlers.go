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
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/relaymind/agentcore/internal/events"
	"github.com/relaymind/agentcore/internal/pool"
	"github.com/relaymind/agentcore/internal/streaming"
)

// Server holds the collaborators the HTTP surface dispatches to. One
// Server serves the whole process; per-request state lives entirely on
// the stack of each handler invocation.
type Server struct {
	Pool *pool.Pool
}

// NewServer builds a Server over an already-populated pool.
func NewServer(p *pool.Pool) *Server {
	return &Server{Pool: p}
}

// errorResponse mirrors the OpenAI error envelope shape so existing
// v1 clients parse failures the way they already expect to.
type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func writeError(c *gin.Context, status int, errType, message string) {
	var resp errorResponse
	resp.Error.Message = message
	resp.Error.Type = errType
	c.JSON(status, resp)
}

func (s *Server) bindChatRequest(c *gin.Context) (*ChatRequest, bool) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid_request_error", err.Error())
		return nil, false
	}
	if err := req.Validate(); err != nil {
		writeError(c, http.StatusBadRequest, "invalid_request_error", err.Error())
		return nil, false
	}
	return &req, true
}

// ChatCompletionsV1 implements POST /v1/chat/completions: a plain
// OpenAI-compatible SSE stream of content deltas.
func (s *Server) ChatCompletionsV1(c *gin.Context) {
	req, ok := s.bindChatRequest(c)
	if !ok {
		return
	}
	s.runChatStream(c, req, false)
}

// ChatCompletionsV2 implements POST /v2/chat/completions: the extended
// hierarchical task-tree SSE stream.
func (s *Server) ChatCompletionsV2(c *gin.Context) {
	req, ok := s.bindChatRequest(c)
	if !ok {
		return
	}
	s.runChatStream(c, req, true)
}

func (s *Server) runChatStream(c *gin.Context, req *ChatRequest, v2 bool) {
	ctx := c.Request.Context()

	o, err := s.Pool.Acquire(ctx)
	if err != nil {
		writeError(c, http.StatusServiceUnavailable, "server_error", "no orchestrator instance available: "+err.Error())
		return
	}
	defer s.Pool.Release(o)

	w, err := streaming.NewWriter(c.Writer)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	ch := events.NewChan(64)
	o.SetSink(ch)

	go func() {
		defer ch.Close()
		if _, _, err := o.Run(ctx, req.taskText()); err != nil {
			slog.Error("orchestrator run failed", "error", err)
		}
	}()

	var adapterErr error
	if v2 {
		adapterErr = streaming.NewV2Adapter(w, req.Model).Run(ch)
	} else {
		adapterErr = streaming.NewV1Adapter(w, req.Model).Run(ch)
	}
	if adapterErr != nil {
		slog.Error("streaming adapter failed", "error", adapterErr, "hash", w.LastHash())
	}
}

// Health implements GET /health.
func (s *Server) Health(c *gin.Context) {
	stats := s.Pool.Stats()
	c.JSON(http.StatusOK, HealthResponse{
		Status:         "healthy",
		ActiveRequests: stats.ActiveRequests,
		PoolSize:       stats.PoolSize,
	})
}
