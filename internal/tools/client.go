// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tools issues remote MCP tool invocations and normalizes
// their responses into message.ToolResult, classifying failures into
// the shared error taxonomy.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/relaymind/agentcore/internal/errkind"
	"github.com/relaymind/agentcore/internal/message"
	"github.com/relaymind/agentcore/internal/metrics"
)

var tracer = otel.Tracer("agentcore.tools")

// Client issues invocations against MCP-shaped remote tool servers.
// This generalizes the teacher's direct HTTP-proxy pattern in
// handlers/agent.go (one fixed downstream, one fixed route) into a
// registry of per-server endpoints reached over a uniform call_tool
// contract.
type Client struct {
	httpClient *http.Client
	servers    map[string]ServerConfig
	demo       bool
	maxBytes   int
}

// ServerConfig is one MCP server's reachable endpoint and enabled flag,
// populated from the `tools.<name>.*` configuration keys.
type ServerConfig struct {
	Enabled  bool
	Endpoint string
}

// NewClient builds a Tool Client over the given per-server config.
// demo truncates oversized textual results to maxBytes, per §4.1.
func NewClient(servers map[string]ServerConfig, demo bool, maxBytes int) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 2 * time.Minute},
		servers:    servers,
		demo:       demo,
		maxBytes:   maxBytes,
	}
}

type callToolRequest struct {
	ToolName  string         `json:"tool_name"`
	Arguments map[string]any `json:"arguments"`
}

type callToolResponse struct {
	Content string `json:"content"`
	IsError bool   `json:"is_error"`
}

// Invoke issues one remote call_tool, classifying the outcome per the
// taxonomy in errkind. An unknown or disabled server fails closed with
// Schema without a request. The tool name is not checked: an unknown
// tool on a known server is sent to that server and classified from
// its response (a 4xx maps to Schema).
func (c *Client) Invoke(ctx context.Context, server, tool string, args map[string]any) (result message.ToolResult, invokeErr error) {
	ctx, span := tracer.Start(ctx, "ToolClient.Invoke")
	defer span.End()
	span.SetAttributes(attribute.String("tool.server", server), attribute.String("tool.name", tool))

	start := time.Now()
	defer func() {
		metrics.ToolCallDurationSeconds.WithLabelValues(server, tool).Observe(time.Since(start).Seconds())
		outcome := "ok"
		if invokeErr != nil || result.IsError {
			outcome = "error"
		}
		metrics.ToolCallsTotal.WithLabelValues(server, tool, outcome).Inc()
	}()

	cfg, ok := c.servers[server]
	if !ok || !cfg.Enabled {
		slog.Warn("tool invocation against unknown or disabled server", "server", server, "tool", tool)
		return message.ToolResult{ToolName: tool, IsError: true, ErrorKind: errkind.Schema,
			Content: fmt.Sprintf("unknown or disabled tool server %q", server)}, nil
	}

	reqBody, err := json.Marshal(callToolRequest{ToolName: tool, Arguments: args})
	if err != nil {
		span.RecordError(err)
		return message.ToolResult{}, fmt.Errorf("tools: marshal call_tool request: %w", err)
	}

	url := cfg.Endpoint + "/call_tool"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		span.RecordError(err)
		return message.ToolResult{}, fmt.Errorf("tools: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("tool call transport failure", "server", server, "tool", tool, "error", err)
		return message.ToolResult{ToolName: tool, IsError: true, ErrorKind: errkind.Transport, Content: err.Error()}, nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		span.RecordError(err)
		return message.ToolResult{}, fmt.Errorf("tools: read response body: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return message.ToolResult{ToolName: tool, IsError: true, ErrorKind: errkind.RateLimited, Content: string(body)}, nil
	case resp.StatusCode == http.StatusRequestTimeout:
		return message.ToolResult{ToolName: tool, IsError: true, ErrorKind: errkind.Timeout, Content: string(body)}, nil
	case resp.StatusCode >= 500:
		return message.ToolResult{ToolName: tool, IsError: true, ErrorKind: errkind.Server, Content: string(body)}, nil
	case resp.StatusCode >= 400:
		return message.ToolResult{ToolName: tool, IsError: true, ErrorKind: errkind.Schema, Content: string(body)}, nil
	}

	var parsed callToolResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return message.ToolResult{ToolName: tool, IsError: true, ErrorKind: errkind.Schema,
			Content: fmt.Sprintf("malformed call_tool response: %v", err)}, nil
	}

	content := parsed.Content
	if c.demo && len(content) > c.maxBytes {
		content = content[:c.maxBytes] + "...[truncated]"
	}

	result = message.ToolResult{ToolName: tool, Content: content, IsError: parsed.IsError}
	if parsed.IsError {
		result.ErrorKind = errkind.Server
	}
	return result, nil
}

type listToolsResponse struct {
	Tools []struct {
		Name        string          `json:"name"`
		Description string          `json:"description"`
		InputSchema json.RawMessage `json:"input_schema"`
	} `json:"tools"`
}

// ListCatalog loads the tool catalog for every enabled server.
// cmd/agentcore calls it once at process start; the catalog is shared
// by every task and is not reloaded per task.
func (c *Client) ListCatalog(ctx context.Context) (message.ToolCatalog, error) {
	var catalog message.ToolCatalog
	for server, cfg := range c.servers {
		if !cfg.Enabled {
			continue
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.Endpoint+"/list_tools", nil)
		if err != nil {
			return nil, fmt.Errorf("tools: build list_tools request for %s: %w", server, err)
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			slog.Error("list_tools transport failure", "server", server, "error", err)
			return nil, errkind.New(errkind.Transport, fmt.Sprintf("list_tools(%s): %v", server, err))
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("tools: read list_tools body for %s: %w", server, err)
		}
		if resp.StatusCode != http.StatusOK {
			return nil, errkind.New(errkind.Server, fmt.Sprintf("list_tools(%s): status %d", server, resp.StatusCode))
		}
		var parsed listToolsResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return nil, fmt.Errorf("tools: parse list_tools body for %s: %w", server, err)
		}
		for _, t := range parsed.Tools {
			catalog = append(catalog, message.ToolCatalogEntry{
				ServerName:  server,
				ToolName:    t.Name,
				Description: t.Description,
				InputSchema: t.InputSchema,
			})
		}
	}
	return catalog, nil
}
