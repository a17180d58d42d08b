// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaymind/agentcore/internal/errkind"
)

func TestClient_Invoke_UnknownServerFailsClosed(t *testing.T) {
	c := NewClient(map[string]ServerConfig{}, false, 1024)
	result, err := c.Invoke(context.Background(), "search", "search_web", nil)
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Equal(t, errkind.Schema, result.ErrorKind)
}

func TestClient_Invoke_DisabledServerFailsClosed(t *testing.T) {
	c := NewClient(map[string]ServerConfig{"search": {Enabled: false, Endpoint: "http://unused"}}, false, 1024)
	result, err := c.Invoke(context.Background(), "search", "search_web", nil)
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Equal(t, errkind.Schema, result.ErrorKind)
}

func TestClient_Invoke_SuccessReturnsContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/call_tool", r.URL.Path)
		var req callToolRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "search_web", req.ToolName)
		_ = json.NewEncoder(w).Encode(callToolResponse{Content: "three results found"})
	}))
	defer srv.Close()

	c := NewClient(map[string]ServerConfig{"search": {Enabled: true, Endpoint: srv.URL}}, false, 1024)
	result, err := c.Invoke(context.Background(), "search", "search_web", map[string]any{"query": "go generics"})
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Equal(t, "three results found", result.Content)
}

func TestClient_Invoke_DemoModeTruncatesContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(callToolResponse{Content: "0123456789"})
	}))
	defer srv.Close()

	c := NewClient(map[string]ServerConfig{"search": {Enabled: true, Endpoint: srv.URL}}, true, 4)
	result, err := c.Invoke(context.Background(), "search", "search_web", nil)
	require.NoError(t, err)
	assert.Equal(t, "0123...[truncated]", result.Content)
}

func TestClient_Invoke_ClassifiesStatusCodes(t *testing.T) {
	cases := []struct {
		status int
		kind   errkind.Kind
	}{
		{http.StatusTooManyRequests, errkind.RateLimited},
		{http.StatusRequestTimeout, errkind.Timeout},
		{http.StatusInternalServerError, errkind.Server},
		{http.StatusBadRequest, errkind.Schema},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))
		c := NewClient(map[string]ServerConfig{"search": {Enabled: true, Endpoint: srv.URL}}, false, 1024)
		result, err := c.Invoke(context.Background(), "search", "search_web", nil)
		require.NoError(t, err)
		assert.True(t, result.IsError)
		assert.Equal(t, tc.kind, result.ErrorKind)
		srv.Close()
	}
}

func TestClient_Invoke_TransportFailureClassifiedAsTransport(t *testing.T) {
	c := NewClient(map[string]ServerConfig{"search": {Enabled: true, Endpoint: "http://127.0.0.1:0"}}, false, 1024)
	result, err := c.Invoke(context.Background(), "search", "search_web", nil)
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Equal(t, errkind.Transport, result.ErrorKind)
}

func TestClient_ListCatalog_AggregatesEnabledServersOnly(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/list_tools", r.URL.Path)
		_ = json.NewEncoder(w).Encode(listToolsResponse{
			Tools: []struct {
				Name        string          `json:"name"`
				Description string          `json:"description"`
				InputSchema json.RawMessage `json:"input_schema"`
			}{{Name: "search_web", Description: "search the web", InputSchema: json.RawMessage(`{}`)}},
		})
	}))
	defer srv.Close()

	c := NewClient(map[string]ServerConfig{
		"search":  {Enabled: true, Endpoint: srv.URL},
		"browser": {Enabled: false, Endpoint: "http://unused"},
	}, false, 1024)

	catalog, err := c.ListCatalog(context.Background())
	require.NoError(t, err)
	require.Len(t, catalog, 1)
	assert.Equal(t, "search", catalog[0].ServerName)
	assert.Equal(t, "search_web", catalog[0].ToolName)
}
