// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaymind/agentcore/internal/message"
)

// newMockChatServer creates a test server that responds to POST
// /chat/completions, mirroring the teacher's newMockOllamaServer
// pattern in services/llm/ollama_streaming_test.go.
func newMockChatServer(handler http.HandlerFunc) *httptest.Server {
	return httptest.NewServer(handler)
}

func TestOpenAIClient_Generate(t *testing.T) {
	server := newMockChatServer(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"id": "chatcmpl-1", "object": "chat.completion", "created": 1,
			"model": "test-model",
			"choices": [{"index":0,"message":{"role":"assistant","content":"4"},"finish_reason":"stop"}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 1, "total_tokens": 11}
		}`)
	})
	defer server.Close()

	client, err := NewOpenAIClient(server.URL, "test-key", "gpt-4o-mini", 128000, 0)
	require.NoError(t, err)

	result, err := client.Generate(context.Background(), []message.Message{
		{Role: message.RoleUser, Content: "What is 2+2?"},
	}, 100)
	require.NoError(t, err)
	assert.Equal(t, "4", result.Text)
	assert.Equal(t, 10, result.Usage.PromptTokens)
}

func TestOpenAIClient_GenerateStream(t *testing.T) {
	server := newMockChatServer(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher, _ := w.(http.Flusher)
		chunks := []string{"Hel", "lo"}
		for _, c := range chunks {
			fmt.Fprintf(w, "data: {\"id\":\"1\",\"object\":\"chat.completion.chunk\",\"created\":1,\"model\":\"m\",\"choices\":[{\"index\":0,\"delta\":{\"content\":%q}}]}\n\n", c)
			if flusher != nil {
				flusher.Flush()
			}
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	})
	defer server.Close()

	client, err := NewOpenAIClient(server.URL, "test-key", "gpt-4o-mini", 128000, 0)
	require.NoError(t, err)

	var got string
	var done bool
	err = client.GenerateStream(context.Background(), []message.Message{
		{Role: message.RoleUser, Content: "hi"},
	}, 100, func(ev StreamEvent) error {
		switch ev.Type {
		case StreamEventToken:
			got += ev.Token
		case StreamEventDone:
			done = true
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello", got)
	assert.True(t, done)
}

func TestOpenAIClient_EstimateTokens_Stable(t *testing.T) {
	client, err := NewOpenAIClient("http://127.0.0.1:1", "test-key", "gpt-4o-mini", 128000, 0)
	require.NoError(t, err)

	n1 := client.EstimateTokens("hello world, this is a test")
	n2 := client.EstimateTokens("hello world, this is a test")
	assert.Equal(t, n1, n2)
	assert.Greater(t, n1, 0)
}

func TestOpenAIClient_Generate_RetriesOnServerError(t *testing.T) {
	attempts := 0
	server := newMockChatServer(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprint(w, `{"error":{"message":"overloaded"}}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"1","object":"chat.completion","created":1,"model":"m",
			"choices":[{"index":0,"message":{"role":"assistant","content":"ok"},"finish_reason":"stop"}],
			"usage":{"prompt_tokens":1,"completion_tokens":1,"total_tokens":2}}`)
	})
	defer server.Close()

	client, err := NewOpenAIClient(server.URL, "test-key", "gpt-4o-mini", 128000, 0)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result, err := client.Generate(ctx, []message.Message{{Role: message.RoleUser, Content: "hi"}}, 10)
	require.NoError(t, err)
	assert.Equal(t, "ok", result.Text)
	assert.GreaterOrEqual(t, attempts, 2)
}

func TestOpenAIClient_Generate_ThrottledByRateLimit(t *testing.T) {
	server := newMockChatServer(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"1","object":"chat.completion","created":1,"model":"m",
			"choices":[{"index":0,"message":{"role":"assistant","content":"ok"},"finish_reason":"stop"}],
			"usage":{"prompt_tokens":1,"completion_tokens":1,"total_tokens":2}}`)
	})
	defer server.Close()

	client, err := NewOpenAIClient(server.URL, "test-key", "gpt-4o-mini", 128000, 2)
	require.NoError(t, err)

	msgs := []message.Message{{Role: message.RoleUser, Content: "hi"}}
	_, err = client.Generate(context.Background(), msgs, 10)
	require.NoError(t, err)

	start := time.Now()
	_, err = client.Generate(context.Background(), msgs, 10)
	require.NoError(t, err)
	_, err = client.Generate(context.Background(), msgs, 10)
	require.NoError(t, err)

	assert.Greater(t, time.Since(start), 200*time.Millisecond)
}
