// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm sends chat-style message arrays to a remote OpenAI-
// compatible completions endpoint, streams or returns full text, and
// estimates token counts for the Context Manager.
package llm

import (
	"context"

	"github.com/relaymind/agentcore/internal/message"
)

// Usage reports token consumption for one LLM call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// GenResult is the outcome of a non-streaming Generate call.
type GenResult struct {
	Text  string
	Usage Usage
}

// StreamEventType discriminates StreamEvent.Kind, matching the
// teacher's enum-style StreamEvent in pkg/ux/stream.go generalized
// from an SSE-consuming client event to an LLM-producing one.
type StreamEventType string

const (
	StreamEventToken StreamEventType = "token"
	StreamEventDone  StreamEventType = "done"
	StreamEventError StreamEventType = "error"
)

// StreamEvent is one increment of a streamed completion.
type StreamEvent struct {
	Type  StreamEventType
	Token string
	Usage Usage
	Err   error
}

// StreamCallback receives one StreamEvent at a time, in order. A
// non-nil return value aborts the stream.
type StreamCallback func(StreamEvent) error

// Client is the contract the Orchestrator and cmd/agentcore's summary
// adapter depend on. Two instances exist per process: the
// main LLM client and the Summary LLM client (§4.6/§4.2), both
// satisfying this same interface.
type Client interface {
	// Generate issues one blocking chat completion.
	Generate(ctx context.Context, messages []message.Message, maxTokens int) (GenResult, error)

	// GenerateStream issues one streamed chat completion, invoking
	// callback once per token plus a final done/error event.
	GenerateStream(ctx context.Context, messages []message.Message, maxTokens int, callback StreamCallback) error

	// EstimateTokens approximates the token count of text using a
	// fixed tokenizer, stable for the lifetime of this client.
	EstimateTokens(text string) int

	// MaxContextLength is the model's context window in tokens.
	MaxContextLength() int
}

var _ Client = (*OpenAIClient)(nil)
