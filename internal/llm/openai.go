// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	openai "github.com/sashabaranov/go-openai"
	"github.com/pkoukk/tiktoken-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"

	"github.com/relaymind/agentcore/internal/errkind"
	"github.com/relaymind/agentcore/internal/message"
)

var tracer = otel.Tracer("agentcore.llm")

// OpenAIClient is a Client backed by github.com/sashabaranov/go-openai,
// generalized from the teacher's OpenAIClient (services/llm/openai_llm.go)
// to the full streaming/estimate_tokens/max_context_length contract.
type OpenAIClient struct {
	client           *openai.Client
	model            string
	maxContextLength int
	encoding         *tiktoken.Tiktoken
	limiter          *rate.Limiter
}

// NewOpenAIClient builds a client against baseURL with the given model,
// API key, and advertised context window. encoding falls back to the
// cl100k_base BPE (the teacher's environment never specified a choice
// explicitly; this is the widely compatible default for GPT-3.5/4-class
// models) when model-specific encoding lookup fails, keeping token
// estimation stable across the life of the client per §9's design note.
//
// requestsPerSecond throttles outbound calls client-side so a burst of
// concurrent orchestrator turns (bounded by config.MaxConcurrentRequests,
// not by the upstream provider's own limit) doesn't trip the upstream's
// 429s instead of this engine's own errkind.RateLimited classification.
// A value <= 0 disables throttling.
func NewOpenAIClient(baseURL, apiKey, model string, maxContextLength int, requestsPerSecond float64) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("llm: API key not set")
	}
	if model == "" {
		model = "gpt-4o-mini"
		slog.Warn("llm: model not set, defaulting", "model", model)
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("llm: failed to load fallback tokenizer: %w", err)
		}
	}
	slog.Info("llm: initializing openai-compatible client", "base_url", cfg.BaseURL, "model", model)

	var limiter *rate.Limiter
	if requestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), 1)
	}

	return &OpenAIClient{
		client:           openai.NewClientWithConfig(cfg),
		model:            model,
		maxContextLength: maxContextLength,
		encoding:         enc,
		limiter:          limiter,
	}, nil
}

// wait blocks until the rate limiter admits one more request, or ctx
// is cancelled first. A no-op when throttling is disabled.
func (o *OpenAIClient) wait(ctx context.Context) error {
	if o.limiter == nil {
		return nil
	}
	return o.limiter.Wait(ctx)
}

func toOpenAIMessages(messages []message.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, openai.ChatCompletionMessage{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}
	return out
}

func classifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case 429:
			return errkind.New(errkind.RateLimited, apiErr.Message)
		case 408:
			return errkind.New(errkind.Timeout, apiErr.Message)
		case 500, 502, 503, 504:
			return errkind.New(errkind.Server, apiErr.Message)
		default:
			return errkind.New(errkind.Transport, apiErr.Message)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errkind.New(errkind.Timeout, err.Error())
	}
	return errkind.New(errkind.Transport, err.Error())
}

// Generate implements Client.
func (o *OpenAIClient) Generate(ctx context.Context, messages []message.Message, maxTokens int) (GenResult, error) {
	ctx, span := tracer.Start(ctx, "OpenAIClient.Generate")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", o.model), attribute.Int("llm.num_messages", len(messages)))

	if err := o.wait(ctx); err != nil {
		return GenResult{}, err
	}

	var result GenResult
	err := withRetry(ctx, "Generate", func() error {
		req := openai.ChatCompletionRequest{
			Model:     o.model,
			Messages:  toOpenAIMessages(messages),
			MaxTokens: maxTokens,
		}
		resp, err := o.client.CreateChatCompletion(ctx, req)
		if err != nil {
			return classifyOpenAIError(err)
		}
		if len(resp.Choices) == 0 {
			return errkind.New(errkind.Server, "no choices returned")
		}
		result = GenResult{
			Text: resp.Choices[0].Message.Content,
			Usage: Usage{
				PromptTokens:     resp.Usage.PromptTokens,
				CompletionTokens: resp.Usage.CompletionTokens,
			},
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return GenResult{}, err
	}
	return result, nil
}

// GenerateStream implements Client.
func (o *OpenAIClient) GenerateStream(ctx context.Context, messages []message.Message, maxTokens int, callback StreamCallback) error {
	ctx, span := tracer.Start(ctx, "OpenAIClient.GenerateStream")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", o.model))

	if err := o.wait(ctx); err != nil {
		return err
	}

	return withRetry(ctx, "GenerateStream", func() error {
		req := openai.ChatCompletionRequest{
			Model:     o.model,
			Messages:  toOpenAIMessages(messages),
			MaxTokens: maxTokens,
			Stream:    true,
		}
		stream, err := o.client.CreateChatCompletionStream(ctx, req)
		if err != nil {
			return classifyOpenAIError(err)
		}
		defer stream.Close()

		var usage Usage
		for {
			chunk, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				_ = callback(StreamEvent{Type: StreamEventDone, Usage: usage})
				return nil
			}
			if err != nil {
				kindErr := classifyOpenAIError(err)
				_ = callback(StreamEvent{Type: StreamEventError, Err: kindErr})
				return kindErr
			}
			if chunk.Usage != nil {
				usage = Usage{PromptTokens: chunk.Usage.PromptTokens, CompletionTokens: chunk.Usage.CompletionTokens}
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			token := chunk.Choices[0].Delta.Content
			if token == "" {
				continue
			}
			if cbErr := callback(StreamEvent{Type: StreamEventToken, Token: token}); cbErr != nil {
				return cbErr
			}
		}
	})
}

// EstimateTokens implements Client.
func (o *OpenAIClient) EstimateTokens(text string) int {
	return len(o.encoding.Encode(text, nil, nil))
}

// MaxContextLength implements Client.
func (o *OpenAIClient) MaxContextLength() int {
	return o.maxContextLength
}
