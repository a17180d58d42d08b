// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package server exposes the engine over the OpenAI-compatible
// chat-completions surface named in spec.md §6.
package server

import "github.com/go-playground/validator/v10"

// MaxMessageContentBytes bounds a single chat message's content size,
// grounded on the teacher's SEC-003 mitigation in
// services/orchestrator/datatypes/chat.go.
const MaxMessageContentBytes = 32 * 1024

// MaxMessagesPerRequest bounds the number of messages one request may
// carry, grounded on the teacher's SEC-004 mitigation in the same file.
const MaxMessagesPerRequest = 100

var reqValidate *validator.Validate

func init() {
	reqValidate = validator.New()
	_ = reqValidate.RegisterValidation("maxbytes", validateMaxBytes)
}

func validateMaxBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxMessageContentBytes
}

// ChatMessage is one entry of a chat-completions request body.
type ChatMessage struct {
	Role    string `json:"role" validate:"required,oneof=system user assistant tool"`
	Content string `json:"content" validate:"required,maxbytes"`
}

// ChatRequest is the request body both /v1 and /v2 accept, per
// spec.md §6's "same request shape" note.
type ChatRequest struct {
	Model       string        `json:"model" validate:"required"`
	Messages    []ChatMessage `json:"messages" validate:"required,min=1,max=100,dive"`
	Stream      bool          `json:"stream"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
}

// Validate applies struct tags plus the request-level message-count
// ceiling validator tags alone can't express as cleanly.
func (r *ChatRequest) Validate() error {
	if len(r.Messages) > MaxMessagesPerRequest {
		return errTooManyMessages
	}
	return reqValidate.Struct(r)
}

var errTooManyMessages = &validationError{"too many messages in request"}

type validationError struct{ msg string }

func (e *validationError) Error() string { return e.msg }

// taskText concatenates the request's user-role messages, in order,
// into the single task string the Orchestrator's ReAct loop consumes.
// The engine has no multi-turn conversation state (Non-goals: no
// persistence across restarts) so prior assistant turns are dropped;
// only what the user asked for drives the next task.
func (r *ChatRequest) taskText() string {
	var out string
	for _, m := range r.Messages {
		if m.Role != "user" {
			continue
		}
		if out != "" {
			out += "\n"
		}
		out += m.Content
	}
	return out
}

// HealthResponse is GET /health's body.
type HealthResponse struct {
	Status         string `json:"status"`
	ActiveRequests int    `json:"active_requests"`
	PoolSize       int    `json:"pool_size"`
}
