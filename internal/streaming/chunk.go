// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package streaming converts the Orchestrator's internal event stream
// into the wire-level SSE chunks the V1 and V2 chat-completions
// surfaces send to clients.
package streaming

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ContentType is the closed set of V2 block kinds.
type ContentType string

const (
	ContentProcessBlock  ContentType = "research_process_block"
	ContentThinkBlock    ContentType = "research_think_block"
	ContentSearchKeyword ContentType = "research_web_search_keyword"
	ContentWebSearch     ContentType = "research_web_search"
	ContentWebBrowse     ContentType = "research_web_browse"
	ContentTextBlock     ContentType = "research_text_block"
	ContentCompleted     ContentType = "research_completed"
	// ContentUsedSources is supplemented from original_source's citation
	// extraction; spec.md's distillation dropped it, SPEC_FULL.md §4.9
	// re-adds it.
	ContentUsedSources ContentType = "research_used_sources"
)

// TaskStat is the closed set of block lifecycle states.
type TaskStat string

const (
	TaskStart   TaskStat = "message_start"
	TaskProcess TaskStat = "message_process"
	TaskResult  TaskStat = "message_result"
)

// Delta is the extended per-chunk payload V2 adds to the standard
// OpenAI `choices[0].delta` shape.
type Delta struct {
	Role         string      `json:"role,omitempty"`
	Content      string      `json:"content,omitempty"`
	TaskStat     TaskStat    `json:"taskstat,omitempty"`
	ContentType  ContentType `json:"content_type,omitempty"`
	ParentTaskID string      `json:"parent_taskid,omitempty"`
	Index        int         `json:"index,omitempty"`
	TaskContent  string      `json:"task_content,omitempty"`
	TaskID       string      `json:"taskid,omitempty"`
}

// Choice is one entry of a chunk's choices array. Only index 0 is ever
// populated; the field exists for OpenAI wire-shape compatibility.
type Choice struct {
	Index        int     `json:"index"`
	Delta        Delta   `json:"delta"`
	FinishReason *string `json:"finish_reason"`
}

// Chunk is one SSE `data:` payload sent to a chat-completions client.
type Chunk struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
}

func newChunk(model string, delta Delta, finishReason string) Chunk {
	c := Chunk{
		ID:      "chatcmpl-" + uuid.NewString(),
		Object:  "chat.completion.chunk",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []Choice{{Index: 0, Delta: delta}},
	}
	if finishReason != "" {
		c.Choices[0].FinishReason = &finishReason
	}
	return c
}

// Writer serializes chunks onto an SSE connection. It keeps a
// SHA-256 hash chain over emitted chunk bodies purely as a
// server-side audit trail (logged, never placed on the wire), grounded
// on the teacher's sseWriter hash-chain in
// services/orchestrator/handlers/sse_writer.go — adapted so the wire
// shape stays exactly the OpenAI-compatible chunk spec.md §6 names,
// with the integrity chain kept out-of-band.
type Writer struct {
	w        http.ResponseWriter
	flusher  http.Flusher
	mu       sync.Mutex
	prevHash string
}

// NewWriter wraps w, which must support http.Flusher, and sets the
// SSE response headers.
func NewWriter(w http.ResponseWriter) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming: response writer does not support flushing")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &Writer{w: w, flusher: flusher}, nil
}

// WriteChunk marshals and writes one chunk, then flushes.
func (sw *Writer) WriteChunk(c Chunk) error {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("streaming: marshal chunk: %w", err)
	}
	sw.prevHash = chainHash(sw.prevHash, data)

	if _, err := fmt.Fprintf(sw.w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("streaming: write chunk: %w", err)
	}
	sw.flusher.Flush()
	return nil
}

// WriteDone writes the terminal [DONE] sentinel.
func (sw *Writer) WriteDone() error {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if _, err := fmt.Fprint(sw.w, "data: [DONE]\n\n"); err != nil {
		return fmt.Errorf("streaming: write done: %w", err)
	}
	sw.flusher.Flush()
	return nil
}

// LastHash returns the current tip of the audit hash chain, for
// logging alongside a request ID.
func (sw *Writer) LastHash() string {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return sw.prevHash
}

func chainHash(prev string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(prev))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}
