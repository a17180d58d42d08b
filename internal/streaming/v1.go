// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package streaming

import "github.com/relaymind/agentcore/internal/events"

// V1Adapter is the degenerate OpenAI-compatible stream: content
// deltas only, no task tree. Grounded on the same event set as
// V2Adapter but discarding everything except final_answer and
// agent_ended (which closes the stream), per spec.md's "V1 adapter is
// a degenerate case" note.
type V1Adapter struct {
	model  string
	writer *Writer
}

// NewV1Adapter builds a content-only adapter writing chunks tagged
// with model to w.
func NewV1Adapter(w *Writer, model string) *V1Adapter {
	return &V1Adapter{writer: w, model: model}
}

// Run drains ch, emitting the final answer as one assistant content
// chunk and ignoring every intermediate reasoning/tool event: a V1
// client has no task tree to render them into. final_answer already
// carries the fully-resolved boxed answer, so V1 does not stream
// llm_chunk deltas (those include unresolved tool-call markup the
// Parser has not consumed yet).
func (a *V1Adapter) Run(ch <-chan events.Event) error {
	for e := range ch {
		switch e.Kind {
		case events.KindFinalAnswer:
			_, display := extractCitations(e.Answer)
			if err := a.writer.WriteChunk(newChunk(a.model, Delta{Role: "assistant", Content: display}, "")); err != nil {
				return err
			}
		case events.KindAgentEnded:
			if err := a.writer.WriteChunk(newChunk(a.model, Delta{}, "stop")); err != nil {
				return err
			}
			return a.writer.WriteDone()
		}
	}
	return nil
}
