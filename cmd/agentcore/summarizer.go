// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/relaymind/agentcore/internal/llm"
	"github.com/relaymind/agentcore/internal/message"
)

// llmSummarizer backs the Context Manager's periodic-compaction
// strategy (§4.6 strategy 3) with the summary LLM, mirroring the
// teacher's pattern of a distinct, smaller model serving finalization
// and compaction calls rather than the main agent's own model.
type llmSummarizer struct {
	client llm.Client
}

func (s *llmSummarizer) Summarize(ctx context.Context, history []message.Message) (string, error) {
	var transcript strings.Builder
	for _, m := range history {
		fmt.Fprintf(&transcript, "%s: %s\n", m.Role, m.Content)
	}

	prompt := []message.Message{
		{Role: message.RoleSystem, Content: "Summarize the following agent transcript into a compact paragraph preserving every fact, tool result, and open question a continuing agent would need. Do not add commentary."},
		{Role: message.RoleUser, Content: transcript.String()},
	}
	result, err := s.client.Generate(ctx, prompt, 1024)
	if err != nil {
		return "", fmt.Errorf("summarizing history: %w", err)
	}
	return result.Text, nil
}
