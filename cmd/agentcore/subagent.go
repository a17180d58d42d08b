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

	"github.com/relaymind/agentcore/internal/classifier"
	"github.com/relaymind/agentcore/internal/config"
	"github.com/relaymind/agentcore/internal/events"
	"github.com/relaymind/agentcore/internal/llm"
	"github.com/relaymind/agentcore/internal/orchestrator"
	"github.com/relaymind/agentcore/internal/prompt"
	"github.com/relaymind/agentcore/internal/tools"
)

// subAgentInvoker builds a fresh nested Orchestrator for every
// search_and_browse call, per spec.md §4.7's "nested orchestrator with
// its own message history, its own tool catalog, its own max-turn
// budget, and the browsing role prompt." A fresh instance per call
// (rather than a sub-pool) keeps sub-agent state impossible to leak
// between unrelated parent tasks, matching the same reasoning that
// drove the top-level pool's per-task dedup/context reset.
type subAgentInvoker struct {
	llm        llm.Client
	tools      *tools.Client
	composer   *prompt.Composer
	classifier *classifier.Classifier
	cfg        config.AgentConfig
	maxContext int
	reserved   int
	maxTokens  int

	// parentSink receives the sub-agent's internal events. It is the
	// sink the factory was built with: under `run` that is the task's
	// own event channel, so sub-agent tool activity is rendered inline
	// with the parent's; under `serve` it is the process-wide discard
	// channel, because internal/server rebinds only the parent
	// Orchestrator's sink per request (SetSink), so V2 streams do not
	// show sub-agent activity.
	parentSink events.Sink
}

func (s *subAgentInvoker) InvokeSubAgent(ctx context.Context, subtask string) (string, error) {
	o := orchestrator.New(orchestrator.Deps{
		LLM:                      s.llm,
		Tools:                    s.tools,
		Composer:                 s.composer,
		Classifier:               s.classifier,
		Sink:                     s.parentSink,
		AgentName:                "sub",
		Role:                     prompt.RoleSubBrowsing,
		AgentCfg:                 s.cfg,
		MaxContextLength:         s.maxContext,
		ReservedCompletionBudget: s.reserved,
		MaxTokensPerCall:         s.maxTokens,
	})
	answer, outcome, err := o.Run(ctx, subtask)
	if err != nil {
		return "", err
	}
	if outcome != events.OutcomeSuccess {
		return "", &subAgentFailure{outcome: string(outcome)}
	}
	return answer, nil
}

type subAgentFailure struct{ outcome string }

func (e *subAgentFailure) Error() string { return "sub-agent did not reach success: " + e.outcome }
