// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package contextmgr bounds one attempt's conversation history to the
// model's context window, using one of three mutually exclusive
// strategies chosen by configuration: keep everything and pop on
// overflow, slide a window over tool results, or periodically
// compact the prefix through the Summary LLM.
package contextmgr

import (
	"context"
	"fmt"

	"github.com/relaymind/agentcore/internal/message"
)

// toolResultPlaceholder replaces a demoted tool-result message's
// content under the sliding-window strategy.
const toolResultPlaceholder = "[tool result omitted to save context]"

// reservedCompletionBudget and the flat safety margin match the
// overflow formula in spec §4.6.
const safetyMargin = 1000

// Strategy picks how history is trimmed after each turn.
type Strategy int

const (
	// StrategyNone keeps full history; on overflow it pops the
	// trailing (assistant, tool-result) pair and forces finalization.
	StrategyNone Strategy = iota
	// StrategySlidingWindow demotes all but the most recent N
	// tool-result messages to a placeholder.
	StrategySlidingWindow
	// StrategyPeriodicCompaction rewrites the prefix into one
	// compressed user message every K turns via the Summary LLM.
	StrategyPeriodicCompaction
)

// Summarizer produces a compressed summary of conversation history,
// implemented by the Summary LLM client in production and a stub in
// tests.
type Summarizer interface {
	Summarize(ctx context.Context, history []message.Message) (string, error)
}

// TokenEstimator estimates a message's token count, matching the
// tokenizer the orchestrator's LLM client uses so counts stay
// internally consistent for one task (§9).
type TokenEstimator interface {
	EstimateTokens(text string) int
}

// Manager applies one strategy to a task's conversation history.
type Manager struct {
	strategy             Strategy
	keepToolResult        int
	compressLimit         int
	maxContextLength      int
	reservedCompletion    int
	estimator             TokenEstimator
	summarizer            Summarizer
	turnsSinceCompaction int
}

// New selects a Strategy from the raw (keepToolResult,
// compressLimit) configuration pair per §4.6: keepToolResult == -1
// means None; compressLimit > 0 means periodic compaction (takes
// precedence since it operates at a coarser granularity); otherwise
// sliding window with keepToolResult ≥ 0.
func New(keepToolResult, compressLimit, maxContextLength, reservedCompletion int, estimator TokenEstimator, summarizer Summarizer) *Manager {
	m := &Manager{
		keepToolResult:     keepToolResult,
		compressLimit:      compressLimit,
		maxContextLength:   maxContextLength,
		reservedCompletion: reservedCompletion,
		estimator:          estimator,
		summarizer:         summarizer,
	}
	switch {
	case compressLimit > 0:
		m.strategy = StrategyPeriodicCompaction
	case keepToolResult == -1:
		m.strategy = StrategyNone
	default:
		m.strategy = StrategySlidingWindow
	}
	return m
}

func (m *Manager) Strategy() Strategy { return m.strategy }

// EstimateOverflow implements the prediction formula from §4.6:
//
//	estimate = prompt_tokens_last + completion_tokens_last + user_tokens_last
//	         + summary_tokens_estimate + reserved_completion_budget + 1000
func (m *Manager) EstimateOverflow(promptTokensLast, completionTokensLast, userTokensLast, summaryTokensEstimate int) bool {
	estimate := promptTokensLast + completionTokensLast + userTokensLast +
		summaryTokensEstimate + m.reservedCompletion + safetyMargin
	return estimate >= m.maxContextLength
}

// ApplyPostTurn runs the active strategy's post-turn history
// transformation. For StrategyNone it is a no-op: the None strategy
// only acts on overflow, via PopLastPair. For StrategySlidingWindow it
// demotes old tool results. For StrategyPeriodicCompaction it
// increments the turn counter and, once K turns have elapsed,
// compacts the prefix. The returned bool reports whether a compaction
// actually ran this call, so the orchestrator can restart its turn
// counter per §4.6's "restart the loop with turn_count = 0."
func (m *Manager) ApplyPostTurn(ctx context.Context, history []message.Message) ([]message.Message, bool, error) {
	switch m.strategy {
	case StrategySlidingWindow:
		return demoteOldToolResults(history, m.keepToolResult), false, nil
	case StrategyPeriodicCompaction:
		m.turnsSinceCompaction++
		if m.turnsSinceCompaction < m.compressLimit {
			return history, false, nil
		}
		compacted, err := m.compact(ctx, history)
		if err != nil {
			return nil, false, err
		}
		m.turnsSinceCompaction = 0
		return compacted, true, nil
	default:
		return history, false, nil
	}
}

// demoteOldToolResults keeps the most recent keep tool-result
// messages verbatim and replaces all earlier ones with a placeholder,
// preserving message order. System and user-task messages are never
// touched.
func demoteOldToolResults(history []message.Message, keep int) []message.Message {
	total := 0
	for _, msg := range history {
		if msg.IsToolResult() {
			total++
		}
	}
	demoteBudget := total - keep
	if demoteBudget <= 0 {
		return history
	}

	out := make([]message.Message, len(history))
	copy(out, history)
	demoted := 0
	for i, msg := range out {
		if !msg.IsToolResult() {
			continue
		}
		if demoted >= demoteBudget {
			break
		}
		if msg.Content == toolResultPlaceholder {
			demoted++
			continue
		}
		out[i] = message.NewToolResultMessage(toolResultPlaceholder)
		demoted++
	}
	return out
}

// PopLastPair removes the trailing (assistant, tool-result) message
// pair, used by the None strategy on overflow (§4.6) and by the
// orchestrator's rollback protocol (§4.7).
func PopLastPair(history []message.Message) []message.Message {
	n := len(history)
	if n >= 2 && history[n-1].IsToolResult() && history[n-2].Role == message.RoleAssistant {
		return history[:n-2]
	}
	if n >= 1 {
		return history[:n-1]
	}
	return history
}

// compact asks the Summary LLM to rewrite everything but the leading
// system message into a single compressed user message, per §4.6's
// periodic-compaction strategy.
func (m *Manager) compact(ctx context.Context, history []message.Message) ([]message.Message, error) {
	if len(history) == 0 {
		return history, nil
	}
	var systemMsg *message.Message
	rest := history
	if history[0].Role == message.RoleSystem {
		systemMsg = &history[0]
		rest = history[1:]
	}

	summary, err := m.summarizer.Summarize(ctx, rest)
	if err != nil {
		return nil, fmt.Errorf("contextmgr: compaction summarize: %w", err)
	}

	var out []message.Message
	if systemMsg != nil {
		out = append(out, *systemMsg)
	}
	out = append(out, message.Message{Role: message.RoleUser, Content: summary})
	return out, nil
}
