// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package orchestrator runs the ReAct loop: it issues LLM calls,
// parses tool calls out of the response, executes them, and applies
// the seven guards that decide whether a turn is accepted, rolled
// back, or ends the attempt. One Orchestrator instance serves exactly
// one task on exactly one goroutine; it holds no state shared across
// tasks.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/relaymind/agentcore/internal/classifier"
	"github.com/relaymind/agentcore/internal/config"
	"github.com/relaymind/agentcore/internal/contextmgr"
	"github.com/relaymind/agentcore/internal/dedup"
	"github.com/relaymind/agentcore/internal/errkind"
	"github.com/relaymind/agentcore/internal/events"
	"github.com/relaymind/agentcore/internal/llm"
	"github.com/relaymind/agentcore/internal/message"
	"github.com/relaymind/agentcore/internal/metrics"
	"github.com/relaymind/agentcore/internal/parser"
	"github.com/relaymind/agentcore/internal/prompt"
	"github.com/relaymind/agentcore/internal/tools"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("agentcore.orchestrator")

// SubAgentInvoker runs a nested orchestrator for a search_and_browse
// style tool call and returns its final summary text as the tool
// result, per §4.7's sub-agent invocation note.
type SubAgentInvoker interface {
	InvokeSubAgent(ctx context.Context, subtask string) (summary string, err error)
}

// Deps are the task-independent collaborators one Orchestrator needs;
// a fresh Context Manager and duplicate-query Index are built
// internally per task.
type Deps struct {
	LLM        llm.Client
	Tools      *tools.Client
	Composer   *prompt.Composer
	Classifier *classifier.Classifier
	Sink       events.Sink
	AgentName  string
	Role       prompt.Role
	AgentCfg   config.AgentConfig

	// SubAgentTool is the tool name that dispatches to SubAgent instead
	// of the Tool Client (e.g. "search_and_browse"). Empty disables
	// sub-agent dispatch.
	SubAgentTool string
	SubAgent     SubAgentInvoker

	// Summarizer backs periodic compaction (§4.6); required only when
	// AgentCfg.ContextCompressLimit > 0.
	Summarizer contextmgr.Summarizer

	MaxContextLength         int
	ReservedCompletionBudget int
	MaxTokensPerCall         int
}

// Orchestrator runs one attempt-and-retry loop for one task.
type Orchestrator struct {
	deps  Deps
	dedup *dedup.Index
}

// New builds an Orchestrator over deps. A fresh Context Manager is
// built internally for every attempt so a retry starts with clean
// compaction state.
func New(deps Deps) *Orchestrator {
	return &Orchestrator{deps: deps, dedup: dedup.New()}
}

// attemptOutcome classifies how one attempt ended, before Run decides
// whether to retry with failure experience.
type attemptOutcome int

const (
	outcomeSuccess attemptOutcome = iota
	outcomeFormatMissed
	outcomeIncomplete
	outcomeMaxTurns
	outcomeTooManyRollbacks
)

// SetSink rebinds the event sink a pooled Orchestrator publishes to.
// Callers that reuse one Orchestrator across tasks (internal/pool)
// must call this before each Run, since a pooled instance's Deps
// otherwise still point at whichever request checked it out last.
func (o *Orchestrator) SetSink(sink events.Sink) { o.deps.Sink = sink }

// Run executes the full retry-with-failure-experience loop for one
// task and returns the final boxed answer, or an empty string with a
// non-success events.Outcome if every attempt failed. The duplicate-
// query index is reset at the start of every call so a pooled
// Orchestrator reused across tasks never leaks one task's dedup state
// into the next (spec.md §5: "The duplicate-query index is per task;
// no sharing").
func (o *Orchestrator) Run(ctx context.Context, taskText string) (string, events.Outcome, error) {
	o.dedup = dedup.New()
	o.deps.Sink.Publish(events.AgentStarted(o.deps.AgentName, taskText))

	var failureExperiences []prompt.FailureExperience

	for attemptN := 0; attemptN < config.MaxFinalizationAttempts; attemptN++ {
		answer, outcome, postmortem, err := o.runAttempt(ctx, taskText, failureExperiences)
		if err != nil {
			o.deps.Sink.Publish(events.AgentEnded(events.OutcomeFatal))
			return "", events.OutcomeFatal, err
		}

		switch outcome {
		case outcomeSuccess:
			o.deps.Sink.Publish(events.FinalAnswer(answer))
			o.deps.Sink.Publish(events.AgentEnded(events.OutcomeSuccess))
			return answer, events.OutcomeSuccess, nil
		case outcomeTooManyRollbacks:
			o.deps.Sink.Publish(events.AgentEnded(events.OutcomeTooManyRollbacks))
			return "", events.OutcomeTooManyRollbacks, nil
		}

		if postmortem != nil {
			failureExperiences = append(failureExperiences, *postmortem)
		}
		slog.Warn("attempt failed, retrying with failure experience",
			"agent", o.deps.AgentName, "attempt", attemptN, "failure_type", outcomeLabel(outcome))
	}

	o.deps.Sink.Publish(events.AgentEnded(events.OutcomeMaxTurns))
	return "", events.OutcomeMaxTurns, nil
}

func outcomeLabel(o attemptOutcome) string {
	switch o {
	case outcomeFormatMissed:
		return "format_missed"
	case outcomeIncomplete:
		return "incomplete"
	case outcomeMaxTurns:
		return "max_turns"
	default:
		return "unknown"
	}
}

// attemptState is the mutable state of one main-loop attempt.
type attemptState struct {
	history              []message.Message
	turn                 int
	consecutiveRollbacks int
	totalAttempts        int
	lastPromptTokens     int
	lastCompletionTokens int
	lastUserTokens       int
}

// runAttempt runs one bounded main loop plus finalization, returning
// the boxed answer on success or a post-mortem on failure for the
// caller to fold into the next attempt's failure-experience block.
func (o *Orchestrator) runAttempt(ctx context.Context, taskText string, failureExperiences []prompt.FailureExperience) (string, attemptOutcome, *prompt.FailureExperience, error) {
	systemPrompt, err := o.deps.Composer.SystemPrompt(o.deps.Role, failureExperiences)
	if err != nil {
		return "", outcomeIncomplete, nil, fmt.Errorf("orchestrator: build system prompt: %w", err)
	}

	st := &attemptState{
		history: []message.Message{
			{Role: message.RoleSystem, Content: systemPrompt},
			{Role: message.RoleUser, Content: taskText},
		},
	}
	st.lastUserTokens = o.deps.LLM.EstimateTokens(taskText)

	ctxMgr := contextmgr.New(o.deps.AgentCfg.KeepToolResult, o.deps.AgentCfg.ContextCompressLimit,
		o.deps.MaxContextLength, o.deps.ReservedCompletionBudget, tokenEstimatorAdapter{o.deps.LLM}, o.deps.Summarizer)

	maxAttempts := o.deps.AgentCfg.MaxTurns + config.ExtraAttemptsBuffer

	for st.turn < o.deps.AgentCfg.MaxTurns && st.totalAttempts < maxAttempts {
		if err := ctx.Err(); err != nil {
			return "", outcomeIncomplete, nil, err
		}
		st.totalAttempts++

		natural, err := o.runTurn(ctx, st, ctxMgr)
		if err != nil {
			if kerr, ok := err.(*errkind.Error); ok && kerr.Kind == errkind.TooManyRollbacks {
				return "", outcomeTooManyRollbacks, nil, nil
			}
			return "", outcomeIncomplete, nil, err
		}
		if natural {
			break
		}
	}

	return o.finalize(ctx, st)
}

type tokenEstimatorAdapter struct{ c llm.Client }

func (a tokenEstimatorAdapter) EstimateTokens(text string) int { return a.c.EstimateTokens(text) }

// streamGenerate issues one LLM call through GenerateStream and
// publishes an events.LLMChunk per token as it arrives, so the
// Streaming Adapter's think-block path (§4.9) sees real reasoning
// tokens rather than going unreached in production. It assembles the
// streamed tokens into the same GenResult shape the rest of the
// orchestrator works with.
func (o *Orchestrator) streamGenerate(ctx context.Context, history []message.Message) (llm.GenResult, error) {
	var text strings.Builder
	var usage llm.Usage
	err := o.deps.LLM.GenerateStream(ctx, history, o.deps.MaxTokensPerCall, func(ev llm.StreamEvent) error {
		switch ev.Type {
		case llm.StreamEventToken:
			text.WriteString(ev.Token)
			o.deps.Sink.Publish(events.LLMChunk(ev.Token))
		case llm.StreamEventDone:
			usage = ev.Usage
		case llm.StreamEventError:
			return ev.Err
		}
		return nil
	})
	if err != nil {
		return llm.GenResult{}, err
	}
	return llm.GenResult{Text: text.String(), Usage: usage}, nil
}

// runTurn executes one LLM round-trip, parses it, and applies the
// seven guards in the precedence order spec.md §4.7 defines. It
// returns (true, nil) when the attempt should end normally (guard 2),
// and a *errkind.Error{Kind: TooManyRollbacks} when guard-driven
// rollback has exhausted consecutive_rollbacks.
func (o *Orchestrator) runTurn(ctx context.Context, st *attemptState, ctxMgr *contextmgr.Manager) (bool, error) {
	ctx, span := tracer.Start(ctx, "orchestrator.turn",
		trace.WithAttributes(
			attribute.String("agent.name", o.deps.AgentName),
			attribute.Int("agent.attempt", st.totalAttempts),
		))
	defer span.End()

	o.deps.Sink.Publish(events.Event{Kind: events.KindLLMStarted})
	genResult, err := o.streamGenerate(ctx, st.history)
	if err != nil {
		return false, fmt.Errorf("orchestrator: llm generate: %w", err)
	}
	o.deps.Sink.Publish(events.LLMEnded(genResult.Usage))
	st.lastPromptTokens = genResult.Usage.PromptTokens
	st.lastCompletionTokens = genResult.Usage.CompletionTokens

	if err := ctx.Err(); err != nil {
		return false, err
	}

	parseResult, perr := parser.Parse(genResult.Text)
	if perr != nil {
		o.deps.Sink.Publish(events.ParseResult(nil, "", false))
		return false, o.rollback(st, "parse_error")
	}
	o.deps.Sink.Publish(events.ParseResult(parseResult.ToolCalls, parseResult.Boxed, parseResult.HasBoxed))

	if err := ctx.Err(); err != nil {
		return false, err
	}

	isRefusal := o.deps.Classifier != nil && o.deps.Classifier.MatchAny("refusal", genResult.Text)

	switch {
	case len(parseResult.ToolCalls) == 0 && parser.HasBareProtocolTags(genResult.Text):
		return false, o.rollback(st, "format_error")
	case len(parseResult.ToolCalls) == 0 && isRefusal:
		return false, o.rollback(st, "refusal")
	case len(parseResult.ToolCalls) == 0:
		return true, nil
	}

	call := parseResult.ToolCalls[0]
	st.history = append(st.history, message.Message{Role: message.RoleAssistant, Content: genResult.Text})

	query, hasQuery := dedup.ExtractQuery(call.ToolName, call.Arguments)
	if hasQuery && o.dedup.Count(o.deps.AgentName, call.ToolName, query) >= 1 {
		if st.consecutiveRollbacks < config.MaxConsecutiveRollbacks-1 {
			return false, o.rollback(st, "duplicate_query")
		}
		slog.Warn("duplicate query allowed through: no rollbacks remain", "agent", o.deps.AgentName, "tool", call.ToolName)
	}

	result, err := o.invokeTool(ctx, call)
	if err != nil {
		return false, fmt.Errorf("orchestrator: tool invocation: %w", err)
	}

	if result.IsError {
		o.deps.Sink.Publish(events.ToolFailed(result.ErrorKind, result.Content))
		return false, o.rollback(st, "tool_error")
	}
	o.deps.Sink.Publish(events.ToolSucceeded(result.Content))

	if hasQuery {
		o.dedup.RecordExecution(o.deps.AgentName, call.ToolName, query)
	}
	st.consecutiveRollbacks = 0
	st.history = append(st.history, message.NewToolResultMessage(result.Content))
	st.turn++

	newHistory, compacted, err := ctxMgr.ApplyPostTurn(ctx, st.history)
	if err != nil {
		return false, fmt.Errorf("orchestrator: context manager: %w", err)
	}
	st.history = newHistory
	if compacted {
		st.turn = 0
	}

	if ctxMgr.Strategy() != contextmgr.StrategyPeriodicCompaction &&
		ctxMgr.EstimateOverflow(st.lastPromptTokens, st.lastCompletionTokens, st.lastUserTokens, 0) {
		st.history = contextmgr.PopLastPair(st.history)
		st.turn = o.deps.AgentCfg.MaxTurns
		return true, nil
	}

	return false, nil
}

// invokeTool dispatches to either the Tool Client or, for the
// configured sub-agent tool name, a nested orchestrator.
func (o *Orchestrator) invokeTool(ctx context.Context, call message.ToolCall) (message.ToolResult, error) {
	if o.deps.SubAgentTool != "" && call.ToolName == o.deps.SubAgentTool && o.deps.SubAgent != nil {
		subtask, _ := call.Arguments["subtask"].(string)
		o.deps.Sink.Publish(events.SubAgentStarted(o.deps.AgentName+".sub", subtask))
		summary, err := o.deps.SubAgent.InvokeSubAgent(ctx, subtask)
		if err != nil {
			o.deps.Sink.Publish(events.SubAgentEnded(""))
			return message.ToolResult{ToolName: call.ToolName, IsError: true, ErrorKind: errkind.Server, Content: err.Error()}, nil
		}
		o.deps.Sink.Publish(events.SubAgentEnded(summary))
		return message.ToolResult{ToolName: call.ToolName, Content: summary}, nil
	}

	o.deps.Sink.Publish(events.ToolStarted(call.ServerName, call.ToolName, call.Arguments))
	return o.deps.Tools.Invoke(ctx, call.ServerName, call.ToolName, call.Arguments)
}

// rollback pops the trailing assistant message, decrements turn_count,
// and increments consecutive_rollbacks, aborting with
// errkind.TooManyRollbacks once the ceiling is hit.
func (o *Orchestrator) rollback(st *attemptState, reason string) error {
	metrics.RollbacksTotal.WithLabelValues(reason).Inc()
	o.deps.Sink.Publish(events.Rollback(reason))
	if n := len(st.history); n > 0 && st.history[n-1].Role == message.RoleAssistant {
		st.history = st.history[:n-1]
	}
	if st.turn > 0 {
		st.turn--
	}
	st.consecutiveRollbacks++
	if st.consecutiveRollbacks >= config.MaxConsecutiveRollbacks {
		return errkind.New(errkind.TooManyRollbacks, reason)
	}
	return nil
}

// finalize issues the role-specific summary prompt and, on a missing
// boxed answer, a no-tools post-mortem call, per §4.7.
func (o *Orchestrator) finalize(ctx context.Context, st *attemptState) (string, attemptOutcome, *prompt.FailureExperience, error) {
	o.deps.Sink.Publish(events.Event{Kind: events.KindFinalizationStarted})

	summaryPrompt, err := o.deps.Composer.SummaryPrompt(o.deps.Role)
	if err != nil {
		return "", outcomeIncomplete, nil, fmt.Errorf("orchestrator: build summary prompt: %w", err)
	}
	history := append(append([]message.Message{}, st.history...), message.Message{Role: message.RoleUser, Content: summaryPrompt})

	genResult, err := o.streamGenerate(ctx, history)
	if err != nil {
		return "", outcomeIncomplete, nil, fmt.Errorf("orchestrator: finalization generate: %w", err)
	}

	boxed, ok := parser.ExtractBoxed(stripThinkTags(genResult.Text))
	if ok {
		return boxed, outcomeSuccess, nil, nil
	}

	postmortem, err := o.postmortem(ctx, history)
	if err != nil {
		return "", outcomeFormatMissed, nil, err
	}
	return "", outcomeFormatMissed, postmortem, nil
}

// postmortem asks the LLM, with no tools available, to produce a
// structured failure analysis fed into the next attempt's
// failure-experience block.
func (o *Orchestrator) postmortem(ctx context.Context, history []message.Message) (*prompt.FailureExperience, error) {
	const postmortemPrompt = `Your previous response did not contain a \boxed{...} final answer. ` +
		`Without calling any tools, describe in three short lines: ` +
		`FAILURE_TYPE: <one or two words>, WHAT_HAPPENED: <one sentence>, USEFUL_FINDINGS: <one sentence, or "none">.`

	req := append(append([]message.Message{}, history...), message.Message{Role: message.RoleUser, Content: postmortemPrompt})
	genResult, err := o.streamGenerate(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: postmortem generate: %w", err)
	}
	return parsePostmortem(genResult.Text), nil
}

// stripThinkTags removes <think>…</think> blocks so the boxed-answer
// scanner and round-trip invariant never see reasoning-model scratch
// content, per spec.md invariant 7.
func stripThinkTags(text string) string {
	for {
		start := strings.Index(text, "<think>")
		if start == -1 {
			return text
		}
		rest := text[start:]
		end := strings.Index(rest, "</think>")
		if end == -1 {
			return text[:start]
		}
		text = text[:start] + rest[end+len("</think>"):]
	}
}
