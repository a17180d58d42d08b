// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package orchestrator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaymind/agentcore/internal/classifier"
	"github.com/relaymind/agentcore/internal/config"
	"github.com/relaymind/agentcore/internal/events"
	"github.com/relaymind/agentcore/internal/llm"
	"github.com/relaymind/agentcore/internal/message"
	"github.com/relaymind/agentcore/internal/prompt"
	"github.com/relaymind/agentcore/internal/tools"
)

// stubLLM returns one canned response per call, in order, repeating
// the last one if more calls arrive than stubs were provided.
type stubLLM struct {
	responses []string
	calls     int
}

func (s *stubLLM) Generate(ctx context.Context, messages []message.Message, maxTokens int) (llm.GenResult, error) {
	i := s.calls
	if i >= len(s.responses) {
		i = len(s.responses) - 1
	}
	s.calls++
	return llm.GenResult{Text: s.responses[i], Usage: llm.Usage{PromptTokens: 10, CompletionTokens: 5}}, nil
}

// GenerateStream is what the orchestrator actually calls; it streams
// the same canned response Generate would have returned, as a single
// token followed by done, so the stub stays interchangeable for tests
// that assert on Generate directly.
func (s *stubLLM) GenerateStream(ctx context.Context, messages []message.Message, maxTokens int, cb llm.StreamCallback) error {
	i := s.calls
	if i >= len(s.responses) {
		i = len(s.responses) - 1
	}
	s.calls++
	if err := cb(llm.StreamEvent{Type: llm.StreamEventToken, Token: s.responses[i]}); err != nil {
		return err
	}
	return cb(llm.StreamEvent{Type: llm.StreamEventDone, Usage: llm.Usage{PromptTokens: 10, CompletionTokens: 5}})
}

func (s *stubLLM) EstimateTokens(text string) int { return len(text) / 4 }
func (s *stubLLM) MaxContextLength() int          { return 128000 }

// stubSummarizer backs periodic compaction in tests without a live
// Summary LLM call.
type stubSummarizer struct{ calls int }

func (s *stubSummarizer) Summarize(ctx context.Context, history []message.Message) (string, error) {
	s.calls++
	return "compressed history", nil
}

type collectingSink struct{ kinds []events.Kind }

func (c *collectingSink) Publish(e events.Event) { c.kinds = append(c.kinds, e.Kind) }

func testComposer(t *testing.T) *prompt.Composer {
	t.Helper()
	c, err := prompt.New(message.ToolCatalog{
		{ServerName: "search", ToolName: "google_search", Description: "search the web"},
	})
	require.NoError(t, err)
	return c
}

func baseDeps(t *testing.T, llmClient llm.Client, sink *collectingSink) Deps {
	t.Helper()
	cl, err := classifier.NewDefault()
	require.NoError(t, err)
	return Deps{
		LLM:                      llmClient,
		Composer:                 testComposer(t),
		Classifier:               cl,
		Sink:                     sink,
		AgentName:                "main",
		Role:                     prompt.RoleMain,
		AgentCfg:                 config.AgentConfig{MaxTurns: 5, KeepToolResult: -1, ContextCompressLimit: 0},
		MaxContextLength:         128000,
		ReservedCompletionBudget: 1000,
		MaxTokensPerCall:         512,
	}
}

// TestRun_S1_DirectAnswer mirrors spec scenario S1: the LLM answers
// immediately with a boxed answer and no tool calls.
func TestRun_S1_DirectAnswer(t *testing.T) {
	sink := &collectingSink{}
	fake := &stubLLM{responses: []string{`I can answer directly.`, `\boxed{4}`}}
	o := New(baseDeps(t, fake, sink))

	answer, outcome, err := o.Run(context.Background(), "What is 2+2?")
	require.NoError(t, err)
	assert.Equal(t, events.OutcomeSuccess, outcome)
	assert.Equal(t, "4", answer)
	assert.Contains(t, sink.kinds, events.KindAgentStarted)
	assert.Contains(t, sink.kinds, events.KindFinalAnswer)
	assert.Equal(t, events.KindAgentEnded, sink.kinds[len(sink.kinds)-1])
}

// TestRun_RefusalTriggersRollbackThenExhausts forces a refusal phrase
// every turn until consecutive_rollbacks hits the ceiling.
func TestRun_RefusalTriggersRollbackThenExhausts(t *testing.T) {
	sink := &collectingSink{}
	fake := &stubLLM{responses: []string{`I'm sorry, but I can't help with that.`}}
	deps := baseDeps(t, fake, sink)
	deps.AgentCfg.MaxTurns = 10
	o := New(deps)

	_, outcome, err := o.Run(context.Background(), "do something refused")
	require.NoError(t, err)
	assert.Equal(t, events.OutcomeTooManyRollbacks, outcome)

	rollbacks := 0
	for _, k := range sink.kinds {
		if k == events.KindRollback {
			rollbacks++
		}
	}
	assert.Equal(t, config.MaxConsecutiveRollbacks, rollbacks)
}

// TestRun_ToolCallThenBoxedAnswer exercises one successful tool
// invocation before the LLM produces a boxed answer.
func TestRun_ToolCallThenBoxedAnswer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"content": "3 results found", "is_error": false})
	}))
	defer server.Close()

	sink := &collectingSink{}
	toolCallText := `<use_mcp_tool>
  <server_name>search</server_name>
  <tool_name>google_search</tool_name>
  <arguments>{"q": "golang"}</arguments>
</use_mcp_tool>`
	fake := &stubLLM{responses: []string{toolCallText, `Done searching.`, `\boxed{golang is a language}`}}

	deps := baseDeps(t, fake, sink)
	deps.Tools = tools.NewClient(map[string]tools.ServerConfig{
		"search": {Enabled: true, Endpoint: server.URL},
	}, false, 16000)
	o := New(deps)

	answer, outcome, err := o.Run(context.Background(), "what is golang")
	require.NoError(t, err)
	assert.Equal(t, events.OutcomeSuccess, outcome)
	assert.Equal(t, "golang is a language", answer)
	assert.Contains(t, sink.kinds, events.KindToolStarted)
	assert.Contains(t, sink.kinds, events.KindToolSucceeded)
}

// TestRun_MaxTurnsThenFormatMissed issues one tool call so the
// single-turn budget is used up, then no finalization response carries
// a boxed answer, so all three attempts miss and the attempt loop
// exhausts with max_turns.
func TestRun_MaxTurnsThenFormatMissed(t *testing.T) {
	callCount := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callCount++
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"content": "ok", "is_error": false})
	}))
	defer server.Close()

	toolCallText := `<use_mcp_tool>
  <server_name>search</server_name>
  <tool_name>google_search</tool_name>
  <arguments>{"q": "unique-query"}</arguments>
</use_mcp_tool>`
	sink := &collectingSink{}
	fake := &stubLLM{responses: []string{toolCallText, "no boxed answer here", "FAILURE_TYPE: max_turns\nWHAT_HAPPENED: ran out of turns\nUSEFUL_FINDINGS: none"}}

	deps := baseDeps(t, fake, sink)
	deps.AgentCfg.MaxTurns = 1
	deps.Tools = tools.NewClient(map[string]tools.ServerConfig{
		"search": {Enabled: true, Endpoint: server.URL},
	}, false, 16000)
	o := New(deps)

	answer, outcome, err := o.Run(context.Background(), "search repeatedly")
	require.NoError(t, err)
	assert.Empty(t, answer)
	assert.Equal(t, events.OutcomeMaxTurns, outcome)
	assert.GreaterOrEqual(t, callCount, 1)
}

// TestRun_PeriodicCompactionResetsTurnCount mirrors spec §4.6 strategy
// 3: once a compaction fires, the loop restarts with turn_count = 0
// instead of counting the compacted turn against max_turns. With
// MaxTurns=1 the loop would stop after a single tool call if the
// counter weren't reset; compacting every turn lets it run well past
// that ceiling.
func TestRun_PeriodicCompactionResetsTurnCount(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"content": "ok", "is_error": false})
	}))
	defer server.Close()

	toolCall := func(query string) string {
		return `<use_mcp_tool>
  <server_name>search</server_name>
  <tool_name>google_search</tool_name>
  <arguments>{"q": "` + query + `"}</arguments>
</use_mcp_tool>`
	}
	sink := &collectingSink{}
	fake := &stubLLM{responses: []string{
		toolCall("one"), toolCall("two"), toolCall("three"), `\boxed{done}`,
	}}

	deps := baseDeps(t, fake, sink)
	deps.AgentCfg.MaxTurns = 1
	deps.AgentCfg.ContextCompressLimit = 1
	summarizer := &stubSummarizer{}
	deps.Summarizer = summarizer
	deps.Tools = tools.NewClient(map[string]tools.ServerConfig{
		"search": {Enabled: true, Endpoint: server.URL},
	}, false, 16000)
	o := New(deps)

	answer, outcome, err := o.Run(context.Background(), "search a few times")
	require.NoError(t, err)
	assert.Equal(t, events.OutcomeSuccess, outcome)
	assert.Equal(t, "done", answer)

	succeeded := 0
	for _, k := range sink.kinds {
		if k == events.KindToolSucceeded {
			succeeded++
		}
	}
	assert.Equal(t, 3, succeeded, "compaction should have reset turn_count so all three tool calls ran despite max_turns=1")
	assert.GreaterOrEqual(t, summarizer.calls, 3)
}
