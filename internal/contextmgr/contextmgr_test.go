// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package contextmgr

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaymind/agentcore/internal/message"
)

type stubEstimator struct{ n int }

func (s stubEstimator) EstimateTokens(string) int { return s.n }

type stubSummarizer struct{ summary string }

func (s stubSummarizer) Summarize(context.Context, []message.Message) (string, error) {
	return s.summary, nil
}

func TestNew_SelectsStrategy(t *testing.T) {
	assert.Equal(t, StrategyNone, New(-1, 0, 1000, 100, nil, nil).Strategy())
	assert.Equal(t, StrategySlidingWindow, New(2, 0, 1000, 100, nil, nil).Strategy())
	assert.Equal(t, StrategyPeriodicCompaction, New(2, 5, 1000, 100, nil, nil).Strategy())
}

func TestEstimateOverflow(t *testing.T) {
	m := New(-1, 0, 2000, 100, nil, nil)
	assert.False(t, m.EstimateOverflow(100, 50, 10, 0))
	assert.True(t, m.EstimateOverflow(500, 200, 100, 100))
}

func TestDemoteOldToolResults_KeepsMostRecentN(t *testing.T) {
	history := []message.Message{
		{Role: message.RoleSystem, Content: "sys"},
		{Role: message.RoleUser, Content: "task"},
		message.NewToolResultMessage("result 1"),
		message.NewToolResultMessage("result 2"),
		message.NewToolResultMessage("result 3"),
	}
	out := demoteOldToolResults(history, 1)
	assert.Equal(t, "sys", out[0].Content)
	assert.Equal(t, "task", out[1].Content)
	assert.Equal(t, toolResultPlaceholder, out[2].Content)
	assert.Equal(t, toolResultPlaceholder, out[3].Content)
	assert.Equal(t, "result 3", out[4].Content)
}

func TestDemoteOldToolResults_UnderBudgetIsNoop(t *testing.T) {
	history := []message.Message{message.NewToolResultMessage("only one")}
	out := demoteOldToolResults(history, 5)
	assert.Equal(t, "only one", out[0].Content)
}

func TestPopLastPair_RemovesAssistantAndToolResult(t *testing.T) {
	history := []message.Message{
		{Role: message.RoleUser, Content: "task"},
		{Role: message.RoleAssistant, Content: "calling a tool"},
		message.NewToolResultMessage("result"),
	}
	out := PopLastPair(history)
	require.Len(t, out, 1)
	assert.Equal(t, "task", out[0].Content)
}

func TestApplyPostTurn_PeriodicCompaction(t *testing.T) {
	m := New(-1, 2, 100000, 1000, stubEstimator{n: 10}, stubSummarizer{summary: "compressed"})
	history := []message.Message{
		{Role: message.RoleSystem, Content: "sys"},
		{Role: message.RoleUser, Content: "task"},
	}

	out, compacted, err := m.ApplyPostTurn(context.Background(), history)
	require.NoError(t, err)
	assert.False(t, compacted) // turn 1 of 2, not yet compacted
	assert.Equal(t, history, out)

	out, compacted, err = m.ApplyPostTurn(context.Background(), out)
	require.NoError(t, err)
	assert.True(t, compacted)
	require.Len(t, out, 2)
	assert.Equal(t, "sys", out[0].Content)
	assert.Equal(t, "compressed", out[1].Content)
}
