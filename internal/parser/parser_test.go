// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_NoToolCallsNoBoxed(t *testing.T) {
	r, err := Parse("I'm thinking about this, no action yet.")
	require.NoError(t, err)
	assert.Empty(t, r.ToolCalls)
	assert.False(t, r.HasBoxed)
}

func TestParse_SingleToolCall(t *testing.T) {
	text := `I'll search for this.
<use_mcp_tool>
  <server_name>search</server_name>
  <tool_name>google_search</tool_name>
  <arguments>{"q": "golang generics"}</arguments>
</use_mcp_tool>`
	r, err := Parse(text)
	require.NoError(t, err)
	require.Len(t, r.ToolCalls, 1)
	assert.Equal(t, "search", r.ToolCalls[0].ServerName)
	assert.Equal(t, "google_search", r.ToolCalls[0].ToolName)
	assert.Equal(t, "golang generics", r.ToolCalls[0].Arguments["q"])
}

func TestParse_MultipleBlocksTakesFirst(t *testing.T) {
	text := `<use_mcp_tool><server_name>a</server_name><tool_name>t1</tool_name><arguments>{}</arguments></use_mcp_tool>
<use_mcp_tool><server_name>b</server_name><tool_name>t2</tool_name><arguments>{}</arguments></use_mcp_tool>`
	r, err := Parse(text)
	require.NoError(t, err)
	require.Len(t, r.ToolCalls, 1)
	assert.Equal(t, "a", r.ToolCalls[0].ServerName)
}

func TestParse_MalformedArgumentsIsParseError(t *testing.T) {
	text := `<use_mcp_tool>
  <server_name>search</server_name>
  <tool_name>google_search</tool_name>
  <arguments>{not json}</arguments>
</use_mcp_tool>`
	_, err := Parse(text)
	require.Error(t, err)
	var pe *ParseError
	assert.ErrorAs(t, err, &pe)
}

func TestParse_BoxedAnswerWithNestedBraces(t *testing.T) {
	r, err := Parse(`The answer is \boxed{{"x": 1, "y": 2}} done`)
	require.NoError(t, err)
	assert.True(t, r.HasBoxed)
	assert.Equal(t, `{"x": 1, "y": 2}`, r.Boxed)
}

func TestParse_BoxedSimple(t *testing.T) {
	r, err := Parse(`\boxed{4}`)
	require.NoError(t, err)
	assert.True(t, r.HasBoxed)
	assert.Equal(t, "4", r.Boxed)
}

func TestHasBareProtocolTags(t *testing.T) {
	assert.True(t, HasBareProtocolTags("oops <server_name>foo</server_name> with no wrapper"))
	assert.False(t, HasBareProtocolTags("plain text response"))
}
