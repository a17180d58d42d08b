// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package parser extracts tool-invocation blocks and boxed final
// answers from raw LLM response text, per the tag grammar the prompt
// package's preamble contractually requires the model to emit.
package parser

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/relaymind/agentcore/internal/message"
)

// toolCallPattern matches one <use_mcp_tool> block. It is deliberately
// regex-level, not an XML parse, matching the grammar in spec §4.4.
var toolCallPattern = regexp.MustCompile(`(?s)<use_mcp_tool>\s*<server_name>(.*?)</server_name>\s*<tool_name>(.*?)</tool_name>\s*<arguments>(.*?)</arguments>\s*</use_mcp_tool>`)

// protocolTagPattern matches any bare protocol tag, used to detect a
// format error when no complete tool-call block could be extracted.
var protocolTagPattern = regexp.MustCompile(`</?(use_mcp_tool|server_name|tool_name|arguments)>`)

// ParseError reports a tool-call block whose arguments JSON fails to
// parse; the orchestrator rolls it back as parse_error. Bare protocol
// tags with no complete block are not a ParseError: guard 3 detects
// them separately through HasBareProtocolTags.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string { return "parser: " + e.Reason }

// Result is everything one parse pass extracted from an LLM response.
type Result struct {
	ToolCalls []message.ToolCall
	Boxed     string
	HasBoxed  bool
}

// Parse extracts tool calls and any boxed answer from raw text. When
// more than one <use_mcp_tool> block is present, only the first is
// returned and the rest are logged and discarded, per spec §4.4's
// edge case. A tool-call block whose arguments are not valid JSON
// yields a *ParseError rather than a partial ToolCall.
func Parse(text string) (Result, error) {
	matches := toolCallPattern.FindAllStringSubmatch(text, -1)
	if len(matches) > 1 {
		slog.Warn("multiple tool-call blocks in one response; using the first", "count", len(matches))
	}

	var result Result
	if len(matches) > 0 {
		server := strings.TrimSpace(matches[0][1])
		tool := strings.TrimSpace(matches[0][2])
		rawArgs := strings.TrimSpace(matches[0][3])

		var args map[string]any
		if rawArgs == "" {
			args = map[string]any{}
		} else if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
			return Result{}, &ParseError{Reason: fmt.Sprintf("malformed arguments JSON for %s.%s: %v", server, tool, err)}
		}
		result.ToolCalls = append(result.ToolCalls, message.ToolCall{
			ServerName: server,
			ToolName:   tool,
			Arguments:  args,
		})
	}

	if boxed, ok := ExtractBoxed(text); ok {
		result.Boxed = boxed
		result.HasBoxed = true
	}

	return result, nil
}

// HasBareProtocolTags reports whether text contains any protocol tag
// without a corresponding fully-formed tool-call block having been
// extracted — guard 3's format-error signal.
func HasBareProtocolTags(text string) bool {
	return protocolTagPattern.MatchString(text)
}

// ExtractBoxed finds the first \boxed{…} sentinel and returns its
// content, scanning for the matching closing brace so nested braces
// inside the answer (JSON, code, math) don't truncate it early.
func ExtractBoxed(text string) (string, bool) {
	const marker = `\boxed{`
	idx := strings.Index(text, marker)
	if idx == -1 {
		return "", false
	}
	start := idx + len(marker)
	depth := 1
	for i := start; i < len(text); i++ {
		switch text[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start:i], true
			}
		}
	}
	return "", false
}
