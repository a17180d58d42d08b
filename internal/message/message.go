// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package message defines the conversation data model shared by the
// Prompt Composer, Response Parser, Context Manager, and Orchestrator.
package message

import "github.com/relaymind/agentcore/internal/errkind"

// Role is the closed set of conversation roles.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one turn of the conversation. Tool results are carried as
// RoleUser messages whose Content is the tool output, per the wire
// contract most chat-completions backends expect; Metadata distinguishes
// a tool-result user message from an ordinary one when the Context
// Manager needs to find and demote it.
type Message struct {
	Role     Role           `json:"role"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// IsToolResult reports whether this message carries a tool result,
// recognized by the Metadata.kind marker Context Manager and
// Orchestrator both set when appending one.
func (m Message) IsToolResult() bool {
	return m.Metadata != nil && m.Metadata["kind"] == "tool_result"
}

// NewToolResultMessage wraps tool output content as a user-role message
// tagged for later identification by the Context Manager.
func NewToolResultMessage(content string) Message {
	return Message{
		Role:     RoleUser,
		Content:  content,
		Metadata: map[string]any{"kind": "tool_result"},
	}
}

// ToolCall is one tool invocation extracted by the Response Parser.
type ToolCall struct {
	ServerName string         `json:"server_name"`
	ToolName   string         `json:"tool_name"`
	Arguments  map[string]any `json:"arguments"`
}

// ToolResult is the normalized outcome of a Tool Client invocation.
type ToolResult struct {
	ToolName  string       `json:"tool_name"`
	Content   string       `json:"content"`
	IsError   bool         `json:"is_error"`
	ErrorKind errkind.Kind `json:"error_kind,omitempty"`
}

// ToolCatalogEntry describes one tool advertised by an MCP server,
// loaded once per task and rendered into the system prompt.
type ToolCatalogEntry struct {
	ServerName  string `json:"server_name"`
	ToolName    string `json:"tool_name"`
	Description string `json:"description"`
	InputSchema []byte `json:"input_schema"`
}

// ToolCatalog is the ordered set of entries visible to the LLM for one
// task.
type ToolCatalog []ToolCatalogEntry

// Find returns the entry matching server/tool, or false if not present.
func (c ToolCatalog) Find(server, tool string) (ToolCatalogEntry, bool) {
	for _, e := range c {
		if e.ServerName == server && e.ToolName == tool {
			return e, true
		}
	}
	return ToolCatalogEntry{}, false
}
