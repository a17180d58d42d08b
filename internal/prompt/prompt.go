// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package prompt builds the system, summary, and failure-experience
// prompts the Orchestrator sends to the LLM, from the tool catalog,
// the agent role, and prior post-mortems.
package prompt

import (
	"bytes"
	"encoding/json"
	"strconv"
	"text/template"
	"time"

	"github.com/relaymind/agentcore/internal/message"
)

// Role distinguishes the main agent from a sub-agent invoked for
// browsing subtasks, per §4.3's "main" vs "sub-browsing" objectives.
type Role string

const (
	RoleMain         Role = "main"
	RoleSubBrowsing  Role = "sub-browsing"
)

var roleObjectives = map[Role]string{
	RoleMain:        "You are the lead research agent. Decompose the user's task, use tools as needed, and produce a complete, well-supported final answer.",
	RoleSubBrowsing: "You are a browsing sub-agent invoked by a lead agent to investigate one focused subtask. Search and read as needed, then report your findings concisely; you cannot invoke further sub-agents.",
}

// toolPreamble is the tag-grammar contract from §4.3: one tool call
// per assistant turn, as the last top-level element, in this exact
// XML-like shape so the Response Parser can extract it.
const toolPreamble = `You may call at most one tool per turn. If you call a tool, the tool call
must be the last thing in your message, in exactly this form:

<use_mcp_tool>
  <server_name>SERVER</server_name>
  <tool_name>TOOL</tool_name>
  <arguments>{"key": "value"}</arguments>
</use_mcp_tool>

The arguments block is a single JSON object. Escape embedded double
quotes in string values as \". Do not emit more than one
<use_mcp_tool> block per message. If you are not calling a tool,
respond normally with no protocol tags at all.`

const systemTemplate = `{{.ToolPreamble}}

# Available tools

{{.ToolCatalogJSON}}

# Objective

{{.Objective}}

Today's date is {{.Date}}.
{{if .FailureExperience}}
{{.FailureExperience}}
{{end}}`

const summaryTemplate = `The investigation phase is over. Do not call any more tools. Write your
final answer now, wrapped as:

\boxed{ANSWER}

{{.Objective}}`

const failureHeader = "=== Previous Attempts Analysis ===\n"
const failureFooter = "=== End Previous Attempts Analysis ===\n"

// FailureExperience is one prior attempt's structured post-mortem.
type FailureExperience struct {
	FailureType     string
	WhatHappened    string
	UsefulFindings  string
}

// Composer builds prompts from a tool catalog fixed for the life of
// one task.
type Composer struct {
	catalog message.ToolCatalog
	sysTmpl *template.Template
	sumTmpl *template.Template
}

// New builds a Composer over the given tool catalog.
func New(catalog message.ToolCatalog) (*Composer, error) {
	sysTmpl, err := template.New("system").Parse(systemTemplate)
	if err != nil {
		return nil, err
	}
	sumTmpl, err := template.New("summary").Parse(summaryTemplate)
	if err != nil {
		return nil, err
	}
	return &Composer{catalog: catalog, sysTmpl: sysTmpl, sumTmpl: sumTmpl}, nil
}

type catalogEntryJSON struct {
	Server      string          `json:"server_name"`
	Tool        string          `json:"tool_name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

func (c *Composer) catalogJSON() (string, error) {
	entries := make([]catalogEntryJSON, 0, len(c.catalog))
	for _, e := range c.catalog {
		entries = append(entries, catalogEntryJSON{
			Server: e.ServerName, Tool: e.ToolName, Description: e.Description, InputSchema: e.InputSchema,
		})
	}
	b, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// BuildFailureExperienceBlock renders the header + prior post-mortems
// + footer injected into a retry attempt's system prompt, per §4.7.
func BuildFailureExperienceBlock(experiences []FailureExperience) string {
	if len(experiences) == 0 {
		return ""
	}
	var buf bytes.Buffer
	buf.WriteString(failureHeader)
	for i, e := range experiences {
		buf.WriteString("Attempt ")
		buf.WriteString(strconv.Itoa(i + 1))
		buf.WriteString(": failure_type=")
		buf.WriteString(e.FailureType)
		buf.WriteString("\n  what_happened: ")
		buf.WriteString(e.WhatHappened)
		buf.WriteString("\n  useful_findings: ")
		buf.WriteString(e.UsefulFindings)
		buf.WriteString("\n")
	}
	buf.WriteString(failureFooter)
	return buf.String()
}

// SystemPrompt builds the system prompt for role, optionally carrying
// a failure-experience block from prior attempts.
func (c *Composer) SystemPrompt(role Role, experiences []FailureExperience) (string, error) {
	catalogJSON, err := c.catalogJSON()
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	err = c.sysTmpl.Execute(&buf, struct {
		ToolPreamble      string
		ToolCatalogJSON   string
		Objective         string
		Date              string
		FailureExperience string
	}{
		ToolPreamble:      toolPreamble,
		ToolCatalogJSON:   catalogJSON,
		Objective:         roleObjectives[role],
		Date:              time.Now().UTC().Format("2006-01-02"),
		FailureExperience: BuildFailureExperienceBlock(experiences),
	})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}

// SummaryPrompt builds the finalization prompt for role.
func (c *Composer) SummaryPrompt(role Role) (string, error) {
	var buf bytes.Buffer
	err := c.sumTmpl.Execute(&buf, struct{ Objective string }{Objective: roleObjectives[role]})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}
