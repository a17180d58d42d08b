// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// TaskEvent is the minimal shape a TaskRenderer needs from an agent-run
// event. It mirrors internal/events.Event's fields the renderer cares
// about without importing that package, keeping pkg/ux free of a
// dependency on the engine internals.
type TaskEvent struct {
	Kind    string
	Tool    string
	Text    string
	Outcome string
}

// TaskRenderer renders one agent task's event stream to a terminal,
// the `cmd/agentcore run` analog of the chat renderers this package
// used to carry for the interactive REPL: a spinner while a turn is in
// flight, styled tool-call lines, and a final boxed answer.
type TaskRenderer struct {
	w           io.Writer
	personality PersonalityLevel
	spinner     *Spinner
	mu          sync.Mutex
}

// NewTaskRenderer creates a renderer for w (os.Stdout if nil).
func NewTaskRenderer(w io.Writer, personality PersonalityLevel) *TaskRenderer {
	if w == nil {
		w = os.Stdout
	}
	return &TaskRenderer{w: w, personality: personality}
}

func (r *TaskRenderer) stopSpinner() {
	if r.spinner != nil {
		r.spinner.Stop()
		r.spinner = nil
	}
}

// Handle dispatches one event to the renderer. Call in order as events
// arrive off the orchestrator's event channel.
func (r *TaskRenderer) Handle(e TaskEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.personality == PersonalityMachine {
		r.handleMachine(e)
		return
	}

	switch e.Kind {
	case "agent_started":
		r.spinner = NewSpinner("thinking")
		r.spinner.Start()
	case "llm_chunk":
		// swallowed: raw chunks may contain unresolved tool-call
		// syntax, not fit for direct terminal display.
	case "tool_started":
		r.stopSpinner()
		fmt.Fprintf(r.w, "%s %s\n", IconArrow.Render(), Styles.Muted.Render("calling "+e.Tool))
		r.spinner = NewSpinner(e.Tool)
		r.spinner.Start()
	case "tool_succeeded":
		r.stopSpinner()
	case "tool_failed":
		r.stopSpinner()
		fmt.Fprintf(r.w, "%s %s\n", IconWarning.Render(), Styles.Warning.Render(e.Tool+" failed: "+e.Text))
	case "final_answer":
		r.stopSpinner()
		fmt.Fprintln(r.w)
		fmt.Fprintln(r.w, Styles.Box.Render(e.Text))
	case "agent_ended":
		r.stopSpinner()
		if e.Outcome != "success" {
			fmt.Fprintf(r.w, "%s %s\n", IconError.Render(), Styles.Error.Render("task ended: "+e.Outcome))
		}
	}
}

func (r *TaskRenderer) handleMachine(e TaskEvent) {
	switch e.Kind {
	case "tool_started":
		fmt.Fprintf(r.w, "TOOL: %s\n", e.Tool)
	case "tool_failed":
		fmt.Fprintf(r.w, "TOOL_ERROR: %s %s\n", e.Tool, e.Text)
	case "final_answer":
		fmt.Fprintf(r.w, "ANSWER: %s\n", e.Text)
	case "agent_ended":
		fmt.Fprintf(r.w, "OUTCOME: %s\n", e.Outcome)
	}
}
