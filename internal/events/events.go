// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package events defines the typed event stream the Orchestrator emits
// and the Streaming Adapter consumes. Events are strictly time-ordered
// per task; there is no cross-task ordering guarantee.
package events

import (
	"github.com/relaymind/agentcore/internal/errkind"
	"github.com/relaymind/agentcore/internal/llm"
	"github.com/relaymind/agentcore/internal/message"
)

// Kind is the closed set of event kinds an Orchestrator emits.
type Kind string

const (
	KindAgentStarted        Kind = "agent_started"
	KindLLMStarted          Kind = "llm_started"
	KindLLMChunk            Kind = "llm_chunk"
	KindLLMEnded            Kind = "llm_ended"
	KindParseResult         Kind = "parse_result"
	KindToolStarted         Kind = "tool_started"
	KindToolSucceeded       Kind = "tool_succeeded"
	KindToolFailed          Kind = "tool_failed"
	KindRollback            Kind = "rollback"
	KindSubAgentStarted     Kind = "sub_agent_started"
	KindSubAgentEnded       Kind = "sub_agent_ended"
	KindFinalizationStarted Kind = "finalization_started"
	KindFinalAnswer         Kind = "final_answer"
	KindAgentEnded          Kind = "agent_ended"
)

// Outcome is the closed set of terminal states an agent_ended event
// may carry.
type Outcome string

const (
	OutcomeSuccess          Outcome = "success"
	OutcomeMaxTurns         Outcome = "max_turns"
	OutcomeTooManyRollbacks Outcome = "too_many_rollbacks"
	OutcomeFatal            Outcome = "fatal"
)

// Event is one tagged union value from the Orchestrator. Exactly one
// of the payload fields is meaningful, selected by Kind; this mirrors
// the finite event-kind grammar rather than a family of concrete
// event structs, since the Streaming Adapter dispatches on Kind alone.
type Event struct {
	Kind Kind

	// agent_started / sub_agent_started / sub_agent_ended
	Agent   string
	TaskText string
	Summary string

	// llm_chunk
	Text string

	// llm_ended
	Usage llm.Usage

	// parse_result
	ToolCalls []message.ToolCall
	Boxed     string
	HasBoxed  bool

	// tool_started
	Server string
	Tool   string
	Args   map[string]any

	// tool_succeeded
	Payload string

	// tool_failed / rollback
	ErrorKind errkind.Kind
	Reason    string

	// final_answer
	Answer string

	// agent_ended
	Outcome Outcome
}

// AgentStarted builds the agent_started event opening a task.
func AgentStarted(agent, taskText string) Event {
	return Event{Kind: KindAgentStarted, Agent: agent, TaskText: taskText}
}

// LLMChunk builds one streamed token event.
func LLMChunk(text string) Event { return Event{Kind: KindLLMChunk, Text: text} }

// LLMEnded builds the event closing an LLM call with its usage.
func LLMEnded(usage llm.Usage) Event { return Event{Kind: KindLLMEnded, Usage: usage} }

// ParseResult builds the event reporting what the Response Parser
// extracted from the last LLM response.
func ParseResult(toolCalls []message.ToolCall, boxed string, hasBoxed bool) Event {
	return Event{Kind: KindParseResult, ToolCalls: toolCalls, Boxed: boxed, HasBoxed: hasBoxed}
}

// ToolStarted builds the event opening one tool invocation.
func ToolStarted(server, tool string, args map[string]any) Event {
	return Event{Kind: KindToolStarted, Server: server, Tool: tool, Args: args}
}

// ToolSucceeded builds the event closing a successful tool invocation.
func ToolSucceeded(payload string) Event { return Event{Kind: KindToolSucceeded, Payload: payload} }

// ToolFailed builds the event closing a failed tool invocation.
func ToolFailed(kind errkind.Kind, message string) Event {
	return Event{Kind: KindToolFailed, ErrorKind: kind, Reason: message}
}

// Rollback builds the event recording why a turn was rolled back.
func Rollback(reason string) Event { return Event{Kind: KindRollback, Reason: reason} }

// SubAgentStarted builds the event opening a nested sub-agent call.
func SubAgentStarted(agent, taskText string) Event {
	return Event{Kind: KindSubAgentStarted, Agent: agent, TaskText: taskText}
}

// SubAgentEnded builds the event closing a nested sub-agent call.
func SubAgentEnded(summary string) Event { return Event{Kind: KindSubAgentEnded, Summary: summary} }

// FinalAnswer builds the event carrying the extracted boxed answer.
func FinalAnswer(answer string) Event { return Event{Kind: KindFinalAnswer, Answer: answer} }

// AgentEnded builds the event closing the task with its outcome.
func AgentEnded(outcome Outcome) Event { return Event{Kind: KindAgentEnded, Outcome: outcome} }

// Sink receives events as the Orchestrator produces them. Publish must
// not block indefinitely: the Orchestrator is on the task's only
// goroutine and a stalled Sink stalls the whole task.
type Sink interface {
	Publish(e Event)
}

// Chan is a Sink backed by a buffered channel, read by one Streaming
// Adapter goroutine per task.
type Chan chan Event

// NewChan returns a Chan with room for buffer pending events before
// Publish blocks.
func NewChan(buffer int) Chan { return make(Chan, buffer) }

func (c Chan) Publish(e Event) { c <- e }

// Close signals no further events will be published.
func (c Chan) Close() { close(c) }
