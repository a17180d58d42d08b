// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package errkind defines the closed error taxonomy shared by tool
// invocation, LLM calls, and the orchestrator's guard evaluation.
//
// Kind is serialized into ToolResult and Event payloads, so it is a
// fixed string enum rather than a sentinel-error var block: callers on
// the wire need the same closed vocabulary callers in-process get.
package errkind

// Kind is one entry of the error taxonomy.
type Kind string

const (
	None              Kind = ""
	Transport         Kind = "transport"
	RateLimited       Kind = "rate_limited"
	Schema            Kind = "schema"
	Server            Kind = "server"
	Timeout           Kind = "timeout"
	Parse             Kind = "parse"
	Refusal           Kind = "refusal"
	Format            Kind = "format"
	DuplicateQuery    Kind = "duplicate_query"
	ContextOverflow   Kind = "context_overflow"
	TooManyRollbacks  Kind = "too_many_rollbacks"
	MaxTurns          Kind = "max_turns"
)

// Error adapts Kind to the error interface so it composes with errors.Is
// and %w wrapping without losing its taxonomy value.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Message
}

// New builds an *Error for the given kind and message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Is implements errors.Is comparison by Kind so callers can test
// errors.Is(err, errkind.New(errkind.Timeout, "")) regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Transient reports whether the kind represents a condition C1/C2 may
// retry internally (transport hiccups), as opposed to one the
// orchestrator must handle via rollback or natural termination.
func (k Kind) Transient() bool {
	switch k {
	case Transport, RateLimited, Timeout:
		return true
	default:
		return false
	}
}
