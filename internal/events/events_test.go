// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package events

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/relaymind/agentcore/internal/errkind"
)

func TestChan_PreservesPublishOrder(t *testing.T) {
	ch := NewChan(8)
	ch.Publish(AgentStarted("main", "what is 2+2?"))
	ch.Publish(LLMChunk("thinking"))
	ch.Publish(ToolFailed(errkind.RateLimited, "429"))
	ch.Publish(AgentEnded(OutcomeSuccess))
	ch.Close()

	var got []Kind
	for e := range ch {
		got = append(got, e.Kind)
	}
	assert.Equal(t, []Kind{KindAgentStarted, KindLLMChunk, KindToolFailed, KindAgentEnded}, got)
}

func TestToolFailed_CarriesErrorKindAndMessage(t *testing.T) {
	e := ToolFailed(errkind.Schema, "unknown tool")
	assert.Equal(t, errkind.Schema, e.ErrorKind)
	assert.Equal(t, "unknown tool", e.Reason)
}
