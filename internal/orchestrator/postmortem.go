// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package orchestrator

import (
	"strings"

	"github.com/relaymind/agentcore/internal/prompt"
)

// parsePostmortem pulls FAILURE_TYPE/WHAT_HAPPENED/USEFUL_FINDINGS
// lines out of a post-mortem response. Missing fields degrade to a
// generic label rather than failing the attempt loop over a
// formatting slip in an already-failed attempt.
func parsePostmortem(text string) *prompt.FailureExperience {
	fe := prompt.FailureExperience{
		FailureType:    "format_missed",
		WhatHappened:   "no boxed answer was produced",
		UsefulFindings: "none",
	}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case hasPrefixFold(line, "FAILURE_TYPE:"):
			fe.FailureType = strings.TrimSpace(line[len("FAILURE_TYPE:"):])
		case hasPrefixFold(line, "WHAT_HAPPENED:"):
			fe.WhatHappened = strings.TrimSpace(line[len("WHAT_HAPPENED:"):])
		case hasPrefixFold(line, "USEFUL_FINDINGS:"):
			fe.UsefulFindings = strings.TrimSpace(line[len("USEFUL_FINDINGS:"):])
		}
	}
	return &fe
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}
