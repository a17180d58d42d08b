// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package dedup tracks, per task, how many times each (agent, tool,
// query) triple has actually executed, so the Orchestrator's guard 5
// can detect a repeated side-effectful call.
package dedup

import "strings"

// indexKey identifies one (agent, tool) → query slot.
type indexKey struct {
	agent string
	tool  string
	query string
}

// Index is the per-task duplicate-query index. It is not safe for
// concurrent use by design: one task runs on exactly one goroutine
// (§5), so a lock would only hide bugs rather than prevent races.
type Index struct {
	counts map[indexKey]int
}

// New returns an empty Index.
func New() *Index {
	return &Index{counts: make(map[indexKey]int)}
}

// ExtractQuery returns the dedup key for a tool call's arguments, or
// ("", false) if this tool has no query-string extractor (no dedup
// applies). Extraction is tool-name-specific per §4.5.
func ExtractQuery(tool string, args map[string]any) (string, bool) {
	var field string
	switch tool {
	case "google_search", "web_search", "search":
		field = firstNonEmpty(args, "q", "query", "keyword")
	case "scrape", "scrape_website", "fetch_page", "browse":
		field = firstNonEmpty(args, "url")
	case "search_and_browse":
		field = firstNonEmpty(args, "subtask")
	default:
		return "", false
	}
	if field == "" {
		return "", false
	}
	return strings.TrimSpace(field), true
}

func firstNonEmpty(args map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := args[k]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

// Count returns how many times (agent, tool, query) has executed.
func (idx *Index) Count(agent, tool, query string) int {
	return idx.counts[indexKey{agent: agent, tool: tool, query: strings.TrimSpace(query)}]
}

// RecordExecution increments the count for (agent, tool, query). Must
// only be called after the tool call actually executes, per spec.md's
// invariant that duplicate-query counts increment post-execution.
func (idx *Index) RecordExecution(agent, tool, query string) {
	idx.counts[indexKey{agent: agent, tool: tool, query: strings.TrimSpace(query)}]++
}

// Sum returns the total number of recorded executions across all
// (agent, tool, query) keys, used by the monotonicity test in
// spec.md's testable-properties invariant 6.
func (idx *Index) Sum() int {
	total := 0
	for _, c := range idx.counts {
		total += c
	}
	return total
}
