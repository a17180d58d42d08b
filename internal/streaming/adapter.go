// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package streaming

import (
	"encoding/json"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/relaymind/agentcore/internal/events"
)

var (
	thinkTagPattern    = regexp.MustCompile(`(?s)<think>.*?</think>`)
	citationTagPattern = regexp.MustCompile(`<researchrefsource\s+data-ids="([^"]*)">.*?</researchrefsource>`)
)

// searchHit is one normalized entry of a search-tool result, used both
// for the research_web_search JSON-lines payload and for the
// search-result cache a later browse call can reuse.
type searchHit struct {
	Index int    `json:"index"`
	Title string `json:"title"`
	Link  string `json:"link"`
}

// V2Adapter converts one task's events.Event stream into the
// hierarchical task-tree SSE chunks described in spec.md §4.9,
// grounded on original_source's OpenAIAdapterV2.convert_event_to_chunk
// and its _handle_search_tool/_handle_scrape_tool/_filter_tool_call_syntax
// helpers, adapted from a class with mutable dict state to methods on a
// per-connection Go struct.
type V2Adapter struct {
	model  string
	writer *Writer

	rootTaskID   string
	rootOpen     bool
	nextIndex    int
	thinkOpen    bool
	thinkTaskID  string
	thinkPending string // buffered raw text withheld pending tag-filter safety

	// set by handleSearchTool, consumed by handleToolSucceeded once the
	// search tool returns and the result count/payload are known.
	pendingSearchKeyword string
	awaitingSearchResult bool

	// search_results_cache/seen_urls equivalent (SPEC_FULL.md §4.9
	// supplemented feature: browse-result caching).
	seenURLs map[string]searchHit
}

// NewV2Adapter builds an adapter writing chunks tagged with model to w.
func NewV2Adapter(w *Writer, model string) *V2Adapter {
	return &V2Adapter{writer: w, model: model, seenURLs: make(map[string]searchHit)}
}

// Run drains ch, translating every event into chunks, until ch closes.
// It returns the first write error encountered, if any.
func (a *V2Adapter) Run(ch <-chan events.Event) error {
	for e := range ch {
		if err := a.handle(e); err != nil {
			return err
		}
	}
	return nil
}

func (a *V2Adapter) handle(e events.Event) error {
	switch e.Kind {
	case events.KindAgentStarted:
		return a.handleAgentStarted()
	case events.KindLLMChunk:
		return a.handleLLMChunk(e.Text)
	case events.KindToolStarted:
		return a.handleToolStarted(e)
	case events.KindToolSucceeded:
		return a.handleToolSucceeded(e)
	case events.KindToolFailed:
		return a.handleToolFailed(e)
	case events.KindFinalAnswer:
		return a.handleFinalAnswer(e.Answer)
	case events.KindAgentEnded:
		return a.handleAgentEnded(e.Outcome)
	default:
		return nil
	}
}

func (a *V2Adapter) index() int {
	a.nextIndex++
	return a.nextIndex
}

func (a *V2Adapter) handleAgentStarted() error {
	a.rootTaskID = uuid.NewString()
	a.rootOpen = true

	return a.writer.WriteChunk(newChunk(a.model, Delta{
		Role:        "task",
		TaskStat:    TaskStart,
		ContentType: ContentProcessBlock,
		TaskID:      a.rootTaskID,
		Index:       a.index(),
		TaskContent: "collecting and analyzing information",
	}, ""))
}

func (a *V2Adapter) openThinkBlock() error {
	a.thinkOpen = true
	a.thinkTaskID = uuid.NewString()
	return a.writer.WriteChunk(a.taskChunk(TaskStart, ContentThinkBlock, a.thinkTaskID, ""))
}

func (a *V2Adapter) closeThinkBlock() error {
	if !a.thinkOpen {
		return nil
	}
	if a.thinkPending != "" {
		if err := a.writer.WriteChunk(a.taskChunk(TaskProcess, ContentThinkBlock, a.thinkTaskID, stripThinkTags(a.thinkPending))); err != nil {
			return err
		}
		a.thinkPending = ""
	}
	a.thinkOpen = false
	return a.writer.WriteChunk(a.taskChunk(TaskResult, ContentThinkBlock, a.thinkTaskID, ""))
}

func (a *V2Adapter) handleLLMChunk(text string) error {
	if !a.thinkOpen {
		if err := a.openThinkBlock(); err != nil {
			return err
		}
	}
	a.thinkPending += text
	safe, hold := filterToolCallSyntax(a.thinkPending)
	if safe == "" {
		a.thinkPending = hold
		return nil
	}
	a.thinkPending = hold
	return a.writer.WriteChunk(a.taskChunk(TaskProcess, ContentThinkBlock, a.thinkTaskID, stripThinkTags(safe)))
}

func (a *V2Adapter) handleToolStarted(e events.Event) error {
	if err := a.closeThinkBlock(); err != nil {
		return err
	}
	if isSearchTool(e.Tool) {
		return a.handleSearchTool(e.Args)
	}
	return a.handleBrowseTool(e.Args)
}

func (a *V2Adapter) handleSearchTool(args map[string]any) error {
	keyword := extractKeyword(args)
	kwID := uuid.NewString()
	if err := a.writer.WriteChunk(a.taskChunk(TaskStart, ContentSearchKeyword, kwID, keyword)); err != nil {
		return err
	}
	if err := a.writer.WriteChunk(a.taskChunk(TaskProcess, ContentSearchKeyword, kwID, keyword)); err != nil {
		return err
	}
	if err := a.writer.WriteChunk(a.taskChunk(TaskResult, ContentSearchKeyword, kwID, "")); err != nil {
		return err
	}

	// The result count and payload are only known once the tool
	// returns; the research_web_search block itself is emitted from
	// handleToolSucceeded.
	a.pendingSearchKeyword = keyword
	a.awaitingSearchResult = true
	return nil
}

// handleToolSucceeded emits the research_web_search block deferred by
// handleSearchTool, now that the tool's result payload is known.
// Browse results need no further emission: handleBrowseTool already
// emitted the single-shot research_web_browse block at tool_started.
func (a *V2Adapter) handleToolSucceeded(e events.Event) error {
	if !a.awaitingSearchResult {
		return nil
	}
	a.awaitingSearchResult = false

	hits := parseSearchHits(e.Payload)
	for _, h := range hits {
		if h.Link != "" {
			a.seenURLs[h.Link] = h
		}
	}

	searchID := uuid.NewString()
	if err := a.writer.WriteChunk(a.taskChunk(TaskStart, ContentWebSearch, searchID, "found "+strconv.Itoa(len(hits))+" results")); err != nil {
		return err
	}

	var lines strings.Builder
	for _, h := range hits {
		line, err := json.Marshal(h)
		if err != nil {
			continue
		}
		lines.Write(line)
		lines.WriteByte('\n')
	}
	if err := a.writer.WriteChunk(a.taskChunk(TaskProcess, ContentWebSearch, searchID, lines.String())); err != nil {
		return err
	}
	return a.writer.WriteChunk(a.taskChunk(TaskResult, ContentWebSearch, searchID, ""))
}

func (a *V2Adapter) handleBrowseTool(args map[string]any) error {
	hit := searchHit{Link: stringArg(args, "link", "url")}
	if idx, ok := args["index"].(float64); ok {
		hit.Index = int(idx)
	}
	hit.Title = stringArg(args, "title")
	snippet := ""
	sitename := ""
	if cached, ok := a.seenURLs[hit.Link]; ok {
		if hit.Title == "" {
			hit.Title = cached.Title
		}
	}
	if hit.Link != "" {
		if u, err := url.Parse(hit.Link); err == nil {
			sitename = u.Hostname()
		}
	}
	payload, _ := json.Marshal(map[string]any{
		"index":    hit.Index,
		"title":    hit.Title,
		"link":     hit.Link,
		"snippet":  snippet,
		"sitename": sitename,
	})

	browseID := uuid.NewString()
	if err := a.writer.WriteChunk(a.taskChunk(TaskStart, ContentWebBrowse, browseID, "")); err != nil {
		return err
	}
	if err := a.writer.WriteChunk(a.taskChunk(TaskProcess, ContentWebBrowse, browseID, string(payload))); err != nil {
		return err
	}
	return a.writer.WriteChunk(a.taskChunk(TaskResult, ContentWebBrowse, browseID, ""))
}

// parseSearchHits normalizes a search tool's raw payload into hits.
// Tool servers are expected to return a JSON array of result objects;
// a payload that doesn't parse that way (e.g. a plain-text stub) is
// treated as a single unstructured hit rather than dropped, so the
// research_web_search block is never silently empty.
func parseSearchHits(payload string) []searchHit {
	var raw []map[string]any
	if err := json.Unmarshal([]byte(payload), &raw); err == nil {
		hits := make([]searchHit, 0, len(raw))
		for i, r := range raw {
			hit := searchHit{Index: i + 1}
			if v, ok := r["title"].(string); ok {
				hit.Title = v
			}
			if v, ok := r["link"].(string); ok {
				hit.Link = v
			} else if v, ok := r["url"].(string); ok {
				hit.Link = v
			}
			hits = append(hits, hit)
		}
		return hits
	}
	if strings.TrimSpace(payload) == "" {
		return nil
	}
	return []searchHit{{Index: 1, Title: payload}}
}

func (a *V2Adapter) handleToolFailed(e events.Event) error {
	// A failed search tool never produces a payload for
	// handleToolSucceeded to consume; drop the deferred block rather
	// than leaving it open forever.
	a.awaitingSearchResult = false

	failID := uuid.NewString()
	if err := a.writer.WriteChunk(a.taskChunk(TaskStart, ContentThinkBlock, failID, "")); err != nil {
		return err
	}
	if err := a.writer.WriteChunk(a.taskChunk(TaskProcess, ContentThinkBlock, failID, "tool error ("+string(e.ErrorKind)+"): "+e.Reason)); err != nil {
		return err
	}
	return a.writer.WriteChunk(a.taskChunk(TaskResult, ContentThinkBlock, failID, ""))
}

func (a *V2Adapter) handleFinalAnswer(answer string) error {
	if err := a.closeThinkBlock(); err != nil {
		return err
	}

	completedID := uuid.NewString()
	if err := a.writer.WriteChunk(a.taskChunk(TaskStart, ContentCompleted, completedID, "")); err != nil {
		return err
	}
	if err := a.writer.WriteChunk(a.taskChunk(TaskResult, ContentCompleted, completedID, "")); err != nil {
		return err
	}

	if err := a.closeRoot(); err != nil {
		return err
	}

	cites, display := extractCitations(answer)
	if err := a.writer.WriteChunk(newChunk(a.model, Delta{Role: "assistant", Content: display}, "")); err != nil {
		return err
	}

	if len(cites) > 0 {
		sourcesID := uuid.NewString()
		payload, _ := json.Marshal(cites)
		if err := a.writer.WriteChunk(a.taskChunk(TaskStart, ContentUsedSources, sourcesID, "")); err != nil {
			return err
		}
		if err := a.writer.WriteChunk(a.taskChunk(TaskProcess, ContentUsedSources, sourcesID, string(payload))); err != nil {
			return err
		}
		if err := a.writer.WriteChunk(a.taskChunk(TaskResult, ContentUsedSources, sourcesID, "")); err != nil {
			return err
		}
	}

	return a.writer.WriteChunk(newChunk(a.model, Delta{}, "stop"))
}

func (a *V2Adapter) handleAgentEnded(outcome events.Outcome) error {
	if a.rootOpen {
		if err := a.closeThinkBlock(); err != nil {
			return err
		}
		if outcome != events.OutcomeSuccess {
			failID := uuid.NewString()
			_ = a.writer.WriteChunk(a.taskChunk(TaskStart, ContentThinkBlock, failID, ""))
			_ = a.writer.WriteChunk(a.taskChunk(TaskProcess, ContentThinkBlock, failID, "task ended: "+string(outcome)))
			_ = a.writer.WriteChunk(a.taskChunk(TaskResult, ContentThinkBlock, failID, ""))
		}
		if err := a.closeRoot(); err != nil {
			return err
		}
		if outcome != events.OutcomeSuccess {
			if err := a.writer.WriteChunk(newChunk(a.model, Delta{Role: "assistant", Content: ""}, "stop")); err != nil {
				return err
			}
		}
	}
	return a.writer.WriteDone()
}

// closeRoot emits the research_process_block :result exactly once; a
// second call (e.g. handleAgentEnded after handleFinalAnswer already
// closed it) is a no-op. Its index is assigned at close time, not at
// agent_started, so it stays after every child block's index even
// though the block itself was opened first and held throughout the
// task.
func (a *V2Adapter) closeRoot() error {
	if !a.rootOpen {
		return nil
	}
	a.rootOpen = false
	return a.writer.WriteChunk(newChunk(a.model, Delta{
		Role:        "task",
		TaskStat:    TaskResult,
		ContentType: ContentProcessBlock,
		TaskID:      a.rootTaskID,
		Index:       a.index(),
	}, ""))
}

func (a *V2Adapter) taskChunk(stat TaskStat, ct ContentType, taskID, content string) Chunk {
	return newChunk(a.model, Delta{
		Role:         "task",
		TaskStat:     stat,
		ContentType:  ct,
		ParentTaskID: a.rootTaskID,
		Index:        a.index(),
		TaskID:       taskID,
		TaskContent:  content,
	}, "")
}

func isSearchTool(tool string) bool {
	t := strings.ToLower(tool)
	return strings.Contains(t, "search")
}

func extractKeyword(args map[string]any) string {
	return stringArg(args, "q", "query", "keyword")
}

func stringArg(args map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := args[k]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return ""
}

func stripThinkTags(text string) string {
	return thinkTagPattern.ReplaceAllString(text, "")
}

// filterToolCallSyntax withholds a trailing unterminated tag (a "<"
// with no ">" after it) so no tag is split across two
// research_think_block chunks. It strips nothing: complete tags,
// including a whole `<use_mcp_tool>` block, pass through into the
// think block content. Grounded on
// OpenAIAdapterV2._filter_tool_call_syntax, reduced to an incremental
// safe-prefix scan.
func filterToolCallSyntax(buf string) (safe, pending string) {
	if i := strings.LastIndex(buf, "<"); i != -1 && !strings.Contains(buf[i:], ">") {
		return buf[:i], buf[i:]
	}
	return buf, ""
}

// extractCitations pulls <researchrefsource data-ids="[...]"> tags out
// of the final answer, returning the cited source indices and the
// answer text with citation markup removed for display. Grounded on
// OpenAIAdapterV2._extract_cited_sources.
func extractCitations(answer string) (ids []int, display string) {
	matches := citationTagPattern.FindAllStringSubmatch(answer, -1)
	seen := make(map[int]bool)
	for _, m := range matches {
		for _, tok := range strings.Split(strings.Trim(m[1], "[]"), ",") {
			tok = strings.TrimSpace(tok)
			if tok == "" {
				continue
			}
			if n, err := strconv.Atoi(tok); err == nil && !seen[n] {
				seen[n] = true
				ids = append(ids, n)
			}
		}
	}
	display = citationTagPattern.ReplaceAllString(answer, "")
	return ids, display
}
