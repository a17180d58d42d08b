// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package dedup

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractQuery_SearchUsesQField(t *testing.T) {
	q, ok := ExtractQuery("google_search", map[string]any{"q": "  weather today  "})
	assert.True(t, ok)
	assert.Equal(t, "weather today", q)
}

func TestExtractQuery_UnknownToolHasNoKey(t *testing.T) {
	_, ok := ExtractQuery("image_analyze", map[string]any{"image_url": "x"})
	assert.False(t, ok)
}

func TestIndex_CountsAfterExecutionOnly(t *testing.T) {
	idx := New()
	q, ok := ExtractQuery("google_search", map[string]any{"q": "X"})
	assert.True(t, ok)

	assert.Equal(t, 0, idx.Count("main", "google_search", q))
	idx.RecordExecution("main", "google_search", q)
	assert.Equal(t, 1, idx.Count("main", "google_search", q))
	// trimming means "X" and " X " collide
	idx.RecordExecution("main", "google_search", " X ")
	assert.Equal(t, 2, idx.Count("main", "google_search", q))
	assert.Equal(t, 2, idx.Sum())
}
