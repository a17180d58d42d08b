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
	"bytes"
	"io"
	"os"
	"testing"
)

// Helper to capture stdout
func captureStdout(f func()) string {
	old := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w

	f()

	w.Close()
	os.Stdout = old

	var buf bytes.Buffer
	io.Copy(&buf, r)
	return buf.String()
}

// Helper to capture stderr
func captureStderr(f func()) string {
	old := os.Stderr
	r, w, _ := os.Pipe()
	os.Stderr = w

	f()

	w.Close()
	os.Stderr = old

	var buf bytes.Buffer
	io.Copy(&buf, r)
	return buf.String()
}

// =============================================================================
// Icon.Render Tests
// =============================================================================

func TestIcon_Render_Warning(t *testing.T) {
	result := IconWarning.Render()
	if result == "" {
		t.Error("expected non-empty result for IconWarning")
	}
}

func TestIcon_Render_Error(t *testing.T) {
	result := IconError.Render()
	if result == "" {
		t.Error("expected non-empty result for IconError")
	}
}

func TestIcon_Render_Default(t *testing.T) {
	// IconArrow has no specific styling and renders unchanged
	result := IconArrow.Render()
	if result != string(IconArrow) {
		t.Errorf("expected %q, got %q", string(IconArrow), result)
	}
}

// =============================================================================
// Style Constants Tests
// =============================================================================

func TestStyles_NotNil(t *testing.T) {
	if Styles.Muted.Render("x") == "" {
		t.Error("expected Styles.Muted to render non-empty output")
	}
	if Styles.Box.Render("x") == "" {
		t.Error("expected Styles.Box to render non-empty output")
	}
}

func TestColorConstants(t *testing.T) {
	colors := []interface{}{
		ColorTealBright,
		ColorTealDeep,
		ColorSlate,
		ColorWarning,
		ColorError,
	}

	for i, c := range colors {
		if c == nil {
			t.Errorf("color at index %d is nil", i)
		}
	}
}

func TestIconConstants(t *testing.T) {
	icons := map[string]Icon{
		"Warning": IconWarning,
		"Error":   IconError,
		"Arrow":   IconArrow,
	}

	for name, icon := range icons {
		if string(icon) == "" {
			t.Errorf("icon %s is empty", name)
		}
	}
}
