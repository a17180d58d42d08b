// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"testing"
	"time"
)

// =============================================================================
// NewSpinner Tests
// =============================================================================

func TestNewSpinner_ReturnsNonNil(t *testing.T) {
	spin := NewSpinner("Loading...")
	if spin == nil {
		t.Fatal("NewSpinner returned nil")
	}
}

func TestNewSpinner_SetsMessage(t *testing.T) {
	spin := NewSpinner("Processing data")
	if spin.message != "Processing data" {
		t.Errorf("expected message 'Processing data', got %q", spin.message)
	}
}

func TestNewSpinner_InitializesChannels(t *testing.T) {
	spin := NewSpinner("Loading...")
	if spin.stop == nil {
		t.Error("stop channel should be initialized")
	}
	if spin.done == nil {
		t.Error("done channel should be initialized")
	}
}

// =============================================================================
// Start/Stop Tests (Machine Mode)
// =============================================================================

func TestSpinner_Start_MachineMode(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)

	SetPersonalityLevel(PersonalityMachine)

	spin := NewSpinner("Processing...")
	output := captureStdout(func() {
		spin.Start()
	})

	if output != "PROGRESS: Processing...\n" {
		t.Errorf("expected 'PROGRESS: Processing...', got %q", output)
	}
}

func TestSpinner_Stop_MachineMode(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)

	SetPersonalityLevel(PersonalityMachine)

	spin := NewSpinner("Processing...")
	spin.Start()
	spin.Stop() // Should not panic or hang
}

func TestSpinner_Start_AlreadyRunning(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)

	SetPersonalityLevel(PersonalityMachine)

	spin := NewSpinner("Processing...")
	spin.Start()
	spin.Start() // Second start should be no-op
	spin.Stop()
}

func TestSpinner_Stop_NotRunning(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)

	SetPersonalityLevel(PersonalityMachine)

	spin := NewSpinner("Processing...")
	spin.Stop() // Should not panic when not running
}

// =============================================================================
// Start/Stop Tests (Full Mode - Brief)
// =============================================================================

func TestSpinner_StartStop_FullMode(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)

	SetPersonalityLevel(PersonalityFull)

	spin := NewSpinner("Processing...")
	spin.Start()

	// Give it a moment to start animation
	time.Sleep(100 * time.Millisecond)

	spin.Stop()
}

// =============================================================================
// spinnerFrames Tests
// =============================================================================

func TestSpinnerFrames_NotEmpty(t *testing.T) {
	if len(spinnerFrames) == 0 {
		t.Error("spinnerFrames should not be empty")
	}
}
