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
	"os"
	"testing"
)

// =============================================================================
// GetPersonality / SetPersonality Tests
// =============================================================================

func TestSetPersonality_AndGet(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)

	SetPersonality(Personality{Level: PersonalityMinimal})

	retrieved := GetPersonality()
	if retrieved.Level != PersonalityMinimal {
		t.Errorf("expected level %v, got %v", PersonalityMinimal, retrieved.Level)
	}
}

// =============================================================================
// SetPersonalityLevel Tests
// =============================================================================

func TestSetPersonalityLevel_Full(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)

	SetPersonalityLevel(PersonalityFull)

	if GetPersonality().Level != PersonalityFull {
		t.Errorf("expected PersonalityFull, got %v", GetPersonality().Level)
	}
}

func TestSetPersonalityLevel_Standard(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)

	SetPersonalityLevel(PersonalityStandard)

	if GetPersonality().Level != PersonalityStandard {
		t.Errorf("expected PersonalityStandard, got %v", GetPersonality().Level)
	}
}

func TestSetPersonalityLevel_Minimal(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)

	SetPersonalityLevel(PersonalityMinimal)

	if GetPersonality().Level != PersonalityMinimal {
		t.Errorf("expected PersonalityMinimal, got %v", GetPersonality().Level)
	}
}

func TestSetPersonalityLevel_Machine(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)

	SetPersonalityLevel(PersonalityMachine)

	if GetPersonality().Level != PersonalityMachine {
		t.Errorf("expected PersonalityMachine, got %v", GetPersonality().Level)
	}
}

// =============================================================================
// ParsePersonalityLevel Tests
// =============================================================================

func TestParsePersonalityLevel_Full(t *testing.T) {
	inputs := []string{"full", "Full", "FULL", "f"}
	for _, input := range inputs {
		result := ParsePersonalityLevel(input)
		if result != PersonalityFull {
			t.Errorf("ParsePersonalityLevel(%q) = %v, want PersonalityFull", input, result)
		}
	}
}

func TestParsePersonalityLevel_Standard(t *testing.T) {
	inputs := []string{"standard", "Standard", "STANDARD", "std", "s"}
	for _, input := range inputs {
		result := ParsePersonalityLevel(input)
		if result != PersonalityStandard {
			t.Errorf("ParsePersonalityLevel(%q) = %v, want PersonalityStandard", input, result)
		}
	}
}

func TestParsePersonalityLevel_Minimal(t *testing.T) {
	inputs := []string{"minimal", "Minimal", "MINIMAL", "min", "m"}
	for _, input := range inputs {
		result := ParsePersonalityLevel(input)
		if result != PersonalityMinimal {
			t.Errorf("ParsePersonalityLevel(%q) = %v, want PersonalityMinimal", input, result)
		}
	}
}

func TestParsePersonalityLevel_Machine(t *testing.T) {
	inputs := []string{"machine", "Machine", "MACHINE", "quiet", "q"}
	for _, input := range inputs {
		result := ParsePersonalityLevel(input)
		if result != PersonalityMachine {
			t.Errorf("ParsePersonalityLevel(%q) = %v, want PersonalityMachine", input, result)
		}
	}
}

func TestParsePersonalityLevel_Default(t *testing.T) {
	// Unknown inputs should default to standard
	inputs := []string{"unknown", "invalid", "", "xyz", "12345"}
	for _, input := range inputs {
		result := ParsePersonalityLevel(input)
		if result != PersonalityStandard {
			t.Errorf("ParsePersonalityLevel(%q) = %v, want PersonalityStandard (default)", input, result)
		}
	}
}

// =============================================================================
// InitPersonality Tests
// =============================================================================

func TestInitPersonality_WithEnvVar(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)
	defer os.Unsetenv("AGENTCORE_PERSONALITY")

	os.Setenv("AGENTCORE_PERSONALITY", "minimal")
	InitPersonality()

	if GetPersonality().Level != PersonalityMinimal {
		t.Errorf("expected PersonalityMinimal from env, got %v", GetPersonality().Level)
	}
}

func TestInitPersonality_WithEnvVar_Machine(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)
	defer os.Unsetenv("AGENTCORE_PERSONALITY")

	os.Setenv("AGENTCORE_PERSONALITY", "machine")
	InitPersonality()

	if GetPersonality().Level != PersonalityMachine {
		t.Errorf("expected PersonalityMachine from env, got %v", GetPersonality().Level)
	}
}

func TestInitPersonality_NoEnvVar(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)

	os.Unsetenv("AGENTCORE_PERSONALITY")

	// In tests, stdout is typically not a terminal so we'll get machine mode
	InitPersonality()

	level := GetPersonality().Level
	if level != PersonalityFull && level != PersonalityMachine {
		t.Errorf("expected PersonalityFull or PersonalityMachine, got %v", level)
	}
}

// =============================================================================
// isTerminal Tests
// =============================================================================

func TestIsTerminal(t *testing.T) {
	// In test environment, stdout is typically not a terminal; just verify
	// it doesn't panic.
	_ = isTerminal()
}

// =============================================================================
// PersonalityLevel Constants Tests
// =============================================================================

func TestPersonalityLevel_Values(t *testing.T) {
	if PersonalityFull != "full" {
		t.Errorf("expected PersonalityFull = 'full', got %q", PersonalityFull)
	}
	if PersonalityStandard != "standard" {
		t.Errorf("expected PersonalityStandard = 'standard', got %q", PersonalityStandard)
	}
	if PersonalityMinimal != "minimal" {
		t.Errorf("expected PersonalityMinimal = 'minimal', got %q", PersonalityMinimal)
	}
	if PersonalityMachine != "machine" {
		t.Errorf("expected PersonalityMachine = 'machine', got %q", PersonalityMachine)
	}
}

// =============================================================================
// Concurrency Safety Tests
// =============================================================================

func TestPersonality_ConcurrentAccess(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)

	done := make(chan bool, 10)

	// Concurrent writers
	for i := 0; i < 5; i++ {
		go func(level PersonalityLevel) {
			SetPersonalityLevel(level)
			done <- true
		}(PersonalityLevel([]PersonalityLevel{PersonalityFull, PersonalityStandard, PersonalityMinimal, PersonalityMachine}[i%4]))
	}

	// Concurrent readers
	for i := 0; i < 5; i++ {
		go func() {
			_ = GetPersonality()
			done <- true
		}()
	}

	// Wait for all goroutines
	for i := 0; i < 10; i++ {
		<-done
	}
}
