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
	"sync"
	"testing"
)

// =============================================================================
// GetPersonality / SetPersonality Tests
// =============================================================================

func TestSetPersonality_AndGet(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)

	custom := Personality{Level: PersonalityMinimal, Color: false}
	SetPersonality(custom)

	if got := GetPersonality(); got != custom {
		t.Errorf("expected %+v, got %+v", custom, got)
	}
}

// =============================================================================
// SetPersonalityLevel Tests
// =============================================================================

func TestSetPersonalityLevel_AllLevels(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)

	for _, level := range []PersonalityLevel{
		PersonalityFull, PersonalityStandard, PersonalityMinimal, PersonalityMachine,
	} {
		SetPersonalityLevel(level)
		if got := GetPersonality().Level; got != level {
			t.Errorf("expected level %v, got %v", level, got)
		}
	}
}

func TestSetPersonalityLevel_KeepsColorSetting(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)

	SetPersonality(Personality{Level: PersonalityFull, Color: true})
	SetPersonalityLevel(PersonalityMachine)

	got := GetPersonality()
	if got.Level != PersonalityMachine {
		t.Errorf("expected level machine, got %v", got.Level)
	}
	if !got.Color {
		t.Error("changing the level should not reset the color setting")
	}
}

// =============================================================================
// ParsePersonalityLevel Tests
// =============================================================================

func TestParsePersonalityLevel(t *testing.T) {
	cases := []struct {
		input string
		want  PersonalityLevel
	}{
		{"full", PersonalityFull},
		{"Full", PersonalityFull},
		{"FULL", PersonalityFull},
		{"f", PersonalityFull},
		{" full ", PersonalityFull},
		{"standard", PersonalityStandard},
		{"STANDARD", PersonalityStandard},
		{"std", PersonalityStandard},
		{"s", PersonalityStandard},
		{"minimal", PersonalityMinimal},
		{"Minimal", PersonalityMinimal},
		{"min", PersonalityMinimal},
		{"m", PersonalityMinimal},
		{"machine", PersonalityMachine},
		{"MACHINE", PersonalityMachine},
		{"quiet", PersonalityMachine},
		{"q", PersonalityMachine},
	}

	for _, tc := range cases {
		if got := ParsePersonalityLevel(tc.input); got != tc.want {
			t.Errorf("ParsePersonalityLevel(%q) = %v, want %v", tc.input, got, tc.want)
		}
	}
}

func TestParsePersonalityLevel_UnknownFallsBackToStandard(t *testing.T) {
	for _, input := range []string{"unknown", "invalid", "", "xyz", "12345"} {
		if got := ParsePersonalityLevel(input); got != PersonalityStandard {
			t.Errorf("ParsePersonalityLevel(%q) = %v, want PersonalityStandard", input, got)
		}
	}
}

// =============================================================================
// InitPersonality Tests
// =============================================================================

// clearColorEnv unsets NO_COLOR for the test and restores it afterwards.
func clearColorEnv(t *testing.T) {
	t.Helper()
	t.Setenv("NO_COLOR", "")
	os.Unsetenv("NO_COLOR")
}

func TestInitPersonality_LevelFromEnv(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)
	clearColorEnv(t)

	t.Setenv("ALEUTIAN_PERSONALITY", "minimal")
	InitPersonality()

	if got := GetPersonality().Level; got != PersonalityMinimal {
		t.Errorf("expected PersonalityMinimal from env, got %v", got)
	}
}

func TestInitPersonality_MachineFromEnv(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)

	t.Setenv("ALEUTIAN_PERSONALITY", "machine")
	InitPersonality()

	if got := GetPersonality().Level; got != PersonalityMachine {
		t.Errorf("expected PersonalityMachine from env, got %v", got)
	}
}

func TestInitPersonality_NoColorEnvDisablesColor(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)

	t.Setenv("ALEUTIAN_PERSONALITY", "full")
	t.Setenv("NO_COLOR", "1")
	InitPersonality()

	got := GetPersonality()
	if got.Level != PersonalityFull {
		t.Errorf("expected PersonalityFull, got %v", got.Level)
	}
	if got.Color {
		t.Error("NO_COLOR should disable color at any level")
	}
}

func TestInitPersonality_NoEnv_FollowsTerminal(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)
	clearColorEnv(t)

	t.Setenv("ALEUTIAN_PERSONALITY", "")
	os.Unsetenv("ALEUTIAN_PERSONALITY")

	InitPersonality()

	got := GetPersonality()
	if stdoutIsTerminal() {
		if got.Level != PersonalityFull {
			t.Errorf("expected PersonalityFull on a terminal, got %v", got.Level)
		}
	} else {
		if got.Level != PersonalityMachine {
			t.Errorf("expected PersonalityMachine for redirected stdout, got %v", got.Level)
		}
		if got.Color {
			t.Error("redirected stdout should disable color")
		}
	}
}

// =============================================================================
// Terminal Detection Tests
// =============================================================================

func TestStdoutIsTerminal_DoesNotPanic(t *testing.T) {
	// The value depends on how the tests are run; only the probe itself
	// is under test.
	_ = stdoutIsTerminal()
}

// =============================================================================
// Derived Setting Tests
// =============================================================================

func TestIsInteractive_MachineMode(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)

	SetPersonalityLevel(PersonalityMachine)

	if IsInteractive() {
		t.Error("expected IsInteractive to be false in machine mode")
	}
}

func TestShouldShowProgress(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)

	cases := []struct {
		level PersonalityLevel
		want  bool
	}{
		{PersonalityFull, true},
		{PersonalityStandard, true},
		{PersonalityMinimal, true},
		{PersonalityMachine, false},
	}

	for _, tc := range cases {
		SetPersonalityLevel(tc.level)
		if got := ShouldShowProgress(); got != tc.want {
			t.Errorf("ShouldShowProgress() at %v = %v, want %v", tc.level, got, tc.want)
		}
	}
}

func TestShouldShowColors(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)

	SetPersonality(Personality{Level: PersonalityMachine, Color: true})
	if ShouldShowColors() {
		t.Error("machine mode must never show colors")
	}

	SetPersonality(Personality{Level: PersonalityFull, Color: true})
	if !ShouldShowColors() {
		t.Error("full mode with color enabled should show colors")
	}

	SetPersonality(Personality{Level: PersonalityFull, Color: false})
	if ShouldShowColors() {
		t.Error("disabled color should win over the level")
	}
}

// =============================================================================
// Constant Value Tests
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

func TestDefaultPersonality(t *testing.T) {
	def := DefaultPersonality()
	if def.Level != PersonalityFull {
		t.Errorf("expected Level PersonalityFull, got %v", def.Level)
	}
	if !def.Color {
		t.Error("expected Color enabled by default")
	}
}

// =============================================================================
// Concurrency Safety Tests
// =============================================================================

func TestPersonality_ConcurrentAccess(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)

	levels := []PersonalityLevel{
		PersonalityFull, PersonalityStandard, PersonalityMinimal, PersonalityMachine,
	}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(2)
		go func(level PersonalityLevel) {
			defer wg.Done()
			SetPersonalityLevel(level)
		}(levels[i%len(levels)])
		go func() {
			defer wg.Done()
			_ = GetPersonality()
		}()
	}
	wg.Wait()
}
