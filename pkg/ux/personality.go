// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"os"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"
)

// PersonalityLevel selects how much visual output the CLI produces.
type PersonalityLevel string

const (
	// PersonalityFull enables colors, boxes, spinners, and the session banner
	PersonalityFull PersonalityLevel = "full"

	// PersonalityStandard keeps colors and icons without the banner flourishes
	PersonalityStandard PersonalityLevel = "standard"

	// PersonalityMinimal prints icons and plain text only
	PersonalityMinimal PersonalityLevel = "minimal"

	// PersonalityMachine emits stable line-oriented output for scripts
	PersonalityMachine PersonalityLevel = "machine"
)

// Personality is the process-wide output configuration.
type Personality struct {
	// Level controls verbosity (full, standard, minimal, machine)
	Level PersonalityLevel

	// Color enables ANSI styling. InitPersonality forces it off when
	// NO_COLOR is set or stdout is not a terminal.
	Color bool
}

var (
	personalityMu      sync.RWMutex
	currentPersonality = DefaultPersonality()
)

// DefaultPersonality is the configuration in effect before
// InitPersonality runs.
func DefaultPersonality() Personality {
	return Personality{Level: PersonalityFull, Color: true}
}

// GetPersonality returns a copy of the current settings.
func GetPersonality() Personality {
	personalityMu.RLock()
	defer personalityMu.RUnlock()
	return currentPersonality
}

// SetPersonality replaces the current settings.
func SetPersonality(p Personality) {
	personalityMu.Lock()
	defer personalityMu.Unlock()
	currentPersonality = p
}

// SetPersonalityLevel changes the level and keeps the other settings.
func SetPersonalityLevel(level PersonalityLevel) {
	personalityMu.Lock()
	defer personalityMu.Unlock()
	currentPersonality.Level = level
}

// personalityAliases maps every accepted spelling to its level,
// including the short forms used with the --personality flag.
var personalityAliases = map[string]PersonalityLevel{
	"full":     PersonalityFull,
	"f":        PersonalityFull,
	"standard": PersonalityStandard,
	"std":      PersonalityStandard,
	"s":        PersonalityStandard,
	"minimal":  PersonalityMinimal,
	"min":      PersonalityMinimal,
	"m":        PersonalityMinimal,
	"machine":  PersonalityMachine,
	"quiet":    PersonalityMachine,
	"q":        PersonalityMachine,
}

// ParsePersonalityLevel converts a user-supplied string to a level.
// Unknown values fall back to PersonalityStandard.
func ParsePersonalityLevel(s string) PersonalityLevel {
	if level, ok := personalityAliases[strings.ToLower(strings.TrimSpace(s))]; ok {
		return level
	}
	return PersonalityStandard
}

// InitPersonality derives the personality from the environment.
//
// ALEUTIAN_PERSONALITY picks the level explicitly. Without it the level
// is full on a terminal and machine when stdout is redirected, so piped
// output stays parseable. NO_COLOR disables styling at any level.
func InitPersonality() {
	p := DefaultPersonality()

	if env := os.Getenv("ALEUTIAN_PERSONALITY"); env != "" {
		p.Level = ParsePersonalityLevel(env)
	} else if !stdoutIsTerminal() {
		p.Level = PersonalityMachine
	}

	if _, set := os.LookupEnv("NO_COLOR"); set || !stdoutIsTerminal() {
		p.Color = false
	}

	SetPersonality(p)
}

// stdoutIsTerminal reports whether stdout is an interactive terminal.
func stdoutIsTerminal() bool {
	fd := os.Stdout.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// IsInteractive reports whether prompts and forms should be shown.
func IsInteractive() bool {
	return GetPersonality().Level != PersonalityMachine && stdoutIsTerminal()
}

// ShouldShowProgress reports whether spinners should animate.
func ShouldShowProgress() bool {
	return GetPersonality().Level != PersonalityMachine
}

// ShouldShowColors reports whether output should carry ANSI styling.
func ShouldShowColors() bool {
	p := GetPersonality()
	return p.Level != PersonalityMachine && p.Color
}
