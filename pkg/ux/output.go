// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ux provides rich terminal output styling for the Aleutian Support CLI.
package ux

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
)

// Aleutian palette: the brand teals plus conventional warning and error
// colors so status lines scan fast.
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7")
	ColorTealPrimary = lipgloss.Color("#20B9B4")
	ColorTealDeep    = lipgloss.Color("#16858E")
	ColorSlate       = lipgloss.Color("#2C4A54")

	ColorSuccess = lipgloss.Color("#2CD7C7")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
)

// Styles holds the shared lipgloss styles for all CLI output.
var Styles = struct {
	Title     lipgloss.Style
	Subtitle  lipgloss.Style
	Muted     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Highlight lipgloss.Style

	Box     lipgloss.Style
	InfoBox lipgloss.Style
}{
	Title:     lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright),
	Subtitle:  lipgloss.NewStyle().Foreground(ColorTealPrimary),
	Muted:     lipgloss.NewStyle().Foreground(ColorSlate),
	Success:   lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning:   lipgloss.NewStyle().Foreground(ColorWarning),
	Error:     lipgloss.NewStyle().Foreground(ColorError),
	Highlight: lipgloss.NewStyle().Foreground(ColorTealBright).Bold(true),

	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorTealDeep).
		Padding(0, 1),
	InfoBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorTealPrimary).
		Padding(0, 1),
}

// Icon is a status glyph used in chat and command output.
type Icon string

const (
	IconSuccess  Icon = "✓"
	IconWarning  Icon = "⚠"
	IconError    Icon = "✗"
	IconArrow    Icon = "→"
	IconChat     Icon = "💬"
	IconInfo     Icon = "ℹ"
	IconDocument Icon = "📄"
	IconTime     Icon = "⏱"
	IconTool     Icon = "🔧"
	IconShield   Icon = "🛡"
)

// Render returns the icon, colored when it carries a status meaning and
// colors are enabled.
func (i Icon) Render() string {
	if !ShouldShowColors() {
		return string(i)
	}
	switch i {
	case IconSuccess:
		return Styles.Success.Render(string(i))
	case IconWarning:
		return Styles.Warning.Render(string(i))
	case IconError:
		return Styles.Error.Render(string(i))
	default:
		return string(i)
	}
}

// The print helpers below degrade by personality: machine mode emits
// stable prefixed lines, minimal mode and NO_COLOR drop the styling,
// and the interactive modes use the full palette.

// Title prints a section heading. Suppressed in machine mode.
func Title(text string) {
	switch {
	case GetPersonality().Level == PersonalityMachine:
	case !ShouldShowColors():
		fmt.Println(text)
	default:
		fmt.Println(Styles.Title.Render(text))
	}
}

// Success prints a completion line.
func Success(text string) {
	switch {
	case GetPersonality().Level == PersonalityMachine:
		fmt.Fprintf(os.Stdout, "OK: %s\n", text)
	case GetPersonality().Level == PersonalityMinimal || !ShouldShowColors():
		fmt.Printf("%s %s\n", IconSuccess.Render(), text)
	default:
		fmt.Printf("%s %s\n", IconSuccess.Render(), Styles.Success.Render(text))
	}
}

// Warning prints a warning line. Machine mode routes it to stderr.
func Warning(text string) {
	switch {
	case GetPersonality().Level == PersonalityMachine:
		fmt.Fprintf(os.Stderr, "WARN: %s\n", text)
	case GetPersonality().Level == PersonalityMinimal || !ShouldShowColors():
		fmt.Printf("%s %s\n", IconWarning.Render(), text)
	default:
		fmt.Printf("%s %s\n", IconWarning.Render(), Styles.Warning.Render(text))
	}
}

// Error prints an error line. Machine mode routes it to stderr.
func Error(text string) {
	switch {
	case GetPersonality().Level == PersonalityMachine:
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", text)
	case GetPersonality().Level == PersonalityMinimal || !ShouldShowColors():
		fmt.Printf("%s %s\n", IconError.Render(), text)
	default:
		fmt.Printf("%s %s\n", IconError.Render(), Styles.Error.Render(text))
	}
}

// Info prints an informational line with a gutter mark.
func Info(text string) {
	switch {
	case GetPersonality().Level == PersonalityMachine:
		fmt.Println(text)
	case !ShouldShowColors():
		fmt.Printf("│ %s\n", text)
	default:
		fmt.Printf("%s %s\n", Styles.Muted.Render("│"), text)
	}
}

// Muted prints secondary text. Suppressed in machine mode.
func Muted(text string) {
	switch {
	case GetPersonality().Level == PersonalityMachine:
	case !ShouldShowColors():
		fmt.Println(text)
	default:
		fmt.Println(Styles.Muted.Render(text))
	}
}
