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
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// HeaderConfig contains configuration for displaying the chat header.
//
// # Description
//
// HeaderConfig groups all optional parameters for the chat header display.
// This allows extending the header with new fields without breaking existing
// callers of the Header() method.
//
// # Fields
//
//   - Provider: LLM provider name (e.g., "anthropic", "openai"). May be empty
//     when the server decides.
//   - Model: Model identifier requested for the session. May be empty.
//   - SessionID: Session identifier for resume. May be empty for new sessions.
//   - ServerMemory: True when conversation history lives on the server and
//     only the latest message is sent per turn.
//   - LogAttached: True when a log file was attached for analysis.
//   - BaseURL: Support server base URL (e.g., "http://localhost:8085").
type HeaderConfig struct {
	Provider     string
	Model        string
	SessionID    string
	ServerMemory bool
	LogAttached  bool
	BaseURL      string
}

// SessionStats aggregates metrics from a chat session for display.
//
// # Description
//
// SessionStats captures accumulated metrics across all exchanges in a
// chat session. It's designed to be displayed when the session ends,
// giving users visibility into their session's performance and the
// integrity of what they received.
//
// # Fields
//
//   - MessageCount: Number of user messages sent
//   - FramesReceived: Total stream frames received across all responses
//   - ToolCalls: Total tool invocations observed across all responses
//   - VerifiedChains: Number of responses whose hash chain verified
//   - FailedChains: Number of responses whose hash chain failed verification
//   - Duration: Total session duration
//   - FirstResponseLatency: Time to first delta of the first response
//   - AverageResponseTime: Average time per response
type SessionStats struct {
	MessageCount         int
	FramesReceived       int
	ToolCalls            int
	VerifiedChains       int
	FailedChains         int
	Duration             time.Duration
	FirstResponseLatency time.Duration
	AverageResponseTime  time.Duration
}

// ChatUI defines the interface for chat user interface operations.
// Implementations handle rendering chat elements to different outputs.
type ChatUI interface {
	// Header displays the chat session header with provider and configuration.
	Header(config HeaderConfig)

	// Prompt returns the styled input prompt string
	Prompt() string

	// Error displays a chat error message
	Error(err error)

	// ChainStatus displays the hash chain verification outcome for a response
	ChainStatus(result *ChainVerificationResult)

	// SessionResume displays session resume information
	SessionResume(sessionID string)

	// SessionEnd displays session end information
	SessionEnd(sessionID string)

	// SessionEndRich displays rich session end information with stats.
	//
	// This is the "maximalist" session end experience, showing:
	//   - Session ID with copy hint
	//   - Session statistics (messages, frames, tool calls, duration)
	//   - Integrity verification summary
	//   - Commands for resuming the session later
	//
	// Use this instead of SessionEnd when you have accumulated stats.
	SessionEndRich(sessionID string, stats *SessionStats)
}

// terminalChatUI implements ChatUI for terminal output
type terminalChatUI struct {
	writer      io.Writer
	personality PersonalityLevel
}

// write is a helper that writes formatted output and handles errors.
// Errors are silently ignored as there's no meaningful recovery for terminal output.
func (u *terminalChatUI) write(format string, args ...interface{}) {
	if _, err := fmt.Fprintf(u.writer, format, args...); err != nil {
		// Terminal write errors are non-recoverable; silently ignore
		return
	}
}

// writeln is a helper that writes a line and handles errors.
func (u *terminalChatUI) writeln(args ...interface{}) {
	if _, err := fmt.Fprintln(u.writer, args...); err != nil {
		// Terminal write errors are non-recoverable; silently ignore
		return
	}
}

// NewChatUI creates a new terminal-based ChatUI
func NewChatUI() ChatUI {
	return &terminalChatUI{
		writer:      os.Stdout,
		personality: GetPersonality().Level,
	}
}

// NewChatUIWithWriter creates a ChatUI with a custom writer (for testing)
func NewChatUIWithWriter(w io.Writer, personality PersonalityLevel) ChatUI {
	return &terminalChatUI{
		writer:      w,
		personality: personality,
	}
}

// Header displays the chat session header with full configuration.
//
// # Description
//
// Renders the chat header box with provider, model, and session metadata
// including memory mode and log attachment. Adapts output based on
// personality level.
//
// # Inputs
//
//   - config: HeaderConfig with provider, model, sessionID, memory mode
//
// # Outputs
//
// None. Writes directly to the configured writer.
func (u *terminalChatUI) Header(config HeaderConfig) {
	if u.personality == PersonalityMachine {
		u.headerMachine(config)
		return
	}

	if u.personality == PersonalityMinimal {
		u.headerMinimal(config)
		return
	}

	u.headerFull(config)
}

// headerMachine renders the header in machine-readable format.
func (u *terminalChatUI) headerMachine(config HeaderConfig) {
	parts := []string{}
	if config.Provider != "" {
		parts = append(parts, fmt.Sprintf("provider=%s", config.Provider))
	}
	if config.Model != "" {
		parts = append(parts, fmt.Sprintf("model=%s", config.Model))
	}
	if config.SessionID != "" {
		parts = append(parts, fmt.Sprintf("session=%s", config.SessionID))
	}
	if config.ServerMemory {
		parts = append(parts, "memory=server")
	} else {
		parts = append(parts, "memory=local")
	}
	if config.LogAttached {
		parts = append(parts, "log=attached")
	}
	if config.BaseURL != "" {
		parts = append(parts, fmt.Sprintf("url=%s", config.BaseURL))
	}
	u.write("CHAT_START: %s\n", strings.Join(parts, " "))
}

// headerMinimal renders the header in minimal format.
func (u *terminalChatUI) headerMinimal(config HeaderConfig) {
	if config.Provider != "" {
		u.write("Support Chat (%s)\n", config.Provider)
	} else {
		u.writeln("Support Chat")
	}
	if config.Model != "" {
		u.write("Model: %s\n", config.Model)
	}
	if config.LogAttached {
		u.writeln("Log file attached for analysis.")
	}
	u.writeln("Type 'exit' to end.")
}

// headerFull renders the header with full styling.
func (u *terminalChatUI) headerFull(config HeaderConfig) {
	var content strings.Builder
	content.WriteString(Styles.Highlight.Render("Aleutian Support Chat"))

	if config.Provider != "" {
		content.WriteString("\n")
		content.WriteString(fmt.Sprintf("Provider: %s", Styles.Success.Render(config.Provider)))
		if config.Model != "" {
			content.WriteString(fmt.Sprintf(" | Model: %s", Styles.Success.Render(config.Model)))
		}
	} else if config.Model != "" {
		content.WriteString("\n")
		content.WriteString(fmt.Sprintf("Model: %s", Styles.Success.Render(config.Model)))
	}

	content.WriteString("\n")
	if config.ServerMemory {
		content.WriteString(fmt.Sprintf("Memory: %s", Styles.Success.Render("server-side")))
	} else {
		content.WriteString(fmt.Sprintf("Memory: %s", Styles.Warning.Render("local history")))
	}

	if config.LogAttached {
		content.WriteString("\n")
		content.WriteString(fmt.Sprintf("%s Log file attached for analysis", IconDocument.Render()))
	}

	if config.SessionID != "" {
		content.WriteString("\n")
		content.WriteString(fmt.Sprintf("Session: %s", Styles.Muted.Render(config.SessionID)))
	}

	if config.BaseURL != "" {
		content.WriteString("\n")
		content.WriteString(Styles.Muted.Render(fmt.Sprintf("Server: %s", config.BaseURL)))
	}

	boxStyle := Styles.Box.Width(60)
	u.writeln(boxStyle.Render(content.String()))
	u.writeln()
	u.writeln(Styles.Muted.Render("Type 'exit' or 'quit' to end."))
	u.writeln()
}

// Prompt returns the styled input prompt string
func (u *terminalChatUI) Prompt() string {
	if u.personality == PersonalityMachine {
		return "> "
	}
	return Styles.Highlight.Render("> ")
}

// Error displays a chat error message
func (u *terminalChatUI) Error(err error) {
	if u.personality == PersonalityMachine {
		u.write("CHAT_ERROR: %v\n", err)
		return
	}
	u.write("%s %s\n", IconError.Render(), Styles.Error.Render(fmt.Sprintf("Chat error: %v", err)))
}

// ChainStatus displays the hash chain verification outcome for a response.
//
// # Description
//
// Called after each streamed response has been verified against its hash
// chain. Success is reported quietly (muted line in full personality,
// nothing in minimal); failures are always surfaced because they indicate
// the transcript was altered or corrupted in transit.
//
// # Inputs
//
//   - result: The verification result. Nil results are ignored.
func (u *terminalChatUI) ChainStatus(result *ChainVerificationResult) {
	if result == nil {
		return
	}

	if u.personality == PersonalityMachine {
		if result.Valid {
			u.write("CHAIN: valid length=%d\n", result.ChainLength)
		} else {
			u.write("CHAIN: invalid frame=%d reason=%q\n", result.InvalidFrameIndex, result.ErrorMessage)
		}
		return
	}

	if result.Valid {
		if u.personality != PersonalityMinimal {
			u.writeln(Styles.Muted.Render(fmt.Sprintf("✓ response integrity verified (%d frames)", result.ChainLength)))
		}
		return
	}

	u.write("%s %s\n", IconWarning.Render(),
		Styles.Warning.Render(fmt.Sprintf("Integrity check failed: %s", result.ErrorMessage)))
}

// SessionResume displays session resume information
func (u *terminalChatUI) SessionResume(sessionID string) {
	if u.personality == PersonalityMachine {
		u.write("SESSION_RESUME: session=%s\n", sessionID)
		return
	}
	u.write("%s %s\n", IconSuccess.Render(),
		Styles.Success.Render(fmt.Sprintf("Resuming session %s", sessionID)))
}

// SessionEnd displays session end information.
//
// # Description
//
// Displays a simple goodbye message with the session ID. For a richer
// experience with statistics and next steps, use SessionEndRich instead.
//
// # Inputs
//
//   - sessionID: The session identifier. May be empty for anonymous sessions.
//
// # Outputs
//
// None. Writes directly to the configured writer.
func (u *terminalChatUI) SessionEnd(sessionID string) {
	if u.personality == PersonalityMachine {
		u.write("CHAT_END: session=%s\n", sessionID)
		return
	}
	if sessionID != "" {
		u.writeln(Styles.Muted.Render(fmt.Sprintf("Session: %s", sessionID)))
	}
	u.writeln("Goodbye!")
}

// SessionEndRich displays rich session end information with statistics.
//
// # Description
//
// Displays a comprehensive session summary including:
//   - Session ID with visual prominence
//   - Session statistics (messages, frames, tool calls, duration)
//   - Integrity verification summary
//   - Commands for resuming the session later
//
// This is the "maximalist" session end experience, designed to give
// users full visibility into their session and clear next steps.
//
// # Inputs
//
//   - sessionID: The session identifier. May be empty for anonymous sessions.
//   - stats: Session statistics. If nil, falls back to SessionEnd behavior.
//
// # Outputs
//
// None. Writes directly to the configured writer.
//
// # Limitations
//
//   - Box rendering requires terminal width of at least 60 characters
//   - Emoji icons may not render on all terminals
func (u *terminalChatUI) SessionEndRich(sessionID string, stats *SessionStats) {
	// Fall back to simple end if no stats
	if stats == nil {
		u.SessionEnd(sessionID)
		return
	}

	if u.personality == PersonalityMachine {
		u.sessionEndRichMachine(sessionID, stats)
		return
	}

	if u.personality == PersonalityMinimal {
		u.sessionEndRichMinimal(sessionID, stats)
		return
	}

	u.sessionEndRichFull(sessionID, stats)
}

// sessionEndRichMachine renders session end in machine-readable format.
func (u *terminalChatUI) sessionEndRichMachine(sessionID string, stats *SessionStats) {
	u.write("CHAT_END: session=%s messages=%d frames=%d verified=%d failed=%d duration=%s\n",
		sessionID, stats.MessageCount, stats.FramesReceived,
		stats.VerifiedChains, stats.FailedChains, stats.Duration.Round(time.Millisecond))
}

// sessionEndRichMinimal renders session end in minimal format.
func (u *terminalChatUI) sessionEndRichMinimal(sessionID string, stats *SessionStats) {
	u.writeln()
	if sessionID != "" {
		u.write("Session: %s\n", sessionID)
	}
	u.write("Messages: %d | Frames: %d | Duration: %s\n",
		stats.MessageCount, stats.FramesReceived, formatDuration(stats.Duration))
	if stats.FailedChains > 0 {
		u.write("Warning: %d response(s) failed integrity verification\n", stats.FailedChains)
	}
	u.writeln("Goodbye!")
}

// sessionEndRichFull renders session end with full styling.
//
// # Description
//
// Outputs a comprehensive, styled session summary in a bordered box.
// Includes all available statistics and hints for continuing the session.
//
// # Inputs
//
//   - sessionID: The session identifier.
//   - stats: Session statistics to display.
//
// # Outputs
//
// None. Writes styled box with:
//   - Session Summary header with ID
//   - Statistics section with icons
//   - Continue Later section with resume command
//   - Goodbye message
//
// # Assumptions
//
//   - Stats is non-nil (caller validates)
//   - Terminal supports ANSI color codes
func (u *terminalChatUI) sessionEndRichFull(sessionID string, stats *SessionStats) {
	u.writeln()

	var content strings.Builder

	// Session section
	content.WriteString(Styles.Subtitle.Render("Session Summary"))
	content.WriteString("\n\n")

	// Session ID with visual prominence
	if sessionID != "" {
		content.WriteString(fmt.Sprintf("  %s  %s\n",
			Styles.Muted.Render("ID:"),
			Styles.Highlight.Render(sessionID)))
	}

	// Stats section
	content.WriteString("\n")
	content.WriteString(Styles.Subtitle.Render("Statistics"))
	content.WriteString("\n\n")

	// Core metrics with icons
	content.WriteString(fmt.Sprintf("  %s  %d messages exchanged\n",
		IconChat.Render(), stats.MessageCount))
	content.WriteString(fmt.Sprintf("  %s  %d stream frames received\n",
		IconInfo.Render(), stats.FramesReceived))

	// Tool calls (conditional)
	if stats.ToolCalls > 0 {
		content.WriteString(fmt.Sprintf("  %s  %d tool calls\n",
			IconTool.Render(), stats.ToolCalls))
	}

	// Integrity verification summary
	if stats.FailedChains > 0 {
		content.WriteString(fmt.Sprintf("  %s  %s\n",
			IconWarning.Render(),
			Styles.Warning.Render(fmt.Sprintf("%d of %d responses failed integrity verification",
				stats.FailedChains, stats.VerifiedChains+stats.FailedChains))))
	} else if stats.VerifiedChains > 0 {
		content.WriteString(fmt.Sprintf("  %s  %d responses integrity-verified\n",
			IconShield.Render(), stats.VerifiedChains))
	}

	// Duration
	content.WriteString(fmt.Sprintf("  %s  %s session duration\n",
		IconTime.Render(), formatDuration(stats.Duration)))

	// Performance metrics (conditional)
	if stats.FirstResponseLatency > 0 {
		content.WriteString(fmt.Sprintf("  %s  %s time to first response\n",
			Styles.Muted.Render("⚡"), formatDuration(stats.FirstResponseLatency)))
	}

	// Next steps section (only if session ID available)
	if sessionID != "" {
		content.WriteString("\n")
		content.WriteString(Styles.Subtitle.Render("Continue Later"))
		content.WriteString("\n\n")
		content.WriteString(fmt.Sprintf("  %s\n",
			Styles.Muted.Render("Resume this session:")))
		content.WriteString(fmt.Sprintf("  %s\n",
			Styles.Success.Render(fmt.Sprintf("./aleutian-support chat --resume %s", sessionID))))
	}

	// Render the styled box
	// Width 68 accommodates the resume command (25 chars + 36 char UUID + padding)
	boxStyle := Styles.Box.Width(68)
	u.writeln(boxStyle.Render(content.String()))
	u.writeln()
	u.writeln(Styles.Highlight.Render("Goodbye! 👋"))
}

// formatDuration formats a duration for human-readable display.
//
// # Description
//
// Converts a time.Duration to a human-friendly string representation.
// Adapts the format based on the magnitude of the duration.
//
// # Inputs
//
//   - d: The duration to format.
//
// # Outputs
//
//   - string: Formatted duration string.
//
// # Examples
//
//	formatDuration(500*time.Millisecond) // "500ms"
//	formatDuration(5*time.Second)        // "5.0s"
//	formatDuration(90*time.Second)       // "1m 30s"
//	formatDuration(2*time.Hour)          // "2h 0m"
//
// # Assumptions
//
//   - Duration is non-negative
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		mins := int(d.Minutes())
		secs := int(d.Seconds()) % 60
		if secs == 0 {
			return fmt.Sprintf("%dm", mins)
		}
		return fmt.Sprintf("%dm %ds", mins, secs)
	}
	hours := int(d.Hours())
	mins := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh %dm", hours, mins)
}
