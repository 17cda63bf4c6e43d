// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux provides user experience components for the Aleutian Support CLI.
//
// This file contains frame renderers that display streaming chat frames
// to various outputs.
//
// Single Responsibility:
//
//	Renderers ONLY render. They do not parse, read, or manage HTTP.
//	Each method handles exactly one frame type, enabling clean
//	composition with readers.
//
// Renderer Types:
//
//   - TerminalFrameRenderer: interactive terminal with spinners and colors;
//     folds machine-readable KEY: value output in via the personality level
//   - BufferFrameRenderer: in-memory accumulation for testing
package ux

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianSupport/services/support/datatypes"
)

// =============================================================================
// Helper Functions
// =============================================================================

// truncate shortens s to at most maxLen characters, appending "..." when
// content was cut. A maxLen at or below 3 yields only the ellipsis.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return "..."
	}
	return s[:maxLen-3] + "..."
}

// =============================================================================
// Frame Renderer Interface
// =============================================================================

// FrameRenderer renders streaming chat frames to an output destination.
//
// Each method handles exactly one frame type. The renderer owns all
// output-related state (spinners, buffers, accumulated result). Callers
// should invoke methods in the order frames are received.
//
// Thread Safety:
//
//	Implementations must be safe for concurrent calls.
//
// Lifecycle:
//
//  1. Create renderer with New*FrameRenderer()
//  2. Call On* methods as frames arrive
//  3. Call Finalize() when the stream ends (always, even on error)
//  4. Call Result() to get the aggregated result
//
// Example:
//
//	renderer := NewTerminalFrameRenderer(os.Stdout, GetPersonality().Level)
//	defer renderer.Finalize()
//
//	reader.Read(ctx, body, func(frame datatypes.StreamFrame) error {
//	    switch frame.Type {
//	    case datatypes.FrameTextDelta:
//	        renderer.OnDelta(ctx, frame.Delta)
//	    case datatypes.FrameDone:
//	        renderer.OnDone(ctx, frame.SessionID)
//	    }
//	    return nil
//	})
//
//	result := renderer.Result()
type FrameRenderer interface {
	// OnStart signals that the server accepted the request. In
	// interactive modes a spinner runs until the first visible output.
	OnStart(ctx context.Context, sessionID string)

	// OnDelta renders one text delta of the assistant response. Deltas
	// should be rendered in order; in machine mode they are buffered
	// until OnDone.
	OnDelta(ctx context.Context, delta string)

	// OnThinking renders the once-per-turn reasoning summary.
	OnThinking(ctx context.Context, trace *datatypes.ThinkingTrace)

	// OnToolCall renders a model-initiated tool invocation.
	OnToolCall(ctx context.Context, call datatypes.ToolCallPayload)

	// OnToolResult renders a tool outcome.
	OnToolResult(ctx context.Context, result datatypes.ToolResultPayload)

	// OnFollowups renders the suggested follow-up questions.
	OnFollowups(ctx context.Context, followups []string)

	// OnKBSearch renders knowledge-base search hits inline.
	OnKBSearch(ctx context.Context, result *datatypes.KBSearchResult)

	// OnLogAnalysis renders a log-analysis outcome.
	OnLogAnalysis(ctx context.Context, result *datatypes.LogAnalysisResult)

	// OnReasoning renders a reasoning-service outcome.
	OnReasoning(ctx context.Context, result *datatypes.ReasoningResult)

	// OnTroubleshooting renders troubleshooting next steps.
	OnTroubleshooting(ctx context.Context, result *datatypes.TroubleshootingResult)

	// OnTextEnd signals that the assistant text is complete. Annotation
	// frames may still follow.
	OnTextEnd(ctx context.Context)

	// OnDone signals stream completion with the durable session id.
	OnDone(ctx context.Context, sessionID string)

	// OnError renders a server-reported stream error. After OnError,
	// only Finalize() and Result() should be called.
	OnError(ctx context.Context, message string)

	// Finalize performs cleanup (stop spinners, flush buffers). MUST be
	// called when streaming ends, even abnormally. Safe to call multiple
	// times; subsequent calls are no-ops.
	Finalize()

	// Result returns the accumulated result. May be called before
	// Finalize() for partial results.
	Result() *StreamResult
}

// =============================================================================
// Terminal Frame Renderer
// =============================================================================

// terminalFrameRenderer renders streaming frames to an interactive
// terminal.
//
// Behavior by personality:
//
//   - PersonalityFull: spinners, colors, boxed tool output, live deltas
//   - PersonalityMinimal: plain text with basic formatting, live deltas
//   - PersonalityMachine: KEY: value lines for scripting; the answer is
//     buffered and printed as a single ANSWER line at completion
type terminalFrameRenderer struct {
	writer      io.Writer
	personality PersonalityLevel
	spinner     *Spinner
	result      *StreamResult
	mu          sync.Mutex

	answerBuilder   strings.Builder
	hasWrittenDelta bool
	textEnded       bool
	finalized       bool
}

// NewTerminalFrameRenderer creates a renderer for interactive terminal
// output. If w is nil it defaults to os.Stdout. Use GetPersonality().Level
// for the user's configured personality, or hardcode one for specific
// behavior (tests use PersonalityMachine with a buffer writer).
func NewTerminalFrameRenderer(w io.Writer, personality PersonalityLevel) FrameRenderer {
	if w == nil {
		w = os.Stdout
	}
	return &terminalFrameRenderer{
		writer:      w,
		personality: personality,
		result:      NewStreamResult(),
	}
}

// OnStart records the session id and starts the waiting spinner.
//
// Behavior by personality:
//   - Full/Minimal: starts a "Thinking" spinner that runs until the
//     first delta or tool activity arrives
//   - Machine: prints "START" (with the session id when known)
func (r *terminalFrameRenderer) OnStart(ctx context.Context, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finalized {
		return
	}

	r.result.TotalFrames++
	if sessionID != "" {
		r.result.SessionID = sessionID
	}

	if r.personality == PersonalityMachine {
		if sessionID != "" {
			fmt.Fprintf(r.writer, "START: session=%s\n", sessionID)
		} else {
			fmt.Fprintln(r.writer, "START")
		}
		return
	}

	if r.spinner == nil {
		r.spinner = NewSpinner("Thinking")
		r.spinner.Start()
	}
}

// OnDelta renders one text delta.
//
// The first delta stops the spinner and records FirstDeltaAt for
// time-to-first-delta metrics. Interactive modes print each delta
// immediately for a streaming effect; machine mode buffers the answer
// until OnDone.
func (r *terminalFrameRenderer) OnDelta(ctx context.Context, delta string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finalized {
		return
	}

	if !r.hasWrittenDelta {
		r.result.FirstDeltaAt = time.Now().UnixMilli()
		r.hasWrittenDelta = true
		r.stopSpinnerLocked(true)
	}

	r.answerBuilder.WriteString(delta)
	r.result.DeltaCount++
	r.result.TotalFrames++

	if r.personality == PersonalityMachine {
		return
	}

	fmt.Fprint(r.writer, delta)
}

// OnThinking renders the reasoning summary in muted styling. The trace
// arrives once per turn, after the text, so there is no spinner to stop.
func (r *terminalFrameRenderer) OnThinking(ctx context.Context, trace *datatypes.ThinkingTrace) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finalized || trace == nil {
		return
	}

	r.result.TotalFrames++

	if r.personality == PersonalityMachine {
		fmt.Fprintf(r.writer, "THINKING: confidence=%.2f steps=%d decision=%s\n",
			trace.Confidence, len(trace.Steps), trace.ToolDecision)
		return
	}

	if r.personality == PersonalityMinimal {
		return
	}

	summary := trace.ToolDecision
	if summary == "" && len(trace.Steps) > 0 {
		summary = trace.Steps[len(trace.Steps)-1]
	}
	if summary == "" {
		return
	}
	fmt.Fprintf(r.writer, "%s\n",
		Styles.Muted.Render(fmt.Sprintf("reasoning: %s (confidence %.2f)", truncate(summary, 100), trace.Confidence)))
}

// OnToolCall renders a tool invocation as a single activity line.
//
// Behavior by personality:
//   - Full/Minimal: stops the spinner and prints "→ running {name}"
//   - Machine: prints "TOOL_CALL: {name}"
func (r *terminalFrameRenderer) OnToolCall(ctx context.Context, call datatypes.ToolCallPayload) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finalized {
		return
	}

	r.result.ToolCalls++
	r.result.TotalFrames++

	if r.personality == PersonalityMachine {
		fmt.Fprintf(r.writer, "TOOL_CALL: %s\n", call.Name)
		return
	}

	r.stopSpinnerLocked(false)
	fmt.Fprintf(r.writer, "\n%s %s\n", IconArrow.Render(),
		Styles.Muted.Render(fmt.Sprintf("running %s", call.Name)))
}

// OnToolResult renders a tool outcome as a status line.
func (r *terminalFrameRenderer) OnToolResult(ctx context.Context, result datatypes.ToolResultPayload) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finalized {
		return
	}

	r.result.TotalFrames++

	if r.personality == PersonalityMachine {
		if result.Error != "" {
			fmt.Fprintf(r.writer, "TOOL_RESULT: %s error=%q\n", result.Name, result.Error)
		} else {
			fmt.Fprintf(r.writer, "TOOL_RESULT: %s ok\n", result.Name)
		}
		return
	}

	if result.Error != "" {
		fmt.Fprintf(r.writer, "%s %s\n", IconWarning.Render(),
			Styles.Warning.Render(fmt.Sprintf("%s failed: %s", result.Name, result.Error)))
		return
	}
	fmt.Fprintf(r.writer, "%s %s\n", IconSuccess.Render(),
		Styles.Muted.Render(fmt.Sprintf("%s finished", result.Name)))
}

// OnFollowups renders the suggested follow-up questions. Follow-ups
// arrive after the text block, so interactive modes print them as a
// trailing list.
func (r *terminalFrameRenderer) OnFollowups(ctx context.Context, followups []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finalized {
		return
	}

	r.result.Followups = append(r.result.Followups, followups...)
	r.result.TotalFrames++

	if len(followups) == 0 {
		return
	}

	if r.personality == PersonalityMachine {
		for _, q := range followups {
			fmt.Fprintf(r.writer, "FOLLOWUP: %s\n", q)
		}
		return
	}

	r.stopSpinnerLocked(false)
	fmt.Fprintln(r.writer)

	if r.personality == PersonalityMinimal {
		fmt.Fprintln(r.writer, "You could ask:")
		for i, q := range followups {
			fmt.Fprintf(r.writer, "  %d. %s\n", i+1, q)
		}
		return
	}

	var content strings.Builder
	for i, q := range followups {
		content.WriteString(fmt.Sprintf("%d. %s", i+1, q))
		if i < len(followups)-1 {
			content.WriteString("\n")
		}
	}
	boxStyle := Styles.InfoBox.Width(60)
	titleLine := Styles.Subtitle.Render("You could ask")
	fmt.Fprintln(r.writer, boxStyle.Render(titleLine+"\n"+content.String()))
}

// OnKBSearch renders knowledge-base hits inline, giving the user
// immediate visibility into what the assistant consulted.
//
// Behavior by personality:
//   - Full: styled box titled "Knowledge Base" with scores
//   - Minimal: numbered list of article titles
//   - Machine: one "KB_HIT: {title} score={score}" line per hit
func (r *terminalFrameRenderer) OnKBSearch(ctx context.Context, result *datatypes.KBSearchResult) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finalized || result == nil {
		return
	}

	r.result.TotalFrames++

	if r.personality == PersonalityMachine {
		for _, hit := range result.Results {
			fmt.Fprintf(r.writer, "KB_HIT: %s score=%.4f\n", hit.Title, hit.Score)
		}
		if result.Error != "" {
			fmt.Fprintf(r.writer, "KB_ERROR: %s\n", result.Error)
		}
		return
	}

	r.stopSpinnerLocked(false)

	if result.Error != "" {
		fmt.Fprintf(r.writer, "%s %s\n", IconWarning.Render(),
			Styles.Warning.Render(fmt.Sprintf("knowledge base degraded: %s", result.Error)))
	}
	if len(result.Results) == 0 {
		return
	}

	fmt.Fprintln(r.writer)
	if r.personality == PersonalityMinimal {
		fmt.Fprintln(r.writer, "Knowledge base:")
		for i, hit := range result.Results {
			fmt.Fprintf(r.writer, "  %d. %s\n", i+1, hit.Title)
		}
		fmt.Fprintln(r.writer)
		return
	}

	var content strings.Builder
	for i, hit := range result.Results {
		scoreInfo := ""
		if hit.Score != 0 {
			scoreInfo = Styles.Muted.Render(fmt.Sprintf(" (%.2f)", hit.Score))
		}
		content.WriteString(fmt.Sprintf("%d. %s%s", i+1, hit.Title, scoreInfo))
		if hit.Snippet != "" {
			content.WriteString("\n   " + Styles.Muted.Render(truncate(hit.Snippet, 70)))
		}
		if i < len(result.Results)-1 {
			content.WriteString("\n")
		}
	}
	boxStyle := Styles.InfoBox.Width(70)
	titleLine := Styles.Subtitle.Render("Knowledge Base")
	fmt.Fprintln(r.writer, boxStyle.Render(titleLine+"\n"+content.String()))
	fmt.Fprintln(r.writer)
}

// OnLogAnalysis renders a log-analysis outcome: the summary, the flagged
// lines, and any proposed fixes.
func (r *terminalFrameRenderer) OnLogAnalysis(ctx context.Context, result *datatypes.LogAnalysisResult) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finalized || result == nil {
		return
	}

	r.result.TotalFrames++

	if r.personality == PersonalityMachine {
		fmt.Fprintf(r.writer, "LOG_ANALYSIS: issues=%d\n", len(result.IdentifiedIssues))
		for _, issue := range result.IdentifiedIssues {
			fmt.Fprintf(r.writer, "LOG_ISSUE: %s\n", issue)
		}
		return
	}

	r.stopSpinnerLocked(false)
	fmt.Fprintln(r.writer)

	if r.personality == PersonalityMinimal {
		fmt.Fprintf(r.writer, "Log analysis: %s\n", result.OverallSummary)
		for i, issue := range result.IdentifiedIssues {
			fmt.Fprintf(r.writer, "  %d. %s\n", i+1, issue)
		}
		fmt.Fprintln(r.writer)
		return
	}

	var content strings.Builder
	content.WriteString(result.OverallSummary)
	for _, issue := range result.IdentifiedIssues {
		content.WriteString("\n" + Styles.Error.Render("! ") + truncate(issue, 70))
	}
	for _, fix := range result.ProposedSolutions {
		content.WriteString("\n" + Styles.Success.Render("+ ") + truncate(fix, 70))
	}
	boxStyle := Styles.InfoBox.Width(70)
	titleLine := Styles.Subtitle.Render("Log Analysis")
	fmt.Fprintln(r.writer, boxStyle.Render(titleLine+"\n"+content.String()))
	fmt.Fprintln(r.writer)
}

// OnReasoning renders a reasoning-service outcome as a muted paragraph.
func (r *terminalFrameRenderer) OnReasoning(ctx context.Context, result *datatypes.ReasoningResult) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finalized || result == nil {
		return
	}

	r.result.TotalFrames++

	if r.personality == PersonalityMachine {
		fmt.Fprintf(r.writer, "REASONING: success=%t\n", result.Success)
		return
	}

	if !result.Success || result.Analysis == "" {
		return
	}
	r.stopSpinnerLocked(false)
	fmt.Fprintf(r.writer, "%s\n", Styles.Muted.Render(truncate(result.Analysis, 200)))
}

// OnTroubleshooting renders next steps from a troubleshooting session.
func (r *terminalFrameRenderer) OnTroubleshooting(ctx context.Context, result *datatypes.TroubleshootingResult) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finalized || result == nil {
		return
	}

	r.result.TotalFrames++

	if r.personality == PersonalityMachine {
		for _, step := range result.NextSteps {
			fmt.Fprintf(r.writer, "NEXT_STEP: %s\n", step)
		}
		return
	}

	if len(result.NextSteps) == 0 {
		return
	}

	r.stopSpinnerLocked(false)
	fmt.Fprintln(r.writer)

	if r.personality == PersonalityMinimal {
		fmt.Fprintln(r.writer, "Next steps:")
		for i, step := range result.NextSteps {
			fmt.Fprintf(r.writer, "  %d. %s\n", i+1, step)
		}
		return
	}

	var content strings.Builder
	for i, step := range result.NextSteps {
		content.WriteString(fmt.Sprintf("%d. %s", i+1, step))
		if i < len(result.NextSteps)-1 {
			content.WriteString("\n")
		}
	}
	boxStyle := Styles.InfoBox.Width(60)
	titleLine := Styles.Subtitle.Render("Next Steps")
	fmt.Fprintln(r.writer, boxStyle.Render(titleLine+"\n"+content.String()))
}

// OnTextEnd closes the assistant text block with a newline so annotation
// frames start clean. Machine mode defers everything to OnDone.
func (r *terminalFrameRenderer) OnTextEnd(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finalized {
		return
	}

	r.result.TotalFrames++
	r.textEnded = true

	if r.personality == PersonalityMachine {
		return
	}

	r.stopSpinnerLocked(false)
	answer := r.answerBuilder.String()
	if answer != "" && !strings.HasSuffix(answer, "\n") {
		fmt.Fprintln(r.writer)
	}
}

// OnDone signals successful stream completion.
//
// Behavior by personality:
//   - Full/Minimal: ensures the output ends with a newline when no
//     text-end frame arrived
//   - Machine: prints the buffered "ANSWER:" line, then "SESSION:" and
//     a final "DONE"
func (r *terminalFrameRenderer) OnDone(ctx context.Context, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finalized {
		return
	}

	if sessionID != "" {
		r.result.SessionID = sessionID
	}
	r.result.CompletedAt = time.Now().UnixMilli()
	r.result.TotalFrames++

	r.stopSpinnerLocked(false)

	if r.personality == PersonalityMachine {
		answer := r.answerBuilder.String()
		if answer != "" {
			fmt.Fprintf(r.writer, "ANSWER: %s\n", answer)
		}
		if sessionID != "" {
			fmt.Fprintf(r.writer, "SESSION: %s\n", sessionID)
		}
		fmt.Fprintln(r.writer, "DONE")
		return
	}

	answer := r.answerBuilder.String()
	if !r.textEnded && answer != "" && !strings.HasSuffix(answer, "\n") {
		fmt.Fprintln(r.writer)
	}
}

// OnError renders a server-reported stream error.
func (r *terminalFrameRenderer) OnError(ctx context.Context, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finalized {
		return
	}

	r.result.Error = message
	r.result.CompletedAt = time.Now().UnixMilli()
	r.result.TotalFrames++

	r.stopSpinnerLocked(false)

	if r.personality == PersonalityMachine {
		fmt.Fprintf(r.writer, "ERROR: %s\n", message)
		return
	}

	fmt.Fprintf(r.writer, "\n%s %s\n", IconError.Render(),
		Styles.Error.Render(fmt.Sprintf("Stream error: %s", message)))
}

// Finalize stops any spinner, flushes the answer buffer into the result,
// and marks the renderer complete. Safe to call multiple times.
func (r *terminalFrameRenderer) Finalize() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finalized {
		return
	}
	r.finalized = true

	r.stopSpinnerLocked(false)

	r.result.Answer = r.answerBuilder.String()
	if r.result.CompletedAt == 0 {
		r.result.CompletedAt = time.Now().UnixMilli()
	}
}

// Result returns a copy of the accumulated result. Safe to call during
// streaming for partial results.
func (r *terminalFrameRenderer) Result() *StreamResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := *r.result
	result.Answer = r.answerBuilder.String()
	return &result
}

// stopSpinnerLocked stops a running spinner. Callers must hold r.mu.
// When newline is true a separator line is printed so streamed text does
// not collide with the cleared spinner row.
func (r *terminalFrameRenderer) stopSpinnerLocked(newline bool) {
	if r.spinner == nil {
		return
	}
	r.spinner.Stop()
	r.spinner = nil
	if newline && r.personality != PersonalityMachine {
		fmt.Fprintln(r.writer)
	}
}

// =============================================================================
// Buffer Frame Renderer (for testing)
// =============================================================================

// bufferFrameRenderer accumulates frames in memory without producing any
// output. Tests use it to verify dispatch logic; Calls() exposes the
// rendered frame kinds in arrival order.
type bufferFrameRenderer struct {
	result    *StreamResult
	calls     []string
	mu        sync.Mutex
	finalized bool

	answerBuilder strings.Builder
}

// NewBufferFrameRenderer creates a renderer that records frames to
// memory for later inspection.
func NewBufferFrameRenderer() FrameRenderer {
	return &bufferFrameRenderer{result: NewStreamResult()}
}

// Calls returns the frame kinds rendered so far, in order.
func (r *bufferFrameRenderer) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.calls))
	copy(out, r.calls)
	return out
}

func (r *bufferFrameRenderer) record(kind string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finalized {
		return false
	}
	r.calls = append(r.calls, kind)
	r.result.TotalFrames++
	return true
}

func (r *bufferFrameRenderer) OnStart(ctx context.Context, sessionID string) {
	if !r.record("start") {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if sessionID != "" {
		r.result.SessionID = sessionID
	}
}

func (r *bufferFrameRenderer) OnDelta(ctx context.Context, delta string) {
	if !r.record("text-delta") {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.result.FirstDeltaAt == 0 {
		r.result.FirstDeltaAt = time.Now().UnixMilli()
	}
	r.answerBuilder.WriteString(delta)
	r.result.DeltaCount++
}

func (r *bufferFrameRenderer) OnThinking(ctx context.Context, trace *datatypes.ThinkingTrace) {
	r.record("data-thinking")
}

func (r *bufferFrameRenderer) OnToolCall(ctx context.Context, call datatypes.ToolCallPayload) {
	if !r.record("tool-call") {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.result.ToolCalls++
}

func (r *bufferFrameRenderer) OnToolResult(ctx context.Context, result datatypes.ToolResultPayload) {
	r.record("tool-result")
}

func (r *bufferFrameRenderer) OnFollowups(ctx context.Context, followups []string) {
	if !r.record("data-followups") {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.result.Followups = append(r.result.Followups, followups...)
}

func (r *bufferFrameRenderer) OnKBSearch(ctx context.Context, result *datatypes.KBSearchResult) {
	r.record("data-kb-search")
}

func (r *bufferFrameRenderer) OnLogAnalysis(ctx context.Context, result *datatypes.LogAnalysisResult) {
	r.record("data-log-analysis")
}

func (r *bufferFrameRenderer) OnReasoning(ctx context.Context, result *datatypes.ReasoningResult) {
	r.record("data-reasoning")
}

func (r *bufferFrameRenderer) OnTroubleshooting(ctx context.Context, result *datatypes.TroubleshootingResult) {
	r.record("data-troubleshooting")
}

func (r *bufferFrameRenderer) OnTextEnd(ctx context.Context) {
	r.record("text-end")
}

func (r *bufferFrameRenderer) OnDone(ctx context.Context, sessionID string) {
	if !r.record("done") {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if sessionID != "" {
		r.result.SessionID = sessionID
	}
	r.result.CompletedAt = time.Now().UnixMilli()
}

func (r *bufferFrameRenderer) OnError(ctx context.Context, message string) {
	if !r.record("error") {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.result.Error = message
	r.result.CompletedAt = time.Now().UnixMilli()
}

func (r *bufferFrameRenderer) Finalize() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finalized {
		return
	}
	r.finalized = true
	r.result.Answer = r.answerBuilder.String()
	if r.result.CompletedAt == 0 {
		r.result.CompletedAt = time.Now().UnixMilli()
	}
}

func (r *bufferFrameRenderer) Result() *StreamResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := *r.result
	result.Answer = r.answerBuilder.String()
	return &result
}

// =============================================================================
// Compile-time Interface Checks
// =============================================================================

var (
	_ FrameRenderer = (*terminalFrameRenderer)(nil)
	_ FrameRenderer = (*bufferFrameRenderer)(nil)
)
