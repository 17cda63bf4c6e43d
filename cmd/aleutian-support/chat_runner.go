// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"

	"github.com/AleutianAI/AleutianSupport/pkg/ux"
)

// defaultInputHistory is how many submitted lines the interactive input
// reader keeps for up-arrow recall.
const defaultInputHistory = 50

// =============================================================================
// ChatRunner Interface
// =============================================================================

// ChatRunner drives an interactive chat session.
//
// # Description
//
// ChatRunner owns the read-send-render loop: it prompts for input,
// forwards each message through a StreamingChatService, reports every
// response's hash chain status, and prints session statistics when the
// user leaves. Cancelling the context triggers a graceful shutdown that
// still shows the session summary.
//
// # Examples
//
//	runner := NewChatRunner(service, header, resume != "")
//	defer runner.Close()
//
//	ctx, cancel := context.WithCancel(context.Background())
//	// Signal handler calls cancel() on SIGINT/SIGTERM.
//
//	if err := runner.Run(ctx); err != nil && err != context.Canceled {
//	    log.Fatal(err)
//	}
//
// # Limitations
//
//   - A runner is single-use; Run cannot be called again after it returns
//
// # Assumptions
//
//   - The caller installs signal handling for graceful shutdown
type ChatRunner interface {
	// Run executes the chat loop until exit, EOF, or context
	// cancellation. Normal exit returns nil; cancellation returns
	// context.Canceled.
	Run(ctx context.Context) error

	// Close releases the underlying service. Safe to call multiple
	// times.
	Close() error
}

// =============================================================================
// InputReader Interface
// =============================================================================

// InputReader abstracts line-oriented user input for testability.
//
// Production code uses NewInteractiveInputReader; tests use
// MockInputReader with a fixed script. ReadLine returns io.EOF when
// input is exhausted.
type InputReader interface {
	// ReadLine reads one line, trimmed of surrounding whitespace.
	ReadLine() (string, error)
}

// PromptingInputReader is implemented by readers that draw their own
// prompt (the interactive reader renders it inside its input widget).
// The runner checks for this interface to avoid double-prompting.
type PromptingInputReader interface {
	InputReader

	// SetPrompt sets the prompt string shown before input.
	SetPrompt(prompt string)
}

// =============================================================================
// StdinReader Implementation
// =============================================================================

// StdinReader reads lines from os.Stdin. Used directly when stdin is
// not a TTY (piped input, CI) and as the interactive reader's fallback.
type StdinReader struct {
	reader *bufio.Reader
}

// NewStdinReader creates a reader wrapping os.Stdin.
func NewStdinReader() *StdinReader {
	return &StdinReader{
		reader: bufio.NewReader(os.Stdin),
	}
}

// ReadLine reads until newline and returns the trimmed line. Returns
// io.EOF when stdin closes; a partial final line without a newline is
// discarded with it.
func (r *StdinReader) ReadLine() (string, error) {
	line, err := r.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// =============================================================================
// InteractiveInputReader Implementation
// =============================================================================

// InteractiveInputReader reads lines with up-arrow history and line
// editing, built on bubbletea. History is in-memory only.
type InteractiveInputReader struct {
	history    []string
	maxHistory int
	prompt     string
}

// inputModel is the bubbletea model driving one ReadLine call.
type inputModel struct {
	textInput    textinput.Model
	history      []string
	historyIndex int
	currentInput string
	done         bool
	eof          bool
}

// NewInteractiveInputReader creates an interactive reader with history.
// Falls back to a plain StdinReader when stdin is not a TTY, so piped
// input and CI keep working.
func NewInteractiveInputReader(maxHistory int) InputReader {
	if !isatty.IsTerminal(os.Stdin.Fd()) && !isatty.IsCygwinTerminal(os.Stdin.Fd()) {
		return NewStdinReader()
	}

	return &InteractiveInputReader{
		history:    make([]string, 0, maxHistory),
		maxHistory: maxHistory,
		prompt:     "> ",
	}
}

// SetPrompt sets the prompt rendered by the input widget.
func (r *InteractiveInputReader) SetPrompt(prompt string) {
	r.prompt = prompt
}

// ReadLine reads one line interactively.
//
// Keys: Enter submits, Up/Down navigate history, Ctrl+C clears the
// current line, Ctrl+D on an empty line returns io.EOF. Submitted
// non-empty lines are added to history.
func (r *InteractiveInputReader) ReadLine() (string, error) {
	ti := textinput.New()
	ti.Prompt = r.prompt
	ti.Focus()
	ti.CharLimit = 4096
	ti.Width = 80

	m := inputModel{
		textInput:    ti,
		history:      r.history,
		historyIndex: -1,
	}

	p := tea.NewProgram(m, tea.WithOutput(os.Stderr))
	finalModel, err := p.Run()
	if err != nil {
		return "", err
	}

	result, ok := finalModel.(inputModel)
	if !ok {
		return "", fmt.Errorf("unexpected model type from input program: %T", finalModel)
	}

	if result.eof {
		return "", io.EOF
	}

	input := strings.TrimSpace(result.textInput.Value())
	if input != "" {
		r.addToHistory(input)
	}
	return input, nil
}

// addToHistory appends a submitted line, skipping immediate duplicates
// and trimming to maxHistory.
func (r *InteractiveInputReader) addToHistory(input string) {
	if len(r.history) > 0 && r.history[len(r.history)-1] == input {
		return
	}
	r.history = append(r.history, input)
	if len(r.history) > r.maxHistory {
		r.history = r.history[1:]
	}
}

// Init starts the cursor blink.
func (m inputModel) Init() tea.Cmd {
	return textinput.Blink
}

// Update handles key events for one input line.
func (m inputModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyEnter:
			m.done = true
			return m, tea.Quit

		case tea.KeyCtrlC:
			m.textInput.SetValue("")
			m.done = true
			return m, tea.Quit

		case tea.KeyCtrlD:
			if m.textInput.Value() == "" {
				m.eof = true
				m.done = true
				return m, tea.Quit
			}

		case tea.KeyUp:
			if len(m.history) == 0 {
				return m, nil
			}
			if m.historyIndex == -1 {
				m.currentInput = m.textInput.Value()
				m.historyIndex = len(m.history) - 1
			} else if m.historyIndex > 0 {
				m.historyIndex--
			}
			m.textInput.SetValue(m.history[m.historyIndex])
			m.textInput.CursorEnd()
			return m, nil

		case tea.KeyDown:
			if m.historyIndex == -1 {
				return m, nil
			}
			if m.historyIndex < len(m.history)-1 {
				m.historyIndex++
				m.textInput.SetValue(m.history[m.historyIndex])
			} else {
				m.historyIndex = -1
				m.textInput.SetValue(m.currentInput)
			}
			m.textInput.CursorEnd()
			return m, nil
		}
	}

	m.textInput, cmd = m.textInput.Update(msg)
	return m, cmd
}

// View renders the input line, or nothing once submitted.
func (m inputModel) View() string {
	if m.done {
		return ""
	}
	return m.textInput.View()
}

// =============================================================================
// MockInputReader Implementation
// =============================================================================

// MockInputReader returns a fixed script of inputs for tests, then
// io.EOF. Not thread-safe; tests read from one goroutine.
type MockInputReader struct {
	inputs []string
	index  int
}

// NewMockInputReader creates a reader that replays inputs in order.
func NewMockInputReader(inputs []string) *MockInputReader {
	return &MockInputReader{inputs: inputs}
}

// ReadLine returns the next scripted input, or io.EOF when exhausted.
func (r *MockInputReader) ReadLine() (string, error) {
	if r.index >= len(r.inputs) {
		return "", io.EOF
	}
	line := r.inputs[r.index]
	r.index++
	return strings.TrimSpace(line), nil
}

// =============================================================================
// SupportChatRunner Implementation
// =============================================================================

// isExitCommand reports whether the input ends the session.
func isExitCommand(input string) bool {
	return input == "exit" || input == "quit"
}

// SupportChatRunner runs the interactive loop against the support
// server.
type SupportChatRunner struct {
	service  StreamingChatService
	ui       ux.ChatUI
	input    InputReader
	header   ux.HeaderConfig
	resuming bool

	stats            ux.SessionStats
	responseTotal    time.Duration
	sessionStartTime time.Time

	mu     sync.Mutex
	closed bool
}

// NewChatRunner creates a runner wired to the live terminal: the
// process-wide personality for output and an interactive stdin reader.
func NewChatRunner(service StreamingChatService, header ux.HeaderConfig, resuming bool) *SupportChatRunner {
	return NewChatRunnerWithDeps(
		service,
		ux.NewChatUI(),
		NewInteractiveInputReader(defaultInputHistory),
		header,
		resuming,
	)
}

// NewChatRunnerWithDeps creates a runner with explicit dependencies.
// Used by tests to substitute a mock service, scripted input, and a
// buffer-backed UI.
func NewChatRunnerWithDeps(service StreamingChatService, ui ux.ChatUI, input InputReader, header ux.HeaderConfig, resuming bool) *SupportChatRunner {
	return &SupportChatRunner{
		service:  service,
		ui:       ui,
		input:    input,
		header:   header,
		resuming: resuming,
	}
}

// Run executes the chat loop.
//
// # Description
//
// Shows the session header, then loops: prompt, read a line, send it,
// render the response, report chain status. The loop ends when the user
// types "exit" or "quit", input hits EOF, or the context is cancelled.
// Send failures are shown and the loop continues, so a transient server
// error does not end the session.
//
// # Outputs
//
//   - error: nil on normal exit, context.Canceled on shutdown, or a
//     fatal input error
func (r *SupportChatRunner) Run(ctx context.Context) error {
	r.sessionStartTime = time.Now()

	r.ui.Header(r.header)
	if r.resuming && r.header.SessionID != "" {
		r.ui.SessionResume(r.header.SessionID)
	}

	for {
		select {
		case <-ctx.Done():
			return r.handleShutdown(ctx)
		default:
		}

		line, err := r.readLine()
		if err == io.EOF {
			r.displaySessionEnd()
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return r.handleShutdown(ctx)
			}
			return fmt.Errorf("reading input: %w", err)
		}

		if line == "" {
			continue
		}
		if isExitCommand(line) {
			r.displaySessionEnd()
			return nil
		}

		if err := r.handleMessage(ctx, line); err != nil {
			if ctx.Err() != nil {
				return r.handleShutdown(ctx)
			}
			r.ui.Error(err)
		}
	}
}

// readLine prompts and reads one line. Readers that draw their own
// prompt get it via SetPrompt; otherwise the prompt is printed here.
func (r *SupportChatRunner) readLine() (string, error) {
	if prompting, ok := r.input.(PromptingInputReader); ok {
		prompting.SetPrompt(r.ui.Prompt())
		return prompting.ReadLine()
	}
	fmt.Print(r.ui.Prompt())
	return r.input.ReadLine()
}

// handleMessage sends one message and folds the result into session
// stats.
func (r *SupportChatRunner) handleMessage(ctx context.Context, message string) error {
	result, err := r.service.SendMessage(ctx, message)
	if err != nil {
		return err
	}

	r.stats.MessageCount++
	r.stats.FramesReceived += result.TotalFrames
	r.stats.ToolCalls += result.ToolCalls
	r.responseTotal += result.Duration()
	if r.stats.MessageCount == 1 {
		r.stats.FirstResponseLatency = result.TimeToFirstDelta()
	}

	if result.Verification != nil {
		if result.Verification.Valid {
			r.stats.VerifiedChains++
		} else {
			r.stats.FailedChains++
		}
		r.ui.ChainStatus(result.Verification)
	}

	fmt.Println()
	return nil
}

// displaySessionEnd shows the rich session summary.
func (r *SupportChatRunner) displaySessionEnd() {
	stats := r.stats
	stats.Duration = time.Since(r.sessionStartTime)
	if stats.MessageCount > 0 {
		stats.AverageResponseTime = r.responseTotal / time.Duration(stats.MessageCount)
	}
	r.ui.SessionEndRich(r.service.GetSessionID(), &stats)
}

// handleShutdown finishes the session after context cancellation. The
// server owns conversation state, so shutdown only needs to show the
// summary.
func (r *SupportChatRunner) handleShutdown(ctx context.Context) error {
	fmt.Println()
	r.displaySessionEnd()
	return ctx.Err()
}

// Close closes the underlying service. Idempotent.
func (r *SupportChatRunner) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return r.service.Close()
}

// Compile-time interface checks.
var (
	_ ChatRunner           = (*SupportChatRunner)(nil)
	_ InputReader          = (*StdinReader)(nil)
	_ PromptingInputReader = (*InteractiveInputReader)(nil)
	_ InputReader          = (*MockInputReader)(nil)
)
