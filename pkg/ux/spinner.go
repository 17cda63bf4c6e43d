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
	"sync"
	"time"
)

// spinnerGlyphs is the braille cycle shown while waiting on the server.
var spinnerGlyphs = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// spinnerInterval is the delay between animation frames.
const spinnerInterval = 80 * time.Millisecond

// Spinner is an animated wait indicator for interactive personalities.
// In machine mode it degrades to a single PROGRESS line so scripted
// callers still see that a slow operation started.
type Spinner struct {
	mu       sync.Mutex
	message  string
	running  bool
	animated bool
	stop     chan struct{}
	done     chan struct{}
}

// NewSpinner creates a spinner with the given message.
func NewSpinner(message string) *Spinner {
	return &Spinner{
		message: message,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start begins the animation. Starting a spinner that is already
// running is a no-op.
func (s *Spinner) Start() {
	animate := ShouldShowProgress()

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	// Record the animation decision so Stop tears down the same way
	// even if the personality changes mid-operation.
	s.animated = animate
	s.mu.Unlock()

	if !animate {
		fmt.Printf("PROGRESS: %s\n", s.currentMessage())
		return
	}

	go s.animate()
}

// animate runs the frame loop until Stop closes the stop channel.
func (s *Spinner) animate() {
	ticker := time.NewTicker(spinnerInterval)
	defer ticker.Stop()

	frame := 0
	for {
		select {
		case <-s.stop:
			fmt.Print("\r\033[K")
			close(s.done)
			return
		case <-ticker.C:
			glyph := Styles.Highlight.Render(spinnerGlyphs[frame%len(spinnerGlyphs)])
			fmt.Printf("\r%s %s", glyph, s.currentMessage())
			frame++
		}
	}
}

// Stop halts the animation and clears the spinner line. Stopping a
// spinner that never started is a no-op.
func (s *Spinner) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	animated := s.animated
	s.mu.Unlock()

	if !animated {
		return
	}

	close(s.stop)
	<-s.done
}

// UpdateMessage swaps the text shown next to the spinner. The next
// animation frame picks it up.
func (s *Spinner) UpdateMessage(message string) {
	s.mu.Lock()
	s.message = message
	s.mu.Unlock()
}

func (s *Spinner) currentMessage() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.message
}

// StopWithSuccess stops the spinner and prints a success line.
func (s *Spinner) StopWithSuccess(message string) {
	s.Stop()
	Success(message)
}

// StopWithError stops the spinner and prints an error line.
func (s *Spinner) StopWithError(message string) {
	s.Stop()
	Error(message)
}

// StopWithWarning stops the spinner and prints a warning line.
func (s *Spinner) StopWithWarning(message string) {
	s.Stop()
	Warning(message)
}

// WithSpinner runs fn behind a spinner and reports the outcome.
func WithSpinner(message string, fn func() error) error {
	spin := NewSpinner(message)
	spin.Start()

	if err := fn(); err != nil {
		spin.StopWithError(fmt.Sprintf("%s: %v", message, err))
		return err
	}

	spin.StopWithSuccess(message)
	return nil
}
