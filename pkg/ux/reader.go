// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ux provides user experience components for the Aleutian Support CLI.
//
// This file contains stream readers that consume io.Reader sources and
// emit parsed frames via callbacks.
//
// Single Responsibility:
//
//	Readers handle I/O and frame sequencing. They use parsers to convert
//	bytes to frames, but do not render output. This separation enables
//	flexible composition with different renderers.
//
// Context Support:
//
//	All readers accept context.Context for cancellation and timeout.
//	When context is cancelled, reading stops and the error is returned.
package ux

import (
	"bufio"
	"context"
	"io"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianSupport/services/support/datatypes"
)

// maxFrameLineBytes caps a single stream line. It matches the request
// body cap on the server; one frame can carry a full log-analysis
// payload.
const maxFrameLineBytes = 1 << 20

// =============================================================================
// Frame Reader Interface
// =============================================================================

// FrameReader reads streaming chat responses and invokes callbacks.
//
// Implementations handle the SSE wire format and emit parsed StreamFrame
// structs. A single Read/ReadAll operation should not be called
// concurrently on the same reader instance.
//
// Example:
//
//	reader := NewFrameReader(NewFrameParser())
//
//	err := reader.Read(ctx, httpResp.Body, func(frame datatypes.StreamFrame) error {
//	    if frame.Type == datatypes.FrameTextDelta {
//	        fmt.Print(frame.Delta)
//	    }
//	    return nil
//	})
type FrameReader interface {
	// Read processes a stream, invoking callback for each frame.
	//
	// The stream is considered complete when:
	//   - EOF is reached
	//   - A terminal frame (done/error) is received
	//   - Context is cancelled
	//   - Callback returns an error
	//
	// Returns nil on completion, otherwise the error that stopped
	// reading. The caller is responsible for closing r.
	Read(ctx context.Context, r io.Reader, callback FrameCallback) error

	// ReadAll reads the entire stream and returns the aggregated result.
	//
	// This is a convenience method that collects all frames into a
	// StreamResult. Use Read when you need real-time frame processing.
	//
	// If the stream ends with an error frame, the message is captured in
	// StreamResult.Error and this method returns a nil error.
	ReadAll(ctx context.Context, r io.Reader) (*StreamResult, error)
}

// =============================================================================
// SSE Frame Reader
// =============================================================================

// sseFrameReader implements FrameReader for Server-Sent Events. Lines
// are read with bufio.Scanner and parsed one at a time.
type sseFrameReader struct {
	parser FrameParser
}

// NewFrameReader creates an SSE frame reader using the given parser.
func NewFrameReader(parser FrameParser) FrameReader {
	return &sseFrameReader{parser: parser}
}

// Read processes an SSE stream, invoking callback for each frame. Nil
// frames (blank lines, comments, event name lines) are skipped.
func (r *sseFrameReader) Read(ctx context.Context, reader io.Reader, callback FrameCallback) error {
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 64*1024), maxFrameLineBytes)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		frame, err := r.parser.ParseLine(scanner.Text())
		if err != nil {
			return err
		}
		if frame == nil {
			continue
		}

		if err := callback(*frame); err != nil {
			return err
		}

		if frame.Type == datatypes.FrameDone || frame.Type == datatypes.FrameError {
			return nil
		}
	}

	return scanner.Err()
}

// ReadAll reads the entire stream, concatenating deltas into Answer,
// collecting follow-ups, and keeping every frame for chain verification.
func (r *sseFrameReader) ReadAll(ctx context.Context, reader io.Reader) (*StreamResult, error) {
	result := NewStreamResult()
	var answer strings.Builder

	err := r.Read(ctx, reader, func(frame datatypes.StreamFrame) error {
		result.TotalFrames++
		result.Frames = append(result.Frames, frame)

		switch frame.Type {
		case datatypes.FrameStart:
			if frame.SessionID != "" {
				result.SessionID = frame.SessionID
			}

		case datatypes.FrameTextDelta:
			if result.FirstDeltaAt == 0 {
				result.FirstDeltaAt = time.Now().UnixMilli()
			}
			answer.WriteString(frame.Delta)
			result.DeltaCount++

		case datatypes.FrameToolCall:
			result.ToolCalls++

		case datatypes.FrameFollowups:
			result.Followups = append(result.Followups, frame.Followups...)

		case datatypes.FrameDone:
			if frame.SessionID != "" {
				result.SessionID = frame.SessionID
			}
			result.CompletedAt = time.Now().UnixMilli()

		case datatypes.FrameError:
			result.Error = frame.Error
			result.CompletedAt = time.Now().UnixMilli()
		}

		return nil
	})

	result.Answer = answer.String()

	// Ensure CompletedAt is set even if no terminal frame arrived.
	if result.CompletedAt == 0 {
		result.CompletedAt = time.Now().UnixMilli()
	}

	return result, err
}

// =============================================================================
// Compile-time Interface Check
// =============================================================================

var _ FrameReader = (*sseFrameReader)(nil)
