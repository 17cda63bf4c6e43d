// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ux provides user experience components for the Aleutian Support CLI.
//
// This file contains the parser for the support service's Server-Sent
// Events frame protocol.
//
// Single Responsibility:
//
//	Parsers ONLY parse. They do not perform I/O, rendering, or state
//	management. This separation enables easy testing.
package ux

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianSupport/services/support/datatypes"
)

// =============================================================================
// Frame Parser Interface
// =============================================================================

// FrameParser parses Server-Sent Events lines into stream frames.
//
// Wire format, one frame per event:
//
//	event: text-delta\n
//	data: {"type":"text-delta","delta":"Hi","id":"...","hash":"..."}\n
//	\n
//
// The data payload is self-describing (it repeats the frame type), so the
// parser treats "event:" lines as advisory and reads frames from "data:"
// lines alone. Keep-alive comments (": keepalive") carry no frame.
//
// Thread Safety:
//
//	Implementations must be safe for concurrent use. The default
//	implementation is stateless and inherently thread-safe.
type FrameParser interface {
	// ParseLine parses a single line of SSE input.
	//
	// Returns the parsed frame, or nil for lines that carry no frame
	// (blank delimiters, comments, event name lines). A malformed data
	// payload is an error rather than something to skip: every frame
	// participates in the hash chain, so a frame that cannot be decoded
	// is a protocol violation.
	ParseLine(line string) (*datatypes.StreamFrame, error)

	// ParseData parses a raw frame payload without the "data:" prefix.
	ParseData(data []byte) (*datatypes.StreamFrame, error)
}

// =============================================================================
// Frame Parser Implementation
// =============================================================================

type sseFrameParser struct{}

// NewFrameParser creates a stateless SSE frame parser. The returned
// parser can be safely shared across goroutines.
func NewFrameParser() FrameParser {
	return &sseFrameParser{}
}

// ParseLine parses a single SSE line.
//
// Line handling:
//   - Empty lines: event delimiters, return nil
//   - Comment lines (":"): keep-alives, return nil
//   - "data:" lines: parsed as a frame payload
//   - Other SSE fields ("event:", "id:", "retry:"): return nil
//   - Anything else: protocol error
func (p *sseFrameParser) ParseLine(line string) (*datatypes.StreamFrame, error) {
	line = strings.TrimSpace(line)

	if line == "" {
		return nil, nil
	}

	if strings.HasPrefix(line, ":") {
		return nil, nil
	}

	if strings.HasPrefix(line, "data:") {
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		return p.ParseData([]byte(payload))
	}

	// The frame type travels inside the payload, so field lines other
	// than data: contribute nothing.
	if strings.Contains(line, ":") {
		return nil, nil
	}

	return nil, fmt.Errorf("unexpected stream line %q", line)
}

// ParseData parses a JSON frame payload.
func (p *sseFrameParser) ParseData(data []byte) (*datatypes.StreamFrame, error) {
	var frame datatypes.StreamFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("malformed frame payload: %w", err)
	}
	if frame.Type == "" {
		return nil, fmt.Errorf("frame payload missing type")
	}
	return &frame, nil
}

// =============================================================================
// Compile-time Interface Check
// =============================================================================

var _ FrameParser = (*sseFrameParser)(nil)
