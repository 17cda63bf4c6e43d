// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ux provides user experience components for the Aleutian Support CLI.
//
// This file contains the stream result types shared by frame readers and
// renderers. A StreamResult aggregates one streaming chat turn: the
// assistant text, suggested follow-ups, every hashed frame in arrival
// order, and timing metrics.
package ux

import (
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianSupport/services/support/datatypes"
)

// FrameCallback is invoked once per parsed frame during streaming.
// Returning a non-nil error stops the read.
type FrameCallback func(frame datatypes.StreamFrame) error

// StreamResult contains the complete result of one streaming chat turn.
//
// Timestamps are Unix milliseconds so results serialize cleanly and match
// the CreatedAt convention of the frames themselves.
type StreamResult struct {
	// Id uniquely identifies this result record.
	Id string

	// RequestID correlates the result with client-side request logs.
	RequestID string

	// SessionID is the durable conversation id reported by the server.
	SessionID string

	// Answer is the full assistant text, all deltas concatenated.
	Answer string

	// Followups holds the server-suggested follow-up questions.
	Followups []string

	// Frames is every hashed frame in arrival order. Kept so the chain
	// can be verified after the stream completes.
	Frames []datatypes.StreamFrame

	// Verification is the chain check outcome, set once a verifier ran.
	Verification *ChainVerificationResult

	// Error is the server-reported stream error, empty on success.
	Error string

	CreatedAt    int64
	FirstDeltaAt int64
	CompletedAt  int64

	TotalFrames int
	DeltaCount  int
	ToolCalls   int
}

// NewStreamResult creates a result with a fresh Id and CreatedAt.
func NewStreamResult() *StreamResult {
	return &StreamResult{
		Id:        uuid.New().String(),
		CreatedAt: time.Now().UnixMilli(),
	}
}

// NewStreamResultWithRequestID creates a result tagged with a request id.
func NewStreamResultWithRequestID(requestID string) *StreamResult {
	result := NewStreamResult()
	result.RequestID = requestID
	return result
}

// HasError reports whether the stream ended with a server error frame.
func (r *StreamResult) HasError() bool {
	return r.Error != ""
}

// Duration returns the total streaming time, or zero when either
// timestamp is missing.
func (r *StreamResult) Duration() time.Duration {
	if r.CreatedAt == 0 || r.CompletedAt == 0 {
		return 0
	}
	return time.Duration(r.CompletedAt-r.CreatedAt) * time.Millisecond
}

// TimeToFirstDelta returns the latency before the first text delta, or
// zero when no delta arrived.
func (r *StreamResult) TimeToFirstDelta() time.Duration {
	if r.CreatedAt == 0 || r.FirstDeltaAt == 0 {
		return 0
	}
	return time.Duration(r.FirstDeltaAt-r.CreatedAt) * time.Millisecond
}

// CreatedAtTime returns CreatedAt as a time.Time.
func (r *StreamResult) CreatedAtTime() time.Time {
	return time.UnixMilli(r.CreatedAt)
}

// CompletedAtTime returns CompletedAt as a time.Time.
func (r *StreamResult) CompletedAtTime() time.Time {
	return time.UnixMilli(r.CompletedAt)
}

// FirstDeltaAtTime returns FirstDeltaAt as a time.Time, or the zero time
// when no delta arrived.
func (r *StreamResult) FirstDeltaAtTime() time.Time {
	if r.FirstDeltaAt == 0 {
		return time.Time{}
	}
	return time.UnixMilli(r.FirstDeltaAt)
}
