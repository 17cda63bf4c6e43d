// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package persist implements the analysis side of a streaming turn: the
// consumer walks its branch of the teed event stream, accumulates the
// reply in protected memory, derives the UI annotations, and writes the
// assistant message to the session store incrementally.
//
// Everything in this package is a side channel of the caller-visible
// stream. Durable writes return typed outcomes instead of raising, and
// no failure here ever aborts or delays the forwarded tokens.
package persist

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"go.opentelemetry.io/otel"

	"github.com/AleutianAI/AleutianSupport/services/llm"
	"github.com/AleutianAI/AleutianSupport/services/support/annotations"
	"github.com/AleutianAI/AleutianSupport/services/support/clients"
	"github.com/AleutianAI/AleutianSupport/services/support/config"
	"github.com/AleutianAI/AleutianSupport/services/support/datatypes"
	"github.com/AleutianAI/AleutianSupport/services/support/observability"
	"github.com/AleutianAI/AleutianSupport/services/support/stream"
)

var consumerTracer = otel.Tracer("aleutian.support.persist.consumer")

// =============================================================================
// Types
// =============================================================================

// State names the consumer's position in the per-turn persistence
// lifecycle.
type State string

const (
	StateNoMessage State = "no-message-yet"
	StateCreated   State = "message-created"
	StateAppending State = "appending"
	StateFinalized State = "finalized"
)

// FlushOp distinguishes the two durable-write shapes.
type FlushOp string

const (
	FlushCreate FlushOp = "create"
	FlushAppend FlushOp = "append"
)

// FlushOutcome reports one durable-write attempt. A failed flush carries
// its error here to be logged and counted, never propagated; the pending
// window stays intact so the next crossing retries with the superset.
type FlushOutcome struct {
	Op        FlushOp
	SessionID string
	MessageID string
	Chars     int
	Err       error
}

// Success reports whether the write landed.
func (o FlushOutcome) Success() bool { return o.Err == nil }

// EmitFunc delivers one frame to the caller-visible stream.
type EmitFunc func(*datatypes.StreamFrame) error

// ConsumerConfig wires one turn's analysis consumer.
type ConsumerConfig struct {
	// SessionID is empty for memoryless turns: durable writes are then
	// skipped entirely while annotations still flow to the client.
	SessionID string

	Sessions *clients.SessionClient
	Deriver  annotations.Deriver
	Locks    *SessionLocks

	// Persistence carries the flush thresholds and the per-call timeout.
	Persistence config.PersistenceConfig

	// FollowupIntervalChars is the net reply growth, in runes, between
	// follow-up suggestion refreshes.
	FollowupIntervalChars int

	// Results collects tool outcomes while the generator runs; the
	// consumer surfaces the latest entry per kind at turn end.
	Results *datatypes.ToolResultSet

	// ToolsOffered reports whether the model was allowed to call tools
	// this turn. Feeds the thinking trace's tool-decision label.
	ToolsOffered bool

	// Emit writes annotation frames to the stream.
	Emit EmitFunc
}

// Consumer is the per-turn analysis and persistence state machine.
//
// # Description
//
// One Consumer serves exactly one streaming turn. It owns the reply
// accumulator and walks the states no-message-yet, message-created,
// appending, finalized as thresholds are crossed. On each text delta it
// refreshes follow-up suggestions every FollowupIntervalChars of net
// growth and flushes the pending window durably: a create once the
// initial threshold is reached, appends at the steady-state threshold
// after that. The stream's clean end triggers the closing sequence:
// final follow-ups, the thinking trace, the latest result per tool kind,
// then the flush of whatever text remains.
//
// # Thread Safety
//
// Not safe for concurrent use; Run is the only entry point and owns all
// state for the turn's duration.
type Consumer struct {
	cfg ConsumerConfig
	acc ReplyAccumulator

	state          State
	messageID      string
	lastFollowupAt int
	accBroken      bool
	emitBroken     bool
}

// =============================================================================
// Constructor Functions
// =============================================================================

// NewConsumer builds the consumer for one turn, allocating its reply
// accumulator. Fails only when secure memory is required but
// unavailable, which the handler surfaces before streaming starts.
func NewConsumer(cfg ConsumerConfig) (*Consumer, error) {
	if cfg.Emit == nil {
		return nil, fmt.Errorf("consumer requires an emit function")
	}
	if cfg.Deriver == nil {
		return nil, fmt.Errorf("consumer requires an annotation deriver")
	}
	if cfg.SessionID != "" && (cfg.Sessions == nil || cfg.Locks == nil) {
		return nil, fmt.Errorf("session %q requires a session client and lock map", cfg.SessionID)
	}

	acc, err := NewReplyAccumulator()
	if err != nil {
		return nil, fmt.Errorf("reply accumulator: %w", err)
	}
	return &Consumer{cfg: cfg, acc: acc, state: StateNoMessage}, nil
}

// =============================================================================
// Consumer Methods
// =============================================================================

// State returns the current lifecycle state.
func (c *Consumer) State() State { return c.state }

// MessageID returns the durable assistant message id, or "" before the
// creating flush has landed.
func (c *Consumer) MessageID() string { return c.messageID }

// Close releases the reply accumulator without consuming a stream. Call
// it when the turn fails between construction and Run; Run performs its
// own cleanup and destroying twice is harmless.
func (c *Consumer) Close() { c.acc.Destroy() }

// Run consumes the branch until it closes, then finalizes the turn.
//
// Run always returns nil: persistence and annotation failures are
// contained here and must never abort the caller-visible stream. A
// canceled request or a generator failure still gets a best-effort
// closing flush so the durable record matches what was sent.
func (c *Consumer) Run(ctx context.Context, branch *stream.Branch) error {
	defer c.acc.Destroy()

	for {
		ev, err := branch.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				c.finishTurn(ctx)
				return nil
			}
			slog.Debug("Analysis branch closed early", "error", err, "state", c.state)
			c.flushRemainder(ctx)
			c.state = StateFinalized
			return nil
		}
		c.observe(ctx, ev)
	}
}

// observe folds one stream event into the turn state. Only text deltas
// matter here: tool frames are forwarded by the other branch and tool
// outcomes arrive through the shared result set.
func (c *Consumer) observe(ctx context.Context, ev llm.StreamEvent) {
	if ev.Type != llm.StreamEventToken || ev.Content == "" {
		return
	}

	if c.accBroken {
		return
	}
	if err := c.acc.Append(ev.Content); err != nil {
		slog.Warn("Reply accumulation stopped",
			"accumulator_id", c.acc.ID(), "error", err)
		c.accBroken = true
		return
	}

	c.maybeEmitFollowups(ctx)
	c.maybeFlush(ctx)
}

// maybeEmitFollowups refreshes the follow-up suggestions once per
// interval of net growth, so periodic annotations always reflect a
// prefix of the final text.
func (c *Consumer) maybeEmitFollowups(ctx context.Context) {
	interval := c.cfg.FollowupIntervalChars
	if interval <= 0 {
		return
	}
	total := c.acc.TotalChars()
	if total-c.lastFollowupAt < interval {
		return
	}
	c.lastFollowupAt = total

	text, err := c.acc.Text()
	if err != nil {
		return
	}
	c.emitFollowups(ctx, text)
}

// maybeFlush performs the threshold-driven durable write for the current
// state: a create once the initial threshold is reached, an append at
// the steady-state threshold once a message exists.
func (c *Consumer) maybeFlush(ctx context.Context) {
	if c.cfg.SessionID == "" {
		return
	}

	switch c.state {
	case StateNoMessage:
		if c.acc.PendingChars() >= c.cfg.Persistence.InitialFlushChars {
			c.flush(ctx, FlushCreate)
		}
	case StateCreated, StateAppending:
		if c.acc.PendingChars() >= c.cfg.Persistence.AppendFlushChars {
			c.flush(ctx, FlushAppend)
		}
	}
}

// finishTurn runs the closing sequence on the stream's clean end: final
// follow-ups and thinking trace over the full text, the latest result
// per tool kind, then the flush of any remaining buffered text.
func (c *Consumer) finishTurn(ctx context.Context) {
	ctx, span := consumerTracer.Start(ctx, "Consumer.finishTurn")
	defer span.End()

	if text, err := c.acc.Text(); err == nil {
		c.emitFollowups(ctx, text)
		c.emitThinking(ctx, text)
	}
	c.emitToolAnnotations()

	c.flushRemainder(ctx)
	c.state = StateFinalized

	if _, _, err := c.acc.Finalize(); err != nil {
		slog.Debug("Reply finalization failed", "error", err)
	}
}

// flushRemainder writes whatever is still pending, creating the durable
// message if no threshold was ever crossed.
func (c *Consumer) flushRemainder(ctx context.Context) {
	if c.cfg.SessionID == "" || c.acc.PendingChars() == 0 {
		return
	}

	op := FlushAppend
	if c.state == StateNoMessage {
		op = FlushCreate
	}
	c.flush(ctx, op)
}

// flush performs one durable write under the session lock and reports
// the typed outcome. The pending window is only consumed on success.
func (c *Consumer) flush(ctx context.Context, op FlushOp) FlushOutcome {
	outcome := c.doFlush(ctx, op)
	c.logFlush(outcome)
	recordPersistenceWrite(string(outcome.Op), outcome.Success())
	return outcome
}

func (c *Consumer) doFlush(ctx context.Context, op FlushOp) FlushOutcome {
	ctx, span := consumerTracer.Start(ctx, "Consumer.flush")
	defer span.End()

	outcome := FlushOutcome{Op: op, SessionID: c.cfg.SessionID, MessageID: c.messageID}

	window, err := c.acc.PendingWindow()
	if err != nil {
		outcome.Err = err
		return outcome
	}
	outcome.Chars = window.Chars

	release := c.cfg.Locks.Acquire(c.cfg.SessionID)
	defer release()

	callCtx, cancel := c.durableCallContext(ctx)
	defer cancel()

	switch op {
	case FlushCreate:
		id, err := c.cfg.Sessions.CreateMessage(callCtx, c.cfg.SessionID, "assistant", window.Text)
		if err != nil {
			outcome.Err = err
			return outcome
		}
		c.messageID = id
		c.state = StateCreated
		outcome.MessageID = id
	case FlushAppend:
		if err := c.cfg.Sessions.AppendMessage(callCtx, c.cfg.SessionID, c.messageID, window.Text); err != nil {
			outcome.Err = err
			return outcome
		}
		c.state = StateAppending
	}

	c.acc.MarkPersisted(window)
	return outcome
}

// durableCallContext bounds one durable write. Detached from the request
// lifecycle so a client disconnect still lets the in-flight flush finish.
func (c *Consumer) durableCallContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), c.cfg.Persistence.Timeout())
}

func (c *Consumer) logFlush(o FlushOutcome) {
	if o.Success() {
		slog.Debug("Persisted reply text",
			"op", o.Op, "session_id", o.SessionID,
			"message_id", o.MessageID, "chars", o.Chars)
		return
	}
	slog.Warn("Durable write failed, keeping text buffered",
		"op", o.Op, "session_id", o.SessionID,
		"chars", o.Chars, "error", o.Err)
}

// =============================================================================
// Annotation Emission
// =============================================================================

func (c *Consumer) emitFollowups(ctx context.Context, text string) {
	followups := c.cfg.Deriver.Followups(ctx, text)
	c.emit(datatypes.NewStreamFrame(datatypes.FrameFollowups).WithFollowups(followups))
	recordAnnotation("followups")
}

func (c *Consumer) emitThinking(ctx context.Context, text string) {
	trace := c.cfg.Deriver.Thinking(ctx, text, c.cfg.Results, c.cfg.ToolsOffered)
	c.emit(datatypes.NewStreamFrame(datatypes.FrameThinking).WithThinking(trace))
	recordAnnotation("thinking")
}

// emitToolAnnotations surfaces the most recent outcome of each tool that
// ran this turn as its own named frame.
func (c *Consumer) emitToolAnnotations() {
	results := c.cfg.Results
	if results == nil {
		return
	}

	if r := results.LatestKBSearch(); r != nil {
		c.emit(datatypes.NewStreamFrame(datatypes.FrameKBSearch).WithKBSearch(r))
		recordAnnotation("kb_search")
	}
	if r := results.LatestLogAnalysis(); r != nil {
		c.emit(datatypes.NewStreamFrame(datatypes.FrameLogAnalysis).WithLogAnalysis(r))
		recordAnnotation("log_analysis")
	}
	if r := results.LatestReasoning(); r != nil {
		c.emit(datatypes.NewStreamFrame(datatypes.FrameReasoning).WithReasoning(r))
		recordAnnotation("reasoning")
	}
	if r := results.LatestTroubleshooting(); r != nil {
		c.emit(datatypes.NewStreamFrame(datatypes.FrameTroubleshooting).WithTroubleshooting(r))
		recordAnnotation("troubleshooting")
	}
}

// emit delivers one frame, dropping the side channel for the rest of the
// turn once the transport reports a failure. Persistence continues
// regardless: the durable record does not depend on the client.
func (c *Consumer) emit(frame *datatypes.StreamFrame) {
	if c.emitBroken {
		return
	}
	if err := c.cfg.Emit(frame); err != nil {
		slog.Debug("Annotation emission stopped", "error", err)
		c.emitBroken = true
	}
}

// =============================================================================
// User Message Persistence
// =============================================================================

// PersistUserMessage writes the turn's leading user message before
// streaming starts, independent of the assistant-side buffering. Best
// effort: a failure is logged and the turn proceeds without it.
func PersistUserMessage(ctx context.Context, sessions *clients.SessionClient, locks *SessionLocks, persistence config.PersistenceConfig, sessionID, content string) {
	if sessionID == "" || content == "" {
		return
	}
	ctx, span := consumerTracer.Start(ctx, "PersistUserMessage")
	defer span.End()

	release := locks.Acquire(sessionID)
	defer release()

	callCtx, cancel := context.WithTimeout(ctx, persistence.Timeout())
	defer cancel()

	if _, err := sessions.CreateMessage(callCtx, sessionID, "user", content); err != nil {
		slog.Warn("User message persistence failed",
			"session_id", sessionID, "error", err)
		recordPersistenceWrite("user_create", false)
		return
	}
	recordPersistenceWrite("user_create", true)
}

// =============================================================================
// Metrics Helpers
// =============================================================================

func recordPersistenceWrite(kind string, success bool) {
	if m := observability.DefaultMetrics; m != nil {
		m.RecordPersistenceWrite(kind, success)
	}
}

func recordAnnotation(kind string) {
	if m := observability.DefaultMetrics; m != nil {
		m.RecordAnnotation(kind)
	}
}
