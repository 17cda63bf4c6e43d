// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the HTTP surface of the support chat
// service. The streaming chat handler is the core of the service: it
// validates a turn, admits it through the model resolver, drives a
// tool-augmented streaming generation, and splits the output between the
// client transport and the analysis/persistence side channel.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianSupport/services/llm"
	"github.com/AleutianAI/AleutianSupport/services/support/annotations"
	"github.com/AleutianAI/AleutianSupport/services/support/clients"
	"github.com/AleutianAI/AleutianSupport/services/support/config"
	"github.com/AleutianAI/AleutianSupport/services/support/datatypes"
	"github.com/AleutianAI/AleutianSupport/services/support/middleware"
	"github.com/AleutianAI/AleutianSupport/services/support/observability"
	"github.com/AleutianAI/AleutianSupport/services/support/persist"
	"github.com/AleutianAI/AleutianSupport/services/support/services"
	"github.com/AleutianAI/AleutianSupport/services/support/stream"
)

// =============================================================================
// Package Variables
// =============================================================================

var chatStreamTracer = otel.Tracer("aleutian.support.handlers.chat_stream")

// =============================================================================
// Interface Definition
// =============================================================================

// StreamingChatHandler defines the handlers for the streaming chat
// endpoints.
//
// # Description
//
// One implementation serves both transports. The SSE handler owns the
// full HTTP contract (body cap, validation, admission, pre-stream error
// envelopes); the WebSocket handler runs the same turn pipeline over an
// upgraded connection, one turn per inbound message.
//
// # Thread Safety
//
// Implementations must be safe for concurrent requests. Per-turn state
// lives on the stack; the only shared mutable state is the per-session
// persistence lock map.
type StreamingChatHandler interface {
	// HandleChatStream processes POST /v1/support/chat/stream.
	//
	// # Description
	//
	// The flow is:
	//  1. Cap the body at 1 MiB and parse the request.
	//  2. Validate bounds (message count, content length, attached log).
	//  3. Resolve provider, model, credential, and rate-limit admission.
	//  4. Persist the turn's user message (session turns, best-effort).
	//  5. Stream generation through a two-branch tee: one branch relays
	//     frames to the client, the other accumulates, annotates, and
	//     persists the reply.
	//
	// # Outputs
	//
	// SSE frames on success: start, text-delta*, tool-call/tool-result,
	// data-* annotations, text-end, done. Keepalive comments every
	// heartbeat interval.
	//
	// HTTP status before streaming starts:
	//   - 400 Bad Request: Malformed or out-of-bounds request
	//   - 429 Too Many Requests: Rate-limit bucket exhausted (retry_after set)
	//   - 500 Internal Server Error: Missing provider credential or setup failure
	//
	// Errors after the first frame terminate the stream with a terminal
	// error frame; already-sent frames stand.
	HandleChatStream(c *gin.Context)

	// HandleChatWS serves the WebSocket transport carrying the same
	// frames as JSON messages, one streamed turn per request message.
	HandleChatWS(c *gin.Context)
}

// =============================================================================
// Struct Definition
// =============================================================================

// streamingChatHandler implements StreamingChatHandler.
//
// # Fields
//
//   - current: Configuration snapshot source (hot-reload aware).
//   - resolver: Turn admission and provider client construction.
//   - backend: Shared HTTP client for the support backend (tools).
//   - sessions: Durable conversation store client.
//   - deriver: Annotation derivation (heuristic or model-backed).
//   - locks: Per-session persistence write locks, shared across turns.
//
// # Thread Safety
//
// Thread-safe. All fields are read-only after construction.
type streamingChatHandler struct {
	current  services.ConfigSource
	resolver services.ModelResolver
	backend  *clients.BackendClient
	sessions *clients.SessionClient
	deriver  annotations.Deriver
	locks    *persist.SessionLocks
	tracer   trace.Tracer
}

// =============================================================================
// Constructor
// =============================================================================

// NewStreamingChatHandler creates a StreamingChatHandler.
//
// # Inputs
//
//   - current: Must not be nil; called once per turn for a config snapshot.
//   - resolver: Must not be nil.
//   - backend: Must not be nil; the four tool clients are built over it.
//   - sessions: Must not be nil; used for history, user-message, and
//     reply persistence on session turns.
//   - deriver: Must not be nil; see annotations.FromConfig.
//
// # Outputs
//
//   - StreamingChatHandler: Ready for use with the Gin router.
//
// # Limitations
//
//   - Panics on any nil dependency (programming errors).
func NewStreamingChatHandler(
	current services.ConfigSource,
	resolver services.ModelResolver,
	backend *clients.BackendClient,
	sessions *clients.SessionClient,
	deriver annotations.Deriver,
) StreamingChatHandler {
	if current == nil {
		panic("NewStreamingChatHandler: current must not be nil")
	}
	if resolver == nil {
		panic("NewStreamingChatHandler: resolver must not be nil")
	}
	if backend == nil {
		panic("NewStreamingChatHandler: backend must not be nil")
	}
	if sessions == nil {
		panic("NewStreamingChatHandler: sessions must not be nil")
	}
	if deriver == nil {
		panic("NewStreamingChatHandler: deriver must not be nil")
	}

	return &streamingChatHandler{
		current:  current,
		resolver: resolver,
		backend:  backend,
		sessions: sessions,
		deriver:  deriver,
		locks:    persist.NewSessionLocks(),
		tracer:   chatStreamTracer,
	}
}

// =============================================================================
// Handler Methods
// =============================================================================

// HandleChatStream implements StreamingChatHandler.
func (h *streamingChatHandler) HandleChatStream(c *gin.Context) {
	startTime := time.Now()
	endpoint := observability.EndpointChatStream

	ctx, span := h.tracer.Start(c.Request.Context(), "HandleChatStream")
	defer span.End()

	// Track active stream (for metrics)
	if m := observability.DefaultMetrics; m != nil {
		m.StreamStarted(endpoint)
		defer m.StreamEnded(endpoint)
	}

	success := false
	defer func() {
		if m := observability.DefaultMetrics; m != nil {
			m.RecordRequest(endpoint, success)
			m.RecordStreamDuration(endpoint, time.Since(startTime).Seconds(), success)
		}
	}()

	// Step 0: Get authenticated caller from context, if any.
	authInfo := middleware.GetAuthInfo(c)
	userID := "anonymous"
	if authInfo != nil {
		userID = authInfo.UserID
	}
	span.SetAttributes(attribute.String("user.id", userID))

	// Step 1: Cap and parse the request body. The cap is enforced at the
	// transport so an oversized payload is rejected before it is held in
	// memory in full.
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, datatypes.MaxRequestBodyBytes)

	var req datatypes.StreamChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid request body")
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeValidation)
		}

		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			ve := datatypes.NewBodyTooLargeError(c.Request.ContentLength)
			slog.Warn("Rejected oversized chat request",
				"contentLength", c.Request.ContentLength,
				"limit", maxBytesErr.Limit,
			)
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: ve.Error()})
			return
		}

		slog.Error("Failed to parse chat request", "error", err)
		c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "invalid request body"})
		return
	}

	// Step 2: Validate bounds before any outbound call.
	req.EnsureDefaults()
	if err := req.Validate(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation failed")
		slog.Warn("Chat request validation failed", "error", err)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeValidation)
		}
		c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: err.Error()})
		return
	}

	span.SetAttributes(
		attribute.Int("request.message_count", len(req.Messages)),
		attribute.Bool("request.has_attached_log", req.HasAttachedLog()),
		attribute.Bool("request.has_session", req.Data.SessionID != ""),
	)

	// Step 3: Admit the turn and build the provider client.
	resolved, err := h.resolver.Resolve(ctx, authInfo, req.Data)
	if err != nil {
		span.RecordError(err)

		var rateLimitErr *clients.RateLimitError
		var configErr *clients.ConfigurationError
		switch {
		case errors.As(err, &rateLimitErr):
			span.SetStatus(codes.Error, "rate limited")
			slog.Warn("Chat turn rejected by rate limiter",
				"bucket", rateLimitErr.Bucket,
				"retryAfter", rateLimitErr.RetryAfterSeconds,
			)
			if m := observability.DefaultMetrics; m != nil {
				m.RecordError(endpoint, observability.ErrorCodeRateLimited)
			}
			retryAfter := rateLimitErr.RetryAfterSeconds
			c.JSON(http.StatusTooManyRequests, datatypes.ErrorResponse{
				Error:      fmt.Sprintf("Rate limit exceeded for %s models. Please try again shortly.", rateLimitErr.Bucket),
				RetryAfter: &retryAfter,
			})
		case errors.As(err, &configErr):
			span.SetStatus(codes.Error, "provider not configured")
			slog.Error("Chat turn failed: provider not configured",
				"provider", configErr.Provider,
				"error", err,
			)
			if m := observability.DefaultMetrics; m != nil {
				m.RecordError(endpoint, observability.ErrorCodeConfiguration)
			}
			c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{
				Error: fmt.Sprintf("No API key is configured for provider %q.", configErr.Provider),
			})
		default:
			span.SetStatus(codes.Error, "resolution failed")
			slog.Error("Chat turn resolution failed", "error", err)
			if m := observability.DefaultMetrics; m != nil {
				m.RecordError(endpoint, observability.ErrorCodeInternal)
			}
			c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{
				Error: "Unable to start the chat stream.",
			})
		}
		return
	}
	span.SetAttributes(
		attribute.String("model.provider", resolved.Provider),
		attribute.String("model.name", resolved.Model),
	)

	cfg := h.current()

	// Step 4: Build the turn's tool set and analysis consumer. The
	// consumer is created before SSE setup so an allocation failure can
	// still fail the turn with a plain 500. Its Emit closure reads the
	// writer assigned below; the consumer only observes events once
	// streaming has started, after the writer exists.
	results := datatypes.NewToolResultSet()
	turnTools := clients.NewTurnTools(h.backend, services.ToolTimeoutsFromConfig(cfg), results, req.Data.AttachedLogText)

	var writer FrameWriter
	consumer, err := persist.NewConsumer(persist.ConsumerConfig{
		SessionID:             req.Data.SessionID,
		Sessions:              h.sessions,
		Deriver:               h.deriver,
		Locks:                 h.locks,
		Persistence:           cfg.Persistence,
		FollowupIntervalChars: cfg.Annotations.FollowupIntervalChars,
		Results:               results,
		ToolsOffered:          req.HasAttachedLog(),
		Emit: func(frame *datatypes.StreamFrame) error {
			return writer.WriteFrame(frame)
		},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "consumer setup failed")
		slog.Error("Failed to prepare analysis consumer", "error", err)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeInternal)
		}
		c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{
			Error: "Unable to start the chat stream.",
		})
		return
	}

	// Step 5: Switch to SSE.
	SetSSEHeaders(c.Writer)
	writer, err = NewFrameWriter(c.Writer)
	if err != nil {
		consumer.Close()
		span.RecordError(err)
		span.SetStatus(codes.Error, "SSE setup failed")
		slog.Error("Failed to create SSE frame writer", "error", err)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeInternal)
		}
		c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{
			Error: "Streaming not supported",
		})
		return
	}

	// Step 6: Run the turn.
	streamErr := h.streamTurn(ctx, writer, cfg, resolved, &req, consumer, turnTools.Specs(), endpoint, startTime)
	if streamErr != nil {
		span.RecordError(streamErr)
		span.SetStatus(codes.Error, "streaming failed")
		if errors.Is(streamErr, context.Canceled) {
			if m := observability.DefaultMetrics; m != nil {
				m.RecordError(endpoint, observability.ErrorCodeClientDisconnect)
				m.RecordClientDisconnect(endpoint)
			}
		} else {
			if m := observability.DefaultMetrics; m != nil {
				m.RecordError(endpoint, observability.ErrorCodeLLMError)
			}
		}
		// Terminal error frame already sent by the forwarding branch.
		return
	}

	success = true
}

// =============================================================================
// Turn Pipeline
// =============================================================================

// streamTurn runs one admitted turn over any frame transport.
//
// # Description
//
// Fetches optional session history, persists the user message, then
// pumps the provider's event stream through a two-branch tee: branch 0
// relays frames to the client, branch 1 feeds the analysis consumer. A
// heartbeat goroutine keeps the connection alive throughout. The done
// frame is written only when every branch finished cleanly.
//
// # Inputs
//
//   - ctx: Request-scoped context; cancellation aborts generation and
//     both branches (persistence flushes detach themselves).
//   - writer: Transport writer shared by both emitting branches.
//   - cfg: Configuration snapshot for the turn.
//   - resolved: Admitted provider client and names.
//   - req: The validated request.
//   - consumer: Analysis consumer constructed for this turn.
//   - specs: Tool specs for the turn.
//
// # Outputs
//
//   - error: Non-nil if generation or the client transport failed after
//     streaming began. Pre-stream setup in this function never fails the
//     turn; history and user persistence are best-effort.
func (h *streamingChatHandler) streamTurn(
	ctx context.Context,
	writer FrameWriter,
	cfg *config.Config,
	resolved *services.ResolvedModel,
	req *datatypes.StreamChatRequest,
	consumer *persist.Consumer,
	specs []llm.ToolSpec,
	endpoint observability.Endpoint,
	startTime time.Time,
) error {
	sessionID := req.Data.SessionID

	var history []datatypes.ChatMessage
	if sessionID != "" && req.Data.UseServerMemory {
		history = h.loadSessionHistory(ctx, cfg, sessionID)
	}

	if sessionID != "" {
		persist.PersistUserMessage(ctx, h.sessions, h.locks, cfg.Persistence, sessionID, req.LeadingUserText())
	}

	if err := writer.WriteFrame(datatypes.NewStreamFrame(datatypes.FrameStart).WithSessionID(sessionID)); err != nil {
		consumer.Close()
		return fmt.Errorf("write start frame: %w", err)
	}

	heartbeatDone := make(chan struct{})
	go h.runHeartbeat(ctx, writer, cfg.Server.Heartbeat(), endpoint, heartbeatDone)
	defer close(heartbeatDone)

	turn := services.AssembleTurn(history, req, specs)
	tee := stream.NewTee(2)

	var tokenCount int32
	firstTokenTime := time.Time{}

	g, gctx := errgroup.WithContext(ctx)

	// Generator pump: every provider event goes to both branches.
	g.Go(func() error {
		err := resolved.Client.ChatStream(gctx, turn, func(ev llm.StreamEvent) error {
			// Stop generating as soon as either branch failed.
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			tee.Publish(ev)
			return nil
		})
		tee.Close(err)
		return err
	})

	// Forwarding branch: relay frames to the client verbatim.
	g.Go(func() error {
		return h.forwardBranch(gctx, tee.Branch(0), writer, &tokenCount, &firstTokenTime)
	})

	// Analysis branch: accumulate, annotate, persist. Never fails.
	g.Go(func() error {
		return consumer.Run(gctx, tee.Branch(1))
	})

	streamErr := g.Wait()

	if !firstTokenTime.IsZero() {
		ttft := firstTokenTime.Sub(startTime).Seconds()
		if m := observability.DefaultMetrics; m != nil {
			m.RecordTimeToFirstToken(endpoint, ttft)
		}
	}

	if streamErr != nil {
		slog.Error("Chat stream failed",
			"provider", resolved.Provider,
			"model", resolved.Model,
			"sessionId", sessionID,
			"tokenCount", atomic.LoadInt32(&tokenCount),
			"error", streamErr,
		)
		return streamErr
	}

	if err := writer.WriteFrame(datatypes.NewStreamFrame(datatypes.FrameDone).WithSessionID(sessionID)); err != nil {
		return fmt.Errorf("write done frame: %w", err)
	}

	slog.Info("Chat stream completed",
		"provider", resolved.Provider,
		"model", resolved.Model,
		"sessionId", sessionID,
		"tokenCount", atomic.LoadInt32(&tokenCount),
		"persistState", consumer.State(),
	)
	return nil
}

// forwardBranch relays branch events to the client until the branch
// closes. On a clean close it writes the text-end frame; on a failed
// close it writes a terminal error frame and reports the failure.
func (h *streamingChatHandler) forwardBranch(
	ctx context.Context,
	branch *stream.Branch,
	writer FrameWriter,
	tokenCount *int32,
	firstTokenTime *time.Time,
) error {
	for {
		ev, err := branch.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return writer.WriteFrame(datatypes.NewStreamFrame(datatypes.FrameTextEnd))
			}
			_ = writer.WriteFrame(datatypes.NewStreamFrame(datatypes.FrameError).WithError(sanitizeErrorForClient(err.Error())))
			return err
		}

		frame := frameForEvent(ev)
		if frame == nil {
			continue
		}

		if ev.Type == llm.StreamEventToken {
			if firstTokenTime.IsZero() {
				*firstTokenTime = time.Now()
			}
			atomic.AddInt32(tokenCount, 1)
		}

		if err := writer.WriteFrame(frame); err != nil {
			return fmt.Errorf("forward frame: %w", err)
		}
	}
}

// frameForEvent maps a generator event to its client frame. Raw model
// reasoning is not forwarded; clients get the derived trace annotation
// from the analysis branch instead.
func frameForEvent(ev llm.StreamEvent) *datatypes.StreamFrame {
	switch ev.Type {
	case llm.StreamEventToken:
		return datatypes.NewStreamFrame(datatypes.FrameTextDelta).WithDelta(ev.Content)

	case llm.StreamEventToolCall:
		if ev.ToolCall == nil {
			return nil
		}
		return datatypes.NewStreamFrame(datatypes.FrameToolCall).WithToolCall(&datatypes.ToolCallPayload{
			ID:        ev.ToolCall.ID,
			Name:      ev.ToolCall.Name,
			Arguments: ev.ToolCall.Arguments,
		})

	case llm.StreamEventToolResult:
		if ev.ToolResult == nil {
			return nil
		}
		return datatypes.NewStreamFrame(datatypes.FrameToolResult).WithToolResult(&datatypes.ToolResultPayload{
			ID:     ev.ToolResult.ID,
			Name:   ev.ToolResult.Name,
			Output: ev.ToolResult.Output,
			Error:  ev.ToolResult.Err,
		})

	case llm.StreamEventError:
		return datatypes.NewStreamFrame(datatypes.FrameError).WithError(sanitizeErrorForClient(ev.Content))
	}
	return nil
}

// =============================================================================
// Helper Methods
// =============================================================================

// runHeartbeat sends periodic keepalives to prevent connection timeouts.
//
// # Description
//
// Runs in a separate goroutine for the duration of the turn, covering
// long tool calls and slow model thinking. Stops when done is closed,
// the context is canceled, or a keepalive write fails.
func (h *streamingChatHandler) runHeartbeat(
	ctx context.Context,
	writer FrameWriter,
	interval time.Duration,
	endpoint observability.Endpoint,
	done <-chan struct{},
) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := writer.WriteKeepAlive(); err != nil {
				slog.Debug("Failed to write keepalive", "error", err)
				return
			}
			if m := observability.DefaultMetrics; m != nil {
				m.RecordKeepAlive(endpoint)
			}
		}
	}
}

// loadSessionHistory fetches prior session messages for model context.
// History is additive context only: any failure skips it quietly rather
// than degrading the turn.
func (h *streamingChatHandler) loadSessionHistory(ctx context.Context, cfg *config.Config, sessionID string) []datatypes.ChatMessage {
	hctx, cancel := context.WithTimeout(ctx, cfg.History.Timeout())
	defer cancel()

	history, err := h.sessions.History(hctx, sessionID, cfg.History.MaxMessages)
	if err != nil {
		slog.Debug("Session history unavailable, continuing without it",
			"sessionId", sessionID,
			"error", err,
		)
		return nil
	}
	return history
}

// sanitizeErrorForClient strips internals from an error before it leaves
// the process.
func sanitizeErrorForClient(errMsg string) string {
	// Log the full error internally for debugging
	slog.Debug("Sanitizing error for client", "original_error", errMsg)

	// Return generic message - don't expose internals
	return "An error occurred while processing your request"
}

// =============================================================================
// Compile-time Interface Check
// =============================================================================

var _ StreamingChatHandler = (*streamingChatHandler)(nil)
