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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianSupport/pkg/ux"
	"github.com/AleutianAI/AleutianSupport/services/support/datatypes"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// DefaultStreamTimeout bounds one full streaming turn, including model
	// latency and tool round-trips.
	DefaultStreamTimeout = 5 * time.Minute

	// maxErrorBodyBytes caps how much of a non-200 response body is read
	// when extracting an error message.
	maxErrorBodyBytes = 4096
)

// =============================================================================
// HTTP Client Interface
// =============================================================================

// HTTPClient abstracts HTTP operations for testability.
//
// # Description
//
// HTTPClient lets tests substitute a mock transport without standing up
// a server. The production implementation is defaultHTTPClient; tests
// can also point the default client at an httptest.Server.
//
// # Assumptions
//
//   - Implementations honor context cancellation
//   - Callers close the response body
type HTTPClient interface {
	// Post sends a POST request with the given content type and body.
	Post(ctx context.Context, url, contentType string, body io.Reader) (*http.Response, error)

	// PostWithHeaders sends a POST request with additional headers.
	PostWithHeaders(ctx context.Context, url, contentType string, body io.Reader, headers map[string]string) (*http.Response, error)

	// Get sends a GET request.
	Get(ctx context.Context, url string) (*http.Response, error)
}

// defaultHTTPClient implements HTTPClient using net/http.
type defaultHTTPClient struct {
	client *http.Client
}

// newDefaultHTTPClient creates an HTTP client with the given timeout.
// A zero timeout falls back to DefaultStreamTimeout.
func newDefaultHTTPClient(timeout time.Duration) *defaultHTTPClient {
	if timeout <= 0 {
		timeout = DefaultStreamTimeout
	}
	return &defaultHTTPClient{
		client: &http.Client{Timeout: timeout},
	}
}

// Post sends a POST request with context support.
func (c *defaultHTTPClient) Post(ctx context.Context, url, contentType string, body io.Reader) (*http.Response, error) {
	return c.PostWithHeaders(ctx, url, contentType, body, nil)
}

// PostWithHeaders sends a POST request with extra headers.
func (c *defaultHTTPClient) PostWithHeaders(ctx context.Context, url, contentType string, body io.Reader, headers map[string]string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	return c.client.Do(req)
}

// Get sends a GET request with context support.
func (c *defaultHTTPClient) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return c.client.Do(req)
}

// =============================================================================
// StreamingChatService Interface
// =============================================================================

// StreamingChatService manages a streaming conversation with the support
// server.
//
// # Description
//
// StreamingChatService sends user messages to the support server's
// streaming chat endpoint, renders frames as they arrive, verifies each
// response's hash chain, and tracks the session id across turns.
//
// Two memory modes are supported:
//
//   - Server memory: only the latest user message is sent per turn and
//     the server replays stored history into the model prompt.
//   - Local history: the full conversation is kept client-side and sent
//     with every turn. A turn that fails is rolled back so a retry does
//     not duplicate the user message.
//
// # Outputs
//
// SendMessage returns a StreamResult with the assistant text, every
// received frame, and the chain verification outcome.
//
// # Examples
//
//	service := NewStreamingChatService(StreamingChatServiceConfig{
//	    BaseURL: getSupportBaseURL(),
//	})
//	defer service.Close()
//
//	result, err := service.SendMessage(ctx, "The agent will not start")
//	if err != nil {
//	    return err
//	}
//	fmt.Println(result.Answer)
//
// # Limitations
//
//   - One in-flight SendMessage per service; calls serialize on an
//     internal mutex only for session state, not for rendering
//
// # Assumptions
//
//   - The server emits hash-chained frames in the documented order
type StreamingChatService interface {
	// SendMessage sends one user message and streams the response to the
	// configured writer. Returns the aggregated result for the turn.
	SendMessage(ctx context.Context, message string) (*ux.StreamResult, error)

	// GetSessionID returns the server-assigned session id, or the empty
	// string before the first completed turn.
	GetSessionID() string

	// Close releases resources held by the service.
	Close() error
}

// StreamingChatServiceConfig configures a streaming chat service.
type StreamingChatServiceConfig struct {
	// BaseURL is the support server address. Defaults to the standard
	// local address when empty.
	BaseURL string

	// AuthToken is the bearer token sent on every request. Optional;
	// anonymous requests share the per-IP rate limit bucket.
	AuthToken string

	// SessionID resumes an existing conversation when set.
	SessionID string

	// Provider selects the LLM provider (google or openai). Empty lets
	// the server choose.
	Provider string

	// Model selects a specific model for the provider. Optional.
	Model string

	// ServerMemory keeps conversation history on the server. When false
	// the full history is kept client-side and sent each turn.
	ServerMemory bool

	// AttachedLogText is sent with the first message of the session so
	// the server's log analysis tools can use it.
	AttachedLogText string

	// Writer receives rendered stream output. Defaults to os.Stdout.
	Writer io.Writer

	// Personality controls rendering style. Defaults to the process-wide
	// personality.
	Personality ux.PersonalityLevel

	// Timeout bounds one streaming turn. Defaults to DefaultStreamTimeout.
	Timeout time.Duration
}

// streamingChatService implements StreamingChatService against the
// support server's SSE endpoint.
type streamingChatService struct {
	client      HTTPClient
	reader      ux.FrameReader
	verifier    ux.ChainVerifier
	writer      io.Writer
	personality ux.PersonalityLevel

	baseURL      string
	authToken    string
	provider     string
	model        string
	serverMemory bool
	attachedLog  string

	mu        sync.Mutex
	sessionID string
	history   []datatypes.ChatMessage
	logSent   bool
}

// NewStreamingChatService creates a service talking to a live support
// server.
func NewStreamingChatService(config StreamingChatServiceConfig) StreamingChatService {
	return NewStreamingChatServiceWithClient(newDefaultHTTPClient(config.Timeout), config)
}

// NewStreamingChatServiceWithClient creates a service with a custom HTTP
// client. Used by tests to inject mock transports.
func NewStreamingChatServiceWithClient(client HTTPClient, config StreamingChatServiceConfig) StreamingChatService {
	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = getSupportBaseURL()
	}
	writer := config.Writer
	if writer == nil {
		writer = os.Stdout
	}
	personality := config.Personality
	if personality == "" {
		personality = ux.GetPersonality().Level
	}

	return &streamingChatService{
		client:       client,
		reader:       ux.NewFrameReader(ux.NewFrameParser()),
		verifier:     ux.NewChainVerifier(),
		writer:       writer,
		personality:  personality,
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		authToken:    config.AuthToken,
		provider:     config.Provider,
		model:        config.Model,
		serverMemory: config.ServerMemory,
		attachedLog:  config.AttachedLogText,
		sessionID:    config.SessionID,
	}
}

// =============================================================================
// StreamingChatService Implementation
// =============================================================================

// SendMessage sends one user message and streams the response.
//
// # Description
//
// Builds the request for the configured memory mode, POSTs it to the
// streaming endpoint, renders frames as they arrive, then verifies the
// response's hash chain. On any failure the turn is rolled back: local
// history drops the pending user message and a pending log attachment
// is re-armed for the next turn.
//
// # Inputs
//
//   - ctx: Cancels the stream mid-flight
//   - message: User message text, must be non-empty
//
// # Outputs
//
//   - *ux.StreamResult: Aggregated turn result with Frames and
//     Verification populated
//   - error: Transport failures, non-200 responses, and server-reported
//     stream errors
//
// # Limitations
//
//   - A stream error after partial output still discards the turn from
//     local history, so the next send repeats from a clean state
func (s *streamingChatService) SendMessage(ctx context.Context, message string) (*ux.StreamResult, error) {
	if strings.TrimSpace(message) == "" {
		return nil, errors.New("message must not be empty")
	}

	requestID := uuid.New().String()
	slog.Debug("Sending chat message",
		"request_id", requestID,
		"message_chars", len(message),
		"server_memory", s.serverMemory)

	payload, rollback, err := s.buildRequest(message)
	if err != nil {
		return nil, err
	}

	resp, err := s.postStream(ctx, payload)
	if err != nil {
		rollback()
		return nil, fmt.Errorf("sending chat request: %w", err)
	}
	defer resp.Body.Close()

	if err := s.validateResponse(resp); err != nil {
		rollback()
		return nil, err
	}

	result, err := s.processStream(ctx, resp.Body, requestID)
	if err != nil {
		rollback()
		return nil, err
	}
	if err := validateResult(result); err != nil {
		rollback()
		return nil, err
	}

	s.recordAssistantReply(result.Answer)
	s.updateSessionID(result.SessionID)
	return result, nil
}

// buildRequest assembles the JSON payload for one turn and returns a
// rollback that undoes the turn's session-state changes.
//
// In local-history mode the user message is appended before the request
// is sent; rollback pops it so a failed turn can be retried without
// duplicating it. A log attachment is sent once, on the first turn that
// reaches the server.
func (s *streamingChatService) buildRequest(message string) ([]byte, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	userMsg := datatypes.ChatMessage{
		Role:    "user",
		Content: datatypes.FlexContent(message),
	}

	var messages []datatypes.ChatMessage
	if s.serverMemory {
		messages = []datatypes.ChatMessage{userMsg}
	} else {
		s.history = append(s.history, userMsg)
		messages = make([]datatypes.ChatMessage, len(s.history))
		copy(messages, s.history)
	}

	data := datatypes.ChatRequestData{
		ModelProvider:   s.provider,
		Model:           s.model,
		SessionID:       s.sessionID,
		UseServerMemory: s.serverMemory,
	}
	attachLog := s.attachedLog != "" && !s.logSent
	if attachLog {
		data.AttachedLogText = s.attachedLog
		s.logSent = true
	}

	payload, err := json.Marshal(datatypes.StreamChatRequest{
		Messages: messages,
		Data:     data,
	})
	if err != nil {
		if attachLog {
			s.logSent = false
		}
		if !s.serverMemory {
			s.removeLastMessageLocked()
		}
		return nil, nil, fmt.Errorf("encoding chat request: %w", err)
	}

	rollback := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if attachLog {
			s.logSent = false
		}
		if !s.serverMemory {
			s.removeLastMessageLocked()
		}
	}
	return payload, rollback, nil
}

// removeLastMessageLocked pops the most recent history entry. Caller
// must hold s.mu.
func (s *streamingChatService) removeLastMessageLocked() {
	if len(s.history) > 0 {
		s.history = s.history[:len(s.history)-1]
	}
}

// postStream POSTs the payload to the streaming chat endpoint.
func (s *streamingChatService) postStream(ctx context.Context, payload []byte) (*http.Response, error) {
	url := s.baseURL + "/v1/support/chat/stream"
	headers := map[string]string{"Accept": "text/event-stream"}
	if s.authToken != "" {
		headers["Authorization"] = "Bearer " + s.authToken
	}
	return s.client.PostWithHeaders(ctx, url, "application/json", bytes.NewReader(payload), headers)
}

// validateResponse turns a non-200 response into an error, preferring
// the server's structured error message when the body parses.
func (s *streamingChatService) validateResponse(resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	var errResp datatypes.ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
		if errResp.RetryAfter != nil {
			return fmt.Errorf("server error (%d): %s (retry after %ds)",
				resp.StatusCode, errResp.Error, *errResp.RetryAfter)
		}
		return fmt.Errorf("server error (%d): %s", resp.StatusCode, errResp.Error)
	}
	return fmt.Errorf("server error (%d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
}

// processStream reads SSE frames from body, rendering each as it
// arrives, and returns the aggregated result with the hash chain
// verified.
func (s *streamingChatService) processStream(ctx context.Context, body io.Reader, requestID string) (*ux.StreamResult, error) {
	renderer := ux.NewTerminalFrameRenderer(s.writer, s.personality)
	defer renderer.Finalize()

	frames := make([]datatypes.StreamFrame, 0, 32)
	err := s.reader.Read(ctx, body, func(frame datatypes.StreamFrame) error {
		frames = append(frames, frame)
		renderFrame(ctx, renderer, frame)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reading stream: %w", err)
	}

	renderer.Finalize()
	result := renderer.Result()
	result.RequestID = requestID
	result.Frames = frames
	result.Verification = s.verifier.Verify(frames)
	return result, nil
}

// renderFrame dispatches one frame to the matching renderer method.
// Unknown frame types are skipped so newer servers stay compatible.
func renderFrame(ctx context.Context, renderer ux.FrameRenderer, frame datatypes.StreamFrame) {
	switch frame.Type {
	case datatypes.FrameStart:
		renderer.OnStart(ctx, frame.SessionID)
	case datatypes.FrameTextDelta:
		renderer.OnDelta(ctx, frame.Delta)
	case datatypes.FrameTextEnd:
		renderer.OnTextEnd(ctx)
	case datatypes.FrameToolCall:
		if frame.ToolCall != nil {
			renderer.OnToolCall(ctx, *frame.ToolCall)
		}
	case datatypes.FrameToolResult:
		if frame.ToolResult != nil {
			renderer.OnToolResult(ctx, *frame.ToolResult)
		}
	case datatypes.FrameFollowups:
		renderer.OnFollowups(ctx, frame.Followups)
	case datatypes.FrameThinking:
		renderer.OnThinking(ctx, frame.Thinking)
	case datatypes.FrameKBSearch:
		renderer.OnKBSearch(ctx, frame.KBSearch)
	case datatypes.FrameLogAnalysis:
		renderer.OnLogAnalysis(ctx, frame.LogAnalysis)
	case datatypes.FrameReasoning:
		renderer.OnReasoning(ctx, frame.Reasoning)
	case datatypes.FrameTroubleshooting:
		renderer.OnTroubleshooting(ctx, frame.Troubleshooting)
	case datatypes.FrameError:
		renderer.OnError(ctx, frame.Error)
	case datatypes.FrameDone:
		renderer.OnDone(ctx, frame.SessionID)
	}
}

// validateResult rejects turns the server reported as failed or that
// produced no assistant text.
func validateResult(result *ux.StreamResult) error {
	if result.HasError() {
		return fmt.Errorf("stream error: %s", result.Error)
	}
	if result.Answer == "" {
		return errors.New("empty response from server")
	}
	return nil
}

// recordAssistantReply appends the assistant's answer to local history.
// No-op in server-memory mode.
func (s *streamingChatService) recordAssistantReply(answer string) {
	if s.serverMemory || answer == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, datatypes.ChatMessage{
		Role:    "assistant",
		Content: datatypes.FlexContent(answer),
	})
}

// updateSessionID adopts the server-assigned session id.
func (s *streamingChatService) updateSessionID(newID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if newID != "" && newID != s.sessionID {
		slog.Info("Chat session established", "session_id", newID)
		s.sessionID = newID
	}
}

// GetSessionID returns the current session id.
func (s *streamingChatService) GetSessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// Close releases resources. The underlying HTTP client needs no
// explicit cleanup.
func (s *streamingChatService) Close() error {
	return nil
}

// Compile-time interface checks.
var (
	_ StreamingChatService = (*streamingChatService)(nil)
	_ HTTPClient           = (*defaultHTTPClient)(nil)
)
