// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/AleutianAI/AleutianSupport/pkg/ux"
	"github.com/AleutianAI/AleutianSupport/services/support/datatypes"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

// stampFrame assigns identity fields and computes the content hash the
// same way the server's transport writer does, then advances the chain.
func stampFrame(t *testing.T, frame datatypes.StreamFrame, id string, prev *string) datatypes.StreamFrame {
	t.Helper()

	frame.ID = id
	frame.CreatedAt = 1700000000000
	frame.PrevHash = *prev
	frame.Hash = ""

	payload, err := json.Marshal(frame)
	if err != nil {
		t.Fatalf("marshaling frame for stamping: %v", err)
	}
	sum := sha256.Sum256(payload)
	frame.Hash = hex.EncodeToString(sum[:])
	*prev = frame.Hash
	return frame
}

// buildTurnFrames builds a stamped start/deltas/done chain.
func buildTurnFrames(t *testing.T, sessionID string, deltas ...string) []datatypes.StreamFrame {
	t.Helper()

	prev := ""
	frames := []datatypes.StreamFrame{
		stampFrame(t, datatypes.StreamFrame{Type: datatypes.FrameStart, SessionID: sessionID}, "f-0", &prev),
	}
	for i, delta := range deltas {
		frames = append(frames, stampFrame(t,
			datatypes.StreamFrame{Type: datatypes.FrameTextDelta, Delta: delta},
			fmt.Sprintf("f-%d", i+1), &prev))
	}
	frames = append(frames, stampFrame(t,
		datatypes.StreamFrame{Type: datatypes.FrameDone, SessionID: sessionID},
		fmt.Sprintf("f-%d", len(deltas)+1), &prev))
	return frames
}

// stubStreamServer fakes the support server's streaming chat endpoint.
// It records every decoded request and either streams the configured
// frames or fails with the configured status.
type stubStreamServer struct {
	t *testing.T

	mu       sync.Mutex
	frames   []datatypes.StreamFrame
	status   int
	errBody  string
	requests []datatypes.StreamChatRequest
	headers  []http.Header
}

func (s *stubStreamServer) setFailure(status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
	s.errBody = body
}

func (s *stubStreamServer) requestCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func (s *stubStreamServer) request(i int) datatypes.StreamChatRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[i]
}

func (s *stubStreamServer) header(i int) http.Header {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.headers[i]
}

func (s *stubStreamServer) handler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost || r.URL.Path != "/v1/support/chat/stream" {
		s.t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
		return
	}

	var req datatypes.StreamChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.t.Errorf("decoding request body: %v", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.headers = append(s.headers, r.Header.Clone())
	status, errBody, frames := s.status, s.errBody, s.frames
	s.mu.Unlock()

	if status != 0 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		fmt.Fprint(w, errBody)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)

	fmt.Fprint(w, ": keepalive\n\n")
	for _, frame := range frames {
		data, err := json.Marshal(frame)
		if err != nil {
			s.t.Errorf("marshaling frame: %v", err)
			return
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		if flusher != nil {
			flusher.Flush()
		}
	}
}

// newStubServer starts an httptest server streaming the given frames.
func newStubServer(t *testing.T, frames []datatypes.StreamFrame) (*stubStreamServer, *httptest.Server) {
	t.Helper()

	stub := &stubStreamServer{t: t, frames: frames}
	server := httptest.NewServer(http.HandlerFunc(stub.handler))
	t.Cleanup(server.Close)
	return stub, server
}

// newTestService builds a service rendering to a discard buffer in
// machine mode.
func newTestService(baseURL string, config StreamingChatServiceConfig) StreamingChatService {
	config.BaseURL = baseURL
	if config.Writer == nil {
		config.Writer = &bytes.Buffer{}
	}
	config.Personality = ux.PersonalityMachine
	return NewStreamingChatService(config)
}

// =============================================================================
// SEND MESSAGE TESTS
// =============================================================================

func TestSendMessage_StreamsAndVerifies(t *testing.T) {
	frames := buildTurnFrames(t, "sess-1", "Restart the ", "agent.")
	stub, server := newStubServer(t, frames)

	out := &bytes.Buffer{}
	service := newTestService(server.URL, StreamingChatServiceConfig{
		ServerMemory: true,
		Writer:       out,
	})

	result, err := service.SendMessage(context.Background(), "hello")
	if err != nil {
		t.Fatalf("SendMessage returned error: %v", err)
	}

	if result.Answer != "Restart the agent." {
		t.Errorf("Answer = %q, want %q", result.Answer, "Restart the agent.")
	}
	if result.SessionID != "sess-1" {
		t.Errorf("SessionID = %q, want %q", result.SessionID, "sess-1")
	}
	if result.RequestID == "" {
		t.Error("RequestID should be set")
	}
	if len(result.Frames) != 4 {
		t.Errorf("captured %d frames, want 4", len(result.Frames))
	}
	if result.TotalFrames != 4 {
		t.Errorf("TotalFrames = %d, want 4", result.TotalFrames)
	}
	if result.DeltaCount != 2 {
		t.Errorf("DeltaCount = %d, want 2", result.DeltaCount)
	}
	if result.Verification == nil || !result.Verification.Valid {
		t.Fatalf("expected valid chain verification, got %+v", result.Verification)
	}
	if result.Verification.ChainLength != 4 {
		t.Errorf("ChainLength = %d, want 4", result.Verification.ChainLength)
	}

	if got := service.GetSessionID(); got != "sess-1" {
		t.Errorf("GetSessionID = %q, want %q", got, "sess-1")
	}
	if !strings.Contains(out.String(), "ANSWER: Restart the agent.") {
		t.Errorf("machine output missing ANSWER line: %q", out.String())
	}

	if stub.requestCount() != 1 {
		t.Fatalf("server saw %d requests, want 1", stub.requestCount())
	}
	req := stub.request(0)
	if len(req.Messages) != 1 {
		t.Fatalf("request carried %d messages, want 1", len(req.Messages))
	}
	if req.Messages[0].Role != "user" || req.Messages[0].Content.String() != "hello" {
		t.Errorf("unexpected message: %+v", req.Messages[0])
	}
	if !req.Data.UseServerMemory {
		t.Error("UseServerMemory should be true")
	}
	if req.Data.SessionID != "" {
		t.Errorf("first turn SessionID = %q, want empty", req.Data.SessionID)
	}
}

func TestSendMessage_SetsHeaders(t *testing.T) {
	stub, server := newStubServer(t, buildTurnFrames(t, "sess-1", "ok"))

	service := newTestService(server.URL, StreamingChatServiceConfig{
		AuthToken:    "tok-1",
		ServerMemory: true,
	})

	if _, err := service.SendMessage(context.Background(), "hello"); err != nil {
		t.Fatalf("SendMessage returned error: %v", err)
	}

	header := stub.header(0)
	if got := header.Get("Authorization"); got != "Bearer tok-1" {
		t.Errorf("Authorization = %q, want %q", got, "Bearer tok-1")
	}
	if got := header.Get("Content-Type"); got != "application/json" {
		t.Errorf("Content-Type = %q, want %q", got, "application/json")
	}
	if got := header.Get("Accept"); got != "text/event-stream" {
		t.Errorf("Accept = %q, want %q", got, "text/event-stream")
	}
}

func TestSendMessage_TrailingSlashBaseURL(t *testing.T) {
	_, server := newStubServer(t, buildTurnFrames(t, "sess-1", "ok"))

	service := newTestService(server.URL+"/", StreamingChatServiceConfig{ServerMemory: true})
	if _, err := service.SendMessage(context.Background(), "hello"); err != nil {
		t.Fatalf("SendMessage returned error: %v", err)
	}
}

func TestSendMessage_SecondTurnCarriesSessionID(t *testing.T) {
	stub, server := newStubServer(t, buildTurnFrames(t, "sess-1", "ok"))

	service := newTestService(server.URL, StreamingChatServiceConfig{ServerMemory: true})

	if _, err := service.SendMessage(context.Background(), "first"); err != nil {
		t.Fatalf("first SendMessage: %v", err)
	}
	if _, err := service.SendMessage(context.Background(), "second"); err != nil {
		t.Fatalf("second SendMessage: %v", err)
	}

	second := stub.request(1)
	if second.Data.SessionID != "sess-1" {
		t.Errorf("second turn SessionID = %q, want %q", second.Data.SessionID, "sess-1")
	}
	if len(second.Messages) != 1 {
		t.Errorf("server-memory turn carried %d messages, want 1", len(second.Messages))
	}
}

func TestSendMessage_LocalHistoryGrows(t *testing.T) {
	stub, server := newStubServer(t, buildTurnFrames(t, "sess-1", "Restart the agent."))

	service := newTestService(server.URL, StreamingChatServiceConfig{ServerMemory: false})

	if _, err := service.SendMessage(context.Background(), "first"); err != nil {
		t.Fatalf("first SendMessage: %v", err)
	}
	if _, err := service.SendMessage(context.Background(), "second"); err != nil {
		t.Fatalf("second SendMessage: %v", err)
	}

	second := stub.request(1)
	if len(second.Messages) != 3 {
		t.Fatalf("second turn carried %d messages, want 3", len(second.Messages))
	}
	wantRoles := []string{"user", "assistant", "user"}
	wantContent := []string{"first", "Restart the agent.", "second"}
	for i, msg := range second.Messages {
		if msg.Role != wantRoles[i] {
			t.Errorf("message %d role = %q, want %q", i, msg.Role, wantRoles[i])
		}
		if msg.Content.String() != wantContent[i] {
			t.Errorf("message %d content = %q, want %q", i, msg.Content.String(), wantContent[i])
		}
	}
	if second.Data.UseServerMemory {
		t.Error("UseServerMemory should be false in local-history mode")
	}
}

func TestSendMessage_RollsBackHistoryOnServerError(t *testing.T) {
	stub, server := newStubServer(t, buildTurnFrames(t, "sess-1", "ok"))
	stub.setFailure(http.StatusInternalServerError, `{"error":"downstream exploded"}`)

	service := newTestService(server.URL, StreamingChatServiceConfig{ServerMemory: false})

	_, err := service.SendMessage(context.Background(), "first")
	if err == nil {
		t.Fatal("expected error from failing server")
	}
	if !strings.Contains(err.Error(), "server error (500): downstream exploded") {
		t.Errorf("unexpected error: %v", err)
	}

	stub.setFailure(0, "")
	if _, err := service.SendMessage(context.Background(), "second"); err != nil {
		t.Fatalf("second SendMessage: %v", err)
	}

	// The failed turn must not linger in history.
	second := stub.request(1)
	if len(second.Messages) != 1 {
		t.Fatalf("second turn carried %d messages, want 1", len(second.Messages))
	}
	if second.Messages[0].Content.String() != "second" {
		t.Errorf("message content = %q, want %q", second.Messages[0].Content.String(), "second")
	}
}

func TestSendMessage_RateLimitIncludesRetryAfter(t *testing.T) {
	stub, server := newStubServer(t, nil)
	stub.setFailure(http.StatusTooManyRequests, `{"error":"rate limit exceeded","retry_after":30}`)

	service := newTestService(server.URL, StreamingChatServiceConfig{ServerMemory: true})

	_, err := service.SendMessage(context.Background(), "hello")
	if err == nil {
		t.Fatal("expected rate limit error")
	}
	want := "server error (429): rate limit exceeded (retry after 30s)"
	if !strings.Contains(err.Error(), want) {
		t.Errorf("error = %v, want containing %q", err, want)
	}
}

func TestSendMessage_PlainBodyServerError(t *testing.T) {
	stub, server := newStubServer(t, nil)
	stub.setFailure(http.StatusBadGateway, "upstream timeout")

	service := newTestService(server.URL, StreamingChatServiceConfig{ServerMemory: true})

	_, err := service.SendMessage(context.Background(), "hello")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "server error (502): upstream timeout") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestSendMessage_StreamErrorFrame(t *testing.T) {
	prev := ""
	frames := []datatypes.StreamFrame{
		stampFrame(t, datatypes.StreamFrame{Type: datatypes.FrameStart, SessionID: "sess-9"}, "f-0", &prev),
		stampFrame(t, datatypes.StreamFrame{Type: datatypes.FrameError, Error: "llm unavailable"}, "f-1", &prev),
	}
	_, server := newStubServer(t, frames)

	service := newTestService(server.URL, StreamingChatServiceConfig{ServerMemory: true})

	_, err := service.SendMessage(context.Background(), "hello")
	if err == nil {
		t.Fatal("expected stream error")
	}
	if !strings.Contains(err.Error(), "stream error: llm unavailable") {
		t.Errorf("unexpected error: %v", err)
	}
	if got := service.GetSessionID(); got != "" {
		t.Errorf("failed turn should not adopt a session id, got %q", got)
	}
}

func TestSendMessage_TamperedChainReported(t *testing.T) {
	frames := buildTurnFrames(t, "sess-1", "Restart the ", "agent.")
	frames[1].Delta = "Reinstall the "
	_, server := newStubServer(t, frames)

	service := newTestService(server.URL, StreamingChatServiceConfig{ServerMemory: true})

	result, err := service.SendMessage(context.Background(), "hello")
	if err != nil {
		t.Fatalf("tampering should be reported, not fatal: %v", err)
	}
	if result.Verification == nil {
		t.Fatal("Verification should be set")
	}
	if result.Verification.Valid {
		t.Error("tampered chain should fail verification")
	}
	if result.Verification.InvalidFrameIndex != 1 {
		t.Errorf("InvalidFrameIndex = %d, want 1", result.Verification.InvalidFrameIndex)
	}
}

func TestSendMessage_EmptyMessageRejected(t *testing.T) {
	stub, server := newStubServer(t, nil)

	service := newTestService(server.URL, StreamingChatServiceConfig{ServerMemory: true})

	if _, err := service.SendMessage(context.Background(), "   "); err == nil {
		t.Fatal("expected error for blank message")
	}
	if stub.requestCount() != 0 {
		t.Errorf("blank message should not reach the server, saw %d requests", stub.requestCount())
	}
}

func TestSendMessage_TransportErrorWrapped(t *testing.T) {
	_, server := newStubServer(t, nil)
	url := server.URL
	server.Close()

	service := newTestService(url, StreamingChatServiceConfig{ServerMemory: true})

	_, err := service.SendMessage(context.Background(), "hello")
	if err == nil {
		t.Fatal("expected transport error")
	}
	if !strings.Contains(err.Error(), "sending chat request") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestSendMessage_AttachedLogSentOnce(t *testing.T) {
	stub, server := newStubServer(t, buildTurnFrames(t, "sess-1", "ok"))

	service := newTestService(server.URL, StreamingChatServiceConfig{
		ServerMemory:    true,
		AttachedLogText: "ERROR: tls handshake failure",
	})

	if _, err := service.SendMessage(context.Background(), "first"); err != nil {
		t.Fatalf("first SendMessage: %v", err)
	}
	if _, err := service.SendMessage(context.Background(), "second"); err != nil {
		t.Fatalf("second SendMessage: %v", err)
	}

	if got := stub.request(0).Data.AttachedLogText; got != "ERROR: tls handshake failure" {
		t.Errorf("first turn log = %q, want the attached text", got)
	}
	if got := stub.request(1).Data.AttachedLogText; got != "" {
		t.Errorf("second turn log = %q, want empty", got)
	}
}

func TestSendMessage_LogReArmedAfterFailure(t *testing.T) {
	stub, server := newStubServer(t, buildTurnFrames(t, "sess-1", "ok"))
	stub.setFailure(http.StatusServiceUnavailable, `{"error":"busy"}`)

	service := newTestService(server.URL, StreamingChatServiceConfig{
		ServerMemory:    true,
		AttachedLogText: "ERROR: disk full",
	})

	if _, err := service.SendMessage(context.Background(), "first"); err == nil {
		t.Fatal("expected error from failing server")
	}

	stub.setFailure(0, "")
	if _, err := service.SendMessage(context.Background(), "second"); err != nil {
		t.Fatalf("second SendMessage: %v", err)
	}

	// The attachment was never delivered, so the retry carries it.
	if got := stub.request(1).Data.AttachedLogText; got != "ERROR: disk full" {
		t.Errorf("retry log = %q, want the attached text", got)
	}
}

// =============================================================================
// SESSION STATE TESTS
// =============================================================================

func TestGetSessionID_StartsWithConfiguredValue(t *testing.T) {
	service := newTestService("http://localhost:1", StreamingChatServiceConfig{
		SessionID: "sess-resume",
	})
	if got := service.GetSessionID(); got != "sess-resume" {
		t.Errorf("GetSessionID = %q, want %q", got, "sess-resume")
	}
}

func TestResumedSessionSentOnFirstTurn(t *testing.T) {
	stub, server := newStubServer(t, buildTurnFrames(t, "sess-resume", "ok"))

	service := newTestService(server.URL, StreamingChatServiceConfig{
		ServerMemory: true,
		SessionID:    "sess-resume",
	})

	if _, err := service.SendMessage(context.Background(), "hello"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if got := stub.request(0).Data.SessionID; got != "sess-resume" {
		t.Errorf("SessionID = %q, want %q", got, "sess-resume")
	}
}

func TestClose_ReturnsNil(t *testing.T) {
	service := newTestService("http://localhost:1", StreamingChatServiceConfig{})
	if err := service.Close(); err != nil {
		t.Errorf("Close returned %v", err)
	}
}
