// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
)

// =============================================================================
// FlexContent Tests
// =============================================================================

func TestFlexContent_Unmarshal_String(t *testing.T) {
	var c FlexContent
	if err := json.Unmarshal([]byte(`"hello world"`), &c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.String() != "hello world" {
		t.Errorf("expected %q, got %q", "hello world", c.String())
	}
}

func TestFlexContent_Unmarshal_Object(t *testing.T) {
	var c FlexContent
	if err := json.Unmarshal([]byte(`{"a": 1}`), &c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.String() != `{"a":1}` {
		t.Errorf("expected compact JSON text, got %q", c.String())
	}
}

func TestFlexContent_Unmarshal_Number(t *testing.T) {
	var c FlexContent
	if err := json.Unmarshal([]byte(`42`), &c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.String() != "42" {
		t.Errorf("expected %q, got %q", "42", c.String())
	}
}

func TestFlexContent_Unmarshal_Invalid(t *testing.T) {
	var c FlexContent
	if err := json.Unmarshal([]byte(`{broken`), &c); err == nil {
		t.Error("expected error for invalid JSON, got nil")
	}
}

func TestFlexContent_Marshal_AlwaysString(t *testing.T) {
	c := FlexContent(`{"a":1}`)
	out, err := json.Marshal(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(out) != `"{\"a\":1}"` {
		t.Errorf("expected JSON string, got %s", out)
	}
}

func TestFlexContent_Chars_CountsRunes(t *testing.T) {
	c := FlexContent("héllo")
	if c.Chars() != 5 {
		t.Errorf("expected 5 characters, got %d", c.Chars())
	}
}

func TestFlexContent_PlainText_Plain(t *testing.T) {
	c := FlexContent("just text")
	if c.PlainText() != "just text" {
		t.Errorf("expected passthrough, got %q", c.PlainText())
	}
}

func TestFlexContent_PlainText_StructuredParts(t *testing.T) {
	var c FlexContent
	raw := `[{"type":"text","text":"first part"},{"type":"text","text":"second part"}]`
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := c.PlainText()
	if got != "first part\nsecond part" {
		t.Errorf("expected joined parts, got %q", got)
	}
}

func TestFlexContent_PlainText_ArrayWithoutText(t *testing.T) {
	c := FlexContent(`[1,2,3]`)
	if c.PlainText() != `[1,2,3]` {
		t.Errorf("expected raw content back, got %q", c.PlainText())
	}
}

// =============================================================================
// StreamChatRequest Validation Tests
// =============================================================================

func validRequest() *StreamChatRequest {
	return &StreamChatRequest{
		Messages: []ChatMessage{
			{Role: "user", Content: "My login keeps failing"},
		},
		Data: ChatRequestData{SessionID: "42"},
	}
}

func TestStreamChatRequest_Validate_Success(t *testing.T) {
	if err := validRequest().Validate(); err != nil {
		t.Errorf("expected valid request, got error: %v", err)
	}
}

func TestStreamChatRequest_Validate_EmptyMessages(t *testing.T) {
	req := &StreamChatRequest{}
	err := req.Validate()
	if err == nil {
		t.Fatal("expected error for empty messages, got nil")
	}
	if !IsValidationError(err) {
		t.Errorf("expected ValidationError, got %T", err)
	}
}

func TestStreamChatRequest_Validate_TooManyMessages(t *testing.T) {
	req := validRequest()
	for i := 0; i < MaxMessagesPerRequest; i++ {
		req.Messages = append(req.Messages, ChatMessage{Role: "user", Content: "hi"})
	}

	err := req.Validate()
	if err == nil {
		t.Fatal("expected error for too many messages, got nil")
	}

	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	if ve.Limit != MaxMessagesPerRequest {
		t.Errorf("expected limit %d, got %d", MaxMessagesPerRequest, ve.Limit)
	}
	if ve.Observed != MaxMessagesPerRequest+1 {
		t.Errorf("expected observed %d, got %d", MaxMessagesPerRequest+1, ve.Observed)
	}
	if !strings.Contains(err.Error(), fmt.Sprintf("%d", MaxMessagesPerRequest+1)) {
		t.Errorf("expected error to name the observed count, got %q", err.Error())
	}
}

func TestStreamChatRequest_Validate_OversizedContent(t *testing.T) {
	req := validRequest()
	req.Messages = append(req.Messages, ChatMessage{
		Role:    "user",
		Content: FlexContent(strings.Repeat("x", MaxMessageContentChars+1)),
	})

	err := req.Validate()
	if err == nil {
		t.Fatal("expected error for oversized content, got nil")
	}

	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	if ve.Field != "messages[1].content" {
		t.Errorf("expected offending field messages[1].content, got %q", ve.Field)
	}
	if ve.Observed != MaxMessageContentChars+1 {
		t.Errorf("expected observed %d, got %d", MaxMessageContentChars+1, ve.Observed)
	}
}

func TestStreamChatRequest_Validate_OversizedAttachedLog(t *testing.T) {
	req := validRequest()
	req.Data.AttachedLogText = strings.Repeat("l", MaxAttachedLogChars+1)

	err := req.Validate()
	if err == nil {
		t.Fatal("expected error for oversized attached log, got nil")
	}

	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	if ve.Field != "data.attachedLogText" {
		t.Errorf("expected offending field data.attachedLogText, got %q", ve.Field)
	}
	if ve.Limit != MaxAttachedLogChars {
		t.Errorf("expected limit %d, got %d", MaxAttachedLogChars, ve.Limit)
	}
}

func TestStreamChatRequest_Validate_FailsFastOnFirstViolation(t *testing.T) {
	// Both the message count and the attached log are out of bounds; the
	// count check comes first in document order and must win.
	req := validRequest()
	for i := 0; i < MaxMessagesPerRequest; i++ {
		req.Messages = append(req.Messages, ChatMessage{Role: "user", Content: "hi"})
	}
	req.Data.AttachedLogText = strings.Repeat("l", MaxAttachedLogChars+1)

	err := req.Validate()
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	if ve.Field != "messages" {
		t.Errorf("expected first violation (messages) to win, got %q", ve.Field)
	}
}

func TestStreamChatRequest_Validate_InvalidRole(t *testing.T) {
	req := validRequest()
	req.Messages[0].Role = "robot"

	if err := req.Validate(); err == nil {
		t.Error("expected error for invalid role, got nil")
	}
}

func TestStreamChatRequest_Validate_InvalidProvider(t *testing.T) {
	req := validRequest()
	req.Data.ModelProvider = "anthropic"

	if err := req.Validate(); err == nil {
		t.Error("expected error for unsupported provider, got nil")
	}
}

func TestStreamChatRequest_Validate_KnownProviders(t *testing.T) {
	for _, provider := range []string{ProviderGoogle, ProviderOpenAI, ""} {
		req := validRequest()
		req.Data.ModelProvider = provider
		if err := req.Validate(); err != nil {
			t.Errorf("provider %q: expected valid, got %v", provider, err)
		}
	}
}

// =============================================================================
// Defaults and Helpers
// =============================================================================

func TestStreamChatRequest_EnsureDefaults(t *testing.T) {
	req := validRequest()
	req.Data.ModelProvider = "  Google "
	req.Data.Model = " gemini-2.5-flash "
	req.Data.SessionID = " 42 "

	req.EnsureDefaults()

	if req.Data.ModelProvider != "google" {
		t.Errorf("expected normalized provider, got %q", req.Data.ModelProvider)
	}
	if req.Data.Model != "gemini-2.5-flash" {
		t.Errorf("expected trimmed model, got %q", req.Data.Model)
	}
	if req.Data.SessionID != "42" {
		t.Errorf("expected trimmed session id, got %q", req.Data.SessionID)
	}
}

func TestStreamChatRequest_LeadingUserText(t *testing.T) {
	req := &StreamChatRequest{
		Messages: []ChatMessage{
			{Role: "user", Content: "older question"},
			{Role: "assistant", Content: "older answer"},
			{Role: "user", Content: "current question"},
		},
	}

	if got := req.LeadingUserText(); got != "current question" {
		t.Errorf("expected latest user text, got %q", got)
	}
}

func TestStreamChatRequest_LeadingUserText_StructuredContent(t *testing.T) {
	var c FlexContent
	raw := `[{"type":"text","text":"structured question"}]`
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	req := &StreamChatRequest{
		Messages: []ChatMessage{{Role: "user", Content: c}},
	}

	if got := req.LeadingUserText(); got != "structured question" {
		t.Errorf("expected extracted text, got %q", got)
	}
}

func TestStreamChatRequest_LeadingUserText_NoUserMessage(t *testing.T) {
	req := &StreamChatRequest{
		Messages: []ChatMessage{{Role: "system", Content: "setup"}},
	}

	if got := req.LeadingUserText(); got != "" {
		t.Errorf("expected empty string, got %q", got)
	}
}

func TestStreamChatRequest_HasAttachedLog(t *testing.T) {
	req := validRequest()
	if req.HasAttachedLog() {
		t.Error("expected no attached log")
	}

	req.Data.AttachedLogText = "   "
	if req.HasAttachedLog() {
		t.Error("expected whitespace-only log to count as absent")
	}

	req.Data.AttachedLogText = "ERROR: connection refused"
	if !req.HasAttachedLog() {
		t.Error("expected attached log to be detected")
	}
}

// =============================================================================
// ValidationError Tests
// =============================================================================

func TestValidationError_Error(t *testing.T) {
	err := NewValidationError("messages", "count 51 exceeds the limit of 50", 50, 51)
	if err.Error() != "messages: count 51 exceeds the limit of 50" {
		t.Errorf("unexpected error text: %q", err.Error())
	}
}

func TestNewBodyTooLargeError(t *testing.T) {
	err := NewBodyTooLargeError(MaxRequestBodyBytes + 100)
	if err.Limit != MaxRequestBodyBytes {
		t.Errorf("expected limit %d, got %d", MaxRequestBodyBytes, err.Limit)
	}
	if !strings.Contains(err.Error(), fmt.Sprintf("%d", MaxRequestBodyBytes+100)) {
		t.Errorf("expected error to name the observed size, got %q", err.Error())
	}
}

func TestIsValidationError(t *testing.T) {
	ve := NewValidationError("f", "bad", 0, 0)
	if !IsValidationError(ve) {
		t.Error("expected direct ValidationError to match")
	}
	if !IsValidationError(fmt.Errorf("wrapped: %w", ve)) {
		t.Error("expected wrapped ValidationError to match")
	}
	if IsValidationError(errors.New("plain")) {
		t.Error("expected plain error not to match")
	}
	if IsValidationError(nil) {
		t.Error("expected nil not to match")
	}
}

// =============================================================================
// Wire Format Tests
// =============================================================================

func TestStreamChatRequest_Unmarshal_WireFormat(t *testing.T) {
	raw := `{
		"messages": [{"role": "user", "content": "my app crashed"}],
		"data": {
			"attachedLogText": "ERROR: oom",
			"modelProvider": "google",
			"model": "gemini-2.5-flash",
			"sessionId": "42",
			"useServerMemory": true
		}
	}`

	var req StreamChatRequest
	if err := json.Unmarshal([]byte(raw), &req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(req.Messages) != 1 || req.Messages[0].Content.String() != "my app crashed" {
		t.Errorf("unexpected messages: %+v", req.Messages)
	}
	if req.Data.AttachedLogText != "ERROR: oom" {
		t.Errorf("unexpected attached log: %q", req.Data.AttachedLogText)
	}
	if req.Data.ModelProvider != "google" || req.Data.Model != "gemini-2.5-flash" {
		t.Errorf("unexpected model selection: %+v", req.Data)
	}
	if req.Data.SessionID != "42" || !req.Data.UseServerMemory {
		t.Errorf("unexpected session settings: %+v", req.Data)
	}
}

func TestErrorResponse_Marshal_OmitsRetryAfter(t *testing.T) {
	out, err := json.Marshal(ErrorResponse{Error: "bad request"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(out) != `{"error":"bad request"}` {
		t.Errorf("unexpected envelope: %s", out)
	}

	after := 30
	out, err = json.Marshal(ErrorResponse{Error: "rate limited", RetryAfter: &after})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(out) != `{"error":"rate limited","retry_after":30}` {
		t.Errorf("unexpected envelope: %s", out)
	}
}
