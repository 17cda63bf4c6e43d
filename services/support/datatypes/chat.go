// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides data structures for the support service.
//
// This file contains the streaming chat request types and their validation.
// For stream frame types see frames.go; for tool payloads see tools.go.
package datatypes

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Input Bounds
// =============================================================================

// The handler feeds request content into a third-party model and a set of
// downstream HTTP calls, so unbounded input is an amplification and cost
// risk. Every bound is checked before any outbound call is made.
const (
	// MaxRequestBodyBytes is the maximum serialized size of a chat request.
	MaxRequestBodyBytes = 1 << 20 // 1 MiB

	// MaxMessagesPerRequest is the maximum number of messages in a turn.
	MaxMessagesPerRequest = 50

	// MaxMessageContentChars is the maximum character count of a single
	// message's content. Non-string content is stringified before measuring.
	MaxMessageContentChars = 50_000

	// MaxAttachedLogChars is the maximum character count of an attached
	// log text.
	MaxAttachedLogChars = 500_000
)

// Supported model providers.
const (
	ProviderGoogle = "google"
	ProviderOpenAI = "openai"
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// chatValidate is the validator instance for chat datatypes.
var chatValidate *validator.Validate

func init() {
	chatValidate = validator.New()
}

// =============================================================================
// Flexible Message Content
// =============================================================================

// FlexContent is message content that accepts either a JSON string or any
// other JSON value. Non-string values are stringified at decode time so that
// length bounds and downstream model calls always operate on text.
//
// # Examples
//
//	"content": "plain text"            -> "plain text"
//	"content": {"a": 1}                -> "{\"a\":1}" (compact JSON text)
//	"content": [{"type":"text",...}]   -> compact JSON text of the array
type FlexContent string

// UnmarshalJSON implements json.Unmarshaler.
//
// Strings are taken as-is. Any other JSON value is kept as its compact
// serialized text, matching the "stringify before measuring" contract.
func (c *FlexContent) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*c = FlexContent(s)
		return nil
	}
	compact, err := compactJSON(data)
	if err != nil {
		return err
	}
	*c = FlexContent(compact)
	return nil
}

// MarshalJSON implements json.Marshaler. Content always round-trips as a
// JSON string.
func (c FlexContent) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(c))
}

// String returns the stringified content.
func (c FlexContent) String() string { return string(c) }

// Chars returns the character count of the stringified content.
func (c FlexContent) Chars() int { return utf8.RuneCountInString(string(c)) }

// PlainText extracts human-readable text from the content.
//
// Structured-parts content (an array of {"type":"text","text":...} objects,
// as sent by rich chat UIs) is flattened to the concatenated text parts.
// Everything else is returned unchanged.
func (c FlexContent) PlainText() string {
	s := string(c)
	if !strings.HasPrefix(strings.TrimSpace(s), "[") {
		return s
	}
	var parts []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal([]byte(s), &parts); err != nil {
		return s
	}
	var b strings.Builder
	for _, p := range parts {
		if p.Text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(p.Text)
	}
	if b.Len() == 0 {
		return s
	}
	return b.String()
}

// compactJSON returns the compact serialization of a raw JSON value.
func compactJSON(data []byte) (string, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return "", fmt.Errorf("message content is not valid JSON: %w", err)
	}
	out, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// =============================================================================
// Streaming Chat Request Types
// =============================================================================

// ChatMessage is a single message in the turn's conversation history.
//
// # Fields
//
//   - Role: Required. One of "user", "assistant", "system".
//   - Content: The message content. Non-string JSON is stringified at
//     decode time (see FlexContent). Limited to 50,000 characters.
type ChatMessage struct {
	Role    string      `json:"role" validate:"required,oneof=user assistant system"`
	Content FlexContent `json:"content"`
}

// ChatRequestData carries the optional per-turn settings of a streaming
// chat request.
//
// # Fields
//
//   - AttachedLogText: Optional. Raw log text attached to the turn.
//     Presence switches the model's tool choice to "auto" and injects a
//     log-analysis directive. Limited to 500,000 characters.
//   - ModelProvider: Optional. "google" (default) or "openai".
//   - Model: Optional. Model name; defaulted per provider by the resolver.
//   - SessionID: Optional. Durable chat session to persist the turn into.
//     When empty, nothing is persisted.
//   - UseServerMemory: Optional. When true, prior session history is
//     prefixed to the model input (capped to the most recent messages).
type ChatRequestData struct {
	AttachedLogText string `json:"attachedLogText,omitempty"`
	ModelProvider   string `json:"modelProvider,omitempty" validate:"omitempty,oneof=google openai"`
	Model           string `json:"model,omitempty"`
	SessionID       string `json:"sessionId,omitempty"`
	UseServerMemory bool   `json:"useServerMemory,omitempty"`
}

// StreamChatRequest is the body of POST /v1/support/chat/stream.
//
// # Description
//
// One streaming conversation turn: the prior messages plus optional
// per-turn settings. The request is validated before any outbound call
// and is immutable afterwards.
//
// # Validation
//
// Validate() checks bounds in document order and fails fast on the first
// violation, naming the offending bound and the observed size:
//
//  1. messages: present, 1..50 entries
//  2. messages[i].content: <= 50,000 characters each
//  3. data.attachedLogText: <= 500,000 characters
//  4. field-level tags (role, provider enums)
//
// The 1 MiB serialized-size cap is enforced by the handler before the
// body is decoded.
//
// # Examples
//
//	req := StreamChatRequest{
//	    Messages: []ChatMessage{{Role: "user", Content: "My login fails"}},
//	    Data:     ChatRequestData{SessionID: "42"},
//	}
//	if err := req.Validate(); err != nil { ... }
type StreamChatRequest struct {
	Messages []ChatMessage   `json:"messages" validate:"required,min=1,max=50,dive"`
	Data     ChatRequestData `json:"data"`
}

// Validate checks the request bounds, failing fast on the first violation.
//
// Returns a *ValidationError naming the bound and the observed size, or
// nil when the request is within bounds.
func (r *StreamChatRequest) Validate() error {
	if len(r.Messages) == 0 {
		return NewValidationError("messages", "messages must contain at least one message", 1, 0)
	}
	if len(r.Messages) > MaxMessagesPerRequest {
		return NewValidationError("messages",
			fmt.Sprintf("message count %d exceeds the limit of %d", len(r.Messages), MaxMessagesPerRequest),
			MaxMessagesPerRequest, len(r.Messages))
	}
	for i, m := range r.Messages {
		if chars := m.Content.Chars(); chars > MaxMessageContentChars {
			return NewValidationError(fmt.Sprintf("messages[%d].content", i),
				fmt.Sprintf("message content length %d exceeds the limit of %d characters", chars, MaxMessageContentChars),
				MaxMessageContentChars, chars)
		}
	}
	if chars := utf8.RuneCountInString(r.Data.AttachedLogText); chars > MaxAttachedLogChars {
		return NewValidationError("data.attachedLogText",
			fmt.Sprintf("attached log length %d exceeds the limit of %d characters", chars, MaxAttachedLogChars),
			MaxAttachedLogChars, chars)
	}
	if err := chatValidate.Struct(r); err != nil {
		return NewValidationError("request", err.Error(), 0, 0)
	}
	return nil
}

// EnsureDefaults normalizes optional fields in place.
//
// The provider tag is lowercased and surrounding whitespace is removed from
// the model name and session id. Provider and model defaulting is the
// resolver's job; this only canonicalizes what the client sent.
func (r *StreamChatRequest) EnsureDefaults() {
	r.Data.ModelProvider = strings.ToLower(strings.TrimSpace(r.Data.ModelProvider))
	r.Data.Model = strings.TrimSpace(r.Data.Model)
	r.Data.SessionID = strings.TrimSpace(r.Data.SessionID)
}

// LeadingUserText returns the plain text of the last user message in the
// turn, for persistence as the turn's user-role record. Returns "" when the
// turn has no user message.
func (r *StreamChatRequest) LeadingUserText() string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == "user" {
			return r.Messages[i].Content.PlainText()
		}
	}
	return ""
}

// HasAttachedLog reports whether the turn carries a non-empty attached log.
func (r *StreamChatRequest) HasAttachedLog() bool {
	return strings.TrimSpace(r.Data.AttachedLogText) != ""
}

// =============================================================================
// Error Envelope
// =============================================================================

// ErrorResponse is the non-streaming JSON error envelope.
//
// RetryAfter is only present on 429 responses and carries the suggested
// wait in seconds.
type ErrorResponse struct {
	Error      string `json:"error"`
	RetryAfter *int   `json:"retry_after,omitempty"`
}

// =============================================================================
// Validation Errors
// =============================================================================

// ValidationError reports an input bound violation.
//
// The message names the offending field, the configured bound, and the
// observed size, so callers can correct the input without guessing.
type ValidationError struct {
	// Field is the JSON path of the offending field.
	Field string

	// Limit is the configured bound that was exceeded (0 when the error
	// is not bound-related, e.g. a bad enum value).
	Limit int

	// Observed is the size that was actually seen.
	Observed int

	// Message is the human-readable description.
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NewValidationError creates a ValidationError.
func NewValidationError(field, message string, limit, observed int) *ValidationError {
	return &ValidationError{Field: field, Message: message, Limit: limit, Observed: observed}
}

// NewBodyTooLargeError creates the ValidationError for an oversized
// serialized request body.
func NewBodyTooLargeError(observed int64) *ValidationError {
	return &ValidationError{
		Field:    "body",
		Message:  fmt.Sprintf("request body size %d exceeds the limit of %d bytes", observed, MaxRequestBodyBytes),
		Limit:    MaxRequestBodyBytes,
		Observed: int(observed),
	}
}

// IsValidationError reports whether err is (or wraps) a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
