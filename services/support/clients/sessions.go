// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package clients

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/AleutianSupport/services/support/datatypes"
)

// sessionTracer is the OpenTelemetry tracer for session-store operations.
var sessionTracer = otel.Tracer("aleutian.support.clients.sessions")

// =============================================================================
// SessionClient
// =============================================================================

// SessionClient reads and writes conversation state on the support
// backend's session store.
//
// # Description
//
// The backend owns all durable conversation state. This client covers
// the three operations a streaming turn needs:
//
//   - History: prior messages for server-side memory
//   - CreateMessage: start a durable message (user turn, or the first
//     assistant flush)
//   - AppendMessage: grow an existing assistant message as deltas arrive
//
// Timeout and failure policy (silently skip history, retry appends at
// the next flush crossing) belongs to the callers.
//
// # Thread Safety
//
// Thread-safe.
type SessionClient struct {
	backend *BackendClient
}

// NewSessionClient creates a SessionClient over the shared backend.
func NewSessionClient(backend *BackendClient) *SessionClient {
	return &SessionClient{backend: backend}
}

// sessionEnvelope is the backend's session-with-messages response shape.
type sessionEnvelope struct {
	ID       string           `json:"id"`
	Messages []sessionMessage `json:"messages"`
}

// sessionMessage is one stored message on the wire.
type sessionMessage struct {
	ID      string `json:"id"`
	Role    string `json:"role"`
	Content string `json:"content"`
}

// History fetches the most recent stored messages for a session.
//
// # Description
//
// Retrieves the session with its messages and returns the last
// maxMessages of them, oldest first, converted to chat messages ready to
// prepend to a turn. A maxMessages of zero or less returns everything.
//
// # Inputs
//
//   - ctx: Context for cancellation. Callers apply the history timeout.
//   - sessionID: Session to read. Must be non-empty.
//   - maxMessages: Cap on returned messages, keeping the most recent.
//
// # Outputs
//
//   - []datatypes.ChatMessage: Stored messages in conversation order.
//   - error: Non-nil when the session could not be read. Callers skip
//     history on error rather than failing the turn.
func (c *SessionClient) History(ctx context.Context, sessionID string, maxMessages int) ([]datatypes.ChatMessage, error) {
	ctx, span := sessionTracer.Start(ctx, "SessionClient.History")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", sessionID))

	if sessionID == "" {
		return nil, fmt.Errorf("session id is required")
	}

	path := fmt.Sprintf("/chat-sessions/%s?include_messages=true", url.PathEscape(sessionID))
	var envelope sessionEnvelope
	if err := c.backend.doJSON(ctx, http.MethodGet, path, "", nil, &envelope); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("history fetch failed: %w", err)
	}

	stored := envelope.Messages
	if maxMessages > 0 && len(stored) > maxMessages {
		stored = stored[len(stored)-maxMessages:]
	}

	messages := make([]datatypes.ChatMessage, 0, len(stored))
	for _, m := range stored {
		messages = append(messages, datatypes.ChatMessage{
			Role:    m.Role,
			Content: datatypes.FlexContent(m.Content),
		})
	}

	span.SetAttributes(attribute.Int("session.history_messages", len(messages)))
	return messages, nil
}

// CreateMessage stores a new message on a session and returns its id.
//
// The returned id is what AppendMessage grows later.
func (c *SessionClient) CreateMessage(ctx context.Context, sessionID, role, content string) (string, error) {
	ctx, span := sessionTracer.Start(ctx, "SessionClient.CreateMessage")
	defer span.End()
	span.SetAttributes(
		attribute.String("session.id", sessionID),
		attribute.String("message.role", role),
		attribute.Int("message.chars", len(content)),
	)

	if sessionID == "" {
		return "", fmt.Errorf("session id is required")
	}

	path := fmt.Sprintf("/chat-sessions/%s/messages", url.PathEscape(sessionID))
	payload := map[string]string{"role": role, "content": content}
	var resp struct {
		ID string `json:"id"`
	}
	if err := c.backend.doJSON(ctx, http.MethodPost, path, "", payload, &resp); err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("message create failed: %w", err)
	}
	if resp.ID == "" {
		return "", fmt.Errorf("message create returned no id")
	}

	span.SetAttributes(attribute.String("message.id", resp.ID))
	return resp.ID, nil
}

// AppendMessage appends content to an existing stored message.
func (c *SessionClient) AppendMessage(ctx context.Context, sessionID, messageID, content string) error {
	ctx, span := sessionTracer.Start(ctx, "SessionClient.AppendMessage")
	defer span.End()
	span.SetAttributes(
		attribute.String("session.id", sessionID),
		attribute.String("message.id", messageID),
		attribute.Int("append.chars", len(content)),
	)

	if sessionID == "" || messageID == "" {
		return fmt.Errorf("session id and message id are required")
	}

	path := fmt.Sprintf("/chat-sessions/%s/messages/%s/append",
		url.PathEscape(sessionID), url.PathEscape(messageID))
	payload := map[string]string{"content": content}
	if err := c.backend.doJSON(ctx, http.MethodPatch, path, "", payload, nil); err != nil {
		span.RecordError(err)
		return fmt.Errorf("message append failed: %w", err)
	}
	return nil
}
