// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianSupport/services/support/datatypes"
)

// =============================================================================
// Interface Definition
// =============================================================================

// FrameWriter defines the contract for delivering stream frames to a client.
//
// # Description
//
// FrameWriter abstracts frame serialization and transport, so the same
// streaming pipeline can serve SSE and WebSocket clients and so tests can
// capture frames without a network. Implementations handle the wire
// format internally.
//
// Each frame is automatically stamped before sending:
//   - ID: UUID v4 for ordering and deduplication
//   - CreatedAt: Unix timestamp in milliseconds
//   - Hash: SHA-256 hash of frame content for integrity
//   - PrevHash: Hash of previous frame for chain verification
//
// # Thread Safety
//
// Implementations must be safe for concurrent use by multiple goroutines.
// The forwarding branch and the analysis consumer both emit frames during
// a turn; the hash chain orders them by actual write order.
//
// # Limitations
//
//   - WriteFrame mutates the passed frame (metadata is stamped in place),
//     so callers must hand over a fresh frame per call and not reuse it.
type FrameWriter interface {
	// WriteFrame stamps metadata onto the frame, serializes it, and
	// sends it to the client, flushing immediately.
	//
	// # Inputs
	//
	//   - frame: Frame to send. ID, CreatedAt, Hash, PrevHash are auto-set.
	//
	// # Outputs
	//
	//   - error: Non-nil if serialization or the transport write failed.
	WriteFrame(frame *datatypes.StreamFrame) error

	// WriteKeepAlive sends a transport-level liveness signal.
	//
	// # Description
	//
	// For SSE this is a comment line (": keepalive\n\n"), ignored by
	// clients but enough to reset load-balancer idle timers (AWS ALB and
	// Nginx default to 60s). For WebSocket it is a ping control message.
	//
	// # Outputs
	//
	//   - error: Non-nil if writing failed.
	//
	// # Limitations
	//
	//   - Does not advance the hash chain (keepalives are not frames).
	WriteKeepAlive() error
}

// =============================================================================
// Struct Definition
// =============================================================================

// sseFrameWriter implements FrameWriter for HTTP SSE responses.
//
// # Description
//
// sseFrameWriter wraps an http.ResponseWriter to emit frames in the
// format:
//
//	event: {type}
//	data: {json}
//
// The writer maintains a hash chain for integrity verification: each
// frame's Hash is the SHA-256 of its serialized content, and PrevHash
// links it to the previous frame. This gives chain of custody over the
// exact deltas, annotations, and timestamps a client received.
//
// # Thread Safety
//
// Thread-safe via mutex. Chain integrity is maintained across concurrent
// writes.
//
// # Limitations
//
//   - Cannot be reused across requests
type sseFrameWriter struct {
	writer   http.ResponseWriter
	flusher  http.Flusher
	prevHash string
	mu       sync.Mutex
}

// =============================================================================
// Constructor
// =============================================================================

// NewFrameWriter creates a FrameWriter over the given ResponseWriter.
//
// # Description
//
// The caller must set SSE headers via SetSSEHeaders before creating the
// writer and before any frame is written.
//
// # Inputs
//
//   - w: HTTP ResponseWriter. Must implement http.Flusher.
//
// # Outputs
//
//   - FrameWriter: Ready to write frames.
//   - error: Non-nil if the ResponseWriter doesn't support flushing.
//
// # Examples
//
//	SetSSEHeaders(c.Writer)
//	writer, err := NewFrameWriter(c.Writer)
//	if err != nil {
//	    c.JSON(http.StatusInternalServerError, gin.H{"error": "Streaming not supported"})
//	    return
//	}
//	writer.WriteFrame(datatypes.NewStreamFrame(datatypes.FrameStart))
func NewFrameWriter(w http.ResponseWriter) (FrameWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("ResponseWriter does not support http.Flusher")
	}

	return &sseFrameWriter{
		writer:   w,
		flusher:  flusher,
		prevHash: "",
	}, nil
}

// =============================================================================
// Methods
// =============================================================================

// WriteFrame implements FrameWriter.
func (w *sseFrameWriter) WriteFrame(frame *datatypes.StreamFrame) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	data, err := stampFrame(frame, &w.prevHash)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(w.writer, "event: %s\ndata: %s\n\n", frame.Type, data); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}

	w.flusher.Flush()
	return nil
}

// WriteKeepAlive implements FrameWriter.
func (w *sseFrameWriter) WriteKeepAlive() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	// SSE comment format: colon followed by text, then double newline
	if _, err := fmt.Fprintf(w.writer, ": keepalive\n\n"); err != nil {
		return fmt.Errorf("write keepalive: %w", err)
	}

	w.flusher.Flush()
	return nil
}

// =============================================================================
// Helper Functions
// =============================================================================

// stampFrame populates the frame's wire metadata and returns its
// serialized form.
//
// # Description
//
// Assigns ID, CreatedAt, and PrevHash, then computes Hash as the SHA-256
// of the frame serialized with the Hash field still empty, so a verifier
// can recompute it by clearing Hash and re-serializing. prevHash is
// advanced to the new Hash. The caller must hold whatever lock guards
// the chain.
//
// # Inputs
//
//   - frame: Frame to stamp. Mutated in place.
//   - prevHash: Chain cursor, updated to the stamped frame's Hash.
//
// # Outputs
//
//   - []byte: The final serialized frame, including Hash.
//   - error: Non-nil if serialization failed.
func stampFrame(frame *datatypes.StreamFrame, prevHash *string) ([]byte, error) {
	frame.ID = uuid.New().String()
	frame.CreatedAt = time.Now().UnixMilli()
	frame.PrevHash = *prevHash

	unhashed, err := json.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("marshal frame: %w", err)
	}
	sum := sha256.Sum256(unhashed)
	frame.Hash = hex.EncodeToString(sum[:])
	*prevHash = frame.Hash

	data, err := json.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("marshal frame: %w", err)
	}
	return data, nil
}

// SetSSEHeaders configures HTTP response headers for SSE streaming.
//
// # Description
//
// Sets the required headers for Server-Sent Events:
//   - Content-Type: text/event-stream
//   - Cache-Control: no-cache
//   - Connection: keep-alive
//   - X-Accel-Buffering: no (disables nginx buffering)
//
// Must be called before writing any response body.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// =============================================================================
// Compile-time Interface Check
// =============================================================================

var _ FrameWriter = (*sseFrameWriter)(nil)
