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
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// rateLimitTracer is the OpenTelemetry tracer for rate-limit operations.
var rateLimitTracer = otel.Tracer("aleutian.support.clients.ratelimit")

// =============================================================================
// RateLimitClient
// =============================================================================

// RateLimitClient checks and resets per-bucket rate limits on the support
// backend.
//
// # Description
//
// Every chat turn consults the limiter exactly once, keyed by the coarse
// model bucket the turn resolved to (flash, pro, gpt-4, gpt-other). The
// limiter is advisory infrastructure: when it cannot be reached, the
// check FAILS OPEN so a limiter outage never takes chat down with it. An
// explicit "not allowed" answer from a healthy limiter is the only thing
// that rejects a turn.
//
// # Thread Safety
//
// Thread-safe.
type RateLimitClient struct {
	backend *BackendClient
}

// NewRateLimitClient creates a RateLimitClient over the shared backend.
func NewRateLimitClient(backend *BackendClient) *RateLimitClient {
	return &RateLimitClient{backend: backend}
}

// RateLimitDecision is the limiter's answer for one bucket check.
type RateLimitDecision struct {
	// Allowed reports whether the turn may proceed.
	Allowed bool `json:"allowed"`

	// RetryAfterSeconds is the suggested client wait when not allowed.
	RetryAfterSeconds int `json:"retry_after"`

	// FailedOpen is true when the limiter was unreachable and the
	// decision defaulted to allowed.
	FailedOpen bool `json:"-"`
}

// Check consults the limiter for one bucket.
//
// # Description
//
// Issues a single check against the backend limiter. Any failure to get
// an answer (transport error, timeout, 5xx) is logged at Warn and
// converted to an allowed decision with FailedOpen set: availability of
// chat outranks precision of limiting. Callers apply their own timeout
// via ctx.
//
// # Outputs
//
//   - *RateLimitDecision: Never nil. Allowed=false only on an explicit
//     limiter rejection.
func (c *RateLimitClient) Check(ctx context.Context, bucket string) *RateLimitDecision {
	ctx, span := rateLimitTracer.Start(ctx, "RateLimitClient.Check")
	defer span.End()
	span.SetAttributes(attribute.String("ratelimit.bucket", bucket))

	payload := map[string]string{"bucket": bucket}
	var decision RateLimitDecision
	if err := c.backend.doJSON(ctx, http.MethodPost, "/ratelimit/check", "", payload, &decision); err != nil {
		span.RecordError(err)
		span.SetAttributes(attribute.Bool("ratelimit.failed_open", true))
		slog.Warn("Rate limiter unreachable, failing open",
			"bucket", bucket,
			"error", err,
		)
		return &RateLimitDecision{Allowed: true, FailedOpen: true}
	}

	span.SetAttributes(attribute.Bool("ratelimit.allowed", decision.Allowed))
	return &decision
}

// Reset clears the limiter state for one bucket, or for all buckets when
// bucket is empty. Operator action; errors propagate.
func (c *RateLimitClient) Reset(ctx context.Context, bucket string) error {
	ctx, span := rateLimitTracer.Start(ctx, "RateLimitClient.Reset")
	defer span.End()

	payload := map[string]string{}
	if bucket != "" {
		payload["bucket"] = bucket
		span.SetAttributes(attribute.String("ratelimit.bucket", bucket))
	}

	if err := c.backend.doJSON(ctx, http.MethodPost, "/ratelimit/reset", "", payload, nil); err != nil {
		return fmt.Errorf("rate limit reset failed: %w", err)
	}
	return nil
}

// =============================================================================
// Error Types
// =============================================================================

// RateLimitError reports an exhausted rate-limit bucket. Handlers map it
// to HTTP 429 with the retry hint carried through.
type RateLimitError struct {
	Bucket            string
	RetryAfterSeconds int
}

// Error implements the error interface for RateLimitError.
func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exhausted for bucket %q", e.Bucket)
}

// IsRateLimitError checks if an error is a RateLimitError.
func IsRateLimitError(err error) bool {
	var re *RateLimitError
	return errors.As(err, &re)
}

// GetRetryAfter extracts the retry hint from a RateLimitError. Returns
// zero and false for other errors.
func GetRetryAfter(err error) (int, bool) {
	var re *RateLimitError
	if errors.As(err, &re) {
		return re.RetryAfterSeconds, true
	}
	return 0, false
}
