// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package clients provides HTTP clients for the support backend's
// collaborator services.
//
// The support service keeps no durable state of its own. Rate limiting,
// usage tracking, credential resolution, conversation storage, and the
// four assistant tools all live behind the support backend, reached over
// JSON/HTTP. This package wraps each collaborator in a small typed client
// built on a shared request helper.
//
// Clients are responsible for:
//   - Request serialization and response parsing
//   - Bearer token forwarding for user-scoped endpoints
//   - Categorizing failures (retryable vs. not, timeout vs. refusal)
//
// Policy decisions (fail open, degrade, skip) belong to the callers; the
// clients report what happened and let the caller decide.
package clients

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
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// backendTracer is the OpenTelemetry tracer for backend HTTP operations.
var backendTracer = otel.Tracer("aleutian.support.clients.backend")

// Retry configuration for tool-service calls.
const (
	// maxToolRetries is the number of retry attempts after the initial
	// request. Retries use exponential backoff.
	maxToolRetries = 2

	// initialRetryDelay is the delay before the first retry attempt.
	// Subsequent retries double this delay (1s, 2s).
	initialRetryDelay = 1 * time.Second
)

// =============================================================================
// BackendClient
// =============================================================================

// BackendClient is the shared HTTP base for all support-backend clients.
//
// # Description
//
// Holds the backend base URL and the HTTP client, and provides the JSON
// request helpers the typed clients are built on. Construct one per
// process and share it; the typed clients embed a reference.
//
// # Thread Safety
//
// Thread-safe. The underlying http.Client is safe for concurrent use and
// the BackendClient itself is immutable after construction.
type BackendClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewBackendClient creates a BackendClient for the given base URL.
//
// An empty baseURL falls back to the SUPPORT_BACKEND_URL environment
// variable, then to the compose-network default.
func NewBackendClient(baseURL string) *BackendClient {
	if baseURL == "" {
		baseURL = os.Getenv("SUPPORT_BACKEND_URL")
	}
	if baseURL == "" {
		baseURL = "http://support-backend:8000"
		slog.Warn("SUPPORT_BACKEND_URL not set, using default", "url", baseURL)
	}

	return &BackendClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: http.DefaultClient,
	}
}

// BaseURL returns the configured backend base URL.
func (b *BackendClient) BaseURL() string {
	return b.baseURL
}

// doJSON performs a single JSON request against the backend.
//
// # Description
//
// Serializes payload (nil sends no body), issues the request with the
// provided context, and parses the response into out (nil discards the
// body). A non-2xx status returns a *BackendError carrying the status
// code, the response body, and whether a retry may help.
//
// # Inputs
//
//   - ctx: Context for cancellation and timeouts. Callers own the
//     timeout policy.
//   - method: HTTP method (http.MethodGet, http.MethodPost, ...).
//   - path: Path under the base URL, starting with "/".
//   - token: Bearer token forwarded in the Authorization header when
//     non-empty.
//   - payload: Request body, JSON-marshaled. Nil sends no body.
//   - out: Destination for the parsed response body. Nil discards it.
func (b *BackendClient) doJSON(ctx context.Context, method, path, token string, payload, out any) error {
	ctx, span := backendTracer.Start(ctx, "BackendClient.doJSON")
	defer span.End()

	url := b.baseURL + path
	span.SetAttributes(
		attribute.String("http.method", method),
		attribute.String("http.url", url),
	)

	var body io.Reader
	if payload != nil {
		payloadBytes, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewBuffer(payloadBytes)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := b.httpClient.Do(httpReq)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
		span.SetStatus(codes.Error, "backend error status")
		return &BackendError{
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(respBody)),
			Retryable:  isRetryableStatusCode(resp.StatusCode),
		}
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}

// doJSONWithRetry performs a JSON request with retries for transient
// failures.
//
// Retries only errors the backend reported as retryable (502/503/504)
// and transport-level failures, with exponential backoff. Context
// cancellation ends the loop immediately.
func (b *BackendClient) doJSONWithRetry(ctx context.Context, method, path, token string, payload, out any) error {
	var lastErr error
	retryDelay := initialRetryDelay

	for attempt := 0; attempt <= maxToolRetries; attempt++ {
		if attempt > 0 {
			slog.Debug("Retrying backend request",
				"path", path,
				"attempt", attempt,
				"delay", retryDelay,
				"lastError", lastErr,
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryDelay):
			}
			retryDelay *= 2
		}

		err := b.doJSON(ctx, method, path, token, payload, out)
		if err == nil {
			return nil
		}
		lastErr = err

		if !isRetryableError(err) {
			return err
		}
	}

	return fmt.Errorf("backend request failed after %d attempts: %w", maxToolRetries+1, lastErr)
}

// isRetryableStatusCode determines if an HTTP status code is retryable.
//
// Returns true for status codes that indicate transient failures where a
// retry may succeed: 502 Bad Gateway, 503 Service Unavailable, and 504
// Gateway Timeout.
func isRetryableStatusCode(statusCode int) bool {
	switch statusCode {
	case http.StatusBadGateway, // 502
		http.StatusServiceUnavailable, // 503
		http.StatusGatewayTimeout:     // 504
		return true
	default:
		return false
	}
}

// isRetryableError determines if an error should trigger a retry.
//
// BackendError carries its own verdict; context errors never retry;
// anything else is a transport failure and may be transient.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	var be *BackendError
	if errors.As(err, &be) {
		return be.Retryable
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	return true
}

// =============================================================================
// Error Types
// =============================================================================

// BackendError wraps a non-2xx response from a support-backend endpoint.
//
// # Fields
//
//   - StatusCode: HTTP status code from the backend.
//   - Message: Response body text, trimmed.
//   - Retryable: Whether a retry with backoff may succeed.
type BackendError struct {
	StatusCode int
	Message    string
	Retryable  bool
}

// Error implements the error interface for BackendError.
func (e *BackendError) Error() string {
	return fmt.Sprintf("backend error (status %d): %s", e.StatusCode, e.Message)
}

// IsBackendError checks if an error is a BackendError.
func IsBackendError(err error) bool {
	var be *BackendError
	return errors.As(err, &be)
}

// DownstreamTimeoutError reports that a collaborator call exceeded its
// deadline. Callers use it to distinguish a slow service from a refusing
// one when choosing degraded payload text.
type DownstreamTimeoutError struct {
	Service string
	Timeout time.Duration
}

// Error implements the error interface for DownstreamTimeoutError.
func (e *DownstreamTimeoutError) Error() string {
	return fmt.Sprintf("%s did not respond within %s", e.Service, e.Timeout)
}

// IsDownstreamTimeout checks if an error is a DownstreamTimeoutError.
func IsDownstreamTimeout(err error) bool {
	var te *DownstreamTimeoutError
	return errors.As(err, &te)
}

// asTimeout converts a context deadline failure into a
// DownstreamTimeoutError naming the service; other errors pass through.
func asTimeout(service string, timeout time.Duration, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &DownstreamTimeoutError{Service: service, Timeout: timeout}
	}
	return err
}
