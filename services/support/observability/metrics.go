// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides metrics and instrumentation for the
// support service.
//
// # Description
//
// This package implements Prometheus metrics for monitoring streaming chat
// turns. Metrics include:
//   - Request counters (by endpoint, status, error type)
//   - Tool invocation counters (by tool, outcome)
//   - Persistence write counters (by kind, outcome)
//   - Latency histograms (time to first token, total duration)
//   - Active stream gauges
//
// # Integration
//
// Metrics are exposed via /metrics endpoint. Use with Prometheus + Grafana
// for dashboards and alerting.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

// Namespace for all metrics
const metricsNamespace = "aleutian"

// Subsystem for support chat metrics
const supportSubsystem = "support"

// SupportMetrics holds all Prometheus metrics for streaming chat turns.
//
// # Description
//
// Provides counters, histograms, and gauges for monitoring streaming
// performance, tool usage, and persistence health. Initialize once at
// startup via InitMetrics().
//
// # Thread Safety
//
// All operations are thread-safe.
type SupportMetrics struct {
	// RequestsTotal counts streaming requests by endpoint and status.
	// Labels: endpoint (chat_stream, websocket), status (success, error)
	RequestsTotal *prometheus.CounterVec

	// TimeToFirstTokenSeconds measures latency to first token.
	// Labels: endpoint
	TimeToFirstTokenSeconds *prometheus.HistogramVec

	// StreamDurationSeconds measures total stream duration.
	// Labels: endpoint, status (success, error)
	StreamDurationSeconds *prometheus.HistogramVec

	// ActiveStreams tracks currently active streaming connections.
	// Labels: endpoint
	ActiveStreams *prometheus.GaugeVec

	// ErrorsTotal counts errors by type and endpoint.
	// Labels: endpoint, error_code (validation, rate_limited, llm_error, etc.)
	ErrorsTotal *prometheus.CounterVec

	// ToolCallsTotal counts tool invocations by tool and outcome.
	// Labels: tool (search_knowledge_base, analyze_logs, ...),
	// status (success, degraded)
	ToolCallsTotal *prometheus.CounterVec

	// PersistenceWritesTotal counts durable message writes by kind and
	// outcome. Labels: kind (create, append, user_message),
	// status (success, failure)
	PersistenceWritesTotal *prometheus.CounterVec

	// RateLimitRejectionsTotal counts requests rejected by the limiter.
	// Labels: bucket (flash, pro, gpt-4, gpt-other)
	RateLimitRejectionsTotal *prometheus.CounterVec

	// AnnotationsEmittedTotal counts derived annotations sent to clients.
	// Labels: kind (followups, thinking, tool_result)
	AnnotationsEmittedTotal *prometheus.CounterVec

	// KeepAlivesTotal counts keepalive pings sent.
	// Labels: endpoint
	KeepAlivesTotal *prometheus.CounterVec

	// ClientDisconnectsTotal counts client disconnections during streaming.
	// Labels: endpoint
	ClientDisconnectsTotal *prometheus.CounterVec
}

// DefaultMetrics is the singleton instance of SupportMetrics.
// Initialized by InitMetrics().
var DefaultMetrics *SupportMetrics

// InitMetrics initializes the default metrics instance.
//
// # Description
//
// Creates and registers all Prometheus metrics. Should be called once
// at application startup, after Prometheus registry is available.
//
// # Outputs
//
//   - *SupportMetrics: The initialized metrics instance.
//
// # Examples
//
//	func main() {
//	    observability.InitMetrics()
//	    // ... start server ...
//	}
//
// # Limitations
//
//   - Panics if called twice (duplicate registration).
//
// # Assumptions
//
//   - Prometheus default registry is available.
func InitMetrics() *SupportMetrics {
	DefaultMetrics = &SupportMetrics{
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: supportSubsystem,
				Name:      "requests_total",
				Help:      "Total number of streaming requests by endpoint and status",
			},
			[]string{"endpoint", "status"},
		),

		TimeToFirstTokenSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: supportSubsystem,
				Name:      "time_to_first_token_seconds",
				Help:      "Time from request to first token in seconds",
				Buckets:   []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"endpoint"},
		),

		StreamDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: supportSubsystem,
				Name:      "stream_duration_seconds",
				Help:      "Total stream duration in seconds",
				Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"endpoint", "status"},
		),

		ActiveStreams: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: supportSubsystem,
				Name:      "active_streams",
				Help:      "Number of currently active streaming connections",
			},
			[]string{"endpoint"},
		),

		ErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: supportSubsystem,
				Name:      "errors_total",
				Help:      "Total streaming errors by type and endpoint",
			},
			[]string{"endpoint", "error_code"},
		),

		ToolCallsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: supportSubsystem,
				Name:      "tool_calls_total",
				Help:      "Total tool invocations by tool and outcome",
			},
			[]string{"tool", "status"},
		),

		PersistenceWritesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: supportSubsystem,
				Name:      "persistence_writes_total",
				Help:      "Total durable message writes by kind and outcome",
			},
			[]string{"kind", "status"},
		),

		RateLimitRejectionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: supportSubsystem,
				Name:      "rate_limit_rejections_total",
				Help:      "Total requests rejected by the rate limiter",
			},
			[]string{"bucket"},
		),

		AnnotationsEmittedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: supportSubsystem,
				Name:      "annotations_emitted_total",
				Help:      "Total derived annotations sent to clients",
			},
			[]string{"kind"},
		),

		KeepAlivesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: supportSubsystem,
				Name:      "keepalives_total",
				Help:      "Total keepalive pings sent",
			},
			[]string{"endpoint"},
		),

		ClientDisconnectsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: supportSubsystem,
				Name:      "client_disconnects_total",
				Help:      "Total client disconnections during streaming",
			},
			[]string{"endpoint"},
		),
	}

	return DefaultMetrics
}

// =============================================================================
// Error Codes
// =============================================================================

// ErrorCode represents a categorized error type for metrics.
type ErrorCode string

const (
	// ErrorCodeValidation indicates request validation failure.
	ErrorCodeValidation ErrorCode = "validation"

	// ErrorCodeConfiguration indicates a provider credential or model
	// configuration failure.
	ErrorCodeConfiguration ErrorCode = "configuration"

	// ErrorCodeRateLimited indicates rejection by the rate limiter.
	ErrorCodeRateLimited ErrorCode = "rate_limited"

	// ErrorCodeLLMError indicates a model provider failure.
	ErrorCodeLLMError ErrorCode = "llm_error"

	// ErrorCodeToolError indicates a tool backend failure (degraded, not
	// fatal to the turn).
	ErrorCodeToolError ErrorCode = "tool_error"

	// ErrorCodeDownstreamTimeout indicates a collaborator deadline expiry.
	ErrorCodeDownstreamTimeout ErrorCode = "downstream_timeout"

	// ErrorCodePersistence indicates a durable write failure.
	ErrorCodePersistence ErrorCode = "persistence"

	// ErrorCodeInternal indicates internal server error.
	ErrorCodeInternal ErrorCode = "internal"

	// ErrorCodeClientDisconnect indicates client disconnected.
	ErrorCodeClientDisconnect ErrorCode = "client_disconnect"
)

// =============================================================================
// Endpoint Names
// =============================================================================

// Endpoint represents a streaming endpoint for metrics labeling.
type Endpoint string

const (
	// EndpointChatStream is the POST /v1/chat/stream endpoint.
	EndpointChatStream Endpoint = "chat_stream"

	// EndpointWebSocket is the websocket chat endpoint.
	EndpointWebSocket Endpoint = "websocket"
)

// =============================================================================
// Helper Methods
// =============================================================================

// RecordRequest records a completed streaming request.
func (m *SupportMetrics) RecordRequest(endpoint Endpoint, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	m.RequestsTotal.WithLabelValues(string(endpoint), status).Inc()
}

// RecordError records a streaming error.
func (m *SupportMetrics) RecordError(endpoint Endpoint, code ErrorCode) {
	m.ErrorsTotal.WithLabelValues(string(endpoint), string(code)).Inc()
}

// StreamStarted increments the active streams gauge.
func (m *SupportMetrics) StreamStarted(endpoint Endpoint) {
	m.ActiveStreams.WithLabelValues(string(endpoint)).Inc()
}

// StreamEnded decrements the active streams gauge.
func (m *SupportMetrics) StreamEnded(endpoint Endpoint) {
	m.ActiveStreams.WithLabelValues(string(endpoint)).Dec()
}

// RecordTimeToFirstToken records the time to first token latency.
func (m *SupportMetrics) RecordTimeToFirstToken(endpoint Endpoint, seconds float64) {
	m.TimeToFirstTokenSeconds.WithLabelValues(string(endpoint)).Observe(seconds)
}

// RecordStreamDuration records the total stream duration.
func (m *SupportMetrics) RecordStreamDuration(endpoint Endpoint, seconds float64, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	m.StreamDurationSeconds.WithLabelValues(string(endpoint), status).Observe(seconds)
}

// RecordToolCall records a tool invocation outcome.
func (m *SupportMetrics) RecordToolCall(tool string, degraded bool) {
	status := "success"
	if degraded {
		status = "degraded"
	}
	m.ToolCallsTotal.WithLabelValues(tool, status).Inc()
}

// RecordPersistenceWrite records a durable message write outcome.
func (m *SupportMetrics) RecordPersistenceWrite(kind string, success bool) {
	status := "success"
	if !success {
		status = "failure"
	}
	m.PersistenceWritesTotal.WithLabelValues(kind, status).Inc()
}

// RecordRateLimitRejection records a limiter rejection for a bucket.
func (m *SupportMetrics) RecordRateLimitRejection(bucket string) {
	m.RateLimitRejectionsTotal.WithLabelValues(bucket).Inc()
}

// RecordAnnotation records a derived annotation sent to the client.
func (m *SupportMetrics) RecordAnnotation(kind string) {
	m.AnnotationsEmittedTotal.WithLabelValues(kind).Inc()
}

// RecordKeepAlive increments the keepalive counter.
func (m *SupportMetrics) RecordKeepAlive(endpoint Endpoint) {
	m.KeepAlivesTotal.WithLabelValues(string(endpoint)).Inc()
}

// RecordClientDisconnect increments the client disconnect counter.
func (m *SupportMetrics) RecordClientDisconnect(endpoint Endpoint) {
	m.ClientDisconnectsTotal.WithLabelValues(string(endpoint)).Inc()
}
