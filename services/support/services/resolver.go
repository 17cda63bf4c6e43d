// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package services provides the business logic between the streaming
// handlers and the collaborator clients.
//
// This package contains service structs that encapsulate per-turn
// decisions, separating them from HTTP handlers. Services are
// responsible for:
//   - Resolving the provider, model, bucket, and credential for a turn
//   - Enforcing the rate-limit and usage-reservation policies
//   - Assembling the generation request (system prompt, history, tools)
//
// Services are designed to be:
//   - Testable: Dependencies are injected via constructors
//   - Reload-aware: Configuration is read per turn through a snapshot source
//   - Traceable: All methods accept context for distributed tracing
package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/AleutianSupport/services/llm"
	"github.com/AleutianAI/AleutianSupport/services/support/clients"
	"github.com/AleutianAI/AleutianSupport/services/support/config"
	"github.com/AleutianAI/AleutianSupport/services/support/datatypes"
	"github.com/AleutianAI/AleutianSupport/services/support/middleware"
	"github.com/AleutianAI/AleutianSupport/services/support/observability"
)

// resolverTracer is the OpenTelemetry tracer for model resolution.
var resolverTracer = otel.Tracer("aleutian.support.services.resolver")

// resolveCallTimeout bounds each collaborator call made during
// resolution (rate-limit check, usage reservation, credential lookup).
const resolveCallTimeout = 5 * time.Second

// Compile-time interface implementation check.
var _ ModelResolver = (*Resolver)(nil)

// =============================================================================
// Interfaces
// =============================================================================

// ConfigSource yields the current configuration snapshot. The service
// wires this to the hot-reload watcher so every turn sees the latest
// bucket table, defaults, and thresholds.
type ConfigSource func() *config.Config

// ModelResolver defines the contract for turning a chat turn's model
// request into a ready provider client.
//
// # Description
//
// Resolution runs once per turn, before any frame is written, and makes
// every admission decision for the turn:
//
//  1. Apply provider and model defaults from configuration.
//  2. Map the model to its coarse rate-limit bucket via the configured
//     bucket table and consult the limiter. An explicit rejection fails
//     the turn; an unreachable limiter fails open.
//  3. For authenticated callers on the quota-tracked provider, reserve
//     one usage unit BEFORE the model call, so attempts count even when
//     the stream later breaks. Reservation failures log and proceed.
//  4. Resolve the API key: the caller's stored key first, then the
//     process-wide secret.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type ModelResolver interface {
	// Resolve admits one turn and constructs its provider client.
	//
	// # Inputs
	//
	//   - ctx: Context for cancellation and tracing. Each collaborator
	//     call inside carries its own 5-second timeout.
	//   - auth: Caller identity from the middleware. Nil for anonymous
	//     turns.
	//   - data: The turn's model request (provider, model), already
	//     defaulted and validated at the datatypes layer.
	//
	// # Outputs
	//
	//   - *ResolvedModel: The constructed client plus the resolved
	//     provider, model, and bucket names.
	//   - error: *clients.RateLimitError when the bucket is exhausted
	//     (HTTP 429), *clients.ConfigurationError when no API key exists
	//     for the provider (HTTP 500), or a wrapped internal error.
	Resolve(ctx context.Context, auth *middleware.AuthInfo, data datatypes.ChatRequestData) (*ResolvedModel, error)
}

// ResolvedModel is the outcome of turn admission: a provider client
// bound to a model and key, plus the names the rest of the turn logs
// and meters by.
type ResolvedModel struct {
	Client   llm.LLMClient
	Provider string
	Model    string
	Bucket   string
}

// =============================================================================
// Resolver
// =============================================================================

// Resolver is the production ModelResolver, backed by the support
// backend's limiter, usage, and credential services.
type Resolver struct {
	current   ConfigSource
	rateLimit *clients.RateLimitClient
	usage     *clients.UsageClient
	creds     *clients.CredentialClient
}

// NewResolver creates a Resolver.
//
// current must return a non-nil configuration snapshot; the other
// dependencies must not be nil.
func NewResolver(
	current ConfigSource,
	rateLimit *clients.RateLimitClient,
	usage *clients.UsageClient,
	creds *clients.CredentialClient,
) *Resolver {
	return &Resolver{
		current:   current,
		rateLimit: rateLimit,
		usage:     usage,
		creds:     creds,
	}
}

// Resolve implements ModelResolver.
func (r *Resolver) Resolve(ctx context.Context, auth *middleware.AuthInfo, data datatypes.ChatRequestData) (*ResolvedModel, error) {
	ctx, span := resolverTracer.Start(ctx, "Resolver.Resolve")
	defer span.End()

	cfg := r.current()

	provider := data.ModelProvider
	if provider == "" {
		provider = cfg.Models.DefaultProvider
	}
	model := data.Model
	if model == "" {
		model = defaultModelFor(cfg, provider)
	}
	span.SetAttributes(
		attribute.String("model.provider", provider),
		attribute.String("model.name", model),
	)

	bucket, err := cfg.Buckets.Resolve(provider, model)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "bucket resolution failed")
		return nil, fmt.Errorf("bucket resolution failed: %w", err)
	}
	span.SetAttributes(attribute.String("ratelimit.bucket", bucket))

	checkCtx, cancel := context.WithTimeout(ctx, resolveCallTimeout)
	decision := r.rateLimit.Check(checkCtx, bucket)
	cancel()
	if !decision.Allowed {
		span.SetStatus(codes.Error, "rate limited")
		if m := observability.DefaultMetrics; m != nil {
			m.RecordRateLimitRejection(bucket)
		}
		return nil, &clients.RateLimitError{
			Bucket:            bucket,
			RetryAfterSeconds: decision.RetryAfterSeconds,
		}
	}

	userID, token := "", ""
	if auth != nil {
		userID, token = auth.UserID, auth.Token
	}

	// Reserve the usage unit before the model call so the attempt is
	// counted even if the stream breaks later.
	if userID != "" && provider == cfg.Models.QuotaTrackedProvider {
		usageCtx, cancel := context.WithTimeout(ctx, resolveCallTimeout)
		err := r.usage.Increment(usageCtx, userID, model, time.Now().UTC().Format("2006-01-02"))
		cancel()
		if err != nil {
			span.AddEvent("usage_reservation_failed")
			slog.Warn("Usage reservation failed, proceeding",
				"provider", provider,
				"model", model,
				"error", err,
			)
		}
	}

	apiKey := ""
	if token != "" {
		credCtx, cancel := context.WithTimeout(ctx, resolveCallTimeout)
		apiKey = r.creds.Resolve(credCtx, token, provider)
		cancel()
	}

	client, err := buildProviderClient(ctx, provider, apiKey, model)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "provider not configured")
		return nil, &clients.ConfigurationError{Provider: provider, Err: err}
	}

	return &ResolvedModel{
		Client:   client,
		Provider: provider,
		Model:    model,
		Bucket:   bucket,
	}, nil
}

// defaultModelFor returns the configured default model for a provider.
func defaultModelFor(cfg *config.Config, provider string) string {
	switch provider {
	case datatypes.ProviderOpenAI:
		return cfg.Models.DefaultOpenAIModel
	default:
		return cfg.Models.DefaultGoogleModel
	}
}

// buildProviderClient constructs the provider client for the resolved
// key and model. An empty apiKey lets the constructor fall back to the
// process-wide secret.
func buildProviderClient(ctx context.Context, provider, apiKey, model string) (llm.LLMClient, error) {
	switch provider {
	case datatypes.ProviderGoogle:
		return llm.NewGoogleClient(ctx, apiKey, model)
	case datatypes.ProviderOpenAI:
		return llm.NewOpenAIClient(apiKey, model)
	default:
		return nil, fmt.Errorf("unknown provider %q", provider)
	}
}
