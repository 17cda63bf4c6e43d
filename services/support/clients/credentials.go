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

// credentialTracer is the OpenTelemetry tracer for credential operations.
var credentialTracer = otel.Tracer("aleutian.support.clients.credentials")

// =============================================================================
// CredentialClient
// =============================================================================

// CredentialClient resolves user-scoped provider API keys from the
// support backend's credential store.
//
// # Description
//
// Authenticated users may bring their own provider keys, stored
// server-side and resolved per turn. Resolution is best-effort: a store
// failure or a user without a stored key yields an empty key and the
// caller falls back to the process-wide secret (environment variable or
// /run/secrets file, handled by the provider client constructors).
//
// # Thread Safety
//
// Thread-safe.
type CredentialClient struct {
	backend *BackendClient
}

// NewCredentialClient creates a CredentialClient over the shared backend.
func NewCredentialClient(backend *BackendClient) *CredentialClient {
	return &CredentialClient{backend: backend}
}

// Resolve looks up the caller's stored API key for a provider.
//
// Returns the key, or empty when the caller is anonymous, has no stored
// key for the provider, or the store cannot answer. Never returns an
// error: the process-wide fallback makes store failures survivable, so
// they are logged and absorbed here.
func (c *CredentialClient) Resolve(ctx context.Context, token, provider string) string {
	if token == "" {
		return ""
	}

	ctx, span := credentialTracer.Start(ctx, "CredentialClient.Resolve")
	defer span.End()
	span.SetAttributes(attribute.String("credentials.provider", provider))

	payload := map[string]string{"provider": provider}
	var resp struct {
		APIKey string `json:"api_key"`
	}
	if err := c.backend.doJSON(ctx, http.MethodPost, "/credentials/resolve", token, payload, &resp); err != nil {
		var be *BackendError
		if errors.As(err, &be) && be.StatusCode == http.StatusNotFound {
			span.SetAttributes(attribute.Bool("credentials.found", false))
			return ""
		}
		span.RecordError(err)
		slog.Warn("Credential store lookup failed, falling back to process secret",
			"provider", provider,
			"error", err,
		)
		return ""
	}

	span.SetAttributes(attribute.Bool("credentials.found", resp.APIKey != ""))
	return resp.APIKey
}

// =============================================================================
// Error Types
// =============================================================================

// ConfigurationError reports that no API key could be found for a
// provider anywhere: not in the credential store, not in the
// environment, not under /run/secrets. Handlers map it to HTTP 500.
type ConfigurationError struct {
	Provider string
	Err      error
}

// Error implements the error interface for ConfigurationError.
func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("provider %q is not configured: %v", e.Provider, e.Err)
}

// Unwrap returns the underlying construction error.
func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// IsConfigurationError checks if an error is a ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}
