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

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// usageTracer is the OpenTelemetry tracer for usage-tracking operations.
var usageTracer = otel.Tracer("aleutian.support.clients.usage")

// UsageClient records per-user model usage on the support backend.
//
// # Description
//
// Quota accounting uses a reservation pattern: the counter is incremented
// BEFORE the model call, so an attempt counts whether or not the stream
// completes. Only authenticated turns on the quota-tracked provider are
// recorded. The caller treats failures as advisory (log and proceed);
// this client just reports them.
//
// # Thread Safety
//
// Thread-safe.
type UsageClient struct {
	backend *BackendClient
}

// NewUsageClient creates a UsageClient over the shared backend.
func NewUsageClient(backend *BackendClient) *UsageClient {
	return &UsageClient{backend: backend}
}

// Increment reserves one usage unit for a user, model, and UTC date.
//
// date uses the "2006-01-02" layout.
func (c *UsageClient) Increment(ctx context.Context, userID, model, date string) error {
	ctx, span := usageTracer.Start(ctx, "UsageClient.Increment")
	defer span.End()
	span.SetAttributes(
		attribute.String("usage.model", model),
		attribute.String("usage.date", date),
	)

	payload := map[string]string{
		"user_id": userID,
		"model":   model,
		"date":    date,
	}
	if err := c.backend.doJSON(ctx, http.MethodPost, "/usage/increment", "", payload, nil); err != nil {
		span.RecordError(err)
		return fmt.Errorf("usage increment failed: %w", err)
	}
	return nil
}
