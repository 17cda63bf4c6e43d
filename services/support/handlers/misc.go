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
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianSupport/services/support/clients"
	"github.com/AleutianAI/AleutianSupport/services/support/persist"
)

// HealthCheck handles GET /healthz.
//
// Reports liveness plus whether reply accumulation is running in locked
// memory, so an operator can tell at a glance when a deployment silently
// fell back to the insecure path.
func HealthCheck(c *gin.Context) {
	secure, limitKB := persist.IsMlockAvailable()
	c.JSON(http.StatusOK, gin.H{
		"status":         "ok",
		"service":        "support",
		"secure_memory":  secure,
		"mlock_limit_kb": limitKB,
	})
}

// resetRateLimitRequest is the body of the admin reset endpoint. An empty
// or absent bucket clears every bucket.
type resetRateLimitRequest struct {
	Bucket string `json:"bucket"`
}

// ResetRateLimit handles POST /v1/admin/ratelimit/reset.
//
// Operator escape hatch for a wedged limiter: clears the named bucket, or
// all buckets when none is named. Mount behind RequireAdmin; the handler
// itself does no authorization.
func ResetRateLimit(rateLimit *clients.RateLimitClient) gin.HandlerFunc {
	if rateLimit == nil {
		panic("ResetRateLimit: rateLimit must not be nil")
	}

	return func(c *gin.Context) {
		var req resetRateLimitRequest
		if c.Request.Body != nil && c.Request.ContentLength != 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
				return
			}
		}

		if err := rateLimit.Reset(c.Request.Context(), req.Bucket); err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"bucket": req.Bucket,
		})
	}
}
