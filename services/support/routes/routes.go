// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/AleutianSupport/services/support/clients"
	"github.com/AleutianAI/AleutianSupport/services/support/handlers"
	"github.com/AleutianAI/AleutianSupport/services/support/middleware"
)

// SetupRoutes registers every HTTP route of the support service.
//
// The /v1 group runs behind the identity middleware: requests without a
// token pass through anonymously, requests with an invalid token are
// rejected there. Admin routes additionally require the admin role.
//
// handler and rateLimit must not be nil; jwtSecret may be empty for a
// local stack (tokens parsed unverified, see middleware.AuthMiddleware).
func SetupRoutes(router *gin.Engine, handler handlers.StreamingChatHandler,
	rateLimit *clients.RateLimitClient, jwtSecret string) {

	if handler == nil {
		panic("SetupRoutes: handler must not be nil")
	}
	if rateLimit == nil {
		panic("SetupRoutes: rateLimit must not be nil")
	}

	router.GET("/healthz", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API version 1 group
	v1 := router.Group("/v1")
	v1.Use(middleware.AuthMiddleware(jwtSecret))
	{
		v1.POST("/support/chat/stream", handler.HandleChatStream)
		v1.GET("/support/chat/ws", handler.HandleChatWS)

		// Operator routes
		admin := v1.Group("/admin")
		admin.Use(middleware.RequireAdmin())
		{
			admin.POST("/ratelimit/reset", handlers.ResetRateLimit(rateLimit))
		}
	}
}
