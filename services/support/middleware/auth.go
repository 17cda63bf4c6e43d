// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware provides HTTP middleware for the support service.
//
// # Authentication Flow
//
// The auth middleware extracts a bearer token from the Authorization header,
// derives the caller's identity from its JWT claims, and stores the
// resulting AuthInfo in the Gin context for downstream handlers.
//
//	Request
//	   │
//	   ▼
//	AuthMiddleware
//	   │
//	   ├─► Extract token from "Authorization: Bearer <token>"
//	   │
//	   ├─► Parse JWT claims (verified when a secret is configured)
//	   │
//	   └─► Store AuthInfo in context
//	           │
//	           ▼
//	       Handler (retrieves via GetAuthInfo)
//
// # Anonymous Requests
//
// Chat works without authentication: a missing Authorization header leaves
// no AuthInfo in the context and the request proceeds. Identity only gates
// the per-user extras (user-scoped credentials, usage quota tracking).
// A PRESENT but invalid token is rejected: that is a client error, not an
// anonymous request.
//
// # Local Mode
//
// With no JWT secret configured, tokens are parsed without signature
// verification so a local stack can pass identity around freely. Never
// run the public deployment without a secret.
package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// =============================================================================
// Context Keys
// =============================================================================

// authInfoKey is the context key for storing AuthInfo.
// Using a typed key prevents collisions with other context values.
const authInfoKey = "aleutian_auth_info"

// AuthInfo identifies the authenticated caller.
type AuthInfo struct {
	// UserID is the JWT subject. Empty when the token carried no subject.
	UserID string

	// Token is the raw bearer token, forwarded to the backend for
	// user-scoped lookups.
	Token string

	// Admin is true when the token carries the admin role.
	Admin bool
}

// =============================================================================
// Context Helpers
// =============================================================================

// SetAuthInfo stores the authenticated user info in the Gin context.
//
// Called by AuthMiddleware after token processing. The stored AuthInfo can
// be retrieved by handlers via GetAuthInfo.
func SetAuthInfo(c *gin.Context, info *AuthInfo) {
	c.Set(authInfoKey, info)
}

// GetAuthInfo retrieves the authenticated user info from the Gin context.
//
// Returns nil for anonymous requests.
func GetAuthInfo(c *gin.Context) *AuthInfo {
	if info, exists := c.Get(authInfoKey); exists {
		if authInfo, ok := info.(*AuthInfo); ok {
			return authInfo
		}
	}
	return nil
}

// =============================================================================
// Auth Middleware
// =============================================================================

// AuthMiddleware creates a Gin middleware that authenticates requests.
//
// # Description
//
// Extracts the bearer token from the Authorization header and stores the
// derived AuthInfo in the context. Requests without a token pass through
// anonymously; requests with an unverifiable token are rejected with 401
// when a secret is configured.
//
// # Inputs
//
//   - jwtSecret: HMAC secret for signature verification. Empty enables
//     local mode (claims parsed unverified).
//
// # Examples
//
//	v1 := router.Group("/v1")
//	v1.Use(middleware.AuthMiddleware(os.Getenv("JWT_SECRET")))
//
// # Thread Safety
//
// Thread-safe. The returned middleware can be used concurrently.
func AuthMiddleware(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractBearerToken(c)
		if token == "" {
			c.Next()
			return
		}

		info, err := parseToken(token, jwtSecret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "unauthorized",
			})
			return
		}

		SetAuthInfo(c, info)
		c.Next()
	}
}

// RequireAdmin creates a middleware that only admits admin callers.
// Apply after AuthMiddleware on operator endpoints.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		info := GetAuthInfo(c)
		if info == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "unauthorized",
			})
			return
		}
		if !info.Admin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "admin access required",
			})
			return
		}
		c.Next()
	}
}

// =============================================================================
// Helper Functions
// =============================================================================

// parseToken derives AuthInfo from a bearer token.
//
// With a secret, the signature is verified and the signing method pinned
// to HMAC to prevent algorithm substitution. Without a secret (local mode)
// claims are read unverified; a token that is not a JWT at all still
// yields an AuthInfo carrying the raw token, so opaque API tokens can be
// forwarded to the backend.
func parseToken(token, jwtSecret string) (*AuthInfo, error) {
	claims := jwt.MapClaims{}

	if jwtSecret != "" {
		parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return []byte(jwtSecret), nil
		})
		if err != nil || !parsed.Valid {
			return nil, fmt.Errorf("invalid token: %w", err)
		}
		return authInfoFromClaims(token, claims), nil
	}

	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		// Not a JWT. Keep the raw token for backend-side lookups.
		return &AuthInfo{Token: token}, nil
	}
	return authInfoFromClaims(token, claims), nil
}

func authInfoFromClaims(token string, claims jwt.MapClaims) *AuthInfo {
	info := &AuthInfo{Token: token}
	if sub, err := claims.GetSubject(); err == nil {
		info.UserID = sub
	}
	if role, ok := claims["role"].(string); ok {
		info.Admin = role == "admin"
	}
	return info
}

// extractBearerToken extracts the token from the Authorization header.
//
// Parses the Authorization header expecting format: "Bearer <token>".
// Returns empty string if header is missing or malformed. The "Bearer"
// prefix is case-insensitive per RFC 7235.
func extractBearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}

	return strings.TrimSpace(parts[1])
}
