// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/AleutianAI/AleutianSupport/services/support/clients"
)

// ============================================================================
// Test Setup
// ============================================================================

func init() {
	// Set Gin to test mode to reduce noise in test output
	gin.SetMode(gin.TestMode)
}

// mockChatHandler is a minimal mock for handlers.StreamingChatHandler.
type mockChatHandler struct {
	streamCalls int
	wsCalls     int
}

func (m *mockChatHandler) HandleChatStream(c *gin.Context) {
	m.streamCalls++
	c.JSON(http.StatusOK, gin.H{"handled": "stream"})
}

func (m *mockChatHandler) HandleChatWS(c *gin.Context) {
	m.wsCalls++
	c.JSON(http.StatusOK, gin.H{"handled": "ws"})
}

// newTestRateLimit builds a RateLimitClient over a stub backend that
// acknowledges every reset.
func newTestRateLimit(t *testing.T) *clients.RateLimitClient {
	t.Helper()
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	}))
	t.Cleanup(backend.Close)
	return clients.NewRateLimitClient(clients.NewBackendClient(backend.URL))
}

func adminToken(t *testing.T, secret, role string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  "operator-1",
		"role": role,
	}).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return token
}

// ============================================================================
// SetupRoutes Tests
// ============================================================================

func TestSetupRoutes_RegistersCoreRoutes(t *testing.T) {
	router := gin.New()
	SetupRoutes(router, &mockChatHandler{}, newTestRateLimit(t), "")

	coreRoutes := []struct {
		method string
		path   string
	}{
		{"GET", "/healthz"},
		{"GET", "/metrics"},
		{"POST", "/v1/support/chat/stream"},
		{"GET", "/v1/support/chat/ws"},
		{"POST", "/v1/admin/ratelimit/reset"},
	}

	routes := router.Routes()
	for _, expected := range coreRoutes {
		found := false
		for _, r := range routes {
			if r.Method == expected.method && r.Path == expected.path {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("Expected route %s %s not found", expected.method, expected.path)
		}
	}
}

func TestSetupRoutes_HealthEndpoint(t *testing.T) {
	router := gin.New()
	SetupRoutes(router, &mockChatHandler{}, newTestRateLimit(t), "")

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/healthz", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Health endpoint returned %d, want %d", w.Code, http.StatusOK)
	}
}

func TestSetupRoutes_MetricsEndpoint(t *testing.T) {
	router := gin.New()
	SetupRoutes(router, &mockChatHandler{}, newTestRateLimit(t), "")

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/metrics", nil)
	router.ServeHTTP(w, req)

	// Prometheus metrics endpoint should return 200
	if w.Code != http.StatusOK {
		t.Errorf("Metrics endpoint returned %d, want %d", w.Code, http.StatusOK)
	}

	// Should return prometheus format
	contentType := w.Header().Get("Content-Type")
	if contentType == "" {
		t.Error("Metrics endpoint should return Content-Type header")
	}
}

func TestSetupRoutes_ChatStreamReachesHandler(t *testing.T) {
	router := gin.New()
	handler := &mockChatHandler{}
	SetupRoutes(router, handler, newTestRateLimit(t), "")

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/v1/support/chat/stream", strings.NewReader(`{}`))
	router.ServeHTTP(w, req)

	if handler.streamCalls != 1 {
		t.Errorf("Chat stream handler called %d times, want 1", handler.streamCalls)
	}
}

// ============================================================================
// Nil Safety Tests
// ============================================================================

func TestSetupRoutes_NilHandler_Panics(t *testing.T) {
	router := gin.New()

	defer func() {
		if r := recover(); r == nil {
			t.Error("Expected SetupRoutes to panic with nil handler")
		}
	}()

	SetupRoutes(router, nil, newTestRateLimit(t), "")
}

func TestSetupRoutes_NilRateLimit_Panics(t *testing.T) {
	router := gin.New()

	defer func() {
		if r := recover(); r == nil {
			t.Error("Expected SetupRoutes to panic with nil rate limit client")
		}
	}()

	SetupRoutes(router, &mockChatHandler{}, nil, "")
}

// ============================================================================
// Identity Middleware Tests
// ============================================================================

func TestSetupRoutes_AnonymousChatAllowed(t *testing.T) {
	router := gin.New()
	handler := &mockChatHandler{}
	SetupRoutes(router, handler, newTestRateLimit(t), "test-secret")

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/v1/support/chat/stream", strings.NewReader(`{}`))
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Anonymous chat returned %d, want %d", w.Code, http.StatusOK)
	}
	if handler.streamCalls != 1 {
		t.Errorf("Handler called %d times, want 1", handler.streamCalls)
	}
}

func TestSetupRoutes_InvalidTokenRejectedBeforeHandler(t *testing.T) {
	router := gin.New()
	handler := &mockChatHandler{}
	SetupRoutes(router, handler, newTestRateLimit(t), "test-secret")

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/v1/support/chat/stream", strings.NewReader(`{}`))
	req.Header.Set("Authorization", "Bearer not-a-valid-token")
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Invalid token returned %d, want %d", w.Code, http.StatusUnauthorized)
	}
	if handler.streamCalls != 0 {
		t.Errorf("Handler called %d times, want 0", handler.streamCalls)
	}
}

// ============================================================================
// Admin Route Tests
// ============================================================================

func TestSetupRoutes_AdminResetRequiresAuth(t *testing.T) {
	router := gin.New()
	SetupRoutes(router, &mockChatHandler{}, newTestRateLimit(t), "test-secret")

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/v1/admin/ratelimit/reset", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Unauthenticated admin reset returned %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestSetupRoutes_AdminResetRejectsNonAdmin(t *testing.T) {
	router := gin.New()
	SetupRoutes(router, &mockChatHandler{}, newTestRateLimit(t), "test-secret")

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/v1/admin/ratelimit/reset", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken(t, "test-secret", "user"))
	router.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("Non-admin reset returned %d, want %d", w.Code, http.StatusForbidden)
	}
}

func TestSetupRoutes_AdminResetAllowsAdmin(t *testing.T) {
	router := gin.New()
	SetupRoutes(router, &mockChatHandler{}, newTestRateLimit(t), "test-secret")

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/v1/admin/ratelimit/reset",
		strings.NewReader(`{"bucket":"flash"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+adminToken(t, "test-secret", "admin"))
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Admin reset returned %d, want %d", w.Code, http.StatusOK)
	}
}

// ============================================================================
// API Version Group Tests
// ============================================================================

func TestSetupRoutes_V1GroupExists(t *testing.T) {
	router := gin.New()
	SetupRoutes(router, &mockChatHandler{}, newTestRateLimit(t), "")

	routes := router.Routes()
	v1Routes := 0
	for _, r := range routes {
		if strings.HasPrefix(r.Path, "/v1") {
			v1Routes++
		}
	}

	if v1Routes == 0 {
		t.Error("Expected at least one /v1 route")
	}
}
