// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// Tests for miscellaneous handlers

package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianSupport/services/support/clients"
)

// =============================================================================
// HealthCheck Tests
// =============================================================================

func TestHealthCheck_ReturnsOK(t *testing.T) {
	router := gin.New()
	router.GET("/healthz", HealthCheck)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/healthz", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var response map[string]any
	err := json.Unmarshal(w.Body.Bytes(), &response)
	require.NoError(t, err)
	assert.Equal(t, "ok", response["status"])
	assert.Equal(t, "support", response["service"])
}

func TestHealthCheck_ReportsSecureMemory(t *testing.T) {
	router := gin.New()
	router.GET("/healthz", HealthCheck)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/healthz", nil)
	router.ServeHTTP(w, req)

	var response map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))

	_, hasSecure := response["secure_memory"]
	assert.True(t, hasSecure, "health body should report secure_memory")
	_, hasLimit := response["mlock_limit_kb"]
	assert.True(t, hasLimit, "health body should report mlock_limit_kb")
}

func TestHealthCheck_JSONContentType(t *testing.T) {
	router := gin.New()
	router.GET("/healthz", HealthCheck)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/healthz", nil)
	router.ServeHTTP(w, req)

	contentType := w.Header().Get("Content-Type")
	assert.Contains(t, contentType, "application/json")
}

// =============================================================================
// ResetRateLimit Tests
// =============================================================================

func TestResetRateLimit_PanicsOnNilClient(t *testing.T) {
	assert.Panics(t, func() {
		ResetRateLimit(nil)
	}, "should panic when rate limit client is nil")
}

func TestResetRateLimit_ForwardsBucket(t *testing.T) {
	var gotBody map[string]string
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/ratelimit/reset", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer backend.Close()

	rateLimit := clients.NewRateLimitClient(clients.NewBackendClient(backend.URL))
	router := gin.New()
	router.POST("/reset", ResetRateLimit(rateLimit))

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/reset", strings.NewReader(`{"bucket":"flash"}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "flash", gotBody["bucket"], "bucket should be forwarded to the limiter")

	var response map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "ok", response["status"])
	assert.Equal(t, "flash", response["bucket"])
}

func TestResetRateLimit_EmptyBodyResetsAllBuckets(t *testing.T) {
	var gotBody map[string]string
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer backend.Close()

	rateLimit := clients.NewRateLimitClient(clients.NewBackendClient(backend.URL))
	router := gin.New()
	router.POST("/reset", ResetRateLimit(rateLimit))

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/reset", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	_, named := gotBody["bucket"]
	assert.False(t, named, "empty request should not name a bucket")
}

func TestResetRateLimit_BackendFailureReturns502(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "limiter down", http.StatusInternalServerError)
	}))
	defer backend.Close()

	rateLimit := clients.NewRateLimitClient(clients.NewBackendClient(backend.URL))
	router := gin.New()
	router.POST("/reset", ResetRateLimit(rateLimit))

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/reset", strings.NewReader(`{"bucket":"flash"}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadGateway, w.Code)

	var response map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Contains(t, response["error"], "rate limit reset failed")
}

func TestResetRateLimit_MalformedBodyReturns400(t *testing.T) {
	backendCalls := 0
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		backendCalls++
	}))
	defer backend.Close()

	rateLimit := clients.NewRateLimitClient(clients.NewBackendClient(backend.URL))
	router := gin.New()
	router.POST("/reset", ResetRateLimit(rateLimit))

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/reset", strings.NewReader(`{"bucket":`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 0, backendCalls, "malformed body should not reach the limiter")
}
