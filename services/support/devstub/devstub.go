// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package devstub is an in-process fake of the support backend.
//
// # Description
//
// The real support backend (knowledge base, log analysis, reasoning,
// troubleshooting, session store, limiter, credential store) is a
// separate deployment. This stub speaks the same wire contract so the
// service, the CLI, and end-to-end tests can run against localhost with
// nothing else installed:
//
//   - POST /credentials/resolve     bearer + {provider} → {api_key} | 404
//   - POST /ratelimit/check         {bucket} → {allowed, retry_after}
//   - POST /ratelimit/reset         {bucket?}
//   - POST /usage/increment         {user_id, model, date}
//   - GET  /chat-sessions/:id       session with messages
//   - POST /chat-sessions/:id/messages            {role, content} → {id}
//   - PATCH /chat-sessions/:id/messages/:mid/append  {content}
//   - POST /tools/{kb-search,log-analysis,reasoning,troubleshooting}
//
// Tool responses are canned but reflect their inputs (the log analyzer
// really scans for problem lines) so interactive sessions feel alive.
// FailNext schedules scripted failures for exercising degraded paths.
//
// # Thread Safety
//
// Thread-safe. All state is guarded by one mutex; handlers are safe for
// concurrent requests.
package devstub

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/AleutianSupport/services/support/datatypes"
)

// =============================================================================
// Configuration
// =============================================================================

// Config controls the stub's behavior.
type Config struct {
	// BucketRates maps rate-limit bucket names to sustained requests per
	// minute. Buckets absent from the map are unlimited.
	BucketRates map[string]int

	// Credentials maps provider names to the API key the credential
	// store hands back for authenticated callers.
	Credentials map[string]string

	// Latency is added to every request when nonzero, to make local
	// streaming feel like a network.
	Latency time.Duration
}

// DefaultConfig returns a stub configuration with generous limits on the
// standard buckets and no stored credentials.
func DefaultConfig() Config {
	return Config{
		BucketRates: map[string]int{
			"flash":     60,
			"pro":       30,
			"gpt-4":     30,
			"gpt-other": 60,
		},
	}
}

// =============================================================================
// Server
// =============================================================================

// StoredMessage is one message held in the in-memory session store.
type StoredMessage struct {
	ID      string `json:"id"`
	Role    string `json:"role"`
	Content string `json:"content"`
}

// session is the in-memory session record.
type session struct {
	ID       string
	Messages []StoredMessage
}

// failure is one scheduled failure-injection entry.
type failure struct {
	remaining int
	status    int
}

// Server is the fake support backend.
//
// Create with New, mount via Router() (any http.Handler context, e.g.
// httptest.NewServer) or serve directly with Run.
type Server struct {
	cfg    Config
	router *gin.Engine

	mu       sync.Mutex
	sessions map[string]*session
	limiters map[string]*rate.Limiter
	usage    map[string]int
	failures map[string]*failure
}

// New creates a Server with the given configuration.
func New(cfg Config) *Server {
	s := &Server{
		cfg:      cfg,
		sessions: make(map[string]*session),
		limiters: make(map[string]*rate.Limiter),
		usage:    make(map[string]int),
		failures: make(map[string]*failure),
	}
	s.initRouter()
	return s
}

// Router returns the stub's HTTP handler for in-process mounting.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Run serves the stub on addr and blocks.
func (s *Server) Run(addr string) error {
	slog.Info("Starting support backend stub", "addr", addr)
	return s.router.Run(addr)
}

// =============================================================================
// Test and Dev Controls
// =============================================================================

// SeedSession pre-populates a session with messages, replacing any
// existing session with the same id.
func (s *Server) SeedSession(id string, messages ...StoredMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[id] = &session{ID: id, Messages: messages}
}

// SessionMessages returns a copy of a session's stored messages.
func (s *Server) SessionMessages(id string) []StoredMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil
	}
	out := make([]StoredMessage, len(sess.Messages))
	copy(out, sess.Messages)
	return out
}

// UsageCount returns the recorded usage units for a user, model, and date.
func (s *Server) UsageCount(userID, model, date string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage[usageKey(userID, model, date)]
}

// FailNext makes the next n requests to the named endpoint fail with the
// given HTTP status. Endpoint names: kb-search, log-analysis, reasoning,
// troubleshooting, sessions, credentials, usage, ratelimit.
func (s *Server) FailNext(endpoint string, n, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[endpoint] = &failure{remaining: n, status: status}
}

// shouldFail consumes one scheduled failure for the endpoint, if any.
func (s *Server) shouldFail(endpoint string) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.failures[endpoint]
	if !ok || f.remaining <= 0 {
		return 0, false
	}
	f.remaining--
	return f.status, true
}

// failOrContinue aborts the request with an injected failure when one is
// scheduled for the endpoint.
func (s *Server) failOrContinue(c *gin.Context, endpoint string) bool {
	if status, fail := s.shouldFail(endpoint); fail {
		c.JSON(status, gin.H{"error": fmt.Sprintf("injected %s failure", endpoint)})
		return false
	}
	return true
}

// =============================================================================
// Router Setup
// =============================================================================

func (s *Server) initRouter() {
	router := gin.New()
	router.Use(s.logRequests())

	router.POST("/credentials/resolve", s.handleCredentialResolve)
	router.POST("/ratelimit/check", s.handleRateLimitCheck)
	router.POST("/ratelimit/reset", s.handleRateLimitReset)
	router.POST("/usage/increment", s.handleUsageIncrement)

	sessions := router.Group("/chat-sessions")
	{
		sessions.GET("/:sessionID", s.handleSessionGet)
		sessions.POST("/:sessionID/messages", s.handleMessageCreate)
		sessions.PATCH("/:sessionID/messages/:messageID/append", s.handleMessageAppend)
	}

	tools := router.Group("/tools")
	{
		tools.POST("/kb-search", s.handleKBSearch)
		tools.POST("/log-analysis", s.handleLogAnalysis)
		tools.POST("/reasoning", s.handleReasoning)
		tools.POST("/troubleshooting", s.handleTroubleshooting)
	}

	s.router = router
}

// logRequests logs each request through slog and applies the configured
// artificial latency.
func (s *Server) logRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.cfg.Latency > 0 {
			time.Sleep(s.cfg.Latency)
		}
		start := time.Now()
		c.Next()
		slog.Debug("devstub request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}

// =============================================================================
// Credential Store
// =============================================================================

func (s *Server) handleCredentialResolve(c *gin.Context) {
	if !s.failOrContinue(c, "credentials") {
		return
	}
	if c.GetHeader("Authorization") == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
		return
	}

	var req struct {
		Provider string `json:"provider"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	key, ok := s.cfg.Credentials[req.Provider]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no stored credential"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"api_key": key})
}

// =============================================================================
// Rate Limiter
// =============================================================================

// limiterFor returns the bucket's limiter, creating it on first use.
// A nil limiter means the bucket is unlimited.
func (s *Server) limiterFor(bucket string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	if lim, ok := s.limiters[bucket]; ok {
		return lim
	}
	perMinute, ok := s.cfg.BucketRates[bucket]
	if !ok || perMinute <= 0 {
		return nil
	}
	lim := rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute)
	s.limiters[bucket] = lim
	return lim
}

func (s *Server) handleRateLimitCheck(c *gin.Context) {
	if !s.failOrContinue(c, "ratelimit") {
		return
	}

	var req struct {
		Bucket string `json:"bucket"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	lim := s.limiterFor(req.Bucket)
	if lim == nil || lim.Allow() {
		c.JSON(http.StatusOK, gin.H{"allowed": true, "retry_after": 0})
		return
	}

	// Denied: estimate the wait for the next token without consuming it.
	res := lim.Reserve()
	delay := res.Delay()
	res.Cancel()
	retryAfter := int(delay.Seconds()) + 1

	c.JSON(http.StatusOK, gin.H{"allowed": false, "retry_after": retryAfter})
}

func (s *Server) handleRateLimitReset(c *gin.Context) {
	if !s.failOrContinue(c, "ratelimit") {
		return
	}

	var req struct {
		Bucket string `json:"bucket"`
	}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
	}

	s.mu.Lock()
	if req.Bucket == "" {
		s.limiters = make(map[string]*rate.Limiter)
	} else {
		delete(s.limiters, req.Bucket)
	}
	s.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// =============================================================================
// Usage Reservation
// =============================================================================

func usageKey(userID, model, date string) string {
	return userID + "|" + model + "|" + date
}

func (s *Server) handleUsageIncrement(c *gin.Context) {
	if !s.failOrContinue(c, "usage") {
		return
	}

	var req struct {
		UserID string `json:"user_id"`
		Model  string `json:"model"`
		Date   string `json:"date"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	s.mu.Lock()
	s.usage[usageKey(req.UserID, req.Model, req.Date)]++
	s.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// =============================================================================
// Session Store
// =============================================================================

func (s *Server) handleSessionGet(c *gin.Context) {
	if !s.failOrContinue(c, "sessions") {
		return
	}

	id := c.Param("sessionID")

	s.mu.Lock()
	sess, ok := s.sessions[id]
	var messages []StoredMessage
	if ok {
		messages = make([]StoredMessage, len(sess.Messages))
		copy(messages, sess.Messages)
	}
	s.mu.Unlock()

	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"id": id, "messages": messages})
}

func (s *Server) handleMessageCreate(c *gin.Context) {
	if !s.failOrContinue(c, "sessions") {
		return
	}

	id := c.Param("sessionID")

	var req struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Role == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "role is required"})
		return
	}

	msg := StoredMessage{
		ID:      uuid.New().String(),
		Role:    req.Role,
		Content: req.Content,
	}

	s.mu.Lock()
	sess, ok := s.sessions[id]
	if !ok {
		// First write creates the session, so a fresh session id can be
		// used without a separate create call.
		sess = &session{ID: id}
		s.sessions[id] = sess
	}
	sess.Messages = append(sess.Messages, msg)
	s.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{"id": msg.ID})
}

func (s *Server) handleMessageAppend(c *gin.Context) {
	if !s.failOrContinue(c, "sessions") {
		return
	}

	sessionID := c.Param("sessionID")
	messageID := c.Param("messageID")

	var req struct {
		Content string `json:"content"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	for i := range sess.Messages {
		if sess.Messages[i].ID == messageID {
			sess.Messages[i].Content += req.Content
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
			return
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
}

// =============================================================================
// Tool Services
// =============================================================================

func (s *Server) handleKBSearch(c *gin.Context) {
	if !s.failOrContinue(c, "kb-search") {
		return
	}

	var req datatypes.KBSearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	hits := []datatypes.KBSearchHit{
		{
			Title:   fmt.Sprintf("KB: %s", req.Query),
			Snippet: "This article walks through the most common causes and their fixes.",
			URL:     "https://kb.aleutian.dev/articles/1001",
			Score:   0.92,
		},
		{
			Title:   "Getting started with Aleutian Support",
			Snippet: "Setup, configuration, and first troubleshooting steps.",
			URL:     "https://kb.aleutian.dev/articles/1",
			Score:   0.61,
		},
	}
	if req.TopK > 0 && len(hits) > req.TopK {
		hits = hits[:req.TopK]
	}

	c.JSON(http.StatusOK, datatypes.KBSearchResult{Results: hits})
}

func (s *Server) handleLogAnalysis(c *gin.Context) {
	if !s.failOrContinue(c, "log-analysis") {
		return
	}

	var req datatypes.LogAnalysisRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	lines := strings.Split(req.LogText, "\n")
	var issues []string
	for _, line := range lines {
		lower := strings.ToLower(line)
		if strings.Contains(lower, "error") || strings.Contains(lower, "fatal") ||
			strings.Contains(lower, "panic") {
			if len(issues) < 5 {
				issues = append(issues, strings.TrimSpace(line))
			}
		}
	}

	result := datatypes.LogAnalysisResult{
		OverallSummary: fmt.Sprintf("Scanned %d log lines and flagged %d problem lines.",
			len(lines), len(issues)),
		IdentifiedIssues: issues,
		ProposedSolutions: []string{
			"Check the service configuration for recent changes.",
			"Restart the affected component and watch whether the errors recur.",
		},
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleReasoning(c *gin.Context) {
	if !s.failOrContinue(c, "reasoning") {
		return
	}

	var req datatypes.ReasoningRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	question := req.Question
	if runes := []rune(question); len(runes) > 80 {
		question = string(runes[:80]) + "..."
	}

	c.JSON(http.StatusOK, datatypes.ReasoningResult{
		Success: true,
		Analysis: fmt.Sprintf("Working through %q: the most likely cause is configuration "+
			"drift. Verify the most recent change first, then widen the search.", question),
	})
}

func (s *Server) handleTroubleshooting(c *gin.Context) {
	if !s.failOrContinue(c, "troubleshooting") {
		return
	}

	var req datatypes.TroubleshootingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	c.JSON(http.StatusOK, datatypes.TroubleshootingResult{
		Success:   true,
		SessionID: uuid.New().String(),
		NextSteps: []string{
			"Reproduce the issue and capture the exact error output.",
			"Collect the service logs from the failure window.",
			"Attach the logs to this conversation for analysis.",
		},
	})
}
