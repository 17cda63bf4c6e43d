// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import "sync"

// =============================================================================
// Knowledge-Base Search
// =============================================================================

// KBSearchRequest is the body of the knowledge-base search call.
type KBSearchRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k,omitempty"`
}

// KBSearchHit is a single knowledge-base article match.
type KBSearchHit struct {
	Title   string  `json:"title"`
	Snippet string  `json:"snippet"`
	URL     string  `json:"url,omitempty"`
	Score   float64 `json:"score,omitempty"`
}

// KBSearchResult is the knowledge-base search outcome.
type KBSearchResult struct {
	Results []KBSearchHit `json:"results"`
	Error   string        `json:"error,omitempty"`
}

// DegradedKBSearchResult is the substitute payload when the knowledge-base
// service call fails: an empty result set plus the failure marker.
func DegradedKBSearchResult(err error) *KBSearchResult {
	return &KBSearchResult{Results: []KBSearchHit{}, Error: errText(err)}
}

// =============================================================================
// Log Analysis
// =============================================================================

// LogAnalysisRequest is the body of the log-analysis call.
type LogAnalysisRequest struct {
	LogText string `json:"log_text"`
	Context string `json:"context,omitempty"`
}

// LogAnalysisResult is the log-analysis outcome.
type LogAnalysisResult struct {
	OverallSummary    string   `json:"overall_summary"`
	IdentifiedIssues  []string `json:"identified_issues"`
	ProposedSolutions []string `json:"proposed_solutions"`
}

// DegradedLogAnalysisResult is the substitute payload when the log-analysis
// service call fails. The summary doubles as the failure marker; issue and
// solution lists are empty, never null.
func DegradedLogAnalysisResult() *LogAnalysisResult {
	return &LogAnalysisResult{
		OverallSummary:    "Log analysis service unavailable",
		IdentifiedIssues:  []string{},
		ProposedSolutions: []string{},
	}
}

// =============================================================================
// Reasoning
// =============================================================================

// ReasoningRequest is the body of the multi-step reasoning call.
type ReasoningRequest struct {
	Question string `json:"question"`
	Context  string `json:"context,omitempty"`
}

// ReasoningResult is the reasoning-service outcome.
type ReasoningResult struct {
	Success  bool   `json:"success"`
	Analysis string `json:"analysis,omitempty"`
	Error    string `json:"error,omitempty"`
}

// DegradedReasoningResult is the substitute payload when the reasoning
// service call fails.
func DegradedReasoningResult(err error) *ReasoningResult {
	return &ReasoningResult{Success: false, Error: errText(err)}
}

// =============================================================================
// Troubleshooting
// =============================================================================

// TroubleshootingRequest is the body of the troubleshooting-session call.
type TroubleshootingRequest struct {
	Issue   string `json:"issue"`
	Product string `json:"product,omitempty"`
}

// TroubleshootingResult is the troubleshooting-service outcome.
type TroubleshootingResult struct {
	Success   bool     `json:"success"`
	SessionID string   `json:"session_id,omitempty"`
	NextSteps []string `json:"next_steps,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// DegradedTroubleshootingResult is the substitute payload when the
// troubleshooting service call fails.
func DegradedTroubleshootingResult(err error) *TroubleshootingResult {
	return &TroubleshootingResult{Success: false, Error: errText(err)}
}

func errText(err error) string {
	if err == nil {
		return "service unavailable"
	}
	return err.Error()
}

// =============================================================================
// Per-Turn Tool Result Collection
// =============================================================================

// ToolResultSet collects every tool outcome produced during one streaming
// turn, in invocation order per kind. It lives for the turn only and is
// never persisted; the analysis consumer reads the latest entry per kind
// when it builds the end-of-turn annotations.
//
// Safe for concurrent use: the generator records results while the consumer
// side of the stream reads them.
type ToolResultSet struct {
	mu              sync.Mutex
	kbSearch        []*KBSearchResult
	logAnalysis     []*LogAnalysisResult
	reasoning       []*ReasoningResult
	troubleshooting []*TroubleshootingResult
}

// NewToolResultSet creates an empty collection.
func NewToolResultSet() *ToolResultSet {
	return &ToolResultSet{}
}

// AddKBSearch records a knowledge-base search outcome.
func (s *ToolResultSet) AddKBSearch(r *KBSearchResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kbSearch = append(s.kbSearch, r)
}

// AddLogAnalysis records a log-analysis outcome.
func (s *ToolResultSet) AddLogAnalysis(r *LogAnalysisResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logAnalysis = append(s.logAnalysis, r)
}

// AddReasoning records a reasoning outcome.
func (s *ToolResultSet) AddReasoning(r *ReasoningResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reasoning = append(s.reasoning, r)
}

// AddTroubleshooting records a troubleshooting outcome.
func (s *ToolResultSet) AddTroubleshooting(r *TroubleshootingResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.troubleshooting = append(s.troubleshooting, r)
}

// LatestKBSearch returns the most recent knowledge-base search outcome,
// or nil when the tool never ran this turn.
func (s *ToolResultSet) LatestKBSearch() *KBSearchResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.kbSearch) == 0 {
		return nil
	}
	return s.kbSearch[len(s.kbSearch)-1]
}

// LatestLogAnalysis returns the most recent log-analysis outcome, or nil.
func (s *ToolResultSet) LatestLogAnalysis() *LogAnalysisResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.logAnalysis) == 0 {
		return nil
	}
	return s.logAnalysis[len(s.logAnalysis)-1]
}

// LatestReasoning returns the most recent reasoning outcome, or nil.
func (s *ToolResultSet) LatestReasoning() *ReasoningResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.reasoning) == 0 {
		return nil
	}
	return s.reasoning[len(s.reasoning)-1]
}

// LatestTroubleshooting returns the most recent troubleshooting outcome,
// or nil.
func (s *ToolResultSet) LatestTroubleshooting() *TroubleshootingResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.troubleshooting) == 0 {
		return nil
	}
	return s.troubleshooting[len(s.troubleshooting)-1]
}

// Counts returns the number of recorded outcomes per tool kind, for
// logging at turn end.
func (s *ToolResultSet) Counts() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return map[string]int{
		"kb_search":       len(s.kbSearch),
		"log_analysis":    len(s.logAnalysis),
		"reasoning":       len(s.reasoning),
		"troubleshooting": len(s.troubleshooting),
	}
}
