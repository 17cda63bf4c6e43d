// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package annotations derives the UI-only enrichment payloads that ride
// alongside a streamed answer: follow-up suggestions and the post-hoc
// reasoning summary.
//
// Derivation sits behind the Deriver interface so the default keyword
// heuristic can be swapped for a model-backed implementation without
// touching the streaming pipeline.
package annotations

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/AleutianAI/AleutianSupport/services/support/datatypes"
)

// ============================================================================
// Deriver interface
// ============================================================================

// Deriver produces the derived annotations for a streaming turn.
//
// # Description
//
// Followups is called repeatedly while the answer grows, so it must be
// cheap relative to the refresh interval; Thinking is called once, after
// the final token. Both take the answer text accumulated so far, never
// the customer's message.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use; one Deriver instance
// is shared across all in-flight streams.
type Deriver interface {
	// Followups suggests questions the customer is likely to ask next,
	// derived from the answer text so far. The result always carries at
	// least two and at most four entries with no duplicates.
	Followups(ctx context.Context, text string) []string

	// Thinking summarizes how the answer was produced: a confidence
	// score, the reasoning steps, and a label describing what was done
	// with tools this turn. results may be nil when no tools ran;
	// toolsOffered reports whether the model was allowed to call tools.
	Thinking(ctx context.Context, text string, results *datatypes.ToolResultSet, toolsOffered bool) *datatypes.ThinkingTrace
}

const (
	minFollowups = 2
	maxFollowups = 4

	baseConfidence  = 0.6
	groundedBonus   = 0.2
	lengthBonus     = 0.1
	longAnswerRunes = 400
)

// Keyword triggers are matched against the lowercased answer text. The
// auth list leans on substrings ("auth" also catches "authentication",
// "fail" also catches "failure").
var (
	authTriggers    = []string{"login", "log in", "sign in", "signin", "password", "auth", "credential"}
	failureTriggers = []string{"error", "fail", "crash", "exception", "timeout", "unable to"}
)

var (
	authFollowups = []string{
		"Would you like step-by-step instructions for resetting your password?",
		"Are you seeing a specific error message when you try to sign in?",
	}
	failureFollowups = []string{
		"Can you paste the exact error message you are seeing?",
		"When did this problem first start happening?",
	}
	genericFollowups = []string{
		"Is there anything else about this issue I can help with?",
		"Did these steps resolve the problem for you?",
	}
)

// Canned reasoning steps for the thinking trace. The trace is a UI
// affordance, not captured model output, so the steps stay fixed.
var reasoningSteps = []string{
	"Reviewed the conversation to pin down what the customer is asking.",
	"Drafted an answer from product knowledge and any tool findings.",
}

// ============================================================================
// HeuristicDeriver
// ============================================================================

// HeuristicDeriver derives annotations from keyword matching alone. It is
// deterministic, allocation-light, and needs no network, which makes it
// the default for the per-interval follow-up refresh.
type HeuristicDeriver struct{}

var _ Deriver = (*HeuristicDeriver)(nil)

// NewHeuristicDeriver returns the keyword-based deriver.
func NewHeuristicDeriver() *HeuristicDeriver {
	return &HeuristicDeriver{}
}

// Followups implements Deriver. Topic-specific suggestions come first,
// generic ones pad the list to the minimum.
func (d *HeuristicDeriver) Followups(_ context.Context, text string) []string {
	lower := strings.ToLower(text)

	var candidates []string
	if containsAny(lower, authTriggers) {
		candidates = append(candidates, authFollowups...)
	}
	if containsAny(lower, failureTriggers) {
		candidates = append(candidates, failureFollowups...)
	}
	return sanitizeFollowups(candidates)
}

// Thinking implements Deriver. The confidence score is a fixed base plus
// a bonus when the answer is grounded in a knowledge-base or log-analysis
// result and another for substantial answers; it never reaches 1.0.
func (d *HeuristicDeriver) Thinking(_ context.Context, text string, results *datatypes.ToolResultSet, toolsOffered bool) *datatypes.ThinkingTrace {
	confidence := baseConfidence
	if isGrounded(results) {
		confidence += groundedBonus
	}
	if utf8.RuneCountInString(text) >= longAnswerRunes {
		confidence += lengthBonus
	}

	steps := make([]string, len(reasoningSteps))
	copy(steps, reasoningSteps)

	return &datatypes.ThinkingTrace{
		Confidence:   confidence,
		Steps:        steps,
		ToolDecision: toolDecision(results, toolsOffered),
	}
}

// ============================================================================
// Shared helpers
// ============================================================================

// sanitizeFollowups normalizes a candidate list to the annotation
// contract: blanks dropped, duplicates removed keeping the first
// occurrence, padded from the generic pool up to the minimum, capped at
// the maximum. Both derivers route their raw candidates through here.
func sanitizeFollowups(candidates []string) []string {
	seen := make(map[string]struct{}, len(candidates))
	out := make([]string, 0, maxFollowups)

	for _, c := range candidates {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
		if len(out) == maxFollowups {
			return out
		}
	}

	for _, g := range genericFollowups {
		if len(out) >= minFollowups {
			break
		}
		if _, dup := seen[g]; dup {
			continue
		}
		seen[g] = struct{}{}
		out = append(out, g)
	}
	return out
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

func isGrounded(results *datatypes.ToolResultSet) bool {
	if results == nil {
		return false
	}
	return results.LatestKBSearch() != nil || results.LatestLogAnalysis() != nil
}

func toolDecision(results *datatypes.ToolResultSet, toolsOffered bool) string {
	if !toolsOffered {
		return "Answered directly; no log file was attached."
	}
	if results != nil {
		if results.LatestLogAnalysis() != nil {
			return "Analyzed the attached log before answering."
		}
		for _, n := range results.Counts() {
			if n > 0 {
				return "Consulted support tools while drafting the answer."
			}
		}
	}
	return "Tools were available but the question was answerable directly."
}
