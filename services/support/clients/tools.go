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
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tmc/langchaingo/tools"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/AleutianSupport/services/llm"
	"github.com/AleutianAI/AleutianSupport/services/support/datatypes"
	"github.com/AleutianAI/AleutianSupport/services/support/observability"
)

// toolTracer is the OpenTelemetry tracer for tool-service calls.
var toolTracer = otel.Tracer("aleutian.support.clients.tools")

// Tool names as advertised to the model.
const (
	ToolKBSearch        = "search_knowledge_base"
	ToolLogAnalysis     = "analyze_logs"
	ToolReasoning       = "analyze_reasoning"
	ToolTroubleshooting = "start_troubleshooting"
)

// ToolTimeouts carries the per-tool call budgets.
type ToolTimeouts struct {
	KBSearch        time.Duration
	LogAnalysis     time.Duration
	Reasoning       time.Duration
	Troubleshooting time.Duration
}

// =============================================================================
// TurnTools
// =============================================================================

// TurnTools builds the four model-callable tools for one chat turn.
//
// # Description
//
// Each tool proxies a support-backend service. A TurnTools instance is
// created per turn because the tools share turn-local state: every
// execution outcome (success or degraded) is recorded in the turn's
// ToolResultSet for later annotation emission, and the log-analysis tool
// falls back to the turn's attached log text when the model omits it
// from the arguments.
//
// Tool calls never fail the turn. A backend failure or timeout degrades
// to the tool's typed substitute payload, which is returned to the model
// and recorded exactly like a success.
//
// # Thread Safety
//
// Thread-safe. The ToolResultSet serializes recording internally.
type TurnTools struct {
	backend     *BackendClient
	timeouts    ToolTimeouts
	results     *datatypes.ToolResultSet
	attachedLog string
}

// NewTurnTools creates the tool builder for one turn.
//
// attachedLog is the turn's attachedLogText, used as the log-analysis
// input when the model's arguments omit one. May be empty.
func NewTurnTools(backend *BackendClient, timeouts ToolTimeouts, results *datatypes.ToolResultSet, attachedLog string) *TurnTools {
	return &TurnTools{
		backend:     backend,
		timeouts:    timeouts,
		results:     results,
		attachedLog: attachedLog,
	}
}

// Specs returns the four tools with their argument schemas, ready to
// hand to a provider client.
func (t *TurnTools) Specs() []llm.ToolSpec {
	return []llm.ToolSpec{
		{Tool: &kbSearchTool{t: t}, Schema: kbSearchSchema},
		{Tool: &logAnalysisTool{t: t}, Schema: logAnalysisSchema},
		{Tool: &reasoningTool{t: t}, Schema: reasoningSchema},
		{Tool: &troubleshootingTool{t: t}, Schema: troubleshootingSchema},
	}
}

// Results returns the turn's tool outcome collection.
func (t *TurnTools) Results() *datatypes.ToolResultSet {
	return t.results
}

// =============================================================================
// Argument Schemas
// =============================================================================

var kbSearchSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"query": map[string]any{
			"type":        "string",
			"description": "Search terms describing the customer's problem or question.",
		},
		"top_k": map[string]any{
			"type":        "integer",
			"description": "Maximum number of articles to return (default 5).",
		},
	},
	"required": []string{"query"},
}

var logAnalysisSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"log_text": map[string]any{
			"type":        "string",
			"description": "The raw log content to analyze. Omit to analyze the log the customer attached.",
		},
		"context": map[string]any{
			"type":        "string",
			"description": "Optional context about what the customer was doing when the problem occurred.",
		},
	},
}

var reasoningSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"question": map[string]any{
			"type":        "string",
			"description": "The question or problem statement to analyze step by step.",
		},
		"context": map[string]any{
			"type":        "string",
			"description": "Optional supporting detail from the conversation.",
		},
	},
	"required": []string{"question"},
}

var troubleshootingSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"issue": map[string]any{
			"type":        "string",
			"description": "Short description of the issue to troubleshoot.",
		},
		"product": map[string]any{
			"type":        "string",
			"description": "Optional product or component name.",
		},
	},
	"required": []string{"issue"},
}

// =============================================================================
// Knowledge-Base Search Tool
// =============================================================================

var _ tools.Tool = (*kbSearchTool)(nil)

type kbSearchTool struct {
	t *TurnTools
}

func (k *kbSearchTool) Name() string {
	return ToolKBSearch
}

func (k *kbSearchTool) Description() string {
	return "Search the product knowledge base for help articles relevant to the customer's question. " +
		"Use this to ground answers about product features, known issues, and how-to steps."
}

func (k *kbSearchTool) Call(ctx context.Context, input string) (string, error) {
	ctx, span := toolTracer.Start(ctx, "kbSearchTool.Call")
	defer span.End()

	var req datatypes.KBSearchRequest
	if !parseToolInput(input, &req) || req.Query == "" {
		req.Query = fallbackText(input)
	}
	if req.TopK <= 0 {
		req.TopK = 5
	}
	span.SetAttributes(attribute.String("tool.query", req.Query))

	ctx, cancel := context.WithTimeout(ctx, k.t.timeouts.KBSearch)
	defer cancel()

	var result datatypes.KBSearchResult
	err := k.t.backend.doJSONWithRetry(ctx, http.MethodPost, "/tools/kb-search", "", req, &result)
	if err != nil {
		err = asTimeout("knowledge base search", k.t.timeouts.KBSearch, err)
		span.RecordError(err)
		slog.Warn("Knowledge base search degraded", "error", err)
		result = *datatypes.DegradedKBSearchResult(err)
	}
	if result.Results == nil {
		result.Results = []datatypes.KBSearchHit{}
	}

	k.t.results.AddKBSearch(&result)
	recordToolCall(ToolKBSearch, err != nil)
	span.SetAttributes(attribute.Int("tool.results", len(result.Results)))
	return marshalToolResult(result), nil
}

// =============================================================================
// Log Analysis Tool
// =============================================================================

var _ tools.Tool = (*logAnalysisTool)(nil)

type logAnalysisTool struct {
	t *TurnTools
}

func (l *logAnalysisTool) Name() string {
	return ToolLogAnalysis
}

func (l *logAnalysisTool) Description() string {
	return "Analyze an application log to identify errors, their likely causes, and proposed fixes. " +
		"Always use this when the customer has attached a log file."
}

func (l *logAnalysisTool) Call(ctx context.Context, input string) (string, error) {
	ctx, span := toolTracer.Start(ctx, "logAnalysisTool.Call")
	defer span.End()

	var req datatypes.LogAnalysisRequest
	parseToolInput(input, &req)
	if req.LogText == "" {
		req.LogText = l.t.attachedLog
	}
	span.SetAttributes(attribute.Int("tool.log_chars", len(req.LogText)))

	ctx, cancel := context.WithTimeout(ctx, l.t.timeouts.LogAnalysis)
	defer cancel()

	var result datatypes.LogAnalysisResult
	err := l.t.backend.doJSONWithRetry(ctx, http.MethodPost, "/tools/log-analysis", "", req, &result)
	if err != nil {
		err = asTimeout("log analysis", l.t.timeouts.LogAnalysis, err)
		span.RecordError(err)
		slog.Warn("Log analysis degraded", "error", err)
		result = *datatypes.DegradedLogAnalysisResult()
	}
	if result.IdentifiedIssues == nil {
		result.IdentifiedIssues = []string{}
	}
	if result.ProposedSolutions == nil {
		result.ProposedSolutions = []string{}
	}

	l.t.results.AddLogAnalysis(&result)
	recordToolCall(ToolLogAnalysis, err != nil)
	return marshalToolResult(result), nil
}

// =============================================================================
// Reasoning Tool
// =============================================================================

var _ tools.Tool = (*reasoningTool)(nil)

type reasoningTool struct {
	t *TurnTools
}

func (r *reasoningTool) Name() string {
	return ToolReasoning
}

func (r *reasoningTool) Description() string {
	return "Run a deeper multi-step analysis of a complex customer problem before answering. " +
		"Use this when the question involves several interacting causes."
}

func (r *reasoningTool) Call(ctx context.Context, input string) (string, error) {
	ctx, span := toolTracer.Start(ctx, "reasoningTool.Call")
	defer span.End()

	var req datatypes.ReasoningRequest
	if !parseToolInput(input, &req) || req.Question == "" {
		req.Question = fallbackText(input)
	}

	ctx, cancel := context.WithTimeout(ctx, r.t.timeouts.Reasoning)
	defer cancel()

	var result datatypes.ReasoningResult
	err := r.t.backend.doJSONWithRetry(ctx, http.MethodPost, "/tools/reasoning", "", req, &result)
	if err != nil {
		err = asTimeout("reasoning analysis", r.t.timeouts.Reasoning, err)
		span.RecordError(err)
		slog.Warn("Reasoning analysis degraded", "error", err)
		result = *datatypes.DegradedReasoningResult(err)
	}

	r.t.results.AddReasoning(&result)
	recordToolCall(ToolReasoning, err != nil)
	return marshalToolResult(result), nil
}

// =============================================================================
// Troubleshooting Tool
// =============================================================================

var _ tools.Tool = (*troubleshootingTool)(nil)

type troubleshootingTool struct {
	t *TurnTools
}

func (s *troubleshootingTool) Name() string {
	return ToolTroubleshooting
}

func (s *troubleshootingTool) Description() string {
	return "Open a guided troubleshooting session for the customer's issue and return the first steps. " +
		"Use this when the problem needs hands-on diagnosis rather than an article."
}

func (s *troubleshootingTool) Call(ctx context.Context, input string) (string, error) {
	ctx, span := toolTracer.Start(ctx, "troubleshootingTool.Call")
	defer span.End()

	var req datatypes.TroubleshootingRequest
	if !parseToolInput(input, &req) || req.Issue == "" {
		req.Issue = fallbackText(input)
	}

	ctx, cancel := context.WithTimeout(ctx, s.t.timeouts.Troubleshooting)
	defer cancel()

	var result datatypes.TroubleshootingResult
	err := s.t.backend.doJSONWithRetry(ctx, http.MethodPost, "/tools/troubleshooting", "", req, &result)
	if err != nil {
		err = asTimeout("troubleshooting", s.t.timeouts.Troubleshooting, err)
		span.RecordError(err)
		slog.Warn("Troubleshooting degraded", "error", err)
		result = *datatypes.DegradedTroubleshootingResult(err)
	}

	s.t.results.AddTroubleshooting(&result)
	recordToolCall(ToolTroubleshooting, err != nil)
	return marshalToolResult(result), nil
}

// =============================================================================
// Helpers
// =============================================================================

// parseToolInput decodes the model's argument JSON into dst. Returns
// false when the input is not a JSON object matching dst.
func parseToolInput(input string, dst any) bool {
	return json.Unmarshal([]byte(input), dst) == nil
}

// fallbackText recovers a usable primary argument from malformed tool
// input: a bare JSON string is unquoted, anything else is trimmed raw.
func fallbackText(input string) string {
	var s string
	if err := json.Unmarshal([]byte(input), &s); err == nil {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(input)
}

// marshalToolResult renders a tool outcome as the JSON handed back to
// the model.
func marshalToolResult(result any) string {
	out, err := json.Marshal(result)
	if err != nil {
		return "{}"
	}
	return string(out)
}

func recordToolCall(tool string, degraded bool) {
	if m := observability.DefaultMetrics; m != nil {
		m.RecordToolCall(tool, degraded)
	}
}
