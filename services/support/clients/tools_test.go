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
	"io"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianSupport/services/llm"
	"github.com/AleutianAI/AleutianSupport/services/support/datatypes"
)

// testTimeouts keeps tool budgets generous so only the explicit timeout
// test ever trips one.
var testTimeouts = ToolTimeouts{
	KBSearch:        5 * time.Second,
	LogAnalysis:     5 * time.Second,
	Reasoning:       5 * time.Second,
	Troubleshooting: 5 * time.Second,
}

func newTurnToolsForTest(t *testing.T, handler http.HandlerFunc, attachedLog string) (*TurnTools, *datatypes.ToolResultSet) {
	t.Helper()
	results := datatypes.NewToolResultSet()
	backend := newBackendServer(t, handler)
	return NewTurnTools(backend, testTimeouts, results, attachedLog), results
}

func specByName(t *testing.T, turnTools *TurnTools, name string) llm.ToolSpec {
	t.Helper()
	for _, spec := range turnTools.Specs() {
		if spec.Tool.Name() == name {
			return spec
		}
	}
	t.Fatalf("tool %q not found in specs", name)
	return llm.ToolSpec{}
}

func TestTurnToolsSpecs_AdvertisesAllFourTools(t *testing.T) {
	turnTools, _ := newTurnToolsForTest(t, func(w http.ResponseWriter, r *http.Request) {}, "")

	specs := turnTools.Specs()

	require.Len(t, specs, 4)
	names := make([]string, 0, len(specs))
	for _, spec := range specs {
		names = append(names, spec.Tool.Name())
		assert.NotEmpty(t, spec.Tool.Description(), "tool %s needs a model-facing description", spec.Tool.Name())
		assert.Equal(t, "object", spec.Schema["type"], "tool %s schema", spec.Tool.Name())
	}
	assert.Equal(t, []string{ToolKBSearch, ToolLogAnalysis, ToolReasoning, ToolTroubleshooting}, names)
}

func TestKBSearchTool_Success(t *testing.T) {
	var gotReq datatypes.KBSearchRequest
	turnTools, results := newTurnToolsForTest(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/tools/kb-search", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &gotReq))
		w.Write([]byte(`{"results": [{"title": "Reset guide", "snippet": "Go to settings."}]}`))
	}, "")
	tool := specByName(t, turnTools, ToolKBSearch).Tool

	out, err := tool.Call(context.Background(), `{"query": "reset password", "top_k": 3}`)

	require.NoError(t, err)
	assert.Equal(t, "reset password", gotReq.Query)
	assert.Equal(t, 3, gotReq.TopK)
	assert.JSONEq(t, `{"results": [{"title": "Reset guide", "snippet": "Go to settings."}]}`, out)

	latest := results.LatestKBSearch()
	require.NotNil(t, latest)
	assert.Len(t, latest.Results, 1)
	assert.Empty(t, latest.Error)
}

func TestKBSearchTool_MalformedInputBecomesQuery(t *testing.T) {
	var gotReq datatypes.KBSearchRequest
	turnTools, _ := newTurnToolsForTest(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &gotReq))
		w.Write([]byte(`{"results": []}`))
	}, "")
	tool := specByName(t, turnTools, ToolKBSearch).Tool

	_, err := tool.Call(context.Background(), `"login keeps failing"`)

	require.NoError(t, err)
	assert.Equal(t, "login keeps failing", gotReq.Query)
	assert.Equal(t, 5, gotReq.TopK, "default top_k applies")
}

func TestKBSearchTool_DegradesOnBackendFailure(t *testing.T) {
	turnTools, results := newTurnToolsForTest(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}, "")
	tool := specByName(t, turnTools, ToolKBSearch).Tool

	out, err := tool.Call(context.Background(), `{"query": "anything"}`)

	require.NoError(t, err, "tool failures degrade, they never abort generation")

	var result datatypes.KBSearchResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Empty(t, result.Results)
	assert.NotEmpty(t, result.Error)
	assert.Contains(t, out, `"results":[]`, "empty result set serializes as [], not null")

	latest := results.LatestKBSearch()
	require.NotNil(t, latest)
	assert.NotEmpty(t, latest.Error)
}

func TestKBSearchTool_TimeoutNamesTheService(t *testing.T) {
	results := datatypes.NewToolResultSet()
	backend := newBackendServer(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		w.Write([]byte(`{"results": []}`))
	})
	timeouts := testTimeouts
	timeouts.KBSearch = 50 * time.Millisecond
	turnTools := NewTurnTools(backend, timeouts, results, "")
	tool := specByName(t, turnTools, ToolKBSearch).Tool

	out, err := tool.Call(context.Background(), `{"query": "slow"}`)

	require.NoError(t, err)
	var result datatypes.KBSearchResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Contains(t, result.Error, "did not respond within")
}

func TestLogAnalysisTool_Success(t *testing.T) {
	var gotReq datatypes.LogAnalysisRequest
	turnTools, results := newTurnToolsForTest(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/tools/log-analysis", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &gotReq))
		w.Write([]byte(`{
			"overall_summary": "Auth token expired",
			"identified_issues": ["401 responses after 14:02"],
			"proposed_solutions": ["Refresh the session token"]
		}`))
	}, "")
	tool := specByName(t, turnTools, ToolLogAnalysis).Tool

	out, err := tool.Call(context.Background(), `{"log_text": "ERROR 401 unauthorized", "context": "after login"}`)

	require.NoError(t, err)
	assert.Equal(t, "ERROR 401 unauthorized", gotReq.LogText)
	assert.Equal(t, "after login", gotReq.Context)
	assert.Contains(t, out, "Auth token expired")

	latest := results.LatestLogAnalysis()
	require.NotNil(t, latest)
	assert.Equal(t, "Auth token expired", latest.OverallSummary)
}

func TestLogAnalysisTool_FallsBackToAttachedLog(t *testing.T) {
	var gotReq datatypes.LogAnalysisRequest
	turnTools, _ := newTurnToolsForTest(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &gotReq))
		w.Write([]byte(`{"overall_summary": "ok", "identified_issues": [], "proposed_solutions": []}`))
	}, "ERROR attached log content")
	tool := specByName(t, turnTools, ToolLogAnalysis).Tool

	_, err := tool.Call(context.Background(), `{}`)

	require.NoError(t, err)
	assert.Equal(t, "ERROR attached log content", gotReq.LogText)
}

func TestLogAnalysisTool_DegradedShapeIsFixed(t *testing.T) {
	turnTools, results := newTurnToolsForTest(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}, "some log")
	tool := specByName(t, turnTools, ToolLogAnalysis).Tool

	out, err := tool.Call(context.Background(), `{}`)

	require.NoError(t, err)
	assert.JSONEq(t, `{
		"overall_summary": "Log analysis service unavailable",
		"identified_issues": [],
		"proposed_solutions": []
	}`, out)

	latest := results.LatestLogAnalysis()
	require.NotNil(t, latest)
	assert.Equal(t, "Log analysis service unavailable", latest.OverallSummary)
}

func TestReasoningTool_SuccessAndDegraded(t *testing.T) {
	turnTools, results := newTurnToolsForTest(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/tools/reasoning", r.URL.Path)
		w.Write([]byte(`{"success": true, "analysis": "Two causes interact."}`))
	}, "")
	tool := specByName(t, turnTools, ToolReasoning).Tool

	out, err := tool.Call(context.Background(), `{"question": "why does sync fail?"}`)
	require.NoError(t, err)
	assert.Contains(t, out, "Two causes interact.")
	require.NotNil(t, results.LatestReasoning())
	assert.True(t, results.LatestReasoning().Success)

	degradedTools, degradedResults := newTurnToolsForTest(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}, "")
	degraded := specByName(t, degradedTools, ToolReasoning).Tool

	out, err = degraded.Call(context.Background(), `{"question": "why?"}`)
	require.NoError(t, err)

	var result datatypes.ReasoningResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.False(t, result.Success)
	assert.NotEmpty(t, result.Error)
	require.NotNil(t, degradedResults.LatestReasoning())
	assert.False(t, degradedResults.LatestReasoning().Success)
}

func TestTroubleshootingTool_SuccessAndDegraded(t *testing.T) {
	turnTools, results := newTurnToolsForTest(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/tools/troubleshooting", r.URL.Path)
		w.Write([]byte(`{"success": true, "session_id": "ts-7", "next_steps": ["Collect a fresh log"]}`))
	}, "")
	tool := specByName(t, turnTools, ToolTroubleshooting).Tool

	out, err := tool.Call(context.Background(), `{"issue": "printer offline"}`)
	require.NoError(t, err)
	assert.Contains(t, out, "ts-7")
	require.NotNil(t, results.LatestTroubleshooting())
	assert.Equal(t, []string{"Collect a fresh log"}, results.LatestTroubleshooting().NextSteps)

	degradedTools, _ := newTurnToolsForTest(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}, "")
	degraded := specByName(t, degradedTools, ToolTroubleshooting).Tool

	out, err = degraded.Call(context.Background(), `{"issue": "printer offline"}`)
	require.NoError(t, err)

	var result datatypes.TroubleshootingResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.False(t, result.Success)
	assert.NotEmpty(t, result.Error)
}

func TestToolCall_RetriesTransientBackendFailure(t *testing.T) {
	var calls atomic.Int32
	turnTools, results := newTurnToolsForTest(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"results": [{"title": "Found it"}]}`))
	}, "")
	tool := specByName(t, turnTools, ToolKBSearch).Tool

	out, err := tool.Call(context.Background(), `{"query": "transient"}`)

	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
	assert.Contains(t, out, "Found it")
	require.NotNil(t, results.LatestKBSearch())
	assert.Empty(t, results.LatestKBSearch().Error)
}

func TestFallbackText(t *testing.T) {
	assert.Equal(t, "plain words", fallbackText("plain words"))
	assert.Equal(t, "quoted query", fallbackText(`"quoted query"`))
	assert.Equal(t, "padded", fallbackText("  padded  "))
}
