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

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestNewStreamFrame_BuilderChain(t *testing.T) {
	frame := NewStreamFrame(FrameTextDelta).
		WithDelta("Hello").
		WithSessionID("42")

	if frame.Type != FrameTextDelta {
		t.Errorf("expected type %q, got %q", FrameTextDelta, frame.Type)
	}
	if frame.Delta != "Hello" {
		t.Errorf("expected delta %q, got %q", "Hello", frame.Delta)
	}
	if frame.SessionID != "42" {
		t.Errorf("expected session id %q, got %q", "42", frame.SessionID)
	}
}

func TestStreamFrame_Marshal_OmitsUnsetFields(t *testing.T) {
	out, err := json.Marshal(NewStreamFrame(FrameDone))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(out) != `{"type":"done"}` {
		t.Errorf("expected minimal frame, got %s", out)
	}
}

func TestStreamFrame_Marshal_TextDelta(t *testing.T) {
	out, err := json.Marshal(NewStreamFrame(FrameTextDelta).WithDelta("chunk"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(out) != `{"type":"text-delta","delta":"chunk"}` {
		t.Errorf("unexpected frame: %s", out)
	}
}

func TestStreamFrame_Marshal_Followups(t *testing.T) {
	frame := NewStreamFrame(FrameFollowups).
		WithFollowups([]string{"How do I reset my password?", "Is there an outage right now?"})

	out, err := json.Marshal(frame)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(string(out), `"type":"data-followups"`) {
		t.Errorf("expected data-followups frame, got %s", out)
	}
	if !strings.Contains(string(out), "reset my password") {
		t.Errorf("expected followup text, got %s", out)
	}
}

func TestStreamFrame_Marshal_Thinking(t *testing.T) {
	frame := NewStreamFrame(FrameThinking).WithThinking(&ThinkingTrace{
		Confidence:   0.85,
		Steps:        []string{"Reviewed the reported symptoms", "Matched them against known issues"},
		ToolDecision: "no tools needed",
	})

	out, err := json.Marshal(frame)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(string(out), `"confidence":0.85`) {
		t.Errorf("expected confidence in payload, got %s", out)
	}
	if !strings.Contains(string(out), `"toolDecision":"no tools needed"`) {
		t.Errorf("expected tool decision in payload, got %s", out)
	}
}

func TestStreamFrame_Marshal_ToolCall(t *testing.T) {
	frame := NewStreamFrame(FrameToolCall).WithToolCall(&ToolCallPayload{
		ID:        "call_1",
		Name:      "analyze_logs",
		Arguments: json.RawMessage(`{"log_text":"ERROR"}`),
	})

	out, err := json.Marshal(frame)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(string(out), `"name":"analyze_logs"`) {
		t.Errorf("expected tool name, got %s", out)
	}
	if !strings.Contains(string(out), `"arguments":{"log_text":"ERROR"}`) {
		t.Errorf("expected raw arguments preserved, got %s", out)
	}
}

func TestStreamFrame_Marshal_LogAnalysis(t *testing.T) {
	frame := NewStreamFrame(FrameLogAnalysis).WithLogAnalysis(DegradedLogAnalysisResult())

	out, err := json.Marshal(frame)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(string(out), `"type":"data-log-analysis"`) {
		t.Errorf("expected data-log-analysis frame, got %s", out)
	}
	if !strings.Contains(string(out), `"overall_summary":"Log analysis service unavailable"`) {
		t.Errorf("expected degraded summary, got %s", out)
	}
}

func TestFrameType_WireNames(t *testing.T) {
	cases := map[FrameType]string{
		FrameStart:           "start",
		FrameTextDelta:       "text-delta",
		FrameTextEnd:         "text-end",
		FrameToolCall:        "tool-call",
		FrameToolResult:      "tool-result",
		FrameFollowups:       "data-followups",
		FrameThinking:        "data-thinking",
		FrameKBSearch:        "data-kb-search",
		FrameLogAnalysis:     "data-log-analysis",
		FrameReasoning:       "data-reasoning",
		FrameTroubleshooting: "data-troubleshooting",
		FrameError:           "error",
		FrameDone:            "done",
	}
	for ft, want := range cases {
		if string(ft) != want {
			t.Errorf("expected frame type %q, got %q", want, ft)
		}
	}
}
