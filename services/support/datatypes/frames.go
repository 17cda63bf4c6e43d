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

import "encoding/json"

// FrameType identifies a streaming chat frame on the wire.
type FrameType string

// Frame types emitted during a streaming turn, in rough lifecycle order.
const (
	FrameStart     FrameType = "start"
	FrameTextDelta FrameType = "text-delta"
	FrameTextEnd   FrameType = "text-end"

	FrameToolCall   FrameType = "tool-call"
	FrameToolResult FrameType = "tool-result"

	FrameFollowups       FrameType = "data-followups"
	FrameThinking        FrameType = "data-thinking"
	FrameKBSearch        FrameType = "data-kb-search"
	FrameLogAnalysis     FrameType = "data-log-analysis"
	FrameReasoning       FrameType = "data-reasoning"
	FrameTroubleshooting FrameType = "data-troubleshooting"

	FrameError FrameType = "error"
	FrameDone  FrameType = "done"
)

// ToolCallPayload describes a model-initiated tool invocation.
type ToolCallPayload struct {
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ToolResultPayload carries a tool's outcome back to the client.
type ToolResultPayload struct {
	ID     string          `json:"id,omitempty"`
	Name   string          `json:"name"`
	Output json.RawMessage `json:"output,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// ThinkingTrace is the model's post-hoc reasoning summary emitted once per
// turn alongside the final text.
type ThinkingTrace struct {
	Confidence   float64  `json:"confidence"`
	Steps        []string `json:"steps"`
	ToolDecision string   `json:"toolDecision"`
}

// StreamFrame is one event in a streaming chat response.
//
// Exactly the fields relevant to the frame's Type are populated; everything
// else stays empty and is omitted on the wire. The trailing metadata block
// (ID, CreatedAt, Hash, PrevHash) is stamped by the transport writer at
// send time; builders leave it zero.
type StreamFrame struct {
	Type      FrameType `json:"type"`
	Message   string    `json:"message,omitempty"`
	Delta     string    `json:"delta,omitempty"`
	SessionID string    `json:"sessionId,omitempty"`

	ToolCall   *ToolCallPayload   `json:"toolCall,omitempty"`
	ToolResult *ToolResultPayload `json:"toolResult,omitempty"`

	Followups       []string               `json:"followups,omitempty"`
	Thinking        *ThinkingTrace         `json:"thinking,omitempty"`
	KBSearch        *KBSearchResult        `json:"kbSearch,omitempty"`
	LogAnalysis     *LogAnalysisResult     `json:"logAnalysis,omitempty"`
	Reasoning       *ReasoningResult       `json:"reasoning,omitempty"`
	Troubleshooting *TroubleshootingResult `json:"troubleshooting,omitempty"`

	Error string `json:"error,omitempty"`

	ID        string `json:"id,omitempty"`
	CreatedAt int64  `json:"createdAt,omitempty"`
	Hash      string `json:"hash,omitempty"`
	PrevHash  string `json:"prevHash,omitempty"`
}

// NewStreamFrame creates a frame of the given type.
func NewStreamFrame(t FrameType) *StreamFrame {
	return &StreamFrame{Type: t}
}

// WithMessage sets a human-readable status message.
func (f *StreamFrame) WithMessage(msg string) *StreamFrame {
	f.Message = msg
	return f
}

// WithDelta sets the text-delta payload.
func (f *StreamFrame) WithDelta(delta string) *StreamFrame {
	f.Delta = delta
	return f
}

// WithSessionID tags the frame with the durable session id.
func (f *StreamFrame) WithSessionID(id string) *StreamFrame {
	f.SessionID = id
	return f
}

// WithToolCall attaches a tool invocation payload.
func (f *StreamFrame) WithToolCall(tc *ToolCallPayload) *StreamFrame {
	f.ToolCall = tc
	return f
}

// WithToolResult attaches a tool outcome payload.
func (f *StreamFrame) WithToolResult(tr *ToolResultPayload) *StreamFrame {
	f.ToolResult = tr
	return f
}

// WithFollowups attaches suggested follow-up questions.
func (f *StreamFrame) WithFollowups(followups []string) *StreamFrame {
	f.Followups = followups
	return f
}

// WithThinking attaches the reasoning summary.
func (f *StreamFrame) WithThinking(t *ThinkingTrace) *StreamFrame {
	f.Thinking = t
	return f
}

// WithKBSearch attaches a knowledge-base search result.
func (f *StreamFrame) WithKBSearch(r *KBSearchResult) *StreamFrame {
	f.KBSearch = r
	return f
}

// WithLogAnalysis attaches a log-analysis result.
func (f *StreamFrame) WithLogAnalysis(r *LogAnalysisResult) *StreamFrame {
	f.LogAnalysis = r
	return f
}

// WithReasoning attaches a reasoning-service result.
func (f *StreamFrame) WithReasoning(r *ReasoningResult) *StreamFrame {
	f.Reasoning = r
	return f
}

// WithTroubleshooting attaches a troubleshooting-session result.
func (f *StreamFrame) WithTroubleshooting(r *TroubleshootingResult) *StreamFrame {
	f.Troubleshooting = r
	return f
}

// WithError sets the error text.
func (f *StreamFrame) WithError(msg string) *StreamFrame {
	f.Error = msg
	return f
}
