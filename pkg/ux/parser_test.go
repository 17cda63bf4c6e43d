// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"testing"

	"github.com/AleutianAI/AleutianSupport/services/support/datatypes"
)

// =============================================================================
// ParseLine Tests
// =============================================================================

func TestFrameParser_ParseLine_EmptyLine(t *testing.T) {
	parser := NewFrameParser()

	frame, err := parser.ParseLine("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if frame != nil {
		t.Errorf("expected nil frame for empty line, got %+v", frame)
	}
}

func TestFrameParser_ParseLine_WhitespaceOnly(t *testing.T) {
	parser := NewFrameParser()

	frame, err := parser.ParseLine("   \t  ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if frame != nil {
		t.Errorf("expected nil frame for whitespace line, got %+v", frame)
	}
}

func TestFrameParser_ParseLine_KeepaliveComment(t *testing.T) {
	parser := NewFrameParser()

	frame, err := parser.ParseLine(": keepalive")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if frame != nil {
		t.Errorf("expected nil frame for comment, got %+v", frame)
	}
}

func TestFrameParser_ParseLine_EventField(t *testing.T) {
	parser := NewFrameParser()

	// The event name is advisory; frames carry their own type.
	frame, err := parser.ParseLine("event: text-delta")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if frame != nil {
		t.Errorf("expected nil frame for event field, got %+v", frame)
	}
}

func TestFrameParser_ParseLine_DataLine(t *testing.T) {
	parser := NewFrameParser()

	frame, err := parser.ParseLine(`data: {"type":"text-delta","delta":"Hello"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if frame == nil {
		t.Fatal("expected frame, got nil")
	}
	if frame.Type != datatypes.FrameTextDelta {
		t.Errorf("expected type text-delta, got %q", frame.Type)
	}
	if frame.Delta != "Hello" {
		t.Errorf("expected delta 'Hello', got %q", frame.Delta)
	}
}

func TestFrameParser_ParseLine_DataLineNoSpace(t *testing.T) {
	parser := NewFrameParser()

	frame, err := parser.ParseLine(`data:{"type":"done","sessionId":"sess-1"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if frame == nil {
		t.Fatal("expected frame, got nil")
	}
	if frame.Type != datatypes.FrameDone {
		t.Errorf("expected type done, got %q", frame.Type)
	}
	if frame.SessionID != "sess-1" {
		t.Errorf("expected sessionId 'sess-1', got %q", frame.SessionID)
	}
}

func TestFrameParser_ParseLine_MalformedData(t *testing.T) {
	parser := NewFrameParser()

	_, err := parser.ParseLine(`data: {"type":"text-delta"`)
	if err == nil {
		t.Error("expected error for malformed payload")
	}
}

func TestFrameParser_ParseLine_MissingType(t *testing.T) {
	parser := NewFrameParser()

	_, err := parser.ParseLine(`data: {"delta":"orphan"}`)
	if err == nil {
		t.Error("expected error for payload without type")
	}
}

func TestFrameParser_ParseLine_UnknownLine(t *testing.T) {
	parser := NewFrameParser()

	_, err := parser.ParseLine("garbage without any field separator")
	if err == nil {
		t.Error("expected error for unrecognized line")
	}
}

// =============================================================================
// ParseData Tests
// =============================================================================

func TestFrameParser_ParseData_PreservesHashFields(t *testing.T) {
	parser := NewFrameParser()

	payload := `{"type":"start","sessionId":"sess-9","id":"f-1","createdAt":1700000000000,"hash":"abc","prevHash":""}`
	frame, err := parser.ParseData([]byte(payload))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if frame.ID != "f-1" {
		t.Errorf("expected ID 'f-1', got %q", frame.ID)
	}
	if frame.CreatedAt != 1700000000000 {
		t.Errorf("expected CreatedAt preserved, got %d", frame.CreatedAt)
	}
	if frame.Hash != "abc" {
		t.Errorf("expected Hash 'abc', got %q", frame.Hash)
	}
	if frame.PrevHash != "" {
		t.Errorf("expected empty PrevHash, got %q", frame.PrevHash)
	}
}

func TestFrameParser_ParseData_ToolCallPayload(t *testing.T) {
	parser := NewFrameParser()

	payload := `{"type":"tool-call","toolCall":{"id":"tc-1","name":"kb_search","arguments":{"query":"vpn"}}}`
	frame, err := parser.ParseData([]byte(payload))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if frame.Type != datatypes.FrameToolCall {
		t.Errorf("expected tool-call type, got %q", frame.Type)
	}
	if frame.ToolCall == nil {
		t.Fatal("expected ToolCall payload")
	}
	if frame.ToolCall.Name != "kb_search" {
		t.Errorf("expected tool name 'kb_search', got %q", frame.ToolCall.Name)
	}
}
