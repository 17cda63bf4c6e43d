package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/AleutianAI/AleutianSupport/services/support/datatypes"
	"github.com/tmc/langchaingo/tools"
)

// maxToolRounds bounds the generate/execute loop so a model that keeps
// requesting tools cannot spin forever.
const maxToolRounds = 6

type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopK        *int     `json:"top_k"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// ToolChoice controls whether the model may invoke tools during a turn.
type ToolChoice string

const (
	ToolChoiceAuto ToolChoice = "auto"
	ToolChoiceNone ToolChoice = "none"
)

// ToolSpec pairs an executable tool with the JSON schema advertised to
// the model for its arguments.
type ToolSpec struct {
	Schema map[string]any
	Tool   tools.Tool
}

// ChatRequest is one conversation turn handed to a provider.
type ChatRequest struct {
	System     string
	Messages   []datatypes.ChatMessage
	Params     GenerationParams
	Tools      []ToolSpec
	ToolChoice ToolChoice
}

// StreamEventType identifies a streaming generation event.
type StreamEventType string

const (
	StreamEventToken      StreamEventType = "token"
	StreamEventThinking   StreamEventType = "thinking"
	StreamEventToolCall   StreamEventType = "tool_call"
	StreamEventToolResult StreamEventType = "tool_result"
	StreamEventError      StreamEventType = "error"
)

// StreamEvent is a single event from a streaming generation.
type StreamEvent struct {
	Type       StreamEventType
	Content    string
	ToolCall   *ToolCallData
	ToolResult *ToolResultData
}

// ToolCallData describes a model-initiated tool invocation.
type ToolCallData struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// ToolResultData carries a tool's outcome.
type ToolResultData struct {
	ID     string
	Name   string
	Output json.RawMessage
	Err    string
}

// StreamCallback receives generation events in order. Returning an error
// aborts the stream.
type StreamCallback func(StreamEvent) error

// LLMClient is the interface every model backend implements.
type LLMClient interface {
	// ChatStream runs one turn, streaming events through the callback.
	// Tool invocations requested by the model are executed inline and
	// their results fed back until the model produces a final answer.
	ChatStream(ctx context.Context, req ChatRequest, callback StreamCallback) error
}

// StreamingError reports a provider failure during generation. Failures
// after the first token leave partial output with the caller; nothing is
// retracted.
type StreamingError struct {
	Provider string
	Err      error
}

func (e *StreamingError) Error() string {
	return fmt.Sprintf("%s streaming failed: %v", e.Provider, e.Err)
}

func (e *StreamingError) Unwrap() error { return e.Err }

// IsStreamingError reports whether err is (or wraps) a StreamingError.
func IsStreamingError(err error) bool {
	var se *StreamingError
	return errors.As(err, &se)
}

// callTool runs a tool without ever failing the turn: execution errors
// come back as the tool's result text so the model can react to them.
func callTool(ctx context.Context, t tools.Tool, input string) string {
	out, err := t.Call(ctx, input)
	if err != nil {
		return "Error: " + err.Error()
	}
	return out
}

// findTool looks up a tool spec by the name advertised to the model.
func findTool(specs []ToolSpec, name string) (ToolSpec, bool) {
	for _, s := range specs {
		if s.Tool.Name() == name {
			return s, true
		}
	}
	return ToolSpec{}, false
}
