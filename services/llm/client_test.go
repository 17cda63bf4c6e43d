package llm

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTool struct {
	name   string
	desc   string
	result string
	err    error
	calls  []string
}

func (f *fakeTool) Name() string { return f.name }

func (f *fakeTool) Description() string {
	if f.desc == "" {
		return "a test tool"
	}
	return f.desc
}

func (f *fakeTool) Call(_ context.Context, input string) (string, error) {
	f.calls = append(f.calls, input)
	if f.err != nil {
		return "", f.err
	}
	return f.result, nil
}

func TestCallTool_Success(t *testing.T) {
	tool := &fakeTool{name: "kb_lookup", result: `{"results":[]}`}

	out := callTool(context.Background(), tool, `{"query":"reset password"}`)

	assert.Equal(t, `{"results":[]}`, out)
	require.Len(t, tool.calls, 1)
	assert.Equal(t, `{"query":"reset password"}`, tool.calls[0])
}

func TestCallTool_ErrorBecomesResultText(t *testing.T) {
	tool := &fakeTool{name: "kb_lookup", err: errors.New("backend exploded")}

	out := callTool(context.Background(), tool, "{}")

	assert.Equal(t, "Error: backend exploded", out)
}

func TestFindTool(t *testing.T) {
	specs := []ToolSpec{
		{Tool: &fakeTool{name: "search_knowledge_base"}},
		{Tool: &fakeTool{name: "analyze_logs"}},
	}

	spec, ok := findTool(specs, "analyze_logs")
	require.True(t, ok)
	assert.Equal(t, "analyze_logs", spec.Tool.Name())

	_, ok = findTool(specs, "start_troubleshooting")
	assert.False(t, ok)
}

func TestStreamingError_Unwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := &StreamingError{Provider: "openai", Err: cause}

	assert.Contains(t, err.Error(), "openai")
	assert.Contains(t, err.Error(), "connection reset")
	assert.ErrorIs(t, err, cause)
}

func TestIsStreamingError(t *testing.T) {
	se := &StreamingError{Provider: "google", Err: errors.New("boom")}

	assert.True(t, IsStreamingError(se))
	assert.True(t, IsStreamingError(fmt.Errorf("turn failed: %w", se)))
	assert.False(t, IsStreamingError(errors.New("plain")))
	assert.False(t, IsStreamingError(nil))
}
