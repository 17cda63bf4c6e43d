package llm

import (
	"context"
	"errors"
	"fmt"
	"github.com/sashabaranov/go-openai"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
)

type OpenAIClient struct {
	client *openai.Client
	model  string
}

// NewOpenAIClient builds a client for the given resolved API key and model.
// An empty key falls back to OPENAI_API_KEY and then the Podman secret;
// an empty model falls back to OPENAI_MODEL and then gpt-4o-mini.
func NewOpenAIClient(apiKey, model string) (*OpenAIClient, error) {
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		secretPath := "/run/secrets/openai_api_key"
		apiKeyBytes, err := os.ReadFile(secretPath)
		if err == nil {
			apiKey = strings.TrimSpace(string(apiKeyBytes))
			slog.Info("Read the OpenAI API Key from Podman Secrets")
		} else {
			slog.Error("OpenAI API key not resolved and secret not found", "path", secretPath)
			return nil, fmt.Errorf("OpenAI API key not configured")
		}
	}
	if model == "" {
		model = os.Getenv("OPENAI_MODEL")
	}
	if model == "" {
		model = "gpt-4o-mini"
		slog.Warn("OpenAI model not set, defaulting to gpt-4o-mini")
	}

	config := openai.DefaultConfig(apiKey)
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		config.BaseURL = baseURL
		slog.Info("Using OpenAI-compatible endpoint", "base_url", baseURL)
	}

	slog.Info("Initializing OpenAI client", "model", model)
	return &OpenAIClient{
		client: openai.NewClientWithConfig(config),
		model:  model,
	}, nil
}

// ChatStream implements the LLMClient interface.
func (o *OpenAIClient) ChatStream(ctx context.Context, req ChatRequest, callback StreamCallback) error {
	msgs := buildOpenAIMessages(req)
	toolDefs := buildOpenAITools(req.Tools)
	seenCallIDs := make(map[string]bool)

	for round := 0; round < maxToolRounds; round++ {
		streamReq := openai.ChatCompletionRequest{
			Model:    o.model,
			Messages: msgs,
			Stream:   true,
		}
		if len(toolDefs) > 0 {
			streamReq.Tools = toolDefs
			streamReq.ToolChoice = string(req.ToolChoice)
		}
		applyOpenAIParams(&streamReq, req.Params)

		calls, finish, err := o.streamOnce(ctx, streamReq, callback)
		if err != nil {
			return err
		}
		if finish != openai.FinishReasonToolCalls || len(calls) == 0 {
			return nil
		}

		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:      openai.ChatMessageRoleAssistant,
			ToolCalls: calls,
		})
		for _, tc := range calls {
			if seenCallIDs[tc.ID] {
				slog.Warn("Skipping duplicate tool call", "id", tc.ID)
				continue
			}
			seenCallIDs[tc.ID] = true

			if err := callback(StreamEvent{
				Type: StreamEventToolCall,
				ToolCall: &ToolCallData{
					ID:        tc.ID,
					Name:      tc.Function.Name,
					Arguments: []byte(tc.Function.Arguments),
				},
			}); err != nil {
				return err
			}

			var result string
			if spec, ok := findTool(req.Tools, tc.Function.Name); ok {
				result = callTool(ctx, spec.Tool, tc.Function.Arguments)
			} else {
				result = "Error: unknown tool " + tc.Function.Name
			}

			if err := callback(StreamEvent{
				Type: StreamEventToolResult,
				ToolResult: &ToolResultData{
					ID:     tc.ID,
					Name:   tc.Function.Name,
					Output: []byte(result),
				},
			}); err != nil {
				return err
			}

			msgs = append(msgs, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    result,
				ToolCallID: tc.ID,
			})
		}
	}
	return &StreamingError{Provider: "openai", Err: fmt.Errorf("tool loop exceeded %d rounds", maxToolRounds)}
}

// streamOnce runs a single streamed completion, forwarding text deltas and
// assembling any tool calls the model requests.
func (o *OpenAIClient) streamOnce(ctx context.Context, req openai.ChatCompletionRequest, callback StreamCallback) ([]openai.ToolCall, openai.FinishReason, error) {
	stream, err := o.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		slog.Error("OpenAI stream request failed", "error", err)
		return nil, "", &StreamingError{Provider: "openai", Err: err}
	}
	defer stream.Close()

	assembled := make(map[int]*openai.ToolCall)
	var finish openai.FinishReason

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			slog.Error("OpenAI stream receive failed", "error", err)
			return nil, "", &StreamingError{Provider: "openai", Err: err}
		}
		if len(resp.Choices) == 0 {
			continue
		}
		choice := resp.Choices[0]

		if choice.Delta.ReasoningContent != "" {
			if err := callback(StreamEvent{Type: StreamEventThinking, Content: choice.Delta.ReasoningContent}); err != nil {
				return nil, "", err
			}
		}
		if choice.Delta.Content != "" {
			if err := callback(StreamEvent{Type: StreamEventToken, Content: choice.Delta.Content}); err != nil {
				return nil, "", err
			}
		}

		// Tool call fragments arrive keyed by index: the first fragment
		// carries the id and name, the rest append argument text.
		for _, tc := range choice.Delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			call, ok := assembled[idx]
			if !ok {
				call = &openai.ToolCall{Type: openai.ToolTypeFunction}
				assembled[idx] = call
			}
			if tc.ID != "" {
				call.ID = tc.ID
			}
			if tc.Function.Name != "" {
				call.Function.Name = tc.Function.Name
			}
			call.Function.Arguments += tc.Function.Arguments
		}

		if choice.FinishReason != "" {
			finish = choice.FinishReason
		}
	}

	indexes := make([]int, 0, len(assembled))
	for idx := range assembled {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)
	calls := make([]openai.ToolCall, 0, len(assembled))
	for _, idx := range indexes {
		calls = append(calls, *assembled[idx])
	}
	return calls, finish, nil
}

func buildOpenAIMessages(req ChatRequest) []openai.ChatCompletionMessage {
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	for _, m := range req.Messages {
		role := openai.ChatMessageRoleUser
		switch m.Role {
		case "assistant":
			role = openai.ChatMessageRoleAssistant
		case "system":
			role = openai.ChatMessageRoleSystem
		}
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    role,
			Content: m.Content.String(),
		})
	}
	return msgs
}

func buildOpenAITools(specs []ToolSpec) []openai.Tool {
	if len(specs) == 0 {
		return nil
	}
	defs := make([]openai.Tool, 0, len(specs))
	for _, s := range specs {
		defs = append(defs, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        s.Tool.Name(),
				Description: s.Tool.Description(),
				Parameters:  s.Schema,
			},
		})
	}
	return defs
}

func applyOpenAIParams(req *openai.ChatCompletionRequest, params GenerationParams) {
	if params.Temperature != nil {
		req.Temperature = *params.Temperature
	}
	if params.MaxTokens != nil {
		req.MaxCompletionTokens = *params.MaxTokens
	}
	if params.TopP != nil {
		req.TopP = *params.TopP
	}
	if len(params.Stop) > 0 {
		req.Stop = params.Stop
	}
}
