package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"github.com/AleutianAI/AleutianSupport/services/support/datatypes"
	"google.golang.org/genai"
	"log/slog"
	"os"
	"strings"
)

type GoogleClient struct {
	client *genai.Client
	model  string
}

// NewGoogleClient builds a client for the given resolved API key and model.
// An empty key falls back to GEMINI_API_KEY and then the Podman secret;
// an empty model falls back to GEMINI_MODEL and then gemini-2.5-flash.
func NewGoogleClient(ctx context.Context, apiKey, model string) (*GoogleClient, error) {
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if apiKey == "" {
		secretPath := "/run/secrets/gemini_api_key"
		apiKeyBytes, err := os.ReadFile(secretPath)
		if err == nil {
			apiKey = strings.TrimSpace(string(apiKeyBytes))
			slog.Info("Read the Gemini API Key from Podman Secrets")
		} else {
			slog.Error("Gemini API key not resolved and secret not found", "path", secretPath)
			return nil, fmt.Errorf("Gemini API key not configured")
		}
	}
	if model == "" {
		model = os.Getenv("GEMINI_MODEL")
	}
	if model == "" {
		model = "gemini-2.5-flash"
		slog.Warn("Gemini model not set, defaulting to gemini-2.5-flash")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		slog.Error("Failed to create Gemini client", "error", err)
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	slog.Info("Initializing Gemini client", "model", model)
	return &GoogleClient{client: client, model: model}, nil
}

// ChatStream implements the LLMClient interface.
func (g *GoogleClient) ChatStream(ctx context.Context, req ChatRequest, callback StreamCallback) error {
	contents := buildGeminiContents(req.Messages)
	config := buildGeminiConfig(req)
	seenCallIDs := make(map[string]bool)

	for round := 0; round < maxToolRounds; round++ {
		var (
			modelParts   []*genai.Part
			pendingCalls []*genai.FunctionCall
		)

		for resp, err := range g.client.Models.GenerateContentStream(ctx, g.model, contents, config) {
			if err != nil {
				slog.Error("Gemini stream receive failed", "error", err)
				return &StreamingError{Provider: "google", Err: err}
			}
			for _, cand := range resp.Candidates {
				if cand.Content == nil {
					continue
				}
				for _, part := range cand.Content.Parts {
					if part == nil {
						continue
					}
					if part.Text != "" {
						eventType := StreamEventToken
						if part.Thought {
							eventType = StreamEventThinking
						}
						if err := callback(StreamEvent{Type: eventType, Content: part.Text}); err != nil {
							return err
						}
					}
					if part.FunctionCall != nil {
						modelParts = append(modelParts, part)
						pendingCalls = append(pendingCalls, part.FunctionCall)
					}
				}
			}
		}

		if len(pendingCalls) == 0 {
			return nil
		}

		contents = append(contents, genai.NewContentFromParts(modelParts, genai.RoleModel))
		responseParts := make([]*genai.Part, 0, len(pendingCalls))
		for _, fc := range pendingCalls {
			callKey := fc.ID
			if callKey == "" {
				callKey = fc.Name
			}
			if seenCallIDs[callKey] && fc.ID != "" {
				slog.Warn("Skipping duplicate tool call", "id", fc.ID)
				continue
			}
			seenCallIDs[callKey] = true

			args, err := json.Marshal(fc.Args)
			if err != nil {
				args = []byte("{}")
			}
			if err := callback(StreamEvent{
				Type: StreamEventToolCall,
				ToolCall: &ToolCallData{
					ID:        fc.ID,
					Name:      fc.Name,
					Arguments: args,
				},
			}); err != nil {
				return err
			}

			var result string
			if spec, ok := findTool(req.Tools, fc.Name); ok {
				result = callTool(ctx, spec.Tool, string(args))
			} else {
				result = "Error: unknown tool " + fc.Name
			}

			if err := callback(StreamEvent{
				Type: StreamEventToolResult,
				ToolResult: &ToolResultData{
					ID:     fc.ID,
					Name:   fc.Name,
					Output: []byte(result),
				},
			}); err != nil {
				return err
			}

			responseParts = append(responseParts, &genai.Part{
				FunctionResponse: &genai.FunctionResponse{
					ID:       fc.ID,
					Name:     fc.Name,
					Response: toResponseMap(result),
				},
			})
		}
		contents = append(contents, genai.NewContentFromParts(responseParts, genai.RoleUser))
	}
	return &StreamingError{Provider: "google", Err: fmt.Errorf("tool loop exceeded %d rounds", maxToolRounds)}
}

func buildGeminiContents(messages []datatypes.ChatMessage) []*genai.Content {
	contents := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		var role genai.Role = genai.RoleUser
		if m.Role == "assistant" {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content.String(), role))
	}
	return contents
}

func buildGeminiConfig(req ChatRequest) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{}
	if req.System != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.System}},
		}
	}
	if req.Params.Temperature != nil {
		config.Temperature = genai.Ptr(*req.Params.Temperature)
	}
	if req.Params.TopP != nil {
		config.TopP = genai.Ptr(*req.Params.TopP)
	}
	if req.Params.TopK != nil {
		config.TopK = genai.Ptr(float32(*req.Params.TopK))
	}
	if req.Params.MaxTokens != nil {
		config.MaxOutputTokens = int32(*req.Params.MaxTokens)
	}
	if len(req.Params.Stop) > 0 {
		config.StopSequences = req.Params.Stop
	}

	if len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
		for _, s := range req.Tools {
			decls = append(decls, &genai.FunctionDeclaration{
				Name:                 s.Tool.Name(),
				Description:          s.Tool.Description(),
				ParametersJsonSchema: s.Schema,
			})
		}
		config.Tools = []*genai.Tool{{FunctionDeclarations: decls}}

		mode := genai.FunctionCallingConfigModeNone
		if req.ToolChoice == ToolChoiceAuto {
			mode = genai.FunctionCallingConfigModeAuto
		}
		config.ToolConfig = &genai.ToolConfig{
			FunctionCallingConfig: &genai.FunctionCallingConfig{Mode: mode},
		}
	}
	return config
}

// toResponseMap shapes a tool's text result for the function-response part.
// JSON objects pass through; anything else is wrapped under a result key.
func toResponseMap(result string) map[string]any {
	var m map[string]any
	if err := json.Unmarshal([]byte(result), &m); err == nil && m != nil {
		return m
	}
	return map[string]any{"result": result}
}
