// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package annotations

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/AleutianAI/AleutianSupport/services/llm"
	"github.com/AleutianAI/AleutianSupport/services/support/config"
	"github.com/AleutianAI/AleutianSupport/services/support/datatypes"
)

var modelDeriverTracer = otel.Tracer("aleutian.support.annotations.model_deriver")

const (
	// deriverCallTimeout bounds one follow-up derivation call. Refreshes
	// happen mid-stream, so a slow model must not hold up the next one.
	deriverCallTimeout = 5 * time.Second

	// deriverInputRunes caps how much answer text is sent to the model.
	// Only the tail matters for predicting the next question.
	deriverInputRunes = 2000
)

const followupSystemPrompt = "You write follow-up questions a software customer " +
	"is likely to ask next, given a support agent's answer so far. Reply with " +
	"one short question per line and nothing else. Write at most four."

// ModelDeriver derives follow-up suggestions with a small model call and
// falls back to the keyword heuristic whenever the call fails or returns
// nothing usable. The thinking trace stays heuristic either way; its shape
// is fixed and a model adds nothing there.
type ModelDeriver struct {
	client   llm.LLMClient
	fallback *HeuristicDeriver
}

var _ Deriver = (*ModelDeriver)(nil)

// NewModelDeriver builds a deriver backed by the given model on the
// process-level OpenAI credential. Fails when no credential resolves.
func NewModelDeriver(model string) (*ModelDeriver, error) {
	client, err := llm.NewOpenAIClient("", model)
	if err != nil {
		return nil, fmt.Errorf("model deriver unavailable: %w", err)
	}
	return NewModelDeriverWithClient(client), nil
}

// NewModelDeriverWithClient builds a deriver on an existing client.
func NewModelDeriverWithClient(client llm.LLMClient) *ModelDeriver {
	return &ModelDeriver{
		client:   client,
		fallback: NewHeuristicDeriver(),
	}
}

// Followups implements Deriver.
func (d *ModelDeriver) Followups(ctx context.Context, text string) []string {
	ctx, span := modelDeriverTracer.Start(ctx, "ModelDeriver.Followups")
	defer span.End()

	callCtx, cancel := context.WithTimeout(ctx, deriverCallTimeout)
	defer cancel()

	prompt := fmt.Sprintf("The support agent's answer so far:\n\n%s\n\nWrite the follow-up questions.",
		tailRunes(text, deriverInputRunes))

	var raw strings.Builder
	req := llm.ChatRequest{
		System: followupSystemPrompt,
		Messages: []datatypes.ChatMessage{
			{Role: "user", Content: datatypes.FlexContent(prompt)},
		},
		ToolChoice: llm.ToolChoiceNone,
	}
	err := d.client.ChatStream(callCtx, req, func(ev llm.StreamEvent) error {
		if ev.Type == llm.StreamEventToken {
			raw.WriteString(ev.Content)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		slog.Warn("Model-backed follow-up derivation failed, using heuristic",
			"error", err)
		return d.fallback.Followups(ctx, text)
	}

	parsed := parseFollowupLines(raw.String())
	if len(parsed) == 0 {
		slog.Warn("Model-backed follow-up derivation returned no usable lines, using heuristic")
		return d.fallback.Followups(ctx, text)
	}
	return sanitizeFollowups(parsed)
}

// Thinking implements Deriver by delegating to the heuristic trace.
func (d *ModelDeriver) Thinking(ctx context.Context, text string, results *datatypes.ToolResultSet, toolsOffered bool) *datatypes.ThinkingTrace {
	return d.fallback.Thinking(ctx, text, results, toolsOffered)
}

// FromConfig builds the configured deriver, falling back to the heuristic
// when the model-backed one cannot be constructed.
func FromConfig(cfg config.AnnotationsConfig) Deriver {
	if !cfg.UseModelDeriver {
		return NewHeuristicDeriver()
	}
	d, err := NewModelDeriver(cfg.DeriverModel)
	if err != nil {
		slog.Warn("Model deriver not available, follow-ups stay heuristic",
			"model", cfg.DeriverModel, "error", err)
		return NewHeuristicDeriver()
	}
	slog.Info("Follow-up derivation is model-backed", "model", cfg.DeriverModel)
	return d
}

// parseFollowupLines splits raw model output into candidate questions,
// stripping list markers the model tends to add despite instructions.
func parseFollowupLines(raw string) []string {
	var out []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "-*0123456789.) ")
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		out = append(out, line)
	}
	return out
}

func tailRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[len(runes)-n:])
}
