// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package services

import (
	"github.com/AleutianAI/AleutianSupport/services/llm"
	"github.com/AleutianAI/AleutianSupport/services/support/clients"
	"github.com/AleutianAI/AleutianSupport/services/support/config"
	"github.com/AleutianAI/AleutianSupport/services/support/datatypes"
)

// supportSystemPrompt is the fixed persona every streaming turn runs
// with. The log-analysis instruction is always present; the tool itself
// is only offered when a log is attached.
const supportSystemPrompt = `You are Aleutian Support, the assistant for the Aleutian customer support portal.

Help customers diagnose and fix problems with their Aleutian deployment. Be concrete: give numbered steps, name the exact setting or command, and say what the customer should see when it works.

Guidelines:
- Ground product answers in knowledge base articles when the search tool is available, and cite the article title.
- When the customer attaches a log file, always run the analyze_logs tool on it before answering, and base your diagnosis on its findings.
- If a problem needs hands-on diagnosis, offer to start a troubleshooting session.
- If you are not sure, say so and suggest what information would settle it. Never invent product behavior.`

// AttachedLogDirective is prepended to the final user message whenever
// the turn carries an attached log, so the instruction survives even if
// the model skims the system prompt.
const AttachedLogDirective = "A log file is attached to this message. Run the analyze_logs tool on the attached log before answering."

// ToolTimeoutsFromConfig maps the configured per-service budgets onto
// the tool clients' timeout set.
func ToolTimeoutsFromConfig(cfg *config.Config) clients.ToolTimeouts {
	return clients.ToolTimeouts{
		KBSearch:        cfg.Services.KBSearchTimeout(),
		LogAnalysis:     cfg.Services.LogAnalysisTimeout(),
		Reasoning:       cfg.Services.ReasoningTimeout(),
		Troubleshooting: cfg.Services.TroubleshootingTimeout(),
	}
}

// AssembleTurn builds the provider request for one chat turn.
//
// # Description
//
// Combines the fixed system prompt, any fetched session history, and
// the turn's messages into a single generation request. Tool policy
// follows the attachment: with a log attached the tools are offered
// with tool_choice auto and the final user message gains the explicit
// log directive; without one, tool_choice none withholds them.
//
// The input request is not modified; prefixed messages are copies.
//
// # Inputs
//
//   - history: Prior session messages, oldest first. May be empty.
//   - req: The validated turn request.
//   - specs: The turn's tool specs from clients.TurnTools.
//
// # Outputs
//
//   - llm.ChatRequest: Ready to hand to the resolved provider client.
func AssembleTurn(history []datatypes.ChatMessage, req *datatypes.StreamChatRequest, specs []llm.ToolSpec) llm.ChatRequest {
	hasLog := req.HasAttachedLog()

	messages := make([]datatypes.ChatMessage, 0, len(history)+len(req.Messages))
	messages = append(messages, history...)
	messages = append(messages, req.Messages...)

	if hasLog {
		prefixFinalUserMessage(messages, AttachedLogDirective)
	}

	choice := llm.ToolChoiceNone
	if hasLog {
		choice = llm.ToolChoiceAuto
	}

	return llm.ChatRequest{
		System:     supportSystemPrompt,
		Messages:   messages,
		Tools:      specs,
		ToolChoice: choice,
	}
}

// prefixFinalUserMessage rewrites the last user-role message in place
// with the directive prepended. No-op when no user message exists.
func prefixFinalUserMessage(messages []datatypes.ChatMessage, directive string) {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role != "user" {
			continue
		}
		messages[i].Content = datatypes.FlexContent(directive + "\n\n" + messages[i].Content.String())
		return
	}
}
