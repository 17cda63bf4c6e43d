// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianSupport/pkg/ux"
)

// =============================================================================
// CHAT COMMAND
// =============================================================================

// runChatCommand starts an interactive streaming chat session.
//
// # Description
//
// Wires a StreamingChatService to the support server, builds a runner
// around it, and blocks in the chat loop until the user exits or the
// process receives SIGINT/SIGTERM. A signal cancels the loop's context
// so the runner can print the session summary before exiting.
//
// # Inputs
//
//   - cmd: Cobra command (unused)
//   - args: Command arguments (unused)
//
// # Outputs
//
// Runs the interactive session. Exits with code 1 when the attached log
// file cannot be read or the session fails fatally.
//
// # Assumptions
//
//   - ALEUTIAN_SUPPORT_URL / ALEUTIAN_SUPPORT_TOKEN override the
//     default server address and anonymous access
func runChatCommand(cmd *cobra.Command, args []string) {
	baseURL := getSupportBaseURL()

	// Flags win; unset flags fall back to the wizard-written config.
	cfg, haveConfig := loadCLIConfig()
	provider := chatProvider
	if provider == "" {
		provider = cfg.Provider
	}
	model := chatModel
	if model == "" {
		model = cfg.Model
	}
	serverMemory := chatServerMemory
	if haveConfig && !cmd.Flags().Changed("server-memory") {
		serverMemory = cfg.ServerMemory
	}

	attachedLog := ""
	if chatAttachLog != "" {
		data, err := os.ReadFile(chatAttachLog)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Cannot read log file %q: %v\n", chatAttachLog, err)
			os.Exit(1)
		}
		attachedLog = string(data)
	}

	service := NewStreamingChatService(StreamingChatServiceConfig{
		BaseURL:         baseURL,
		AuthToken:       getAuthToken(),
		SessionID:       chatResume,
		Provider:        provider,
		Model:           model,
		ServerMemory:    serverMemory,
		AttachedLogText: attachedLog,
	})

	runner := NewChatRunner(service, ux.HeaderConfig{
		Provider:     provider,
		Model:        model,
		SessionID:    chatResume,
		ServerMemory: serverMemory,
		LogAttached:  attachedLog != "",
		BaseURL:      baseURL,
	}, chatResume != "")
	defer runner.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Cancel the chat loop on SIGINT/SIGTERM so the runner can show the
	// session summary on the way out.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		cancel()
	}()

	if err := runner.Run(ctx); err != nil && err != context.Canceled {
		log.Fatalf("Chat error: %v", err)
	}
}
