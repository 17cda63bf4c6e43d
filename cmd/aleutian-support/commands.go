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
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianSupport/pkg/ux"
)

// --- Global Command Variables ---
var (
	chatProvider     string
	chatModel        string
	chatResume       string
	chatServerMemory bool
	chatAttachLog    string
	devstubAddr      string
	personalityLevel string // UX personality level (full/standard/minimal/machine)

	rootCmd = &cobra.Command{
		Use:   "aleutian-support",
		Short: "A cli for the Aleutian customer support chat service",
		Long: `aleutian-support talks to the Aleutian support server: interactive
streaming chat with per-frame hash chain verification, health checks,
and admin operations. A local development stub is included for working
offline.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Initialize UX personality: flag, then environment, then the
			// wizard-written config file, then TTY autodetection.
			if personalityLevel != "" {
				ux.SetPersonalityLevel(ux.ParsePersonalityLevel(personalityLevel))
				return
			}
			if os.Getenv("ALEUTIAN_PERSONALITY") == "" {
				if cfg, ok := loadCLIConfig(); ok && cfg.Personality != "" {
					ux.SetPersonalityLevel(ux.ParsePersonalityLevel(cfg.Personality))
					return
				}
			}
			ux.InitPersonality()
		},
	}

	// --- Chat ---
	chatCmd = &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive streaming chat with the support server",
		Long: `Starts an interactive chat session against the support server's
streaming endpoint. Responses render live, and every response's hash
chain is verified client-side so tampering or frame loss is visible.

Examples:
  aleutian-support chat                          # New session, server-side memory
  aleutian-support chat --resume <session-id>    # Continue an earlier session
  aleutian-support chat --provider openai        # Pin the LLM provider
  aleutian-support chat --attach-log agent.log   # Attach a log for analysis
  aleutian-support chat --server-memory=false    # Keep history client-side`,
		Run: runChatCommand, // Defined in cmd_chat.go
	}

	// healthCmd is defined in cmd_health.go alongside its flags, and
	// initCmd in cmd_init.go.

	// --- Admin ---
	adminCmd = &cobra.Command{
		Use:   "admin",
		Short: "Administrative operations on the support server",
	}
	ratelimitResetCmd = &cobra.Command{
		Use:   "ratelimit-reset [bucket]",
		Short: "Clear a provider rate limit bucket, or all buckets",
		Long: `Clears the named rate limit bucket (e.g. flash, pro, gpt-4) on the
support server, or every bucket when none is named. Requires an admin
token in ALEUTIAN_SUPPORT_TOKEN.`,
		Args: cobra.MaximumNArgs(1),
		Run:  runRatelimitResetCommand, // Defined in cmd_admin.go
	}

	// --- Local Development ---
	devstubCmd = &cobra.Command{
		Use:   "devstub",
		Short: "Run a local stub of the support backend services",
		Long: `Serves an in-memory stand-in for the session, rate limit, usage,
and credential backends. Point a locally running support server at it
(SUPPORT_BACKEND_URL=http://localhost:8000) to develop without the
production service mesh.`,
		Run: runDevstubCommand, // Defined in cmd_devstub.go
	}
)

// init runs when the Go program starts
func init() {
	// Global UX personality flag
	rootCmd.PersistentFlags().StringVar(&personalityLevel, "personality", "",
		"Output style: full (default, rich), standard, minimal, or machine (scripting)")

	// chat command
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().StringVar(&chatProvider, "provider", "",
		"LLM provider (google or openai). Empty lets the server choose.")
	chatCmd.Flags().StringVar(&chatModel, "model", "",
		"Model identifier for the chosen provider")
	chatCmd.Flags().StringVar(&chatResume, "resume", "",
		"Resume a conversation using a specific session ID.")
	chatCmd.Flags().BoolVar(&chatServerMemory, "server-memory", true,
		"Keep conversation history on the server")
	chatCmd.Flags().StringVar(&chatAttachLog, "attach-log", "",
		"Path to a log file to attach for analysis")

	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(initCmd)

	// admin commands
	rootCmd.AddCommand(adminCmd)
	adminCmd.AddCommand(ratelimitResetCmd)

	// local development stub
	rootCmd.AddCommand(devstubCmd)
	devstubCmd.Flags().StringVar(&devstubAddr, "addr", ":8000",
		"Listen address for the stub server")
}
