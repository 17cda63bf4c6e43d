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
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianSupport/pkg/ux"
)

// =============================================================================
// COMMAND DEFINITION
// =============================================================================

// initCmd writes the CLI config file through an interactive form.
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Interactively configure the CLI",
	Long: `Walks through the CLI settings (server address, token, default
provider and model, memory mode, output personality) and writes them to
` + cliConfigFileName + ` in your home directory.

Environment variables still win over the config file, so a one-off
override never requires re-running init.`,
	Run: runInitCommand,
}

// =============================================================================
// COMMAND IMPLEMENTATION
// =============================================================================

// runInitCommand runs the configuration wizard.
//
// # Description
//
// Pre-fills the form from an existing config file so re-running init
// edits rather than resets. On submit the config is written with mode
// 0600 since it may hold a token. Aborting the form (Esc/Ctrl+C) leaves
// any existing file untouched.
//
// # Inputs
//
//   - cmd: Cobra command (unused)
//   - args: Command arguments (unused)
//
// # Outputs
//
// Writes the config file and prints its path. Exits with code 1 on
// abort or write failure.
//
// # Assumptions
//
//   - Stdin is a TTY; the form is interactive by nature
func runInitCommand(cmd *cobra.Command, args []string) {
	ux.Title("Aleutian Support configuration")

	cfg, found := loadCLIConfig()
	if !found {
		cfg.ServerURL = defaultBaseURL()
		cfg.ServerMemory = true
		cfg.Personality = string(ux.PersonalityFull)
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Support server URL").
				Description("Where the support service is listening.").
				Validate(validateServerURL).
				Value(&cfg.ServerURL),
			huh.NewInput().
				Title("API token").
				Description("Bearer token for authenticated access. Leave empty for anonymous.").
				EchoMode(huh.EchoModePassword).
				Value(&cfg.Token),
			huh.NewSelect[string]().
				Title("Default provider").
				Options(
					huh.NewOption("Server default", ""),
					huh.NewOption("Google Gemini", "google"),
					huh.NewOption("OpenAI", "openai"),
				).
				Value(&cfg.Provider),
			huh.NewInput().
				Title("Default model").
				Description("Optional model id for the chosen provider.").
				Value(&cfg.Model),
			huh.NewConfirm().
				Title("Keep conversation history on the server?").
				Description("Lets you resume sessions from any machine.").
				Value(&cfg.ServerMemory),
			huh.NewSelect[string]().
				Title("Output personality").
				Options(
					huh.NewOption("Full (rich formatting)", string(ux.PersonalityFull)),
					huh.NewOption("Standard", string(ux.PersonalityStandard)),
					huh.NewOption("Minimal", string(ux.PersonalityMinimal)),
					huh.NewOption("Machine (scripting)", string(ux.PersonalityMachine)),
				).
				Value(&cfg.Personality),
		),
	)

	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			fmt.Fprintln(os.Stderr, "Aborted; nothing written.")
			os.Exit(1)
		}
		log.Fatalf("Init wizard error: %v", err)
	}

	path, err := saveCLIConfig(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Cannot write config: %v\n", err)
		os.Exit(1)
	}
	ux.Success(fmt.Sprintf("Wrote %s", path))
}

// validateServerURL accepts http/https URLs with a host.
func validateServerURL(value string) error {
	parsed, err := url.Parse(value)
	if err != nil {
		return errors.New("not a valid URL")
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return errors.New("URL must start with http:// or https://")
	}
	if parsed.Host == "" {
		return errors.New("URL must include a host")
	}
	return nil
}
