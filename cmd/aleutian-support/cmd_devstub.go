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
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianSupport/pkg/ux"
	"github.com/AleutianAI/AleutianSupport/services/support/devstub"
)

// =============================================================================
// DEVSTUB COMMAND
// =============================================================================

// runDevstubCommand serves the in-memory backend stub.
//
// # Description
//
// Starts the development stub with its default bucket rates and blocks
// until the process is killed. The stub holds all state in memory, so a
// restart clears sessions, usage counts, and rate limit buckets.
//
// # Inputs
//
//   - cmd: Cobra command (unused)
//   - args: Command arguments (unused)
//
// # Outputs
//
// Serves HTTP on the configured address until terminated.
func runDevstubCommand(cmd *cobra.Command, args []string) {
	ux.Info(fmt.Sprintf("Development stub listening on %s", devstubAddr))
	ux.Muted("State is in-memory only; restarting clears all sessions.")

	server := devstub.New(devstub.DefaultConfig())
	if err := server.Run(devstubAddr); err != nil {
		log.Fatalf("Devstub error: %v", err)
	}
}
