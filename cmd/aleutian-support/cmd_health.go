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
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianSupport/pkg/ux"
)

// =============================================================================
// COMMAND DEFINITION
// =============================================================================

var (
	healthJSONOutput bool
	healthTimeout    time.Duration
)

// healthCmd checks the support server's liveness endpoint.
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check the support server's health endpoint",
	Long: `Queries the support server's health endpoint and reports liveness
plus whether reply accumulation is running in locked memory.

Examples:
  aleutian-support health           # Human-readable report
  aleutian-support health --json    # JSON output for automation`,
	Run: runHealthCommand,
}

// =============================================================================
// COMMAND INITIALIZATION
// =============================================================================

func init() {
	healthCmd.Flags().BoolVar(&healthJSONOutput, "json", false,
		"Output as JSON for scripting")
	healthCmd.Flags().DurationVar(&healthTimeout, "timeout", 10*time.Second,
		"How long to wait for the server")
}

// =============================================================================
// COMMAND IMPLEMENTATION
// =============================================================================

// healthzResponse mirrors the server's GET /healthz body.
type healthzResponse struct {
	Status       string `json:"status"`
	Service      string `json:"service"`
	SecureMemory bool   `json:"secure_memory"`
	MlockLimitKB int    `json:"mlock_limit_kb"`
}

// runHealthCommand queries /healthz and displays the result.
//
// # Description
//
// Performs a GET against the server's health endpoint within the
// configured timeout. Human-readable output highlights whether the
// secure memory path is active; --json emits the raw report for
// scripting.
//
// # Inputs
//
//   - cmd: Cobra command (unused)
//   - args: Command arguments (unused)
//
// # Outputs
//
// Prints the health report to stdout. Exits with code 1 when the server
// is unreachable or unhealthy.
func runHealthCommand(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithTimeout(context.Background(), healthTimeout)
	defer cancel()

	baseURL := getSupportBaseURL()

	var report healthzResponse
	err := ux.WithSpinner(fmt.Sprintf("Checking support server at %s", baseURL), func() error {
		return fetchHealth(ctx, baseURL, &report)
	})
	if err != nil {
		os.Exit(1)
	}

	if healthJSONOutput {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(report); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode JSON: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if report.SecureMemory {
		ux.Info(fmt.Sprintf("Secure memory active (mlock limit %d KB)", report.MlockLimitKB))
	} else {
		ux.Warning("Secure memory unavailable; replies accumulate in pageable memory")
	}
}

// fetchHealth performs the GET and decodes the response into report.
func fetchHealth(ctx context.Context, baseURL string, report *healthzResponse) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/healthz", nil)
	if err != nil {
		return err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(report); err != nil {
		return fmt.Errorf("decoding health response: %w", err)
	}
	if report.Status != "ok" {
		return fmt.Errorf("server reports status %q", report.Status)
	}
	return nil
}
