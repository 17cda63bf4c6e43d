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
	"bytes"
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
// ADMIN COMMANDS
// =============================================================================

// runRatelimitResetCommand clears provider rate limit buckets.
//
// # Description
//
// POSTs to the server's admin rate limit reset endpoint. The endpoint
// requires an admin-role bearer token; the command refuses to run
// without one so the failure mode is a clear message instead of a 401.
//
// # Inputs
//
//   - cmd: Cobra command (unused)
//   - args: Optional bucket name; all buckets are cleared when omitted
//
// # Outputs
//
// Prints the outcome. Exits with code 1 on any failure.
//
// # Assumptions
//
//   - The configured token has an admin role claim
func runRatelimitResetCommand(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	bucket := ""
	if len(args) > 0 {
		bucket = args[0]
	}

	token := getAuthToken()
	if token == "" {
		fmt.Fprintln(os.Stderr, "An admin token is required: set ALEUTIAN_SUPPORT_TOKEN or run `aleutian-support init`")
		os.Exit(1)
	}

	if err := resetRateLimit(ctx, getSupportBaseURL(), token, bucket); err != nil {
		fmt.Fprintf(os.Stderr, "Rate limit reset failed: %v\n", err)
		os.Exit(1)
	}

	if bucket == "" {
		ux.Success("Cleared all rate limit buckets")
	} else {
		ux.Success(fmt.Sprintf("Cleared rate limit bucket %q", bucket))
	}
}

// resetRateLimit calls the admin reset endpoint for one bucket, or all
// buckets when bucket is empty.
func resetRateLimit(ctx context.Context, baseURL, token, bucket string) error {
	payload, err := json.Marshal(map[string]string{"bucket": bucket})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		baseURL+"/v1/admin/ratelimit/reset", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
