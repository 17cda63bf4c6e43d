// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command support starts the Aleutian streaming support chat server.
//
// This is the main entry point for the containerized support service.
// It reads configuration from environment variables and starts the server.
//
// # Environment Variables
//
//   - SUPPORT_PORT: HTTP server port (default: from the runtime config, 8085)
//   - SUPPORT_CONFIG_PATH: YAML runtime configuration file (optional, hot-reloaded)
//   - SUPPORT_JWT_SECRET: HMAC secret for bearer tokens (empty: local mode)
//   - SUPPORT_BACKEND_URL: Support backend base URL (default: http://support-backend:8000)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OpenTelemetry collector (default: aleutian-otel-collector:4317)
//   - ALEUTIAN_INSECURE_MEMORY: Set "true" to allow unlocked reply buffers
//
// # Usage
//
//	# Build
//	go build -o support ./cmd/support
//
//	# Run
//	./support
//
//	# Or via container
//	podman-compose up support
package main

import (
	"log"
	"log/slog"
	"os"
	"strconv"

	"github.com/AleutianAI/AleutianSupport/services/support"
)

func main() {
	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Build configuration from environment variables
	cfg := support.Config{
		Port:         getEnvInt("SUPPORT_PORT", 0),
		ConfigPath:   os.Getenv("SUPPORT_CONFIG_PATH"),
		JWTSecret:    os.Getenv("SUPPORT_JWT_SECRET"),
		OTelEndpoint: getEnvString("OTEL_EXPORTER_OTLP_ENDPOINT", "aleutian-otel-collector:4317"),
	}

	slog.Info("Starting support service",
		"port", cfg.Port,
		"config_path", cfg.ConfigPath,
	)

	svc, err := support.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create support service: %v", err)
	}

	// Run the server (blocks until shutdown)
	if err := svc.Run(); err != nil {
		log.Fatalf("Support service error: %v", err)
	}
}

// getEnvString returns the environment variable value or a default.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as int or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
