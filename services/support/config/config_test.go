// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// TestDefaultConfig verifies the built-in values the service ships with.
func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.Port != 8085 {
		t.Errorf("Server.Port = %d, want 8085", cfg.Server.Port)
	}
	if cfg.Server.Heartbeat() != 15*time.Second {
		t.Errorf("Heartbeat() = %v, want 15s", cfg.Server.Heartbeat())
	}
	if cfg.Models.DefaultProvider != "google" {
		t.Errorf("DefaultProvider = %q, want %q", cfg.Models.DefaultProvider, "google")
	}
	if cfg.Models.DefaultGoogleModel != "gemini-2.5-flash" {
		t.Errorf("DefaultGoogleModel = %q, want %q", cfg.Models.DefaultGoogleModel, "gemini-2.5-flash")
	}
	if cfg.Models.QuotaTrackedProvider != "google" {
		t.Errorf("QuotaTrackedProvider = %q, want %q", cfg.Models.QuotaTrackedProvider, "google")
	}
	if cfg.Persistence.InitialFlushChars != 32 {
		t.Errorf("InitialFlushChars = %d, want 32", cfg.Persistence.InitialFlushChars)
	}
	if cfg.Persistence.AppendFlushChars != 200 {
		t.Errorf("AppendFlushChars = %d, want 200", cfg.Persistence.AppendFlushChars)
	}
	if cfg.Annotations.FollowupIntervalChars != 200 {
		t.Errorf("FollowupIntervalChars = %d, want 200", cfg.Annotations.FollowupIntervalChars)
	}
	if cfg.Services.KBSearchTimeout() != 10*time.Second {
		t.Errorf("KBSearchTimeout() = %v, want 10s", cfg.Services.KBSearchTimeout())
	}
	if cfg.Services.LogAnalysisTimeout() != 30*time.Second {
		t.Errorf("LogAnalysisTimeout() = %v, want 30s", cfg.Services.LogAnalysisTimeout())
	}
	if cfg.Services.TroubleshootingTimeout() != 20*time.Second {
		t.Errorf("TroubleshootingTimeout() = %v, want 20s", cfg.Services.TroubleshootingTimeout())
	}
	if cfg.History.MaxMessages != 20 {
		t.Errorf("History.MaxMessages = %d, want 20", cfg.History.MaxMessages)
	}
	if cfg.History.Timeout() != 5*time.Second {
		t.Errorf("History.Timeout() = %v, want 5s", cfg.History.Timeout())
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate, got %v", err)
	}
}

// TestLoad_NoFile verifies Load with an empty path uses defaults.
func TestLoad_NoFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") failed: %v", err)
	}
	if cfg.Server.Port != 8085 {
		t.Errorf("Server.Port = %d, want 8085", cfg.Server.Port)
	}
}

// TestLoad_MissingFile verifies a named-but-absent file is an error.
func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing config file, got nil")
	}
}

// TestLoad_FileOverridesDefaults verifies YAML values layer over defaults.
func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "support.yaml")
	content := `
server:
  port: 9090
persistence:
  initial_flush_chars: 64
services:
  backend_url: "http://localhost:8000"
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Persistence.InitialFlushChars != 64 {
		t.Errorf("InitialFlushChars = %d, want 64", cfg.Persistence.InitialFlushChars)
	}
	if cfg.Services.BackendURL != "http://localhost:8000" {
		t.Errorf("BackendURL = %q, want the file value", cfg.Services.BackendURL)
	}
	// Untouched fields keep their defaults.
	if cfg.Persistence.AppendFlushChars != 200 {
		t.Errorf("AppendFlushChars = %d, want default 200", cfg.Persistence.AppendFlushChars)
	}
}

// TestLoad_InvalidYAML verifies parse failure surfaces as an error.
func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	if err := os.WriteFile(path, []byte("server: [not a map"), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Error("expected error for invalid YAML, got nil")
	}
}

// TestLoad_EnvOverrides verifies environment variables win over the file.
func TestLoad_EnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "support.yaml")
	content := `
services:
  backend_url: "http://from-file:8000"
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	t.Setenv("SUPPORT_BACKEND_URL", "http://from-env:8000")
	t.Setenv("PORT", "7070")
	t.Setenv("DEFAULT_MODEL_PROVIDER", "openai")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Services.BackendURL != "http://from-env:8000" {
		t.Errorf("BackendURL = %q, want the env value", cfg.Services.BackendURL)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("Server.Port = %d, want 7070", cfg.Server.Port)
	}
	if cfg.Models.DefaultProvider != "openai" {
		t.Errorf("DefaultProvider = %q, want %q", cfg.Models.DefaultProvider, "openai")
	}
}

// TestValidate_Failures verifies each rejected configuration names its field.
func TestValidate_Failures(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantSub string
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"bad heartbeat", func(c *Config) { c.Server.HeartbeatSeconds = 0 }, "heartbeat"},
		{"bad provider", func(c *Config) { c.Models.DefaultProvider = "anthropic" }, "default_provider"},
		{"empty backend url", func(c *Config) { c.Services.BackendURL = "" }, "backend_url"},
		{"zero tool timeout", func(c *Config) { c.Services.KBSearchTimeoutSeconds = 0 }, "kb_search_timeout"},
		{"zero history messages", func(c *Config) { c.History.MaxMessages = 0 }, "max_messages"},
		{"zero initial flush", func(c *Config) { c.Persistence.InitialFlushChars = 0 }, "initial_flush_chars"},
		{"zero append flush", func(c *Config) { c.Persistence.AppendFlushChars = 0 }, "append_flush_chars"},
		{"zero followup interval", func(c *Config) { c.Annotations.FollowupIntervalChars = 0 }, "followup_interval_chars"},
		{"missing bucket provider", func(c *Config) { delete(c.Buckets, "openai") }, "openai"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !strings.Contains(err.Error(), tc.wantSub) {
				t.Errorf("error %q should mention %q", err.Error(), tc.wantSub)
			}
		})
	}
}
