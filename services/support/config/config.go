// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads and validates the support service configuration.
//
// Configuration comes from three layers, lowest priority first: built-in
// defaults, an optional YAML file, and environment variable overrides.
// The YAML file can be hot-reloaded at runtime (see watcher.go).
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full runtime configuration of the support service.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Models      ModelsConfig      `yaml:"models"`
	Buckets     BucketTable       `yaml:"buckets"`
	Services    ServicesConfig    `yaml:"services"`
	History     HistoryConfig     `yaml:"history"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Annotations AnnotationsConfig `yaml:"annotations"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Port             int `yaml:"port"`
	HeartbeatSeconds int `yaml:"heartbeat_seconds"`
}

// Heartbeat returns the SSE keepalive interval.
func (c ServerConfig) Heartbeat() time.Duration {
	return time.Duration(c.HeartbeatSeconds) * time.Second
}

// ModelsConfig holds provider and model defaulting.
type ModelsConfig struct {
	DefaultProvider    string `yaml:"default_provider"`
	DefaultGoogleModel string `yaml:"default_google_model"`
	DefaultOpenAIModel string `yaml:"default_openai_model"`

	// QuotaTrackedProvider names the provider whose authenticated usage is
	// counted against per-user quotas before each model call.
	QuotaTrackedProvider string `yaml:"quota_tracked_provider"`
}

// ServicesConfig holds the downstream collaborator endpoints and their
// per-call timeouts. Every outbound call carries one of these explicit
// deadlines; nothing waits unbounded.
type ServicesConfig struct {
	BackendURL string `yaml:"backend_url"`

	KBSearchTimeoutSeconds        int `yaml:"kb_search_timeout_seconds"`
	LogAnalysisTimeoutSeconds     int `yaml:"log_analysis_timeout_seconds"`
	ReasoningTimeoutSeconds       int `yaml:"reasoning_timeout_seconds"`
	TroubleshootingTimeoutSeconds int `yaml:"troubleshooting_timeout_seconds"`
}

// KBSearchTimeout returns the knowledge-base search call deadline.
func (c ServicesConfig) KBSearchTimeout() time.Duration {
	return time.Duration(c.KBSearchTimeoutSeconds) * time.Second
}

// LogAnalysisTimeout returns the log-analysis call deadline.
func (c ServicesConfig) LogAnalysisTimeout() time.Duration {
	return time.Duration(c.LogAnalysisTimeoutSeconds) * time.Second
}

// ReasoningTimeout returns the reasoning call deadline.
func (c ServicesConfig) ReasoningTimeout() time.Duration {
	return time.Duration(c.ReasoningTimeoutSeconds) * time.Second
}

// TroubleshootingTimeout returns the troubleshooting call deadline.
func (c ServicesConfig) TroubleshootingTimeout() time.Duration {
	return time.Duration(c.TroubleshootingTimeoutSeconds) * time.Second
}

// HistoryConfig controls the optional prior-session history prefix.
type HistoryConfig struct {
	MaxMessages    int `yaml:"max_messages"`
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// Timeout returns the history load deadline.
func (c HistoryConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// PersistenceConfig controls incremental message persistence. The two
// flush thresholds are independent knobs: the first durable write happens
// once the buffer reaches InitialFlushChars, subsequent appends once it
// reaches AppendFlushChars.
type PersistenceConfig struct {
	InitialFlushChars int `yaml:"initial_flush_chars"`
	AppendFlushChars  int `yaml:"append_flush_chars"`
	TimeoutSeconds    int `yaml:"timeout_seconds"`
}

// Timeout returns the per-call persistence deadline.
func (c PersistenceConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// AnnotationsConfig controls derived-annotation generation.
type AnnotationsConfig struct {
	// FollowupIntervalChars is the net text growth between follow-up
	// suggestion refreshes during streaming.
	FollowupIntervalChars int `yaml:"followup_interval_chars"`

	// UseModelDeriver switches follow-up derivation from the keyword
	// heuristic to a model-backed deriver.
	UseModelDeriver bool   `yaml:"use_model_deriver"`
	DeriverModel    string `yaml:"deriver_model"`
}

// DefaultConfig returns the built-in configuration. Every field has a
// working value so the service runs with no file and no environment.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:             8085,
			HeartbeatSeconds: 15,
		},
		Models: ModelsConfig{
			DefaultProvider:      "google",
			DefaultGoogleModel:   "gemini-2.5-flash",
			DefaultOpenAIModel:   "gpt-4o-mini",
			QuotaTrackedProvider: "google",
		},
		Buckets: DefaultBucketTable(),
		Services: ServicesConfig{
			BackendURL:                    "http://support-backend:8000",
			KBSearchTimeoutSeconds:        10,
			LogAnalysisTimeoutSeconds:     30,
			ReasoningTimeoutSeconds:       30,
			TroubleshootingTimeoutSeconds: 20,
		},
		History: HistoryConfig{
			MaxMessages:    20,
			TimeoutSeconds: 5,
		},
		Persistence: PersistenceConfig{
			InitialFlushChars: 32,
			AppendFlushChars:  200,
			TimeoutSeconds:    5,
		},
		Annotations: AnnotationsConfig{
			FollowupIntervalChars: 200,
			UseModelDeriver:       false,
			DeriverModel:          "gpt-4o-mini",
		},
	}
}

// Load builds the configuration from defaults, the optional YAML file at
// path, and environment overrides, then validates the result.
//
// An empty path skips the file layer. A missing file at a non-empty path
// is an error: a misspelled --config should not silently run on defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read the config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse the config file: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides layers environment variables over the loaded values.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("SUPPORT_BACKEND_URL"); v != "" {
		c.Services.BackendURL = v
	}
	if v := os.Getenv("DEFAULT_MODEL_PROVIDER"); v != "" {
		c.Models.DefaultProvider = v
	}
	if v := os.Getenv("QUOTA_TRACKED_PROVIDER"); v != "" {
		c.Models.QuotaTrackedProvider = v
	}
	if v := os.Getenv("PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil && port > 0 {
			c.Server.Port = port
		}
	}
}

// Validate checks the configuration for values the service cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d is out of range", c.Server.Port)
	}
	if c.Server.HeartbeatSeconds < 1 {
		return fmt.Errorf("server.heartbeat_seconds must be at least 1, got %d", c.Server.HeartbeatSeconds)
	}
	switch c.Models.DefaultProvider {
	case "google", "openai":
	default:
		return fmt.Errorf("models.default_provider %q is not a supported provider", c.Models.DefaultProvider)
	}
	if c.Services.BackendURL == "" {
		return fmt.Errorf("services.backend_url must not be empty")
	}
	for name, secs := range map[string]int{
		"services.kb_search_timeout_seconds":       c.Services.KBSearchTimeoutSeconds,
		"services.log_analysis_timeout_seconds":    c.Services.LogAnalysisTimeoutSeconds,
		"services.reasoning_timeout_seconds":       c.Services.ReasoningTimeoutSeconds,
		"services.troubleshooting_timeout_seconds": c.Services.TroubleshootingTimeoutSeconds,
		"history.timeout_seconds":                  c.History.TimeoutSeconds,
		"persistence.timeout_seconds":              c.Persistence.TimeoutSeconds,
	} {
		if secs < 1 {
			return fmt.Errorf("%s must be at least 1, got %d", name, secs)
		}
	}
	if c.History.MaxMessages < 1 {
		return fmt.Errorf("history.max_messages must be at least 1, got %d", c.History.MaxMessages)
	}
	if c.Persistence.InitialFlushChars < 1 {
		return fmt.Errorf("persistence.initial_flush_chars must be at least 1, got %d", c.Persistence.InitialFlushChars)
	}
	if c.Persistence.AppendFlushChars < 1 {
		return fmt.Errorf("persistence.append_flush_chars must be at least 1, got %d", c.Persistence.AppendFlushChars)
	}
	if c.Annotations.FollowupIntervalChars < 1 {
		return fmt.Errorf("annotations.followup_interval_chars must be at least 1, got %d", c.Annotations.FollowupIntervalChars)
	}
	return c.Buckets.Validate()
}
