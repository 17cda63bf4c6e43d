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
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Constants for default connection settings
const (
	DefaultSupportPort = 8085
	DefaultSupportHost = "localhost"
)

// cliConfigFileName is the wizard-written config file in the user's
// home directory.
const cliConfigFileName = ".aleutian-support.yaml"

// cliConfig is the on-disk CLI configuration written by `init`.
type cliConfig struct {
	ServerURL    string `yaml:"server_url"`
	Token        string `yaml:"token,omitempty"`
	Provider     string `yaml:"provider,omitempty"`
	Model        string `yaml:"model,omitempty"`
	ServerMemory bool   `yaml:"server_memory"`
	Personality  string `yaml:"personality,omitempty"`
}

// cliConfigPath returns the config file location.
func cliConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, cliConfigFileName), nil
}

// loadCLIConfig reads the config file. A missing file is normal and
// returns the zero config with found=false; a malformed file is
// reported once and otherwise treated as missing.
func loadCLIConfig() (cliConfig, bool) {
	var cfg cliConfig

	path, err := cliConfigPath()
	if err != nil {
		return cfg, false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, false
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: ignoring malformed config %s: %v\n", path, err)
		return cliConfig{}, false
	}
	return cfg, true
}

// saveCLIConfig writes the config file and returns its path. Mode 0600
// because the file may hold a token.
func saveCLIConfig(cfg cliConfig) (string, error) {
	path, err := cliConfigPath()
	if err != nil {
		return "", err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", err
	}
	return path, nil
}

// defaultBaseURL returns the standard local support server address.
func defaultBaseURL() string {
	return fmt.Sprintf("http://%s:%d", DefaultSupportHost, DefaultSupportPort)
}

// getSupportBaseURL returns the support server address. Priority:
// environment variable, then the config file, then the standard local
// address.
func getSupportBaseURL() string {
	// 1. Priority: Environment Variable (Used by Tests & Docker overrides)
	if url := os.Getenv("ALEUTIAN_SUPPORT_URL"); url != "" {
		return strings.TrimSuffix(url, "/")
	}
	// 2. Wizard-written config file
	if cfg, ok := loadCLIConfig(); ok && cfg.ServerURL != "" {
		return strings.TrimSuffix(cfg.ServerURL, "/")
	}
	// 3. Default: Standard Host/Port
	return defaultBaseURL()
}

// getAuthToken returns the bearer token for authenticated endpoints, or
// the empty string when none is configured. Environment wins over the
// config file.
func getAuthToken() string {
	if token := os.Getenv("ALEUTIAN_SUPPORT_TOKEN"); token != "" {
		return token
	}
	cfg, _ := loadCLIConfig()
	return cfg.Token
}
