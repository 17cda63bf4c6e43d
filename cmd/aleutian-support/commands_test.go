// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"testing"

	"github.com/spf13/cobra"
)

// hasSubcommand reports whether parent has a registered subcommand with
// the given name.
func hasSubcommand(parent *cobra.Command, name string) bool {
	for _, cmd := range parent.Commands() {
		if cmd.Name() == name {
			return true
		}
	}
	return false
}

// =============================================================================
// COMMAND TREE TESTS
// =============================================================================

func TestRootCommand(t *testing.T) {
	if rootCmd.Use != "aleutian-support" {
		t.Errorf("root Use = %q, want %q", rootCmd.Use, "aleutian-support")
	}
	if rootCmd.PersistentFlags().Lookup("personality") == nil {
		t.Error("root should register the persistent personality flag")
	}
}

func TestCommandRegistration(t *testing.T) {
	for _, name := range []string{"chat", "health", "init", "admin", "devstub"} {
		if !hasSubcommand(rootCmd, name) {
			t.Errorf("root is missing the %q command", name)
		}
	}
	if !hasSubcommand(adminCmd, "ratelimit-reset") {
		t.Error("admin is missing the ratelimit-reset command")
	}
}

func TestChatCommandFlags(t *testing.T) {
	for _, name := range []string{"provider", "model", "resume", "server-memory", "attach-log"} {
		if chatCmd.Flags().Lookup(name) == nil {
			t.Errorf("chat is missing the --%s flag", name)
		}
	}

	if flag := chatCmd.Flags().Lookup("server-memory"); flag != nil && flag.DefValue != "true" {
		t.Errorf("server-memory default = %q, want true", flag.DefValue)
	}
	if chatCmd.Run == nil {
		t.Error("chat command has no Run function")
	}
}

func TestHealthCommandFlags(t *testing.T) {
	if healthCmd.Flags().Lookup("json") == nil {
		t.Error("health is missing the --json flag")
	}
	if flag := healthCmd.Flags().Lookup("timeout"); flag == nil {
		t.Error("health is missing the --timeout flag")
	} else if flag.DefValue != "10s" {
		t.Errorf("timeout default = %q, want 10s", flag.DefValue)
	}
	if healthCmd.Run == nil {
		t.Error("health command has no Run function")
	}
}

func TestDevstubCommandFlags(t *testing.T) {
	flag := devstubCmd.Flags().Lookup("addr")
	if flag == nil {
		t.Fatal("devstub is missing the --addr flag")
	}
	if flag.DefValue != ":8000" {
		t.Errorf("addr default = %q, want :8000", flag.DefValue)
	}
}

func TestRatelimitResetArgs(t *testing.T) {
	if ratelimitResetCmd.Args == nil {
		t.Fatal("ratelimit-reset should bound its positional args")
	}
	if err := ratelimitResetCmd.Args(ratelimitResetCmd, []string{"gemini-2.5-pro"}); err != nil {
		t.Errorf("one bucket argument should be accepted: %v", err)
	}
	if err := ratelimitResetCmd.Args(ratelimitResetCmd, []string{"a", "b"}); err == nil {
		t.Error("two positional args should be rejected")
	}
}

// =============================================================================
// INIT WIZARD VALIDATION TESTS
// =============================================================================

func TestValidateServerURL(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		wantErr bool
	}{
		{"http URL", "http://localhost:8085", false},
		{"https URL", "https://support.example.com", false},
		{"missing scheme", "localhost:8085", true},
		{"unsupported scheme", "ftp://host", true},
		{"missing host", "http://", true},
		{"empty", "", true},
		{"garbage", "://bad", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateServerURL(tt.value)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateServerURL(%q) error = %v, wantErr %v", tt.value, err, tt.wantErr)
			}
		})
	}
}
