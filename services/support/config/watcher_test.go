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
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
}

// TestWatcher_ReloadsOnChange verifies a file edit triggers the handler
// with the new values.
func TestWatcher_ReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "support.yaml")
	writeConfigFile(t, path, "server:\n  port: 8085\n")

	reloaded := make(chan *Config, 1)
	w, err := NewWatcher(path, func(cfg *Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	}, &WatcherOptions{DebounceWindow: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("NewWatcher() failed: %v", err)
	}
	defer w.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	writeConfigFile(t, path, "server:\n  port: 9999\n")

	select {
	case cfg := <-reloaded:
		if cfg.Server.Port != 9999 {
			t.Errorf("reloaded Server.Port = %d, want 9999", cfg.Server.Port)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("handler was not called after a config change")
	}
}

// TestWatcher_KeepsPreviousOnBadFile verifies an invalid edit does not
// reach the handler.
func TestWatcher_KeepsPreviousOnBadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "support.yaml")
	writeConfigFile(t, path, "server:\n  port: 8085\n")

	reloaded := make(chan *Config, 4)
	w, err := NewWatcher(path, func(cfg *Config) { reloaded <- cfg }, &WatcherOptions{DebounceWindow: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("NewWatcher() failed: %v", err)
	}
	defer w.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	// A port of 0 fails validation, so the handler must stay silent.
	writeConfigFile(t, path, "server:\n  port: 0\n")

	select {
	case cfg := <-reloaded:
		t.Errorf("handler should not run for an invalid config, got port %d", cfg.Server.Port)
	case <-time.After(500 * time.Millisecond):
	}
}

// TestWatcher_IgnoresOtherFiles verifies unrelated files in the same
// directory do not trigger reloads.
func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "support.yaml")
	writeConfigFile(t, path, "server:\n  port: 8085\n")

	reloaded := make(chan *Config, 4)
	w, err := NewWatcher(path, func(cfg *Config) { reloaded <- cfg }, &WatcherOptions{DebounceWindow: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("NewWatcher() failed: %v", err)
	}
	defer w.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	writeConfigFile(t, filepath.Join(dir, "other.yaml"), "irrelevant: true\n")

	select {
	case <-reloaded:
		t.Error("handler should not run for unrelated file changes")
	case <-time.After(500 * time.Millisecond):
	}
}

// TestWatcher_StopIsIdempotent verifies repeated Stop calls are safe.
func TestWatcher_StopIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "support.yaml")
	writeConfigFile(t, path, "server:\n  port: 8085\n")

	w, err := NewWatcher(path, nil, nil)
	if err != nil {
		t.Fatalf("NewWatcher() failed: %v", err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	w.Stop()
	w.Stop()
}
