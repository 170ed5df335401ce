// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package logging provides the dev-gated structured logger.
//
// Diagnostics (request/response lines, skipped stream frames, swallowed
// storage errors) are observability plumbing, not part of any contract:
// outside development mode the logger is a no-op, and it never writes to
// stdout or stderr because the TUI owns the terminal.
package logging

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// New returns a logger for the application. In development mode it writes
// to ~/.orchestratai/debug.log; otherwise it is a no-op. Failure to set up
// the log file degrades to a no-op logger rather than failing startup.
func New(devMode bool) *zap.Logger {
	if !devMode {
		return zap.NewNop()
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return zap.NewNop()
	}
	dir := filepath.Join(home, ".orchestratai")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return zap.NewNop()
	}

	cfg := zap.NewDevelopmentConfig()
	cfg.OutputPaths = []string{filepath.Join(dir, "debug.log")}
	cfg.ErrorOutputPaths = cfg.OutputPaths

	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
