// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides utility functions for the skein application.
package util

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Logger is an append-only debug log for failures that degrade silently:
// cache write errors, durable-store retries, stop-notification failures.
// A TUI cannot write diagnostics to stdout, so these go to a file instead.
//
// The zero value discards everything; construct with NewLogger to enable.
type Logger struct {
	mu   sync.Mutex
	path string
}

// NewLogger creates a logger appending to the given file path.
// An empty path disables logging.
func NewLogger(path string) *Logger {
	return &Logger{path: path}
}

// Logf appends a timestamped line to the log file. Errors writing the log
// are swallowed: logging must never become a failure mode of its own.
func (l *Logger) Logf(format string, args ...interface{}) {
	if l == nil || l.path == "" {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return
	}
	defer f.Close()

	line := time.Now().Format(time.RFC3339) + " " + fmt.Sprintf(format, args...) + "\n"
	f.WriteString(line)
}
