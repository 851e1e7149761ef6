// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package components provides the reusable UI components for the skein
// TUI: the conversation sidebar, spinner, status bar, and non-blocking
// error toasts.
package components
