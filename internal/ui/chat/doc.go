// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat provides the chat view for the skein TUI.
//
// The Bubble Tea model here is a thin surface over the session manager:
// keystrokes turn into dispatches, switches, and aborts; stream events
// arrive back as Bubble Tea messages posted by the Surface, which
// implements protocol.Renderer over program.Send. Paints are coalesced
// through a rate-limited throttle so a fast stream repaints the
// viewport at a bounded frequency instead of per delta.
package chat
