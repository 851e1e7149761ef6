// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package styles provides the visual styling system for the skein TUI.
//
// The palette lives in colors.go as Lip Gloss adaptive colors; the Theme
// in theme.go composes them into the styles the chat surfaces use. Theme
// variants ("dark", "light", "auto") only pick the adaptive side - the
// palette itself is shared.
package styles
