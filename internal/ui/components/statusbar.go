// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package components

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/skein-tui/internal/ui/styles"
)

// StatusBar is the single-line footer showing connection state, the
// generation slots in use, and key hints.
type StatusBar struct {
	theme *styles.Theme
	width int

	Connected   bool
	Generating  int
	MaxStreams  int
	ErrorNotice string
}

// NewStatusBar creates a status bar.
func NewStatusBar(theme *styles.Theme) StatusBar {
	return StatusBar{theme: theme, Connected: true}
}

// SetTheme swaps the style set, for live theme reloads.
func (b *StatusBar) SetTheme(theme *styles.Theme) {
	b.theme = theme
}

// SetWidth sets the render width.
func (b *StatusBar) SetWidth(width int) {
	b.width = width
}

// View renders the status bar.
func (b *StatusBar) View() string {
	var left string
	switch {
	case b.ErrorNotice != "":
		left = b.theme.ErrorToast.UnsetBorderStyle().UnsetPadding().Render("! " + b.ErrorNotice)
	case !b.Connected:
		left = b.theme.StatusBusy.Render("backend unreachable")
	case b.Generating > 0:
		left = b.theme.StatusBusy.Render(fmt.Sprintf("~ generating %d/%d", b.Generating, b.MaxStreams))
	default:
		left = b.theme.StatusReady.Render("ready")
	}

	hints := strings.Join([]string{
		b.hint("C-n", "new"),
		b.hint("C-j/C-k", "switch"),
		b.hint("Esc", "stop"),
		b.hint("C-q", "quit"),
	}, "  ")

	gap := b.width - lipgloss.Width(left) - lipgloss.Width(hints) - 2
	if gap < 1 {
		// Narrow terminal: hints lose.
		return b.theme.StatusBar.Render(left)
	}
	return b.theme.StatusBar.Render(left + strings.Repeat(" ", gap) + hints)
}

func (b *StatusBar) hint(key, desc string) string {
	return b.theme.ShortcutKey.Render(key) + " " + b.theme.ShortcutDesc.Render(desc)
}
