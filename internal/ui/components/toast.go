// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Non-blocking error toasts. Unlike modal error dialogs, toasts sit
// above the status bar and auto-dismiss, so a background stream failing
// never steals the keyboard from the foreground conversation.

package components

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/skein-tui/internal/ui/styles"
)

// ErrorToastDuration is how long an error toast stays visible.
const ErrorToastDuration = 8 * time.Second

// ToastExpiredMsg dismisses the toast with the matching id.
type ToastExpiredMsg struct {
	ID int
}

// Toast is a transient notification line.
type Toast struct {
	theme   *styles.Theme
	nextID  int
	current string
	id      int
}

// NewToast creates an empty toast surface.
func NewToast(theme *styles.Theme) Toast {
	return Toast{theme: theme}
}

// SetTheme swaps the style set, for live theme reloads.
func (t *Toast) SetTheme(theme *styles.Theme) {
	t.theme = theme
}

// Show replaces the visible toast and returns the expiry command.
func (t *Toast) Show(message string) tea.Cmd {
	t.nextID++
	t.id = t.nextID
	t.current = message

	id := t.id
	return tea.Tick(ErrorToastDuration, func(time.Time) tea.Msg {
		return ToastExpiredMsg{ID: id}
	})
}

// Expire clears the toast if the expiry matches the visible one. A
// newer toast keeps its own timer.
func (t *Toast) Expire(msg ToastExpiredMsg) {
	if msg.ID == t.id {
		t.current = ""
	}
}

// Dismiss clears the toast immediately.
func (t *Toast) Dismiss() {
	t.current = ""
}

// Visible reports whether a toast is showing.
func (t *Toast) Visible() bool { return t.current != "" }

// View renders the toast, or "" when nothing is showing.
func (t *Toast) View() string {
	if t.current == "" {
		return ""
	}
	return t.theme.ErrorToast.Render(t.current)
}
