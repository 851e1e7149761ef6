// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package components

import (
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/skein-tui/internal/ui/styles"
)

// Spinner is the loading indicator shown while a generation runs.
type Spinner struct {
	spinner   spinner.Model
	message   string
	startTime time.Time
	active    bool
	theme     *styles.Theme
}

// NewSpinner creates a spinner with ASCII-compatible frames.
func NewSpinner(theme *styles.Theme) Spinner {
	s := spinner.New()
	s.Spinner = spinner.Spinner{
		Frames: []string{"|", "/", "-", "\\"},
		FPS:    time.Second / 10,
	}
	s.Style = theme.Spinner
	return Spinner{spinner: s, theme: theme, message: "thinking"}
}

// SetTheme swaps the style set, for live theme reloads.
func (s *Spinner) SetTheme(theme *styles.Theme) {
	s.theme = theme
	s.spinner.Style = theme.Spinner
}

// Start activates the spinner with a message and returns its tick command.
func (s *Spinner) Start(message string) tea.Cmd {
	s.active = true
	s.startTime = time.Now()
	if message != "" {
		s.message = message
	}
	return s.spinner.Tick
}

// Stop deactivates the spinner.
func (s *Spinner) Stop() {
	s.active = false
}

// Active reports whether the spinner is running.
func (s *Spinner) Active() bool { return s.active }

// SetMessage updates the message without restarting the timer.
func (s *Spinner) SetMessage(message string) {
	s.message = message
}

// Update advances the spinner animation.
func (s *Spinner) Update(msg tea.Msg) tea.Cmd {
	if !s.active {
		return nil
	}
	var cmd tea.Cmd
	s.spinner, cmd = s.spinner.Update(msg)
	return cmd
}

// View renders the spinner line, elapsed time included.
func (s *Spinner) View() string {
	if !s.active {
		return ""
	}
	elapsed := time.Since(s.startTime).Round(time.Second)
	return s.spinner.View() + " " +
		s.theme.ThinkingText.Render(s.message+"... ("+elapsed.String()+")")
}
