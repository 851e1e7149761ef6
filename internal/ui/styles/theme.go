// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package styles

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Theme holds the styled components for the application. It detects the
// terminal's color capability and adjusts accordingly.
type Theme struct {
	IsDark       bool
	ColorProfile termenv.Profile

	Width  int
	Height int

	// Header
	Header      lipgloss.Style
	HeaderTitle lipgloss.Style

	// Conversation sidebar
	Sidebar             lipgloss.Style
	SidebarItem         lipgloss.Style
	SidebarItemSelected lipgloss.Style
	SidebarGenerating   lipgloss.Style
	SidebarPreview      lipgloss.Style

	// Message area
	UserLabel      lipgloss.Style
	AssistantLabel lipgloss.Style
	MessageBody    lipgloss.Style
	ErrorMessage   lipgloss.Style
	Timestamp      lipgloss.Style

	// Input area
	InputContainer   lipgloss.Style
	InputPrompt      lipgloss.Style
	InputPlaceholder lipgloss.Style

	// Status bar
	StatusBar    lipgloss.Style
	StatusBusy   lipgloss.Style
	StatusReady  lipgloss.Style
	ShortcutKey  lipgloss.Style
	ShortcutDesc lipgloss.Style

	// Transient surfaces
	Spinner      lipgloss.Style
	ThinkingText lipgloss.Style
	ErrorToast   lipgloss.Style
}

// NewTheme builds a theme for the named variant: "dark", "light", or
// "auto" (detect from the terminal).
func NewTheme(name string) *Theme {
	profile := termenv.ColorProfile()

	var isDark bool
	switch name {
	case "dark":
		isDark = true
	case "light":
		isDark = false
	default:
		isDark = termenv.HasDarkBackground()
	}

	t := &Theme{
		IsDark:       isDark,
		ColorProfile: profile,
	}
	t.build()
	return t
}

// SetSize records the terminal dimensions used by width-dependent styles.
func (t *Theme) SetSize(width, height int) {
	t.Width = width
	t.Height = height
	t.StatusBar = t.StatusBar.Width(width)
	t.Header = t.Header.Width(width)
}

func (t *Theme) build() {
	t.Header = lipgloss.NewStyle().
		Background(SurfaceDim).
		Foreground(Text).
		Padding(0, 1)
	t.HeaderTitle = lipgloss.NewStyle().
		Foreground(Cyan).
		Bold(true)

	t.Sidebar = lipgloss.NewStyle().
		BorderStyle(lipgloss.NormalBorder()).
		BorderRight(true).
		BorderForeground(Border).
		Padding(0, 1)
	t.SidebarItem = lipgloss.NewStyle().
		Foreground(Text)
	t.SidebarItemSelected = lipgloss.NewStyle().
		Foreground(Cyan).
		Background(SurfaceBright).
		Bold(true)
	t.SidebarGenerating = lipgloss.NewStyle().
		Foreground(Amber)
	t.SidebarPreview = lipgloss.NewStyle().
		Foreground(TextMuted)

	t.UserLabel = lipgloss.NewStyle().
		Foreground(Cyan).
		Bold(true)
	t.AssistantLabel = lipgloss.NewStyle().
		Foreground(Purple).
		Bold(true)
	t.MessageBody = lipgloss.NewStyle().
		Foreground(Text)
	t.ErrorMessage = lipgloss.NewStyle().
		Foreground(Rose).
		Italic(true)
	t.Timestamp = lipgloss.NewStyle().
		Foreground(TextFaint)

	t.InputContainer = lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(Border).
		Padding(0, 1)
	t.InputPrompt = lipgloss.NewStyle().
		Foreground(Cyan).
		Bold(true)
	t.InputPlaceholder = lipgloss.NewStyle().
		Foreground(TextFaint)

	t.StatusBar = lipgloss.NewStyle().
		Background(SurfaceDim).
		Foreground(TextMuted).
		Padding(0, 1)
	t.StatusBusy = lipgloss.NewStyle().
		Foreground(Amber).
		Bold(true)
	t.StatusReady = lipgloss.NewStyle().
		Foreground(Emerald)
	t.ShortcutKey = lipgloss.NewStyle().
		Foreground(Cyan)
	t.ShortcutDesc = lipgloss.NewStyle().
		Foreground(TextFaint)

	t.Spinner = lipgloss.NewStyle().
		Foreground(Purple)
	t.ThinkingText = lipgloss.NewStyle().
		Foreground(TextMuted).
		Italic(true)
	t.ErrorToast = lipgloss.NewStyle().
		Foreground(Rose).
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(Rose).
		Padding(0, 1)
}
