// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package components

import (
	"strings"

	"github.com/jeranaias/skein-tui/internal/backend"
	"github.com/jeranaias/skein-tui/internal/ui/styles"
	"github.com/jeranaias/skein-tui/internal/util"
)

// SidebarItem is one conversation row.
type SidebarItem struct {
	Meta       backend.ConversationMeta
	Generating bool
}

// Sidebar lists conversations ordered by update time, most recent first.
type Sidebar struct {
	theme  *styles.Theme
	width  int
	height int

	items    []SidebarItem
	selected int
	offset   int
}

// NewSidebar creates an empty sidebar.
func NewSidebar(theme *styles.Theme) Sidebar {
	return Sidebar{theme: theme}
}

// SetTheme swaps the style set, for live theme reloads.
func (s *Sidebar) SetTheme(theme *styles.Theme) {
	s.theme = theme
}

// SetSize sets the sidebar dimensions (content area, border excluded).
func (s *Sidebar) SetSize(width, height int) {
	s.width = width
	s.height = height
	s.clampScroll()
}

// SetItems replaces the listing, keeping the selection on the same
// conversation when it survives the refresh.
func (s *Sidebar) SetItems(items []SidebarItem) {
	var selectedID string
	if s.selected >= 0 && s.selected < len(s.items) {
		selectedID = s.items[s.selected].Meta.ID
	}
	s.items = items
	s.selected = 0
	for i, item := range items {
		if item.Meta.ID == selectedID {
			s.selected = i
			break
		}
	}
	s.clampScroll()
}

// Items returns the current listing.
func (s *Sidebar) Items() []SidebarItem { return s.items }

// Selected returns the highlighted conversation id, or "" when empty.
func (s *Sidebar) Selected() string {
	if s.selected < 0 || s.selected >= len(s.items) {
		return ""
	}
	return s.items[s.selected].Meta.ID
}

// Select highlights the given conversation if present.
func (s *Sidebar) Select(conversationID string) {
	for i, item := range s.items {
		if item.Meta.ID == conversationID {
			s.selected = i
			s.clampScroll()
			return
		}
	}
}

// Next moves the highlight down, wrapping at the end.
func (s *Sidebar) Next() {
	if len(s.items) == 0 {
		return
	}
	s.selected = (s.selected + 1) % len(s.items)
	s.clampScroll()
}

// Prev moves the highlight up, wrapping at the top.
func (s *Sidebar) Prev() {
	if len(s.items) == 0 {
		return
	}
	s.selected = (s.selected - 1 + len(s.items)) % len(s.items)
	s.clampScroll()
}

// MarkGenerating flags or unflags a conversation's in-flight indicator.
func (s *Sidebar) MarkGenerating(conversationID string, generating bool) {
	for i := range s.items {
		if s.items[i].Meta.ID == conversationID {
			s.items[i].Generating = generating
			return
		}
	}
}

func (s *Sidebar) clampScroll() {
	if s.height <= 0 {
		return
	}
	rows := s.height / 2 // two lines per item
	if rows < 1 {
		rows = 1
	}
	if s.selected < s.offset {
		s.offset = s.selected
	}
	if s.selected >= s.offset+rows {
		s.offset = s.selected - rows + 1
	}
	if s.offset < 0 {
		s.offset = 0
	}
}

// View renders the sidebar rows.
func (s *Sidebar) View() string {
	if len(s.items) == 0 {
		return s.theme.Sidebar.Height(s.height).Render(
			s.theme.SidebarPreview.Render("no conversations"))
	}

	rows := s.height / 2
	if rows < 1 {
		rows = 1
	}
	end := s.offset + rows
	if end > len(s.items) {
		end = len(s.items)
	}

	var sb strings.Builder
	for i := s.offset; i < end; i++ {
		item := s.items[i]

		title := item.Meta.ID
		if item.Meta.Preview != "" {
			title = item.Meta.Preview
		}
		title = util.TruncateWidth(util.FirstLine(title), s.width-4)

		marker := "  "
		if item.Generating {
			marker = s.theme.SidebarGenerating.Render("~ ")
		}

		line := marker + title
		if i == s.selected {
			sb.WriteString(s.theme.SidebarItemSelected.Render(line))
		} else {
			sb.WriteString(s.theme.SidebarItem.Render(line))
		}
		sb.WriteString("\n")
		sb.WriteString(s.theme.SidebarPreview.Render(
			"  " + util.IntToString(item.Meta.MessageCount) + " messages"))
		if i < end-1 {
			sb.WriteString("\n")
		}
	}
	return s.theme.Sidebar.Height(s.height).Render(sb.String())
}
