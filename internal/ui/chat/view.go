// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/skein-tui/internal/backend"
	"github.com/jeranaias/skein-tui/internal/render"
)

// View renders the full chat screen.
func (m *Model) View() string {
	if m.quitting {
		return ""
	}
	if !m.ready {
		return "starting..."
	}

	header := m.theme.Header.Render(m.theme.HeaderTitle.Render("skein") + "  " + m.conversationTitle())
	body := lipgloss.JoinHorizontal(lipgloss.Top, m.sidebar.View(), m.viewport.View())

	var transient string
	switch {
	case m.toast.Visible():
		transient = m.toast.View()
	case m.spinner.Active():
		transient = m.spinner.View()
	default:
		transient = ""
	}

	input := m.theme.InputContainer.Width(m.width - 2).Render(m.input.View())

	sections := []string{header, body}
	if transient != "" {
		sections = append(sections, transient)
	}
	sections = append(sections, input, m.statusBar.View())
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m *Model) conversationTitle() string {
	if m.conversationID == "" {
		return ""
	}
	return m.theme.Timestamp.Render(m.conversationID)
}

// repaintConversation rebuilds the viewport content. Finalized messages
// go through the full renderer (memoized per message); the streaming
// tail goes through the incremental renderer so output stays
// prefix-stable while deltas arrive.
func (m *Model) repaintConversation() {
	if !m.ready {
		return
	}
	atBottom := m.viewport.AtBottom()

	var sb strings.Builder
	for i, msg := range m.messages {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(m.renderMessage(msg))
		sb.WriteString("\n")
	}

	if m.streaming {
		if len(m.messages) > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(m.theme.AssistantLabel.Render("assistant"))
		sb.WriteString("\n")
		if m.streamFinalized {
			sb.WriteString(m.renderer.Render(m.streamBuffer))
		} else if m.streamBuffer == "" {
			sb.WriteString(render.CursorGlyph)
		} else {
			sb.WriteString(m.renderer.RenderIncremental(m.streamBuffer))
		}
		sb.WriteString("\n")
	}

	if m.errorNotice != "" {
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(m.theme.AssistantLabel.Render("assistant"))
		sb.WriteString("\n")
		sb.WriteString(m.theme.ErrorMessage.Render(m.errorNotice))
		sb.WriteString("\n")
	}

	m.viewport.SetContent(sb.String())
	if atBottom {
		m.viewport.GotoBottom()
	}
}

func (m *Model) renderMessage(msg backend.Message) string {
	var label string
	if msg.Role == backend.RoleUser {
		label = m.theme.UserLabel.Render("you")
	} else {
		label = m.theme.AssistantLabel.Render("assistant")
	}

	body := msg.Content
	if msg.Role == backend.RoleAssistant {
		body = m.renderer.Render(msg.Content)
	} else {
		body = m.theme.MessageBody.Render(body)
	}
	return label + "\n" + body
}
