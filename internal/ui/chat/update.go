// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"errors"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/skein-tui/internal/backend"
	"github.com/jeranaias/skein-tui/internal/session"
	"github.com/jeranaias/skein-tui/internal/ui/components"
	"github.com/jeranaias/skein-tui/internal/ui/styles"
)

// Update is the Bubble Tea update loop.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		return m, m.handleResize(msg)

	case tea.KeyMsg:
		return m.handleKey(msg)

	// ----- stream surface -----

	case StatusEventMsg:
		if msg.ConversationID == m.conversationID {
			m.statusLine = msg.Message
			m.spinner.SetMessage(msg.Message)
		}
		return m, nil

	case StreamBeginMsg:
		if msg.ConversationID == m.conversationID {
			m.streaming = true
			m.streamFinalized = false
			m.streamBuffer = ""
			m.statusLine = ""
			m.errorNotice = ""
			m.repaintConversation()
		}
		return m, nil

	case StreamPaintMsg:
		if msg.ConversationID == m.conversationID && m.streaming && !m.streamFinalized {
			m.streamBuffer = msg.Buffer
			m.repaintConversation()
		}
		return m, nil

	case StreamFinalMsg:
		if msg.ConversationID == m.conversationID && m.streaming {
			// Hold the finalized text on screen until the persisted
			// history arrives; dropping it first would flicker.
			m.streamFinalized = true
			m.streamBuffer = msg.Content
			m.repaintConversation()
		}
		return m, nil

	case StreamDiscardMsg:
		if msg.ConversationID == m.conversationID {
			m.clearStreamPlaceholder()
			m.repaintConversation()
		}
		m.refreshSidebarState()
		return m, nil

	case StreamErrorMsg:
		if msg.ConversationID == m.conversationID {
			// Keep the failure visible in the transcript after the
			// toast expires. The notice never enters m.messages, so
			// neither SwitchForeground nor the cache picks it up.
			m.errorNotice = msg.Message
			m.clearStreamPlaceholder()
			m.repaintConversation()
			m.viewport.GotoBottom()
		}
		m.refreshSidebarState()
		return m, m.toast.Show(msg.Message)

	case BusyClearMsg:
		if msg.ConversationID == m.conversationID {
			m.spinner.Stop()
			m.statusLine = ""
		}
		m.refreshSidebarState()
		return m, nil

	case CompletionMsg:
		return m, m.handleCompletion(msg)

	// ----- backend -----

	case ConversationsMsg:
		if msg.Err != nil {
			m.statusBar.Connected = false
			return m, nil
		}
		m.statusBar.Connected = true
		items := make([]components.SidebarItem, len(msg.Items))
		for i, meta := range msg.Items {
			_, generating := m.manager.ActiveFor(meta.ID)
			items[i] = components.SidebarItem{Meta: meta, Generating: generating}
		}
		m.sidebar.SetItems(items)
		m.sidebar.Select(m.conversationID)

		// First run: land in the most recent conversation, or a fresh one.
		if m.conversationID == "" {
			if len(msg.Items) > 0 {
				return m, m.switchTo(msg.Items[0].ID)
			}
			return m, createConversationCmd(m.client, m.cfg.Backend.Workspace, "")
		}
		return m, nil

	case ConversationCreatedMsg:
		if msg.Err != nil {
			return m, m.toast.Show("create failed: " + msg.Err.Error())
		}
		cmd := m.switchTo(msg.ID)
		cmds := []tea.Cmd{cmd, listConversationsCmd(m.client)}
		if msg.PendingText != "" {
			if dispatchCmd := m.dispatch(msg.ID, msg.PendingText); dispatchCmd != nil {
				cmds = append(cmds, dispatchCmd)
			}
		}
		return m, tea.Batch(cmds...)

	case ConversationLoadedMsg:
		if msg.ID != m.conversationID || msg.Seq != m.loadSeq {
			// Superseded: a newer history (completion or another
			// switch) landed after this fetch was issued.
			return m, nil
		}
		if msg.Err != nil {
			return m, m.toast.Show("open failed: " + msg.Err.Error())
		}
		m.messages = msg.Messages
		m.dirty = false
		m.repaintConversation()
		m.viewport.GotoBottom()
		var cmds []tea.Cmd
		if msg.FromCache {
			cmds = append(cmds, m.toast.Show("backend unreachable - showing cached copy"))
		}
		if msg.Pending {
			m.statusLine = "reattaching to running generation"
			cmds = append(cmds, reattachCmd(m.manager, msg.ID), m.spinner.Start("reattaching"))
		}
		return m, tea.Batch(cmds...)

	case ReattachMsg:
		if msg.ID != m.conversationID {
			return m, nil
		}
		m.spinner.Stop()
		m.statusLine = ""
		if len(msg.Messages) > 0 {
			m.messages = msg.Messages
			m.repaintConversation()
			m.viewport.GotoBottom()
		}
		if errors.Is(msg.Err, session.ErrStillPending) {
			return m, m.toast.Show("backend still generating - history may be incomplete")
		}
		if msg.Err != nil {
			return m, m.toast.Show("reattach failed: " + msg.Err.Error())
		}
		return m, nil

	case SyncSweepMsg:
		if msg.Synced > 0 {
			return m, listConversationsCmd(m.client)
		}
		return m, nil

	case ConfigReloadedMsg:
		// Display settings apply live; backend and session settings
		// need a restart because clients were built from them.
		m.cfg = msg.Config
		m.theme = styles.NewTheme(msg.Config.UI.Theme)
		m.theme.SetSize(m.width, m.height)
		m.input.Prompt = m.theme.InputPrompt.Render("> ")
		m.spinner.SetTheme(m.theme)
		m.sidebar.SetTheme(m.theme)
		m.statusBar.SetTheme(m.theme)
		m.toast.SetTheme(m.theme)
		m.repaintConversation()
		return m, nil

	case components.ToastExpiredMsg:
		m.toast.Expire(msg)
		return m, nil
	}

	// Spinner ticks and other component messages.
	var cmds []tea.Cmd
	if cmd := m.spinner.Update(msg); cmd != nil {
		cmds = append(cmds, cmd)
	}
	var vpCmd tea.Cmd
	m.viewport, vpCmd = m.viewport.Update(msg)
	if vpCmd != nil {
		cmds = append(cmds, vpCmd)
	}
	return m, tea.Batch(cmds...)
}

// ===== KEYS =====

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.quitting = true
		// A foreground generation keeps running on the backend; the
		// cache sweep picks the result up next launch.
		return m, tea.Quit

	case key.Matches(msg, m.keys.Submit):
		return m, m.submit()

	case key.Matches(msg, m.keys.Stop):
		if m.streaming || m.spinner.Active() {
			m.manager.Abort(m.conversationID)
			m.clearStreamPlaceholder()
			m.spinner.Stop()
			m.statusLine = ""
			m.repaintConversation()
			m.refreshSidebarState()
		}
		return m, nil

	case key.Matches(msg, m.keys.NewConv):
		return m, createConversationCmd(m.client, m.cfg.Backend.Workspace, "")

	case key.Matches(msg, m.keys.NextConv):
		m.sidebar.Next()
		return m, m.switchTo(m.sidebar.Selected())

	case key.Matches(msg, m.keys.PrevConv):
		m.sidebar.Prev()
		return m, m.switchTo(m.sidebar.Selected())

	case key.Matches(msg, m.keys.Delete):
		id := m.sidebar.Selected()
		if id == "" {
			return m, nil
		}
		if _, generating := m.manager.ActiveFor(id); generating {
			m.manager.Abort(id)
		}
		if id == m.conversationID {
			m.conversationID = ""
			m.messages = nil
			m.clearStreamPlaceholder()
			m.repaintConversation()
		}
		return m, deleteConversationCmd(m.client, m.store, id)

	case key.Matches(msg, m.keys.PageUp):
		m.viewport.HalfViewUp()
		return m, nil

	case key.Matches(msg, m.keys.PageDown):
		m.viewport.HalfViewDown()
		return m, nil

	case key.Matches(msg, m.keys.Up):
		m.viewport.LineUp(1)
		return m, nil

	case key.Matches(msg, m.keys.Down):
		m.viewport.LineDown(1)
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// submit sends the typed message on the foreground conversation.
func (m *Model) submit() tea.Cmd {
	text := strings.TrimSpace(m.input.Value())
	if text == "" {
		return nil
	}

	if m.conversationID == "" {
		m.input.Reset()
		return createConversationCmd(m.client, m.cfg.Backend.Workspace, text)
	}

	cmd := m.dispatch(m.conversationID, text)
	if cmd != nil {
		m.input.Reset()
	}
	return cmd
}

// dispatch appends the user message and starts the generation.
func (m *Model) dispatch(conversationID, text string) tea.Cmd {
	userMsg := backend.Message{
		ID:        backend.NewMessageID(conversationID, len(m.messages)),
		Role:      backend.RoleUser,
		Content:   text,
		Timestamp: time.Now(),
	}
	history := append(append([]backend.Message{}, m.messages...), userMsg)

	_, err := m.manager.Dispatch(conversationID, m.cfg.Backend.Workspace, text, history)
	switch {
	case errors.Is(err, session.ErrConversationBusy):
		return m.toast.Show("this conversation is still generating")
	case errors.Is(err, session.ErrTooManyStreams):
		return m.toast.Show("generation limit reached - wait for one to finish")
	case err != nil:
		return m.toast.Show("send failed: " + err.Error())
	}

	if conversationID == m.conversationID {
		m.messages = history
		m.dirty = true
		m.errorNotice = ""
		m.statusLine = "waiting for backend"
		m.repaintConversation()
		m.viewport.GotoBottom()
	}
	m.sidebar.MarkGenerating(conversationID, true)
	m.statusBar.Generating = m.manager.ActiveCount()
	return m.spinner.Start("thinking")
}

// ===== SWITCHING =====

// switchTo makes conversationID the foreground conversation, persisting
// the outgoing one and rebuilding the view from the in-flight buffer,
// the backend, or the cache.
func (m *Model) switchTo(conversationID string) tea.Cmd {
	if conversationID == "" || conversationID == m.conversationID {
		return nil
	}

	m.manager.SwitchForeground(conversationID, m.messages, m.dirty)

	m.conversationID = conversationID
	m.messages = nil
	m.dirty = false
	m.errorNotice = ""
	m.loadSeq++
	m.clearStreamPlaceholder()
	m.spinner.Stop()
	m.statusLine = ""
	m.sidebar.Select(conversationID)

	// Switching back mid-generation rebuilds the placeholder from the
	// live buffer; no network round trip.
	if ar, generating := m.manager.ActiveFor(conversationID); generating {
		m.messages = ar.Snapshot
		m.streaming = true
		m.streamFinalized = false
		m.streamBuffer = ar.Buffer
		m.repaintConversation()
		m.viewport.GotoBottom()
		return m.spinner.Start("generating")
	}

	m.repaintConversation()
	return loadConversationCmd(m.client, m.store, conversationID, m.loadSeq)
}

// ===== COMPLETION =====

func (m *Model) handleCompletion(msg CompletionMsg) tea.Cmd {
	if msg.ConversationID == m.conversationID {
		m.messages = msg.Messages
		m.dirty = false
		// The persisted history is now authoritative; invalidate any
		// fetch still in flight so a stale result cannot roll it back.
		m.loadSeq++
		m.clearStreamPlaceholder()
		m.spinner.Stop()
		m.statusLine = ""
		m.repaintConversation()
		m.viewport.GotoBottom()
	}
	m.sidebar.MarkGenerating(msg.ConversationID, false)
	m.statusBar.Generating = m.manager.ActiveCount()
	return listConversationsCmd(m.client)
}

// ===== LAYOUT =====

func (m *Model) handleResize(msg tea.WindowSizeMsg) tea.Cmd {
	m.width = msg.Width
	m.height = msg.Height
	m.theme.SetSize(msg.Width, msg.Height)

	headerHeight := 1
	inputHeight := 3
	statusHeight := 1
	bodyHeight := msg.Height - headerHeight - inputHeight - statusHeight
	if bodyHeight < 3 {
		bodyHeight = 3
	}

	if !m.ready {
		m.viewport = viewport.New(m.contentWidth(), bodyHeight)
		m.ready = true
	} else {
		m.viewport.Width = m.contentWidth()
		m.viewport.Height = bodyHeight
	}
	m.sidebar.SetSize(sidebarWidth, bodyHeight)
	m.statusBar.SetWidth(msg.Width)
	m.input.Width = msg.Width - 6

	m.renderer.SetWidth(m.contentWidth())
	m.repaintConversation()
	return nil
}

func (m *Model) clearStreamPlaceholder() {
	m.streaming = false
	m.streamFinalized = false
	m.streamBuffer = ""
}
