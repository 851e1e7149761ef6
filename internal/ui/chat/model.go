// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/skein-tui/internal/backend"
	"github.com/jeranaias/skein-tui/internal/cache"
	"github.com/jeranaias/skein-tui/internal/config"
	"github.com/jeranaias/skein-tui/internal/render"
	"github.com/jeranaias/skein-tui/internal/session"
	"github.com/jeranaias/skein-tui/internal/ui/components"
	"github.com/jeranaias/skein-tui/internal/ui/styles"
)

// sidebarWidth is the fixed sidebar column width.
const sidebarWidth = 28

// Model is the Bubble Tea model for the chat view.
type Model struct {
	cfg   *config.Config
	theme *styles.Theme
	keys  KeyMap

	client  *backend.Client
	store   *cache.Cache
	manager *session.Manager

	// renderer turns message content into terminal output for the
	// current viewport width.
	renderer *render.Renderer

	viewport  viewport.Model
	input     textinput.Model
	spinner   components.Spinner
	sidebar   components.Sidebar
	statusBar components.StatusBar
	toast     components.Toast

	width  int
	height int
	ready  bool

	// Foreground conversation state. loadSeq invalidates in-flight
	// history fetches: it is bumped whenever the model takes a newer
	// authoritative history (switch, completion), and a load result
	// carrying an older seq is dropped instead of applied.
	conversationID string
	messages       []backend.Message
	dirty          bool
	loadSeq        uint64

	// Streaming placeholder state. errorNotice is a failed turn shown
	// in the transcript as an assistant-style message; it lives only
	// in the view and is never written to the cache or the backend.
	streaming       bool
	streamFinalized bool
	streamBuffer    string
	statusLine      string
	errorNotice     string

	quitting bool
}

// New builds the chat model. The session manager's renderer must
// already be wired to a Surface posting into the same program.
func New(cfg *config.Config, client *backend.Client, store *cache.Cache, manager *session.Manager) *Model {
	theme := styles.NewTheme(cfg.UI.Theme)

	input := textinput.New()
	input.Placeholder = "Send a message..."
	input.Prompt = theme.InputPrompt.Render("> ")
	input.CharLimit = 0
	input.Focus()

	// NewRenderer only fails for non-positive cache sizes, which the
	// package constants rule out.
	renderer, _ := render.NewRenderer(80)

	m := &Model{
		cfg:       cfg,
		theme:     theme,
		keys:      DefaultKeyMap(),
		client:    client,
		store:     store,
		manager:   manager,
		renderer:  renderer,
		input:     input,
		spinner:   components.NewSpinner(theme),
		sidebar:   components.NewSidebar(theme),
		statusBar: components.NewStatusBar(theme),
		toast:     components.NewToast(theme),
	}
	m.statusBar.MaxStreams = manager.MaxConcurrent()
	return m
}

// Init loads the conversation list and runs the unsynced-cache sweep.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(
		listConversationsCmd(m.client),
		syncSweepCmd(m.manager),
		textinput.Blink,
	)
}

// ConversationID returns the foreground conversation id.
func (m *Model) ConversationID() string { return m.conversationID }

// contentWidth is the message area width for the current layout.
func (m *Model) contentWidth() int {
	w := m.width - sidebarWidth - 4
	if w < 20 {
		w = 20
	}
	return w
}

// refreshSidebarState re-derives the generating markers and slot count
// from the manager.
func (m *Model) refreshSidebarState() {
	items := m.sidebar.Items()
	for i := range items {
		_, generating := m.manager.ActiveFor(items[i].Meta.ID)
		items[i].Generating = generating
	}
	m.sidebar.SetItems(items)
	m.statusBar.Generating = m.manager.ActiveCount()
}
