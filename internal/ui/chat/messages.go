// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/skein-tui/internal/backend"
	"github.com/jeranaias/skein-tui/internal/config"
)

// =============================================================================
// STREAM MESSAGES
// =============================================================================

// StatusEventMsg carries a transient backend status line.
type StatusEventMsg struct {
	ConversationID string
	Message        string
}

// StreamBeginMsg allocates the in-progress assistant placeholder.
type StreamBeginMsg struct {
	ConversationID string
}

// StreamPaintMsg repaints the placeholder with the accumulated buffer.
type StreamPaintMsg struct {
	ConversationID string
	Buffer         string
}

// StreamFinalMsg swaps the placeholder for the final content.
type StreamFinalMsg struct {
	ConversationID string
	Content        string
}

// StreamDiscardMsg removes the placeholder without keeping it.
type StreamDiscardMsg struct {
	ConversationID string
}

// StreamErrorMsg surfaces a stream failure.
type StreamErrorMsg struct {
	ConversationID string
	Message        string
}

// BusyClearMsg releases the spinner and the input lock.
type BusyClearMsg struct {
	ConversationID string
}

// CompletionMsg carries a finalized, persisted conversation history.
type CompletionMsg struct {
	ConversationID string
	Messages       []backend.Message
	Background     bool
}

// =============================================================================
// BACKEND MESSAGES
// =============================================================================

// ConversationsMsg carries the sidebar listing.
type ConversationsMsg struct {
	Items []backend.ConversationMeta
	Err   error
}

// ConversationCreatedMsg carries a freshly created conversation id.
// PendingText, when set, is a user message typed before the conversation
// existed; it is dispatched as soon as the id is known.
type ConversationCreatedMsg struct {
	ID          string
	PendingText string
	Err         error
}

// ConversationLoadedMsg carries a reopened conversation's history.
// Seq echoes the model's load sequence at the time the fetch was
// issued; a result from a superseded fetch is dropped.
type ConversationLoadedMsg struct {
	ID        string
	Seq       uint64
	Messages  []backend.Message
	Pending   bool
	FromCache bool
	Err       error
}

// ReattachMsg carries the outcome of polling a pending conversation.
type ReattachMsg struct {
	ID       string
	Messages []backend.Message
	Err      error
}

// SyncSweepMsg reports the startup unsynced-cache sweep.
type SyncSweepMsg struct {
	Synced int
}

// ConfigReloadedMsg carries a config picked up by the file watcher while
// the program is running. Only display settings take effect live.
type ConfigReloadedMsg struct {
	Config *config.Config
}

// =============================================================================
// SURFACE (protocol.Renderer over program.Send)
// =============================================================================

// Surface posts stream events into the Bubble Tea loop. It is the
// renderer handed to the session manager; every method may be called
// from a stream goroutine.
type Surface struct {
	send     func(tea.Msg)
	throttle *PaintThrottle
}

// NewSurface builds a surface over a send function (program.Send) with
// paints coalesced to at most fps repaints per second.
func NewSurface(send func(tea.Msg), fps int) *Surface {
	s := &Surface{send: send}
	s.throttle = NewPaintThrottle(fps, func(conversationID, buffer string) {
		send(StreamPaintMsg{ConversationID: conversationID, Buffer: buffer})
	})
	return s
}

// ShowStatus implements protocol.Renderer.
func (s *Surface) ShowStatus(conversationID, message string) {
	s.send(StatusEventMsg{ConversationID: conversationID, Message: message})
}

// BeginStreaming implements protocol.Renderer.
func (s *Surface) BeginStreaming(conversationID string) {
	s.send(StreamBeginMsg{ConversationID: conversationID})
}

// PaintStreaming implements protocol.Renderer. Paints coalesce: only
// the newest buffer for a conversation survives a throttle window.
func (s *Surface) PaintStreaming(conversationID, buffer string) {
	s.throttle.Offer(conversationID, buffer)
}

// FinalizeStreaming implements protocol.Renderer.
func (s *Surface) FinalizeStreaming(conversationID, content string) {
	s.throttle.Drop(conversationID)
	s.send(StreamFinalMsg{ConversationID: conversationID, Content: content})
}

// DiscardStreaming implements protocol.Renderer.
func (s *Surface) DiscardStreaming(conversationID string) {
	s.throttle.Drop(conversationID)
	s.send(StreamDiscardMsg{ConversationID: conversationID})
}

// ShowError implements protocol.Renderer.
func (s *Surface) ShowError(conversationID, message string) {
	s.send(StreamErrorMsg{ConversationID: conversationID, Message: message})
}

// ClearBusy implements protocol.Renderer.
func (s *Surface) ClearBusy(conversationID string) {
	s.send(BusyClearMsg{ConversationID: conversationID})
}
