// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package protocol

import (
	"github.com/jeranaias/skein-tui/internal/backend"
)

// ===== STATE =====

// State is the lifecycle position of one request.
type State int

const (
	// StateIdle - request dispatched, no events processed yet.
	StateIdle State = iota
	// StateStarting - a status event arrived but streaming has not begun.
	StateStarting
	// StateStreaming - stream_start seen, deltas are accumulating.
	StateStreaming
	// StateCompleted - finalized with assistant content.
	StateCompleted
	// StateErrored - the backend reported an error; nothing was persisted.
	StateErrored
	// StateAborted - the request was cancelled; partial content discarded.
	StateAborted
)

// String returns the lowercase state name for logs.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateErrored:
		return "errored"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateErrored || s == StateAborted
}

// ===== INJECTED INTERFACES =====

// Session is the bookkeeping surface the machine drives. The session
// manager implements it; tests substitute a fake.
type Session interface {
	// IsCurrentRequest reports whether requestID is still the
	// conversation's active request. False means the event is stale.
	IsCurrentRequest(conversationID string, requestID uint64) bool

	// IsForeground reports whether the conversation is the one the
	// user is currently viewing.
	IsForeground(conversationID string) bool

	// MarkStreaming records that deltas have started arriving.
	MarkStreaming(conversationID string, requestID uint64)

	// AppendDelta appends a content delta to the request's buffer and
	// returns the full accumulated buffer. ok is false when the
	// request is no longer tracked.
	AppendDelta(conversationID string, requestID uint64, delta string) (buffer string, ok bool)

	// Buffer returns the accumulated buffer without modifying it.
	Buffer(conversationID string, requestID uint64) (string, bool)

	// Complete finalizes the request: append the assistant message to
	// the request's history snapshot, persist cache-first, and drop
	// the active-request entry.
	Complete(conversationID string, requestID uint64, finalText string, background bool)

	// Fail drops the active-request entry without persisting anything.
	Fail(conversationID string, requestID uint64)
}

// Renderer is the visible surface the machine paints through. Only
// invoked for foreground conversations.
type Renderer interface {
	// ShowStatus surfaces a transient status line ("thinking...").
	ShowStatus(conversationID, message string)

	// BeginStreaming allocates the in-progress assistant placeholder.
	BeginStreaming(conversationID string)

	// PaintStreaming repaints the placeholder with the full buffer
	// accumulated so far.
	PaintStreaming(conversationID, buffer string)

	// FinalizeStreaming swaps the placeholder for the final message.
	FinalizeStreaming(conversationID, content string)

	// DiscardStreaming removes the placeholder without keeping it.
	DiscardStreaming(conversationID string)

	// ShowError surfaces an ephemeral error notice.
	ShowError(conversationID, message string)

	// ClearBusy clears spinner / input-lock state.
	ClearBusy(conversationID string)
}

// ===== MACHINE =====

// Machine consumes the event stream of a single request.
type Machine struct {
	conversationID string
	requestID      uint64
	state          State
	finalized      bool

	session  Session
	renderer Renderer
}

// NewMachine builds a machine for one dispatched request.
func NewMachine(conversationID string, requestID uint64, s Session, r Renderer) *Machine {
	return &Machine{
		conversationID: conversationID,
		requestID:      requestID,
		state:          StateIdle,
		session:        s,
		renderer:       r,
	}
}

// State returns the current lifecycle state.
func (m *Machine) State() State { return m.state }

// Finalized reports whether assistant content has been committed.
func (m *Machine) Finalized() bool { return m.finalized }

// HandleEvent applies one wire event. Stale events (the conversation
// has a newer request) are dropped without side effects.
func (m *Machine) HandleEvent(ev backend.Event) {
	if !m.session.IsCurrentRequest(m.conversationID, m.requestID) {
		return
	}

	foreground := m.session.IsForeground(m.conversationID)

	switch ev.Type {
	case backend.EventStatus:
		if m.state.Terminal() {
			return
		}
		if m.state == StateIdle {
			m.state = StateStarting
		}
		if foreground {
			m.renderer.ShowStatus(m.conversationID, ev.Message)
		}

	case backend.EventStreamStart:
		if m.state.Terminal() {
			return
		}
		m.state = StateStreaming
		m.session.MarkStreaming(m.conversationID, m.requestID)
		if foreground {
			m.renderer.BeginStreaming(m.conversationID)
		}

	case backend.EventStream:
		if m.state != StateStreaming {
			return
		}
		buffer, ok := m.session.AppendDelta(m.conversationID, m.requestID, ev.Content)
		if !ok {
			return
		}
		if foreground {
			m.renderer.PaintStreaming(m.conversationID, buffer)
		}

	case backend.EventStreamEnd:
		if m.finalized || m.state.Terminal() {
			return
		}
		m.finalize(ev.Content, foreground)

	case backend.EventResponse:
		// Fallback only: a well-behaved stream finalizes on stream_end.
		if m.finalized || m.state.Terminal() {
			return
		}
		m.finalize(ev.Content, foreground)

	case backend.EventError:
		if m.finalized || m.state.Terminal() {
			return
		}
		m.session.Fail(m.conversationID, m.requestID)
		m.state = StateErrored
		if foreground {
			m.renderer.DiscardStreaming(m.conversationID)
			m.renderer.ShowError(m.conversationID, ev.Message)
			m.renderer.ClearBusy(m.conversationID)
		}

	case backend.EventAborted:
		if m.finalized || m.state.Terminal() {
			return
		}
		m.session.Fail(m.conversationID, m.requestID)
		m.state = StateAborted
		if foreground {
			m.renderer.DiscardStreaming(m.conversationID)
			m.renderer.ClearBusy(m.conversationID)
		}

	case backend.EventDone:
		// Idempotent terminator. If the stream died before a proper
		// terminal event, commit whatever accumulated.
		if !m.finalized && !m.state.Terminal() {
			if buffer, ok := m.session.Buffer(m.conversationID, m.requestID); ok && buffer != "" {
				m.finalize(buffer, foreground)
			} else {
				m.session.Fail(m.conversationID, m.requestID)
				m.state = StateAborted
			}
		}
		if foreground {
			m.renderer.ClearBusy(m.conversationID)
		}
	}
}

// finalize commits assistant content. The buffer accumulated from
// deltas and the content carried by the terminal event can disagree
// when frames were dropped; the longer of the two wins.
func (m *Machine) finalize(eventContent string, foreground bool) {
	final := eventContent
	if buffer, ok := m.session.Buffer(m.conversationID, m.requestID); ok {
		if len(buffer) > len(final) {
			final = buffer
		}
	}

	m.session.Complete(m.conversationID, m.requestID, final, !foreground)
	if foreground {
		m.renderer.FinalizeStreaming(m.conversationID, final)
		m.renderer.ClearBusy(m.conversationID)
	}

	m.finalized = true
	m.state = StateCompleted
}
