// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package backend provides the HTTP client for communicating with the
// local skein backend process.
package backend

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/skein-tui/internal/util"
)

// =============================================================================
// ROLES
// =============================================================================

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// =============================================================================
// CONVERSATION TYPES
// =============================================================================

// Message is a single chat message.
//
// ID is derived from the conversation id, the message position, and a
// random suffix. It exists only for UI correlation: position in the
// Messages slice is the sole ordered identity, and IDs must never be
// treated as unique across reloads.
type Message struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// Conversation is the server's copy of a conversation.
//
// Provider is immutable once the conversation has messages; the backend
// rejects attempts to change it.
type Conversation struct {
	ID        string    `json:"id"`
	Workspace string    `json:"workspace"`
	Provider  string    `json:"provider"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// ConversationMeta is the lightweight listing shape returned by
// ListConversations, ordered by update time for the sidebar.
type ConversationMeta struct {
	ID           string    `json:"id"`
	Workspace    string    `json:"workspace"`
	Provider     string    `json:"provider"`
	Preview      string    `json:"preview"`
	MessageCount int       `json:"message_count"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// NewMessageID builds a display-correlation id for a message at the given
// position. The random suffix keeps ids distinct within one render pass;
// it is not a uniqueness guarantee.
func NewMessageID(conversationID string, position int) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return conversationID + "-" + util.IntToString(position) + "-" + suffix
}

// =============================================================================
// STREAM EVENTS
// =============================================================================

// EventType discriminates the streaming wire events.
type EventType string

// Wire event types, one JSON object per line.
const (
	EventStatus      EventType = "status"
	EventStreamStart EventType = "stream_start"
	EventStream      EventType = "stream"
	EventStreamEnd   EventType = "stream_end"
	EventResponse    EventType = "response"
	EventError       EventType = "error"
	EventAborted     EventType = "aborted"
	EventDone        EventType = "done"
)

// Event is a single streaming wire event.
//
// Message carries human-readable text for status and error events.
// Content carries assistant text for stream, stream_end, and response
// events. Unused fields are omitted on the wire.
type Event struct {
	Type    EventType `json:"type"`
	Message string    `json:"message,omitempty"`
	Content string    `json:"content,omitempty"`
}

// ChatRequest is the body of the chat stream request.
type ChatRequest struct {
	ConversationID string `json:"conversation_id"`
	Workspace      string `json:"workspace"`
	Message        string `json:"message"`
}
