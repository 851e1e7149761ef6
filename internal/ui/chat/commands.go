// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/skein-tui/internal/backend"
	"github.com/jeranaias/skein-tui/internal/cache"
	"github.com/jeranaias/skein-tui/internal/session"
)

const commandTimeout = 10 * time.Second

// listConversationsCmd refreshes the sidebar listing.
func listConversationsCmd(client *backend.Client) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		items, err := client.ListConversations(ctx)
		return ConversationsMsg{Items: items, Err: err}
	}
}

// createConversationCmd creates a conversation, optionally carrying a
// user message typed before the conversation existed.
func createConversationCmd(client *backend.Client, workspace, pendingText string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		id, err := client.CreateConversation(ctx, workspace)
		return ConversationCreatedMsg{ID: id, PendingText: pendingText, Err: err}
	}
}

// loadConversationCmd fetches a conversation's history. When the
// backend is unreachable the local cache answers instead, so reopening
// a conversation works offline.
func loadConversationCmd(client *backend.Client, store *cache.Cache, id string, seq uint64) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()

		conv, pending, err := client.FetchConversation(ctx, id)
		if err == nil {
			return ConversationLoadedMsg{ID: id, Seq: seq, Messages: conv.Messages, Pending: pending}
		}

		// Anything but a definitive not-found falls back to the cache.
		if store != nil && !errors.Is(err, backend.ErrNotFound) {
			if entry, cacheErr := store.Get(id); cacheErr == nil {
				return ConversationLoadedMsg{ID: id, Seq: seq, Messages: entry.Messages, FromCache: true}
			}
		}
		return ConversationLoadedMsg{ID: id, Seq: seq, Err: err}
	}
}

// reattachCmd polls a pending conversation until it settles.
func reattachCmd(manager *session.Manager, id string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		messages, err := manager.Reattach(ctx, id)
		return ReattachMsg{ID: id, Messages: messages, Err: err}
	}
}

// deleteConversationCmd removes a conversation from the backend and the
// cache, then refreshes the listing.
func deleteConversationCmd(client *backend.Client, store *cache.Cache, id string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		if err := client.DeleteConversation(ctx, id); err != nil {
			return ConversationsMsg{Err: err}
		}
		if store != nil {
			_ = store.Delete(id)
		}
		items, err := client.ListConversations(ctx)
		return ConversationsMsg{Items: items, Err: err}
	}
}

// syncSweepCmd pushes unsynced cache entries to the backend.
func syncSweepCmd(manager *session.Manager) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		return SyncSweepMsg{Synced: manager.SyncUnsynced(ctx)}
	}
}
