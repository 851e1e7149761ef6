// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cache provides the durable local conversation cache.
package cache

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/skein-tui/internal/backend"
	"github.com/jeranaias/skein-tui/internal/util"
)

func openTestCache(t *testing.T, maxEntries int) *Cache {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "cache.db"), maxEntries)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func msgs(contents ...string) []backend.Message {
	out := make([]backend.Message, len(contents))
	for i, s := range contents {
		role := backend.RoleUser
		if i%2 == 1 {
			role = backend.RoleAssistant
		}
		out[i] = backend.Message{ID: util.IntToString(i), Role: role, Content: s}
	}
	return out
}

// =============================================================================
// PUT / GET TESTS
// =============================================================================

func TestPutAndGet(t *testing.T) {
	c := openTestCache(t, 10)

	require.NoError(t, c.Put("conv-1", msgs("hi", "hello"), "partial stream"))

	entry, err := c.Get("conv-1")
	require.NoError(t, err)
	assert.Equal(t, "conv-1", entry.ConversationID)
	assert.Len(t, entry.Messages, 2)
	assert.Equal(t, "partial stream", entry.StreamingContent)
	assert.False(t, entry.Synced, "fresh entries are unsynced")
	assert.False(t, entry.Timestamp.IsZero())
}

func TestGetMissing(t *testing.T) {
	c := openTestCache(t, 10)

	_, err := c.Get("nope")
	assert.True(t, errors.Is(err, ErrEntryNotFound))
}

func TestPutOverwritesAndResetsSync(t *testing.T) {
	c := openTestCache(t, 10)

	require.NoError(t, c.Put("conv-1", msgs("hi"), ""))
	require.NoError(t, c.MarkSynced("conv-1"))

	// A later write must flip the entry back to unsynced.
	require.NoError(t, c.Put("conv-1", msgs("hi", "hello"), ""))

	entry, err := c.Get("conv-1")
	require.NoError(t, err)
	assert.False(t, entry.Synced)
	assert.Len(t, entry.Messages, 2)
}

// =============================================================================
// SYNC FLAG TESTS
// =============================================================================

func TestMarkSynced(t *testing.T) {
	c := openTestCache(t, 10)

	require.NoError(t, c.Put("conv-1", msgs("hi"), ""))
	require.NoError(t, c.MarkSynced("conv-1"))

	entry, err := c.Get("conv-1")
	require.NoError(t, err)
	assert.True(t, entry.Synced)
	assert.False(t, entry.SyncedAt.IsZero())
}

func TestMarkSyncedMissing(t *testing.T) {
	c := openTestCache(t, 10)
	assert.True(t, errors.Is(c.MarkSynced("nope"), ErrEntryNotFound))
}

func TestListUnsynced(t *testing.T) {
	c := openTestCache(t, 10)

	require.NoError(t, c.Put("conv-a", msgs("one"), ""))
	require.NoError(t, c.Put("conv-b", msgs("two"), ""))
	require.NoError(t, c.Put("conv-empty", nil, "only a stream snapshot"))
	require.NoError(t, c.MarkSynced("conv-b"))

	unsynced, err := c.ListUnsynced()
	require.NoError(t, err)

	ids := make([]string, len(unsynced))
	for i, e := range unsynced {
		ids[i] = e.ConversationID
	}
	assert.Equal(t, []string{"conv-a"}, ids,
		"synced entries and entries with no messages are excluded")

	// After syncing, the sweep no longer reports it.
	require.NoError(t, c.MarkSynced("conv-a"))
	unsynced, err = c.ListUnsynced()
	require.NoError(t, err)
	assert.Empty(t, unsynced)
}

// =============================================================================
// EVICTION TESTS
// =============================================================================

func TestEvictionKeepsCapEntries(t *testing.T) {
	const limit = 5
	c := openTestCache(t, limit)

	for i := 0; i < limit+1; i++ {
		require.NoError(t, c.Put("conv-"+util.IntToString(i), msgs("m"), ""))
	}

	n, err := c.Len()
	require.NoError(t, err)
	assert.Equal(t, limit, n)

	// The least-recently-touched entry went first.
	_, err = c.Get("conv-0")
	assert.True(t, errors.Is(err, ErrEntryNotFound))

	_, err = c.Get("conv-" + util.IntToString(limit))
	assert.NoError(t, err)
}

func TestEvictionRespectsTouchOrder(t *testing.T) {
	const limit = 3
	c := openTestCache(t, limit)

	require.NoError(t, c.Put("conv-0", msgs("a"), ""))
	require.NoError(t, c.Put("conv-1", msgs("b"), ""))
	require.NoError(t, c.Put("conv-2", msgs("c"), ""))

	// Re-touch conv-0 so conv-1 becomes the eviction victim.
	require.NoError(t, c.Put("conv-0", msgs("a2"), ""))
	require.NoError(t, c.Put("conv-3", msgs("d"), ""))

	_, err := c.Get("conv-1")
	assert.True(t, errors.Is(err, ErrEntryNotFound), "least recently touched must be evicted")
	_, err = c.Get("conv-0")
	assert.NoError(t, err)
}

// =============================================================================
// PERSISTENCE TESTS
// =============================================================================

func TestCacheSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")

	c, err := Open(path, 10)
	require.NoError(t, err)
	require.NoError(t, c.Put("conv-1", msgs("hi"), "snap"))
	require.NoError(t, c.Close())

	c2, err := Open(path, 10)
	require.NoError(t, err)
	defer c2.Close()

	entry, err := c2.Get("conv-1")
	require.NoError(t, err)
	assert.Equal(t, "snap", entry.StreamingContent)
	assert.False(t, entry.Synced, "unsynced flag survives restart for the reconciliation sweep")
}

func TestDelete(t *testing.T) {
	c := openTestCache(t, 10)

	require.NoError(t, c.Put("conv-1", msgs("hi"), ""))
	require.NoError(t, c.Delete("conv-1"))

	_, err := c.Get("conv-1")
	assert.True(t, errors.Is(err, ErrEntryNotFound))

	n, err := c.Len()
	require.NoError(t, err)
	assert.Zero(t, n)
}
