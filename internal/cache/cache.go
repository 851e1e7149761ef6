// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cache provides the durable local conversation cache.
package cache

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/jeranaias/skein-tui/internal/backend"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrEntryNotFound is returned when no entry exists for a conversation.
	ErrEntryNotFound = errors.New("cache entry not found")
)

// =============================================================================
// ENTRY TYPE
// =============================================================================

// Entry is one cached conversation.
type Entry struct {
	ConversationID   string
	Messages         []backend.Message
	StreamingContent string
	Timestamp        time.Time
	Synced           bool
	SyncedAt         time.Time
}

// =============================================================================
// CACHE
// =============================================================================

// DefaultMaxEntries is the default cap on live cache entries.
const DefaultMaxEntries = 50

// Cache is the bounded local conversation cache.
//
// The client runs a single control loop, so the cache never sees
// concurrent writers; the single-connection pool below serializes access
// to SQLite regardless.
type Cache struct {
	db         *sql.DB
	maxEntries int

	// touchSeq orders index touches. Wall clocks can collide within one
	// burst of writes, so touches use a strictly increasing sequence
	// seeded from the stored maximum.
	touchSeq int64
}

// Open creates or opens a cache database at the given path.
func Open(path string, maxEntries int) (*Cache, error) {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections.
	db.SetMaxOpenConns(1)

	c := &Cache{db: db, maxEntries: maxEntries}
	if err := c.init(); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

// init creates the schema and seeds the touch sequence.
func (c *Cache) init() error {
	const schema = `
CREATE TABLE IF NOT EXISTS entries (
	conversation_id   TEXT PRIMARY KEY,
	messages          TEXT NOT NULL,
	streaming_content TEXT NOT NULL DEFAULT '',
	timestamp         INTEGER NOT NULL,
	synced            INTEGER NOT NULL DEFAULT 0,
	synced_at         INTEGER
);
CREATE TABLE IF NOT EXISTS touch_index (
	conversation_id TEXT PRIMARY KEY,
	touched_at      INTEGER NOT NULL
);
`
	if _, err := c.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create cache schema: %w", err)
	}

	var max sql.NullInt64
	if err := c.db.QueryRow(`SELECT MAX(touched_at) FROM touch_index`).Scan(&max); err != nil {
		return fmt.Errorf("failed to read touch index: %w", err)
	}
	c.touchSeq = max.Int64
	if c.touchSeq == 0 {
		c.touchSeq = time.Now().UnixNano()
	}
	return nil
}

// Close releases the database.
func (c *Cache) Close() error {
	return c.db.Close()
}

// =============================================================================
// WRITE OPERATIONS
// =============================================================================

// Put writes an entry with synced=false, updates the touch index, and
// evicts the least-recently-touched entries beyond the cap. The write and
// the eviction sweep run in one transaction so the index never disagrees
// with the entries table.
func (c *Cache) Put(conversationID string, messages []backend.Message, streamingContent string) error {
	payload, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("failed to encode messages: %w", err)
	}

	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin cache write: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	_, err = tx.Exec(`
INSERT INTO entries (conversation_id, messages, streaming_content, timestamp, synced, synced_at)
VALUES (?, ?, ?, ?, 0, NULL)
ON CONFLICT(conversation_id) DO UPDATE SET
	messages = excluded.messages,
	streaming_content = excluded.streaming_content,
	timestamp = excluded.timestamp,
	synced = 0,
	synced_at = NULL`,
		conversationID, string(payload), streamingContent, now.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}

	c.touchSeq++
	_, err = tx.Exec(`
INSERT INTO touch_index (conversation_id, touched_at) VALUES (?, ?)
ON CONFLICT(conversation_id) DO UPDATE SET touched_at = excluded.touched_at`,
		conversationID, c.touchSeq)
	if err != nil {
		return fmt.Errorf("failed to touch cache index: %w", err)
	}

	if err := c.evictLocked(tx); err != nil {
		return err
	}

	return tx.Commit()
}

// evictLocked removes entries beyond the cap, oldest touch first.
func (c *Cache) evictLocked(tx *sql.Tx) error {
	rows, err := tx.Query(`
SELECT conversation_id FROM touch_index
ORDER BY touched_at DESC LIMIT -1 OFFSET ?`, c.maxEntries)
	if err != nil {
		return fmt.Errorf("failed to scan for eviction: %w", err)
	}

	var victims []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan eviction row: %w", err)
		}
		victims = append(victims, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("eviction scan failed: %w", err)
	}
	rows.Close()

	for _, id := range victims {
		if _, err := tx.Exec(`DELETE FROM entries WHERE conversation_id = ?`, id); err != nil {
			return fmt.Errorf("failed to evict entry %s: %w", id, err)
		}
		if _, err := tx.Exec(`DELETE FROM touch_index WHERE conversation_id = ?`, id); err != nil {
			return fmt.Errorf("failed to evict index record %s: %w", id, err)
		}
	}
	return nil
}

// MarkSynced records a successful durable-store write for the entry.
func (c *Cache) MarkSynced(conversationID string) error {
	res, err := c.db.Exec(`
UPDATE entries SET synced = 1, synced_at = ? WHERE conversation_id = ?`,
		time.Now().UnixMilli(), conversationID)
	if err != nil {
		return fmt.Errorf("failed to mark entry synced: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrEntryNotFound
	}
	return nil
}

// Delete removes an entry and its index record.
func (c *Cache) Delete(conversationID string) error {
	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin cache delete: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM entries WHERE conversation_id = ?`, conversationID); err != nil {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM touch_index WHERE conversation_id = ?`, conversationID); err != nil {
		return fmt.Errorf("failed to delete index record: %w", err)
	}
	return tx.Commit()
}

// =============================================================================
// READ OPERATIONS
// =============================================================================

// Get retrieves the entry for a conversation.
func (c *Cache) Get(conversationID string) (*Entry, error) {
	row := c.db.QueryRow(`
SELECT conversation_id, messages, streaming_content, timestamp, synced, synced_at
FROM entries WHERE conversation_id = ?`, conversationID)

	entry, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, ErrEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cache entry: %w", err)
	}
	return entry, nil
}

// ListUnsynced returns all entries with synced=false and non-empty
// messages, for the startup reconciliation sweep.
func (c *Cache) ListUnsynced() ([]Entry, error) {
	rows, err := c.db.Query(`
SELECT conversation_id, messages, streaming_content, timestamp, synced, synced_at
FROM entries WHERE synced = 0 AND messages != '[]' AND messages != 'null'`)
	if err != nil {
		return nil, fmt.Errorf("failed to list unsynced entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan unsynced entry: %w", err)
		}
		if len(entry.Messages) == 0 {
			continue
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("unsynced scan failed: %w", err)
	}
	return entries, nil
}

// Len returns the number of live entries.
func (c *Cache) Len() (int, error) {
	var n int
	if err := c.db.QueryRow(`SELECT COUNT(*) FROM entries`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count entries: %w", err)
	}
	return n, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// scanner covers *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanEntry reads one entry row.
func scanEntry(s scanner) (*Entry, error) {
	var (
		entry     Entry
		payload   string
		timestamp int64
		synced    int
		syncedAt  sql.NullInt64
	)
	if err := s.Scan(&entry.ConversationID, &payload, &entry.StreamingContent, &timestamp, &synced, &syncedAt); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(payload), &entry.Messages); err != nil {
		return nil, fmt.Errorf("corrupt cache entry %s: %w", entry.ConversationID, err)
	}
	entry.Timestamp = time.UnixMilli(timestamp)
	entry.Synced = synced != 0
	if syncedAt.Valid {
		entry.SyncedAt = time.UnixMilli(syncedAt.Int64)
	}
	return &entry, nil
}
