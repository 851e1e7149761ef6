// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cache provides the durable local conversation cache.
//
// The backend owns the authoritative copy of every conversation; this
// cache is the crash-safe local shadow. Every entry carries a synced flag:
// writes land here first (cache-first, so data survives a durable-store
// failure), then the durable write is attempted, then MarkSynced records
// success. Entries still unsynced at startup are retried by a
// reconciliation sweep.
//
// A touch-time index bounds the cache to the N most recently used
// conversations (default 50); putting past the cap evicts the least
// recently touched entries together with their index records.
//
// Storage is a single SQLite database (modernc.org/sqlite, pure Go), one
// row per conversation plus the index table. SQLite allows one writer at
// a time, so the pool is limited to a single connection.
package cache
