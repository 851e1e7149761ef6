// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session owns the lifecycle of in-flight generations.
//
// The Manager tracks one ActiveRequest per generating conversation,
// enforces the concurrent-generation cap, and hands each request's
// event stream to a protocol.Machine. It implements protocol.Session,
// so every buffer append, completion, and failure funnels through one
// mutex: a background stream finishing at the same instant the user
// switches conversations serializes here instead of racing.
//
// Persistence is cache-first. Completed conversations land in the local
// SQLite cache before the durable PUT to the backend; entries are marked
// synced only after the backend write succeeds, and a startup sweep
// retries anything left unsynced by a crash.
package session
