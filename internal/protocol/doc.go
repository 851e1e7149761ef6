// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package protocol turns streaming wire events into state transitions.
//
// One Machine consumes the ordered event sequence of one request. The
// machine itself is pure bookkeeping: every side effect goes through two
// injected interfaces - Session (request bookkeeping, owned by the
// session manager) and Renderer (the visible surface, owned by the UI) -
// so the whole transition table is testable headless.
//
// Foreground is decided per event, at the moment the event is processed,
// because the user may switch conversations mid-stream. Events whose
// request id no longer matches the conversation's current request are
// dropped entirely: a newer dispatch supersedes a stale stream.
package protocol
