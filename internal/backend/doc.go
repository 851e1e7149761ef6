// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package backend provides the HTTP client for communicating with the
// local skein backend process.
//
// The backend owns the durable copy of every conversation. This package
// exposes the conversation CRUD endpoints plus the chat stream: a POST
// that yields one JSON event per line (status, stream_start, stream,
// stream_end, response, error, aborted, done).
//
// # Architecture
//
//	Client  - request/response endpoints (create, fetch, replace, delete,
//	          list, stop)
//	StreamReader - line-delimited JSON event reader over a chat response
//	          body; skips blank and malformed lines
//
// The client is safe for concurrent use. Streaming connections use a
// client without a response timeout so long generations are not cut off;
// cancellation is done through the request context.
package backend
