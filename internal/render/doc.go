// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package render formats assistant text for the terminal.
//
// Two entry points share one structural formatter (toolblock parsing plus
// markdown-like line transforms):
//
//   - Render: full, idempotent formatting of a finished message. Prose
//     segments go through glamour; results are memoized in a bounded LRU.
//   - RenderIncremental: called on every streaming delta. Only the lines
//     up to the last newline are formatted structurally; the trailing
//     incomplete line is appended as escaped plain text so the user never
//     sees a briefly-malformed half-parsed construct. Repeated calls with
//     identical input return identical output, and extending the input
//     never reflows segments that were already finalized.
//
// An in-progress fenced code block with no closing fence is rendered in a
// distinct streaming style with a cursor glyph instead of waiting for the
// closer. If new input is shorter than the previous input the incremental
// state resets - an edit or retry elsewhere cleared the buffer.
package render
