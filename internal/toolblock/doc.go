// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package toolblock parses structured tool invocations out of free-form
// assistant text.
//
// The backend streams assistant output as plain text in which tool
// activity appears as conventional lines: a tool-start line naming one of
// a small, closed set of tools, followed by result lines prefixed with a
// marker glyph, optionally followed by code-diff lines. Parse turns a
// full text into an ordered list of typed segments (prose, orphaned
// result, tool block) that the renderer lays out.
//
// Parsing is a pure function of its input: no state is kept between
// calls, nothing is ever raised on ambiguous input, and any line that
// fails to match falls through to plain text.
package toolblock
