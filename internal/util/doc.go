// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides utility functions for the skein application.
//
// This package contains common helper functions used throughout the
// application for string truncation, type conversion, crash-safe file
// writing, and debug logging.
//
// # Key Functions
//
// String Utilities:
//   - TruncateRunes: UTF-8 safe string truncation with ellipsis
//   - TruncateWidth: display-width aware truncation (CJK safe)
//   - PadWidth: display-width aware right padding
//
// Type Conversion:
//   - IntToString, Int64ToString: numeric to string conversion
//
// File Operations:
//   - AtomicWriteFile: crash-safe file writing with fsync
//
// Logging:
//   - Logger: append-only debug log used for failures that must not be
//     surfaced in the UI (cache write errors, stop-notification failures)
package util
