// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package backend provides the HTTP client for communicating with the
// local skein backend process.
package backend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
)

// =============================================================================
// STREAM READER
// =============================================================================

// StreamReader handles line-by-line JSON parsing of a chat event stream.
//
// Each line is one JSON event carrying a "type" discriminator. Blank lines
// and malformed lines are skipped: the protocol machine downstream only
// ever sees well-formed events.
type StreamReader struct {
	reader *bufio.Reader
	closer io.Closer

	// PERFORMANCE: strings.Builder avoids quadratic allocations
	accumulator strings.Builder
	eventCount  int
}

// NewStreamReader creates a stream reader over a response body.
func NewStreamReader(rc io.ReadCloser) *StreamReader {
	return &StreamReader{
		reader: bufio.NewReader(rc),
		closer: rc,
	}
}

// Next reads and parses the next event from the stream.
// Returns io.EOF when the stream is exhausted.
func (s *StreamReader) Next() (*Event, error) {
	for {
		line, err := s.reader.ReadBytes('\n')
		if err != nil {
			if err == io.EOF && len(bytes.TrimSpace(line)) == 0 {
				return nil, io.EOF
			}
			if len(bytes.TrimSpace(line)) == 0 {
				return nil, err
			}
			// Fall through: try to parse the final, unterminated line.
		}

		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		var ev Event
		if jsonErr := json.Unmarshal(line, &ev); jsonErr != nil || ev.Type == "" {
			// Skip malformed lines
			if err != nil {
				return nil, err
			}
			continue
		}

		s.eventCount++
		if ev.Type == EventStream {
			s.accumulator.WriteString(ev.Content)
		}

		return &ev, err
	}
}

// Process reads the stream and calls the callback for each event.
// Blocks until the stream ends, a terminal "done" event arrives, or the
// context is cancelled.
func (s *StreamReader) Process(ctx context.Context, callback func(Event)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		ev, err := s.Next()
		if ev != nil {
			callback(*ev)
			if ev.Type == EventDone {
				return nil
			}
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}

// Accumulated returns all stream delta content seen so far.
func (s *StreamReader) Accumulated() string {
	return s.accumulator.String()
}

// EventCount returns the number of well-formed events read.
func (s *StreamReader) EventCount() int {
	return s.eventCount
}

// Close releases the underlying response body.
func (s *StreamReader) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}
