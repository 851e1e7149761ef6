// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package render formats assistant text for the terminal.
package render

import (
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/jeranaias/skein-tui/internal/toolblock"
)

// =============================================================================
// CONFIGURATION
// =============================================================================

const (
	// MinWidthForMarkdown is the minimum width for glamour rendering.
	// Below this, prose falls back to plain text.
	MinWidthForMarkdown = 30

	// memoSize bounds the finalized-render LRU.
	memoSize = 128

	// segmentCacheSize bounds the per-segment cache used by the
	// incremental path to avoid re-deriving finalized structure.
	segmentCacheSize = 256

	// CursorGlyph marks the live end of a streaming message.
	CursorGlyph = "▌"
)

// =============================================================================
// RENDERER
// =============================================================================

// Renderer formats assistant text. One Renderer serves one viewport width;
// SetWidth invalidates everything when the terminal resizes.
//
// All methods are safe for concurrent use, though in practice the UI calls
// them from the single Bubble Tea loop.
type Renderer struct {
	mu    sync.Mutex
	width int

	glam *glamour.TermRenderer

	// memo caches full finalized renders keyed by input text.
	memo *lru.Cache[string, string]
	// segCache caches rendered segments for the incremental path.
	segCache *lru.Cache[string, string]

	// Incremental state: last input seen and the output returned for it.
	lastInput  string
	lastOutput string
}

// NewRenderer creates a renderer for the given viewport width.
func NewRenderer(width int) (*Renderer, error) {
	memo, err := lru.New[string, string](memoSize)
	if err != nil {
		return nil, err
	}
	segCache, err := lru.New[string, string](segmentCacheSize)
	if err != nil {
		return nil, err
	}

	r := &Renderer{
		width:    width,
		memo:     memo,
		segCache: segCache,
	}
	return r, nil
}

// SetWidth updates the viewport width, invalidating all cached renders.
func (r *Renderer) SetWidth(width int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if width == r.width {
		return
	}
	r.width = width
	r.glam = nil
	r.memo.Purge()
	r.segCache.Purge()
	r.resetIncrementalLocked()
}

// =============================================================================
// FULL RENDER
// =============================================================================

// Render formats a complete message. Idempotent: used at stream
// finalization and for static history.
func (r *Renderer) Render(text string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if out, ok := r.memo.Get(text); ok {
		return out
	}

	var sb strings.Builder
	for i, seg := range toolblock.Parse(text) {
		if i > 0 {
			sb.WriteString("\n")
		}
		switch seg.Kind {
		case toolblock.SegmentTool:
			sb.WriteString(renderToolBlock(seg.Tool, r.width))
		case toolblock.SegmentResult:
			sb.WriteString(renderOrphanResult(seg.Content))
		default:
			sb.WriteString(r.renderProseLocked(seg.Content))
		}
	}

	out := strings.TrimRight(sb.String(), "\n")
	r.memo.Add(text, out)
	return out
}

// renderProseLocked renders a prose segment through glamour, falling back
// to the line formatter on failure or narrow terminals.
func (r *Renderer) renderProseLocked(content string) string {
	if r.width < MinWidthForMarkdown {
		return formatLines(content, false)
	}

	if r.glam == nil {
		glam, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(r.width),
		)
		if err != nil {
			return formatLines(content, false)
		}
		r.glam = glam
	}

	out, err := r.glam.Render(content)
	if err != nil {
		return formatLines(content, false)
	}
	return strings.Trim(out, "\n")
}

// =============================================================================
// INCREMENTAL RENDER
// =============================================================================

// RenderIncremental formats an in-progress streaming message.
//
// For a fixed input, repeated calls return identical output. For an input
// extending the previous one, segments finalized on the earlier call are
// served from cache, so their bytes never change; only the boundary - the
// last open segment plus the trailing incomplete line - is recomputed.
func (r *Renderer) RenderIncremental(text string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Memoized on exact input equality.
	if text == r.lastInput && r.lastOutput != "" {
		return r.lastOutput
	}

	// Defensive reset: shrinking input means the buffer was replaced by
	// an edit or retry elsewhere.
	if len(text) < len(r.lastInput) {
		r.resetIncrementalLocked()
	}

	complete, tail := splitCompleteLines(text)

	var sb strings.Builder
	segments := toolblock.Parse(complete)
	for i, seg := range segments {
		if i > 0 {
			sb.WriteString("\n")
		}
		last := i == len(segments)-1
		sb.WriteString(r.renderSegmentIncrementalLocked(seg, last))
	}

	if tail != "" {
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(escapePlain(tail))
	}
	sb.WriteString(CursorGlyph)

	out := sb.String()
	r.lastInput = text
	r.lastOutput = out
	return out
}

// renderSegmentIncrementalLocked renders one segment of the complete
// portion. Non-final segments are cacheable: their content can no longer
// change as more text arrives.
func (r *Renderer) renderSegmentIncrementalLocked(seg toolblock.Segment, last bool) string {
	key := segmentKey(seg)
	if !last {
		if out, ok := r.segCache.Get(key); ok {
			return out
		}
	}

	var out string
	switch seg.Kind {
	case toolblock.SegmentTool:
		out = renderToolBlock(seg.Tool, r.width)
	case toolblock.SegmentResult:
		out = renderOrphanResult(seg.Content)
	default:
		// Line transforms only: glamour reflows its input, which would
		// make previously emitted bytes unstable while streaming.
		out = formatLines(seg.Content, true)
	}

	if !last {
		r.segCache.Add(key, out)
	}
	return out
}

// resetIncrementalLocked clears the incremental memo.
func (r *Renderer) resetIncrementalLocked() {
	r.lastInput = ""
	r.lastOutput = ""
}

// =============================================================================
// HELPERS
// =============================================================================

// splitCompleteLines splits text at the last newline: everything up to
// and including it is structurally stable, the remainder is still being
// typed by the model.
func splitCompleteLines(text string) (complete, tail string) {
	idx := strings.LastIndexByte(text, '\n')
	if idx < 0 {
		return "", text
	}
	return text[:idx+1], text[idx+1:]
}

// segmentKey derives a cache key for a parsed segment.
func segmentKey(seg toolblock.Segment) string {
	switch seg.Kind {
	case toolblock.SegmentTool:
		b := seg.Tool
		return "t\x00" + b.Name + "\x00" + b.Command + "\x00" +
			strings.Join(b.ResultLines, "\n") + "\x00" +
			strings.Join(b.DiffLines, "\n")
	case toolblock.SegmentResult:
		return "r\x00" + seg.Content
	default:
		return "p\x00" + seg.Content
	}
}

// escapePlain strips control characters from the trailing incomplete line
// so partial input cannot inject terminal escapes or half-built markup.
func escapePlain(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	for _, r := range s {
		if r < 0x20 && r != '\t' {
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
