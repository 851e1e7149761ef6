// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package toolblock parses structured tool invocations out of free-form
// assistant text.
package toolblock

import (
	"regexp"
	"strconv"
	"strings"
)

// =============================================================================
// SEGMENT TYPES
// =============================================================================

// SegmentKind discriminates parsed segments.
type SegmentKind int

const (
	// SegmentText is plain prose.
	SegmentText SegmentKind = iota
	// SegmentResult is an orphaned result line with no owning tool block.
	SegmentResult
	// SegmentTool is a tool invocation with its results.
	SegmentTool
)

// ToolKind classifies what a tool does, for rendering.
type ToolKind string

// Tool kinds.
const (
	KindCommand ToolKind = "command"
	KindRead    ToolKind = "read"
	KindWrite   ToolKind = "write"
	KindEdit    ToolKind = "edit"
	KindList    ToolKind = "list"
	KindSearch  ToolKind = "search"
	KindFetch   ToolKind = "fetch"
)

// LineRange is the inclusive line span of a ranged file read.
type LineRange struct {
	Start int
	End   int
}

// ToolBlock is one parsed tool invocation: the command plus everything
// consumed as its result.
type ToolBlock struct {
	Name        string
	Kind        ToolKind
	Command     string
	ResultLines []string
	DiffLines   []string
	HasError    bool
	IsComplete  bool
	LineRange   *LineRange
	SearchQuery string
}

// Segment is one element of parsed output.
//
// Content is set for SegmentText and SegmentResult; Tool for SegmentTool.
type Segment struct {
	Kind    SegmentKind
	Content string
	Tool    *ToolBlock
}

// =============================================================================
// TOOL TABLE
// =============================================================================

// ResultMarker prefixes result lines emitted under a tool invocation.
const ResultMarker = "⎿"

// toolTable is the closed vocabulary of tool names. Tool detection is a
// string-pattern match against this table, compiled once into matchers;
// the set is small and fixed, so no grammar is needed.
var toolTable = []struct {
	Name string
	Kind ToolKind
}{
	{"Bash", KindCommand},
	{"Run", KindCommand},
	{"Read", KindRead},
	{"Write", KindWrite},
	{"Edit", KindEdit},
	{"List", KindList},
	{"Search", KindSearch},
	{"Grep", KindSearch},
	{"Fetch", KindFetch},
}

// Compiled matchers, strict priority order: ranged read, filesearch read,
// forward form "<Tool> - <rest>", reversed form "<rest> - <Tool>".
var (
	rangedReadRe = regexp.MustCompile(`^(.+?)\s+-\s+lines\s+(\d+)-(\d+)\s*$`)
	fileSearchRe = regexp.MustCompile(`(?i)^(.+?)\s+-\s+read filesearch:\s*(.+)$`)
	forwardRe    *regexp.Regexp
	reversedRe   *regexp.Regexp

	diffLineRe = regexp.MustCompile(`^\d+\s*[+-]`)
	diffDeclRe = regexp.MustCompile(`(?i)\d+\s+(addition|removal)s?\b`)
	completeRe = regexp.MustCompile(`(?i)\b(command completed|listed|wrote)\b`)
	errorRe    = regexp.MustCompile(`(?i)\b(error|traceback)\b`)

	// Explanatory prose after a stack trace: a closed set of discourse
	// markers, or a generic capitalized-sentence shape.
	proseMarkRe  = regexp.MustCompile(`(?i)^(this|the|however|note:|so|it|in short|in other words)\b`)
	proseShapeRe = regexp.MustCompile(`^[A-Z][a-z]+\s+[a-z]+(\s+\S+){1,}`)
)

func init() {
	names := make([]string, len(toolTable))
	for i, t := range toolTable {
		names[i] = t.Name
	}
	alt := strings.Join(names, "|")
	forwardRe = regexp.MustCompile(`(?i)^(` + alt + `)\s+-\s+(.+)$`)
	reversedRe = regexp.MustCompile(`(?i)^(.+?)\s+-\s+(` + alt + `)\s*$`)
}

// kindFor resolves a matched tool name (any case) to its kind and the
// table's canonical spelling.
func kindFor(name string) (string, ToolKind, bool) {
	for _, t := range toolTable {
		if strings.EqualFold(t.Name, name) {
			return t.Name, t.Kind, true
		}
	}
	return "", "", false
}

// =============================================================================
// PARSER
// =============================================================================

// parser holds the per-call scan state; Parse allocates one per input.
type parser struct {
	segments []Segment
	textBuf  []string

	block        *ToolBlock
	diffMode     bool
	inStackTrace bool
	// pendingMarker is set when a marker-only line was seen: its content
	// arrives on the following line (the upstream source renders some
	// markers on their own line).
	pendingMarker bool
}

// Parse scans text line by line and returns its ordered segments.
// It never fails: anything unrecognized is plain text.
func Parse(text string) []Segment {
	p := &parser{}
	lines := strings.Split(text, "\n")

	for _, line := range lines {
		p.feed(line)
	}
	p.closeBlock()
	p.flushText()

	return p.segments
}

// feed processes one line.
func (p *parser) feed(line string) {
	trimmed := strings.TrimSpace(line)

	// Marker lines are checked before tool-start patterns so that a
	// result like "wrote util.go - Read" is never mistaken for a new
	// reversed-form invocation.
	if rest, ok := stripMarker(trimmed); ok {
		p.feedMarker(rest)
		return
	}

	// A new tool-start line always ends the current block.
	if tb := matchToolStart(trimmed); tb != nil {
		p.closeBlock()
		p.flushText()
		p.block = tb
		return
	}

	if p.block != nil {
		p.feedBlock(line, trimmed)
		return
	}

	p.feedText(line)
}

// feedMarker handles a line beginning with the result marker.
func (p *parser) feedMarker(rest string) {
	if p.block != nil {
		if rest == "" {
			// Marker with nothing after it: content is on the next line.
			p.pendingMarker = true
			return
		}
		p.consumeResult(rest)
		return
	}

	// Orphaned result line: no owning tool block.
	if rest != "" {
		p.flushText()
		p.segments = append(p.segments, Segment{Kind: SegmentResult, Content: rest})
	}
}

// feedBlock consumes a non-marker line while a tool block is open.
func (p *parser) feedBlock(line, trimmed string) {
	// Diff lines are captured separately once a result declared an edit
	// with additions/removals.
	if p.diffMode && diffLineRe.MatchString(trimmed) {
		p.block.DiffLines = append(p.block.DiffLines, trimmed)
		return
	}

	if trimmed == "" {
		if p.diffMode {
			// Blank lines inside a diff section do not end consumption.
			return
		}
		// An empty line after results outside of diff mode closes the block.
		p.closeBlock()
		p.feedText(line)
		return
	}

	if p.pendingMarker {
		p.pendingMarker = false
		p.consumeResult(trimmed)
		return
	}

	// While erroring with no diff in progress, continuation lines are
	// stack-trace body until explanatory prose resumes.
	if p.block.HasError && p.inStackTrace && !p.diffMode {
		if isProse(trimmed) {
			p.closeBlock()
			p.feedText(line)
			return
		}
		p.block.ResultLines = append(p.block.ResultLines, trimmed)
		return
	}

	// Anything else ends the block and resumes prose.
	p.closeBlock()
	p.feedText(line)
}

// consumeResult records one result line and updates block flags.
func (p *parser) consumeResult(content string) {
	b := p.block
	b.ResultLines = append(b.ResultLines, content)

	if errorRe.MatchString(content) {
		b.HasError = true
		if !p.diffMode {
			p.inStackTrace = true
		}
	}
	if diffDeclRe.MatchString(content) {
		p.diffMode = true
	}
	if !p.diffMode && completeRe.MatchString(content) {
		b.IsComplete = true
		p.closeBlock()
	}
}

// feedText accumulates a prose line.
func (p *parser) feedText(line string) {
	p.textBuf = append(p.textBuf, line)
}

// closeBlock finalizes the open tool block, if any.
func (p *parser) closeBlock() {
	if p.block == nil {
		return
	}
	p.segments = append(p.segments, Segment{Kind: SegmentTool, Tool: p.block})
	p.block = nil
	p.diffMode = false
	p.inStackTrace = false
	p.pendingMarker = false
}

// flushText emits accumulated prose as one text segment. Leading and
// trailing blank lines are dropped; interior ones kept.
func (p *parser) flushText() {
	if len(p.textBuf) == 0 {
		return
	}
	content := strings.Join(p.textBuf, "\n")
	p.textBuf = nil
	if strings.TrimSpace(content) == "" {
		return
	}
	content = strings.Trim(content, "\n")
	p.segments = append(p.segments, Segment{Kind: SegmentText, Content: content})
}

// =============================================================================
// LINE CLASSIFICATION
// =============================================================================

// matchToolStart tries the tool-start patterns in priority order and
// returns a fresh block on a match.
func matchToolStart(line string) *ToolBlock {
	if m := rangedReadRe.FindStringSubmatch(line); m != nil {
		start, _ := strconv.Atoi(m[2])
		end, _ := strconv.Atoi(m[3])
		return &ToolBlock{
			Name:      "Read",
			Kind:      KindRead,
			Command:   strings.TrimSpace(m[1]),
			LineRange: &LineRange{Start: start, End: end},
		}
	}

	if m := fileSearchRe.FindStringSubmatch(line); m != nil {
		return &ToolBlock{
			Name:        "Read",
			Kind:        KindSearch,
			Command:     strings.TrimSpace(m[1]),
			SearchQuery: strings.TrimSpace(m[2]),
		}
	}

	if m := forwardRe.FindStringSubmatch(line); m != nil {
		if name, kind, ok := kindFor(m[1]); ok {
			return &ToolBlock{Name: name, Kind: kind, Command: strings.TrimSpace(m[2])}
		}
	}

	if m := reversedRe.FindStringSubmatch(line); m != nil {
		if name, kind, ok := kindFor(m[2]); ok {
			return &ToolBlock{Name: name, Kind: kind, Command: strings.TrimSpace(m[1])}
		}
	}

	return nil
}

// stripMarker reports whether a trimmed line begins with the result
// marker and returns the content after it.
func stripMarker(trimmed string) (string, bool) {
	if !strings.HasPrefix(trimmed, ResultMarker) {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(trimmed, ResultMarker)), true
}

// isProse judges whether a line is explanatory prose rather than
// stack-trace body.
func isProse(trimmed string) bool {
	if proseMarkRe.MatchString(trimmed) {
		return true
	}
	return proseShapeRe.MatchString(trimmed)
}
