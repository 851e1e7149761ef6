// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package render formats assistant text for the terminal.
package render

import (
	"regexp"
	"strings"

	"github.com/alecthomas/chroma/v2/quick"
	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/skein-tui/internal/toolblock"
	"github.com/jeranaias/skein-tui/internal/util"
)

// =============================================================================
// STYLES
// =============================================================================

var (
	headerStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14"))
	bulletStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	tableStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("250"))
	boldStyle      = lipgloss.NewStyle().Bold(true)
	italicStyle    = lipgloss.NewStyle().Italic(true)
	inlineCode     = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	codeStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	streamingCode  = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Italic(true)
	fenceRuleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))

	toolNameStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("13"))
	toolCmdStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	toolMetaStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	resultStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	errorStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	completeStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	runningStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	diffAddStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	diffRemoveStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

// Inline emphasis patterns. Applied in order: code spans first so their
// contents are not re-styled as bold or italic.
var (
	inlineCodeRe = regexp.MustCompile("`([^`\n]+)`")
	boldRe       = regexp.MustCompile(`\*\*([^*\n]+)\*\*`)
	italicRe     = regexp.MustCompile(`\*([^*\n]+)\*`)

	headerRe = regexp.MustCompile(`^(#{1,6})\s+(.*)$`)
	listRe   = regexp.MustCompile(`^(\s*)([-*+]|\d+\.)\s+(.*)$`)
	fenceRe  = regexp.MustCompile("^```\\s*([A-Za-z0-9+_-]*)\\s*$")
	diffRe   = regexp.MustCompile(`^\d+\s*([+-])`)
)

// =============================================================================
// LINE FORMATTER
// =============================================================================

// formatLines applies markdown-like transforms line by line: fenced code,
// tables, headers, emphasis, lists. Unlike glamour it never reflows, so
// output for already-seen lines is stable as more lines arrive - the
// property the streaming path depends on.
//
// When streaming is true, an unclosed fence at the end of the input is
// rendered in a distinct in-progress style instead of being withheld.
func formatLines(content string, streaming bool) string {
	lines := strings.Split(content, "\n")

	var out []string
	var fenceLang string
	var fenceBody []string
	inFence := false

	for _, line := range lines {
		if m := fenceRe.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
			if !inFence {
				inFence = true
				fenceLang = m[1]
				fenceBody = fenceBody[:0]
				continue
			}
			// Closing fence: highlight the collected body.
			out = append(out, renderClosedFence(fenceLang, fenceBody))
			inFence = false
			continue
		}

		if inFence {
			fenceBody = append(fenceBody, line)
			continue
		}

		out = append(out, formatProseLine(line))
	}

	if inFence {
		// No closer yet. Streaming shows it live; a finished message with
		// a dangling fence still gets plain code styling.
		if streaming {
			out = append(out, renderStreamingFence(fenceLang, fenceBody))
		} else {
			out = append(out, renderClosedFence(fenceLang, fenceBody))
		}
	}

	return strings.Join(out, "\n")
}

// formatProseLine styles a single non-code line.
func formatProseLine(line string) string {
	trimmed := strings.TrimSpace(line)

	if m := headerRe.FindStringSubmatch(trimmed); m != nil {
		return headerStyle.Render(m[2])
	}

	if strings.HasPrefix(trimmed, "|") {
		return tableStyle.Render(line)
	}

	if m := listRe.FindStringSubmatch(line); m != nil {
		return m[1] + bulletStyle.Render("•") + " " + applyEmphasis(m[3])
	}

	return applyEmphasis(line)
}

// applyEmphasis styles inline code, bold, and italic spans.
func applyEmphasis(line string) string {
	line = inlineCodeRe.ReplaceAllStringFunc(line, func(m string) string {
		return inlineCode.Render(strings.Trim(m, "`"))
	})
	line = boldRe.ReplaceAllStringFunc(line, func(m string) string {
		return boldStyle.Render(strings.Trim(m, "*"))
	})
	line = italicRe.ReplaceAllStringFunc(line, func(m string) string {
		return italicStyle.Render(strings.Trim(m, "*"))
	})
	return line
}

// renderClosedFence highlights a finished code block with chroma.
func renderClosedFence(lang string, body []string) string {
	code := strings.Join(body, "\n")

	var hl strings.Builder
	if err := quick.Highlight(&hl, code, lang, "terminal256", "monokai"); err == nil && hl.Len() > 0 {
		highlighted := strings.TrimRight(hl.String(), "\n")
		return fenceRuleStyle.Render("─── "+langLabel(lang)) + "\n" + highlighted + "\n" + fenceRuleStyle.Render("───")
	}

	// Unknown language or highlighter failure: plain code styling.
	styled := make([]string, len(body))
	for i, l := range body {
		styled[i] = codeStyle.Render(l)
	}
	return fenceRuleStyle.Render("─── "+langLabel(lang)) + "\n" + strings.Join(styled, "\n") + "\n" + fenceRuleStyle.Render("───")
}

// renderStreamingFence renders a code block that has no closing fence yet.
func renderStreamingFence(lang string, body []string) string {
	styled := make([]string, 0, len(body)+1)
	styled = append(styled, fenceRuleStyle.Render("─── "+langLabel(lang)+" (streaming)"))
	for _, l := range body {
		styled = append(styled, streamingCode.Render(l))
	}
	return strings.Join(styled, "\n")
}

// langLabel names a fence for its rule line.
func langLabel(lang string) string {
	if lang == "" {
		return "code"
	}
	return lang
}

// =============================================================================
// TOOL BLOCK RENDERING
// =============================================================================

// renderToolBlock lays out one parsed tool invocation.
func renderToolBlock(b *toolblock.ToolBlock, width int) string {
	var sb strings.Builder

	// Header: status glyph, tool name, command, and any read metadata.
	switch {
	case b.HasError:
		sb.WriteString(errorStyle.Render("✗ "))
	case b.IsComplete:
		sb.WriteString(completeStyle.Render("✓ "))
	default:
		sb.WriteString(runningStyle.Render("… "))
	}
	sb.WriteString(toolNameStyle.Render(b.Name))
	sb.WriteString(" ")
	sb.WriteString(toolCmdStyle.Render(util.TruncateWidth(b.Command, maxCmdWidth(width))))
	if b.LineRange != nil {
		sb.WriteString(toolMetaStyle.Render(" lines " + util.IntToString(b.LineRange.Start) + "-" + util.IntToString(b.LineRange.End)))
	}
	if b.SearchQuery != "" {
		sb.WriteString(toolMetaStyle.Render(" ? " + b.SearchQuery))
	}

	lineStyle := resultStyle
	if b.HasError {
		lineStyle = errorStyle
	}
	for _, line := range b.ResultLines {
		sb.WriteString("\n")
		sb.WriteString("  " + lineStyle.Render(toolblock.ResultMarker+" "+line))
	}

	for _, line := range b.DiffLines {
		sb.WriteString("\n")
		if m := diffRe.FindStringSubmatch(line); m != nil && m[1] == "-" {
			sb.WriteString("  " + diffRemoveStyle.Render(line))
		} else {
			sb.WriteString("  " + diffAddStyle.Render(line))
		}
	}

	return sb.String()
}

// renderOrphanResult styles a result line that lost its tool block.
func renderOrphanResult(content string) string {
	return "  " + resultStyle.Render(toolblock.ResultMarker+" "+content)
}

// maxCmdWidth bounds the command display so headers stay on one line.
func maxCmdWidth(width int) int {
	w := width - 16
	if w < 20 {
		w = 20
	}
	return w
}
