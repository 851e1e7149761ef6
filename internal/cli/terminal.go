// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"os"

	"github.com/charmbracelet/glamour"
	"golang.org/x/term"
)

// =============================================================================
// TERMINAL DETECTION
// =============================================================================

// IsStdoutTTY reports whether stdout is attached to a terminal. Markdown
// rendering is skipped for pipes so downstream tools get plain text.
func IsStdoutTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// IsStdinTTY reports whether stdin is attached to a terminal.
func IsStdinTTY() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// =============================================================================
// MARKDOWN RENDERING
// =============================================================================

// markdownRenderer is the shared glamour renderer for command output.
var markdownRenderer *glamour.TermRenderer

func init() {
	var err error
	markdownRenderer, err = glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(80),
	)
	if err != nil {
		// Fall back to plain text when the renderer cannot initialize.
		markdownRenderer = nil
	}
}

// renderMarkdown renders markdown for terminal display, returning the
// original content if rendering is unavailable or fails.
func renderMarkdown(content string) string {
	if markdownRenderer == nil {
		return content
	}
	rendered, err := markdownRenderer.Render(content)
	if err != nil {
		return content
	}
	return rendered
}

// displayResponse prints a finished response, rendered as markdown only
// when stdout is a TTY and rendering has not been disabled.
func displayResponse(response string, plain bool) {
	if IsStdoutTTY() && !plain {
		fmt.Print(renderMarkdown(response))
		return
	}
	fmt.Print(response)
}
