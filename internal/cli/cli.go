// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the non-TUI command surface: one-shot asks,
// a line-based REPL for dumb terminals, and maintenance commands.
package cli

import (
	"fmt"
	"strings"
)

// Command selects the top-level mode.
type Command string

const (
	// CommandTUI launches the full-screen interface (the default).
	CommandTUI Command = "tui"
	// CommandAsk sends one question and prints the answer.
	CommandAsk Command = "ask"
	// CommandChat runs the line-based REPL.
	CommandChat Command = "chat"
	// CommandList prints the conversation listing.
	CommandList Command = "list"
	// CommandSync pushes unsynced cache entries to the backend.
	CommandSync Command = "sync"
	// CommandVersion prints version information.
	CommandVersion Command = "version"
	// CommandHelp prints usage.
	CommandHelp Command = "help"
)

// Args is the parsed command line.
type Args struct {
	Command Command

	// Question is the joined positional text for ask.
	Question string
	// ConversationID targets an existing conversation (ask --conversation).
	ConversationID string
	// BackendURL overrides the configured backend.
	BackendURL string
	// Workspace overrides the configured workspace.
	Workspace string
	// ConfigPath loads an alternate config file.
	ConfigPath string
	// Plain disables markdown rendering even on a TTY.
	Plain bool
}

// Parse interprets raw arguments (without the program name).
func Parse(raw []string) (Args, error) {
	args := Args{Command: CommandTUI}
	var positional []string

	i := 0
	for i < len(raw) {
		arg := raw[i]
		if !strings.HasPrefix(arg, "-") {
			positional = append(positional, arg)
			i++
			continue
		}

		name := strings.TrimLeft(arg, "-")
		value := ""
		hasValue := false
		if eq := strings.Index(name, "="); eq >= 0 {
			value = name[eq+1:]
			name = name[:eq]
			hasValue = true
		}

		takeValue := func() (string, error) {
			if hasValue {
				return value, nil
			}
			if i+1 >= len(raw) {
				return "", fmt.Errorf("flag --%s needs a value", name)
			}
			i++
			return raw[i], nil
		}

		var err error
		switch name {
		case "conversation", "c":
			args.ConversationID, err = takeValue()
		case "backend", "b":
			args.BackendURL, err = takeValue()
		case "workspace", "w":
			args.Workspace, err = takeValue()
		case "config":
			args.ConfigPath, err = takeValue()
		case "plain":
			args.Plain = true
		case "help", "h":
			args.Command = CommandHelp
			return args, nil
		case "version", "v":
			args.Command = CommandVersion
			return args, nil
		default:
			return args, fmt.Errorf("unknown flag --%s", name)
		}
		if err != nil {
			return args, err
		}
		i++
	}

	if len(positional) == 0 {
		return args, nil
	}

	switch positional[0] {
	case "ask":
		args.Command = CommandAsk
		args.Question = strings.Join(positional[1:], " ")
		if strings.TrimSpace(args.Question) == "" {
			return args, fmt.Errorf("ask needs a question")
		}
	case "chat":
		args.Command = CommandChat
	case "list", "ls":
		args.Command = CommandList
	case "sync":
		args.Command = CommandSync
	case "version":
		args.Command = CommandVersion
	case "help":
		args.Command = CommandHelp
	default:
		return args, fmt.Errorf("unknown command %q", positional[0])
	}
	return args, nil
}

// Usage is the help text.
const Usage = `skein - terminal client for the local conversation backend

Usage:
  skein                      launch the full-screen interface
  skein ask <question>       one-shot question, answer on stdout
  skein chat                 line-based REPL
  skein list                 list conversations
  skein sync                 push unsynced local cache entries
  skein version              print version

Flags:
  -c, --conversation ID   target an existing conversation (ask)
  -b, --backend URL       backend base URL
  -w, --workspace PATH    workspace sent with new conversations
      --config PATH       alternate config file
      --plain             disable markdown rendering
  -h, --help              this help
`
