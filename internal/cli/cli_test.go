// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"testing"
)

func TestParseDefaultsToTUI(t *testing.T) {
	args, err := Parse(nil)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if args.Command != CommandTUI {
		t.Errorf("expected TUI command, got %q", args.Command)
	}
}

func TestParseAskJoinsQuestion(t *testing.T) {
	args, err := Parse([]string{"ask", "what", "is", "a", "monad"})
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if args.Command != CommandAsk {
		t.Fatalf("expected ask command, got %q", args.Command)
	}
	if args.Question != "what is a monad" {
		t.Errorf("question = %q", args.Question)
	}
}

func TestParseAskWithoutQuestion(t *testing.T) {
	if _, err := Parse([]string{"ask"}); err == nil {
		t.Error("expected error for ask without a question")
	}
	if _, err := Parse([]string{"ask", "  "}); err == nil {
		t.Error("expected error for blank question")
	}
}

func TestParseFlags(t *testing.T) {
	args, err := Parse([]string{
		"--backend", "http://localhost:9999",
		"-w", "/tmp/ws",
		"--conversation=conv-1",
		"--plain",
		"ask", "hi",
	})
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if args.BackendURL != "http://localhost:9999" {
		t.Errorf("BackendURL = %q", args.BackendURL)
	}
	if args.Workspace != "/tmp/ws" {
		t.Errorf("Workspace = %q", args.Workspace)
	}
	if args.ConversationID != "conv-1" {
		t.Errorf("ConversationID = %q", args.ConversationID)
	}
	if !args.Plain {
		t.Error("expected Plain to be set")
	}
	if args.Command != CommandAsk || args.Question != "hi" {
		t.Errorf("command = %q question = %q", args.Command, args.Question)
	}
}

func TestParseFlagNeedsValue(t *testing.T) {
	if _, err := Parse([]string{"--backend"}); err == nil {
		t.Error("expected error for --backend without value")
	}
}

func TestParseUnknownFlag(t *testing.T) {
	if _, err := Parse([]string{"--frobnicate"}); err == nil {
		t.Error("expected error for unknown flag")
	}
}

func TestParseUnknownCommand(t *testing.T) {
	if _, err := Parse([]string{"dance"}); err == nil {
		t.Error("expected error for unknown command")
	}
}

func TestParseCommands(t *testing.T) {
	cases := []struct {
		raw  []string
		want Command
	}{
		{[]string{"chat"}, CommandChat},
		{[]string{"list"}, CommandList},
		{[]string{"ls"}, CommandList},
		{[]string{"sync"}, CommandSync},
		{[]string{"version"}, CommandVersion},
		{[]string{"help"}, CommandHelp},
		{[]string{"--help"}, CommandHelp},
		{[]string{"-v"}, CommandVersion},
	}
	for _, tc := range cases {
		args, err := Parse(tc.raw)
		if err != nil {
			t.Errorf("Parse(%v) failed: %v", tc.raw, err)
			continue
		}
		if args.Command != tc.want {
			t.Errorf("Parse(%v) command = %q, want %q", tc.raw, args.Command, tc.want)
		}
	}
}
