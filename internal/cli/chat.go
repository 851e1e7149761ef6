// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// chat.go - Line-based REPL for terminals where the full-screen interface
// is unwanted (ssh sessions, scripts, minimal terminals).
//
// Commands inside the REPL:
//
//	/new          start a fresh conversation
//	/list         list conversations
//	/switch ID    continue an existing conversation
//	/help         show commands
//	/quit, /exit  leave (Ctrl+D also works)
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/peterh/liner"

	"github.com/jeranaias/skein-tui/internal/backend"
	"github.com/jeranaias/skein-tui/internal/config"
)

// =============================================================================
// LINE EDITOR
// =============================================================================

// ChatCLI wraps the liner state with persistent history.
type ChatCLI struct {
	line        *liner.State
	historyFile string
}

// NewChatCLI creates a line editor with history stored under the config
// directory.
func NewChatCLI() (*ChatCLI, error) {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	dir, err := config.Dir()
	if err != nil {
		line.Close()
		return nil, err
	}

	cli := &ChatCLI{
		line:        line,
		historyFile: filepath.Join(dir, "chat_history"),
	}
	cli.loadHistory()
	return cli, nil
}

func (c *ChatCLI) loadHistory() {
	f, err := os.Open(c.historyFile)
	if err != nil {
		return // first run
	}
	defer f.Close()
	c.line.ReadHistory(f)
}

func (c *ChatCLI) saveHistory() {
	if err := config.EnsureDir(); err != nil {
		return
	}
	f, err := os.OpenFile(c.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return
	}
	defer f.Close()
	c.line.WriteHistory(f)
}

// ReadInput prompts for one line, recording non-empty input in history.
func (c *ChatCLI) ReadInput(prompt string) (string, error) {
	input, err := c.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		c.line.AppendHistory(input)
	}
	return input, nil
}

// Close persists history and releases the terminal.
func (c *ChatCLI) Close() {
	c.saveHistory()
	c.line.Close()
}

// =============================================================================
// CHAT SESSION
// =============================================================================

// chatSession is the REPL's view of the current conversation.
type chatSession struct {
	conversationID string
	messages       []backend.Message
}

// RunChat handles the "chat" command.
func RunChat(cfg *config.Config, client *backend.Client, args Args) error {
	cli, err := NewChatCLI()
	if err != nil {
		return fmt.Errorf("failed to initialize line editor: %w", err)
	}
	defer cli.Close()

	session := &chatSession{conversationID: args.ConversationID}
	if session.conversationID != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		conv, _, err := client.FetchConversation(ctx, session.conversationID)
		cancel()
		if err != nil {
			return fmt.Errorf("failed to load conversation %s: %w", session.conversationID, err)
		}
		session.messages = conv.Messages
		fmt.Printf("Continuing conversation %s (%d messages)\n", conv.ID, len(conv.Messages))
	}

	fmt.Println(askMutedStyle.Render("skein chat. /help for commands, /quit to leave."))

	for {
		input, err := cli.ReadInput("> ")
		if err == liner.ErrPromptAborted {
			fmt.Println(askMutedStyle.Render("(Ctrl+C — /quit to leave)"))
			continue
		}
		if err != nil {
			// Ctrl+D or a closed terminal.
			fmt.Println()
			return nil
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			done, err := handleChatCommand(client, cfg, session, input)
			if err != nil {
				fmt.Fprintf(os.Stderr, "%s %v\n", askErrorStyle.Render("[!]"), err)
			}
			if done {
				return nil
			}
			continue
		}

		if err := sendChatMessage(client, cfg, session, input); err != nil {
			fmt.Fprintf(os.Stderr, "%s %v\n", askErrorStyle.Render("[!]"), err)
		}
	}
}

// handleChatCommand runs a slash command. It returns true when the REPL
// should exit.
func handleChatCommand(client *backend.Client, cfg *config.Config, session *chatSession, input string) (bool, error) {
	fields := strings.Fields(input)
	switch fields[0] {
	case "/quit", "/exit", "/q":
		return true, nil

	case "/help", "/h":
		fmt.Println("  /new          start a fresh conversation")
		fmt.Println("  /list         list conversations")
		fmt.Println("  /switch ID    continue an existing conversation")
		fmt.Println("  /quit         leave")
		return false, nil

	case "/new":
		session.conversationID = ""
		session.messages = nil
		fmt.Println(askInfoStyle.Render("Started a fresh conversation."))
		return false, nil

	case "/list", "/ls":
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		metas, err := client.ListConversations(ctx)
		if err != nil {
			return false, err
		}
		printConversationList(metas, session.conversationID)
		return false, nil

	case "/switch":
		if len(fields) < 2 {
			return false, fmt.Errorf("usage: /switch CONVERSATION_ID")
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		conv, pending, err := client.FetchConversation(ctx, fields[1])
		if err != nil {
			return false, err
		}
		if pending {
			fmt.Println(askMutedStyle.Render("note: this conversation still has a generation in flight on the backend"))
		}
		session.conversationID = conv.ID
		session.messages = conv.Messages
		fmt.Printf("Switched to %s (%d messages)\n", conv.ID, len(conv.Messages))
		return false, nil

	default:
		return false, fmt.Errorf("unknown command %s (try /help)", fields[0])
	}
}

// sendChatMessage streams one exchange and persists it.
func sendChatMessage(client *backend.Client, cfg *config.Config, session *chatSession, text string) error {
	if session.conversationID == "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		id, err := client.CreateConversation(ctx, cfg.Backend.Workspace)
		cancel()
		if err != nil {
			return fmt.Errorf("failed to create conversation: %w", err)
		}
		session.conversationID = id
	}

	// Ctrl+C during generation cancels consumption and asks the backend
	// to stop; the prompt loop keeps running.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	fmt.Println()
	answer, err := streamAnswer(ctx, client, backend.ChatRequest{
		ConversationID: session.conversationID,
		Workspace:      cfg.Backend.Workspace,
		Message:        text,
	}, true)
	if ctx.Err() != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		client.RequestStop(stopCtx, session.conversationID)
		cancel()
		fmt.Println(askMutedStyle.Render("\n(stopped)"))
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Println()
	fmt.Println()

	now := time.Now()
	session.messages = append(session.messages,
		backend.Message{
			ID:        backend.NewMessageID(session.conversationID, len(session.messages)),
			Role:      backend.RoleUser,
			Content:   text,
			Timestamp: now,
		},
		backend.Message{
			ID:        backend.NewMessageID(session.conversationID, len(session.messages)+1),
			Role:      backend.RoleAssistant,
			Content:   answer,
			Timestamp: time.Now(),
		},
	)

	persistCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.ReplaceMessages(persistCtx, session.conversationID, session.messages); err != nil {
		return fmt.Errorf("answer shown but not saved: %w", err)
	}
	return nil
}
