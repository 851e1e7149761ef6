// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// ask.go - One-shot question command.
//
// Handles "skein ask", which sends a single question through the backend
// chat stream and prints the answer to stdout. On a TTY the finished
// answer is re-rendered as markdown; piped output stays plain so it can
// feed other tools.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/skein-tui/internal/backend"
	"github.com/jeranaias/skein-tui/internal/config"
	"github.com/jeranaias/skein-tui/internal/ui/styles"
)

// =============================================================================
// STYLES
// =============================================================================

var (
	askInfoStyle  = lipgloss.NewStyle().Foreground(styles.Cyan)
	askMutedStyle = lipgloss.NewStyle().Foreground(styles.TextMuted)
	askErrorStyle = lipgloss.NewStyle().Foreground(styles.Rose)
)

// =============================================================================
// ASK HANDLER
// =============================================================================

// RunAsk handles the "ask" command.
func RunAsk(cfg *config.Config, client *backend.Client, args Args) error {
	question := args.Question

	// Piped stdin supplements or replaces the positional question.
	if !IsStdinTTY() {
		data, err := io.ReadAll(bufio.NewReader(os.Stdin))
		if err == nil && len(data) > 0 {
			piped := strings.TrimSpace(string(data))
			if question == "" {
				question = piped
			} else {
				question = question + "\n\n" + piped
			}
		}
	}
	if strings.TrimSpace(question) == "" {
		return fmt.Errorf("no question provided. Usage: skein ask \"your question\"")
	}

	// Ctrl+C stops local consumption; the backend generation is stopped
	// separately below so it does not keep burning tokens.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	conversationID, history, err := resolveConversation(ctx, client, cfg, args)
	if err != nil {
		return err
	}

	answer, err := streamAnswer(ctx, client, backend.ChatRequest{
		ConversationID: conversationID,
		Workspace:      cfg.Backend.Workspace,
		Message:        question,
	}, args.Plain)
	if ctx.Err() != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		client.RequestStop(stopCtx, conversationID) // best effort
	}
	if err != nil {
		return err
	}

	// Persist the exchange so the TUI sees it next launch. The client is
	// the writer of record for conversation history.
	now := time.Now()
	messages := append(history,
		backend.Message{
			ID:        backend.NewMessageID(conversationID, len(history)),
			Role:      backend.RoleUser,
			Content:   question,
			Timestamp: now,
		},
		backend.Message{
			ID:        backend.NewMessageID(conversationID, len(history)+1),
			Role:      backend.RoleAssistant,
			Content:   answer,
			Timestamp: time.Now(),
		},
	)
	persistCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.ReplaceMessages(persistCtx, conversationID, messages); err != nil {
		fmt.Fprintf(os.Stderr, "%s answer shown but not saved: %v\n",
			askErrorStyle.Render("[!]"), err)
	}

	if IsStdoutTTY() && !args.Plain {
		displayResponse(answer, args.Plain)
	}
	fmt.Println()
	return nil
}

// resolveConversation returns the target conversation id and its current
// history, creating a fresh conversation when none was requested.
func resolveConversation(ctx context.Context, client *backend.Client, cfg *config.Config, args Args) (string, []backend.Message, error) {
	reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if args.ConversationID != "" {
		conv, pending, err := client.FetchConversation(reqCtx, args.ConversationID)
		if err != nil {
			return "", nil, fmt.Errorf("failed to load conversation %s: %w", args.ConversationID, err)
		}
		if pending {
			return "", nil, fmt.Errorf("conversation %s still has a generation in flight", args.ConversationID)
		}
		return conv.ID, conv.Messages, nil
	}

	id, err := client.CreateConversation(reqCtx, cfg.Backend.Workspace)
	if err != nil {
		return "", nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	return id, nil, nil
}

// streamAnswer consumes the chat event stream, printing deltas as they
// arrive when streaming plain, and returns the finished assistant text.
//
// stream_end carries the authoritative text; when the accumulated deltas
// are longer (trailing deltas raced the terminal event) the local
// accumulation wins. response is a fallback for backends that never
// streamed.
func streamAnswer(ctx context.Context, client *backend.Client, req backend.ChatRequest, plain bool) (string, error) {
	stream, err := client.OpenStream(ctx, req)
	if err != nil {
		return "", fmt.Errorf("failed to start generation: %w", err)
	}
	defer stream.Close()

	// Markdown output is collected and rendered once at the end; plain
	// output streams token by token.
	liveOutput := !IsStdoutTTY() || plain

	var (
		buf       strings.Builder
		final     string
		streamErr error
		aborted   bool
	)

	err = stream.Process(ctx, func(ev backend.Event) {
		switch ev.Type {
		case backend.EventStatus:
			if ev.Message != "" {
				fmt.Fprintf(os.Stderr, "%s %s\n", askMutedStyle.Render("[status]"), ev.Message)
			}
		case backend.EventStream:
			buf.WriteString(ev.Content)
			if liveOutput {
				fmt.Print(ev.Content)
			}
		case backend.EventStreamEnd:
			if len(ev.Content) >= buf.Len() {
				final = ev.Content
			} else {
				final = buf.String()
			}
		case backend.EventResponse:
			// Fallback when no stream_end arrived: reconcile against
			// the accumulated deltas and keep whichever is longer.
			if final == "" {
				if len(ev.Content) >= buf.Len() {
					final = ev.Content
				} else {
					final = buf.String()
				}
			}
		case backend.EventError:
			streamErr = fmt.Errorf("generation failed: %s", ev.Message)
		case backend.EventAborted:
			aborted = true
		}
	})

	if streamErr != nil {
		return "", streamErr
	}
	if aborted {
		return "", fmt.Errorf("generation aborted")
	}
	if err != nil && ctx.Err() != nil {
		return "", fmt.Errorf("interrupted")
	}
	if final == "" {
		// Stream died without a terminal event; whatever arrived is the
		// answer.
		final = buf.String()
	}
	if err != nil && final == "" {
		return "", fmt.Errorf("stream failed: %w", err)
	}
	if liveOutput {
		// Deltas already printed; top up anything stream_end added.
		if extra := strings.TrimPrefix(final, buf.String()); extra != "" && strings.HasPrefix(final, buf.String()) {
			fmt.Print(extra)
		}
	}
	return final, nil
}
