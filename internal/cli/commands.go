// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// commands.go - Maintenance subcommands: list, sync.
package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jeranaias/skein-tui/internal/backend"
	"github.com/jeranaias/skein-tui/internal/cache"
	"github.com/jeranaias/skein-tui/internal/config"
	"github.com/jeranaias/skein-tui/internal/util"
)

// =============================================================================
// LIST
// =============================================================================

// RunList handles the "list" command.
func RunList(client *backend.Client) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	metas, err := client.ListConversations(ctx)
	if err != nil {
		return fmt.Errorf("failed to list conversations: %w", err)
	}
	printConversationList(metas, "")
	return nil
}

// printConversationList prints conversation metadata one per line, marking
// the current conversation when one is active.
func printConversationList(metas []backend.ConversationMeta, currentID string) {
	if len(metas) == 0 {
		fmt.Println("no conversations")
		return
	}
	for _, meta := range metas {
		marker := " "
		if meta.ID == currentID {
			marker = "*"
		}
		preview := util.TruncateRunes(meta.Preview, 60)
		fmt.Printf("%s %s  %3d msgs  %s  %s\n",
			marker, meta.ID, meta.MessageCount,
			meta.UpdatedAt.Local().Format("2006-01-02 15:04"), preview)
	}
}

// =============================================================================
// SYNC
// =============================================================================

// RunSync handles the "sync" command: pushes every unsynced local cache
// entry to the backend's durable store. The TUI runs the same sweep at
// startup; this command exists for scripts and for checking what survived
// a crash.
func RunSync(cfg *config.Config, client *backend.Client) error {
	path, err := cfg.CachePath()
	if err != nil {
		return err
	}
	store, err := cache.Open(path, cfg.Cache.MaxEntries)
	if err != nil {
		return fmt.Errorf("failed to open local cache: %w", err)
	}
	defer store.Close()

	entries, err := store.ListUnsynced()
	if err != nil {
		return fmt.Errorf("failed to read local cache: %w", err)
	}
	if len(entries) == 0 {
		fmt.Println("local cache is in sync")
		return nil
	}

	synced := 0
	for _, entry := range entries {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := client.ReplaceMessages(ctx, entry.ConversationID, entry.Messages)
		cancel()
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s %s: %v\n", askErrorStyle.Render("[!]"), entry.ConversationID, err)
			continue
		}
		if err := store.MarkSynced(entry.ConversationID); err != nil {
			fmt.Fprintf(os.Stderr, "%s %s: synced but not marked locally: %v\n",
				askErrorStyle.Render("[!]"), entry.ConversationID, err)
			continue
		}
		fmt.Printf("synced %s (%d messages)\n", entry.ConversationID, len(entry.Messages))
		synced++
	}

	if synced < len(entries) {
		return fmt.Errorf("synced %d of %d entries", synced, len(entries))
	}
	fmt.Printf("synced %d entr%s\n", synced, pluralY(synced))
	return nil
}

func pluralY(n int) string {
	if n == 1 {
		return "y"
	}
	return "ies"
}
