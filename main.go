// skein - a terminal client for the local conversation backend.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/skein-tui/internal/backend"
	"github.com/jeranaias/skein-tui/internal/cache"
	"github.com/jeranaias/skein-tui/internal/cli"
	"github.com/jeranaias/skein-tui/internal/config"
	"github.com/jeranaias/skein-tui/internal/session"
	"github.com/jeranaias/skein-tui/internal/ui/chat"
	"github.com/jeranaias/skein-tui/internal/util"
)

// Version information (set at build time).
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func main() {
	args, err := cli.Parse(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n\n%s", err, cli.Usage)
		os.Exit(2)
	}

	switch args.Command {
	case cli.CommandHelp:
		fmt.Print(cli.Usage)
		return
	case cli.CommandVersion:
		fmt.Printf("skein %s (commit %s, built %s)\n", Version, GitCommit, BuildDate)
		return
	}

	cfg, err := loadConfig(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	client := newClient(cfg)

	switch args.Command {
	case cli.CommandAsk:
		exitOnError(cli.RunAsk(cfg, client, args))
	case cli.CommandChat:
		exitOnError(cli.RunChat(cfg, client, args))
	case cli.CommandList:
		exitOnError(cli.RunList(client))
	case cli.CommandSync:
		exitOnError(cli.RunSync(cfg, client))
	default:
		runTUI(cfg, client)
	}
}

func exitOnError(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig resolves the effective configuration: file (or --config
// path), environment overrides, then command-line flags on top.
func loadConfig(args cli.Args) (*config.Config, error) {
	var cfg *config.Config
	var err error
	if args.ConfigPath != "" {
		cfg, err = config.LoadFromPath(args.ConfigPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if args.BackendURL != "" {
		cfg.Backend.BaseURL = args.BackendURL
	}
	if args.Workspace != "" {
		cfg.Backend.Workspace = args.Workspace
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newClient(cfg *config.Config) *backend.Client {
	return backend.NewClientWithConfig(&backend.ClientConfig{
		BaseURL:       cfg.Backend.BaseURL,
		Timeout:       time.Duration(cfg.Backend.TimeoutSecs) * time.Second,
		StreamTimeout: time.Duration(cfg.Backend.StreamTimeoutSecs) * time.Second,
	})
}

// runTUI starts the full-screen interface.
func runTUI(cfg *config.Config, client *backend.Client) {
	logger := newLogger(cfg)

	store := openCache(cfg, logger)
	if store != nil {
		defer store.Close()
	}

	manager := session.NewManager(client, store, logger, session.Options{
		MaxConcurrent:    cfg.Session.MaxConcurrent,
		ReattachAttempts: cfg.Session.ReattachAttempts,
		ReattachInterval: time.Duration(cfg.Session.ReattachIntervalSecs) * time.Second,
		StuckPending:     time.Duration(cfg.Session.StuckPendingSecs) * time.Second,
	})

	m := chat.New(cfg, client, store, manager)

	p := tea.NewProgram(
		m,
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
	)

	// Stream goroutines paint through the program's message queue; the
	// surface throttles repaints so fast backends cannot flood it.
	surface := chat.NewSurface(p.Send, cfg.UI.RepaintFPS)
	manager.SetRenderer(surface)
	manager.SetCompletionFunc(func(conversationID string, messages []backend.Message, background bool) {
		p.Send(chat.CompletionMsg{
			ConversationID: conversationID,
			Messages:       messages,
			Background:     background,
		})
	})

	// Hot-reload display settings when the config file changes.
	if path, err := config.Path(); err == nil {
		if watcher, err := config.Watch(path, func(next *config.Config) {
			p.Send(chat.ConfigReloadedMsg{Config: next})
		}); err == nil {
			defer watcher.Close()
		} else {
			logger.Logf("config watcher disabled: %v", err)
		}
	}

	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running skein: %v\n", err)
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) *util.Logger {
	if !cfg.Log.Enabled {
		return util.NewLogger("")
	}
	path, err := cfg.LogPath()
	if err != nil {
		return util.NewLogger("")
	}
	return util.NewLogger(path)
}

// openCache opens the local conversation cache. The TUI degrades to
// memory-only operation when the cache cannot be opened: switches lose
// their crash safety but everything else works.
func openCache(cfg *config.Config, logger *util.Logger) *cache.Cache {
	path, err := cfg.CachePath()
	if err != nil {
		logger.Logf("cache disabled: %v", err)
		return nil
	}
	store, err := cache.Open(path, cfg.Cache.MaxEntries)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: local cache unavailable: %v\n", err)
		logger.Logf("cache disabled: %v", err)
		return nil
	}
	return store
}
