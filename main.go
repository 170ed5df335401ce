// OrchestratAI TUI - a terminal client for the OrchestratAI multi-agent
// customer support backend.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/jeranaias/orchestratai-tui/internal/api"
	"github.com/jeranaias/orchestratai-tui/internal/chat"
	"github.com/jeranaias/orchestratai-tui/internal/config"
	"github.com/jeranaias/orchestratai-tui/internal/logging"
	"github.com/jeranaias/orchestratai-tui/internal/session"
	"github.com/jeranaias/orchestratai-tui/internal/storage"
	"github.com/jeranaias/orchestratai-tui/internal/stream"
	"github.com/jeranaias/orchestratai-tui/internal/tui"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func main() {
	var (
		showVersion = flag.Bool("version", false, "print version and exit")
		baseURL     = flag.String("base-url", "", "backend base URL (overrides config)")
		devMode     = flag.Bool("dev", false, "enable debug logging to ~/.orchestratai/debug.log")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("orchestratai-tui %s (%s, built %s)\n", Version, GitCommit, BuildDate)
		return
	}

	if !term.IsTerminal(int(os.Stdout.Fd())) {
		fmt.Fprintln(os.Stderr, "Error: orchestratai-tui requires an interactive terminal")
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *baseURL != "" {
		cfg.API.BaseURL = *baseURL
	}
	if *devMode {
		cfg.DevMode = true
	}
	if cfg.API.BaseURL == "" {
		fmt.Fprintln(os.Stderr, "Error: no backend configured.")
		fmt.Fprintln(os.Stderr, "Set api.base_url in ~/.orchestratai/config.toml, ORCA_BASE_URL, or pass --base-url.")
		os.Exit(1)
	}

	log := logging.New(cfg.DevMode)
	defer log.Sync() //nolint:errcheck

	if err := run(cfg, log); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	// Durable store: session identity and saved transcripts. A broken
	// store degrades to in-memory operation.
	var store *storage.Store
	if path, err := storage.DefaultPath(); err == nil {
		if s, err := storage.Open(path); err == nil {
			store = s
			defer store.Close()
		} else {
			log.Warn("store unavailable, continuing in memory", zap.Error(err))
		}
	}

	var sessionStore session.Store
	if store != nil {
		sessionStore = store
	}
	sessionID := session.Identity(sessionStore, log)
	log.Info("session established", zap.String("session_id", sessionID))

	httpClient := api.NewClient(cfg.API.BaseURL, log,
		api.WithTimeout(time.Duration(cfg.API.RequestTimeoutSecs)*time.Second))
	chatAPI := api.NewChatAPI(httpClient)

	streamer, err := stream.New(cfg.API.BaseURL, log)
	if err != nil {
		return err
	}

	machine := chat.New(sessionID, streamer, chatAPI, log)
	defer machine.Close()

	ui := tui.New(machine, store, tui.Options{
		ShowLogs:    cfg.UI.ShowLogs,
		ShowMetrics: cfg.UI.ShowMetrics,
		ThemeMode:   cfg.UI.Theme,
	}, log)

	program := tea.NewProgram(ui, tea.WithAltScreen())

	// Live config reload: only presentation settings apply mid-run.
	if path, err := config.Path(); err == nil {
		watcher, werr := config.NewWatcher(path, 200*time.Millisecond, func(next *config.Config) {
			log.Info("config reloaded")
			program.Send(tui.ConfigReloadedMsg{
				ShowLogs:    next.UI.ShowLogs,
				ShowMetrics: next.UI.ShowMetrics,
				ThemeMode:   next.UI.Theme,
			})
		})
		if werr == nil {
			if err := watcher.Watch(); err != nil {
				log.Debug("config watch unavailable", zap.Error(err))
			}
			defer watcher.Close()
		}
	}

	_, err = program.Run()
	return err
}
