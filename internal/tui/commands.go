// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tui

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/orchestratai-tui/internal/model"
	"github.com/jeranaias/orchestratai-tui/internal/storage"
	"github.com/jeranaias/orchestratai-tui/internal/util"
)

// =============================================================================
// MESSAGES
// =============================================================================

// stateUpdatedMsg signals that the chat machine changed; the view
// re-renders from a fresh snapshot.
type stateUpdatedMsg struct{}

// exportDoneMsg reports the outcome of a transcript export.
type exportDoneMsg struct {
	path string
	err  error
}

// statusExpiredMsg clears a transient status line.
type statusExpiredMsg struct{}

// ConfigReloadedMsg applies presentation settings changed on disk.
type ConfigReloadedMsg struct {
	ShowLogs    bool
	ShowMetrics bool
	ThemeMode   string
}

// =============================================================================
// COMMANDS
// =============================================================================

// waitForUpdate blocks on the machine's notify channel. Re-issued after
// every receive so the subscription stays live.
func waitForUpdate(ch <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		<-ch
		return stateUpdatedMsg{}
	}
}

// exportTranscript saves the conversation to the store and writes a JSON
// copy next to the working directory.
func exportTranscript(store *storage.Store, messages []model.Message) tea.Cmd {
	return func() tea.Msg {
		if len(messages) == 0 {
			return exportDoneMsg{err: fmt.Errorf("nothing to export")}
		}
		if store != nil {
			if _, err := store.SaveTranscript(messages); err != nil {
				return exportDoneMsg{err: err}
			}
		}

		data, err := json.MarshalIndent(messages, "", "  ")
		if err != nil {
			return exportDoneMsg{err: err}
		}
		name := fmt.Sprintf("transcript-%s.json", time.Now().Format("20060102-150405"))
		path := filepath.Join(".", name)
		if err := util.AtomicWriteFile(path, data, 0o644); err != nil {
			return exportDoneMsg{err: err}
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			abs = path
		}
		return exportDoneMsg{path: abs}
	}
}

// expireStatus clears the status line after a short delay.
func expireStatus() tea.Cmd {
	return tea.Tick(3*time.Second, func(time.Time) tea.Msg {
		return statusExpiredMsg{}
	})
}
