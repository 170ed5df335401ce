// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tui

import (
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
)

// =============================================================================
// UPDATE LOOP
// =============================================================================

// Update handles Bubble Tea messages.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		m.refreshViewport()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case stateUpdatedMsg:
		m.refreshViewport()
		return m, waitForUpdate(m.machine.Notify())

	case exportDoneMsg:
		if msg.err != nil {
			m.statusMsg = "Export failed: " + msg.err.Error()
		} else {
			m.statusMsg = "Transcript saved to " + msg.path
		}
		return m, expireStatus()

	case statusExpiredMsg:
		m.statusMsg = ""
		return m, nil

	case ConfigReloadedMsg:
		m.showLogs = msg.ShowLogs
		m.showMetrics = msg.ShowMetrics
		m.theme = NewTheme(msg.ThemeMode)
		m.spinner.Style = m.theme.Spinner
		m.resize(m.width, m.height)
		m.refreshViewport()
		m.statusMsg = "Configuration reloaded"
		return m, expireStatus()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// handleKey routes keystrokes.
func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	snap := m.machine.Snapshot()

	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.keys.Submit):
		text := strings.TrimSpace(m.input.Value())
		if text == "" || snap.Busy {
			return m, nil
		}
		if err := m.machine.SendMessage(text); err == nil {
			m.input.Reset()
		}
		return m, nil

	case key.Matches(msg, m.keys.Cancel):
		if snap.LastError != "" {
			m.machine.ClearError()
			return m, nil
		}
		if snap.Busy {
			// Cancelling mid-turn rolls back through the failure path.
			m.machine.CancelTurn()
			return m, nil
		}
		return m, nil

	case key.Matches(msg, m.keys.Retry):
		if snap.CanRetry && !snap.Busy {
			m.machine.ClearError()
			_ = m.machine.RetryMessage()
		}
		return m, nil

	case key.Matches(msg, m.keys.ClearChat):
		if !snap.Busy {
			m.machine.ClearMessages()
		}
		return m, nil

	case key.Matches(msg, m.keys.ToggleLogs):
		m.showLogs = !m.showLogs
		m.resize(m.width, m.height)
		m.refreshViewport()
		return m, nil

	case key.Matches(msg, m.keys.Export):
		return m, exportTranscript(m.store, snap.Messages)

	case key.Matches(msg, m.keys.PageUp):
		m.viewport.ViewUp()
		return m, nil

	case key.Matches(msg, m.keys.PageDown):
		m.viewport.ViewDown()
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// resize recomputes pane dimensions.
func (m *Model) resize(width, height int) {
	m.width = width
	m.height = height

	transcriptWidth := width - sidebarWidth - 2
	if transcriptWidth < 20 {
		transcriptWidth = 20
	}
	transcriptHeight := height - chromeHeight
	if m.showLogs {
		transcriptHeight -= logPanelHeight
	}
	if transcriptHeight < 3 {
		transcriptHeight = 3
	}
	m.viewport.Width = transcriptWidth
	m.viewport.Height = transcriptHeight
	m.input.Width = width - 8
}

// refreshViewport re-renders the transcript and follows the tail.
func (m *Model) refreshViewport() {
	atBottom := m.viewport.AtBottom()
	m.viewport.SetContent(m.renderTranscript(m.machine.Snapshot()))
	if atBottom {
		m.viewport.GotoBottom()
	}
}
