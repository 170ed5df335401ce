// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tui

import (
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"go.uber.org/zap"

	"github.com/jeranaias/orchestratai-tui/internal/chat"
	"github.com/jeranaias/orchestratai-tui/internal/storage"
)

// maxInputLen mirrors the backend's message limit.
const maxInputLen = 2000

// =============================================================================
// MODEL
// =============================================================================

// Model is the Bubble Tea model for the client.
type Model struct {
	machine *chat.Machine
	store   *storage.Store
	theme   *Theme
	keys    KeyMap
	log     *zap.Logger

	width  int
	height int

	viewport viewport.Model
	input    textinput.Model
	spinner  spinner.Model
	renderer *glamour.TermRenderer

	showLogs    bool
	showMetrics bool
	statusMsg   string
}

// Options configures the initial UI state.
type Options struct {
	ShowLogs    bool
	ShowMetrics bool
	ThemeMode   string
}

// New creates the UI model. store may be nil; transcript export is then
// disabled.
func New(machine *chat.Machine, store *storage.Store, opts Options, log *zap.Logger) *Model {
	if log == nil {
		log = zap.NewNop()
	}

	input := textinput.New()
	input.Placeholder = "Ask about billing, technical issues, or policy..."
	input.CharLimit = maxInputLen
	input.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	theme := NewTheme(opts.ThemeMode)
	sp.Style = theme.Spinner

	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(80),
	)
	if err != nil {
		log.Debug("markdown renderer unavailable, falling back to plain text", zap.Error(err))
		renderer = nil
	}

	return &Model{
		machine:     machine,
		store:       store,
		theme:       theme,
		keys:        DefaultKeyMap(),
		log:         log,
		viewport:    viewport.New(0, 0),
		input:       input,
		spinner:     sp,
		renderer:    renderer,
		showLogs:    opts.ShowLogs,
		showMetrics: opts.ShowMetrics,
	}
}

// Init starts the blink, spinner, and state-change subscriptions.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		m.spinner.Tick,
		waitForUpdate(m.machine.Notify()),
	)
}

// markdown renders assistant text, degrading to plain text when the
// renderer is unavailable.
func (m *Model) markdown(s string) string {
	if m.renderer == nil {
		return s
	}
	out, err := m.renderer.Render(s)
	if err != nil {
		return s
	}
	return out
}
