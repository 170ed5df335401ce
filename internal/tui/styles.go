// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package tui renders the OrchestratAI terminal client: the transcript,
// the agent panel, the retrieval log panel, and the input line, all
// driven by snapshots of the chat state machine.
package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/jeranaias/orchestratai-tui/internal/model"
)

// =============================================================================
// THEME
// =============================================================================

// Theme holds the styled components for the client. It adapts to the
// terminal's color capability.
type Theme struct {
	IsDark       bool
	ColorProfile termenv.Profile

	Header       lipgloss.Style
	HeaderBrand  lipgloss.Style
	StatusBar    lipgloss.Style
	ShortcutKey  lipgloss.Style
	ShortcutDesc lipgloss.Style

	UserBubble      lipgloss.Style
	AssistantBubble lipgloss.Style
	AgentTag        lipgloss.Style

	PanelTitle  lipgloss.Style
	PanelBorder lipgloss.Style

	AgentIdle    lipgloss.Style
	AgentRouting lipgloss.Style
	AgentActive  lipgloss.Style
	MetricsText  lipgloss.Style

	LogSuccess lipgloss.Style
	LogWarning lipgloss.Style
	LogError   lipgloss.Style

	ErrorBox   lipgloss.Style
	ErrorTitle lipgloss.Style
	ErrorHint  lipgloss.Style

	InputPrompt      lipgloss.Style
	CharCount        lipgloss.Style
	CharCountWarning lipgloss.Style
	CharCountDanger  lipgloss.Style

	Spinner      lipgloss.Style
	ThinkingText lipgloss.Style
}

// agentColors maps the backend's color vocabulary to terminal colors.
var agentColors = map[string]lipgloss.Color{
	"cyan":   lipgloss.Color("6"),
	"green":  lipgloss.Color("2"),
	"blue":   lipgloss.Color("4"),
	"purple": lipgloss.Color("5"),
}

// AgentColor returns the style color for an agent record.
func AgentColor(a model.AgentState) lipgloss.Color {
	if c, ok := agentColors[strings.ToLower(a.Color)]; ok {
		return c
	}
	return lipgloss.Color("7")
}

// NewTheme builds the theme. mode is "dark", "light", or "auto"; auto
// follows the terminal background.
func NewTheme(mode string) *Theme {
	isDark := true
	switch strings.ToLower(mode) {
	case "light":
		isDark = false
	case "auto":
		isDark = termenv.HasDarkBackground()
	}

	subtle := lipgloss.Color("8")
	text := lipgloss.Color("15")
	if !isDark {
		subtle = lipgloss.Color("7")
		text = lipgloss.Color("0")
	}

	return &Theme{
		IsDark:       isDark,
		ColorProfile: termenv.ColorProfile(),

		Header:      lipgloss.NewStyle().Bold(true).Foreground(text),
		HeaderBrand: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6")),

		StatusBar:    lipgloss.NewStyle().Foreground(subtle),
		ShortcutKey:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6")),
		ShortcutDesc: lipgloss.NewStyle().Foreground(subtle),

		UserBubble:      lipgloss.NewStyle().Foreground(lipgloss.Color("3")).Bold(true),
		AssistantBubble: lipgloss.NewStyle().Foreground(text),
		AgentTag:        lipgloss.NewStyle().Bold(true),

		PanelTitle:  lipgloss.NewStyle().Bold(true).Foreground(subtle),
		PanelBorder: lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(subtle),

		AgentIdle:    lipgloss.NewStyle().Foreground(subtle),
		AgentRouting: lipgloss.NewStyle().Foreground(lipgloss.Color("3")),
		AgentActive:  lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Bold(true),
		MetricsText:  lipgloss.NewStyle().Foreground(subtle),

		LogSuccess: lipgloss.NewStyle().Foreground(lipgloss.Color("2")),
		LogWarning: lipgloss.NewStyle().Foreground(lipgloss.Color("3")),
		LogError:   lipgloss.NewStyle().Foreground(lipgloss.Color("1")),

		ErrorBox: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("1")).
			Padding(0, 1),
		ErrorTitle: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("1")),
		ErrorHint:  lipgloss.NewStyle().Foreground(subtle),

		InputPrompt:      lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6")),
		CharCount:        lipgloss.NewStyle().Foreground(subtle),
		CharCountWarning: lipgloss.NewStyle().Foreground(lipgloss.Color("3")),
		CharCountDanger:  lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),

		Spinner:      lipgloss.NewStyle().Foreground(lipgloss.Color("6")),
		ThinkingText: lipgloss.NewStyle().Foreground(subtle).Italic(true),
	}
}

// StatusStyle returns the style for an agent status value.
func (t *Theme) StatusStyle(s model.AgentStatus) lipgloss.Style {
	switch s {
	case model.StatusRouting:
		return t.AgentRouting
	case model.StatusActive:
		return t.AgentActive
	default:
		return t.AgentIdle
	}
}

// LogStyle returns the style for a retrieval log status.
func (t *Theme) LogStyle(s model.LogStatus) lipgloss.Style {
	switch s {
	case model.LogWarning:
		return t.LogWarning
	case model.LogError:
		return t.LogError
	default:
		return t.LogSuccess
	}
}
