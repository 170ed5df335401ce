// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tui

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/orchestratai-tui/internal/chat"
	"github.com/jeranaias/orchestratai-tui/internal/model"
	"github.com/jeranaias/orchestratai-tui/internal/util"
)

// Layout constants.
const (
	sidebarWidth   = 30
	logPanelHeight = 8
	chromeHeight   = 6 // header + input + status + padding
	maxVisibleLogs = logPanelHeight - 2
)

// =============================================================================
// VIEW
// =============================================================================

// View renders the full frame.
func (m *Model) View() string {
	if m.width == 0 {
		return "loading..."
	}

	snap := m.machine.Snapshot()

	main := lipgloss.JoinHorizontal(lipgloss.Top,
		m.viewport.View(),
		m.renderSidebar(snap),
	)

	sections := []string{
		m.renderHeader(snap),
		main,
	}
	if m.showLogs {
		sections = append(sections, m.renderLogs(snap))
	}
	if snap.LastError != "" {
		sections = append(sections, m.renderError(snap))
	}
	sections = append(sections,
		m.renderInput(snap),
		m.renderStatusBar(snap),
	)

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// renderHeader shows the brand and session.
func (m *Model) renderHeader(snap chat.Snapshot) string {
	brand := m.theme.HeaderBrand.Render("OrchestratAI")
	session := m.theme.StatusBar.Render("session " + util.Truncate(snap.SessionID, 13))
	gap := m.width - lipgloss.Width(brand) - lipgloss.Width(session)
	if gap < 1 {
		gap = 1
	}
	return brand + strings.Repeat(" ", gap) + session
}

// renderTranscript renders all messages for the viewport.
func (m *Model) renderTranscript(snap chat.Snapshot) string {
	if len(snap.Messages) == 0 {
		return m.theme.ThinkingText.Render("\n  Start a conversation. Your message is routed to the right agent automatically.\n")
	}

	var b strings.Builder
	for _, msg := range snap.Messages {
		switch msg.Role {
		case model.RoleUser:
			b.WriteString(m.theme.UserBubble.Render("You"))
			b.WriteString("\n")
			b.WriteString(msg.Content)
		case model.RoleAssistant:
			b.WriteString(m.renderAssistantHeader(snap, msg))
			b.WriteString("\n")
			b.WriteString(strings.TrimRight(m.markdown(msg.Content), "\n"))
		}
		b.WriteString("\n\n")
	}

	if snap.Streaming {
		b.WriteString(m.spinner.View())
		b.WriteString(m.theme.ThinkingText.Render(" thinking..."))
	}
	return b.String()
}

// renderAssistantHeader tags the message with its agent and confidence.
func (m *Model) renderAssistantHeader(snap chat.Snapshot, msg model.Message) string {
	name := "Assistant"
	color := lipgloss.Color("7")
	for _, a := range snap.Agents {
		if a.ID == msg.Agent {
			name = a.Name
			color = AgentColor(a)
			break
		}
	}
	header := m.theme.AgentTag.Foreground(color).Render(name)
	if msg.Confidence > 0 {
		header += m.theme.MetricsText.Render(fmt.Sprintf("  %.0f%% confident", msg.Confidence*100))
	}
	return header
}

// renderSidebar shows the agent panel.
func (m *Model) renderSidebar(snap chat.Snapshot) string {
	var b strings.Builder
	b.WriteString(m.theme.PanelTitle.Render("AGENTS"))
	b.WriteString("\n\n")

	for _, a := range snap.Agents {
		dot := m.theme.StatusStyle(a.Status).Render("●")
		name := lipgloss.NewStyle().Foreground(AgentColor(a)).Render(util.PadRight(a.Name, 18))
		b.WriteString(fmt.Sprintf("%s %s %s\n", dot, name, m.theme.StatusStyle(a.Status).Render(string(a.Status))))
		b.WriteString(m.theme.MetricsText.Render("  " + a.Model))
		if a.Strategy != "" {
			b.WriteString(m.theme.MetricsText.Render(" · " + string(a.Strategy)))
		}
		b.WriteString("\n")
		if m.showMetrics && !a.Metrics.IsZero() {
			b.WriteString(m.theme.MetricsText.Render(fmt.Sprintf(
				"  %d tok · $%.4f · %dms", a.Metrics.TokensUsed, a.Metrics.Cost, a.Metrics.LatencyMS)))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	return lipgloss.NewStyle().
		Width(sidebarWidth).
		Height(m.viewport.Height).
		PaddingLeft(2).
		Render(b.String())
}

// renderLogs shows the most recent retrieval log entries.
func (m *Model) renderLogs(snap chat.Snapshot) string {
	var b strings.Builder
	b.WriteString(m.theme.PanelTitle.Render("RETRIEVAL LOGS"))
	b.WriteString("\n")

	logs := snap.Logs
	if len(logs) > maxVisibleLogs {
		logs = logs[len(logs)-maxVisibleLogs:]
	}
	if len(logs) == 0 {
		b.WriteString(m.theme.MetricsText.Render("  no entries yet"))
	}
	for _, entry := range logs {
		marker := m.theme.LogStyle(entry.Status).Render("▪")
		line := fmt.Sprintf("%s %-13s %s", marker, entry.Type, entry.Title)
		if n := len(entry.Chunks); n > 0 {
			line += m.theme.MetricsText.Render(fmt.Sprintf(" (%d chunks)", n))
		}
		b.WriteString(util.Truncate(line, m.width-2))
		b.WriteString("\n")
	}
	return b.String()
}

// renderError shows the dismissible error toast.
func (m *Model) renderError(snap chat.Snapshot) string {
	title := m.theme.ErrorTitle.Render("Something went wrong")
	body := snap.LastError
	hint := m.theme.ErrorHint.Render("Esc dismiss")
	if snap.CanRetry {
		hint = m.theme.ErrorHint.Render("C-r retry · Esc dismiss")
	}
	content := lipgloss.JoinVertical(lipgloss.Left, title, body, hint)
	return m.theme.ErrorBox.Width(m.width - 4).Render(content)
}

// renderInput shows the prompt line with a character budget.
func (m *Model) renderInput(snap chat.Snapshot) string {
	prompt := m.theme.InputPrompt.Render("> ")
	count := utf8.RuneCountInString(m.input.Value())
	counter := fmt.Sprintf("%d/%d", count, maxInputLen)
	counterStyle := m.theme.CharCount
	switch {
	case count >= maxInputLen:
		counterStyle = m.theme.CharCountDanger
	case count > maxInputLen*9/10:
		counterStyle = m.theme.CharCountWarning
	}

	line := prompt + m.input.View()
	gap := m.width - lipgloss.Width(line) - len(counter) - 1
	if gap < 1 {
		gap = 1
	}
	return line + strings.Repeat(" ", gap) + counterStyle.Render(counter)
}

// renderStatusBar shows shortcuts or a transient status message.
func (m *Model) renderStatusBar(snap chat.Snapshot) string {
	if m.statusMsg != "" {
		return m.theme.StatusBar.Render(" " + util.Truncate(m.statusMsg, m.width-2))
	}

	shortcuts := []struct{ k, d string }{
		{"Enter", "send"},
		{"C-r", "retry"},
		{"C-o", "logs"},
		{"C-l", "clear"},
		{"C-s", "export"},
		{"C-c", "quit"},
	}
	parts := make([]string, 0, len(shortcuts))
	for _, s := range shortcuts {
		parts = append(parts, m.theme.ShortcutKey.Render(s.k)+m.theme.ShortcutDesc.Render(" "+s.d))
	}
	bar := " " + strings.Join(parts, "  ")
	if snap.Busy {
		bar += m.theme.ShortcutDesc.Render("  ·  Esc cancel")
	}
	return bar
}
