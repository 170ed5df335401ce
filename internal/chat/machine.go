// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat holds the conversation state machine: the single owner of
// messages, agent records, retrieval logs, and error state. All mutation
// funnels through it under one lock; the UI observes via Snapshot and a
// coalescing notify channel.
package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jeranaias/orchestratai-tui/internal/api"
	"github.com/jeranaias/orchestratai-tui/internal/apierr"
	"github.com/jeranaias/orchestratai-tui/internal/model"
	"github.com/jeranaias/orchestratai-tui/internal/stream"
)

// =============================================================================
// DEPENDENCIES
// =============================================================================

// Streamer is the live connection the machine drives. Satisfied by
// *stream.Client.
type Streamer interface {
	Open(ctx context.Context, message, sessionID string, h stream.Handlers) error
	Close()
}

// Fallback is the non-streaming path used when the live connection fails
// in a way plain HTTP may survive. Satisfied by *api.ChatAPI.
type Fallback interface {
	SendMessage(ctx context.Context, text, sessionID string) (*api.ChatTurn, error)
}

// routingInterval is how long the orchestrator shows "routing" before
// the first agent_status event normally arrives.
const routingInterval = 400 * time.Millisecond

// =============================================================================
// STATE MACHINE
// =============================================================================

// Machine is the conversation state machine. Safe for concurrent use.
type Machine struct {
	mu sync.Mutex

	messages  []model.Message
	agents    map[model.AgentID]*model.AgentState
	logs      []model.RetrievalLog
	sessionID string

	busy      bool
	streaming bool
	lastError string
	failed    string // last failed user text, retryable

	turnSeq int
	current *turn

	routingTimer  *time.Timer
	routingDelay  time.Duration
	streamer      Streamer
	fallback      Fallback
	log           *zap.Logger
	notify        chan struct{}
	ctx           context.Context
	cancel        context.CancelFunc
}

// turn tracks one in-flight send. rolledBack guards the
// exactly-one-rollback invariant.
type turn struct {
	seq         int
	text        string
	userID      string
	assistantID string
	agent       model.AgentID
	rolledBack  bool
	fellBack    bool
}

// New creates a machine bound to a session, a live stream, and the
// HTTP fallback.
func New(sessionID string, streamer Streamer, fallback Fallback, log *zap.Logger) *Machine {
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Machine{
		agents:       model.DefaultAgents(),
		sessionID:    sessionID,
		routingDelay: routingInterval,
		streamer:     streamer,
		fallback:     fallback,
		log:          log,
		notify:       make(chan struct{}, 1),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Notify returns a channel that receives (coalesced) after every state
// change. The UI redraws on each receive.
func (m *Machine) Notify() <-chan struct{} {
	return m.notify
}

// signal wakes the UI without blocking; pending signals coalesce.
func (m *Machine) signal() {
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

// SessionID returns the active session identifier.
func (m *Machine) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionID
}

// Close tears down the machine and its live connection.
func (m *Machine) Close() {
	m.mu.Lock()
	m.stopRoutingTimerLocked()
	m.mu.Unlock()
	m.cancel()
	if m.streamer != nil {
		m.streamer.Close()
	}
}

// =============================================================================
// SENDING
// =============================================================================

// SendMessage inserts the user message optimistically and starts a
// streaming turn. A failure after this point rolls the message back
// exactly once and records a retryable error.
func (m *Machine) SendMessage(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return apierr.Schema(apierr.Issue{Path: "message", Message: "must not be empty"})
	}

	m.mu.Lock()
	if m.busy {
		m.mu.Unlock()
		return ErrTurnInFlight
	}

	msg := model.NewUserMessage(text)
	m.messages = append(m.messages, msg)
	m.turnSeq++
	t := &turn{seq: m.turnSeq, text: text, userID: msg.ID}
	m.current = t
	m.busy = true
	m.streaming = true
	m.lastError = ""
	m.failed = ""
	m.setAgentStatusLocked(model.AgentOrchestrator, model.StatusRouting)
	m.armRoutingTimerLocked(t.seq)
	m.mu.Unlock()
	m.signal()

	err := m.streamer.Open(m.ctx, text, m.sessionID, m.handlers(t))
	if err != nil {
		// Synchronous open failures never reach the wire; no fallback.
		m.failTurn(t, err)
		return nil
	}
	return nil
}

// ErrTurnInFlight is returned when a send overlaps an unfinished turn.
var ErrTurnInFlight = errors.New("a message is already being processed")

// CancelTurn aborts the in-flight turn. The optimistic user message
// rolls back and stays retryable. No-op when idle.
func (m *Machine) CancelTurn() {
	m.mu.Lock()
	t := m.current
	m.mu.Unlock()
	if t == nil {
		return
	}
	m.streamer.Close()
	m.failTurn(t, apierr.Stream(apierr.StreamCodeClosed, errors.New("cancelled by user")))
}

// RetryMessage resends the last failed message. It is a strict no-op
// when nothing failed.
func (m *Machine) RetryMessage() error {
	m.mu.Lock()
	text := m.failed
	m.mu.Unlock()
	if text == "" {
		return nil
	}
	return m.SendMessage(text)
}

// handlers builds the stream callbacks for one turn. Every callback
// checks the turn is still current before touching state, so a
// superseded or stale connection cannot corrupt a newer turn.
func (m *Machine) handlers(t *turn) stream.Handlers {
	return stream.Handlers{
		OnChunk: func(accumulated string) {
			m.mu.Lock()
			if !m.isCurrentLocked(t) {
				m.mu.Unlock()
				return
			}
			m.upsertAssistantLocked(t, accumulated)
			m.mu.Unlock()
			m.signal()
		},
		OnAgentUpdate: func(agent model.AgentID, status model.AgentStatus) {
			m.mu.Lock()
			if !m.isCurrentLocked(t) {
				m.mu.Unlock()
				return
			}
			m.setAgentStatusLocked(agent, status)
			if agent != model.AgentOrchestrator && status == model.StatusActive {
				// Routing resolved; the orchestrator hands off.
				m.stopRoutingTimerLocked()
				m.setAgentStatusLocked(model.AgentOrchestrator, model.StatusIdle)
				if msg := m.messageLocked(t.assistantID); msg != nil {
					msg.Agent = agent
				}
				t.agent = agent
			}
			m.mu.Unlock()
			m.signal()
		},
		OnLogEntry: func(entry model.RetrievalLog) {
			m.mu.Lock()
			if !m.isCurrentLocked(t) {
				m.mu.Unlock()
				return
			}
			m.logs = append(m.logs, entry)
			m.mu.Unlock()
			m.signal()
		},
		OnComplete: func(metrics model.Metrics) {
			m.completeTurn(t, metrics)
		},
		OnError: func(err error) {
			if apierr.FallbackEligible(err) && !t.fellBack {
				t.fellBack = true
				m.log.Info("live stream failed, falling back to plain request",
					zap.Error(err))
				m.runFallback(t)
				return
			}
			m.failTurn(t, err)
		},
	}
}

// isCurrentLocked reports whether t is still the live turn.
func (m *Machine) isCurrentLocked(t *turn) bool {
	return m.current != nil && m.current.seq == t.seq
}

// upsertAssistantLocked creates the staged assistant message on first
// chunk and replaces its content thereafter.
func (m *Machine) upsertAssistantLocked(t *turn, content string) {
	if t.assistantID == "" {
		msg := model.NewAssistantMessage(content)
		msg.Agent = t.agent
		t.assistantID = msg.ID
		m.messages = append(m.messages, msg)
		return
	}
	if msg := m.messageLocked(t.assistantID); msg != nil {
		msg.Content = content
	}
}

// messageLocked finds a message by ID.
func (m *Machine) messageLocked(id string) *model.Message {
	if id == "" {
		return nil
	}
	for i := range m.messages {
		if m.messages[i].ID == id {
			return &m.messages[i]
		}
	}
	return nil
}

// =============================================================================
// TURN COMPLETION
// =============================================================================

// completeTurn finalizes a successful streaming turn.
func (m *Machine) completeTurn(t *turn, metrics model.Metrics) {
	m.mu.Lock()
	if !m.isCurrentLocked(t) {
		m.mu.Unlock()
		return
	}
	if agent := t.agent; agent != "" && !metrics.IsZero() {
		m.incrementMetricsLocked(agent, metrics)
	} else if !metrics.IsZero() {
		m.incrementMetricsLocked(model.AgentOrchestrator, metrics)
	}
	m.finishTurnLocked()
	m.mu.Unlock()
	m.signal()
}

// runFallback retries the turn over plain HTTP, once. The optimistic
// user message stays; any staged assistant text is replaced wholesale.
func (m *Machine) runFallback(t *turn) {
	m.mu.Lock()
	if !m.isCurrentLocked(t) {
		m.mu.Unlock()
		return
	}
	m.streaming = false
	m.removeMessageLocked(t.assistantID)
	t.assistantID = ""
	m.mu.Unlock()
	m.signal()

	turnResp, err := m.fallback.SendMessage(m.ctx, t.text, m.sessionID)
	if err != nil {
		m.failTurn(t, err)
		return
	}

	m.mu.Lock()
	if !m.isCurrentLocked(t) {
		m.mu.Unlock()
		return
	}
	msg := model.NewAssistantMessage(turnResp.Message)
	msg.Agent = turnResp.Agent
	msg.Confidence = turnResp.Confidence
	m.messages = append(m.messages, msg)
	m.logs = append(m.logs, turnResp.Logs...)
	m.incrementMetricsLocked(turnResp.Agent, turnResp.Metrics)
	m.finishTurnLocked()
	m.mu.Unlock()
	m.signal()
}

// failTurn rolls back the optimistic insert (exactly once) and records
// a retryable error.
func (m *Machine) failTurn(t *turn, err error) {
	m.mu.Lock()
	if !m.isCurrentLocked(t) || t.rolledBack {
		m.mu.Unlock()
		return
	}
	t.rolledBack = true
	m.removeMessageLocked(t.assistantID)
	m.removeMessageLocked(t.userID)
	m.failed = t.text
	m.lastError = apierr.UserMessage(err)
	m.log.Warn("turn failed", zap.Error(err))
	m.finishTurnLocked()
	m.mu.Unlock()
	m.signal()
}

// finishTurnLocked clears in-flight state and returns all agents to idle.
func (m *Machine) finishTurnLocked() {
	m.stopRoutingTimerLocked()
	m.busy = false
	m.streaming = false
	m.current = nil
	for _, a := range m.agents {
		a.Status = model.StatusIdle
	}
}

// removeMessageLocked deletes a message by ID; missing IDs are ignored.
func (m *Machine) removeMessageLocked(id string) {
	if id == "" {
		return
	}
	for i := range m.messages {
		if m.messages[i].ID == id {
			m.messages = append(m.messages[:i], m.messages[i+1:]...)
			return
		}
	}
}

// =============================================================================
// ROUTING TIMER
// =============================================================================

// armRoutingTimerLocked schedules the orchestrator's routing->active
// transition. Each send re-arms it; each terminal state stops it.
func (m *Machine) armRoutingTimerLocked(seq int) {
	m.stopRoutingTimerLocked()
	m.routingTimer = time.AfterFunc(m.routingDelay, func() {
		m.mu.Lock()
		live := m.current != nil && m.current.seq == seq
		if live && m.agents[model.AgentOrchestrator].Status == model.StatusRouting {
			m.agents[model.AgentOrchestrator].Status = model.StatusActive
		}
		m.mu.Unlock()
		if live {
			m.signal()
		}
	})
}

func (m *Machine) stopRoutingTimerLocked() {
	if m.routingTimer != nil {
		m.routingTimer.Stop()
		m.routingTimer = nil
	}
}

// =============================================================================
// AGENTS AND METRICS
// =============================================================================

// setAgentStatusLocked updates a known agent's status. The agent set is
// closed: unknown IDs are ignored.
func (m *Machine) setAgentStatusLocked(agent model.AgentID, status model.AgentStatus) {
	if a, ok := m.agents[agent]; ok {
		a.Status = status
	}
}

// SetAgentStatus updates one agent's execution state.
func (m *Machine) SetAgentStatus(agent model.AgentID, status model.AgentStatus) {
	m.mu.Lock()
	m.setAgentStatusLocked(agent, status)
	m.mu.Unlock()
	m.signal()
}

// IncrementAgentMetrics merges a metrics delta into an agent's running
// totals. Accumulation is strictly additive.
func (m *Machine) IncrementAgentMetrics(agent model.AgentID, delta model.Metrics) {
	m.mu.Lock()
	m.incrementMetricsLocked(agent, delta)
	m.mu.Unlock()
	m.signal()
}

func (m *Machine) incrementMetricsLocked(agent model.AgentID, delta model.Metrics) {
	if a, ok := m.agents[agent]; ok {
		a.Metrics.Add(delta)
	}
}

// =============================================================================
// HOUSEKEEPING
// =============================================================================

// ClearMessages empties the transcript and retrieval logs. Agent metrics
// survive: they account for spend, not conversation.
func (m *Machine) ClearMessages() {
	m.mu.Lock()
	m.messages = nil
	m.logs = nil
	m.lastError = ""
	m.failed = ""
	m.mu.Unlock()
	m.signal()
}

// ClearError dismisses the current error without touching the transcript.
// The failed message stays retryable.
func (m *Machine) ClearError() {
	m.mu.Lock()
	m.lastError = ""
	m.mu.Unlock()
	m.signal()
}

// =============================================================================
// SNAPSHOT
// =============================================================================

// Snapshot is an immutable copy of the machine state for rendering.
type Snapshot struct {
	Messages  []model.Message
	Agents    []model.AgentState
	Logs      []model.RetrievalLog
	SessionID string
	Busy      bool
	Streaming bool
	LastError string
	CanRetry  bool
}

// Snapshot copies the current state. Agents come back in display order.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	msgs := make([]model.Message, len(m.messages))
	copy(msgs, m.messages)

	logs := make([]model.RetrievalLog, len(m.logs))
	copy(logs, m.logs)

	agents := make([]model.AgentState, 0, len(m.agents))
	for _, id := range model.KnownAgentIDs() {
		agents = append(agents, *m.agents[id])
	}

	return Snapshot{
		Messages:  msgs,
		Agents:    agents,
		Logs:      logs,
		SessionID: m.sessionID,
		Busy:      m.busy,
		Streaming: m.streaming,
		LastError: m.lastError,
		CanRetry:  m.failed != "",
	}
}
