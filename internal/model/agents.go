// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import "strings"

// =============================================================================
// AGENT IDENTIFIERS
// =============================================================================

// AgentID identifies one of the fixed set of backend agents.
// The set is closed: no agent is ever added or removed at runtime.
type AgentID string

const (
	AgentOrchestrator AgentID = "orchestrator"
	AgentBilling      AgentID = "billing"
	AgentTechnical    AgentID = "technical"
	AgentPolicy       AgentID = "policy"
)

// KnownAgentIDs returns the closed set of agent identifiers in display order.
func KnownAgentIDs() []AgentID {
	return []AgentID{AgentOrchestrator, AgentBilling, AgentTechnical, AgentPolicy}
}

// ParseAgentID normalizes a wire value (trimmed, lower-cased) and reports
// whether it names a known agent. The wire vocabulary is intentionally open
// to server evolution, so callers must treat ok=false as log-and-ignore.
func ParseAgentID(s string) (AgentID, bool) {
	id := AgentID(strings.ToLower(strings.TrimSpace(s)))
	switch id {
	case AgentOrchestrator, AgentBilling, AgentTechnical, AgentPolicy:
		return id, true
	}
	return id, false
}

// String returns the string representation of the agent ID.
func (a AgentID) String() string {
	return string(a)
}

// =============================================================================
// AGENT STATUS
// =============================================================================

// AgentStatus is an agent execution state as reported by the backend.
type AgentStatus string

const (
	StatusIdle    AgentStatus = "idle"
	StatusRouting AgentStatus = "routing"
	StatusActive  AgentStatus = "active"
)

// ParseAgentStatus normalizes a wire value and reports whether it is a
// recognized status.
func ParseAgentStatus(s string) (AgentStatus, bool) {
	st := AgentStatus(strings.ToLower(strings.TrimSpace(s)))
	switch st {
	case StatusIdle, StatusRouting, StatusActive:
		return st, true
	}
	return st, false
}

// String returns the string representation of the status.
func (s AgentStatus) String() string {
	return string(s)
}

// =============================================================================
// RETRIEVAL STRATEGY
// =============================================================================

// RetrievalStrategy names the knowledge retrieval approach an agent uses.
type RetrievalStrategy string

const (
	StrategyPureRAG RetrievalStrategy = "Pure RAG"
	StrategyPureCAG RetrievalStrategy = "Pure CAG"
	StrategyHybrid  RetrievalStrategy = "Hybrid RAG/CAG"
)

// =============================================================================
// AGENT STATE
// =============================================================================

// AgentState is the per-agent record tracked by the chat state machine.
// One record exists per known agent ID, initialized at construction,
// never destroyed, and mutated in place by status and metric events.
type AgentState struct {
	ID       AgentID           `json:"id"`
	Name     string            `json:"name"`
	Status   AgentStatus       `json:"status"`
	Model    string            `json:"model"`
	Strategy RetrievalStrategy `json:"strategy,omitempty"`
	Color    string            `json:"color"`
	Metrics  Metrics           `json:"metrics"`
	Cached   bool              `json:"cached,omitempty"`
}

// DefaultAgents returns the bootstrap agent records, one per known ID.
func DefaultAgents() map[AgentID]*AgentState {
	return map[AgentID]*AgentState{
		AgentOrchestrator: {
			ID:     AgentOrchestrator,
			Name:   "Orchestrator",
			Status: StatusIdle,
			Model:  "gpt-4o",
			Color:  "cyan",
		},
		AgentBilling: {
			ID:       AgentBilling,
			Name:     "Billing Agent",
			Status:   StatusIdle,
			Model:    "gpt-4o-mini",
			Strategy: StrategyPureCAG,
			Color:    "green",
		},
		AgentTechnical: {
			ID:       AgentTechnical,
			Name:     "Technical Agent",
			Status:   StatusIdle,
			Model:    "claude-3-5-sonnet",
			Strategy: StrategyPureRAG,
			Color:    "blue",
		},
		AgentPolicy: {
			ID:       AgentPolicy,
			Name:     "Policy Agent",
			Status:   StatusIdle,
			Model:    "claude-3-haiku",
			Strategy: StrategyHybrid,
			Color:    "purple",
		},
	}
}

// =============================================================================
// METRICS
// =============================================================================

// Metrics holds the additive per-turn accounting reported by the backend.
// Latency is in milliseconds, cost in USD.
type Metrics struct {
	TokensUsed int     `json:"tokensUsed"`
	Cost       float64 `json:"cost"`
	LatencyMS  int64   `json:"latency"`
}

// Add merges a delta into the running totals. Accumulation is strictly
// additive: payloads merge into the total, never replace it.
func (m *Metrics) Add(d Metrics) {
	m.TokensUsed += d.TokensUsed
	m.Cost += d.Cost
	m.LatencyMS += d.LatencyMS
}

// IsZero reports whether no metrics have been recorded.
func (m Metrics) IsZero() bool {
	return m.TokensUsed == 0 && m.Cost == 0 && m.LatencyMS == 0
}

// NonNegative reports whether every field is zero or positive. Accumulators
// only ever grow, so a negative delta from the wire is a contract breach.
func (m Metrics) NonNegative() bool {
	return m.TokensUsed >= 0 && m.Cost >= 0 && m.LatencyMS >= 0
}
