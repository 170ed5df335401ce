// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jeranaias/orchestratai-tui/internal/model"
)

// =============================================================================
// EVENT VOCABULARY
// =============================================================================

// Event names carried on the wire. The server may name the event in the
// SSE "event:" field or as a "type" field inside a data-only frame; both
// framings decode identically.
const (
	eventMessageChunk = "message_chunk"
	eventAgentStatus  = "agent_status"
	eventRetrievalLog = "retrieval_log"
	eventDone         = "done"
	eventError        = "error"
)

// Event is one decoded stream event.
type Event interface{ isEvent() }

// ChunkEvent carries an incremental fragment of assistant text.
type ChunkEvent struct {
	Content string
}

// AgentStatusEvent reports an agent entering a new execution state.
type AgentStatusEvent struct {
	Agent  model.AgentID
	Status model.AgentStatus
}

// LogEvent carries one retrieval log entry.
type LogEvent struct {
	Log model.RetrievalLog
}

// DoneEvent terminates the stream. MetricsOK is false when the terminal
// frame's metadata could not be parsed; the stream still completes.
type DoneEvent struct {
	Metrics   model.Metrics
	MetricsOK bool
}

// ErrorEvent is a server-reported failure delivered in-band.
type ErrorEvent struct {
	Message string
}

func (ChunkEvent) isEvent()       {}
func (AgentStatusEvent) isEvent() {}
func (LogEvent) isEvent()         {}
func (DoneEvent) isEvent()        {}
func (ErrorEvent) isEvent()       {}

// =============================================================================
// DECODING
// =============================================================================

// decodeEvent turns a raw SSE frame into a typed event. name comes from
// the SSE "event:" field and wins when present; otherwise the payload's
// "type" field names the event. Unknown or malformed non-terminal frames
// return an error so the caller can log and skip them.
func decodeEvent(name string, data []byte) (Event, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		var envelope struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &envelope); err != nil {
			return nil, fmt.Errorf("unparseable frame: %w", err)
		}
		name = strings.ToLower(strings.TrimSpace(envelope.Type))
	}

	switch name {
	case eventMessageChunk:
		return decodeChunk(data)
	case eventAgentStatus:
		return decodeAgentStatus(data)
	case eventRetrievalLog:
		return decodeRetrievalLog(data)
	case eventDone:
		return decodeDone(data), nil
	case eventError:
		return decodeError(data), nil
	default:
		return nil, fmt.Errorf("unknown event %q", name)
	}
}

func decodeChunk(data []byte) (Event, error) {
	var p struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("bad message_chunk payload: %w", err)
	}
	return ChunkEvent{Content: p.Content}, nil
}

func decodeAgentStatus(data []byte) (Event, error) {
	var p struct {
		Agent  string `json:"agent"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("bad agent_status payload: %w", err)
	}
	agent, ok := model.ParseAgentID(p.Agent)
	if !ok {
		return nil, fmt.Errorf("unknown agent %q in agent_status", p.Agent)
	}
	status, ok := model.ParseAgentStatus(p.Status)
	if !ok {
		return nil, fmt.Errorf("unknown status %q in agent_status", p.Status)
	}
	return AgentStatusEvent{Agent: agent, Status: status}, nil
}

// decodeRetrievalLog accepts both the full structured log entry and the
// loose {type, log_type, message} variant some paths emit.
func decodeRetrievalLog(data []byte) (Event, error) {
	var entry model.RetrievalLog
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("bad retrieval_log payload: %w", err)
	}
	if entry.Title == "" || entry.Type == "" || entry.Type == eventRetrievalLog {
		var loose struct {
			LogType string `json:"log_type"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal(data, &loose); err == nil && loose.Message != "" {
			if entry.Type == "" || entry.Type == eventRetrievalLog {
				entry.Type = model.LogType(strings.ToLower(strings.TrimSpace(loose.LogType)))
			}
			if entry.Title == "" {
				entry.Title = loose.Message
			}
		}
	}
	if entry.Title == "" {
		return nil, fmt.Errorf("retrieval_log entry has no title")
	}
	if entry.Status == "" {
		entry.Status = model.LogSuccess
	}
	return LogEvent{Log: entry}, nil
}

// decodeDone never fails: the terminal event closes the stream even when
// its metadata is unparsable. Negative metrics count as unparsable, since
// merging them would shrink the strictly-additive accumulators.
func decodeDone(data []byte) Event {
	var p struct {
		Metrics model.Metrics `json:"metrics"`
	}
	if err := json.Unmarshal(data, &p); err != nil || !p.Metrics.NonNegative() {
		return DoneEvent{MetricsOK: false}
	}
	return DoneEvent{Metrics: p.Metrics, MetricsOK: true}
}

func decodeError(data []byte) Event {
	var p struct {
		Message string `json:"message"`
		Detail  string `json:"detail"`
	}
	if err := json.Unmarshal(data, &p); err != nil || (p.Message == "" && p.Detail == "") {
		return ErrorEvent{Message: "server reported an error"}
	}
	if p.Message != "" {
		return ErrorEvent{Message: p.Message}
	}
	return ErrorEvent{Message: p.Detail}
}
