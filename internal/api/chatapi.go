// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/jeranaias/orchestratai-tui/internal/apierr"
	"github.com/jeranaias/orchestratai-tui/internal/model"
)

// =============================================================================
// CHAT ENDPOINT
// =============================================================================

// chatPath is the non-streaming chat endpoint.
const chatPath = "/api/chat"

// maxMessageLen is the maximum message length in characters (not bytes).
const maxMessageLen = 2000

// chatRequest is the outbound contract of the chat endpoint.
type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
}

// chatResponse is the inbound contract. Unknown fields are rejected:
// a payload that does not match the contract exactly is a schema
// violation, not a best-effort parse.
type chatResponse struct {
	Message    string               `json:"message"`
	Agent      string               `json:"agent"`
	Confidence float64              `json:"confidence"`
	Logs       []model.RetrievalLog `json:"logs"`
	Metrics    model.Metrics        `json:"metrics"`
}

// ChatTurn is one validated assistant turn returned by the chat endpoint.
type ChatTurn struct {
	Message    string
	Agent      model.AgentID
	Confidence float64
	Logs       []model.RetrievalLog
	Metrics    model.Metrics
}

// ChatAPI is the typed, schema-validated surface over the chat endpoint.
type ChatAPI struct {
	client *Client
}

// NewChatAPI wraps a request client with the chat contract.
func NewChatAPI(client *Client) *ChatAPI {
	return &ChatAPI{client: client}
}

// SendMessage posts one user message and returns the validated assistant
// turn. A blank sessionID gets a freshly minted identifier. The request
// is validated before any bytes leave the process; the response is
// validated before any value reaches the caller.
func (a *ChatAPI) SendMessage(ctx context.Context, text, sessionID string) (*ChatTurn, error) {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	if err := validateRequest(text, sessionID); err != nil {
		return nil, err
	}

	body, err := json.Marshal(chatRequest{Message: text, SessionID: sessionID})
	if err != nil {
		return nil, apierr.Schema(apierr.Issue{Path: "request", Message: err.Error()})
	}

	data, err := a.client.Do(ctx, http.MethodPost, chatPath, body, 0)
	if err != nil {
		return nil, err
	}
	return decodeResponse(data)
}

// validateRequest enforces the outbound contract: message 1-2000
// characters after trimming, session_id a v4 UUID.
func validateRequest(text, sessionID string) error {
	var issues []apierr.Issue

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		issues = append(issues, apierr.Issue{Path: "message", Message: "must not be empty"})
	} else if n := utf8.RuneCountInString(text); n > maxMessageLen {
		issues = append(issues, apierr.Issue{
			Path:    "message",
			Message: fmt.Sprintf("must be at most %d characters, got %d", maxMessageLen, n),
		})
	}

	if u, err := uuid.Parse(sessionID); err != nil || u.Version() != 4 {
		issues = append(issues, apierr.Issue{Path: "session_id", Message: "must be a version-4 UUID"})
	}

	if len(issues) > 0 {
		return apierr.Schema(issues...)
	}
	return nil
}

// decodeResponse parses and validates the inbound payload.
func decodeResponse(data []byte) (*ChatTurn, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var resp chatResponse
	if err := dec.Decode(&resp); err != nil {
		return nil, apierr.Schema(apierr.Issue{Path: "response", Message: err.Error()})
	}

	var issues []apierr.Issue
	if resp.Message == "" {
		issues = append(issues, apierr.Issue{Path: "message", Message: "must not be empty"})
	}
	agent, ok := model.ParseAgentID(resp.Agent)
	if !ok {
		issues = append(issues, apierr.Issue{
			Path:    "agent",
			Message: fmt.Sprintf("unknown agent %q", resp.Agent),
		})
	}
	if resp.Confidence < 0 || resp.Confidence > 1 {
		issues = append(issues, apierr.Issue{
			Path:    "confidence",
			Message: fmt.Sprintf("must be in [0,1], got %g", resp.Confidence),
		})
	}
	if resp.Metrics.TokensUsed < 0 {
		issues = append(issues, apierr.Issue{
			Path:    "metrics.tokensUsed",
			Message: fmt.Sprintf("must be non-negative, got %d", resp.Metrics.TokensUsed),
		})
	}
	if resp.Metrics.Cost < 0 {
		issues = append(issues, apierr.Issue{
			Path:    "metrics.cost",
			Message: fmt.Sprintf("must be non-negative, got %g", resp.Metrics.Cost),
		})
	}
	if resp.Metrics.LatencyMS < 0 {
		issues = append(issues, apierr.Issue{
			Path:    "metrics.latency",
			Message: fmt.Sprintf("must be non-negative, got %d", resp.Metrics.LatencyMS),
		})
	}
	if len(issues) > 0 {
		return nil, apierr.Schema(issues...)
	}

	return &ChatTurn{
		Message:    resp.Message,
		Agent:      agent,
		Confidence: resp.Confidence,
		Logs:       resp.Logs,
		Metrics:    resp.Metrics,
	}, nil
}
