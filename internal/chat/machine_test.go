// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jeranaias/orchestratai-tui/internal/api"
	"github.com/jeranaias/orchestratai-tui/internal/apierr"
	"github.com/jeranaias/orchestratai-tui/internal/model"
	"github.com/jeranaias/orchestratai-tui/internal/stream"
)

const testSessionID = "7f2c1a40-9b3e-4f5d-8a6c-2e1d0b9c8a7f"

// fakeStreamer captures the handlers so tests can script the stream.
type fakeStreamer struct {
	mu      sync.Mutex
	openErr error
	h       stream.Handlers
	opens   int
	closes  int
}

func (f *fakeStreamer) Open(_ context.Context, _, _ string, h stream.Handlers) error {
	if f.openErr != nil {
		return f.openErr
	}
	f.mu.Lock()
	f.h = h
	f.opens++
	f.mu.Unlock()
	return nil
}

func (f *fakeStreamer) Close() {
	f.mu.Lock()
	f.closes++
	f.mu.Unlock()
}

func (f *fakeStreamer) handlers() stream.Handlers {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.h
}

// fakeFallback scripts the non-streaming path.
type fakeFallback struct {
	mu    sync.Mutex
	turn  *api.ChatTurn
	err   error
	calls int
}

func (f *fakeFallback) SendMessage(_ context.Context, _, _ string) (*api.ChatTurn, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.turn, nil
}

func newTestMachine(t *testing.T) (*Machine, *fakeStreamer, *fakeFallback) {
	t.Helper()
	fs := &fakeStreamer{}
	fb := &fakeFallback{}
	m := New(testSessionID, fs, fb, nil)
	t.Cleanup(m.Close)
	return m, fs, fb
}

func TestSendMessage_StreamingHappyPath(t *testing.T) {
	m, fs, _ := newTestMachine(t)

	if err := m.SendMessage("Hello"); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}

	snap := m.Snapshot()
	if len(snap.Messages) != 1 || snap.Messages[0].Role != model.RoleUser {
		t.Fatalf("user message must appear immediately: %+v", snap.Messages)
	}
	if !snap.Busy || !snap.Streaming {
		t.Error("machine must be busy and streaming during the turn")
	}

	h := fs.handlers()
	h.OnAgentUpdate(model.AgentOrchestrator, model.StatusRouting)
	h.OnChunk("Hi")
	h.OnAgentUpdate(model.AgentBilling, model.StatusActive)
	h.OnChunk("Hi there!")
	h.OnLogEntry(model.RetrievalLog{ID: "l1", Type: model.LogRouting, Title: "Routed", Status: model.LogSuccess})
	h.OnComplete(model.Metrics{TokensUsed: 42, Cost: 0.002, LatencyMS: 150})

	snap = m.Snapshot()
	if len(snap.Messages) != 2 {
		t.Fatalf("expected user + assistant, got %d messages", len(snap.Messages))
	}
	assistant := snap.Messages[1]
	if assistant.Content != "Hi there!" {
		t.Errorf("assistant content must be the full accumulated text: %q", assistant.Content)
	}
	if assistant.Agent != model.AgentBilling {
		t.Errorf("assistant must be attributed to the active agent, got %q", assistant.Agent)
	}
	if snap.Busy || snap.Streaming {
		t.Error("turn must be finished after done")
	}
	if len(snap.Logs) != 1 {
		t.Errorf("expected one log entry, got %d", len(snap.Logs))
	}

	for _, a := range snap.Agents {
		if a.Status != model.StatusIdle {
			t.Errorf("agent %s must return to idle, got %s", a.ID, a.Status)
		}
		if a.ID == model.AgentBilling && a.Metrics.TokensUsed != 42 {
			t.Errorf("metrics must land on the responding agent: %+v", a.Metrics)
		}
	}
}

func TestSendMessage_FailureRollsBackExactlyOnce(t *testing.T) {
	m, fs, _ := newTestMachine(t)

	if err := m.SendMessage("doomed"); err != nil {
		t.Fatal(err)
	}
	h := fs.handlers()
	h.OnChunk("partial text")
	failure := apierr.Stream(apierr.StreamCodeRemote, errors.New("pipeline crashed"))
	h.OnError(failure)
	h.OnError(failure) // duplicate terminal callback must be a no-op

	snap := m.Snapshot()
	if len(snap.Messages) != 0 {
		t.Fatalf("optimistic insert and staged text must both roll back: %+v", snap.Messages)
	}
	if snap.LastError == "" {
		t.Error("user-facing error copy must be recorded")
	}
	if !snap.CanRetry {
		t.Error("failed message must be retryable")
	}
	if snap.Busy {
		t.Error("turn must be finished after failure")
	}
}

func TestRetryMessage_ResendsFailedText(t *testing.T) {
	m, fs, _ := newTestMachine(t)

	if err := m.SendMessage("try me"); err != nil {
		t.Fatal(err)
	}
	fs.handlers().OnError(apierr.Stream(apierr.StreamCodeRemote, errors.New("boom")))

	if err := m.RetryMessage(); err != nil {
		t.Fatalf("retry failed: %v", err)
	}

	snap := m.Snapshot()
	if len(snap.Messages) != 1 || snap.Messages[0].Content != "try me" {
		t.Fatalf("retry must reinsert the failed text: %+v", snap.Messages)
	}
	if snap.CanRetry {
		t.Error("retry consumes the failed message")
	}

	fs.handlers().OnChunk("ok")
	fs.handlers().OnComplete(model.Metrics{})
	if got := m.Snapshot().Messages[1].Content; got != "ok" {
		t.Errorf("retried turn must stream normally, got %q", got)
	}
}

func TestRetryMessage_NoOpWithoutFailure(t *testing.T) {
	m, _, _ := newTestMachine(t)
	if err := m.RetryMessage(); err != nil {
		t.Fatalf("retry with nothing failed must be a no-op, got %v", err)
	}
	if snap := m.Snapshot(); len(snap.Messages) != 0 || snap.Busy {
		t.Errorf("no-op retry must not change state: %+v", snap)
	}
}

func TestSendMessage_RejectsOverlappingTurns(t *testing.T) {
	m, _, _ := newTestMachine(t)
	if err := m.SendMessage("first"); err != nil {
		t.Fatal(err)
	}
	if err := m.SendMessage("second"); !errors.Is(err, ErrTurnInFlight) {
		t.Errorf("expected ErrTurnInFlight, got %v", err)
	}
	if n := len(m.Snapshot().Messages); n != 1 {
		t.Errorf("rejected send must not insert a message, got %d", n)
	}
}

func TestFallback_RunsOnceOnEligibleFailure(t *testing.T) {
	m, fs, fb := newTestMachine(t)
	fb.turn = &api.ChatTurn{
		Message:    "Recovered over plain HTTP.",
		Agent:      model.AgentTechnical,
		Confidence: 0.8,
		Logs:       []model.RetrievalLog{{ID: "l1", Type: model.LogCache, Title: "Cache hit", Status: model.LogSuccess}},
		Metrics:    model.Metrics{TokensUsed: 10, Cost: 0.001, LatencyMS: 90},
	}

	if err := m.SendMessage("hello"); err != nil {
		t.Fatal(err)
	}
	h := fs.handlers()
	h.OnChunk("partial that gets discarded")
	h.OnError(apierr.Stream(apierr.StreamCodeNetwork, errors.New("conn reset")))

	snap := m.Snapshot()
	if fb.calls != 1 {
		t.Fatalf("fallback must run exactly once, ran %d times", fb.calls)
	}
	if len(snap.Messages) != 2 {
		t.Fatalf("expected user + fallback assistant, got %+v", snap.Messages)
	}
	if snap.Messages[1].Content != "Recovered over plain HTTP." {
		t.Errorf("staged stream text must be replaced wholesale: %q", snap.Messages[1].Content)
	}
	if snap.Messages[1].Agent != model.AgentTechnical {
		t.Errorf("fallback attribution wrong: %q", snap.Messages[1].Agent)
	}
	if snap.LastError != "" || snap.CanRetry {
		t.Error("successful fallback must leave no error state")
	}
	for _, a := range snap.Agents {
		if a.ID == model.AgentTechnical && a.Metrics.TokensUsed != 10 {
			t.Errorf("fallback metrics must accumulate: %+v", a.Metrics)
		}
	}
}

func TestFallback_NotUsedForIneligibleFailure(t *testing.T) {
	m, fs, fb := newTestMachine(t)
	if err := m.SendMessage("hello"); err != nil {
		t.Fatal(err)
	}
	fs.handlers().OnError(apierr.Stream(apierr.StreamCodeBadPayload, errors.New("oversized frame")))

	if fb.calls != 0 {
		t.Errorf("bad payload must not trigger fallback, ran %d times", fb.calls)
	}
	if snap := m.Snapshot(); len(snap.Messages) != 0 || !snap.CanRetry {
		t.Errorf("ineligible failure must roll back: %+v", snap)
	}
}

func TestFallback_FailureRollsBack(t *testing.T) {
	m, fs, fb := newTestMachine(t)
	fb.err = apierr.Remote(500, "still down")

	if err := m.SendMessage("hello"); err != nil {
		t.Fatal(err)
	}
	fs.handlers().OnError(apierr.Stream(apierr.StreamCodeTimeout, errors.New("deadline")))

	snap := m.Snapshot()
	if fb.calls != 1 {
		t.Fatalf("expected one fallback attempt, got %d", fb.calls)
	}
	if len(snap.Messages) != 0 {
		t.Errorf("failed fallback must roll back the user message: %+v", snap.Messages)
	}
	if !snap.CanRetry || snap.LastError == "" {
		t.Error("failed fallback must leave a retryable error")
	}
}

func TestIncrementAgentMetrics_Additive(t *testing.T) {
	m, _, _ := newTestMachine(t)

	m.IncrementAgentMetrics(model.AgentBilling, model.Metrics{TokensUsed: 10, Cost: 0.01, LatencyMS: 100})
	m.IncrementAgentMetrics(model.AgentBilling, model.Metrics{TokensUsed: 20, Cost: 0.02, LatencyMS: 50})
	m.IncrementAgentMetrics(model.AgentBilling, model.Metrics{TokensUsed: 5, Cost: 0.005, LatencyMS: 25})

	for _, a := range m.Snapshot().Agents {
		if a.ID != model.AgentBilling {
			continue
		}
		if a.Metrics.TokensUsed != 35 {
			t.Errorf("expected 35 tokens, got %d", a.Metrics.TokensUsed)
		}
		if diff := a.Metrics.Cost - 0.035; diff > 1e-9 || diff < -1e-9 {
			t.Errorf("expected cost 0.035, got %g", a.Metrics.Cost)
		}
		if a.Metrics.LatencyMS != 175 {
			t.Errorf("expected latency 175, got %d", a.Metrics.LatencyMS)
		}
	}
}

func TestIncrementAgentMetrics_UnknownAgentIgnored(t *testing.T) {
	m, _, _ := newTestMachine(t)
	m.IncrementAgentMetrics(model.AgentID("accounting"), model.Metrics{TokensUsed: 99})
	for _, a := range m.Snapshot().Agents {
		if a.Metrics.TokensUsed != 0 {
			t.Errorf("closed agent set: unknown agent must not create or leak metrics")
		}
	}
}

func TestRoutingTimer_PromotesOrchestrator(t *testing.T) {
	m, _, _ := newTestMachine(t)
	m.routingDelay = 10 * time.Millisecond

	if err := m.SendMessage("hello"); err != nil {
		t.Fatal(err)
	}
	status := func() model.AgentStatus {
		for _, a := range m.Snapshot().Agents {
			if a.ID == model.AgentOrchestrator {
				return a.Status
			}
		}
		return ""
	}
	if got := status(); got != model.StatusRouting {
		t.Fatalf("orchestrator must show routing immediately, got %s", got)
	}

	deadline := time.Now().Add(2 * time.Second)
	for status() != model.StatusActive {
		if time.Now().After(deadline) {
			t.Fatal("routing timer never promoted the orchestrator to active")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStaleTurnCallbacksIgnored(t *testing.T) {
	m, fs, _ := newTestMachine(t)

	if err := m.SendMessage("first"); err != nil {
		t.Fatal(err)
	}
	stale := fs.handlers()
	stale.OnError(apierr.Stream(apierr.StreamCodeRemote, errors.New("boom")))

	if err := m.SendMessage("second"); err != nil {
		t.Fatal(err)
	}
	live := fs.handlers()

	// Callbacks from the finished first turn must not touch the new one.
	stale.OnChunk("ghost")
	stale.OnComplete(model.Metrics{TokensUsed: 999})

	live.OnChunk("real")
	live.OnComplete(model.Metrics{})

	snap := m.Snapshot()
	if len(snap.Messages) != 2 || snap.Messages[1].Content != "real" {
		t.Errorf("stale callbacks leaked into the live turn: %+v", snap.Messages)
	}
	for _, a := range snap.Agents {
		if a.Metrics.TokensUsed != 0 {
			t.Errorf("stale metrics must be dropped: %+v", a.Metrics)
		}
	}
}

func TestClearMessages_KeepsMetrics(t *testing.T) {
	m, fs, _ := newTestMachine(t)
	if err := m.SendMessage("hello"); err != nil {
		t.Fatal(err)
	}
	h := fs.handlers()
	h.OnAgentUpdate(model.AgentPolicy, model.StatusActive)
	h.OnChunk("answer")
	h.OnComplete(model.Metrics{TokensUsed: 7})

	m.ClearMessages()

	snap := m.Snapshot()
	if len(snap.Messages) != 0 || len(snap.Logs) != 0 {
		t.Error("clear must empty transcript and logs")
	}
	for _, a := range snap.Agents {
		if a.ID == model.AgentPolicy && a.Metrics.TokensUsed != 7 {
			t.Errorf("metrics must survive a transcript clear: %+v", a.Metrics)
		}
	}
}

func TestClearError_KeepsRetry(t *testing.T) {
	m, fs, _ := newTestMachine(t)
	if err := m.SendMessage("hello"); err != nil {
		t.Fatal(err)
	}
	fs.handlers().OnError(apierr.Stream(apierr.StreamCodeRemote, errors.New("boom")))

	m.ClearError()
	snap := m.Snapshot()
	if snap.LastError != "" {
		t.Error("error copy must be dismissed")
	}
	if !snap.CanRetry {
		t.Error("dismissing the error must not drop the retryable message")
	}
}

func TestSendMessage_SyncOpenFailureRollsBack(t *testing.T) {
	fs := &fakeStreamer{openErr: apierr.Schema(apierr.Issue{Path: "message", Message: "bad"})}
	m := New(testSessionID, fs, &fakeFallback{}, nil)
	t.Cleanup(m.Close)

	if err := m.SendMessage("hello"); err != nil {
		t.Fatalf("open failures surface through error state, got %v", err)
	}
	snap := m.Snapshot()
	if len(snap.Messages) != 0 {
		t.Error("failed open must roll back the optimistic insert")
	}
	if snap.LastError == "" || !snap.CanRetry {
		t.Error("failed open must leave a retryable error")
	}
}
