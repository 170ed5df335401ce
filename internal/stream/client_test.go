// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/jeranaias/orchestratai-tui/internal/apierr"
	"github.com/jeranaias/orchestratai-tui/internal/model"
)

const testSessionID = "7f2c1a40-9b3e-4f5d-8a6c-2e1d0b9c8a7f"

// sseHandler writes the given frames as one SSE response.
func sseHandler(t *testing.T, frames ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t.Helper()
		if r.URL.Path != "/api/chat/stream" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("session_id") != testSessionID {
			t.Errorf("session_id not forwarded: %q", r.URL.Query().Get("session_id"))
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, f := range frames {
			fmt.Fprint(w, f)
			flusher.Flush()
		}
	}
}

// collector gathers handler callbacks for assertions.
type collector struct {
	mu       sync.Mutex
	chunks   []string
	agents   []string
	logs     []model.RetrievalLog
	metrics  *model.Metrics
	err      error
	terminal chan struct{}
}

func newCollector() *collector {
	return &collector{terminal: make(chan struct{})}
}

func (c *collector) handlers() Handlers {
	return Handlers{
		OnChunk: func(s string) {
			c.mu.Lock()
			c.chunks = append(c.chunks, s)
			c.mu.Unlock()
		},
		OnAgentUpdate: func(agent model.AgentID, status model.AgentStatus) {
			c.mu.Lock()
			c.agents = append(c.agents, string(agent)+":"+string(status))
			c.mu.Unlock()
		},
		OnLogEntry: func(entry model.RetrievalLog) {
			c.mu.Lock()
			c.logs = append(c.logs, entry)
			c.mu.Unlock()
		},
		OnComplete: func(m model.Metrics) {
			c.mu.Lock()
			c.metrics = &m
			c.mu.Unlock()
			close(c.terminal)
		},
		OnError: func(err error) {
			c.mu.Lock()
			c.err = err
			c.mu.Unlock()
			close(c.terminal)
		},
	}
}

func (c *collector) wait(t *testing.T) {
	t.Helper()
	select {
	case <-c.terminal:
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not reach a terminal state")
	}
}

func TestNew_RequiresBaseURL(t *testing.T) {
	if _, err := New("", nil); err == nil {
		t.Fatal("expected error for empty base URL")
	}
	if _, err := New("   ", nil); err == nil {
		t.Fatal("expected error for blank base URL")
	}
}

func TestOpen_ValidatesParams(t *testing.T) {
	c, err := New("http://localhost:1", nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Open(context.Background(), "", testSessionID, Handlers{}); apierr.KindOf(err) != apierr.KindSchema {
		t.Errorf("empty message must be a schema error, got %v", err)
	}
	if err := c.Open(context.Background(), "hi", "nope", Handlers{}); apierr.KindOf(err) != apierr.KindSchema {
		t.Errorf("bad session id must be a schema error, got %v", err)
	}
}

func TestStream_AccumulatesAndCompletes(t *testing.T) {
	server := httptest.NewServer(sseHandler(t,
		"event: agent_status\ndata: {\"agent\":\"orchestrator\",\"status\":\"routing\"}\n\n",
		"event: message_chunk\ndata: {\"content\":\"Hel\"}\n\n",
		"event: retrieval_log\ndata: {\"id\":\"l1\",\"type\":\"routing\",\"title\":\"Routed\",\"data\":{},\"timestamp\":\"2025-01-15T10:30:00Z\",\"status\":\"success\"}\n\n",
		"event: message_chunk\ndata: {\"content\":\"lo\"}\n\n",
		"event: agent_status\ndata: {\"agent\":\"billing\",\"status\":\"active\"}\n\n",
		"event: done\ndata: {\"metrics\":{\"tokensUsed\":42,\"cost\":0.001,\"latency\":120}}\n\n",
	))
	defer server.Close()

	c, _ := New(server.URL, nil)
	col := newCollector()
	if err := c.Open(context.Background(), "hello", testSessionID, col.handlers()); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	col.wait(t)

	// Each chunk callback carries the full text so far.
	want := []string{"Hel", "Hello"}
	if len(col.chunks) != len(want) {
		t.Fatalf("expected %d chunk callbacks, got %v", len(want), col.chunks)
	}
	for i, w := range want {
		if col.chunks[i] != w {
			t.Errorf("chunk %d: expected %q, got %q", i, w, col.chunks[i])
		}
	}

	if len(col.agents) != 2 || col.agents[0] != "orchestrator:routing" || col.agents[1] != "billing:active" {
		t.Errorf("agent updates wrong: %v", col.agents)
	}
	if len(col.logs) != 1 || col.logs[0].Title != "Routed" {
		t.Errorf("log entries wrong: %+v", col.logs)
	}
	if col.metrics == nil || col.metrics.TokensUsed != 42 || col.metrics.LatencyMS != 120 {
		t.Errorf("metrics wrong: %+v", col.metrics)
	}
	if st := c.State(); st != StateCompleted {
		t.Errorf("expected completed state, got %v", st)
	}
}

func TestStream_DataOnlyFraming(t *testing.T) {
	server := httptest.NewServer(sseHandler(t,
		"data: {\"type\":\"message_chunk\",\"content\":\"hi\"}\n\n",
		"data: {\"type\":\"done\",\"metrics\":{\"tokensUsed\":1,\"cost\":0,\"latency\":5}}\n\n",
	))
	defer server.Close()

	c, _ := New(server.URL, nil)
	col := newCollector()
	if err := c.Open(context.Background(), "hello", testSessionID, col.handlers()); err != nil {
		t.Fatal(err)
	}
	col.wait(t)

	if len(col.chunks) != 1 || col.chunks[0] != "hi" {
		t.Errorf("data-only chunk not decoded: %v", col.chunks)
	}
	if col.metrics == nil || col.metrics.TokensUsed != 1 {
		t.Errorf("data-only done not decoded: %+v", col.metrics)
	}
}

func TestStream_MalformedFrameSkipped(t *testing.T) {
	server := httptest.NewServer(sseHandler(t,
		"event: message_chunk\ndata: {\"content\":\"a\"}\n\n",
		"event: message_chunk\ndata: {not json\n\n",
		"event: mystery_event\ndata: {\"x\":1}\n\n",
		"event: agent_status\ndata: {\"agent\":\"accounting\",\"status\":\"active\"}\n\n",
		"event: message_chunk\ndata: {\"content\":\"b\"}\n\n",
		"event: done\ndata: {\"metrics\":{\"tokensUsed\":0,\"cost\":0,\"latency\":0}}\n\n",
	))
	defer server.Close()

	c, _ := New(server.URL, nil)
	col := newCollector()
	if err := c.Open(context.Background(), "hello", testSessionID, col.handlers()); err != nil {
		t.Fatal(err)
	}
	col.wait(t)

	if len(col.chunks) != 2 || col.chunks[1] != "ab" {
		t.Errorf("malformed frames must be skipped without losing text: %v", col.chunks)
	}
	if len(col.agents) != 0 {
		t.Errorf("unknown agent must be dropped, got %v", col.agents)
	}
	if col.err != nil {
		t.Errorf("malformed non-terminal frames must not fail the stream: %v", col.err)
	}
}

func TestStream_DoneWithUnparsableMetadataStillCompletes(t *testing.T) {
	server := httptest.NewServer(sseHandler(t,
		"event: message_chunk\ndata: {\"content\":\"x\"}\n\n",
		"event: done\ndata: garbage not json\n\n",
	))
	defer server.Close()

	c, _ := New(server.URL, nil)
	col := newCollector()
	if err := c.Open(context.Background(), "hello", testSessionID, col.handlers()); err != nil {
		t.Fatal(err)
	}
	col.wait(t)

	if col.err != nil {
		t.Fatalf("done must complete the stream even with bad metadata: %v", col.err)
	}
	if col.metrics == nil || !col.metrics.IsZero() {
		t.Errorf("expected zero metrics, got %+v", col.metrics)
	}
	if st := c.State(); st != StateCompleted {
		t.Errorf("expected completed state, got %v", st)
	}
}

func TestStream_ServerErrorEventFails(t *testing.T) {
	server := httptest.NewServer(sseHandler(t,
		"event: error\ndata: {\"message\":\"agent pipeline crashed\"}\n\n",
	))
	defer server.Close()

	c, _ := New(server.URL, nil)
	col := newCollector()
	if err := c.Open(context.Background(), "hello", testSessionID, col.handlers()); err != nil {
		t.Fatal(err)
	}
	col.wait(t)

	var ae *apierr.Error
	if !errors.As(col.err, &ae) || ae.Code != apierr.StreamCodeRemote {
		t.Fatalf("expected remote stream fault, got %v", col.err)
	}
	if apierr.FallbackEligible(col.err) {
		t.Error("remote stream faults must not be fallback eligible")
	}
	if st := c.State(); st != StateFailed {
		t.Errorf("expected failed state, got %v", st)
	}
}

func TestStream_PrematureCloseFailsClosed(t *testing.T) {
	server := httptest.NewServer(sseHandler(t,
		"event: message_chunk\ndata: {\"content\":\"partial\"}\n\n",
		// No done event: the server just hangs up.
	))
	defer server.Close()

	c, _ := New(server.URL, nil)
	col := newCollector()
	if err := c.Open(context.Background(), "hello", testSessionID, col.handlers()); err != nil {
		t.Fatal(err)
	}
	col.wait(t)

	var ae *apierr.Error
	if !errors.As(col.err, &ae) || ae.Code != apierr.StreamCodeClosed {
		t.Fatalf("expected closed stream fault, got %v", col.err)
	}
	if !apierr.FallbackEligible(col.err) {
		t.Error("premature close must be fallback eligible")
	}
}

func TestStream_SecondOpenSupersedesFirst(t *testing.T) {
	block := make(chan struct{})
	firstStarted := make(chan struct{}, 1)
	var calls sync.Mutex
	callNum := 0

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Lock()
		callNum++
		n := callNum
		calls.Unlock()

		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		if n == 1 {
			fmt.Fprint(w, "event: message_chunk\ndata: {\"content\":\"first\"}\n\n")
			flusher.Flush()
			firstStarted <- struct{}{}
			<-block // hold the first stream open
			return
		}
		fmt.Fprint(w, "event: message_chunk\ndata: {\"content\":\"second\"}\n\n")
		fmt.Fprint(w, "event: done\ndata: {\"metrics\":{\"tokensUsed\":0,\"cost\":0,\"latency\":0}}\n\n")
		flusher.Flush()
	}))
	defer server.Close()
	defer close(block)

	c, _ := New(server.URL, nil)

	first := newCollector()
	if err := c.Open(context.Background(), "one", testSessionID, first.handlers()); err != nil {
		t.Fatal(err)
	}
	<-firstStarted

	second := newCollector()
	if err := c.Open(context.Background(), "two", testSessionID, second.handlers()); err != nil {
		t.Fatal(err)
	}
	second.wait(t)

	if second.metrics == nil {
		t.Fatal("second stream must complete")
	}
	// The superseded connection gets no terminal callback.
	select {
	case <-first.terminal:
		t.Error("superseded stream must not fire a terminal callback")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestStream_CloseIsIdempotent(t *testing.T) {
	server := httptest.NewServer(sseHandler(t,
		"event: message_chunk\ndata: {\"content\":\"x\"}\n\n",
	))
	defer server.Close()

	c, _ := New(server.URL, nil)
	col := newCollector()
	if err := c.Open(context.Background(), "hello", testSessionID, col.handlers()); err != nil {
		t.Fatal(err)
	}
	c.Close()
	c.Close()
	if st := c.State(); st != StateIdle {
		t.Errorf("expected idle after close, got %v", st)
	}
}
