// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jeranaias/orchestratai-tui/internal/apierr"
	"github.com/jeranaias/orchestratai-tui/internal/model"
)

// =============================================================================
// LIFECYCLE STATES
// =============================================================================

// State is the connection lifecycle phase. Transitions are strictly
// forward per connection: Idle -> Connecting -> Streaming -> Completed or
// Failed. A superseded connection stops without a terminal callback.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateStreaming
	StateCompleted
	StateFailed
)

// String returns the state name for logging.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// =============================================================================
// HANDLERS
// =============================================================================

// Handlers receive stream events. All callbacks fire from the connection
// goroutine, in wire order. OnChunk receives the FULL accumulated text so
// far, not the increment. Exactly one of OnComplete or OnError fires per
// non-superseded connection.
type Handlers struct {
	OnChunk       func(accumulated string)
	OnAgentUpdate func(agent model.AgentID, status model.AgentStatus)
	OnLogEntry    func(entry model.RetrievalLog)
	OnComplete    func(metrics model.Metrics)
	OnError       func(err error)
}

// =============================================================================
// CLIENT
// =============================================================================

const (
	streamPath = "/api/chat/stream"

	// maxReconnects bounds in-place reconnection after a mid-stream
	// transport loss. Accumulated text survives the reconnect.
	maxReconnects = 2

	reconnectDelay = 500 * time.Millisecond

	maxStreamMessageLen = 2000
)

// Client manages the live SSE connection. At most one connection is live
// at a time: opening a new stream closes the previous one first.
type Client struct {
	baseURL string
	http    *http.Client
	log     *zap.Logger

	mu   sync.Mutex
	conn *connection
}

// connection is one stream attempt's lifetime.
type connection struct {
	ctx        context.Context
	cancel     context.CancelFunc
	state      atomic.Int32
	superseded atomic.Bool
	done       chan struct{}
	handlers   Handlers
}

func (c *connection) setState(s State) {
	c.state.Store(int32(s))
}

// New creates a stream client. An empty base URL is a configuration
// error and fails fast here rather than on first use.
func New(baseURL string, log *zap.Logger) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("stream: base URL is required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		baseURL: baseURL,
		// No client-level timeout: the stream is long-lived and
		// cancellation flows through the connection context.
		http: &http.Client{},
		log:  log,
	}, nil
}

// State reports the lifecycle phase of the current connection, or
// StateIdle when none exists.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return StateIdle
	}
	return State(c.conn.state.Load())
}

// Open starts streaming a chat turn. Any previous connection is closed
// first, before the new one dials. Parameter validation errors return
// synchronously; everything after that arrives through the handlers.
func (c *Client) Open(ctx context.Context, message, sessionID string, h Handlers) error {
	if err := validateStreamParams(message, sessionID); err != nil {
		return err
	}

	c.mu.Lock()
	if c.conn != nil {
		c.closeLocked()
	}
	connCtx, cancel := context.WithCancel(ctx)
	conn := &connection{
		ctx:      connCtx,
		cancel:   cancel,
		done:     make(chan struct{}),
		handlers: h,
	}
	conn.setState(StateConnecting)
	c.conn = conn
	c.mu.Unlock()

	go c.run(conn, message, sessionID)
	return nil
}

// Close tears down the current connection, if any. Idempotent; a closed
// connection fires no further callbacks.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *Client) closeLocked() {
	if c.conn == nil {
		return
	}
	c.conn.superseded.Store(true)
	c.conn.cancel()
	c.conn = nil
}

func validateStreamParams(message, sessionID string) error {
	var issues []apierr.Issue
	if strings.TrimSpace(message) == "" {
		issues = append(issues, apierr.Issue{Path: "message", Message: "must not be empty"})
	} else if n := utf8.RuneCountInString(message); n > maxStreamMessageLen {
		issues = append(issues, apierr.Issue{
			Path:    "message",
			Message: fmt.Sprintf("must be at most %d characters, got %d", maxStreamMessageLen, n),
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

// =============================================================================
// CONNECTION LOOP
// =============================================================================

// run drives one connection to a terminal state. The accumulator lives
// across reconnect attempts so OnChunk always reflects the full text.
func (c *Client) run(conn *connection, message, sessionID string) {
	defer close(conn.done)
	defer conn.cancel()

	endpoint := c.streamURL(message, sessionID)
	var accumulated strings.Builder
	reconnects := 0

	for {
		resp, err := c.dial(conn.ctx, endpoint)
		if err != nil {
			if conn.ctx.Err() != nil {
				return // closed or superseded
			}
			var ae *apierr.Error
			if errors.As(err, &ae) && ae.Kind == apierr.KindStream && ae.Code == apierr.StreamCodeRemote {
				c.fail(conn, apierr.StreamCodeRemote, err)
				return
			}
			if reconnects < maxReconnects {
				reconnects++
				c.log.Debug("transient stream dial failure, reconnecting",
					zap.Int("attempt", reconnects), zap.Error(err))
				if !sleepCtx(conn.ctx, reconnectDelay) {
					return
				}
				continue
			}
			c.fail(conn, classifyStreamErr(err), err)
			return
		}

		conn.setState(StateStreaming)
		terminal, err := c.consume(conn, resp.Body, &accumulated)
		resp.Body.Close()
		if terminal {
			return
		}
		if conn.ctx.Err() != nil {
			return
		}

		// Mid-stream interruption: reconnect with the text kept.
		if reconnects < maxReconnects {
			reconnects++
			c.log.Debug("transient stream interruption, reconnecting",
				zap.Int("attempt", reconnects),
				zap.Int("accumulated_chars", accumulated.Len()),
				zap.Error(err))
			if !sleepCtx(conn.ctx, reconnectDelay) {
				return
			}
			continue
		}
		c.fail(conn, classifyStreamErr(err), err)
		return
	}
}

// streamURL builds the GET endpoint with the turn parameters.
func (c *Client) streamURL(message, sessionID string) string {
	q := url.Values{}
	q.Set("message", message)
	q.Set("session_id", sessionID)
	return c.baseURL + streamPath + "?" + q.Encode()
}

// dial opens the SSE response. A non-success status is terminal.
func (c *Client) dial(ctx context.Context, endpoint string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, apierr.Stream(apierr.StreamCodeRemote,
			fmt.Errorf("stream endpoint returned HTTP %d: %s", resp.StatusCode, string(body)))
	}
	return resp, nil
}

// consume reads events until a terminal condition. It returns
// terminal=true when the connection reached Completed/Failed (or was
// superseded); terminal=false with the read error when a reconnect may
// resume it.
func (c *Client) consume(conn *connection, body io.Reader, accumulated *strings.Builder) (bool, error) {
	reader := NewReader(body)

	for {
		if conn.ctx.Err() != nil || conn.superseded.Load() {
			return true, nil
		}

		name, data, err := reader.ReadEvent()
		if err == io.EOF {
			// Clean close before the terminal event: not resumable.
			c.fail(conn, apierr.StreamCodeClosed,
				errors.New("stream closed before completion"))
			return true, nil
		}
		if err != nil {
			if errors.Is(err, ErrEventTooLarge) {
				c.fail(conn, apierr.StreamCodeBadPayload, err)
				return true, nil
			}
			return false, err
		}

		ev, err := decodeEvent(name, data)
		if err != nil {
			// Malformed non-terminal frames are skipped, never fatal.
			c.log.Debug("skipping malformed stream frame", zap.Error(err))
			continue
		}

		if conn.superseded.Load() {
			return true, nil
		}

		switch e := ev.(type) {
		case ChunkEvent:
			accumulated.WriteString(e.Content)
			if conn.handlers.OnChunk != nil {
				conn.handlers.OnChunk(accumulated.String())
			}
		case AgentStatusEvent:
			if conn.handlers.OnAgentUpdate != nil {
				conn.handlers.OnAgentUpdate(e.Agent, e.Status)
			}
		case LogEvent:
			if conn.handlers.OnLogEntry != nil {
				conn.handlers.OnLogEntry(e.Log)
			}
		case DoneEvent:
			if !e.MetricsOK {
				c.log.Debug("terminal event metadata unparsable, completing without metrics")
			}
			conn.setState(StateCompleted)
			if conn.handlers.OnComplete != nil {
				conn.handlers.OnComplete(e.Metrics)
			}
			return true, nil
		case ErrorEvent:
			c.fail(conn, apierr.StreamCodeRemote, errors.New(e.Message))
			return true, nil
		}
	}
}

// fail moves the connection to Failed and reports exactly once, unless
// it was superseded.
func (c *Client) fail(conn *connection, code apierr.StreamCode, err error) {
	if conn.superseded.Load() {
		return
	}
	conn.setState(StateFailed)
	c.log.Debug("stream failed", zap.String("code", code.String()), zap.Error(err))
	if conn.handlers.OnError != nil {
		var ae *apierr.Error
		if errors.As(err, &ae) && ae.Kind == apierr.KindStream {
			conn.handlers.OnError(ae)
			return
		}
		conn.handlers.OnError(apierr.Stream(code, err))
	}
}

// classifyStreamErr maps a transport error to a stream sub-code.
func classifyStreamErr(err error) apierr.StreamCode {
	if errors.Is(err, context.DeadlineExceeded) {
		return apierr.StreamCodeTimeout
	}
	var ne interface{ Timeout() bool }
	if errors.As(err, &ne) && ne.Timeout() {
		return apierr.StreamCodeTimeout
	}
	return apierr.StreamCodeNetwork
}

// sleepCtx waits d or until ctx is done; reports false on cancellation.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
