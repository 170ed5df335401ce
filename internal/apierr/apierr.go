// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package apierr defines the error taxonomy shared by every network path.
//
// Errors are classified once, at the boundary where they occur, and
// propagated as typed values. The taxonomy drives both retry decisions
// (see IsRetryable and StreamCode.FallbackEligible) and user-facing copy
// (see UserMessage). Internal components never pass raw strings around.
package apierr

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// ERROR KINDS
// =============================================================================

// Kind partitions every failure into one of five disjoint classes.
type Kind int

const (
	// KindNetwork is a transport-level failure with no response received.
	KindNetwork Kind = iota + 1

	// KindTimeout is a caller-imposed deadline exceeded.
	KindTimeout

	// KindRemote is a well-formed error response from the peer (4xx/5xx).
	KindRemote

	// KindSchema is a structural validation failure of a request or
	// response against the expected contract.
	KindSchema

	// KindStream is a failure specific to the live-stream path.
	KindStream
)

// String returns the kind name for logging.
func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindTimeout:
		return "timeout"
	case KindRemote:
		return "remote"
	case KindSchema:
		return "schema"
	case KindStream:
		return "stream"
	default:
		return "unknown"
	}
}

// =============================================================================
// STREAM SUB-CODES
// =============================================================================

// StreamCode distinguishes the failure modes of the streaming path.
type StreamCode int

const (
	// StreamCodeNetwork is a lost or unreachable connection.
	StreamCodeNetwork StreamCode = iota + 1

	// StreamCodeRemote is an error response or error event from the peer.
	StreamCodeRemote

	// StreamCodeTimeout is a deadline exceeded while streaming.
	StreamCodeTimeout

	// StreamCodeBadPayload is a malformed frame that terminated the stream
	// (malformed non-terminal frames are skipped, not surfaced).
	StreamCodeBadPayload

	// StreamCodeClosed is a clean but unexpected close before the terminal
	// event arrived.
	StreamCodeClosed
)

// String returns the sub-code name for logging.
func (c StreamCode) String() string {
	switch c {
	case StreamCodeNetwork:
		return "network"
	case StreamCodeRemote:
		return "remote"
	case StreamCodeTimeout:
		return "timeout"
	case StreamCodeBadPayload:
		return "bad_payload"
	case StreamCodeClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// FallbackEligible reports whether a stream failure with this sub-code
// should send the caller to the non-streaming path. Transport loss,
// timeouts, and premature closes may succeed over plain HTTP; a remote
// fault or a structurally bad payload will not improve by switching paths.
func (c StreamCode) FallbackEligible() bool {
	switch c {
	case StreamCodeNetwork, StreamCodeTimeout, StreamCodeClosed:
		return true
	default:
		return false
	}
}

// =============================================================================
// ERROR TYPE
// =============================================================================

// Issue is one structural validation problem: a field path and a
// human-readable description.
type Issue struct {
	Path    string
	Message string
}

// Error is the typed error carried across every network path.
// Only the fields relevant to its Kind are populated.
type Error struct {
	Kind    Kind
	Message string

	// Remote faults
	Status int
	Body   string

	// Schema violations
	Issues []Issue

	// Stream faults
	Code StreamCode

	// Wrapped cause, if any
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch e.Kind {
	case KindRemote:
		return fmt.Sprintf("remote fault (HTTP %d): %s", e.Status, e.Message)
	case KindSchema:
		paths := make([]string, 0, len(e.Issues))
		for _, is := range e.Issues {
			paths = append(paths, is.Path)
		}
		return fmt.Sprintf("schema violation: %s (%s)", e.Message, strings.Join(paths, ", "))
	case KindStream:
		if e.Err != nil {
			return fmt.Sprintf("stream fault [%s]: %v", e.Code, e.Err)
		}
		return fmt.Sprintf("stream fault [%s]: %s", e.Code, e.Message)
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
		}
		return fmt.Sprintf("%s error: %s", e.Kind, e.Message)
	}
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// =============================================================================
// CONSTRUCTORS
// =============================================================================

// Network wraps a transport-level failure.
func Network(err error) *Error {
	return &Error{Kind: KindNetwork, Message: "request could not reach the server", Err: err}
}

// Timeout wraps a deadline-exceeded failure.
func Timeout(err error) *Error {
	return &Error{Kind: KindTimeout, Message: "request deadline exceeded", Err: err}
}

// Remote builds an error from a non-success HTTP response.
func Remote(status int, body string) *Error {
	return &Error{
		Kind:    KindRemote,
		Message: "server rejected the request",
		Status:  status,
		Body:    body,
	}
}

// Schema builds a validation error from one or more issues.
func Schema(issues ...Issue) *Error {
	return &Error{
		Kind:    KindSchema,
		Message: "payload failed contract validation",
		Issues:  issues,
	}
}

// Stream builds a stream fault with the given sub-code.
func Stream(code StreamCode, err error) *Error {
	return &Error{Kind: KindStream, Code: code, Err: err}
}

// =============================================================================
// CLASSIFICATION HELPERS
// =============================================================================

// KindOf extracts the taxonomy kind from an error chain, or 0 when the
// error does not carry one.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// IsRetryable reports whether the request layer may retry after this
// error. Only transport failures and timeouts qualify: a well-formed
// rejection or a structural mismatch will not change on a second attempt,
// and retrying it amplifies load on an already-erroring server.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindNetwork, KindTimeout:
		return true
	default:
		return false
	}
}

// FallbackEligible reports whether a stream failure should divert the
// caller to the non-streaming path. Non-stream errors never divert.
func FallbackEligible(err error) bool {
	var e *Error
	if errors.As(err, &e) && e.Kind == KindStream {
		return e.Code.FallbackEligible()
	}
	return false
}

// =============================================================================
// USER-FACING COPY
// =============================================================================

// UserMessage maps a typed error to actionable, jargon-free text for
// display. Raw error strings never reach the user directly.
func UserMessage(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return "Something went wrong. Please try again."
	}

	switch e.Kind {
	case KindNetwork:
		return "Could not reach the server. Check your connection and try again."
	case KindTimeout:
		return "The server took too long to respond. Please try again."
	case KindRemote:
		if e.Status >= 400 && e.Status < 500 {
			return "The server could not process that message. Please rephrase and try again."
		}
		return "The server ran into a problem. Please try again in a moment."
	case KindSchema:
		return "The server sent an unexpected response. Please try again."
	case KindStream:
		switch e.Code {
		case StreamCodeTimeout:
			return "The live response timed out. Please try again."
		case StreamCodeRemote:
			return "The server reported an error while responding. Please try again."
		default:
			return "The live connection was interrupted. Please try again."
		}
	default:
		return "Something went wrong. Please try again."
	}
}
