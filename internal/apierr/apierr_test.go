// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package apierr

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"network", Network(errors.New("conn refused")), true},
		{"timeout", Timeout(errors.New("deadline")), true},
		{"remote 400", Remote(400, "bad"), false},
		{"remote 500", Remote(500, "broken"), false},
		{"schema", Schema(Issue{Path: "message", Message: "empty"}), false},
		{"stream", Stream(StreamCodeNetwork, errors.New("x")), false},
		{"plain error", errors.New("whatever"), false},
		{"nil", nil, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsRetryable(tc.err); got != tc.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestIsRetryable_Wrapped(t *testing.T) {
	wrapped := fmt.Errorf("request failed: %w", Timeout(errors.New("deadline")))
	if !IsRetryable(wrapped) {
		t.Error("classification must survive error wrapping")
	}
}

func TestFallbackEligible(t *testing.T) {
	eligible := []StreamCode{StreamCodeNetwork, StreamCodeTimeout, StreamCodeClosed}
	for _, code := range eligible {
		if !FallbackEligible(Stream(code, errors.New("x"))) {
			t.Errorf("code %v must be fallback eligible", code)
		}
	}
	ineligible := []StreamCode{StreamCodeRemote, StreamCodeBadPayload}
	for _, code := range ineligible {
		if FallbackEligible(Stream(code, errors.New("x"))) {
			t.Errorf("code %v must not be fallback eligible", code)
		}
	}
	if FallbackEligible(Network(errors.New("x"))) {
		t.Error("non-stream errors never divert to the fallback path")
	}
}

func TestKindOf(t *testing.T) {
	if KindOf(Remote(503, "down")) != KindRemote {
		t.Error("KindOf must extract the kind")
	}
	if KindOf(errors.New("plain")) != 0 {
		t.Error("KindOf must return zero for untyped errors")
	}
}

func TestUserMessage_NeverLeaksInternals(t *testing.T) {
	raw := errors.New("dial tcp 10.0.0.1:8000: connect: connection refused")
	errs := []error{
		Network(raw),
		Timeout(raw),
		Remote(500, `{"detail":"traceback ..."}`),
		Remote(422, `{"detail":"unprocessable"}`),
		Schema(Issue{Path: "agent", Message: "unknown"}),
		Stream(StreamCodeNetwork, raw),
		Stream(StreamCodeRemote, raw),
		Stream(StreamCodeTimeout, raw),
		errors.New("completely untyped"),
	}
	for _, err := range errs {
		msg := UserMessage(err)
		if msg == "" {
			t.Errorf("UserMessage(%v) is empty", err)
		}
		if strings.Contains(msg, "10.0.0.1") || strings.Contains(msg, "traceback") {
			t.Errorf("UserMessage leaked internals: %q", msg)
		}
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := Network(cause)
	if !errors.Is(err, cause) {
		t.Error("typed errors must preserve the cause chain")
	}
}

func TestSchema_CarriesIssues(t *testing.T) {
	err := Schema(
		Issue{Path: "message", Message: "too long"},
		Issue{Path: "session_id", Message: "not a v4 UUID"},
	)
	var e *Error
	if !errors.As(err, &e) || len(e.Issues) != 2 {
		t.Fatalf("expected 2 issues, got %+v", err)
	}
	text := err.Error()
	if !strings.Contains(text, "message") || !strings.Contains(text, "session_id") {
		t.Errorf("error text must name the violating paths: %q", text)
	}
}
