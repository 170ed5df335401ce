// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"errors"
	"io"
	"strings"
	"testing"
)

func TestReadEvent_NamedAndDataOnly(t *testing.T) {
	input := "event: message_chunk\ndata: {\"content\":\"a\"}\n\n" +
		"data: {\"type\":\"done\"}\n\n"
	r := NewReader(strings.NewReader(input))

	name, data, err := r.ReadEvent()
	if err != nil {
		t.Fatal(err)
	}
	if name != "message_chunk" || string(data) != `{"content":"a"}` {
		t.Errorf("unexpected first event: %q %s", name, data)
	}

	name, data, err = r.ReadEvent()
	if err != nil {
		t.Fatal(err)
	}
	if name != "" || string(data) != `{"type":"done"}` {
		t.Errorf("unexpected second event: %q %s", name, data)
	}

	if _, _, err := r.ReadEvent(); err != io.EOF {
		t.Errorf("expected EOF, got %v", err)
	}
}

func TestReadEvent_MultiLineData(t *testing.T) {
	input := "data: line1\ndata: line2\n\n"
	r := NewReader(strings.NewReader(input))
	_, data, err := r.ReadEvent()
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "line1\nline2" {
		t.Errorf("multi-line data not joined: %q", data)
	}
}

func TestReadEvent_IgnoresCommentsAndIDs(t *testing.T) {
	input := ": keepalive\nid: 42\nretry: 1000\ndata: x\n\n"
	r := NewReader(strings.NewReader(input))
	_, data, err := r.ReadEvent()
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "x" {
		t.Errorf("expected x, got %q", data)
	}
}

func TestReadEvent_PartialEventBeforeEOF(t *testing.T) {
	input := "data: tail" // no trailing blank line
	r := NewReader(strings.NewReader(input))
	_, data, err := r.ReadEvent()
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "tail" {
		t.Errorf("expected pending data before EOF, got %q", data)
	}
}

func TestReadEvent_SizeCap(t *testing.T) {
	huge := "data: " + strings.Repeat("a", MaxEventSize+1) + "\n\n"
	r := NewReader(strings.NewReader(huge))
	_, _, err := r.ReadEvent()
	if !errors.Is(err, ErrEventTooLarge) {
		t.Errorf("expected ErrEventTooLarge, got %v", err)
	}
}
