// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package stream implements the live Server-Sent Events path to the
// OrchestratAI backend: a bounded SSE reader, the event vocabulary, and
// a lifecycle-managed client that guarantees at most one live connection.
package stream

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
)

// MaxEventSize caps a single SSE event (64KB). A peer that exceeds it is
// sending something other than chat events.
const MaxEventSize = 64 * 1024

// ErrEventTooLarge is returned when a single event exceeds MaxEventSize.
var ErrEventTooLarge = errors.New("sse event exceeds size limit")

// =============================================================================
// SSE READER
// =============================================================================

// Reader parses Server-Sent Events from a byte stream.
type Reader struct {
	r *bufio.Reader
}

// NewReader wraps r for SSE parsing.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// ReadEvent returns the next event's name and joined data payload.
// The name is empty for data-only frames. Returns io.EOF at end of
// stream; a pending partial event is delivered before the EOF.
func (s *Reader) ReadEvent() (string, []byte, error) {
	var name string
	var dataLines [][]byte
	size := 0

	for {
		line, err := s.r.ReadBytes('\n')
		if err != nil {
			if err == io.EOF {
				// A final unterminated line still counts.
				if f := bytes.TrimSpace(line); bytes.HasPrefix(f, []byte("data:")) {
					dataLines = append(dataLines, bytes.TrimSpace(f[5:]))
				}
				if len(dataLines) > 0 {
					return name, bytes.Join(dataLines, []byte("\n")), nil
				}
				return "", nil, io.EOF
			}
			return "", nil, err
		}

		size += len(line)
		if size > MaxEventSize {
			return "", nil, fmt.Errorf("%w (%d bytes)", ErrEventTooLarge, size)
		}

		line = bytes.TrimRight(line, "\r\n")

		// Blank line terminates the event.
		if len(line) == 0 {
			if len(dataLines) > 0 || name != "" {
				return name, bytes.Join(dataLines, []byte("\n")), nil
			}
			continue
		}

		switch {
		case bytes.HasPrefix(line, []byte("event:")):
			name = string(bytes.TrimSpace(line[6:]))
		case bytes.HasPrefix(line, []byte("data:")):
			dataLines = append(dataLines, bytes.TrimSpace(line[5:]))
		}
		// id:, retry:, and comment lines are ignored.
	}
}
