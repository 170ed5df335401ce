// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import "strings"

// =============================================================================
// LOG TYPES
// =============================================================================

// LogType categorizes a retrieval log entry.
type LogType string

const (
	LogRouting      LogType = "routing"
	LogVectorSearch LogType = "vector_search"
	LogCache        LogType = "cache"
	LogDocuments    LogType = "documents"
)

// LogStatus is the outcome level of a retrieval operation.
type LogStatus string

const (
	LogSuccess LogStatus = "success"
	LogWarning LogStatus = "warning"
	LogError   LogStatus = "error"
)

// ParseLogStatus normalizes a wire value; unrecognized values are
// preserved (logs are forwarded verbatim) but ok=false lets callers
// note the anomaly.
func ParseLogStatus(s string) (LogStatus, bool) {
	st := LogStatus(strings.ToLower(strings.TrimSpace(s)))
	switch st {
	case LogSuccess, LogWarning, LogError:
		return st, true
	}
	return st, false
}

// =============================================================================
// RETRIEVAL LOG
// =============================================================================

// DocumentChunk is a vector-store chunk attached to a retrieval log.
type DocumentChunk struct {
	ID         int            `json:"id"`
	Content    string         `json:"content"`
	Similarity float64        `json:"similarity"`
	Source     string         `json:"source"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// RetrievalLog is a structured record of an internal retrieval, caching,
// or routing operation, surfaced for transparency. Entries are append-only:
// never mutated after insertion, only appended or cleared in bulk.
type RetrievalLog struct {
	ID        string          `json:"id"`
	Type      LogType         `json:"type"`
	Title     string          `json:"title"`
	Data      map[string]any  `json:"data"`
	Timestamp string          `json:"timestamp"` // ISO 8601, passed through verbatim
	Status    LogStatus       `json:"status"`
	Chunks    []DocumentChunk `json:"chunks,omitempty"`
}
