// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session manages the client session identity.
//
// Exactly one session identifier is active at a time: a v4 UUID created
// once, persisted to the durable client store, and reused across
// reconnects. It never changes once established, barring an explicit
// Reset. Storage failures are swallowed: a private-browsing-style broken
// store must not crash the flow, and a session ID always exists in
// memory regardless.
package session

import (
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Key is the durable-storage key holding the session UUID.
const Key = "session_id"

// Store is the durable key/value storage the session layer persists to.
type Store interface {
	Get(key string) (string, error)
	Put(key, value string) error
}

// Identity returns the active session identifier. It reads the persisted
// value first; if that is absent or not a valid v4 UUID, it mints a new
// one and best-effort persists it.
func Identity(st Store, log *zap.Logger) string {
	if st != nil {
		if v, err := st.Get(Key); err == nil && isUUIDv4(v) {
			return v
		} else if err != nil {
			log.Debug("session read failed, minting fresh id", zap.Error(err))
		}
	}
	return Reset(st, log)
}

// Reset mints a fresh session identifier, best-effort persists it, and
// returns it.
func Reset(st Store, log *zap.Logger) string {
	id := uuid.NewString()
	if st != nil {
		if err := st.Put(Key, id); err != nil {
			log.Debug("session write failed, continuing in memory", zap.Error(err))
		}
	}
	return id
}

// isUUIDv4 reports whether s is a well-formed version-4 UUID.
func isUUIDv4(s string) bool {
	u, err := uuid.Parse(s)
	return err == nil && u.Version() == 4
}
