// Copyright (C) 2025 Chatgate Labs (eng@chatgate.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package memory

import "sync"

// SessionLocks serializes memory mutations per (user, session) key.
//
// # Description
//
// Two in-flight requests for the same session must not interleave their
// read-modify-write sequences on memory state (both would read the same
// base truth, each append independently, and one update would be lost).
// With executes fn after every earlier arrival for the same key has
// finished, in arrival order; keys that differ proceed fully in parallel.
//
// Each key holds a chain of gate channels, the Go rendering of a promise
// chain. The entry is reference-counted and deleted when its queue drains,
// so the table does not grow with historical session count.
//
// # Thread Safety
//
// Safe for concurrent use.
type SessionLocks struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	tail    chan struct{}
	waiters int
}

// NewSessionLocks creates an empty lock table.
func NewSessionLocks() *SessionLocks {
	return &SessionLocks{entries: make(map[string]*lockEntry)}
}

// With runs fn exclusively for the (sessionID, userID) key.
//
// Blocks until every earlier With call for the same key has returned.
// The error from fn is returned unchanged.
func (l *SessionLocks) With(sessionID, userID string, fn func() error) error {
	key := Key(sessionID, userID)
	gate := make(chan struct{})

	l.mu.Lock()
	entry, ok := l.entries[key]
	if !ok {
		entry = &lockEntry{tail: closedGate()}
		l.entries[key] = entry
	}
	prev := entry.tail
	entry.tail = gate
	entry.waiters++
	l.mu.Unlock()

	<-prev

	defer func() {
		close(gate)

		l.mu.Lock()
		entry.waiters--
		if entry.waiters == 0 {
			delete(l.entries, key)
		}
		l.mu.Unlock()
	}()

	return fn()
}

// Active returns the number of keys with in-flight or queued work.
func (l *SessionLocks) Active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func closedGate() chan struct{} {
	gate := make(chan struct{})
	close(gate)
	return gate
}
