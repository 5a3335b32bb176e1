// Copyright (C) 2025 Chatgate Labs (eng@chatgate.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package memory

import (
	"errors"
	"sync"
	"time"
)

// ErrNoState is returned by mutators when no memory state exists for the
// (user, session) key; the caller should GetOrCreate first.
var ErrNoState = errors.New("no memory state for session")

// TurnInput is one turn's summaries to append.
type TurnInput struct {
	UserSummary      string
	AssistantSummary string
	TS               time.Time
}

// Exchange is one raw user/assistant pair to append to the rolling window.
type Exchange struct {
	UserMessage      string
	AssistantMessage string
	UserTS           time.Time
	AssistantTS      time.Time
}

// StoreStats describes the store's current footprint.
type StoreStats struct {
	Sessions          int
	BaseTruthEntries  int
	TurnLogEntries    int
	RawWindowMessages int
}

// Store is the keyed table of per-(user, session) conversational state.
//
// # Description
//
// The shipped implementation is an in-process map (NewMemStore); the
// interface exists so a horizontally-scaled deployment can substitute an
// external key-value store without touching callers. Memory state is NOT
// coherent across independently-scaled instances with the in-process
// implementation; that is an accepted deployment caveat, not a bug.
//
// Mutators return snapshots, never internal pointers; callers serialize
// same-key mutation sequences through SessionLocks.
type Store interface {
	// GetOrCreate returns the state for the key, creating it when absent or
	// expired. An existing state's expiry is extended, never shortened.
	GetOrCreate(sessionID, userID string, expiresAt time.Time) (State, error)

	// Get returns the state if present and unexpired. An expired state is
	// deleted lazily and reported as absent.
	Get(sessionID, userID string) (State, bool)

	// SetBaseTruth replaces the fact list, clamped and deduplicated.
	SetBaseTruth(sessionID, userID string, facts []string) ([]string, error)

	// AppendTurnSummary appends one turn summary with the next turn number.
	AppendTurnSummary(sessionID, userID string, turn TurnInput) (TurnSummary, error)

	// AppendRawExchange appends a user/assistant pair to the rolling window.
	AppendRawExchange(sessionID, userID string, exchange Exchange) error

	// Clear removes the state unconditionally (logout/reset).
	Clear(sessionID, userID string) bool

	// EvictExpired sweeps every state whose expiry has passed.
	EvictExpired(now time.Time) int

	// Stats reports the store footprint.
	Stats() StoreStats
}

// MemStore is the in-process Store implementation.
//
// # Thread Safety
//
// All methods are safe for concurrent use; a single mutex guards the map.
// Serialization of multi-step mutation sequences is the caller's job via
// SessionLocks.
type MemStore struct {
	limits Limits
	now    func() time.Time

	mu       sync.Mutex
	sessions map[string]*State
}

var _ Store = (*MemStore)(nil)

// NewMemStore creates an empty store with the given limits.
func NewMemStore(limits Limits) *MemStore {
	return &MemStore{
		limits:   limits.Normalize(),
		now:      time.Now,
		sessions: make(map[string]*State),
	}
}

// WithClock overrides the clock for tests.
func (s *MemStore) WithClock(now func() time.Time) *MemStore {
	s.now = now
	return s
}

func (s *MemStore) GetOrCreate(sessionID, userID string, expiresAt time.Time) (State, error) {
	if err := requireIdentifiers(sessionID, userID); err != nil {
		return State{}, err
	}

	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.evictLocked(now)

	// Never create a state that is already (or immediately) expired.
	safeExpiry := expiresAt
	if minExpiry := now.Add(time.Second); safeExpiry.Before(minExpiry) {
		safeExpiry = minExpiry
	}

	key := Key(sessionID, userID)
	if existing, ok := s.sessions[key]; ok && existing.ExpiresAt.After(now) {
		if safeExpiry.After(existing.ExpiresAt) {
			existing.ExpiresAt = safeExpiry
		}
		return snapshot(existing), nil
	}

	state := &State{
		Key:         key,
		SessionID:   sessionID,
		UserID:      userID,
		ExpiresAt:   safeExpiry,
		LastUpdated: now,
	}
	s.sessions[key] = state
	return snapshot(state), nil
}

func (s *MemStore) Get(sessionID, userID string) (State, bool) {
	if requireIdentifiers(sessionID, userID) != nil {
		return State{}, false
	}

	now := s.now()
	key := Key(sessionID, userID)

	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.sessions[key]
	if !ok {
		return State{}, false
	}
	if !state.ExpiresAt.After(now) {
		delete(s.sessions, key)
		return State{}, false
	}
	return snapshot(state), true
}

func (s *MemStore) SetBaseTruth(sessionID, userID string, facts []string) ([]string, error) {
	return s.mutate(sessionID, userID, func(state *State) ([]string, error) {
		normalized := make([]string, 0, len(facts))
		for _, fact := range facts {
			if clean := normalizeText(fact, s.limits.MaxFactChars); clean != "" {
				normalized = append(normalized, clean)
			}
		}
		state.BaseTruth = trimOldest(dedupeFold(normalized), s.limits.MaxBaseTruthEntries)
		return append([]string(nil), state.BaseTruth...), nil
	})
}

func (s *MemStore) AppendTurnSummary(sessionID, userID string, turn TurnInput) (TurnSummary, error) {
	var appended TurnSummary
	_, err := s.mutate(sessionID, userID, func(state *State) ([]string, error) {
		nextTurn := 1
		if n := len(state.TurnLog); n > 0 {
			nextTurn = state.TurnLog[n-1].Turn + 1
		}
		appended = TurnSummary{
			Turn:             nextTurn,
			UserSummary:      normalizeText(turn.UserSummary, s.limits.MaxSummaryChars),
			AssistantSummary: normalizeText(turn.AssistantSummary, s.limits.MaxSummaryChars),
			TS:               normalizeTS(turn.TS, s.now),
		}
		state.TurnLog = trimOldest(append(state.TurnLog, appended), s.limits.MaxTurnLogEntries)
		return nil, nil
	})
	return appended, err
}

func (s *MemStore) AppendRawExchange(sessionID, userID string, exchange Exchange) error {
	_, err := s.mutate(sessionID, userID, func(state *State) ([]string, error) {
		state.RawWindow = append(state.RawWindow,
			RawMessage{
				Role:    RoleUser,
				Content: normalizeText(exchange.UserMessage, s.limits.MaxRawMessageChars),
				TS:      normalizeTS(exchange.UserTS, s.now),
			},
			RawMessage{
				Role:    RoleAssistant,
				Content: normalizeText(exchange.AssistantMessage, s.limits.MaxRawMessageChars),
				TS:      normalizeTS(exchange.AssistantTS, s.now),
			},
		)
		// Trim in even steps so the window stays user/assistant paired.
		max := s.limits.MaxRawWindowMessages - s.limits.MaxRawWindowMessages%2
		state.RawWindow = trimOldest(state.RawWindow, max)
		return nil, nil
	})
	return err
}

func (s *MemStore) Clear(sessionID, userID string) bool {
	if requireIdentifiers(sessionID, userID) != nil {
		return false
	}

	key := Key(sessionID, userID)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[key]; !ok {
		return false
	}
	delete(s.sessions, key)
	return true
}

func (s *MemStore) EvictExpired(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.evictLocked(now)
}

func (s *MemStore) Stats() StoreStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := StoreStats{Sessions: len(s.sessions)}
	for _, state := range s.sessions {
		stats.BaseTruthEntries += len(state.BaseTruth)
		stats.TurnLogEntries += len(state.TurnLog)
		stats.RawWindowMessages += len(state.RawWindow)
	}
	return stats
}

// mutate runs fn on the live state under the store mutex, bumping the
// revision counter and LastUpdated on success.
func (s *MemStore) mutate(sessionID, userID string, fn func(*State) ([]string, error)) ([]string, error) {
	if err := requireIdentifiers(sessionID, userID); err != nil {
		return nil, err
	}

	key := Key(sessionID, userID)

	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.sessions[key]
	if !ok || !state.ExpiresAt.After(s.now()) {
		return nil, ErrNoState
	}

	result, err := fn(state)
	if err != nil {
		return nil, err
	}

	state.Revision++
	state.LastUpdated = s.now()
	return result, nil
}

func (s *MemStore) evictLocked(now time.Time) int {
	removed := 0
	for key, state := range s.sessions {
		if !state.ExpiresAt.After(now) {
			delete(s.sessions, key)
			removed++
		}
	}
	return removed
}

func requireIdentifiers(sessionID, userID string) error {
	if sessionID == "" || userID == "" {
		return errors.New("sessionID and userID are required")
	}
	return nil
}

func normalizeTS(ts time.Time, now func() time.Time) time.Time {
	if ts.IsZero() {
		return now()
	}
	return ts
}

// snapshot deep-copies a state so callers never alias internal slices.
func snapshot(state *State) State {
	copied := *state
	copied.BaseTruth = append([]string(nil), state.BaseTruth...)
	copied.TurnLog = append([]TurnSummary(nil), state.TurnLog...)
	copied.RawWindow = append([]RawMessage(nil), state.RawWindow...)
	return copied
}
