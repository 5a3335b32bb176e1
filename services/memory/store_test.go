// Copyright (C) 2025 Chatgate Labs (eng@chatgate.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package memory

import (
	"fmt"
	"testing"
	"time"
)

func testClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

// TestMemStore_GetOrCreate_ExtendsExpiryNeverShortens tests that a second
// GetOrCreate with an earlier expiry keeps the later one.
func TestMemStore_GetOrCreate_ExtendsExpiryNeverShortens(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := NewMemStore(DefaultLimits()).WithClock(testClock(now))

	late := now.Add(2 * time.Hour)
	early := now.Add(1 * time.Hour)

	if _, err := store.GetOrCreate("session-aaaa", "user-1", late); err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	state, err := store.GetOrCreate("session-aaaa", "user-1", early)
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}

	if !state.ExpiresAt.Equal(late) {
		t.Errorf("expiry = %v, want %v (never shortened)", state.ExpiresAt, late)
	}
}

// TestMemStore_Get_ExpiredStateIsUnreachable tests lazy expiry on read.
func TestMemStore_Get_ExpiredStateIsUnreachable(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := now
	store := NewMemStore(DefaultLimits()).WithClock(func() time.Time { return clock })

	if _, err := store.GetOrCreate("session-aaaa", "user-1", now.Add(time.Hour)); err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}

	clock = now.Add(2 * time.Hour)
	if _, ok := store.Get("session-aaaa", "user-1"); ok {
		t.Error("expired state should be unreachable via Get")
	}
	if stats := store.Stats(); stats.Sessions != 0 {
		t.Errorf("expired state should have been deleted, sessions = %d", stats.Sessions)
	}
}

// TestMemStore_EvictExpired_SweepsOnlyPastExpiry tests the bulk sweep.
func TestMemStore_EvictExpired_SweepsOnlyPastExpiry(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := NewMemStore(DefaultLimits()).WithClock(testClock(now))

	if _, err := store.GetOrCreate("session-dead", "user-1", now.Add(time.Minute)); err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	if _, err := store.GetOrCreate("session-live", "user-1", now.Add(time.Hour)); err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}

	evicted := store.EvictExpired(now.Add(30 * time.Minute))

	if evicted != 1 {
		t.Errorf("evicted = %d, want 1", evicted)
	}
	if _, ok := store.Get("session-live", "user-1"); !ok {
		t.Error("unexpired state must survive the sweep")
	}
}

// TestMemStore_Clear_RemovesRegardlessOfExpiry tests unconditional reset.
func TestMemStore_Clear_RemovesRegardlessOfExpiry(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := NewMemStore(DefaultLimits()).WithClock(testClock(now))

	if _, err := store.GetOrCreate("session-aaaa", "user-1", now.Add(time.Hour)); err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}

	if !store.Clear("session-aaaa", "user-1") {
		t.Error("Clear should report state removed")
	}
	if store.Clear("session-aaaa", "user-1") {
		t.Error("second Clear should report nothing removed")
	}
	if _, ok := store.Get("session-aaaa", "user-1"); ok {
		t.Error("cleared state should be unreachable")
	}
}

// TestMemStore_AppendTurnSummary_TurnNumbersIncreaseByOne tests the turn
// counter invariant.
func TestMemStore_AppendTurnSummary_TurnNumbersIncreaseByOne(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := NewMemStore(DefaultLimits()).WithClock(testClock(now))

	if _, err := store.GetOrCreate("session-aaaa", "user-1", now.Add(time.Hour)); err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}

	for i := 1; i <= 3; i++ {
		summary, err := store.AppendTurnSummary("session-aaaa", "user-1", TurnInput{
			UserSummary:      fmt.Sprintf("question %d", i),
			AssistantSummary: fmt.Sprintf("answer %d", i),
			TS:               now,
		})
		if err != nil {
			t.Fatalf("AppendTurnSummary failed: %v", err)
		}
		if summary.Turn != i {
			t.Errorf("turn = %d, want %d", summary.Turn, i)
		}
	}
}

// TestMemStore_AppendTurnSummary_TrimsOldestAtCap tests FIFO trimming of
// the turn log.
func TestMemStore_AppendTurnSummary_TrimsOldestAtCap(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	limits := DefaultLimits()
	limits.MaxTurnLogEntries = 3
	store := NewMemStore(limits).WithClock(testClock(now))

	if _, err := store.GetOrCreate("session-aaaa", "user-1", now.Add(time.Hour)); err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	for i := 1; i <= 5; i++ {
		if _, err := store.AppendTurnSummary("session-aaaa", "user-1", TurnInput{
			UserSummary:      fmt.Sprintf("q%d", i),
			AssistantSummary: fmt.Sprintf("a%d", i),
			TS:               now,
		}); err != nil {
			t.Fatalf("AppendTurnSummary failed: %v", err)
		}
	}

	state, ok := store.Get("session-aaaa", "user-1")
	if !ok {
		t.Fatal("state missing")
	}
	if len(state.TurnLog) != 3 {
		t.Fatalf("turn log length = %d, want 3", len(state.TurnLog))
	}
	if state.TurnLog[0].Turn != 3 || state.TurnLog[2].Turn != 5 {
		t.Errorf("oldest turns should be dropped first, got %d..%d",
			state.TurnLog[0].Turn, state.TurnLog[2].Turn)
	}
}

// TestMemStore_AppendRawExchange_WindowStaysEvenAndCapped tests that the
// raw window holds whole exchanges only.
func TestMemStore_AppendRawExchange_WindowStaysEvenAndCapped(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	limits := DefaultLimits()
	limits.MaxRawWindowMessages = 4
	store := NewMemStore(limits).WithClock(testClock(now))

	if _, err := store.GetOrCreate("session-aaaa", "user-1", now.Add(time.Hour)); err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	for i := 0; i < 4; i++ {
		if err := store.AppendRawExchange("session-aaaa", "user-1", Exchange{
			UserMessage:      fmt.Sprintf("user %d", i),
			AssistantMessage: fmt.Sprintf("assistant %d", i),
			UserTS:           now,
			AssistantTS:      now,
		}); err != nil {
			t.Fatalf("AppendRawExchange failed: %v", err)
		}
	}

	state, _ := store.Get("session-aaaa", "user-1")
	if len(state.RawWindow)%2 != 0 {
		t.Errorf("raw window length %d is odd", len(state.RawWindow))
	}
	if len(state.RawWindow) != 4 {
		t.Errorf("raw window length = %d, want 4", len(state.RawWindow))
	}
	if state.RawWindow[0].Content != "user 2" {
		t.Errorf("oldest exchange should be evicted, window starts with %q", state.RawWindow[0].Content)
	}
}

// TestMemStore_Mutations_BumpRevision tests the revision counter.
func TestMemStore_Mutations_BumpRevision(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := NewMemStore(DefaultLimits()).WithClock(testClock(now))

	initial, err := store.GetOrCreate("session-aaaa", "user-1", now.Add(time.Hour))
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}

	if _, err := store.SetBaseTruth("session-aaaa", "user-1", []string{"Language: Go"}); err != nil {
		t.Fatalf("SetBaseTruth failed: %v", err)
	}

	state, _ := store.Get("session-aaaa", "user-1")
	if state.Revision <= initial.Revision {
		t.Errorf("revision did not advance: %d -> %d", initial.Revision, state.Revision)
	}
}

// TestMemStore_Get_ReturnsSnapshot tests that callers cannot mutate stored
// state through the returned value.
func TestMemStore_Get_ReturnsSnapshot(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := NewMemStore(DefaultLimits()).WithClock(testClock(now))

	if _, err := store.GetOrCreate("session-aaaa", "user-1", now.Add(time.Hour)); err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	if _, err := store.SetBaseTruth("session-aaaa", "user-1", []string{"Language: Go"}); err != nil {
		t.Fatalf("SetBaseTruth failed: %v", err)
	}

	first, _ := store.Get("session-aaaa", "user-1")
	first.BaseTruth[0] = "tampered"

	second, _ := store.Get("session-aaaa", "user-1")
	if second.BaseTruth[0] != "Language: Go" {
		t.Errorf("stored fact was mutated through a snapshot: %q", second.BaseTruth[0])
	}
}
