// Copyright (C) 2025 Chatgate Labs (eng@chatgate.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package memory implements the tiered conversational-memory engine: the
// per-session memory store, the fact-diff engine that maintains the durable
// "base truth" fact list, the per-session lock serializing mutations, and
// the turn summarizer orchestrator.
package memory

import (
	"strings"
	"time"
	"unicode/utf8"
)

// Role of a raw conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// RawMessage is one message in the rolling raw window.
type RawMessage struct {
	Role    Role      `json:"role"`
	Content string    `json:"content"`
	TS      time.Time `json:"ts"`
}

// TurnSummary is the condensed record of one user/assistant exchange.
// Turn numbers are strictly increasing by 1 within a session.
type TurnSummary struct {
	Turn             int       `json:"turn"`
	UserSummary      string    `json:"user_summary"`
	AssistantSummary string    `json:"assistant_summary"`
	TS               time.Time `json:"ts"`
}

// BaseTruthDiff is a structured add/update/remove instruction set produced
// by the summarizer and consumed by ApplyDiff. Never persisted as-is.
type BaseTruthDiff struct {
	Add    []string `json:"add"`
	Update []string `json:"update"`
	Remove []string `json:"remove"`
}

// Empty reports whether the diff carries no instructions.
func (d BaseTruthDiff) Empty() bool {
	return len(d.Add) == 0 && len(d.Update) == 0 && len(d.Remove) == 0
}

// State is the full memory state of one (user, session) pair.
//
// Invariants:
//   - BaseTruth has no two entries with the same lowercase form.
//   - TurnLog turn numbers increase strictly by 1.
//   - RawWindow length is always even (user/assistant pairs) and capped.
//
// Mutated only through Store methods, which the caller serializes per key
// via SessionLocks.
type State struct {
	Key         string
	SessionID   string
	UserID      string
	ExpiresAt   time.Time
	Revision    int64
	BaseTruth   []string
	TurnLog     []TurnSummary
	RawWindow   []RawMessage
	LastUpdated time.Time
}

// Limits bounds every entity the store holds. All values are clamped into
// their documented ranges by Normalize, so a zero Limits is usable.
type Limits struct {
	// MaxBaseTruthEntries caps the durable fact list. Range [1, 2000].
	MaxBaseTruthEntries int
	// MaxTurnLogEntries caps the turn summary log. Range [1, 5000].
	MaxTurnLogEntries int
	// MaxRawWindowMessages caps the rolling raw window; always even in
	// effect because exchanges append in pairs. Range [2, 200].
	MaxRawWindowMessages int
	// MaxFactChars truncates each base-truth fact. Range [8, 10000].
	MaxFactChars int
	// MaxSummaryChars truncates each turn summary. Range [8, 12000].
	MaxSummaryChars int
	// MaxRawMessageChars truncates each raw message. Range [32, 100000].
	MaxRawMessageChars int
}

// DefaultLimits are the production defaults.
func DefaultLimits() Limits {
	return Limits{
		MaxBaseTruthEntries:  120,
		MaxTurnLogEntries:    300,
		MaxRawWindowMessages: 12,
		MaxFactChars:         240,
		MaxSummaryChars:      360,
		MaxRawMessageChars:   4000,
	}
}

// Normalize clamps every limit into its documented range, filling zero
// values from the defaults.
func (l Limits) Normalize() Limits {
	def := DefaultLimits()
	return Limits{
		MaxBaseTruthEntries:  clampInt(orDefault(l.MaxBaseTruthEntries, def.MaxBaseTruthEntries), 1, 2000),
		MaxTurnLogEntries:    clampInt(orDefault(l.MaxTurnLogEntries, def.MaxTurnLogEntries), 1, 5000),
		MaxRawWindowMessages: clampInt(orDefault(l.MaxRawWindowMessages, def.MaxRawWindowMessages), 2, 200),
		MaxFactChars:         clampInt(orDefault(l.MaxFactChars, def.MaxFactChars), 8, 10000),
		MaxSummaryChars:      clampInt(orDefault(l.MaxSummaryChars, def.MaxSummaryChars), 8, 12000),
		MaxRawMessageChars:   clampInt(orDefault(l.MaxRawMessageChars, def.MaxRawMessageChars), 32, 100000),
	}
}

// Key builds the store key for a (user, session) pair.
func Key(sessionID, userID string) string {
	return strings.TrimSpace(userID) + "::" + strings.TrimSpace(sessionID)
}

func clampInt(value, min, max int) int {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

func orDefault(value, fallback int) int {
	if value == 0 {
		return fallback
	}
	return value
}

// normalizeText collapses whitespace and truncates to at most maxChars
// bytes. The cut backs off to a rune boundary so truncation never leaves
// invalid UTF-8 in stored facts or summaries.
func normalizeText(value string, maxChars int) string {
	collapsed := strings.Join(strings.Fields(value), " ")
	if len(collapsed) <= maxChars {
		return collapsed
	}
	cut := maxChars
	for cut > 0 && !utf8.RuneStart(collapsed[cut]) {
		cut--
	}
	return collapsed[:cut]
}

// dedupeFold removes case-insensitive duplicates preserving first-seen order.
func dedupeFold(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	deduped := values[:0:0]
	for _, value := range values {
		key := strings.ToLower(value)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		deduped = append(deduped, value)
	}
	return deduped
}

// trimOldest drops leading entries until len <= max (FIFO eviction: the
// most recently asserted entries survive).
func trimOldest[T any](values []T, max int) []T {
	if len(values) <= max {
		return values
	}
	return values[len(values)-max:]
}
