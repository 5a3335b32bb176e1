// Copyright (C) 2025 Chatgate Labs (eng@chatgate.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package usage persists per-turn token accounting in an embedded Badger
// store. Events are append-only; aggregation walks the keyspace on demand.
package usage

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"
)

// =============================================================================
// Usage Store
// =============================================================================

const eventKeyPrefix = "usage:event:"

// defaultRetention bounds how long an event stays queryable. Badger's TTL
// handles expiry so no sweeper is needed.
const defaultRetention = 90 * 24 * time.Hour

// Event is one chat turn's token accounting.
type Event struct {
	RequestID    string    `json:"request_id"`
	UserID       string    `json:"user_id"`
	Username     string    `json:"username"`
	UseCaseID    string    `json:"use_case_id"`
	MemoryMode   string    `json:"memory_mode"`
	Model        string    `json:"model"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	TS           time.Time `json:"ts"`
}

// UserTotals aggregates one user's consumption.
type UserTotals struct {
	UserID       string `json:"user_id"`
	Username     string `json:"username"`
	Turns        int    `json:"turns"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
}

// Report is the admin-facing aggregate view.
type Report struct {
	Since        time.Time      `json:"since"`
	Turns        int            `json:"turns"`
	InputTokens  int            `json:"input_tokens"`
	OutputTokens int            `json:"output_tokens"`
	ByUser       []UserTotals   `json:"by_user"`
	ByMode       map[string]int `json:"turns_by_mode"`
}

// Store wraps the Badger handle for usage events.
type Store struct {
	db        *badger.DB
	retention time.Duration
}

// Open opens (or creates) the usage database at dir. An empty dir opens an
// in-memory database, used by tests and deployments that opt out of
// persistent accounting.
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open usage store: %w", err)
	}
	return &Store{db: db, retention: defaultRetention}, nil
}

// Close flushes and closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record appends one event. Accounting is best-effort on the serving path,
// so callers log the returned error rather than failing the turn.
func (s *Store) Record(event Event) error {
	if event.TS.IsZero() {
		event.TS = time.Now().UTC()
	}
	if strings.TrimSpace(event.RequestID) == "" {
		return fmt.Errorf("usage event missing request id")
	}

	raw, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode usage event: %w", err)
	}

	// Timestamp-prefixed keys keep the keyspace in event order, which lets
	// Aggregate stop early once it walks past the window.
	key := fmt.Sprintf("%s%s:%s", eventKeyPrefix, event.TS.UTC().Format(time.RFC3339Nano), event.RequestID)

	err = s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(key), raw).WithTTL(s.retention)
		return txn.SetEntry(entry)
	})
	if err != nil {
		return fmt.Errorf("write usage event: %w", err)
	}
	return nil
}

// Aggregate walks every event at or after since and folds it into a
// report. Undecodable entries are skipped with a warning so one corrupt
// row cannot take down the admin view.
func (s *Store) Aggregate(since time.Time) (Report, error) {
	report := Report{
		Since:  since.UTC(),
		ByMode: make(map[string]int),
	}
	perUser := make(map[string]*UserTotals)

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(eventKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		start := []byte(eventKeyPrefix + since.UTC().Format(time.RFC3339Nano))
		for it.Seek(start); it.ValidForPrefix([]byte(eventKeyPrefix)); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var event Event
				if err := json.Unmarshal(val, &event); err != nil {
					slog.Warn("Skipping undecodable usage event", "key", string(it.Item().Key()), "error", err)
					return nil
				}
				foldEvent(&report, perUser, event)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Report{}, fmt.Errorf("aggregate usage: %w", err)
	}

	report.ByUser = sortedTotals(perUser)
	return report, nil
}

func foldEvent(report *Report, perUser map[string]*UserTotals, event Event) {
	report.Turns++
	report.InputTokens += event.InputTokens
	report.OutputTokens += event.OutputTokens
	report.ByMode[event.MemoryMode]++

	totals, ok := perUser[event.UserID]
	if !ok {
		totals = &UserTotals{UserID: event.UserID, Username: event.Username}
		perUser[event.UserID] = totals
	}
	totals.Turns++
	totals.InputTokens += event.InputTokens
	totals.OutputTokens += event.OutputTokens
}

func sortedTotals(perUser map[string]*UserTotals) []UserTotals {
	out := make([]UserTotals, 0, len(perUser))
	for _, totals := range perUser {
		out = append(out, *totals)
	}
	// Heaviest consumers first; ties break on user id for stable output.
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		aTok, bTok := a.InputTokens+a.OutputTokens, b.InputTokens+b.OutputTokens
		if aTok != bTok {
			return aTok > bTok
		}
		return a.UserID < b.UserID
	})
	return out
}
