// Copyright (C) 2025 Chatgate Labs (eng@chatgate.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// =============================================================================
// Memory Engine
// =============================================================================

// CommitOutcome labels how an async turn commit ended, for observability.
type CommitOutcome string

const (
	CommitOutcomeModel    CommitOutcome = "model"
	CommitOutcomeFallback CommitOutcome = "fallback"
	CommitOutcomeError    CommitOutcome = "error"
)

// CommitInput is one completed turn handed to the engine for persistence.
type CommitInput struct {
	SessionID        string
	UserID           string
	UserMessage      string
	AssistantMessage string
	UserTS           time.Time
	AssistantTS      time.Time
	ExpiresAt        time.Time
}

// Engine owns the post-turn memory pipeline: summarize the exchange,
// fold the fact diff into base truth, append the turn summary and the raw
// exchange. All state mutations for one session run inside that session's
// critical section so concurrent turns cannot interleave partial writes.
type Engine struct {
	store      Store
	locks      *SessionLocks
	summarizer *Summarizer
	limits     Limits

	// Observe, when set, receives the outcome of each commit. Used to feed
	// the memory_commits_total metric without importing the metrics package.
	Observe func(outcome CommitOutcome, elapsed time.Duration)

	// CommitTimeout bounds the summarizer call made off the request path.
	CommitTimeout time.Duration

	wg sync.WaitGroup
}

// NewEngine assembles the memory pipeline.
func NewEngine(store Store, locks *SessionLocks, summarizer *Summarizer, limits Limits) *Engine {
	return &Engine{
		store:         store,
		locks:         locks,
		summarizer:    summarizer,
		limits:        limits.Normalize(),
		CommitTimeout: 30 * time.Second,
	}
}

// CommitTurnAsync persists the turn on a detached goroutine. The response
// has already been sent when this runs; failures are logged and counted
// but never surface to the client.
func (e *Engine) CommitTurnAsync(input CommitInput) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				slog.Error("Memory commit panicked", "session_suffix", sessionSuffix(input.SessionID), "panic", r)
				e.observe(CommitOutcomeError, 0)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), e.CommitTimeout)
		defer cancel()
		e.commit(ctx, input)
	}()
}

// CommitTurn persists the turn synchronously. Exposed for callers that need
// the commit ordered before their next read, such as the eviction sweeper's
// tests and the reset path.
func (e *Engine) CommitTurn(ctx context.Context, input CommitInput) {
	e.commit(ctx, input)
}

// Wait blocks until every in-flight async commit has finished.
func (e *Engine) Wait() {
	e.wg.Wait()
}

func (e *Engine) commit(ctx context.Context, input CommitInput) {
	start := time.Now()

	err := e.locks.With(input.SessionID, input.UserID, func() error {
		state, err := e.store.GetOrCreate(input.SessionID, input.UserID, input.ExpiresAt)
		if err != nil {
			return err
		}

		result := e.summarizer.SummarizeTurn(ctx, input.UserMessage, input.AssistantMessage, state.BaseTruth)

		if !result.Diff.Empty() {
			next, stats := ApplyDiff(state.BaseTruth, result.Diff, DiffOptions{
				MaxFactChars:        e.limits.MaxFactChars,
				MaxBaseTruthEntries: e.limits.MaxBaseTruthEntries,
			})
			if _, err := e.store.SetBaseTruth(input.SessionID, input.UserID, next); err != nil {
				return err
			}
			slog.Debug("Base truth updated",
				"session_suffix", sessionSuffix(input.SessionID),
				"removed", stats.Removed, "updated", stats.Updated, "added", stats.Added)
		}

		if _, err := e.store.AppendTurnSummary(input.SessionID, input.UserID, TurnInput{
			UserSummary:      result.UserSummary,
			AssistantSummary: result.AssistantSummary,
			TS:               input.AssistantTS,
		}); err != nil {
			return err
		}

		if err := e.store.AppendRawExchange(input.SessionID, input.UserID, Exchange{
			UserMessage:      input.UserMessage,
			AssistantMessage: input.AssistantMessage,
			UserTS:           input.UserTS,
			AssistantTS:      input.AssistantTS,
		}); err != nil {
			return err
		}

		e.observe(outcomeForMode(result.Mode), time.Since(start))
		return nil
	})
	if err != nil {
		slog.Error("Memory commit failed", "session_suffix", sessionSuffix(input.SessionID), "error", err)
		e.observe(CommitOutcomeError, time.Since(start))
	}
}

func (e *Engine) observe(outcome CommitOutcome, elapsed time.Duration) {
	if e.Observe != nil {
		e.Observe(outcome, elapsed)
	}
}

func outcomeForMode(mode SummarizeMode) CommitOutcome {
	if mode == SummarizeModeFallback {
		return CommitOutcomeFallback
	}
	return CommitOutcomeModel
}

// sessionSuffix keeps session identifiers out of logs while leaving enough
// to correlate entries for one session.
func sessionSuffix(sessionID string) string {
	if len(sessionID) <= 6 {
		return sessionID
	}
	return sessionID[len(sessionID)-6:]
}
