// Copyright (C) 2025 Chatgate Labs (eng@chatgate.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/codes"

	"github.com/chatgateco/chatgate/services/access"
	"github.com/chatgateco/chatgate/services/gateway/datatypes"
	"github.com/chatgateco/chatgate/services/gateway/middleware"
	"github.com/chatgateco/chatgate/services/llm"
	"github.com/chatgateco/chatgate/services/memory"
	"github.com/chatgateco/chatgate/services/prompts"
	"github.com/chatgateco/chatgate/services/usage"
	"github.com/chatgateco/chatgate/services/uselock"
)

// turnLock is the resolved lock state for one respond call.
type turnLock struct {
	UseCaseID  string
	MemoryMode memory.Mode
	Token      string
	Minted     bool
}

// HandleRespond runs one full conversational turn.
//
// # Description
//
// Order of operations: payload validation, session match, lock
// read-or-mint, memory-aware system prompt assembly, upstream completion,
// best-effort usage accounting, async memory commit. Every rejection
// happens before any state is written; the memory commit runs after the
// response and can never fail the turn.
func HandleRespond(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), "HandleRespond")
		defer span.End()

		principal, ok := middleware.GetPrincipal(c)
		if !ok {
			respondError(c, deps, "respond", http.StatusInternalServerError, codeInternal, "internal server error")
			return
		}

		var req datatypes.RespondRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, deps, "respond", http.StatusBadRequest, codeBadRequest, "malformed JSON body")
			return
		}
		if err := req.Validate(datatypes.PayloadLimits{
			MaxUserChars:       deps.Config.Payload.MaxUserChars,
			MaxContextMessages: deps.Config.Payload.MaxContextMessages,
			MaxContextChars:    deps.Config.Payload.MaxContextChars,
			MaxTurns:           deps.Config.Payload.MaxTurns,
		}); err != nil {
			respondError(c, deps, "respond", http.StatusBadRequest, codeBadRequest, err.Error())
			return
		}

		if req.SessionID != principal.SessionID {
			slog.Warn("Session mismatch on respond",
				"subject_prefix", access.SubjectPrefix(principal.Auth.Claims.Subject))
			respondError(c, deps, "respond", http.StatusForbidden, codeSessionMismatch, "session mismatch")
			return
		}

		now := deps.now()
		expiresAt := principal.Auth.Claims.ExpiresAtTime()

		lock, lockErr := resolveLock(deps, c, &req, principal.SessionID, now, expiresAt)
		if lockErr != "" {
			respondError(c, deps, "respond", http.StatusBadRequest, codeLockViolation, lockErr)
			return
		}

		profile, err := deps.Prompts.Get(lock.UseCaseID)
		if err != nil {
			respondError(c, deps, "respond", http.StatusBadRequest, codeBadRequest, err.Error())
			return
		}

		systemPrompt := profile.Prompt()
		tiered := lock.MemoryMode == memory.ModeTiered && deps.Config.TieredEnabled
		if tiered {
			deps.Store.EvictExpired(now)
			state, err := deps.Store.GetOrCreate(principal.SessionID, principal.Auth.Identity.UserID, expiresAt)
			if err != nil {
				slog.Error("Memory state unavailable, serving without tiered context", "error", err)
			} else {
				systemPrompt = memory.BuildTieredSystemPrompt(systemPrompt, &state, 0)
			}
			if deps.Metrics != nil {
				deps.Metrics.ActiveSessions.Set(float64(deps.Store.Stats().Sessions))
			}
		}

		window := contextWindow(req.Messages, deps.Config.Payload.MaxContextMessages)

		callCtx, cancel := context.WithTimeout(ctx, deps.Config.Chat.Timeout)
		defer cancel()
		completion, err := deps.Chat.Chat(callCtx, systemPrompt, window, llm.GenerationParams{
			Model:       deps.Config.Chat.Model,
			Temperature: deps.Config.Chat.Temperature,
			MaxTokens:   deps.Config.Chat.MaxOutputTokens,
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			status, message := http.StatusBadGateway, "completion upstream failed"
			var upstream *llm.UpstreamError
			if errors.As(err, &upstream) {
				message = upstream.Reason
			}
			slog.Error("Completion upstream failed",
				"subject_prefix", access.SubjectPrefix(principal.Auth.Claims.Subject), "error", err)
			respondError(c, deps, "respond", status, codeUpstream, message)
			return
		}

		if lock.Minted {
			uselock.SetCookie(c.Writer, lock.Token, int(time.Until(expiresAt).Seconds()))
		}

		recordUsage(deps, c, principal, lock, completion)

		lastUser := req.Messages[len(req.Messages)-1]
		if tiered {
			deps.Engine.CommitTurnAsync(memory.CommitInput{
				SessionID:        principal.SessionID,
				UserID:           principal.Auth.Identity.UserID,
				UserMessage:      lastUser.Content,
				AssistantMessage: completion.Content,
				UserTS:           parseTS(lastUser.TS, now),
				AssistantTS:      now,
				ExpiresAt:        expiresAt,
			})
		}

		respondSuccess(c, deps, "respond", http.StatusOK, datatypes.RespondResponse{
			OK: true,
			AssistantMessage: datatypes.ChatMessage{
				Role:    "assistant",
				Content: completion.Content,
				TS:      now.UTC().Format(time.RFC3339),
			},
			Usage: &datatypes.Usage{
				Model:        completion.Model,
				InputTokens:  completion.InputTokens,
				OutputTokens: completion.OutputTokens,
			},
			Session: datatypes.SessionInfo{
				SessionID:        principal.SessionID,
				ExpiresAt:        expiresAt.UTC().Format(time.RFC3339),
				UseCaseID:        lock.UseCaseID,
				MemoryMode:       string(lock.MemoryMode),
				UseCaseLocked:    true,
				UseCaseLockToken: lock.Token,
			},
		})
	}
}

// resolveLock applies the once-per-session lock policy. On the session's
// first user turn no lock is expected and a new one is minted from the
// client's choice; on every later turn a valid lock must already exist and
// any client-supplied choice must match it. The returned string is empty
// on success and the violation message otherwise.
func resolveLock(deps *Deps, c *gin.Context, req *datatypes.RespondRequest, sessionID string, now, expiresAt time.Time) (turnLock, string) {
	token := req.UseCaseLockToken
	if token == "" {
		token = uselock.FromRequest(c.Request)
	}

	if token != "" {
		lock, valid := deps.Lock.Verify(token, sessionID, now)
		if valid {
			if req.UseCaseID != "" && req.UseCaseID != lock.UseCaseID {
				return turnLock{}, "use case is locked for this session"
			}
			if req.MemoryMode != "" && req.MemoryMode != string(lock.MemoryMode) {
				return turnLock{}, "memory mode is locked for this session"
			}
			return turnLock{UseCaseID: lock.UseCaseID, MemoryMode: lock.MemoryMode, Token: token}, ""
		}
	}

	userTurns := 0
	for _, msg := range req.Messages {
		if msg.Role == "user" {
			userTurns++
		}
	}
	if userTurns > 1 {
		return turnLock{}, "missing or invalid use case lock"
	}

	useCaseID := req.UseCaseID
	if useCaseID == "" {
		useCaseID = prompts.DefaultProfileID
	}
	if !deps.Prompts.Has(useCaseID) {
		return turnLock{}, "unknown use case"
	}

	mode := memory.DefaultMode()
	if req.MemoryMode != "" {
		parsed, ok := memory.ParseMode(req.MemoryMode)
		if !ok {
			return turnLock{}, "unknown memory mode"
		}
		mode = parsed
	}
	if !memory.ModeAvailable(mode, deps.Config.TieredEnabled) {
		return turnLock{}, "memory mode not available"
	}

	minted, err := deps.Lock.Mint(sessionID, useCaseID, mode, expiresAt)
	if err != nil {
		slog.Error("Lock mint failed", "error", err)
		return turnLock{}, "unable to establish use case lock"
	}
	return turnLock{UseCaseID: useCaseID, MemoryMode: mode, Token: minted, Minted: true}, ""
}

// contextWindow keeps the most recent max messages and converts them for
// the upstream call.
func contextWindow(messages []datatypes.ChatMessage, max int) []llm.Message {
	if len(messages) > max {
		messages = messages[len(messages)-max:]
	}
	out := make([]llm.Message, 0, len(messages))
	for _, msg := range messages {
		out = append(out, llm.Message{Role: msg.Role, Content: msg.Content})
	}
	return out
}

func recordUsage(deps *Deps, c *gin.Context, principal *middleware.Principal, lock turnLock, completion llm.Completion) {
	if deps.Metrics != nil {
		deps.Metrics.TokensTotal.WithLabelValues("input", completion.Model).Add(float64(completion.InputTokens))
		deps.Metrics.TokensTotal.WithLabelValues("output", completion.Model).Add(float64(completion.OutputTokens))
	}
	if deps.Usage == nil {
		return
	}
	err := deps.Usage.Record(usage.Event{
		RequestID:    requestID(c),
		UserID:       principal.Auth.Identity.UserID,
		Username:     principal.Auth.Identity.Username,
		UseCaseID:    lock.UseCaseID,
		MemoryMode:   string(lock.MemoryMode),
		Model:        completion.Model,
		InputTokens:  completion.InputTokens,
		OutputTokens: completion.OutputTokens,
		TS:           deps.now().UTC(),
	})
	if err != nil {
		slog.Warn("Usage accounting failed", "error", err)
	}
}

func parseTS(raw string, fallback time.Time) time.Time {
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return fallback
	}
	return ts
}
