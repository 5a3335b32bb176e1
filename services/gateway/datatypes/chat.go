// Copyright (C) 2025 Chatgate Labs (eng@chatgate.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes defines the gateway's wire types and inbound payload
// validation.
package datatypes

// ChatMessage is one message in the client-supplied context window.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	TS      string `json:"ts"`
}

// RespondRequest is the POST /api/chat/respond payload.
type RespondRequest struct {
	SessionID        string        `json:"session_id"`
	Messages         []ChatMessage `json:"messages"`
	UseCaseID        string        `json:"use_case_id,omitempty"`
	MemoryMode       string        `json:"memory_mode,omitempty"`
	UseCaseLockToken string        `json:"use_case_lock_token,omitempty"`
}

// ResetRequest is the POST /api/chat/reset payload.
type ResetRequest struct {
	SessionID string `json:"session_id"`
}

// Usage reports the upstream token accounting for one turn.
type Usage struct {
	Model        string `json:"model"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
}

// SessionInfo describes the caller's session and lock state.
type SessionInfo struct {
	SessionID        string `json:"session_id"`
	ExpiresAt        string `json:"expires_at"`
	UseCaseID        string `json:"use_case_id,omitempty"`
	MemoryMode       string `json:"memory_mode,omitempty"`
	UseCaseLocked    bool   `json:"use_case_locked"`
	UseCaseLockToken string `json:"use_case_lock_token,omitempty"`
}

// RespondResponse is the successful POST /api/chat/respond body.
type RespondResponse struct {
	OK               bool        `json:"ok"`
	AssistantMessage ChatMessage `json:"assistant_message"`
	Usage            *Usage      `json:"usage,omitempty"`
	Session          SessionInfo `json:"session"`
}

// SessionUser identifies the authenticated caller to the client.
type SessionUser struct {
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
}

// SessionLimits tells the client the payload bounds it must respect.
type SessionLimits struct {
	MaxTurns           int `json:"max_turns"`
	MaxUserChars       int `json:"max_user_chars"`
	MaxContextMessages int `json:"max_context_messages"`
}

// MemoryModeInfo is one selectable memory strategy in the session catalog.
type MemoryModeInfo struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

// SessionResponse is the GET /api/chat/session body.
type SessionResponse struct {
	OK          bool             `json:"ok"`
	SessionID   string           `json:"session_id"`
	User        SessionUser      `json:"user"`
	ExpiresAt   string           `json:"expires_at"`
	Limits      SessionLimits    `json:"limits"`
	MemoryModes []MemoryModeInfo `json:"memory_modes"`
	Session     SessionInfo      `json:"session"`
}

// ErrorResponse is the uniform error body for every rejected request.
type ErrorResponse struct {
	OK        bool   `json:"ok"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
}
