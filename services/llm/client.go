// Copyright (C) 2025 Chatgate Labs (eng@chatgate.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package llm provides the chat-completion and summarization capability
// clients consumed by the gateway. The provider is treated as an opaque
// "complete chat" capability behind the Client interface.
package llm

import (
	"context"
	"fmt"
	"net/http"
)

// Message is one chat message sent to the provider.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerationParams tunes a single completion call.
type GenerationParams struct {
	Model       string
	Temperature float32
	MaxTokens   int
	// JSONOnly requests a strict JSON object response (used by the
	// summarizer contract).
	JSONOnly bool
}

// Completion is the provider's reply plus token accounting.
type Completion struct {
	Content      string
	Model        string
	InputTokens  int
	OutputTokens int
}

// Client defines the standard interface for any LLM backend.
type Client interface {
	Chat(ctx context.Context, system string, messages []Message, params GenerationParams) (Completion, error)
}

// UpstreamError marks a provider failure or timeout. The respond path
// surfaces it as a 502; the summarizer path degrades to fallback instead.
type UpstreamError struct {
	Status int
	Reason string
	Err    error
}

func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *UpstreamError) Unwrap() error { return e.Err }

func upstreamErr(reason string, err error) *UpstreamError {
	return &UpstreamError{Status: http.StatusBadGateway, Reason: reason, Err: err}
}
