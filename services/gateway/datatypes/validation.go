// Copyright (C) 2025 Chatgate Labs (eng@chatgate.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// =============================================================================
// Payload Validation
// =============================================================================

// ValidationError rejects a malformed payload with a 400.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

func invalid(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

const (
	minSessionIDLen = 8
	maxSessionIDLen = 256
)

var (
	useCaseIDPattern = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)
	lockTokenPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+$`)
)

// PayloadLimits bounds a respond payload.
type PayloadLimits struct {
	MaxUserChars       int
	MaxContextMessages int
	MaxContextChars    int
	MaxTurns           int
}

// ValidateSessionID trims and length-checks a client-supplied session id.
func ValidateSessionID(sessionID string) (string, error) {
	trimmed := strings.TrimSpace(sessionID)
	if len(trimmed) < minSessionIDLen || len(trimmed) > maxSessionIDLen {
		return "", invalid("invalid session id length")
	}
	return trimmed, nil
}

// ValidateUseCaseID checks an optional use case id. Empty input stays
// empty; anything present must match the id grammar.
func ValidateUseCaseID(useCaseID string) (string, error) {
	trimmed := strings.TrimSpace(useCaseID)
	if trimmed == "" {
		return "", nil
	}
	if !useCaseIDPattern.MatchString(trimmed) {
		return "", invalid("invalid use_case_id format")
	}
	return trimmed, nil
}

// ValidateLockToken checks an optional lock token's shape. Signature
// verification happens later; this only rejects obviously malformed input
// before it reaches the crypto path.
func ValidateLockToken(token string) (string, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return "", nil
	}
	if !lockTokenPattern.MatchString(trimmed) {
		return "", invalid("invalid use_case_lock_token format")
	}
	return trimmed, nil
}

// Validate normalizes the respond payload in place and rejects anything
// outside the configured bounds.
//
// # Description
//
// Checks, in order: session id shape, optional use case id and lock token
// shape, message count, then per-message role/content/timestamp, the user
// turn cap, the total context size, and finally that the conversation ends
// with a user message.
func (r *RespondRequest) Validate(limits PayloadLimits) error {
	sessionID, err := ValidateSessionID(r.SessionID)
	if err != nil {
		return err
	}
	r.SessionID = sessionID

	useCaseID, err := ValidateUseCaseID(r.UseCaseID)
	if err != nil {
		return err
	}
	r.UseCaseID = useCaseID

	token, err := ValidateLockToken(r.UseCaseLockToken)
	if err != nil {
		return err
	}
	r.UseCaseLockToken = token

	r.MemoryMode = strings.TrimSpace(r.MemoryMode)

	if len(r.Messages) == 0 {
		return invalid("messages must be a non-empty array")
	}
	if len(r.Messages) > limits.MaxContextMessages*2 {
		return invalid("too many messages in context")
	}

	userTurns := 0
	totalChars := 0
	for i := range r.Messages {
		msg := &r.Messages[i]

		if msg.Role != "user" && msg.Role != "assistant" {
			return invalid("invalid message role at index %d", i)
		}

		msg.Content = strings.TrimSpace(msg.Content)
		if msg.Content == "" {
			return invalid("empty message content at index %d", i)
		}
		if msg.Role == "user" && len(msg.Content) > limits.MaxUserChars {
			return invalid("user message at index %d exceeds max length", i)
		}

		if msg.TS == "" {
			return invalid("invalid message timestamp at index %d", i)
		}
		if _, err := time.Parse(time.RFC3339, msg.TS); err != nil {
			return invalid("invalid message timestamp at index %d", i)
		}

		if msg.Role == "user" {
			userTurns++
		}
		totalChars += len(msg.Content)
	}

	if userTurns > limits.MaxTurns {
		return invalid("maximum turn limit exceeded")
	}
	if totalChars > limits.MaxContextChars {
		return invalid("context payload too large")
	}
	if r.Messages[len(r.Messages)-1].Role != "user" {
		return invalid("last message must be from user")
	}

	return nil
}

// Validate checks the reset payload.
func (r *ResetRequest) Validate() error {
	sessionID, err := ValidateSessionID(r.SessionID)
	if err != nil {
		return err
	}
	r.SessionID = sessionID
	return nil
}
