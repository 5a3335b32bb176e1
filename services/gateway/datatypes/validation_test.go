// Copyright (C) 2025 Chatgate Labs (eng@chatgate.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func testLimits() PayloadLimits {
	return PayloadLimits{
		MaxUserChars:       2000,
		MaxContextMessages: 12,
		MaxContextChars:    12000,
		MaxTurns:           30,
	}
}

func msg(role, content string) ChatMessage {
	return ChatMessage{Role: role, Content: content, TS: time.Now().UTC().Format(time.RFC3339)}
}

func validRequest() RespondRequest {
	return RespondRequest{
		SessionID: "session-abc-123",
		Messages: []ChatMessage{
			msg("user", "hello there"),
		},
	}
}

// TestValidateSessionID tests the trim and length bounds.
func TestValidateSessionID(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"valid", "session-abc-123", "session-abc-123", false},
		{"trims whitespace", "  session-abc-123  ", "session-abc-123", false},
		{"exactly min length", "12345678", "12345678", false},
		{"too short", "1234567", "", true},
		{"too long", strings.Repeat("a", 257), "", true},
		{"whitespace only", "        ", "", true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ValidateSessionID(tc.in)
			if (err != nil) != tc.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tc.wantErr)
			}
			if got != tc.want {
				t.Errorf("got %q, want %q", got, tc.want)
			}
		})
	}
}

// TestValidateUseCaseID tests the optional id grammar.
func TestValidateUseCaseID(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"", "", false},
		{"   ", "", false},
		{"general", "general", false},
		{"career_v2-beta", "career_v2-beta", false},
		{"UPPER", "", true},
		{"has space", "", true},
		{strings.Repeat("a", 65), "", true},
	}
	for _, tc := range tests {
		got, err := ValidateUseCaseID(tc.in)
		if (err != nil) != tc.wantErr {
			t.Errorf("ValidateUseCaseID(%q) err = %v, wantErr %v", tc.in, err, tc.wantErr)
			continue
		}
		if got != tc.want {
			t.Errorf("ValidateUseCaseID(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

// TestValidateLockToken tests the payload.signature shape check.
func TestValidateLockToken(t *testing.T) {
	tests := []struct {
		in      string
		wantErr bool
	}{
		{"", false},
		{"eyJhbGci.c2lnbmF0dXJl", false},
		{"payload_only", true},
		{"three.part.token", true},
		{"bad chars!.sig", true},
	}
	for _, tc := range tests {
		_, err := ValidateLockToken(tc.in)
		if (err != nil) != tc.wantErr {
			t.Errorf("ValidateLockToken(%q) err = %v, wantErr %v", tc.in, err, tc.wantErr)
		}
	}
}

// TestRespondRequest_Validate_Normalizes tests the in-place trimming of
// session id, memory mode, and message content.
func TestRespondRequest_Validate_Normalizes(t *testing.T) {
	req := RespondRequest{
		SessionID:  "  session-abc-123  ",
		MemoryMode: " tiered ",
		Messages: []ChatMessage{
			{Role: "user", Content: "  padded content  ", TS: "2025-06-01T10:00:00Z"},
		},
	}
	if err := req.Validate(testLimits()); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if req.SessionID != "session-abc-123" {
		t.Errorf("session id = %q", req.SessionID)
	}
	if req.MemoryMode != "tiered" {
		t.Errorf("memory mode = %q", req.MemoryMode)
	}
	if req.Messages[0].Content != "padded content" {
		t.Errorf("content = %q", req.Messages[0].Content)
	}
}

// TestRespondRequest_Validate_Rejections tests each bound in the payload
// checker.
func TestRespondRequest_Validate_Rejections(t *testing.T) {
	longUser := msg("user", strings.Repeat("x", 2001))

	overCount := validRequest()
	overCount.Messages = nil
	for i := 0; i < 12; i++ {
		overCount.Messages = append(overCount.Messages, msg("user", "q"), msg("assistant", "a"))
	}
	overCount.Messages = append(overCount.Messages, msg("user", "one too many"))

	overTurns := validRequest()
	overTurns.Messages = nil
	limits := testLimits()
	limits.MaxContextMessages = 40
	limits.MaxTurns = 5
	for i := 0; i < 6; i++ {
		overTurns.Messages = append(overTurns.Messages, msg("user", "q"), msg("assistant", "a"))
	}
	// Swap the trailing assistant reply out so the payload still ends on a
	// user message and fails on the turn cap alone.
	overTurns.Messages = overTurns.Messages[:len(overTurns.Messages)-1]

	overChars := validRequest()
	overChars.Messages = []ChatMessage{
		msg("assistant", strings.Repeat("a", 7000)),
		msg("user", strings.Repeat("b", 1500)),
		msg("assistant", strings.Repeat("c", 3000)),
		msg("user", strings.Repeat("d", 1000)),
	}

	tests := []struct {
		name    string
		mutate  func(*RespondRequest)
		limits  PayloadLimits
		request *RespondRequest
		reason  string
	}{
		{name: "short session id", mutate: func(r *RespondRequest) { r.SessionID = "short" }, reason: "session id"},
		{name: "bad use case id", mutate: func(r *RespondRequest) { r.UseCaseID = "Not Valid" }, reason: "use_case_id"},
		{name: "bad lock token", mutate: func(r *RespondRequest) { r.UseCaseLockToken = "noseparator" }, reason: "use_case_lock_token"},
		{name: "empty messages", mutate: func(r *RespondRequest) { r.Messages = nil }, reason: "non-empty"},
		{name: "bad role", mutate: func(r *RespondRequest) { r.Messages[0].Role = "system" }, reason: "role"},
		{name: "blank content", mutate: func(r *RespondRequest) { r.Messages[0].Content = "   " }, reason: "content"},
		{name: "missing timestamp", mutate: func(r *RespondRequest) { r.Messages[0].TS = "" }, reason: "timestamp"},
		{name: "unparsable timestamp", mutate: func(r *RespondRequest) { r.Messages[0].TS = "yesterday" }, reason: "timestamp"},
		{name: "oversize user message", mutate: func(r *RespondRequest) { r.Messages = []ChatMessage{longUser} }, reason: "max length"},
		{name: "ends on assistant", mutate: func(r *RespondRequest) {
			r.Messages = append(r.Messages, msg("assistant", "reply"))
		}, reason: "last message"},
		{name: "too many messages", request: &overCount, reason: "too many"},
		{name: "turn cap", request: &overTurns, limits: limits, reason: "turn limit"},
		{name: "context too large", request: &overChars, reason: "too large"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := tc.request
			if req == nil {
				r := validRequest()
				tc.mutate(&r)
				req = &r
			}
			lims := tc.limits
			if lims == (PayloadLimits{}) {
				lims = testLimits()
			}

			err := req.Validate(lims)
			if err == nil {
				t.Fatal("expected a validation error")
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("error type %T, want *ValidationError", err)
			}
			if !strings.Contains(verr.Reason, tc.reason) {
				t.Errorf("reason %q does not mention %q", verr.Reason, tc.reason)
			}
		})
	}
}

// TestRespondRequest_Validate_AssistantLengthUncapped tests that the
// per-message length cap binds user messages only.
func TestRespondRequest_Validate_AssistantLengthUncapped(t *testing.T) {
	req := validRequest()
	req.Messages = []ChatMessage{
		msg("assistant", strings.Repeat("a", 5000)),
		msg("user", "short"),
	}
	if err := req.Validate(testLimits()); err != nil {
		t.Fatalf("long assistant message must pass: %v", err)
	}
}

// TestResetRequest_Validate tests session id checking on the reset payload.
func TestResetRequest_Validate(t *testing.T) {
	req := ResetRequest{SessionID: "  session-abc-123 "}
	if err := req.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if req.SessionID != "session-abc-123" {
		t.Errorf("session id = %q", req.SessionID)
	}

	bad := ResetRequest{SessionID: "nope"}
	if err := bad.Validate(); err == nil {
		t.Error("short session id must be rejected")
	}
}
