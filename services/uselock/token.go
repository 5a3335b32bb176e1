// Copyright (C) 2025 Chatgate Labs (eng@chatgate.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package uselock mints and verifies the signed tokens that bind a session
// to one use case and one memory mode for the session's lifetime.
//
// # Description
//
// The token is self-contained: base64url(JSON payload) + "." +
// base64url(HMAC-SHA256 over the encoded payload). The payload embeds the
// session id, so a token replayed against another session fails session-id
// equality even with a valid signature. No server-side state is required.
//
// Lock POLICY (first turn mints, later turns must present a valid lock and
// may not change the locked values) is enforced by the respond handler, not
// here; this package is only the codec.
package uselock

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/awnumar/memguard"

	"github.com/chatgateco/chatgate/services/memory"
)

// Lock is the decoded, verified content of a lock token.
type Lock struct {
	UseCaseID  string
	MemoryMode memory.Mode
	ExpiresAt  time.Time
}

// payload is the wire shape. Field names are deliberately terse: the token
// rides in a cookie on every chat request.
type payload struct {
	SessionID  string `json:"sid"`
	UseCaseID  string `json:"uc"`
	MemoryMode string `json:"mm"`
	ExpiresAt  int64  `json:"exp"`
}

// Codec signs and verifies lock tokens with a dedicated HMAC secret.
type Codec struct {
	secret *memguard.Enclave
}

// NewCodec wraps the lock signing secret. The secret must be distinct from
// the session-derivation secret (see access.SessionDeriver.LockSecret).
func NewCodec(secret *memguard.Enclave) *Codec {
	return &Codec{secret: secret}
}

// Mint creates a signed lock token binding sessionID to one use case and
// memory mode until expiresAt.
func (c *Codec) Mint(sessionID, useCaseID string, mode memory.Mode, expiresAt time.Time) (string, error) {
	raw, err := json.Marshal(payload{
		SessionID:  sessionID,
		UseCaseID:  useCaseID,
		MemoryMode: string(mode),
		ExpiresAt:  expiresAt.Unix(),
	})
	if err != nil {
		return "", fmt.Errorf("encoding lock payload: %w", err)
	}

	encoded := base64.RawURLEncoding.EncodeToString(raw)
	sig, err := c.sign(encoded)
	if err != nil {
		return "", err
	}
	return encoded + "." + sig, nil
}

// Verify checks a token's signature, structure, session binding and expiry.
//
// Returns (nil, false) on any failure: a bad lock token is never an error
// condition by itself; the caller decides what an absent lock means for the
// current turn.
func (c *Codec) Verify(token, expectedSessionID string, now time.Time) (*Lock, bool) {
	encoded, sig, ok := strings.Cut(token, ".")
	if !ok || encoded == "" || sig == "" {
		return nil, false
	}

	expectedSig, err := c.sign(encoded)
	if err != nil {
		return nil, false
	}
	// Constant-time on the signature comparison.
	if !hmac.Equal([]byte(sig), []byte(expectedSig)) {
		return nil, false
	}

	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, false
	}

	var p payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, false
	}
	if p.SessionID == "" || p.UseCaseID == "" || p.ExpiresAt == 0 {
		return nil, false
	}

	mode, ok := memory.ParseMode(p.MemoryMode)
	if !ok {
		mode = memory.ModeClassic
	}

	if p.SessionID != expectedSessionID {
		return nil, false
	}
	if p.ExpiresAt <= now.Unix() {
		return nil, false
	}

	return &Lock{
		UseCaseID:  p.UseCaseID,
		MemoryMode: mode,
		ExpiresAt:  time.Unix(p.ExpiresAt, 0),
	}, nil
}

func (c *Codec) sign(encodedPayload string) (string, error) {
	buf, err := c.secret.Open()
	if err != nil {
		return "", fmt.Errorf("opening lock secret: %w", err)
	}
	defer buf.Destroy()

	mac := hmac.New(sha256.New, buf.Bytes())
	mac.Write([]byte(encodedPayload))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil)), nil
}
