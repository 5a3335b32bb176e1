// Copyright (C) 2025 Chatgate Labs (eng@chatgate.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package access

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"github.com/awnumar/memguard"
)

// SessionDeriver computes a deterministic session identifier from verified
// claims. The derivation is a keyed hash over subject, identity nonce and
// primary audience, with no expiry, so the same login grant always derives the
// same id. That is the whole point: the gateway recognizes session
// continuity without any server-side session storage.
//
// The HMAC secret lives in a memguard enclave and is only materialized in
// locked memory for the duration of one derivation.
type SessionDeriver struct {
	secret *memguard.Enclave
}

// NewSessionDeriver wraps the signing secret enclave.
func NewSessionDeriver(secret *memguard.Enclave) *SessionDeriver {
	return &SessionDeriver{secret: secret}
}

// DeriveSessionID derives the session id for a set of verified claims.
//
// Identical claim material always yields the identical id; a different
// subject, nonce or audience yields a computationally independent one.
func (d *SessionDeriver) DeriveSessionID(claims *Claims) (string, error) {
	buf, err := d.secret.Open()
	if err != nil {
		return "", fmt.Errorf("opening session secret: %w", err)
	}
	defer buf.Destroy()

	material := claims.Subject + "|" + claims.IdentityNonce + "|" + claims.PrimaryAudience()

	mac := hmac.New(sha256.New, buf.Bytes())
	mac.Write([]byte(material))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil)), nil
}

// LockSecret returns an enclave holding the use-case-lock signing secret,
// derived from (but distinct from) the session secret so a leaked lock
// token cannot be used to forge session ids.
func (d *SessionDeriver) LockSecret() (*memguard.Enclave, error) {
	buf, err := d.secret.Open()
	if err != nil {
		return nil, fmt.Errorf("opening session secret: %w", err)
	}
	defer buf.Destroy()

	derived := append(append([]byte{}, buf.Bytes()...), []byte(":use-case-lock")...)
	return memguard.NewEnclave(derived), nil
}
