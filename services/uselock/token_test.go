// Copyright (C) 2025 Chatgate Labs (eng@chatgate.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package uselock

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/awnumar/memguard"

	"github.com/chatgateco/chatgate/services/memory"
)

func testCodec() *Codec {
	return NewCodec(memguard.NewEnclave([]byte("lock-secret-for-tests-0123456789")))
}

// TestCodec_MintVerify_RoundTrip tests that a minted token verifies for
// any time before expiry and carries the locked values back out.
func TestCodec_MintVerify_RoundTrip(t *testing.T) {
	codec := testCodec()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	exp := now.Add(time.Hour)

	token, err := codec.Mint("session-aaaa", "career", memory.ModeTiered, exp)
	if err != nil {
		t.Fatalf("Mint failed: %v", err)
	}

	lock, ok := codec.Verify(token, "session-aaaa", now)
	if !ok {
		t.Fatal("freshly minted token failed verification")
	}
	if lock.UseCaseID != "career" {
		t.Errorf("use case = %q, want career", lock.UseCaseID)
	}
	if lock.MemoryMode != memory.ModeTiered {
		t.Errorf("memory mode = %q, want tiered", lock.MemoryMode)
	}
	if !lock.ExpiresAt.Equal(exp.Truncate(time.Second)) {
		t.Errorf("expiry = %v, want %v", lock.ExpiresAt, exp)
	}
}

// TestCodec_Verify_RejectsExpired tests that verification fails once
// now >= exp.
func TestCodec_Verify_RejectsExpired(t *testing.T) {
	codec := testCodec()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	exp := now.Add(time.Hour)

	token, err := codec.Mint("session-aaaa", "general", memory.ModeClassic, exp)
	if err != nil {
		t.Fatalf("Mint failed: %v", err)
	}

	if _, ok := codec.Verify(token, "session-aaaa", exp); ok {
		t.Error("token must be invalid at exactly exp")
	}
	if _, ok := codec.Verify(token, "session-aaaa", exp.Add(time.Minute)); ok {
		t.Error("token must be invalid after exp")
	}
}

// TestCodec_Verify_RejectsWrongSession tests the session binding: a valid
// signature is not enough if the embedded session id differs.
func TestCodec_Verify_RejectsWrongSession(t *testing.T) {
	codec := testCodec()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	token, err := codec.Mint("session-aaaa", "general", memory.ModeClassic, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("Mint failed: %v", err)
	}

	if _, ok := codec.Verify(token, "session-bbbb", now); ok {
		t.Error("token replayed against another session must fail")
	}
}

// TestCodec_Verify_RejectsTamperedPayload tests signature enforcement
// against a payload swap.
func TestCodec_Verify_RejectsTamperedPayload(t *testing.T) {
	codec := testCodec()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	token, err := codec.Mint("session-aaaa", "general", memory.ModeClassic, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("Mint failed: %v", err)
	}

	encoded, sig, _ := strings.Cut(token, ".")

	forged := base64.RawURLEncoding.EncodeToString(
		[]byte(`{"sid":"session-aaaa","uc":"research","mm":"classic","exp":4102444800}`))
	if _, ok := codec.Verify(forged+"."+sig, "session-aaaa", now); ok {
		t.Error("payload swap with the old signature must fail")
	}

	flipped := "A"
	if sig[0] == 'A' {
		flipped = "B"
	}
	if _, ok := codec.Verify(encoded+"."+flipped+sig[1:], "session-aaaa", now); ok {
		t.Error("signature tampering must fail")
	}
}

// TestCodec_Verify_RejectsDifferentSecret tests that tokens do not verify
// across codecs with different secrets.
func TestCodec_Verify_RejectsDifferentSecret(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	token, err := testCodec().Mint("session-aaaa", "general", memory.ModeClassic, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("Mint failed: %v", err)
	}

	other := NewCodec(memguard.NewEnclave([]byte("a-completely-different-secret!!!")))
	if _, ok := other.Verify(token, "session-aaaa", now); ok {
		t.Error("token must not verify under a different secret")
	}
}

// TestCodec_Verify_RejectsStructurallyInvalid tests malformed inputs.
func TestCodec_Verify_RejectsStructurallyInvalid(t *testing.T) {
	codec := testCodec()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	for _, token := range []string{
		"",
		"no-dot-here",
		".signatureonly",
		"payloadonly.",
		"!!notbase64!!.!!alsonot!!",
	} {
		if _, ok := codec.Verify(token, "session-aaaa", now); ok {
			t.Errorf("structurally invalid token %q verified", token)
		}
	}
}

// TestCodec_Verify_UnknownModeFallsBackToClassic tests tolerance of a
// token minted with a mode this build no longer knows.
func TestCodec_Verify_UnknownModeFallsBackToClassic(t *testing.T) {
	codec := testCodec()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	token, err := codec.Mint("session-aaaa", "general", memory.Mode("experimental"), now.Add(time.Hour))
	if err != nil {
		t.Fatalf("Mint failed: %v", err)
	}

	lock, ok := codec.Verify(token, "session-aaaa", now)
	if !ok {
		t.Fatal("token with unknown mode must still verify")
	}
	if lock.MemoryMode != memory.ModeClassic {
		t.Errorf("mode = %q, want classic fallback", lock.MemoryMode)
	}
}
