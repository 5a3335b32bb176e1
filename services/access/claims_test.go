// Copyright (C) 2025 Chatgate Labs (eng@chatgate.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package access

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func baseClaims(now time.Time) *Claims {
	return &Claims{
		Email:         "dev@example.com",
		IdentityNonce: "nonce-1",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "https://team.cloudflareaccess.com",
			Subject:   "subject-12345",
			Audience:  jwt.ClaimStrings{"aud-tag-1"},
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			NotBefore: jwt.NewNumericDate(now.Add(-time.Minute)),
		},
	}
}

// TestValidateClaims tests the claim rules: expiry strictly future,
// not-before not future, issuer and audience exact after normalization.
func TestValidateClaims(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		mutate  func(*Claims)
		domain  string
		wantErr bool
	}{
		{"valid", func(*Claims) {}, "team.cloudflareaccess.com", false},
		{"domain configured with scheme", func(*Claims) {}, "https://team.cloudflareaccess.com/", false},
		{"issuer trailing slash tolerated", func(c *Claims) {
			c.Issuer = "https://team.cloudflareaccess.com/"
		}, "team.cloudflareaccess.com", false},
		{"expired", func(c *Claims) {
			c.ExpiresAt = jwt.NewNumericDate(now.Add(-time.Second))
		}, "team.cloudflareaccess.com", true},
		{"expiry exactly now", func(c *Claims) {
			c.ExpiresAt = jwt.NewNumericDate(now)
		}, "team.cloudflareaccess.com", true},
		{"missing expiry", func(c *Claims) {
			c.ExpiresAt = nil
		}, "team.cloudflareaccess.com", true},
		{"not yet valid", func(c *Claims) {
			c.NotBefore = jwt.NewNumericDate(now.Add(time.Minute))
		}, "team.cloudflareaccess.com", true},
		{"issuer mismatch", func(c *Claims) {
			c.Issuer = "https://other.cloudflareaccess.com"
		}, "team.cloudflareaccess.com", true},
		{"audience mismatch", func(c *Claims) {
			c.Audience = jwt.ClaimStrings{"other-aud"}
		}, "team.cloudflareaccess.com", true},
		{"audience among many", func(c *Claims) {
			c.Audience = jwt.ClaimStrings{"first", "aud-tag-1", "third"}
		}, "team.cloudflareaccess.com", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			claims := baseClaims(now)
			tc.mutate(claims)

			err := validateClaims(claims, tc.domain, "aud-tag-1", now)
			if tc.wantErr && err == nil {
				t.Error("expected validation failure, got nil")
			}
			if !tc.wantErr && err != nil {
				t.Errorf("unexpected validation failure: %v", err)
			}
			if tc.wantErr && err != nil && !errors.Is(err, ErrUnauthenticated) {
				t.Errorf("claim failures must classify as unauthenticated, got %v", err)
			}
		})
	}
}

// TestSubjectPrefix tests the redaction helper.
func TestSubjectPrefix(t *testing.T) {
	if got := SubjectPrefix("abcdefghijklmn"); got != "abcdefgh" {
		t.Errorf("SubjectPrefix = %q, want first 8 chars", got)
	}
	if got := SubjectPrefix("abc"); got != "abc" {
		t.Errorf("SubjectPrefix = %q, want short subject unchanged", got)
	}
	if got := SubjectPrefix(""); got != "unknown" {
		t.Errorf("SubjectPrefix(\"\") = %q, want unknown", got)
	}
}

// TestEmailDomain tests the redaction helper.
func TestEmailDomain(t *testing.T) {
	if got := EmailDomain("dev@example.com"); got != "example.com" {
		t.Errorf("EmailDomain = %q, want example.com", got)
	}
	if got := EmailDomain("not-an-email"); got != "unknown" {
		t.Errorf("EmailDomain = %q, want unknown", got)
	}
}
