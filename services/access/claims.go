// Copyright (C) 2025 Chatgate Labs (eng@chatgate.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package access

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the set of claims carried by the edge identity assertion.
//
// The embedded RegisteredClaims provide iss/aud/exp/nbf/sub; the extra
// fields are the identity-provider specifics the gateway cares about.
type Claims struct {
	Email         string `json:"email,omitempty"`
	Name          string `json:"name,omitempty"`
	IdentityNonce string `json:"identity_nonce,omitempty"`
	jwt.RegisteredClaims
}

// AuthContext is the result of a successful authentication: the verified
// claims, the normalized email, and the resolved internal identity.
// Computed per request, never persisted.
type AuthContext struct {
	Claims   *Claims
	Email    string
	Identity Identity
}

// ExpiresAtTime returns the assertion expiry as a time.Time (zero if absent).
func (c *Claims) ExpiresAtTime() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

// PrimaryAudience returns the first audience value, or "".
func (c *Claims) PrimaryAudience() string {
	if len(c.Audience) == 0 {
		return ""
	}
	return c.Audience[0]
}

// sanitizeTeamDomain strips scheme and trailing slashes from the configured
// Access team domain so the expected issuer compares exactly.
func sanitizeTeamDomain(teamDomain string) string {
	d := strings.TrimSpace(teamDomain)
	d = strings.TrimPrefix(d, "https://")
	d = strings.TrimPrefix(d, "http://")
	return strings.TrimRight(d, "/")
}

// validateClaims enforces the claim rules: expiry strictly in the future,
// not-before not in the future, issuer and audience exact matches after
// trailing-slash normalization.
func validateClaims(claims *Claims, teamDomain, expectedAudience string, now time.Time) error {
	if claims.ExpiresAt == nil || !claims.ExpiresAt.Time.After(now) {
		return unauthenticated("access assertion is expired")
	}
	if claims.NotBefore != nil && claims.NotBefore.Time.After(now) {
		return unauthenticated("access assertion is not valid yet")
	}

	expectedIssuer := "https://" + sanitizeTeamDomain(teamDomain)
	if strings.TrimRight(claims.Issuer, "/") != expectedIssuer {
		return unauthenticated("access assertion issuer mismatch")
	}

	for _, aud := range claims.Audience {
		if aud == expectedAudience {
			return nil
		}
	}
	return unauthenticated("access assertion audience mismatch")
}

// SubjectPrefix returns the first 8 characters of the subject for redacted
// logging. Never log the full subject.
func SubjectPrefix(subject string) string {
	if len(subject) > 8 {
		return subject[:8]
	}
	if subject == "" {
		return "unknown"
	}
	return subject
}

// EmailDomain returns the domain part of an email for redacted logging.
func EmailDomain(email string) string {
	if _, domain, ok := strings.Cut(email, "@"); ok && domain != "" {
		return domain
	}
	return "unknown"
}
