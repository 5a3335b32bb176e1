// Copyright (C) 2025 Chatgate Labs (eng@chatgate.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package access

import (
	"errors"
	"fmt"
	"net/http"
)

// =============================================================================
// Error Taxonomy
// =============================================================================

// Sentinel errors for classification with errors.Is.
//
// ErrUnauthenticated covers everything wrong with the assertion itself:
// missing token, malformed segments, bad signature, expired or not-yet-valid
// claims, issuer/audience mismatch. ErrForbidden covers a verified identity
// that is not permitted: missing email claim, allowlist miss, or a directory
// that has no entry for the email. The two must never be conflated: the
// first is an authentication gap, the second an authorization gap.
var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")
	ErrCertFetch       = errors.New("certificate fetch failed")
)

// AuthError is the structured failure returned by Authenticate.
//
// # Fields
//
//   - Status: HTTP-style status (401 authentication, 403 authorization,
//     503 key-set fetch failure).
//   - Code: machine-readable code for clients and logs.
//   - Meta: redacted context for logging (subject prefix, email domain).
//     Never contains the full subject or a token.
type AuthError struct {
	Status int
	Code   string
	Reason string
	Meta   map[string]any
	kind   error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s (code=%s status=%d)", e.Reason, e.Code, e.Status)
}

func (e *AuthError) Unwrap() error { return e.kind }

// unauthenticated builds a 401 AuthError.
func unauthenticated(reason string) *AuthError {
	return &AuthError{
		Status: http.StatusUnauthorized,
		Code:   "UNAUTHORIZED",
		Reason: reason,
		kind:   ErrUnauthenticated,
	}
}

// forbidden builds a 403 AuthError carrying redacted identity context.
func forbidden(reason string, meta map[string]any) *AuthError {
	return &AuthError{
		Status: http.StatusForbidden,
		Code:   "FORBIDDEN",
		Reason: reason,
		Meta:   meta,
		kind:   ErrForbidden,
	}
}

// certFetchFailed builds a 503 AuthError for key-set fetch problems.
func certFetchFailed(reason string) *AuthError {
	return &AuthError{
		Status: http.StatusServiceUnavailable,
		Code:   "AUTH_CERT_FETCH_FAILED",
		Reason: reason,
		kind:   ErrCertFetch,
	}
}
