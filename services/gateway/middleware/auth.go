// Copyright (C) 2025 Chatgate Labs (eng@chatgate.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package middleware provides HTTP middleware for the gateway service.
//
// # Authentication Flow
//
// The auth middleware reads the identity assertion forwarded by the edge
// proxy, verifies it against the issuer's published keys, derives the
// caller's session id, and stores the result in the Gin context for
// downstream handlers.
//
//	Request
//	   │
//	   ▼
//	AuthMiddleware
//	   │
//	   ├─► Extract "Cf-Access-Jwt-Assertion" header
//	   │
//	   ├─► verifier.Authenticate(ctx, assertion)
//	   │
//	   ├─► sessions.DeriveSessionID(claims)
//	   │
//	   └─► Store Principal in context
//	           │
//	           ▼
//	       Handler (retrieves via GetPrincipal)
package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/chatgateco/chatgate/services/access"
)

// =============================================================================
// Context Keys
// =============================================================================

// principalKey is the context key for the authenticated principal.
// Using a service-prefixed key prevents collisions with other context values.
const principalKey = "chatgate_principal"

// AssertionHeader carries the identity assertion from the edge proxy.
const AssertionHeader = "Cf-Access-Jwt-Assertion"

// Principal is the fully resolved caller: verified claims, directory
// identity and the derived session id.
type Principal struct {
	Auth      *access.AuthContext
	SessionID string
}

// =============================================================================
// Context Helpers
// =============================================================================

// SetPrincipal stores the authenticated principal in the Gin context.
func SetPrincipal(c *gin.Context, p *Principal) {
	c.Set(principalKey, p)
}

// GetPrincipal retrieves the principal placed by AuthMiddleware. The
// second return is false when the request never passed authentication.
func GetPrincipal(c *gin.Context) (*Principal, bool) {
	value, ok := c.Get(principalKey)
	if !ok {
		return nil, false
	}
	p, ok := value.(*Principal)
	return p, ok && p != nil
}

// =============================================================================
// Middleware
// =============================================================================

// Authenticator verifies an identity assertion.
type Authenticator interface {
	Authenticate(ctx context.Context, assertion string) (*access.AuthContext, error)
}

// SessionDeriver computes the caller's session id from verified claims.
type SessionDeriver interface {
	DeriveSessionID(claims *access.Claims) (string, error)
}

// AuthMiddleware authenticates every request on the protected route group.
//
// Authentication failures map to 401 and authorization failures to 403,
// carrying the machine-readable code from the access package. The failure
// log line holds only the redacted subject prefix, never the assertion or
// the full subject.
func AuthMiddleware(verifier Authenticator, sessions SessionDeriver) gin.HandlerFunc {
	return func(c *gin.Context) {
		assertion := c.GetHeader(AssertionHeader)

		auth, err := verifier.Authenticate(c.Request.Context(), assertion)
		if err != nil {
			status, code := http.StatusUnauthorized, "UNAUTHORIZED"
			var authErr *access.AuthError
			if errors.As(err, &authErr) {
				status, code = authErr.Status, authErr.Code
			}
			slog.Warn("Request rejected by access verification",
				"status", status, "code", code, "reason", err.Error())
			c.AbortWithStatusJSON(status, gin.H{
				"ok":      false,
				"code":    code,
				"message": err.Error(),
			})
			return
		}

		sessionID, err := sessions.DeriveSessionID(auth.Claims)
		if err != nil {
			slog.Error("Session derivation failed",
				"subject_prefix", access.SubjectPrefix(auth.Claims.Subject), "error", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"ok":      false,
				"code":    "INTERNAL",
				"message": "internal server error",
			})
			return
		}

		SetPrincipal(c, &Principal{Auth: auth, SessionID: sessionID})
		c.Next()
	}
}
