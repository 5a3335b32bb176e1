// Copyright (C) 2025 Chatgate Labs (eng@chatgate.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatgateco/chatgate/services/access"
	"github.com/golang-jwt/jwt/v5"
)

// limiterAt pins the limiter clock to a controllable instant.
func limiterAt(perMinute, burst int, now *time.Time) *RateLimiter {
	limiter := NewRateLimiter(perMinute, burst)
	limiter.now = func() time.Time { return *now }
	return limiter
}

// TestRateLimiter_BurstThenRefill tests bucket exhaustion and the
// per-minute refill rate.
func TestRateLimiter_BurstThenRefill(t *testing.T) {
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	limiter := limiterAt(60, 3, &now)

	for i := 0; i < 3; i++ {
		require.True(t, limiter.Allow("subject-a"), "request %d within burst must pass", i)
	}
	require.False(t, limiter.Allow("subject-a"), "burst exhausted, request must be rejected")

	// 60/minute refills one token per second.
	now = now.Add(time.Second)
	assert.True(t, limiter.Allow("subject-a"), "one token must have refilled after a second")
	assert.False(t, limiter.Allow("subject-a"), "only one token refills per second")
}

// TestRateLimiter_SubjectsIsolated tests that one subject's exhaustion
// does not starve another.
func TestRateLimiter_SubjectsIsolated(t *testing.T) {
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	limiter := limiterAt(30, 1, &now)

	require.True(t, limiter.Allow("subject-a"), "first request must pass")
	require.False(t, limiter.Allow("subject-a"), "subject-a is exhausted")
	assert.True(t, limiter.Allow("subject-b"), "subject-b has its own bucket")
}

// TestRateLimiter_IdleSweep tests that stale entries are dropped and a
// returning subject starts with a fresh bucket.
func TestRateLimiter_IdleSweep(t *testing.T) {
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	limiter := limiterAt(30, 1, &now)

	limiter.Allow("subject-a")
	require.False(t, limiter.Allow("subject-a"), "subject-a is exhausted")

	now = now.Add(limiterIdleTTL + time.Minute)
	require.True(t, limiter.Allow("subject-b"), "sweep trigger request must pass")

	limiter.mu.Lock()
	_, stale := limiter.entries["subject-a"]
	limiter.mu.Unlock()
	assert.False(t, stale, "idle entry must be swept")
}

// TestRateLimitMiddleware tests the 429 response shape once the bucket
// runs dry.
func TestRateLimitMiddleware(t *testing.T) {
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	limiter := limiterAt(30, 2, &now)

	router := gin.New()
	router.POST("/probe", func(c *gin.Context) {
		SetPrincipal(c, &Principal{
			Auth: &access.AuthContext{
				Claims: &access.Claims{
					RegisteredClaims: jwt.RegisteredClaims{Subject: "subject-12345"},
				},
			},
			SessionID: "session-abc-123",
		})
	}, RateLimitMiddleware(limiter), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	send := func() *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/probe", nil))
		return rec
	}

	for i := 0; i < 2; i++ {
		rec := send()
		require.Equal(t, http.StatusNoContent, rec.Code, "request %d", i)
	}

	rec := send()
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	body := decodeBody(t, rec)
	assert.Equal(t, "RATE_LIMITED", body["code"])
}

// TestRateLimitMiddleware_MissingPrincipal tests the 500 response when
// middleware ordering left no principal installed.
func TestRateLimitMiddleware_MissingPrincipal(t *testing.T) {
	limiter := NewRateLimiter(30, 10)

	router := gin.New()
	router.POST("/probe", RateLimitMiddleware(limiter), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/probe", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
