// Copyright (C) 2025 Chatgate Labs (eng@chatgate.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package middleware

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/chatgateco/chatgate/services/access"
)

// =============================================================================
// Per-Subject Rate Limiting
// =============================================================================

// limiterIdleTTL controls when an idle subject's limiter is dropped so the
// table does not grow with the all-time subject count.
const limiterIdleTTL = 10 * time.Minute

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter holds one token bucket per authenticated subject.
type RateLimiter struct {
	mu        sync.Mutex
	entries   map[string]*limiterEntry
	perSecond rate.Limit
	burst     int
	now       func() time.Time
}

// NewRateLimiter builds a limiter allowing perMinute sustained requests
// with the given burst per subject.
func NewRateLimiter(perMinute, burst int) *RateLimiter {
	return &RateLimiter{
		entries:   make(map[string]*limiterEntry),
		perSecond: rate.Limit(float64(perMinute) / 60.0),
		burst:     burst,
		now:       time.Now,
	}
}

// Allow reports whether the subject may proceed, sweeping idle entries as
// a side effect.
func (r *RateLimiter) Allow(subject string) bool {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	for key, entry := range r.entries {
		if now.Sub(entry.lastSeen) > limiterIdleTTL {
			delete(r.entries, key)
		}
	}

	entry, ok := r.entries[subject]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(r.perSecond, r.burst)}
		r.entries[subject] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

// RateLimitMiddleware rejects over-limit subjects with a 429. It must run
// after AuthMiddleware so the subject is known; unauthenticated requests
// never reach it.
func RateLimitMiddleware(limiter *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := GetPrincipal(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"ok":      false,
				"code":    "INTERNAL",
				"message": "internal server error",
			})
			return
		}

		if !limiter.Allow(principal.Auth.Claims.Subject) {
			slog.Warn("Rate limit exceeded",
				"subject_prefix", access.SubjectPrefix(principal.Auth.Claims.Subject))
			c.Header("Retry-After", "60")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"ok":      false,
				"code":    "RATE_LIMITED",
				"message": "too many requests",
			})
			return
		}

		c.Next()
	}
}
