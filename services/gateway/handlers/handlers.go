// Copyright (C) 2025 Chatgate Labs (eng@chatgate.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers implements the gateway's HTTP endpoints.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"github.com/chatgateco/chatgate/services/gateway/config"
	"github.com/chatgateco/chatgate/services/gateway/datatypes"
	"github.com/chatgateco/chatgate/services/gateway/observability"
	"github.com/chatgateco/chatgate/services/llm"
	"github.com/chatgateco/chatgate/services/memory"
	"github.com/chatgateco/chatgate/services/prompts"
	"github.com/chatgateco/chatgate/services/usage"
	"github.com/chatgateco/chatgate/services/uselock"
)

var tracer = otel.Tracer("chatgate.gateway.handlers")

// Error codes shared across endpoints.
const (
	codeBadRequest      = "BAD_REQUEST"
	codeSessionMismatch = "SESSION_MISMATCH"
	codeLockViolation   = "LOCK_VIOLATION"
	codeUpstream        = "UPSTREAM_ERROR"
	codeForbidden       = "FORBIDDEN"
	codeInternal        = "INTERNAL"
)

// Deps bundles everything the endpoint closures need.
type Deps struct {
	Config  *config.Config
	Lock    *uselock.Codec
	Store   memory.Store
	Engine  *memory.Engine
	Chat    llm.Client
	Prompts *prompts.Registry
	Usage   *usage.Store
	Metrics *observability.GatewayMetrics

	// Now is replaceable for tests; defaults to time.Now.
	Now func() time.Time
}

func (d *Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// respondError writes the uniform error body and records the rejection.
func respondError(c *gin.Context, deps *Deps, endpoint string, status int, code, message string) {
	if deps.Metrics != nil {
		deps.Metrics.RequestsTotal.WithLabelValues(endpoint, "error").Inc()
		deps.Metrics.ErrorsTotal.WithLabelValues(endpoint, code).Inc()
	}
	c.AbortWithStatusJSON(status, datatypes.ErrorResponse{
		OK:        false,
		Code:      code,
		Message:   message,
		RequestID: requestID(c),
	})
}

func respondSuccess(c *gin.Context, deps *Deps, endpoint string, status int, body any) {
	if deps.Metrics != nil {
		deps.Metrics.RequestsTotal.WithLabelValues(endpoint, "success").Inc()
	}
	if body == nil {
		c.Status(status)
		return
	}
	c.JSON(status, body)
}

// requestIDKey is the context key for the per-request correlation id.
const requestIDKey = "chatgate_request_id"

// RequestIDMiddleware assigns each request a correlation id, echoed in the
// X-Request-Id response header and every error body.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := uuid.NewString()
		c.Set(requestIDKey, id)
		c.Header("X-Request-Id", id)
		c.Next()
	}
}

func requestID(c *gin.Context) string {
	if id, ok := c.Get(requestIDKey); ok {
		if s, ok := id.(string); ok {
			return s
		}
	}
	return ""
}

// HandleHealth reports liveness.
func HandleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}
