// Copyright (C) 2025 Chatgate Labs (eng@chatgate.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/chatgateco/chatgate/services/access"
	"github.com/chatgateco/chatgate/services/gateway/middleware"
)

const defaultUsageWindow = 24 * time.Hour

// HandleUsage serves the aggregated token accounting report. Restricted
// to directory admins and the configured admin email list.
func HandleUsage(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		_, span := tracer.Start(c.Request.Context(), "HandleUsage")
		defer span.End()

		principal, ok := middleware.GetPrincipal(c)
		if !ok {
			respondError(c, deps, "usage", http.StatusInternalServerError, codeInternal, "internal server error")
			return
		}

		if !isAdmin(deps, principal) {
			slog.Warn("Usage report denied",
				"subject_prefix", access.SubjectPrefix(principal.Auth.Claims.Subject))
			respondError(c, deps, "usage", http.StatusForbidden, codeForbidden, "admin access required")
			return
		}

		since := deps.now().Add(-defaultUsageWindow)
		if raw := c.Query("since"); raw != "" {
			parsed, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				respondError(c, deps, "usage", http.StatusBadRequest, codeBadRequest, "invalid since timestamp")
				return
			}
			since = parsed
		}

		report, err := deps.Usage.Aggregate(since)
		if err != nil {
			slog.Error("Usage aggregation failed", "error", err)
			respondError(c, deps, "usage", http.StatusInternalServerError, codeInternal, "usage aggregation failed")
			return
		}

		respondSuccess(c, deps, "usage", http.StatusOK, gin.H{"ok": true, "report": report})
	}
}

func isAdmin(deps *Deps, principal *middleware.Principal) bool {
	if principal.Auth.Identity.Role == access.RoleAdmin {
		return true
	}
	for _, email := range deps.Config.AdminEmails {
		if email == principal.Auth.Email {
			return true
		}
	}
	return false
}
