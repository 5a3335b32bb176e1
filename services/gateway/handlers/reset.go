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

	"github.com/gin-gonic/gin"

	"github.com/chatgateco/chatgate/services/access"
	"github.com/chatgateco/chatgate/services/gateway/datatypes"
	"github.com/chatgateco/chatgate/services/gateway/middleware"
	"github.com/chatgateco/chatgate/services/uselock"
)

// HandleReset clears the caller's memory state and lock cookie. Always
// 204 on a matching session, whether or not any state existed.
func HandleReset(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		_, span := tracer.Start(c.Request.Context(), "HandleReset")
		defer span.End()

		principal, ok := middleware.GetPrincipal(c)
		if !ok {
			respondError(c, deps, "reset", http.StatusInternalServerError, codeInternal, "internal server error")
			return
		}

		var req datatypes.ResetRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, deps, "reset", http.StatusBadRequest, codeBadRequest, "malformed JSON body")
			return
		}
		if err := req.Validate(); err != nil {
			respondError(c, deps, "reset", http.StatusBadRequest, codeBadRequest, err.Error())
			return
		}

		if req.SessionID != principal.SessionID {
			respondError(c, deps, "reset", http.StatusForbidden, codeSessionMismatch, "session mismatch")
			return
		}

		cleared := deps.Store.Clear(principal.SessionID, principal.Auth.Identity.UserID)
		uselock.ClearCookie(c.Writer)

		slog.Info("Session reset",
			"subject_prefix", access.SubjectPrefix(principal.Auth.Claims.Subject),
			"had_state", cleared)
		respondSuccess(c, deps, "reset", http.StatusNoContent, nil)
	}
}
