// Copyright (C) 2025 Chatgate Labs (eng@chatgate.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/chatgateco/chatgate/services/gateway/datatypes"
	"github.com/chatgateco/chatgate/services/gateway/middleware"
	"github.com/chatgateco/chatgate/services/memory"
	"github.com/chatgateco/chatgate/services/uselock"
)

// HandleSession returns the caller's session descriptor: the derived
// session id, identity, payload limits, the memory mode catalog and the
// current lock state when a valid lock cookie accompanies the request.
func HandleSession(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		_, span := tracer.Start(c.Request.Context(), "HandleSession")
		defer span.End()

		principal, ok := middleware.GetPrincipal(c)
		if !ok {
			respondError(c, deps, "session", http.StatusInternalServerError, codeInternal, "internal server error")
			return
		}

		expiresAt := principal.Auth.Claims.ExpiresAtTime()

		modes := memory.ModesForClient(deps.Config.TieredEnabled)
		modeInfos := make([]datatypes.MemoryModeInfo, 0, len(modes))
		for _, mode := range modes {
			modeInfos = append(modeInfos, datatypes.MemoryModeInfo{
				ID:          string(mode.ID),
				DisplayName: mode.DisplayName,
			})
		}

		session := datatypes.SessionInfo{
			SessionID: principal.SessionID,
			ExpiresAt: expiresAt.UTC().Format(time.RFC3339),
		}
		if token := uselock.FromRequest(c.Request); token != "" {
			if lock, valid := deps.Lock.Verify(token, principal.SessionID, deps.now()); valid {
				session.UseCaseID = lock.UseCaseID
				session.MemoryMode = string(lock.MemoryMode)
				session.UseCaseLocked = true
				session.UseCaseLockToken = token
			}
		}

		respondSuccess(c, deps, "session", http.StatusOK, datatypes.SessionResponse{
			OK:        true,
			SessionID: principal.SessionID,
			User: datatypes.SessionUser{
				Email:       principal.Auth.Email,
				DisplayName: principal.Auth.Identity.Username,
			},
			ExpiresAt: expiresAt.UTC().Format(time.RFC3339),
			Limits: datatypes.SessionLimits{
				MaxTurns:           deps.Config.Payload.MaxTurns,
				MaxUserChars:       deps.Config.Payload.MaxUserChars,
				MaxContextMessages: deps.Config.Payload.MaxContextMessages,
			},
			MemoryModes: modeInfos,
			Session:     session,
		})
	}
}
