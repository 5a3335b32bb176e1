// Copyright (C) 2025 Chatgate Labs (eng@chatgate.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// HandleProfiles lists the selectable use case profiles. Prompts are never
// included; the client only needs ids and display metadata.
func HandleProfiles(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		respondSuccess(c, deps, "profiles", http.StatusOK, gin.H{
			"ok":       true,
			"profiles": deps.Prompts.List(),
			"default":  defaultProfileID(deps),
		})
	}
}

func defaultProfileID(deps *Deps) string {
	profile, err := deps.Prompts.Get("")
	if err != nil {
		return ""
	}
	return profile.ID
}
