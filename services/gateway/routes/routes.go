// Copyright (C) 2025 Chatgate Labs (eng@chatgate.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chatgateco/chatgate/services/gateway/handlers"
	"github.com/chatgateco/chatgate/services/gateway/middleware"
)

// SetupRoutes wires the gateway's endpoints. Everything under /api
// requires a verified identity assertion; /health and /metrics stay open
// for probes and scrapers.
func SetupRoutes(router *gin.Engine, deps *handlers.Deps,
	verifier middleware.Authenticator, sessions middleware.SessionDeriver,
	limiter *middleware.RateLimiter) {

	router.GET("/health", handlers.HandleHealth())
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	api.Use(handlers.RequestIDMiddleware())
	api.Use(middleware.AuthMiddleware(verifier, sessions))
	{
		chat := api.Group("/chat")
		{
			chat.GET("/session", handlers.HandleSession(deps))
			chat.POST("/respond", middleware.RateLimitMiddleware(limiter), handlers.HandleRespond(deps))
			chat.POST("/reset", handlers.HandleReset(deps))
			chat.GET("/profiles", handlers.HandleProfiles(deps))
		}

		admin := api.Group("/admin")
		{
			admin.GET("/usage", handlers.HandleUsage(deps))
		}
	}
}
