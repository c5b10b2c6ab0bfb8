// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-devsub.
//
// go-devsub is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package rest

import "github.com/gin-gonic/gin"

// SetupRoutes configures all routes for the REST API
func SetupRoutes(router *gin.Engine, handler *Handler) {
	// Health check endpoint (no auth required)
	router.GET("/health", handler.HealthCheck)

	v1 := router.Group("/api/v1")
	{
		subscriptions := v1.Group("/subscriptions")
		{
			subscriptions.POST("/subscribe", handler.Subscribe)
			subscriptions.POST("/unsubscribe", handler.Unsubscribe)
			subscriptions.POST("/status", handler.Status)
			subscriptions.POST("/refresh", handler.Refresh)
		}

		v1.GET("/services", handler.ListServices)
		v1.GET("/metrics", handler.Metrics)
	}

	router.NoRoute(handler.NotFound)
}
