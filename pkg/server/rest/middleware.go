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

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jeremyhahn/go-devsub/pkg/adapters"
	"github.com/jeremyhahn/go-devsub/pkg/audit"
	"github.com/jeremyhahn/go-devsub/pkg/server/middleware"
)

// CORSMiddleware handles Cross-Origin Resource Sharing
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Authorization, Accept, Origin, X-Api-Key, X-Request-ID")
		h.Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		h.Set("Access-Control-Expose-Headers", "Content-Length, X-Request-ID")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// LoggingMiddleware logs incoming requests and their response times
func LoggingMiddleware(logger adapters.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()

		c.Next()

		statusCode := c.Writer.Status()
		fields := []adapters.Field{
			{Key: "method", Value: c.Request.Method},
			{Key: "path", Value: c.Request.URL.Path},
			{Key: "status", Value: statusCode},
			{Key: "latency", Value: time.Since(startTime).String()},
			{Key: "client_ip", Value: c.ClientIP()},
		}

		// the request id reaches the logger through the request context
		ctx := c.Request.Context()
		switch {
		case statusCode >= 500:
			logger.Error(ctx, "HTTP request completed", fields...)
		case statusCode >= 400:
			logger.Warn(ctx, "HTTP request completed", fields...)
		default:
			logger.Info(ctx, "HTTP request completed", fields...)
		}
	}
}

// ErrorHandlingMiddleware turns a handler panic into a 500 response
func ErrorHandlingMiddleware(logger adapters.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Error(c.Request.Context(), "Panic recovered",
					adapters.Field{Key: "panic", Value: fmt.Sprint(err)},
					adapters.Field{Key: "path", Value: c.Request.URL.Path})
				RespondWithError(c, http.StatusInternalServerError, "Internal server error")
				c.Abort()
			}
		}()

		c.Next()
	}
}

// RequestSizeLimitMiddleware limits the maximum size of request bodies
func RequestSizeLimitMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodPost || c.Request.Method == http.MethodPut {
			if c.Request.ContentLength > maxSize {
				RespondWithError(c, http.StatusRequestEntityTooLarge, "Request entity too large")
				c.Abort()
				return
			}
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		}

		c.Next()
	}
}

// AuthenticationMiddleware authenticates requests under /api/ using the
// provided authenticator. The health check stays open.
func AuthenticationMiddleware(authenticator adapters.Authenticator, logger adapters.Logger, auditLogger audit.AuditLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/health" {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		requestID := middleware.RequestIDFromContext(ctx)
		principal, err := authenticator.AuthenticateHTTP(ctx, c.Request)
		if err != nil {
			logger.Warn(ctx, "Authentication failed",
				adapters.ErrorField(err),
				adapters.Field{Key: "path", Value: c.Request.URL.Path},
				adapters.Field{Key: "method", Value: c.Request.Method},
			)
			if auditLogger != nil {
				_ = auditLogger.LogAuthFailure(ctx, "", "", c.ClientIP(), requestID, err.Error()) // #nosec G104 -- audit failures must not fail the request
			}
			RespondWithError(c, http.StatusUnauthorized, "Unauthorized")
			c.Abort()
			return
		}

		c.Set(audit.PrincipalKey, principal)
		if auditLogger != nil {
			_ = auditLogger.LogAuthSuccess(ctx, principal.ID, principal.Name, c.ClientIP(), requestID) // #nosec G104 -- audit failures must not fail the request
		}

		c.Next()
	}
}
