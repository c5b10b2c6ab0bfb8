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

package audit

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jeremyhahn/go-devsub/pkg/adapters"
)

// PrincipalKey is the gin context key under which the auth middleware stores
// the authenticated *adapters.Principal.
const PrincipalKey = "principal"

// AuditMiddleware creates a Gin middleware that records every API request
// under /api/. It expects the request id middleware to run first.
func AuditMiddleware(auditLogger AuditLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.Request.URL.Path
		if !shouldAuditRequest(path) {
			return
		}

		event := &AuditEvent{
			Timestamp:  start,
			EventType:  EventAPIRequest,
			Action:     c.Request.Method + " " + path,
			Result:     ResultSuccess,
			IPAddress:  c.ClientIP(),
			RequestID:  c.GetString("request_id"),
			Method:     c.Request.Method,
			StatusCode: c.Writer.Status(),
			Duration:   time.Since(start),
		}
		if v, ok := c.Get(PrincipalKey); ok {
			if p, ok := v.(*adapters.Principal); ok && p != nil {
				event.UserID = p.ID
				event.Principal = p.Name
			}
		}
		if event.StatusCode >= 400 {
			event.Result = ResultFailure
			if len(c.Errors) > 0 {
				event.ErrorMessage = c.Errors.Last().Error()
			}
		}

		_ = auditLogger.LogEvent(c.Request.Context(), event) // #nosec G104 -- audit failures must not fail the request
	}
}

func shouldAuditRequest(path string) bool {
	return strings.HasPrefix(path, "/api/") && !strings.HasSuffix(path, "/metrics")
}
