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
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-devsub/pkg/adapters"
)

func TestAuditMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	var buf bytes.Buffer
	logger := NewAuditLogger(&Config{Enabled: true, Format: FormatJSON, Output: &buf})

	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Set("request_id", "req-1")
		c.Set(PrincipalKey, &adapters.Principal{ID: "api-key", Name: "API key"})
		c.Next()
	})
	router.Use(AuditMiddleware(logger))
	router.POST("/api/v1/subscriptions/subscribe", func(c *gin.Context) { c.Status(http.StatusConflict) })
	router.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/api/v1/metrics", func(c *gin.Context) { c.Status(http.StatusOK) })

	for _, path := range []string{"/health", "/api/v1/metrics"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	}
	assert.Zero(t, buf.Len(), "health and metrics must not be audited")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/subscriptions/subscribe", nil))

	entry := map[string]any{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, string(EventAPIRequest), entry["event_type"])
	assert.Equal(t, string(ResultFailure), entry["result"])
	assert.Equal(t, "api-key", entry["user_id"])
	assert.Equal(t, "req-1", entry["request_id"])
	assert.Equal(t, float64(http.StatusConflict), entry["status_code"])
}
