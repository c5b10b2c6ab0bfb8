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

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/jeremyhahn/go-devsub/pkg/adapters"
)

func newLimitedRouter(limiter *rateLimiter) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(rateLimitHandler(limiter, adapters.NewNoOpLogger()))
	router.GET("/test", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "success"})
	})
	return router
}

func get(router *gin.Engine, remoteAddr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.RemoteAddr = remoteAddr
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestRateLimitMiddleware(t *testing.T) {
	t.Run("allows requests within burst", func(t *testing.T) {
		router := newLimitedRouter(newRateLimiter(&RateLimitConfig{RequestsPerSecond: 1, Burst: 5}))
		for i := 0; i < 5; i++ {
			assert.Equal(t, http.StatusOK, get(router, "10.0.0.1:1000").Code)
		}
	})

	t.Run("blocks requests over the limit", func(t *testing.T) {
		router := newLimitedRouter(newRateLimiter(&RateLimitConfig{RequestsPerSecond: 1, Burst: 2}))
		get(router, "10.0.0.1:1000")
		get(router, "10.0.0.1:1000")

		w := get(router, "10.0.0.1:1000")
		assert.Equal(t, http.StatusTooManyRequests, w.Code)
		assert.Equal(t, "1", w.Header().Get("Retry-After"))
		assert.Equal(t, "2", w.Header().Get("X-RateLimit-Burst"))
		assert.Contains(t, w.Body.String(), "Too many requests")
	})

	t.Run("per ip limits are independent", func(t *testing.T) {
		router := newLimitedRouter(newRateLimiter(&RateLimitConfig{RequestsPerSecond: 1, Burst: 1, PerIP: true}))

		assert.Equal(t, http.StatusOK, get(router, "10.0.0.1:1000").Code)
		assert.Equal(t, http.StatusTooManyRequests, get(router, "10.0.0.1:1000").Code)
		assert.Equal(t, http.StatusOK, get(router, "10.0.0.2:1000").Code)
	})

	t.Run("global limit is shared", func(t *testing.T) {
		router := newLimitedRouter(newRateLimiter(&RateLimitConfig{RequestsPerSecond: 1, Burst: 1}))

		assert.Equal(t, http.StatusOK, get(router, "10.0.0.1:1000").Code)
		assert.Equal(t, http.StatusTooManyRequests, get(router, "10.0.0.2:1000").Code)
	})

	t.Run("nil logger and config", func(t *testing.T) {
		gin.SetMode(gin.TestMode)
		router := gin.New()
		router.Use(RateLimitMiddleware(nil, nil))
		router.GET("/test", func(c *gin.Context) { c.Status(http.StatusNoContent) })

		assert.Equal(t, http.StatusNoContent, get(router, "10.0.0.1:1000").Code)
	})
}

func TestRateLimiterEvictsIdleClients(t *testing.T) {
	now := time.Unix(1700000000, 0)
	rl := newRateLimiter(&RateLimitConfig{RequestsPerSecond: 1, Burst: 1, PerIP: true, IdleTTL: time.Minute})
	rl.now = func() time.Time { return now }
	rl.lastSweep = now

	rl.allow("10.0.0.1")
	rl.allow("10.0.0.2")
	assert.Equal(t, 2, rl.size())

	now = now.Add(30 * time.Second)
	rl.allow("10.0.0.2")

	now = now.Add(45 * time.Second)
	rl.allow("10.0.0.3")
	assert.Equal(t, 2, rl.size())
}

func TestDefaultRateLimitConfig(t *testing.T) {
	config := DefaultRateLimitConfig()
	assert.Equal(t, 50.0, config.RequestsPerSecond)
	assert.Equal(t, 100, config.Burst)
	assert.True(t, config.PerIP)
	assert.Equal(t, 10*time.Minute, config.IdleTTL)
}
