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
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/jeremyhahn/go-devsub/pkg/adapters"
)

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained request rate
	RequestsPerSecond float64

	// Burst is the maximum burst size
	Burst int

	// PerIP keys limiters by client IP instead of sharing one
	PerIP bool

	// IdleTTL evicts per-IP limiters unused for this long (default: 10m)
	IdleTTL time.Duration
}

// DefaultRateLimitConfig returns a rate limit config with sensible defaults
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		RequestsPerSecond: 50,
		Burst:             100,
		PerIP:             true,
		IdleTTL:           10 * time.Minute,
	}
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type rateLimiter struct {
	config *RateLimitConfig
	global *rate.Limiter

	mu        sync.Mutex
	clients   map[string]*clientLimiter
	lastSweep time.Time
	now       func() time.Time
}

func newRateLimiter(config *RateLimitConfig) *rateLimiter {
	if config == nil {
		config = DefaultRateLimitConfig()
	}
	if config.IdleTTL <= 0 {
		config.IdleTTL = 10 * time.Minute
	}
	rl := &rateLimiter{
		config:  config,
		clients: make(map[string]*clientLimiter),
		now:     time.Now,
	}
	if !config.PerIP {
		rl.global = rate.NewLimiter(rate.Limit(config.RequestsPerSecond), config.Burst)
	}
	rl.lastSweep = rl.now()
	return rl
}

// allow reports whether a request from clientIP may proceed.
func (rl *rateLimiter) allow(clientIP string) bool {
	if rl.global != nil {
		return rl.global.Allow()
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Sub(rl.lastSweep) > rl.config.IdleTTL {
		for ip, cl := range rl.clients {
			if now.Sub(cl.lastSeen) > rl.config.IdleTTL {
				delete(rl.clients, ip)
			}
		}
		rl.lastSweep = now
	}

	cl, ok := rl.clients[clientIP]
	if !ok {
		cl = &clientLimiter{limiter: rate.NewLimiter(rate.Limit(rl.config.RequestsPerSecond), rl.config.Burst)}
		rl.clients[clientIP] = cl
	}
	cl.lastSeen = now
	return cl.limiter.AllowN(now, 1)
}

func (rl *rateLimiter) size() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

// RateLimitMiddleware rejects requests over the configured rate with 429.
func RateLimitMiddleware(config *RateLimitConfig, logger adapters.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = adapters.NewNoOpLogger()
	}
	return rateLimitHandler(newRateLimiter(config), logger)
}

func rateLimitHandler(limiter *rateLimiter, logger adapters.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		clientIP := c.ClientIP()
		if limiter.allow(clientIP) {
			c.Next()
			return
		}

		logger.Warn(c.Request.Context(), "Rate limit exceeded",
			adapters.Field{Key: "client_ip", Value: clientIP},
			adapters.Field{Key: "path", Value: c.Request.URL.Path},
			adapters.Field{Key: "method", Value: c.Request.Method},
		)
		c.Header("X-RateLimit-Limit", fmt.Sprintf("%.0f", limiter.config.RequestsPerSecond))
		c.Header("X-RateLimit-Burst", fmt.Sprintf("%d", limiter.config.Burst))
		c.Header("Retry-After", "1")
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error":   http.StatusText(http.StatusTooManyRequests),
			"code":    http.StatusTooManyRequests,
			"message": "Too many requests, please try again later",
		})
	}
}
