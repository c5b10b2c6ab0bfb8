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

import "github.com/gin-gonic/gin"

// SecurityHeadersConfig lists the response headers set on every reply.
// Empty values are omitted.
type SecurityHeadersConfig struct {
	ContentTypeOptions    string
	FrameOptions          string
	ContentSecurityPolicy string
	ReferrerPolicy        string
	CacheControl          string
}

// DefaultSecurityHeadersConfig suits a JSON-only API: nothing is framed,
// sniffed, embedded or cached.
func DefaultSecurityHeadersConfig() *SecurityHeadersConfig {
	return &SecurityHeadersConfig{
		ContentTypeOptions:    "nosniff",
		FrameOptions:          "DENY",
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'",
		ReferrerPolicy:        "no-referrer",
		CacheControl:          "no-store",
	}
}

func (c *SecurityHeadersConfig) headers() [][2]string {
	all := [][2]string{
		{"X-Content-Type-Options", c.ContentTypeOptions},
		{"X-Frame-Options", c.FrameOptions},
		{"Content-Security-Policy", c.ContentSecurityPolicy},
		{"Referrer-Policy", c.ReferrerPolicy},
		{"Cache-Control", c.CacheControl},
	}
	out := all[:0]
	for _, h := range all {
		if h[1] != "" {
			out = append(out, h)
		}
	}
	return out
}

// SecurityHeadersMiddleware sets the configured headers before the handler runs.
func SecurityHeadersMiddleware(config *SecurityHeadersConfig) gin.HandlerFunc {
	if config == nil {
		config = DefaultSecurityHeadersConfig()
	}
	headers := config.headers()
	return func(c *gin.Context) {
		for _, h := range headers {
			c.Header(h[0], h[1])
		}
		c.Next()
	}
}
