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
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jeremyhahn/go-devsub/pkg/common"
	"github.com/jeremyhahn/go-devsub/pkg/metrics"
	"github.com/jeremyhahn/go-devsub/pkg/subscription"
)

// ErrorResponse represents a standard error response
type ErrorResponse struct {
	Error   string `json:"error" example:"Unauthorized"`
	Code    int    `json:"code" example:"401"`
	Message string `json:"message,omitempty" example:"detailed error description"`
} // @name ErrorResponse

// HealthResponse represents the health check response
type HealthResponse struct {
	Status  string `json:"status" example:"healthy"`
	Version string `json:"version,omitempty" example:"0.1.0"`
	Commit  string `json:"commit,omitempty" example:"a1b2c3d"`
} // @name HealthResponse

// ServicesResponse lists the registered log services
type ServicesResponse struct {
	Services []common.ServiceRegistration `json:"services"`
	Count    int                          `json:"count" example:"2"`
} // @name ServicesResponse

// MetricsResponse carries service counters and per-component statistics
type MetricsResponse struct {
	Subscription metrics.Snapshot `json:"subscription"`
	Components   map[string]any   `json:"components,omitempty"`
} // @name MetricsResponse

// RespondWithError sends a standard error response
func RespondWithError(c *gin.Context, code int, message string) {
	c.JSON(code, ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

// RespondWithBatch sends a batch result with the HTTP status of its code.
func RespondWithBatch(c *gin.Context, resp *subscription.Response) {
	if resp.Devices == nil {
		resp.Devices = []subscription.DeviceResult{}
	}
	c.JSON(resp.Code.HTTPStatus(), resp)
}

// RespondWithBadRequest sends a batch-shaped bad request result.
func RespondWithBadRequest(c *gin.Context, message string) {
	RespondWithBatch(c, &subscription.Response{
		Code:    subscription.ResultBadRequest,
		Message: message,
	})
}
