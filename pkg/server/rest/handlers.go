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
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jeremyhahn/go-devsub/pkg/adapters"
	"github.com/jeremyhahn/go-devsub/pkg/common"
	"github.com/jeremyhahn/go-devsub/pkg/metrics"
	"github.com/jeremyhahn/go-devsub/pkg/subscription"
	"github.com/jeremyhahn/go-devsub/pkg/version"
)

var (
	// ErrServiceRequired is returned when no subscription service is configured.
	ErrServiceRequired = errors.New("subscription service is required")

	// ErrRegistryRequired is returned when no service registry is configured.
	ErrRegistryRequired = errors.New("service registry is required")
)

// SubscriptionService is the subscription lifecycle API served over HTTP.
type SubscriptionService interface {
	Subscribe(ctx context.Context, req subscription.Request) *subscription.Response
	Unsubscribe(ctx context.Context, req subscription.Request) *subscription.Response
	GetStatus(ctx context.Context, req subscription.Request) *subscription.Response
	Refresh(ctx context.Context, req subscription.Request) *subscription.Response
}

// StatsFunc returns a JSON-encodable snapshot of one component.
type StatsFunc func() any

// HandlerConfig wires a Handler to the service.
type HandlerConfig struct {
	Service  SubscriptionService
	Registry common.Registry
	Metrics  *metrics.Metrics

	// Stats are reported under their key by the metrics endpoint.
	Stats map[string]StatsFunc

	Logger adapters.Logger
}

// Handler serves the subscription API
type Handler struct {
	service  SubscriptionService
	registry common.Registry
	metrics  *metrics.Metrics
	stats    map[string]StatsFunc
	logger   adapters.Logger
}

// NewHandler creates a new Handler instance
func NewHandler(cfg HandlerConfig) (*Handler, error) {
	if cfg.Service == nil {
		return nil, ErrServiceRequired
	}
	if cfg.Registry == nil {
		return nil, ErrRegistryRequired
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = adapters.NewNoOpLogger()
	}
	return &Handler{
		service:  cfg.Service,
		registry: cfg.Registry,
		metrics:  cfg.Metrics,
		stats:    cfg.Stats,
		logger:   cfg.Logger,
	}, nil
}

type batchFunc func(ctx context.Context, req subscription.Request) *subscription.Response

func (h *Handler) batch(c *gin.Context, op string, fn batchFunc) {
	var body SubscriptionRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		h.logger.Warn(c.Request.Context(), "Malformed request body",
			adapters.Field{Key: "operation", Value: op},
			adapters.ErrorField(err))
		RespondWithBadRequest(c, "invalid request body: "+err.Error())
		return
	}
	RespondWithBatch(c, fn(c.Request.Context(), body.toRequest()))
}

// Subscribe handles subscription requests
// @Summary Subscribe devices
// @Description Record a subscription for each device and reconcile it with the device API asynchronously
// @Tags subscriptions
// @Accept json
// @Produce json
// @Param request body SubscriptionRequest true "Devices to subscribe"
// @Success 200 {object} subscription.Response
// @Success 207 {object} subscription.Response
// @Failure 400 {object} subscription.Response
// @Failure 409 {object} subscription.Response
// @Failure 503 {object} subscription.Response
// @Router /subscriptions/subscribe [post]
func (h *Handler) Subscribe(c *gin.Context) {
	h.batch(c, metrics.OpSubscribe, h.service.Subscribe)
}

// Unsubscribe handles unsubscription requests
// @Summary Unsubscribe devices
// @Tags subscriptions
// @Accept json
// @Produce json
// @Param request body SubscriptionRequest true "Devices to unsubscribe"
// @Success 200 {object} subscription.Response
// @Router /subscriptions/unsubscribe [post]
func (h *Handler) Unsubscribe(c *gin.Context) {
	h.batch(c, metrics.OpUnsubscribe, h.service.Unsubscribe)
}

// Status handles status queries. Confirmed subscriptions are polled on
// the device API before answering.
// @Summary Subscription status
// @Tags subscriptions
// @Accept json
// @Produce json
// @Param request body SubscriptionRequest true "Devices to query"
// @Success 200 {object} subscription.Response
// @Router /subscriptions/status [post]
func (h *Handler) Status(c *gin.Context) {
	h.batch(c, metrics.OpStatus, h.service.GetStatus)
}

// Refresh schedules notification polls without waiting for them
// @Summary Refresh subscription status
// @Tags subscriptions
// @Accept json
// @Produce json
// @Param request body SubscriptionRequest true "Devices to refresh"
// @Success 200 {object} subscription.Response
// @Router /subscriptions/refresh [post]
func (h *Handler) Refresh(c *gin.Context) {
	h.batch(c, metrics.OpRefresh, h.service.Refresh)
}

// ListServices returns the registered log services
// @Summary List log services
// @Tags services
// @Produce json
// @Success 200 {object} ServicesResponse
// @Router /services [get]
func (h *Handler) ListServices(c *gin.Context) {
	services := h.registry.List()
	c.JSON(http.StatusOK, ServicesResponse{Services: services, Count: len(services)})
}

// Metrics returns service counters and component statistics
// @Summary Metrics
// @Tags metrics
// @Produce json
// @Success 200 {object} MetricsResponse
// @Router /metrics [get]
func (h *Handler) Metrics(c *gin.Context) {
	resp := MetricsResponse{Subscription: h.metrics.Snapshot()}
	if len(h.stats) > 0 {
		resp.Components = make(map[string]any, len(h.stats))
		for name, fn := range h.stats {
			resp.Components[name] = fn()
		}
	}
	c.JSON(http.StatusOK, resp)
}

// HealthCheck handles health check requests
// @Summary Health check
// @Tags health
// @Produce json
// @Success 200 {object} HealthResponse
// @Router /health [get]
func (h *Handler) HealthCheck(c *gin.Context) {
	info := version.Build()
	c.JSON(http.StatusOK, HealthResponse{
		Status:  "healthy",
		Version: info.Version,
		Commit:  info.Commit,
	})
}

// NotFound answers unknown routes
func (h *Handler) NotFound(c *gin.Context) {
	RespondWithError(c, http.StatusNotFound, "no route for "+c.Request.Method+" "+c.Request.URL.Path)
}
