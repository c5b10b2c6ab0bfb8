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
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jeremyhahn/go-devsub/pkg/adapters"
	"github.com/jeremyhahn/go-devsub/pkg/audit"
	"github.com/jeremyhahn/go-devsub/pkg/server"
	"github.com/jeremyhahn/go-devsub/pkg/server/middleware"
)

// Server is the HTTP front end of the subscription service.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	handler    *Handler
	config     *ServerConfig
}

// ServerConfig controls the listener and the middleware chain. Zero
// timeouts disable the corresponding limit.
type ServerConfig struct {
	Host string
	Port int
	Mode string // gin mode: debug, release or test

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// MaxRequestSize caps POST bodies; zero disables the check.
	MaxRequestSize int64

	EnableRequestID       bool
	EnableCORS            bool
	EnableLogging         bool
	EnableSecurityHeaders bool
	SecurityHeadersConfig *middleware.SecurityHeadersConfig
	EnableRateLimit       bool
	RateLimitConfig       *middleware.RateLimitConfig

	Logger        adapters.Logger
	Authenticator adapters.Authenticator // nil allows every caller

	// EnableAudit records one audit event per /api/ request.
	EnableAudit bool
	AuditLogger audit.AuditLogger
}

// DefaultServerConfig listens on all interfaces at server.DefaultPort
// with every middleware except rate limiting.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Host:                  "0.0.0.0",
		Port:                  server.DefaultPort,
		Mode:                  gin.ReleaseMode,
		ReadTimeout:           server.DefaultReadTimeout,
		WriteTimeout:          server.DefaultWriteTimeout,
		IdleTimeout:           server.DefaultIdleTimeout,
		MaxRequestSize:        server.MaxRequestBodySize,
		EnableRequestID:       true,
		EnableCORS:            true,
		EnableLogging:         true,
		EnableSecurityHeaders: true,
		SecurityHeadersConfig: middleware.DefaultSecurityHeadersConfig(),
		RateLimitConfig:       middleware.DefaultRateLimitConfig(),
		Logger:                adapters.NewDefaultLogger(),
		Authenticator:         adapters.NewNoOpAuthenticator(),
		EnableAudit:           true,
		AuditLogger:           audit.NewDefaultAuditLogger(),
	}
}

// NewServer builds the router for the service described by handlerConfig.
// A nil config selects DefaultServerConfig.
func NewServer(handlerConfig HandlerConfig, config *ServerConfig) (*Server, error) {
	if config == nil {
		config = DefaultServerConfig()
	}
	if config.Logger == nil {
		config.Logger = adapters.NewDefaultLogger()
	}
	if config.Authenticator == nil {
		config.Authenticator = adapters.NewNoOpAuthenticator()
	}
	switch {
	case !config.EnableAudit:
		config.AuditLogger = audit.NewNoOpAuditLogger()
	case config.AuditLogger == nil:
		config.AuditLogger = audit.NewDefaultAuditLogger()
	}
	if handlerConfig.Logger == nil {
		handlerConfig.Logger = config.Logger
	}

	handler, err := NewHandler(handlerConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create handler: %w", err)
	}

	gin.SetMode(config.Mode)
	router := gin.New()
	router.Use(gin.Recovery(), ErrorHandlingMiddleware(config.Logger))

	// request id first so that every later middleware can log it
	if config.EnableRequestID {
		router.Use(middleware.RequestIDMiddleware())
	}
	if config.EnableRateLimit {
		router.Use(middleware.RateLimitMiddleware(config.RateLimitConfig, config.Logger))
	}
	if config.EnableSecurityHeaders {
		router.Use(middleware.SecurityHeadersMiddleware(config.SecurityHeadersConfig))
	}
	if config.EnableCORS {
		router.Use(CORSMiddleware())
	}
	if config.EnableAudit {
		router.Use(audit.AuditMiddleware(config.AuditLogger))
	}
	router.Use(AuthenticationMiddleware(config.Authenticator, config.Logger, config.AuditLogger))
	if config.EnableLogging {
		router.Use(LoggingMiddleware(config.Logger))
	}
	if config.MaxRequestSize > 0 {
		router.Use(RequestSizeLimitMiddleware(config.MaxRequestSize))
	}

	SetupRoutes(router, handler)

	return &Server{
		router:  router,
		handler: handler,
		config:  config,
		httpServer: &http.Server{
			Addr:              net.JoinHostPort(config.Host, fmt.Sprint(config.Port)),
			Handler:           router,
			ReadTimeout:       config.ReadTimeout,
			ReadHeaderTimeout: config.ReadTimeout,
			WriteTimeout:      config.WriteTimeout,
			IdleTimeout:       config.IdleTimeout,
		},
	}, nil
}

// Start serves until Shutdown. A clean shutdown returns nil.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.httpServer.Addr, err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.config.Logger.Info(context.Background(), "Starting REST API server",
		adapters.Field{Key: "address", Value: ln.Addr().String()},
	)
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.config.Logger.Info(ctx, "Shutting down REST API server")
	return s.httpServer.Shutdown(ctx)
}

// Router returns the gin engine.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Handler returns the API handler.
func (s *Server) Handler() *Handler {
	return s.handler
}

// Address returns the configured listen address.
func (s *Server) Address() string {
	return s.httpServer.Addr
}
