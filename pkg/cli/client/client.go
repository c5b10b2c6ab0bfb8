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

package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jeremyhahn/go-devsub/pkg/common"
	"github.com/jeremyhahn/go-devsub/pkg/subscription"
)

var (
	ErrConfigRequired      = errors.New("client config is required")
	ErrUnsupportedProtocol = errors.New("unsupported protocol")
	ErrServerURLRequired   = errors.New("server URL is required")

	// ErrServerError wraps any answer that is neither a batch result nor 200.
	ErrServerError      = errors.New("server returned error")
	ErrServerNotServing = errors.New("server not serving")
)

// Client defines the interface for calling a running subscription service.
type Client interface {
	// Batch operations
	Subscribe(ctx context.Context, req *BatchRequest) (*subscription.Response, error)
	Unsubscribe(ctx context.Context, req *BatchRequest) (*subscription.Response, error)
	Status(ctx context.Context, req *BatchRequest) (*subscription.Response, error)
	Refresh(ctx context.Context, req *BatchRequest) (*subscription.Response, error)

	// Services lists the registered log services
	Services(ctx context.Context) ([]common.ServiceRegistration, error)

	// Metrics returns the raw metrics document
	Metrics(ctx context.Context) (map[string]any, error)

	// Health check
	Health(ctx context.Context) (map[string]any, error)

	// Close the client connection
	Close() error
}

// BatchRequest is the body shared by the subscription endpoints.
type BatchRequest struct {
	DeviceIDs    []string `json:"device_id"`
	LogServiceID string   `json:"log_service_id,omitempty"`
	TimePeriod   int      `json:"time_period,omitempty"`
}

// Config holds configuration for creating a client
type Config struct {
	ServerURL string
	Protocol  string // "rest" (or "http", "https"); empty selects rest
	APIKey    string
	Timeout   time.Duration // Default: 30s
}

// NewClient returns the client for config.Protocol. The service only
// speaks REST.
func NewClient(config *Config) (Client, error) {
	if config == nil {
		return nil, ErrConfigRequired
	}
	switch config.Protocol {
	case "", "rest", "http", "https":
		return NewRESTClient(config)
	}
	return nil, fmt.Errorf("%w %q (supported: rest)", ErrUnsupportedProtocol, config.Protocol)
}
