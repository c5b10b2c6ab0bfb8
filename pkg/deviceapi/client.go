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

package deviceapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/jeremyhahn/go-devsub/pkg/adapters"
	"github.com/jeremyhahn/go-devsub/pkg/common"
)

const (
	// DefaultTimeout bounds every device API call.
	DefaultTimeout = 10 * time.Second

	maxResponseBytes = 1 << 20
)

// Config configures a Client.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration

	// Rate is the maximum calls per second across all operations.
	// Zero disables limiting.
	Rate  float64
	Burst int

	Logger     adapters.Logger
	HTTPClient *http.Client
}

// Client calls the device API over HTTP JSON.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     adapters.Logger
}

var _ common.DeviceAPI = (*Client)(nil)

// NewClient creates a device API client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, common.ErrBaseURLNotSet
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = adapters.NewNoOpLogger()
	}
	// the caller's client may be shared, so the timeout goes on a copy
	httpClient := &http.Client{}
	if cfg.HTTPClient != nil {
		*httpClient = *cfg.HTTPClient
	}
	httpClient.Timeout = cfg.Timeout

	var limiter *rate.Limiter
	if cfg.Rate > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.Rate), burst)
	}

	return &Client{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: httpClient,
		limiter:    limiter,
		logger:     cfg.Logger,
	}, nil
}

// Subscribe implements common.DeviceAPI.
func (c *Client) Subscribe(ctx context.Context, req *common.SubscribeCall) (*common.CallResult, error) {
	var out common.CallResult
	if err := c.post(ctx, "subscribe", "/subscribe", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Unsubscribe implements common.DeviceAPI.
func (c *Client) Unsubscribe(ctx context.Context, req *common.UnsubscribeCall) (*common.CallResult, error) {
	var out common.CallResult
	if err := c.post(ctx, "unsubscribe", "/unsubscribe", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetNotificationResult implements common.DeviceAPI.
func (c *Client) GetNotificationResult(ctx context.Context, req *common.NotificationCall) (*common.NotificationResult, error) {
	var out common.NotificationResult
	if err := c.post(ctx, "get-notification-result", "/notification-result", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) post(ctx context.Context, op, path string, in, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return &TransportError{Op: op, Err: err}
		}
	}

	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set(adapters.APIKeyHeader, c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	c.logger.Debug(ctx, "Device API call completed",
		adapters.Field{Key: "operation", Value: op},
		adapters.Field{Key: "status", Value: resp.StatusCode},
		adapters.Field{Key: "latency", Value: time.Since(start).String()})

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &TransportError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%w: %s", ErrUnexpectedStatus, strings.TrimSpace(string(msg))),
		}
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(out); err != nil {
		return &TransportError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
