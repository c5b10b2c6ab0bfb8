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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jeremyhahn/go-devsub/pkg/adapters"
	"github.com/jeremyhahn/go-devsub/pkg/common"
	"github.com/jeremyhahn/go-devsub/pkg/subscription"
)

const defaultTimeout = 30 * time.Second

// RESTClient implements the Client interface for the REST API
type RESTClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

var _ Client = (*RESTClient)(nil)

// NewRESTClient creates a new REST client
func NewRESTClient(config *Config) (*RESTClient, error) {
	if config.ServerURL == "" {
		return nil, ErrServerURLRequired
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &RESTClient{
		baseURL:    strings.TrimSuffix(config.ServerURL, "/"),
		apiKey:     config.APIKey,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// Subscribe subscribes devices
func (c *RESTClient) Subscribe(ctx context.Context, req *BatchRequest) (*subscription.Response, error) {
	return c.batch(ctx, "subscribe", req)
}

// Unsubscribe unsubscribes devices
func (c *RESTClient) Unsubscribe(ctx context.Context, req *BatchRequest) (*subscription.Response, error) {
	return c.batch(ctx, "unsubscribe", req)
}

// Status queries device status
func (c *RESTClient) Status(ctx context.Context, req *BatchRequest) (*subscription.Response, error) {
	return c.batch(ctx, "status", req)
}

// Refresh schedules notification polls
func (c *RESTClient) Refresh(ctx context.Context, req *BatchRequest) (*subscription.Response, error) {
	return c.batch(ctx, "refresh", req)
}

// batchBody distinguishes a batch result from a plain error body: only the
// former carries a devices array.
type batchBody struct {
	Code    subscription.ResultCode      `json:"code"`
	Devices *[]subscription.DeviceResult `json:"devices"`
	Message string                       `json:"message"`
}

// batch posts req. Batch results are returned whatever their HTTP status;
// any other non-2xx answer is an error.
func (c *RESTClient) batch(ctx context.Context, op string, req *BatchRequest) (*subscription.Response, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/api/v1/subscriptions/%s", c.baseURL, op)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.do(httpReq)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var out batchBody
	if err := json.Unmarshal(body, &out); err != nil || out.Devices == nil {
		return nil, serverError(resp.StatusCode, body)
	}
	return &subscription.Response{Code: out.Code, Devices: *out.Devices, Message: out.Message}, nil
}

// Services lists the registered log services
func (c *RESTClient) Services(ctx context.Context) ([]common.ServiceRegistration, error) {
	var out struct {
		Services []common.ServiceRegistration `json:"services"`
	}
	if err := c.getJSON(ctx, "/api/v1/services", &out); err != nil {
		return nil, err
	}
	return out.Services, nil
}

// Metrics returns the service metrics
func (c *RESTClient) Metrics(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	if err := c.getJSON(ctx, "/api/v1/metrics", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Health checks the health of the server
func (c *RESTClient) Health(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	if err := c.getJSON(ctx, "/health", &out); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrServerNotServing, err)
	}
	return out, nil
}

// Close closes the client (no-op for REST)
func (c *RESTClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func (c *RESTClient) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, http.NoBody)
	if err != nil {
		return err
	}

	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body) //nolint:errcheck // best effort error detail
		return serverError(resp.StatusCode, body)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *RESTClient) do(req *http.Request) (*http.Response, error) {
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set(adapters.APIKeyHeader, c.apiKey)
	}
	return c.httpClient.Do(req)
}

func serverError(status int, body []byte) error {
	if len(body) > 0 {
		return fmt.Errorf("%w %d: %s", ErrServerError, status, strings.TrimSpace(string(body)))
	}
	return fmt.Errorf("%w %d", ErrServerError, status)
}
