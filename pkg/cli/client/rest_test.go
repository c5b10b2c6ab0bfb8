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
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jeremyhahn/go-devsub/pkg/subscription"
)

func TestRESTClient_Subscribe(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/api/v1/subscriptions/subscribe" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if key := r.Header.Get("X-Api-Key"); key != "k1" {
			t.Errorf("expected api key k1, got %q", key)
		}

		var body BatchRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if len(body.DeviceIDs) != 2 || body.LogServiceID != "7" || body.TimePeriod != 60 {
			t.Errorf("unexpected body: %+v", body)
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"code":0,"devices":[{"device_id":"a","error_code":10,"message":"Subscribe accepted"},{"device_id":"b","error_code":10,"message":"Subscribe accepted"}],"message":"Success"}`))
	}))
	defer server.Close()

	client, err := NewRESTClient(&Config{ServerURL: server.URL + "/", APIKey: "k1"})
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}

	resp, err := client.Subscribe(context.Background(), &BatchRequest{DeviceIDs: []string{"a", "b"}, LogServiceID: "7", TimePeriod: 60})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if resp.Code != subscription.ResultSuccess {
		t.Errorf("expected success, got %d", resp.Code)
	}
	if len(resp.Devices) != 2 || resp.Devices[1].DeviceID != "b" || resp.Devices[1].ErrorCode != 10 {
		t.Errorf("unexpected devices: %+v", resp.Devices)
	}
}

func TestRESTClient_BatchResultOnErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"code":2,"devices":[{"device_id":"a","error_code":10,"message":"Subscribe accepted"}],"message":"Operation already in progress"}`))
	}))
	defer server.Close()

	client, _ := NewRESTClient(&Config{ServerURL: server.URL})

	for name, call := range map[string]func(context.Context, *BatchRequest) (*subscription.Response, error){
		"unsubscribe": client.Unsubscribe,
		"status":      client.Status,
		"refresh":     client.Refresh,
	} {
		t.Run(name, func(t *testing.T) {
			resp, err := call(context.Background(), &BatchRequest{DeviceIDs: []string{"a"}})
			if err != nil {
				t.Fatalf("expected batch result, got error: %v", err)
			}
			if resp.Code != subscription.ResultConflict {
				t.Errorf("expected conflict, got %d", resp.Code)
			}
			if resp.Message != "Operation already in progress" {
				t.Errorf("unexpected message: %s", resp.Message)
			}
		})
	}
}

func TestRESTClient_PlainErrorBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"Unauthorized","code":401,"message":"Unauthorized"}`))
	}))
	defer server.Close()

	client, _ := NewRESTClient(&Config{ServerURL: server.URL})

	_, err := client.Status(context.Background(), &BatchRequest{DeviceIDs: []string{"a"}})
	if !errors.Is(err, ErrServerError) {
		t.Fatalf("expected ErrServerError, got %v", err)
	}

	_, err = client.Services(context.Background())
	if !errors.Is(err, ErrServerError) {
		t.Errorf("expected ErrServerError from Services, got %v", err)
	}
}

func TestRESTClient_Services(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/services" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"services":[{"log_service_id":"0","device_api_service_id":"printer-telemetry","callback_url":"https://cb.invalid","oids":["1.2.3"]}],"count":1}`))
	}))
	defer server.Close()

	client, _ := NewRESTClient(&Config{ServerURL: server.URL})

	services, err := client.Services(context.Background())
	if err != nil {
		t.Fatalf("Services failed: %v", err)
	}
	if len(services) != 1 || services[0].DeviceAPIServiceID != "printer-telemetry" || services[0].ObjectIDs[0] != "1.2.3" {
		t.Errorf("unexpected services: %+v", services)
	}
}

func TestRESTClient_MetricsAndHealth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			_, _ = w.Write([]byte(`{"status":"healthy","version":"0.1.0-dev"}`))
		case "/api/v1/metrics":
			_, _ = w.Write([]byte(`{"subscription":{"conflicts":3}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client, _ := NewRESTClient(&Config{ServerURL: server.URL})
	defer func() { _ = client.Close() }()

	health, err := client.Health(context.Background())
	if err != nil {
		t.Fatalf("Health failed: %v", err)
	}
	if health["status"] != "healthy" {
		t.Errorf("unexpected health: %v", health)
	}

	m, err := client.Metrics(context.Background())
	if err != nil {
		t.Fatalf("Metrics failed: %v", err)
	}
	sub, ok := m["subscription"].(map[string]any)
	if !ok || sub["conflicts"] != float64(3) {
		t.Errorf("unexpected metrics: %v", m)
	}
}

func TestRESTClient_HealthDown(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client, _ := NewRESTClient(&Config{ServerURL: server.URL})
	if _, err := client.Health(context.Background()); !errors.Is(err, ErrServerNotServing) {
		t.Errorf("expected ErrServerNotServing, got %v", err)
	}
}

func TestNewClient(t *testing.T) {
	tests := []struct {
		name    string
		config  *Config
		wantErr error
	}{
		{"nil config", nil, ErrConfigRequired},
		{"missing url", &Config{}, ErrServerURLRequired},
		{"default protocol", &Config{ServerURL: "http://localhost:8080"}, nil},
		{"https", &Config{ServerURL: "https://devsub.invalid", Protocol: "https"}, nil},
		{"grpc", &Config{ServerURL: "localhost:9090", Protocol: "grpc"}, ErrUnsupportedProtocol},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewClient(tt.config)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if _, ok := c.(*RESTClient); !ok {
				t.Errorf("expected *RESTClient, got %T", c)
			}
		})
	}
}
