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
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-devsub/pkg/adapters"
	"github.com/jeremyhahn/go-devsub/pkg/common"
	"github.com/jeremyhahn/go-devsub/pkg/metrics"
	"github.com/jeremyhahn/go-devsub/pkg/registry"
	"github.com/jeremyhahn/go-devsub/pkg/subscription"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeService answers every call with resp and records the requests.
type fakeService struct {
	mu       sync.Mutex
	resp     *subscription.Response
	requests map[string][]subscription.Request
}

func newFakeService(resp *subscription.Response) *fakeService {
	return &fakeService{resp: resp, requests: make(map[string][]subscription.Request)}
}

func (f *fakeService) record(op string, req subscription.Request) *subscription.Response {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests[op] = append(f.requests[op], req)
	cp := *f.resp
	return &cp
}

func (f *fakeService) last(op string) subscription.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	reqs := f.requests[op]
	if len(reqs) == 0 {
		return subscription.Request{}
	}
	return reqs[len(reqs)-1]
}

func (f *fakeService) Subscribe(ctx context.Context, req subscription.Request) *subscription.Response {
	return f.record("subscribe", req)
}

func (f *fakeService) Unsubscribe(ctx context.Context, req subscription.Request) *subscription.Response {
	return f.record("unsubscribe", req)
}

func (f *fakeService) GetStatus(ctx context.Context, req subscription.Request) *subscription.Response {
	return f.record("status", req)
}

func (f *fakeService) Refresh(ctx context.Context, req subscription.Request) *subscription.Response {
	return f.record("refresh", req)
}

func okResponse(devices ...string) *subscription.Response {
	resp := &subscription.Response{Code: subscription.ResultSuccess, Message: "Success"}
	for _, d := range devices {
		resp.Devices = append(resp.Devices, subscription.DeviceResult{
			DeviceID:  d,
			ErrorCode: common.StatusSubscribeAccepted.Int(),
			Message:   common.StatusSubscribeAccepted.DefaultMessage(),
		})
	}
	return resp
}

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg, err := registry.New(
		common.ServiceRegistration{
			LogServiceID:       "0",
			DeviceAPIServiceID: "printer-telemetry",
			CallbackURL:        "https://callback.invalid/notify",
			ObjectIDs:          []string{"1.3.6.1.2.1.43.10.2.1.4.1.1"},
		},
		common.ServiceRegistration{
			LogServiceID:       "7",
			DeviceAPIServiceID: "scanner-telemetry",
			CallbackURL:        "https://callback.invalid/scan",
			ObjectIDs:          []string{"1.3.6.1.4.1.1"},
		},
	)
	require.NoError(t, err)
	return reg
}

func setupTestRouter(t *testing.T, svc SubscriptionService) *gin.Engine {
	t.Helper()
	h, err := NewHandler(HandlerConfig{
		Service:  svc,
		Registry: testRegistry(t),
		Stats: map[string]StatsFunc{
			"dispatcher": func() any { return map[string]int{"queued": 3} },
		},
	})
	require.NoError(t, err)

	router := gin.New()
	SetupRoutes(router, h)
	return router
}

func postJSON(router http.Handler, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeBatch(t *testing.T, w *httptest.ResponseRecorder) subscription.Response {
	t.Helper()
	var resp subscription.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestNewHandler_RequiresCollaborators(t *testing.T) {
	_, err := NewHandler(HandlerConfig{Registry: testRegistry(t)})
	assert.ErrorIs(t, err, ErrServiceRequired)

	_, err = NewHandler(HandlerConfig{Service: newFakeService(okResponse())})
	assert.ErrorIs(t, err, ErrRegistryRequired)

	h, err := NewHandler(HandlerConfig{Service: newFakeService(okResponse()), Registry: testRegistry(t)})
	require.NoError(t, err)
	assert.NotNil(t, h.metrics)
	assert.NotNil(t, h.logger)
}

func TestBatchEndpoints_RouteToService(t *testing.T) {
	for _, op := range []string{"subscribe", "unsubscribe", "status", "refresh"} {
		t.Run(op, func(t *testing.T) {
			svc := newFakeService(okResponse("dev-1"))
			router := setupTestRouter(t, svc)

			w := postJSON(router, "/api/v1/subscriptions/"+op, `{"device_id":["dev-1"],"log_service_id":"7"}`)

			assert.Equal(t, http.StatusOK, w.Code)
			resp := decodeBatch(t, w)
			assert.Equal(t, subscription.ResultSuccess, resp.Code)
			require.Len(t, resp.Devices, 1)
			assert.Equal(t, "dev-1", resp.Devices[0].DeviceID)
			assert.Equal(t, 10, resp.Devices[0].ErrorCode)

			got := svc.last(op)
			assert.Equal(t, []string{"dev-1"}, got.DeviceIDs)
			assert.Equal(t, "7", got.LogServiceID)
		})
	}
}

func TestSubscribe_RequestForms(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		wantDevices []string
		wantService string
		wantPeriod  int
	}{
		{
			name:        "single device string",
			body:        `{"device_id":"dev-1"}`,
			wantDevices: []string{"dev-1"},
		},
		{
			name:        "device array",
			body:        `{"device_id":["a","b"]}`,
			wantDevices: []string{"a", "b"},
		},
		{
			name:        "integer log service",
			body:        `{"device_id":"dev-1","log_service_id":7}`,
			wantDevices: []string{"dev-1"},
			wantService: "7",
		},
		{
			name:        "time period",
			body:        `{"device_id":"dev-1","time_period":60}`,
			wantDevices: []string{"dev-1"},
			wantPeriod:  60,
		},
		{
			name: "null device id",
			body: `{"device_id":null}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newFakeService(okResponse())
			router := setupTestRouter(t, svc)

			postJSON(router, "/api/v1/subscriptions/subscribe", tt.body)

			got := svc.last("subscribe")
			assert.Equal(t, tt.wantDevices, got.DeviceIDs)
			assert.Equal(t, tt.wantService, got.LogServiceID)
			assert.Equal(t, tt.wantPeriod, got.TimePeriod)
		})
	}
}

func TestBatchEndpoints_MalformedBody(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `{device_id`},
		{"device id number", `{"device_id":12}`},
		{"device id object", `{"device_id":{"a":1}}`},
		{"log service bool", `{"device_id":"a","log_service_id":true}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newFakeService(okResponse())
			router := setupTestRouter(t, svc)

			w := postJSON(router, "/api/v1/subscriptions/subscribe", tt.body)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			resp := decodeBatch(t, w)
			assert.Equal(t, subscription.ResultBadRequest, resp.Code)
			assert.Contains(t, resp.Message, "invalid request body")
			assert.NotNil(t, resp.Devices)
			assert.Empty(t, svc.requests["subscribe"])
		})
	}
}

func TestBatchEndpoints_StatusFollowsResultCode(t *testing.T) {
	tests := []struct {
		code subscription.ResultCode
		want int
	}{
		{subscription.ResultSuccess, http.StatusOK},
		{subscription.ResultPartialSuccess, http.StatusMultiStatus},
		{subscription.ResultConflict, http.StatusConflict},
		{subscription.ResultBadRequest, http.StatusBadRequest},
		{subscription.ResultStoreError, http.StatusServiceUnavailable},
		{subscription.ResultError, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.code.Message(), func(t *testing.T) {
			svc := newFakeService(&subscription.Response{Code: tt.code, Message: tt.code.Message()})
			router := setupTestRouter(t, svc)

			w := postJSON(router, "/api/v1/subscriptions/status", `{"device_id":"a"}`)

			assert.Equal(t, tt.want, w.Code)
			resp := decodeBatch(t, w)
			assert.Equal(t, tt.code, resp.Code)
			assert.Equal(t, tt.code.Message(), resp.Message)
		})
	}
}

func TestBatchEndpoints_EmptyDevicesEncodeAsArray(t *testing.T) {
	router := setupTestRouter(t, newFakeService(&subscription.Response{Code: subscription.ResultSuccess}))

	w := postJSON(router, "/api/v1/subscriptions/refresh", `{"device_id":"a"}`)

	assert.Contains(t, w.Body.String(), `"devices":[]`)
}

func TestListServices(t *testing.T) {
	router := setupTestRouter(t, newFakeService(okResponse()))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/services", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp ServicesResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)

	ids := make([]string, 0, len(resp.Services))
	for _, s := range resp.Services {
		ids = append(ids, s.LogServiceID)
	}
	assert.ElementsMatch(t, []string{"0", "7"}, ids)
}

func TestMetricsEndpoint(t *testing.T) {
	m := metrics.New()
	m.RecordRequest(metrics.OpSubscribe, 2, false, 0)
	m.IncrementConflicts()

	h, err := NewHandler(HandlerConfig{
		Service:  newFakeService(okResponse()),
		Registry: testRegistry(t),
		Metrics:  m,
		Stats: map[string]StatsFunc{
			"cache": func() any { return map[string]int{"entries": 4} },
		},
		Logger: adapters.NewNoOpLogger(),
	})
	require.NoError(t, err)
	router := gin.New()
	SetupRoutes(router, h)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/metrics", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Subscription struct {
			Operations map[string]struct {
				Requests int64 `json:"requests"`
				Devices  int64 `json:"devices"`
			} `json:"operations"`
			Conflicts int64 `json:"conflicts"`
		} `json:"subscription"`
		Components map[string]map[string]int `json:"components"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, int64(1), body.Subscription.Operations["subscribe"].Requests)
	assert.Equal(t, int64(2), body.Subscription.Operations["subscribe"].Devices)
	assert.Equal(t, int64(1), body.Subscription.Conflicts)
	assert.Equal(t, 4, body.Components["cache"]["entries"])
}

func TestHealthCheck(t *testing.T) {
	router := setupTestRouter(t, newFakeService(okResponse()))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.NotEmpty(t, resp.Version)
}

func TestNotFound(t *testing.T) {
	router := setupTestRouter(t, newFakeService(okResponse()))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/nope", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, http.StatusNotFound, resp.Code)
	assert.Contains(t, resp.Message, "/api/v1/nope")
}
