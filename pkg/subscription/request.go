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

package subscription

import (
	"fmt"

	"github.com/jeremyhahn/go-devsub/pkg/common"
)

const (
	// DefaultLogServiceID is used when a request names no log service.
	DefaultLogServiceID = "0"

	// DefaultMaxBatchSize is the default limit on devices per request.
	DefaultMaxBatchSize = 100

	// Reporting period bounds, in minutes.
	DefaultTimePeriod = 30
	MinTimePeriod     = 30
	MaxTimePeriod     = 300
)

// Request is a batch operation on devices of one log service.
type Request struct {
	DeviceIDs    []string
	LogServiceID string

	// TimePeriod is the reporting period in minutes. Subscribe only.
	TimePeriod int
}

// DeviceResult is the per-device part of a response.
type DeviceResult struct {
	DeviceID  string `json:"device_id"`
	ErrorCode int    `json:"error_code"`
	Message   string `json:"message"`
}

// Response is the result of a batch operation. Devices are in request order.
type Response struct {
	Code    ResultCode     `json:"code"`
	Devices []DeviceResult `json:"devices"`
	Message string         `json:"message"`
}

// ClampTimePeriod returns minutes within [MinTimePeriod, MaxTimePeriod];
// zero or negative selects DefaultTimePeriod.
func ClampTimePeriod(minutes int) int {
	switch {
	case minutes <= 0:
		return DefaultTimePeriod
	case minutes < MinTimePeriod:
		return MinTimePeriod
	case minutes > MaxTimePeriod:
		return MaxTimePeriod
	default:
		return minutes
	}
}

// normalize validates req and resolves its registration. Duplicate device
// ids collapse to their first occurrence.
func (m *Manager) normalize(req Request) (Request, common.ServiceRegistration, error) {
	ids := common.DedupeIDs(req.DeviceIDs)
	if len(ids) == 0 {
		return req, common.ServiceRegistration{}, common.ErrEmptyDeviceList
	}
	if len(ids) > m.maxBatch {
		return req, common.ServiceRegistration{}, fmt.Errorf("%w: %d > %d", common.ErrBatchTooLarge, len(ids), m.maxBatch)
	}
	for _, id := range ids {
		if err := common.ValidateDeviceID(id); err != nil {
			return req, common.ServiceRegistration{}, err
		}
	}

	svc := req.LogServiceID
	if svc == "" {
		svc = DefaultLogServiceID
	}
	if err := common.ValidateLogServiceID(svc); err != nil {
		return req, common.ServiceRegistration{}, err
	}
	reg, ok := m.registry.Get(svc)
	if !ok {
		return req, common.ServiceRegistration{}, fmt.Errorf("%w: %s", common.ErrServiceNotFound, svc)
	}

	return Request{
		DeviceIDs:    ids,
		LogServiceID: svc,
		TimePeriod:   ClampTimePeriod(req.TimePeriod),
	}, reg, nil
}
