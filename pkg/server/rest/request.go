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
	"encoding/json"
	"errors"
	"strconv"

	"github.com/jeremyhahn/go-devsub/pkg/subscription"
)

var (
	// ErrInvalidDeviceIDs is returned when device_id is neither a string nor a list of strings.
	ErrInvalidDeviceIDs = errors.New("device_id must be a string or an array of strings")

	// ErrInvalidLogServiceID is returned when log_service_id is neither a string nor an integer.
	ErrInvalidLogServiceID = errors.New("log_service_id must be a string or an integer")
)

var jsonNull = []byte("null")

// DeviceIDs accepts a single device id or a list of them.
type DeviceIDs []string

// UnmarshalJSON implements json.Unmarshaler.
func (d *DeviceIDs) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, jsonNull) {
		return nil
	}
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		*d = DeviceIDs{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return ErrInvalidDeviceIDs
	}
	*d = many
	return nil
}

// LogServiceID accepts a log service id as a string or an integer.
type LogServiceID string

// UnmarshalJSON implements json.Unmarshaler.
func (l *LogServiceID) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, jsonNull) {
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*l = LogServiceID(s)
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return ErrInvalidLogServiceID
	}
	*l = LogServiceID(strconv.FormatInt(n, 10))
	return nil
}

// SubscriptionRequest is the body of every subscription endpoint.
type SubscriptionRequest struct {
	DeviceID     DeviceIDs    `json:"device_id"`
	LogServiceID LogServiceID `json:"log_service_id,omitempty"`

	// TimePeriod is the reporting period in minutes, subscribe only.
	TimePeriod int `json:"time_period,omitempty"`
} // @name SubscriptionRequest

func (r SubscriptionRequest) toRequest() subscription.Request {
	return subscription.Request{
		DeviceIDs:    r.DeviceID,
		LogServiceID: string(r.LogServiceID),
		TimePeriod:   r.TimePeriod,
	}
}
