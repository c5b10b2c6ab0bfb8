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

package common

import (
	"context"
	"time"
)

// DeviceAPI is the external device management service.
// Transport failures are returned as errors matching ErrTransport.
type DeviceAPI interface {
	Subscribe(ctx context.Context, req *SubscribeCall) (*CallResult, error)
	Unsubscribe(ctx context.Context, req *UnsubscribeCall) (*CallResult, error)
	GetNotificationResult(ctx context.Context, req *NotificationCall) (*NotificationResult, error)
}

// ObjectPeriod is one OID to subscribe with its reporting period.
type ObjectPeriod struct {
	ObjectID          string `json:"object_id"`
	TimePeriodSeconds int    `json:"time_period"`
}

// SubscribeCall is the device API subscribe request.
type SubscribeCall struct {
	DeviceID    string         `json:"device_id"`
	ServiceID   string         `json:"service_id"`
	Objects     []ObjectPeriod `json:"objects"`
	CallbackURL string         `json:"callback_url"`
	Forward     bool           `json:"forward"`
}

// UnsubscribeCall is the device API unsubscribe request.
type UnsubscribeCall struct {
	DeviceID  string   `json:"device_id"`
	ServiceID string   `json:"service_id"`
	ObjectIDs []string `json:"object_ids"`
}

// NotificationCall is the device API get-notification-result request.
type NotificationCall struct {
	DeviceID  string   `json:"device_id"`
	ServiceID string   `json:"service_id"`
	ObjectIDs []string `json:"object_ids"`
}

// ObjectResult is a per-OID sub-response.
type ObjectResult struct {
	ObjectID string `json:"object_id"`
	Code     int    `json:"code"`
	Message  string `json:"message"`
}

// CallResult is the normalized subscribe/unsubscribe response.
type CallResult struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Objects []ObjectResult `json:"objects"`
}

// Notification is the latest report of one OID.
type Notification struct {
	ObjectID  string    `json:"object_id"`
	Code      int       `json:"code"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// NotificationResult is the normalized get-notification-result response.
type NotificationResult struct {
	Code          int            `json:"code"`
	Message       string         `json:"message"`
	Notifications []Notification `json:"notifications"`
}
