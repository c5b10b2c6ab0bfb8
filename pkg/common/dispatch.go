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
	"encoding/json"
	"time"
)

// Reconciliation task names.
const (
	TaskRunSubscribe       = "run_subscribe"
	TaskRunUnsubscribe     = "run_unsubscribe"
	TaskRunGetNotifyResult = "run_get_notify_result"
)

// Task is one unit of asynchronous work.
type Task struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// TaskPayload is the payload of every reconciliation task.
type TaskPayload struct {
	TaskID       string `json:"task_id"`
	DeviceID     string `json:"device_id"`
	LogServiceID string `json:"log_service_id"`
	TimePeriod   int    `json:"time_period,omitempty"`
}

// Key returns the group the payload addresses.
func (p TaskPayload) Key() GroupKey {
	return GroupKey{DeviceID: p.DeviceID, LogServiceID: p.LogServiceID}
}

// NewTask builds a task whose id matches the payload task id.
func NewTask(name string, payload TaskPayload) (Task, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Task{}, err
	}
	return Task{ID: payload.TaskID, Name: name, Payload: raw, EnqueuedAt: time.Now().UTC()}, nil
}

// Dispatcher hands tasks to asynchronous workers. Delivery is at least once.
type Dispatcher interface {
	Enqueue(ctx context.Context, task Task) error
}
