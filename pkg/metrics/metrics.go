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

// Package metrics keeps in-process counters for the subscription service.
package metrics

import (
	"sync/atomic"
	"time"
)

// Operation names used as metric labels.
const (
	OpSubscribe   = "subscribe"
	OpUnsubscribe = "unsubscribe"
	OpStatus      = "status"
	OpRefresh     = "refresh"
)

type opCounters struct {
	requests      atomic.Int64
	devices       atomic.Int64
	failures      atomic.Int64
	totalDuration atomic.Int64
}

type taskCounters struct {
	runs    atomic.Int64
	skipped atomic.Int64
	applied atomic.Int64
	errors  atomic.Int64
}

// Metrics tracks handler, task and device API activity.
// All fields use atomic operations for thread-safe updates.
type Metrics struct {
	ops   map[string]*opCounters
	tasks map[string]*taskCounters

	deviceAPICalls  atomic.Int64
	deviceAPIErrors atomic.Int64
	conflicts       atomic.Int64
	storeErrors     atomic.Int64
	enqueueFailures atomic.Int64

	startedAt time.Time
}

// New creates a metrics instance with counters for every known operation
// and task. The maps are never written after construction.
func New() *Metrics {
	m := &Metrics{
		ops:       make(map[string]*opCounters),
		tasks:     make(map[string]*taskCounters),
		startedAt: time.Now(),
	}
	for _, op := range []string{OpSubscribe, OpUnsubscribe, OpStatus, OpRefresh} {
		m.ops[op] = &opCounters{}
	}
	for _, name := range []string{"run_subscribe", "run_unsubscribe", "run_get_notify_result"} {
		m.tasks[name] = &taskCounters{}
	}
	return m
}

// RecordRequest records one batch request. failed is true when the batch
// result was not a full success.
func (m *Metrics) RecordRequest(op string, devices int, failed bool, d time.Duration) {
	c, ok := m.ops[op]
	if !ok {
		return
	}
	c.requests.Add(1)
	c.devices.Add(int64(devices))
	c.totalDuration.Add(d.Nanoseconds())
	if failed {
		c.failures.Add(1)
	}
}

// RecordTaskRun records that a task handler started.
func (m *Metrics) RecordTaskRun(name string) {
	if c, ok := m.tasks[name]; ok {
		c.runs.Add(1)
	}
}

// RecordTaskSkipped records a task that was a duplicate or superseded.
func (m *Metrics) RecordTaskSkipped(name string) {
	if c, ok := m.tasks[name]; ok {
		c.skipped.Add(1)
	}
}

// RecordTaskApplied records a task that wrote its outcome.
func (m *Metrics) RecordTaskApplied(name string) {
	if c, ok := m.tasks[name]; ok {
		c.applied.Add(1)
	}
}

// RecordTaskError records a task that failed to record its outcome.
func (m *Metrics) RecordTaskError(name string) {
	if c, ok := m.tasks[name]; ok {
		c.errors.Add(1)
	}
}

// RecordDeviceAPICall records one device API call and whether it failed
// at the transport level.
func (m *Metrics) RecordDeviceAPICall(failed bool) {
	m.deviceAPICalls.Add(1)
	if failed {
		m.deviceAPIErrors.Add(1)
	}
}

// IncrementConflicts counts exclusive-control conflicts.
func (m *Metrics) IncrementConflicts() { m.conflicts.Add(1) }

// IncrementStoreErrors counts record store failures.
func (m *Metrics) IncrementStoreErrors() { m.storeErrors.Add(1) }

// IncrementEnqueueFailures counts tasks that could not be enqueued.
func (m *Metrics) IncrementEnqueueFailures() { m.enqueueFailures.Add(1) }

// OperationSnapshot is the snapshot of one request operation.
type OperationSnapshot struct {
	Requests        int64         `json:"requests"`
	Devices         int64         `json:"devices"`
	Failures        int64         `json:"failures"`
	AverageDuration time.Duration `json:"average_duration"`
}

// TaskSnapshot is the snapshot of one task type.
type TaskSnapshot struct {
	Runs    int64 `json:"runs"`
	Skipped int64 `json:"skipped"`
	Applied int64 `json:"applied"`
	Errors  int64 `json:"errors"`
}

// Snapshot represents a point-in-time snapshot of all metrics.
type Snapshot struct {
	Operations      map[string]OperationSnapshot `json:"operations"`
	Tasks           map[string]TaskSnapshot      `json:"tasks"`
	DeviceAPICalls  int64                        `json:"device_api_calls"`
	DeviceAPIErrors int64                        `json:"device_api_errors"`
	Conflicts       int64                        `json:"conflicts"`
	StoreErrors     int64                        `json:"store_errors"`
	EnqueueFailures int64                        `json:"enqueue_failures"`
	Uptime          time.Duration                `json:"uptime"`
}

// Snapshot returns the current metrics.
func (m *Metrics) Snapshot() Snapshot {
	s := Snapshot{
		Operations:      make(map[string]OperationSnapshot, len(m.ops)),
		Tasks:           make(map[string]TaskSnapshot, len(m.tasks)),
		DeviceAPICalls:  m.deviceAPICalls.Load(),
		DeviceAPIErrors: m.deviceAPIErrors.Load(),
		Conflicts:       m.conflicts.Load(),
		StoreErrors:     m.storeErrors.Load(),
		EnqueueFailures: m.enqueueFailures.Load(),
		Uptime:          time.Since(m.startedAt),
	}
	for op, c := range m.ops {
		o := OperationSnapshot{
			Requests: c.requests.Load(),
			Devices:  c.devices.Load(),
			Failures: c.failures.Load(),
		}
		if o.Requests > 0 {
			o.AverageDuration = time.Duration(c.totalDuration.Load() / o.Requests)
		}
		s.Operations[op] = o
	}
	for name, c := range m.tasks {
		s.Tasks[name] = TaskSnapshot{
			Runs:    c.runs.Load(),
			Skipped: c.skipped.Load(),
			Applied: c.applied.Load(),
			Errors:  c.errors.Load(),
		}
	}
	return s
}
