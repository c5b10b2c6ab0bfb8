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

import "errors"

var (
	// Configuration errors

	// ErrNotConfigured is returned when a component is not properly configured.
	ErrNotConfigured = errors.New("not configured")

	// ErrPathNotSet is returned when the required path is not set.
	ErrPathNotSet = errors.New("path not set")

	// ErrTableNotSet is returned when the required table name is not set.
	ErrTableNotSet = errors.New("table not set")

	// ErrRegionNotSet is returned when the required region is not set.
	ErrRegionNotSet = errors.New("region not set")

	// ErrBaseURLNotSet is returned when the device API base URL is not set.
	ErrBaseURLNotSet = errors.New("base url not set")

	// ErrUnknownBackend is returned when a store backend is not registered.
	ErrUnknownBackend = errors.New("unknown store backend")

	// Record store errors

	// ErrStoreRequired is returned when a record store is required but not provided.
	ErrStoreRequired = errors.New("record store is required")

	// ErrRecordNotFound is returned when a device group has no rows.
	ErrRecordNotFound = errors.New("record not found")

	// ErrConditionFailed is returned when a guarded write loses to a concurrent writer.
	ErrConditionFailed = errors.New("condition failed")

	// ErrStoreClosed is returned when a record store is used after Close.
	ErrStoreClosed = errors.New("record store closed")

	// ErrInternal is returned for internal errors during operations.
	ErrInternal = errors.New("internal error")

	// Registry errors

	// ErrServiceNotFound is returned when a log service is not registered.
	ErrServiceNotFound = errors.New("log service not found")

	// ErrInvalidRegistration is returned when a registry entry is incomplete.
	ErrInvalidRegistration = errors.New("invalid service registration")

	// Device API errors

	// ErrTransport is returned when the device API could not be reached or answered
	// with something other than a decodable response.
	ErrTransport = errors.New("device api transport failure")

	// Dispatcher errors

	// ErrQueueFull is returned when the task queue cannot accept more work.
	ErrQueueFull = errors.New("task queue full")

	// ErrDispatcherClosed is returned when enqueueing on a stopped dispatcher.
	ErrDispatcherClosed = errors.New("dispatcher closed")

	// ErrUnknownTask is returned when no handler is registered for a task name.
	ErrUnknownTask = errors.New("unknown task")

	// Request errors

	// ErrEmptyDeviceList is returned when a request carries no device ids.
	ErrEmptyDeviceList = errors.New("device_id list is empty")

	// ErrBatchTooLarge is returned when a request exceeds the batch limit.
	ErrBatchTooLarge = errors.New("too many devices in request")
)
