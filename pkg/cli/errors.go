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

package cli

import "errors"

var (
	// Configuration errors

	// ErrStorePathRequired is returned when store.path is required but not set.
	ErrStorePathRequired = errors.New("store.path is required for the sqlite backend")

	// ErrStoreTableRequired is returned when store.table is required but not set.
	ErrStoreTableRequired = errors.New("store.table is required for the dynamodb backend")

	// ErrUnsupportedBackend is returned when an unsupported backend is specified.
	ErrUnsupportedBackend = errors.New("unsupported backend")

	// ErrUnsupportedOutputFormat is returned when an unsupported output format is specified.
	ErrUnsupportedOutputFormat = errors.New("unsupported output format")

	// ErrDeviceAPIURLRequired is returned when device-api.base-url is not set.
	ErrDeviceAPIURLRequired = errors.New("device-api.base-url is required")

	// ErrRegistryPathRequired is returned when registry.path is not set.
	ErrRegistryPathRequired = errors.New("registry.path is required")

	// ErrInvalidPort is returned when server.port is out of range.
	ErrInvalidPort = errors.New("server.port must be between 1 and 65535")

	// Command errors

	// ErrNoDevices is returned when a command names no devices.
	ErrNoDevices = errors.New("at least one device id is required")

	// ErrServerURLRequired is returned when a client command has no server URL.
	ErrServerURLRequired = errors.New("server.url is required")
)
