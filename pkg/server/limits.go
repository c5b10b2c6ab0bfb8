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

// Package server holds limits shared by the service's network listeners.
package server

import "time"

// Server-wide limits and defaults
const (
	// MaxRequestBodySize bounds a JSON request body. A full batch of
	// maximum-length device ids fits with room to spare.
	MaxRequestBodySize = 1 << 20

	// MaxBatchDevices is the upper bound accepted for the configurable
	// per-request device limit.
	MaxBatchDevices = 1000

	// DefaultPort is the default HTTP listen port
	DefaultPort = 8080

	// DefaultReadTimeout bounds reading a whole request
	DefaultReadTimeout = 15 * time.Second

	// DefaultWriteTimeout bounds writing a response. Status requests poll
	// the device API, so this exceeds the device API client timeout.
	DefaultWriteTimeout = 60 * time.Second

	// DefaultIdleTimeout is the keep-alive idle timeout
	DefaultIdleTimeout = 120 * time.Second

	// DefaultShutdownTimeout bounds graceful shutdown of listeners and workers
	DefaultShutdownTimeout = 30 * time.Second
)
