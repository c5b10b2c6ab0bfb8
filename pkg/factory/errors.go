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

package factory

import (
	"errors"

	"github.com/jeremyhahn/go-devsub/pkg/common"
)

var (
	// ErrUnknownBackend is returned when an unknown backend type is specified.
	ErrUnknownBackend = common.ErrUnknownBackend

	// ErrSinkUnsupported is returned when a backend cannot publish change events.
	ErrSinkUnsupported = errors.New("backend does not publish change events")
)
