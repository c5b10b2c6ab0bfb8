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

package deviceapi

import (
	"errors"
	"fmt"

	"github.com/jeremyhahn/go-devsub/pkg/common"
)

// ErrUnexpectedStatus is wrapped by TransportError for non-2xx responses.
var ErrUnexpectedStatus = errors.New("unexpected http status")

// TransportError is any failure to obtain a decodable response from the
// device API: connection errors, timeouts, non-2xx statuses and bad bodies.
type TransportError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("device api %s: http %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("device api %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Is makes every TransportError match common.ErrTransport.
func (e *TransportError) Is(target error) bool {
	return target == common.ErrTransport
}
