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

package cache

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/jeremyhahn/go-devsub/pkg/common"
)

// entryEncMode is the canonical CBOR encoder for cache entries.
var entryEncMode cbor.EncMode

// entryDecMode is the CBOR decoder for cache entries.
var entryDecMode cbor.DecMode

func init() {
	var err error

	encOpts := cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeRFC3339Nano,
	}
	entryEncMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create cache CBOR encoder mode: %v", err))
	}

	decOpts := cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyQuiet,
		IndefLength: cbor.IndefLengthForbidden,
	}
	entryDecMode, err = decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create cache CBOR decoder mode: %v", err))
	}
}

// entry is the cached form of a row, keyed by small integers.
type entry struct {
	DeviceID      string    `cbor:"1,keyasint"`
	LogServiceID  string    `cbor:"2,keyasint"`
	ObjectID      string    `cbor:"3,keyasint"`
	Status        int       `cbor:"4,keyasint"`
	Message       string    `cbor:"5,keyasint"`
	TaskID        string    `cbor:"6,keyasint,omitempty"`
	AppliedTaskID string    `cbor:"7,keyasint,omitempty"`
	CreatedAt     time.Time `cbor:"8,keyasint"`
	UpdatedAt     time.Time `cbor:"9,keyasint"`
}

func encodeRow(r common.Row) ([]byte, error) {
	return entryEncMode.Marshal(entry{
		DeviceID:      r.DeviceID,
		LogServiceID:  r.LogServiceID,
		ObjectID:      r.ObjectID,
		Status:        r.Status.Int(),
		Message:       r.Message,
		TaskID:        r.TaskID,
		AppliedTaskID: r.AppliedTaskID,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	})
}

func decodeRow(data []byte) (common.Row, error) {
	var e entry
	if err := entryDecMode.Unmarshal(data, &e); err != nil {
		return common.Row{}, err
	}
	return common.Row{
		DeviceID:      e.DeviceID,
		LogServiceID:  e.LogServiceID,
		ObjectID:      e.ObjectID,
		Status:        common.StatusFromInt(e.Status),
		Message:       e.Message,
		TaskID:        e.TaskID,
		AppliedTaskID: e.AppliedTaskID,
		CreatedAt:     e.CreatedAt.UTC(),
		UpdatedAt:     e.UpdatedAt.UTC(),
	}, nil
}
