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
	"sort"
	"sync"

	"github.com/jeremyhahn/go-devsub/pkg/common"
)

// StoreCreator is a function that creates a record store backend.
type StoreCreator func(settings map[string]string) (common.RecordStore, error)

// sinkSetter is implemented by backends that publish change events.
type sinkSetter interface {
	SetChangeSink(sink common.ChangeSink)
}

var (
	mu            sync.RWMutex
	storeRegistry = make(map[string]StoreCreator)
)

// RegisterStore registers a record store backend creator.
func RegisterStore(backendType string, creator StoreCreator) {
	mu.Lock()
	defer mu.Unlock()
	storeRegistry[backendType] = creator
}

// Backends returns the registered backend names in sorted order.
func Backends() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(storeRegistry))
	for name := range storeRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewRecordStore creates a record store of the given type and attaches sink.
func NewRecordStore(backendType string, settings map[string]string, sink common.ChangeSink) (common.RecordStore, error) {
	mu.RLock()
	creator, exists := storeRegistry[backendType]
	mu.RUnlock()
	if !exists {
		return nil, ErrUnknownBackend
	}

	store, err := creator(settings)
	if err != nil {
		return nil, err
	}
	if sink != nil {
		setter, ok := store.(sinkSetter)
		if !ok {
			_ = store.Close()
			return nil, ErrSinkUnsupported
		}
		setter.SetChangeSink(sink)
	}
	return store, nil
}
