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

// Package cache mirrors the record store for fast reads. It is populated
// only from committed change events.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jeremyhahn/go-devsub/pkg/adapters"
	"github.com/jeremyhahn/go-devsub/pkg/common"
)

// DefaultTTL is how long a cached row stays valid without a refresh.
const DefaultTTL = 10 * time.Minute

// ErrCorruptEntry is returned when a cached entry cannot be decoded.
var ErrCorruptEntry = errors.New("corrupt cache entry")

// Config contains configuration options for Cache.
type Config struct {
	TTL    time.Duration
	Logger adapters.Logger

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Stats is a point-in-time view of cache activity.
type Stats struct {
	Hits    uint64 `json:"hits"`
	Misses  uint64 `json:"misses"`
	Applied uint64 `json:"applied"`
	Entries int    `json:"entries"`
	Groups  int    `json:"groups"`
}

type slot struct {
	data    []byte
	expires time.Time
}

// Cache stores rows as CBOR under "device#service:oid" keys, plus an
// aggregate of object ids under each "device#service" group key.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]slot
	oids    map[string]map[string]struct{}
	ttl     time.Duration
	now     func() time.Time
	logger  adapters.Logger

	hits, misses, applied atomic.Uint64
}

var _ common.Cache = (*Cache)(nil)

// New creates an empty cache.
func New(cfg Config) *Cache {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = adapters.NewNoOpLogger()
	}
	return &Cache{
		entries: make(map[string]slot),
		oids:    make(map[string]map[string]struct{}),
		ttl:     cfg.TTL,
		now:     cfg.Now,
		logger:  cfg.Logger,
	}
}

// Get returns the cached rows of a group sorted by object id. A group is a
// miss when its aggregate is empty or any of its rows is absent or expired.
func (c *Cache) Get(ctx context.Context, key common.GroupKey) ([]common.Row, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	agg := c.oids[key.String()]
	if len(agg) == 0 {
		c.misses.Add(1)
		return nil, false, nil
	}

	now := c.now()
	rows := make([]common.Row, 0, len(agg))
	for oid := range agg {
		s, ok := c.entries[key.RowKey(oid)]
		if !ok || now.After(s.expires) {
			c.misses.Add(1)
			return nil, false, nil
		}
		r, err := decodeRow(s.data)
		if err != nil {
			return nil, false, fmt.Errorf("%w: %s: %v", ErrCorruptEntry, key.RowKey(oid), err)
		}
		rows = append(rows, r)
	}
	common.SortRows(rows)
	c.hits.Add(1)
	return rows, true, nil
}

// ObjectIDs returns the aggregate of object ids cached for a group.
func (c *Cache) ObjectIDs(key common.GroupKey) ([]string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	agg := c.oids[key.String()]
	if len(agg) == 0 {
		return nil, false
	}
	ids := make([]string, 0, len(agg))
	for oid := range agg {
		ids = append(ids, oid)
	}
	return ids, true
}

// Apply mirrors one committed change. A modify for a group the cache does
// not hold is ignored so that a partially known group is never rebuilt
// from single-row updates.
func (c *Cache) Apply(ev common.ChangeEvent) {
	key := ev.Row.Key()
	gk, rk := key.String(), key.RowKey(ev.Row.ObjectID)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.applied.Add(1)

	switch ev.Op {
	case common.ChangeRemove:
		delete(c.entries, rk)
		if agg, ok := c.oids[gk]; ok {
			delete(agg, ev.Row.ObjectID)
			if len(agg) == 0 {
				delete(c.oids, gk)
			}
		}
		return
	case common.ChangeModify:
		if _, known := c.oids[gk]; !known {
			return
		}
	}

	data, err := encodeRow(ev.Row)
	if err != nil {
		c.logger.Error(context.Background(), "Failed to encode cache entry",
			adapters.Field{Key: "key", Value: rk}, adapters.ErrorField(err))
		c.invalidateLocked(key)
		return
	}
	c.entries[rk] = slot{data: data, expires: c.now().Add(c.ttl)}
	agg, ok := c.oids[gk]
	if !ok {
		agg = make(map[string]struct{})
		c.oids[gk] = agg
	}
	agg[ev.Row.ObjectID] = struct{}{}
}

// Invalidate drops every cached entry of a group.
func (c *Cache) Invalidate(key common.GroupKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidateLocked(key)
}

func (c *Cache) invalidateLocked(key common.GroupKey) {
	gk := key.String()
	for oid := range c.oids[gk] {
		delete(c.entries, key.RowKey(oid))
	}
	delete(c.oids, gk)
}

// Purge removes expired entries and returns how many were removed.
func (c *Cache) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	n := 0
	for k, s := range c.entries {
		if now.After(s.expires) {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

// Stats returns cache counters.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	entries, groups := len(c.entries), len(c.oids)
	c.mu.RUnlock()
	return Stats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Applied: c.applied.Load(),
		Entries: entries,
		Groups:  groups,
	}
}
