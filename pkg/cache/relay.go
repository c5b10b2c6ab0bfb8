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
	"context"
	"sync"
	"time"

	"github.com/jeremyhahn/go-devsub/pkg/adapters"
	"github.com/jeremyhahn/go-devsub/pkg/changestream"
	"github.com/jeremyhahn/go-devsub/pkg/common"
)

// Relay mirrors change-stream events into a cache.
type Relay struct {
	cache         common.Cache
	sub           *changestream.Subscription
	logger        adapters.Logger
	purgeInterval time.Duration

	// dirty holds groups that lost an event. Events queued ahead of the
	// drop would rebuild them partially, so the group is invalidated again
	// after each of them until the queue has drained.
	mu    sync.Mutex
	dirty map[string]common.GroupKey
}

// NewRelay subscribes to bus. Events the bus has to drop invalidate their
// group so the cache never serves a row that missed an update.
func NewRelay(c common.Cache, bus *changestream.Bus, logger adapters.Logger) *Relay {
	if logger == nil {
		logger = adapters.NewNoOpLogger()
	}
	r := &Relay{
		cache:         c,
		logger:        logger,
		purgeInterval: time.Minute,
		dirty:         make(map[string]common.GroupKey),
	}
	r.sub = bus.Subscribe(r.dropped)
	return r
}

func (r *Relay) dropped(ev common.ChangeEvent) {
	key := ev.Row.Key()
	r.mu.Lock()
	r.dirty[key.String()] = key
	r.mu.Unlock()
	r.cache.Invalidate(key)
}

// apply mirrors ev, then drops its group again while it is dirty.
func (r *Relay) apply(ev common.ChangeEvent) {
	r.cache.Apply(ev)

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.dirty) == 0 {
		return
	}
	key := ev.Row.Key()
	if _, ok := r.dirty[key.String()]; ok {
		r.cache.Invalidate(key)
	}
	if len(r.sub.Events()) == 0 {
		clear(r.dirty)
	}
}

// Run applies events until ctx is cancelled or the bus is closed.
func (r *Relay) Run(ctx context.Context) error {
	defer r.sub.Close()

	purger, _ := r.cache.(interface{ Purge() int })
	ticker := time.NewTicker(r.purgeInterval)
	defer ticker.Stop()

	r.logger.Info(ctx, "Cache relay started")
	for {
		select {
		case <-ctx.Done():
			r.logger.Info(ctx, "Cache relay stopped")
			return ctx.Err()
		case ev, ok := <-r.sub.Events():
			if !ok {
				r.logger.Info(ctx, "Change stream closed, cache relay exiting")
				return nil
			}
			r.apply(ev)
		case <-ticker.C:
			if purger != nil {
				if n := purger.Purge(); n > 0 {
					r.logger.Debug(ctx, "Purged expired cache entries", adapters.Field{Key: "count", Value: n})
				}
			}
		}
	}
}
