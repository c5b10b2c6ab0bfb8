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

// Package changestream fans committed record store changes out to
// in-process consumers.
package changestream

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/jeremyhahn/go-devsub/pkg/adapters"
	"github.com/jeremyhahn/go-devsub/pkg/common"
)

// Config contains configuration options for Bus.
type Config struct {
	Logger adapters.Logger
	Buffer int // Default: 1024
}

// Stats is a point-in-time view of bus activity.
type Stats struct {
	Published   uint64 `json:"published"`
	Dropped     uint64 `json:"dropped"`
	Subscribers int    `json:"subscribers"`
}

// Bus is a common.ChangeSink that delivers every event to each subscriber.
// Publish never blocks: an event for a subscriber whose buffer is full is
// dropped and reported to the subscriber's drop handler.
type Bus struct {
	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
	closed bool
	buffer int
	logger adapters.Logger

	published atomic.Uint64
	dropped   atomic.Uint64
}

// New creates a bus.
func New(cfg Config) *Bus {
	if cfg.Logger == nil {
		cfg.Logger = adapters.NewNoOpLogger()
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 1024
	}
	return &Bus{
		subs:   make(map[uint64]*Subscription),
		buffer: cfg.Buffer,
		logger: cfg.Logger,
	}
}

// Subscription is one consumer's view of the bus.
type Subscription struct {
	id     uint64
	bus    *Bus
	ch     chan common.ChangeEvent
	onDrop func(common.ChangeEvent)
	once   sync.Once
}

// Events returns the subscription's channel. It is closed when the
// subscription or the bus is closed.
func (s *Subscription) Events() <-chan common.ChangeEvent {
	return s.ch
}

// Close detaches the subscription from the bus.
func (s *Subscription) Close() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if _, ok := s.bus.subs[s.id]; ok {
		delete(s.bus.subs, s.id)
		s.closeChan()
	}
}

func (s *Subscription) closeChan() {
	s.once.Do(func() { close(s.ch) })
}

// Subscribe registers a consumer. onDrop, when set, is called synchronously
// from Publish for every event the consumer missed.
func (b *Bus) Subscribe(onDrop func(common.ChangeEvent)) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{
		id:     b.nextID,
		bus:    b,
		ch:     make(chan common.ChangeEvent, b.buffer),
		onDrop: onDrop,
	}
	if b.closed {
		sub.closeChan()
		return sub
	}
	b.subs[sub.id] = sub
	return sub
}

// Publish implements common.ChangeSink.
func (b *Bus) Publish(ev common.ChangeEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	b.published.Add(1)
	for _, sub := range b.subs {
		select {
		case sub.ch <- ev:
		default:
			b.dropped.Add(1)
			b.logger.Warn(context.Background(), "Change event dropped, subscriber full",
				adapters.Field{Key: "device_id", Value: ev.Row.DeviceID},
				adapters.Field{Key: "log_service_id", Value: ev.Row.LogServiceID},
				adapters.Field{Key: "object_id", Value: ev.Row.ObjectID},
				adapters.Field{Key: "op", Value: string(ev.Op)})
			if sub.onDrop != nil {
				sub.onDrop(ev)
			}
		}
	}
}

// Close closes every subscription. Later publishes are discarded.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		sub.closeChan()
		delete(b.subs, id)
	}
}

// Stats returns bus counters.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	n := len(b.subs)
	b.mu.RUnlock()
	return Stats{
		Published:   b.published.Load(),
		Dropped:     b.dropped.Load(),
		Subscribers: n,
	}
}
