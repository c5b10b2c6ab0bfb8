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

// Package memory provides an in-memory implementation of the record store.
// This is useful for testing, development, and single-process deployments
// where persistence is not required.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/jeremyhahn/go-devsub/pkg/common"
)

// Memory is a record store that keeps subscription rows in memory.
type Memory struct {
	mu     sync.Mutex
	groups map[common.GroupKey]map[string]common.Row
	sink   common.ChangeSink
	closed bool
	now    func() time.Time
}

// New creates a new Memory record store.
func New() *Memory {
	return &Memory{
		groups: make(map[common.GroupKey]map[string]common.Row),
		sink:   common.DiscardSink{},
		now:    common.Now,
	}
}

// Configure sets up the backend with the necessary settings.
// The memory backend has no required settings.
func (m *Memory) Configure(settings map[string]string) error {
	return nil
}

// SetChangeSink sets the sink that receives committed changes.
func (m *Memory) SetChangeSink(sink common.ChangeSink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sink == nil {
		sink = common.DiscardSink{}
	}
	m.sink = sink
}

// rowsLocked returns the group's rows sorted by object id. Callers hold mu.
func (m *Memory) rowsLocked(key common.GroupKey) []common.Row {
	group := m.groups[key]
	rows := make([]common.Row, 0, len(group))
	for _, r := range group {
		rows = append(rows, r)
	}
	common.SortRows(rows)
	return rows
}

func (m *Memory) begin(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return common.ErrStoreClosed
	}
	return nil
}

// publishLocked emits events while mu is held so that consumers observe
// changes in commit order.
func (m *Memory) publishLocked(events []common.ChangeEvent) {
	for _, ev := range events {
		m.sink.Publish(ev)
	}
}

// GetRows returns the rows of a group sorted by object id.
func (m *Memory) GetRows(ctx context.Context, key common.GroupKey) ([]common.Row, error) {
	if err := m.begin(ctx); err != nil {
		return nil, err
	}
	defer m.mu.Unlock()
	return m.rowsLocked(key), nil
}

// PutRows replaces the group with rows.
func (m *Memory) PutRows(ctx context.Context, key common.GroupKey, rows []common.Row, guard common.Guard) error {
	if err := m.begin(ctx); err != nil {
		return err
	}
	defer m.mu.Unlock()

	existing := m.rowsLocked(key)
	if !guard.Holds(existing) {
		return common.ErrConditionFailed
	}

	rows = common.MergeCreatedAt(existing, rows)
	group := make(map[string]common.Row, len(rows))
	for _, r := range rows {
		r.DeviceID, r.LogServiceID = key.DeviceID, key.LogServiceID
		group[r.ObjectID] = r
	}
	after := make([]common.Row, 0, len(group))
	for _, r := range group {
		after = append(after, r)
	}
	common.SortRows(after)

	if len(group) == 0 {
		delete(m.groups, key)
	} else {
		m.groups[key] = group
	}
	m.publishLocked(common.DiffRows(existing, after))
	return nil
}

// DeleteRows removes objectIDs from the group, or the whole group when empty.
func (m *Memory) DeleteRows(ctx context.Context, key common.GroupKey, objectIDs []string, guard common.Guard) error {
	if err := m.begin(ctx); err != nil {
		return err
	}
	defer m.mu.Unlock()

	existing := m.rowsLocked(key)
	if !guard.Holds(existing) {
		return common.ErrConditionFailed
	}

	group := m.groups[key]
	var events []common.ChangeEvent
	if len(objectIDs) == 0 {
		for _, r := range existing {
			events = append(events, common.ChangeEvent{Op: common.ChangeRemove, Row: r})
		}
		delete(m.groups, key)
	} else {
		for _, oid := range objectIDs {
			if r, ok := group[oid]; ok {
				delete(group, oid)
				events = append(events, common.ChangeEvent{Op: common.ChangeRemove, Row: r})
			}
		}
		if len(group) == 0 {
			delete(m.groups, key)
		}
	}
	m.publishLocked(events)
	return nil
}

// UpdateStatus applies upd to every row of the group.
func (m *Memory) UpdateStatus(ctx context.Context, key common.GroupKey, upd common.StatusUpdate, guard common.Guard) error {
	if err := m.begin(ctx); err != nil {
		return err
	}
	defer m.mu.Unlock()

	existing := m.rowsLocked(key)
	if len(existing) == 0 {
		return common.ErrRecordNotFound
	}
	if !guard.Holds(existing) {
		return common.ErrConditionFailed
	}

	kept, dropped := upd.Apply(existing, m.now())
	group := make(map[string]common.Row, len(kept))
	events := make([]common.ChangeEvent, 0, len(existing))
	for _, r := range kept {
		group[r.ObjectID] = r
		events = append(events, common.ChangeEvent{Op: common.ChangeModify, Row: r})
	}
	for _, r := range dropped {
		events = append(events, common.ChangeEvent{Op: common.ChangeRemove, Row: r})
	}
	if len(group) == 0 {
		delete(m.groups, key)
	} else {
		m.groups[key] = group
	}
	m.publishLocked(events)
	return nil
}

// Len returns the total number of stored rows.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, g := range m.groups {
		n += len(g)
	}
	return n
}

// Close marks the store closed.
func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
