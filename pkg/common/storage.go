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

package common

import "context"

// RecordStore is the durable store of subscription rows. All writes take a
// Guard; a write whose guard does not hold fails with ErrConditionFailed and
// changes nothing.
type RecordStore interface {
	// GetRows returns the rows of a group sorted by object id.
	GetRows(ctx context.Context, key GroupKey) ([]Row, error)

	// PutRows replaces the whole group with rows. Rows not listed are removed;
	// surviving rows keep their CreatedAt.
	PutRows(ctx context.Context, key GroupKey, rows []Row, guard Guard) error

	// DeleteRows removes the listed object ids, or the whole group when
	// objectIDs is empty.
	DeleteRows(ctx context.Context, key GroupKey, objectIDs []string, guard Guard) error

	// UpdateStatus applies upd to every row of the group. It returns
	// ErrRecordNotFound when the group is empty.
	UpdateStatus(ctx context.Context, key GroupKey, upd StatusUpdate, guard Guard) error

	// Close releases backend resources.
	Close() error
}

// Cache is the read-mostly mirror of the record store.
type Cache interface {
	// Get returns the cached rows of a group. ok is false on a miss.
	Get(ctx context.Context, key GroupKey) (rows []Row, ok bool, err error)

	// Apply mirrors one store change into the cache.
	Apply(ev ChangeEvent)

	// Invalidate drops every cached entry of a group.
	Invalidate(key GroupKey)
}

// ChangeOp is the kind of row mutation carried by a ChangeEvent.
type ChangeOp string

const (
	ChangeInsert ChangeOp = "insert"
	ChangeModify ChangeOp = "modify"
	ChangeRemove ChangeOp = "remove"
)

// ChangeEvent describes one committed row mutation.
type ChangeEvent struct {
	Op  ChangeOp
	Row Row
}

// ChangeSink receives store change events after commit.
type ChangeSink interface {
	Publish(ev ChangeEvent)
}

// DiscardSink drops every event.
type DiscardSink struct{}

// Publish implements ChangeSink.
func (DiscardSink) Publish(ChangeEvent) {}

// DiffRows computes the change events that turn before into after.
func DiffRows(before, after []Row) []ChangeEvent {
	prev := make(map[string]struct{}, len(before))
	for _, r := range before {
		prev[r.ObjectID] = struct{}{}
	}
	next := make(map[string]struct{}, len(after))
	events := make([]ChangeEvent, 0, len(before)+len(after))
	for _, r := range after {
		next[r.ObjectID] = struct{}{}
		op := ChangeInsert
		if _, ok := prev[r.ObjectID]; ok {
			op = ChangeModify
		}
		events = append(events, ChangeEvent{Op: op, Row: r})
	}
	for _, r := range before {
		if _, ok := next[r.ObjectID]; !ok {
			events = append(events, ChangeEvent{Op: ChangeRemove, Row: r})
		}
	}
	return events
}

// MergeCreatedAt copies CreatedAt from existing rows onto rows with the same object id.
func MergeCreatedAt(existing, rows []Row) []Row {
	created := make(map[string]Row, len(existing))
	for _, r := range existing {
		created[r.ObjectID] = r
	}
	out := make([]Row, len(rows))
	for i, r := range rows {
		if old, ok := created[r.ObjectID]; ok && !old.CreatedAt.IsZero() {
			r.CreatedAt = old.CreatedAt
		}
		out[i] = r
	}
	return out
}
