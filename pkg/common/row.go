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

import (
	"sort"
	"time"
)

// GroupKey identifies the rows of one device for one log service.
type GroupKey struct {
	DeviceID     string
	LogServiceID string
}

// String returns the group key in "device#service" form.
func (k GroupKey) String() string {
	return k.DeviceID + "#" + k.LogServiceID
}

// RowKey returns the "device#service:oid" key of one row in the group.
func (k GroupKey) RowKey(objectID string) string {
	return k.String() + ":" + objectID
}

// Row is one durable per-OID subscription record.
type Row struct {
	DeviceID     string
	LogServiceID string
	ObjectID     string
	Status       Status
	Message      string

	// TaskID identifies the operation that last moved the group into an
	// accepted state. It is also the group revision checked by guards.
	TaskID string

	// AppliedTaskID is set by a reconciliation task when it records its outcome.
	AppliedTaskID string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Key returns the group the row belongs to.
func (r Row) Key() GroupKey {
	return GroupKey{DeviceID: r.DeviceID, LogServiceID: r.LogServiceID}
}

// Now returns the current UTC time at second precision.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}

// NewRows builds one row per object id, all carrying the same status.
func NewRows(key GroupKey, objectIDs []string, status Status, message, taskID string, at time.Time) []Row {
	rows := make([]Row, 0, len(objectIDs))
	for _, oid := range objectIDs {
		rows = append(rows, Row{
			DeviceID:     key.DeviceID,
			LogServiceID: key.LogServiceID,
			ObjectID:     oid,
			Status:       status,
			Message:      message,
			TaskID:       taskID,
			CreatedAt:    at,
			UpdatedAt:    at,
		})
	}
	return rows
}

// SortRows orders rows by object id.
func SortRows(rows []Row) {
	sort.Slice(rows, func(i, j int) bool { return rows[i].ObjectID < rows[j].ObjectID })
}

// ObjectIDs returns the object ids of rows in order.
func ObjectIDs(rows []Row) []string {
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ObjectID)
	}
	return ids
}

// Guard is a compare-and-write precondition on a group.
type Guard struct {
	enabled bool
	taskID  string
}

// Unguarded always holds.
var Unguarded = Guard{}

// ExpectTaskID holds when every existing row of the group carries taskID.
// An empty group satisfies ExpectTaskID("").
func ExpectTaskID(taskID string) Guard {
	return Guard{enabled: true, taskID: taskID}
}

// Enabled reports whether the guard constrains the write.
func (g Guard) Enabled() bool { return g.enabled }

// TaskID returns the expected task id.
func (g Guard) TaskID() string { return g.taskID }

// Holds evaluates the guard against the current rows of a group.
func (g Guard) Holds(rows []Row) bool {
	if !g.enabled {
		return true
	}
	if len(rows) == 0 {
		return g.taskID == ""
	}
	for _, r := range rows {
		if r.TaskID != g.taskID {
			return false
		}
	}
	return true
}

// StatusUpdate is applied atomically to every row of a group.
type StatusUpdate struct {
	Status        Status
	Message       string
	AppliedTaskID string

	// Drop lists object ids whose rows are deleted instead of updated.
	Drop []string
}

// Dropped reports whether objectID is listed in Drop.
func (u StatusUpdate) Dropped(objectID string) bool {
	for _, d := range u.Drop {
		if d == objectID {
			return true
		}
	}
	return false
}

// Apply returns the rows that survive the update, with new status fields,
// and the rows that were dropped.
func (u StatusUpdate) Apply(rows []Row, at time.Time) (kept, dropped []Row) {
	for _, r := range rows {
		if u.Dropped(r.ObjectID) {
			dropped = append(dropped, r)
			continue
		}
		r.Status = u.Status
		r.Message = u.Message
		r.AppliedTaskID = u.AppliedTaskID
		r.UpdatedAt = at
		kept = append(kept, r)
	}
	return kept, dropped
}
