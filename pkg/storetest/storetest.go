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

// Package storetest holds the behavioural test suite shared by every
// common.RecordStore backend.
package storetest

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-devsub/pkg/common"
)

// Recorder is a ChangeSink that keeps every event it receives.
type Recorder struct {
	mu     sync.Mutex
	events []common.ChangeEvent
}

// Publish implements common.ChangeSink.
func (r *Recorder) Publish(ev common.ChangeEvent) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []common.ChangeEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]common.ChangeEvent, len(r.events))
	copy(out, r.events)
	return out
}

// Reset forgets recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

// Count returns the number of recorded events with op.
func (r *Recorder) Count(op common.ChangeOp) int {
	n := 0
	for _, ev := range r.Events() {
		if ev.Op == op {
			n++
		}
	}
	return n
}

// Factory opens a fresh, empty store publishing to sink.
type Factory func(t *testing.T, sink common.ChangeSink) common.RecordStore

// Run executes the record store suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("GetRowsEmpty", func(t *testing.T) { testGetRowsEmpty(t, newStore) })
	t.Run("PutRowsGuarded", func(t *testing.T) { testPutRowsGuarded(t, newStore) })
	t.Run("PutRowsReplacesGroup", func(t *testing.T) { testPutRowsReplacesGroup(t, newStore) })
	t.Run("UpdateStatus", func(t *testing.T) { testUpdateStatus(t, newStore) })
	t.Run("UpdateStatusNotFound", func(t *testing.T) { testUpdateStatusNotFound(t, newStore) })
	t.Run("DeleteRows", func(t *testing.T) { testDeleteRows(t, newStore) })
	t.Run("GroupsIsolated", func(t *testing.T) { testGroupsIsolated(t, newStore) })
	t.Run("ConcurrentAccept", func(t *testing.T) { testConcurrentAccept(t, newStore) })
}

var (
	key   = common.GroupKey{DeviceID: "dev-1", LogServiceID: "0"}
	other = common.GroupKey{DeviceID: "dev-2", LogServiceID: "0"}
	oids  = []string{"1.3.6.1.2.1.43.11.1.1.9.1.1", "1.3.6.1.2.1.43.10.2.1.4.1.1", "1.3.6.1.2.1.25.3.5.1.1.1", "1.3.6.1.2.1.43.18.1.1.8.1.1"}
)

func acceptedRows(k common.GroupKey, taskID string, at time.Time) []common.Row {
	return common.NewRows(k, oids, common.StatusSubscribeAccepted, "Subscribe accepted", taskID, at)
}

func testGetRowsEmpty(t *testing.T, newStore Factory) {
	store := newStore(t, &Recorder{})
	rows, err := store.GetRows(context.Background(), key)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func testPutRowsGuarded(t *testing.T, newStore Factory) {
	ctx := context.Background()
	rec := &Recorder{}
	store := newStore(t, rec)
	at := common.Now()

	require.NoError(t, store.PutRows(ctx, key, acceptedRows(key, "t1", at), common.ExpectTaskID("")))
	assert.Equal(t, len(oids), rec.Count(common.ChangeInsert))

	rows, err := store.GetRows(ctx, key)
	require.NoError(t, err)
	require.Len(t, rows, len(oids))
	for i := 1; i < len(rows); i++ {
		assert.Less(t, rows[i-1].ObjectID, rows[i].ObjectID, "rows must be sorted by object id")
	}
	for _, r := range rows {
		assert.Equal(t, common.StatusSubscribeAccepted, r.Status)
		assert.Equal(t, "Subscribe accepted", r.Message)
		assert.Equal(t, "t1", r.TaskID)
		assert.Equal(t, key, r.Key())
		assert.True(t, r.UpdatedAt.Equal(at), "UpdatedAt %v != %v", r.UpdatedAt, at)
	}

	// the group now carries t1, so a writer expecting an empty group loses
	rec.Reset()
	err = store.PutRows(ctx, key, acceptedRows(key, "t2", at), common.ExpectTaskID(""))
	assert.ErrorIs(t, err, common.ErrConditionFailed)
	assert.Empty(t, rec.Events())

	rows, err = store.GetRows(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "t1", rows[0].TaskID)

	require.NoError(t, store.PutRows(ctx, key, acceptedRows(key, "t2", at), common.ExpectTaskID("t1")))
	assert.Equal(t, len(oids), rec.Count(common.ChangeModify))
}

func testPutRowsReplacesGroup(t *testing.T, newStore Factory) {
	ctx := context.Background()
	rec := &Recorder{}
	store := newStore(t, rec)
	created := common.Now().Add(-time.Hour)

	require.NoError(t, store.PutRows(ctx, key, acceptedRows(key, "t1", created), common.Unguarded))
	rec.Reset()

	later := created.Add(time.Hour)
	replacement := common.NewRows(key, oids[:2], common.StatusSubscribeAccepted, "Subscribe accepted", "t2", later)
	require.NoError(t, store.PutRows(ctx, key, replacement, common.ExpectTaskID("t1")))

	rows, err := store.GetRows(ctx, key)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, r := range rows {
		assert.True(t, r.CreatedAt.Equal(created), "CreatedAt must survive overwrite")
		assert.True(t, r.UpdatedAt.Equal(later))
	}
	assert.Equal(t, 2, rec.Count(common.ChangeModify))
	assert.Equal(t, 2, rec.Count(common.ChangeRemove))
}

func testUpdateStatus(t *testing.T, newStore Factory) {
	ctx := context.Background()
	rec := &Recorder{}
	store := newStore(t, rec)

	require.NoError(t, store.PutRows(ctx, key, acceptedRows(key, "t1", common.Now()), common.Unguarded))
	rec.Reset()

	upd := common.StatusUpdate{
		Status:        common.StatusSubscribed,
		Message:       "Subscribed",
		AppliedTaskID: "t1",
		Drop:          []string{oids[1]},
	}
	assert.ErrorIs(t, store.UpdateStatus(ctx, key, upd, common.ExpectTaskID("other")), common.ErrConditionFailed)
	require.NoError(t, store.UpdateStatus(ctx, key, upd, common.ExpectTaskID("t1")))

	rows, err := store.GetRows(ctx, key)
	require.NoError(t, err)
	require.Len(t, rows, len(oids)-1)
	for _, r := range rows {
		assert.NotEqual(t, oids[1], r.ObjectID)
		assert.Equal(t, common.StatusSubscribed, r.Status)
		assert.Equal(t, "t1", r.AppliedTaskID)
		assert.Equal(t, "t1", r.TaskID, "UpdateStatus must not change the task id")
	}
	assert.Equal(t, len(oids)-1, rec.Count(common.ChangeModify))
	assert.Equal(t, 1, rec.Count(common.ChangeRemove))
}

func testUpdateStatusNotFound(t *testing.T, newStore Factory) {
	store := newStore(t, &Recorder{})
	err := store.UpdateStatus(context.Background(), key, common.StatusUpdate{Status: common.StatusSubscribed}, common.Unguarded)
	assert.ErrorIs(t, err, common.ErrRecordNotFound)
}

func testDeleteRows(t *testing.T, newStore Factory) {
	ctx := context.Background()
	rec := &Recorder{}
	store := newStore(t, rec)

	require.NoError(t, store.PutRows(ctx, key, acceptedRows(key, "t1", common.Now()), common.Unguarded))
	rec.Reset()

	require.NoError(t, store.DeleteRows(ctx, key, []string{oids[0], "not-there"}, common.ExpectTaskID("t1")))
	rows, err := store.GetRows(ctx, key)
	require.NoError(t, err)
	assert.Len(t, rows, len(oids)-1)
	assert.Equal(t, 1, rec.Count(common.ChangeRemove))

	assert.ErrorIs(t, store.DeleteRows(ctx, key, nil, common.ExpectTaskID("t9")), common.ErrConditionFailed)

	require.NoError(t, store.DeleteRows(ctx, key, nil, common.ExpectTaskID("t1")))
	rows, err = store.GetRows(ctx, key)
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.Equal(t, len(oids), rec.Count(common.ChangeRemove))

	// deleting an absent group expecting no rows is a no-op
	assert.NoError(t, store.DeleteRows(ctx, key, nil, common.ExpectTaskID("")))
}

func testGroupsIsolated(t *testing.T, newStore Factory) {
	ctx := context.Background()
	store := newStore(t, &Recorder{})

	require.NoError(t, store.PutRows(ctx, key, acceptedRows(key, "t1", common.Now()), common.Unguarded))
	require.NoError(t, store.PutRows(ctx, other, acceptedRows(other, "t2", common.Now()), common.Unguarded))
	require.NoError(t, store.DeleteRows(ctx, key, nil, common.Unguarded))

	rows, err := store.GetRows(ctx, other)
	require.NoError(t, err)
	assert.Len(t, rows, len(oids))
}

func testConcurrentAccept(t *testing.T, newStore Factory) {
	ctx := context.Background()
	store := newStore(t, &Recorder{})

	const writers = 8
	var wins, conflicts atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			taskID := string(rune('a' + i))
			err := store.PutRows(ctx, key, acceptedRows(key, taskID, common.Now()), common.ExpectTaskID(""))
			switch {
			case err == nil:
				wins.Add(1)
			case assert.ErrorIs(t, err, common.ErrConditionFailed):
				conflicts.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(writers-1), conflicts.Load())
}
