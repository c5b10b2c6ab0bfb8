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

package subscription

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-devsub/pkg/common"
	"github.com/jeremyhahn/go-devsub/pkg/deviceapi"
)

var errUnreachable = &deviceapi.TransportError{Op: "test", Err: errors.New("connection refused")}

func newTask(t *testing.T, name, taskID, dev string) common.Task {
	t.Helper()
	task, err := common.NewTask(name, common.TaskPayload{
		TaskID:       taskID,
		DeviceID:     dev,
		LogServiceID: "0",
		TimePeriod:   DefaultTimePeriod,
	})
	require.NoError(t, err)
	return task
}

func notifications(code int, status string, oids ...string) []common.Notification {
	out := make([]common.Notification, 0, len(oids))
	for _, oid := range oids {
		out = append(out, common.Notification{ObjectID: oid, Code: code, Status: status})
	}
	return out
}

func online() *common.NotificationResult {
	return &common.NotificationResult{Notifications: notifications(deviceapi.CodeNoError, deviceapi.NotificationOnline, testOIDs...)}
}

func offline() *common.NotificationResult {
	return &common.NotificationResult{Notifications: notifications(deviceapi.CodeNoError, deviceapi.NotificationOffline, testOIDs...)}
}

func (f *fixture) taskStats(name string) (runs, skipped, applied, errs int64) {
	s := f.mgr.Metrics().Snapshot().Tasks[name]
	return s.Runs, s.Skipped, s.Applied, s.Errors
}

func TestRunSubscribeSuccess(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "printer-1", common.StatusSubscribeAccepted, "t1", "")
	f.api.On("Subscribe", mock.Anything, mock.Anything).Return(&common.CallResult{Code: deviceapi.CodeNoError}, nil)

	require.NoError(t, f.mgr.RunSubscribe(context.Background(), newTask(t, common.TaskRunSubscribe, "t1", "printer-1")))

	call := f.api.Calls[0].Arguments.Get(1).(*common.SubscribeCall)
	assert.Equal(t, "printer-1", call.DeviceID)
	assert.Equal(t, "printer-telemetry", call.ServiceID)
	assert.Equal(t, "https://callback.invalid/notify", call.CallbackURL)
	assert.True(t, call.Forward)
	require.Len(t, call.Objects, len(testOIDs))
	for i, o := range call.Objects {
		assert.Equal(t, testOIDs[i], o.ObjectID)
		assert.Equal(t, 1800, o.TimePeriodSeconds)
	}

	for _, r := range f.rows(t, "printer-1") {
		assert.Equal(t, common.StatusSubscribed, r.Status)
		assert.Equal(t, "Subscribed", r.Message)
		assert.Equal(t, "t1", r.TaskID)
		assert.Equal(t, "t1", r.AppliedTaskID)
	}
	runs, _, applied, _ := f.taskStats(common.TaskRunSubscribe)
	assert.EqualValues(t, 1, runs)
	assert.EqualValues(t, 1, applied)
}

func TestRunSubscribeDropsUnsupportedObjects(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "printer-1", common.StatusSubscribeAccepted, "t1", "")
	f.api.On("Subscribe", mock.Anything, mock.Anything).Return(&common.CallResult{
		Code: deviceapi.CodeNoError,
		Objects: []common.ObjectResult{
			{ObjectID: testOIDs[0], Code: deviceapi.CodeNoError},
			{ObjectID: testOIDs[1], Code: deviceapi.CodeNoSuchOID},
		},
	}, nil)

	f.mgr.RunSubscribe(context.Background(), newTask(t, common.TaskRunSubscribe, "t1", "printer-1"))

	rows := f.rows(t, "printer-1")
	assert.Equal(t, []string{testOIDs[0], testOIDs[2], testOIDs[3]}, common.ObjectIDs(rows))
	assert.Equal(t, 1, f.events.Count(common.ChangeRemove))
}

func TestRunSubscribeOutcomes(t *testing.T) {
	tests := []struct {
		name    string
		res     *common.CallResult
		err     error
		wantInt int
		wantMsg string
	}{
		{"already subscribed", &common.CallResult{Code: deviceapi.CodeAlreadySubscribed}, nil, 11, "Subscribed"},
		{"offline", &common.CallResult{Code: deviceapi.CodeSuccessDeviceOffline}, nil, 12, "Subscribed (device offline)"},
		{"device not recognized", &common.CallResult{Code: deviceapi.CodeDeviceNotRecognized, Message: "no such device"}, nil, 1, "no such device"},
		{"internal error", &common.CallResult{Code: deviceapi.CodeInternalError, Message: "boom"}, nil, 10200, "boom"},
		{"rejected", &common.CallResult{Code: deviceapi.CodeNotSubscribedFromService}, nil, 10300, "Subscribe error (300)"},
		{"partial", &common.CallResult{
			Code: deviceapi.CodePartialSuccess,
			Objects: []common.ObjectResult{
				{ObjectID: testOIDs[0], Code: deviceapi.CodeNoError},
				{ObjectID: testOIDs[1], Code: deviceapi.CodeNotSubscribedFromService, Message: "denied"},
			},
		}, nil, 10300, "denied"},
		{"transport", nil, errUnreachable, 91, "Subscribe communication error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.seed(t, "printer-1", common.StatusSubscribeAccepted, "t1", "")
			f.api.On("Subscribe", mock.Anything, mock.Anything).Return(tt.res, tt.err)

			require.NoError(t, f.mgr.RunSubscribe(context.Background(), newTask(t, common.TaskRunSubscribe, "t1", "printer-1")))

			cur, ok := f.logical(t, "printer-1")
			require.True(t, ok)
			assert.Equal(t, tt.wantInt, cur.Status.Int())
			assert.Equal(t, tt.wantMsg, cur.Message)
			assert.Equal(t, "t1", cur.AppliedTaskID)
		})
	}
}

func TestRunSubscribeIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "printer-1", common.StatusSubscribeAccepted, "t1", "")
	f.api.On("Subscribe", mock.Anything, mock.Anything).Return(&common.CallResult{Code: deviceapi.CodeNoError}, nil)
	task := newTask(t, common.TaskRunSubscribe, "t1", "printer-1")

	f.mgr.RunSubscribe(context.Background(), task)
	f.events.Reset()
	f.mgr.RunSubscribe(context.Background(), task)

	f.api.AssertNumberOfCalls(t, "Subscribe", 1)
	assert.Empty(t, f.events.Events())
	runs, skipped, applied, _ := f.taskStats(common.TaskRunSubscribe)
	assert.EqualValues(t, 2, runs)
	assert.EqualValues(t, 1, skipped)
	assert.EqualValues(t, 1, applied)
}

func TestRunSubscribeSkips(t *testing.T) {
	tests := []struct {
		name string
		seed func(*testing.T, *fixture)
	}{
		{"no rows", func(*testing.T, *fixture) {}},
		{"superseded", func(t *testing.T, f *fixture) { f.seed(t, "printer-1", common.StatusSubscribeAccepted, "t2", "") }},
		{"already applied", func(t *testing.T, f *fixture) { f.seed(t, "printer-1", common.SubscribeError(300), "t1", "t1") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tt.seed(t, f)

			require.NoError(t, f.mgr.RunSubscribe(context.Background(), newTask(t, common.TaskRunSubscribe, "t1", "printer-1")))

			f.api.AssertNotCalled(t, "Subscribe", mock.Anything, mock.Anything)
			assert.Empty(t, f.events.Events())
			_, skipped, _, _ := f.taskStats(common.TaskRunSubscribe)
			assert.EqualValues(t, 1, skipped)
		})
	}
}

func TestRunSubscribeSupersededDuringCall(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "printer-1", common.StatusSubscribeAccepted, "t1", "")
	f.api.On("Subscribe", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) {
			rows := common.NewRows(key("printer-1"), testOIDs, common.StatusUnsubscribeAccepted, "", "t2", common.Now())
			require.NoError(t, f.store.PutRows(context.Background(), key("printer-1"), rows, common.ExpectTaskID("t1")))
		}).
		Return(&common.CallResult{Code: deviceapi.CodeNoError}, nil)

	f.mgr.RunSubscribe(context.Background(), newTask(t, common.TaskRunSubscribe, "t1", "printer-1"))

	cur, ok := f.logical(t, "printer-1")
	require.True(t, ok)
	assert.Equal(t, common.StatusUnsubscribeAccepted, cur.Status)
	assert.Equal(t, "t2", cur.TaskID)
	_, skipped, applied, _ := f.taskStats(common.TaskRunSubscribe)
	assert.EqualValues(t, 1, skipped)
	assert.Zero(t, applied)
}

func TestRunSubscribeMalformedTask(t *testing.T) {
	f := newFixture(t)

	err := f.mgr.RunSubscribe(context.Background(), common.Task{ID: "x", Name: common.TaskRunSubscribe, Payload: []byte("{")})

	assert.NoError(t, err)
	_, _, _, errs := f.taskStats(common.TaskRunSubscribe)
	assert.EqualValues(t, 1, errs)
}

func TestRunSubscribeUnregisteredService(t *testing.T) {
	f := newFixture(t)
	task, err := common.NewTask(common.TaskRunSubscribe, common.TaskPayload{TaskID: "t1", DeviceID: "printer-1", LogServiceID: "9"})
	require.NoError(t, err)

	assert.NoError(t, f.mgr.RunSubscribe(context.Background(), task))
	f.api.AssertNotCalled(t, "Subscribe", mock.Anything, mock.Anything)
	_, _, _, errs := f.taskStats(common.TaskRunSubscribe)
	assert.EqualValues(t, 1, errs)
}

func TestRunUnsubscribeSuccess(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "printer-1", common.StatusUnsubscribeAccepted, "t1", "")
	f.api.On("Unsubscribe", mock.Anything, mock.Anything).Return(&common.CallResult{Code: deviceapi.CodeNoError}, nil)

	require.NoError(t, f.mgr.RunUnsubscribe(context.Background(), newTask(t, common.TaskRunUnsubscribe, "t1", "printer-1")))

	call := f.api.Calls[0].Arguments.Get(1).(*common.UnsubscribeCall)
	assert.Equal(t, "printer-telemetry", call.ServiceID)
	assert.Equal(t, testOIDs, call.ObjectIDs)
	assert.Empty(t, f.rows(t, "printer-1"))
	assert.Equal(t, len(testOIDs), f.events.Count(common.ChangeRemove))
}

func TestRunUnsubscribeOutcomes(t *testing.T) {
	tests := []struct {
		name    string
		res     *common.CallResult
		err     error
		removed bool
		wantInt int
	}{
		{"not subscribed", &common.CallResult{Code: deviceapi.CodeNotSubscribedFromService}, nil, true, 0},
		{"device gone", &common.CallResult{Code: deviceapi.CodeDeviceNotRecognized}, nil, true, 0},
		{"partial all acceptable", &common.CallResult{
			Code: deviceapi.CodePartialSuccess,
			Objects: []common.ObjectResult{
				{ObjectID: testOIDs[0], Code: deviceapi.CodeNoSuchOID},
				{ObjectID: testOIDs[1], Code: deviceapi.CodeSuccessDeviceOffline},
			},
		}, nil, true, 0},
		{"partial failure", &common.CallResult{
			Code: deviceapi.CodePartialSuccess,
			Objects: []common.ObjectResult{
				{ObjectID: testOIDs[0], Code: deviceapi.CodeNoError},
				{ObjectID: testOIDs[1], Code: deviceapi.CodeInternalError},
			},
		}, nil, false, 20200},
		{"internal error", &common.CallResult{Code: deviceapi.CodeInternalError}, nil, false, 20200},
		{"transport", nil, errUnreachable, false, 92},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.seed(t, "printer-1", common.StatusUnsubscribeAccepted, "t1", "")
			f.api.On("Unsubscribe", mock.Anything, mock.Anything).Return(tt.res, tt.err)

			f.mgr.RunUnsubscribe(context.Background(), newTask(t, common.TaskRunUnsubscribe, "t1", "printer-1"))

			cur, ok := f.logical(t, "printer-1")
			if tt.removed {
				assert.False(t, ok)
				return
			}
			require.True(t, ok)
			assert.Equal(t, tt.wantInt, cur.Status.Int())
			assert.Len(t, cur.ObjectIDs, len(testOIDs))
		})
	}
}

func TestRunUnsubscribeSkipsSupersededTask(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "printer-1", common.StatusSubscribeAccepted, "t2", "")

	f.mgr.RunUnsubscribe(context.Background(), newTask(t, common.TaskRunUnsubscribe, "t1", "printer-1"))

	f.api.AssertNotCalled(t, "Unsubscribe", mock.Anything, mock.Anything)
	assert.Len(t, f.rows(t, "printer-1"), len(testOIDs))
}

func TestRunGetNotifyResult(t *testing.T) {
	tests := []struct {
		name     string
		seed     common.Status
		res      *common.NotificationResult
		wantRows int
		wantInt  int
		changed  bool
	}{
		{"unchanged online", common.StatusSubscribed, online(), 4, 11, false},
		{"goes offline", common.StatusSubscribed, offline(), 4, 12, true},
		{"comes online", common.StatusSubscribedOffline, online(), 4, 11, true},
		{"unchanged offline", common.StatusSubscribedOffline, offline(), 4, 12, false},
		{"subscription lost", common.StatusSubscribed, &common.NotificationResult{
			Notifications: notifications(deviceapi.CodeObjectSubscriptionNotFound, "", testOIDs...),
		}, 0, 0, true},
		{"device gone", common.StatusSubscribedOffline, &common.NotificationResult{Code: deviceapi.CodeDeviceNotRecognized}, 0, 0, true},
		{"one object lost", common.StatusSubscribed, &common.NotificationResult{
			Notifications: append(
				notifications(deviceapi.CodeNoError, deviceapi.NotificationOnline, testOIDs[:3]...),
				notifications(deviceapi.CodeObjectSubscriptionNotFound, "", testOIDs[3])...,
			),
		}, 3, 11, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.seed(t, "printer-1", tt.seed, "t1", "t1")
			f.api.On("GetNotificationResult", mock.Anything, mock.Anything).Return(tt.res, nil)
			task := newTask(t, common.TaskRunGetNotifyResult, "t1", "printer-1")

			require.NoError(t, f.mgr.RunGetNotifyResult(context.Background(), task))

			rows := f.rows(t, "printer-1")
			require.Len(t, rows, tt.wantRows)
			for _, r := range rows {
				assert.Equal(t, tt.wantInt, r.Status.Int())
				assert.Equal(t, "t1", r.TaskID)
				assert.Equal(t, "t1", r.AppliedTaskID)
			}
			assert.Equal(t, tt.changed, len(f.events.Events()) > 0)

			// a second poll with the same answer writes nothing
			f.events.Reset()
			f.mgr.RunGetNotifyResult(context.Background(), task)
			assert.Empty(t, f.events.Events())
		})
	}
}

func TestRunGetNotifyResultSkips(t *testing.T) {
	tests := []struct {
		name   string
		status common.Status
		taskID string
	}{
		{"superseded", common.StatusSubscribed, "t2"},
		{"in flight", common.StatusUnsubscribeAccepted, "t1"},
		{"error", common.SubscribeError(300), "t1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.seed(t, "printer-1", tt.status, tt.taskID, tt.taskID)

			f.mgr.RunGetNotifyResult(context.Background(), newTask(t, common.TaskRunGetNotifyResult, "t1", "printer-1"))

			f.api.AssertNotCalled(t, "GetNotificationResult", mock.Anything, mock.Anything)
			_, skipped, _, _ := f.taskStats(common.TaskRunGetNotifyResult)
			assert.EqualValues(t, 1, skipped)
		})
	}
}

func TestRunGetNotifyResultTransportFailure(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "printer-1", common.StatusSubscribed, "t1", "t1")
	f.api.On("GetNotificationResult", mock.Anything, mock.Anything).Return(nil, errUnreachable)

	f.mgr.RunGetNotifyResult(context.Background(), newTask(t, common.TaskRunGetNotifyResult, "t1", "printer-1"))

	assert.Empty(t, f.events.Events())
	_, _, _, errs := f.taskStats(common.TaskRunGetNotifyResult)
	assert.EqualValues(t, 1, errs)
	assert.EqualValues(t, 1, f.mgr.Metrics().Snapshot().DeviceAPIErrors)
}
