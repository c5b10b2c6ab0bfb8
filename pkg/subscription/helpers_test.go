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
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-devsub/pkg/common"
	"github.com/jeremyhahn/go-devsub/pkg/memory"
	"github.com/jeremyhahn/go-devsub/pkg/registry"
	"github.com/jeremyhahn/go-devsub/pkg/storetest"
)

var testOIDs = []string{
	"1.3.6.1.2.1.43.10.2.1.4.1.1",
	"1.3.6.1.2.1.43.11.1.1.9.1.1",
	"1.3.6.1.2.1.43.11.1.1.9.1.2",
	"1.3.6.1.2.1.43.11.1.1.9.1.3",
}

type mockDeviceAPI struct {
	mock.Mock
}

func (m *mockDeviceAPI) Subscribe(ctx context.Context, req *common.SubscribeCall) (*common.CallResult, error) {
	args := m.Called(ctx, req)
	res, _ := args.Get(0).(*common.CallResult)
	return res, args.Error(1)
}

func (m *mockDeviceAPI) Unsubscribe(ctx context.Context, req *common.UnsubscribeCall) (*common.CallResult, error) {
	args := m.Called(ctx, req)
	res, _ := args.Get(0).(*common.CallResult)
	return res, args.Error(1)
}

func (m *mockDeviceAPI) GetNotificationResult(ctx context.Context, req *common.NotificationCall) (*common.NotificationResult, error) {
	args := m.Called(ctx, req)
	res, _ := args.Get(0).(*common.NotificationResult)
	return res, args.Error(1)
}

type mockDispatcher struct {
	mock.Mock
}

func (m *mockDispatcher) Enqueue(ctx context.Context, task common.Task) error {
	return m.Called(ctx, task).Error(0)
}

// tasks returns every task passed to Enqueue, in call order.
func (m *mockDispatcher) tasks() []common.Task {
	var out []common.Task
	for _, c := range m.Calls {
		if c.Method == "Enqueue" {
			out = append(out, c.Arguments.Get(1).(common.Task))
		}
	}
	return out
}

type fixture struct {
	mgr    *Manager
	store  *memory.Memory
	api    *mockDeviceAPI
	disp   *mockDispatcher
	events *storetest.Recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	reg, err := registry.New(
		common.ServiceRegistration{
			LogServiceID:       "0",
			DeviceAPIServiceID: "printer-telemetry",
			CallbackURL:        "https://callback.invalid/notify",
			ObjectIDs:          testOIDs,
		},
		common.ServiceRegistration{
			LogServiceID:       "7",
			DeviceAPIServiceID: "scanner-telemetry",
			ObjectIDs:          []string{"1.3.6.1.4.1.1"},
		},
	)
	require.NoError(t, err)

	store := memory.New()
	events := &storetest.Recorder{}
	store.SetChangeSink(events)

	api := &mockDeviceAPI{}
	disp := &mockDispatcher{}
	disp.On("Enqueue", mock.Anything, mock.Anything).Return(nil).Maybe()

	var mu sync.Mutex
	n := 0
	mgr, err := New(Config{
		Store:      store,
		Registry:   reg,
		DeviceAPI:  api,
		Dispatcher: disp,
		NewTaskID: func() string {
			mu.Lock()
			defer mu.Unlock()
			n++
			return fmt.Sprintf("task-%d", n)
		},
	})
	require.NoError(t, err)

	return &fixture{mgr: mgr, store: store, api: api, disp: disp, events: events}
}

func key(dev string) common.GroupKey {
	return common.GroupKey{DeviceID: dev, LogServiceID: "0"}
}

// seed stores the full OID set of dev in status s.
func (f *fixture) seed(t *testing.T, dev string, s common.Status, taskID, applied string) {
	t.Helper()
	rows := common.NewRows(key(dev), testOIDs, s, s.DefaultMessage(), taskID, common.Now())
	for i := range rows {
		rows[i].AppliedTaskID = applied
	}
	require.NoError(t, f.store.PutRows(context.Background(), key(dev), rows, common.Unguarded))
	f.events.Reset()
}

func (f *fixture) rows(t *testing.T, dev string) []common.Row {
	t.Helper()
	rows, err := f.store.GetRows(context.Background(), key(dev))
	require.NoError(t, err)
	return rows
}

func (f *fixture) logical(t *testing.T, dev string) (Logical, bool) {
	t.Helper()
	return Reduce(f.rows(t, dev), InfoRead)
}

// lastTask returns the most recently enqueued task.
func (f *fixture) lastTask(t *testing.T) common.Task {
	t.Helper()
	tasks := f.disp.tasks()
	require.NotEmpty(t, tasks)
	return tasks[len(tasks)-1]
}

func req(devices ...string) Request {
	return Request{DeviceIDs: devices}
}
