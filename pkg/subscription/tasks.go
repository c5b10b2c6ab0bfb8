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
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jeremyhahn/go-devsub/pkg/adapters"
	"github.com/jeremyhahn/go-devsub/pkg/common"
)

// Reasons a task run ends without calling the device API.
const (
	skipNoRows         = "no rows"
	skipAlreadyApplied = "already applied"
	skipSuperseded     = "superseded"
	skipNotSubscribed  = "not subscribed"
)

// errPollFailed wraps device API failures of a notification poll.
var errPollFailed = errors.New("notification poll failed")

func decodePayload(task common.Task) (common.TaskPayload, error) {
	var p common.TaskPayload
	if err := json.Unmarshal(task.Payload, &p); err != nil {
		return p, fmt.Errorf("decode %s payload: %w", task.Name, err)
	}
	if p.TaskID == "" {
		p.TaskID = task.ID
	}
	return p, nil
}

func taskFields(name string, p common.TaskPayload) []adapters.Field {
	return []adapters.Field{
		{Key: "operation", Value: name},
		{Key: "device_id", Value: p.DeviceID},
		{Key: "log_service_id", Value: p.LogServiceID},
		{Key: "task_id", Value: p.TaskID},
	}
}

// skipReason applies run deduplication: a run proceeds only while the
// group still belongs to its task and the task has not recorded an outcome.
func skipReason(cur Logical, exists bool, taskID string) string {
	switch {
	case !exists:
		return skipNoRows
	case cur.AppliedTaskID == taskID:
		return skipAlreadyApplied
	case cur.TaskID != taskID:
		return skipSuperseded
	}
	return ""
}

// taskRun carries what every reconciliation needs after its preamble.
type taskRun struct {
	name    string
	payload common.TaskPayload
	key     common.GroupKey
	reg     common.ServiceRegistration
	cur     Logical
	fields  []adapters.Field
}

// begin decodes the task, resolves its registration and reads its group.
// A nil run means the task ended; failures are already logged.
func (m *Manager) begin(ctx context.Context, task common.Task, rc ReadContext, skip func(Logical, bool, string) string) *taskRun {
	m.metrics.RecordTaskRun(task.Name)

	p, err := decodePayload(task)
	if err != nil {
		m.metrics.RecordTaskError(task.Name)
		m.logger.Error(ctx, "Malformed task", adapters.Field{Key: "task_id", Value: task.ID}, adapters.ErrorField(err))
		return nil
	}
	fields := taskFields(task.Name, p)

	reg, ok := m.registry.Get(p.LogServiceID)
	if !ok {
		m.metrics.RecordTaskError(task.Name)
		m.logger.Error(ctx, "Task for unregistered log service", append(fields, adapters.ErrorField(common.ErrServiceNotFound))...)
		return nil
	}

	rows, err := m.store.GetRows(ctx, p.Key())
	if err != nil {
		m.metrics.RecordTaskError(task.Name)
		m.logger.Error(ctx, "Task failed to read rows", append(fields, adapters.ErrorField(err))...)
		return nil
	}
	cur, exists := Reduce(rows, rc)
	if reason := skip(cur, exists, p.TaskID); reason != "" {
		m.metrics.RecordTaskSkipped(task.Name)
		if reason == skipNoRows {
			m.logger.Error(ctx, "Task found no rows to reconcile", fields...)
		} else {
			m.logger.Info(ctx, "Task skipped", append(fields, adapters.Field{Key: "reason", Value: reason})...)
		}
		return nil
	}

	return &taskRun{name: task.Name, payload: p, key: p.Key(), reg: reg, cur: cur, fields: fields}
}

// record writes out for a group, guarded by the group's task id.
func (m *Manager) record(ctx context.Context, action string, key common.GroupKey, cur Logical, out taskOutcome, appliedTaskID string) error {
	guard := common.ExpectTaskID(cur.TaskID)
	var err error
	if out.Remove {
		err = m.store.DeleteRows(ctx, key, nil, guard)
	} else {
		err = m.store.UpdateStatus(ctx, key, common.StatusUpdate{
			Status:        out.Status,
			Message:       out.Message,
			AppliedTaskID: appliedTaskID,
			Drop:          out.Drop,
		}, guard)
	}
	if err != nil {
		return err
	}

	removed := out.removesAll(cur.ObjectIDs)
	to := out.Status
	if removed {
		to = common.StatusNotSubscribed
	}
	m.recordTransition(ctx, key, cur.TaskID, action, cur.Status, to, removed)
	return nil
}

// finish logs the result of recording a task outcome.
func (m *Manager) finish(ctx context.Context, run *taskRun, out taskOutcome, err error) {
	fields := append(run.fields, adapters.Field{Key: "status", Value: out.Status.String()})
	switch {
	case err == nil:
		m.metrics.RecordTaskApplied(run.name)
		m.logger.Info(ctx, "Task recorded outcome", fields...)
	case errors.Is(err, common.ErrConditionFailed):
		m.metrics.RecordTaskSkipped(run.name)
		m.logger.Info(ctx, "Task superseded before recording outcome", fields...)
	case errors.Is(err, common.ErrRecordNotFound):
		m.metrics.RecordTaskSkipped(run.name)
		m.logger.Warn(ctx, "Rows removed before task recorded outcome", fields...)
	default:
		m.metrics.RecordTaskError(run.name)
		m.logger.Error(ctx, "Task failed to record outcome", append(fields, adapters.ErrorField(err))...)
	}
}

// RunSubscribe reconciles an accepted subscribe with the device API.
// It implements dispatch.Handler and never returns an error; failures are
// logged with the task's device and log service.
func (m *Manager) RunSubscribe(ctx context.Context, task common.Task) error {
	run := m.begin(ctx, task, SubscribeRead, skipReason)
	if run == nil {
		return nil
	}

	seconds := ClampTimePeriod(run.payload.TimePeriod) * 60
	objects := make([]common.ObjectPeriod, 0, len(run.cur.ObjectIDs))
	for _, oid := range run.cur.ObjectIDs {
		objects = append(objects, common.ObjectPeriod{ObjectID: oid, TimePeriodSeconds: seconds})
	}

	res, err := m.deviceAPI.Subscribe(ctx, &common.SubscribeCall{
		DeviceID:    run.key.DeviceID,
		ServiceID:   run.reg.DeviceAPIServiceID,
		Objects:     objects,
		CallbackURL: run.reg.CallbackURL,
		Forward:     true,
	})
	m.metrics.RecordDeviceAPICall(err != nil)
	if err != nil {
		m.logger.Warn(ctx, "Device API subscribe failed", append(run.fields, adapters.ErrorField(err))...)
	}

	out := classifySubscribe(res, err)
	m.finish(ctx, run, out, m.record(ctx, run.name, run.key, run.cur, out, run.payload.TaskID))
	return nil
}

// RunUnsubscribe reconciles an accepted unsubscribe with the device API.
func (m *Manager) RunUnsubscribe(ctx context.Context, task common.Task) error {
	run := m.begin(ctx, task, UnsubscribeRead, skipReason)
	if run == nil {
		return nil
	}

	res, err := m.deviceAPI.Unsubscribe(ctx, &common.UnsubscribeCall{
		DeviceID:  run.key.DeviceID,
		ServiceID: run.reg.DeviceAPIServiceID,
		ObjectIDs: run.cur.ObjectIDs,
	})
	m.metrics.RecordDeviceAPICall(err != nil)
	if err != nil {
		m.logger.Warn(ctx, "Device API unsubscribe failed", append(run.fields, adapters.ErrorField(err))...)
	}

	out := classifyUnsubscribe(res, err)
	m.finish(ctx, run, out, m.record(ctx, run.name, run.key, run.cur, out, run.payload.TaskID))
	return nil
}

// RunGetNotifyResult polls the device API for a confirmed subscription and
// records online, offline or gone. Polling is repeatable, so only a group
// that moved on to another task or out of the subscribed states is skipped.
func (m *Manager) RunGetNotifyResult(ctx context.Context, task common.Task) error {
	run := m.begin(ctx, task, InfoRead, func(cur Logical, exists bool, taskID string) string {
		switch {
		case !exists:
			return skipNoRows
		case cur.TaskID != taskID:
			return skipSuperseded
		case !cur.Status.IsSubscribedOrOffline():
			return skipNotSubscribed
		}
		return ""
	})
	if run == nil {
		return nil
	}

	out, changed, err := m.poll(ctx, run.name, run.key, run.reg, run.cur)
	switch {
	case errors.Is(err, errPollFailed):
		m.metrics.RecordTaskError(run.name)
		m.logger.Warn(ctx, "Device API notification poll failed", append(run.fields, adapters.ErrorField(err))...)
	case !changed && err == nil:
		m.metrics.RecordTaskSkipped(run.name)
		m.logger.Debug(ctx, "Notification status unchanged", run.fields...)
	default:
		m.finish(ctx, run, out, err)
	}
	return nil
}

// poll asks the device API for the latest notifications of a subscribed
// group and records the classified status when it differs from cur.
func (m *Manager) poll(ctx context.Context, action string, key common.GroupKey, reg common.ServiceRegistration, cur Logical) (taskOutcome, bool, error) {
	res, err := m.deviceAPI.GetNotificationResult(ctx, &common.NotificationCall{
		DeviceID:  key.DeviceID,
		ServiceID: reg.DeviceAPIServiceID,
		ObjectIDs: cur.ObjectIDs,
	})
	m.metrics.RecordDeviceAPICall(err != nil)
	if err != nil {
		return taskOutcome{}, false, fmt.Errorf("%w: %w", errPollFailed, err)
	}

	out := classifyNotifications(res)
	if !out.changes(cur) {
		return out, false, nil
	}
	if err := m.record(ctx, action, key, cur, out, cur.AppliedTaskID); err != nil {
		return out, true, err
	}
	if out.removesAll(cur.ObjectIDs) {
		out.Status, out.Message = common.StatusNotSubscribed, common.StatusNotSubscribed.DefaultMessage()
	}
	return out, true, nil
}
