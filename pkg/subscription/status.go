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

	"github.com/jeremyhahn/go-devsub/pkg/adapters"
	"github.com/jeremyhahn/go-devsub/pkg/common"
	"github.com/jeremyhahn/go-devsub/pkg/metrics"
)

// GetStatus reports each device's status. Confirmed subscriptions are
// polled on the device API first so online and offline state self-heals.
func (m *Manager) GetStatus(ctx context.Context, req Request) *Response {
	return m.runBatch(ctx, metrics.OpStatus, req, StatusClassifier, m.statusDevice)
}

func (m *Manager) statusDevice(ctx context.Context, key common.GroupKey, _ Request, reg common.ServiceRegistration) deviceOutcome {
	rows, cached, err := m.readRows(ctx, key, reg, true)
	if err != nil {
		return m.readFailure(ctx, metrics.OpStatus, key, err)
	}
	cur, exists := Reduce(rows, InfoRead)
	if exists && cur.Status.IsSubscribedOrOffline() && cached {
		// the poll compares against and guards on the stored group
		if rows, err = m.store.GetRows(ctx, key); err != nil {
			return m.readFailure(ctx, metrics.OpStatus, key, err)
		}
		cur, exists = Reduce(rows, InfoRead)
	}
	if !exists {
		return reported(key, common.StatusNotSubscribed, "")
	}
	if !cur.Status.IsSubscribedOrOffline() {
		return reported(key, cur.Status, cur.Message)
	}

	out, changed, err := m.poll(ctx, metrics.OpStatus, key, reg, cur)
	fields := []adapters.Field{
		{Key: "operation", Value: metrics.OpStatus},
		{Key: "device_id", Value: key.DeviceID},
		{Key: "log_service_id", Value: key.LogServiceID},
	}
	switch {
	case err == nil && changed:
		m.logger.Info(ctx, "Status refreshed from device API", append(fields, adapters.Field{Key: "status", Value: out.Status.String()})...)
		return reported(key, out.Status, out.Message)
	case err == nil:
		return reported(key, cur.Status, cur.Message)
	case errors.Is(err, errPollFailed):
		m.logger.Warn(ctx, "Notification poll failed, returning stored status", append(fields, adapters.ErrorField(err))...)
		return reported(key, cur.Status, cur.Message)
	case errors.Is(err, common.ErrConditionFailed), errors.Is(err, common.ErrRecordNotFound):
		// another operation took the group while polling; report what it holds now
		rows, rerr := m.store.GetRows(ctx, key)
		if rerr != nil {
			return m.readFailure(ctx, metrics.OpStatus, key, rerr)
		}
		if now, ok := Reduce(rows, InfoRead); ok {
			return reported(key, now.Status, now.Message)
		}
		return reported(key, common.StatusNotSubscribed, "")
	default:
		m.metrics.IncrementStoreErrors()
		m.logger.Error(ctx, "Record store write failed", append(fields, adapters.ErrorField(err))...)
		return storeErrorOutcome(key)
	}
}

// Refresh enqueues a notification poll for every confirmed subscription in
// req and reports current statuses without waiting for the polls.
func (m *Manager) Refresh(ctx context.Context, req Request) *Response {
	return m.runBatch(ctx, metrics.OpRefresh, req, StatusClassifier, m.refreshDevice)
}

func (m *Manager) refreshDevice(ctx context.Context, key common.GroupKey, _ Request, _ common.ServiceRegistration) deviceOutcome {
	rows, err := m.store.GetRows(ctx, key)
	if err != nil {
		return m.readFailure(ctx, metrics.OpRefresh, key, err)
	}
	cur, exists := Reduce(rows, InfoRead)
	if !exists {
		return reported(key, common.StatusNotSubscribed, "")
	}
	if cur.Status.IsSubscribedOrOffline() {
		_ = m.enqueue(ctx, common.TaskRunGetNotifyResult, common.TaskPayload{
			TaskID:       cur.TaskID,
			DeviceID:     key.DeviceID,
			LogServiceID: key.LogServiceID,
		})
	}
	return reported(key, cur.Status, cur.Message)
}

func reported(key common.GroupKey, s common.Status, msg string) deviceOutcome {
	return deviceOutcome{outcome: OutcomeReported, result: statusResult(key, s, msg)}
}
