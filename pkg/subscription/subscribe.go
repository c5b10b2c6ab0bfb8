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

// Subscribe accepts a subscription for every device of req that has no
// operation in flight and enqueues its reconciliation.
func (m *Manager) Subscribe(ctx context.Context, req Request) *Response {
	return m.runBatch(ctx, metrics.OpSubscribe, req, SubscribeClassifier, m.subscribeDevice)
}

func (m *Manager) subscribeDevice(ctx context.Context, key common.GroupKey, req Request, reg common.ServiceRegistration) deviceOutcome {
	useCache := true
	for {
		rows, cached, err := m.readRows(ctx, key, reg, useCache)
		if err != nil {
			return m.readFailure(ctx, metrics.OpSubscribe, key, err)
		}

		cur, exists := Reduce(rows, SubscribeRead)
		if exists {
			switch {
			case cur.Status.IsInFlight():
				m.metrics.IncrementConflicts()
				return conflictOutcome(key, cur)
			case cur.Status.Kind == common.KindUnsubscribeError:
				// an unresolved unsubscribe failure is returned until the caller retries unsubscribe
				return deviceOutcome{outcome: OutcomePassThrough, result: statusResult(key, cur.Status, cur.Message)}
			}
		}

		taskID, err := m.accept(ctx, key, reg.ObjectIDs, rows, cur, common.StatusSubscribeAccepted)
		if err != nil {
			if cached && errors.Is(err, common.ErrConditionFailed) {
				useCache = false
				continue
			}
			return m.writeFailure(ctx, metrics.OpSubscribe, key, err)
		}

		from := common.StatusNotSubscribed
		if exists {
			from = cur.Status
		}
		m.recordTransition(ctx, key, taskID, metrics.OpSubscribe, from, common.StatusSubscribeAccepted, false)
		m.logger.Info(ctx, "Subscribe accepted",
			adapters.Field{Key: "operation", Value: metrics.OpSubscribe},
			adapters.Field{Key: "device_id", Value: key.DeviceID},
			adapters.Field{Key: "log_service_id", Value: key.LogServiceID},
			adapters.Field{Key: "task_id", Value: taskID})

		err = m.enqueue(ctx, common.TaskRunSubscribe, common.TaskPayload{
			TaskID:       taskID,
			DeviceID:     key.DeviceID,
			LogServiceID: key.LogServiceID,
			TimePeriod:   req.TimePeriod,
		})
		if err != nil {
			return m.abandon(ctx, metrics.OpSubscribe, key, taskID,
				common.StatusSubscribeCommunicationError, "", common.StatusSubscribeCommunicationError)
		}
		return deviceOutcome{outcome: OutcomeAccepted, result: statusResult(key, common.StatusSubscribeAccepted, "")}
	}
}
