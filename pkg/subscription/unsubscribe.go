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

// Unsubscribe removes devices that were never confirmed subscribed and
// accepts an unsubscribe for confirmed ones.
func (m *Manager) Unsubscribe(ctx context.Context, req Request) *Response {
	return m.runBatch(ctx, metrics.OpUnsubscribe, req, UnsubscribeClassifier, m.unsubscribeDevice)
}

func (m *Manager) unsubscribeDevice(ctx context.Context, key common.GroupKey, _ Request, reg common.ServiceRegistration) deviceOutcome {
	notSubscribed := deviceOutcome{outcome: OutcomeNotSubscribed, result: statusResult(key, common.StatusNotSubscribed, "")}

	useCache := true
	for {
		rows, cached, err := m.readRows(ctx, key, reg, useCache)
		if err != nil {
			return m.readFailure(ctx, metrics.OpUnsubscribe, key, err)
		}

		cur, exists := Reduce(rows, UnsubscribeRead)
		if !exists {
			return notSubscribed
		}

		switch cur.Status.Kind {
		case common.KindNotSubscribed, common.KindSubscribeError, common.KindDeviceNotFound:
			err := m.store.DeleteRows(ctx, key, nil, common.ExpectTaskID(cur.TaskID))
			if err != nil {
				if cached && errors.Is(err, common.ErrConditionFailed) {
					useCache = false
					continue
				}
				return m.writeFailure(ctx, metrics.OpUnsubscribe, key, err)
			}
			m.recordTransition(ctx, key, cur.TaskID, metrics.OpUnsubscribe, cur.Status, common.StatusNotSubscribed, true)
			m.logger.Info(ctx, "Removed unconfirmed subscription",
				adapters.Field{Key: "operation", Value: metrics.OpUnsubscribe},
				adapters.Field{Key: "device_id", Value: key.DeviceID},
				adapters.Field{Key: "log_service_id", Value: key.LogServiceID},
				adapters.Field{Key: "status", Value: cur.Status.String()})
			return notSubscribed

		case common.KindSubscribed, common.KindSubscribedOffline, common.KindUnsubscribeError:
			if cached {
				// the accepted row set replaces the group, so it comes from the store
				useCache = false
				continue
			}
			taskID, err := m.accept(ctx, key, cur.ObjectIDs, rows, cur, common.StatusUnsubscribeAccepted)
			if err != nil {
				if cached && errors.Is(err, common.ErrConditionFailed) {
					useCache = false
					continue
				}
				return m.writeFailure(ctx, metrics.OpUnsubscribe, key, err)
			}
			m.recordTransition(ctx, key, taskID, metrics.OpUnsubscribe, cur.Status, common.StatusUnsubscribeAccepted, false)
			m.logger.Info(ctx, "Unsubscribe accepted",
				adapters.Field{Key: "operation", Value: metrics.OpUnsubscribe},
				adapters.Field{Key: "device_id", Value: key.DeviceID},
				adapters.Field{Key: "log_service_id", Value: key.LogServiceID},
				adapters.Field{Key: "task_id", Value: taskID})
			err = m.enqueue(ctx, common.TaskRunUnsubscribe, common.TaskPayload{
				TaskID:       taskID,
				DeviceID:     key.DeviceID,
				LogServiceID: key.LogServiceID,
			})
			if err != nil {
				// the confirmed subscription stands; the caller may retry
				return m.abandon(ctx, metrics.OpUnsubscribe, key, taskID,
					cur.Status, cur.Message, common.StatusUnsubscribeCommunicationError)
			}
			return deviceOutcome{outcome: OutcomeAccepted, result: statusResult(key, common.StatusUnsubscribeAccepted, "")}

		case common.KindSubscribeAccepted, common.KindUnsubscribeAccepted:
			m.metrics.IncrementConflicts()
			return conflictOutcome(key, cur)

		default:
			return deviceOutcome{outcome: OutcomeUnknown, result: statusResult(key, cur.Status, cur.Message)}
		}
	}
}
