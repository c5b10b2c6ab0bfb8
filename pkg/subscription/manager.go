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

// Package subscription is the device subscription lifecycle manager. It
// answers subscribe, unsubscribe and status requests synchronously and
// reconciles accepted operations against the device API in tasks.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jeremyhahn/go-devsub/pkg/adapters"
	"github.com/jeremyhahn/go-devsub/pkg/audit"
	"github.com/jeremyhahn/go-devsub/pkg/common"
	"github.com/jeremyhahn/go-devsub/pkg/metrics"
)

// DefaultParallelism bounds concurrent device processing within a batch.
const DefaultParallelism = 8

var (
	ErrRegistryRequired   = errors.New("service registry is required")
	ErrDeviceAPIRequired  = errors.New("device api client is required")
	ErrDispatcherRequired = errors.New("task dispatcher is required")
)

// Config wires a Manager to its collaborators.
type Config struct {
	Store      common.RecordStore
	Cache      common.Cache // optional
	Registry   common.Registry
	DeviceAPI  common.DeviceAPI
	Dispatcher common.Dispatcher

	Logger  adapters.Logger
	Audit   audit.AuditLogger
	Metrics *metrics.Metrics

	MaxBatchSize int
	Parallelism  int

	// NewTaskID overrides task id generation, for tests.
	NewTaskID func() string
}

// Manager owns the subscription state machine.
type Manager struct {
	store      common.RecordStore
	cache      common.Cache
	registry   common.Registry
	deviceAPI  common.DeviceAPI
	dispatcher common.Dispatcher
	logger     adapters.Logger
	audit      audit.AuditLogger
	metrics    *metrics.Metrics

	maxBatch    int
	parallelism int
	newTaskID   func() string
}

// New creates a Manager.
func New(cfg Config) (*Manager, error) {
	switch {
	case cfg.Store == nil:
		return nil, common.ErrStoreRequired
	case cfg.Registry == nil:
		return nil, ErrRegistryRequired
	case cfg.DeviceAPI == nil:
		return nil, ErrDeviceAPIRequired
	case cfg.Dispatcher == nil:
		return nil, ErrDispatcherRequired
	}
	if cfg.Logger == nil {
		cfg.Logger = adapters.NewNoOpLogger()
	}
	if cfg.Audit == nil {
		cfg.Audit = audit.NewNoOpAuditLogger()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = DefaultMaxBatchSize
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = DefaultParallelism
	}
	if cfg.NewTaskID == nil {
		cfg.NewTaskID = uuid.NewString
	}
	return &Manager{
		store:       cfg.Store,
		cache:       cfg.Cache,
		registry:    cfg.Registry,
		deviceAPI:   cfg.DeviceAPI,
		dispatcher:  cfg.Dispatcher,
		logger:      cfg.Logger,
		audit:       cfg.Audit,
		metrics:     cfg.Metrics,
		maxBatch:    cfg.MaxBatchSize,
		parallelism: cfg.Parallelism,
		newTaskID:   cfg.NewTaskID,
	}, nil
}

// Metrics returns the manager's counters.
func (m *Manager) Metrics() *metrics.Metrics {
	return m.metrics
}

// deviceFunc handles one device of a batch.
type deviceFunc func(ctx context.Context, key common.GroupKey, req Request, reg common.ServiceRegistration) deviceOutcome

type deviceOutcome struct {
	outcome Outcome
	result  DeviceResult
}

// runBatch validates req and runs fn for every device, concurrently, with
// results kept in request order. One device never fails another.
func (m *Manager) runBatch(ctx context.Context, op string, req Request, classifier Classifier, fn deviceFunc) *Response {
	start := time.Now()

	norm, reg, err := m.normalize(req)
	if err != nil {
		m.logger.Warn(ctx, "Rejected request",
			adapters.Field{Key: "operation", Value: op},
			adapters.Field{Key: "log_service_id", Value: req.LogServiceID},
			adapters.ErrorField(err))
		m.metrics.RecordRequest(op, len(req.DeviceIDs), true, time.Since(start))
		return &Response{Code: ResultBadRequest, Devices: []DeviceResult{}, Message: err.Error()}
	}

	outcomes := make([]deviceOutcome, len(norm.DeviceIDs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.parallelism)
	for i, id := range norm.DeviceIDs {
		key := common.GroupKey{DeviceID: id, LogServiceID: norm.LogServiceID}
		g.Go(func() error {
			outcomes[i] = m.guardDevice(gctx, op, key, func(ctx context.Context) deviceOutcome {
				return fn(ctx, key, norm, reg)
			})
			return nil
		})
	}
	_ = g.Wait()

	tally := make(Tally)
	resp := &Response{Devices: make([]DeviceResult, len(outcomes))}
	for i, o := range outcomes {
		tally[o.outcome]++
		resp.Devices[i] = o.result
	}
	resp.Code = classifier.Classify(tally)
	resp.Message = resp.Code.Message()

	m.metrics.RecordRequest(op, len(norm.DeviceIDs), resp.Code != ResultSuccess, time.Since(start))
	return resp
}

// guardDevice converts a panic in one device into an error outcome.
func (m *Manager) guardDevice(ctx context.Context, op string, key common.GroupKey, fn func(context.Context) deviceOutcome) (out deviceOutcome) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error(ctx, "Device processing panicked",
				adapters.Field{Key: "operation", Value: op},
				adapters.Field{Key: "device_id", Value: key.DeviceID},
				adapters.Field{Key: "log_service_id", Value: key.LogServiceID},
				adapters.Field{Key: "panic", Value: fmt.Sprint(r)},
				adapters.Field{Key: "stack", Value: string(debug.Stack())})
			out = errorOutcome(key, common.StatusUnknown.DefaultMessage())
		}
	}()
	return fn(ctx)
}

// readRows reads a group through the cache, falling back to the store. A
// cached group only counts when it holds exactly the registered object ids,
// so a group the relay rebuilt from a partial event stream is never served.
func (m *Manager) readRows(ctx context.Context, key common.GroupKey, reg common.ServiceRegistration, useCache bool) ([]common.Row, bool, error) {
	if useCache && m.cache != nil {
		rows, ok, err := m.cache.Get(ctx, key)
		switch {
		case err != nil:
			m.logger.Warn(ctx, "Cache read failed, using record store",
				adapters.Field{Key: "device_id", Value: key.DeviceID},
				adapters.Field{Key: "log_service_id", Value: key.LogServiceID},
				adapters.ErrorField(err))
		case ok && sameObjectIDs(rows, reg.ObjectIDs):
			return rows, true, nil
		}
	}
	rows, err := m.store.GetRows(ctx, key)
	return rows, false, err
}

func sameObjectIDs(rows []common.Row, oids []string) bool {
	if len(rows) != len(oids) {
		return false
	}
	want := make(map[string]struct{}, len(oids))
	for _, oid := range oids {
		want[oid] = struct{}{}
	}
	for _, r := range rows {
		if _, ok := want[r.ObjectID]; !ok {
			return false
		}
		delete(want, r.ObjectID)
	}
	return len(want) == 0
}

// accept replaces the group with rows in an accepted status under a new
// task id, guarded by the task id the decision was made on.
func (m *Manager) accept(ctx context.Context, key common.GroupKey, oids []string, existing []common.Row, prev Logical, status common.Status) (string, error) {
	taskID := m.newTaskID()
	rows := common.NewRows(key, oids, status, status.DefaultMessage(), taskID, common.Now())
	rows = common.MergeCreatedAt(existing, rows)
	if err := m.store.PutRows(ctx, key, rows, common.ExpectTaskID(prev.TaskID)); err != nil {
		return "", err
	}
	return taskID, nil
}

// enqueue hands a task to the dispatcher. The hand-off outlives the request
// so a caller that disconnects after its rows were accepted still gets its
// task run.
func (m *Manager) enqueue(ctx context.Context, name string, payload common.TaskPayload) error {
	fields := []adapters.Field{
		{Key: "operation", Value: name},
		{Key: "device_id", Value: payload.DeviceID},
		{Key: "log_service_id", Value: payload.LogServiceID},
		{Key: "task_id", Value: payload.TaskID},
	}
	task, err := common.NewTask(name, payload)
	if err == nil {
		err = m.dispatcher.Enqueue(context.WithoutCancel(ctx), task)
	}
	if err != nil {
		m.metrics.IncrementEnqueueFailures()
		m.logger.Error(ctx, "Failed to enqueue task", append(fields, adapters.ErrorField(err))...)
		return err
	}
	m.logger.Debug(ctx, "Task enqueued", fields...)
	return nil
}

// abandon takes back an accepted group whose task could not be enqueued.
// The group is rewritten to status under its own task id, guarded by that
// id, and marked applied so a spooled copy of the task is skipped on
// recovery. The device result reports the failed attempt as shown.
func (m *Manager) abandon(ctx context.Context, op string, key common.GroupKey, taskID string, status common.Status, msg string, shown common.Status) deviceOutcome {
	ctx = context.WithoutCancel(ctx)
	if msg == "" {
		msg = status.DefaultMessage()
	}
	err := m.store.UpdateStatus(ctx, key, common.StatusUpdate{
		Status:        status,
		Message:       msg,
		AppliedTaskID: taskID,
	}, common.ExpectTaskID(taskID))
	fields := []adapters.Field{
		{Key: "operation", Value: op},
		{Key: "device_id", Value: key.DeviceID},
		{Key: "log_service_id", Value: key.LogServiceID},
		{Key: "task_id", Value: taskID},
	}
	switch {
	case err == nil:
		m.recordTransition(ctx, key, taskID, op, acceptedStatus(op), status, false)
		m.logger.Warn(ctx, "Accepted operation abandoned, task not enqueued",
			append(fields, adapters.Field{Key: "status", Value: status.String()})...)
		return deviceOutcome{outcome: OutcomeError, result: statusResult(key, shown, "")}
	case errors.Is(err, common.ErrConditionFailed), errors.Is(err, common.ErrRecordNotFound):
		m.metrics.IncrementConflicts()
		m.logger.Info(ctx, "Concurrent request won device before abandon", append(fields, adapters.ErrorField(err))...)
		return m.conflictFromStore(ctx, key)
	default:
		m.metrics.IncrementStoreErrors()
		m.logger.Error(ctx, "Failed to abandon accepted operation", append(fields, adapters.ErrorField(err))...)
		return storeErrorOutcome(key)
	}
}

func acceptedStatus(op string) common.Status {
	if op == metrics.OpUnsubscribe {
		return common.StatusUnsubscribeAccepted
	}
	return common.StatusSubscribeAccepted
}

func (m *Manager) recordTransition(ctx context.Context, key common.GroupKey, taskID, action string, from, to common.Status, removed bool) {
	_ = m.audit.LogTransition(ctx, audit.Transition{
		Key:     key,
		TaskID:  taskID,
		Action:  action,
		From:    from,
		To:      to,
		Removed: removed,
	}, nil)
}

// writeFailure maps a handler write error to its outcome. A failed guard
// means a concurrent request won the group.
func (m *Manager) writeFailure(ctx context.Context, op string, key common.GroupKey, err error) deviceOutcome {
	fields := []adapters.Field{
		{Key: "operation", Value: op},
		{Key: "device_id", Value: key.DeviceID},
		{Key: "log_service_id", Value: key.LogServiceID},
		adapters.ErrorField(err),
	}
	if errors.Is(err, common.ErrConditionFailed) {
		m.metrics.IncrementConflicts()
		m.logger.Info(ctx, "Concurrent request won device", fields...)
		return m.conflictFromStore(ctx, key)
	}
	m.metrics.IncrementStoreErrors()
	m.logger.Error(ctx, "Record store write failed", fields...)
	return storeErrorOutcome(key)
}

// conflictFromStore reports a conflict with whatever status the winner wrote.
func (m *Manager) conflictFromStore(ctx context.Context, key common.GroupKey) deviceOutcome {
	rows, err := m.store.GetRows(ctx, key)
	cur, ok := Reduce(rows, InfoRead)
	if err != nil || !ok {
		return deviceOutcome{outcome: OutcomeConflict, result: DeviceResult{
			DeviceID:  key.DeviceID,
			ErrorCode: common.StatusUnknown.Int(),
			Message:   ResultConflict.Message(),
		}}
	}
	return conflictOutcome(key, cur)
}

func (m *Manager) readFailure(ctx context.Context, op string, key common.GroupKey, err error) deviceOutcome {
	m.metrics.IncrementStoreErrors()
	m.logger.Error(ctx, "Record store read failed",
		adapters.Field{Key: "operation", Value: op},
		adapters.Field{Key: "device_id", Value: key.DeviceID},
		adapters.Field{Key: "log_service_id", Value: key.LogServiceID},
		adapters.ErrorField(err))
	return storeErrorOutcome(key)
}

func statusResult(key common.GroupKey, s common.Status, msg string) DeviceResult {
	if msg == "" {
		msg = s.DefaultMessage()
	}
	return DeviceResult{DeviceID: key.DeviceID, ErrorCode: s.Int(), Message: msg}
}

func conflictOutcome(key common.GroupKey, cur Logical) deviceOutcome {
	return deviceOutcome{outcome: OutcomeConflict, result: DeviceResult{
		DeviceID:  key.DeviceID,
		ErrorCode: cur.Status.Int(),
		Message:   ResultConflict.Message(),
	}}
}

func storeErrorOutcome(key common.GroupKey) deviceOutcome {
	return deviceOutcome{outcome: OutcomeStoreError, result: DeviceResult{
		DeviceID:  key.DeviceID,
		ErrorCode: common.StatusUnknown.Int(),
		Message:   ResultStoreError.Message(),
	}}
}

func errorOutcome(key common.GroupKey, msg string) deviceOutcome {
	return deviceOutcome{outcome: OutcomeError, result: DeviceResult{
		DeviceID:  key.DeviceID,
		ErrorCode: common.StatusUnknown.Int(),
		Message:   msg,
	}}
}
