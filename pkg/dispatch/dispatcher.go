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

// Package dispatch runs reconciliation tasks on a bounded worker pool,
// optionally journaling them to a spool for recovery after a restart.
package dispatch

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jeremyhahn/go-devsub/pkg/adapters"
	"github.com/jeremyhahn/go-devsub/pkg/common"
)

// Handler processes one task. Returned errors are logged, not retried.
type Handler func(ctx context.Context, task common.Task) error

// Config contains configuration for the dispatcher.
type Config struct {
	Workers   int // Default: 4
	QueueSize int // Default: 1000

	// TaskTimeout bounds a single handler run. Zero means no limit.
	TaskTimeout time.Duration

	// Spool, when set, journals every task until its handler returns.
	Spool  *Spool
	Logger adapters.Logger
}

type queued struct {
	seq  uint64
	task common.Task
}

// Dispatcher implements common.Dispatcher with a worker pool.
type Dispatcher struct {
	workers     int
	queue       chan queued
	taskTimeout time.Duration
	spool       *Spool
	logger      adapters.Logger

	mu       sync.RWMutex
	handlers map[string]Handler
	started  bool
	closed   bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	enqueued  atomic.Int64
	rejected  atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64
	panicked  atomic.Int64
	recovered atomic.Int64
}

var _ common.Dispatcher = (*Dispatcher)(nil)

// New creates a dispatcher. Register handlers before calling Start.
func New(config Config) *Dispatcher {
	if config.Workers <= 0 {
		config.Workers = 4
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 1000
	}
	if config.Logger == nil {
		config.Logger = adapters.NewNoOpLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		workers:     config.Workers,
		queue:       make(chan queued, config.QueueSize),
		taskTimeout: config.TaskTimeout,
		spool:       config.Spool,
		logger:      config.Logger,
		handlers:    make(map[string]Handler),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Handle registers the handler for a task name.
func (d *Dispatcher) Handle(name string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[name] = h
}

// Start launches the worker goroutines.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}
}

// Enqueue implements common.Dispatcher. It never blocks: a full queue
// returns common.ErrQueueFull. With a spool the task is journaled before
// the capacity check, so a rejected task is still run by Recover after a
// restart unless its group has moved on.
func (d *Dispatcher) Enqueue(ctx context.Context, task common.Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.rejected.Add(1)
		return common.ErrDispatcherClosed
	}
	if _, ok := d.handlers[task.Name]; !ok {
		d.rejected.Add(1)
		return fmt.Errorf("%w: %s", common.ErrUnknownTask, task.Name)
	}

	var seq uint64
	if d.spool != nil {
		var err error
		if seq, err = d.spool.Append(task); err != nil {
			d.rejected.Add(1)
			return fmt.Errorf("spool task %s: %w", task.ID, err)
		}
	}

	select {
	case d.queue <- queued{seq: seq, task: task}:
		d.enqueued.Add(1)
		return nil
	default:
		d.rejected.Add(1)
		return common.ErrQueueFull
	}
}

// Recover re-enqueues spooled tasks left unfinished by a previous run.
// Tasks that do not fit in the queue stay in the spool.
func (d *Dispatcher) Recover(ctx context.Context) (int, error) {
	if d.spool == nil {
		return 0, nil
	}
	pending, err := d.spool.Pending()
	if err != nil {
		return 0, err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return 0, common.ErrDispatcherClosed
	}

	n := 0
	for _, p := range pending {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		select {
		case d.queue <- queued{seq: p.Seq, task: p.Task}:
			n++
		default:
			d.logger.Warn(ctx, "Task queue full, leaving remaining tasks spooled",
				adapters.Field{Key: "remaining", Value: len(pending) - n})
			d.recovered.Add(int64(n))
			return n, nil
		}
	}
	d.recovered.Add(int64(n))
	if n > 0 {
		d.logger.Info(ctx, "Recovered spooled tasks", adapters.Field{Key: "count", Value: n})
	}
	return n, nil
}

func (d *Dispatcher) worker(id int) {
	defer d.wg.Done()

	d.logger.Debug(d.ctx, "Worker started", adapters.Field{Key: "worker_id", Value: id})
	for {
		select {
		case <-d.ctx.Done():
			return
		case item, ok := <-d.queue:
			if !ok {
				d.logger.Debug(d.ctx, "Worker queue closed", adapters.Field{Key: "worker_id", Value: id})
				return
			}
			d.run(item)
		}
	}
}

func (d *Dispatcher) run(item queued) {
	task := item.task
	fields := []adapters.Field{
		{Key: "task", Value: task.Name},
		{Key: "task_id", Value: task.ID},
	}

	d.mu.RLock()
	h := d.handlers[task.Name]
	d.mu.RUnlock()

	var err error
	if h == nil {
		err = fmt.Errorf("%w: %s", common.ErrUnknownTask, task.Name)
	} else {
		err = d.invoke(h, task)
	}

	d.processed.Add(1)
	if err != nil {
		d.failed.Add(1)
		d.logger.Error(d.ctx, "Task failed", append(fields, adapters.ErrorField(err))...)
	}

	if d.spool != nil && item.seq != 0 {
		if serr := d.spool.MarkDone(item.seq); serr != nil {
			d.logger.Error(d.ctx, "Failed to mark spooled task done", append(fields, adapters.ErrorField(serr))...)
		}
	}
}

func (d *Dispatcher) invoke(h Handler, task common.Task) (err error) {
	ctx := d.ctx
	if d.taskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.taskTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			d.panicked.Add(1)
			d.logger.Error(ctx, "Task handler panicked",
				adapters.Field{Key: "task", Value: task.Name},
				adapters.Field{Key: "task_id", Value: task.ID},
				adapters.Field{Key: "panic", Value: fmt.Sprint(r)},
				adapters.Field{Key: "stack", Value: string(debug.Stack())})
			err = fmt.Errorf("%w: handler panic: %v", common.ErrInternal, r)
		}
	}()
	return h(ctx, task)
}

// Shutdown stops accepting tasks and waits for queued tasks to finish.
// If ctx expires first, running handlers are cancelled; tasks still in
// the queue remain in the spool.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	d.logger.Info(ctx, "Shutting down dispatcher", adapters.Field{Key: "workers", Value: d.workers})

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
		d.cancel()
		<-done
	}
	d.cancel()

	m := d.Stats()
	d.logger.Info(ctx, "Dispatcher shutdown complete",
		adapters.Field{Key: "processed", Value: m.Processed},
		adapters.Field{Key: "failed", Value: m.Failed})
	return err
}

// Stats contains dispatcher counters.
type Stats struct {
	Enqueued  int64 `json:"enqueued"`
	Rejected  int64 `json:"rejected"`
	Processed int64 `json:"processed"`
	Failed    int64 `json:"failed"`
	Panicked  int64 `json:"panicked"`
	Recovered int64 `json:"recovered"`
	Queued    int   `json:"queued"`
}

// Stats returns the current dispatcher counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Enqueued:  d.enqueued.Load(),
		Rejected:  d.rejected.Load(),
		Processed: d.processed.Load(),
		Failed:    d.failed.Load(),
		Panicked:  d.panicked.Load(),
		Recovered: d.recovered.Load(),
		Queued:    len(d.queue),
	}
}
