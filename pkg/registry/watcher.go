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

package registry

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jeremyhahn/go-devsub/pkg/adapters"
)

// WatcherConfig contains configuration options for Watcher.
type WatcherConfig struct {
	Logger        adapters.Logger
	DebounceDelay time.Duration // Default: 250ms

	// OnReload is called after every reload attempt.
	OnReload func(err error)
}

// Watcher reloads a Registry when its file changes.
type Watcher struct {
	registry      *Registry
	watcher       *fsnotify.Watcher
	logger        adapters.Logger
	debounceDelay time.Duration
	onReload      func(error)

	mu      sync.Mutex
	timer   *time.Timer
	stopped bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Watch starts watching the registry's file. The parent directory is
// watched so that editors replacing the file by rename are picked up.
func Watch(r *Registry, config WatcherConfig) (*Watcher, error) {
	if config.Logger == nil {
		config.Logger = adapters.NewNoOpLogger()
	}
	if config.DebounceDelay == 0 {
		config.DebounceDelay = 250 * time.Millisecond
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(filepath.Dir(r.Path())); err != nil {
		_ = fw.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{
		registry:      r,
		watcher:       fw,
		logger:        config.Logger,
		debounceDelay: config.DebounceDelay,
		onReload:      config.OnReload,
		ctx:           ctx,
		cancel:        cancel,
	}

	w.wg.Add(1)
	go w.processEvents()

	w.logger.Info(ctx, "Watching service registry", adapters.Field{Key: "path", Value: r.Path()})
	return w, nil
}

// Stop stops watching and waits for pending work to finish.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()

	w.cancel()
	err := w.watcher.Close()
	w.wg.Wait()
	return err
}

func (w *Watcher) processEvents() {
	defer w.wg.Done()

	target := filepath.Clean(w.registry.Path())
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target || event.Op == fsnotify.Chmod {
				continue
			}
			w.schedule()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error(w.ctx, "Registry watcher error", adapters.ErrorField(err))

		case <-w.ctx.Done():
			return
		}
	}
}

// schedule coalesces a burst of events into one reload after the last.
func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounceDelay, w.reload)
}

func (w *Watcher) reload() {
	if w.ctx.Err() != nil {
		return
	}
	err := w.registry.Reload()
	if err != nil {
		w.logger.Error(w.ctx, "Registry reload failed, keeping previous services",
			adapters.Field{Key: "path", Value: w.registry.Path()},
			adapters.ErrorField(err))
	} else {
		w.logger.Info(w.ctx, "Service registry reloaded",
			adapters.Field{Key: "path", Value: w.registry.Path()},
			adapters.Field{Key: "services", Value: len(w.registry.List())})
	}
	if w.onReload != nil {
		w.onReload(err)
	}
}
