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

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-devsub/pkg/adapters"
	"github.com/jeremyhahn/go-devsub/pkg/audit"
	"github.com/jeremyhahn/go-devsub/pkg/cache"
	"github.com/jeremyhahn/go-devsub/pkg/changestream"
	"github.com/jeremyhahn/go-devsub/pkg/cli"
	"github.com/jeremyhahn/go-devsub/pkg/common"
	"github.com/jeremyhahn/go-devsub/pkg/deviceapi"
	"github.com/jeremyhahn/go-devsub/pkg/dispatch"
	"github.com/jeremyhahn/go-devsub/pkg/factory"
	"github.com/jeremyhahn/go-devsub/pkg/metrics"
	"github.com/jeremyhahn/go-devsub/pkg/registry"
	"github.com/jeremyhahn/go-devsub/pkg/server"
	"github.com/jeremyhahn/go-devsub/pkg/server/middleware"
	"github.com/jeremyhahn/go-devsub/pkg/server/rest"
	"github.com/jeremyhahn/go-devsub/pkg/subscription"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the subscription service",
	Long: `Run the subscription service: the REST API, the task dispatcher and the
cache relay. Unfinished tasks from a previous run are recovered from the
spool before the API starts accepting requests.`,
	Example: `  devsub serve --device-api https://device-api.example.com --registry services.yaml
  devsub serve --backend sqlite --store-path /var/lib/devsub/rows.db --spool /var/lib/devsub/tasks.jsonl
  DEVSUB_STORE_BACKEND=dynamodb DEVSUB_STORE_TABLE=subscriptions devsub serve`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cli.ValidateServeConfig(globalConfig); err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx, globalConfig)
	},
}

// statusCounter is implemented by stores that can count rows per status.
type statusCounter interface {
	CountByStatus(ctx context.Context) (map[int]int, error)
}

func serve(ctx context.Context, cfg *cli.Config) error {
	logger := adapters.NewLogger(os.Stdout, cfg.ParsedLogLevel())
	auditConfig := audit.DefaultConfig()
	auditConfig.Level = cfg.ParsedLogLevel()
	auditLogger := audit.NewAuditLogger(auditConfig)

	bus := changestream.New(changestream.Config{Logger: logger})
	defer bus.Close()

	store, err := factory.NewRecordStore(cfg.StoreBackend, cfg.GetStoreSettings(), bus)
	if err != nil {
		return fmt.Errorf("failed to open %s store: %w", cfg.StoreBackend, err)
	}
	defer func() { _ = store.Close() }()

	reg, err := registry.Load(cfg.RegistryPath)
	if err != nil {
		return fmt.Errorf("failed to load service registry: %w", err)
	}
	if cfg.RegistryWatch {
		watcher, err := registry.Watch(reg, registry.WatcherConfig{Logger: logger})
		if err != nil {
			return fmt.Errorf("failed to watch service registry: %w", err)
		}
		defer func() { _ = watcher.Stop() }()
	}

	subCache := cache.New(cache.Config{TTL: cfg.CacheTTL, Logger: logger})
	relay := cache.NewRelay(subCache, bus, logger)
	relayCtx, stopRelay := context.WithCancel(context.Background())
	relayDone := make(chan struct{})
	go func() {
		defer close(relayDone)
		_ = relay.Run(relayCtx)
	}()
	defer func() {
		stopRelay()
		<-relayDone
	}()

	api, err := deviceapi.NewClient(deviceapi.Config{
		BaseURL: cfg.DeviceAPIURL,
		APIKey:  cfg.DeviceAPIKey,
		Timeout: cfg.DeviceAPITimeout,
		Rate:    cfg.DeviceAPIRate,
		Burst:   cfg.DeviceAPIBurst,
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create device api client: %w", err)
	}

	var spool *dispatch.Spool
	if cfg.SpoolPath != "" {
		spool, err = dispatch.OpenSpool(cfg.SpoolPath)
		if err != nil {
			return fmt.Errorf("failed to open task spool: %w", err)
		}
		defer func() { _ = spool.Close() }()
	}

	dispatcher := dispatch.New(dispatch.Config{
		Workers:   cfg.Workers,
		QueueSize: cfg.QueueSize,
		Spool:     spool,
		Logger:    logger,
	})

	m := metrics.New()
	manager, err := subscription.New(subscription.Config{
		Store:        store,
		Cache:        subCache,
		Registry:     reg,
		DeviceAPI:    api,
		Dispatcher:   dispatcher,
		Logger:       logger,
		Audit:        auditLogger,
		Metrics:      m,
		MaxBatchSize: cfg.MaxBatch,
		Parallelism:  cfg.Parallelism,
	})
	if err != nil {
		return err
	}

	dispatcher.Handle(common.TaskRunSubscribe, manager.RunSubscribe)
	dispatcher.Handle(common.TaskRunUnsubscribe, manager.RunUnsubscribe)
	dispatcher.Handle(common.TaskRunGetNotifyResult, manager.RunGetNotifyResult)
	dispatcher.Start()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), server.DefaultShutdownTimeout)
		defer cancel()
		if err := dispatcher.Shutdown(shutdownCtx); err != nil {
			logger.Warn(shutdownCtx, "Dispatcher did not drain", adapters.ErrorField(err))
		}
	}()

	if n, err := dispatcher.Recover(ctx); err != nil {
		logger.Error(ctx, "Task recovery failed", adapters.ErrorField(err))
	} else if n > 0 {
		logger.Info(ctx, "Recovered unfinished tasks", adapters.Field{Key: "count", Value: n})
	}

	stats := map[string]rest.StatsFunc{
		"dispatcher":   func() any { return dispatcher.Stats() },
		"changestream": func() any { return bus.Stats() },
		"cache":        func() any { return subCache.Stats() },
	}
	if counter, ok := store.(statusCounter); ok {
		stats["store"] = func() any {
			counts, err := counter.CountByStatus(context.Background())
			if err != nil {
				return map[string]string{"error": err.Error()}
			}
			return counts
		}
	}

	srvConfig := rest.DefaultServerConfig()
	srvConfig.Host = cfg.ServerHost
	srvConfig.Port = cfg.ServerPort
	srvConfig.Mode = cfg.ServerMode
	srvConfig.Logger = logger
	srvConfig.AuditLogger = auditLogger
	if cfg.APIKey != "" {
		srvConfig.Authenticator = adapters.NewAPIKeyAuthenticator(cfg.APIKey)
	}
	if cfg.RateLimit {
		srvConfig.EnableRateLimit = true
		srvConfig.RateLimitConfig = &middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimitPS,
			Burst:             cfg.RateBurst,
			PerIP:             true,
			IdleTTL:           middleware.DefaultRateLimitConfig().IdleTTL,
		}
	}

	srv, err := rest.NewServer(rest.HandlerConfig{
		Service:  manager,
		Registry: reg,
		Metrics:  m,
		Stats:    stats,
		Logger:   logger,
	}, srvConfig)
	if err != nil {
		return fmt.Errorf("failed to create REST server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("REST server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), server.DefaultShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return <-errCh
}

func init() {
	f := serveCmd.Flags()
	f.String("host", "0.0.0.0", "address to bind")
	f.Int("port", server.DefaultPort, "port to listen on")
	f.String("backend", cli.BackendMemory, "record store: memory, sqlite, or dynamodb")
	f.String("store-path", "", "sqlite database path")
	f.String("table", "", "dynamodb table name")
	f.String("registry", "./services.yaml", "service registry file")
	f.String("device-api", "", "device API base URL")
	f.String("spool", "", "task spool file; empty disables recovery across restarts")
	f.Int("workers", 4, "task dispatcher workers")
	f.String("log-level", "info", "log level: debug, info, warn, or error")
	f.Bool("rate-limit", false, "enable per-client rate limiting")
}
