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

package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/jeremyhahn/go-devsub/pkg/cli/client"
	"github.com/jeremyhahn/go-devsub/pkg/common"
	"github.com/jeremyhahn/go-devsub/pkg/subscription"
)

// DefaultCommandTimeout bounds one client command.
const DefaultCommandTimeout = 60 * time.Second

// CommandContext holds the context for executing client commands.
type CommandContext struct {
	Client client.Client
	Config *Config
}

// NewCommandContext creates a command context talking to cfg.ServerURL.
func NewCommandContext(cfg *Config) (*CommandContext, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	if cfg.ServerURL == "" {
		return nil, ErrServerURLRequired
	}

	remote, err := client.NewClient(&client.Config{
		ServerURL: cfg.ServerURL,
		APIKey:    cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create remote client: %w", err)
	}
	return &CommandContext{Client: remote, Config: cfg}, nil
}

// Close closes the command context and cleans up resources.
func (ctx *CommandContext) Close() error {
	if ctx.Client != nil {
		return ctx.Client.Close()
	}
	return nil
}

// BatchArgs are the arguments of the subscription commands.
type BatchArgs struct {
	DeviceIDs    []string
	LogServiceID string
	TimePeriod   int
}

func (a BatchArgs) request() (*client.BatchRequest, error) {
	ids := common.DedupeIDs(a.DeviceIDs)
	if len(ids) == 0 {
		return nil, ErrNoDevices
	}
	return &client.BatchRequest{DeviceIDs: ids, LogServiceID: a.LogServiceID, TimePeriod: a.TimePeriod}, nil
}

type batchCall func(context.Context, *client.BatchRequest) (*subscription.Response, error)

func (ctx *CommandContext) run(args BatchArgs, call batchCall) (*subscription.Response, error) {
	req, err := args.request()
	if err != nil {
		return nil, err
	}
	c, cancel := context.WithTimeout(context.Background(), DefaultCommandTimeout)
	defer cancel()
	return call(c, req)
}

// SubscribeCommand subscribes devices.
func (ctx *CommandContext) SubscribeCommand(args BatchArgs) (*subscription.Response, error) {
	return ctx.run(args, ctx.Client.Subscribe)
}

// UnsubscribeCommand unsubscribes devices.
func (ctx *CommandContext) UnsubscribeCommand(args BatchArgs) (*subscription.Response, error) {
	args.TimePeriod = 0
	return ctx.run(args, ctx.Client.Unsubscribe)
}

// StatusCommand queries device status.
func (ctx *CommandContext) StatusCommand(args BatchArgs) (*subscription.Response, error) {
	args.TimePeriod = 0
	return ctx.run(args, ctx.Client.Status)
}

// RefreshCommand schedules notification polls.
func (ctx *CommandContext) RefreshCommand(args BatchArgs) (*subscription.Response, error) {
	args.TimePeriod = 0
	return ctx.run(args, ctx.Client.Refresh)
}

// ServicesCommand lists the registered log services.
func (ctx *CommandContext) ServicesCommand() ([]common.ServiceRegistration, error) {
	c, cancel := context.WithTimeout(context.Background(), DefaultCommandTimeout)
	defer cancel()
	return ctx.Client.Services(c)
}

// MetricsCommand fetches the service metrics.
func (ctx *CommandContext) MetricsCommand() (map[string]any, error) {
	c, cancel := context.WithTimeout(context.Background(), DefaultCommandTimeout)
	defer cancel()
	return ctx.Client.Metrics(c)
}

// HealthCommand checks the health of the service.
func (ctx *CommandContext) HealthCommand() (map[string]any, error) {
	c, cancel := context.WithTimeout(context.Background(), DefaultCommandTimeout)
	defer cancel()
	return ctx.Client.Health(c)
}
