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
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-devsub/pkg/cli"
	"github.com/jeremyhahn/go-devsub/pkg/registry"
	"github.com/jeremyhahn/go-devsub/pkg/subscription"
)

type batchCommand func(ctx *cli.CommandContext, args cli.BatchArgs) (*subscription.Response, error)

// runBatch executes a batch command and prints its result. A batch that
// is not a full success exits non-zero after printing.
func runBatch(cmd *cobra.Command, devices []string, run batchCommand) error {
	logService, _ := cmd.Flags().GetString("log-service") //nolint:errcheck // flags are validated by cobra
	period, _ := cmd.Flags().GetInt("time-period")        //nolint:errcheck // flags are validated by cobra

	ctx, err := cli.NewCommandContext(globalConfig)
	if err != nil {
		fmt.Fprintln(os.Stderr, cli.FormatError(err, outputFormat()))
		return err
	}
	defer func() { _ = ctx.Close() }()

	resp, err := run(ctx, cli.BatchArgs{DeviceIDs: devices, LogServiceID: logService, TimePeriod: period})
	if err != nil {
		fmt.Fprintln(os.Stderr, cli.FormatError(err, outputFormat()))
		return err
	}

	fmt.Print(cli.FormatBatchResult(resp, outputFormat()))
	if resp.Code != subscription.ResultSuccess {
		return fmt.Errorf("%s (code %d)", resp.Message, resp.Code)
	}
	return nil
}

var subscribeCmd = &cobra.Command{
	Use:   "subscribe <device-id>...",
	Short: "Subscribe devices to telemetry",
	Long: `Record a subscription for each device. The service answers immediately
with status 10 (accepted) and reconciles with the device API in the background.`,
	Example: `  devsub subscribe printer-001
  devsub subscribe printer-001 printer-002 --log-service 7 --time-period 60
  devsub subscribe printer-001 -o json`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBatch(cmd, args, (*cli.CommandContext).SubscribeCommand)
	},
}

var unsubscribeCmd = &cobra.Command{
	Use:     "unsubscribe <device-id>...",
	Short:   "Unsubscribe devices",
	Example: `  devsub unsubscribe printer-001 --log-service 7`,
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBatch(cmd, args, (*cli.CommandContext).UnsubscribeCommand)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <device-id>...",
	Short: "Show subscription status",
	Long: `Show the subscription status of each device. Confirmed subscriptions are
checked against the device API before answering.`,
	Example: `  devsub status printer-001 printer-002 -o table`,
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBatch(cmd, args, (*cli.CommandContext).StatusCommand)
	},
}

var refreshCmd = &cobra.Command{
	Use:     "refresh <device-id>...",
	Short:   "Schedule a status poll for devices",
	Example: `  devsub refresh printer-001`,
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBatch(cmd, args, (*cli.CommandContext).RefreshCommand)
	},
}

var registryCmd = &cobra.Command{
	Use:     "registry",
	Aliases: []string{"services"},
	Short:   "List the log services known to the service",
	Long: `List the log services known to a running service, or with --file the
services of a registry file, which is validated the way serve loads it.`,
	Example: `  devsub registry
  devsub registry --file services.yaml -o table`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if path, _ := cmd.Flags().GetString("file"); path != "" { //nolint:errcheck // flags are validated by cobra
			reg, err := registry.Load(path)
			if err != nil {
				fmt.Fprintln(os.Stderr, cli.FormatError(err, outputFormat()))
				return err
			}
			fmt.Print(cli.FormatServicesResult(reg.List(), outputFormat()))
			return nil
		}

		ctx, err := cli.NewCommandContext(globalConfig)
		if err != nil {
			fmt.Fprintln(os.Stderr, cli.FormatError(err, outputFormat()))
			return err
		}
		defer func() { _ = ctx.Close() }()

		services, err := ctx.ServicesCommand()
		if err != nil {
			fmt.Fprintln(os.Stderr, cli.FormatError(err, outputFormat()))
			return err
		}
		fmt.Print(cli.FormatServicesResult(services, outputFormat()))
		return nil
	},
}

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Show service metrics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, err := cli.NewCommandContext(globalConfig)
		if err != nil {
			fmt.Fprintln(os.Stderr, cli.FormatError(err, outputFormat()))
			return err
		}
		defer func() { _ = ctx.Close() }()

		m, err := ctx.MetricsCommand()
		if err != nil {
			fmt.Fprintln(os.Stderr, cli.FormatError(err, outputFormat()))
			return err
		}
		fmt.Print(cli.FormatMetricsResult(m, outputFormat()))
		return nil
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check service health",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, err := cli.NewCommandContext(globalConfig)
		if err != nil {
			fmt.Fprintln(os.Stderr, cli.FormatError(err, outputFormat()))
			return err
		}
		defer func() { _ = ctx.Close() }()

		health, err := ctx.HealthCommand()
		if err != nil {
			fmt.Fprintln(os.Stderr, cli.FormatError(err, outputFormat()))
			return err
		}
		fmt.Print(cli.FormatHealthResult(health, outputFormat()))
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cli.ValidateConfig(globalConfig); err != nil {
			return err
		}
		fmt.Print(cli.DisplayConfig(globalConfig, outputFormat()))
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{subscribeCmd, unsubscribeCmd, statusCmd, refreshCmd} {
		c.Flags().StringP("log-service", "l", "", "log service id (default \"0\")")
	}
	registryCmd.Flags().StringP("file", "f", "", "read services from a registry file instead of the service")
	subscribeCmd.Flags().IntP("time-period", "t", 0, "reporting period in minutes, 30 to 300 (default 30)")
}
