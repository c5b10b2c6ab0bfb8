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
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/jeremyhahn/go-devsub/pkg/cli"
	"github.com/jeremyhahn/go-devsub/pkg/version"
)

var (
	cfgFile      string
	viperConfig  *viper.Viper
	globalConfig *cli.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "devsub",
	Short: "Device telemetry subscription service",
	Long: `devsub manages telemetry subscriptions for printers and MFDs against
the device API.

Run the service with 'devsub serve'. The other commands call a running
service over its REST API.

Supported Record Stores:
  - memory   : In-process store (development, tests)
  - sqlite   : Single-node durable store
  - dynamodb : AWS DynamoDB table

Configuration can be provided via:
  - Command-line flags (highest priority)
  - Environment variables (DEVSUB_*, e.g. DEVSUB_DEVICE_API_BASE_URL)
  - Configuration file (~/devsub.yaml or ./devsub.yaml)
  - Default values (lowest priority)`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		viperConfig, err = cli.InitConfig(cfgFile)
		if err != nil {
			return err
		}

		if err := bindFlags(viperConfig, cmd.Flags()); err != nil {
			return fmt.Errorf("failed to bind flags: %w", err)
		}

		globalConfig = cli.GetConfig(viperConfig)
		return nil
	},
}

// flagKeys maps flag names to the configuration keys they override.
var flagKeys = map[string]string{
	"server":     "server.url",
	"api-key":    "server.api-key",
	"output":     "output-format",
	"host":       "server.host",
	"port":       "server.port",
	"backend":    "store.backend",
	"store-path": "store.path",
	"table":      "store.table",
	"registry":   "registry.path",
	"device-api": "device-api.base-url",
	"spool":      "dispatch.spool-path",
	"workers":    "dispatch.workers",
	"log-level":  "log.level",
	"rate-limit": "server.rate-limit.enabled",
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for name, key := range flagKeys {
		if f := flags.Lookup(name); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return err
			}
		}
	}
	return nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		info := version.Build()
		fmt.Printf("devsub %s (commit %s, %s)\n", info.Version, info.Commit, info.GoVersion)
	},
}

func outputFormat() cli.OutputFormat {
	return cli.OutputFormat(globalConfig.OutputFormat)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./devsub.yaml or ~/devsub.yaml)")
	rootCmd.PersistentFlags().StringP("output", "o", "text", "output format: text, json, or table")
	rootCmd.PersistentFlags().String("server", "", "service URL for client commands (e.g., http://localhost:8080)")
	rootCmd.PersistentFlags().String("api-key", "", "API key presented to, or required by, the service")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(subscribeCmd, unsubscribeCmd, statusCmd, refreshCmd)
	rootCmd.AddCommand(registryCmd, metricsCmd, healthCmd, configCmd, versionCmd)
}
