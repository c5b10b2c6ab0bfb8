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
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/jeremyhahn/go-devsub/pkg/adapters"
	"github.com/jeremyhahn/go-devsub/pkg/cache"
	"github.com/jeremyhahn/go-devsub/pkg/deviceapi"
	"github.com/jeremyhahn/go-devsub/pkg/server"
	"github.com/jeremyhahn/go-devsub/pkg/subscription"
)

// Store backends understood by ValidateConfig.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendDynamoDB = "dynamodb"
)

// Config holds the service and CLI configuration settings.
type Config struct {
	// HTTP API
	ServerHost  string
	ServerPort  int
	ServerMode  string
	ServerURL   string // Server URL for client commands (e.g., http://localhost:8080)
	APIKey      string
	RateLimit   bool
	RateLimitPS float64
	RateBurst   int

	// Record store
	StoreBackend  string
	StorePath     string
	StoreTable    string
	StoreRegion   string
	StoreEndpoint string

	CacheTTL time.Duration

	RegistryPath  string
	RegistryWatch bool

	// Device API
	DeviceAPIURL     string
	DeviceAPIKey     string
	DeviceAPITimeout time.Duration
	DeviceAPIRate    float64
	DeviceAPIBurst   int

	// Task dispatch
	Workers   int
	QueueSize int
	SpoolPath string

	MaxBatch    int
	Parallelism int

	LogLevel     string
	OutputFormat string
}

// InitConfig initializes the configuration using Viper.
// Configuration priority: flags > env vars > config file > defaults.
func InitConfig(cfgFile string) (*viper.Viper, error) {
	v := viper.New()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", server.DefaultPort)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.url", fmt.Sprintf("http://localhost:%d", server.DefaultPort))
	v.SetDefault("server.rate-limit.enabled", false)
	v.SetDefault("server.rate-limit.rps", 50)
	v.SetDefault("server.rate-limit.burst", 100)
	v.SetDefault("store.backend", BackendMemory)
	v.SetDefault("cache.ttl", cache.DefaultTTL)
	v.SetDefault("registry.path", "./services.yaml")
	v.SetDefault("registry.watch", true)
	v.SetDefault("device-api.timeout", deviceapi.DefaultTimeout)
	v.SetDefault("device-api.rate", 20)
	v.SetDefault("device-api.burst", 10)
	v.SetDefault("dispatch.workers", 4)
	v.SetDefault("dispatch.queue-size", 1000)
	v.SetDefault("subscription.max-batch", subscription.DefaultMaxBatchSize)
	v.SetDefault("subscription.parallelism", subscription.DefaultParallelism)
	v.SetDefault("log.level", "info")
	v.SetDefault("output-format", "text")

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(home)
		}
		v.AddConfigPath(".")
		v.SetConfigName("devsub")
		v.SetConfigType("yaml")
	}

	// DEVSUB_DEVICE_API_BASE_URL maps to device-api.base-url
	v.SetEnvPrefix("DEVSUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	return v, nil
}

// GetConfig extracts the configuration from Viper into a Config struct.
func GetConfig(v *viper.Viper) *Config {
	return &Config{
		ServerHost:       v.GetString("server.host"),
		ServerPort:       v.GetInt("server.port"),
		ServerMode:       v.GetString("server.mode"),
		ServerURL:        v.GetString("server.url"),
		APIKey:           v.GetString("server.api-key"),
		RateLimit:        v.GetBool("server.rate-limit.enabled"),
		RateLimitPS:      v.GetFloat64("server.rate-limit.rps"),
		RateBurst:        v.GetInt("server.rate-limit.burst"),
		StoreBackend:     v.GetString("store.backend"),
		StorePath:        v.GetString("store.path"),
		StoreTable:       v.GetString("store.table"),
		StoreRegion:      v.GetString("store.region"),
		StoreEndpoint:    v.GetString("store.endpoint"),
		CacheTTL:         v.GetDuration("cache.ttl"),
		RegistryPath:     v.GetString("registry.path"),
		RegistryWatch:    v.GetBool("registry.watch"),
		DeviceAPIURL:     v.GetString("device-api.base-url"),
		DeviceAPIKey:     v.GetString("device-api.api-key"),
		DeviceAPITimeout: v.GetDuration("device-api.timeout"),
		DeviceAPIRate:    v.GetFloat64("device-api.rate"),
		DeviceAPIBurst:   v.GetInt("device-api.burst"),
		Workers:          v.GetInt("dispatch.workers"),
		QueueSize:        v.GetInt("dispatch.queue-size"),
		SpoolPath:        v.GetString("dispatch.spool-path"),
		MaxBatch:         v.GetInt("subscription.max-batch"),
		Parallelism:      v.GetInt("subscription.parallelism"),
		LogLevel:         v.GetString("log.level"),
		OutputFormat:     v.GetString("output-format"),
	}
}

// GetStoreSettings converts Config to record store settings.
func (c *Config) GetStoreSettings() map[string]string {
	settings := make(map[string]string)
	if c.StorePath != "" {
		settings["path"] = c.StorePath
	}
	if c.StoreTable != "" {
		settings["table"] = c.StoreTable
	}
	if c.StoreRegion != "" {
		settings["region"] = c.StoreRegion
	}
	if c.StoreEndpoint != "" {
		settings["endpoint"] = c.StoreEndpoint
	}
	return settings
}

// ParsedLogLevel returns the configured level, falling back to info.
func (c *Config) ParsedLogLevel() adapters.LogLevel {
	level, err := adapters.ParseLogLevel(c.LogLevel)
	if err != nil {
		return adapters.InfoLevel
	}
	return level
}

// ValidateConfig validates the settings shared by every command.
func ValidateConfig(cfg *Config) error {
	switch cfg.OutputFormat {
	case string(FormatText), string(FormatJSON), string(FormatTable):
	default:
		return ErrUnsupportedOutputFormat
	}
	return nil
}

// ValidateServeConfig validates the settings needed to run the service.
func ValidateServeConfig(cfg *Config) error {
	if err := ValidateConfig(cfg); err != nil {
		return err
	}

	switch cfg.StoreBackend {
	case BackendMemory:
	case BackendSQLite:
		if cfg.StorePath == "" {
			return ErrStorePathRequired
		}
		if strings.HasPrefix(cfg.StorePath, "~") {
			home, err := os.UserHomeDir()
			if err != nil {
				return err
			}
			cfg.StorePath = filepath.Join(home, cfg.StorePath[1:])
		}
	case BackendDynamoDB:
		if cfg.StoreTable == "" {
			return ErrStoreTableRequired
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedBackend, cfg.StoreBackend)
	}

	if cfg.ServerPort <= 0 || cfg.ServerPort > 65535 {
		return ErrInvalidPort
	}
	if cfg.DeviceAPIURL == "" {
		return ErrDeviceAPIURLRequired
	}
	if cfg.RegistryPath == "" {
		return ErrRegistryPathRequired
	}
	return nil
}

// DisplayConfig formats and displays the current configuration.
func DisplayConfig(cfg *Config, format OutputFormat) string {
	settings := configSettings(cfg)
	switch format {
	case FormatJSON:
		m := make(map[string]string, len(settings))
		for _, s := range settings {
			m[s[0]] = s[1]
		}
		data, _ := json.MarshalIndent(m, "", "  ") //nolint:errcheck // map of strings always marshals
		return string(data) + "\n"
	case FormatTable:
		return formatPairsTable("Setting", "Value", settings)
	default:
		var b strings.Builder
		for _, s := range settings {
			fmt.Fprintf(&b, "%s: %s\n", s[0], s[1])
		}
		return b.String()
	}
}

// configSettings lists the effective settings with secrets masked. Empty
// optional values are left out.
func configSettings(cfg *Config) [][2]string {
	out := [][2]string{
		{"server.host", cfg.ServerHost},
		{"server.port", fmt.Sprint(cfg.ServerPort)},
		{"server.url", cfg.ServerURL},
		{"store.backend", cfg.StoreBackend},
	}
	optional := [][2]string{
		{"store.path", cfg.StorePath},
		{"store.table", cfg.StoreTable},
		{"store.region", cfg.StoreRegion},
		{"store.endpoint", cfg.StoreEndpoint},
		{"registry.path", cfg.RegistryPath},
		{"device-api.base-url", cfg.DeviceAPIURL},
		{"dispatch.spool-path", cfg.SpoolPath},
	}
	for _, kv := range optional {
		if kv[1] != "" {
			out = append(out, kv)
		}
	}
	if cfg.APIKey != "" {
		out = append(out, [2]string{"server.api-key", maskSecret(cfg.APIKey)})
	}
	if cfg.DeviceAPIKey != "" {
		out = append(out, [2]string{"device-api.api-key", maskSecret(cfg.DeviceAPIKey)})
	}
	out = append(out,
		[2]string{"cache.ttl", cfg.CacheTTL.String()},
		[2]string{"dispatch.workers", fmt.Sprint(cfg.Workers)},
		[2]string{"log.level", cfg.LogLevel},
		[2]string{"output-format", cfg.OutputFormat},
	)
	return out
}

// maskSecret masks sensitive information, showing only first 4 characters.
func maskSecret(s string) string {
	if len(s) < 5 {
		return "****"
	}
	return s[:4] + "****"
}

// truncate truncates a string to maxLen characters.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
