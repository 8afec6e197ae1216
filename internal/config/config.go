// Package config defines service configuration and how it is loaded.
package config

import (
	"context"
	"fmt"
	"runtime"
	"time"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogFormat is text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// StoreDriver selects memory, sqlite or postgres.
	StoreDriver string `koanf:"store_driver"`
	SQLitePath  string `koanf:"sqlite_path"`
	PostgresDSN string `koanf:"postgres_dsn"`

	// MaxRetries bounds optimistic transaction retries per command.
	MaxRetries int `koanf:"max_retries"`
	// RetryBaseMS is the first backoff interval.
	RetryBaseMS int `koanf:"retry_base_ms"`

	// TimerTickMS is how often a running clock is re-evaluated against its cap.
	TimerTickMS int `koanf:"timer_tick_ms"`

	// QueueSize bounds pending auto-finish jobs.
	QueueSize int `koanf:"queue_size"`
	// WorkerCount sets the number of auto-finish workers.
	WorkerCount int `koanf:"worker_count"`

	// DedupeSize bounds remembered judge command IDs.
	DedupeSize int `koanf:"dedupe_size"`

	// BusBuffer is the per-subscriber change event buffer.
	BusBuffer int `koanf:"bus_buffer"`

	SentryDSN   string `koanf:"sentry_dsn"`
	Environment string `koanf:"environment"`

	// MetricsNamespace prefixes every exported metric; Environment is
	// attached to each as a constant label.
	MetricsNamespace string `koanf:"metrics_namespace"`
}

// New creates a Config with defaults. The context is reserved for loaders
// that need one.
func New(_ context.Context) *Config {
	return &Config{
		LogLevel:    "info",
		LogFormat:   "text",
		Addr:        ":9080",
		StoreDriver: DriverMemory,
		SQLitePath:  "wodboard.db",
		MaxRetries:  8,
		RetryBaseMS: 2,
		TimerTickMS: 100,
		QueueSize:   1024,
		WorkerCount: runtime.NumCPU(),
		DedupeSize:  50_000,
		BusBuffer:   16,
		Environment: "development",

		MetricsNamespace: "wodboard",
	}
}

// Validate reports the first setting that cannot work.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.MaxRetries < 0:
		return fmt.Errorf("%w: max_retries must not be negative", ErrInvalidConfig)
	case c.RetryBaseMS <= 0:
		return fmt.Errorf("%w: retry_base_ms must be positive", ErrInvalidConfig)
	case c.TimerTickMS <= 0:
		return fmt.Errorf("%w: timer_tick_ms must be positive", ErrInvalidConfig)
	case c.QueueSize <= 0:
		return fmt.Errorf("%w: queue_size must be positive", ErrInvalidConfig)
	case c.BusBuffer <= 0:
		return fmt.Errorf("%w: bus_buffer must be positive", ErrInvalidConfig)
	}
	switch c.StoreDriver {
	case DriverMemory:
	case DriverSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("%w: sqlite_path is required for the sqlite driver", ErrInvalidConfig)
		}
	case DriverPostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("%w: postgres_dsn is required for the postgres driver", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown store_driver %q", ErrInvalidConfig, c.StoreDriver)
	}
	return nil
}

// RetryBase returns RetryBaseMS as a duration.
func (c *Config) RetryBase() time.Duration { return time.Duration(c.RetryBaseMS) * time.Millisecond }

// TimerTick returns TimerTickMS as a duration.
func (c *Config) TimerTick() time.Duration { return time.Duration(c.TimerTickMS) * time.Millisecond }
