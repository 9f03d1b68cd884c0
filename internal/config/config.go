// Millwright - Factory Floor Telemetry Sync and Live Notifications
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/millwright

package config

import (
	"time"
)

// Config holds all application configuration loaded from environment variables and config files.
// Provides centralized configuration management for all application components including
// the telemetry API client, synchronization, shift derivation, the sensor bus, the
// notification bridge, database, server, and logging.
//
// Configuration Loading Order (Koanf v2):
//  1. Defaults: Built-in sensible defaults for all optional settings
//  2. Config File: Optional YAML config file (config.yaml) for persistent settings
//  3. Environment Variables: Override any setting via environment variables
//
// Configuration Categories:
//
//  1. Data Sources:
//     - Telemetry: Machine status-period API (required)
//     - NATS: Sensor cut-event bus via Watermill/NATS JetStream (optional)
//     - Import: One-time CSV backfill of historical status periods (optional)
//
//  2. Processing:
//     - Sync: Periodic synchronization cadence and parallelism
//     - Shifts: Day-shift boundaries and timezone for derived fields
//     - Machines: The fleet to synchronize
//     - Bridge: Sync-to-broadcast notification queue
//     - DeadLetter: Failed fetch window persistence and retry
//
//  3. Infrastructure:
//     - Database: DuckDB configuration (path, memory, threads)
//     - Server: HTTP server configuration (port, host, timeout)
//     - API: Pagination limits for the operational endpoints
//     - Security: Rate limiting and CORS
//
//  4. Observability:
//     - Logging: Log levels and output formats
//
// Example - Load configuration from environment:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal("Failed to load config:", err)
//	}
//	// cfg.Telemetry.URL, cfg.Database.Path, etc. are now populated
//
// Validation:
// The Load() function validates all required fields and returns an error if:
//   - Required environment variables are missing (TELEMETRY_URL, TELEMETRY_API_KEY)
//   - Values are malformed (invalid URL format, negative numbers, bad clock strings)
//   - No machines are configured
//
// Thread Safety:
// Config is immutable after Load() and safe for concurrent read access from multiple goroutines.
type Config struct {
	Telemetry  TelemetryConfig  `koanf:"telemetry"`
	Sync       SyncConfig       `koanf:"sync"`
	Shifts     ShiftsConfig     `koanf:"shifts"`
	NATS       NATSConfig       `koanf:"nats"`       // Optional: sensor bus via Watermill/NATS JetStream
	Bridge     BridgeConfig     `koanf:"bridge"`     // Sync-to-broadcast notification queue
	DeadLetter DeadLetterConfig `koanf:"deadletter"` // Optional: failed fetch window persistence
	Import     ImportConfig     `koanf:"import"`     // Optional: one-time CSV backfill on startup
	Database   DatabaseConfig   `koanf:"database"`
	Server     ServerConfig     `koanf:"server"`
	API        APIConfig        `koanf:"api"`
	Security   SecurityConfig   `koanf:"security"`
	Logging    LoggingConfig    `koanf:"logging"`

	// Machines lists the fleet to synchronize. Configure via the YAML config
	// file for full control over display names, or via the MACHINE_IDS
	// environment variable (comma-separated IDs, names default to the ID).
	Machines []MachineConfig `koanf:"machines" validate:"dive"`

	// MachineIDs is the environment variable fallback for Machines.
	// Ignored when Machines is non-empty.
	MachineIDs []string `koanf:"machine_ids"`
}

// TelemetryConfig holds connection settings for the machine telemetry API,
// the authoritative source of machine status periods.
//
// Environment Variables:
//   - TELEMETRY_URL: Base URL of the telemetry API (required, e.g. https://factory.example.com/rest/api/v0.1)
//   - TELEMETRY_API_KEY: API key sent in the X-API-KEY header (required)
//   - TELEMETRY_PAGE_SIZE: Records per page when fetching status periods (default: 1000)
//   - TELEMETRY_WINDOW_SIZE: Fetch window width for the backward walk (default: 24h)
//   - TELEMETRY_WINDOW_DELAY: Pause between consecutive window fetches (default: 1s)
//   - TELEMETRY_REQUEST_TIMEOUT: Per-request timeout (default: 30s)
//   - TELEMETRY_INITIAL_LOOKBACK: History fetched for machines with no watermark (default: 720h = 30 days)
type TelemetryConfig struct {
	URL             string        `koanf:"url" validate:"required"`
	APIKey          string        `koanf:"api_key" validate:"required"`
	PageSize        int           `koanf:"page_size" validate:"min=1,max=10000"`
	WindowSize      time.Duration `koanf:"window_size"`
	WindowDelay     time.Duration `koanf:"window_delay"`
	RequestTimeout  time.Duration `koanf:"request_timeout"`
	InitialLookback time.Duration `koanf:"initial_lookback"`
}

// SyncConfig holds synchronization cadence settings.
//
// Environment Variables:
//   - SYNC_INTERVAL: Delay between sync cycles (default: 30s)
//   - SYNC_PARALLELISM: Max machines synced concurrently per cycle (default: 4)
//   - SYNC_ON_STARTUP: Run a sync cycle immediately on startup (default: true)
type SyncConfig struct {
	Interval     time.Duration `koanf:"interval"`
	Parallelism  int           `koanf:"parallelism" validate:"min=1,max=64"`
	RunOnStartup bool          `koanf:"run_on_startup"`
}

// ShiftsConfig defines the day-shift window used to derive the shift and
// day-of-week fields on merged status periods. Timestamps outside
// [DayStart, DayEnd) fall in the NIGHT shift.
//
// Environment Variables:
//   - SHIFT_DAY_START: Day shift start, HH:MM 24-hour clock (default: 06:00)
//   - SHIFT_DAY_END: Day shift end, HH:MM 24-hour clock (default: 18:00)
//   - SHIFT_TIMEZONE: IANA timezone for shift evaluation (default: UTC)
type ShiftsConfig struct {
	DayStart string `koanf:"day_start" validate:"required,clock"`
	DayEnd   string `koanf:"day_end" validate:"required,clock"`
	Timezone string `koanf:"timezone" validate:"required"`
}

// Location resolves the configured IANA timezone.
func (s ShiftsConfig) Location() (*time.Location, error) {
	return time.LoadLocation(s.Timezone)
}

// MachineConfig identifies one machine on the floor.
type MachineConfig struct {
	ID   string `koanf:"id" validate:"required"`
	Name string `koanf:"name"`
}

// NATSConfig holds NATS JetStream configuration for the sensor cut-event bus.
// The listener consumes PLC cut events published by the shop-floor gateway and
// stores them for production metrics.
//
// Environment Variables:
//   - NATS_ENABLED: Enable the sensor listener (default: true)
//   - NATS_URL: NATS server connection URL (default: nats://127.0.0.1:4222)
//   - NATS_EMBEDDED: Run an embedded NATS server in-process (default: true)
//   - NATS_STORE_DIR: JetStream storage directory (default: /data/nats/jetstream)
//   - NATS_MAX_MEMORY: Max memory for JetStream in bytes (default: 1073741824 = 1GB)
//   - NATS_MAX_STORE: Max disk storage for JetStream in bytes (default: 10737418240 = 10GB)
//   - NATS_SUBJECT: Subject carrying cut events (default: plc.events.cuts)
//   - NATS_DURABLE_NAME: Consumer durable name (default: cut-ingestor)
//   - NATS_QUEUE_GROUP: Queue group for load balancing (default: cut-processors)
//   - NATS_SUBSCRIBERS: Number of concurrent message processors (default: 4)
//   - NATS_RECONNECT_WAIT: Wait between reconnect attempts (default: 2s)
type NATSConfig struct {
	Enabled          bool          `koanf:"enabled"`
	URL              string        `koanf:"url"`
	EmbeddedServer   bool          `koanf:"embedded_server"`
	StoreDir         string        `koanf:"store_dir"`
	MaxMemory        int64         `koanf:"max_memory"`
	MaxStore         int64         `koanf:"max_store"`
	Subject          string        `koanf:"subject"`
	DurableName      string        `koanf:"durable_name"`
	QueueGroup       string        `koanf:"queue_group"`
	SubscribersCount int           `koanf:"subscribers_count"`
	ReconnectWait    time.Duration `koanf:"reconnect_wait"`
}

// BridgeConfig holds settings for the bounded queue between synchronous
// producers (sync cycles, sensor handlers) and the WebSocket broadcaster.
//
// Environment Variables:
//   - BRIDGE_CAPACITY: Queue capacity; oldest entries drop on overflow (default: 256)
type BridgeConfig struct {
	Capacity int `koanf:"capacity" validate:"min=1,max=65536"`
}

// DeadLetterConfig holds settings for persisting failed fetch windows so they
// can be retried on later sync cycles instead of silently skipped.
//
// Environment Variables:
//   - DEADLETTER_ENABLED: Enable the dead-letter store (default: false)
//   - DEADLETTER_PATH: BadgerDB directory for dead-letter entries
//   - DEADLETTER_MAX_ATTEMPTS: Retries before an entry is parked (default: 5)
type DeadLetterConfig struct {
	Enabled     bool   `koanf:"enabled"`
	Path        string `koanf:"path"`
	MaxAttempts int    `koanf:"max_attempts"`
}

// ImportConfig holds settings for the one-time CSV backfill of historical
// status periods. The path may be a glob (e.g. /data/backfill/mill_*.csv).
//
// Environment Variables:
//   - IMPORT_ENABLED: Run the CSV backfill on startup (default: false)
//   - IMPORT_CSV_PATH: CSV file path or glob to import
type ImportConfig struct {
	Enabled bool   `koanf:"enabled"`
	CSVPath string `koanf:"csv_path"`
}

// DatabaseConfig holds DuckDB settings
type DatabaseConfig struct {
	Path                   string `koanf:"path"`
	MaxMemory              string `koanf:"max_memory"`
	Threads                int    `koanf:"threads"`                  // Number of DuckDB threads (0 = use NumCPU)
	PreserveInsertionOrder bool   `koanf:"preserve_insertion_order"` // Whether to preserve insertion order (default true)
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Port        int           `koanf:"port" validate:"min=1,max=65535"`
	Host        string        `koanf:"host"`
	Timeout     time.Duration `koanf:"timeout"`
	Environment string        `koanf:"environment"` // Environment mode: "development", "staging", "production"
}

// APIConfig holds API pagination and response settings
type APIConfig struct {
	DefaultPageSize int `koanf:"default_page_size" validate:"min=1"`
	MaxPageSize     int `koanf:"max_page_size" validate:"min=1"`
}

// SecurityConfig holds rate limiting and CORS settings. Authentication is
// handled by the fronting transport layer, not by this service.
type SecurityConfig struct {
	RateLimitReqs     int           `koanf:"rate_limit_reqs"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`
	CORSOrigins       []string      `koanf:"cors_origins"`
	TrustedProxies    []string      `koanf:"trusted_proxies"`
}

// LoggingConfig holds logging settings for zerolog.
//
// Environment Variables:
//   - LOG_LEVEL: trace, debug, info, warn, error (default: info)
//   - LOG_FORMAT: json, console (default: json)
//   - LOG_CALLER: true/false - include caller file:line (default: false)
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// GetMachines returns the configured fleet. The machines array from the
// config file takes precedence; otherwise entries are built from the
// MACHINE_IDS environment variable with the ID doubling as the display name.
func (c *Config) GetMachines() []MachineConfig {
	if len(c.Machines) > 0 {
		return c.Machines
	}

	machines := make([]MachineConfig, 0, len(c.MachineIDs))
	for _, id := range c.MachineIDs {
		machines = append(machines, MachineConfig{ID: id, Name: id})
	}
	return machines
}

// Load reads configuration from (in order of precedence):
//  1. Built-in defaults
//  2. Optional YAML config file
//  3. Environment variables
//
// This function uses Koanf v2 for flexible, layered configuration management.
//
// See LoadWithKoanf() for the underlying implementation.
func Load() (*Config, error) {
	return LoadWithKoanf()
}
