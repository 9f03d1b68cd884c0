// Millwright - Factory Floor Telemetry Sync and Live Notifications
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/millwright

package config

import (
	"fmt"
	"time"

	"github.com/tomtom215/millwright/internal/validation"
)

// Validate checks that required configuration is present and valid
func (c *Config) Validate() error {
	if err := c.validateTelemetry(); err != nil {
		return err
	}

	if err := c.validateSync(); err != nil {
		return err
	}

	if err := c.validateShifts(); err != nil {
		return err
	}

	if err := c.validateMachines(); err != nil {
		return err
	}

	if err := c.validateNATS(); err != nil {
		return err
	}

	if err := c.validateBridge(); err != nil {
		return err
	}

	if err := c.validateDeadLetter(); err != nil {
		return err
	}

	if err := c.validateImport(); err != nil {
		return err
	}

	if err := c.validateServer(); err != nil {
		return err
	}

	if err := c.validateSecurity(); err != nil {
		return err
	}

	if err := c.validateLogging(); err != nil {
		return err
	}

	// Tag-level backstop for ranges the section checks above do not cover
	if err := validation.ValidateStruct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	return nil
}

// validateTelemetry validates the telemetry API settings. The telemetry API
// is the primary data source and is always required.
func (c *Config) validateTelemetry() error {
	if c.Telemetry.URL == "" {
		return fmt.Errorf("TELEMETRY_URL is required")
	}
	if err := validateBaseURL(c.Telemetry.URL, "TELEMETRY_URL"); err != nil {
		return fmt.Errorf("TELEMETRY_URL is invalid: %w", err)
	}

	if c.Telemetry.APIKey == "" {
		return fmt.Errorf("TELEMETRY_API_KEY is required")
	}

	return c.validateTelemetryWindows()
}

// Telemetry window limit constants
const (
	minWindowSize = 1 * time.Hour
	maxWindowSize = 7 * 24 * time.Hour
)

// validateTelemetryWindows validates the fetch window geometry
func (c *Config) validateTelemetryWindows() error {
	if c.Telemetry.WindowSize < minWindowSize || c.Telemetry.WindowSize > maxWindowSize {
		return fmt.Errorf("TELEMETRY_WINDOW_SIZE must be between %s and %s", minWindowSize, maxWindowSize)
	}
	if c.Telemetry.WindowDelay < 0 {
		return fmt.Errorf("TELEMETRY_WINDOW_DELAY must not be negative")
	}
	if c.Telemetry.RequestTimeout <= 0 {
		return fmt.Errorf("TELEMETRY_REQUEST_TIMEOUT must be positive")
	}
	if c.Telemetry.InitialLookback <= 0 {
		return fmt.Errorf("TELEMETRY_INITIAL_LOOKBACK must be positive")
	}
	return nil
}

// validateSync validates the synchronization cadence
func (c *Config) validateSync() error {
	if c.Sync.Interval < time.Second {
		return fmt.Errorf("SYNC_INTERVAL must be at least 1s")
	}
	if c.Sync.Parallelism < 1 || c.Sync.Parallelism > 64 {
		return fmt.Errorf("SYNC_PARALLELISM must be between 1 and 64")
	}
	return nil
}

// validateShifts validates the day-shift window definition
func (c *Config) validateShifts() error {
	start, err := ParseClock(c.Shifts.DayStart)
	if err != nil {
		return fmt.Errorf("SHIFT_DAY_START is invalid: %w", err)
	}

	end, err := ParseClock(c.Shifts.DayEnd)
	if err != nil {
		return fmt.Errorf("SHIFT_DAY_END is invalid: %w", err)
	}

	if start >= end {
		return fmt.Errorf("SHIFT_DAY_START must be earlier than SHIFT_DAY_END")
	}

	if _, err := c.Shifts.Location(); err != nil {
		return fmt.Errorf("SHIFT_TIMEZONE is invalid: %w", err)
	}
	return nil
}

// validateMachines validates the configured fleet
func (c *Config) validateMachines() error {
	machines := c.GetMachines()
	if len(machines) == 0 {
		return fmt.Errorf("no machines configured: set MACHINE_IDS or the machines list in the config file")
	}

	seen := make(map[string]bool, len(machines))
	for _, m := range machines {
		if m.ID == "" {
			return fmt.Errorf("machine entries must have a non-empty id")
		}
		if seen[m.ID] {
			return fmt.Errorf("duplicate machine id: %s", m.ID)
		}
		seen[m.ID] = true
	}
	return nil
}

// NATS limit constants
const (
	minNATSMemory        = 64 << 20  // 64MB
	minNATSStore         = 256 << 20 // 256MB
	maxNATSSubscribers   = 32
	minNATSReconnectWait = 100 * time.Millisecond
)

// validateNATS validates the sensor bus configuration (only if enabled)
func (c *Config) validateNATS() error {
	if !c.NATS.Enabled {
		return nil
	}

	if err := validateNATSURL(c.NATS.URL); err != nil {
		return fmt.Errorf("NATS_URL is invalid: %w", err)
	}

	if c.NATS.Subject == "" {
		return fmt.Errorf("NATS_SUBJECT is required when NATS_ENABLED=true")
	}

	return c.validateNATSLimits()
}

// validateNATSLimits validates JetStream resource limits
func (c *Config) validateNATSLimits() error {
	if c.NATS.MaxMemory < minNATSMemory {
		return fmt.Errorf("NATS_MAX_MEMORY must be at least %d bytes (64MB)", minNATSMemory)
	}
	if c.NATS.MaxStore < minNATSStore {
		return fmt.Errorf("NATS_MAX_STORE must be at least %d bytes (256MB)", minNATSStore)
	}
	if c.NATS.SubscribersCount < 1 || c.NATS.SubscribersCount > maxNATSSubscribers {
		return fmt.Errorf("NATS_SUBSCRIBERS must be between 1 and %d", maxNATSSubscribers)
	}
	if c.NATS.ReconnectWait < minNATSReconnectWait {
		return fmt.Errorf("NATS_RECONNECT_WAIT must be at least %s", minNATSReconnectWait)
	}
	return nil
}

// validateBridge validates the notification queue
func (c *Config) validateBridge() error {
	if c.Bridge.Capacity < 1 || c.Bridge.Capacity > 65536 {
		return fmt.Errorf("BRIDGE_CAPACITY must be between 1 and 65536")
	}
	return nil
}

// validateDeadLetter validates the dead-letter store (only if enabled)
func (c *Config) validateDeadLetter() error {
	if !c.DeadLetter.Enabled {
		return nil
	}

	if c.DeadLetter.Path == "" {
		return fmt.Errorf("DEADLETTER_PATH is required when DEADLETTER_ENABLED=true")
	}
	if c.DeadLetter.MaxAttempts < 1 || c.DeadLetter.MaxAttempts > 100 {
		return fmt.Errorf("DEADLETTER_MAX_ATTEMPTS must be between 1 and 100")
	}
	return nil
}

// validateImport validates the CSV backfill settings (only if enabled)
func (c *Config) validateImport() error {
	if !c.Import.Enabled {
		return nil
	}

	if c.Import.CSVPath == "" {
		return fmt.Errorf("IMPORT_CSV_PATH is required when IMPORT_ENABLED=true")
	}
	return nil
}

// validEnvironments lists accepted server environment modes
var validEnvironments = map[string]bool{
	"development": true,
	"staging":     true,
	"production":  true,
}

// validateServer validates the HTTP server settings
func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("HTTP_PORT must be between 1 and 65535")
	}
	if c.Server.Timeout <= 0 {
		return fmt.Errorf("HTTP_TIMEOUT must be positive")
	}
	if !validEnvironments[c.Server.Environment] {
		return fmt.Errorf("ENVIRONMENT must be development, staging, or production")
	}
	return nil
}

// IsProduction reports whether the server runs in production mode
func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}

// validateSecurity validates rate limiting settings
func (c *Config) validateSecurity() error {
	if c.Security.RateLimitDisabled {
		return nil
	}

	if c.Security.RateLimitReqs < 1 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must be at least 1")
	}
	if c.Security.RateLimitWindow < time.Second {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be at least 1s")
	}
	return nil
}

// hasWildcardCORS reports whether the CORS origins include the wildcard
func (c *Config) hasWildcardCORS() bool {
	for _, origin := range c.Security.CORSOrigins {
		if origin == "*" {
			return true
		}
	}
	return false
}

// ShouldWarnAboutCORS reports whether startup should log a CORS warning:
// wildcard origins in production deserve an operator's attention.
func (c *Config) ShouldWarnAboutCORS() bool {
	return c.IsProduction() && c.hasWildcardCORS()
}

// validLogLevels lists accepted log levels
var validLogLevels = map[string]bool{
	"trace": true,
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validLogFormats lists accepted log output formats
var validLogFormats = map[string]bool{
	"json":    true,
	"console": true,
}

// validateLogging validates logging settings
func (c *Config) validateLogging() error {
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("LOG_LEVEL must be one of: trace, debug, info, warn, error")
	}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("LOG_FORMAT must be json or console")
	}
	return nil
}

// ParseClock parses a HH:MM 24-hour wall-clock string into minutes since
// midnight. Shift boundaries are stored in this format.
func ParseClock(value string) (int, error) {
	t, err := time.Parse("15:04", value)
	if err != nil {
		return 0, fmt.Errorf("expected HH:MM 24-hour format, got %q", value)
	}
	return t.Hour()*60 + t.Minute(), nil
}
