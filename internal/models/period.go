// Millwright - Factory Floor Telemetry Sync and Live Notifications
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/millwright

// Package models defines data structures used throughout the Millwright application.
// These models represent machine status periods, sensor cut events, sync watermarks,
// and API responses.

package models

import (
	"time"

	"github.com/google/uuid"
)

// Shift labels derived from a period's start timestamp.
const (
	ShiftDay   = "DAY"
	ShiftNight = "NIGHT"
)

// StatusPeriod represents a single machine status interval from the telemetry API.
//
// This is the core data model storing machine uptime and downtime history.
// Periods are fetched during sync and enriched with shift context before insert.
//
// Key Fields:
//   - ID: External identifier assigned by the telemetry provider (primary key,
//     used for deduplication; a period fetched twice is stored once)
//   - MachineID: Asset identifier of the machine the period belongs to
//   - MachineName: Human-readable name resolved from the configured fleet
//   - StartedAt/EndedAt: Period boundaries in UTC
//   - Classification: Raw state tag ("uptime", "downtime", ...)
//   - Productivity: Raw productivity tag ("productive", "unproductive", ...)
//   - DowntimeReason: Reason label for downtime periods, nil otherwise
//
// Derived Fields (computed by the merge writer, never by the API):
//   - DurationSeconds: EndedAt minus StartedAt
//   - Shift: "DAY" when StartedAt falls inside the configured day-shift window,
//     "NIGHT" otherwise
//   - DayOfWeek: Uppercase English weekday of StartedAt ("MONDAY", ...)
//   - UtilisationCategory: UPPER(Productivity) + " " + Classification,
//     e.g. "PRODUCTIVE uptime"
//
// Records are append-only: never updated or deleted by the sync engine.
type StatusPeriod struct {
	ID          string `json:"id"`
	MachineID   string `json:"machine_id"`
	MachineName string `json:"name"`

	StartedAt time.Time `json:"start_timestamp"`
	EndedAt   time.Time `json:"end_timestamp"`

	Classification string  `json:"classification"`
	Productivity   string  `json:"productivity"`
	DowntimeReason *string `json:"downtime_reason_name,omitempty"`

	// Derived fields
	DurationSeconds     float64 `json:"duration"`
	Shift               string  `json:"shift"`
	DayOfWeek           string  `json:"day_of_week"`
	UtilisationCategory string  `json:"utilisation_category"`

	CreatedAt time.Time `json:"created_at"`
}

// Duration returns the period length as a time.Duration.
func (p *StatusPeriod) Duration() time.Duration {
	return p.EndedAt.Sub(p.StartedAt)
}

// IsDowntime reports whether the period is classified as downtime.
func (p *StatusPeriod) IsDowntime() bool {
	return p.Classification == "downtime"
}

// CutEvent represents a single cut reported by a machine's PLC sensor.
//
// Events arrive over the factory message bus and are persisted as-is: no
// derived fields, no deduplication (the bus is assumed to deliver each
// physical event once). The UUID is a surrogate key assigned at insert.
type CutEvent struct {
	ID           uuid.UUID `json:"id"`
	MachineID    string    `json:"machine_id"`
	TimestampUTC time.Time `json:"timestamp_utc"`
	CutCount     int       `json:"cut_count"`
	CreatedAt    time.Time `json:"created_at"`
}

// Watermark tracks per-machine sync progress.
//
// LastEndTimestamp is the end timestamp of the newest status period merged for
// the machine. It only moves forward: a failed or empty merge leaves it
// untouched, so the next cycle re-fetches the same range and relies on
// dedup for idempotency. A zero LastEndTimestamp means the machine has never
// been synced and the next cycle starts from the configured initial lookback.
type Watermark struct {
	MachineID        string    `json:"machine_id"`
	LastEndTimestamp time.Time `json:"last_end_timestamp"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// IsZero reports whether the watermark has never been advanced.
func (w *Watermark) IsZero() bool {
	return w.LastEndTimestamp.IsZero()
}
