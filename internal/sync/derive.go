// Millwright - Factory Floor Telemetry Sync and Live Notifications
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/millwright

package sync

import (
	"fmt"
	"strings"
	"time"

	"github.com/tomtom215/millwright/internal/config"
	"github.com/tomtom215/millwright/internal/models"
	"github.com/tomtom215/millwright/internal/telemetry"
)

// offShiftReason is the downtime reason the telemetry API assigns to periods
// outside scheduled production hours. Those rows carry no reporting value and
// are filtered before derivation.
const offShiftReason = "Not On Shift"

// Deriver computes the reporting fields the telemetry API does not provide:
// shift assignment, day of week, duration, and utilisation category. Shift
// boundaries are evaluated in the configured factory timezone.
type Deriver struct {
	dayStart int // minutes since midnight, inclusive
	dayEnd   int // minutes since midnight, exclusive
	loc      *time.Location
}

// NewDeriver builds a Deriver from the shift configuration.
func NewDeriver(cfg *config.ShiftsConfig) (*Deriver, error) {
	dayStart, err := config.ParseClock(cfg.DayStart)
	if err != nil {
		return nil, fmt.Errorf("invalid day shift start: %w", err)
	}

	dayEnd, err := config.ParseClock(cfg.DayEnd)
	if err != nil {
		return nil, fmt.Errorf("invalid day shift end: %w", err)
	}

	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("invalid shift timezone: %w", err)
	}

	return &Deriver{
		dayStart: dayStart,
		dayEnd:   dayEnd,
		loc:      loc,
	}, nil
}

// Derive converts a raw telemetry period into a storable status period with
// all derived fields populated. Timestamps are normalised to UTC for storage;
// shift and day-of-week are derived from the start timestamp in the factory
// timezone.
func (d *Deriver) Derive(p *telemetry.Period) models.StatusPeriod {
	localStart := p.StartTimestamp.In(d.loc)

	var downtimeReason *string
	if p.DowntimeReason != "" {
		reason := p.DowntimeReason
		downtimeReason = &reason
	}

	return models.StatusPeriod{
		ID:                  p.ID,
		MachineID:           p.MachineID,
		MachineName:         p.Name,
		StartedAt:           p.StartTimestamp.UTC(),
		EndedAt:             p.EndTimestamp.UTC(),
		Classification:      p.Classification,
		Productivity:        p.Productivity,
		DowntimeReason:      downtimeReason,
		DurationSeconds:     p.EndTimestamp.Sub(p.StartTimestamp).Seconds(),
		Shift:               d.shiftFor(localStart),
		DayOfWeek:           strings.ToUpper(localStart.Weekday().String()),
		UtilisationCategory: deriveUtilisationCategory(p.Productivity, p.Classification),
	}
}

// IsOffShift reports whether the period falls outside scheduled production
// hours according to the telemetry API's own labelling.
func (d *Deriver) IsOffShift(p *telemetry.Period) bool {
	return p.DowntimeReason == offShiftReason
}

// shiftFor assigns DAY or NIGHT based on minutes since local midnight. The
// day shift interval is half-open: a period starting exactly at the day shift
// end belongs to the night shift.
func (d *Deriver) shiftFor(localStart time.Time) string {
	minutes := localStart.Hour()*60 + localStart.Minute()
	if minutes >= d.dayStart && minutes < d.dayEnd {
		return models.ShiftDay
	}
	return models.ShiftNight
}

// deriveUtilisationCategory combines productivity and classification into the
// single label the dashboard groups by, e.g. "PRODUCTIVE production" or
// "NON-PRODUCTIVE downtime".
func deriveUtilisationCategory(productivity, classification string) string {
	return strings.ToUpper(productivity) + " " + classification
}
