// Millwright - Factory Floor Telemetry Sync and Live Notifications
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/millwright

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/millwright/internal/metrics"
	"github.com/tomtom215/millwright/internal/models"
)

// InsertCutEvent stores a single cut event from the sensor bus.
// Events are deduplicated on (machine_id, timestamp_utc), so a redelivered
// bus message is acknowledged without creating a second row. Returns true
// when the event was actually inserted.
func (s *Store) InsertCutEvent(ctx context.Context, event *models.CutEvent) (bool, error) {
	ctx, cancel := s.ensureContext(ctx)
	defer cancel()

	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	start := time.Now()
	var err error
	defer func() {
		metrics.RecordDBQuery("insert", "cut_events", time.Since(start), err)
	}()

	result, err := s.conn.ExecContext(ctx, `
		INSERT INTO cut_events (id, machine_id, timestamp_utc, cut_count, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (machine_id, timestamp_utc) DO NOTHING
	`,
		event.ID,
		event.MachineID,
		event.TimestampUTC.UTC(),
		event.CutCount,
		event.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert cut event: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected for cut event: %w", err)
	}

	return rowsAffected > 0, nil
}

// LastCutTime returns the timestamp of the most recent cut event for a
// machine, or nil when the machine has never reported one. Machine activity
// status is derived from this.
func (s *Store) LastCutTime(ctx context.Context, machineID string) (*time.Time, error) {
	ctx, cancel := s.ensureContext(ctx)
	defer cancel()

	var last *time.Time
	err := s.conn.QueryRowContext(ctx,
		"SELECT MAX(timestamp_utc) FROM cut_events WHERE machine_id = ?",
		machineID,
	).Scan(&last)
	if err != nil {
		return nil, fmt.Errorf("failed to query last cut time: %w", err)
	}

	return last, nil
}

// CutCountSince returns the total number of cuts a machine reported at or
// after since.
func (s *Store) CutCountSince(ctx context.Context, machineID string, since time.Time) (int64, error) {
	ctx, cancel := s.ensureContext(ctx)
	defer cancel()

	var total int64
	err := s.conn.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(cut_count), 0)
		FROM cut_events
		WHERE machine_id = ? AND timestamp_utc >= ?
	`, machineID, since.UTC()).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to query cut count: %w", err)
	}

	return total, nil
}
