// Millwright - Factory Floor Telemetry Sync and Live Notifications
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/millwright

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/millwright/internal/metrics"
	"github.com/tomtom215/millwright/internal/models"
)

// GetWatermark returns the sync watermark for a machine, or nil when the
// machine has never been synced.
func (s *Store) GetWatermark(ctx context.Context, machineID string) (*models.Watermark, error) {
	ctx, cancel := s.ensureContext(ctx)
	defer cancel()

	var w models.Watermark
	err := s.conn.QueryRowContext(ctx, `
		SELECT machine_id, last_end_timestamp, updated_at
		FROM sync_watermarks
		WHERE machine_id = ?
	`, machineID).Scan(&w.MachineID, &w.LastEndTimestamp, &w.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query watermark: %w", err)
	}

	return &w, nil
}

// AdvanceWatermark moves a machine's watermark forward to ts.
// The conditional upsert only touches the row when ts is strictly greater
// than the stored value, so a late or replayed merge can never move a
// watermark backwards. Callers are expected to pass the maximum period end
// of a successfully merged batch.
func (s *Store) AdvanceWatermark(ctx context.Context, machineID string, ts time.Time) error {
	ctx, cancel := s.ensureContext(ctx)
	defer cancel()

	start := time.Now()
	var err error
	defer func() {
		metrics.RecordDBQuery("upsert", "sync_watermarks", time.Since(start), err)
	}()

	_, err = s.conn.ExecContext(ctx, `
		INSERT INTO sync_watermarks (machine_id, last_end_timestamp, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (machine_id) DO UPDATE SET
			last_end_timestamp = excluded.last_end_timestamp,
			updated_at = excluded.updated_at
		WHERE excluded.last_end_timestamp > last_end_timestamp
	`, machineID, ts.UTC(), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to advance watermark: %w", err)
	}

	return nil
}

// AllWatermarks returns the watermarks of every machine that has synced at
// least once, ordered by machine ID for stable status output.
func (s *Store) AllWatermarks(ctx context.Context) ([]models.Watermark, error) {
	ctx, cancel := s.ensureContext(ctx)
	defer cancel()

	rows, err := s.conn.QueryContext(ctx, `
		SELECT machine_id, last_end_timestamp, updated_at
		FROM sync_watermarks
		ORDER BY machine_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query watermarks: %w", err)
	}
	defer closeQuietly(rows)

	var watermarks []models.Watermark
	for rows.Next() {
		var w models.Watermark
		if err := rows.Scan(&w.MachineID, &w.LastEndTimestamp, &w.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan watermark: %w", err)
		}
		watermarks = append(watermarks, w)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating watermarks: %w", err)
	}

	return watermarks, nil
}
