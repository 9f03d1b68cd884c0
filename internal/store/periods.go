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

	"github.com/tomtom215/millwright/internal/logging"
	"github.com/tomtom215/millwright/internal/metrics"
	"github.com/tomtom215/millwright/internal/models"
)

// InsertStatusPeriodsBatch inserts multiple status periods in a single
// transaction. Periods whose ID already exists are skipped rather than
// updated, so re-merging an overlapping fetch window is safe.
// Returns the number of rows actually inserted and the number skipped as
// duplicates.
func (s *Store) InsertStatusPeriodsBatch(ctx context.Context, periods []models.StatusPeriod) (inserted, duplicates int, err error) {
	if len(periods) == 0 {
		return 0, 0, nil
	}

	ctx, cancel := s.ensureContext(ctx)
	defer cancel()

	start := time.Now()
	defer func() {
		metrics.RecordDBQuery("insert_batch", "status_periods", time.Since(start), err)
	}()

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to begin transaction: %w", err)
	}

	// Ensure rollback on error
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				logging.Error().
					Err(rbErr).
					AnErr("original_error", err).
					Msg("Failed to rollback batch insert transaction")
			}
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO status_periods (
			id, machine_id, name, start_timestamp, end_timestamp,
			classification, productivity, downtime_reason_name,
			duration, shift, day_of_week, utilisation_category, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING
	`)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to prepare batch insert statement: %w", err)
	}
	defer func() {
		if closeErr := stmt.Close(); closeErr != nil {
			logging.Warn().Err(closeErr).Msg("Failed to close batch insert statement")
		}
	}()

	for i := range periods {
		p := &periods[i]
		if p.CreatedAt.IsZero() {
			p.CreatedAt = time.Now().UTC()
		}

		result, execErr := stmt.ExecContext(ctx,
			p.ID,
			p.MachineID,
			p.MachineName,
			p.StartedAt.UTC(),
			p.EndedAt.UTC(),
			p.Classification,
			p.Productivity,
			p.DowntimeReason,
			p.DurationSeconds,
			p.Shift,
			p.DayOfWeek,
			p.UtilisationCategory,
			p.CreatedAt,
		)
		if execErr != nil {
			err = fmt.Errorf("failed to insert status period %s: %w", p.ID, execErr)
			return 0, 0, err
		}

		rowsAffected, raErr := result.RowsAffected()
		if raErr != nil {
			err = fmt.Errorf("failed to get rows affected for period %s: %w", p.ID, raErr)
			return 0, 0, err
		}

		if rowsAffected > 0 {
			inserted++
		} else {
			duplicates++
			logging.Debug().
				Str("period_id", p.ID).
				Str("machine_id", p.MachineID).
				Msg("Skipped duplicate status period")
		}
	}

	if err = tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("failed to commit batch insert transaction: %w", err)
	}

	logging.Debug().
		Int("inserted", inserted).
		Int("duplicates", duplicates).
		Msg("Status period batch committed")

	return inserted, duplicates, nil
}

// ExistingPeriodIDs returns the subset of ids that are already stored.
// The merge writer uses this to count store-level duplicates before a batch
// insert without issuing one query per period.
func (s *Store) ExistingPeriodIDs(ctx context.Context, ids []string) (map[string]struct{}, error) {
	existing := make(map[string]struct{}, len(ids))
	if len(ids) == 0 {
		return existing, nil
	}

	ctx, cancel := s.ensureContext(ctx)
	defer cancel()

	start := time.Now()
	var err error
	defer func() {
		metrics.RecordDBQuery("select_existing", "status_periods", time.Since(start), err)
	}()

	placeholders := make([]byte, 0, len(ids)*2)
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
		args[i] = id
	}

	query := fmt.Sprintf("SELECT id FROM status_periods WHERE id IN (%s)", placeholders)

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query existing period IDs: %w", err)
	}
	defer closeQuietly(rows)

	for rows.Next() {
		var id string
		if err = rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan period ID: %w", err)
		}
		existing[id] = struct{}{}
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating period IDs: %w", err)
	}

	return existing, nil
}

// MaxEndTimestamp returns the latest period end stored for a machine, or nil
// when the machine has no periods yet.
func (s *Store) MaxEndTimestamp(ctx context.Context, machineID string) (*time.Time, error) {
	ctx, cancel := s.ensureContext(ctx)
	defer cancel()

	var maxEnd *time.Time
	err := s.conn.QueryRowContext(ctx,
		"SELECT MAX(end_timestamp) FROM status_periods WHERE machine_id = ?",
		machineID,
	).Scan(&maxEnd)
	if err != nil {
		return nil, fmt.Errorf("failed to query max end timestamp: %w", err)
	}

	return maxEnd, nil
}

// LatestPeriod returns the most recently ended status period for a machine,
// or nil when none exists. The classification tracker uses this to detect
// state transitions across sync cycles.
func (s *Store) LatestPeriod(ctx context.Context, machineID string) (*models.StatusPeriod, error) {
	ctx, cancel := s.ensureContext(ctx)
	defer cancel()

	var p models.StatusPeriod
	err := s.conn.QueryRowContext(ctx, `
		SELECT id, machine_id, name, start_timestamp, end_timestamp,
			classification, productivity, downtime_reason_name,
			duration, shift, day_of_week, utilisation_category, created_at
		FROM status_periods
		WHERE machine_id = ?
		ORDER BY end_timestamp DESC
		LIMIT 1
	`, machineID).Scan(
		&p.ID,
		&p.MachineID,
		&p.MachineName,
		&p.StartedAt,
		&p.EndedAt,
		&p.Classification,
		&p.Productivity,
		&p.DowntimeReason,
		&p.DurationSeconds,
		&p.Shift,
		&p.DayOfWeek,
		&p.UtilisationCategory,
		&p.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest period: %w", err)
	}

	return &p, nil
}

// UtilisationSince returns the percentage of recorded time a machine spent
// in productive periods starting at or after since. Returns 0 when the
// machine has no periods in the range.
func (s *Store) UtilisationSince(ctx context.Context, machineID string, since time.Time) (float64, error) {
	ctx, cancel := s.ensureContext(ctx)
	defer cancel()

	var productive, total float64
	err := s.conn.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(duration) FILTER (WHERE productivity = 'productive'), 0),
			COALESCE(SUM(duration), 0)
		FROM status_periods
		WHERE machine_id = ? AND start_timestamp >= ?
	`, machineID, since.UTC()).Scan(&productive, &total)
	if err != nil {
		return 0, fmt.Errorf("failed to query utilisation: %w", err)
	}

	if total == 0 {
		return 0, nil
	}

	return productive / total * 100, nil
}

// CountStatusPeriods returns the number of stored status periods for a
// machine. An empty machineID counts all periods.
func (s *Store) CountStatusPeriods(ctx context.Context, machineID string) (int64, error) {
	ctx, cancel := s.ensureContext(ctx)
	defer cancel()

	var count int64
	var err error
	if machineID == "" {
		err = s.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM status_periods").Scan(&count)
	} else {
		err = s.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM status_periods WHERE machine_id = ?", machineID).Scan(&count)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to count status periods: %w", err)
	}

	return count, nil
}
