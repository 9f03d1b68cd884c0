// Millwright - Factory Floor Telemetry Sync and Live Notifications
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/millwright

package store

import (
	"context"
	"fmt"
	"time"
)

// schemaContext returns a context with a 60-second timeout for schema operations
func schemaContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 60*time.Second)
}

// createTables creates all required tables
func (s *Store) createTables() error {
	ctx, cancel := schemaContext()
	defer cancel()

	queries := getTableCreationQueries()

	for _, query := range queries {
		if _, err := s.conn.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to execute query: %s: %w", query, err)
		}
	}

	return nil
}

// getTableCreationQueries returns all table creation queries
func getTableCreationQueries() []string {
	return []string{
		// ============================================================
		// STATUS PERIODS - merged machine activity from the telemetry API
		// ============================================================
		// id is the upstream period identifier. Making it the primary key
		// lets the merge writer rely on ON CONFLICT DO NOTHING to skip
		// periods that were already stored by an earlier sync cycle.
		`CREATE TABLE IF NOT EXISTS status_periods (
			id TEXT PRIMARY KEY,
			machine_id TEXT NOT NULL,
			name TEXT,
			start_timestamp TIMESTAMP NOT NULL,
			end_timestamp TIMESTAMP NOT NULL,
			classification TEXT NOT NULL,
			productivity TEXT NOT NULL,
			downtime_reason_name TEXT,
			duration DOUBLE NOT NULL,
			shift TEXT NOT NULL,
			day_of_week TEXT NOT NULL,
			utilisation_category TEXT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,

		// ============================================================
		// CUT EVENTS - raw production events from the sensor bus
		// ============================================================
		`CREATE TABLE IF NOT EXISTS cut_events (
			id UUID PRIMARY KEY,
			machine_id TEXT NOT NULL,
			timestamp_utc TIMESTAMP NOT NULL,
			cut_count INTEGER NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,

		// ============================================================
		// SYNC WATERMARKS - per-machine incremental sync positions
		// ============================================================
		// last_end_timestamp is the latest period end successfully merged
		// for the machine. It only moves forward; see AdvanceWatermark.
		`CREATE TABLE IF NOT EXISTS sync_watermarks (
			machine_id TEXT PRIMARY KEY,
			last_end_timestamp TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
	}
}

// createIndexes creates indexes for common query patterns
func (s *Store) createIndexes() error {
	ctx, cancel := schemaContext()
	defer cancel()

	indexes := []string{
		// Status period lookups are almost always per machine, scanning
		// recent history first.
		`CREATE INDEX IF NOT EXISTS idx_periods_machine_start ON status_periods(machine_id, start_timestamp DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_periods_machine_end ON status_periods(machine_id, end_timestamp DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_periods_classification ON status_periods(classification)`,

		// Idempotent sensor ingestion: redelivered bus messages carry the
		// same machine and event timestamp.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_cuts_machine_ts ON cut_events(machine_id, timestamp_utc)`,
		`CREATE INDEX IF NOT EXISTS idx_cuts_ts ON cut_events(timestamp_utc DESC)`,
	}

	for _, index := range indexes {
		if _, err := s.conn.ExecContext(ctx, index); err != nil {
			return fmt.Errorf("failed to create index: %s: %w", index, err)
		}
	}

	return nil
}
