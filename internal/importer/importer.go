// Millwright - Factory Floor Telemetry Sync and Live Notifications
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/millwright

// Package importer backfills historical status periods from CSV exports.
// It reads through DuckDB's CSV reader, derives the same reporting fields
// the sync path derives, and inserts with conflict-skip semantics, so a
// backfill can run against a store that already holds synced data without
// duplicating a single row. It never touches watermarks: backfilled history
// must not suppress future fetch windows.
package importer

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/tomtom215/millwright/internal/config"
	"github.com/tomtom215/millwright/internal/logging"
	"github.com/tomtom215/millwright/internal/models"
	msync "github.com/tomtom215/millwright/internal/sync"
	"github.com/tomtom215/millwright/internal/telemetry"
)

// insertBatchSize bounds one insert transaction during backfill.
const insertBatchSize = 1000

// Storage is the store slice the importer needs: the raw DuckDB handle for
// read_csv, and the conflict-skipping batch insert.
type Storage interface {
	Conn() *sql.DB
	InsertStatusPeriodsBatch(ctx context.Context, periods []models.StatusPeriod) (inserted, duplicates int, err error)
}

// Stats summarizes one backfill run.
type Stats struct {
	RowsRead   int
	Filtered   int
	Inserted   int
	Duplicates int
}

// Importer performs the one-time CSV backfill.
type Importer struct {
	cfg     config.ImportConfig
	store   Storage
	deriver *msync.Deriver
	logger  zerolog.Logger
}

// New builds an importer sharing the sync path's deriver, so backfilled
// rows get identical shift and utilisation fields.
func New(cfg *config.ImportConfig, store Storage, deriver *msync.Deriver) *Importer {
	return &Importer{
		cfg:     *cfg,
		store:   store,
		deriver: deriver,
		logger:  logging.WithComponent("importer"),
	}
}

// Run reads the configured CSV path (a glob is accepted; DuckDB expands it)
// and inserts every on-shift period not already present. Off-shift rows are
// filtered exactly like the sync path filters them.
func (i *Importer) Run(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	// DuckDB parses timestamps and expands globs natively; the query reads
	// the export without an intermediate staging table.
	rows, err := i.store.Conn().QueryContext(ctx, `
		SELECT
			id,
			machine_id,
			start_timestamp,
			end_timestamp,
			classification,
			productivity,
			COALESCE(downtime_reason, '') AS downtime_reason,
			COALESCE(name, '') AS name
		FROM read_csv(?, header = true, union_by_name = true)
		ORDER BY start_timestamp
	`, i.cfg.CSVPath)
	if err != nil {
		return stats, fmt.Errorf("failed to read CSV %s: %w", i.cfg.CSVPath, err)
	}
	defer rows.Close()

	batch := make([]models.StatusPeriod, 0, insertBatchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		inserted, duplicates, err := i.store.InsertStatusPeriodsBatch(ctx, batch)
		if err != nil {
			return fmt.Errorf("failed to insert backfill batch: %w", err)
		}
		stats.Inserted += inserted
		stats.Duplicates += duplicates
		batch = batch[:0]
		return nil
	}

	for rows.Next() {
		var p telemetry.Period
		if err := rows.Scan(
			&p.ID,
			&p.MachineID,
			&p.StartTimestamp,
			&p.EndTimestamp,
			&p.Classification,
			&p.Productivity,
			&p.DowntimeReason,
			&p.Name,
		); err != nil {
			return stats, fmt.Errorf("failed to scan CSV row: %w", err)
		}
		stats.RowsRead++

		if i.deriver.IsOffShift(&p) {
			stats.Filtered++
			continue
		}

		batch = append(batch, i.deriver.Derive(&p))
		if len(batch) >= insertBatchSize {
			if err := flush(); err != nil {
				return stats, err
			}
		}
	}
	if err := rows.Err(); err != nil {
		return stats, fmt.Errorf("failed while reading CSV: %w", err)
	}
	if err := flush(); err != nil {
		return stats, err
	}

	i.logger.Info().
		Str("csv_path", i.cfg.CSVPath).
		Int("rows_read", stats.RowsRead).
		Int("inserted", stats.Inserted).
		Int("duplicates", stats.Duplicates).
		Int("filtered", stats.Filtered).
		Msg("CSV backfill complete")

	return stats, nil
}
