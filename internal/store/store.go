// Millwright - Factory Floor Telemetry Sync and Live Notifications
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/millwright

// Package store provides DuckDB-backed persistence for the sync subsystem:
// machine status periods merged from the telemetry API, cut events from the
// sensor bus, and per-machine sync watermarks.
//
// All write paths are idempotent. Status periods are keyed by the upstream
// period ID and cut events by (machine_id, timestamp_utc), with
// ON CONFLICT DO NOTHING so replayed batches and redelivered bus messages
// never produce duplicate rows.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/tomtom215/millwright/internal/config"
	"github.com/tomtom215/millwright/internal/logging"
)

// Store wraps the DuckDB connection and provides data access methods.
type Store struct {
	conn *sql.DB
	cfg  *config.DatabaseConfig
}

// New creates a new database connection and initializes the schema.
func New(cfg *config.DatabaseConfig) (*Store, error) {
	numThreads := cfg.Threads
	if numThreads <= 0 {
		numThreads = runtime.NumCPU()
	}

	// Ensure parent directory exists for database file.
	// Use 0750 permissions (owner: rwx, group: rx, other: none) per gosec G301
	dbDir := filepath.Dir(cfg.Path)
	if dbDir != "" && dbDir != "." {
		if err := os.MkdirAll(dbDir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dbDir, err)
		}
	}

	// Build connection string with tuning options
	// preserve_insertion_order=false reduces memory usage but may change result order
	preserveOrder := "true"
	if !cfg.PreserveInsertionOrder {
		preserveOrder = "false"
	}

	// Disable auto-install/auto-load to prevent hangs in restricted network
	// environments. The schema here uses no DuckDB extensions.
	connStr := fmt.Sprintf("%s?access_mode=read_write&threads=%d&max_memory=%s&preserve_insertion_order=%s&autoinstall_known_extensions=false&autoload_known_extensions=false",
		cfg.Path, numThreads, cfg.MaxMemory, preserveOrder)

	conn, err := sql.Open("duckdb", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{
		conn: conn,
		cfg:  cfg,
	}

	s.configureConnectionPool()

	if err := s.initialize(); err != nil {
		closeQuietly(conn)
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return s, nil
}

// configureConnectionPool sets connection pool parameters
func (s *Store) configureConnectionPool() {
	s.conn.SetMaxOpenConns(runtime.NumCPU())
	s.conn.SetMaxIdleConns(2)
	s.conn.SetConnMaxLifetime(time.Hour)
	s.conn.SetConnMaxIdleTime(5 * time.Minute)
}

// initialize creates tables and indexes, then checkpoints so a crash right
// after startup cannot leave schema statements in the WAL.
func (s *Store) initialize() error {
	if err := s.createTables(); err != nil {
		return err
	}

	if err := s.createIndexes(); err != nil {
		return err
	}

	checkpointCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.Checkpoint(checkpointCtx); err != nil {
		logging.Warn().Err(err).Msg("Failed to checkpoint after schema initialization")
	}

	return nil
}

// Close closes the database connection.
// It performs a CHECKPOINT before closing to flush the WAL to the main
// database file so the next startup does not have to replay it.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := s.Checkpoint(ctx); err != nil {
		// Best effort - log and close anyway
		logging.Warn().Err(err).Msg("Failed to checkpoint database before close")
	}
	cancel()

	return s.conn.Close()
}

// Ping checks if the database connection is alive
func (s *Store) Ping(ctx context.Context) error {
	if s.conn == nil {
		return fmt.Errorf("database connection is nil")
	}
	return s.conn.PingContext(ctx)
}

// Checkpoint forces a WAL checkpoint
func (s *Store) Checkpoint(ctx context.Context) error {
	ctx, cancel := s.ensureContext(ctx)
	defer cancel()

	_, err := s.conn.ExecContext(ctx, "CHECKPOINT")
	if err != nil {
		return fmt.Errorf("checkpoint failed: %w", err)
	}
	return nil
}

// Conn returns the underlying SQL database connection.
// This is used by packages that need direct database access, such as the
// importer for CSV backfill statements.
func (s *Store) Conn() *sql.DB {
	return s.conn
}

// DatabasePath returns the path to the database file
func (s *Store) DatabasePath() string {
	return s.cfg.Path
}

// CountRecords returns the count of records in the main tables
func (s *Store) CountRecords(ctx context.Context) (periods int64, cuts int64, err error) {
	ctx, cancel := s.ensureContext(ctx)
	defer cancel()

	err = s.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM status_periods").Scan(&periods)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count status periods: %w", err)
	}

	err = s.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM cut_events").Scan(&cuts)
	if err != nil {
		return periods, 0, fmt.Errorf("failed to count cut events: %w", err)
	}

	return periods, cuts, nil
}

// ensureContext creates a context with 30-second timeout if none provided
func (s *Store) ensureContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		return context.WithTimeout(context.Background(), 30*time.Second)
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		return context.WithTimeout(ctx, 30*time.Second)
	}

	return ctx, func() {}
}

// closeQuietly closes a resource and explicitly ignores any error
// Use this for cleanup operations in error paths where Close() errors are not actionable
func closeQuietly(closer io.Closer) {
	if closer != nil {
		_ = closer.Close() // Explicitly ignore error - cleanup is best-effort
	}
}
