// Millwright - Factory Floor Telemetry Sync and Live Notifications
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/millwright

// Package deadletter persists fetch windows that failed during a sync cycle
// so they can be replayed on later cycles. Entries live in BadgerDB (ACID,
// local disk), surviving process restarts. The sync cycle already holds the
// watermark at the earliest failed window, so the range is re-fetched
// regardless; this store adds attempt-bounded replay and operator
// visibility for windows that keep failing.
package deadletter

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/millwright/internal/config"
	"github.com/tomtom215/millwright/internal/logging"
	"github.com/tomtom215/millwright/internal/metrics"
)

// Entry is one failed fetch window awaiting replay.
type Entry struct {
	// ID is the unique identifier for this entry.
	ID string `json:"id"`

	// MachineID is the machine whose window failed.
	MachineID string `json:"machine_id"`

	// WindowStart and WindowEnd bound the time range that could not be
	// fetched.
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`

	// Attempts is the number of replay attempts so far.
	Attempts int `json:"attempts"`

	// LastError is the error message from the most recent failure.
	LastError string `json:"last_error,omitempty"`

	// CreatedAt is when the window was first parked.
	CreatedAt time.Time `json:"created_at"`

	// LastTriedAt is the time of the last replay attempt.
	LastTriedAt time.Time `json:"last_tried_at,omitempty"`
}

// Stats holds dead letter store counters for monitoring.
type Stats struct {
	// Entries is the number of windows awaiting replay.
	Entries int64

	// OldestCreatedAt is the creation time of the oldest parked window, nil
	// when the store is empty.
	OldestCreatedAt *time.Time
}

// keyPrefix namespaces dead letter keys. Keys are
// "window:<machine_id>:<entry_id>" so per-machine scans are prefix scans.
const keyPrefix = "window:"

// Store persists failed fetch windows in BadgerDB.
type Store struct {
	db     *badger.DB
	mu     sync.RWMutex
	closed bool
}

// Open creates (or reopens) the dead letter store at the configured path.
func Open(cfg *config.DeadLetterConfig) (*Store, error) {
	opts := badger.DefaultOptions(cfg.Path)

	// Reduce logging verbosity
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open BadgerDB: %w", err)
	}

	logging.Info().
		Str("path", cfg.Path).
		Int("max_attempts", cfg.MaxAttempts).
		Msg("Dead letter store opened")

	return &Store{db: db}, nil
}

// entryKey builds the storage key for an entry.
func entryKey(machineID, entryID string) []byte {
	return []byte(keyPrefix + machineID + ":" + entryID)
}

// machinePrefix builds the scan prefix for one machine's entries.
func machinePrefix(machineID string) []byte {
	return []byte(keyPrefix + machineID + ":")
}

// Add parks a failed fetch window. The entry's ID and CreatedAt are filled
// when zero.
func (s *Store) Add(ctx context.Context, entry *Entry) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrClosed
	}
	s.mu.RUnlock()

	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(entryKey(entry.MachineID, entry.ID), data)
	})
	if err != nil {
		return fmt.Errorf("write to BadgerDB: %w", err)
	}

	metrics.RecordDLQAdd()
	logging.Warn().
		Str("machine_id", entry.MachineID).
		Time("window_start", entry.WindowStart).
		Time("window_end", entry.WindowEnd).
		Str("error", entry.LastError).
		Msg("Parked failed fetch window for replay")

	return nil
}

// Pending returns all parked windows for one machine, oldest first.
func (s *Store) Pending(ctx context.Context, machineID string) ([]Entry, error) {
	return s.scan(ctx, machinePrefix(machineID))
}

// All returns every parked window across all machines.
func (s *Store) All(ctx context.Context) ([]Entry, error) {
	return s.scan(ctx, []byte(keyPrefix))
}

// scan iterates entries under a key prefix inside a snapshot transaction.
func (s *Store) scan(ctx context.Context, prefix []byte) ([]Entry, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, ErrClosed
	}
	s.mu.RUnlock()

	var entries []Entry

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			item := it.Item()

			var entry Entry
			err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			})
			if err != nil {
				logging.Warn().Err(err).Str("key", string(item.Key())).Msg("Dead letter store failed to unmarshal entry")
				continue
			}

			entries = append(entries, entry)
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("iterate dead letter entries: %w", err)
	}

	// Oldest first so replay follows park order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})

	return entries, nil
}

// MarkAttempt records a failed replay attempt on an entry. The read, the
// counter bump, and the write happen in one transaction.
func (s *Store) MarkAttempt(ctx context.Context, machineID, entryID string, attemptErr error) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrClosed
	}
	s.mu.RUnlock()

	key := entryKey(machineID, entryID)

	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrEntryNotFound
		}
		if err != nil {
			return fmt.Errorf("get entry: %w", err)
		}

		var entry Entry
		err = item.Value(func(val []byte) error {
			return json.Unmarshal(val, &entry)
		})
		if err != nil {
			return fmt.Errorf("unmarshal entry: %w", err)
		}

		entry.Attempts++
		entry.LastTriedAt = time.Now().UTC()
		if attemptErr != nil {
			entry.LastError = attemptErr.Error()
		}

		data, err := json.Marshal(&entry)
		if err != nil {
			return fmt.Errorf("marshal entry: %w", err)
		}

		return txn.Set(key, data)
	})
	if err != nil {
		return err
	}

	return nil
}

// Remove deletes an entry after a successful replay.
func (s *Store) Remove(ctx context.Context, machineID, entryID string) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrClosed
	}
	s.mu.RUnlock()

	err := s.db.Update(func(txn *badger.Txn) error {
		key := entryKey(machineID, entryID)
		if _, err := txn.Get(key); errors.Is(err, badger.ErrKeyNotFound) {
			return ErrEntryNotFound
		}
		return txn.Delete(key)
	})
	if err != nil {
		return err
	}

	metrics.RecordDLQRemoval()
	return nil
}

// Stats returns current store statistics and refreshes the gauges.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	entries, err := s.All(ctx)
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{Entries: int64(len(entries))}
	if len(entries) > 0 {
		oldest := entries[0].CreatedAt
		stats.OldestCreatedAt = &oldest
	}

	oldestAge := 0.0
	if stats.OldestCreatedAt != nil {
		oldestAge = time.Since(*stats.OldestCreatedAt).Seconds()
	}
	metrics.UpdateDLQGauges(stats.Entries, oldestAge)

	return stats, nil
}

// Close shuts down the store. A close that hangs longer than 30 seconds is
// abandoned with an error rather than blocking shutdown.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		done <- s.db.Close()
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("close BadgerDB: %w", err)
		}
		return nil
	case <-time.After(30 * time.Second):
		return fmt.Errorf("badgerdb close timeout after 30s")
	}
}

// Errors
var (
	// ErrClosed is returned when the store is closed.
	ErrClosed = fmt.Errorf("dead letter store is closed")

	// ErrEntryNotFound is returned when an entry doesn't exist.
	ErrEntryNotFound = fmt.Errorf("entry not found")
)
