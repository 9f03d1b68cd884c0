// Millwright - Factory Floor Telemetry Sync and Live Notifications
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/millwright

package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/millwright/internal/config"
	"github.com/tomtom215/millwright/internal/logging"
	"github.com/tomtom215/millwright/internal/metrics"
	"github.com/tomtom215/millwright/internal/models"
	"github.com/tomtom215/millwright/internal/notify"
	"github.com/tomtom215/millwright/internal/telemetry"
)

// Merger turns a fetched batch into stored rows: it derives reporting
// fields, drops off-shift periods, deduplicates within the batch and against
// storage, inserts the survivors in one transaction, and advances the
// watermark when at least one new row landed.
type Merger struct {
	store    Storage
	deriver  *Deriver
	tracker  *StatusTracker
	notifier Notifier
	logger   zerolog.Logger
}

// NewMerger builds a Merger. The tracker and notifier are invoked only after
// a successful insert, so downstream consumers never see data that was not
// stored.
func NewMerger(store Storage, deriver *Deriver, tracker *StatusTracker, notifier Notifier) *Merger {
	return &Merger{
		store:    store,
		deriver:  deriver,
		tracker:  tracker,
		notifier: notifier,
		logger:   logging.WithComponent("sync"),
	}
}

// MergeResult describes what happened to one fetched batch.
type MergeResult struct {
	// Fetched counts every period handed to Merge, before any filtering.
	Fetched int
	// Filtered counts off-shift periods dropped before derivation.
	Filtered int
	// BatchDuplicates counts repeated IDs within the batch itself; the
	// first occurrence wins.
	BatchDuplicates int
	// ExistingDuplicates counts periods already present in storage.
	ExistingDuplicates int
	// Inserted counts rows actually written.
	Inserted int
	// MaxEnd is the maximum end timestamp across the whole fetched batch,
	// including filtered and duplicate periods.
	MaxEnd time.Time
	// Advanced reports whether the watermark moved.
	Advanced bool
}

// Merge processes one fetched batch for a machine. An empty batch is a
// no-op. A storage failure leaves the watermark untouched and is returned to
// the caller; overlapping re-fetches on the next cycle are resolved by the
// duplicate checks, so re-running a failed merge is always safe.
func (m *Merger) Merge(ctx context.Context, machine config.MachineConfig, fetched []telemetry.Period) (*MergeResult, error) {
	return m.MergeBounded(ctx, machine, fetched, time.Time{})
}

// MergeBounded is Merge with a ceiling on the watermark advance. A cycle
// that skipped a failed fetch window passes the earliest failed window
// start here, so the watermark never moves past a range that was not
// fetched and the next cycle re-fetches it. A zero ceiling leaves the
// advance unbounded.
func (m *Merger) MergeBounded(ctx context.Context, machine config.MachineConfig, fetched []telemetry.Period, ceiling time.Time) (*MergeResult, error) {
	result := &MergeResult{Fetched: len(fetched)}
	if len(fetched) == 0 {
		return result, nil
	}

	derived := make([]models.StatusPeriod, 0, len(fetched))
	seen := make(map[string]struct{}, len(fetched))

	for i := range fetched {
		p := &fetched[i]

		// The watermark target covers the whole fetched range, not just
		// the rows that survive filtering: a filtered period still proves
		// the range was fetched.
		if p.EndTimestamp.After(result.MaxEnd) {
			result.MaxEnd = p.EndTimestamp.UTC()
		}

		if m.deriver.IsOffShift(p) {
			result.Filtered++
			continue
		}

		if _, dup := seen[p.ID]; dup {
			result.BatchDuplicates++
			continue
		}
		seen[p.ID] = struct{}{}

		derived = append(derived, m.deriver.Derive(p))
	}

	ids := make([]string, len(derived))
	for i := range derived {
		ids[i] = derived[i].ID
	}

	existing, err := m.store.ExistingPeriodIDs(ctx, ids)
	if err != nil {
		return result, fmt.Errorf("failed to check existing period IDs: %w", err)
	}

	toInsert := make([]models.StatusPeriod, 0, len(derived))
	for _, p := range derived {
		if _, ok := existing[p.ID]; ok {
			result.ExistingDuplicates++
			continue
		}
		toInsert = append(toInsert, p)
	}

	if len(toInsert) > 0 {
		inserted, duplicates, err := m.store.InsertStatusPeriodsBatch(ctx, toInsert)
		if err != nil {
			return result, fmt.Errorf("failed to insert status periods: %w", err)
		}
		// Rows that appeared between the existence check and the insert
		// surface here as conflict skips.
		result.Inserted = inserted
		result.ExistingDuplicates += duplicates
	}

	metrics.RecordMergeBatch(result.Inserted, result.BatchDuplicates, result.ExistingDuplicates, result.Filtered)

	if result.Inserted > 0 {
		target := result.MaxEnd
		if !ceiling.IsZero() && target.After(ceiling) {
			target = ceiling
		}
		if err := m.advanceWatermark(ctx, machine.ID, target, result); err != nil {
			return result, err
		}

		m.tracker.Observe(ctx, machine, derived)
		m.notifier.Notify(notify.NewDashboardRefresh(notify.DashboardRefreshPayload{
			Reason:          "sync_completed",
			MachinesSynced:  1,
			RecordsIngested: result.Inserted,
		}))
	}

	m.logger.Debug().
		Str("machine_id", machine.ID).
		Int("fetched", result.Fetched).
		Int("inserted", result.Inserted).
		Int("filtered", result.Filtered).
		Int("batch_duplicates", result.BatchDuplicates).
		Int("existing_duplicates", result.ExistingDuplicates).
		Bool("advanced", result.Advanced).
		Msg("Merged status period batch")

	return result, nil
}

// advanceWatermark moves the machine's watermark to target: the batch's
// maximum end timestamp, capped by the caller when part of the range was
// not fetched. The stored value never moves backward: a replayed historical
// window inserts its rows but leaves the watermark where it is.
func (m *Merger) advanceWatermark(ctx context.Context, machineID string, target time.Time, result *MergeResult) error {
	wm, err := m.store.GetWatermark(ctx, machineID)
	if err != nil {
		return fmt.Errorf("failed to read watermark: %w", err)
	}

	if wm != nil && !target.After(wm.LastEndTimestamp) {
		return nil
	}

	if err := m.store.AdvanceWatermark(ctx, machineID, target); err != nil {
		return fmt.Errorf("failed to advance watermark: %w", err)
	}

	result.Advanced = true
	metrics.RecordWatermarkAdvance(machineID, target)
	return nil
}
