// Millwright - Factory Floor Telemetry Sync and Live Notifications
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/millwright

package sync

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/millwright/internal/config"
	"github.com/tomtom215/millwright/internal/logging"
	"github.com/tomtom215/millwright/internal/models"
	"github.com/tomtom215/millwright/internal/notify"
)

// utilizationLookback is the window used for the utilisation figure attached
// to machine status events.
const utilizationLookback = 24 * time.Hour

// observation is the newest classification seen for a machine and the end
// timestamp of the period that carried it.
type observation struct {
	classification string
	endedAt        time.Time
}

// StatusTracker watches merged batches for classification changes and raises
// a machine status event when a machine moves between production, downtime,
// and idle. The first batch after startup primes the tracker from storage
// without emitting, so a restart does not replay the machine's current state
// as a transition.
type StatusTracker struct {
	store    Storage
	notifier Notifier
	logger   zerolog.Logger

	mu   sync.Mutex
	last map[string]observation
}

// NewStatusTracker builds a tracker that reads prior state from store and
// publishes transitions through notifier.
func NewStatusTracker(store Storage, notifier Notifier) *StatusTracker {
	return &StatusTracker{
		store:    store,
		notifier: notifier,
		logger:   logging.WithComponent("sync"),
		last:     make(map[string]observation),
	}
}

// Observe inspects a successfully merged batch for the given machine and
// emits a machine status event when its newest period carries a different
// classification than the last known one. Batches whose newest period is not
// newer than the recorded observation (replays of historical windows) are
// ignored.
//
// Concurrent calls for different machines are safe; calls for the same
// machine are expected to be serialized by the per-machine sync cycle.
func (t *StatusTracker) Observe(ctx context.Context, machine config.MachineConfig, batch []models.StatusPeriod) {
	if len(batch) == 0 {
		return
	}

	newest := batch[0]
	for _, p := range batch[1:] {
		if p.EndedAt.After(newest.EndedAt) {
			newest = p
		}
	}

	t.mu.Lock()
	prev, seen := t.last[machine.ID]
	t.mu.Unlock()

	if !seen {
		prev = t.storedObservation(ctx, machine.ID)
	}

	if !newest.EndedAt.After(prev.endedAt) {
		t.remember(machine.ID, prev)
		return
	}

	t.remember(machine.ID, observation{
		classification: newest.Classification,
		endedAt:        newest.EndedAt,
	})

	if prev.classification == newest.Classification {
		return
	}

	t.notifier.Notify(notify.NewMachineStatusUpdate(notify.MachineStatusPayload{
		MachineID:      machine.ID,
		Name:           machine.Name,
		Status:         newest.Classification,
		PreviousStatus: prev.classification,
		Utilization:    t.utilization(ctx, machine.ID),
		Since:          newest.StartedAt,
	}))

	t.logger.Info().
		Str("machine_id", machine.ID).
		Str("status", newest.Classification).
		Str("previous_status", prev.classification).
		Msg("Machine status changed")
}

// storedObservation loads the newest stored period to prime transition
// detection after a restart. Errors degrade to an empty observation; the
// worst case is one missed or spurious transition event, never a failed
// sync.
func (t *StatusTracker) storedObservation(ctx context.Context, machineID string) observation {
	latest, err := t.store.LatestPeriod(ctx, machineID)
	if err != nil {
		t.logger.Warn().
			Err(err).
			Str("machine_id", machineID).
			Msg("Failed to load latest period for status tracking")
		return observation{}
	}
	if latest == nil {
		return observation{}
	}

	return observation{
		classification: latest.Classification,
		endedAt:        latest.EndedAt,
	}
}

func (t *StatusTracker) remember(machineID string, obs observation) {
	t.mu.Lock()
	t.last[machineID] = obs
	t.mu.Unlock()
}

// utilization computes the rolling utilisation figure attached to status
// events. A query failure is reported as zero rather than failing the event.
func (t *StatusTracker) utilization(ctx context.Context, machineID string) float64 {
	value, err := t.store.UtilisationSince(ctx, machineID, time.Now().UTC().Add(-utilizationLookback))
	if err != nil {
		t.logger.Warn().
			Err(err).
			Str("machine_id", machineID).
			Msg("Failed to compute utilisation for status event")
		return 0
	}
	return value
}
