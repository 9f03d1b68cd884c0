// Millwright - Factory Floor Telemetry Sync and Live Notifications
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/millwright

package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/millwright/internal/config"
	"github.com/tomtom215/millwright/internal/deadletter"
	"github.com/tomtom215/millwright/internal/logging"
	"github.com/tomtom215/millwright/internal/metrics"
	"github.com/tomtom215/millwright/internal/models"
	"github.com/tomtom215/millwright/internal/notify"
	"github.com/tomtom215/millwright/internal/telemetry"
)

// Per-machine sync states as reported by Status.
const (
	StateIdle     = "IDLE"
	StateFetching = "FETCHING"
	StateMerging  = "MERGING"
	StateFailed   = "FAILED"
)

// Storage is the subset of the store the sync pipeline depends on.
type Storage interface {
	InsertStatusPeriodsBatch(ctx context.Context, periods []models.StatusPeriod) (int, int, error)
	ExistingPeriodIDs(ctx context.Context, ids []string) (map[string]struct{}, error)
	LatestPeriod(ctx context.Context, machineID string) (*models.StatusPeriod, error)
	UtilisationSince(ctx context.Context, machineID string, since time.Time) (float64, error)
	GetWatermark(ctx context.Context, machineID string) (*models.Watermark, error)
	AdvanceWatermark(ctx context.Context, machineID string, ts time.Time) error
	AllWatermarks(ctx context.Context) ([]models.Watermark, error)
}

// Notifier receives events produced by the sync pipeline. Implementations
// must not block: the bridge buffers and drops rather than stalling a sync
// cycle.
type Notifier interface {
	Notify(event notify.Event)
}

// DeadLetters parks failed fetch windows for replay on later cycles.
type DeadLetters interface {
	Add(ctx context.Context, entry *deadletter.Entry) error
	Pending(ctx context.Context, machineID string) ([]deadletter.Entry, error)
	MarkAttempt(ctx context.Context, machineID, entryID string, attemptErr error) error
	Remove(ctx context.Context, machineID, entryID string) error
}

// machineState carries one machine's cycle serializer and status snapshot.
// The snapshot fields are guarded by the manager's mu; cycleMu is held for
// the duration of a sync cycle and is what keeps concurrent triggers for the
// same machine from interleaving.
type machineState struct {
	cycleMu sync.Mutex

	cfg config.MachineConfig

	state     string
	lastErr   error
	lastSync  time.Time
	watermark time.Time
	inserted  int64
}

// Manager owns the sync lifecycle: the interval loop, manual triggers, the
// per-machine state machine, and the status snapshot served by the API.
type Manager struct {
	store       Storage
	fetcher     *Fetcher
	merger      *Merger
	deadLetters DeadLetters
	cfg         *config.Config
	machines    []config.MachineConfig
	logger      zerolog.Logger

	// states is populated once at construction; the map itself is never
	// written afterwards, only the fields of its values.
	states map[string]*machineState

	mu        sync.RWMutex
	running   bool
	stopChan  chan struct{}
	lastCycle time.Time

	// syncMu serializes whole cycles across the interval loop, manual
	// triggers, and the startup sync.
	syncMu sync.Mutex
	wg     sync.WaitGroup
}

// NewManager builds a sync manager for every configured machine. deadLetters
// may be nil, which disables window parking and replay.
func NewManager(store Storage, client telemetry.Client, notifier Notifier, deadLetters DeadLetters, cfg *config.Config) (*Manager, error) {
	deriver, err := NewDeriver(&cfg.Shifts)
	if err != nil {
		return nil, fmt.Errorf("failed to build shift deriver: %w", err)
	}

	tracker := NewStatusTracker(store, notifier)

	machines := cfg.GetMachines()
	states := make(map[string]*machineState, len(machines))
	for _, mc := range machines {
		states[mc.ID] = &machineState{cfg: mc, state: StateIdle}
	}

	m := &Manager{
		store:       store,
		fetcher:     NewFetcher(client, &cfg.Telemetry),
		merger:      NewMerger(store, deriver, tracker, notifier),
		deadLetters: deadLetters,
		cfg:         cfg,
		machines:    machines,
		logger:      logging.WithComponent("sync"),
		states:      states,
	}

	m.logger.Info().
		Int("machines", len(machines)).
		Dur("interval", cfg.Sync.Interval).
		Int("parallelism", cfg.Sync.Parallelism).
		Bool("dead_letter_enabled", deadLetters != nil).
		Msg("Sync manager configured")

	return m, nil
}

// Start launches the interval loop and, when configured, an immediate
// startup sync. It returns an error if the manager is already running.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return fmt.Errorf("sync manager is already running")
	}
	m.running = true
	m.stopChan = make(chan struct{})
	m.mu.Unlock()

	m.seedWatermarks(ctx)

	if m.cfg.Sync.RunOnStartup {
		m.wg.Add(1)
		go m.performInitialSync(ctx)
	}

	m.wg.Add(1)
	go m.runLoop(ctx)

	m.logger.Info().Msg("Sync manager started")
	return nil
}

// Stop halts the interval loop and waits for any in-flight cycle to finish.
// It returns an error if the manager is not running.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return fmt.Errorf("sync manager is not running")
	}
	m.running = false
	close(m.stopChan)
	m.mu.Unlock()

	m.wg.Wait()
	m.logger.Info().Msg("Sync manager stopped")
	return nil
}

// IsRunning reports whether the interval loop is active.
func (m *Manager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

// TriggerSync runs a full cycle immediately, waiting for any cycle already
// in flight to finish first.
func (m *Manager) TriggerSync(ctx context.Context) error {
	m.syncMu.Lock()
	defer m.syncMu.Unlock()
	return m.RunOnce(ctx)
}

// performInitialSync runs the startup cycle under the same serialization as
// scheduled cycles, so a short sync interval cannot overlap it.
func (m *Manager) performInitialSync(ctx context.Context) {
	defer m.wg.Done()

	m.syncMu.Lock()
	defer m.syncMu.Unlock()

	m.logger.Info().Msg("Running initial sync")
	if err := m.RunOnce(ctx); err != nil {
		m.logger.Error().Err(err).Msg("Initial sync completed with failures")
	}
}

// runLoop fires a cycle every configured interval until Stop is called or
// the context is cancelled.
func (m *Manager) runLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.Sync.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info().Msg("Sync loop stopping: context cancelled")
			return
		case <-m.stopChan:
			m.logger.Info().Msg("Sync loop stopping")
			return
		case <-ticker.C:
			m.syncMu.Lock()
			err := m.RunOnce(ctx)
			m.syncMu.Unlock()
			if err != nil {
				m.logger.Error().Err(err).Msg("Scheduled sync cycle failed")
			}
		}
	}
}

// RunOnce syncs every configured machine, at most Parallelism at a time. One
// machine's failure never stops the others; the joined error reports every
// machine that failed.
func (m *Manager) RunOnce(ctx context.Context) error {
	start := time.Now()

	parallelism := m.cfg.Sync.Parallelism
	if parallelism < 1 {
		parallelism = 1
	}

	sem := make(chan struct{}, parallelism)
	errs := make([]error, len(m.machines))

	var wg sync.WaitGroup
	for i, mc := range m.machines {
		wg.Add(1)
		go func(i int, mc config.MachineConfig) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			errs[i] = m.syncMachine(ctx, mc)
		}(i, mc)
	}
	wg.Wait()

	m.mu.Lock()
	m.lastCycle = time.Now().UTC()
	m.mu.Unlock()

	err := errors.Join(errs...)
	elapsed := time.Since(start)
	if err != nil {
		m.logger.Error().
			Err(err).
			Dur("elapsed", elapsed).
			Msg("Sync cycle completed with failures")
	} else {
		m.logger.Info().
			Dur("elapsed", elapsed).
			Int("machines", len(m.machines)).
			Msg("Sync cycle completed")
	}

	return err
}

// syncMachine runs one machine's cycle: dead letter replay, fetch from the
// watermark, merge, advance. The cycle mutex serializes cycles for the same
// machine across the interval loop and manual triggers.
func (m *Manager) syncMachine(ctx context.Context, mc config.MachineConfig) (err error) {
	st := m.states[mc.ID]

	st.cycleMu.Lock()
	defer st.cycleMu.Unlock()

	start := time.Now()
	defer func() {
		metrics.RecordSyncRun(mc.ID, time.Since(start), err)
	}()

	if m.deadLetters != nil {
		m.replayDeadLetters(ctx, mc)
	}

	m.setState(mc.ID, StateFetching)

	wm, err := m.store.GetWatermark(ctx, mc.ID)
	if err != nil {
		err = fmt.Errorf("machine %s: failed to read watermark: %w", mc.ID, err)
		m.failMachine(mc.ID, err)
		return err
	}

	now := time.Now().UTC()
	fetchStart := now.Add(-m.cfg.Telemetry.InitialLookback)
	if wm != nil {
		// One second past the watermark: the period ending exactly at the
		// watermark is already stored.
		fetchStart = wm.LastEndTimestamp.Add(time.Second)
	}

	fetched, failedWindows, err := m.fetcher.FetchRange(ctx, mc.ID, fetchStart, now)
	if err != nil {
		err = fmt.Errorf("machine %s: fetch aborted: %w", mc.ID, err)
		m.failMachine(mc.ID, err)
		return err
	}

	m.parkFailedWindows(ctx, mc, failedWindows)

	m.setState(mc.ID, StateMerging)

	// The watermark advance is capped at the earliest failed window start:
	// newer windows are still merged, but the skipped range stays ahead of
	// the watermark and is re-fetched next cycle.
	result, err := m.merger.MergeBounded(ctx, mc, fetched, earliestWindowStart(failedWindows))
	if err != nil {
		err = fmt.Errorf("machine %s: merge failed: %w", mc.ID, err)
		m.failMachine(mc.ID, err)
		return err
	}

	m.completeMachine(mc.ID, result)
	return nil
}

// replayDeadLetters retries this machine's parked fetch windows. A window
// that replays cleanly is removed; a failed replay records the attempt.
// Entries past the attempt cap are left for operator inspection and skipped.
func (m *Manager) replayDeadLetters(ctx context.Context, mc config.MachineConfig) {
	pending, err := m.deadLetters.Pending(ctx, mc.ID)
	if err != nil {
		m.logger.Error().
			Err(err).
			Str("machine_id", mc.ID).
			Msg("Failed to list pending dead letter windows")
		return
	}

	for i := range pending {
		if ctx.Err() != nil {
			return
		}

		entry := &pending[i]
		if entry.Attempts >= m.cfg.DeadLetter.MaxAttempts {
			continue
		}

		if err := m.replayEntry(ctx, mc, entry); err != nil {
			metrics.RecordDLQRetry(false)
			if markErr := m.deadLetters.MarkAttempt(ctx, mc.ID, entry.ID, err); markErr != nil {
				m.logger.Error().
					Err(markErr).
					Str("machine_id", mc.ID).
					Str("entry_id", entry.ID).
					Msg("Failed to record dead letter replay attempt")
			}
			m.logger.Warn().
				Err(err).
				Str("machine_id", mc.ID).
				Str("entry_id", entry.ID).
				Int("attempts", entry.Attempts+1).
				Msg("Dead letter window replay failed")
			continue
		}

		metrics.RecordDLQRetry(true)
		if err := m.deadLetters.Remove(ctx, mc.ID, entry.ID); err != nil {
			m.logger.Error().
				Err(err).
				Str("machine_id", mc.ID).
				Str("entry_id", entry.ID).
				Msg("Failed to remove replayed dead letter entry")
			continue
		}

		m.logger.Info().
			Str("machine_id", mc.ID).
			Str("entry_id", entry.ID).
			Time("window_start", entry.WindowStart).
			Time("window_end", entry.WindowEnd).
			Msg("Replayed dead letter window")
	}
}

// replayEntry fetches and merges one parked window.
func (m *Manager) replayEntry(ctx context.Context, mc config.MachineConfig, entry *deadletter.Entry) error {
	items, err := m.fetcher.FetchWindow(ctx, mc.ID, Window{Start: entry.WindowStart, End: entry.WindowEnd})
	if err != nil {
		return err
	}

	_, err = m.merger.Merge(ctx, mc, items)
	return err
}

// earliestWindowStart returns the start of the oldest failed window, the
// ceiling for the cycle's watermark advance. Zero when every window
// fetched cleanly.
func earliestWindowStart(windows []FailedWindow) time.Time {
	var earliest time.Time
	for _, fw := range windows {
		if earliest.IsZero() || fw.Start.Before(earliest) {
			earliest = fw.Start
		}
	}
	return earliest
}

// parkFailedWindows hands skipped fetch windows to the dead letter store
// for tracked, attempt-bounded replay. The watermark is held at the
// earliest failed start either way, so with the store disabled the next
// cycle's re-fetch still covers the range.
func (m *Manager) parkFailedWindows(ctx context.Context, mc config.MachineConfig, windows []FailedWindow) {
	if m.deadLetters == nil || len(windows) == 0 {
		return
	}

	for _, fw := range windows {
		entry := &deadletter.Entry{
			MachineID:   mc.ID,
			WindowStart: fw.Start,
			WindowEnd:   fw.End,
			LastError:   fw.Err.Error(),
		}
		if err := m.deadLetters.Add(ctx, entry); err != nil {
			m.logger.Error().
				Err(err).
				Str("machine_id", mc.ID).
				Time("window_start", fw.Start).
				Time("window_end", fw.End).
				Msg("Failed to park fetch window in dead letter store")
		}
	}
}

// seedWatermarks restores the status snapshot and watermark gauges from
// storage so a restart does not report blank watermarks until the first
// cycle completes. Failures degrade the snapshot, never the manager.
func (m *Manager) seedWatermarks(ctx context.Context) {
	watermarks, err := m.store.AllWatermarks(ctx)
	if err != nil {
		m.logger.Warn().Err(err).Msg("Failed to seed watermarks from storage")
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, wm := range watermarks {
		if st, ok := m.states[wm.MachineID]; ok {
			st.watermark = wm.LastEndTimestamp
			metrics.SetWatermark(wm.MachineID, wm.LastEndTimestamp)
		}
	}
}

func (m *Manager) setState(machineID, state string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.states[machineID]; ok {
		st.state = state
	}
}

// failMachine marks a machine FAILED. The state is not terminal: the next
// cycle moves it back to FETCHING and a successful cycle clears the error.
func (m *Manager) failMachine(machineID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.states[machineID]; ok {
		st.state = StateFailed
		st.lastErr = err
	}
}

func (m *Manager) completeMachine(machineID string, result *MergeResult) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.states[machineID]
	if !ok {
		return
	}

	st.state = StateIdle
	st.lastErr = nil
	st.lastSync = time.Now().UTC()
	st.inserted += int64(result.Inserted)
	if result.Advanced {
		st.watermark = result.MaxEnd
	}
}

// Status returns a point-in-time snapshot of every machine's sync state in
// configured order.
func (m *Manager) Status() models.SyncStatusResponse {
	m.mu.RLock()
	defer m.mu.RUnlock()

	machines := make([]models.MachineSyncStatus, 0, len(m.machines))
	for _, mc := range m.machines {
		st := m.states[mc.ID]

		status := models.MachineSyncStatus{
			MachineID:       mc.ID,
			Name:            mc.Name,
			State:           st.state,
			PeriodsInserted: st.inserted,
		}
		if !st.watermark.IsZero() {
			wm := st.watermark
			status.Watermark = &wm
		}
		if !st.lastSync.IsZero() {
			ls := st.lastSync
			status.LastSyncAt = &ls
		}
		if st.lastErr != nil {
			status.LastError = st.lastErr.Error()
		}

		machines = append(machines, status)
	}

	return models.SyncStatusResponse{
		Running:  m.running,
		Interval: m.cfg.Sync.Interval.String(),
		Machines: machines,
	}
}

// LastSyncTime returns when the most recent cycle finished, or nil before
// the first cycle.
func (m *Manager) LastSyncTime() *time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.lastCycle.IsZero() {
		return nil
	}
	t := m.lastCycle
	return &t
}
