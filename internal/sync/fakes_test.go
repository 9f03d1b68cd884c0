// Millwright - Factory Floor Telemetry Sync and Live Notifications
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/millwright

package sync

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/millwright/internal/config"
	"github.com/tomtom215/millwright/internal/deadletter"
	"github.com/tomtom215/millwright/internal/models"
	"github.com/tomtom215/millwright/internal/notify"
	"github.com/tomtom215/millwright/internal/telemetry"
)

func checkNoError(t *testing.T, err error, context string) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: unexpected error: %v", context, err)
	}
}

func checkError(t *testing.T, err error, context string) {
	t.Helper()
	if err == nil {
		t.Fatalf("%s: expected error, got nil", context)
	}
}

// fakeStorage is an in-memory Storage implementation. Error fields, when
// set, are returned by the corresponding method to exercise failure paths.
type fakeStorage struct {
	mu         sync.Mutex
	periods    map[string]models.StatusPeriod
	watermarks map[string]time.Time

	utilisation float64

	insertErr    error
	existingErr  error
	latestErr    error
	utilErr      error
	watermarkErr error
	advanceErr   error

	insertCalls  int
	advanceCalls int
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{
		periods:    make(map[string]models.StatusPeriod),
		watermarks: make(map[string]time.Time),
	}
}

func (s *fakeStorage) InsertStatusPeriodsBatch(_ context.Context, periods []models.StatusPeriod) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.insertCalls++
	if s.insertErr != nil {
		return 0, 0, s.insertErr
	}

	inserted, duplicates := 0, 0
	for _, p := range periods {
		if _, exists := s.periods[p.ID]; exists {
			duplicates++
			continue
		}
		s.periods[p.ID] = p
		inserted++
	}
	return inserted, duplicates, nil
}

func (s *fakeStorage) ExistingPeriodIDs(_ context.Context, ids []string) (map[string]struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.existingErr != nil {
		return nil, s.existingErr
	}

	existing := make(map[string]struct{})
	for _, id := range ids {
		if _, ok := s.periods[id]; ok {
			existing[id] = struct{}{}
		}
	}
	return existing, nil
}

func (s *fakeStorage) LatestPeriod(_ context.Context, machineID string) (*models.StatusPeriod, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.latestErr != nil {
		return nil, s.latestErr
	}

	var latest *models.StatusPeriod
	for id := range s.periods {
		p := s.periods[id]
		if p.MachineID != machineID {
			continue
		}
		if latest == nil || p.EndedAt.After(latest.EndedAt) {
			latest = &p
		}
	}
	return latest, nil
}

func (s *fakeStorage) UtilisationSince(_ context.Context, _ string, _ time.Time) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.utilErr != nil {
		return 0, s.utilErr
	}
	return s.utilisation, nil
}

func (s *fakeStorage) GetWatermark(_ context.Context, machineID string) (*models.Watermark, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.watermarkErr != nil {
		return nil, s.watermarkErr
	}

	ts, ok := s.watermarks[machineID]
	if !ok {
		return nil, nil
	}
	return &models.Watermark{MachineID: machineID, LastEndTimestamp: ts}, nil
}

func (s *fakeStorage) AdvanceWatermark(_ context.Context, machineID string, ts time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.advanceCalls++
	if s.advanceErr != nil {
		return s.advanceErr
	}

	if current, ok := s.watermarks[machineID]; !ok || ts.After(current) {
		s.watermarks[machineID] = ts
	}
	return nil
}

func (s *fakeStorage) AllWatermarks(_ context.Context) ([]models.Watermark, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.watermarkErr != nil {
		return nil, s.watermarkErr
	}

	machineIDs := make([]string, 0, len(s.watermarks))
	for id := range s.watermarks {
		machineIDs = append(machineIDs, id)
	}
	sort.Strings(machineIDs)

	watermarks := make([]models.Watermark, 0, len(machineIDs))
	for _, id := range machineIDs {
		watermarks = append(watermarks, models.Watermark{MachineID: id, LastEndTimestamp: s.watermarks[id]})
	}
	return watermarks, nil
}

func (s *fakeStorage) periodCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.periods)
}

func (s *fakeStorage) watermark(machineID string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts, ok := s.watermarks[machineID]
	return ts, ok
}

func (s *fakeStorage) addPeriod(p models.StatusPeriod) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.periods[p.ID] = p
}

// captureNotifier records events handed to the pipeline's notifier.
type captureNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (n *captureNotifier) Notify(event notify.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *captureNotifier) byType(eventType notify.EventType) []notify.Event {
	n.mu.Lock()
	defer n.mu.Unlock()

	var matched []notify.Event
	for _, e := range n.events {
		if e.Type == eventType {
			matched = append(matched, e)
		}
	}
	return matched
}

func (n *captureNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.events)
}

// fakeTelemetry serves canned periods, selected by end timestamp falling
// inside the requested window. failFor, when set, can fail chosen windows.
type fakeTelemetry struct {
	mu      sync.Mutex
	periods []telemetry.Period
	failFor func(start, end time.Time) error
	calls   []fetchCall
}

type fetchCall struct {
	machineID string
	start     time.Time
	end       time.Time
}

func (f *fakeTelemetry) Ping(_ context.Context, _ string) error {
	return nil
}

func (f *fakeTelemetry) FetchStatusPeriods(ctx context.Context, machineID string, start, end time.Time) ([]telemetry.Period, error) {
	f.mu.Lock()
	f.calls = append(f.calls, fetchCall{machineID: machineID, start: start, end: end})
	failFor := f.failFor
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if failFor != nil {
		if err := failFor(start, end); err != nil {
			return nil, err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	var matched []telemetry.Period
	for _, p := range f.periods {
		if p.MachineID != machineID {
			continue
		}
		if p.EndTimestamp.After(start) && !p.EndTimestamp.After(end) {
			matched = append(matched, p)
		}
	}
	return matched, nil
}

func (f *fakeTelemetry) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// fakeDeadLetters is an in-memory DeadLetters implementation.
type fakeDeadLetters struct {
	mu      sync.Mutex
	entries map[string][]deadletter.Entry
	addErr  error
	nextID  int
}

func newFakeDeadLetters() *fakeDeadLetters {
	return &fakeDeadLetters{entries: make(map[string][]deadletter.Entry)}
}

func (d *fakeDeadLetters) Add(_ context.Context, entry *deadletter.Entry) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.addErr != nil {
		return d.addErr
	}

	d.nextID++
	entry.ID = fmt.Sprintf("dl-%d", d.nextID)
	entry.CreatedAt = time.Now().UTC()
	d.entries[entry.MachineID] = append(d.entries[entry.MachineID], *entry)
	return nil
}

func (d *fakeDeadLetters) Pending(_ context.Context, machineID string) ([]deadletter.Entry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]deadletter.Entry, len(d.entries[machineID]))
	copy(out, d.entries[machineID])
	return out, nil
}

func (d *fakeDeadLetters) MarkAttempt(_ context.Context, machineID, entryID string, attemptErr error) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for i := range d.entries[machineID] {
		if d.entries[machineID][i].ID != entryID {
			continue
		}
		d.entries[machineID][i].Attempts++
		d.entries[machineID][i].LastTriedAt = time.Now().UTC()
		if attemptErr != nil {
			d.entries[machineID][i].LastError = attemptErr.Error()
		}
		return nil
	}
	return deadletter.ErrEntryNotFound
}

func (d *fakeDeadLetters) Remove(_ context.Context, machineID, entryID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for i := range d.entries[machineID] {
		if d.entries[machineID][i].ID == entryID {
			d.entries[machineID] = append(d.entries[machineID][:i], d.entries[machineID][i+1:]...)
			return nil
		}
	}
	return deadletter.ErrEntryNotFound
}

func (d *fakeDeadLetters) count(machineID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries[machineID])
}

func (d *fakeDeadLetters) get(machineID string, index int) deadletter.Entry {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.entries[machineID][index]
}

// testConfig returns a two-machine configuration with request spacing
// disabled so tests run at full speed.
func testConfig() *config.Config {
	return &config.Config{
		Telemetry: config.TelemetryConfig{
			URL:             "http://telemetry.factory.local",
			APIKey:          "test-key",
			PageSize:        500,
			WindowSize:      24 * time.Hour,
			WindowDelay:     0,
			RequestTimeout:  5 * time.Second,
			InitialLookback: 72 * time.Hour,
		},
		Sync: config.SyncConfig{
			Interval:    time.Hour,
			Parallelism: 2,
		},
		Shifts: config.ShiftsConfig{
			DayStart: "06:00",
			DayEnd:   "18:00",
			Timezone: "UTC",
		},
		DeadLetter: config.DeadLetterConfig{
			Enabled:     true,
			MaxAttempts: 3,
		},
		Machines: []config.MachineConfig{
			{ID: "mill-1", Name: "Mill 1"},
			{ID: "mill-2", Name: "Mill 2"},
		},
	}
}

// rawPeriod builds a telemetry period ending at end with the given
// classification, one hour long.
func rawPeriod(id, machineID string, end time.Time, classification string) telemetry.Period {
	productivity := "productive"
	if classification != "production" {
		productivity = "non-productive"
	}
	return telemetry.Period{
		ID:             id,
		MachineID:      machineID,
		Name:           "Mill 1",
		StartTimestamp: end.Add(-time.Hour),
		EndTimestamp:   end,
		Classification: classification,
		Productivity:   productivity,
	}
}
