// Millwright - Factory Floor Telemetry Sync and Live Notifications
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/millwright

package sensor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/tomtom215/millwright/internal/config"
	"github.com/tomtom215/millwright/internal/models"
	"github.com/tomtom215/millwright/internal/notify"
)

type fakeCutStore struct {
	mu       sync.Mutex
	events   []*models.CutEvent
	inserted bool
	err      error
}

func (s *fakeCutStore) InsertCutEvent(_ context.Context, event *models.CutEvent) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	s.events = append(s.events, event)
	return s.inserted, nil
}

func (s *fakeCutStore) stored() []*models.CutEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.CutEvent, len(s.events))
	copy(out, s.events)
	return out
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (n *fakeNotifier) Notify(event notify.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *fakeNotifier) notified() []notify.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]notify.Event, len(n.events))
	copy(out, n.events)
	return out
}

func newTestListener(store *fakeCutStore, notifier *fakeNotifier) *Listener {
	cfg := config.NATSConfig{
		URL:         "nats://127.0.0.1:4222",
		Subject:     "plc.events.cuts",
		DurableName: "cut-ingestor",
		QueueGroup:  "cut-processors",
	}
	return NewListener(&cfg, store, notifier)
}

// ackState reports how the listener disposed of a message.
func ackState(t *testing.T, msg *message.Message) string {
	t.Helper()
	select {
	case <-msg.Acked():
		return "acked"
	case <-msg.Nacked():
		return "nacked"
	case <-time.After(time.Second):
		t.Fatal("Message neither acked nor nacked")
		return ""
	}
}

func TestHandleMessageStoresAndNotifies(t *testing.T) {
	store := &fakeCutStore{inserted: true}
	notifier := &fakeNotifier{}
	l := newTestListener(store, notifier)

	payload := []byte(`{"machine_id":"saw-01","timestamp_utc":"2026-08-24T10:15:00Z","cut_count":3}`)
	msg := message.NewMessage(watermill.NewUUID(), payload)
	l.handleMessage(context.Background(), msg)

	if got := ackState(t, msg); got != "acked" {
		t.Errorf("Message was %s, want acked", got)
	}

	events := store.stored()
	if len(events) != 1 {
		t.Fatalf("Stored %d events, want 1", len(events))
	}
	if events[0].MachineID != "saw-01" || events[0].CutCount != 3 {
		t.Errorf("Stored event = %+v", events[0])
	}

	notes := notifier.notified()
	if len(notes) != 1 {
		t.Fatalf("Notified %d events, want 1", len(notes))
	}
	if notes[0].Type != notify.EventProductionMetricUpdate {
		t.Errorf("Notification type = %q", notes[0].Type)
	}
	p, ok := notes[0].Data.(notify.ProductionMetricPayload)
	if !ok || p.Metric != "cut_count" || p.Value != 3 {
		t.Errorf("Notification payload = %+v", notes[0].Data)
	}

	if l.LastEventAt() == nil {
		t.Error("LastEventAt is nil after a stored event")
	}
}

func TestHandleMessageDuplicateSkipsNotification(t *testing.T) {
	store := &fakeCutStore{inserted: false}
	notifier := &fakeNotifier{}
	l := newTestListener(store, notifier)

	payload := []byte(`{"machine_id":"saw-01","timestamp_utc":"2026-08-24T10:15:00Z","cut_count":1}`)
	msg := message.NewMessage(watermill.NewUUID(), payload)
	l.handleMessage(context.Background(), msg)

	if got := ackState(t, msg); got != "acked" {
		t.Errorf("Duplicate was %s, want acked", got)
	}
	if notes := notifier.notified(); len(notes) != 0 {
		t.Errorf("Duplicate triggered %d notifications, want 0", len(notes))
	}
}

// TestHandleMessageZeroCount verifies a zero-count heartbeat sample is
// stored like any other event, not dropped as malformed.
func TestHandleMessageZeroCount(t *testing.T) {
	store := &fakeCutStore{inserted: true}
	notifier := &fakeNotifier{}
	l := newTestListener(store, notifier)

	payload := []byte(`{"machine_id":"saw-01","timestamp_utc":"2026-08-24T10:15:00Z","cut_count":0}`)
	msg := message.NewMessage(watermill.NewUUID(), payload)
	l.handleMessage(context.Background(), msg)

	if got := ackState(t, msg); got != "acked" {
		t.Errorf("Zero-count message was %s, want acked", got)
	}

	events := store.stored()
	if len(events) != 1 {
		t.Fatalf("Stored %d events, want 1", len(events))
	}
	if events[0].CutCount != 0 {
		t.Errorf("Stored cut count = %d, want 0", events[0].CutCount)
	}

	notes := notifier.notified()
	if len(notes) != 1 {
		t.Fatalf("Notified %d events, want 1", len(notes))
	}
	if p, ok := notes[0].Data.(notify.ProductionMetricPayload); !ok || p.Value != 0 {
		t.Errorf("Notification payload = %+v", notes[0].Data)
	}
}

func TestHandleMessageMalformed(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{name: "invalid json", payload: `{"machine_id":`},
		{name: "missing machine_id", payload: `{"timestamp_utc":"2026-08-24T10:15:00Z","cut_count":1}`},
		{name: "negative cut_count", payload: `{"machine_id":"saw-01","timestamp_utc":"2026-08-24T10:15:00Z","cut_count":-1}`},
		{name: "missing timestamp", payload: `{"machine_id":"saw-01","cut_count":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &fakeCutStore{inserted: true}
			notifier := &fakeNotifier{}
			l := newTestListener(store, notifier)

			msg := message.NewMessage(watermill.NewUUID(), []byte(tt.payload))
			l.handleMessage(context.Background(), msg)

			// Malformed payloads are acked, never redelivered.
			if got := ackState(t, msg); got != "acked" {
				t.Errorf("Malformed message was %s, want acked", got)
			}
			if events := store.stored(); len(events) != 0 {
				t.Errorf("Stored %d events from malformed payload", len(events))
			}
			if notes := notifier.notified(); len(notes) != 0 {
				t.Errorf("Notified %d events from malformed payload", len(notes))
			}
		})
	}
}

func TestHandleMessageStorageFailureNacks(t *testing.T) {
	store := &fakeCutStore{err: errors.New("database locked")}
	notifier := &fakeNotifier{}
	l := newTestListener(store, notifier)

	payload := []byte(`{"machine_id":"saw-01","timestamp_utc":"2026-08-24T10:15:00Z","cut_count":1}`)
	msg := message.NewMessage(watermill.NewUUID(), payload)
	l.handleMessage(context.Background(), msg)

	if got := ackState(t, msg); got != "nacked" {
		t.Errorf("Message was %s after storage failure, want nacked", got)
	}
	if notes := notifier.notified(); len(notes) != 0 {
		t.Errorf("Notified %d events despite storage failure", len(notes))
	}
	if l.LastEventAt() != nil {
		t.Error("LastEventAt set despite storage failure")
	}
}

func TestListenerInitialState(t *testing.T) {
	l := newTestListener(&fakeCutStore{}, &fakeNotifier{})

	if l.IsConnected() {
		t.Error("New listener reports connected")
	}
	if l.LastEventAt() != nil {
		t.Error("New listener reports a last event")
	}
	if l.String() != "sensor-listener" {
		t.Errorf("String() = %q", l.String())
	}
}
