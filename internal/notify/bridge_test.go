// Millwright - Factory Floor Telemetry Sync and Live Notifications
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/millwright

package notify

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

// capturePublisher records published events and signals each delivery.
type capturePublisher struct {
	mu        sync.Mutex
	published []publishedEvent
	delivered chan struct{}
}

type publishedEvent struct {
	topic Topic
	event Event
}

func newCapturePublisher() *capturePublisher {
	return &capturePublisher{delivered: make(chan struct{}, 1024)}
}

func (p *capturePublisher) Publish(topic Topic, event Event) {
	p.mu.Lock()
	p.published = append(p.published, publishedEvent{topic: topic, event: event})
	p.mu.Unlock()
	p.delivered <- struct{}{}
}

func (p *capturePublisher) waitFor(t *testing.T, n int) []publishedEvent {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for i := 0; i < n; i++ {
		select {
		case <-p.delivered:
		case <-deadline:
			t.Fatalf("Timed out waiting for %d deliveries, got %d", n, i)
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]publishedEvent, len(p.published))
	copy(out, p.published)
	return out
}

func TestNewBridgeCapacity(t *testing.T) {
	tests := []struct {
		name     string
		capacity int
		expected int
	}{
		{"configured capacity", 64, 64},
		{"zero falls back to default", 0, DefaultBridgeCapacity},
		{"negative falls back to default", -5, DefaultBridgeCapacity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBridge(tt.capacity)
			if got := b.Capacity(); got != tt.expected {
				t.Errorf("Capacity() = %d, want %d", got, tt.expected)
			}
			if got := b.Len(); got != 0 {
				t.Errorf("Len() = %d, want 0", got)
			}
		})
	}
}

// TestBridgeBuffersBeforeRun verifies events raised before the consumer
// starts are delivered once it does.
func TestBridgeBuffersBeforeRun(t *testing.T) {
	b := NewBridge(16)

	b.Notify(NewSystemAlert("info", "first", "test"))
	b.Notify(NewSystemAlert("info", "second", "test"))
	b.Notify(NewSystemAlert("info", "third", "test"))

	if got := b.Len(); got != 3 {
		t.Fatalf("Len() = %d before Run, want 3", got)
	}

	pub := newCapturePublisher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- b.Run(ctx, pub) }()

	got := pub.waitFor(t, 3)
	for i, want := range []string{"first", "second", "third"} {
		payload, ok := got[i].event.Data.(SystemAlertPayload)
		if !ok {
			t.Fatalf("event %d data is %T, want SystemAlertPayload", i, got[i].event.Data)
		}
		if payload.Message != want {
			t.Errorf("event %d message = %q, want %q (order not preserved)", i, payload.Message, want)
		}
		if got[i].topic != TopicAll {
			t.Errorf("event %d topic = %q, want all", i, got[i].topic)
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

// TestBridgeDropsOldestWhenFull verifies the overflow policy: newest wins,
// oldest is evicted, Notify never blocks.
func TestBridgeDropsOldestWhenFull(t *testing.T) {
	b := NewBridge(2)

	b.Notify(NewSystemAlert("info", "one", "test"))
	b.Notify(NewSystemAlert("info", "two", "test"))

	// Queue is now full; this must evict "one" without blocking.
	notified := make(chan struct{})
	go func() {
		b.Notify(NewSystemAlert("info", "three", "test"))
		close(notified)
	}()
	select {
	case <-notified:
	case <-time.After(5 * time.Second):
		t.Fatal("Notify blocked on full queue")
	}

	pub := newCapturePublisher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = b.Run(ctx, pub) }()

	got := pub.waitFor(t, 2)
	messages := []string{
		got[0].event.Data.(SystemAlertPayload).Message,
		got[1].event.Data.(SystemAlertPayload).Message,
	}
	if messages[0] != "two" || messages[1] != "three" {
		t.Errorf("Surviving events = %v, want [two three]", messages)
	}
}

// TestBridgeRoutesByEventType verifies the consumer publishes each event to
// its type's default topic.
func TestBridgeRoutesByEventType(t *testing.T) {
	b := NewBridge(16)

	b.Notify(NewMachineStatusUpdate(MachineStatusPayload{MachineID: "mill-1", Status: "uptime"}))
	b.Notify(NewDashboardRefresh(DashboardRefreshPayload{Reason: "sync_complete"}))
	b.Notify(NewTicketCreated(TicketCreatedPayload{TicketID: "T-1", MachineID: "mill-1"}))

	pub := newCapturePublisher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = b.Run(ctx, pub) }()

	got := pub.waitFor(t, 3)
	wantTopics := []Topic{TopicMachines, TopicDashboard, TopicMaintenance}
	for i, want := range wantTopics {
		if got[i].topic != want {
			t.Errorf("event %d published to %q, want %q", i, got[i].topic, want)
		}
	}
}

// TestBridgeConcurrentNotify hammers Notify from many goroutines while the
// consumer runs. Every delivered event must be intact; total deliveries plus
// drops must equal total notifications.
func TestBridgeConcurrentNotify(t *testing.T) {
	b := NewBridge(32)
	pub := newCapturePublisher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = b.Run(ctx, pub) }()

	const producers = 8
	const perProducer = 50

	var wg sync.WaitGroup
	wg.Add(producers)
	for i := 0; i < producers; i++ {
		go func(id int) {
			defer wg.Done()
			for j := 0; j < perProducer; j++ {
				b.Notify(NewSystemAlert("info", fmt.Sprintf("p%d-%d", id, j), "test"))
			}
		}(i)
	}
	wg.Wait()

	// Drain whatever survived the burst.
	deadline := time.After(5 * time.Second)
	for b.Len() > 0 {
		select {
		case <-deadline:
			t.Fatalf("Queue never drained, %d left", b.Len())
		case <-time.After(10 * time.Millisecond):
		}
	}

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.published) == 0 {
		t.Fatal("No events delivered")
	}
	if len(pub.published) > producers*perProducer {
		t.Errorf("Delivered %d events, more than the %d produced", len(pub.published), producers*perProducer)
	}
	for _, p := range pub.published {
		if _, ok := p.event.Data.(SystemAlertPayload); !ok {
			t.Fatalf("Delivered event has payload %T, want SystemAlertPayload", p.event.Data)
		}
	}
}
