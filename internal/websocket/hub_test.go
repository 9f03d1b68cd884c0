// Millwright - Factory Floor Telemetry Sync and Live Notifications
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/millwright

package websocket

import (
	"bytes"
	"context"
	"reflect"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"github.com/tomtom215/millwright/internal/notify"
)

// newTestClient builds a client without a transport; everything the hub does
// to a client goes through its send buffer.
func newTestClient(hub *Hub, id string, buffer int) *Client {
	return &Client{id: id, hub: hub, send: make(chan []byte, buffer)}
}

// drainOne pops the next frame from a client's buffer and decodes it.
func drainOne(t *testing.T, c *Client) serverMessage {
	t.Helper()
	select {
	case payload := <-c.send:
		var msg serverMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			t.Fatalf("Failed to decode frame: %v", err)
		}
		return msg
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for frame")
		return serverMessage{}
	}
}

func TestHubAddClientSendsWelcome(t *testing.T) {
	h := NewHub(NewRegistry())
	c := newTestClient(h, "c1", 8)
	h.addClient(c)

	msg := drainOne(t, c)
	if msg.Type != "connection_established" {
		t.Errorf("Type = %q, want connection_established", msg.Type)
	}
	if msg.ConnectionID != "c1" {
		t.Errorf("ConnectionID = %q, want c1", msg.ConnectionID)
	}
	if !reflect.DeepEqual(msg.Subscriptions, []string{"all"}) {
		t.Errorf("Subscriptions = %v, want [all]", msg.Subscriptions)
	}
	if h.ClientCount() != 1 {
		t.Errorf("ClientCount = %d, want 1", h.ClientCount())
	}
}

func TestHubDeliverTopicFiltering(t *testing.T) {
	h := NewHub(NewRegistry())

	machines := newTestClient(h, "machines-only", 8)
	production := newTestClient(h, "production-only", 8)
	everything := newTestClient(h, "all-default", 8)
	for _, c := range []*Client{machines, production, everything} {
		h.addClient(c)
		drainOne(t, c) // welcome
	}
	h.registry.Unsubscribe(machines.id, "all")
	h.registry.Subscribe(machines.id, "machines")
	h.registry.Unsubscribe(production.id, "all")
	h.registry.Subscribe(production.id, "production")

	event := notify.NewMachineStatusUpdate(notify.MachineStatusPayload{MachineID: "saw-01"})
	h.Publish(event.Topic(), event)
	h.deliver(<-h.broadcast)

	got := drainOne(t, machines)
	if got.Type != "machine_status_update" {
		t.Errorf("Machines subscriber got %q, want machine_status_update", got.Type)
	}
	all := drainOne(t, everything)
	if all.Type != "machine_status_update" {
		t.Errorf("All subscriber got %q, want machine_status_update", all.Type)
	}
	select {
	case payload := <-production.send:
		t.Errorf("Production-only subscriber received %s", payload)
	default:
	}
}

func TestHubDeliverSerializesOnce(t *testing.T) {
	h := NewHub(NewRegistry())
	c1 := newTestClient(h, "c1", 8)
	c2 := newTestClient(h, "c2", 8)
	h.addClient(c1)
	h.addClient(c2)
	<-c1.send
	<-c2.send

	h.Publish(notify.TopicAll, notify.NewSystemAlert("info", "hello", "test"))
	h.deliver(<-h.broadcast)

	p1 := <-c1.send
	p2 := <-c2.send
	if !bytes.Equal(p1, p2) {
		t.Errorf("Recipients got different payloads:\n%s\n%s", p1, p2)
	}
	// Same backing array proves the marshal happened exactly once.
	if &p1[0] != &p2[0] {
		t.Error("Expected both recipients to share one serialized payload")
	}
}

func TestHubDeliverNoDuplicateForAllPlusTopic(t *testing.T) {
	h := NewHub(NewRegistry())
	c := newTestClient(h, "c1", 8)
	h.addClient(c)
	<-c.send
	h.registry.Subscribe(c.id, "machines")

	event := notify.NewMachineStatusUpdate(notify.MachineStatusPayload{MachineID: "saw-01"})
	h.Publish(event.Topic(), event)
	h.deliver(<-h.broadcast)

	<-c.send
	select {
	case <-c.send:
		t.Error("Client subscribed to topic and all received the event twice")
	default:
	}
}

func TestHubDeliverRemovesFullClient(t *testing.T) {
	h := NewHub(NewRegistry())
	stuck := newTestClient(h, "a-stuck", 1)
	healthy := newTestClient(h, "b-healthy", 8)
	h.addClient(stuck)
	h.addClient(healthy)
	<-healthy.send
	// The welcome frame fills the stuck client's one-slot buffer.

	h.Publish(notify.TopicAll, notify.NewSystemAlert("info", "first", "test"))
	h.deliver(<-h.broadcast)

	if h.ClientCount() != 1 {
		t.Fatalf("ClientCount = %d, want 1 after removing stuck client", h.ClientCount())
	}
	if topics := h.registry.TopicsOf(stuck.id); topics != nil {
		t.Errorf("Stuck client still registered with topics %v", topics)
	}
	if msg := drainOne(t, healthy); msg.Type != "system_alert" {
		t.Errorf("Healthy sibling got %q, want system_alert", msg.Type)
	}

	// Further broadcasts reach the survivor only.
	h.Publish(notify.TopicAll, notify.NewSystemAlert("info", "second", "test"))
	h.deliver(<-h.broadcast)
	if msg := drainOne(t, healthy); msg.Type != "system_alert" {
		t.Errorf("Healthy sibling got %q after removal, want system_alert", msg.Type)
	}
}

func TestHubPublishDropsWhenQueueFull(t *testing.T) {
	h := NewHub(NewRegistry())
	for i := 0; i < cap(h.broadcast)+10; i++ {
		h.Publish(notify.TopicAll, notify.NewSystemAlert("info", "flood", "test"))
	}
	if len(h.broadcast) != cap(h.broadcast) {
		t.Errorf("Broadcast queue length = %d, want %d", len(h.broadcast), cap(h.broadcast))
	}
}

func TestHubHandleClientMessage(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantType string
		check    func(t *testing.T, msg serverMessage)
	}{
		{
			name:     "subscribe valid",
			raw:      `{"type":"subscribe","subscriptions":["machines","maintenance"]}`,
			wantType: "subscription_confirmed",
			check: func(t *testing.T, msg serverMessage) {
				if !reflect.DeepEqual(msg.Accepted, []string{"machines", "maintenance"}) {
					t.Errorf("Accepted = %v", msg.Accepted)
				}
			},
		},
		{
			name:     "subscribe unknown topic",
			raw:      `{"type":"subscribe","subscriptions":["bogus"]}`,
			wantType: "subscription_confirmed",
			check: func(t *testing.T, msg serverMessage) {
				if !reflect.DeepEqual(msg.Rejected, []string{"bogus"}) {
					t.Errorf("Rejected = %v", msg.Rejected)
				}
			},
		},
		{
			name:     "unsubscribe",
			raw:      `{"type":"unsubscribe","subscriptions":["all"]}`,
			wantType: "unsubscription_confirmed",
			check: func(t *testing.T, msg serverMessage) {
				if len(msg.Subscriptions) != 0 {
					t.Errorf("Subscriptions = %v, want empty", msg.Subscriptions)
				}
			},
		},
		{
			name:     "ping echoes timestamp",
			raw:      `{"type":"ping","timestamp":1724489000}`,
			wantType: "pong",
			check: func(t *testing.T, msg serverMessage) {
				if string(msg.Echo) != "1724489000" {
					t.Errorf("Echo = %s, want 1724489000", msg.Echo)
				}
			},
		},
		{
			name:     "get_status",
			raw:      `{"type":"get_status"}`,
			wantType: "status_response",
		},
		{
			name:     "malformed json",
			raw:      `{"type":`,
			wantType: "error",
			check: func(t *testing.T, msg serverMessage) {
				if msg.Code != "INVALID_MESSAGE" {
					t.Errorf("Code = %q, want INVALID_MESSAGE", msg.Code)
				}
			},
		},
		{
			name:     "unknown type",
			raw:      `{"type":"teleport"}`,
			wantType: "error",
			check: func(t *testing.T, msg serverMessage) {
				if msg.Code != "UNKNOWN_TYPE" {
					t.Errorf("Code = %q, want UNKNOWN_TYPE", msg.Code)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHub(NewRegistry())
			c := newTestClient(h, "c1", 8)
			h.addClient(c)
			drainOne(t, c) // welcome

			h.handleClientMessage(c, []byte(tt.raw))

			msg := drainOne(t, c)
			if msg.Type != tt.wantType {
				t.Fatalf("Type = %q, want %q", msg.Type, tt.wantType)
			}
			if tt.check != nil {
				tt.check(t, msg)
			}
		})
	}
}

type staticStatus struct{ value string }

func (s staticStatus) Status() interface{} {
	return map[string]string{"state": s.value}
}

func TestHubStatusProvider(t *testing.T) {
	h := NewHub(NewRegistry())
	h.SetStatusProvider(staticStatus{value: "idle"})
	c := newTestClient(h, "c1", 8)
	h.addClient(c)
	drainOne(t, c)

	h.handleClientMessage(c, []byte(`{"type":"get_status"}`))
	msg := drainOne(t, c)

	data, ok := msg.Data.(map[string]interface{})
	if !ok || data["state"] != "idle" {
		t.Errorf("Data = %v, want state=idle", msg.Data)
	}
}

func TestHubRunWithContextLifecycle(t *testing.T) {
	h := NewHub(NewRegistry())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- h.RunWithContext(ctx) }()

	c := newTestClient(h, "c1", 8)
	h.Register <- c
	drainOne(t, c) // welcome proves registration was serviced

	h.Publish(notify.TopicAll, notify.NewSystemAlert("info", "live", "test"))
	if msg := drainOne(t, c); msg.Type != "system_alert" {
		t.Errorf("Type = %q, want system_alert", msg.Type)
	}

	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("RunWithContext returned %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("RunWithContext did not return after cancel")
	}

	// The send channel is closed during shutdown.
	for {
		if _, open := <-c.send; !open {
			break
		}
	}
	if h.ClientCount() != 0 {
		t.Errorf("ClientCount = %d after shutdown, want 0", h.ClientCount())
	}
}

func TestMergeSorted(t *testing.T) {
	tests := []struct {
		name string
		a, b []string
		want []string
	}{
		{name: "disjoint", a: []string{"a", "c"}, b: []string{"b", "d"}, want: []string{"a", "b", "c", "d"}},
		{name: "overlap deduplicated", a: []string{"a", "b"}, b: []string{"b", "c"}, want: []string{"a", "b", "c"}},
		{name: "one empty", a: nil, b: []string{"x"}, want: []string{"x"}},
		{name: "both empty", a: nil, b: nil, want: []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := mergeSorted(tt.a, tt.b); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("mergeSorted(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}
