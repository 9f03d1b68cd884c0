// Millwright - Factory Floor Telemetry Sync and Live Notifications
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/millwright

package websocket

import (
	"context"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	gorillaws "github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/tomtom215/millwright/internal/logging"
	"github.com/tomtom215/millwright/internal/metrics"
	"github.com/tomtom215/millwright/internal/notify"
)

// StatusProvider supplies the payload for get_status requests. Wired to the
// sync manager at startup; nil is tolerated and yields an empty status.
type StatusProvider interface {
	Status() interface{}
}

// outbound is one serialized event ready for fan-out.
type outbound struct {
	topic   notify.Topic
	payload []byte
}

// Hub owns the live client set and fans events out to topic subscribers.
// It implements notify.Publisher, so the bridge drains straight into it.
type Hub struct {
	registry *Registry

	// Register and Unregister are serviced by RunWithContext; handing
	// lifecycle changes to the run loop keeps the client map single-writer.
	Register   chan *Client
	Unregister chan *Client

	broadcast chan outbound

	mu      sync.RWMutex
	clients map[string]*Client

	statusMu sync.RWMutex
	status   StatusProvider

	logger zerolog.Logger
}

// NewHub creates a hub backed by the given registry.
func NewHub(registry *Registry) *Hub {
	return &Hub{
		registry:   registry,
		Register:   make(chan *Client, 16),
		Unregister: make(chan *Client, 16),
		broadcast:  make(chan outbound, 256),
		clients:    make(map[string]*Client),
		logger:     logging.WithComponent("websocket"),
	}
}

// SetStatusProvider wires the source answering get_status requests.
func (h *Hub) SetStatusProvider(p StatusProvider) {
	h.statusMu.Lock()
	h.status = p
	h.statusMu.Unlock()
}

func (h *Hub) statusData() interface{} {
	h.statusMu.RLock()
	defer h.statusMu.RUnlock()
	if h.status == nil {
		return struct{}{}
	}
	return h.status.Status()
}

// Publish serializes the event once and queues it for fan-out. It never
// blocks: if the broadcast buffer is full the event is dropped and counted,
// matching the lossy contract of the live channel.
func (h *Hub) Publish(topic notify.Topic, event notify.Event) {
	payload, err := json.Marshal(newEventMessage(event))
	if err != nil {
		metrics.WSErrors.WithLabelValues("marshal").Inc()
		h.logger.Error().Err(err).Str("event_type", string(event.Type)).Msg("Failed to serialize event")
		return
	}

	select {
	case h.broadcast <- outbound{topic: topic, payload: payload}:
	default:
		metrics.WSErrors.WithLabelValues("broadcast_full").Inc()
		h.logger.Warn().Str("event_type", string(event.Type)).Msg("Broadcast queue full, event dropped")
	}
}

// RunWithContext services registration, unregistration, and broadcast until
// the context is cancelled, then closes every client. Lifecycle channels are
// drained with priority over broadcasts so a disconnecting client never
// receives further events.
func (h *Hub) RunWithContext(ctx context.Context) error {
	defer h.closeAllClients()

	for {
		// Priority pass: lifecycle and cancellation first.
		select {
		case <-ctx.Done():
			return ctx.Err()
		case client := <-h.Register:
			h.addClient(client)
			continue
		case client := <-h.Unregister:
			h.removeClient(client.ID())
			continue
		default:
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case client := <-h.Register:
			h.addClient(client)
		case client := <-h.Unregister:
			h.removeClient(client.ID())
		case msg := <-h.broadcast:
			h.deliver(msg)
		}
	}
}

// AttachConn wraps an upgraded connection in a client, hands it to the run
// loop, and starts its pumps.
func (h *Hub) AttachConn(conn *gorillaws.Conn) {
	client := NewClient(h, conn)
	h.Register <- client
	client.Start()
}

// ClientCount returns the number of attached clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// TopicCounts exposes per-topic subscriber counts for the stats endpoint.
func (h *Hub) TopicCounts() map[string]int {
	return h.registry.TopicCounts()
}

func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	h.clients[client.ID()] = client
	h.mu.Unlock()

	h.registry.Register(client.ID())
	metrics.WSConnections.Inc()

	welcome, err := json.Marshal(newConnectionEstablished(client.ID(), h.registry.TopicsOf(client.ID())))
	if err == nil {
		client.trySend(welcome)
	}

	h.logger.Info().Str("connection_id", client.ID()).Msg("Client connected")
}

// removeClient detaches a client and clears its registry entry. Closing the
// send channel here terminates the write pump; the pump owns the transport
// close.
func (h *Hub) removeClient(connID string) {
	h.mu.Lock()
	client, ok := h.clients[connID]
	if ok {
		delete(h.clients, connID)
	}
	h.mu.Unlock()

	if !ok {
		return
	}

	h.registry.Unregister(connID)
	close(client.send)
	metrics.WSConnections.Dec()
	h.logger.Info().Str("connection_id", connID).Msg("Client disconnected")
}

// deliver fans one serialized payload out to the topic's subscribers plus
// the "all" audience, each member at most once, in sorted connection-ID
// order. Members whose buffers are full are removed; siblings are untouched.
func (h *Hub) deliver(msg outbound) {
	members := h.registry.MembersOf(msg.topic)
	if msg.topic != notify.TopicAll {
		members = mergeSorted(members, h.registry.MembersOf(notify.TopicAll))
	}

	var failed []string
	h.mu.RLock()
	for _, id := range members {
		client, ok := h.clients[id]
		if !ok {
			continue
		}
		if client.trySend(msg.payload) {
			metrics.WSMessagesSent.Inc()
		} else {
			failed = append(failed, id)
		}
	}
	h.mu.RUnlock()

	for _, id := range failed {
		metrics.WSErrors.WithLabelValues("send_buffer_full").Inc()
		h.logger.Warn().Str("connection_id", id).Msg("Send buffer full, removing client")
		h.removeClient(id)
	}
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[string]*Client)
	h.mu.Unlock()

	for id, client := range clients {
		h.registry.Unregister(id)
		close(client.send)
		metrics.WSConnections.Dec()
	}

	if len(clients) > 0 {
		h.logger.Info().Int("count", len(clients)).Msg("Closed all clients")
	}
}

// mergeSorted merges two sorted string slices, dropping duplicates.
func mergeSorted(a, b []string) []string {
	out := make([]string, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] < b[j]:
			out = append(out, a[i])
			i++
		case a[i] > b[j]:
			out = append(out, b[j])
			j++
		default:
			out = append(out, a[i])
			i++
			j++
		}
	}
	out = append(out, a[i:]...)
	out = append(out, b[j:]...)
	return out
}

// handleClientMessage dispatches one decoded client frame. Called from the
// client's read pump.
func (h *Hub) handleClientMessage(client *Client, raw []byte) {
	metrics.WSMessagesReceived.Inc()

	var msg clientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		metrics.WSErrors.WithLabelValues("malformed").Inc()
		client.sendMessage(newErrorMessage("INVALID_MESSAGE", "message is not valid JSON"))
		return
	}

	switch msg.Type {
	case "subscribe":
		added, rejected := h.registry.Subscribe(client.ID(), msg.Subscriptions...)
		client.sendMessage(newSubscriptionConfirmed(added, rejected, h.registry.TopicsOf(client.ID())))
	case "unsubscribe":
		removed, rejected := h.registry.Unsubscribe(client.ID(), msg.Subscriptions...)
		client.sendMessage(newUnsubscriptionConfirmed(removed, rejected, h.registry.TopicsOf(client.ID())))
	case "ping":
		client.sendMessage(newPong(msg.Timestamp))
	case "get_status":
		client.sendMessage(newStatusResponse(h.statusData()))
	default:
		metrics.WSErrors.WithLabelValues("unknown_type").Inc()
		client.sendMessage(newErrorMessage("UNKNOWN_TYPE", "unsupported message type: "+msg.Type))
	}
}

var _ notify.Publisher = (*Hub)(nil)

// timeNow is swapped in tests for deterministic message timestamps.
var timeNow = time.Now
