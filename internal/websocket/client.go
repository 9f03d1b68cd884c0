// Millwright - Factory Floor Telemetry Sync and Live Notifications
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/millwright

package websocket

import (
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/tomtom215/millwright/internal/logging"
	"github.com/tomtom215/millwright/internal/metrics"
)

const (
	// writeWait bounds a single write to the peer.
	writeWait = 10 * time.Second

	// pongWait is how long we tolerate silence before declaring the peer
	// dead; pings go out well inside that window.
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize caps inbound frames. Client frames are tiny; anything
	// near this limit is abuse.
	maxMessageSize = 512 * 1024

	// sendBufferSize is the per-client outbound queue. A client that falls
	// this far behind gets disconnected rather than back-pressuring the hub.
	sendBufferSize = 256
)

// Client pairs one websocket connection with its pumps. The hub addresses
// clients by ID only; the transport never leaves this type.
type Client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// NewClient wraps an upgraded connection. The caller registers the client
// with the hub and then calls Start.
func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		id:   uuid.NewString(),
		hub:  hub,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
	}
}

// ID returns the connection's opaque identifier.
func (c *Client) ID() string {
	return c.id
}

// Start launches the read and write pumps.
func (c *Client) Start() {
	go c.writePump()
	go c.readPump()
}

// trySend queues a payload without blocking. Returns false when the buffer
// is full or the channel is closed; the hub treats that as a dead client.
func (c *Client) trySend(payload []byte) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// sendMessage serializes a protocol frame and queues it on the client's own
// buffer, so replies never pass through the broadcast path.
func (c *Client) sendMessage(msg serverMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		metrics.WSErrors.WithLabelValues("marshal").Inc()
		return
	}
	if c.trySend(payload) {
		metrics.WSMessagesSent.Inc()
	}
}

// readPump drains inbound frames until the connection fails, then hands the
// client back to the hub for cleanup. Unregistering on every exit path is
// what keeps the registry free of dead entries.
func (c *Client) readPump() {
	logger := logging.WithComponent("websocket")
	defer func() {
		c.hub.Unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				metrics.WSErrors.WithLabelValues("read").Inc()
				logger.Debug().Err(err).Str("connection_id", c.id).Msg("Unexpected close")
			}
			return
		}
		c.hub.handleClientMessage(c, raw)
	}
}

// writePump drains the send buffer and keeps the control-frame heartbeat
// alive. A closed send channel means the hub removed this client.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, open := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !open {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				metrics.WSErrors.WithLabelValues("write").Inc()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
