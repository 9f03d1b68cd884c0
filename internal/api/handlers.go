// Millwright - Factory Floor Telemetry Sync and Live Notifications
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/millwright

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tomtom215/millwright/internal/config"
	"github.com/tomtom215/millwright/internal/deadletter"
	"github.com/tomtom215/millwright/internal/logging"
	"github.com/tomtom215/millwright/internal/models"
	"github.com/tomtom215/millwright/internal/notify"
)

// SyncController is the slice of the sync manager the handlers need.
type SyncController interface {
	IsRunning() bool
	TriggerSync(ctx context.Context) error
	Status() models.SyncStatusResponse
	LastSyncTime() *time.Time
}

// HealthStore answers readiness probes.
type HealthStore interface {
	Ping(ctx context.Context) error
}

// SensorStatus reports bus-consumer health. Nil when the sensor listener is
// disabled.
type SensorStatus interface {
	IsConnected() bool
}

// Notifier feeds the test endpoint into the same bridge the sync path uses.
type Notifier interface {
	Notify(event notify.Event)
}

// DeadLetters exposes the dead-letter store to the inspection endpoint. Nil
// when the store is disabled.
type DeadLetters interface {
	All(ctx context.Context) ([]deadletter.Entry, error)
	Stats(ctx context.Context) (deadletter.Stats, error)
}

// BroadcastHub is the handler-facing slice of the websocket hub.
type BroadcastHub interface {
	AttachConn(conn *websocket.Conn)
	ClientCount() int
	TopicCounts() map[string]int
}

// Handler holds the HTTP endpoint implementations.
type Handler struct {
	config      *config.Config
	store       HealthStore
	syncer      SyncController
	hub         BroadcastHub
	notifier    Notifier
	sensor      SensorStatus
	deadletters DeadLetters
	version     string
	startedAt   time.Time
}

// HandlerDeps bundles the components a Handler serves. Sensor and
// DeadLetters may be nil when those subsystems are disabled.
type HandlerDeps struct {
	Config      *config.Config
	Store       HealthStore
	Syncer      SyncController
	Hub         BroadcastHub
	Notifier    Notifier
	Sensor      SensorStatus
	DeadLetters DeadLetters
	Version     string
}

// NewHandler creates the endpoint set.
func NewHandler(deps HandlerDeps) *Handler {
	return &Handler{
		config:      deps.Config,
		store:       deps.Store,
		syncer:      deps.Syncer,
		hub:         deps.Hub,
		notifier:    deps.Notifier,
		sensor:      deps.Sensor,
		deadletters: deps.DeadLetters,
		version:     deps.Version,
		startedAt:   time.Now(),
	}
}

// getUpgrader builds the WebSocket upgrader with origin checking and a
// handshake timeout against slow-client attacks.
func (h *Handler) getUpgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		CheckOrigin:      h.checkWebSocketOrigin,
		HandshakeTimeout: 10 * time.Second,
	}
}

// checkWebSocketOrigin validates the Origin header against configured CORS
// origins. Browsers always send Origin; an empty header means a non-browser
// client, which the factory-floor dashboards never are, so it is rejected.
func (h *Handler) checkWebSocketOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		logging.Warn().Msg("WebSocket connection rejected: missing Origin header")
		return false
	}

	// Nil config fails open for tests.
	if h.config == nil {
		return true
	}

	for _, allowed := range h.config.Security.CORSOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}

	logging.Warn().Str("origin", sanitizeLogValue(origin)).Msg("WebSocket connection rejected from unauthorized origin")
	return false
}
