// Millwright - Factory Floor Telemetry Sync and Live Notifications
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/millwright

package services

import (
	"context"
)

// ContextHub matches the hub's RunWithContext method.
type ContextHub interface {
	RunWithContext(ctx context.Context) error
}

// WebSocketHubService supervises the broadcast hub. The hub already follows
// the Serve pattern, so this wrapper only contributes a name.
type WebSocketHubService struct {
	hub ContextHub
}

// NewWebSocketHubService wraps a hub for supervision.
func NewWebSocketHubService(hub ContextHub) *WebSocketHubService {
	return &WebSocketHubService{hub: hub}
}

// Serve delegates to the hub's run loop.
func (w *WebSocketHubService) Serve(ctx context.Context) error {
	return w.hub.RunWithContext(ctx)
}

// String identifies the service in supervisor logs.
func (w *WebSocketHubService) String() string {
	return "websocket-hub"
}
