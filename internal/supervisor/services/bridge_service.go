// Millwright - Factory Floor Telemetry Sync and Live Notifications
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/millwright

package services

import (
	"context"

	"github.com/tomtom215/millwright/internal/notify"
)

// EventForwarder matches the notification bridge's consumer loop.
type EventForwarder interface {
	Run(ctx context.Context, pub notify.Publisher) error
}

// BridgeService supervises the sync-to-broadcast bridge, binding it to its
// publisher. Producers keep a reference to the bridge itself and are
// unaffected by consumer restarts; queued events survive across them.
type BridgeService struct {
	bridge    EventForwarder
	publisher notify.Publisher
}

// NewBridgeService wraps a bridge and its downstream publisher.
func NewBridgeService(bridge EventForwarder, publisher notify.Publisher) *BridgeService {
	return &BridgeService{bridge: bridge, publisher: publisher}
}

// Serve drains the bridge into the publisher until cancellation.
func (b *BridgeService) Serve(ctx context.Context) error {
	return b.bridge.Run(ctx, b.publisher)
}

// String identifies the service in supervisor logs.
func (b *BridgeService) String() string {
	return "notify-bridge"
}
