// Millwright - Factory Floor Telemetry Sync and Live Notifications
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/millwright

package notify

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/tomtom215/millwright/internal/logging"
	"github.com/tomtom215/millwright/internal/metrics"
)

// DefaultBridgeCapacity bounds the queue when no capacity is configured.
const DefaultBridgeCapacity = 256

// Bridge decouples the synchronous sync and ingestion paths from broadcast
// delivery. Producers call Notify from any goroutine; a single consumer
// goroutine drains the queue into a Publisher.
//
// The queue is bounded. When it is full the OLDEST pending event is dropped
// to make room, so a stalled or absent consumer can delay notifications but
// never block a sync cycle. Events raised before Run starts are buffered up
// to capacity.
type Bridge struct {
	queue  chan Event
	logger zerolog.Logger
}

// NewBridge creates a bridge with the given queue capacity.
// Non-positive capacities fall back to DefaultBridgeCapacity.
func NewBridge(capacity int) *Bridge {
	if capacity <= 0 {
		capacity = DefaultBridgeCapacity
	}
	return &Bridge{
		queue:  make(chan Event, capacity),
		logger: logging.WithComponent("bridge"),
	}
}

// Notify enqueues an event without blocking. On a full queue the oldest
// pending event is discarded and the new one takes its place. Safe for
// concurrent use.
func (b *Bridge) Notify(event Event) {
	for {
		select {
		case b.queue <- event:
			metrics.RecordBridgeEnqueue(len(b.queue), false)
			return
		default:
		}

		// Queue full: evict the oldest entry and retry. The inner default
		// covers the consumer draining between the two selects.
		select {
		case dropped := <-b.queue:
			metrics.RecordBridgeEnqueue(len(b.queue), true)
			b.logger.Warn().
				Str("event_type", string(dropped.Type)).
				Msg("Bridge queue full, dropping oldest event")
		default:
		}
	}
}

// Run drains the queue into the publisher until ctx is cancelled. Each
// dequeued event is published exactly once, to its type's default topic.
// Only one Run consumer may be active at a time.
func (b *Bridge) Run(ctx context.Context, publisher Publisher) error {
	b.logger.Info().
		Int("capacity", cap(b.queue)).
		Int("pending", len(b.queue)).
		Msg("Bridge consumer started")

	for {
		select {
		case <-ctx.Done():
			b.logger.Info().
				Int("pending", len(b.queue)).
				Msg("Bridge consumer stopped")
			return ctx.Err()
		case event := <-b.queue:
			publisher.Publish(event.Topic(), event)
			metrics.RecordBridgeForward(len(b.queue))
		}
	}
}

// Len returns the number of events waiting in the queue.
func (b *Bridge) Len() int {
	return len(b.queue)
}

// Capacity returns the queue capacity.
func (b *Bridge) Capacity() int {
	return cap(b.queue)
}
