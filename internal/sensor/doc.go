// Millwright - Factory Floor Telemetry Sync and Live Notifications
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/millwright

/*
Package sensor ingests PLC cut events from the factory message bus.

The Listener consumes JSON cut messages from a NATS JetStream subject via
Watermill, validates them, stores them idempotently (machine_id plus
timestamp_utc is the natural key), and emits a production_metric_update
notification for each newly stored event.

Malformed messages are logged, counted, and acknowledged: a payload that
cannot be parsed will never parse on redelivery, so nacking it would only
wedge the consumer. Storage failures are nacked and redelivered.

For single-box deployments, EmbeddedServer runs a JetStream-enabled NATS
server in-process so the subsystem has no external broker dependency. The
durable consumer and queue group let multiple instances share the subject
without double-processing.

The Listener's Serve method fits the suture service contract: it reconnects
with exponential backoff after bus failures and returns only on context
cancellation.
*/
package sensor
