// Millwright - Factory Floor Telemetry Sync and Live Notifications
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/millwright

/*
Package websocket implements the live-notification surface: the subscription
registry, the broadcast hub, and the per-connection protocol handling.

# Key Components

Registry tracks which topics each connection has opted into. It is keyed by
an opaque connection ID (a UUID), never by the transport object, so it can be
exercised without a network connection. Every connection starts subscribed to
the "all" topic.

Hub owns the set of live clients and fans broadcast events out to the
subscribers of the event's topic. Payloads are serialized exactly once per
publish; every recipient receives the same bytes. The hub implements
notify.Publisher, so the sync-to-broadcast bridge drains directly into it.

Client pairs a gorilla/websocket connection with a readPump/writePump
goroutine pair. The read side handles the JSON wire protocol (subscribe,
unsubscribe, ping, get_status); the write side drains the client's send
buffer and keeps the protocol-level ping/pong heartbeat alive.

# Delivery Semantics

Delivery is at-least-once to currently-connected subscribers and lossy by
design. A client whose send buffer is full, or whose connection has failed,
is removed from both the hub and the registry during fan-out; siblings are
unaffected. No ordering guarantee is made across topics; within a single
publish, members are served in sorted connection-ID order.

# Lifecycle

Connection teardown always runs registry cleanup: the read pump unregisters
the client on exit, and the hub removes the registry entry before closing
the send channel. A leaked registry entry would cause broadcast attempts to
dead connections, so unregister-on-disconnect is treated as a correctness
requirement, not an optimization.

# Thread Safety

Registry methods are safe for concurrent use (RWMutex). The hub's client map
is guarded by its own mutex; registration and unregistration flow through
channels serviced by RunWithContext, matching the suture service model used
by the rest of the process.

# See Also

  - internal/notify for the event vocabulary and the bridge
  - internal/api for the /ws upgrade handler
*/
package websocket
