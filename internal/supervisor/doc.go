// Millwright - Factory Floor Telemetry Sync and Live Notifications
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/millwright

/*
Package supervisor builds the suture supervision tree for the process.

The tree has four child layers under the root:

  - data: dead-letter retry bookkeeping
  - ingest: the sensor listener (and its embedded NATS server lifecycle)
  - messaging: the WebSocket hub and the notification bridge
  - api: the HTTP server

Layering isolates failures: a crashing bus consumer restarts inside the
ingest layer without touching in-flight HTTP requests, and vice versa.
Restart policy (threshold, decay, backoff) is shared across layers and
follows suture's defaults unless overridden.

Services that do not natively speak suture's Serve(ctx) contract are
adapted by small wrappers in the services subpackage.
*/
package supervisor
