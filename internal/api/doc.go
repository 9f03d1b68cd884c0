// Millwright - Factory Floor Telemetry Sync and Live Notifications
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/millwright

// Package api is the HTTP surface: the /ws upgrade into the
// live-notification protocol, liveness and readiness probes, Prometheus
// metrics, manual sync control, notification stats, and dead-letter
// inspection. Handlers depend on small consumer-side interfaces so the
// package tests run against fakes, not the real orchestrator.
package api
