// Millwright - Factory Floor Telemetry Sync and Live Notifications
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/millwright

// Package testinfra provides shared helpers for integration tests: Docker
// detection, testcontainers plumbing, a containerized NATS JetStream broker,
// and an in-process fake of the machine telemetry API.
//
// Container-backed helpers are built with the integration tag; the fake
// telemetry server has no Docker dependency and is available to regular
// tests.
package testinfra
