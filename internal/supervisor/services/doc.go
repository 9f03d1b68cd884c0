// Millwright - Factory Floor Telemetry Sync and Live Notifications
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/millwright

// Package services adapts component lifecycles to suture's Serve(ctx)
// contract. Each wrapper depends on a small local interface rather than the
// concrete component, which keeps import edges one-way and the wrappers
// testable with fakes.
package services
