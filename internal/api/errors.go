// Millwright - Factory Floor Telemetry Sync and Live Notifications
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/millwright

package api

import "errors"

var (
	// ErrDeadLetterDisabled indicates the dead-letter store is not enabled
	// in configuration.
	ErrDeadLetterDisabled = errors.New("dead-letter store is not enabled")

	// ErrSyncUnavailable indicates the sync orchestrator is not wired.
	ErrSyncUnavailable = errors.New("sync orchestrator is not available")
)
