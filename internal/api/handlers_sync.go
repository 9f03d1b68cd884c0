// Millwright - Factory Floor Telemetry Sync and Live Notifications
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/millwright

package api

import (
	"net/http"
)

// TriggerSync runs a manual sync cycle and blocks until it completes. The
// manager serializes cycles internally, so a trigger racing the schedule
// waits rather than overlapping it.
func (h *Handler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	if h.syncer == nil {
		respondError(w, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", ErrSyncUnavailable.Error(), nil)
		return
	}

	if err := h.syncer.TriggerSync(r.Context()); err != nil {
		respondError(w, http.StatusInternalServerError, "SYNC_FAILED", "sync cycle failed", err)
		return
	}

	respondSuccess(w, http.StatusOK, map[string]string{"status": "sync_completed"})
}

// SyncStatus returns the orchestrator snapshot: running flag, interval, and
// per-machine state, watermark, and counters.
func (h *Handler) SyncStatus(w http.ResponseWriter, r *http.Request) {
	if h.syncer == nil {
		respondError(w, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", ErrSyncUnavailable.Error(), nil)
		return
	}

	respondSuccess(w, http.StatusOK, h.syncer.Status())
}
