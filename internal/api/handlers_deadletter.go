// Millwright - Factory Floor Telemetry Sync and Live Notifications
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/millwright

package api

import (
	"net/http"

	"github.com/tomtom215/millwright/internal/deadletter"
)

// DeadLetterList returns every parked fetch window plus store statistics.
// When the store is disabled the endpoint says so instead of pretending the
// queue is empty.
func (h *Handler) DeadLetterList(w http.ResponseWriter, r *http.Request) {
	if h.deadletters == nil {
		respondError(w, http.StatusNotFound, "DEADLETTER_DISABLED", ErrDeadLetterDisabled.Error(), nil)
		return
	}

	entries, err := h.deadletters.All(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "DEADLETTER_ERROR", "failed to read dead-letter store", err)
		return
	}

	stats, err := h.deadletters.Stats(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "DEADLETTER_ERROR", "failed to read dead-letter stats", err)
		return
	}

	if entries == nil {
		entries = []deadletter.Entry{}
	}

	respondSuccess(w, http.StatusOK, map[string]interface{}{
		"entries":           entries,
		"count":             stats.Entries,
		"oldest_created_at": stats.OldestCreatedAt,
	})
}
