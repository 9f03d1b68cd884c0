// Millwright - Factory Floor Telemetry Sync and Live Notifications
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/millwright

package api

import (
	"net/http"
	"time"

	"github.com/tomtom215/millwright/internal/models"
)

// HealthLive answers liveness probes. The process being able to answer is
// the whole check.
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	respondSuccess(w, http.StatusOK, map[string]string{"status": "alive"})
}

// HealthReady answers readiness probes: ready means the store responds.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		respondError(w, http.StatusServiceUnavailable, "NOT_READY", "database is not reachable", err)
		return
	}
	respondSuccess(w, http.StatusOK, map[string]string{"status": "ready"})
}

// Health reports the full component snapshot.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	dbConnected := h.store.Ping(r.Context()) == nil

	sensorConnected := false
	if h.sensor != nil {
		sensorConnected = h.sensor.IsConnected()
	}

	status := "healthy"
	if !dbConnected {
		status = "degraded"
	}

	var lastSync *time.Time
	if h.syncer != nil {
		lastSync = h.syncer.LastSyncTime()
	}

	code := http.StatusOK
	if status != "healthy" {
		code = http.StatusServiceUnavailable
	}

	respondSuccess(w, code, models.HealthStatus{
		Status:            status,
		Version:           h.version,
		DatabaseConnected: dbConnected,
		SensorConnected:   sensorConnected,
		LastSyncTime:      lastSync,
		Uptime:            time.Since(h.startedAt).Seconds(),
	})
}
