// Millwright - Factory Floor Telemetry Sync and Live Notifications
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/millwright

package api

import (
	"io"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/tomtom215/millwright/internal/logging"
	"github.com/tomtom215/millwright/internal/notify"
)

// WebSocket upgrades the request into the live-notification protocol.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		logging.Warn().Msg("WebSocket connection rejected: hub not initialized")
		respondError(w, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "live notifications unavailable", nil)
		return
	}

	upgrader := h.getUpgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		logging.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	h.hub.AttachConn(conn)
}

// NotificationStats reports connection and per-topic subscription counts.
func (h *Handler) NotificationStats(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		respondError(w, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "live notifications unavailable", nil)
		return
	}

	respondSuccess(w, http.StatusOK, map[string]interface{}{
		"connections": h.hub.ClientCount(),
		"topics":      h.hub.TopicCounts(),
	})
}

// notificationTestRequest is the body of POST /api/v1/notifications/test.
type notificationTestRequest struct {
	Severity string `json:"severity" validate:"omitempty,oneof=info warning critical"`
	Message  string `json:"message" validate:"required,max=512"`
}

// NotificationTest emits a system_alert through the full bridge-to-broadcast
// path, so operators can verify delivery end to end without waiting for a
// real event.
func (h *Handler) NotificationTest(w http.ResponseWriter, r *http.Request) {
	if h.notifier == nil {
		respondError(w, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "notification bridge unavailable", nil)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 4096))
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "failed to read request body", err)
		return
	}

	req := notificationTestRequest{Severity: "info"}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "request body is not valid JSON", err)
			return
		}
	}
	if req.Message == "" {
		req.Message = "test notification"
	}
	if apiErr := validateRequest(&req); apiErr != nil {
		respondError(w, http.StatusBadRequest, apiErr.Code, apiErr.Message, nil)
		return
	}

	h.notifier.Notify(notify.NewSystemAlert(req.Severity, req.Message, "api"))
	respondSuccess(w, http.StatusAccepted, map[string]string{"status": "alert_queued"})
}
