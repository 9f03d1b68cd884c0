// Millwright - Factory Floor Telemetry Sync and Live Notifications
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/millwright

package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestRouter() http.Handler {
	handler := NewHandler(HandlerDeps{
		Store:    &fakeStore{},
		Syncer:   &fakeSyncer{},
		Hub:      &fakeHub{topics: map[string]int{}},
		Notifier: &fakeNotifier{},
		Version:  "test",
	})
	return NewRouter(handler, nil).Setup()
}

func TestRouterRoutes(t *testing.T) {
	router := newTestRouter()

	tests := []struct {
		method   string
		path     string
		wantCode int
	}{
		{http.MethodGet, "/healthz", http.StatusOK},
		{http.MethodGet, "/readyz", http.StatusOK},
		{http.MethodGet, "/metrics", http.StatusOK},
		{http.MethodGet, "/api/v1/health", http.StatusOK},
		{http.MethodGet, "/api/v1/sync/status", http.StatusOK},
		{http.MethodPost, "/api/v1/sync/trigger", http.StatusOK},
		{http.MethodGet, "/api/v1/notifications/stats", http.StatusOK},
		{http.MethodPost, "/api/v1/notifications/test", http.StatusAccepted},
		{http.MethodGet, "/api/v1/deadletter", http.StatusNotFound},
		{http.MethodGet, "/api/v1/unknown", http.StatusNotFound},
		{http.MethodDelete, "/api/v1/sync/status", http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			if rec.Code != tt.wantCode {
				t.Errorf("Status = %d, want %d", rec.Code, tt.wantCode)
			}
		})
	}
}

func TestRouterSetsRequestID(t *testing.T) {
	router := newTestRouter()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID header not set")
	}
}

func TestRouterHonorsUpstreamRequestID(t *testing.T) {
	router := newTestRouter()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "upstream-id")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-ID"); got != "upstream-id" {
		t.Errorf("X-Request-ID = %q, want upstream-id", got)
	}
}

func TestTriggerRateLimit(t *testing.T) {
	router := newTestRouter()

	limited := false
	for i := 0; i < 20; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/sync/trigger", nil)
		req.RemoteAddr = "10.0.0.9:1234"
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code == http.StatusTooManyRequests {
			limited = true
			break
		}
	}
	if !limited {
		t.Error("Trigger endpoint was never rate limited")
	}
}

func TestWebSocketRejectsPlainRequest(t *testing.T) {
	router := newTestRouter()

	// No upgrade headers and no Origin: the upgrader must refuse.
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code == http.StatusSwitchingProtocols {
		t.Error("Plain request was upgraded")
	}
}
