// Millwright - Factory Floor Telemetry Sync and Live Notifications
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/millwright

package testinfra

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"

	"github.com/goccy/go-json"

	"github.com/tomtom215/millwright/internal/telemetry"
)

// FakeTelemetryServer is an in-process stand-in for the machine telemetry
// API. Tests seed it with periods per machine; it serves the paginated
// /status-periods contract the real client consumes, records every request,
// and can be told to fail or rate-limit.
type FakeTelemetryServer struct {
	Server *httptest.Server

	mu       sync.Mutex
	periods  map[string][]telemetry.Period
	requests []string

	// FailStatus, when non-zero, is returned for every request.
	FailStatus int

	// RateLimitNext makes the next request answer 429 with Retry-After.
	RateLimitNext bool

	// RequireAPIKey rejects requests missing this X-API-Key value.
	RequireAPIKey string
}

// NewFakeTelemetryServer starts the fake. Callers own Close.
func NewFakeTelemetryServer() *FakeTelemetryServer {
	f := &FakeTelemetryServer{
		periods: make(map[string][]telemetry.Period),
	}
	f.Server = httptest.NewServer(http.HandlerFunc(f.handle))
	return f
}

// Close shuts the server down.
func (f *FakeTelemetryServer) Close() {
	f.Server.Close()
}

// URL returns the base URL to configure the client with.
func (f *FakeTelemetryServer) URL() string {
	return f.Server.URL
}

// Seed replaces the stored periods for a machine.
func (f *FakeTelemetryServer) Seed(machineID string, periods []telemetry.Period) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.periods[machineID] = periods
}

// Requests returns the request paths seen so far.
func (f *FakeTelemetryServer) Requests() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.requests))
	copy(out, f.requests)
	return out
}

func (f *FakeTelemetryServer) handle(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.requests = append(f.requests, r.URL.String())
	failStatus := f.FailStatus
	rateLimit := f.RateLimitNext
	f.RateLimitNext = false
	requireKey := f.RequireAPIKey
	f.mu.Unlock()

	if requireKey != "" && r.Header.Get("X-API-Key") != requireKey {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	if rateLimit {
		w.Header().Set("Retry-After", "1")
		w.WriteHeader(http.StatusTooManyRequests)
		return
	}
	if failStatus != 0 {
		w.WriteHeader(failStatus)
		return
	}
	if r.URL.Path != "/status-periods" {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	q := r.URL.Query()
	machineID := q.Get("asset_ids")
	page, _ := strconv.Atoi(q.Get("page"))
	pageSize, _ := strconv.Atoi(q.Get("page_size"))
	if pageSize <= 0 {
		pageSize = 100
	}

	f.mu.Lock()
	all := f.periods[machineID]
	f.mu.Unlock()

	startIdx := page * pageSize
	if startIdx > len(all) {
		startIdx = len(all)
	}
	endIdx := startIdx + pageSize
	if endIdx > len(all) {
		endIdx = len(all)
	}

	resp := struct {
		Items []telemetry.Period `json:"items"`
		Total int                `json:"total"`
	}{
		Items: all[startIdx:endIdx],
		Total: len(all),
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
