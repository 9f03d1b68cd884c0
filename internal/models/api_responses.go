// Millwright - Factory Floor Telemetry Sync and Live Notifications
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/millwright

package models

import (
	"time"
)

// APIResponse represents a standardized API response wrapper used by all HTTP endpoints.
// It provides consistent structure for both successful and error responses.
//
// Status field values:
//   - "success": Request completed successfully, see Data field
//   - "error": Request failed, see Error field for details
//
// Example successful response:
//
//	{
//	  "status": "success",
//	  "data": {"running": true, "machines": [...]},
//	  "metadata": {
//	    "timestamp": "2026-03-15T12:00:00Z",
//	    "query_time_ms": 4
//	  }
//	}
//
// Example error response:
//
//	{
//	  "status": "error",
//	  "error": {
//	    "code": "RATE_LIMIT_EXCEEDED",
//	    "message": "Too many sync triggers"
//	  },
//	  "metadata": {"timestamp": "2026-03-15T12:00:00Z"}
//	}
type APIResponse struct {
	Status   string      `json:"status"`
	Data     interface{} `json:"data"`
	Metadata Metadata    `json:"metadata"`
	Error    *APIError   `json:"error,omitempty"`
}

// Metadata contains response metadata for observability.
//
// Fields:
//   - Timestamp: Server time when response was generated (RFC3339 format)
//   - QueryTimeMS: Database query execution time in milliseconds
type Metadata struct {
	Timestamp   time.Time `json:"timestamp"`
	QueryTimeMS int64     `json:"query_time_ms,omitempty"`
}

// APIError represents an error response with structured error details.
//
// Common error codes:
//   - VALIDATION_ERROR: Invalid input parameters
//   - DATABASE_ERROR: Query execution failure
//   - NOT_FOUND: Resource doesn't exist
//   - RATE_LIMIT_EXCEEDED: Too many requests
//   - SERVICE_UNAVAILABLE: Dependent subsystem disabled or down
type APIError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// MachineSyncStatus is the per-machine slice of the orchestrator snapshot.
// State is one of "IDLE", "FETCHING", "MERGING", "FAILED". A machine in
// "FAILED" is retried on the next cycle; LastError carries the most recent
// failure until a cycle succeeds.
type MachineSyncStatus struct {
	MachineID       string     `json:"machine_id"`
	Name            string     `json:"name"`
	State           string     `json:"state"`
	Watermark       *time.Time `json:"watermark,omitempty"`
	LastSyncAt      *time.Time `json:"last_sync_at,omitempty"`
	LastError       string     `json:"last_error,omitempty"`
	PeriodsInserted int64      `json:"periods_inserted"`
}

// SyncStatusResponse is the payload of GET /api/v1/sync/status.
type SyncStatusResponse struct {
	Running  bool                `json:"running"`
	Interval string              `json:"interval"`
	Machines []MachineSyncStatus `json:"machines"`
}

// HealthStatus represents the health check response.
type HealthStatus struct {
	Status            string     `json:"status"`
	Version           string     `json:"version"`
	DatabaseConnected bool       `json:"database_connected"`
	SensorConnected   bool       `json:"sensor_connected"`
	LastSyncTime      *time.Time `json:"last_sync_time,omitempty"`
	Uptime            float64    `json:"uptime_seconds"`
}
