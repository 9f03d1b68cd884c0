// Millwright - Factory Floor Telemetry Sync and Live Notifications
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/millwright

/*
Package metrics provides Prometheus metrics collection and export for observability.

This package implements application instrumentation using the Prometheus client
library, exposing metrics for monitoring sync health, ingestion throughput, and
broadcast delivery.

# Overview

The package provides metrics for:
  - HTTP request latency and throughput
  - Database query performance (DuckDB)
  - Telemetry sync cycles, merge statistics, and watermark positions
  - Sensor event ingestion from the NATS bus
  - WebSocket connections and topic subscriptions
  - Circuit breaker state transitions
  - Dead letter store contents

# Metrics Endpoint

Metrics are exposed at the /metrics endpoint in Prometheus text format:

	curl http://localhost:8000/metrics

# Available Metrics

API Metrics:
  - api_requests_total: Total API requests (counter)
    Labels: method, endpoint, status_code
  - api_request_duration_seconds: Request latency (histogram)
    Labels: method, endpoint
  - api_active_requests: Active requests (gauge)
  - api_rate_limit_hits_total: Rate limit rejections (counter)
    Labels: endpoint

Database Metrics:
  - duckdb_query_duration_seconds: Query execution time (histogram)
    Labels: operation, table
  - duckdb_query_errors_total: Failed queries (counter)
    Labels: operation, table, error_type

Sync Metrics:
  - sync_duration_seconds: Per-machine sync cycle duration (histogram)
    Labels: machine
  - sync_errors_total: Failed sync cycles (counter)
    Labels: machine, error_type (telemetry_api, database, validation, other)
  - sync_last_success_timestamp: Unix timestamp of last successful sync (gauge)
    Labels: machine
  - sync_windows_fetched_total / sync_windows_skipped_total: Window walk outcomes
  - merge_rows_inserted_total / merge_duplicates_skipped_total: Merge writer outcomes
  - watermark_timestamp_seconds: Current watermark position (gauge)
    Labels: machine

Sensor Metrics:
  - sensor_events_received_total / sensor_events_inserted_total
  - sensor_events_malformed_total: Payloads dropped before processing
  - sensor_processing_duration_seconds: Per-event processing time (histogram)
  - sensor_reconnects_total: Bus reconnect attempts

WebSocket Metrics:
  - websocket_connections: Active connections (gauge)
  - websocket_messages_sent_total / websocket_messages_received_total
  - websocket_errors_total: Delivery and protocol errors (counter)
    Labels: error_type
  - websocket_subscriptions: Subscribers per topic (gauge)
    Labels: topic

Bridge Metrics:
  - bridge_queue_depth: Buffered events awaiting broadcast (gauge)
  - bridge_events_dropped_total: Events dropped on overflow (counter)
  - bridge_events_forwarded_total: Events handed to the broadcaster (counter)

Circuit Breaker Metrics:
  - circuit_breaker_state: Current state (gauge, 0=closed, 1=half-open, 2=open)
    Labels: name
  - circuit_breaker_requests_total: Requests through the breaker (counter)
    Labels: name, result

Dead Letter Metrics:
  - dlq_entries_total: Parked windows awaiting replay (gauge)
  - dlq_retry_attempts_total / dlq_retry_successes_total / dlq_retry_failures_total
  - dlq_oldest_entry_age_seconds: Age of the oldest parked window (gauge)

# Usage

Metrics are recorded through package-level helpers:

	start := time.Now()
	rows, err := db.Query(ctx, query)
	metrics.RecordDBQuery("SELECT", "status_periods", time.Since(start), err)

Helpers never return errors and are safe for concurrent use; Prometheus
collectors handle their own synchronization.

# Cardinality

Label values are drawn from small closed sets (machine fleet, topic names,
error categories). Raw error strings are truncated to 50 characters before
use as label values to bound series growth.
*/
package metrics
