// Millwright - Factory Floor Telemetry Sync and Live Notifications
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/millwright

package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus Metrics Integration for Production Observability
// This package provides instrumentation for:
// - Database query performance (DuckDB)
// - API endpoint latency and throughput
// - Telemetry sync and merge statistics
// - Sensor event ingestion (NATS)
// - WebSocket connections and broadcast delivery

var (
	// Database Metrics
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "duckdb_query_duration_seconds",
			Help:    "Duration of DuckDB queries in seconds",
			Buckets: prometheus.DefBuckets, // 0.005s, 0.01s, 0.025s, 0.05s, 0.1s, 0.25s, 0.5s, 1s, 2.5s, 5s, 10s
		},
		[]string{"operation", "table"},
	)

	DBQueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duckdb_query_errors_total",
			Help: "Total number of DuckDB query errors",
		},
		[]string{"operation", "table", "error_type"},
	)

	// API Endpoint Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "api_active_requests",
			Help: "Current number of active API requests",
		},
	)

	APIRateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_rate_limit_hits_total",
			Help: "Total number of rate limit rejections",
		},
		[]string{"endpoint"},
	)

	// Sync Operation Metrics
	SyncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sync_duration_seconds",
			Help:    "Duration of per-machine sync cycles in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300}, // Backfill cycles can take minutes
		},
		[]string{"machine"},
	)

	SyncErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_errors_total",
			Help: "Total number of sync errors",
		},
		[]string{"machine", "error_type"}, // "telemetry_api", "database", "validation", "other"
	)

	SyncLastSuccess = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sync_last_success_timestamp",
			Help: "Unix timestamp of the last successful sync per machine",
		},
		[]string{"machine"},
	)

	SyncWindowsFetched = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sync_windows_fetched_total",
			Help: "Total number of time windows fetched from the telemetry API",
		},
	)

	SyncWindowsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_windows_skipped_total",
			Help: "Total number of time windows skipped after fetch failures",
		},
		[]string{"machine"},
	)

	SyncPeriodsFetched = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sync_periods_fetched_total",
			Help: "Total number of status periods fetched during sync",
		},
	)

	SyncBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sync_batch_size",
			Help:    "Number of status periods in merge batches",
			Buckets: []float64{10, 50, 100, 250, 500, 1000, 5000, 10000},
		},
	)

	// Merge Metrics
	MergeRowsInserted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "merge_rows_inserted_total",
			Help: "Total number of status periods inserted by the merge writer",
		},
	)

	MergeDuplicatesSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "merge_duplicates_skipped_total",
			Help: "Total number of status periods skipped as duplicates",
		},
		[]string{"reason"}, // "batch", "existing"
	)

	MergeRowsFiltered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "merge_rows_filtered_total",
			Help: "Total number of off-shift status periods dropped before enrichment",
		},
	)

	// Watermark Metrics
	WatermarkTimestamp = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "watermark_timestamp_seconds",
			Help: "Unix timestamp of the sync watermark per machine",
		},
		[]string{"machine"},
	)

	WatermarkAdvances = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watermark_advances_total",
			Help: "Total number of watermark advances",
		},
		[]string{"machine"},
	)

	// Sensor Event Metrics (NATS)
	SensorEventsReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sensor_events_received_total",
			Help: "Total number of cut events received from the sensor bus",
		},
	)

	SensorEventsInserted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sensor_events_inserted_total",
			Help: "Total number of cut events persisted to the database",
		},
	)

	SensorEventsMalformed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sensor_events_malformed_total",
			Help: "Total number of sensor payloads dropped as malformed",
		},
	)

	SensorProcessingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sensor_processing_duration_seconds",
			Help:    "Duration of sensor event processing in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	SensorReconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sensor_reconnects_total",
			Help: "Total number of sensor bus reconnect attempts",
		},
	)

	// WebSocket Metrics
	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_connections",
			Help: "Current number of active WebSocket connections",
		},
	)

	WSMessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "websocket_messages_sent_total",
			Help: "Total number of WebSocket messages sent",
		},
	)

	WSMessagesReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "websocket_messages_received_total",
			Help: "Total number of WebSocket messages received",
		},
	)

	WSErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "websocket_errors_total",
			Help: "Total number of WebSocket errors",
		},
		[]string{"error_type"},
	)

	WSSubscriptions = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "websocket_subscriptions",
			Help: "Current number of subscribers per topic",
		},
		[]string{"topic"},
	)

	// Bridge Metrics
	BridgeQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bridge_queue_depth",
			Help: "Current number of events buffered in the sync-to-broadcast bridge",
		},
	)

	BridgeEventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bridge_events_dropped_total",
			Help: "Total number of events dropped by the bridge on overflow",
		},
	)

	BridgeEventsForwarded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bridge_events_forwarded_total",
			Help: "Total number of events forwarded by the bridge to the broadcaster",
		},
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker",
		},
		[]string{"name", "result"}, // result: "success", "failure", "rejected"
	)

	CircuitBreakerConsecutiveFailures = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_consecutive_failures",
			Help: "Current number of consecutive failures",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// Dead Letter Metrics
	DLQEntriesTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dlq_entries_total",
			Help: "Current number of parked windows in the dead letter store",
		},
	)

	DLQWindowsAdded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dlq_windows_added_total",
			Help: "Total number of failed windows added to the dead letter store",
		},
	)

	DLQWindowsRemoved = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dlq_windows_removed_total",
			Help: "Total number of windows removed after successful replay",
		},
	)

	DLQRetryAttempts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dlq_retry_attempts_total",
			Help: "Total number of retry attempts for parked windows",
		},
	)

	DLQRetrySuccesses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dlq_retry_successes_total",
			Help: "Total number of successful window replays",
		},
	)

	DLQRetryFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dlq_retry_failures_total",
			Help: "Total number of failed window replays",
		},
	)

	DLQOldestEntryAge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dlq_oldest_entry_age_seconds",
			Help: "Age of the oldest parked window in seconds",
		},
	)

	// System Metrics
	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_info",
			Help: "Application version and build information",
		},
		[]string{"version", "go_version"},
	)

	AppUptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "app_uptime_seconds",
			Help: "Application uptime in seconds",
		},
	)
)

// RecordDBQuery records a database query metric
func RecordDBQuery(operation, table string, duration time.Duration, err error) {
	DBQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
	if err != nil {
		errorType := err.Error()
		// Truncate long error messages
		if len(errorType) > 50 {
			errorType = errorType[:50]
		}
		DBQueryErrors.WithLabelValues(operation, table, errorType).Inc()
	}
}

// RecordAPIRequest records an API request metric
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordSyncRun records the outcome of a per-machine sync cycle
func RecordSyncRun(machine string, duration time.Duration, err error) {
	SyncDuration.WithLabelValues(machine).Observe(duration.Seconds())
	if err != nil {
		SyncErrors.WithLabelValues(machine, classifySyncError(err)).Inc()
	} else {
		SyncLastSuccess.WithLabelValues(machine).Set(float64(time.Now().Unix()))
	}
}

// classifySyncError buckets sync failures for the error_type label
func classifySyncError(err error) string {
	msg := err.Error()
	if msg == "" {
		return "unknown"
	}
	switch {
	case strings.Contains(msg, "telemetry"):
		return "telemetry_api"
	case strings.Contains(msg, "database"), strings.Contains(msg, "duckdb"):
		return "database"
	case strings.Contains(msg, "validation"):
		return "validation"
	default:
		return "other"
	}
}

// RecordFetchWindow records a window fetch attempt
func RecordFetchWindow(machine string, periods int, err error) {
	if err != nil {
		SyncWindowsSkipped.WithLabelValues(machine).Inc()
		return
	}
	SyncWindowsFetched.Inc()
	SyncPeriodsFetched.Add(float64(periods))
}

// RecordMergeBatch records the outcome of a dedup merge
func RecordMergeBatch(inserted, batchDuplicates, existingDuplicates, filtered int) {
	SyncBatchSize.Observe(float64(inserted + batchDuplicates + existingDuplicates + filtered))
	MergeRowsInserted.Add(float64(inserted))
	MergeDuplicatesSkipped.WithLabelValues("batch").Add(float64(batchDuplicates))
	MergeDuplicatesSkipped.WithLabelValues("existing").Add(float64(existingDuplicates))
	MergeRowsFiltered.Add(float64(filtered))
}

// RecordWatermarkAdvance records a watermark moving forward
func RecordWatermarkAdvance(machine string, watermark time.Time) {
	WatermarkAdvances.WithLabelValues(machine).Inc()
	WatermarkTimestamp.WithLabelValues(machine).Set(float64(watermark.Unix()))
}

// SetWatermark updates the watermark gauge without counting an advance
func SetWatermark(machine string, watermark time.Time) {
	if watermark.IsZero() {
		return
	}
	WatermarkTimestamp.WithLabelValues(machine).Set(float64(watermark.Unix()))
}

// TrackActiveRequest tracks active API requests
func TrackActiveRequest(inc bool) {
	if inc {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}

// RecordSensorEvent records a sensor payload making it through decode and insert
func RecordSensorEvent(duration time.Duration, err error) {
	SensorEventsReceived.Inc()
	SensorProcessingDuration.Observe(duration.Seconds())
	if err == nil {
		SensorEventsInserted.Inc()
	}
}

// RecordSensorMalformed records a sensor payload dropped before processing
func RecordSensorMalformed() {
	SensorEventsReceived.Inc()
	SensorEventsMalformed.Inc()
}

// RecordSensorReconnect records a sensor bus reconnect attempt
func RecordSensorReconnect() {
	SensorReconnects.Inc()
}

// RecordBridgeEnqueue updates the bridge queue depth after an enqueue
func RecordBridgeEnqueue(depth int, dropped bool) {
	BridgeQueueDepth.Set(float64(depth))
	if dropped {
		BridgeEventsDropped.Inc()
	}
}

// RecordBridgeForward records an event handed to the broadcaster
func RecordBridgeForward(depth int) {
	BridgeQueueDepth.Set(float64(depth))
	BridgeEventsForwarded.Inc()
}

// RecordDLQAdd records a failed window being parked
func RecordDLQAdd() {
	DLQWindowsAdded.Inc()
}

// RecordDLQRemoval records a parked window removed after successful replay
func RecordDLQRemoval() {
	DLQWindowsRemoved.Inc()
}

// RecordDLQRetry records a replay attempt and its outcome
func RecordDLQRetry(success bool) {
	DLQRetryAttempts.Inc()
	if success {
		DLQRetrySuccesses.Inc()
	} else {
		DLQRetryFailures.Inc()
	}
}

// UpdateDLQGauges updates dead letter gauge metrics with current stats
func UpdateDLQGauges(totalEntries int64, oldestEntryAge float64) {
	DLQEntriesTotal.Set(float64(totalEntries))
	DLQOldestEntryAge.Set(oldestEntryAge)
}
