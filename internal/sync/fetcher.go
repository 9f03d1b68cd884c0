// Millwright - Factory Floor Telemetry Sync and Live Notifications
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/millwright

package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/tomtom215/millwright/internal/config"
	"github.com/tomtom215/millwright/internal/logging"
	"github.com/tomtom215/millwright/internal/metrics"
	"github.com/tomtom215/millwright/internal/telemetry"
)

// Window is a half-open fetch interval (Start, End]. Failed windows are
// handed to the dead letter store with these exact bounds so a replay
// requests the same range.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// FailedWindow pairs a skipped window with the error that sank it.
type FailedWindow struct {
	Window
	Err error
}

// Fetcher retrieves status periods from the telemetry API in bounded time
// windows. Large ranges (a machine that has never synced, or a long outage)
// are split so that a single slow or failing request cannot take down the
// whole cycle, and a rate limiter spaces consecutive requests to stay inside
// the API's documented limits.
type Fetcher struct {
	client         telemetry.Client
	limiter        *rate.Limiter
	windowSize     time.Duration
	requestTimeout time.Duration
	logger         zerolog.Logger
}

// NewFetcher builds a Fetcher from the telemetry configuration. A zero
// window delay disables request spacing.
func NewFetcher(client telemetry.Client, cfg *config.TelemetryConfig) *Fetcher {
	return &Fetcher{
		client:         client,
		limiter:        rate.NewLimiter(rate.Every(cfg.WindowDelay), 1),
		windowSize:     cfg.WindowSize,
		requestTimeout: cfg.RequestTimeout,
		logger:         logging.WithComponent("sync"),
	}
}

// FetchRange retrieves all status periods between start and end, walking
// backward from end one window at a time. A failed window is logged,
// recorded in the returned slice, and skipped; the walk continues with the
// remaining windows. Only context cancellation aborts the walk.
//
// Adjacent windows share a boundary instant, so a period ending exactly on a
// boundary can appear in two responses. Callers must deduplicate by period
// ID before storing.
func (f *Fetcher) FetchRange(ctx context.Context, machineID string, start, end time.Time) ([]telemetry.Period, []FailedWindow, error) {
	var (
		periods []telemetry.Period
		failed  []FailedWindow
	)

	for end.After(start) {
		if err := f.limiter.Wait(ctx); err != nil {
			return periods, failed, fmt.Errorf("rate limiter wait: %w", err)
		}

		windowStart := end.Add(-f.windowSize)
		if windowStart.Before(start) {
			windowStart = start
		}

		items, err := f.fetchOne(ctx, machineID, windowStart, end)
		if err != nil {
			metrics.RecordFetchWindow(machineID, 0, err)
			if ctx.Err() != nil {
				return periods, failed, fmt.Errorf("fetch cancelled: %w", ctx.Err())
			}

			f.logger.Warn().
				Err(err).
				Str("machine_id", machineID).
				Time("window_start", windowStart).
				Time("window_end", end).
				Msg("Fetch window failed, skipping to next window")
			failed = append(failed, FailedWindow{
				Window: Window{Start: windowStart, End: end},
				Err:    err,
			})
		} else {
			metrics.RecordFetchWindow(machineID, len(items), nil)
			f.logger.Debug().
				Str("machine_id", machineID).
				Time("window_start", windowStart).
				Time("window_end", end).
				Int("periods", len(items)).
				Msg("Fetched status period window")
			periods = append(periods, items...)
		}

		end = windowStart
	}

	return periods, failed, nil
}

// FetchWindow retrieves a single previously failed window during dead letter
// replay. Unlike FetchRange it does not swallow the error: the caller
// decides whether to record the attempt or discard the entry.
func (f *Fetcher) FetchWindow(ctx context.Context, machineID string, w Window) ([]telemetry.Period, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait: %w", err)
	}

	items, err := f.fetchOne(ctx, machineID, w.Start, w.End)
	if err != nil {
		metrics.RecordFetchWindow(machineID, 0, err)
		return nil, err
	}

	metrics.RecordFetchWindow(machineID, len(items), nil)
	return items, nil
}

// fetchOne performs one bounded API request.
func (f *Fetcher) fetchOne(ctx context.Context, machineID string, start, end time.Time) ([]telemetry.Period, error) {
	reqCtx, cancel := context.WithTimeout(ctx, f.requestTimeout)
	defer cancel()

	return f.client.FetchStatusPeriods(reqCtx, machineID, start, end)
}
