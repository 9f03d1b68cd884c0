// Millwright - Factory Floor Telemetry Sync and Live Notifications
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/millwright

package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/millwright/internal/config"
	"github.com/tomtom215/millwright/internal/logging"
	"github.com/tomtom215/millwright/internal/metrics"
)

// cbName identifies the telemetry API circuit breaker in logs and metrics.
const cbName = "telemetry-api"

// CircuitBreakerClient wraps APIClient with circuit breaker protection.
// When the upstream API fails repeatedly the circuit opens and requests
// are rejected immediately instead of tying up sync workers on timeouts.
//
// Settings:
//   - Opens after 60% failure rate over a minimum of 10 requests
//   - Stays open for 2 minutes before probing
//   - Allows 3 probe requests in half-open state
type CircuitBreakerClient struct {
	client *APIClient
	cb     *gobreaker.CircuitBreaker[interface{}]
	name   string
	logger zerolog.Logger
}

// NewCircuitBreakerClient creates a telemetry client with circuit breaker
// protection from configuration.
func NewCircuitBreakerClient(cfg *config.TelemetryConfig) *CircuitBreakerClient {
	logger := logging.WithComponent("telemetry")

	settings := gobreaker.Settings{
		Name:        cbName,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,

		ReadyToTrip: func(counts gobreaker.Counts) bool {
			// Require a minimum number of requests for statistical significance.
			if counts.Requests < 10 {
				return false
			}

			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			if failureRatio >= 0.6 {
				logger.Warn().
					Uint32("requests", counts.Requests).
					Uint32("failures", counts.TotalFailures).
					Float64("failure_ratio", failureRatio).
					Msg("[CIRCUIT BREAKER] Opening circuit")
				return true
			}

			return false
		},

		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().
				Str("circuit_breaker", name).
				Str("from_state", stateToString(from)).
				Str("to_state", stateToString(to)).
				Msg("[CIRCUIT BREAKER] State changed")

			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, stateToString(from), stateToString(to)).Inc()

			if to == gobreaker.StateClosed {
				metrics.CircuitBreakerConsecutiveFailures.WithLabelValues(name).Set(0)
			}
		},
	}

	cbc := &CircuitBreakerClient{
		client: NewAPIClient(cfg),
		cb:     gobreaker.NewCircuitBreaker[interface{}](settings),
		name:   cbName,
		logger: logger,
	}

	// Initialize gauges so the series exist before the first transition.
	metrics.CircuitBreakerState.WithLabelValues(cbName).Set(stateToFloat(gobreaker.StateClosed))
	metrics.CircuitBreakerConsecutiveFailures.WithLabelValues(cbName).Set(0)

	return cbc
}

// execute runs fn through the circuit breaker and records the outcome.
func (cbc *CircuitBreakerClient) execute(fn func() (interface{}, error)) (interface{}, error) {
	result, err := cbc.cb.Execute(fn)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.CircuitBreakerRequests.WithLabelValues(cbc.name, "rejected").Inc()
			cbc.logger.Warn().
				Str("circuit_breaker", cbc.name).
				Err(err).
				Msg("[CIRCUIT BREAKER] Request rejected")
		} else {
			metrics.CircuitBreakerRequests.WithLabelValues(cbc.name, "failure").Inc()
			counts := cbc.cb.Counts()
			metrics.CircuitBreakerConsecutiveFailures.WithLabelValues(cbc.name).Set(float64(counts.ConsecutiveFailures))
		}
		return nil, err
	}

	metrics.CircuitBreakerRequests.WithLabelValues(cbc.name, "success").Inc()
	metrics.CircuitBreakerConsecutiveFailures.WithLabelValues(cbc.name).Set(0)

	return result, nil
}

// castResult converts the circuit breaker's untyped result back to T.
func castResult[T any](result interface{}, err error) (T, error) {
	var zero T
	if err != nil {
		return zero, err
	}

	typed, ok := result.(T)
	if !ok {
		return zero, fmt.Errorf("circuit breaker: unexpected result type %T", result)
	}

	return typed, nil
}

// Ping verifies connectivity through the circuit breaker.
func (cbc *CircuitBreakerClient) Ping(ctx context.Context, machineID string) error {
	_, err := cbc.execute(func() (interface{}, error) {
		return nil, cbc.client.Ping(ctx, machineID)
	})
	return err
}

// FetchStatusPeriods retrieves status periods through the circuit breaker.
func (cbc *CircuitBreakerClient) FetchStatusPeriods(ctx context.Context, machineID string, start, end time.Time) ([]Period, error) {
	return castResult[[]Period](cbc.execute(func() (interface{}, error) {
		return cbc.client.FetchStatusPeriods(ctx, machineID, start, end)
	}))
}

// State returns the current circuit breaker state for health reporting.
func (cbc *CircuitBreakerClient) State() gobreaker.State {
	return cbc.cb.State()
}

// stateToFloat converts a circuit breaker state to its metric value.
func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

// stateToString converts a circuit breaker state to its label value.
func stateToString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}
