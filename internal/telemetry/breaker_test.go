// Millwright - Factory Floor Telemetry Sync and Live Notifications
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/millwright

package telemetry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/millwright/internal/config"
	"github.com/tomtom215/millwright/internal/metrics"
)

func testBreakerConfig() *config.TelemetryConfig {
	return &config.TelemetryConfig{
		URL:    "http://localhost:9999/rest/api/v0.1",
		APIKey: "test-key",
	}
}

// newTestBreaker builds a breaker client with a short timeout so recovery
// paths can be exercised without multi-minute sleeps.
func newTestBreaker(name string, maxRequests uint32, timeout time.Duration) *CircuitBreakerClient {
	cb := gobreaker.NewCircuitBreaker[interface{}](gobreaker.Settings{
		Name:        name,
		MaxRequests: maxRequests,
		Interval:    time.Second,
		Timeout:     timeout,

		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= 0.6
		},
	})

	return &CircuitBreakerClient{
		client: NewAPIClient(testBreakerConfig()),
		cb:     cb,
		name:   name,
	}
}

// TestCircuitBreaker_OpensAfterFailures verifies circuit opens after exceeding failure threshold
func TestCircuitBreaker_OpensAfterFailures(t *testing.T) {
	cbc := NewCircuitBreakerClient(testBreakerConfig())

	// Initial state should be closed (0)
	if state := cbc.cb.State(); state != gobreaker.StateClosed {
		t.Errorf("Expected initial state to be Closed, got %v", state)
	}

	// Simulate 10 API calls with 7 failures (70% failure rate)
	successCount := 0
	failureCount := 0

	for i := 0; i < 10; i++ {
		_, err := cbc.execute(func() (interface{}, error) {
			if i < 7 {
				return nil, errors.New("simulated API failure")
			}
			return "success", nil
		})

		if err != nil {
			failureCount++
		} else {
			successCount++
		}
	}

	if failureCount != 7 {
		t.Errorf("Expected 7 failures, got %d", failureCount)
	}
	if successCount != 3 {
		t.Errorf("Expected 3 successes, got %d", successCount)
	}

	// The trip check only runs when a request fails, and the last call above
	// was a success. One more failure pushes the window past the minimum
	// request count and trips the circuit.
	_, _ = cbc.execute(func() (interface{}, error) {
		return nil, errors.New("final failure to trigger circuit")
	})

	if state := cbc.cb.State(); state != gobreaker.StateOpen {
		t.Errorf("Expected circuit to be Open after 70%% failure rate, got %v", state)
	}

	// Verify next request is rejected with ErrOpenState
	_, err := cbc.execute(func() (interface{}, error) {
		return "should not execute", nil
	})

	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Errorf("Expected ErrOpenState when circuit is open, got %v", err)
	}
}

// TestCircuitBreaker_DoesNotOpenBelowThreshold verifies circuit stays closed below failure threshold
func TestCircuitBreaker_DoesNotOpenBelowThreshold(t *testing.T) {
	cbc := NewCircuitBreakerClient(testBreakerConfig())

	// 10 API calls with 5 failures (50% failure rate) stays below the 60%
	// threshold, so the circuit must remain closed.
	for i := 0; i < 10; i++ {
		_, _ = cbc.execute(func() (interface{}, error) {
			if i < 5 {
				return nil, errors.New("simulated API failure")
			}
			return "success", nil
		})
	}

	if state := cbc.cb.State(); state != gobreaker.StateClosed {
		t.Errorf("Expected circuit to remain Closed with 50%% failure rate, got %v", state)
	}
}

// TestCircuitBreaker_RequiresMinimumRequests verifies circuit requires minimum 10 requests
func TestCircuitBreaker_RequiresMinimumRequests(t *testing.T) {
	cbc := NewCircuitBreakerClient(testBreakerConfig())

	// Only 5 calls with 100% failure rate. The circuit needs at least 10
	// requests for statistical significance before it may open.
	for i := 0; i < 5; i++ {
		_, _ = cbc.execute(func() (interface{}, error) {
			return nil, errors.New("simulated API failure")
		})
	}

	if state := cbc.cb.State(); state != gobreaker.StateClosed {
		t.Errorf("Expected circuit to remain Closed with <10 requests, got %v", state)
	}
}

// TestCircuitBreaker_TransitionsToHalfOpen verifies circuit transitions to half-open after timeout
func TestCircuitBreaker_TransitionsToHalfOpen(t *testing.T) {
	cbc := newTestBreaker("test-circuit-breaker", 3, 100*time.Millisecond)

	// Force circuit to open state by exceeding failure threshold
	for i := 0; i < 10; i++ {
		_, _ = cbc.execute(func() (interface{}, error) {
			return nil, errors.New("simulated API failure")
		})
	}

	if state := cbc.cb.State(); state != gobreaker.StateOpen {
		t.Fatalf("Expected circuit to be Open, got %v", state)
	}

	// Wait for timeout to transition to half-open
	time.Sleep(150 * time.Millisecond)

	_, _ = cbc.execute(func() (interface{}, error) {
		return "test", nil
	})

	// State should be half-open or closed (depending on success)
	if state := cbc.cb.State(); state == gobreaker.StateOpen {
		t.Errorf("Expected circuit to transition from Open after timeout, still Open")
	}
}

// TestCircuitBreaker_ClosesAfterSuccessInHalfOpen verifies circuit closes after success in half-open
func TestCircuitBreaker_ClosesAfterSuccessInHalfOpen(t *testing.T) {
	cbc := newTestBreaker("test-circuit-breaker-recovery", 1, 100*time.Millisecond)

	// Force circuit to open
	for i := 0; i < 10; i++ {
		_, _ = cbc.execute(func() (interface{}, error) {
			return nil, errors.New("simulated API failure")
		})
	}

	// Wait for timeout
	time.Sleep(150 * time.Millisecond)

	// Execute successful request in half-open state
	_, err := cbc.execute(func() (interface{}, error) {
		return "success", nil
	})
	if err != nil {
		t.Errorf("Expected successful request in half-open, got error: %v", err)
	}

	// With MaxRequests=1 a single success closes the circuit.
	if state := cbc.cb.State(); state != gobreaker.StateClosed {
		t.Errorf("Expected circuit to close after success in half-open, got %v", state)
	}
}

// TestCircuitBreaker_RealAPICall verifies circuit breaker works with an actual client method
func TestCircuitBreaker_RealAPICall(t *testing.T) {
	cbc := NewCircuitBreakerClient(&config.TelemetryConfig{
		URL:            "http://127.0.0.1:1/rest/api/v0.1",
		APIKey:         "test-key",
		RequestTimeout: 500 * time.Millisecond,
	})

	err := cbc.Ping(context.Background(), "662fbf38a1c0a89b73f9b2a1")
	if err == nil {
		t.Error("Expected error when calling unreachable telemetry URL")
	}

	// Verify circuit breaker processed the request (counts should be updated)
	if counts := cbc.cb.Counts(); counts.Requests == 0 {
		t.Error("Expected circuit breaker to track request")
	}
}

// TestCircuitBreaker_FetchStatusPeriods verifies typed results survive the breaker round trip
func TestCircuitBreaker_FetchStatusPeriods(t *testing.T) {
	windowStart := time.Date(2026, 3, 16, 6, 0, 0, 0, time.UTC)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writePage(t, w, []Period{testPeriod("period-1", windowStart)}, 1)
	}))
	defer server.Close()

	cbc := NewCircuitBreakerClient(&config.TelemetryConfig{
		URL:    server.URL,
		APIKey: "test-key",
	})

	periods, err := cbc.FetchStatusPeriods(context.Background(), "662fbf38a1c0a89b73f9b2a1", windowStart, windowStart.Add(time.Hour))
	if err != nil {
		t.Fatalf("FetchStatusPeriods() error = %v", err)
	}
	if len(periods) != 1 || periods[0].ID != "period-1" {
		t.Errorf("periods = %+v, want single period-1", periods)
	}
}

// TestCastResult verifies the typed conversion helper
func TestCastResult(t *testing.T) {
	t.Parallel()

	t.Run("successful cast", func(t *testing.T) {
		t.Parallel()
		input := []Period{{ID: "p1"}}

		result, err := castResult[[]Period](interface{}(input), nil)
		if err != nil {
			t.Fatalf("castResult() error = %v", err)
		}
		if len(result) != 1 || result[0].ID != "p1" {
			t.Errorf("result = %+v, want input slice", result)
		}
	})

	t.Run("error passes through", func(t *testing.T) {
		t.Parallel()
		wantErr := errors.New("upstream failure")

		_, err := castResult[[]Period](nil, wantErr)
		if !errors.Is(err, wantErr) {
			t.Errorf("castResult() error = %v, want %v", err, wantErr)
		}
	})

	t.Run("type mismatch returns error", func(t *testing.T) {
		t.Parallel()

		_, err := castResult[[]Period]("not a slice", nil)
		if err == nil {
			t.Fatal("expected error for type mismatch")
		}
		if !strings.Contains(err.Error(), "unexpected result type") {
			t.Errorf("error = %v, want unexpected result type", err)
		}
	})
}

// TestCircuitBreaker_StateHelpers verifies stateToFloat and stateToString helpers
func TestCircuitBreaker_StateHelpers(t *testing.T) {
	tests := []struct {
		state       gobreaker.State
		expectedStr string
		expectedNum float64
	}{
		{gobreaker.StateClosed, "closed", 0},
		{gobreaker.StateHalfOpen, "half-open", 1},
		{gobreaker.StateOpen, "open", 2},
	}

	for _, tt := range tests {
		t.Run(tt.expectedStr, func(t *testing.T) {
			if str := stateToString(tt.state); str != tt.expectedStr {
				t.Errorf("stateToString(%v) = %s, expected %s", tt.state, str, tt.expectedStr)
			}
			if num := stateToFloat(tt.state); num != tt.expectedNum {
				t.Errorf("stateToFloat(%v) = %f, expected %f", tt.state, num, tt.expectedNum)
			}
		})
	}
}

// TestCircuitBreaker_ImplementsClient verifies both implementations satisfy Client
func TestCircuitBreaker_ImplementsClient(t *testing.T) {
	var _ Client = (*APIClient)(nil)
	var _ Client = (*CircuitBreakerClient)(nil)
}

// BenchmarkCircuitBreaker_ClosedState benchmarks throughput in closed state
func BenchmarkCircuitBreaker_ClosedState(b *testing.B) {
	cbc := NewCircuitBreakerClient(testBreakerConfig())

	metrics.CircuitBreakerState.WithLabelValues(cbc.name).Set(0)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = cbc.execute(func() (interface{}, error) {
			return "success", nil
		})
	}
}

// BenchmarkCircuitBreaker_OpenState benchmarks rejection speed in open state
func BenchmarkCircuitBreaker_OpenState(b *testing.B) {
	cbc := NewCircuitBreakerClient(testBreakerConfig())

	// Force circuit to open
	for i := 0; i < 10; i++ {
		_, _ = cbc.execute(func() (interface{}, error) {
			return nil, errors.New("failure")
		})
	}

	if cbc.cb.State() != gobreaker.StateOpen {
		b.Fatalf("Circuit should be open for benchmark")
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		// These should all be rejected instantly
		_, _ = cbc.execute(func() (interface{}, error) {
			return "should not execute", nil
		})
	}
}
