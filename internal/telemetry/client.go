// Millwright - Factory Floor Telemetry Sync and Live Notifications
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/millwright

// Package telemetry provides the HTTP client for the machine-monitoring
// platform's REST API. The client fetches machine status periods over
// bounded time windows with 0-based pagination, authenticates with an API
// key header, and retries HTTP 429 responses with exponential backoff.
//
// Production callers should wrap the client in a CircuitBreakerClient so
// that a misbehaving upstream cannot stall sync cycles indefinitely.
package telemetry

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/tomtom215/millwright/internal/config"
	"github.com/tomtom215/millwright/internal/logging"
)

const (
	// maxErrorBodySize limits how much of an error response body is read
	// for error messages (64KB).
	maxErrorBodySize = 64 * 1024

	defaultPageSize       = 1000
	defaultRequestTimeout = 30 * time.Second
	defaultMaxRetries     = 5
	defaultRetryBaseDelay = 1 * time.Second

	// pingWindow is the lookback used by Ping. Any response, including an
	// empty page, proves the API is reachable and the key is accepted.
	pingWindow = time.Minute
)

// Period is one machine status period as returned by the telemetry API.
// Timestamps are RFC3339 UTC. DowntimeReason is empty for productive
// periods.
type Period struct {
	ID             string    `json:"id"`
	MachineID      string    `json:"machine_id"`
	StartTimestamp time.Time `json:"start_timestamp"`
	EndTimestamp   time.Time `json:"end_timestamp"`
	Classification string    `json:"classification"`
	Productivity   string    `json:"productivity"`
	DowntimeReason string    `json:"downtime_reason"`
	Name           string    `json:"name"`
}

// periodsResponse is the paginated envelope around status periods.
type periodsResponse struct {
	Items []Period `json:"items"`
	Total int      `json:"total"`
}

// Client defines the telemetry API operations consumed by the sync
// subsystem. Both APIClient and CircuitBreakerClient implement it; the
// latter should be preferred everywhere outside tests.
//
// All methods follow a consistent pattern:
//   - Accept context.Context as first parameter for cancellation/timeout support
//   - Return error on HTTP failures, API errors, or JSON parse failures
//
// Thread Safety: All methods are safe for concurrent use.
type Client interface {
	Ping(ctx context.Context, machineID string) error
	FetchStatusPeriods(ctx context.Context, machineID string, start, end time.Time) ([]Period, error)
}

// APIClient is a client for the telemetry REST API with built-in rate
// limit handling. The configured base URL carries the provider's version
// prefix (for example /rest/api/v0.1); the client appends only the
// resource path.
type APIClient struct {
	baseURL        string
	apiKey         string
	pageSize       int
	client         *http.Client
	maxRetries     int
	retryBaseDelay time.Duration
	logger         zerolog.Logger
}

// NewAPIClient creates a new telemetry API client from configuration.
func NewAPIClient(cfg *config.TelemetryConfig) *APIClient {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}

	return &APIClient{
		baseURL:  strings.TrimSuffix(cfg.URL, "/"),
		apiKey:   cfg.APIKey,
		pageSize: pageSize,
		client: &http.Client{
			Timeout: timeout,
		},
		maxRetries:     defaultMaxRetries,
		retryBaseDelay: defaultRetryBaseDelay,
		logger:         logging.WithComponent("telemetry"),
	}
}

// FetchStatusPeriods retrieves all status periods for one machine between
// start and end (inclusive bounds as interpreted by the upstream API).
// Pages are fetched sequentially until a short page is returned or the
// reported total is satisfied.
func (c *APIClient) FetchStatusPeriods(ctx context.Context, machineID string, start, end time.Time) ([]Period, error) {
	var all []Period

	for page := 0; ; page++ {
		resp, err := c.fetchPage(ctx, machineID, start, end, page, c.pageSize)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch page %d: %w", page, err)
		}

		all = append(all, resp.Items...)

		if len(resp.Items) < c.pageSize {
			break
		}
		if resp.Total > 0 && len(all) >= resp.Total {
			break
		}
	}

	return all, nil
}

// Ping verifies connectivity to the telemetry API by requesting a single
// status period for the given machine over the last minute.
func (c *APIClient) Ping(ctx context.Context, machineID string) error {
	now := time.Now().UTC()

	if _, err := c.fetchPage(ctx, machineID, now.Add(-pingWindow), now, 0, 1); err != nil {
		return fmt.Errorf("telemetry API ping failed: %w", err)
	}

	return nil
}

// fetchPage requests one page of status periods.
func (c *APIClient) fetchPage(ctx context.Context, machineID string, start, end time.Time, page, pageSize int) (*periodsResponse, error) {
	params := url.Values{}
	params.Set("asset_ids", machineID)
	params.Set("start_timestamp", formatTimestamp(start))
	params.Set("end_timestamp", formatTimestamp(end))
	params.Set("page_size", strconv.Itoa(pageSize))
	params.Set("page", strconv.Itoa(page))

	reqURL := fmt.Sprintf("%s/status-periods?%s", c.baseURL, params.Encode())

	resp, err := c.doRequestWithRateLimit(ctx, reqURL)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body := readBodyForError(resp.Body)
		return nil, fmt.Errorf("telemetry API returned status %d: %s", resp.StatusCode, string(body))
	}

	var response periodsResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return &response, nil
}

// doRequestWithRateLimit executes an HTTP request with automatic retry on
// rate limiting (HTTP 429). Retries use exponential backoff starting at
// retryBaseDelay, honoring the Retry-After header when present.
func (c *APIClient) doRequestWithRateLimit(ctx context.Context, reqURL string) (*http.Response, error) {
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("request cancelled: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("X-API-Key", c.apiKey)
		req.Header.Set("Accept", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("failed to execute request: %w", err)
		}

		if resp.StatusCode != http.StatusTooManyRequests {
			return resp, nil
		}

		// Rate limited. Drain and close before retrying.
		retryAfter := resp.Header.Get("Retry-After")
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBodySize))
		_ = resp.Body.Close()

		if attempt == c.maxRetries {
			break
		}

		delay := c.retryBaseDelay * (1 << attempt)
		if parsed, ok := parseRetryAfter(retryAfter); ok {
			delay = parsed
		}

		c.logger.Warn().
			Int("attempt", attempt+1).
			Int("max_retries", c.maxRetries).
			Dur("delay", delay).
			Msg("Telemetry API rate limited, retrying")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, fmt.Errorf("request cancelled during rate limit wait: %w", ctx.Err())
		}
	}

	return nil, fmt.Errorf("rate limit exceeded after %d retries (HTTP 429)", c.maxRetries)
}

// parseRetryAfter interprets a Retry-After header value, which carries
// either delta-seconds or an HTTP-date. A date already in the past yields a
// zero delay.
func parseRetryAfter(value string) (time.Duration, bool) {
	if value == "" {
		return 0, false
	}

	if seconds, err := strconv.Atoi(value); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second, true
	}

	if when, err := http.ParseTime(value); err == nil {
		if delay := time.Until(when); delay > 0 {
			return delay, true
		}
		return 0, true
	}

	return 0, false
}

// readBodyForError reads a response body for inclusion in an error
// message, truncating it to maxErrorBodySize.
func readBodyForError(r io.Reader) []byte {
	limitedReader := io.LimitReader(r, maxErrorBodySize)
	body, err := io.ReadAll(limitedReader)
	if err != nil {
		return []byte("(failed to read response body)")
	}
	// If we hit the limit, indicate truncation
	if len(body) == maxErrorBodySize {
		return append(body, []byte("\n... (truncated)")...)
	}
	return body
}

// formatTimestamp renders a timestamp the way the upstream API expects:
// RFC3339 in UTC with a "Z" suffix.
func formatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
