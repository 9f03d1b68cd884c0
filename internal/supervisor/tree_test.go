// Millwright - Factory Floor Telemetry Sync and Live Notifications
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/millwright

package supervisor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type countingService struct {
	name  string
	runs  atomic.Int32
	block bool
}

func (s *countingService) Serve(ctx context.Context) error {
	s.runs.Add(1)
	if s.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return errors.New("transient failure")
}

func (s *countingService) String() string { return s.name }

func TestDefaultTreeConfig(t *testing.T) {
	cfg := DefaultTreeConfig()
	if cfg.FailureThreshold != 5.0 || cfg.FailureDecay != 30.0 {
		t.Errorf("Unexpected defaults: %+v", cfg)
	}
	if cfg.FailureBackoff != 15*time.Second || cfg.ShutdownTimeout != 10*time.Second {
		t.Errorf("Unexpected defaults: %+v", cfg)
	}
}

func TestNewTreeAppliesDefaults(t *testing.T) {
	tree := NewTree(testLogger(), TreeConfig{})
	if tree.config != DefaultTreeConfig() {
		t.Errorf("Zero config was not defaulted: %+v", tree.config)
	}
	if tree.Root() == nil {
		t.Fatal("Root() returned nil")
	}
}

func TestTreeRunsServicesInEveryLayer(t *testing.T) {
	tree := NewTree(testLogger(), DefaultTreeConfig())

	layers := map[string]*countingService{
		"data":      {name: "data-svc", block: true},
		"ingest":    {name: "ingest-svc", block: true},
		"messaging": {name: "messaging-svc", block: true},
		"api":       {name: "api-svc", block: true},
	}
	tree.AddDataService(layers["data"])
	tree.AddIngestService(layers["ingest"])
	tree.AddMessagingService(layers["messaging"])
	tree.AddAPIService(layers["api"])

	ctx, cancel := context.WithCancel(context.Background())
	errCh := tree.ServeBackground(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for {
		allRunning := true
		for _, svc := range layers {
			if svc.runs.Load() == 0 {
				allRunning = false
			}
		}
		if allRunning {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("Not every layer's service started")
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case <-errCh:
	case <-time.After(2 * time.Second):
		t.Fatal("Tree did not stop after cancel")
	}
}

func TestTreeRestartsFailingService(t *testing.T) {
	tree := NewTree(testLogger(), TreeConfig{
		FailureThreshold: 100, // keep restarting without backoff during the test
		FailureDecay:     30,
		FailureBackoff:   time.Second,
		ShutdownTimeout:  time.Second,
	})

	svc := &countingService{name: "flaky"}
	tree.AddMessagingService(svc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := tree.ServeBackground(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for svc.runs.Load() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("Service restarted %d times, want at least 2", svc.runs.Load())
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case <-errCh:
	case <-time.After(2 * time.Second):
		t.Fatal("Tree did not stop after cancel")
	}
}
