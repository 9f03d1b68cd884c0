// Millwright - Factory Floor Telemetry Sync and Live Notifications
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/millwright

package services

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tomtom215/millwright/internal/notify"
)

type fakeManager struct {
	startErr error
	stopErr  error
	started  atomic.Bool
	stopped  atomic.Bool
}

func (m *fakeManager) Start(context.Context) error {
	if m.startErr != nil {
		return m.startErr
	}
	m.started.Store(true)
	return nil
}

func (m *fakeManager) Stop() error {
	m.stopped.Store(true)
	return m.stopErr
}

func TestSyncServiceLifecycle(t *testing.T) {
	mgr := &fakeManager{}
	svc := NewSyncService(mgr)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	deadline := time.Now().Add(time.Second)
	for !mgr.started.Load() {
		if time.Now().After(deadline) {
			t.Fatal("Manager never started")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve returned %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Serve did not return after cancel")
	}
	if !mgr.stopped.Load() {
		t.Error("Manager was not stopped on shutdown")
	}
}

func TestSyncServiceStartFailure(t *testing.T) {
	mgr := &fakeManager{startErr: errors.New("boom")}
	svc := NewSyncService(mgr)

	err := svc.Serve(context.Background())
	if err == nil || !errors.Is(err, mgr.startErr) {
		t.Errorf("Serve returned %v, want wrapped start error", err)
	}
	if mgr.stopped.Load() {
		t.Error("Stop was called after a failed start")
	}
}

type fakeHTTPServer struct {
	listenErr  error
	closed     chan struct{}
	shutdownOK atomic.Bool
}

func newFakeHTTPServer() *fakeHTTPServer {
	return &fakeHTTPServer{closed: make(chan struct{})}
}

func (s *fakeHTTPServer) ListenAndServe() error {
	if s.listenErr != nil {
		return s.listenErr
	}
	<-s.closed
	return http.ErrServerClosed
}

func (s *fakeHTTPServer) Shutdown(context.Context) error {
	s.shutdownOK.Store(true)
	close(s.closed)
	return nil
}

func TestHTTPServerServiceGracefulShutdown(t *testing.T) {
	srv := newFakeHTTPServer()
	svc := NewHTTPServerService(srv, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve returned %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Serve did not return after cancel")
	}
	if !srv.shutdownOK.Load() {
		t.Error("Shutdown was not invoked")
	}
}

func TestHTTPServerServiceListenFailure(t *testing.T) {
	srv := newFakeHTTPServer()
	srv.listenErr = errors.New("address in use")
	svc := NewHTTPServerService(srv, time.Second)

	err := svc.Serve(context.Background())
	if err == nil || !errors.Is(err, srv.listenErr) {
		t.Errorf("Serve returned %v, want wrapped listen error", err)
	}
}

type fakeHub struct{ ran atomic.Bool }

func (h *fakeHub) RunWithContext(ctx context.Context) error {
	h.ran.Store(true)
	<-ctx.Done()
	return ctx.Err()
}

func TestWebSocketHubServiceDelegates(t *testing.T) {
	hub := &fakeHub{}
	svc := NewWebSocketHubService(hub)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve returned %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Serve did not return after cancel")
	}
	if !hub.ran.Load() {
		t.Error("Hub run loop never started")
	}
}

type fakeForwarder struct{ got atomic.Pointer[notify.Publisher] }

func (f *fakeForwarder) Run(ctx context.Context, pub notify.Publisher) error {
	f.got.Store(&pub)
	<-ctx.Done()
	return ctx.Err()
}

type nullPublisher struct{}

func (nullPublisher) Publish(notify.Topic, notify.Event) {}

func TestBridgeServiceBindsPublisher(t *testing.T) {
	fwd := &fakeForwarder{}
	svc := NewBridgeService(fwd, nullPublisher{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()
	cancel()
	<-done

	if fwd.got.Load() == nil {
		t.Fatal("Bridge was never run with a publisher")
	}
}

func TestServiceNames(t *testing.T) {
	names := map[string]interface{ String() string }{
		"sync-manager":  NewSyncService(&fakeManager{}),
		"http-server":   NewHTTPServerService(newFakeHTTPServer(), 0),
		"websocket-hub": NewWebSocketHubService(&fakeHub{}),
		"notify-bridge": NewBridgeService(&fakeForwarder{}, nullPublisher{}),
	}
	for want, svc := range names {
		if got := svc.String(); got != want {
			t.Errorf("String() = %q, want %q", got, want)
		}
	}
}
