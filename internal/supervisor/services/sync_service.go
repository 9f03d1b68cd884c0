// Millwright - Factory Floor Telemetry Sync and Live Notifications
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/millwright

package services

import (
	"context"
	"fmt"
)

// StartStopManager matches the sync manager's lifecycle: Start spawns the
// internal ticker goroutine and returns, Stop blocks until it drains.
type StartStopManager interface {
	Start(ctx context.Context) error
	Stop() error
}

// SyncService adapts the Start/Stop lifecycle to suture's Serve pattern.
type SyncService struct {
	manager StartStopManager
}

// NewSyncService wraps a sync manager for supervision.
func NewSyncService(manager StartStopManager) *SyncService {
	return &SyncService{manager: manager}
}

// Serve starts the manager, blocks until cancellation, then stops it. A
// Start failure returns immediately so suture applies its restart policy.
func (s *SyncService) Serve(ctx context.Context) error {
	if err := s.manager.Start(ctx); err != nil {
		return fmt.Errorf("sync manager start failed: %w", err)
	}

	<-ctx.Done()

	if err := s.manager.Stop(); err != nil {
		return fmt.Errorf("sync manager stop failed: %w", err)
	}
	return ctx.Err()
}

// String identifies the service in supervisor logs.
func (s *SyncService) String() string {
	return "sync-manager"
}
