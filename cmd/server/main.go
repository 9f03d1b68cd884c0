// Millwright - Factory Floor Telemetry Sync and Live Notifications
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/millwright

// Command server runs the Millwright process: the telemetry sync
// orchestrator, the sensor cut-event listener, the WebSocket notification
// surface, and the HTTP API, all under one suture supervision tree.
//
// Startup order:
//  1. Load configuration and initialize logging.
//  2. Open the DuckDB store (and the Badger dead-letter store if enabled).
//  3. Run the one-time CSV backfill if configured.
//  4. Build the telemetry client (circuit-broken), bridge, hub, and sync
//     manager.
//  5. Start the embedded NATS server and sensor listener if enabled.
//  6. Assemble the supervision tree and serve until SIGINT/SIGTERM.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tomtom215/millwright/internal/api"
	"github.com/tomtom215/millwright/internal/config"
	"github.com/tomtom215/millwright/internal/deadletter"
	"github.com/tomtom215/millwright/internal/importer"
	"github.com/tomtom215/millwright/internal/logging"
	"github.com/tomtom215/millwright/internal/notify"
	"github.com/tomtom215/millwright/internal/sensor"
	"github.com/tomtom215/millwright/internal/store"
	"github.com/tomtom215/millwright/internal/supervisor"
	"github.com/tomtom215/millwright/internal/supervisor/services"
	msync "github.com/tomtom215/millwright/internal/sync"
	"github.com/tomtom215/millwright/internal/telemetry"
	ws "github.com/tomtom215/millwright/internal/websocket"
)

// version is stamped at build time via -ldflags.
var version = "dev"

// syncStatusProvider adapts the manager's typed snapshot to the hub's
// get_status contract.
type syncStatusProvider struct {
	manager *msync.Manager
}

func (p syncStatusProvider) Status() interface{} {
	return p.manager.Status()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("version", version).
		Int("machines", len(cfg.GetMachines())).
		Str("db_path", cfg.Database.Path).
		Bool("sensor_enabled", cfg.NATS.Enabled).
		Bool("dead_letter_enabled", cfg.DeadLetter.Enabled).
		Msg("Starting Millwright")

	db, err := store.New(&cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open store")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing store")
		}
	}()

	// The telemetry client is wrapped in a circuit breaker so an upstream
	// outage trips fast instead of stacking timed-out fetches.
	client := telemetry.NewCircuitBreakerClient(&cfg.Telemetry)
	if len(cfg.GetMachines()) > 0 {
		if err := client.Ping(context.Background(), cfg.GetMachines()[0].ID); err != nil {
			logging.Warn().Err(err).Msg("Telemetry API unreachable at startup (sync will retry)")
		}
	}

	bridge := notify.NewBridge(cfg.Bridge.Capacity)

	var dlq *deadletter.Store
	var managerDLQ msync.DeadLetters
	if cfg.DeadLetter.Enabled {
		dlq, err = deadletter.Open(&cfg.DeadLetter)
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to open dead-letter store")
		}
		defer func() {
			if err := dlq.Close(); err != nil {
				logging.Error().Err(err).Msg("Error closing dead-letter store")
			}
		}()
		managerDLQ = dlq
	}

	manager, err := msync.NewManager(db, client, bridge, managerDLQ, cfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to build sync manager")
	}

	if cfg.Import.Enabled {
		runBackfill(cfg, db)
	}

	registry := ws.NewRegistry()
	hub := ws.NewHub(registry)
	hub.SetStatusProvider(syncStatusProvider{manager: manager})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())

	tree.AddDataService(services.NewSyncService(manager))
	tree.AddMessagingService(services.NewWebSocketHubService(hub))
	tree.AddMessagingService(services.NewBridgeService(bridge, hub))

	var listener *sensor.Listener
	if cfg.NATS.Enabled {
		listener = setupSensor(ctx, cfg, db, bridge)
		if listener != nil {
			tree.AddIngestService(listener)
		}
	}

	handler := api.NewHandler(api.HandlerDeps{
		Config:   cfg,
		Store:    db,
		Syncer:   manager,
		Hub:      hub,
		Notifier: bridge,
		Sensor:   sensorStatus(listener),
		DeadLetters: func() api.DeadLetters {
			if dlq != nil {
				return dlq
			}
			return nil
		}(),
		Version: version,
	})
	router := api.NewRouter(handler, api.NewChiMiddleware(api.MiddlewareConfigFromSecurity(&cfg.Security)))

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router.Setup(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.Timeout,
		WriteTimeout:      cfg.Server.Timeout,
	}
	tree.AddAPIService(services.NewHTTPServerService(srv, 10*time.Second))

	logging.Info().Str("addr", srv.Addr).Msg("Supervision tree starting")
	if err := tree.Serve(ctx); err != nil && err != context.Canceled {
		logging.Error().Err(err).Msg("Supervision tree exited with error")
	}

	logging.Info().Msg("Shutdown complete")
}

// runBackfill executes the one-time CSV import. A backfill failure is fatal:
// starting sync against a half-imported history would interleave partial
// data with live fetches.
func runBackfill(cfg *config.Config, db *store.Store) {
	deriver, err := msync.NewDeriver(&cfg.Shifts)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to build deriver for backfill")
	}

	imp := importer.New(&cfg.Import, db, deriver)
	stats, err := imp.Run(context.Background())
	if err != nil {
		logging.Fatal().Err(err).Msg("CSV backfill failed")
	}
	logging.Info().
		Int("inserted", stats.Inserted).
		Int("duplicates", stats.Duplicates).
		Msg("CSV backfill finished")
}

// setupSensor starts the embedded broker if configured, provisions the cut
// stream, and builds the listener. Stream provisioning failure is logged,
// not fatal: the listener's reconnect loop keeps trying via BindStream once
// the broker comes back.
func setupSensor(ctx context.Context, cfg *config.Config, db *store.Store, bridge *notify.Bridge) *sensor.Listener {
	natsCfg := cfg.NATS

	if natsCfg.EmbeddedServer {
		srv, err := sensor.NewEmbeddedServer(&natsCfg)
		if err != nil {
			logging.Error().Err(err).Msg("Failed to start embedded NATS server, sensor listener disabled")
			return nil
		}
		natsCfg.URL = srv.ClientURL()
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logging.Error().Err(err).Msg("Error shutting down embedded NATS server")
			}
		}()
		logging.Info().Str("url", natsCfg.URL).Msg("Embedded NATS server started")
	}

	if err := sensor.EnsureStream(ctx, natsCfg.URL, natsCfg.Subject); err != nil {
		logging.Warn().Err(err).Msg("Failed to provision sensor stream (listener will retry)")
	}

	return sensor.NewListener(&natsCfg, db, bridge)
}

// sensorStatus avoids handing the API a typed-nil interface when the
// listener is disabled.
func sensorStatus(l *sensor.Listener) api.SensorStatus {
	if l == nil {
		return nil
	}
	return l
}
