// Millwright - Factory Floor Telemetry Sync and Live Notifications
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/millwright

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Router assembles the HTTP surface from the handler set and middleware
// factories.
type Router struct {
	handler    *Handler
	middleware *ChiMiddleware
}

// NewRouter creates a router. Nil middleware uses defaults.
func NewRouter(handler *Handler, mw *ChiMiddleware) *Router {
	if mw == nil {
		mw = NewChiMiddleware(nil)
	}
	return &Router{handler: handler, middleware: mw}
}

// Setup wires all routes and returns the root handler.
func (router *Router) Setup() http.Handler {
	r := chi.NewRouter()

	r.Use(RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	// CORS is global so OPTIONS preflight works everywhere.
	r.Use(router.middleware.CORS())

	// Probes and metrics stay outside the rate limiter; monitoring must not
	// be throttled into false alarms.
	r.Get("/healthz", router.handler.HealthLive)
	r.Get("/readyz", router.handler.HealthReady)
	r.Handle("/metrics", promhttp.Handler())

	// WebSocket upgrades bypass the instrumentation wrapper: a hijacked
	// connection never writes a status code.
	r.Get("/ws", router.handler.WebSocket)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(router.middleware.RateLimit())
		r.Use(PrometheusMetrics)

		r.Get("/health", router.handler.Health)
		r.Get("/sync/status", router.handler.SyncStatus)
		r.With(router.middleware.RateLimitTrigger()).Post("/sync/trigger", router.handler.TriggerSync)
		r.Get("/notifications/stats", router.handler.NotificationStats)
		r.Post("/notifications/test", router.handler.NotificationTest)
		r.Get("/deadletter", router.handler.DeadLetterList)
	})

	return r
}
