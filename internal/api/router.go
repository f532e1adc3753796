// Geotimeline - Location History Timeline Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geotimeline

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/geotimeline/internal/config"
	"github.com/tomtom215/geotimeline/internal/middleware"
)

// NewRouter wires every route of the service.
func NewRouter(h *Handler, sec config.SecurityConfig) http.Handler {
	mw := NewChiMiddleware(sec)
	r := chi.NewRouter()

	// Global stack, outermost first. CORS is global so preflights are
	// answered on every route.
	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(mw.CORS())

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		NewResponseWriter(w, r).NotFound("route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		NewResponseWriter(w, r).Error(http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
	})

	r.Route("/api/v1/health", func(r chi.Router) {
		r.Use(mw.RateLimitHealth())
		r.Get("/live", h.HealthLive)
		r.Get("/ready", h.HealthReady)
		r.Get("/idle", h.HealthIdle)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(mw.RateLimit())
		r.Use(middleware.PrometheusMetrics)

		// Upgrades must not pass through the gzip writer.
		r.Get("/ws", h.WebSocket)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Compression)

			r.Route("/users/{user}", func(r chi.Router) {
				r.Post("/points", h.IngestPoints)
				r.Post("/trigger", h.TriggerPipeline)
				r.Get("/points/unprocessed", h.UnprocessedPoints)
				r.Get("/points/simplified", h.SimplifiedPoints)
				r.Get("/visits", h.Visits)
				r.Get("/trips", h.Trips)
				r.Get("/places", h.Places)
				r.Get("/places/{id}", h.Place)
				r.Get("/parameters", h.Parameters)
				r.Post("/parameters", h.SaveParameters)
			})

			r.Route("/geocoding/providers", func(r chi.Router) {
				r.Get("/", h.GeocodingProviders)
				r.Post("/{name}/reset", h.ResetGeocodingProvider)
			})
		})
	})

	r.Handle("/metrics", promhttp.Handler())
	return r
}
