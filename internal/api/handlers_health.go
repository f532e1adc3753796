// Geotimeline - Location History Timeline Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geotimeline

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/tomtom215/geotimeline/internal/logging"
)

const readyTimeout = 2 * time.Second

// HealthStatus is the body of the health endpoints.
type HealthStatus struct {
	Status        string  `json:"status"`
	Database      string  `json:"database,omitempty"`
	Idle          *bool   `json:"idle,omitempty"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

// HealthLive handles GET /api/v1/health/live. It only proves the process
// serves HTTP.
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(HealthStatus{
		Status:        "alive",
		UptimeSeconds: time.Since(h.startTime).Seconds(),
	})
}

// HealthReady handles GET /api/v1/health/ready and fails with 503 while the
// store or the event transport is unreachable.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	status := HealthStatus{
		Status:        "ready",
		Database:      "ok",
		UptimeSeconds: time.Since(h.startTime).Seconds(),
	}
	if p, ok := h.store.(Pinger); ok {
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			logging.Ctx(r.Context()).Warn().Err(err).Msg("readiness check failed")
			rw.ErrorWithDetails(http.StatusServiceUnavailable, ErrCodeServiceUnavailable,
				"database unavailable", HealthStatus{Status: "not_ready", Database: "unreachable"})
			return
		}
	}
	if h.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()
		if !h.ready(ctx) {
			rw.ErrorWithDetails(http.StatusServiceUnavailable, ErrCodeServiceUnavailable,
				"event transport unavailable", HealthStatus{Status: "not_ready", Database: status.Database})
			return
		}
	}
	rw.Success(status)
}

// HealthIdle handles GET /api/v1/health/idle. It answers 200 when no
// ingest buffer, pending trigger or pipeline run is outstanding, else 503.
// Test harnesses poll it before asserting on the timeline.
func (h *Handler) HealthIdle(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	idle := h.idle == nil || h.idle()
	status := HealthStatus{
		Status:        "idle",
		Idle:          &idle,
		UptimeSeconds: time.Since(h.startTime).Seconds(),
	}
	if !idle {
		status.Status = "busy"
		rw.ErrorWithDetails(http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "processing in progress", status)
		return
	}
	rw.Success(status)
}
