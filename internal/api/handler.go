// Geotimeline - Location History Timeline Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geotimeline

package api

import (
	"context"
	"net/http"
	"time"

	gorillaws "github.com/gorilla/websocket"

	"github.com/tomtom215/geotimeline/internal/config"
	"github.com/tomtom215/geotimeline/internal/geocoding"
	"github.com/tomtom215/geotimeline/internal/models"
	"github.com/tomtom215/geotimeline/internal/store"
	"github.com/tomtom215/geotimeline/internal/websocket"
)

// Ingester accepts points and forces pipeline runs. *ingest.Batcher
// implements it.
type Ingester interface {
	Submit(ctx context.Context, userID string, points []models.LocationPoint) (int, error)
	TriggerNow(ctx context.Context, userID string) error
}

// GeocodingAdmin exposes provider health. *geocoding.Orchestrator
// implements it.
type GeocodingAdmin interface {
	Providers() []geocoding.ProviderStatus
	ResetProvider(name string) bool
}

// Pinger is implemented by stores that hold a connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators of the HTTP layer. Geocoding, Hub and Idle
// may be nil.
type Deps struct {
	Store     store.Store
	Ingest    Ingester
	Geocoding GeocodingAdmin
	Hub       *websocket.Hub
	// Idle reports whether no ingest or pipeline work is outstanding.
	Idle func() bool
	// Ready, when set, is consulted by the readiness check after the store.
	Ready func(context.Context) bool
}

// Handler serves the REST API.
type Handler struct {
	store     store.Store
	ingest    Ingester
	geocoding GeocodingAdmin
	hub       *websocket.Hub
	upgrader  gorillaws.Upgrader
	idle      func() bool
	ready     func(context.Context) bool

	maxBodyBytes int64
	startTime    time.Time
}

func NewHandler(deps Deps, sec config.SecurityConfig) *Handler {
	maxBody := sec.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 5 << 20
	}
	return &Handler{
		store:        deps.Store,
		ingest:       deps.Ingest,
		geocoding:    deps.Geocoding,
		hub:          deps.Hub,
		upgrader:     websocket.NewUpgrader(sec.CORSOrigins),
		idle:         deps.Idle,
		ready:        deps.Ready,
		maxBodyBytes: maxBody,
		startTime:    time.Now(),
	}
}

// limitBody caps the request body at the configured size.
func (h *Handler) limitBody(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
}
