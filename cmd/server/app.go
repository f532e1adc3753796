// Geotimeline - Location History Timeline Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geotimeline

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tomtom215/geotimeline/internal/api"
	"github.com/tomtom215/geotimeline/internal/config"
	"github.com/tomtom215/geotimeline/internal/eventprocessor"
	"github.com/tomtom215/geotimeline/internal/geocoding"
	"github.com/tomtom215/geotimeline/internal/ingest"
	"github.com/tomtom215/geotimeline/internal/logging"
	"github.com/tomtom215/geotimeline/internal/pipeline"
	"github.com/tomtom215/geotimeline/internal/store"
	"github.com/tomtom215/geotimeline/internal/supervisor"
	"github.com/tomtom215/geotimeline/internal/supervisor/services"
	"github.com/tomtom215/geotimeline/internal/wal"
	ws "github.com/tomtom215/geotimeline/internal/websocket"
)

// app holds every long-lived component. Fields are set once by buildApp.
type app struct {
	cfg *config.Config

	store     store.Store
	wal       *wal.BadgerWAL
	bus       *eventprocessor.Bus
	publisher *eventprocessor.Publisher
	tracker   *eventprocessor.Tracker
	router    *eventprocessor.Router
	pipeline  *pipeline.Pipeline
	geocoder  *geocoding.Orchestrator
	batcher   *ingest.Batcher
	hub       *ws.Hub
	server    *http.Server

	closers []func() error
}

// buildApp wires the components around st. On error everything opened so
// far is closed again.
func buildApp(ctx context.Context, cfg *config.Config, st store.Store) (a *app, err error) {
	a = &app{cfg: cfg, store: st, tracker: &eventprocessor.Tracker{}}
	defer func() {
		if err != nil {
			a.close()
			a = nil
		}
	}()

	if cfg.WAL.Enabled {
		if a.wal, err = wal.Open(&cfg.WAL); err != nil {
			return a, fmt.Errorf("open WAL: %w", err)
		}
		a.closers = append(a.closers, a.wal.Close)
	}

	if a.bus, err = newEventBus(ctx, cfg); err != nil {
		return a, err
	}
	a.closers = append(a.closers, a.bus.Close)

	breaker := eventprocessor.NewCircuitBreaker(cfg.CircuitBreaker)
	if a.publisher, err = eventprocessor.NewPublisher(a.bus.Publisher, breaker, a.tracker); err != nil {
		return a, err
	}
	notifier := eventprocessor.NewNotifier(a.publisher)

	a.pipeline = pipeline.New(st, notifier, cfg.Pipeline)
	a.geocoder = geocoding.NewOrchestrator(st, cfg.Geocoding.Providers(), cfg.Geocoding,
		geocoding.WithCache(a.geocodeCache(ctx)),
		geocoding.WithNotifier(notifier),
		geocoding.WithPlaceUpdated(a.pipeline.Resolver().PlaceUpdated),
	)

	// A nil *BadgerWAL must not end up in a non-nil Journal.
	var journal ingest.Journal
	if a.wal != nil {
		journal = a.wal
	}
	sink := ingest.NewStoreSink(st, notifier.PointsStored)
	a.batcher = ingest.NewBatcher(cfg.Ingest, sink, notifier.Trigger, journal)

	a.hub = ws.NewHub()

	if a.router, err = eventprocessor.NewRouter(&cfg.Router, a.bus.Publisher, a.tracker, eventprocessor.NewLogger()); err != nil {
		return a, fmt.Errorf("create event router: %w", err)
	}
	handlers := &eventprocessor.Handlers{
		Pipeline:    a.pipeline,
		Geocoder:    a.geocoder,
		Broadcaster: a.hub,
	}
	handlers.Register(a.router, a.bus.Subscriber)

	handler := api.NewHandler(api.Deps{
		Store:     st,
		Ingest:    a.batcher,
		Geocoding: a.geocoder,
		Hub:       a.hub,
		Idle:      a.idle,
		Ready:     a.bus.Healthy,
	}, cfg.Security)

	a.server = &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      api.NewRouter(handler, cfg.Security),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}
	return a, nil
}

// geocodeCache returns the two-level cache, with Redis behind the LRU when
// an address is configured. An unreachable Redis is logged, not fatal; the
// cache treats its errors as misses.
func (a *app) geocodeCache(ctx context.Context) *geocoding.Cache {
	var rc redis.Cmdable
	if a.cfg.Redis.Enabled() {
		client := redis.NewClient(&redis.Options{
			Addr:     a.cfg.Redis.Addr,
			Password: a.cfg.Redis.Password,
			DB:       a.cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		if err := client.Ping(pingCtx).Err(); err != nil {
			logging.Warn().Err(err).Str("addr", a.cfg.Redis.Addr).Msg("Redis unreachable, geocode cache is process-local until it recovers")
		} else {
			logging.Info().Str("addr", a.cfg.Redis.Addr).Msg("Redis geocode cache connected")
		}
		cancel()
		rc = client
		a.closers = append(a.closers, client.Close)
	}
	return geocoding.NewCache(rc, a.cfg.Geocoding.CacheSize, a.cfg.Geocoding.CacheTTL)
}

// idle reports whether no point, event or pipeline run is pending anywhere.
func (a *app) idle() bool {
	return a.batcher.Idle() && a.tracker.Idle() && a.pipeline.Idle()
}

// register adds every service to its supervisor layer.
func (a *app) register(tree *supervisor.SupervisorTree) {
	if a.wal != nil {
		tree.AddDataService(services.NewStartStopService("wal-retry-loop", wal.NewRetryLoop(a.wal, a.batcher)))
		tree.AddDataService(services.NewStartStopService("wal-compactor", wal.NewCompactor(a.wal)))
	}

	tree.AddMessagingService(services.NewRunnerService("event-router", a.router))
	tree.AddMessagingService(a.batcher)
	tree.AddMessagingService(a.hub)

	tree.AddAPIService(services.NewHTTPServerService(a.server, a.cfg.Server.ShutdownTimeout))
}

// catchUp processes points left unprocessed by an earlier run once the
// event router is subscribed.
func (a *app) catchUp(ctx context.Context) {
	select {
	case <-a.router.Running():
	case <-ctx.Done():
		return
	}
	if err := a.pipeline.TriggerAll(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logging.Warn().Err(err).Msg("Startup catch-up incomplete")
		return
	}
	logging.Info().Msg("Startup catch-up finished")
}

// close releases resources in reverse order of acquisition.
func (a *app) close() {
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			logging.Warn().Err(err).Msg("Error closing event publisher")
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logging.Warn().Err(err).Msg("Error during shutdown")
		}
	}
	a.closers = nil
}
