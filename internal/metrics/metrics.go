// Geotimeline - Location History Timeline Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geotimeline

// Package metrics holds the process-wide Prometheus collectors and small
// Record helpers so call sites never touch label plumbing directly.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingest

	PointsIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "geotimeline_points_ingested_total",
		Help: "Location points accepted by the ingest batcher",
	})

	PointsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "geotimeline_points_rejected_total",
		Help: "Location points dropped at ingest",
	}, []string{"reason"})

	BatchesFlushed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "geotimeline_batches_flushed_total",
		Help: "Point batches handed to storage",
	}, []string{"reason"}) // size, interval, manual, shutdown

	BatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "geotimeline_batch_size_points",
		Help:    "Points per flushed batch",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
	})

	TriggerEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "geotimeline_debounce_triggers_total",
		Help: "Debounced processing trigger lifecycle events",
	}, []string{"event"}) // scheduled, replaced, fired

	PendingTriggers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "geotimeline_debounce_pending",
		Help: "Users with an armed processing trigger",
	})

	// Pipeline

	PipelineRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "geotimeline_pipeline_runs_total",
		Help: "Timeline pipeline runs by outcome",
	}, []string{"outcome"})

	PipelineDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "geotimeline_pipeline_duration_seconds",
		Help:    "Wall time of one pipeline run for one user",
		Buckets: prometheus.DefBuckets,
	})

	PipelineInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "geotimeline_pipeline_in_flight",
		Help: "Users whose pipeline is currently running",
	})

	StaysDetected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "geotimeline_stays_detected_total",
		Help: "Stay points found by the detector",
	})

	PlacesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "geotimeline_places_created_total",
		Help: "Significant places created",
	})

	VisitsWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "geotimeline_visits_written_total",
		Help: "Visits written by kind",
	}, []string{"kind"}) // raw, processed

	TripsWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "geotimeline_trips_written_total",
		Help: "Trips written",
	})

	TripsDeduplicated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "geotimeline_trips_deduplicated_total",
		Help: "Trips removed by the trip merger",
	})

	VersionConflicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "geotimeline_version_conflicts_total",
		Help: "Optimistic lock conflicts by entity",
	}, []string{"entity"})

	// Geocoding

	GeocodeRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "geotimeline_geocode_requests_total",
		Help: "Reverse geocode requests by provider and outcome",
	}, []string{"provider", "outcome"}) // ok, empty, error

	GeocodeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "geotimeline_geocode_duration_seconds",
		Help:    "Reverse geocode latency by provider",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"provider"})

	GeocodeProviderEnabled = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "geotimeline_geocode_provider_enabled",
		Help: "1 when the provider is enabled",
	}, []string{"provider"})

	GeocodeCache = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "geotimeline_geocode_cache_total",
		Help: "Geocode cache lookups by tier and result",
	}, []string{"tier", "result"})

	// WAL

	WALWrites = promauto.NewCounter(prometheus.CounterOpts{
		Name: "geotimeline_wal_writes_total",
		Help: "Batches written to the ingest WAL",
	})

	WALConfirms = promauto.NewCounter(prometheus.CounterOpts{
		Name: "geotimeline_wal_confirms_total",
		Help: "WAL entries confirmed",
	})

	WALPending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "geotimeline_wal_pending",
		Help: "WAL entries awaiting confirmation",
	})

	WALReplays = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "geotimeline_wal_replays_total",
		Help: "WAL entry replays by outcome",
	}, []string{"outcome"})

	// Messaging

	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "geotimeline_events_published_total",
		Help: "Events published by topic",
	}, []string{"topic"})

	EventsConsumed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "geotimeline_events_consumed_total",
		Help: "Events handled by topic and outcome",
	}, []string{"topic", "outcome"})

	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "geotimeline_circuit_breaker_state",
		Help: "0 closed, 1 half-open, 2 open",
	}, []string{"name"})

	// HTTP / websocket

	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "geotimeline_api_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	APIActiveRequests = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "geotimeline_api_active_requests",
		Help: "In-flight HTTP requests",
	})

	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "geotimeline_websocket_clients",
		Help: "Connected websocket clients",
	})

	WebSocketDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "geotimeline_websocket_dropped_total",
		Help: "Notifications dropped because a buffer was full",
	})
)

func RecordPointsIngested(n int) { PointsIngested.Add(float64(n)) }

func RecordPointRejected(reason string) { PointsRejected.WithLabelValues(reason).Inc() }

func RecordBatchFlush(reason string, size int) {
	BatchesFlushed.WithLabelValues(reason).Inc()
	BatchSize.Observe(float64(size))
}

// RecordTrigger counts a debounce event and refreshes the pending gauge.
func RecordTrigger(event string, pending int) {
	TriggerEvents.WithLabelValues(event).Inc()
	PendingTriggers.Set(float64(pending))
}

// RecordPipelineRun records one run; err == nil counts as success.
func RecordPipelineRun(d time.Duration, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	PipelineRuns.WithLabelValues(outcome).Inc()
	PipelineDuration.Observe(d.Seconds())
}

func TrackPipelineInFlight(inc bool) {
	if inc {
		PipelineInFlight.Inc()
		return
	}
	PipelineInFlight.Dec()
}

func RecordStays(n int) { StaysDetected.Add(float64(n)) }
func RecordPlaceCreated() { PlacesCreated.Inc() }
func RecordVisitsWritten(kind string, n int) { VisitsWritten.WithLabelValues(kind).Add(float64(n)) }
func RecordTripsWritten(n int) { TripsWritten.Add(float64(n)) }
func RecordTripsDeduplicated(n int) { TripsDeduplicated.Add(float64(n)) }
func RecordVersionConflict(entity string) { VersionConflicts.WithLabelValues(entity).Inc() }

func RecordGeocode(provider, outcome string, d time.Duration) {
	GeocodeRequests.WithLabelValues(provider, outcome).Inc()
	GeocodeDuration.WithLabelValues(provider).Observe(d.Seconds())
}

func SetProviderEnabled(provider string, enabled bool) {
	v := 0.0
	if enabled {
		v = 1
	}
	GeocodeProviderEnabled.WithLabelValues(provider).Set(v)
}

func RecordGeocodeCache(tier string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	GeocodeCache.WithLabelValues(tier, result).Inc()
}

func RecordWALWrite(pending int64) {
	WALWrites.Inc()
	WALPending.Set(float64(pending))
}

func RecordWALConfirm(pending int64) {
	WALConfirms.Inc()
	WALPending.Set(float64(pending))
}

func RecordWALReplay(ok bool) {
	outcome := "ok"
	if !ok {
		outcome = "failed"
	}
	WALReplays.WithLabelValues(outcome).Inc()
}

func RecordEventPublished(topic string) { EventsPublished.WithLabelValues(topic).Inc() }

func RecordEventConsumed(topic string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	EventsConsumed.WithLabelValues(topic, outcome).Inc()
}

func SetCircuitBreakerState(name string, state int) {
	CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}

func RecordAPIRequest(method, route string, status int, d time.Duration) {
	APIRequestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
}

func TrackActiveRequest(inc bool) {
	if inc {
		APIActiveRequests.Inc()
		return
	}
	APIActiveRequests.Dec()
}

func SetWebSocketClients(n int) { WebSocketClients.Set(float64(n)) }

func RecordWebSocketDrop() { WebSocketDropped.Inc() }
