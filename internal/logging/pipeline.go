// Geotimeline - Location History Timeline Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geotimeline

package logging

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// PipelineLogger carries the log vocabulary shared by the ingest batcher,
// the timeline pipeline and the geocoding consumer so that the same
// occurrence is always logged with the same message and field names.
type PipelineLogger struct {
	logger zerolog.Logger
}

// NewPipelineLogger returns a PipelineLogger tagged with component.
func NewPipelineLogger(component string) *PipelineLogger {
	return &PipelineLogger{logger: WithComponent(component)}
}

// NewPipelineLoggerWith wraps an existing logger, mostly for tests.
//
//nolint:gocritic // zerolog.Logger is a value type
func NewPipelineLoggerWith(l zerolog.Logger) *PipelineLogger {
	return &PipelineLogger{logger: l}
}

func (p *PipelineLogger) ctx(ctx context.Context) *zerolog.Logger {
	zc := p.logger.With()
	if id := CorrelationIDFromContext(ctx); id != "" {
		zc = zc.Str("correlation_id", id)
	}
	if id := UserIDFromContext(ctx); id != "" {
		zc = zc.Str("user_id", id)
	}
	l := zc.Logger()
	return &l
}

// forUser is ctx with user_id taken from the context, or from userID when
// the context carries none, so the field appears once.
func (p *PipelineLogger) forUser(ctx context.Context, userID string) *zerolog.Logger {
	if userID != "" && UserIDFromContext(ctx) == "" {
		ctx = ContextWithUserID(ctx, userID)
	}
	return p.ctx(ctx)
}

// Logger exposes the underlying logger for one-off messages.
func (p *PipelineLogger) Logger(ctx context.Context) *zerolog.Logger {
	return p.ctx(ctx)
}

func (p *PipelineLogger) PointRejected(ctx context.Context, userID, reason string) {
	p.forUser(ctx, userID).Warn().Str("reason", reason).Msg("malformed point dropped")
}

func (p *PipelineLogger) BatchFlushed(ctx context.Context, userID string, points int, reason string) {
	p.forUser(ctx, userID).Debug().Int("points", points).Str("reason", reason).Msg("batch flushed")
}

func (p *PipelineLogger) TriggerScheduled(ctx context.Context, userID string, fireAt time.Time, replaced bool) {
	p.forUser(ctx, userID).Debug().Time("fire_at", fireAt).Bool("replaced", replaced).Msg("processing trigger scheduled")
}

func (p *PipelineLogger) RunStarted(ctx context.Context, userID string, points int) {
	p.forUser(ctx, userID).Debug().Int("points", points).Msg("timeline run started")
}

// RunFinished records the outcome of one pipeline pass for a user.
func (p *PipelineLogger) RunFinished(ctx context.Context, userID string, stays, visits, trips int, took time.Duration) {
	p.forUser(ctx, userID).Info().
		Int("stays", stays).
		Int("processed_visits", visits).
		Int("trips", trips).
		Dur("duration", took).
		Msg("timeline run finished")
}

func (p *PipelineLogger) RunFailed(ctx context.Context, userID string, err error) {
	p.forUser(ctx, userID).Error().Err(err).Msg("timeline run failed")
}

// VersionConflict is logged when an optimistic write lost, retried is true
// when the write is going to be reloaded and attempted again.
func (p *PipelineLogger) VersionConflict(ctx context.Context, entity, id string, retried bool) {
	ev := p.ctx(ctx).Warn()
	if retried {
		ev = p.ctx(ctx).Debug()
	}
	ev.Str("entity", entity).Str("id", id).Bool("retrying", retried).Msg("version conflict")
}

func (p *PipelineLogger) PlaceCreated(ctx context.Context, placeID string, lat, lon float64) {
	p.ctx(ctx).Info().Str("place_id", placeID).Float64("lat", lat).Float64("lon", lon).Msg("significant place created")
}

func (p *PipelineLogger) GeocodeFailed(ctx context.Context, provider string, err error) {
	p.ctx(ctx).Warn().Str("provider", provider).Err(err).Msg("reverse geocode failed")
}

func (p *PipelineLogger) PlaceGone(ctx context.Context, placeID string) {
	p.ctx(ctx).Info().Str("place_id", placeID).Msg("place no longer exists, geocode result dropped")
}
