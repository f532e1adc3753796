// Geotimeline - Location History Timeline Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geotimeline

// Package visits turns detected stays into Visits and merges Visits into
// the non-overlapping ProcessedVisits shown on the timeline.
package visits

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/tomtom215/geotimeline/internal/geo"
	"github.com/tomtom215/geotimeline/internal/logging"
	"github.com/tomtom215/geotimeline/internal/metrics"
	"github.com/tomtom215/geotimeline/internal/models"
	"github.com/tomtom215/geotimeline/internal/staypoint"
	"github.com/tomtom215/geotimeline/internal/store"
)

// PlaceResolver is the part of places.Resolver the builder needs.
type PlaceResolver interface {
	Resolve(ctx context.Context, userID string, centroid geo.LatLng, params *models.DetectionParameter) (*models.SignificantPlace, bool, error)
	RecordVisit(ctx context.Context, placeID string, centroid geo.LatLng, points int) error
}

// Notifier is told about newly created visits.
type Notifier interface {
	VisitCreated(ctx context.Context, v *models.Visit) error
}

// Builder persists one Visit per stay.
type Builder struct {
	visits   store.VisitStore
	points   store.PointStore
	resolver PlaceResolver
	notifier Notifier
	log      *logging.PipelineLogger
}

// NewBuilder returns a Builder. notifier may be nil.
func NewBuilder(vs store.VisitStore, ps store.PointStore, resolver PlaceResolver, notifier Notifier) *Builder {
	return &Builder{
		visits:   vs,
		points:   ps,
		resolver: resolver,
		notifier: notifier,
		log:      logging.NewPipelineLogger("visits"),
	}
}

// Build resolves a place for every stay, writes the visit and marks the
// stay's points processed. A stay that was already turned into a visit
// (same user and start) updates that visit instead of adding another.
func (b *Builder) Build(ctx context.Context, userID string, stays []staypoint.Stay, params *models.DetectionParameter) ([]models.Visit, error) {
	out := make([]models.Visit, 0, len(stays))
	for i := range stays {
		s := &stays[i]
		place, _, err := b.resolver.Resolve(ctx, userID, s.Centroid, params)
		if err != nil {
			return out, fmt.Errorf("resolve place: %w", err)
		}

		v, created, err := b.upsert(ctx, userID, s, place.ID)
		if err != nil {
			return out, err
		}

		if created {
			if err := b.resolver.RecordVisit(ctx, place.ID, s.Centroid, len(s.PointIDs)); err != nil {
				b.log.Logger(ctx).Warn().Err(err).Str("place_id", place.ID).Msg("visit count not updated")
			}
			metrics.RecordVisitsWritten("raw", 1)
			if b.notifier != nil {
				if err := b.notifier.VisitCreated(ctx, v); err != nil {
					b.log.Logger(ctx).Warn().Err(err).Str("visit_id", v.ID).Msg("visit created event not published")
				}
			}
		}

		ids := make([]int64, 0, len(s.PointIDs)+len(s.IgnoredIDs))
		ids = append(ids, s.PointIDs...)
		ids = append(ids, s.IgnoredIDs...)
		if err := b.points.MarkPointsProcessed(ctx, userID, ids); err != nil {
			return out, fmt.Errorf("mark stay points processed: %w", err)
		}
		out = append(out, *v)
	}
	return out, nil
}

func (b *Builder) upsert(ctx context.Context, userID string, s *staypoint.Stay, placeID string) (*models.Visit, bool, error) {
	fresh := &models.Visit{
		ID:        models.VisitID(userID, s.Start),
		UserID:    userID,
		PlaceID:   placeID,
		Latitude:  s.Centroid.Lat,
		Longitude: s.Centroid.Lon,
		StartTime: s.Start,
		EndTime:   s.End,
		PointIDs:  append([]int64(nil), s.PointIDs...),
	}

	err := b.visits.CreateVisit(ctx, fresh)
	if err == nil {
		return fresh, true, nil
	}
	if !errors.Is(err, store.ErrAlreadyExists) {
		return nil, false, fmt.Errorf("create visit: %w", err)
	}

	var merged *models.Visit
	err = store.RetryOnConflict(func(attempt int) error {
		cur, err := b.visits.GetVisit(ctx, fresh.ID)
		if err != nil {
			return err
		}
		if s.End.After(cur.EndTime) {
			cur.EndTime = s.End
		}
		cur.PlaceID = placeID
		cur.Latitude, cur.Longitude = s.Centroid.Lat, s.Centroid.Lon
		cur.PointIDs = unionIDs(cur.PointIDs, s.PointIDs)
		cur.Processed = false
		if err := b.visits.UpdateVisit(ctx, cur); err != nil {
			if errors.Is(err, store.ErrVersionConflict) {
				b.log.VersionConflict(ctx, "visit", cur.ID, attempt == 0)
				metrics.RecordVersionConflict("visit")
			}
			return err
		}
		merged = cur
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("update visit %s: %w", fresh.ID, err)
	}
	return merged, false, nil
}

func unionIDs(a, b []int64) []int64 {
	seen := make(map[int64]struct{}, len(a)+len(b))
	out := make([]int64, 0, len(a)+len(b))
	for _, ids := range [][]int64{a, b} {
		for _, id := range ids {
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				out = append(out, id)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
