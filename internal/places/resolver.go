// Geotimeline - Location History Timeline Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geotimeline

// Package places maps stay centroids to SignificantPlaces, reusing a known
// place when one is close enough and creating one otherwise.
package places

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/geotimeline/internal/cache"
	"github.com/tomtom215/geotimeline/internal/geo"
	"github.com/tomtom215/geotimeline/internal/logging"
	"github.com/tomtom215/geotimeline/internal/metrics"
	"github.com/tomtom215/geotimeline/internal/models"
	"github.com/tomtom215/geotimeline/internal/store"
)

// indexCellMeters sizes the per-user grid. It matches the default
// place distance so that a lookup touches a handful of cells.
const indexCellMeters = 100

// Notifier is told about places the resolver creates. Geocoding picks the
// place up from there.
type Notifier interface {
	PlaceCreated(ctx context.Context, place *models.SignificantPlace) error
}

// Resolver is safe for concurrent use across users. Calls for the same user
// are expected to be serialized by the pipeline.
type Resolver struct {
	store    store.PlaceStore
	notifier Notifier
	log      *logging.PipelineLogger
	now      func() time.Time

	mu      sync.Mutex
	indexes map[string]*cache.SpatialIndex[models.SignificantPlace]
}

// NewResolver returns a Resolver. notifier may be nil.
func NewResolver(ps store.PlaceStore, notifier Notifier) *Resolver {
	return &Resolver{
		store:    ps,
		notifier: notifier,
		log:      logging.NewPipelineLogger("places"),
		now:      time.Now,
		indexes:  make(map[string]*cache.SpatialIndex[models.SignificantPlace]),
	}
}

func (r *Resolver) index(ctx context.Context, userID string) (*cache.SpatialIndex[models.SignificantPlace], error) {
	r.mu.Lock()
	idx, ok := r.indexes[userID]
	r.mu.Unlock()
	if ok {
		return idx, nil
	}

	places, err := r.store.PlacesForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load places for %s: %w", userID, err)
	}
	idx = cache.NewSpatialIndex[models.SignificantPlace](indexCellMeters)
	for i := range places {
		idx.Put(places[i].ID, places[i].Centroid(), places[i])
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.indexes[userID]; ok {
		return existing, nil
	}
	r.indexes[userID] = idx
	return idx, nil
}

// Resolve returns the place for a stay centroid and whether it was created.
func (r *Resolver) Resolve(ctx context.Context, userID string, centroid geo.LatLng, params *models.DetectionParameter) (*models.SignificantPlace, bool, error) {
	idx, err := r.index(ctx, userID)
	if err != nil {
		return nil, false, err
	}

	if best := pickNearest(idx.Within(centroid, params.MinDistanceBetweenVisitsMeters)); best != nil {
		p := best.Value
		return &p, false, nil
	}

	// The first visit sets the point count through RecordVisit.
	now := r.now().UTC()
	place := &models.SignificantPlace{
		ID:        uuid.NewString(),
		UserID:    userID,
		Latitude:  centroid.Lat,
		Longitude: centroid.Lon,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.store.CreatePlace(ctx, place); err != nil {
		return nil, false, fmt.Errorf("create place: %w", err)
	}
	idx.Put(place.ID, place.Centroid(), *place)
	metrics.RecordPlaceCreated()
	r.log.PlaceCreated(ctx, place.ID, place.Latitude, place.Longitude)

	if r.notifier != nil {
		if err := r.notifier.PlaceCreated(ctx, place); err != nil {
			// The place exists without a name until the next geocode request.
			r.log.Logger(ctx).Warn().Err(err).Str("place_id", place.ID).Msg("place created event not published")
		}
	}
	return place, true, nil
}

// pickNearest chooses among candidates sorted by distance. On an exact
// distance tie the place with more visits wins, then the older one.
func pickNearest(candidates []cache.Neighbor[models.SignificantPlace]) *cache.Neighbor[models.SignificantPlace] {
	if len(candidates) == 0 {
		return nil
	}
	best := &candidates[0]
	for i := 1; i < len(candidates); i++ {
		c := &candidates[i]
		if c.DistanceMeters != best.DistanceMeters {
			break
		}
		if better(&c.Value, &best.Value) {
			best = c
		}
	}
	return best
}

func better(a, b *models.SignificantPlace) bool {
	if a.VisitCount != b.VisitCount {
		return a.VisitCount > b.VisitCount
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// RecordVisit counts a new visit of points stay points centered at centroid
// against the place, moving its centroid to the mean over all of them. It
// reloads and retries once on version conflicts.
func (r *Resolver) RecordVisit(ctx context.Context, placeID string, centroid geo.LatLng, points int) error {
	var updated *models.SignificantPlace
	err := store.RetryOnConflict(func(attempt int) error {
		p, err := r.store.GetPlace(ctx, placeID)
		if err != nil {
			return err
		}
		p.AddStay(centroid, points)
		p.UpdatedAt = r.now().UTC()
		if err := r.store.UpdatePlace(ctx, p); err != nil {
			if errors.Is(err, store.ErrVersionConflict) {
				r.log.VersionConflict(ctx, "place", placeID, attempt == 0)
				metrics.RecordVersionConflict("place")
			}
			return err
		}
		updated = p
		return nil
	})
	if err != nil {
		return fmt.Errorf("record visit on place %s: %w", placeID, err)
	}
	r.PlaceUpdated(updated)
	return nil
}

// PlaceUpdated refreshes the cached copy of a place after it changed
// elsewhere, e.g. after geocoding moved its centroid.
func (r *Resolver) PlaceUpdated(p *models.SignificantPlace) {
	r.mu.Lock()
	idx, ok := r.indexes[p.UserID]
	r.mu.Unlock()
	if ok {
		idx.Put(p.ID, p.Centroid(), *p)
	}
}

// PlaceDeleted drops a place from the cache.
func (r *Resolver) PlaceDeleted(userID, placeID string) {
	r.mu.Lock()
	idx, ok := r.indexes[userID]
	r.mu.Unlock()
	if ok {
		idx.Delete(placeID)
	}
}
