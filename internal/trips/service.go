// Geotimeline - Location History Timeline Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geotimeline

package trips

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/tomtom215/geotimeline/internal/logging"
	"github.com/tomtom215/geotimeline/internal/metrics"
	"github.com/tomtom215/geotimeline/internal/models"
	"github.com/tomtom215/geotimeline/internal/store"
)

// Notifier is told when the trips of a range changed.
type Notifier interface {
	TripsRecalculated(ctx context.Context, userID string, from, to time.Time, tripIDs []string) error
}

// Result describes one rebuild.
type Result struct {
	Trips          []models.Trip
	Written        []string
	Removed        []string
	OrphanedVisits []string
}

// Changed reports whether the rebuild wrote anything.
func (r *Result) Changed() bool {
	return len(r.Written) > 0 || len(r.Removed) > 0 || len(r.OrphanedVisits) > 0
}

// Service rebuilds and persists the trips of a time range.
type Service struct {
	visits   store.VisitStore
	trips    store.TripStore
	points   store.PointStore
	places   store.PlaceStore
	notifier Notifier
	log      *logging.PipelineLogger
}

// NewService creates a Service. notifier may be nil.
func NewService(st store.Store, notifier Notifier) *Service {
	return &Service{
		visits:   st,
		trips:    st,
		points:   st,
		places:   st,
		notifier: notifier,
		log:      logging.NewPipelineLogger("trips"),
	}
}

// Rebuild recomputes the trips between the ProcessedVisits intersecting
// [from, to), plus the ProcessedVisits just before from and just after to
// so the gaps at both edges are covered. Stored trips in the span that do
// not join two adjacent ProcessedVisits are deleted.
func (s *Service) Rebuild(ctx context.Context, userID string, from, to time.Time, params *models.DetectionParameter) (*Result, error) {
	var res *Result
	err := store.RetryOnConflict(func(attempt int) error {
		var err error
		res, err = s.rebuild(ctx, userID, from, to, params)
		if errors.Is(err, store.ErrVersionConflict) {
			s.log.VersionConflict(ctx, "trip", userID, attempt == 0)
			metrics.RecordVersionConflict("trip")
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	if res.Changed() && s.notifier != nil {
		ids := append(append([]string(nil), res.Written...), res.Removed...)
		if nerr := s.notifier.TripsRecalculated(ctx, userID, from, to, ids); nerr != nil {
			s.log.Logger(logging.ContextWithUserID(ctx, userID)).Warn().Err(nerr).Msg("trip recalculation notification failed")
		}
	}
	return res, nil
}

func (s *Service) rebuild(ctx context.Context, userID string, from, to time.Time, params *models.DetectionParameter) (*Result, error) {
	pvs, err := s.loadVisits(ctx, userID, from, to, params)
	if err != nil {
		return nil, err
	}
	if len(pvs) == 0 {
		return &Result{}, nil
	}
	spanFrom, spanTo := pvs[0].StartTime, pvs[len(pvs)-1].EndTime

	existing, err := s.trips.TripsOverlapping(ctx, userID, spanFrom, spanTo)
	if err != nil {
		return nil, fmt.Errorf("load trips: %w", err)
	}
	points, err := s.points.PointsBetween(ctx, userID, spanFrom, spanTo)
	if err != nil {
		return nil, fmt.Errorf("load points: %w", err)
	}
	lookup, err := s.placeLookup(ctx, userID)
	if err != nil {
		return nil, err
	}

	built := Build(userID, pvs, lookup, points, params.MaxAccuracyMeters)

	stored := make(map[string]*models.Trip, len(existing))
	for i := range existing {
		stored[existing[i].ID] = &existing[i]
	}

	// The loaded visits are contiguous over the span, so every stored trip
	// overlapping it must be one of the adjacent pairs just built.
	res := &Result{}
	var doomed []store.Ref
	fresh := make(map[string]bool, len(built))
	for i := range built {
		if old, ok := stored[built[i].ID]; ok {
			built[i].SetVersion(old.GetVersion())
		}
		fresh[built[i].ID] = true
	}
	for i := range existing {
		if !fresh[existing[i].ID] {
			doomed = append(doomed, store.Ref{ID: existing[i].ID, Version: existing[i].Version})
		}
	}

	kept, removed := Dedup(built)
	for i := range removed {
		if old, ok := stored[removed[i].ID]; ok {
			doomed = append(doomed, store.Ref{ID: old.ID, Version: old.Version})
		}
	}
	sort.Slice(doomed, func(i, j int) bool { return doomed[i].ID < doomed[j].ID })
	res.Removed = store.RefIDs(doomed)
	res.OrphanedVisits = Orphans(kept, removed, pvs)

	var writes []models.Trip
	for i := range kept {
		if old, ok := stored[kept[i].ID]; ok && sameTrip(old, &kept[i]) {
			continue
		}
		writes = append(writes, kept[i])
	}
	if len(writes) > 0 {
		if err := s.trips.UpsertTrips(ctx, userID, writes); err != nil {
			return nil, fmt.Errorf("upsert trips: %w", err)
		}
		for i := range writes {
			res.Written = append(res.Written, writes[i].ID)
		}
		metrics.RecordTripsWritten(len(writes))
	}
	if len(doomed) > 0 {
		if err := s.trips.DeleteTrips(ctx, userID, doomed); err != nil {
			return nil, fmt.Errorf("delete trips: %w", err)
		}
		metrics.RecordTripsDeduplicated(len(res.Removed))
	}
	if len(res.OrphanedVisits) > 0 {
		if err := s.visits.DeleteProcessedVisits(ctx, userID, visitRefs(pvs, res.OrphanedVisits)); err != nil {
			return nil, fmt.Errorf("delete orphaned visits: %w", err)
		}
	}

	res.Trips = kept
	return res, nil
}

// loadVisits returns the ProcessedVisits of [from, to), the one that ended
// last before from and the one that starts first after to, ordered by start.
func (s *Service) loadVisits(ctx context.Context, userID string, from, to time.Time, params *models.DetectionParameter) ([]models.ProcessedVisit, error) {
	pvs, err := s.visits.ProcessedVisitsOverlapping(ctx, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("load processed visits: %w", err)
	}
	before, err := s.visits.ProcessedVisitsOverlapping(ctx, userID, from.Add(-params.SearchDuration()), from)
	if err != nil {
		return nil, fmt.Errorf("load preceding visits: %w", err)
	}
	after, err := s.visits.ProcessedVisitsOverlapping(ctx, userID, to, to.Add(params.SearchDuration()))
	if err != nil {
		return nil, fmt.Errorf("load following visits: %w", err)
	}

	seen := make(map[string]bool, len(pvs))
	for i := range pvs {
		seen[pvs[i].ID] = true
	}
	var prev, next *models.ProcessedVisit
	for i := range before {
		if !seen[before[i].ID] && (prev == nil || before[i].EndTime.After(prev.EndTime)) {
			prev = &before[i]
		}
	}
	for i := range after {
		if !seen[after[i].ID] && (next == nil || after[i].StartTime.Before(next.StartTime)) {
			next = &after[i]
		}
	}
	if prev != nil {
		pvs = append(pvs, *prev)
	}
	if next != nil {
		pvs = append(pvs, *next)
	}
	sort.Slice(pvs, func(i, j int) bool { return pvs[i].StartTime.Before(pvs[j].StartTime) })
	return pvs, nil
}

func (s *Service) placeLookup(ctx context.Context, userID string) (PlaceLookup, error) {
	places, err := s.places.PlacesForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load places: %w", err)
	}
	byID := make(map[string]*models.SignificantPlace, len(places))
	for i := range places {
		byID[places[i].ID] = &places[i]
	}
	return func(id string) *models.SignificantPlace { return byID[id] }, nil
}

// visitRefs returns the refs of the visits in pvs named by ids.
func visitRefs(pvs []models.ProcessedVisit, ids []string) []store.Ref {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	refs := make([]store.Ref, 0, len(ids))
	for i := range pvs {
		if want[pvs[i].ID] {
			refs = append(refs, store.Ref{ID: pvs[i].ID, Version: pvs[i].Version})
		}
	}
	return refs
}

func sameTrip(a, b *models.Trip) bool {
	return a.StartPlaceID == b.StartPlaceID &&
		a.EndPlaceID == b.EndPlaceID &&
		a.StartTime.Equal(b.StartTime) &&
		a.EndTime.Equal(b.EndTime) &&
		a.TravelledDistanceMeters == b.TravelledDistanceMeters &&
		a.EstimatedDistanceMeters == b.EstimatedDistanceMeters &&
		a.RawPointCount == b.RawPointCount &&
		a.TransportMode == b.TransportMode
}
