// Geotimeline - Location History Timeline Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geotimeline

// Package trips fills the gaps between ProcessedVisits with Trips and keeps
// exactly one Trip per movement when reprocessing produces duplicates.
package trips

import (
	"sort"
	"time"

	"github.com/tomtom215/geotimeline/internal/geo"
	"github.com/tomtom215/geotimeline/internal/models"
)

// Average speed thresholds in m/s for the coarse transport label.
const (
	stationaryBelow = 0.5
	walkingBelow    = 2.5
	cyclingBelow    = 7.0
	drivingBelow    = 40.0
)

// PlaceLookup returns a place by id, or nil when unknown.
type PlaceLookup func(id string) *models.SignificantPlace

// Build creates one Trip for every pair of chronologically adjacent
// ProcessedVisits at different places. points must hold the raw points of
// the covered span; only those strictly between the two visits and within
// maxAccuracy (when > 0) count towards the travelled distance.
func Build(userID string, visits []models.ProcessedVisit, lookup PlaceLookup, points []models.RawLocationPoint, maxAccuracy float64) []models.Trip {
	pvs := append([]models.ProcessedVisit(nil), visits...)
	sort.Slice(pvs, func(i, j int) bool { return pvs[i].StartTime.Before(pvs[j].StartTime) })

	pts := append([]models.RawLocationPoint(nil), points...)
	sort.SliceStable(pts, func(i, j int) bool { return pts[i].Timestamp.Before(pts[j].Timestamp) })

	var out []models.Trip
	for i := 1; i < len(pvs); i++ {
		a, b := &pvs[i-1], &pvs[i]
		if a.PlaceID == b.PlaceID {
			continue
		}
		pa, pb := lookup(a.PlaceID), lookup(b.PlaceID)
		if pa == nil || pb == nil {
			continue
		}

		between := pointsBetween(pts, a.EndTime, b.StartTime, maxAccuracy)
		estimated := geo.Distance(pa.Centroid(), pb.Centroid())
		travelled := estimated
		if len(between) >= 2 {
			travelled = geo.PathLength(models.LatLngs(between))
		}

		duration := b.StartTime.Sub(a.EndTime)
		out = append(out, models.Trip{
			ID:                      models.TripID(a.ID, b.ID),
			UserID:                  userID,
			StartPlaceID:            a.PlaceID,
			EndPlaceID:              b.PlaceID,
			StartVisitID:            a.ID,
			EndVisitID:              b.ID,
			StartTime:               a.EndTime,
			EndTime:                 b.StartTime,
			DurationSeconds:         int64(duration / time.Second),
			EstimatedDistanceMeters: estimated,
			TravelledDistanceMeters: travelled,
			RawPointCount:           len(between),
			TransportMode:           TransportMode(travelled, duration),
		})
	}
	return out
}

// pointsBetween returns points with from < ts < to, in order. pts must be
// sorted by timestamp.
func pointsBetween(pts []models.RawLocationPoint, from, to time.Time, maxAccuracy float64) []models.RawLocationPoint {
	lo := sort.Search(len(pts), func(i int) bool { return pts[i].Timestamp.After(from) })
	var out []models.RawLocationPoint
	for i := lo; i < len(pts) && pts[i].Timestamp.Before(to); i++ {
		if maxAccuracy > 0 && pts[i].AccuracyMeters > maxAccuracy {
			continue
		}
		out = append(out, pts[i])
	}
	return out
}

// TransportMode labels a movement by its average speed.
func TransportMode(meters float64, d time.Duration) string {
	if d <= 0 {
		return models.TransportUnknown
	}
	speed := meters / d.Seconds()
	switch {
	case speed < stationaryBelow:
		return models.TransportStationary
	case speed < walkingBelow:
		return models.TransportWalking
	case speed < cyclingBelow:
		return models.TransportCycling
	case speed < drivingBelow:
		return models.TransportDriving
	default:
		return models.TransportFlying
	}
}
