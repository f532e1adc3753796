// Geotimeline - Location History Timeline Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geotimeline

package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/geotimeline/internal/geo"
)

var (
	visitNamespace          = uuid.MustParse("6f1d8a3c-43d2-4a0e-9a53-0b6d6c1e7a10")
	processedVisitNamespace = uuid.MustParse("b0a9c2e4-7d11-4c5e-8f2a-3e6b9d4f1c22")
	tripNamespace           = uuid.MustParse("2c7e5b19-8a64-4f3d-b1e0-9d5a7c3e6f84")
)

// Visit is one detected stay at a SignificantPlace, before merging.
type Visit struct {
	Meta
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	PlaceID   string    `json:"place_id"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	PointIDs  []int64   `json:"point_ids,omitempty"`
	Processed bool      `json:"processed"`
}

// VisitID is deterministic in (user, start) so a replayed stay updates the
// existing visit instead of adding a second one.
func VisitID(userID string, start time.Time) string {
	return uuid.NewSHA1(visitNamespace, []byte(userID+"|"+start.UTC().Format(time.RFC3339Nano))).String()
}

func (v *Visit) Duration() time.Duration { return v.EndTime.Sub(v.StartTime) }

func (v *Visit) Centroid() geo.LatLng {
	return geo.LatLng{Lat: v.Latitude, Lon: v.Longitude}
}

// ProcessedVisit is the merged, user-facing representation of one or more
// Visits. A user's ProcessedVisits never overlap in time.
type ProcessedVisit struct {
	Meta
	ID              string    `json:"id"`
	UserID          string    `json:"user_id"`
	PlaceID         string    `json:"place_id"`
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	DurationSeconds int64     `json:"duration_seconds"`
	SourceVisitIDs  []string  `json:"source_visit_ids"`
	MergedCount     int       `json:"merged_count"`
}

// ProcessedVisitID is deterministic in (user, place, start).
func ProcessedVisitID(userID, placeID string, start time.Time) string {
	return uuid.NewSHA1(processedVisitNamespace, []byte(userID+"|"+placeID+"|"+start.UTC().Format(time.RFC3339Nano))).String()
}

// Overlaps reports whether the visit intersects the half-open range [from, to).
func (pv *ProcessedVisit) Overlaps(from, to time.Time) bool {
	return pv.StartTime.Before(to) && pv.EndTime.After(from)
}

// Trip is the movement between two consecutive ProcessedVisits at
// different places.
type Trip struct {
	Meta
	ID                      string    `json:"id"`
	UserID                  string    `json:"user_id"`
	StartPlaceID            string    `json:"start_place_id"`
	EndPlaceID              string    `json:"end_place_id"`
	StartVisitID            string    `json:"start_visit_id"`
	EndVisitID              string    `json:"end_visit_id"`
	StartTime               time.Time `json:"start_time"`
	EndTime                 time.Time `json:"end_time"`
	DurationSeconds         int64     `json:"duration_seconds"`
	EstimatedDistanceMeters float64   `json:"estimated_distance_meters"`
	TravelledDistanceMeters float64   `json:"travelled_distance_meters"`
	RawPointCount           int       `json:"raw_point_count"`
	TransportMode           string    `json:"transport_mode"`
}

// TripID is deterministic in the bounding visit pair.
func TripID(startVisitID, endVisitID string) string {
	return uuid.NewSHA1(tripNamespace, []byte(startVisitID+"|"+endVisitID)).String()
}

func (t *Trip) Overlaps(from, to time.Time) bool {
	return t.StartTime.Before(to) && t.EndTime.After(from)
}

// Coarse transport labels derived from average speed.
const (
	TransportUnknown    = "unknown"
	TransportStationary = "stationary"
	TransportWalking    = "walking"
	TransportCycling    = "cycling"
	TransportDriving    = "driving"
	TransportFlying     = "flying"
)
