// Geotimeline - Location History Timeline Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geotimeline

package models

import (
	"time"

	"github.com/tomtom215/geotimeline/internal/geo"
)

// LocationPoint is the canonical inbound point shape. Importers and device
// clients translate their formats into this before submitting.
type LocationPoint struct {
	Latitude        float64   `json:"latitude" validate:"finite,min=-90,max=90"`
	Longitude       float64   `json:"longitude" validate:"finite,min=-180,max=180"`
	Timestamp       time.Time `json:"timestamp" validate:"required"`
	AccuracyMeters  *float64  `json:"accuracy" validate:"required,finite,min=0"`
	ElevationMeters *float64  `json:"elevation,omitempty"`
}

// RawLocationPoint is a persisted point. ID is assigned by the store in
// insertion order.
type RawLocationPoint struct {
	Meta
	ID              int64     `json:"id"`
	UserID          string    `json:"user_id"`
	Timestamp       time.Time `json:"timestamp"`
	Latitude        float64   `json:"latitude"`
	Longitude       float64   `json:"longitude"`
	AccuracyMeters  float64   `json:"accuracy"`
	ElevationMeters *float64  `json:"elevation,omitempty"`
	Processed       bool      `json:"processed"`
}

// ToRaw converts an accepted inbound point for userID.
func (p LocationPoint) ToRaw(userID string) RawLocationPoint {
	var acc float64
	if p.AccuracyMeters != nil {
		acc = *p.AccuracyMeters
	}
	return RawLocationPoint{
		UserID:          userID,
		Timestamp:       p.Timestamp.UTC(),
		Latitude:        p.Latitude,
		Longitude:       p.Longitude,
		AccuracyMeters:  acc,
		ElevationMeters: p.ElevationMeters,
	}
}

func (p *RawLocationPoint) LatLng() geo.LatLng {
	return geo.LatLng{Lat: p.Latitude, Lon: p.Longitude}
}

// PointKey identifies a point for idempotent ingest. Redelivered batches
// map to the same keys and are skipped.
type PointKey struct {
	UserID    string
	UnixNano  int64
	Latitude  float64
	Longitude float64
}

func (p *RawLocationPoint) Key() PointKey {
	return PointKey{UserID: p.UserID, UnixNano: p.Timestamp.UnixNano(), Latitude: p.Latitude, Longitude: p.Longitude}
}

// LatLngs projects points to coordinates, preserving order.
func LatLngs(points []RawLocationPoint) []geo.LatLng {
	out := make([]geo.LatLng, len(points))
	for i := range points {
		out[i] = points[i].LatLng()
	}
	return out
}
