// Geotimeline - Location History Timeline Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geotimeline

package models

import (
	"time"

	"github.com/tomtom215/geotimeline/internal/geo"
)

// UnnamedPlace is shown for places no geocoding provider could name.
const UnnamedPlace = "Unnamed place"

// SignificantPlace is a location the user repeatedly stays at. It is created
// un-geocoded by the pipeline and enriched later by the geocoding consumer.
type SignificantPlace struct {
	Meta
	ID          string       `json:"id"`
	UserID      string       `json:"user_id"`
	Name        string       `json:"name,omitempty"`
	Address     string       `json:"address,omitempty"`
	City        string       `json:"city,omitempty"`
	CountryCode string       `json:"country_code,omitempty"`
	Latitude    float64      `json:"latitude"`
	Longitude   float64      `json:"longitude"`
	Polygon     []geo.LatLng `json:"polygon,omitempty"`
	Type        string       `json:"type,omitempty"`
	Timezone    string       `json:"timezone,omitempty"`
	Geocoded    bool         `json:"geocoded"`
	VisitCount  int          `json:"visit_count"`
	PointCount  int          `json:"point_count"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

func (p *SignificantPlace) Centroid() geo.LatLng {
	return geo.LatLng{Lat: p.Latitude, Lon: p.Longitude}
}

// AddStay counts one more visit of n points centered at c. Without a
// polygon the centroid stays the mean of every point counted so far.
func (p *SignificantPlace) AddStay(c geo.LatLng, n int) {
	p.VisitCount++
	if n <= 0 {
		return
	}
	if len(p.Polygon) < 3 {
		m := geo.WeightedMean(p.Centroid(), p.PointCount, c, n)
		p.Latitude, p.Longitude = m.Lat, m.Lon
	}
	p.PointCount += n
}

// DisplayName returns Name, or UnnamedPlace when geocoding found nothing.
func (p *SignificantPlace) DisplayName() string {
	if p.Name == "" {
		return UnnamedPlace
	}
	return p.Name
}

// GeocodeResult is what a reverse geocoding provider knows about a location.
type GeocodeResult struct {
	Provider    string       `json:"provider"`
	Name        string       `json:"name"`
	Address     string       `json:"address,omitempty"`
	City        string       `json:"city,omitempty"`
	CountryCode string       `json:"country_code,omitempty"`
	Type        string       `json:"type,omitempty"`
	Polygon     []geo.LatLng `json:"polygon,omitempty"`
}

// Empty reports whether the result carries nothing worth applying.
func (r *GeocodeResult) Empty() bool {
	return r == nil || (r.Name == "" && r.Address == "" && r.City == "")
}

// ApplyGeocode copies r onto the place and marks it geocoded. A polygon
// moves the centroid to the mean of its vertices.
func (p *SignificantPlace) ApplyGeocode(r *GeocodeResult, now time.Time) {
	p.Name = r.Name
	if p.Name == "" {
		p.Name = r.Address
	}
	p.Address = r.Address
	p.City = r.City
	p.CountryCode = r.CountryCode
	p.Type = r.Type
	if len(r.Polygon) >= 3 {
		p.Polygon = append([]geo.LatLng(nil), r.Polygon...)
		c := geo.Centroid(p.Polygon)
		p.Latitude, p.Longitude = c.Lat, c.Lon
	}
	p.Geocoded = true
	p.UpdatedAt = now
}
