// Geotimeline - Location History Timeline Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geotimeline

// Package geo holds the spherical geometry shared by the timeline stages.
// Distances are great-circle meters computed with S2.
package geo

import (
	"math"

	"github.com/golang/geo/s2"
)

// EarthRadiusMeters is the IUGG mean earth radius.
const EarthRadiusMeters = 6371008.8

// MaxZoom is the deepest web-map zoom level ZoomTolerance accepts.
const MaxZoom = 22

// metersPerPixelZoom0 is the ground resolution at the equator at zoom 0 for
// 256px tiles.
const metersPerPixelZoom0 = 156543.03392

// LatLng is a WGS84 coordinate in degrees.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Valid reports whether the coordinate is finite and in range.
func (ll LatLng) Valid() bool {
	return !math.IsNaN(ll.Lat) && !math.IsNaN(ll.Lon) &&
		ll.Lat >= -90 && ll.Lat <= 90 &&
		ll.Lon >= -180 && ll.Lon <= 180
}

func (ll LatLng) s2() s2.LatLng {
	return s2.LatLngFromDegrees(ll.Lat, ll.Lon)
}

// Distance returns the great-circle distance between a and b in meters.
func Distance(a, b LatLng) float64 {
	return a.s2().Distance(b.s2()).Radians() * EarthRadiusMeters
}

// PathLength sums the great-circle distance between consecutive coordinates.
func PathLength(path []LatLng) float64 {
	var total float64
	for i := 1; i < len(path); i++ {
		total += Distance(path[i-1], path[i])
	}
	return total
}

// Centroid is the arithmetic mean of the coordinates. The zero LatLng is
// returned for an empty slice.
func Centroid(points []LatLng) LatLng {
	if len(points) == 0 {
		return LatLng{}
	}
	var lat, lon float64
	for _, p := range points {
		lat += p.Lat
		lon += p.Lon
	}
	n := float64(len(points))
	return LatLng{Lat: lat / n, Lon: lon / n}
}

// RunningMean folds p into a centroid c that currently averages n points.
func RunningMean(c LatLng, n int, p LatLng) LatLng {
	if n <= 0 {
		return p
	}
	k := float64(n + 1)
	return LatLng{
		Lat: c.Lat + (p.Lat-c.Lat)/k,
		Lon: c.Lon + (p.Lon-c.Lon)/k,
	}
}

// WeightedMean combines the mean a of n points with the mean b of m points.
func WeightedMean(a LatLng, n int, b LatLng, m int) LatLng {
	if n <= 0 {
		return b
	}
	if m <= 0 {
		return a
	}
	w := float64(m) / float64(n+m)
	return LatLng{
		Lat: a.Lat + (b.Lat-a.Lat)*w,
		Lon: a.Lon + (b.Lon-a.Lon)*w,
	}
}

// SegmentDistance returns the distance in meters from p to the great-circle
// segment a-b.
func SegmentDistance(p, a, b LatLng) float64 {
	if a == b {
		return Distance(p, a)
	}
	x := s2.PointFromLatLng(p.s2())
	pa := s2.PointFromLatLng(a.s2())
	pb := s2.PointFromLatLng(b.s2())
	return s2.DistanceFromSegment(x, pa, pb).Radians() * EarthRadiusMeters
}

// ZoomTolerance returns the ground distance of one screen pixel at the
// equator for a web-mercator zoom level clamped to [0, MaxZoom].
func ZoomTolerance(zoom int) float64 {
	if zoom < 0 {
		zoom = 0
	}
	if zoom > MaxZoom {
		zoom = MaxZoom
	}
	return metersPerPixelZoom0 / math.Exp2(float64(zoom))
}

// MetersToDegreesLat converts a north-south distance to degrees of latitude.
func MetersToDegreesLat(m float64) float64 {
	return m / EarthRadiusMeters * 180 / math.Pi
}

// MetersToDegreesLon converts an east-west distance at latitude lat to
// degrees of longitude. Near the poles the result is capped at 360.
func MetersToDegreesLon(m, lat float64) float64 {
	c := math.Cos(lat * math.Pi / 180)
	if c < 1e-9 {
		return 360
	}
	return math.Min(360, m/(EarthRadiusMeters*c)*180/math.Pi)
}
