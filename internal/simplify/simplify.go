// Geotimeline - Location History Timeline Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geotimeline

// Package simplify decimates point sequences for display at a map zoom level.
package simplify

import (
	"github.com/tomtom215/geotimeline/internal/geo"
	"github.com/tomtom215/geotimeline/internal/models"
)

// PixelTolerance is how many screen pixels a point may deviate from the
// simplified line before it is kept.
const PixelTolerance = 2

// Tolerance returns the deviation in meters below which points are dropped
// at zoom.
func Tolerance(zoom int) float64 {
	return geo.ZoomTolerance(zoom) * PixelTolerance
}

// Indices runs Douglas-Peucker over path and returns the indices of the
// kept points in ascending order. The first and last points are always
// kept; paths of fewer than three points are returned whole.
func Indices(path []geo.LatLng, toleranceMeters float64) []int {
	n := len(path)
	if n < 3 {
		out := make([]int, n)
		for i := range out {
			out[i] = i
		}
		return out
	}

	keep := make([]bool, n)
	keep[0], keep[n-1] = true, true

	type span struct{ lo, hi int }
	stack := []span{{0, n - 1}}
	for len(stack) > 0 {
		s := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if s.hi-s.lo < 2 {
			continue
		}

		worst, at := -1.0, -1
		for i := s.lo + 1; i < s.hi; i++ {
			if d := geo.SegmentDistance(path[i], path[s.lo], path[s.hi]); d > worst {
				worst, at = d, i
			}
		}
		if worst < toleranceMeters {
			continue
		}
		keep[at] = true
		stack = append(stack, span{s.lo, at}, span{at, s.hi})
	}

	out := make([]int, 0, n)
	for i, k := range keep {
		if k {
			out = append(out, i)
		}
	}
	return out
}

// Simplify returns the indices of path kept at zoom.
func Simplify(path []geo.LatLng, zoom int) []int {
	return Indices(path, Tolerance(zoom))
}

// Points simplifies points (assumed in time order) for zoom.
func Points(points []models.RawLocationPoint, zoom int) []models.RawLocationPoint {
	idx := Simplify(models.LatLngs(points), zoom)
	out := make([]models.RawLocationPoint, len(idx))
	for i, j := range idx {
		out[i] = points[j]
	}
	return out
}
