// Geotimeline - Location History Timeline Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geotimeline

package geo

import (
	"math"
	"testing"
)

func near(a, b, tol float64) bool { return math.Abs(a-b) <= tol }

func TestDistance(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		a, b LatLng
		want float64
		tol  float64
	}{
		{"same point", LatLng{53.8631, 10.6993}, LatLng{53.8631, 10.6993}, 0, 1e-9},
		{"one degree of latitude", LatLng{0, 0}, LatLng{1, 0}, 111195, 5},
		{"berlin to hamburg", LatLng{52.5200, 13.4050}, LatLng{53.5511, 9.9937}, 255000, 2000},
		{"across antimeridian", LatLng{0, 179.9}, LatLng{0, -179.9}, 22239, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Distance(tt.a, tt.b); !near(got, tt.want, tt.tol) {
				t.Errorf("Distance = %.1f, want %.1f±%.0f", got, tt.want, tt.tol)
			}
		})
	}
}

func TestPathLengthAtLeastDirectDistance(t *testing.T) {
	t.Parallel()

	path := []LatLng{{53.86, 10.69}, {53.87, 10.70}, {53.865, 10.72}, {53.88, 10.73}}
	direct := Distance(path[0], path[len(path)-1])
	if got := PathLength(path); got < direct {
		t.Errorf("PathLength = %.1f, shorter than direct %.1f", got, direct)
	}
	if PathLength(path[:1]) != 0 || PathLength(nil) != 0 {
		t.Error("short paths must have zero length")
	}
}

func TestCentroidAndRunningMean(t *testing.T) {
	t.Parallel()

	pts := []LatLng{{1, 1}, {3, 5}, {2, 3}}
	c := Centroid(pts)
	if !near(c.Lat, 2, 1e-12) || !near(c.Lon, 3, 1e-12) {
		t.Fatalf("Centroid = %+v", c)
	}

	var rm LatLng
	for i, p := range pts {
		rm = RunningMean(rm, i, p)
	}
	if !near(rm.Lat, c.Lat, 1e-12) || !near(rm.Lon, c.Lon, 1e-12) {
		t.Errorf("RunningMean = %+v, want %+v", rm, c)
	}
	if Centroid(nil) != (LatLng{}) {
		t.Error("Centroid(nil) should be zero")
	}
}

func TestWeightedMean(t *testing.T) {
	t.Parallel()

	a, b := LatLng{Lat: 1, Lon: 1}, LatLng{Lat: 5, Lon: 9}
	tests := []struct {
		name string
		n, m int
		want LatLng
	}{
		{"empty left", 0, 3, b},
		{"empty right", 4, 0, a},
		{"equal weights", 2, 2, LatLng{Lat: 3, Lon: 5}},
		{"three to one", 3, 1, LatLng{Lat: 2, Lon: 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := WeightedMean(a, tt.n, b, tt.m)
			if !near(got.Lat, tt.want.Lat, 1e-12) || !near(got.Lon, tt.want.Lon, 1e-12) {
				t.Errorf("WeightedMean = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestSegmentDistance(t *testing.T) {
	t.Parallel()

	a := LatLng{0, 0}
	b := LatLng{0, 1}
	p := LatLng{0.001, 0.5}
	if got := SegmentDistance(p, a, b); !near(got, 111.2, 0.5) {
		t.Errorf("SegmentDistance = %.2f, want ~111.2", got)
	}
	if got := SegmentDistance(p, a, a); !near(got, Distance(p, a), 1e-6) {
		t.Errorf("degenerate segment = %.2f", got)
	}
}

func TestZoomTolerance(t *testing.T) {
	t.Parallel()

	if got := ZoomTolerance(0); !near(got, 156543.03392, 1e-6) {
		t.Errorf("zoom 0 = %f", got)
	}
	if ZoomTolerance(10) >= ZoomTolerance(9) {
		t.Error("tolerance must shrink as zoom grows")
	}
	if ZoomTolerance(-3) != ZoomTolerance(0) || ZoomTolerance(40) != ZoomTolerance(MaxZoom) {
		t.Error("zoom must be clamped")
	}
}

func TestDegreeConversions(t *testing.T) {
	t.Parallel()

	if got := MetersToDegreesLat(111195); !near(got, 1, 1e-3) {
		t.Errorf("MetersToDegreesLat = %f", got)
	}
	if MetersToDegreesLon(1000, 60) <= MetersToDegreesLon(1000, 0) {
		t.Error("longitude degrees per meter must grow with latitude")
	}
	if MetersToDegreesLon(1000, 90) != 360 {
		t.Error("pole should cap at 360")
	}
}

func TestValid(t *testing.T) {
	t.Parallel()

	if !(LatLng{45, 90}).Valid() || (LatLng{91, 0}).Valid() || (LatLng{math.NaN(), 0}).Valid() {
		t.Error("Valid misclassified coordinates")
	}
}
