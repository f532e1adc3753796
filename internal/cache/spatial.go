// Geotimeline - Location History Timeline Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geotimeline

package cache

import (
	"math"
	"sort"
	"sync"

	"github.com/tomtom215/geotimeline/internal/geo"
)

// cellKey addresses one grid cell. X wraps around the antimeridian.
type cellKey struct {
	X, Y int
}

type spatialEntry[V any] struct {
	id    string
	pos   geo.LatLng
	value V
	cell  cellKey
}

// Neighbor is one result of a proximity query.
type Neighbor[V any] struct {
	ID             string
	Position       geo.LatLng
	Value          V
	DistanceMeters float64
}

// SpatialIndex is a uniform lat/lon hash grid. Proximity queries only visit
// the cells that intersect the search radius and then filter by exact
// great-circle distance.
type SpatialIndex[V any] struct {
	mu      sync.RWMutex
	cellDeg float64
	xCells  int
	cells   map[cellKey][]*spatialEntry[V]
	entries map[string]*spatialEntry[V]
}

// NewSpatialIndex builds an index whose cells are roughly cellMeters tall.
// A cell size close to the usual query radius keeps queries to nine cells.
func NewSpatialIndex[V any](cellMeters float64) *SpatialIndex[V] {
	if cellMeters <= 0 {
		cellMeters = 250
	}
	deg := geo.MetersToDegreesLat(cellMeters)
	return &SpatialIndex[V]{
		cellDeg: deg,
		xCells:  int(math.Ceil(360 / deg)),
		cells:   make(map[cellKey][]*spatialEntry[V]),
		entries: make(map[string]*spatialEntry[V]),
	}
}

func (s *SpatialIndex[V]) key(p geo.LatLng) cellKey {
	x := int(math.Floor((p.Lon + 180) / s.cellDeg))
	x = ((x % s.xCells) + s.xCells) % s.xCells
	return cellKey{X: x, Y: int(math.Floor((p.Lat + 90) / s.cellDeg))}
}

// Put inserts or moves the entry id.
func (s *SpatialIndex[V]) Put(id string, pos geo.LatLng, value V) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.entries[id]; ok {
		s.removeLocked(old)
	}
	e := &spatialEntry[V]{id: id, pos: pos, value: value, cell: s.key(pos)}
	s.cells[e.cell] = append(s.cells[e.cell], e)
	s.entries[id] = e
}

// Delete removes id and reports whether it was present.
func (s *SpatialIndex[V]) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if ok {
		s.removeLocked(e)
	}
	return ok
}

func (s *SpatialIndex[V]) removeLocked(e *spatialEntry[V]) {
	list := s.cells[e.cell]
	for i, c := range list {
		if c.id == e.id {
			list[i] = list[len(list)-1]
			list = list[:len(list)-1]
			break
		}
	}
	if len(list) == 0 {
		delete(s.cells, e.cell)
	} else {
		s.cells[e.cell] = list
	}
	delete(s.entries, e.id)
}

// Get returns the value stored under id.
func (s *SpatialIndex[V]) Get(id string) (V, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	if !ok {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Within returns every entry at most radiusMeters from p, nearest first.
// Ties keep insertion-independent order by id.
func (s *SpatialIndex[V]) Within(p geo.LatLng, radiusMeters float64) []Neighbor[V] {
	s.mu.RLock()
	defer s.mu.RUnlock()

	center := s.key(p)
	dy := int(math.Ceil(geo.MetersToDegreesLat(radiusMeters)/s.cellDeg)) + 1
	dx := int(math.Ceil(geo.MetersToDegreesLon(radiusMeters, p.Lat)/s.cellDeg)) + 1

	visit := func(k cellKey, out []Neighbor[V]) []Neighbor[V] {
		for _, e := range s.cells[k] {
			if d := geo.Distance(p, e.pos); d <= radiusMeters {
				out = append(out, Neighbor[V]{ID: e.id, Position: e.pos, Value: e.value, DistanceMeters: d})
			}
		}
		return out
	}

	var out []Neighbor[V]
	if 2*dx+1 >= s.xCells {
		for k := range s.cells {
			if k.Y >= center.Y-dy && k.Y <= center.Y+dy {
				out = visit(k, out)
			}
		}
	} else {
		for y := center.Y - dy; y <= center.Y+dy; y++ {
			for x := center.X - dx; x <= center.X+dx; x++ {
				out = visit(cellKey{X: ((x % s.xCells) + s.xCells) % s.xCells, Y: y}, out)
			}
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].DistanceMeters == out[j].DistanceMeters {
			return out[i].ID < out[j].ID
		}
		return out[i].DistanceMeters < out[j].DistanceMeters
	})
	return out
}

func (s *SpatialIndex[V]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
