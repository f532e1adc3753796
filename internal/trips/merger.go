// Geotimeline - Location History Timeline Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geotimeline

package trips

import (
	"sort"

	"github.com/tomtom215/geotimeline/internal/models"
)

// Dedup keeps one Trip out of every set of duplicates. Two trips are
// duplicates when they share (start visit, end visit), or when they go
// between the same pair of places and overlap in time. Duplicates are
// transitive. The survivor has the larger raw-point-backed travelled
// distance.
func Dedup(trips []models.Trip) (kept, removed []models.Trip) {
	n := len(trips)
	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		for parent[i] != i {
			parent[i] = parent[parent[i]]
			i = parent[i]
		}
		return i
	}
	union := func(a, b int) {
		if ra, rb := find(a), find(b); ra != rb {
			parent[rb] = ra
		}
	}

	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if duplicates(&trips[i], &trips[j]) {
				union(i, j)
			}
		}
	}

	best := make(map[int]int)
	for i := 0; i < n; i++ {
		r := find(i)
		if cur, ok := best[r]; !ok || preferred(&trips[i], &trips[cur]) {
			best[r] = i
		}
	}

	for i := 0; i < n; i++ {
		if best[find(i)] == i {
			kept = append(kept, trips[i])
		} else {
			removed = append(removed, trips[i])
		}
	}
	sort.Slice(kept, func(i, j int) bool { return kept[i].StartTime.Before(kept[j].StartTime) })
	return kept, removed
}

func duplicates(a, b *models.Trip) bool {
	if a.StartVisitID == b.StartVisitID && a.EndVisitID == b.EndVisitID {
		return true
	}
	return a.StartPlaceID == b.StartPlaceID && a.EndPlaceID == b.EndPlaceID &&
		a.StartTime.Before(b.EndTime) && b.StartTime.Before(a.EndTime)
}

func preferred(a, b *models.Trip) bool {
	ab, bb := a.RawPointCount >= 2, b.RawPointCount >= 2
	if ab != bb {
		return ab
	}
	if a.TravelledDistanceMeters != b.TravelledDistanceMeters {
		return a.TravelledDistanceMeters > b.TravelledDistanceMeters
	}
	if a.RawPointCount != b.RawPointCount {
		return a.RawPointCount > b.RawPointCount
	}
	return a.ID < b.ID
}

// Orphans returns the ProcessedVisits referenced only by removed trips
// whose time range now lies inside a kept trip. Such a visit is the stale
// endpoint of a superseded reprocessing pass.
func Orphans(kept, removed []models.Trip, visits []models.ProcessedVisit) []string {
	referenced := make(map[string]bool)
	for i := range kept {
		referenced[kept[i].StartVisitID] = true
		referenced[kept[i].EndVisitID] = true
	}
	candidates := make(map[string]bool)
	for i := range removed {
		for _, id := range []string{removed[i].StartVisitID, removed[i].EndVisitID} {
			if !referenced[id] {
				candidates[id] = true
			}
		}
	}

	var out []string
	for i := range visits {
		pv := &visits[i]
		if !candidates[pv.ID] {
			continue
		}
		for k := range kept {
			if pv.StartTime.Before(kept[k].EndTime) && kept[k].StartTime.Before(pv.EndTime) {
				out = append(out, pv.ID)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}
