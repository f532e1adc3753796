// Geotimeline - Location History Timeline Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geotimeline

package visits

import (
	"context"
	"testing"
	"time"

	"github.com/tomtom215/geotimeline/internal/geo"
	"github.com/tomtom215/geotimeline/internal/models"
	"github.com/tomtom215/geotimeline/internal/places"
	"github.com/tomtom215/geotimeline/internal/staypoint"
	"github.com/tomtom215/geotimeline/internal/store"
)

var (
	ten  = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	home = geo.LatLng{Lat: 53.8631, Lon: 10.6993}
)

func at(h, m int) time.Time {
	return time.Date(2026, 5, 1, h, m, 0, 0, time.UTC)
}

func visit(id, place string, start, end time.Time) models.Visit {
	return models.Visit{ID: id, UserID: "alice", PlaceID: place, StartTime: start, EndTime: end}
}

func mergeParams(gapSeconds int64) *models.DetectionParameter {
	p := models.DefaultDetectionParameter("alice")
	p.MaxMergeTimeBetweenSameVisits = gapSeconds
	return &p
}

func TestGroupSamePlaceWithinGap(t *testing.T) {
	t.Parallel()

	in := []models.Visit{
		visit("v2", "A", at(10, 7), at(10, 10)),
		visit("v1", "A", at(10, 0), at(10, 5)),
	}
	groups := Group(in, nil, mergeParams(300))
	if len(groups) != 1 {
		t.Fatalf("groups = %d, want 1", len(groups))
	}

	pv := Collapse("alice", groups[0])
	if !pv.StartTime.Equal(at(10, 0)) || !pv.EndTime.Equal(at(10, 10)) {
		t.Errorf("span %v..%v", pv.StartTime, pv.EndTime)
	}
	if pv.MergedCount != 2 || len(pv.SourceVisitIDs) != 2 || pv.SourceVisitIDs[0] != "v1" {
		t.Errorf("merged %d sources %v", pv.MergedCount, pv.SourceVisitIDs)
	}
	// Duration equals both visits plus the gap between them.
	want := int64((5*time.Minute + 2*time.Minute + 3*time.Minute) / time.Second)
	if pv.DurationSeconds != want {
		t.Errorf("duration = %ds, want %ds", pv.DurationSeconds, want)
	}
}

func TestGroupRespectsGapAndPlace(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		in     []models.Visit
		groups int
	}{
		{"gap too long", []models.Visit{visit("1", "A", at(10, 0), at(10, 5)), visit("2", "A", at(10, 20), at(10, 30))}, 2},
		{"different far places", []models.Visit{visit("1", "A", at(10, 0), at(10, 5)), visit("2", "FAR", at(10, 6), at(10, 30))}, 2},
		{"near places merge", []models.Visit{visit("1", "A", at(10, 0), at(10, 5)), visit("2", "NEAR", at(10, 6), at(10, 30))}, 1},
		{"transitive chain", []models.Visit{
			visit("1", "A", at(10, 0), at(10, 5)),
			visit("2", "A", at(10, 9), at(10, 15)),
			visit("3", "A", at(10, 19), at(10, 25)),
		}, 1},
		{"empty", nil, 0},
	}

	lookup := func(id string) *models.SignificantPlace {
		switch id {
		case "A":
			return &models.SignificantPlace{ID: "A", Latitude: home.Lat, Longitude: home.Lon}
		case "NEAR":
			return &models.SignificantPlace{ID: "NEAR", Latitude: home.Lat + geo.MetersToDegreesLat(60), Longitude: home.Lon}
		case "FAR":
			return &models.SignificantPlace{ID: "FAR", Latitude: home.Lat + geo.MetersToDegreesLat(2000), Longitude: home.Lon}
		}
		return nil
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Group(tt.in, lookup, mergeParams(300)); len(got) != tt.groups {
				t.Errorf("groups = %d, want %d", len(got), tt.groups)
			}
		})
	}
}

func TestCollapsePicksDominantPlace(t *testing.T) {
	t.Parallel()

	pv := Collapse("alice", []models.Visit{
		visit("1", "A", at(10, 0), at(10, 5)),
		visit("2", "B", at(10, 6), at(11, 0)),
	})
	if pv.PlaceID != "B" {
		t.Errorf("place = %s, want B", pv.PlaceID)
	}
}

func TestMergerMergesAndIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mem := store.NewMemory()
	_ = mem.CreatePlace(ctx, &models.SignificantPlace{ID: "A", UserID: "alice", Latitude: home.Lat, Longitude: home.Lon})

	for _, v := range []models.Visit{
		visit("v1", "A", at(10, 0), at(10, 5)),
		visit("v2", "A", at(10, 7), at(10, 10)),
	} {
		v := v
		if err := mem.CreateVisit(ctx, &v); err != nil {
			t.Fatal(err)
		}
	}

	m := NewMerger(mem, mem)
	res, err := m.Merge(ctx, "alice", mergeParams(300))
	if err != nil {
		t.Fatal(err)
	}
	if len(res.ProcessedVisits) != 1 || res.ProcessedVisits[0].MergedCount != 2 {
		t.Fatalf("processed visits = %+v", res.ProcessedVisits)
	}

	again, err := m.Merge(ctx, "alice", mergeParams(300))
	if err != nil {
		t.Fatal(err)
	}
	if len(again.Added) != 0 || len(again.Removed) != 0 {
		t.Errorf("second merge changed state: added %d removed %d", len(again.Added), len(again.Removed))
	}

	v, _ := mem.GetVisit(ctx, "v1")
	if !v.Processed {
		t.Error("source visit not marked processed")
	}
}

func TestMergerExtendsExistingProcessedVisit(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mem := store.NewMemory()
	m := NewMerger(mem, mem)

	first := visit("v1", "A", at(10, 0), at(10, 5))
	_ = mem.CreateVisit(ctx, &first)
	if _, err := m.Merge(ctx, "alice", mergeParams(300)); err != nil {
		t.Fatal(err)
	}

	second := visit("v2", "A", at(10, 7), at(10, 10))
	_ = mem.CreateVisit(ctx, &second)
	res, err := m.Merge(ctx, "alice", mergeParams(300))
	if err != nil {
		t.Fatal(err)
	}

	all, _ := mem.ProcessedVisitsOverlapping(ctx, "alice", at(0, 0), at(23, 0))
	if len(all) != 1 {
		t.Fatalf("stored processed visits = %d, want 1 (disjoint)", len(all))
	}
	if all[0].MergedCount != 2 || len(res.Removed) != 1 {
		t.Errorf("merged %d removed %v", all[0].MergedCount, res.Removed)
	}
}

func TestMergerPicksUpVisitsOlderThanWindow(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mem := store.NewMemory()
	m := NewMerger(mem, mem)
	params := mergeParams(300)

	recent := visit("recent", "A", at(10, 0), at(10, 30))
	_ = mem.CreateVisit(ctx, &recent)
	if _, err := m.Merge(ctx, "alice", params); err != nil {
		t.Fatal(err)
	}

	// Imported history from five days before the newest visit.
	old := visit("old", "B", at(9, 0).AddDate(0, 0, -5), at(9, 10).AddDate(0, 0, -5))
	_ = mem.CreateVisit(ctx, &old)
	res, err := m.Merge(ctx, "alice", params)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Windows) != 2 {
		t.Errorf("windows = %+v, want one per disjoint range", res.Windows)
	}

	got, _ := mem.ProcessedVisitsOverlapping(ctx, "alice", old.StartTime, old.EndTime)
	if len(got) != 1 || got[0].SourceVisitIDs[0] != "old" {
		t.Fatalf("processed visits for backfill = %+v", got)
	}
	v, _ := mem.GetVisit(ctx, "old")
	if !v.Processed {
		t.Error("backfilled visit not marked processed")
	}
	if pending, _ := mem.UnprocessedVisits(ctx, "alice", 0); len(pending) != 0 {
		t.Errorf("unmerged visits = %d, want 0", len(pending))
	}
}

func TestCoalesceJoinsOverlappingWindows(t *testing.T) {
	t.Parallel()

	got := coalesce([]Window{
		{From: at(12, 0), To: at(13, 0)},
		{From: at(9, 0), To: at(10, 0)},
		{From: at(9, 30), To: at(11, 0)},
		{From: at(11, 0), To: at(11, 30)},
	})
	want := []Window{{From: at(9, 0), To: at(11, 30)}, {From: at(12, 0), To: at(13, 0)}}
	if len(got) != len(want) {
		t.Fatalf("coalesce = %+v", got)
	}
	for i := range want {
		if !got[i].From.Equal(want[i].From) || !got[i].To.Equal(want[i].To) {
			t.Errorf("window %d = %v..%v, want %v..%v", i, got[i].From, got[i].To, want[i].From, want[i].To)
		}
	}
}

func TestMergerNoVisits(t *testing.T) {
	t.Parallel()
	mem := store.NewMemory()
	res, err := NewMerger(mem, mem).Merge(context.Background(), "alice", mergeParams(300))
	if err != nil || len(res.ProcessedVisits) != 0 {
		t.Errorf("res = %+v, err = %v", res, err)
	}
}

func TestBuilderCreatesVisitsAndMarksPoints(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mem := store.NewMemory()

	var pts []models.RawLocationPoint
	for i := 0; i < 5; i++ {
		pts = append(pts, models.RawLocationPoint{Timestamp: ten.Add(time.Duration(i) * time.Minute), Latitude: home.Lat, Longitude: home.Lon, AccuracyMeters: 5})
	}
	_, _ = mem.InsertPoints(ctx, "alice", pts)
	stored, _ := mem.UnprocessedPoints(ctx, "alice", time.Time{}, time.Time{}, 0)
	ids := make([]int64, len(stored))
	for i := range stored {
		ids[i] = stored[i].ID
	}

	stay := staypoint.Stay{Start: ten, End: ten.Add(4 * time.Minute), Centroid: home, PointIDs: ids}
	b := NewBuilder(mem, mem, places.NewResolver(mem, nil), nil)
	params := models.DefaultDetectionParameter("alice")

	got, err := b.Build(ctx, "alice", []staypoint.Stay{stay}, &params)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != models.VisitID("alice", ten) {
		t.Fatalf("visits = %+v", got)
	}
	if left, _ := mem.UnprocessedPoints(ctx, "alice", time.Time{}, time.Time{}, 0); len(left) != 0 {
		t.Errorf("%d points still unprocessed", len(left))
	}

	place, _ := mem.GetPlace(ctx, got[0].PlaceID)
	if place.VisitCount != 1 {
		t.Errorf("visit count = %d", place.VisitCount)
	}

	// Replaying the same stay updates the visit rather than adding one.
	if _, err := b.Build(ctx, "alice", []staypoint.Stay{stay}, &params); err != nil {
		t.Fatal(err)
	}
	all, _ := mem.VisitsOverlapping(ctx, "alice", time.Time{}, ten.Add(time.Hour))
	if len(all) != 1 {
		t.Errorf("visits after replay = %d, want 1", len(all))
	}
	place, _ = mem.GetPlace(ctx, got[0].PlaceID)
	if place.VisitCount != 1 {
		t.Errorf("visit count after replay = %d, want 1", place.VisitCount)
	}
}
