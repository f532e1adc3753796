// Geotimeline - Location History Timeline Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geotimeline

package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tomtom215/geotimeline/internal/models"
)

var t0 = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

func rawPoints(n int, step time.Duration) []models.RawLocationPoint {
	pts := make([]models.RawLocationPoint, n)
	for i := range pts {
		pts[i] = models.RawLocationPoint{
			Timestamp:      t0.Add(time.Duration(i) * step),
			Latitude:       53.8631,
			Longitude:      10.6993 + float64(i)*1e-5,
			AccuracyMeters: 10,
		}
	}
	return pts
}

func TestMemoryInsertPointsIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemory()

	pts := rawPoints(5, 10*time.Second)
	n, err := m.InsertPoints(ctx, "alice", pts)
	if err != nil || n != 5 {
		t.Fatalf("first insert = %d, %v", n, err)
	}
	n, err = m.InsertPoints(ctx, "alice", pts)
	if err != nil || n != 0 {
		t.Fatalf("replayed insert = %d, %v", n, err)
	}
	if n, _ := m.InsertPoints(ctx, "bob", pts); n != 5 {
		t.Errorf("other user insert = %d, want 5", n)
	}
}

func TestMemoryUnprocessedPointsWindowAndLimit(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemory()
	_, _ = m.InsertPoints(ctx, "alice", rawPoints(10, time.Minute))

	got, err := m.UnprocessedPoints(ctx, "alice", t0.Add(2*time.Minute), t0.Add(6*time.Minute), 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 4 {
		t.Fatalf("window returned %d points, want 4", len(got))
	}

	if err := m.MarkPointsProcessed(ctx, "alice", []int64{got[0].ID, got[1].ID}); err != nil {
		t.Fatal(err)
	}
	got, _ = m.UnprocessedPoints(ctx, "alice", time.Time{}, time.Time{}, 3)
	if len(got) != 3 || got[0].Timestamp != t0 {
		t.Fatalf("limited unbounded query = %d points starting %v", len(got), got[0].Timestamp)
	}

	all, _ := m.UnprocessedPoints(ctx, "alice", time.Time{}, time.Time{}, 0)
	if len(all) != 8 {
		t.Errorf("unprocessed = %d, want 8", len(all))
	}

	users, _ := m.UsersWithUnprocessedPoints(ctx)
	if len(users) != 1 || users[0] != "alice" {
		t.Errorf("users = %v", users)
	}
}

func TestMemoryUpdatePlaceVersionConflict(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemory()

	p := &models.SignificantPlace{ID: "p1", UserID: "alice", Latitude: 1, Longitude: 2}
	if err := m.CreatePlace(ctx, p); err != nil {
		t.Fatal(err)
	}
	a, _ := m.GetPlace(ctx, "p1")
	b, _ := m.GetPlace(ctx, "p1")

	a.Name = "Home"
	if err := m.UpdatePlace(ctx, a); err != nil {
		t.Fatalf("first writer: %v", err)
	}
	if a.Version != 2 {
		t.Errorf("writer version = %d, want 2", a.Version)
	}

	b.Name = "Office"
	if err := m.UpdatePlace(ctx, b); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("stale writer err = %v", err)
	}

	got, _ := m.GetPlace(ctx, "p1")
	if got.Name != "Home" {
		t.Errorf("stored name = %q", got.Name)
	}
}

func TestMemoryDeletePlaceInUse(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemory()

	_ = m.CreatePlace(ctx, &models.SignificantPlace{ID: "p1", UserID: "alice"})
	_ = m.CreateVisit(ctx, &models.Visit{ID: "v1", UserID: "alice", PlaceID: "p1", StartTime: t0, EndTime: t0.Add(time.Hour)})

	if err := m.DeletePlace(ctx, "p1"); !errors.Is(err, ErrPlaceInUse) {
		t.Errorf("err = %v, want ErrPlaceInUse", err)
	}
	if err := m.DeletePlace(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestMemoryReplaceProcessedVisits(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemory()

	first := []models.ProcessedVisit{{ID: "a", PlaceID: "p", StartTime: t0, EndTime: t0.Add(5 * time.Minute)}}
	if err := m.ReplaceProcessedVisits(ctx, "alice", nil, first); err != nil {
		t.Fatal(err)
	}
	if err := m.ReplaceProcessedVisits(ctx, "alice", nil, first); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("duplicate insert err = %v", err)
	}

	merged := []models.ProcessedVisit{{ID: "a", PlaceID: "p", StartTime: t0, EndTime: t0.Add(10 * time.Minute), MergedCount: 2}}
	if err := m.ReplaceProcessedVisits(ctx, "alice", []Ref{{ID: "a", Version: 3}}, merged); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("stale replace err = %v", err)
	}
	if err := m.ReplaceProcessedVisits(ctx, "alice", []Ref{{ID: "a", Version: 1}}, merged); err != nil {
		t.Fatal(err)
	}
	if merged[0].Version != 2 {
		t.Errorf("replaced version = %d, want 2", merged[0].Version)
	}

	got, _ := m.ProcessedVisitsOverlapping(ctx, "alice", t0.Add(7*time.Minute), t0.Add(time.Hour))
	if len(got) != 1 || got[0].MergedCount != 2 {
		t.Errorf("overlapping = %+v", got)
	}
}

func TestMemoryUpsertTripsChecksVersion(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemory()

	trips := []models.Trip{{ID: "t1", StartTime: t0, EndTime: t0.Add(time.Minute)}}
	if err := m.UpsertTrips(ctx, "alice", trips); err != nil {
		t.Fatal(err)
	}
	if trips[0].Version != 1 {
		t.Fatalf("version = %d", trips[0].Version)
	}
	stale := []models.Trip{{ID: "t1", StartTime: t0, EndTime: t0.Add(2 * time.Minute)}}
	if err := m.UpsertTrips(ctx, "alice", stale); !errors.Is(err, ErrVersionConflict) {
		t.Errorf("stale upsert err = %v", err)
	}
	if err := m.UpsertTrips(ctx, "alice", trips); err != nil {
		t.Errorf("fresh upsert err = %v", err)
	}

	if err := m.DeleteTrips(ctx, "alice", []Ref{{ID: "t1", Version: 1}}); !errors.Is(err, ErrVersionConflict) {
		t.Errorf("stale delete err = %v", err)
	}
	if err := m.DeleteTrips(ctx, "alice", []Ref{{ID: "t1", Version: 2}, {ID: "gone", Version: 1}}); err != nil {
		t.Errorf("delete err = %v", err)
	}
	if got, _ := m.TripsOverlapping(ctx, "alice", t0, t0.Add(time.Hour)); len(got) != 0 {
		t.Errorf("%d trips left after delete", len(got))
	}
}

func TestMemoryDetectionParameters(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemory()

	later := t0
	p1 := models.DefaultDetectionParameter("alice")
	p2, _ := models.ParametersForSensitivity("alice", 5)
	p2.ValidSince = &later

	for _, p := range []*models.DetectionParameter{&p2, &p1} {
		if err := m.SaveDetectionParameter(ctx, p); err != nil {
			t.Fatal(err)
		}
	}
	got, _ := m.DetectionParameters(ctx, "alice")
	if len(got) != 2 || got[0].ValidSince != nil {
		t.Fatalf("params not ordered with undated first: %+v", got)
	}

	p1.SensitivityLevel = 2
	if err := m.SaveDetectionParameter(ctx, &p1); err != nil {
		t.Fatalf("replace: %v", err)
	}
	got, _ = m.DetectionParameters(ctx, "alice")
	if len(got) != 2 || got[0].SensitivityLevel != 2 {
		t.Errorf("replace did not take: %+v", got)
	}
}

func TestRetryOnConflict(t *testing.T) {
	t.Parallel()

	calls := 0
	err := RetryOnConflict(func(attempt int) error {
		calls++
		if attempt == 0 {
			return ErrVersionConflict
		}
		return nil
	})
	if err != nil || calls != 2 {
		t.Errorf("err = %v, calls = %d", err, calls)
	}

	calls = 0
	err = RetryOnConflict(func(int) error { calls++; return ErrVersionConflict })
	if !errors.Is(err, ErrVersionConflict) || calls != 2 {
		t.Errorf("persistent conflict: err = %v, calls = %d", err, calls)
	}
}
