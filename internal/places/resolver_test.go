// Geotimeline - Location History Timeline Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geotimeline

package places

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/geotimeline/internal/cache"
	"github.com/tomtom215/geotimeline/internal/geo"
	"github.com/tomtom215/geotimeline/internal/models"
	"github.com/tomtom215/geotimeline/internal/store"
)

type recordingNotifier struct {
	mu      sync.Mutex
	created []string
	err     error
}

func (n *recordingNotifier) PlaceCreated(_ context.Context, p *models.SignificantPlace) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.created = append(n.created, p.ID)
	return n.err
}

type cacheNeighbor = cache.Neighbor[models.SignificantPlace]

var home = geo.LatLng{Lat: 53.8631, Lon: 10.6993}

func offset(c geo.LatLng, northMeters float64) geo.LatLng {
	return geo.LatLng{Lat: c.Lat + geo.MetersToDegreesLat(northMeters), Lon: c.Lon}
}

func TestResolveCreatesThenReuses(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mem := store.NewMemory()
	n := &recordingNotifier{}
	r := NewResolver(mem, n)
	params := models.DefaultDetectionParameter("alice")

	p1, created, err := r.Resolve(ctx, "alice", home, &params)
	if err != nil || !created {
		t.Fatalf("first resolve: created=%v err=%v", created, err)
	}
	if p1.Geocoded {
		t.Error("new place must start un-geocoded")
	}
	if len(n.created) != 1 || n.created[0] != p1.ID {
		t.Errorf("notifier saw %v", n.created)
	}

	p2, created, err := r.Resolve(ctx, "alice", offset(home, 40), &params)
	if err != nil || created {
		t.Fatalf("nearby resolve: created=%v err=%v", created, err)
	}
	if p2.ID != p1.ID {
		t.Errorf("nearby centroid mapped to %s, want %s", p2.ID, p1.ID)
	}

	p3, created, _ := r.Resolve(ctx, "alice", offset(home, 500), &params)
	if !created || p3.ID == p1.ID {
		t.Error("distant centroid must create a new place")
	}

	if _, created, _ := r.Resolve(ctx, "bob", home, &params); !created {
		t.Error("places must not leak across users")
	}
}

func TestResolveTieBreakPrefersMoreVisits(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mem := store.NewMemory()
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	// Two places equidistant north and south of the query point.
	north := offset(home, 50)
	south := offset(home, -50)
	_ = mem.CreatePlace(ctx, &models.SignificantPlace{ID: "a-older", UserID: "alice", Latitude: north.Lat, Longitude: north.Lon, CreatedAt: created, VisitCount: 1})
	_ = mem.CreatePlace(ctx, &models.SignificantPlace{ID: "b-busier", UserID: "alice", Latitude: south.Lat, Longitude: south.Lon, CreatedAt: created.Add(time.Hour), VisitCount: 5})

	r := NewResolver(mem, nil)
	params := models.DefaultDetectionParameter("alice")
	got, _, err := r.Resolve(ctx, "alice", home, &params)
	if err != nil {
		t.Fatal(err)
	}
	dn := geo.Distance(home, north)
	ds := geo.Distance(home, south)
	switch {
	case dn == ds && got.ID != "b-busier":
		t.Errorf("exact tie resolved to %s, want b-busier", got.ID)
	case dn < ds && got.ID != "a-older":
		t.Errorf("nearer place a-older not chosen, got %s", got.ID)
	case ds < dn && got.ID != "b-busier":
		t.Errorf("nearer place b-busier not chosen, got %s", got.ID)
	}
}

func TestResolveNotifierFailureStillReturnsPlace(t *testing.T) {
	t.Parallel()
	r := NewResolver(store.NewMemory(), &recordingNotifier{err: errors.New("bus down")})
	params := models.DefaultDetectionParameter("alice")

	p, created, err := r.Resolve(context.Background(), "alice", home, &params)
	if err != nil || !created || p == nil {
		t.Fatalf("resolve with failing notifier: %v %v %v", p, created, err)
	}
}

func TestRecordVisitUpdatesCountAndIndex(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mem := store.NewMemory()
	r := NewResolver(mem, nil)
	params := models.DefaultDetectionParameter("alice")

	p, _, _ := r.Resolve(ctx, "alice", home, &params)
	for i := 0; i < 3; i++ {
		if err := r.RecordVisit(ctx, p.ID, home, 4); err != nil {
			t.Fatal(err)
		}
	}
	stored, _ := mem.GetPlace(ctx, p.ID)
	if stored.VisitCount != 3 || stored.Version != 4 {
		t.Errorf("visit count %d version %d", stored.VisitCount, stored.Version)
	}
	cached, _, _ := r.Resolve(ctx, "alice", home, &params)
	if cached.VisitCount != 3 {
		t.Errorf("index copy has %d visits", cached.VisitCount)
	}
}

func TestRecordVisitMovesCentroidToPointMean(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mem := store.NewMemory()
	r := NewResolver(mem, nil)
	params := models.DefaultDetectionParameter("alice")

	p, _, _ := r.Resolve(ctx, "alice", home, &params)
	if err := r.RecordVisit(ctx, p.ID, home, 6); err != nil {
		t.Fatal(err)
	}

	north := offset(home, 60)
	again, created, err := r.Resolve(ctx, "alice", north, &params)
	if err != nil || created || again.ID != p.ID {
		t.Fatalf("stay 60m away got %v created=%v err=%v, want reuse of %s", again, created, err, p.ID)
	}
	if err := r.RecordVisit(ctx, p.ID, north, 2); err != nil {
		t.Fatal(err)
	}

	want := home.Lat + (north.Lat-home.Lat)/4
	stored, _ := mem.GetPlace(ctx, p.ID)
	if stored.PointCount != 8 || stored.VisitCount != 2 {
		t.Errorf("points %d visits %d, want 8 2", stored.PointCount, stored.VisitCount)
	}
	if d := stored.Latitude - want; d > 1e-9 || d < -1e-9 || stored.Longitude != home.Lon {
		t.Errorf("centroid = %v,%v want %v,%v", stored.Latitude, stored.Longitude, want, home.Lon)
	}
	cached, _, _ := r.Resolve(ctx, "alice", north, &params)
	if cached.Latitude != stored.Latitude {
		t.Errorf("index copy at %v, store at %v", cached.Latitude, stored.Latitude)
	}
}

func TestRecordVisitKeepsPolygonCentroid(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mem := store.NewMemory()
	r := NewResolver(mem, nil)

	square := []geo.LatLng{offset(home, -10), offset(home, 10), {Lat: home.Lat, Lon: home.Lon + 0.0001}, {Lat: home.Lat, Lon: home.Lon - 0.0001}}
	place := &models.SignificantPlace{ID: "harbour", UserID: "alice", Latitude: home.Lat, Longitude: home.Lon, Polygon: square, PointCount: 5}
	if err := mem.CreatePlace(ctx, place); err != nil {
		t.Fatal(err)
	}
	if err := r.RecordVisit(ctx, "harbour", offset(home, 50), 5); err != nil {
		t.Fatal(err)
	}
	stored, _ := mem.GetPlace(ctx, "harbour")
	if stored.Latitude != home.Lat || stored.Longitude != home.Lon {
		t.Errorf("polygon place moved to %v,%v", stored.Latitude, stored.Longitude)
	}
	if stored.PointCount != 10 || stored.VisitCount != 1 {
		t.Errorf("points %d visits %d, want 10 1", stored.PointCount, stored.VisitCount)
	}
}

func TestPickNearestTieBreak(t *testing.T) {
	t.Parallel()

	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mk := func(id string, visits int, created time.Time, d float64) cacheNeighbor {
		return cacheNeighbor{ID: id, DistanceMeters: d, Value: models.SignificantPlace{ID: id, VisitCount: visits, CreatedAt: created}}
	}

	tests := []struct {
		name string
		in   []cacheNeighbor
		want string
	}{
		{"nearest wins", []cacheNeighbor{mk("a", 1, t0, 10), mk("b", 9, t0, 20)}, "a"},
		{"tie more visits", []cacheNeighbor{mk("a", 1, t0, 10), mk("b", 9, t0, 10)}, "b"},
		{"tie same visits older", []cacheNeighbor{mk("a", 2, t0.Add(time.Hour), 10), mk("b", 2, t0, 10)}, "b"},
		{"tie everything lowest id", []cacheNeighbor{mk("b", 2, t0, 10), mk("a", 2, t0, 10)}, "a"},
	}
	for _, tt := range tests {
		if got := pickNearest(tt.in); got == nil || got.ID != tt.want {
			t.Errorf("%s: got %+v, want %s", tt.name, got, tt.want)
		}
	}
	if pickNearest(nil) != nil {
		t.Error("no candidates must yield nil")
	}
}
