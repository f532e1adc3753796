// Geotimeline - Location History Timeline Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geotimeline

package geocoding

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tomtom215/geotimeline/internal/models"
	"github.com/tomtom215/geotimeline/internal/store"
)

const photonBody = `{"type":"FeatureCollection","features":[{"type":"Feature",
"geometry":{"type":"Point","coordinates":[10.6993,53.8631]},
"properties":{"name":"Holstentor","street":"Holstentorplatz","housenumber":"1",
"postcode":"23552","city":"Lübeck","countrycode":"de","osm_key":"tourism","osm_value":"attraction"}}]}`

func newServer(t *testing.T, status int, body string, hits *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			atomic.AddInt32(hits, 1)
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Primary = NominatimName
	cfg.MaxErrors = 2
	return cfg
}

func newPlace(t *testing.T, st *store.Memory) *models.SignificantPlace {
	t.Helper()
	p := &models.SignificantPlace{
		ID:        "place-1",
		UserID:    "alice",
		Latitude:  53.8631,
		Longitude: 10.6993,
		CreatedAt: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}
	if err := st.CreatePlace(context.Background(), p); err != nil {
		t.Fatalf("CreatePlace() error = %v", err)
	}
	return p
}

type geocodedRecorder struct {
	places []*models.SignificantPlace
}

func (r *geocodedRecorder) PlaceGeocoded(_ context.Context, p *models.SignificantPlace) error {
	r.places = append(r.places, p)
	return nil
}

func TestEmptyResultFallsThroughToNextProvider(t *testing.T) {
	t.Parallel()

	var firstHits, secondHits int32
	first := newServer(t, http.StatusOK, "", &firstHits)
	second := newServer(t, http.StatusOK, photonBody, &secondHits)

	st := store.NewMemory()
	newPlace(t, st)
	rec := &geocodedRecorder{}
	var refreshed []string

	providers := []Provider{
		NewNominatim(ProviderConfig{URL: first.URL}, "test"),
		NewPhoton(ProviderConfig{URL: second.URL}, "test"),
	}
	o := NewOrchestrator(st, providers, testConfig(),
		WithNotifier(rec),
		WithPlaceUpdated(func(p *models.SignificantPlace) { refreshed = append(refreshed, p.ID) }))

	if err := o.HandlePlaceCreated(context.Background(), "place-1"); err != nil {
		t.Fatalf("HandlePlaceCreated() error = %v", err)
	}

	if atomic.LoadInt32(&firstHits) != 1 || atomic.LoadInt32(&secondHits) != 1 {
		t.Errorf("hits = %d/%d, want 1/1", atomic.LoadInt32(&firstHits), atomic.LoadInt32(&secondHits))
	}

	p, err := st.GetPlace(context.Background(), "place-1")
	if err != nil {
		t.Fatalf("GetPlace() error = %v", err)
	}
	if !p.Geocoded {
		t.Error("place not geocoded")
	}
	if p.Name != "Holstentor" || p.City != "Lübeck" || p.CountryCode != "DE" {
		t.Errorf("place = %q/%q/%q", p.Name, p.City, p.CountryCode)
	}
	if p.Address != "Holstentorplatz 1, 23552 Lübeck" {
		t.Errorf("Address = %q", p.Address)
	}
	if p.Version != 2 {
		t.Errorf("Version = %d, want 2", p.Version)
	}

	status := o.Providers()
	if len(status) != 2 {
		t.Fatalf("Providers() len = %d", len(status))
	}
	if status[0].Name != NominatimName || status[0].ErrorCount != 0 || status[0].LastUsed != nil {
		t.Errorf("first provider = %+v, want untouched", status[0])
	}
	if status[1].LastUsed == nil {
		t.Error("second provider LastUsed not updated")
	}
	if len(rec.places) != 1 || len(refreshed) != 1 {
		t.Errorf("notifications = %d, refreshes = %d", len(rec.places), len(refreshed))
	}
}

func TestProviderDisabledAfterMaxErrors(t *testing.T) {
	t.Parallel()

	failing := newServer(t, http.StatusInternalServerError, "boom", nil)
	o := NewOrchestrator(store.NewMemory(),
		[]Provider{NewNominatim(ProviderConfig{URL: failing.URL}, "test")}, testConfig())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := o.Reverse(ctx, 50+float64(i), 10)
		if !errors.Is(err, ErrAllProvidersFailed) {
			t.Fatalf("Reverse() #%d error = %v, want ErrAllProvidersFailed", i, err)
		}
	}
	if _, err := o.Reverse(ctx, 52, 10); !errors.Is(err, ErrNoProviders) {
		t.Fatalf("Reverse() after disable error = %v, want ErrNoProviders", err)
	}

	st := o.Providers()[0]
	if st.Enabled || st.ErrorCount != 2 || st.LastErrorAt == nil || st.LastError == "" {
		t.Errorf("status = %+v", st)
	}

	if !o.ResetProvider(NominatimName) {
		t.Fatal("ResetProvider() = false")
	}
	if o.ResetProvider("nope") {
		t.Error("ResetProvider(unknown) = true")
	}
	st = o.Providers()[0]
	if !st.Enabled || st.ErrorCount != 0 {
		t.Errorf("status after reset = %+v", st)
	}
}

func TestAllEmptyLeavesPlaceUnnamed(t *testing.T) {
	t.Parallel()

	empty := newServer(t, http.StatusOK, `{"error":"Unable to geocode"}`, nil)
	st := store.NewMemory()
	newPlace(t, st)
	o := NewOrchestrator(st, []Provider{NewNominatim(ProviderConfig{URL: empty.URL}, "test")}, testConfig())

	if err := o.HandlePlaceCreated(context.Background(), "place-1"); err != nil {
		t.Fatalf("HandlePlaceCreated() error = %v", err)
	}
	p, _ := st.GetPlace(context.Background(), "place-1")
	if p.Geocoded || p.DisplayName() != models.UnnamedPlace || p.Version != 1 {
		t.Errorf("place = %+v, want untouched", p)
	}
	if o.Providers()[0].ErrorCount != 0 {
		t.Error("empty result counted as error")
	}
}

func TestCacheHitSkipsProviders(t *testing.T) {
	t.Parallel()

	var hits int32
	srv := newServer(t, http.StatusOK, photonBody, &hits)
	o := NewOrchestrator(store.NewMemory(), []Provider{NewPhoton(ProviderConfig{URL: srv.URL}, "test")}, testConfig())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		// Differences below the fourth decimal share a key.
		r, err := o.Reverse(ctx, 53.86311+float64(i)*0.00001, 10.69931)
		if err != nil || r == nil || r.Name != "Holstentor" {
			t.Fatalf("Reverse() = %+v, %v", r, err)
		}
	}
	if n := atomic.LoadInt32(&hits); n != 1 {
		t.Errorf("provider hits = %d, want 1", n)
	}
}

func TestCacheKey(t *testing.T) {
	t.Parallel()
	if got := CacheKey(53.86314, -10.69936); got != "revgeo:53.8631:-10.6994" {
		t.Errorf("CacheKey() = %q", got)
	}
}

func TestNominatimRequestAndNameChain(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		body     string
		wantName string
		wantCity string
	}{
		{
			name:     "named feature",
			body:     `{"name":"Café Niederegger","display_name":"Breite Straße 89, Lübeck","type":"cafe","address":{"amenity":"Café","city":"Lübeck","country_code":"de"}}`,
			wantName: "Café Niederegger",
			wantCity: "Lübeck",
		},
		{
			name:     "amenity when unnamed",
			body:     `{"display_name":"x","address":{"amenity":"Bäckerei","town":"Bad Schwartau"}}`,
			wantName: "Bäckerei",
			wantCity: "Bad Schwartau",
		},
		{
			name:     "road and number",
			body:     `{"display_name":"x","address":{"road":"Mühlenstraße","house_number":"12","village":"Ratekau"}}`,
			wantName: "Mühlenstraße 12",
			wantCity: "Ratekau",
		},
		{
			name:     "suburb last",
			body:     `{"display_name":"x","address":{"suburb":"St. Jürgen"}}`,
			wantName: "St. Jürgen",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/reverse" || r.URL.Query().Get("format") != "jsonv2" {
					http.Error(w, "bad request", http.StatusBadRequest)
					return
				}
				if r.Header.Get("User-Agent") != "geotimeline-test" {
					http.Error(w, "missing user agent", http.StatusForbidden)
					return
				}
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			n := NewNominatim(ProviderConfig{URL: srv.URL}, "geotimeline-test")
			r, err := n.Reverse(context.Background(), 53.8631, 10.6993)
			if err != nil {
				t.Fatalf("Reverse() error = %v", err)
			}
			if r == nil || r.Name != tt.wantName || r.City != tt.wantCity {
				t.Errorf("Reverse() = %+v, want name %q city %q", r, tt.wantName, tt.wantCity)
			}
		})
	}
}

func TestPolygonMovesCentroid(t *testing.T) {
	t.Parallel()

	body := `{"name":"Koberg","display_name":"Koberg, Lübeck","type":"square",
"geojson":{"type":"Polygon","coordinates":[[[10.0,50.0],[10.2,50.0],[10.2,50.2],[10.0,50.2],[10.0,50.0]]]}}`
	srv := newServer(t, http.StatusOK, body, nil)

	st := store.NewMemory()
	newPlace(t, st)
	o := NewOrchestrator(st, []Provider{NewNominatim(ProviderConfig{URL: srv.URL}, "test")}, testConfig())
	if err := o.HandlePlaceCreated(context.Background(), "place-1"); err != nil {
		t.Fatalf("HandlePlaceCreated() error = %v", err)
	}

	p, _ := st.GetPlace(context.Background(), "place-1")
	if len(p.Polygon) != 4 {
		t.Fatalf("polygon has %d vertices, want 4", len(p.Polygon))
	}
	if math.Abs(p.Latitude-50.1) > 1e-9 || math.Abs(p.Longitude-10.1) > 1e-9 {
		t.Errorf("centroid = %f,%f, want 50.1,10.1", p.Latitude, p.Longitude)
	}
}

func TestMissingPlaceIsDropped(t *testing.T) {
	t.Parallel()

	var hits int32
	srv := newServer(t, http.StatusOK, photonBody, &hits)
	o := NewOrchestrator(store.NewMemory(), []Provider{NewPhoton(ProviderConfig{URL: srv.URL}, "test")}, testConfig())

	if err := o.HandlePlaceCreated(context.Background(), "gone"); err != nil {
		t.Fatalf("HandlePlaceCreated() error = %v", err)
	}
	if atomic.LoadInt32(&hits) != 0 {
		t.Errorf("provider asked about a missing place")
	}
}

// racingStore bumps the place underneath the first update.
type racingStore struct {
	*store.Memory
	raced bool
}

func (s *racingStore) UpdatePlace(ctx context.Context, p *models.SignificantPlace) error {
	if !s.raced {
		s.raced = true
		cur, err := s.Memory.GetPlace(ctx, p.ID)
		if err != nil {
			return err
		}
		cur.VisitCount++
		if err := s.Memory.UpdatePlace(ctx, cur); err != nil {
			return err
		}
	}
	return s.Memory.UpdatePlace(ctx, p)
}

func TestVersionConflictReloadsAndRetries(t *testing.T) {
	t.Parallel()

	srv := newServer(t, http.StatusOK, photonBody, nil)
	st := &racingStore{Memory: store.NewMemory()}
	newPlace(t, st.Memory)
	o := NewOrchestrator(st, []Provider{NewPhoton(ProviderConfig{URL: srv.URL}, "test")}, testConfig())

	if err := o.HandlePlaceCreated(context.Background(), "place-1"); err != nil {
		t.Fatalf("HandlePlaceCreated() error = %v", err)
	}
	p, _ := st.GetPlace(context.Background(), "place-1")
	if !p.Geocoded || p.VisitCount != 1 || p.Version != 3 {
		t.Errorf("place = geocoded %v visits %d version %d, want true 1 3", p.Geocoded, p.VisitCount, p.Version)
	}
}

func TestOrderPutsPrimaryFirst(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Primary = PhotonName
	o := NewOrchestrator(store.NewMemory(), []Provider{
		NewNominatim(ProviderConfig{}, "test"),
		NewPhoton(ProviderConfig{}, "test"),
	}, cfg)

	for i := 0; i < 10; i++ {
		order := o.order()
		if len(order) != 2 || order[0].provider.Name() != PhotonName {
			t.Fatalf("order()[0] = %s, want photon", order[0].provider.Name())
		}
	}
}
