// Geotimeline - Location History Timeline Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geotimeline

package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/geotimeline/internal/config"
	"github.com/tomtom215/geotimeline/internal/geocoding"
	"github.com/tomtom215/geotimeline/internal/ingest"
	"github.com/tomtom215/geotimeline/internal/middleware"
	"github.com/tomtom215/geotimeline/internal/models"
	"github.com/tomtom215/geotimeline/internal/store"
	"github.com/tomtom215/geotimeline/internal/validation"
	"github.com/tomtom215/geotimeline/internal/websocket"
)

type fakeIngester struct {
	mu        sync.Mutex
	submitted map[string][]models.LocationPoint
	triggered []string
	err       error
}

func (f *fakeIngester) Submit(_ context.Context, userID string, points []models.LocationPoint) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	valid := 0
	for i := range points {
		if validation.ValidateStruct(&points[i]) == nil {
			valid++
			f.submitted[userID] = append(f.submitted[userID], points[i])
		}
	}
	if valid == 0 {
		return 0, ingest.ErrInvalidPoint
	}
	return valid, nil
}

func (f *fakeIngester) TriggerNow(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.triggered = append(f.triggered, userID)
	return nil
}

type fakeGeocoding struct {
	mu        sync.Mutex
	providers []geocoding.ProviderStatus
}

func (f *fakeGeocoding) Providers() []geocoding.ProviderStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]geocoding.ProviderStatus(nil), f.providers...)
}

func (f *fakeGeocoding) ResetProvider(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.providers {
		if f.providers[i].Name == name {
			f.providers[i].ErrorCount = 0
			f.providers[i].Enabled = true
			f.providers[i].LastError = ""
			return true
		}
	}
	return false
}

// pingStore adds a failing Ping to a store.
type pingStore struct {
	store.Store
	err error
}

func (p pingStore) Ping(context.Context) error { return p.err }

type testEnv struct {
	handler http.Handler
	store   *store.Memory
	ingest  *fakeIngester
	geo     *fakeGeocoding
	idle    bool
}

func testSecurity() config.SecurityConfig {
	return config.SecurityConfig{
		CORSOrigins:       []string{"*"},
		RateLimitDisabled: true,
		MaxBodyBytes:      1 << 20,
	}
}

func newTestEnv(t *testing.T, mutate func(*Deps, *config.SecurityConfig)) *testEnv {
	t.Helper()
	env := &testEnv{
		store:  store.NewMemory(),
		ingest: &fakeIngester{submitted: make(map[string][]models.LocationPoint)},
		geo: &fakeGeocoding{providers: []geocoding.ProviderStatus{
			{Name: geocoding.NominatimName, Primary: true, Enabled: true},
			{Name: geocoding.PhotonName, Enabled: false, ErrorCount: 10, LastError: "timeout"},
		}},
		idle: true,
	}
	deps := Deps{
		Store:     env.store,
		Ingest:    env.ingest,
		Geocoding: env.geo,
		Idle:      func() bool { return env.idle },
	}
	sec := testSecurity()
	if mutate != nil {
		mutate(&deps, &sec)
	}
	env.handler = NewRouter(NewHandler(deps, sec), sec)
	return env
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *APIError       `json:"error"`
	Meta    *APIMeta        `json:"meta"`
}

func (env *testEnv) do(t *testing.T, method, target, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	var env2 envelope
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &env2); err != nil {
			t.Fatalf("%s %s: decode %q: %v", method, target, rec.Body.String(), err)
		}
	}
	return rec, env2
}

// decodeData leaves v untouched when data was omitted.
func decodeData(t *testing.T, e envelope, v any) {
	t.Helper()
	if len(e.Data) == 0 {
		return
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		t.Fatalf("decode data %s: %v", e.Data, err)
	}
}

var t0 = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func rfc(t time.Time) string { return t.Format(time.RFC3339) }

func TestIngestPoints(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantResult IngestResult
		wantCode   string
	}{
		{
			name:       "array",
			body:       `[{"latitude":53.86,"longitude":10.69,"timestamp":"2024-05-01T10:00:00Z","accuracy":10},{"latitude":53.87,"longitude":10.70,"timestamp":"2024-05-01T10:00:10Z","accuracy":12}]`,
			wantStatus: http.StatusAccepted,
			wantResult: IngestResult{Received: 2, Accepted: 2},
		},
		{
			name:       "single object",
			body:       ` {"latitude":53.86,"longitude":10.69,"timestamp":"2024-05-01T10:00:00Z","accuracy":10}`,
			wantStatus: http.StatusAccepted,
			wantResult: IngestResult{Received: 1, Accepted: 1},
		},
		{
			name:       "partially invalid",
			body:       `[{"latitude":91,"longitude":10.69,"timestamp":"2024-05-01T10:00:00Z","accuracy":10},{"latitude":53.87,"longitude":10.70,"timestamp":"2024-05-01T10:00:10Z","accuracy":12}]`,
			wantStatus: http.StatusAccepted,
			wantResult: IngestResult{Received: 2, Accepted: 1, Rejected: 1},
		},
		{
			name:       "all invalid",
			body:       `[{"latitude":53.86,"longitude":10.69,"timestamp":"2024-05-01T10:00:00Z"}]`,
			wantStatus: http.StatusBadRequest,
			wantCode:   ErrCodeValidationFailed,
		},
		{
			name:       "malformed json",
			body:       `[{"latitude":`,
			wantStatus: http.StatusBadRequest,
			wantCode:   ErrCodeBadRequest,
		},
		{
			name:       "empty body",
			body:       "   ",
			wantStatus: http.StatusBadRequest,
			wantCode:   ErrCodeBadRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			env := newTestEnv(t, nil)
			rec, resp := env.do(t, http.MethodPost, "/api/v1/users/alice/points", tt.body)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if tt.wantCode != "" {
				if resp.Success || resp.Error == nil || resp.Error.Code != tt.wantCode {
					t.Errorf("error = %+v, want code %s", resp.Error, tt.wantCode)
				}
				return
			}
			var got IngestResult
			decodeData(t, resp, &got)
			if got != tt.wantResult {
				t.Errorf("result = %+v, want %+v", got, tt.wantResult)
			}
			if n := len(env.ingest.submitted["alice"]); n != tt.wantResult.Accepted {
				t.Errorf("submitted %d points, want %d", n, tt.wantResult.Accepted)
			}
		})
	}
}

func TestIngestPointsErrors(t *testing.T) {
	t.Parallel()
	point := `{"latitude":53.86,"longitude":10.69,"timestamp":"2024-05-01T10:00:00Z","accuracy":10}`

	t.Run("body too large", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, func(_ *Deps, sec *config.SecurityConfig) { sec.MaxBodyBytes = 32 })
		rec, resp := env.do(t, http.MethodPost, "/api/v1/users/alice/points", point)
		if rec.Code != http.StatusRequestEntityTooLarge || resp.Error.Code != ErrCodeTooLarge {
			t.Errorf("status = %d, error = %+v", rec.Code, resp.Error)
		}
	})

	t.Run("batcher closed", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, nil)
		env.ingest.err = ingest.ErrBatcherClosed
		rec, _ := env.do(t, http.MethodPost, "/api/v1/users/alice/points", point)
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("status = %d, want 503", rec.Code)
		}
	})

	t.Run("storage failure", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, nil)
		env.ingest.err = errors.New("disk full")
		rec, resp := env.do(t, http.MethodPost, "/api/v1/users/alice/points", point)
		if rec.Code != http.StatusInternalServerError || resp.Error.Code != ErrCodeInternalError {
			t.Errorf("status = %d, error = %+v", rec.Code, resp.Error)
		}
	})

	t.Run("user too long", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, nil)
		rec, _ := env.do(t, http.MethodPost, "/api/v1/users/"+strings.Repeat("u", maxUserIDLen+1)+"/points", point)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})
}

func TestTriggerPipeline(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	rec, resp := env.do(t, http.MethodPost, "/api/v1/users/alice/trigger", "")
	if rec.Code != http.StatusAccepted || !resp.Success {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if len(env.ingest.triggered) != 1 || env.ingest.triggered[0] != "alice" {
		t.Errorf("triggered = %v", env.ingest.triggered)
	}

	rec, _ = env.do(t, http.MethodGet, "/api/v1/users/alice/trigger", "")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET trigger status = %d, want 405", rec.Code)
	}
}

func seedPoints(t *testing.T, s *store.Memory, user string, n int, step time.Duration) {
	t.Helper()
	points := make([]models.RawLocationPoint, n)
	for i := range points {
		points[i] = models.RawLocationPoint{
			Timestamp:      t0.Add(time.Duration(i) * step),
			Latitude:       53.0 + float64(i)*0.001,
			Longitude:      10.0,
			AccuracyMeters: 10,
		}
	}
	if _, err := s.InsertPoints(context.Background(), user, points); err != nil {
		t.Fatal(err)
	}
}

func TestUnprocessedPoints(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	seedPoints(t, env.store, "alice", 5, time.Minute)

	rec, resp := env.do(t, http.MethodGet, "/api/v1/users/alice/points/unprocessed?limit=2", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var points []models.RawLocationPoint
	decodeData(t, resp, &points)
	if len(points) != 2 || resp.Meta.Count == nil || *resp.Meta.Count != 2 {
		t.Fatalf("got %d points, meta %+v", len(points), resp.Meta)
	}
	if !points[0].Timestamp.Equal(t0) {
		t.Errorf("first point at %v, want %v", points[0].Timestamp, t0)
	}

	target := "/api/v1/users/alice/points/unprocessed?from=" + rfc(t0.Add(3*time.Minute))
	_, resp = env.do(t, http.MethodGet, target, "")
	decodeData(t, resp, &points)
	if len(points) != 2 {
		t.Errorf("from filter returned %d points, want 2", len(points))
	}

	_, resp = env.do(t, http.MethodGet, "/api/v1/users/bob/points/unprocessed", "")
	var none []models.RawLocationPoint
	decodeData(t, resp, &none)
	if len(none) != 0 || resp.Meta.Count == nil || *resp.Meta.Count != 0 {
		t.Errorf("unknown user data = %s, meta %+v", resp.Data, resp.Meta)
	}

	for _, q := range []string{"?limit=0", "?limit=abc", "?from=yesterday", "?from=" + rfc(t0) + "&to=" + rfc(t0)} {
		rec, _ := env.do(t, http.MethodGet, "/api/v1/users/alice/points/unprocessed"+q, "")
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", q, rec.Code)
		}
	}
}

func TestSimplifiedPoints(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	// A straight north-bound track collapses to its endpoints.
	seedPoints(t, env.store, "alice", 10, 10*time.Second)

	target := "/api/v1/users/alice/points/simplified?from=" + rfc(t0) + "&to=" + rfc(t0.Add(time.Hour)) + "&zoom=12"
	rec, resp := env.do(t, http.MethodGet, target, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var path SimplifiedPath
	decodeData(t, resp, &path)
	if path.OriginalCount != 10 || len(path.Points) != 2 || path.Zoom != 12 {
		t.Errorf("path = zoom %d, original %d, kept %d", path.Zoom, path.OriginalCount, len(path.Points))
	}
	if path.ToleranceMeter <= 0 {
		t.Errorf("tolerance = %v", path.ToleranceMeter)
	}

	for _, q := range []string{"", "?from=" + rfc(t0), "?from=" + rfc(t0) + "&to=" + rfc(t0.Add(time.Hour)) + "&zoom=30"} {
		rec, _ := env.do(t, http.MethodGet, "/api/v1/users/alice/points/simplified"+q, "")
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%q: status = %d, want 400", q, rec.Code)
		}
	}
}

func TestVisitsAndTrips(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	ctx := context.Background()

	home := models.ProcessedVisit{ID: "pv-home", PlaceID: "home", StartTime: t0, EndTime: t0.Add(time.Hour), DurationSeconds: 3600, MergedCount: 1}
	work := models.ProcessedVisit{ID: "pv-work", PlaceID: "work", StartTime: t0.Add(2 * time.Hour), EndTime: t0.Add(6 * time.Hour), DurationSeconds: 4 * 3600, MergedCount: 2}
	if err := env.store.ReplaceProcessedVisits(ctx, "alice", nil, []models.ProcessedVisit{home, work}); err != nil {
		t.Fatal(err)
	}
	trip := models.Trip{
		ID: models.TripID(home.ID, work.ID), StartVisitID: home.ID, EndVisitID: work.ID,
		StartPlaceID: "home", EndPlaceID: "work", StartTime: home.EndTime, EndTime: work.StartTime,
		DurationSeconds: 3600, TransportMode: models.TransportWalking,
	}
	if err := env.store.UpsertTrips(ctx, "alice", []models.Trip{trip}); err != nil {
		t.Fatal(err)
	}

	// [10:30, 11:00) overlaps only the home visit; the trip starts at 11:00.
	target := "/api/v1/users/alice/visits?from=" + rfc(t0.Add(30*time.Minute)) + "&to=" + rfc(t0.Add(time.Hour))
	rec, resp := env.do(t, http.MethodGet, target, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var visits []models.ProcessedVisit
	decodeData(t, resp, &visits)
	if len(visits) != 1 || visits[0].ID != "pv-home" {
		t.Errorf("visits = %+v", visits)
	}

	target = "/api/v1/users/alice/visits?from=" + rfc(t0) + "&to=" + rfc(t0.Add(24*time.Hour))
	_, resp = env.do(t, http.MethodGet, target, "")
	decodeData(t, resp, &visits)
	if len(visits) != 2 || visits[1].MergedCount != 2 {
		t.Errorf("full day visits = %+v", visits)
	}

	target = "/api/v1/users/alice/trips?from=" + rfc(t0) + "&to=" + rfc(t0.Add(24*time.Hour))
	_, resp = env.do(t, http.MethodGet, target, "")
	var trips []models.Trip
	decodeData(t, resp, &trips)
	if len(trips) != 1 || trips[0].StartVisitID != home.ID || trips[0].EndVisitID != work.ID {
		t.Errorf("trips = %+v", trips)
	}

	target = "/api/v1/users/alice/trips?from=" + rfc(t0) + "&to=" + rfc(t0.Add(time.Hour))
	_, resp = env.do(t, http.MethodGet, target, "")
	var early []models.Trip
	decodeData(t, resp, &early)
	if len(early) != 0 {
		t.Errorf("trips before departure = %s, want none", resp.Data)
	}

	for _, path := range []string{"/visits", "/trips"} {
		rec, _ := env.do(t, http.MethodGet, "/api/v1/users/alice"+path+"?from="+rfc(t0), "")
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s without to: status = %d, want 400", path, rec.Code)
		}
		rec, _ = env.do(t, http.MethodGet, "/api/v1/users/alice"+path+"?from="+rfc(t0)+"&to="+rfc(t0.AddDate(2, 0, 0)), "")
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s with two year range: status = %d, want 400", path, rec.Code)
		}
	}
}

func TestPlaces(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	ctx := context.Background()
	for _, p := range []models.SignificantPlace{
		{ID: "home", UserID: "alice", Name: "Home", Latitude: 53.86, Longitude: 10.69, Geocoded: true, CreatedAt: t0},
		{ID: "office", UserID: "bob", Latitude: 52.52, Longitude: 13.40, CreatedAt: t0},
	} {
		if err := env.store.CreatePlace(ctx, &p); err != nil {
			t.Fatal(err)
		}
	}

	_, resp := env.do(t, http.MethodGet, "/api/v1/users/alice/places", "")
	var places []models.SignificantPlace
	decodeData(t, resp, &places)
	if len(places) != 1 || places[0].ID != "home" {
		t.Errorf("places = %+v", places)
	}

	rec, resp := env.do(t, http.MethodGet, "/api/v1/users/alice/places/home", "")
	var place models.SignificantPlace
	decodeData(t, resp, &place)
	if rec.Code != http.StatusOK || place.Name != "Home" || place.Version != 1 {
		t.Errorf("status %d, place %+v", rec.Code, place)
	}

	for _, id := range []string{"office", "missing"} {
		rec, resp := env.do(t, http.MethodGet, "/api/v1/users/alice/places/"+id, "")
		if rec.Code != http.StatusNotFound || resp.Error.Code != ErrCodeNotFound {
			t.Errorf("%s: status = %d, error = %+v", id, rec.Code, resp.Error)
		}
	}
}

func TestParameters(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	const target = "/api/v1/users/alice/parameters"

	rec, resp := env.do(t, http.MethodGet, target, "")
	var set ParameterSet
	decodeData(t, resp, &set)
	if rec.Code != http.StatusOK || len(set.Snapshots) != 0 || set.Effective.SensitivityLevel != models.SensitivityDefault {
		t.Fatalf("initial set = %+v", set)
	}

	rec, resp = env.do(t, http.MethodPost, target, `{"sensitivity_level":5}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", rec.Code, rec.Body.String())
	}
	var saved models.DetectionParameter
	decodeData(t, resp, &saved)
	want, _ := models.ParametersForSensitivity("alice", 5)
	if saved.Version != 1 || saved.SearchDistanceMeters != want.SearchDistanceMeters || saved.UserID != "alice" {
		t.Errorf("saved = %+v", saved)
	}

	// A stale version loses.
	rec, resp = env.do(t, http.MethodPost, target, `{"sensitivity_level":2}`)
	if rec.Code != http.StatusConflict || resp.Error.Code != ErrCodeConflict {
		t.Errorf("stale update status = %d, error = %+v", rec.Code, resp.Error)
	}
	rec, resp = env.do(t, http.MethodPost, target, `{"sensitivity_level":2,"version":1}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d: %s", rec.Code, rec.Body.String())
	}
	decodeData(t, resp, &saved)
	if saved.Version != 2 || saved.SensitivityLevel != 2 {
		t.Errorf("updated = %+v", saved)
	}

	advanced := `{"valid_since":"2024-06-01T00:00:00Z","advanced":{
		"search_distance_meters":80,"minimum_stay_time_seconds":240,"minimum_close_points":4,
		"max_merge_time_between_same_stay_points":300,"min_distance_between_visits_meters":90,
		"search_duration_hours":24,"merge_threshold_meters":100,"max_merge_time_between_same_visits":600}}`
	rec, resp = env.do(t, http.MethodPost, target, advanced)
	if rec.Code != http.StatusCreated {
		t.Fatalf("advanced status = %d: %s", rec.Code, rec.Body.String())
	}
	decodeData(t, resp, &saved)
	if saved.SensitivityLevel != models.SensitivityAdvanced || saved.ValidSince == nil || saved.SearchDistanceMeters != 80 {
		t.Errorf("advanced = %+v", saved)
	}

	_, resp = env.do(t, http.MethodGet, target, "")
	decodeData(t, resp, &set)
	if len(set.Snapshots) != 2 || set.Snapshots[0].ValidSince != nil {
		t.Errorf("snapshots = %+v", set.Snapshots)
	}
	if set.Effective.SensitivityLevel != models.SensitivityAdvanced {
		t.Errorf("effective level = %d, want the advanced snapshot", set.Effective.SensitivityLevel)
	}
}

func TestSaveParametersRejects(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		body     string
		wantCode string
	}{
		{"not json", `sensitivity=3`, ErrCodeBadRequest},
		{"empty", `{}`, ErrCodeBadRequest},
		{"both", `{"sensitivity_level":3,"advanced":{"search_distance_meters":80}}`, ErrCodeBadRequest},
		{"level out of range", `{"sensitivity_level":9}`, ErrCodeValidationFailed},
		{"advanced invalid", `{"advanced":{"search_distance_meters":0,"minimum_stay_time_seconds":60,"minimum_close_points":2,"min_distance_between_visits_meters":50,"search_duration_hours":24}}`, ErrCodeValidationFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			env := newTestEnv(t, nil)
			rec, resp := env.do(t, http.MethodPost, "/api/v1/users/alice/parameters", tt.body)
			if rec.Code != http.StatusBadRequest || resp.Error == nil || resp.Error.Code != tt.wantCode {
				t.Errorf("status = %d, error = %+v, want %s", rec.Code, resp.Error, tt.wantCode)
			}
		})
	}
}

func TestGeocodingProviders(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)

	_, resp := env.do(t, http.MethodGet, "/api/v1/geocoding/providers", "")
	var providers []geocoding.ProviderStatus
	decodeData(t, resp, &providers)
	if len(providers) != 2 || !providers[0].Primary || providers[1].Enabled {
		t.Fatalf("providers = %+v", providers)
	}

	rec, resp := env.do(t, http.MethodPost, "/api/v1/geocoding/providers/photon/reset", "")
	var reset geocoding.ProviderStatus
	decodeData(t, resp, &reset)
	if rec.Code != http.StatusOK || !reset.Enabled || reset.ErrorCount != 0 {
		t.Errorf("status %d, reset = %+v", rec.Code, reset)
	}

	rec, _ = env.do(t, http.MethodPost, "/api/v1/geocoding/providers/mapbox/reset", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown provider status = %d, want 404", rec.Code)
	}

	noGeo := newTestEnv(t, func(d *Deps, _ *config.SecurityConfig) { d.Geocoding = nil })
	_, resp = noGeo.do(t, http.MethodGet, "/api/v1/geocoding/providers", "")
	var empty []geocoding.ProviderStatus
	decodeData(t, resp, &empty)
	if len(empty) != 0 || *resp.Meta.Count != 0 {
		t.Errorf("without geocoding data = %s", resp.Data)
	}
}

func TestHealth(t *testing.T) {
	t.Parallel()

	t.Run("live and ready", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, nil)
		for _, path := range []string{"/api/v1/health/live", "/api/v1/health/ready", "/api/v1/health/idle"} {
			rec, resp := env.do(t, http.MethodGet, path, "")
			if rec.Code != http.StatusOK || !resp.Success {
				t.Errorf("%s: status = %d", path, rec.Code)
			}
		}
	})

	t.Run("ready fails when ping fails", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, func(d *Deps, _ *config.SecurityConfig) {
			d.Store = pingStore{Store: d.Store, err: errors.New("connection refused")}
		})
		rec, resp := env.do(t, http.MethodGet, "/api/v1/health/ready", "")
		if rec.Code != http.StatusServiceUnavailable || resp.Error.Code != ErrCodeServiceUnavailable {
			t.Errorf("status = %d, error = %+v", rec.Code, resp.Error)
		}
	})

	t.Run("ready fails when the event transport is down", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, func(d *Deps, _ *config.SecurityConfig) {
			d.Ready = func(context.Context) bool { return false }
		})
		rec, resp := env.do(t, http.MethodGet, "/api/v1/health/ready", "")
		if rec.Code != http.StatusServiceUnavailable || resp.Error.Code != ErrCodeServiceUnavailable {
			t.Errorf("status = %d, error = %+v", rec.Code, resp.Error)
		}
	})

	t.Run("busy", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, nil)
		env.idle = false
		rec, _ := env.do(t, http.MethodGet, "/api/v1/health/idle", "")
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("status = %d, want 503", rec.Code)
		}
	})
}

func TestEnvelopeAndRequestID(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/nope", nil)
	req.Header.Set(middleware.RequestIDHeader, "req-123")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Header().Get(middleware.RequestIDHeader); got != "req-123" {
		t.Errorf("response request id = %q", got)
	}
	var resp envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Success || resp.Error.RequestID != "req-123" || resp.Meta.RequestID != "req-123" {
		t.Errorf("envelope = %+v, meta = %+v", resp.Error, resp.Meta)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Errorf("content type = %q", ct)
	}
}

func TestCompressedResponse(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/users/alice/places", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	if rec.Header().Get("Content-Encoding") != "gzip" {
		t.Errorf("Content-Encoding = %q, want gzip", rec.Header().Get("Content-Encoding"))
	}
}

func TestRateLimit(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, func(_ *Deps, sec *config.SecurityConfig) {
		sec.RateLimitDisabled = false
		sec.RateLimitReqs = 2
		sec.RateLimitWindow = time.Minute
	})
	var last int
	for i := 0; i < 3; i++ {
		rec, _ := env.do(t, http.MethodGet, "/api/v1/users/alice/places", "")
		last = rec.Code
	}
	if last != http.StatusTooManyRequests {
		t.Errorf("third request status = %d, want 429", last)
	}
	// Health checks have their own limiter.
	if rec, _ := env.do(t, http.MethodGet, "/api/v1/health/live", ""); rec.Code != http.StatusOK {
		t.Errorf("health status = %d", rec.Code)
	}
}

func TestWebSocketRoute(t *testing.T) {
	t.Parallel()

	disabled := newTestEnv(t, nil)
	if rec, _ := disabled.do(t, http.MethodGet, "/api/v1/ws?user=alice", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("without hub status = %d, want 503", rec.Code)
	}

	hub := websocket.NewHub()
	env := newTestEnv(t, func(d *Deps, _ *config.SecurityConfig) { d.Hub = hub })
	if rec, _ := env.do(t, http.MethodGet, "/api/v1/ws", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("without user status = %d, want 400", rec.Code)
	}
}
