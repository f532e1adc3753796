// Geotimeline - Location History Timeline Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geotimeline

// Package geocoding names significant places by asking reverse geocoding
// providers in turn. Providers that keep failing are switched off until
// they are reset.
package geocoding

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/tomtom215/geotimeline/internal/geo"
	"github.com/tomtom215/geotimeline/internal/models"
)

var (
	// ErrNoProviders is returned when no provider is enabled.
	ErrNoProviders = errors.New("no geocoding provider enabled")

	// ErrAllProvidersFailed is returned when every provider errored.
	ErrAllProvidersFailed = errors.New("all geocoding providers failed")
)

// maxResponseBytes caps how much of a provider response is read.
const maxResponseBytes = 1 << 20

// Provider reverse geocodes one coordinate. A nil result with a nil error
// means the provider knows nothing about the location, which is not a
// failure.
type Provider interface {
	Name() string
	Reverse(ctx context.Context, lat, lon float64) (*models.GeocodeResult, error)
}

// ProviderConfig configures one HTTP provider.
type ProviderConfig struct {
	Enabled bool   `koanf:"enabled"`
	URL     string `koanf:"url"`
	// RatePerSecond limits outgoing requests. Nominatim's usage policy
	// allows one per second.
	RatePerSecond float64       `koanf:"rate_per_second"`
	Timeout       time.Duration `koanf:"timeout"`
}

// StatusError is returned for non-2xx provider responses.
type StatusError struct {
	Provider   string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned status %d", e.Provider, e.StatusCode)
}

// httpProvider holds what Nominatim and Photon share: a bounded client, a
// rate limiter and the request plumbing.
type httpProvider struct {
	name      string
	baseURL   string
	userAgent string
	client    *http.Client
	limiter   *rate.Limiter
}

func newHTTPProvider(name string, cfg ProviderConfig, userAgent string) httpProvider {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	limit := rate.Limit(cfg.RatePerSecond)
	if cfg.RatePerSecond <= 0 {
		limit = rate.Inf
	}
	return httpProvider{
		name:      name,
		baseURL:   cfg.URL,
		userAgent: userAgent,
		client:    &http.Client{Timeout: timeout},
		limiter:   rate.NewLimiter(limit, 1),
	}
}

func (h *httpProvider) Name() string { return h.name }

// getJSON decodes the response of GET baseURL+path?query into out. It
// reports false when the provider answered with an empty body.
func (h *httpProvider) getJSON(ctx context.Context, path string, query url.Values, out any) (bool, error) {
	if err := h.limiter.Wait(ctx); err != nil {
		return false, fmt.Errorf("%s rate limit: %w", h.name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+path+"?"+query.Encode(), http.NoBody)
	if err != nil {
		return false, fmt.Errorf("build %s request: %w", h.name, err)
	}
	req.Header.Set("User-Agent", h.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("%s request failed: %w", h.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return false, &StatusError{Provider: h.name, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return false, fmt.Errorf("read %s response: %w", h.name, err)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return false, fmt.Errorf("decode %s response: %w", h.name, err)
	}
	return true, nil
}

func coordQuery(lat, lon float64) url.Values {
	q := url.Values{}
	q.Set("lat", fmt.Sprintf("%.6f", lat))
	q.Set("lon", fmt.Sprintf("%.6f", lon))
	return q
}

// geoJSONRing converts a GeoJSON ring of [lon, lat] pairs, dropping the
// closing vertex.
func geoJSONRing(ring [][]float64) []geo.LatLng {
	out := make([]geo.LatLng, 0, len(ring))
	for _, c := range ring {
		if len(c) < 2 {
			continue
		}
		out = append(out, geo.LatLng{Lat: c[1], Lon: c[0]})
	}
	if n := len(out); n > 1 && out[0] == out[n-1] {
		out = out[:n-1]
	}
	return out
}
