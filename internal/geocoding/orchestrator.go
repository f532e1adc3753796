// Geotimeline - Location History Timeline Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geotimeline

package geocoding

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/tomtom215/geotimeline/internal/logging"
	"github.com/tomtom215/geotimeline/internal/metrics"
	"github.com/tomtom215/geotimeline/internal/models"
	"github.com/tomtom215/geotimeline/internal/store"
)

// Config holds geocoding configuration.
type Config struct {
	// Primary is asked first when enabled. The others follow in random
	// order to spread load.
	Primary   string `koanf:"primary"`
	MaxErrors int    `koanf:"max_errors"`
	UserAgent string `koanf:"user_agent"`

	CacheSize int           `koanf:"cache_size"`
	CacheTTL  time.Duration `koanf:"cache_ttl"`

	Nominatim ProviderConfig `koanf:"nominatim"`
	Photon    ProviderConfig `koanf:"photon"`
}

func DefaultConfig() Config {
	return Config{
		Primary:   NominatimName,
		MaxErrors: 10,
		UserAgent: "geotimeline/1.0 (+https://github.com/tomtom215/geotimeline)",
		CacheSize: 10000,
		CacheTTL:  7 * 24 * time.Hour,
		Nominatim: ProviderConfig{Enabled: true, RatePerSecond: 1, Timeout: 10 * time.Second},
		Photon:    ProviderConfig{Enabled: true, RatePerSecond: 2, Timeout: 10 * time.Second},
	}
}

// Providers builds the HTTP providers enabled in cfg.
func (c *Config) Providers() []Provider {
	var out []Provider
	if c.Nominatim.Enabled {
		out = append(out, NewNominatim(c.Nominatim, c.UserAgent))
	}
	if c.Photon.Enabled {
		out = append(out, NewPhoton(c.Photon, c.UserAgent))
	}
	return out
}

// ProviderStatus is a snapshot of a provider's health.
type ProviderStatus struct {
	Name        string     `json:"name"`
	Primary     bool       `json:"primary"`
	Enabled     bool       `json:"enabled"`
	ErrorCount  int        `json:"error_count"`
	LastError   string     `json:"last_error,omitempty"`
	LastErrorAt *time.Time `json:"last_error_at,omitempty"`
	LastUsed    *time.Time `json:"last_used,omitempty"`
}

type providerState struct {
	provider    Provider
	enabled     bool
	errorCount  int
	lastError   string
	lastErrorAt time.Time
	lastUsed    time.Time
}

// Notifier is told about places that received a name.
type Notifier interface {
	PlaceGeocoded(ctx context.Context, place *models.SignificantPlace) error
}

// Orchestrator rotates through providers and applies results to places.
type Orchestrator struct {
	places    store.PlaceStore
	cache     *Cache
	notifier  Notifier
	onUpdate  func(*models.SignificantPlace)
	primary   string
	maxErrors int
	log       *logging.PipelineLogger
	now       func() time.Time

	mu     sync.Mutex
	states []*providerState
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithCache replaces the default local-only cache.
func WithCache(c *Cache) Option {
	return func(o *Orchestrator) { o.cache = c }
}

func WithNotifier(n Notifier) Option {
	return func(o *Orchestrator) { o.notifier = n }
}

// WithPlaceUpdated registers a callback for places changed by geocoding,
// used to keep the place resolver's index in step with moved centroids.
func WithPlaceUpdated(fn func(*models.SignificantPlace)) Option {
	return func(o *Orchestrator) { o.onUpdate = fn }
}

func NewOrchestrator(places store.PlaceStore, providers []Provider, cfg Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		places:    places,
		primary:   cfg.Primary,
		maxErrors: cfg.MaxErrors,
		log:       logging.NewPipelineLogger("geocoding"),
		now:       time.Now,
	}
	if o.maxErrors <= 0 {
		o.maxErrors = 10
	}
	for _, p := range providers {
		o.states = append(o.states, &providerState{provider: p, enabled: true})
		metrics.SetProviderEnabled(p.Name(), true)
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.cache == nil {
		o.cache = NewCache(nil, cfg.CacheSize, cfg.CacheTTL)
	}
	return o
}

// order returns the enabled providers for one request.
func (o *Orchestrator) order() []*providerState {
	o.mu.Lock()
	defer o.mu.Unlock()

	var (
		first *providerState
		rest  []*providerState
	)
	for _, s := range o.states {
		if !s.enabled {
			continue
		}
		if first == nil && s.provider.Name() == o.primary {
			first = s
			continue
		}
		rest = append(rest, s)
	}
	rand.Shuffle(len(rest), func(i, j int) { rest[i], rest[j] = rest[j], rest[i] })
	if first != nil {
		return append([]*providerState{first}, rest...)
	}
	return rest
}

// Reverse geocodes a coordinate. It returns nil, nil when every provider
// that answered had nothing, and ErrAllProvidersFailed when all errored.
func (o *Orchestrator) Reverse(ctx context.Context, lat, lon float64) (*models.GeocodeResult, error) {
	if r, ok := o.cache.Get(ctx, lat, lon); ok {
		return r, nil
	}

	candidates := o.order()
	if len(candidates) == 0 {
		return nil, ErrNoProviders
	}

	var (
		errs  []error
		empty bool
	)
	for _, s := range candidates {
		name := s.provider.Name()
		start := o.now()
		res, err := s.provider.Reverse(ctx, lat, lon)
		took := o.now().Sub(start)

		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			metrics.RecordGeocode(name, "error", took)
			o.log.GeocodeFailed(ctx, name, err)
			o.recordError(s, err)
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		case res.Empty():
			metrics.RecordGeocode(name, "empty", took)
			empty = true
		default:
			metrics.RecordGeocode(name, "ok", took)
			o.mu.Lock()
			s.lastUsed = o.now()
			o.mu.Unlock()
			if res.Provider == "" {
				res.Provider = name
			}
			o.cache.Put(ctx, lat, lon, res)
			return res, nil
		}
	}
	if empty {
		return nil, nil
	}
	return nil, fmt.Errorf("%w: %w", ErrAllProvidersFailed, errors.Join(errs...))
}

func (o *Orchestrator) recordError(s *providerState, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	s.errorCount++
	s.lastError = err.Error()
	s.lastErrorAt = o.now()
	if s.enabled && s.errorCount >= o.maxErrors {
		s.enabled = false
		metrics.SetProviderEnabled(s.provider.Name(), false)
		logging.Warn().Str("provider", s.provider.Name()).Int("errors", s.errorCount).
			Msg("geocoding provider disabled after repeated errors")
	}
}

// HandlePlaceCreated names a freshly created place. A place that cannot be
// named stays un-geocoded and is not retried. Only store failures are
// returned, so the caller can redeliver.
func (o *Orchestrator) HandlePlaceCreated(ctx context.Context, placeID string) error {
	place, err := o.places.GetPlace(ctx, placeID)
	if errors.Is(err, store.ErrNotFound) {
		o.log.PlaceGone(ctx, placeID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load place %s: %w", placeID, err)
	}
	if place.Geocoded {
		return nil
	}

	res, err := o.Reverse(ctx, place.Latitude, place.Longitude)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		o.log.Logger(ctx).Warn().Err(err).Str("place_id", placeID).Msg("place left unnamed")
		return nil
	}
	if res.Empty() {
		o.log.Logger(ctx).Debug().Str("place_id", placeID).Msg("no provider knows this place")
		return nil
	}

	var updated *models.SignificantPlace
	err = store.RetryOnConflict(func(attempt int) error {
		if attempt > 0 {
			if place, err = o.places.GetPlace(ctx, placeID); err != nil {
				return err
			}
		}
		p := *place
		p.ApplyGeocode(res, o.now())
		err := o.places.UpdatePlace(ctx, &p)
		if errors.Is(err, store.ErrVersionConflict) {
			o.log.VersionConflict(ctx, "place", placeID, attempt == 0)
			metrics.RecordVersionConflict("place")
		}
		if err == nil {
			updated = &p
		}
		return err
	})
	switch {
	case errors.Is(err, store.ErrNotFound):
		o.log.PlaceGone(ctx, placeID)
		return nil
	case errors.Is(err, store.ErrVersionConflict):
		return nil
	case err != nil:
		return fmt.Errorf("update place %s: %w", placeID, err)
	}

	if o.onUpdate != nil {
		o.onUpdate(updated)
	}
	if o.notifier != nil {
		if err := o.notifier.PlaceGeocoded(ctx, updated); err != nil {
			o.log.Logger(ctx).Warn().Err(err).Str("place_id", placeID).Msg("place_geocoded notification failed")
		}
	}
	return nil
}

// Providers returns the state of every configured provider.
func (o *Orchestrator) Providers() []ProviderStatus {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]ProviderStatus, 0, len(o.states))
	for _, s := range o.states {
		st := ProviderStatus{
			Name:       s.provider.Name(),
			Primary:    s.provider.Name() == o.primary,
			Enabled:    s.enabled,
			ErrorCount: s.errorCount,
			LastError:  s.lastError,
		}
		if !s.lastErrorAt.IsZero() {
			t := s.lastErrorAt
			st.LastErrorAt = &t
		}
		if !s.lastUsed.IsZero() {
			t := s.lastUsed
			st.LastUsed = &t
		}
		out = append(out, st)
	}
	return out
}

// ResetProvider re-enables a provider and clears its error count. It
// reports false for unknown names.
func (o *Orchestrator) ResetProvider(name string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, s := range o.states {
		if s.provider.Name() != name {
			continue
		}
		s.enabled = true
		s.errorCount = 0
		s.lastError = ""
		metrics.SetProviderEnabled(name, true)
		return true
	}
	return false
}
