// Geotimeline - Location History Timeline Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geotimeline

// Package pipeline turns a user's unprocessed points into visits and trips.
//
// Runs are serialized per user and concurrent across users. A trigger that
// arrives while the user's run is in flight is coalesced into exactly one
// follow-up run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tomtom215/geotimeline/internal/logging"
	"github.com/tomtom215/geotimeline/internal/metrics"
	"github.com/tomtom215/geotimeline/internal/models"
	"github.com/tomtom215/geotimeline/internal/places"
	"github.com/tomtom215/geotimeline/internal/staypoint"
	"github.com/tomtom215/geotimeline/internal/store"
	"github.com/tomtom215/geotimeline/internal/trips"
	"github.com/tomtom215/geotimeline/internal/visits"
)

// DefaultMaxPointsPerRun bounds a single detection window.
const DefaultMaxPointsPerRun = 10000

// Notifier receives the pipeline's domain events.
type Notifier interface {
	places.Notifier
	visits.Notifier
	trips.Notifier
}

// Config tunes the pipeline.
type Config struct {
	MaxPointsPerRun int `koanf:"max_points_per_run"`
	// DefaultSensitivity applies to users without stored parameters.
	DefaultSensitivity int `koanf:"default_sensitivity"`
}

// Stats summarizes one Trigger.
type Stats struct {
	Runs   int
	Points int
	Stays  int
	Visits int
	Trips  int
}

type userRun struct {
	rerun bool
}

// Pipeline wires detector, resolver, visit builder, visit merger and trip
// service together.
type Pipeline struct {
	store    store.Store
	resolver *places.Resolver
	builder  *visits.Builder
	merger   *visits.Merger
	trips    *trips.Service
	cfg      Config
	log      *logging.PipelineLogger

	mu      sync.Mutex
	running map[string]*userRun
}

// New creates a Pipeline. notifier may be nil.
func New(st store.Store, notifier Notifier, cfg Config) *Pipeline {
	if cfg.MaxPointsPerRun <= 0 {
		cfg.MaxPointsPerRun = DefaultMaxPointsPerRun
	}
	if cfg.DefaultSensitivity == 0 {
		cfg.DefaultSensitivity = models.SensitivityDefault
	}

	var (
		pn places.Notifier
		vn visits.Notifier
		tn trips.Notifier
	)
	if notifier != nil {
		pn, vn, tn = notifier, notifier, notifier
	}

	resolver := places.NewResolver(st, pn)
	return &Pipeline{
		store:    st,
		resolver: resolver,
		builder:  visits.NewBuilder(st, st, resolver, vn),
		merger:   visits.NewMerger(st, st),
		trips:    trips.NewService(st, tn),
		cfg:      cfg,
		log:      logging.NewPipelineLogger("pipeline"),
		running:  make(map[string]*userRun),
	}
}

// Resolver exposes the place resolver so geocoding updates can refresh its
// index.
func (p *Pipeline) Resolver() *places.Resolver { return p.resolver }

// Trigger processes the user's unprocessed points. When a run for the user
// is already in flight the call only requests a follow-up run and returns
// immediately with zero Stats.
func (p *Pipeline) Trigger(ctx context.Context, userID string) (Stats, error) {
	p.mu.Lock()
	if r, ok := p.running[userID]; ok {
		r.rerun = true
		p.mu.Unlock()
		return Stats{}, nil
	}
	r := &userRun{}
	p.running[userID] = r
	p.mu.Unlock()

	var (
		total Stats
		err   error
	)
	for {
		var s Stats
		s, err = p.run(ctx, userID)
		total.add(s)

		p.mu.Lock()
		if r.rerun && err == nil && ctx.Err() == nil {
			r.rerun = false
			p.mu.Unlock()
			continue
		}
		delete(p.running, userID)
		p.mu.Unlock()
		return total, err
	}
}

// TriggerAll runs every user that has unprocessed points, in parallel.
func (p *Pipeline) TriggerAll(ctx context.Context) error {
	users, err := p.store.UsersWithUnprocessedPoints(ctx)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, u := range users {
		wg.Add(1)
		go func(userID string) {
			defer wg.Done()
			if _, err := p.Trigger(ctx, userID); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("user %s: %w", userID, err))
				mu.Unlock()
			}
		}(u)
	}
	wg.Wait()
	return errors.Join(errs...)
}

// Idle reports whether no run is in flight or queued.
func (p *Pipeline) Idle() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.running) == 0
}

func (s *Stats) add(o Stats) {
	s.Runs += o.Runs
	s.Points += o.Points
	s.Stays += o.Stays
	s.Visits += o.Visits
	s.Trips += o.Trips
}

func (p *Pipeline) run(ctx context.Context, userID string) (stats Stats, err error) {
	ctx = logging.ContextWithUserID(ctx, userID)
	start := time.Now()
	metrics.TrackPipelineInFlight(true)
	defer func() {
		metrics.TrackPipelineInFlight(false)
		metrics.RecordPipelineRun(time.Since(start), err)
		if err != nil {
			p.log.RunFailed(ctx, userID, err)
			return
		}
		p.log.RunFinished(ctx, userID, stats.Stays, stats.Visits, stats.Trips, time.Since(start))
	}()
	stats.Runs = 1

	stored, err := p.store.DetectionParameters(ctx, userID)
	if err != nil {
		return stats, fmt.Errorf("load parameters: %w", err)
	}
	fallback, err := models.ParametersForSensitivity(userID, p.cfg.DefaultSensitivity)
	if err != nil {
		fallback = models.DefaultDetectionParameter(userID)
	}

	limit := p.cfg.MaxPointsPerRun
	for {
		pts, err := p.store.UnprocessedPoints(ctx, userID, time.Time{}, time.Time{}, limit)
		if err != nil {
			return stats, fmt.Errorf("load points: %w", err)
		}
		if len(pts) == 0 {
			return stats, nil
		}
		p.log.RunStarted(ctx, userID, len(pts))

		params := models.ResolveDetectionParameter(stored, pts[0].Timestamp, fallback)
		processed, err := p.window(ctx, userID, pts, &params, &stats)
		if errors.Is(err, store.ErrVersionConflict) {
			p.log.VersionConflict(ctx, "window", userID, false)
			return stats, nil
		}
		if err != nil {
			return stats, err
		}
		stats.Points += processed

		if len(pts) < limit {
			return stats, nil
		}
		// A full window holding one open cluster makes no progress. Widen
		// it until the cluster closes or the backlog fits.
		if processed == 0 {
			limit *= 2
		}
	}
}

// window processes one bounded slice of points and returns how many of
// them were marked processed.
func (p *Pipeline) window(ctx context.Context, userID string, pts []models.RawLocationPoint, params *models.DetectionParameter, stats *Stats) (int, error) {
	det := staypoint.Detect(pts, *params)
	metrics.RecordStays(len(det.Stays))
	stats.Stays += len(det.Stays)

	created, err := p.builder.Build(ctx, userID, det.Stays, params)
	if err != nil {
		return 0, fmt.Errorf("build visits: %w", err)
	}
	stats.Visits += len(created)

	var transit []int64
	for i := range det.Transit {
		transit = append(transit, det.Transit[i].PointIDs()...)
	}
	if len(transit) > 0 {
		if err := p.store.MarkPointsProcessed(ctx, userID, transit); err != nil {
			return 0, fmt.Errorf("mark transit points: %w", err)
		}
	}

	merged, err := p.merger.Merge(ctx, userID, params)
	if err != nil {
		return 0, fmt.Errorf("merge visits: %w", err)
	}
	for _, w := range merged.Windows {
		res, err := p.trips.Rebuild(ctx, userID, w.From, w.To, params)
		if err != nil {
			return 0, fmt.Errorf("rebuild trips: %w", err)
		}
		stats.Trips += len(res.Written)
	}
	return len(det.ProcessedIDs()), nil
}

// WaitIdle blocks until the pipeline and every extra predicate report idle
// at the same poll, or ctx is done.
func (p *Pipeline) WaitIdle(ctx context.Context, extra ...func() bool) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		if p.idleWith(extra) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (p *Pipeline) idleWith(extra []func() bool) bool {
	for _, f := range extra {
		if !f() {
			return false
		}
	}
	return p.Idle()
}
