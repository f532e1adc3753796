// Geotimeline - Location History Timeline Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geotimeline

package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tomtom215/geotimeline/internal/geo"
	"github.com/tomtom215/geotimeline/internal/models"
)

// Memory is a process-local Store. It is used by tests and by single-node
// deployments that do not need durability.
type Memory struct {
	mu sync.RWMutex

	nextPointID int64
	points      map[string][]*models.RawLocationPoint // by user, in insertion order
	pointKeys   map[models.PointKey]struct{}

	places          map[string]*models.SignificantPlace
	visits          map[string]*models.Visit
	processedVisits map[string]*models.ProcessedVisit
	trips           map[string]*models.Trip
	params          map[string][]models.DetectionParameter
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		points:          make(map[string][]*models.RawLocationPoint),
		pointKeys:       make(map[models.PointKey]struct{}),
		places:          make(map[string]*models.SignificantPlace),
		visits:          make(map[string]*models.Visit),
		processedVisits: make(map[string]*models.ProcessedVisit),
		trips:           make(map[string]*models.Trip),
		params:          make(map[string][]models.DetectionParameter),
	}
}

func inRange(t, from, to time.Time) bool {
	return !t.Before(from) && (to.IsZero() || t.Before(to))
}

func sortPoints(pts []models.RawLocationPoint) {
	sort.Slice(pts, func(i, j int) bool {
		if pts[i].Timestamp.Equal(pts[j].Timestamp) {
			return pts[i].ID < pts[j].ID
		}
		return pts[i].Timestamp.Before(pts[j].Timestamp)
	})
}

// Points

func (m *Memory) InsertPoints(ctx context.Context, userID string, points []models.RawLocationPoint) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	inserted := 0
	for i := range points {
		p := points[i]
		p.UserID = userID
		key := p.Key()
		if _, dup := m.pointKeys[key]; dup {
			continue
		}
		m.nextPointID++
		p.ID = m.nextPointID
		p.Version = 1
		p.Processed = false
		m.pointKeys[key] = struct{}{}
		m.points[userID] = append(m.points[userID], &p)
		inserted++
	}
	return inserted, nil
}

func (m *Memory) UnprocessedPoints(ctx context.Context, userID string, from, to time.Time, limit int) ([]models.RawLocationPoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.RawLocationPoint
	for _, p := range m.points[userID] {
		if !p.Processed && inRange(p.Timestamp, from, to) {
			out = append(out, *p)
		}
	}
	sortPoints(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) PointsBetween(ctx context.Context, userID string, from, to time.Time) ([]models.RawLocationPoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.RawLocationPoint
	for _, p := range m.points[userID] {
		if inRange(p.Timestamp, from, to) {
			out = append(out, *p)
		}
	}
	sortPoints(out)
	return out, nil
}

func (m *Memory) MarkPointsProcessed(ctx context.Context, userID string, ids []int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	want := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.points[userID] {
		if _, ok := want[p.ID]; ok && !p.Processed {
			p.Processed = true
			p.Version++
		}
	}
	return nil
}

func (m *Memory) UsersWithUnprocessedPoints(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var users []string
	for user, pts := range m.points {
		for _, p := range pts {
			if !p.Processed {
				users = append(users, user)
				break
			}
		}
	}
	sort.Strings(users)
	return users, nil
}

// Places

func clonePlace(p *models.SignificantPlace) *models.SignificantPlace {
	c := *p
	c.Polygon = append([]geo.LatLng(nil), p.Polygon...)
	return &c
}

func (m *Memory) CreatePlace(ctx context.Context, p *models.SignificantPlace) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.places[p.ID]; exists {
		return fmt.Errorf("place %s: %w", p.ID, ErrAlreadyExists)
	}
	p.Version = 1
	m.places[p.ID] = clonePlace(p)
	return nil
}

func (m *Memory) GetPlace(ctx context.Context, id string) (*models.SignificantPlace, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.places[id]
	if !ok {
		return nil, fmt.Errorf("place %s: %w", id, ErrNotFound)
	}
	return clonePlace(p), nil
}

func (m *Memory) PlacesForUser(ctx context.Context, userID string) ([]models.SignificantPlace, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.SignificantPlace
	for _, p := range m.places {
		if p.UserID == userID {
			out = append(out, *clonePlace(p))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *Memory) UpdatePlace(ctx context.Context, p *models.SignificantPlace) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.places[p.ID]
	if !ok {
		return fmt.Errorf("place %s: %w", p.ID, ErrNotFound)
	}
	if !models.CheckVersion(cur, p) {
		return fmt.Errorf("place %s at version %d, have %d: %w", p.ID, cur.Version, p.Version, ErrVersionConflict)
	}
	models.Bump(p)
	m.places[p.ID] = clonePlace(p)
	return nil
}

func (m *Memory) DeletePlace(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.places[id]; !ok {
		return fmt.Errorf("place %s: %w", id, ErrNotFound)
	}
	for _, v := range m.visits {
		if v.PlaceID == id {
			return fmt.Errorf("place %s: %w", id, ErrPlaceInUse)
		}
	}
	delete(m.places, id)
	return nil
}

// Visits

func cloneVisit(v *models.Visit) *models.Visit {
	c := *v
	c.PointIDs = append([]int64(nil), v.PointIDs...)
	return &c
}

func (m *Memory) CreateVisit(ctx context.Context, v *models.Visit) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.visits[v.ID]; exists {
		return fmt.Errorf("visit %s: %w", v.ID, ErrAlreadyExists)
	}
	v.Version = 1
	m.visits[v.ID] = cloneVisit(v)
	return nil
}

func (m *Memory) GetVisit(ctx context.Context, id string) (*models.Visit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.visits[id]
	if !ok {
		return nil, fmt.Errorf("visit %s: %w", id, ErrNotFound)
	}
	return cloneVisit(v), nil
}

func (m *Memory) UpdateVisit(ctx context.Context, v *models.Visit) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.visits[v.ID]
	if !ok {
		return fmt.Errorf("visit %s: %w", v.ID, ErrNotFound)
	}
	if !models.CheckVersion(cur, v) {
		return fmt.Errorf("visit %s: %w", v.ID, ErrVersionConflict)
	}
	models.Bump(v)
	m.visits[v.ID] = cloneVisit(v)
	return nil
}

func (m *Memory) VisitsOverlapping(ctx context.Context, userID string, from, to time.Time) ([]models.Visit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.Visit
	for _, v := range m.visits {
		if v.UserID == userID && v.StartTime.Before(to) && v.EndTime.After(from) {
			out = append(out, *cloneVisit(v))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (m *Memory) UnprocessedVisits(ctx context.Context, userID string, limit int) ([]models.Visit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.Visit
	for _, v := range m.visits {
		if v.UserID == userID && !v.Processed {
			out = append(out, *cloneVisit(v))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) LatestVisitEnd(ctx context.Context, userID string) (time.Time, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var latest time.Time
	for _, v := range m.visits {
		if v.UserID == userID && v.EndTime.After(latest) {
			latest = v.EndTime
		}
	}
	return latest, nil
}

func cloneProcessedVisit(pv *models.ProcessedVisit) *models.ProcessedVisit {
	c := *pv
	c.SourceVisitIDs = append([]string(nil), pv.SourceVisitIDs...)
	return &c
}

func (m *Memory) ProcessedVisitsOverlapping(ctx context.Context, userID string, from, to time.Time) ([]models.ProcessedVisit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.ProcessedVisit
	for _, pv := range m.processedVisits {
		if pv.UserID == userID && pv.StartTime.Before(to) && pv.EndTime.After(from) {
			out = append(out, *cloneProcessedVisit(pv))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (m *Memory) ReplaceProcessedVisits(ctx context.Context, userID string, remove []Ref, add []models.ProcessedVisit) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	prior := make(map[string]int64, len(remove))
	for _, ref := range remove {
		pv, ok := m.processedVisits[ref.ID]
		if !ok || pv.UserID != userID {
			continue
		}
		if pv.Version != ref.Version {
			return fmt.Errorf("processed visit %s: %w", ref.ID, ErrVersionConflict)
		}
		prior[ref.ID] = pv.Version
	}
	for i := range add {
		_, removed := prior[add[i].ID]
		if _, exists := m.processedVisits[add[i].ID]; exists && !removed {
			return fmt.Errorf("processed visit %s: %w", add[i].ID, ErrAlreadyExists)
		}
	}

	for id := range prior {
		delete(m.processedVisits, id)
	}
	for i := range add {
		pv := add[i]
		pv.UserID = userID
		pv.Version = prior[pv.ID] + 1
		add[i].Version = pv.Version
		m.processedVisits[pv.ID] = cloneProcessedVisit(&pv)
	}
	return nil
}

func (m *Memory) DeleteProcessedVisits(ctx context.Context, userID string, refs []Ref) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var doomed []string
	for _, ref := range refs {
		pv, ok := m.processedVisits[ref.ID]
		if !ok || pv.UserID != userID {
			continue
		}
		if pv.Version != ref.Version {
			return fmt.Errorf("processed visit %s: %w", ref.ID, ErrVersionConflict)
		}
		doomed = append(doomed, ref.ID)
	}
	for _, id := range doomed {
		delete(m.processedVisits, id)
	}
	return nil
}

// Trips

func (m *Memory) UpsertTrips(ctx context.Context, userID string, trips []models.Trip) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range trips {
		if cur, ok := m.trips[trips[i].ID]; ok && cur.Version != trips[i].Version {
			return fmt.Errorf("trip %s: %w", trips[i].ID, ErrVersionConflict)
		}
	}
	for i := range trips {
		t := trips[i]
		t.UserID = userID
		t.Version++
		trips[i].Version = t.Version
		m.trips[t.ID] = &t
	}
	return nil
}

func (m *Memory) TripsOverlapping(ctx context.Context, userID string, from, to time.Time) ([]models.Trip, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.Trip
	for _, t := range m.trips {
		if t.UserID == userID && t.StartTime.Before(to) && t.EndTime.After(from) {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (m *Memory) DeleteTrips(ctx context.Context, userID string, refs []Ref) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var doomed []string
	for _, ref := range refs {
		t, ok := m.trips[ref.ID]
		if !ok || t.UserID != userID {
			continue
		}
		if t.Version != ref.Version {
			return fmt.Errorf("trip %s: %w", ref.ID, ErrVersionConflict)
		}
		doomed = append(doomed, ref.ID)
	}
	for _, id := range doomed {
		delete(m.trips, id)
	}
	return nil
}

// Detection parameters

func sameValidSince(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func (m *Memory) SaveDetectionParameter(ctx context.Context, p *models.DetectionParameter) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	list := m.params[p.UserID]
	for i := range list {
		if sameValidSince(list[i].ValidSince, p.ValidSince) {
			if list[i].Version != p.Version {
				return fmt.Errorf("detection parameter: %w", ErrVersionConflict)
			}
			p.Version++
			list[i] = *p
			return nil
		}
	}
	p.Version = 1
	m.params[p.UserID] = append(list, *p)
	models.SortDetectionParameters(m.params[p.UserID])
	return nil
}

func (m *Memory) DetectionParameters(ctx context.Context, userID string) ([]models.DetectionParameter, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	return append([]models.DetectionParameter(nil), m.params[userID]...), nil
}
