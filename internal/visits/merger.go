// Geotimeline - Location History Timeline Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geotimeline

package visits

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/tomtom215/geotimeline/internal/geo"
	"github.com/tomtom215/geotimeline/internal/logging"
	"github.com/tomtom215/geotimeline/internal/metrics"
	"github.com/tomtom215/geotimeline/internal/models"
	"github.com/tomtom215/geotimeline/internal/store"
)

// maxWindowExpansions bounds how often a merge window grows to swallow
// entries that straddle its edges.
const maxWindowExpansions = 8

// PlaceLookup returns a place by id, or nil when unknown.
type PlaceLookup func(id string) *models.SignificantPlace

// Group partitions visits (any order) into merge groups. A visit joins the
// running group when it is at the same place as the group, or at a place
// within MergeThresholdMeters of it, and starts at most
// MaxMergeTimeBetweenSameVisits after the group ends. Membership is
// transitive through the chain.
func Group(visits []models.Visit, lookup PlaceLookup, params *models.DetectionParameter) [][]models.Visit {
	sorted := append([]models.Visit(nil), visits...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].StartTime.Before(sorted[j].StartTime) })

	var (
		groups [][]models.Visit
		cur    []models.Visit
		curEnd time.Time
	)
	for _, v := range sorted {
		if len(cur) > 0 {
			gap := v.StartTime.Sub(curEnd)
			last := cur[len(cur)-1]
			if gap < 0 || (gap <= params.VisitMergeGap() && nearby(last.PlaceID, v.PlaceID, lookup, params.MergeThresholdMeters)) {
				cur = append(cur, v)
				if v.EndTime.After(curEnd) {
					curEnd = v.EndTime
				}
				continue
			}
			groups = append(groups, cur)
		}
		cur = []models.Visit{v}
		curEnd = v.EndTime
	}
	if len(cur) > 0 {
		groups = append(groups, cur)
	}
	return groups
}

func nearby(a, b string, lookup PlaceLookup, threshold float64) bool {
	if a == b {
		return true
	}
	if lookup == nil || threshold <= 0 {
		return false
	}
	pa, pb := lookup(a), lookup(b)
	if pa == nil || pb == nil {
		return false
	}
	return geo.Distance(pa.Centroid(), pb.Centroid()) <= threshold
}

// Collapse turns one merge group into a ProcessedVisit. The place is the
// one the group spent the most time at.
func Collapse(userID string, group []models.Visit) models.ProcessedVisit {
	start, end := group[0].StartTime, group[0].EndTime
	dwell := make(map[string]time.Duration)
	ids := make([]string, 0, len(group))
	for i := range group {
		v := &group[i]
		if v.StartTime.Before(start) {
			start = v.StartTime
		}
		if v.EndTime.After(end) {
			end = v.EndTime
		}
		dwell[v.PlaceID] += v.Duration()
		ids = append(ids, v.ID)
	}

	placeID := group[0].PlaceID
	for i := range group {
		id := group[i].PlaceID
		if dwell[id] > dwell[placeID] {
			placeID = id
		}
	}

	return models.ProcessedVisit{
		ID:              models.ProcessedVisitID(userID, placeID, start),
		UserID:          userID,
		PlaceID:         placeID,
		StartTime:       start,
		EndTime:         end,
		DurationSeconds: int64(end.Sub(start) / time.Second),
		SourceVisitIDs:  ids,
		MergedCount:     len(group),
	}
}

// Window is a half-open time range a merge pass rebuilt.
type Window struct {
	From, To time.Time
}

// MergeResult describes the outcome of one merge pass.
type MergeResult struct {
	Windows         []Window
	ProcessedVisits []models.ProcessedVisit
	Added           []models.ProcessedVisit
	Removed         []string
}

// Merger rebuilds the ProcessedVisits around a user's newest and
// not yet merged visits.
type Merger struct {
	visits store.VisitStore
	places store.PlaceStore
	log    *logging.PipelineLogger
}

func NewMerger(vs store.VisitStore, ps store.PlaceStore) *Merger {
	return &Merger{visits: vs, places: ps, log: logging.NewPipelineLogger("visits")}
}

// Merge regroups the visits within SearchDurationHours of the user's latest
// visit, and around every visit not yet folded into a ProcessedVisit, and
// replaces the ProcessedVisits of those windows so that they stay disjoint.
// Running it twice without new visits changes nothing.
func (m *Merger) Merge(ctx context.Context, userID string, params *models.DetectionParameter) (*MergeResult, error) {
	latest, err := m.visits.LatestVisitEnd(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("latest visit: %w", err)
	}
	if latest.IsZero() {
		return &MergeResult{}, nil
	}
	pending, err := m.visits.UnprocessedVisits(ctx, userID, maxPendingVisits)
	if err != nil {
		return nil, fmt.Errorf("load unmerged visits: %w", err)
	}

	reach := params.SearchDuration() + params.VisitMergeGap()
	windows := append(pendingWindows(pending, reach), Window{From: latest.Add(-reach), To: latest.Add(time.Nanosecond)})

	lookup, err := m.placeLookup(ctx, userID)
	if err != nil {
		return nil, err
	}

	res := &MergeResult{}
	seen := make(map[string]bool)
	for _, w := range coalesce(windows) {
		got, pvs, err := m.mergeWindow(ctx, userID, w, lookup, params)
		if err != nil {
			return nil, err
		}
		res.Windows = append(res.Windows, got.Windows...)
		res.Added = append(res.Added, got.Added...)
		res.Removed = append(res.Removed, got.Removed...)
		for i := range pvs {
			if !seen[pvs[i].ID] {
				seen[pvs[i].ID] = true
				res.ProcessedVisits = append(res.ProcessedVisits, pvs[i])
			}
		}
	}
	return res, nil
}

// maxPendingVisits caps how many unmerged visits one pass picks up.
const maxPendingVisits = 5000

// pendingWindows covers each unmerged visit with reach on both sides.
// visits must be ordered by start.
func pendingWindows(visits []models.Visit, reach time.Duration) []Window {
	out := make([]Window, 0, len(visits))
	for i := range visits {
		out = append(out, Window{From: visits[i].StartTime.Add(-reach), To: visits[i].EndTime.Add(reach)})
	}
	return out
}

// coalesce sorts windows and joins the ones that overlap or touch.
func coalesce(windows []Window) []Window {
	sort.Slice(windows, func(i, j int) bool { return windows[i].From.Before(windows[j].From) })
	var out []Window
	for _, w := range windows {
		if n := len(out); n > 0 && !w.From.After(out[n-1].To) {
			if w.To.After(out[n-1].To) {
				out[n-1].To = w.To
			}
			continue
		}
		out = append(out, w)
	}
	return out
}

// mergeWindow rebuilds the ProcessedVisits of w. The window first grows
// until no visit or ProcessedVisit straddles either edge.
func (m *Merger) mergeWindow(ctx context.Context, userID string, w Window, lookup PlaceLookup, params *models.DetectionParameter) (*MergeResult, []models.ProcessedVisit, error) {
	from, to := w.From, w.To
	var (
		visits   []models.Visit
		existing []models.ProcessedVisit
		err      error
	)
	for i := 0; i < maxWindowExpansions; i++ {
		if visits, err = m.visits.VisitsOverlapping(ctx, userID, from, to); err != nil {
			return nil, nil, fmt.Errorf("load visits: %w", err)
		}
		if existing, err = m.visits.ProcessedVisitsOverlapping(ctx, userID, from, to); err != nil {
			return nil, nil, fmt.Errorf("load processed visits: %w", err)
		}
		earliest, last := from, to
		for j := range visits {
			earliest, last = widen(earliest, last, visits[j].StartTime, visits[j].EndTime)
		}
		for j := range existing {
			earliest, last = widen(earliest, last, existing[j].StartTime, existing[j].EndTime)
		}
		if !earliest.Before(from) && !last.After(to) {
			break
		}
		// Reach one merge gap past a straddling entry so a neighbour within
		// the gap can still join it.
		if earliest.Before(from) {
			from = earliest.Add(-params.VisitMergeGap())
		}
		if last.After(to) {
			to = last.Add(params.VisitMergeGap())
		}
	}

	groups := Group(visits, lookup, params)
	merged := make([]models.ProcessedVisit, 0, len(groups))
	for _, g := range groups {
		merged = append(merged, Collapse(userID, g))
	}

	added, removed := diff(existing, merged)
	if len(added) > 0 || len(removed) > 0 {
		if err := m.visits.ReplaceProcessedVisits(ctx, userID, removed, added); err != nil {
			return nil, nil, fmt.Errorf("replace processed visits: %w", err)
		}
		metrics.RecordVisitsWritten("processed", len(added))
	}

	for i := range visits {
		if visits[i].Processed {
			continue
		}
		if err := m.markProcessed(ctx, visits[i].ID); err != nil {
			return nil, nil, err
		}
	}

	pvs, err := m.visits.ProcessedVisitsOverlapping(ctx, userID, from, to)
	if err != nil {
		return nil, nil, fmt.Errorf("reload processed visits: %w", err)
	}
	return &MergeResult{Windows: []Window{{From: from, To: to}}, Added: added, Removed: store.RefIDs(removed)}, pvs, nil
}

func widen(lo, hi, start, end time.Time) (time.Time, time.Time) {
	if start.Before(lo) {
		lo = start
	}
	if end.After(hi) {
		hi = end
	}
	return lo, hi
}

func (m *Merger) placeLookup(ctx context.Context, userID string) (PlaceLookup, error) {
	places, err := m.places.PlacesForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load places: %w", err)
	}
	byID := make(map[string]*models.SignificantPlace, len(places))
	for i := range places {
		byID[places[i].ID] = &places[i]
	}
	return func(id string) *models.SignificantPlace { return byID[id] }, nil
}

func (m *Merger) markProcessed(ctx context.Context, id string) error {
	err := store.RetryOnConflict(func(attempt int) error {
		v, err := m.visits.GetVisit(ctx, id)
		if err != nil {
			return err
		}
		if v.Processed {
			return nil
		}
		v.Processed = true
		err = m.visits.UpdateVisit(ctx, v)
		if errors.Is(err, store.ErrVersionConflict) {
			m.log.VersionConflict(ctx, "visit", id, attempt == 0)
			metrics.RecordVersionConflict("visit")
		}
		return err
	})
	if errors.Is(err, store.ErrVersionConflict) {
		// Lost twice; the next run picks the visit up again.
		return nil
	}
	if err != nil {
		return fmt.Errorf("mark visit %s processed: %w", id, err)
	}
	return nil
}

// diff returns the ProcessedVisits to insert and the ones to delete so
// that the stored window equals want. Identical entries are left alone.
func diff(have, want []models.ProcessedVisit) (added []models.ProcessedVisit, removed []store.Ref) {
	byID := make(map[string]*models.ProcessedVisit, len(have))
	for i := range have {
		byID[have[i].ID] = &have[i]
	}
	keep := make(map[string]bool, len(want))
	for i := range want {
		if h, ok := byID[want[i].ID]; ok && samePV(h, &want[i]) {
			keep[want[i].ID] = true
			continue
		}
		added = append(added, want[i])
	}
	for i := range have {
		if !keep[have[i].ID] {
			removed = append(removed, store.Ref{ID: have[i].ID, Version: have[i].Version})
		}
	}
	return added, removed
}

func samePV(a, b *models.ProcessedVisit) bool {
	return a.PlaceID == b.PlaceID &&
		a.StartTime.Equal(b.StartTime) &&
		a.EndTime.Equal(b.EndTime) &&
		a.MergedCount == b.MergedCount &&
		slices.Equal(a.SourceVisitIDs, b.SourceVisitIDs)
}
