// Geotimeline - Location History Timeline Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geotimeline

// Package staypoint finds the periods a user stayed in one place within a
// stream of raw location points.
//
// Points are clustered in time order around a running-mean centroid. A
// cluster that lasted long enough and holds enough points is a stay; the
// rest of the stream is in transit. Adjacent stays that are close in space
// and time are merged.
package staypoint

import (
	"sort"
	"time"

	"github.com/tomtom215/geotimeline/internal/geo"
	"github.com/tomtom215/geotimeline/internal/models"
)

// Stay is a detected stationary period.
type Stay struct {
	Start    time.Time
	End      time.Time
	Centroid geo.LatLng
	// PointIDs are the cluster members, in time order.
	PointIDs []int64
	// IgnoredIDs are points recorded during the stay that did not join the
	// cluster, e.g. fixes rejected for poor accuracy or short GPS jumps.
	IgnoredIDs []int64
}

func (s *Stay) Duration() time.Duration { return s.End.Sub(s.Start) }

// TransitRun is a maximal run of points between two stays (or before the
// first / after the last stay of the window).
type TransitRun struct {
	Points []models.RawLocationPoint
	// After is the index of the stay the run follows, -1 for none.
	After int
}

func (r *TransitRun) PointIDs() []int64 {
	ids := make([]int64, len(r.Points))
	for i := range r.Points {
		ids[i] = r.Points[i].ID
	}
	return ids
}

// Result is the outcome of one detection pass.
type Result struct {
	Stays   []Stay
	Transit []TransitRun
	// Pending holds the trailing points of a cluster that was still open
	// and did not yet qualify. They must stay unprocessed so the next pass
	// can extend the cluster.
	Pending []models.RawLocationPoint
}

// ProcessedIDs returns every point the caller should mark processed.
func (r *Result) ProcessedIDs() []int64 {
	var ids []int64
	for i := range r.Stays {
		ids = append(ids, r.Stays[i].PointIDs...)
		ids = append(ids, r.Stays[i].IgnoredIDs...)
	}
	for i := range r.Transit {
		ids = append(ids, r.Transit[i].PointIDs()...)
	}
	return ids
}

type cluster struct {
	points   []models.RawLocationPoint
	centroid geo.LatLng
}

func (c *cluster) add(p models.RawLocationPoint) {
	c.centroid = geo.RunningMean(c.centroid, len(c.points), p.LatLng())
	c.points = append(c.points, p)
}

func (c *cluster) start() time.Time { return c.points[0].Timestamp }
func (c *cluster) end() time.Time   { return c.points[len(c.points)-1].Timestamp }

func (c *cluster) qualifies(params *models.DetectionParameter) bool {
	return len(c.points) >= params.MinimumClosePoints &&
		c.end().Sub(c.start()) >= params.MinimumStayTime()
}

// Detect runs stay-point detection over points with params. Processed
// points are ignored, so running Detect again over a window whose results
// were applied yields nothing.
func Detect(points []models.RawLocationPoint, params models.DetectionParameter) Result {
	pts := make([]models.RawLocationPoint, 0, len(points))
	for i := range points {
		if !points[i].Processed {
			pts = append(pts, points[i])
		}
	}
	sort.SliceStable(pts, func(i, j int) bool {
		if pts[i].Timestamp.Equal(pts[j].Timestamp) {
			return pts[i].ID < pts[j].ID
		}
		return pts[i].Timestamp.Before(pts[j].Timestamp)
	})
	if len(pts) == 0 {
		return Result{}
	}

	var (
		candidates []*cluster
		cur        *cluster
	)
	for i := range pts {
		p := pts[i]
		if params.MaxAccuracyMeters > 0 && p.AccuracyMeters > params.MaxAccuracyMeters {
			continue
		}
		if cur != nil && geo.Distance(cur.centroid, p.LatLng()) <= params.SearchDistanceMeters {
			cur.add(p)
			continue
		}
		if cur != nil && cur.qualifies(&params) {
			candidates = append(candidates, cur)
		}
		cur = &cluster{}
		cur.add(p)
	}

	var pendingFrom time.Time
	if cur != nil {
		if cur.qualifies(&params) {
			candidates = append(candidates, cur)
		} else {
			pendingFrom = cur.start()
		}
	}

	stays := mergeStays(candidates, &params)
	return partition(pts, stays, pendingFrom)
}

// mergeStays folds consecutive candidates that are within the search
// distance of each other and separated by at most the stay merge gap.
func mergeStays(candidates []*cluster, params *models.DetectionParameter) []Stay {
	var merged []*cluster
	for _, c := range candidates {
		if n := len(merged); n > 0 {
			last := merged[n-1]
			gap := c.start().Sub(last.end())
			if gap <= params.StayMergeGap() && geo.Distance(last.centroid, c.centroid) <= params.SearchDistanceMeters {
				for _, p := range c.points {
					last.add(p)
				}
				continue
			}
		}
		merged = append(merged, c)
	}

	stays := make([]Stay, len(merged))
	for i, c := range merged {
		ids := make([]int64, len(c.points))
		for j := range c.points {
			ids[j] = c.points[j].ID
		}
		stays[i] = Stay{
			Start:    c.start(),
			End:      c.end(),
			Centroid: geo.Centroid(models.LatLngs(c.points)),
			PointIDs: ids,
		}
	}
	return stays
}

// partition assigns every non-member point to a stay it falls inside, to a
// transit run, or to the pending tail.
func partition(pts []models.RawLocationPoint, stays []Stay, pendingFrom time.Time) Result {
	members := make(map[int64]struct{})
	for i := range stays {
		for _, id := range stays[i].PointIDs {
			members[id] = struct{}{}
		}
	}

	res := Result{Stays: stays}
	next := 0 // index of the first stay that has not ended before the point
	var run *TransitRun
	flush := func() {
		if run != nil && len(run.Points) > 0 {
			res.Transit = append(res.Transit, *run)
		}
		run = nil
	}

	for i := range pts {
		p := pts[i]
		if _, ok := members[p.ID]; ok {
			flush()
			continue
		}
		if !pendingFrom.IsZero() && !p.Timestamp.Before(pendingFrom) {
			res.Pending = append(res.Pending, p)
			continue
		}
		for next < len(stays) && stays[next].End.Before(p.Timestamp) {
			next++
			flush()
		}
		if next < len(stays) && !p.Timestamp.Before(stays[next].Start) {
			stays[next].IgnoredIDs = append(stays[next].IgnoredIDs, p.ID)
			continue
		}
		if run == nil {
			run = &TransitRun{After: next - 1}
		}
		run.Points = append(run.Points, p)
	}
	flush()
	return res
}
