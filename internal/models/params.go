// Geotimeline - Location History Timeline Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geotimeline

package models

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// Sensitivity bounds. SensitivityAdvanced marks a parameter set whose
// thresholds were entered directly.
const (
	SensitivityAdvanced = 0
	SensitivityMin      = 1
	SensitivityDefault  = 3
	SensitivityMax      = 5
)

// DetectionParameter is a snapshot of the thresholds that govern stay
// detection, place resolution and visit merging for one user. A snapshot
// applies to points recorded at or after ValidSince; a nil ValidSince
// applies from the beginning of the history.
type DetectionParameter struct {
	Meta
	UserID           string     `json:"user_id"`
	ValidSince       *time.Time `json:"valid_since,omitempty"`
	SensitivityLevel int        `json:"sensitivity_level" validate:"min=0,max=5"`

	SearchDistanceMeters              float64 `json:"search_distance_meters" validate:"gt=0"`
	MinimumStayTimeSeconds            int64   `json:"minimum_stay_time_seconds" validate:"gt=0"`
	MinimumClosePoints                int     `json:"minimum_close_points" validate:"min=1"`
	MaxMergeTimeBetweenSameStayPoints int64   `json:"max_merge_time_between_same_stay_points" validate:"min=0"`

	MinDistanceBetweenVisitsMeters float64 `json:"min_distance_between_visits_meters" validate:"gt=0"`

	SearchDurationHours           int     `json:"search_duration_hours" validate:"min=1,max=720"`
	MergeThresholdMeters          float64 `json:"merge_threshold_meters" validate:"min=0"`
	MaxMergeTimeBetweenSameVisits int64   `json:"max_merge_time_between_same_visits" validate:"min=0"`

	// MaxAccuracyMeters drops noisier fixes from clustering. Zero disables it.
	MaxAccuracyMeters float64 `json:"max_accuracy_meters" validate:"min=0"`
}

type sensitivityRow struct {
	searchDistance float64
	minStay        int64
	minPoints      int
	stayMerge      int64
	minPlaceDist   float64
	searchHours    int
	mergeThreshold float64
	visitMerge     int64
	maxAccuracy    float64
}

// sensitivityTable is indexed by level-1. Higher levels split more eagerly.
var sensitivityTable = [SensitivityMax]sensitivityRow{
	{150, 600, 8, 600, 150, 48, 200, 900, 100},
	{120, 420, 6, 420, 120, 48, 150, 600, 80},
	{100, 300, 5, 300, 100, 48, 100, 300, 60},
	{75, 180, 4, 180, 75, 48, 75, 180, 50},
	{50, 120, 3, 120, 50, 48, 50, 120, 40},
}

// ErrInvalidSensitivity is returned for levels outside 1..5.
var ErrInvalidSensitivity = errors.New("sensitivity level must be between 1 and 5")

// ParametersForSensitivity expands a sensitivity level into thresholds.
func ParametersForSensitivity(userID string, level int) (DetectionParameter, error) {
	if level < SensitivityMin || level > SensitivityMax {
		return DetectionParameter{}, fmt.Errorf("%w: got %d", ErrInvalidSensitivity, level)
	}
	r := sensitivityTable[level-1]
	return DetectionParameter{
		UserID:                            userID,
		SensitivityLevel:                  level,
		SearchDistanceMeters:              r.searchDistance,
		MinimumStayTimeSeconds:            r.minStay,
		MinimumClosePoints:                r.minPoints,
		MaxMergeTimeBetweenSameStayPoints: r.stayMerge,
		MinDistanceBetweenVisitsMeters:    r.minPlaceDist,
		SearchDurationHours:               r.searchHours,
		MergeThresholdMeters:              r.mergeThreshold,
		MaxMergeTimeBetweenSameVisits:     r.visitMerge,
		MaxAccuracyMeters:                 r.maxAccuracy,
	}, nil
}

// DefaultDetectionParameter returns the level 3 thresholds.
func DefaultDetectionParameter(userID string) DetectionParameter {
	p, _ := ParametersForSensitivity(userID, SensitivityDefault)
	return p
}

func (p *DetectionParameter) MinimumStayTime() time.Duration {
	return time.Duration(p.MinimumStayTimeSeconds) * time.Second
}

func (p *DetectionParameter) StayMergeGap() time.Duration {
	return time.Duration(p.MaxMergeTimeBetweenSameStayPoints) * time.Second
}

func (p *DetectionParameter) VisitMergeGap() time.Duration {
	return time.Duration(p.MaxMergeTimeBetweenSameVisits) * time.Second
}

func (p *DetectionParameter) SearchDuration() time.Duration {
	return time.Duration(p.SearchDurationHours) * time.Hour
}

// AppliesAt reports whether the snapshot is in force at t, ignoring any
// later snapshot.
func (p *DetectionParameter) AppliesAt(t time.Time) bool {
	return p.ValidSince == nil || !p.ValidSince.After(t)
}

// ResolveDetectionParameter picks the snapshot governing time t: the one
// with the latest ValidSince not after t. fallback is returned when none
// applies.
func ResolveDetectionParameter(params []DetectionParameter, t time.Time, fallback DetectionParameter) DetectionParameter {
	sorted := make([]DetectionParameter, len(params))
	copy(sorted, params)
	SortDetectionParameters(sorted)

	chosen := fallback
	for i := range sorted {
		if sorted[i].AppliesAt(t) {
			chosen = sorted[i]
		}
	}
	return chosen
}

// SortDetectionParameters orders snapshots by ValidSince with nil first.
func SortDetectionParameters(params []DetectionParameter) {
	sort.SliceStable(params, func(i, j int) bool {
		a, b := params[i].ValidSince, params[j].ValidSince
		switch {
		case a == nil:
			return b != nil
		case b == nil:
			return false
		default:
			return a.Before(*b)
		}
	})
}
