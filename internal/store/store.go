// Geotimeline - Location History Timeline Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geotimeline

// Package store defines the persistence boundary of the timeline pipeline
// and an in-memory implementation of it. The DuckDB implementation lives in
// internal/database.
//
// Every update is optimistic: the caller passes the entity as it read it and
// the write fails with ErrVersionConflict when the stored version differs.
// On success the caller's copy is advanced to the stored version.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/tomtom215/geotimeline/internal/models"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyExists   = errors.New("already exists")
	ErrVersionConflict = errors.New("version conflict")
	ErrPlaceInUse      = errors.New("place is referenced by visits")
)

// Ref names a stored entity at the version the caller read it. Deletes
// take refs so they fail, like updates, when the entity changed meanwhile.
// A ref to an entity that is already gone is skipped.
type Ref struct {
	ID      string
	Version int64
}

// RefIDs returns the ids of refs in order.
func RefIDs(refs []Ref) []string {
	ids := make([]string, len(refs))
	for i := range refs {
		ids[i] = refs[i].ID
	}
	return ids
}

// PointStore persists raw location points.
type PointStore interface {
	// InsertPoints stores points that are not already present (by
	// models.PointKey) and returns how many were new.
	InsertPoints(ctx context.Context, userID string, points []models.RawLocationPoint) (int, error)
	// UnprocessedPoints returns unprocessed points with from <= timestamp < to
	// ordered by (timestamp, id). A zero to means unbounded; limit <= 0 means
	// no limit.
	UnprocessedPoints(ctx context.Context, userID string, from, to time.Time, limit int) ([]models.RawLocationPoint, error)
	// PointsBetween returns all points with from <= timestamp < to.
	PointsBetween(ctx context.Context, userID string, from, to time.Time) ([]models.RawLocationPoint, error)
	MarkPointsProcessed(ctx context.Context, userID string, ids []int64) error
	// UsersWithUnprocessedPoints lists users that have pending work.
	UsersWithUnprocessedPoints(ctx context.Context) ([]string, error)
}

// PlaceStore persists significant places.
type PlaceStore interface {
	CreatePlace(ctx context.Context, p *models.SignificantPlace) error
	GetPlace(ctx context.Context, id string) (*models.SignificantPlace, error)
	PlacesForUser(ctx context.Context, userID string) ([]models.SignificantPlace, error)
	UpdatePlace(ctx context.Context, p *models.SignificantPlace) error
	DeletePlace(ctx context.Context, id string) error
}

// VisitStore persists raw and merged visits.
type VisitStore interface {
	CreateVisit(ctx context.Context, v *models.Visit) error
	GetVisit(ctx context.Context, id string) (*models.Visit, error)
	UpdateVisit(ctx context.Context, v *models.Visit) error
	// VisitsOverlapping returns visits intersecting [from, to) ordered by start.
	VisitsOverlapping(ctx context.Context, userID string, from, to time.Time) ([]models.Visit, error)
	// UnprocessedVisits returns up to limit visits not yet folded into a
	// ProcessedVisit, ordered by start. limit <= 0 means no limit.
	UnprocessedVisits(ctx context.Context, userID string, limit int) ([]models.Visit, error)
	// LatestVisitEnd returns the end of the user's most recent visit, or the
	// zero time when there is none.
	LatestVisitEnd(ctx context.Context, userID string) (time.Time, error)

	ProcessedVisitsOverlapping(ctx context.Context, userID string, from, to time.Time) ([]models.ProcessedVisit, error)
	// ReplaceProcessedVisits atomically deletes remove and inserts add.
	ReplaceProcessedVisits(ctx context.Context, userID string, remove []Ref, add []models.ProcessedVisit) error
	DeleteProcessedVisits(ctx context.Context, userID string, refs []Ref) error
}

// TripStore persists trips.
type TripStore interface {
	// UpsertTrips inserts new trips and version-checks existing ones.
	UpsertTrips(ctx context.Context, userID string, trips []models.Trip) error
	TripsOverlapping(ctx context.Context, userID string, from, to time.Time) ([]models.Trip, error)
	DeleteTrips(ctx context.Context, userID string, refs []Ref) error
}

// ParameterStore persists detection parameter snapshots.
type ParameterStore interface {
	// SaveDetectionParameter inserts or replaces the snapshot with the same
	// (user, valid since).
	SaveDetectionParameter(ctx context.Context, p *models.DetectionParameter) error
	DetectionParameters(ctx context.Context, userID string) ([]models.DetectionParameter, error)
}

// Store is the full persistence boundary.
type Store interface {
	PointStore
	PlaceStore
	VisitStore
	TripStore
	ParameterStore
}

// RetryOnConflict runs fn and, if it lost an optimistic write, runs it once
// more. fn must reload whatever it writes on each call.
func RetryOnConflict(fn func(attempt int) error) error {
	err := fn(0)
	if errors.Is(err, ErrVersionConflict) {
		err = fn(1)
	}
	return err
}
