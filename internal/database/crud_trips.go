// Geotimeline - Location History Timeline Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geotimeline

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/geotimeline/internal/database/query"
	"github.com/tomtom215/geotimeline/internal/metrics"
	"github.com/tomtom215/geotimeline/internal/models"
	"github.com/tomtom215/geotimeline/internal/store"
)

const tripColumns = `id, user_id, start_place_id, end_place_id, start_visit_id, end_visit_id, start_ns, end_ns,
	duration_seconds, estimated_distance_m, travelled_distance_m, raw_point_count, transport_mode, version`

// UpsertTrips inserts new trips and version-checks existing ones, all or
// nothing.
func (db *DB) UpsertTrips(ctx context.Context, userID string, trips []models.Trip) error {
	if len(trips) == 0 {
		return nil
	}
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	return db.inTx(ctx, "upsert trips", func(tx *sql.Tx) error {
		for i := range trips {
			t := &trips[i]
			var current int64
			err := tx.QueryRowContext(ctx, `SELECT version FROM trips WHERE id = ?`, t.ID).Scan(&current)
			switch {
			case errors.Is(err, sql.ErrNoRows):
				_, err = tx.ExecContext(ctx, `
					INSERT INTO trips (`+tripColumns+`)
					VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
					t.ID, userID, t.StartPlaceID, t.EndPlaceID, t.StartVisitID, t.EndVisitID,
					nanos(t.StartTime), nanos(t.EndTime), t.DurationSeconds, t.EstimatedDistanceMeters,
					t.TravelledDistanceMeters, t.RawPointCount, t.TransportMode, t.Version+1)
				if err != nil {
					return wrapErr("insert trip", err)
				}
			case err != nil:
				return wrapErr("check trip", err)
			case current != t.Version:
				metrics.RecordVersionConflict("trip")
				return fmt.Errorf("trip %s at version %d, have %d: %w", t.ID, current, t.Version, store.ErrVersionConflict)
			default:
				_, err = tx.ExecContext(ctx, `
					UPDATE trips SET start_place_id = ?, end_place_id = ?, start_visit_id = ?, end_visit_id = ?,
						start_ns = ?, end_ns = ?, duration_seconds = ?, estimated_distance_m = ?,
						travelled_distance_m = ?, raw_point_count = ?, transport_mode = ?, version = version + 1
					WHERE id = ? AND version = ?`,
					t.StartPlaceID, t.EndPlaceID, t.StartVisitID, t.EndVisitID,
					nanos(t.StartTime), nanos(t.EndTime), t.DurationSeconds, t.EstimatedDistanceMeters,
					t.TravelledDistanceMeters, t.RawPointCount, t.TransportMode, t.ID, t.Version)
				if err != nil {
					return wrapErr("update trip", err)
				}
			}
		}
		for i := range trips {
			trips[i].UserID = userID
			trips[i].Version++
		}
		return nil
	})
}

func (db *DB) TripsOverlapping(ctx context.Context, userID string, from, to time.Time) ([]models.Trip, error) {
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	where, args := query.NewWhereBuilder().AddUser(userID).AddOverlap("start_ns", "end_ns", from, to).BuildWithPrefix()
	rows, err := db.conn.QueryContext(ctx, `SELECT `+tripColumns+` FROM trips `+where+` ORDER BY start_ns, id`, args...)
	if err != nil {
		return nil, wrapErr("query trips", err)
	}
	defer closeWithLog(rows, "rows")

	var out []models.Trip
	for rows.Next() {
		var (
			t          models.Trip
			start, end int64
		)
		err := rows.Scan(&t.ID, &t.UserID, &t.StartPlaceID, &t.EndPlaceID, &t.StartVisitID, &t.EndVisitID,
			&start, &end, &t.DurationSeconds, &t.EstimatedDistanceMeters, &t.TravelledDistanceMeters,
			&t.RawPointCount, &t.TransportMode, &t.Version)
		if err != nil {
			return nil, wrapErr("query trips", err)
		}
		t.StartTime = fromNanos(start)
		t.EndTime = fromNanos(end)
		out = append(out, t)
	}
	return out, wrapErr("query trips", rows.Err())
}

func (db *DB) DeleteTrips(ctx context.Context, userID string, refs []store.Ref) error {
	return db.deleteRefs(ctx, "trip", "trips", userID, refs)
}
