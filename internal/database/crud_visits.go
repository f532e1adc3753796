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
	"github.com/tomtom215/geotimeline/internal/models"
	"github.com/tomtom215/geotimeline/internal/store"
)

const visitColumns = `id, user_id, place_id, latitude, longitude, start_ns, end_ns, point_ids, processed, version`

func scanVisit(row interface{ Scan(...any) error }) (*models.Visit, error) {
	var (
		v          models.Visit
		start, end int64
		pointIDs   sql.NullString
	)
	err := row.Scan(&v.ID, &v.UserID, &v.PlaceID, &v.Latitude, &v.Longitude, &start, &end, &pointIDs, &v.Processed, &v.Version)
	if err != nil {
		return nil, err
	}
	if v.PointIDs, err = decodeList[int64](pointIDs); err != nil {
		return nil, fmt.Errorf("decode point ids of visit %s: %w", v.ID, err)
	}
	v.StartTime = fromNanos(start)
	v.EndTime = fromNanos(end)
	return &v, nil
}

func (db *DB) CreateVisit(ctx context.Context, v *models.Visit) error {
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	pointIDs, err := encodeList(v.PointIDs)
	if err != nil {
		return fmt.Errorf("encode point ids: %w", err)
	}
	res, err := db.conn.ExecContext(ctx, `
		INSERT INTO visits (`+visitColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT (id) DO NOTHING`,
		v.ID, v.UserID, v.PlaceID, v.Latitude, v.Longitude, nanos(v.StartTime), nanos(v.EndTime), pointIDs, v.Processed)
	if err != nil {
		return wrapErr("create visit", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("visit %s: %w", v.ID, store.ErrAlreadyExists)
	}
	v.Version = 1
	return nil
}

func (db *DB) GetVisit(ctx context.Context, id string) (*models.Visit, error) {
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	v, err := scanVisit(db.conn.QueryRowContext(ctx, `SELECT `+visitColumns+` FROM visits WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("visit %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, wrapErr("get visit", err)
	}
	return v, nil
}

func (db *DB) UpdateVisit(ctx context.Context, v *models.Visit) error {
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	pointIDs, err := encodeList(v.PointIDs)
	if err != nil {
		return fmt.Errorf("encode point ids: %w", err)
	}
	res, err := db.conn.ExecContext(ctx, `
		UPDATE visits SET place_id = ?, latitude = ?, longitude = ?, start_ns = ?, end_ns = ?,
			point_ids = ?, processed = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		v.PlaceID, v.Latitude, v.Longitude, nanos(v.StartTime), nanos(v.EndTime),
		pointIDs, v.Processed, v.ID, v.Version)
	if err != nil {
		return wrapErr("update visit", err)
	}
	if n, err := res.RowsAffected(); err != nil || n == 0 {
		return conflict(ctx, db.conn, "visit", "visits", v.ID, v.Version)
	}
	models.Bump(v)
	return nil
}

// VisitsOverlapping returns visits intersecting [from, to) ordered by start.
func (db *DB) VisitsOverlapping(ctx context.Context, userID string, from, to time.Time) ([]models.Visit, error) {
	where, args := query.NewWhereBuilder().AddUser(userID).AddOverlap("start_ns", "end_ns", from, to).BuildWithPrefix()
	return db.queryVisits(ctx, "query visits", `SELECT `+visitColumns+` FROM visits `+where+` ORDER BY start_ns, id`, args...)
}

func (db *DB) UnprocessedVisits(ctx context.Context, userID string, limit int) ([]models.Visit, error) {
	where, args := query.NewWhereBuilder().AddUser(userID).AddClause("NOT processed").BuildWithPrefix()
	q := `SELECT ` + visitColumns + ` FROM visits ` + where + ` ORDER BY start_ns, id`
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	return db.queryVisits(ctx, "query unprocessed visits", q, args...)
}

func (db *DB) queryVisits(ctx context.Context, op, q string, args ...any) ([]models.Visit, error) {
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	rows, err := db.conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, wrapErr(op, err)
	}
	defer closeWithLog(rows, "rows")

	var out []models.Visit
	for rows.Next() {
		v, err := scanVisit(rows)
		if err != nil {
			return nil, wrapErr(op, err)
		}
		out = append(out, *v)
	}
	return out, wrapErr(op, rows.Err())
}

func (db *DB) LatestVisitEnd(ctx context.Context, userID string) (time.Time, error) {
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	var end sql.NullInt64
	if err := db.conn.QueryRowContext(ctx, `SELECT MAX(end_ns) FROM visits WHERE user_id = ?`, userID).Scan(&end); err != nil {
		return time.Time{}, wrapErr("latest visit end", err)
	}
	if !end.Valid {
		return time.Time{}, nil
	}
	return fromNanos(end.Int64), nil
}

const processedVisitColumns = `id, user_id, place_id, start_ns, end_ns, duration_seconds, source_visit_ids, merged_count, version`

func scanProcessedVisit(row interface{ Scan(...any) error }) (*models.ProcessedVisit, error) {
	var (
		pv         models.ProcessedVisit
		start, end int64
		sources    sql.NullString
	)
	err := row.Scan(&pv.ID, &pv.UserID, &pv.PlaceID, &start, &end, &pv.DurationSeconds, &sources, &pv.MergedCount, &pv.Version)
	if err != nil {
		return nil, err
	}
	if pv.SourceVisitIDs, err = decodeList[string](sources); err != nil {
		return nil, fmt.Errorf("decode sources of processed visit %s: %w", pv.ID, err)
	}
	pv.StartTime = fromNanos(start)
	pv.EndTime = fromNanos(end)
	return &pv, nil
}

func (db *DB) ProcessedVisitsOverlapping(ctx context.Context, userID string, from, to time.Time) ([]models.ProcessedVisit, error) {
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	where, args := query.NewWhereBuilder().AddUser(userID).AddOverlap("start_ns", "end_ns", from, to).BuildWithPrefix()
	rows, err := db.conn.QueryContext(ctx, `SELECT `+processedVisitColumns+` FROM processed_visits `+where+` ORDER BY start_ns, id`, args...)
	if err != nil {
		return nil, wrapErr("query processed visits", err)
	}
	defer closeWithLog(rows, "rows")

	var out []models.ProcessedVisit
	for rows.Next() {
		pv, err := scanProcessedVisit(rows)
		if err != nil {
			return nil, wrapErr("query processed visits", err)
		}
		out = append(out, *pv)
	}
	return out, wrapErr("query processed visits", rows.Err())
}

// ReplaceProcessedVisits deletes remove and inserts add in one transaction.
// A re-added id continues the version of the row it replaces.
func (db *DB) ReplaceProcessedVisits(ctx context.Context, userID string, remove []store.Ref, add []models.ProcessedVisit) error {
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	return db.inTx(ctx, "replace processed visits", func(tx *sql.Tx) error {
		prior, err := checkRefs(ctx, tx, "processed visit", "processed_visits", userID, remove)
		if err != nil {
			return err
		}

		for i := range add {
			if _, removed := prior[add[i].ID]; removed {
				continue
			}
			var exists int
			if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM processed_visits WHERE id = ?`, add[i].ID).Scan(&exists); err != nil {
				return wrapErr("check processed visit", err)
			}
			if exists > 0 {
				return fmt.Errorf("processed visit %s: %w", add[i].ID, store.ErrAlreadyExists)
			}
		}

		if len(prior) > 0 {
			ids := make([]string, 0, len(prior))
			for id := range prior {
				ids = append(ids, id)
			}
			where, args := query.AddIn(query.NewWhereBuilder().AddUser(userID), "id", ids).BuildWithPrefix()
			if _, err := tx.ExecContext(ctx, `DELETE FROM processed_visits `+where, args...); err != nil {
				return wrapErr("delete processed visits", err)
			}
		}

		for i := range add {
			pv := &add[i]
			sources, err := encodeList(pv.SourceVisitIDs)
			if err != nil {
				return fmt.Errorf("encode source visit ids: %w", err)
			}
			version := prior[pv.ID] + 1
			_, err = tx.ExecContext(ctx, `
				INSERT INTO processed_visits (`+processedVisitColumns+`)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				pv.ID, userID, pv.PlaceID, nanos(pv.StartTime), nanos(pv.EndTime), pv.DurationSeconds,
				sources, pv.MergedCount, version)
			if err != nil {
				return wrapErr("insert processed visit", err)
			}
		}

		for i := range add {
			add[i].UserID = userID
			add[i].Version = prior[add[i].ID] + 1
		}
		return nil
	})
}

func (db *DB) DeleteProcessedVisits(ctx context.Context, userID string, refs []store.Ref) error {
	return db.deleteRefs(ctx, "processed visit", "processed_visits", userID, refs)
}
