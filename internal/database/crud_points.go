// Geotimeline - Location History Timeline Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geotimeline

package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/tomtom215/geotimeline/internal/database/query"
	"github.com/tomtom215/geotimeline/internal/models"
)

const pointColumns = `id, user_id, ts_ns, latitude, longitude, accuracy_m, elevation_m, processed, version`

// InsertPoints stores points not already present for the user. Identity is
// (user, timestamp, latitude, longitude).
func (db *DB) InsertPoints(ctx context.Context, userID string, points []models.RawLocationPoint) (int, error) {
	if len(points) == 0 {
		return 0, nil
	}
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	inserted := 0
	err := db.inTx(ctx, "insert points", func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO points (user_id, ts_ns, latitude, longitude, accuracy_m, elevation_m)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (user_id, ts_ns, latitude, longitude) DO NOTHING`)
		if err != nil {
			return wrapErr("prepare point insert", err)
		}
		defer closeWithLog(stmt, "prepared statement")

		for i := range points {
			p := &points[i]
			var elevation sql.NullFloat64
			if p.ElevationMeters != nil {
				elevation = sql.NullFloat64{Float64: *p.ElevationMeters, Valid: true}
			}
			res, err := stmt.ExecContext(ctx, userID, nanos(p.Timestamp), p.Latitude, p.Longitude, p.AccuracyMeters, elevation)
			if err != nil {
				return wrapErr("insert point", err)
			}
			if n, err := res.RowsAffected(); err == nil {
				inserted += int(n)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

func (db *DB) UnprocessedPoints(ctx context.Context, userID string, from, to time.Time, limit int) ([]models.RawLocationPoint, error) {
	wb := query.NewWhereBuilder().AddUser(userID).AddClause("NOT processed").AddTimeRange("ts_ns", from, to)
	where, args := wb.BuildWithPrefix()
	q := `SELECT ` + pointColumns + ` FROM points ` + where + ` ORDER BY ts_ns, id`
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	return db.queryPoints(ctx, "query unprocessed points", q, args...)
}

func (db *DB) PointsBetween(ctx context.Context, userID string, from, to time.Time) ([]models.RawLocationPoint, error) {
	where, args := query.NewWhereBuilder().AddUser(userID).AddTimeRange("ts_ns", from, to).BuildWithPrefix()
	return db.queryPoints(ctx, "query points", `SELECT `+pointColumns+` FROM points `+where+` ORDER BY ts_ns, id`, args...)
}

func (db *DB) queryPoints(ctx context.Context, op, q string, args ...any) ([]models.RawLocationPoint, error) {
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	rows, err := db.conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, wrapErr(op, err)
	}
	defer closeWithLog(rows, "rows")

	var out []models.RawLocationPoint
	for rows.Next() {
		var (
			p         models.RawLocationPoint
			ts        int64
			elevation sql.NullFloat64
		)
		if err := rows.Scan(&p.ID, &p.UserID, &ts, &p.Latitude, &p.Longitude, &p.AccuracyMeters, &elevation, &p.Processed, &p.Version); err != nil {
			return nil, wrapErr(op, err)
		}
		p.Timestamp = fromNanos(ts)
		if elevation.Valid {
			e := elevation.Float64
			p.ElevationMeters = &e
		}
		out = append(out, p)
	}
	return out, wrapErr(op, rows.Err())
}

// MarkPointsProcessed flags the points and bumps their versions. Points
// already processed are left untouched.
func (db *DB) MarkPointsProcessed(ctx context.Context, userID string, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	wb := query.NewWhereBuilder().AddUser(userID).AddClause("NOT processed")
	where, args := query.AddIn(wb, "id", ids).BuildWithPrefix()
	_, err := db.conn.ExecContext(ctx, `UPDATE points SET processed = true, version = version + 1 `+where, args...)
	return wrapErr("mark points processed", err)
}

func (db *DB) UsersWithUnprocessedPoints(ctx context.Context) ([]string, error) {
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	rows, err := db.conn.QueryContext(ctx, `SELECT DISTINCT user_id FROM points WHERE NOT processed ORDER BY user_id`)
	if err != nil {
		return nil, wrapErr("query pending users", err)
	}
	defer closeWithLog(rows, "rows")

	var users []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, wrapErr("query pending users", err)
		}
		users = append(users, u)
	}
	return users, wrapErr("query pending users", rows.Err())
}
