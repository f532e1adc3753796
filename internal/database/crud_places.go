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

	"github.com/tomtom215/geotimeline/internal/geo"
	"github.com/tomtom215/geotimeline/internal/models"
	"github.com/tomtom215/geotimeline/internal/store"
)

const placeColumns = `id, user_id, name, address, city, country_code, latitude, longitude, polygon,
	type, timezone, geocoded, visit_count, point_count, created_ns, updated_ns, version`

func scanPlace(row interface{ Scan(...any) error }) (*models.SignificantPlace, error) {
	var (
		p                models.SignificantPlace
		polygon          sql.NullString
		created, updated int64
	)
	err := row.Scan(&p.ID, &p.UserID, &p.Name, &p.Address, &p.City, &p.CountryCode, &p.Latitude, &p.Longitude,
		&polygon, &p.Type, &p.Timezone, &p.Geocoded, &p.VisitCount, &p.PointCount, &created, &updated, &p.Version)
	if err != nil {
		return nil, err
	}
	if p.Polygon, err = decodeList[geo.LatLng](polygon); err != nil {
		return nil, fmt.Errorf("decode polygon of place %s: %w", p.ID, err)
	}
	p.CreatedAt = fromNanos(created)
	p.UpdatedAt = fromNanos(updated)
	return &p, nil
}

// CreatePlace inserts p at version 1.
func (db *DB) CreatePlace(ctx context.Context, p *models.SignificantPlace) error {
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	polygon, err := encodeList(p.Polygon)
	if err != nil {
		return fmt.Errorf("encode polygon: %w", err)
	}
	res, err := db.conn.ExecContext(ctx, `
		INSERT INTO places (`+placeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT (id) DO NOTHING`,
		p.ID, p.UserID, p.Name, p.Address, p.City, p.CountryCode, p.Latitude, p.Longitude, polygon,
		p.Type, p.Timezone, p.Geocoded, p.VisitCount, p.PointCount, nanos(p.CreatedAt), nanos(p.UpdatedAt))
	if err != nil {
		return wrapErr("create place", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("place %s: %w", p.ID, store.ErrAlreadyExists)
	}
	p.Version = 1
	return nil
}

func (db *DB) GetPlace(ctx context.Context, id string) (*models.SignificantPlace, error) {
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	p, err := scanPlace(db.conn.QueryRowContext(ctx, `SELECT `+placeColumns+` FROM places WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("place %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, wrapErr("get place", err)
	}
	return p, nil
}

// PlacesForUser returns the user's places, oldest first.
func (db *DB) PlacesForUser(ctx context.Context, userID string) ([]models.SignificantPlace, error) {
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	rows, err := db.conn.QueryContext(ctx, `SELECT `+placeColumns+` FROM places WHERE user_id = ? ORDER BY created_ns, id`, userID)
	if err != nil {
		return nil, wrapErr("query places", err)
	}
	defer closeWithLog(rows, "rows")

	var out []models.SignificantPlace
	for rows.Next() {
		p, err := scanPlace(rows)
		if err != nil {
			return nil, wrapErr("query places", err)
		}
		out = append(out, *p)
	}
	return out, wrapErr("query places", rows.Err())
}

// UpdatePlace writes p if the stored version still equals p.Version and
// advances p.Version.
func (db *DB) UpdatePlace(ctx context.Context, p *models.SignificantPlace) error {
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	polygon, err := encodeList(p.Polygon)
	if err != nil {
		return fmt.Errorf("encode polygon: %w", err)
	}
	res, err := db.conn.ExecContext(ctx, `
		UPDATE places SET name = ?, address = ?, city = ?, country_code = ?, latitude = ?, longitude = ?,
			polygon = ?, type = ?, timezone = ?, geocoded = ?, visit_count = ?, point_count = ?, updated_ns = ?,
			version = version + 1
		WHERE id = ? AND version = ?`,
		p.Name, p.Address, p.City, p.CountryCode, p.Latitude, p.Longitude,
		polygon, p.Type, p.Timezone, p.Geocoded, p.VisitCount, p.PointCount, nanos(p.UpdatedAt),
		p.ID, p.Version)
	if err != nil {
		return wrapErr("update place", err)
	}
	if n, err := res.RowsAffected(); err != nil || n == 0 {
		return conflict(ctx, db.conn, "place", "places", p.ID, p.Version)
	}
	models.Bump(p)
	return nil
}

// DeletePlace is refused while any visit references the place.
func (db *DB) DeletePlace(ctx context.Context, id string) error {
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	return db.inTx(ctx, "delete place", func(tx *sql.Tx) error {
		var refs int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM visits WHERE place_id = ?`, id).Scan(&refs); err != nil {
			return wrapErr("count place references", err)
		}
		if refs > 0 {
			return fmt.Errorf("place %s: %w", id, store.ErrPlaceInUse)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM places WHERE id = ?`, id)
		if err != nil {
			return wrapErr("delete place", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return fmt.Errorf("place %s: %w", id, store.ErrNotFound)
		}
		return nil
	})
}
