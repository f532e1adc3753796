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

	"github.com/tomtom215/geotimeline/internal/metrics"
	"github.com/tomtom215/geotimeline/internal/models"
	"github.com/tomtom215/geotimeline/internal/store"
)

const paramColumns = `user_id, valid_since_ns, sensitivity_level, search_distance_m, minimum_stay_time_s,
	minimum_close_points, max_stay_merge_gap_s, min_place_distance_m, search_duration_h, merge_threshold_m,
	max_visit_merge_gap_s, max_accuracy_m, version`

// SaveDetectionParameter inserts the snapshot or, when one with the same
// (user, valid since) exists, replaces it under a version check.
func (db *DB) SaveDetectionParameter(ctx context.Context, p *models.DetectionParameter) error {
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	validSince := nullNanos(p.ValidSince)
	return db.inTx(ctx, "save detection parameter", func(tx *sql.Tx) error {
		var current int64
		err := tx.QueryRowContext(ctx,
			`SELECT version FROM detection_parameters WHERE user_id = ? AND valid_since_ns IS NOT DISTINCT FROM ?`,
			p.UserID, validSince).Scan(&current)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			_, err = tx.ExecContext(ctx, `
				INSERT INTO detection_parameters (`+paramColumns+`)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`,
				p.UserID, validSince, p.SensitivityLevel, p.SearchDistanceMeters, p.MinimumStayTimeSeconds,
				p.MinimumClosePoints, p.MaxMergeTimeBetweenSameStayPoints, p.MinDistanceBetweenVisitsMeters,
				p.SearchDurationHours, p.MergeThresholdMeters, p.MaxMergeTimeBetweenSameVisits, p.MaxAccuracyMeters)
			if err != nil {
				return wrapErr("insert detection parameter", err)
			}
			p.Version = 1
			return nil
		case err != nil:
			return wrapErr("check detection parameter", err)
		case current != p.Version:
			metrics.RecordVersionConflict("detection_parameter")
			return fmt.Errorf("detection parameter at version %d, have %d: %w", current, p.Version, store.ErrVersionConflict)
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE detection_parameters SET sensitivity_level = ?, search_distance_m = ?, minimum_stay_time_s = ?,
				minimum_close_points = ?, max_stay_merge_gap_s = ?, min_place_distance_m = ?, search_duration_h = ?,
				merge_threshold_m = ?, max_visit_merge_gap_s = ?, max_accuracy_m = ?, version = version + 1
			WHERE user_id = ? AND valid_since_ns IS NOT DISTINCT FROM ? AND version = ?`,
			p.SensitivityLevel, p.SearchDistanceMeters, p.MinimumStayTimeSeconds,
			p.MinimumClosePoints, p.MaxMergeTimeBetweenSameStayPoints, p.MinDistanceBetweenVisitsMeters,
			p.SearchDurationHours, p.MergeThresholdMeters, p.MaxMergeTimeBetweenSameVisits, p.MaxAccuracyMeters,
			p.UserID, validSince, p.Version)
		if err != nil {
			return wrapErr("update detection parameter", err)
		}
		p.Version++
		return nil
	})
}

// DetectionParameters returns the user's snapshots ordered by ValidSince,
// the open-ended one first.
func (db *DB) DetectionParameters(ctx context.Context, userID string) ([]models.DetectionParameter, error) {
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	rows, err := db.conn.QueryContext(ctx, `SELECT `+paramColumns+` FROM detection_parameters WHERE user_id = ?`, userID)
	if err != nil {
		return nil, wrapErr("query detection parameters", err)
	}
	defer closeWithLog(rows, "rows")

	var out []models.DetectionParameter
	for rows.Next() {
		var (
			p          models.DetectionParameter
			validSince sql.NullInt64
		)
		err := rows.Scan(&p.UserID, &validSince, &p.SensitivityLevel, &p.SearchDistanceMeters, &p.MinimumStayTimeSeconds,
			&p.MinimumClosePoints, &p.MaxMergeTimeBetweenSameStayPoints, &p.MinDistanceBetweenVisitsMeters,
			&p.SearchDurationHours, &p.MergeThresholdMeters, &p.MaxMergeTimeBetweenSameVisits, &p.MaxAccuracyMeters,
			&p.Version)
		if err != nil {
			return nil, wrapErr("query detection parameters", err)
		}
		p.ValidSince = fromNullNanos(validSince)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("query detection parameters", err)
	}
	models.SortDetectionParameters(out)
	return out, nil
}
