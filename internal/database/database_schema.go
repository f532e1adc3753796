// Geotimeline - Location History Timeline Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geotimeline

package database

import (
	"context"
	"fmt"
	"time"
)

// schemaContext returns a context with timeout for schema operations.
func schemaContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 60*time.Second)
}

// createTables creates the core database tables
func (db *DB) createTables() error {
	ctx, cancel := schemaContext()
	defer cancel()

	for _, query := range getTableCreationQueries() {
		if _, err := db.conn.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to execute query: %s: %w", query, err)
		}
	}
	return nil
}

// getTableCreationQueries returns the table creation SQL statements.
//
// Times are Unix nanoseconds so point identity survives a round trip.
// List-valued fields are JSON text. Tables that are updated in place carry
// no secondary indexes: DuckDB executes updates of indexed columns as
// delete plus insert, which trips its primary key check.
func getTableCreationQueries() []string {
	return []string{
		`CREATE SEQUENCE IF NOT EXISTS points_id_seq START 1`,

		`CREATE TABLE IF NOT EXISTS points (
			id BIGINT PRIMARY KEY DEFAULT nextval('points_id_seq'),
			user_id TEXT NOT NULL,
			ts_ns BIGINT NOT NULL,
			latitude DOUBLE NOT NULL,
			longitude DOUBLE NOT NULL,
			accuracy_m DOUBLE NOT NULL,
			elevation_m DOUBLE,
			processed BOOLEAN NOT NULL DEFAULT false,
			version BIGINT NOT NULL DEFAULT 1,
			UNIQUE (user_id, ts_ns, latitude, longitude)
		)`,

		`CREATE TABLE IF NOT EXISTS places (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			address TEXT NOT NULL DEFAULT '',
			city TEXT NOT NULL DEFAULT '',
			country_code TEXT NOT NULL DEFAULT '',
			latitude DOUBLE NOT NULL,
			longitude DOUBLE NOT NULL,
			polygon TEXT,
			type TEXT NOT NULL DEFAULT '',
			timezone TEXT NOT NULL DEFAULT '',
			geocoded BOOLEAN NOT NULL DEFAULT false,
			visit_count INTEGER NOT NULL DEFAULT 0,
			point_count INTEGER NOT NULL DEFAULT 0,
			created_ns BIGINT NOT NULL,
			updated_ns BIGINT NOT NULL,
			version BIGINT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS visits (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			place_id TEXT NOT NULL,
			latitude DOUBLE NOT NULL,
			longitude DOUBLE NOT NULL,
			start_ns BIGINT NOT NULL,
			end_ns BIGINT NOT NULL,
			point_ids TEXT,
			processed BOOLEAN NOT NULL DEFAULT false,
			version BIGINT NOT NULL
		)`,

		// Replaced wholesale, so ids are unique by construction instead of
		// by constraint.
		`CREATE TABLE IF NOT EXISTS processed_visits (
			id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			place_id TEXT NOT NULL,
			start_ns BIGINT NOT NULL,
			end_ns BIGINT NOT NULL,
			duration_seconds BIGINT NOT NULL,
			source_visit_ids TEXT,
			merged_count INTEGER NOT NULL,
			version BIGINT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS trips (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			start_place_id TEXT NOT NULL,
			end_place_id TEXT NOT NULL,
			start_visit_id TEXT NOT NULL,
			end_visit_id TEXT NOT NULL,
			start_ns BIGINT NOT NULL,
			end_ns BIGINT NOT NULL,
			duration_seconds BIGINT NOT NULL,
			estimated_distance_m DOUBLE NOT NULL,
			travelled_distance_m DOUBLE NOT NULL,
			raw_point_count INTEGER NOT NULL,
			transport_mode TEXT NOT NULL,
			version BIGINT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS detection_parameters (
			user_id TEXT NOT NULL,
			valid_since_ns BIGINT,
			sensitivity_level INTEGER NOT NULL,
			search_distance_m DOUBLE NOT NULL,
			minimum_stay_time_s BIGINT NOT NULL,
			minimum_close_points INTEGER NOT NULL,
			max_stay_merge_gap_s BIGINT NOT NULL,
			min_place_distance_m DOUBLE NOT NULL,
			search_duration_h INTEGER NOT NULL,
			merge_threshold_m DOUBLE NOT NULL,
			max_visit_merge_gap_s BIGINT NOT NULL,
			max_accuracy_m DOUBLE NOT NULL,
			version BIGINT NOT NULL
		)`,
	}
}
