// Geotimeline - Location History Timeline Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geotimeline

/*
Package database implements store.Store on DuckDB.

# Schema

Tables mirror the timeline entities: points, places, visits,
processed_visits, trips and detection_parameters. Every row carries a
version column. Updates are conditional:

	UPDATE places SET ..., version = version + 1 WHERE id = ? AND version = ?

and report store.ErrVersionConflict when no row matched while the entity
still exists. DuckDB transaction conflicts between concurrent writers are
reported the same way.

Points are unique on (user_id, ts_ns, latitude, longitude); re-inserting a
batch is a no-op. Their ids come from a sequence and give insertion order.

# Usage

	db, err := database.New(&cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

Pass ":memory:" as the path for a private in-memory database.
*/
package database
