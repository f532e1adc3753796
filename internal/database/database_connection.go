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
	"runtime"
	"strings"
	"time"

	"github.com/tomtom215/geotimeline/internal/database/query"
	"github.com/tomtom215/geotimeline/internal/metrics"
	"github.com/tomtom215/geotimeline/internal/store"
)

func (db *DB) configureConnectionPool() {
	db.conn.SetMaxOpenConns(runtime.NumCPU())
	db.conn.SetMaxIdleConns(2)
	db.conn.SetConnMaxLifetime(time.Hour)
	db.conn.SetConnMaxIdleTime(5 * time.Minute)
}

// isTransactionConflict checks if an error is a DuckDB transaction conflict.
// Two writers touching the same row is the optimistic-concurrency case the
// version check exists for, so it is reported as a version conflict.
func isTransactionConflict(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "Transaction conflict") ||
		strings.Contains(errStr, "Conflict on update")
}

// isConnectionError checks if an error indicates database connection loss.
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, sql.ErrConnDone) {
		return true
	}
	errMsg := err.Error()
	return strings.Contains(errMsg, "bad connection") ||
		strings.Contains(errMsg, "database is closed")
}

// wrapErr maps driver errors onto the store error taxonomy.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if isTransactionConflict(err) {
		metrics.RecordVersionConflict("transaction")
		return fmt.Errorf("%s: %w: %v", op, store.ErrVersionConflict, err)
	}
	if isConnectionError(err) {
		return fmt.Errorf("%s: database unavailable: %w", op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// inTx runs fn in a transaction, rolling back on error.
func (db *DB) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return wrapErr(op, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return wrapErr(op, err)
	}
	return nil
}

// conflict explains a version-checked write that matched no row: either the
// entity is gone or its version moved on.
func conflict(ctx context.Context, q querier, entity, table, id string, version int64) error {
	var current int64
	err := q.QueryRowContext(ctx, "SELECT version FROM "+table+" WHERE id = ?", id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", entity, id, store.ErrNotFound)
	}
	if err != nil {
		return wrapErr("check "+entity+" version", err)
	}
	metrics.RecordVersionConflict(entity)
	return fmt.Errorf("%s %s at version %d, have %d: %w", entity, id, current, version, store.ErrVersionConflict)
}

// checkRefs loads the stored versions of refs owned by userID and fails
// with store.ErrVersionConflict when one differs from the ref. Refs to rows
// that are gone are left out of the returned map.
func checkRefs(ctx context.Context, q querier, entity, table, userID string, refs []store.Ref) (map[string]int64, error) {
	current := make(map[string]int64, len(refs))
	if len(refs) == 0 {
		return current, nil
	}
	where, args := query.AddIn(query.NewWhereBuilder().AddUser(userID), "id", store.RefIDs(refs)).BuildWithPrefix()
	rows, err := q.QueryContext(ctx, "SELECT id, version FROM "+table+" "+where, args...)
	if err != nil {
		return nil, wrapErr("load "+entity+" versions", err)
	}
	for rows.Next() {
		var (
			id      string
			version int64
		)
		if err := rows.Scan(&id, &version); err != nil {
			closeQuietly(rows)
			return nil, wrapErr("load "+entity+" versions", err)
		}
		current[id] = version
	}
	closeWithLog(rows, "rows")
	if err := rows.Err(); err != nil {
		return nil, wrapErr("load "+entity+" versions", err)
	}

	for _, ref := range refs {
		if v, ok := current[ref.ID]; ok && v != ref.Version {
			metrics.RecordVersionConflict(entity)
			return nil, fmt.Errorf("%s %s at version %d, have %d: %w", entity, ref.ID, v, ref.Version, store.ErrVersionConflict)
		}
	}
	return current, nil
}

// deleteRefs deletes the rows named by refs after checking their versions.
func (db *DB) deleteRefs(ctx context.Context, entity, table, userID string, refs []store.Ref) error {
	if len(refs) == 0 {
		return nil
	}
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	return db.inTx(ctx, "delete "+table, func(tx *sql.Tx) error {
		current, err := checkRefs(ctx, tx, entity, table, userID, refs)
		if err != nil || len(current) == 0 {
			return err
		}
		ids := make([]string, 0, len(current))
		for id := range current {
			ids = append(ids, id)
		}
		where, args := query.AddIn(query.NewWhereBuilder().AddUser(userID), "id", ids).BuildWithPrefix()
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" "+where, args...); err != nil {
			return wrapErr("delete "+table, err)
		}
		return nil
	})
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}
