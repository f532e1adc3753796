// Geotimeline - Location History Timeline Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geotimeline

// Package query provides SQL query building utilities for the database package.
// Times are bound as Unix nanoseconds, matching the BIGINT time columns.
package query

import (
	"fmt"
	"strings"
	"time"
)

// WhereBuilder constructs SQL WHERE clauses with parameterized arguments.
//
// Example usage:
//
//	wb := query.NewWhereBuilder()
//	wb.AddUser(userID)
//	wb.AddOverlap("start_ns", "end_ns", from, to)
//	whereClause, args := wb.Build()
//	// user_id = ? AND start_ns < ? AND end_ns > ?
type WhereBuilder struct {
	clauses []string
	args    []any
}

// NewWhereBuilder creates a new WhereBuilder instance.
func NewWhereBuilder() *WhereBuilder {
	return &WhereBuilder{}
}

// AddClause adds a raw WHERE clause with its arguments.
func (wb *WhereBuilder) AddClause(clause string, args ...any) *WhereBuilder {
	wb.clauses = append(wb.clauses, clause)
	wb.args = append(wb.args, args...)
	return wb
}

// AddUser restricts rows to one user.
func (wb *WhereBuilder) AddUser(userID string) *WhereBuilder {
	return wb.AddClause("user_id = ?", userID)
}

// AddTimeRange adds the half-open range from <= column < to. A zero from
// or to leaves that side open.
func (wb *WhereBuilder) AddTimeRange(column string, from, to time.Time) *WhereBuilder {
	if !from.IsZero() {
		wb.AddClause(column+" >= ?", from.UnixNano())
	}
	if !to.IsZero() {
		wb.AddClause(column+" < ?", to.UnixNano())
	}
	return wb
}

// AddOverlap keeps rows whose [startCol, endCol] interval intersects
// [from, to).
func (wb *WhereBuilder) AddOverlap(startCol, endCol string, from, to time.Time) *WhereBuilder {
	if !to.IsZero() {
		wb.AddClause(startCol+" < ?", to.UnixNano())
	}
	if !from.IsZero() {
		wb.AddClause(endCol+" > ?", from.UnixNano())
	}
	return wb
}

// AddIn adds "column IN (?, ?, ...)". An empty list matches nothing.
func AddIn[T any](wb *WhereBuilder, column string, values []T) *WhereBuilder {
	if len(values) == 0 {
		return wb.AddClause("1=0")
	}
	placeholders := make([]string, len(values))
	for i, v := range values {
		placeholders[i] = "?"
		wb.args = append(wb.args, v)
	}
	wb.clauses = append(wb.clauses, fmt.Sprintf("%s IN (%s)", column, strings.Join(placeholders, ", ")))
	return wb
}

// Build joins the clauses with AND. Returns ("1=1", nil) if no clauses were
// added.
func (wb *WhereBuilder) Build() (string, []any) {
	if len(wb.clauses) == 0 {
		return "1=1", nil
	}
	return strings.Join(wb.clauses, " AND "), wb.args
}

// BuildWithPrefix returns the WHERE clause with "WHERE " prefix.
func (wb *WhereBuilder) BuildWithPrefix() (string, []any) {
	whereClause, args := wb.Build()
	return "WHERE " + whereClause, args
}

func (wb *WhereBuilder) Count() int {
	return len(wb.clauses)
}
