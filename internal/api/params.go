// Geotimeline - Location History Timeline Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geotimeline

package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
)

const (
	// defaultPointLimit and maxPointLimit bound /points/unprocessed.
	defaultPointLimit = 1000
	maxPointLimit     = 10000

	maxUserIDLen = 128

	// maxRangeSpan caps timeline queries.
	maxRangeSpan = 366 * 24 * time.Hour
)

var (
	errUserRequired = errors.New("user is required")
	errUserTooLong  = fmt.Errorf("user must be at most %d characters", maxUserIDLen)
)

// userParam reads {user} from the route.
func userParam(r *http.Request) (string, error) {
	user := strings.TrimSpace(chi.URLParam(r, "user"))
	switch {
	case user == "":
		return "", errUserRequired
	case len(user) > maxUserIDLen:
		return "", errUserTooLong
	}
	return user, nil
}

// parseTime accepts RFC 3339 timestamps or unix seconds.
func parseTime(name, raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t.UTC(), nil
	}
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("%s must be an RFC 3339 timestamp or unix seconds", name)
}

// timeRange is a half-open [From, To) query window.
type timeRange struct {
	From time.Time
	To   time.Time
}

// parseRange reads from and to. When required is false a missing from
// means the beginning of history and a missing to means unbounded.
func parseRange(r *http.Request, required bool) (timeRange, error) {
	q := r.URL.Query()
	var tr timeRange
	rawFrom, rawTo := q.Get("from"), q.Get("to")

	if rawFrom == "" || rawTo == "" {
		if required {
			return tr, errors.New("from and to are required")
		}
	}
	var err error
	if rawFrom != "" {
		if tr.From, err = parseTime("from", rawFrom); err != nil {
			return tr, err
		}
	}
	if rawTo != "" {
		if tr.To, err = parseTime("to", rawTo); err != nil {
			return tr, err
		}
		if !tr.To.After(tr.From) {
			return tr, errors.New("to must be after from")
		}
	}
	if required && tr.To.Sub(tr.From) > maxRangeSpan {
		return tr, fmt.Errorf("range must not exceed %d days", int(maxRangeSpan/(24*time.Hour)))
	}
	return tr, nil
}

// intParam reads an optional bounded integer query parameter.
func intParam(r *http.Request, name string, def, lo, hi int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < lo || v > hi {
		return 0, fmt.Errorf("%s must be an integer between %d and %d", name, lo, hi)
	}
	return v, nil
}
