// Geotimeline - Location History Timeline Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geotimeline

package api

import (
	"bytes"
	"errors"
	"io"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/tomtom215/geotimeline/internal/geo"
	"github.com/tomtom215/geotimeline/internal/ingest"
	"github.com/tomtom215/geotimeline/internal/logging"
	"github.com/tomtom215/geotimeline/internal/models"
	"github.com/tomtom215/geotimeline/internal/simplify"
	"github.com/tomtom215/geotimeline/internal/validation"
)

// IngestResult reports how a submission was handled.
type IngestResult struct {
	Received int `json:"received"`
	Accepted int `json:"accepted"`
	Rejected int `json:"rejected"`
}

// decodePoints accepts a JSON array of points or a single point object.
func decodePoints(body []byte) ([]models.LocationPoint, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, errors.New("request body is empty")
	}
	if body[0] == '[' {
		var points []models.LocationPoint
		if err := json.Unmarshal(body, &points); err != nil {
			return nil, err
		}
		return points, nil
	}
	var p models.LocationPoint
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, err
	}
	return []models.LocationPoint{p}, nil
}

// IngestPoints handles POST /api/v1/users/{user}/points.
func (h *Handler) IngestPoints(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	user, err := userParam(r)
	if err != nil {
		rw.BadRequest(err.Error())
		return
	}

	h.limitBody(w, r)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			rw.Error(http.StatusRequestEntityTooLarge, ErrCodeTooLarge, "request body too large")
			return
		}
		rw.BadRequest("failed to read request body")
		return
	}
	points, err := decodePoints(body)
	if err != nil {
		rw.BadRequest("invalid JSON: expected a location point or an array of them")
		return
	}

	accepted, err := h.ingest.Submit(r.Context(), user, points)
	switch {
	case errors.Is(err, ingest.ErrInvalidPoint):
		rw.ValidationError("no valid points in request", firstInvalid(points))
		return
	case errors.Is(err, ingest.ErrBatcherClosed):
		rw.ServiceUnavailable("ingest is shutting down")
		return
	case err != nil:
		logging.Ctx(r.Context()).Error().Err(err).Str("user_id", user).Int("points", len(points)).Msg("ingest failed")
		rw.InternalError("failed to store points")
		return
	}

	rw.Accepted(IngestResult{
		Received: len(points),
		Accepted: accepted,
		Rejected: len(points) - accepted,
	})
}

// firstInvalid returns the validation details of the first rejected point.
func firstInvalid(points []models.LocationPoint) map[string]any {
	for i := range points {
		if verr := validation.ValidateStruct(&points[i]); verr != nil {
			return map[string]any{
				"index":  i,
				"fields": verr.Fields,
			}
		}
	}
	return nil
}

// TriggerPipeline handles POST /api/v1/users/{user}/trigger.
func (h *Handler) TriggerPipeline(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	user, err := userParam(r)
	if err != nil {
		rw.BadRequest(err.Error())
		return
	}
	if err := h.ingest.TriggerNow(r.Context(), user); err != nil {
		if errors.Is(err, ingest.ErrBatcherClosed) {
			rw.ServiceUnavailable("ingest is shutting down")
			return
		}
		logging.Ctx(r.Context()).Error().Err(err).Str("user_id", user).Msg("manual trigger failed")
		rw.InternalError("failed to trigger processing")
		return
	}
	rw.Accepted(map[string]string{"user_id": user, "status": "triggered"})
}

// UnprocessedPoints handles GET /api/v1/users/{user}/points/unprocessed.
func (h *Handler) UnprocessedPoints(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	user, err := userParam(r)
	if err != nil {
		rw.BadRequest(err.Error())
		return
	}
	tr, err := parseRange(r, false)
	if err != nil {
		rw.BadRequest(err.Error())
		return
	}
	limit, err := intParam(r, "limit", defaultPointLimit, 1, maxPointLimit)
	if err != nil {
		rw.BadRequest(err.Error())
		return
	}

	points, err := h.store.UnprocessedPoints(r.Context(), user, tr.From, tr.To, limit)
	if err != nil {
		rw.StoreError(err)
		return
	}
	if points == nil {
		points = []models.RawLocationPoint{}
	}
	rw.List(points, len(points))
}

// SimplifiedPath is a decimated track for map display.
type SimplifiedPath struct {
	Zoom           int                       `json:"zoom"`
	OriginalCount  int                       `json:"original_count"`
	ToleranceMeter float64                   `json:"tolerance_meters"`
	Points         []models.RawLocationPoint `json:"points"`
}

// SimplifiedPoints handles GET /api/v1/users/{user}/points/simplified.
func (h *Handler) SimplifiedPoints(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	user, err := userParam(r)
	if err != nil {
		rw.BadRequest(err.Error())
		return
	}
	tr, err := parseRange(r, true)
	if err != nil {
		rw.BadRequest(err.Error())
		return
	}
	zoom, err := intParam(r, "zoom", 14, 0, geo.MaxZoom)
	if err != nil {
		rw.BadRequest(err.Error())
		return
	}

	points, err := h.store.PointsBetween(r.Context(), user, tr.From, tr.To)
	if err != nil {
		rw.StoreError(err)
		return
	}
	kept := simplify.Points(points, zoom)
	rw.List(SimplifiedPath{
		Zoom:           zoom,
		OriginalCount:  len(points),
		ToleranceMeter: simplify.Tolerance(zoom),
		Points:         kept,
	}, len(kept))
}
