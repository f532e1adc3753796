// Geotimeline - Location History Timeline Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geotimeline

package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/geotimeline/internal/models"
	"github.com/tomtom215/geotimeline/internal/store"
)

// Visits handles GET /api/v1/users/{user}/visits and returns the merged
// visits overlapping [from, to).
func (h *Handler) Visits(w http.ResponseWriter, r *http.Request) {
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

	visits, err := h.store.ProcessedVisitsOverlapping(r.Context(), user, tr.From, tr.To)
	if err != nil {
		rw.StoreError(err)
		return
	}
	if visits == nil {
		visits = []models.ProcessedVisit{}
	}
	rw.List(visits, len(visits))
}

// Trips handles GET /api/v1/users/{user}/trips.
func (h *Handler) Trips(w http.ResponseWriter, r *http.Request) {
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

	trips, err := h.store.TripsOverlapping(r.Context(), user, tr.From, tr.To)
	if err != nil {
		rw.StoreError(err)
		return
	}
	if trips == nil {
		trips = []models.Trip{}
	}
	rw.List(trips, len(trips))
}

// Places handles GET /api/v1/users/{user}/places.
func (h *Handler) Places(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	user, err := userParam(r)
	if err != nil {
		rw.BadRequest(err.Error())
		return
	}
	places, err := h.store.PlacesForUser(r.Context(), user)
	if err != nil {
		rw.StoreError(err)
		return
	}
	if places == nil {
		places = []models.SignificantPlace{}
	}
	rw.List(places, len(places))
}

// Place handles GET /api/v1/users/{user}/places/{id}. Another user's place
// is reported as missing.
func (h *Handler) Place(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	user, err := userParam(r)
	if err != nil {
		rw.BadRequest(err.Error())
		return
	}
	id := chi.URLParam(r, "id")
	if id == "" {
		rw.BadRequest("place id is required")
		return
	}

	place, err := h.store.GetPlace(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			rw.NotFound("place not found")
			return
		}
		rw.StoreError(err)
		return
	}
	if place.UserID != user {
		rw.NotFound("place not found")
		return
	}
	rw.Success(place)
}
