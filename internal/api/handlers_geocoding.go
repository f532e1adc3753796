// Geotimeline - Location History Timeline Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geotimeline

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/geotimeline/internal/geocoding"
	"github.com/tomtom215/geotimeline/internal/logging"
)

// GeocodingProviders handles GET /api/v1/geocoding/providers.
func (h *Handler) GeocodingProviders(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	if h.geocoding == nil {
		rw.List([]geocoding.ProviderStatus{}, 0)
		return
	}
	providers := h.geocoding.Providers()
	rw.List(providers, len(providers))
}

// ResetGeocodingProvider handles POST /api/v1/geocoding/providers/{name}/reset.
// It clears the error count and re-enables the provider.
func (h *Handler) ResetGeocodingProvider(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	name := chi.URLParam(r, "name")
	if h.geocoding == nil || !h.geocoding.ResetProvider(name) {
		rw.NotFound("geocoding provider not found")
		return
	}
	logging.Ctx(r.Context()).Info().Str("provider", name).Msg("geocoding provider reset")
	for _, p := range h.geocoding.Providers() {
		if p.Name == name {
			rw.Success(p)
			return
		}
	}
	rw.Success(map[string]string{"name": name})
}
