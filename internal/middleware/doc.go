// Geotimeline - Location History Timeline Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geotimeline

/*
Package middleware provides the chi middleware shared by the HTTP API.

  - RequestID: X-Request-ID propagation into the logging context
  - PrometheusMetrics: request duration by route pattern, slow request log
  - Compression: gzip for clients that accept it

All three have the func(http.Handler) http.Handler shape and are installed
with chi's Use:

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.PrometheusMetrics)
	r.Use(middleware.Compression)
*/
package middleware
