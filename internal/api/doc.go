// Geotimeline - Location History Timeline Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geotimeline

/*
Package api serves the HTTP interface of the timeline engine.

Every JSON response uses one envelope:

	{"success": true, "data": {...}, "meta": {"request_id": "...", "timestamp": "...", "duration_ms": 3}}
	{"success": false, "error": {"code": "NOT_FOUND", "message": "..."}, "meta": {...}}

Routes:

	POST /api/v1/users/{user}/points               ingest one point or an array (202)
	POST /api/v1/users/{user}/trigger              flush and process now (202)
	GET  /api/v1/users/{user}/points/unprocessed   ?from&to&limit
	GET  /api/v1/users/{user}/points/simplified    ?from&to&zoom
	GET  /api/v1/users/{user}/visits               ?from&to merged visits overlapping [from, to)
	GET  /api/v1/users/{user}/trips                ?from&to
	GET  /api/v1/users/{user}/places
	GET  /api/v1/users/{user}/places/{id}
	GET  /api/v1/users/{user}/parameters
	POST /api/v1/users/{user}/parameters           {"sensitivity_level": 4} or {"advanced": {...}}
	GET  /api/v1/geocoding/providers
	POST /api/v1/geocoding/providers/{name}/reset
	GET  /api/v1/health/live | ready | idle
	GET  /api/v1/ws?user=...                       websocket notifications
	GET  /metrics                                  Prometheus

Timestamps in queries are RFC 3339 or unix seconds. Ranges are half-open.

The middleware stack is request id, real IP, panic recovery and CORS on
every route, then per-IP rate limiting, Prometheus instrumentation and gzip
on the API group.
*/
package api
