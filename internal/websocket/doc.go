// Geotimeline - Location History Timeline Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geotimeline

/*
Package websocket pushes timeline notifications to connected clients.

A Client subscribes to exactly one user. The Hub receives messages through
Broadcast, which never blocks, and hands each one to that user's clients.
Delivery is best effort: a full hub queue drops the message and a client
that cannot keep up is disconnected.

Each client runs two goroutines:
  - readPump answers {"type":"ping"} with {"type":"pong"} and tracks pongs
  - writePump writes queued messages and sends protocol pings

Message types:

	points_stored       a batch was durably stored
	place_created       a new significant place
	place_geocoded      a place received its name and address
	visit_created       a raw visit was written
	trip_recalculation  trips in a window were rebuilt

Frames look like:

	{"type":"visit_created","user_id":"alice","data":{...}}

Usage:

	hub := websocket.NewHub()
	go hub.Serve(ctx)

	upgrader := websocket.NewUpgrader(cfg.Security.CORSOrigins)
	r.Get("/api/v1/ws", func(w http.ResponseWriter, r *http.Request) {
		_ = hub.Attach(&upgrader, w, r, r.URL.Query().Get("user"))
	})

Hub satisfies eventprocessor.Broadcaster.
*/
package websocket
