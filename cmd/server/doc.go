// Geotimeline - Location History Timeline Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geotimeline

/*
Command server runs the Geotimeline engine: it accepts GPS points over
HTTP, turns them into visits, places and trips, and serves the timeline.

# Supervision

Long-running components run under a Suture v4 tree:

	RootSupervisor ("geotimeline")
	├── data-layer
	│   ├── wal-retry-loop   (WAL_ENABLED)
	│   └── wal-compactor    (WAL_ENABLED)
	├── messaging-layer
	│   ├── event-router     (Watermill, channel or NATS JetStream)
	│   ├── ingest-batcher
	│   └── websocket-hub
	└── api-layer
	    └── http-server

Each layer restarts failed services with backoff. On SIGINT or SIGTERM
the HTTP server drains, the batcher flushes its buffers and fires pending
triggers, and the WAL and database are closed last.

# Startup

 1. Configuration via Koanf (defaults, config.yaml, .env, environment)
 2. DuckDB store
 3. BadgerDB WAL for ingest batches (optional)
 4. Event bus: in-process by default, NATS with -tags nats and NATS_ENABLED
 5. Pipeline, geocoding orchestrator with LRU and optional Redis cache
 6. Ingest batcher, websocket hub, event handlers and HTTP router

Once the event router is subscribed, every user with unprocessed points
is run through the pipeline so work interrupted by a crash is finished.

# Build Tags

	go build ./cmd/server               # channel bus
	go build -tags nats ./cmd/server    # NATS JetStream, embedded or external
*/
package main
