// Geotimeline - Location History Timeline Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geotimeline

// Package services adapts components with other lifecycle shapes to
// suture.Service:
//
//	HTTPServerService  ListenAndServe and Shutdown
//	StartStopService   Start(ctx) and a blocking Stop
//	RunnerService      Run(ctx) that blocks until cancelled
//
// The ingest batcher and the websocket hub implement Serve themselves and
// need no adapter.
package services
