// Geotimeline - Location History Timeline Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geotimeline

// Package testinfra starts real backing services in Docker for integration
// tests, using testcontainers-go.
//
// Everything here is behind the integration build tag:
//
//	go test -tags integration ./...
//
// Tests call SkipIfNoDocker first so they pass silently where Docker is
// missing. The first run pulls images; later runs use the local cache.
//
//	func TestSharedCache(t *testing.T) {
//	    testinfra.SkipIfNoDocker(t)
//	    rc, err := testinfra.NewRedisContainer(ctx)
//	    if err != nil {
//	        t.Fatal(err)
//	    }
//	    defer testinfra.CleanupContainer(t, ctx, rc.Container)
//
//	    client := rc.Client()
//	    defer client.Close()
//	    cache := geocoding.NewCache(client, 100, time.Hour)
//	    // ...
//	}
package testinfra
