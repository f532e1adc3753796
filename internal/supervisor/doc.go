// Geotimeline - Location History Timeline Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geotimeline

/*
Package supervisor runs the long-lived services of the server under a
suture supervisor tree.

	tree := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddDataService(services.NewStartStopService("wal-retry-loop", retryLoop))
	tree.AddMessagingService(hub)
	tree.AddAPIService(services.NewHTTPServerService(server, 15*time.Second))
	err := tree.Serve(ctx)

Anything with Serve(ctx) error is a service. Adapters for other lifecycle
shapes live in the services subpackage.
*/
package supervisor
