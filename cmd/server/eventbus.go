// Geotimeline - Location History Timeline Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geotimeline

package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/tomtom215/geotimeline/internal/config"
	"github.com/tomtom215/geotimeline/internal/eventprocessor"
	"github.com/tomtom215/geotimeline/internal/logging"
)

// newEventBus connects to NATS JetStream when enabled and otherwise uses
// the in-process channel bus. A binary built without -tags nats falls back
// to the channel bus with a warning.
func newEventBus(ctx context.Context, cfg *config.Config) (*eventprocessor.Bus, error) {
	logger := eventprocessor.NewLogger()
	if !cfg.NATS.Enabled {
		logging.Info().Msg("Event bus: in-process channel")
		return eventprocessor.NewChannelBus(logger), nil
	}

	bus, err := eventprocessor.NewNATSBus(ctx, &cfg.NATS, logger)
	if errors.Is(err, eventprocessor.ErrNATSNotEnabled) {
		logging.Warn().Msg("NATS_ENABLED=true but NATS support not compiled (build with -tags nats), using in-process channel")
		return eventprocessor.NewChannelBus(logger), nil
	}
	if err != nil {
		return nil, fmt.Errorf("connect event bus: %w", err)
	}
	logging.Info().
		Bool("embedded", cfg.NATS.EmbeddedServer).
		Str("stream", cfg.NATS.StreamName).
		Msg("Event bus: NATS JetStream")
	return bus, nil
}
