// Geotimeline - Location History Timeline Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geotimeline

//go:build !nats

package eventprocessor

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
)

// NewNATSBus is not available without the nats build tag.
func NewNATSBus(_ context.Context, _ *NATSConfig, _ watermill.LoggerAdapter) (*Bus, error) {
	return nil, ErrNATSNotEnabled
}
