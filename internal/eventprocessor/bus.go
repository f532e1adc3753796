// Geotimeline - Location History Timeline Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geotimeline

package eventprocessor

import (
	"context"
	"errors"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/tomtom215/geotimeline/internal/logging"
)

// Bus is a publisher and subscriber pair over one transport.
type Bus struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber

	closers []func() error
	healthy func(context.Context) bool
}

// Healthy reports whether the transport can carry events. The in-process
// bus is always healthy; a NATS bus checks that its stream is reachable.
func (b *Bus) Healthy(ctx context.Context) bool {
	if b.healthy == nil {
		return true
	}
	return b.healthy(ctx)
}

// Close releases the transport. Safe to call more than once.
func (b *Bus) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	b.closers = nil
	return errors.Join(errs...)
}

// NewLogger returns a Watermill logger writing through zerolog.
func NewLogger() watermill.LoggerAdapter {
	return watermill.NewSlogLogger(logging.NewSlogLoggerForComponent("eventprocessor"))
}

// NewChannelBus returns an in-process bus. Messages are lost when the
// process exits; the ingest WAL and the store cover durability.
func NewChannelBus(logger watermill.LoggerAdapter) *Bus {
	if logger == nil {
		logger = NewLogger()
	}
	ch := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: 256,
	}, logger)
	return &Bus{
		Publisher:  ch,
		Subscriber: ch,
		closers:    []func() error{ch.Close},
	}
}
