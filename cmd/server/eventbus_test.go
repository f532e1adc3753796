// Geotimeline - Location History Timeline Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geotimeline

//go:build !nats

package main

import (
	"context"
	"testing"
)

func TestNewEventBusFallsBackWithoutNATS(t *testing.T) {
	for _, enabled := range []bool{false, true} {
		cfg := testConfig()
		cfg.NATS.Enabled = enabled

		bus, err := newEventBus(context.Background(), cfg)
		if err != nil {
			t.Fatalf("enabled=%v: newEventBus() error = %v", enabled, err)
		}
		if bus.Publisher == nil || bus.Subscriber == nil {
			t.Errorf("enabled=%v: incomplete bus", enabled)
		}
		if err := bus.Close(); err != nil {
			t.Errorf("enabled=%v: Close() error = %v", enabled, err)
		}
	}
}
