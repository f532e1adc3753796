// Geotimeline - Location History Timeline Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geotimeline

//go:build nats

package eventprocessor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// JetStreamContext is the subset of jetstream.JetStream the initializer
// needs.
type JetStreamContext interface {
	Stream(ctx context.Context, name string) (jetstream.Stream, error)
	CreateStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error)
	UpdateStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error)
}

// StreamInitializer creates or updates the timeline stream before
// publishers and subscribers start.
type StreamInitializer struct {
	js  JetStreamContext
	cfg jetstream.StreamConfig
}

func NewStreamInitializer(js JetStreamContext, name string, retention time.Duration, maxBytes int64) (*StreamInitializer, error) {
	if js == nil {
		return nil, fmt.Errorf("%w: JetStream context required", ErrInvalidConfig)
	}
	if name == "" {
		return nil, fmt.Errorf("%w: stream name required", ErrInvalidConfig)
	}
	return &StreamInitializer{
		js: js,
		cfg: jetstream.StreamConfig{
			Name:       name,
			Subjects:   StreamSubjects(),
			Retention:  jetstream.LimitsPolicy,
			MaxAge:     retention,
			MaxBytes:   maxBytes,
			MaxMsgs:    -1,
			Duplicates: 2 * time.Minute,
			Replicas:   1,
			Storage:    jetstream.FileStorage,
			Discard:    jetstream.DiscardOld,
		},
	}, nil
}

// EnsureStream is idempotent.
func (s *StreamInitializer) EnsureStream(ctx context.Context) (jetstream.Stream, error) {
	_, err := s.js.Stream(ctx, s.cfg.Name)
	if err == nil {
		stream, err := s.js.UpdateStream(ctx, s.cfg)
		if err != nil {
			return nil, fmt.Errorf("update stream %s: %w", s.cfg.Name, err)
		}
		return stream, nil
	}
	if errors.Is(err, jetstream.ErrStreamNotFound) {
		stream, err := s.js.CreateStream(ctx, s.cfg)
		if err != nil {
			return nil, fmt.Errorf("create stream %s: %w", s.cfg.Name, err)
		}
		return stream, nil
	}
	return nil, fmt.Errorf("check stream %s: %w", s.cfg.Name, err)
}

func (s *StreamInitializer) IsHealthy(ctx context.Context) bool {
	_, err := s.js.Stream(ctx, s.cfg.Name)
	return err == nil
}
