// Geotimeline - Location History Timeline Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geotimeline

package ingest

import (
	"context"
	"fmt"

	"github.com/tomtom215/geotimeline/internal/models"
	"github.com/tomtom215/geotimeline/internal/store"
)

// PublishFunc announces a stored batch.
type PublishFunc func(ctx context.Context, userID string, inserted int) error

// StoreSink writes batches to the point store and then announces them.
// Redelivered points are skipped by the store, so replays are harmless.
type StoreSink struct {
	points  store.PointStore
	publish PublishFunc
}

// NewStoreSink creates a StoreSink. publish may be nil.
func NewStoreSink(points store.PointStore, publish PublishFunc) *StoreSink {
	return &StoreSink{points: points, publish: publish}
}

func (s *StoreSink) StoreBatch(ctx context.Context, userID string, points []models.RawLocationPoint) error {
	n, err := s.points.InsertPoints(ctx, userID, points)
	if err != nil {
		return fmt.Errorf("insert points: %w", err)
	}
	if s.publish != nil && n > 0 {
		if err := s.publish(ctx, userID, n); err != nil {
			return fmt.Errorf("publish batch: %w", err)
		}
	}
	return nil
}
