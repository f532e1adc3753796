// Geotimeline - Location History Timeline Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geotimeline

package eventprocessor

import (
	"context"
	"time"

	"github.com/tomtom215/geotimeline/internal/logging"
	"github.com/tomtom215/geotimeline/internal/models"
)

// Notifier turns component callbacks into published events. It satisfies
// the notifier interfaces of the pipeline and of geocoding, and provides
// the publish and trigger hooks of the ingest batcher.
type Notifier struct {
	pub *Publisher
}

func NewNotifier(pub *Publisher) *Notifier {
	return &Notifier{pub: pub}
}

func (n *Notifier) PlaceCreated(ctx context.Context, p *models.SignificantPlace) error {
	return n.pub.PublishEvent(ctx, NewPlaceCreatedEvent(p.UserID, p.ID, p.Latitude, p.Longitude))
}

func (n *Notifier) PlaceGeocoded(ctx context.Context, p *models.SignificantPlace) error {
	return n.pub.PublishEvent(ctx, NewPlaceGeocodedEvent(p.UserID, p.ID, p.DisplayName(), p.City))
}

func (n *Notifier) VisitCreated(ctx context.Context, v *models.Visit) error {
	return n.pub.PublishEvent(ctx, NewVisitCreatedEvent(v.UserID, v.ID, v.PlaceID, v.StartTime, v.EndTime))
}

func (n *Notifier) TripsRecalculated(ctx context.Context, userID string, from, to time.Time, tripIDs []string) error {
	return n.pub.PublishEvent(ctx, NewTripRecalculationEvent(userID, from, to, tripIDs))
}

// PointsStored announces a stored batch.
func (n *Notifier) PointsStored(ctx context.Context, userID string, inserted int) error {
	return n.pub.PublishEvent(ctx, NewPointsBatchEvent(userID, inserted))
}

// Trigger requests a pipeline run for userID. Failures are logged; the
// next batch or the shutdown drain triggers the user again.
func (n *Notifier) Trigger(ctx context.Context, userID string) {
	if err := n.pub.PublishEvent(ctx, NewTriggerEvent(userID, "debounce")); err != nil {
		logging.Ctx(logging.ContextWithUserID(ctx, userID)).Error().Err(err).Msg("publish trigger failed")
	}
}
