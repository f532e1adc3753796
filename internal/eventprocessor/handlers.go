// Geotimeline - Location History Timeline Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geotimeline

package eventprocessor

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/tomtom215/geotimeline/internal/logging"
	"github.com/tomtom215/geotimeline/internal/pipeline"
)

// Websocket message types.
const (
	MessagePointsStored      = "points_stored"
	MessagePlaceCreated      = "place_created"
	MessagePlaceGeocoded     = "place_geocoded"
	MessageVisitCreated      = "visit_created"
	MessageTripRecalculation = "trip_recalculation"
)

// PipelineRunner runs the timeline pipeline for one user.
type PipelineRunner interface {
	Trigger(ctx context.Context, userID string) (pipeline.Stats, error)
}

// PlaceGeocoder names a newly created place.
type PlaceGeocoder interface {
	HandlePlaceCreated(ctx context.Context, placeID string) error
}

// Broadcaster pushes a message to the user's live clients.
type Broadcaster interface {
	Broadcast(userID, msgType string, data any)
}

// Handlers consume timeline events. Any dependency may be nil; its events
// are then acknowledged without further work.
type Handlers struct {
	Pipeline    PipelineRunner
	Geocoder    PlaceGeocoder
	Broadcaster Broadcaster
}

// Register adds a consumer for every timeline topic to r.
func (h *Handlers) Register(r *Router, sub message.Subscriber) {
	r.AddConsumerHandler("points-new", TopicPointsNew, sub, h.handlePointsNew)
	r.AddConsumerHandler("pipeline-trigger", TopicPointsTrigger, sub, h.handleTrigger)
	r.AddConsumerHandler("place-created", TopicPlaceCreated, sub, h.handlePlaceCreated)
	r.AddConsumerHandler("place-geocoded", TopicPlaceGeocoded, sub, h.handlePlaceGeocoded)
	r.AddConsumerHandler("visit-created", TopicVisitCreated, sub, h.handleVisitCreated)
	r.AddConsumerHandler("trip-recalculation", TopicTripRecalculation, sub, h.handleTripRecalculation)
}

// decode unmarshals msg into e. Malformed events cannot succeed on retry,
// so they are logged and acknowledged.
func decode(msg *message.Message, e Event) (context.Context, bool) {
	if err := Unmarshal(msg, e); err != nil {
		logging.Warn().Err(err).Str("message_uuid", msg.UUID).Str("topic", e.Topic()).
			Msg("dropping malformed event")
		return nil, false
	}
	ctx := logging.ContextWithCorrelationID(msg.Context(), e.envelope().EventID)
	return logging.ContextWithUserID(ctx, e.envelope().UserID), true
}

func (h *Handlers) broadcast(userID, msgType string, data any) {
	if h.Broadcaster != nil {
		h.Broadcaster.Broadcast(userID, msgType, data)
	}
}

func (h *Handlers) handlePointsNew(msg *message.Message) error {
	var evt PointsBatchEvent
	if _, ok := decode(msg, &evt); ok {
		h.broadcast(evt.UserID, MessagePointsStored, &evt)
	}
	return nil
}

// handleTrigger runs the pipeline. Run failures are logged by the pipeline
// and retried by the next trigger, not by redelivery.
func (h *Handlers) handleTrigger(msg *message.Message) error {
	var evt TriggerEvent
	ctx, ok := decode(msg, &evt)
	if !ok || h.Pipeline == nil {
		return nil
	}
	if _, err := h.Pipeline.Trigger(ctx, evt.UserID); err != nil && ctx.Err() != nil {
		return fmt.Errorf("trigger %s: %w", evt.UserID, err)
	}
	return nil
}

// handlePlaceCreated geocodes the place. Store failures are returned so the
// router retries them.
func (h *Handlers) handlePlaceCreated(msg *message.Message) error {
	var evt PlaceCreatedEvent
	ctx, ok := decode(msg, &evt)
	if !ok {
		return nil
	}
	h.broadcast(evt.UserID, MessagePlaceCreated, &evt)
	if h.Geocoder == nil {
		return nil
	}
	if err := h.Geocoder.HandlePlaceCreated(ctx, evt.PlaceID); err != nil {
		return fmt.Errorf("geocode place %s: %w", evt.PlaceID, err)
	}
	return nil
}

func (h *Handlers) handlePlaceGeocoded(msg *message.Message) error {
	var evt PlaceGeocodedEvent
	if _, ok := decode(msg, &evt); ok {
		h.broadcast(evt.UserID, MessagePlaceGeocoded, &evt)
	}
	return nil
}

func (h *Handlers) handleVisitCreated(msg *message.Message) error {
	var evt VisitCreatedEvent
	if _, ok := decode(msg, &evt); ok {
		h.broadcast(evt.UserID, MessageVisitCreated, &evt)
	}
	return nil
}

func (h *Handlers) handleTripRecalculation(msg *message.Message) error {
	var evt TripRecalculationEvent
	if _, ok := decode(msg, &evt); ok {
		h.broadcast(evt.UserID, MessageTripRecalculation, &evt)
	}
	return nil
}
