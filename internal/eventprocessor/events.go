// Geotimeline - Location History Timeline Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geotimeline

// Package eventprocessor carries timeline events between the ingest, pipeline,
// geocoding and websocket components over Watermill. In-process delivery
// uses a gochannel bus; builds with -tags nats use NATS JetStream.
package eventprocessor

import (
	"time"

	"github.com/google/uuid"
)

// SchemaVersion is the current event schema version.
const SchemaVersion = 1

// Topics.
const (
	TopicPointsNew         = "timeline.points.new"
	TopicPointsTrigger     = "timeline.points.trigger"
	TopicPlaceCreated      = "timeline.place.created"
	TopicPlaceGeocoded     = "timeline.place.geocoded"
	TopicVisitCreated      = "timeline.visit.created"
	TopicTripRecalculation = "timeline.trip.recalculation"
	TopicPoison            = "timeline.poison"
)

// eventNamespace seeds deterministic event ids, so a republished event for
// the same entity is dropped by the deduplicator.
var eventNamespace = uuid.MustParse("5c0f2a7e-93d4-4b7c-9a51-2f1e8d6c4b30")

// Event is implemented by every event type.
type Event interface {
	Topic() string
	Validate() error
	envelope() *Envelope
}

// Envelope holds the fields every event carries.
type Envelope struct {
	SchemaVersion int       `json:"schema_version,omitempty"`
	EventID       string    `json:"event_id"`
	UserID        string    `json:"user_id"`
	Timestamp     time.Time `json:"timestamp"`
}

func newEnvelope(userID string) Envelope {
	return Envelope{
		SchemaVersion: SchemaVersion,
		EventID:       uuid.New().String(),
		UserID:        userID,
		Timestamp:     time.Now().UTC(),
	}
}

func (e *Envelope) envelope() *Envelope { return e }

// GetSchemaVersion defaults to 1 for events written without a version.
func (e *Envelope) GetSchemaVersion() int {
	if e.SchemaVersion == 0 {
		return 1
	}
	return e.SchemaVersion
}

func (e *Envelope) validate() error {
	if e.EventID == "" {
		return &ValidationError{Field: "event_id", Message: "required"}
	}
	if e.UserID == "" {
		return &ValidationError{Field: "user_id", Message: "required"}
	}
	if e.Timestamp.IsZero() {
		return &ValidationError{Field: "timestamp", Message: "required"}
	}
	return nil
}

// PointsBatchEvent announces points that reached the store.
type PointsBatchEvent struct {
	Envelope
	Inserted int `json:"inserted"`
}

func NewPointsBatchEvent(userID string, inserted int) *PointsBatchEvent {
	return &PointsBatchEvent{Envelope: newEnvelope(userID), Inserted: inserted}
}

func (e *PointsBatchEvent) Topic() string { return TopicPointsNew }

func (e *PointsBatchEvent) Validate() error {
	if err := e.validate(); err != nil {
		return err
	}
	if e.Inserted <= 0 {
		return &ValidationError{Field: "inserted", Message: "must be positive"}
	}
	return nil
}

// TriggerEvent asks for a pipeline run for the user.
type TriggerEvent struct {
	Envelope
	Reason string `json:"reason,omitempty"`
}

func NewTriggerEvent(userID, reason string) *TriggerEvent {
	return &TriggerEvent{Envelope: newEnvelope(userID), Reason: reason}
}

func (e *TriggerEvent) Topic() string   { return TopicPointsTrigger }
func (e *TriggerEvent) Validate() error { return e.validate() }

// PlaceCreatedEvent hands a new, unnamed place to geocoding.
type PlaceCreatedEvent struct {
	Envelope
	PlaceID          string  `json:"place_id"`
	Latitude         float64 `json:"latitude"`
	Longitude        float64 `json:"longitude"`
	PreviewSessionID string  `json:"preview_session_id,omitempty"`
}

func NewPlaceCreatedEvent(userID, placeID string, lat, lon float64) *PlaceCreatedEvent {
	e := &PlaceCreatedEvent{Envelope: newEnvelope(userID), PlaceID: placeID, Latitude: lat, Longitude: lon}
	e.EventID = uuid.NewSHA1(eventNamespace, []byte(TopicPlaceCreated+":"+placeID)).String()
	return e
}

func (e *PlaceCreatedEvent) Topic() string { return TopicPlaceCreated }

func (e *PlaceCreatedEvent) Validate() error {
	if err := e.validate(); err != nil {
		return err
	}
	if e.PlaceID == "" {
		return &ValidationError{Field: "place_id", Message: "required"}
	}
	if e.Latitude < -90 || e.Latitude > 90 {
		return &ValidationError{Field: "latitude", Message: "out of range"}
	}
	if e.Longitude < -180 || e.Longitude > 180 {
		return &ValidationError{Field: "longitude", Message: "out of range"}
	}
	return nil
}

// PlaceGeocodedEvent tells clients a place now has a name.
type PlaceGeocodedEvent struct {
	Envelope
	PlaceID string `json:"place_id"`
	Name    string `json:"name"`
	City    string `json:"city,omitempty"`
}

func NewPlaceGeocodedEvent(userID, placeID, name, city string) *PlaceGeocodedEvent {
	return &PlaceGeocodedEvent{Envelope: newEnvelope(userID), PlaceID: placeID, Name: name, City: city}
}

func (e *PlaceGeocodedEvent) Topic() string { return TopicPlaceGeocoded }

func (e *PlaceGeocodedEvent) Validate() error {
	if err := e.validate(); err != nil {
		return err
	}
	if e.PlaceID == "" {
		return &ValidationError{Field: "place_id", Message: "required"}
	}
	return nil
}

// VisitCreatedEvent announces a raw visit.
type VisitCreatedEvent struct {
	Envelope
	VisitID   string    `json:"visit_id"`
	PlaceID   string    `json:"place_id"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

func NewVisitCreatedEvent(userID, visitID, placeID string, start, end time.Time) *VisitCreatedEvent {
	e := &VisitCreatedEvent{
		Envelope:  newEnvelope(userID),
		VisitID:   visitID,
		PlaceID:   placeID,
		StartTime: start,
		EndTime:   end,
	}
	e.EventID = uuid.NewSHA1(eventNamespace, []byte(TopicVisitCreated+":"+visitID)).String()
	return e
}

func (e *VisitCreatedEvent) Topic() string { return TopicVisitCreated }

func (e *VisitCreatedEvent) Validate() error {
	if err := e.validate(); err != nil {
		return err
	}
	if e.VisitID == "" {
		return &ValidationError{Field: "visit_id", Message: "required"}
	}
	if e.EndTime.Before(e.StartTime) {
		return &ValidationError{Field: "end_time", Message: "before start_time"}
	}
	return nil
}

// TripRecalculationEvent announces that the trips of [From, To) changed.
type TripRecalculationEvent struct {
	Envelope
	From    time.Time `json:"from"`
	To      time.Time `json:"to"`
	TripIDs []string  `json:"trip_ids"`
}

func NewTripRecalculationEvent(userID string, from, to time.Time, tripIDs []string) *TripRecalculationEvent {
	return &TripRecalculationEvent{Envelope: newEnvelope(userID), From: from, To: to, TripIDs: tripIDs}
}

func (e *TripRecalculationEvent) Topic() string { return TopicTripRecalculation }

func (e *TripRecalculationEvent) Validate() error {
	if err := e.validate(); err != nil {
		return err
	}
	if !e.From.Before(e.To) {
		return &ValidationError{Field: "to", Message: "must be after from"}
	}
	return nil
}

// ValidationError represents a field validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}
