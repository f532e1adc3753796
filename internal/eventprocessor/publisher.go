// Geotimeline - Location History Timeline Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geotimeline

package eventprocessor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill/message"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/geotimeline/internal/metrics"
)

// Tracker counts published events that no handler has finished yet. Tests
// and the idle endpoint use it to tell when the system has settled.
type Tracker struct {
	n atomic.Int64
}

func (t *Tracker) add()  { t.n.Add(1) }
func (t *Tracker) done() { t.n.Add(-1) }

// InFlight returns the number of unfinished events.
func (t *Tracker) InFlight() int64 { return t.n.Load() }

// Idle reports whether every published event has been handled.
func (t *Tracker) Idle() bool { return t.n.Load() <= 0 }

// Publisher wraps a Watermill publisher with a circuit breaker.
type Publisher struct {
	publisher message.Publisher
	breaker   *gobreaker.CircuitBreaker[any]
	tracker   *Tracker

	mu     sync.RWMutex
	closed bool
}

// NewPublisher wraps pub. breaker and tracker may be nil.
func NewPublisher(pub message.Publisher, breaker *gobreaker.CircuitBreaker[any], tracker *Tracker) (*Publisher, error) {
	if pub == nil {
		return nil, fmt.Errorf("%w: nil publisher", ErrInvalidConfig)
	}
	return &Publisher{publisher: pub, breaker: breaker, tracker: tracker}, nil
}

// Publish sends msg to topic.
func (p *Publisher) Publish(ctx context.Context, topic string, msg *message.Message) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPublisherClosed
	}

	if msg.Metadata.Get(msgIDHeader) == "" {
		msg.Metadata.Set(msgIDHeader, msg.UUID)
	}
	msg.SetContext(ctx)

	tracked := p.tracker != nil && topic != TopicPoison
	if tracked {
		p.tracker.add()
	}

	var err error
	if p.breaker != nil {
		_, err = p.breaker.Execute(func() (any, error) {
			return nil, p.publisher.Publish(topic, msg)
		})
	} else {
		err = p.publisher.Publish(topic, msg)
	}
	if err != nil {
		if tracked {
			p.tracker.done()
		}
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	metrics.RecordEventPublished(topic)
	return nil
}

// PublishEvent serializes and publishes e on its topic.
func (p *Publisher) PublishEvent(ctx context.Context, e Event) error {
	msg, err := Marshal(e)
	if err != nil {
		return err
	}
	return p.Publish(ctx, e.Topic(), msg)
}

// Close shuts the underlying publisher down. Further publishes fail.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.publisher.Close()
}

// WatermillPublisher returns the raw publisher, for the poison queue.
func (p *Publisher) WatermillPublisher() message.Publisher {
	return p.publisher
}
