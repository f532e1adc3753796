// Geotimeline - Location History Timeline Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geotimeline

package eventprocessor

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"

	"github.com/tomtom215/geotimeline/internal/cache"
	"github.com/tomtom215/geotimeline/internal/metrics"
)

// Router wraps the Watermill router with the middleware every handler
// gets: panic recovery, retry with backoff, optional throttling, event id
// deduplication and a poison queue for messages that keep failing.
type Router struct {
	router  *message.Router
	config  RouterConfig
	logger  watermill.LoggerAdapter
	tracker *Tracker
	dedup   *Deduplicator
	running atomic.Bool
}

// Deduplicator implements middleware.ExpiringKeyRepository on the LRU.
type Deduplicator struct {
	seen *cache.LRU[string, struct{}]
}

func NewDeduplicator(size int, ttl time.Duration) *Deduplicator {
	return &Deduplicator{seen: cache.NewLRU[string, struct{}](size, ttl)}
}

// IsDuplicate records key and reports whether it was already seen.
func (d *Deduplicator) IsDuplicate(_ context.Context, key string) (bool, error) {
	return d.seen.SeenOrAdd(key, struct{}{}), nil
}

// NewRouter creates a router. poisonPublisher may be nil, in which case
// messages that exhaust their retries are nacked. tracker may be nil.
func NewRouter(cfg *RouterConfig, poisonPublisher message.Publisher, tracker *Tracker, logger watermill.LoggerAdapter) (*Router, error) {
	if logger == nil {
		logger = NewLogger()
	}
	if cfg == nil {
		def := DefaultRouterConfig()
		cfg = &def
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	wmRouter, err := message.NewRouter(message.RouterConfig{CloseTimeout: cfg.CloseTimeout}, logger)
	if err != nil {
		return nil, fmt.Errorf("create watermill router: %w", err)
	}

	r := &Router{router: wmRouter, config: *cfg, logger: logger, tracker: tracker}

	// Outermost first: the tracker must see the final outcome.
	if tracker != nil {
		wmRouter.AddMiddleware(r.track)
	}
	wmRouter.AddMiddleware(middleware.Recoverer)

	// Outside retry, or retried attempts would be dropped as duplicates.
	if cfg.DeduplicationEnabled {
		r.dedup = NewDeduplicator(cfg.DeduplicationSize, cfg.DeduplicationTTL)
		dedup := middleware.Deduplicator{
			KeyFactory: func(msg *message.Message) (string, error) {
				return msg.UUID, nil
			},
			Repository: r.dedup,
		}
		wmRouter.AddMiddleware(dedup.Middleware)
	}

	if poisonPublisher != nil && cfg.PoisonQueueTopic != "" {
		poisonQueue, err := middleware.PoisonQueue(poisonPublisher, cfg.PoisonQueueTopic)
		if err != nil {
			return nil, fmt.Errorf("create poison queue middleware: %w", err)
		}
		wmRouter.AddMiddleware(poisonQueue)
	}

	retry := middleware.Retry{
		MaxRetries:      cfg.RetryMaxRetries,
		InitialInterval: cfg.RetryInitialInterval,
		MaxInterval:     cfg.RetryMaxInterval,
		Multiplier:      cfg.RetryMultiplier,
		Logger:          logger,
	}
	wmRouter.AddMiddleware(retry.Middleware)

	if cfg.ThrottlePerSecond > 0 {
		throttle := middleware.NewThrottle(cfg.ThrottlePerSecond, time.Second)
		wmRouter.AddMiddleware(throttle.Middleware)
	}

	return r, nil
}

// track marks a message finished once it is acked. Failed attempts are
// redelivered and counted when they finally succeed.
func (r *Router) track(h message.HandlerFunc) message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		out, err := h(msg)
		if err == nil {
			r.tracker.done()
		}
		return out, err
	}
}

// AddConsumerHandler registers a handler that produces no messages.
func (r *Router) AddConsumerHandler(name, topic string, sub message.Subscriber, handler message.NoPublishHandlerFunc) {
	r.router.AddConsumerHandler(name, topic, sub, func(msg *message.Message) error {
		err := handler(msg)
		metrics.RecordEventConsumed(topic, err)
		return err
	})
}

// Run blocks until ctx is cancelled or Close is called.
func (r *Router) Run(ctx context.Context) error {
	r.running.Store(true)
	defer r.running.Store(false)
	return r.router.Run(ctx)
}

// Running is closed once all handlers are subscribed.
func (r *Router) Running() chan struct{} {
	return r.router.Running()
}

// Close stops the router, waiting up to CloseTimeout for handlers.
func (r *Router) Close() error {
	return r.router.Close()
}

func (r *Router) IsRunning() bool {
	return r.running.Load()
}
