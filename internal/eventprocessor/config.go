// Geotimeline - Location History Timeline Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geotimeline

package eventprocessor

import (
	"fmt"
	"time"
)

// NATSConfig holds NATS JetStream configuration. It is only used by
// builds with -tags nats; otherwise events travel over an in-process bus.
type NATSConfig struct {
	Enabled bool   `koanf:"enabled"`
	URL     string `koanf:"url"`

	// EmbeddedServer starts a NATS server inside the process. If false,
	// a server is expected at URL.
	EmbeddedServer bool   `koanf:"embedded"`
	Host           string `koanf:"host"`
	Port           int    `koanf:"port"`
	StoreDir       string `koanf:"store_dir"`
	MaxMemory      int64  `koanf:"max_memory"`
	MaxStore       int64  `koanf:"max_store"`

	StreamName      string        `koanf:"stream_name"`
	StreamRetention time.Duration `koanf:"stream_retention"`

	// SubscribersCount > 1 may process a user's events out of order. The
	// pipeline serializes per user, so ordering only affects latency.
	SubscribersCount int           `koanf:"subscribers"`
	DurableName      string        `koanf:"durable_name"`
	QueueGroup       string        `koanf:"queue_group"`
	AckWait          time.Duration `koanf:"ack_wait"`
	MaxDeliver       int           `koanf:"max_deliver"`
	MaxReconnects    int           `koanf:"max_reconnects"`
	ReconnectWait    time.Duration `koanf:"reconnect_wait"`
}

func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		Enabled:          false,
		URL:              "nats://127.0.0.1:4222",
		EmbeddedServer:   true,
		Host:             "127.0.0.1",
		Port:             4222,
		StoreDir:         "/data/nats/jetstream",
		MaxMemory:        256 << 20,
		MaxStore:         4 << 30,
		StreamName:       "TIMELINE_EVENTS",
		StreamRetention:  72 * time.Hour,
		SubscribersCount: 4,
		DurableName:      "timeline-processor",
		QueueGroup:       "timeline",
		AckWait:          60 * time.Second,
		MaxDeliver:       5,
		MaxReconnects:    -1,
		ReconnectWait:    2 * time.Second,
	}
}

// StreamSubjects are the subjects the timeline stream captures.
func StreamSubjects() []string {
	return []string{"timeline.>"}
}

// RouterConfig holds configuration for the Watermill router.
type RouterConfig struct {
	CloseTimeout time.Duration `koanf:"close_timeout"`

	RetryMaxRetries      int           `koanf:"retry_max_retries"`
	RetryInitialInterval time.Duration `koanf:"retry_initial_interval"`
	RetryMaxInterval     time.Duration `koanf:"retry_max_interval"`
	RetryMultiplier      float64       `koanf:"retry_multiplier"`

	// ThrottlePerSecond limits handled messages per second, 0 disables.
	ThrottlePerSecond int64 `koanf:"throttle_per_second"`

	PoisonQueueTopic string `koanf:"poison_topic"`

	// Events carry their own ids, and entity events derive them from the
	// entity, so deduplicating on them is safe.
	DeduplicationEnabled bool          `koanf:"dedup_enabled"`
	DeduplicationTTL     time.Duration `koanf:"dedup_ttl"`
	DeduplicationSize    int           `koanf:"dedup_size"`
}

func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		CloseTimeout:         30 * time.Second,
		RetryMaxRetries:      3,
		RetryInitialInterval: 500 * time.Millisecond,
		RetryMaxInterval:     30 * time.Second,
		RetryMultiplier:      2.0,
		PoisonQueueTopic:     TopicPoison,
		DeduplicationEnabled: true,
		DeduplicationTTL:     10 * time.Minute,
		DeduplicationSize:    10000,
	}
}

// Validate checks the router settings.
func (c *RouterConfig) Validate() error {
	if c.CloseTimeout <= 0 {
		return fmt.Errorf("%w: close_timeout must be positive", ErrInvalidConfig)
	}
	if c.RetryMaxRetries < 0 {
		return fmt.Errorf("%w: retry_max_retries must not be negative", ErrInvalidConfig)
	}
	if c.RetryMultiplier < 1 {
		return fmt.Errorf("%w: retry_multiplier must be at least 1", ErrInvalidConfig)
	}
	if c.ThrottlePerSecond < 0 {
		return fmt.Errorf("%w: throttle_per_second must not be negative", ErrInvalidConfig)
	}
	return nil
}

// CircuitBreakerConfig holds circuit breaker settings.
type CircuitBreakerConfig struct {
	Name             string        `koanf:"-"`
	MaxRequests      uint32        `koanf:"max_requests"` // allowed in half-open state
	Interval         time.Duration `koanf:"interval"`     // reset interval for counts
	Timeout          time.Duration `koanf:"timeout"`      // time to stay open
	FailureThreshold uint32        `koanf:"failure_threshold"`
}

func DefaultCircuitBreakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:             name,
		MaxRequests:      3,
		Interval:         30 * time.Second,
		Timeout:          10 * time.Second,
		FailureThreshold: 5,
	}
}
