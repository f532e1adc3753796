// Geotimeline - Location History Timeline Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geotimeline

//go:build nats

package eventprocessor

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// NewNATSBus connects to NATS (starting an embedded server when
// configured), makes sure the timeline stream exists and returns a
// JetStream publisher and durable queue subscriber.
func NewNATSBus(ctx context.Context, cfg *NATSConfig, logger watermill.LoggerAdapter) (*Bus, error) {
	if logger == nil {
		logger = NewLogger()
	}
	bus := &Bus{}

	url := cfg.URL
	if cfg.EmbeddedServer {
		srv, err := NewEmbeddedServer(cfg)
		if err != nil {
			return nil, err
		}
		bus.closers = append(bus.closers, func() error {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
		url = srv.ClientURL()
		logger.Info("Embedded NATS server started", watermill.LogFields{"url": url})
	}

	nc, err := natsgo.Connect(url,
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(cfg.MaxReconnects),
		natsgo.ReconnectWait(cfg.ReconnectWait),
	)
	if err != nil {
		_ = bus.Close()
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	bus.closers = append(bus.closers, func() error { nc.Close(); return nil })

	js, err := jetstream.New(nc)
	if err != nil {
		_ = bus.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}
	streams, err := NewStreamInitializer(js, cfg.StreamName, cfg.StreamRetention, cfg.MaxStore)
	if err != nil {
		_ = bus.Close()
		return nil, err
	}
	if _, err := streams.EnsureStream(ctx); err != nil {
		_ = bus.Close()
		return nil, err
	}
	bus.healthy = streams.IsHealthy

	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(cfg.MaxReconnects),
		natsgo.ReconnectWait(cfg.ReconnectWait),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				logger.Error("NATS disconnected", err, nil)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info("NATS reconnected", watermill.LogFields{"url": nc.ConnectedUrl()})
		}),
	}

	pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL:         url,
		NatsOptions: natsOpts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			AutoProvision: false,
			TrackMsgId:    true,
			PublishOptions: []natsgo.PubOpt{
				natsgo.RetryAttempts(3),
				natsgo.RetryWait(100 * time.Millisecond),
			},
		},
	}, logger)
	if err != nil {
		_ = bus.Close()
		return nil, fmt.Errorf("create NATS publisher: %w", err)
	}
	bus.Publisher = pub
	bus.closers = append(bus.closers, pub.Close)

	sub, err := wmNats.NewSubscriber(wmNats.SubscriberConfig{
		URL:              url,
		QueueGroupPrefix: cfg.QueueGroup,
		SubscribersCount: cfg.SubscribersCount,
		AckWaitTimeout:   cfg.AckWait,
		CloseTimeout:     30 * time.Second,
		NatsOptions:      natsOpts,
		Unmarshaler:      &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			AutoProvision: false,
			SubscribeOptions: []natsgo.SubOpt{
				natsgo.MaxDeliver(cfg.MaxDeliver),
				natsgo.AckWait(cfg.AckWait),
				natsgo.DeliverNew(),
				natsgo.BindStream(cfg.StreamName),
			},
			DurablePrefix: cfg.DurableName,
		},
	}, logger)
	if err != nil {
		_ = bus.Close()
		return nil, fmt.Errorf("create NATS subscriber: %w", err)
	}
	bus.Subscriber = sub
	bus.closers = append(bus.closers, sub.Close)

	return bus, nil
}
