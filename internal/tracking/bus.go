// Ostiarius - Field Acquisition Coordination Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ostiarius

package tracking

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// busCloseTimeout bounds how long Close waits for in-flight handlers.
const busCloseTimeout = 30 * time.Second

// Bus is the in-process tracking event bus: a GoChannel pub/sub behind a
// Watermill router. Every subscriber receives every message of its topic;
// handler panics are recovered and logged.
//
// Messages published before the router runs are dropped, so the supervisor
// starts the bus before the HTTP listener and the pollers.
type Bus struct {
	pubsub *gochannel.GoChannel
	router *message.Router
}

// NewBus creates the bus. A nil logger falls back to the watermill standard
// logger.
func NewBus(logger watermill.LoggerAdapter) (*Bus, error) {
	if logger == nil {
		logger = watermill.NewStdLogger(false, false)
	}

	router, err := message.NewRouter(message.RouterConfig{CloseTimeout: busCloseTimeout}, logger)
	if err != nil {
		return nil, fmt.Errorf("create tracking router: %w", err)
	}
	router.AddMiddleware(middleware.Recoverer)

	pubsub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: 256,
	}, logger)

	return &Bus{pubsub: pubsub, router: router}, nil
}

// Publish sends one message to all subscribers of the topic.
func (b *Bus) Publish(topic string, msg *message.Message) error {
	return b.pubsub.Publish(topic, msg)
}

// AddConsumerHandler registers a consume-only handler. Must be called before
// Run.
func (b *Bus) AddConsumerHandler(name, topic string, handler message.NoPublishHandlerFunc) {
	b.router.AddConsumerHandler(name, topic, b.pubsub, handler)
}

// Run starts the router and blocks until ctx is cancelled.
func (b *Bus) Run(ctx context.Context) error {
	return b.router.Run(ctx)
}

// Running returns a channel that closes once all handlers are subscribed.
func (b *Bus) Running() <-chan struct{} {
	return b.router.Running()
}

// Close stops the router and the pub/sub.
func (b *Bus) Close() error {
	routerErr := b.router.Close()
	pubsubErr := b.pubsub.Close()
	if routerErr != nil {
		return routerErr
	}
	return pubsubErr
}
