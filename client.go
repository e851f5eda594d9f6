// Copyright 2024 Mmate Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package mmate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/glimte/mmate-consumer/health"
	"github.com/glimte/mmate-consumer/internal/rabbitmq"
	"github.com/glimte/mmate-consumer/messaging"
	"github.com/glimte/mmate-consumer/serialization"
)

// ErrClientClosed is returned by Subscribe once Close has started
var ErrClientClosed = errors.New("mmate: client is closed")

// Connection hands out dedicated broker channels
type Connection interface {
	Channel() (messaging.Channel, error)
	IsConnected() bool
	Close() error
}

var _ Connection = (*rabbitmq.ConnectionManager)(nil)

type subscription interface {
	Close() error
	Stats() messaging.Stats
}

type trackedSubscription struct {
	subscription
	prefetch int
}

// Client provides the main entry point for mmate-consumer. It owns one
// connection and opens a dedicated channel for every subscription.
type Client struct {
	conn     Connection
	logger   *slog.Logger
	metrics  messaging.MetricsCollector
	defaults []messaging.SubscriberOption

	mu            sync.Mutex
	subscriptions []trackedSubscription
	closed        bool
}

// clientConfig holds client configuration
type clientConfig struct {
	logger         *slog.Logger
	metrics        messaging.MetricsCollector
	connectTimeout time.Duration
	defaults       []messaging.SubscriberOption
}

// ClientOption configures the client
type ClientOption func(*clientConfig)

// WithLogger sets the logger for all components
func WithLogger(logger *slog.Logger) ClientOption {
	return func(cfg *clientConfig) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// WithMetrics sets the metrics collector for every subscription
func WithMetrics(metrics messaging.MetricsCollector) ClientOption {
	return func(cfg *clientConfig) {
		cfg.metrics = metrics
	}
}

// WithConnectTimeout bounds the initial connection
func WithConnectTimeout(timeout time.Duration) ClientOption {
	return func(cfg *clientConfig) {
		cfg.connectTimeout = timeout
	}
}

// WithSubscriberDefaults applies options to every subscription before its own
func WithSubscriberDefaults(options ...messaging.SubscriberOption) ClientOption {
	return func(cfg *clientConfig) {
		cfg.defaults = append(cfg.defaults, options...)
	}
}

func newClientConfig(options []ClientOption) *clientConfig {
	cfg := &clientConfig{
		logger:         slog.Default(),
		metrics:        messaging.NoOpMetricsCollector{},
		connectTimeout: 30 * time.Second,
	}
	for _, opt := range options {
		opt(cfg)
	}
	return cfg
}

// NewClient connects to the broker at url
func NewClient(ctx context.Context, url string, options ...ClientOption) (*Client, error) {
	cfg := newClientConfig(options)

	conn := rabbitmq.NewConnectionManager(url,
		rabbitmq.WithLogger(cfg.logger),
		rabbitmq.WithConnectTimeout(cfg.connectTimeout),
	)
	if err := conn.Connect(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	return newClient(conn, cfg), nil
}

// NewClientWithConnection creates a client over an existing connection.
// The client closes conn in Close.
func NewClientWithConnection(conn Connection, options ...ClientOption) *Client {
	return newClient(conn, newClientConfig(options))
}

func newClient(conn Connection, cfg *clientConfig) *Client {
	return &Client{
		conn:     conn,
		logger:   cfg.logger,
		metrics:  cfg.metrics,
		defaults: cfg.defaults,
	}
}

// Subscribe opens a channel and starts consuming cfg.QueueName with handler.
// The channel is closed again if the subscription cannot be established.
func Subscribe[T any](c *Client, cfg messaging.SubscriptionConfig, deserializer serialization.Deserializer[T], handler messaging.Handler[T], options ...messaging.SubscriberOption) (*messaging.Subscriber[T], error) {
	if c.isClosed() {
		return nil, ErrClientClosed
	}

	ch, err := c.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel for queue %s: %w", cfg.QueueName, err)
	}

	opts := make([]messaging.SubscriberOption, 0, len(c.defaults)+len(options)+2)
	opts = append(opts, messaging.WithLogger(c.logger), messaging.WithMetrics(c.metrics))
	opts = append(opts, c.defaults...)
	opts = append(opts, options...)

	sub, err := messaging.NewSubscriber(ch, cfg, deserializer, handler, opts...)
	if err != nil {
		if closeErr := ch.Close(); closeErr != nil && !rabbitmq.IsChannelClosed(closeErr) {
			c.logger.Warn("failed to close channel", "queue", cfg.QueueName, "error", closeErr)
		}
		return nil, err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = sub.Close()
		return nil, ErrClientClosed
	}
	c.subscriptions = append(c.subscriptions, trackedSubscription{subscription: sub, prefetch: cfg.PrefetchLimit})
	c.mu.Unlock()

	return sub, nil
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// HealthCheckers returns a connection checker and one checker per subscription
func (c *Client) HealthCheckers() []health.Checker {
	c.mu.Lock()
	defer c.mu.Unlock()

	checkers := []health.Checker{health.NewConnectionChecker(c.conn)}
	for _, s := range c.subscriptions {
		checkers = append(checkers, health.NewSubscriptionChecker(s.subscription, s.prefetch))
	}
	return checkers
}

// Close closes every subscription, waiting for their in-flight deliveries,
// and then the connection. It is idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	subscriptions := c.subscriptions
	c.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range subscriptions {
		wg.Add(1)
		go func(s subscription) {
			defer wg.Done()
			_ = s.Close()
		}(s.subscription)
	}
	wg.Wait()

	return c.conn.Close()
}
