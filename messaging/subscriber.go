package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/sync/semaphore"

	"github.com/glimte/mmate-consumer/internal/rabbitmq"
	"github.com/glimte/mmate-consumer/serialization"
)

// Channel is the broker channel a Subscriber owns. *amqp.Channel satisfies it.
type Channel = rabbitmq.Channel

// Stats is a point-in-time view of a subscription
type Stats struct {
	Queue         string
	ConsumerTag   string
	InFlight      int64
	Delivered     uint64
	Acknowledged  uint64
	Left          uint64
	Failed        uint64
	Closed        bool
	ChannelClosed bool
}

// Subscriber consumes one queue on a channel it owns exclusively.
// Deliveries are processed concurrently, at most PrefetchLimit at a time.
type Subscriber[T any] struct {
	ch       Channel
	cfg      SubscriptionConfig
	tag      string
	opts     subscriberOptions
	logger   *slog.Logger
	pipeline *Pipeline[T]

	deliveries <-chan amqp.Delivery
	sem        *semaphore.Weighted
	inflight   sync.WaitGroup
	loopDone   chan struct{}
	stop       chan struct{}
	ctx        context.Context
	cancel     context.CancelFunc

	closing       atomic.Bool
	channelClosed atomic.Bool
	closeOnce     sync.Once

	inFlight     atomic.Int64
	delivered    atomic.Uint64
	acknowledged atomic.Uint64
	left         atomic.Uint64
	failed       atomic.Uint64
}

// NewSubscriber declares the topology described by cfg on ch, registers a
// consumer and starts dispatching deliveries to handler. It returns once the
// consumer is registered. Invalid configuration and conflicting topology
// return an error wrapping ErrConfiguration.
//
// The Subscriber owns ch from here on and closes it in Close.
func NewSubscriber[T any](ch Channel, cfg SubscriptionConfig, deserializer serialization.Deserializer[T], handler Handler[T], options ...SubscriberOption) (*Subscriber[T], error) {
	if ch == nil {
		return nil, fmt.Errorf("%w: channel cannot be nil", ErrConfiguration)
	}
	if deserializer == nil {
		return nil, fmt.Errorf("%w: deserializer cannot be nil", ErrConfiguration)
	}
	if handler == nil {
		return nil, fmt.Errorf("%w: handler cannot be nil", ErrConfiguration)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	opts := defaultSubscriberOptions()
	for _, opt := range options {
		opt(&opts)
	}

	if err := rabbitmq.DeclareTopology(ch, cfg.topology()); err != nil {
		if errors.Is(err, rabbitmq.ErrTopologyConflict) {
			return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
		}
		return nil, fmt.Errorf("messaging: declare topology for queue %s: %w", cfg.QueueName, err)
	}

	host := opts.hostIdentity
	if host == "" {
		host = rabbitmq.HostIdentity()
	}
	tag := rabbitmq.ConsumerTag(host, cfg.QueueName, cfg.ConsumerName)

	deliveries, err := rabbitmq.Register(ch, rabbitmq.Registration{
		Queue:         cfg.QueueName,
		ConsumerTag:   tag,
		PrefetchCount: cfg.PrefetchLimit,
		AutoAck:       !cfg.RequireAck,
	})
	if err != nil {
		if errors.Is(err, rabbitmq.ErrInvalidTopology) || rabbitmq.IsPreconditionFailed(err) {
			return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
		}
		return nil, fmt.Errorf("messaging: register consumer on queue %s: %w", cfg.QueueName, err)
	}

	ctx, cancel := context.WithCancel(opts.baseContext)
	s := &Subscriber[T]{
		ch:         ch,
		cfg:        cfg,
		tag:        tag,
		opts:       opts,
		logger:     opts.logger.With("queue", cfg.QueueName, "consumerTag", tag),
		deliveries: deliveries,
		sem:        semaphore.NewWeighted(int64(cfg.PrefetchLimit)),
		loopDone:   make(chan struct{}),
		stop:       make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
	}
	s.pipeline = newPipeline(PipelineConfig{
		Queue:       cfg.QueueName,
		ConsumerTag: tag,
		RequireAck:  cfg.RequireAck,
	}, deserializer, handler, opts)

	go s.watchChannel(ch.NotifyClose(make(chan *amqp.Error, 1)))
	go s.dispatch()

	s.logger.Info("subscription started",
		"exchange", cfg.ExchangeName,
		"exchangeKind", string(cfg.ExchangeKind),
		"routeKey", cfg.RouteKey,
		"prefetch", cfg.PrefetchLimit,
		"requireAck", cfg.RequireAck,
		"delayed", cfg.DelayExchange,
	)
	return s, nil
}

// ConsumerTag returns the tag the consumer is registered under
func (s *Subscriber[T]) ConsumerTag() string {
	return s.tag
}

// Queue returns the consumed queue
func (s *Subscriber[T]) Queue() string {
	return s.cfg.QueueName
}

// dispatch drains the delivery stream until the broker closes it or
// teardown stops the loop
func (s *Subscriber[T]) dispatch() {
	defer close(s.loopDone)

	for {
		var d amqp.Delivery
		select {
		case <-s.stop:
			s.logger.Debug("dispatch stopped")
			return
		case delivery, ok := <-s.deliveries:
			if !ok {
				s.logger.Debug("delivery stream closed")
				return
			}
			d = delivery
		}

		s.delivered.Add(1)

		if err := s.sem.Acquire(s.ctx, 1); err != nil {
			// Closing gave up on draining; the delivery stays unacknowledged.
			s.left.Add(1)
			s.logger.Warn("delivery not dispatched, subscription is closing",
				"deliveryTag", d.DeliveryTag,
				"error", err,
			)
			continue
		}

		s.inflight.Add(1)
		s.inFlight.Add(1)
		s.opts.metrics.RecordInFlight(s.cfg.QueueName, 1)

		go s.process(d)
	}
}

func (s *Subscriber[T]) process(d amqp.Delivery) {
	defer func() {
		s.inFlight.Add(-1)
		s.opts.metrics.RecordInFlight(s.cfg.QueueName, -1)
		s.sem.Release(1)
		s.inflight.Done()
	}()

	result := s.pipeline.Process(s.ctx, d)
	switch result.Outcome {
	case OutcomeAcknowledge:
		s.acknowledged.Add(1)
	case OutcomeFail:
		s.failed.Add(1)
	default:
		s.left.Add(1)
	}
}

func (s *Subscriber[T]) watchChannel(notify chan *amqp.Error) {
	err, ok := <-notify
	s.channelClosed.Store(true)
	if ok && err != nil && !s.closing.Load() {
		s.logger.Warn("channel closed by broker",
			"code", err.Code,
			"reason", err.Reason,
		)
	}
}

// Close cancels the consumer, waits for in-flight deliveries to finish and
// closes the channel. It is idempotent and always returns nil; teardown
// problems are logged.
func (s *Subscriber[T]) Close() error {
	s.closeOnce.Do(s.teardown)
	return nil
}

func (s *Subscriber[T]) teardown() {
	s.closing.Store(true)
	s.logger.Info("closing subscription", "inFlight", s.inFlight.Load())

	if err := s.cancelConsumer(); err != nil {
		s.teardownFailure("cancel", err)
		// The broker keeps the stream open; deliveries not yet dispatched
		// stay unacknowledged and return to the queue with the channel.
		close(s.stop)
	}

	drained := make(chan struct{})
	go func() {
		<-s.loopDone
		s.inflight.Wait()
		close(drained)
	}()

	var timeout <-chan time.Time
	if s.opts.drainTimeout > 0 {
		timer := time.NewTimer(s.opts.drainTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-drained:
	case <-timeout:
		s.teardownFailure("drain", fmt.Errorf("%d deliveries still in flight after %s", s.inFlight.Load(), s.opts.drainTimeout))
	}

	s.cancel()

	if err := s.closeChannel(); err != nil {
		s.teardownFailure("close", err)
	}

	s.logger.Info("subscription closed",
		"delivered", s.delivered.Load(),
		"acknowledged", s.acknowledged.Load(),
		"failed", s.failed.Load(),
	)
}

func (s *Subscriber[T]) cancelConsumer() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	if err = s.ch.Cancel(s.tag, false); rabbitmq.IsChannelClosed(err) {
		return nil
	}
	return err
}

func (s *Subscriber[T]) closeChannel() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	if err = s.ch.Close(); rabbitmq.IsChannelClosed(err) {
		return nil
	}
	return err
}

func (s *Subscriber[T]) teardownFailure(step string, err error) {
	s.logger.Warn("subscription teardown step failed",
		"kind", KindTeardown.String(),
		"step", step,
		"error", err,
	)
	s.opts.metrics.RecordFailure(s.cfg.QueueName, KindTeardown)
}

// Stats returns a snapshot of the subscription counters
func (s *Subscriber[T]) Stats() Stats {
	return Stats{
		Queue:         s.cfg.QueueName,
		ConsumerTag:   s.tag,
		InFlight:      s.inFlight.Load(),
		Delivered:     s.delivered.Load(),
		Acknowledged:  s.acknowledged.Load(),
		Left:          s.left.Load(),
		Failed:        s.failed.Load(),
		Closed:        s.closing.Load(),
		ChannelClosed: s.channelClosed.Load() || s.ch.IsClosed(),
	}
}
