package messaging

import (
	"context"
	"log/slog"
	"time"
)

type subscriberOptions struct {
	logger         *slog.Logger
	metrics        MetricsCollector
	declinePolicy  PendingPolicy
	failurePolicy  PendingPolicy
	handlerTimeout time.Duration
	drainTimeout   time.Duration
	hostIdentity   string
	baseContext    context.Context
}

func defaultSubscriberOptions() subscriberOptions {
	return subscriberOptions{
		logger:        slog.Default(),
		metrics:       NoOpMetricsCollector{},
		declinePolicy: LeavePending,
		failurePolicy: LeavePending,
		drainTimeout:  30 * time.Second,
		baseContext:   context.Background(),
	}
}

// SubscriberOption configures a Subscriber or a Pipeline
type SubscriberOption func(*subscriberOptions)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) SubscriberOption {
	return func(o *subscriberOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics sets the metrics collector
func WithMetrics(metrics MetricsCollector) SubscriberOption {
	return func(o *subscriberOptions) {
		if metrics != nil {
			o.metrics = metrics
		}
	}
}

// WithDeclinePolicy sets what happens to declined and undetermined messages
func WithDeclinePolicy(policy PendingPolicy) SubscriberOption {
	return func(o *subscriberOptions) {
		o.declinePolicy = policy
	}
}

// WithFailurePolicy sets what happens to messages whose processing failed
func WithFailurePolicy(policy PendingPolicy) SubscriberOption {
	return func(o *subscriberOptions) {
		o.failurePolicy = policy
	}
}

// WithHandlerTimeout bounds the context handed to each handler call.
// Zero disables the deadline.
func WithHandlerTimeout(timeout time.Duration) SubscriberOption {
	return func(o *subscriberOptions) {
		o.handlerTimeout = timeout
	}
}

// WithDrainTimeout bounds how long Close waits for in-flight deliveries
func WithDrainTimeout(timeout time.Duration) SubscriberOption {
	return func(o *subscriberOptions) {
		o.drainTimeout = timeout
	}
}

// WithHostIdentity overrides the host segment of the consumer tag
func WithHostIdentity(host string) SubscriberOption {
	return func(o *subscriberOptions) {
		o.hostIdentity = host
	}
}

// WithBaseContext sets the parent of every handler context
func WithBaseContext(ctx context.Context) SubscriberOption {
	return func(o *subscriberOptions) {
		if ctx != nil {
			o.baseContext = ctx
		}
	}
}
