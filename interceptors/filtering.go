package interceptors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/glimte/mmate-consumer/messaging"
)

// ErrFiltered is returned by FilteringInterceptor with SkipWithError
var ErrFiltered = errors.New("interceptors: message filtered")

// Filter decides whether a message reaches the handler
type Filter[T any] interface {
	// ShouldProcess returns true if the message should be processed
	ShouldProcess(ctx context.Context, msg T, meta messaging.Metadata) (bool, error)
}

// FilterFunc is a function adapter for Filter
type FilterFunc[T any] func(ctx context.Context, msg T, meta messaging.Metadata) (bool, error)

// ShouldProcess implements Filter
func (f FilterFunc[T]) ShouldProcess(ctx context.Context, msg T, meta messaging.Metadata) (bool, error) {
	return f(ctx, msg, meta)
}

// SkipBehavior defines what happens when a message is filtered out
type SkipBehavior int

const (
	// SkipDecline declines the message; the subscription's decline policy applies
	SkipDecline SkipBehavior = iota
	// SkipAcknowledge reports success so the message is removed from the queue
	SkipAcknowledge
	// SkipWithError fails the message with ErrFiltered
	SkipWithError
)

// FilteringInterceptor filters messages based on conditions
type FilteringInterceptor[T any] struct {
	filter       Filter[T]
	skipBehavior SkipBehavior
	logger       *slog.Logger
}

// NewFilteringInterceptor creates a new filtering interceptor
func NewFilteringInterceptor[T any](filter Filter[T], skipBehavior SkipBehavior, logger *slog.Logger) *FilteringInterceptor[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &FilteringInterceptor[T]{
		filter:       filter,
		skipBehavior: skipBehavior,
		logger:       logger,
	}
}

// Intercept implements Interceptor
func (i *FilteringInterceptor[T]) Intercept(ctx context.Context, msg T, meta messaging.Metadata, next messaging.Handler[T]) (messaging.Verdict, error) {
	shouldProcess, err := i.filter.ShouldProcess(ctx, msg, meta)
	if err != nil {
		return messaging.VerdictUndetermined, fmt.Errorf("filter error: %w", err)
	}

	if shouldProcess {
		return next.Handle(ctx, msg, meta)
	}

	i.logger.Debug("message filtered",
		"queue", meta.Queue,
		"deliveryTag", meta.DeliveryTag,
		"routingKey", meta.RoutingKey,
	)

	switch i.skipBehavior {
	case SkipAcknowledge:
		return messaging.VerdictSuccess, nil
	case SkipWithError:
		return messaging.VerdictUndetermined, fmt.Errorf("%w: routing key %s, delivery %d", ErrFiltered, meta.RoutingKey, meta.DeliveryTag)
	default:
		return messaging.VerdictDecline, nil
	}
}

// Name implements Interceptor
func (i *FilteringInterceptor[T]) Name() string {
	return "FilteringInterceptor"
}

// AllFilters passes a message only when every filter does
func AllFilters[T any](filters ...Filter[T]) Filter[T] {
	return FilterFunc[T](func(ctx context.Context, msg T, meta messaging.Metadata) (bool, error) {
		for _, filter := range filters {
			ok, err := filter.ShouldProcess(ctx, msg, meta)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	})
}

// AnyFilter passes a message when at least one filter does
func AnyFilter[T any](filters ...Filter[T]) Filter[T] {
	return FilterFunc[T](func(ctx context.Context, msg T, meta messaging.Metadata) (bool, error) {
		for _, filter := range filters {
			ok, err := filter.ShouldProcess(ctx, msg, meta)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	})
}

// RoutingKeyFilter passes messages published with one of keys
func RoutingKeyFilter[T any](keys ...string) Filter[T] {
	allowed := make(map[string]bool, len(keys))
	for _, key := range keys {
		allowed[key] = true
	}
	return FilterFunc[T](func(_ context.Context, _ T, meta messaging.Metadata) (bool, error) {
		return allowed[meta.RoutingKey], nil
	})
}

// MessageTypeFilter passes messages whose AMQP type property is one of types
func MessageTypeFilter[T any](types ...string) Filter[T] {
	allowed := make(map[string]bool, len(types))
	for _, t := range types {
		allowed[t] = true
	}
	return FilterFunc[T](func(_ context.Context, _ T, meta messaging.Metadata) (bool, error) {
		return allowed[meta.Type], nil
	})
}
