package interceptors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/glimte/mmate-consumer/messaging"
)

// ErrHandlerTimeout is returned by TimeoutInterceptor when the handler overruns
var ErrHandlerTimeout = errors.New("interceptors: handler timed out")

// Interceptor processes a message before it reaches the next handler
type Interceptor[T any] interface {
	// Intercept processes a message and calls the next handler in the chain
	Intercept(ctx context.Context, msg T, meta messaging.Metadata, next messaging.Handler[T]) (messaging.Verdict, error)

	// Name returns the interceptor name for logging and debugging
	Name() string
}

// InterceptorFunc is a function adapter for Interceptor
type InterceptorFunc[T any] struct {
	name string
	fn   func(ctx context.Context, msg T, meta messaging.Metadata, next messaging.Handler[T]) (messaging.Verdict, error)
}

// NewInterceptorFunc creates a new function-based interceptor
func NewInterceptorFunc[T any](name string, fn func(ctx context.Context, msg T, meta messaging.Metadata, next messaging.Handler[T]) (messaging.Verdict, error)) *InterceptorFunc[T] {
	return &InterceptorFunc[T]{name: name, fn: fn}
}

// Intercept implements Interceptor
func (i *InterceptorFunc[T]) Intercept(ctx context.Context, msg T, meta messaging.Metadata, next messaging.Handler[T]) (messaging.Verdict, error) {
	return i.fn(ctx, msg, meta, next)
}

// Name implements Interceptor
func (i *InterceptorFunc[T]) Name() string {
	return i.name
}

// Chain is an ordered list of interceptors
type Chain[T any] struct {
	interceptors []Interceptor[T]
}

// NewChain creates a chain running interceptors in the given order
func NewChain[T any](interceptors ...Interceptor[T]) *Chain[T] {
	return &Chain[T]{interceptors: append([]Interceptor[T](nil), interceptors...)}
}

// Add appends an interceptor to the chain
func (c *Chain[T]) Add(interceptor Interceptor[T]) *Chain[T] {
	c.interceptors = append(c.interceptors, interceptor)
	return c
}

// Names lists the interceptors in execution order
func (c *Chain[T]) Names() []string {
	names := make([]string, 0, len(c.interceptors))
	for _, interceptor := range c.interceptors {
		names = append(names, interceptor.Name())
	}
	return names
}

// Then wraps final with the chain. Later changes to the chain do not affect
// the returned handler.
func (c *Chain[T]) Then(final messaging.Handler[T]) messaging.Handler[T] {
	handler := final
	for i := len(c.interceptors) - 1; i >= 0; i-- {
		interceptor := c.interceptors[i]
		next := handler
		handler = messaging.HandlerFunc[T](func(ctx context.Context, msg T, meta messaging.Metadata) (messaging.Verdict, error) {
			return interceptor.Intercept(ctx, msg, meta, next)
		})
	}
	return handler
}

// LoggingInterceptor logs message processing
type LoggingInterceptor[T any] struct {
	logger *slog.Logger
}

// NewLoggingInterceptor creates a new logging interceptor
func NewLoggingInterceptor[T any](logger *slog.Logger) *LoggingInterceptor[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingInterceptor[T]{logger: logger}
}

// Intercept implements Interceptor
func (i *LoggingInterceptor[T]) Intercept(ctx context.Context, msg T, meta messaging.Metadata, next messaging.Handler[T]) (messaging.Verdict, error) {
	start := time.Now()

	i.logger.Debug("processing message",
		"queue", meta.Queue,
		"deliveryTag", meta.DeliveryTag,
		"messageId", meta.MessageID,
		"routingKey", meta.RoutingKey,
		"redelivered", meta.Redelivered,
	)

	verdict, err := next.Handle(ctx, msg, meta)
	duration := time.Since(start)

	if err != nil {
		i.logger.Warn("message handler failed",
			"queue", meta.Queue,
			"deliveryTag", meta.DeliveryTag,
			"messageId", meta.MessageID,
			"duration", duration,
			"error", err,
		)
	} else {
		i.logger.Info("message handled",
			"queue", meta.Queue,
			"deliveryTag", meta.DeliveryTag,
			"messageId", meta.MessageID,
			"verdict", verdict.String(),
			"duration", duration,
		)
	}

	return verdict, err
}

// Name implements Interceptor
func (i *LoggingInterceptor[T]) Name() string {
	return "LoggingInterceptor"
}

// TimeoutInterceptor stops waiting for a handler after a fixed duration.
// The handler keeps running with a cancelled context; its verdict is discarded.
type TimeoutInterceptor[T any] struct {
	timeout time.Duration
}

// NewTimeoutInterceptor creates a new timeout interceptor
func NewTimeoutInterceptor[T any](timeout time.Duration) *TimeoutInterceptor[T] {
	return &TimeoutInterceptor[T]{timeout: timeout}
}

type handlerResult struct {
	verdict messaging.Verdict
	err     error
}

// Intercept implements Interceptor
func (i *TimeoutInterceptor[T]) Intercept(ctx context.Context, msg T, meta messaging.Metadata, next messaging.Handler[T]) (messaging.Verdict, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	done := make(chan handlerResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- handlerResult{err: &messaging.PanicError{Value: r, Stack: debug.Stack()}}
			}
		}()
		verdict, err := next.Handle(timeoutCtx, msg, meta)
		done <- handlerResult{verdict: verdict, err: err}
	}()

	select {
	case result := <-done:
		return result.verdict, result.err
	case <-timeoutCtx.Done():
		return messaging.VerdictUndetermined, fmt.Errorf("%w after %v for delivery %d: %w",
			ErrHandlerTimeout, i.timeout, meta.DeliveryTag, timeoutCtx.Err())
	}
}

// Name implements Interceptor
func (i *TimeoutInterceptor[T]) Name() string {
	return "TimeoutInterceptor"
}
