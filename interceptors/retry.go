package interceptors

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"github.com/glimte/mmate-consumer/messaging"
)

// BackoffPolicy decides whether a failed handler call is attempted again
type BackoffPolicy interface {
	// NextDelay returns the wait before retry number attempt (0-based), or
	// false when no retry is left.
	NextDelay(attempt int) (time.Duration, bool)
}

// ExponentialBackoff multiplies the delay by Multiplier after every attempt
type ExponentialBackoff struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	MaxRetries      int
	Jitter          bool
}

// NewExponentialBackoff creates a jittered exponential policy
func NewExponentialBackoff(initial, max time.Duration, multiplier float64, maxRetries int) *ExponentialBackoff {
	return &ExponentialBackoff{
		InitialInterval: initial,
		MaxInterval:     max,
		Multiplier:      multiplier,
		MaxRetries:      maxRetries,
		Jitter:          true,
	}
}

// NextDelay implements BackoffPolicy
func (e *ExponentialBackoff) NextDelay(attempt int) (time.Duration, bool) {
	if attempt >= e.MaxRetries {
		return 0, false
	}

	delay := float64(e.InitialInterval) * math.Pow(e.Multiplier, float64(attempt))
	if e.MaxInterval > 0 && delay > float64(e.MaxInterval) {
		delay = float64(e.MaxInterval)
	}
	if e.Jitter {
		// ±15%
		delay += (rand.Float64()*0.3 - 0.15) * delay
	}
	return time.Duration(delay), true
}

// FixedBackoff waits the same delay between attempts
type FixedBackoff struct {
	Delay      time.Duration
	MaxRetries int
}

// NextDelay implements BackoffPolicy
func (f FixedBackoff) NextDelay(attempt int) (time.Duration, bool) {
	if attempt >= f.MaxRetries {
		return 0, false
	}
	return f.Delay, true
}

type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks a handler error as not worth retrying
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// RetryInterceptor re-runs the rest of the chain when it returns an error.
// Verdicts are never retried; a decline is an answer, not a failure. Retries
// happen while the delivery is still unacknowledged and hold its prefetch slot.
type RetryInterceptor[T any] struct {
	policy BackoffPolicy
	logger *slog.Logger
}

// NewRetryInterceptor creates a retry interceptor
func NewRetryInterceptor[T any](policy BackoffPolicy, logger *slog.Logger) *RetryInterceptor[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &RetryInterceptor[T]{policy: policy, logger: logger}
}

// Intercept implements Interceptor
func (i *RetryInterceptor[T]) Intercept(ctx context.Context, msg T, meta messaging.Metadata, next messaging.Handler[T]) (messaging.Verdict, error) {
	for attempt := 0; ; attempt++ {
		verdict, err := next.Handle(ctx, msg, meta)
		if err == nil || IsPermanent(err) {
			return verdict, err
		}

		delay, ok := i.policy.NextDelay(attempt)
		if !ok {
			return verdict, err
		}

		i.logger.Debug("retrying handler",
			"queue", meta.Queue,
			"deliveryTag", meta.DeliveryTag,
			"attempt", attempt+1,
			"delay", delay,
			"error", err,
		)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return verdict, errors.Join(err, ctx.Err())
		}
	}
}

// Name implements Interceptor
func (i *RetryInterceptor[T]) Name() string {
	return "RetryInterceptor"
}
