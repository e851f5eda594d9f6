package interceptors

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/glimte/mmate-consumer/messaging"
)

// DuplicateDetector remembers which message ids were processed
type DuplicateDetector interface {
	IsDuplicate(ctx context.Context, messageID string) (bool, error)
	MarkProcessed(ctx context.Context, messageID string) error
}

// MemoryDuplicateDetector keeps processed ids in memory for a fixed window
type MemoryDuplicateDetector struct {
	mu     sync.Mutex
	window time.Duration
	seen   map[string]time.Time
	now    func() time.Time
}

// NewMemoryDuplicateDetector creates a detector that forgets ids after window
func NewMemoryDuplicateDetector(window time.Duration) *MemoryDuplicateDetector {
	return &MemoryDuplicateDetector{
		window: window,
		seen:   make(map[string]time.Time),
		now:    time.Now,
	}
}

// IsDuplicate implements DuplicateDetector
func (d *MemoryDuplicateDetector) IsDuplicate(_ context.Context, messageID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	at, ok := d.seen[messageID]
	return ok && d.now().Sub(at) < d.window, nil
}

// MarkProcessed implements DuplicateDetector
func (d *MemoryDuplicateDetector) MarkProcessed(_ context.Context, messageID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	for id, at := range d.seen {
		if now.Sub(at) >= d.window {
			delete(d.seen, id)
		}
	}
	d.seen[messageID] = now
	return nil
}

// DeduplicationInterceptor acknowledges redelivered messages whose id was
// already processed successfully, without calling the handler again.
// Messages without a message id always reach the handler.
type DeduplicationInterceptor[T any] struct {
	detector DuplicateDetector
	logger   *slog.Logger
}

// NewDeduplicationInterceptor creates a new deduplication interceptor
func NewDeduplicationInterceptor[T any](detector DuplicateDetector, logger *slog.Logger) *DeduplicationInterceptor[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &DeduplicationInterceptor[T]{detector: detector, logger: logger}
}

// Intercept implements Interceptor
func (i *DeduplicationInterceptor[T]) Intercept(ctx context.Context, msg T, meta messaging.Metadata, next messaging.Handler[T]) (messaging.Verdict, error) {
	if meta.MessageID == "" {
		return next.Handle(ctx, msg, meta)
	}

	duplicate, err := i.detector.IsDuplicate(ctx, meta.MessageID)
	if err != nil {
		return messaging.VerdictUndetermined, err
	}
	if duplicate {
		i.logger.Debug("duplicate message skipped",
			"queue", meta.Queue,
			"messageId", meta.MessageID,
			"deliveryTag", meta.DeliveryTag,
		)
		return messaging.VerdictSuccess, nil
	}

	verdict, err := next.Handle(ctx, msg, meta)
	if err != nil || verdict != messaging.VerdictSuccess {
		return verdict, err
	}

	if err := i.detector.MarkProcessed(ctx, meta.MessageID); err != nil {
		i.logger.Warn("failed to record processed message",
			"queue", meta.Queue,
			"messageId", meta.MessageID,
			"error", err,
		)
	}
	return verdict, nil
}

// Name implements Interceptor
func (i *DeduplicationInterceptor[T]) Name() string {
	return "DeduplicationInterceptor"
}
