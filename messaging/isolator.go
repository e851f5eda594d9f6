package messaging

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/cespare/xxhash/v2"
	amqp "github.com/rabbitmq/amqp091-go"
)

// payloadPreviewLimit caps how much of a failed body is logged
const payloadPreviewLimit = 256

// isolator turns failures into a log record, a metric and a settle decision.
// It never returns an error to its caller and never panics.
type isolator struct {
	queue       string
	consumerTag string
	messageType string
	requireAck  bool
	policy      PendingPolicy
	logger      *slog.Logger
	metrics     MetricsCollector
}

func fingerprint(body []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(body))
}

func preview(body []byte) string {
	if len(body) > payloadPreviewLimit {
		return string(body[:payloadPreviewLimit])
	}
	return string(body)
}

// isolate records the failure of d and applies the failure policy
func (iso *isolator) isolate(d amqp.Delivery, kind ErrorKind, err error) *DeliveryError {
	deliveryErr := &DeliveryError{
		Kind:        kind,
		Queue:       iso.queue,
		ConsumerTag: iso.consumerTag,
		DeliveryTag: d.DeliveryTag,
		PayloadLen:  len(d.Body),
		PayloadHash: fingerprint(d.Body),
		Err:         err,
		Timestamp:   time.Now(),
	}

	attrs := []any{
		"kind", kind.String(),
		"queue", iso.queue,
		"consumerTag", iso.consumerTag,
		"deliveryTag", d.DeliveryTag,
		"redelivered", d.Redelivered,
		"routingKey", d.RoutingKey,
		"messageType", iso.messageType,
		"payloadLen", deliveryErr.PayloadLen,
		"payloadHash", deliveryErr.PayloadHash,
		"payload", preview(d.Body),
		"error", err,
	}
	var panicErr *PanicError
	if errors.As(err, &panicErr) {
		attrs = append(attrs, "stack", string(panicErr.Stack))
	}
	iso.logger.Error("delivery processing failed", attrs...)
	iso.metrics.RecordFailure(iso.queue, kind)

	if iso.requireAck {
		iso.settle(d, iso.policy)
	}
	return deliveryErr
}

// settle applies policy to d. Settle errors are logged only.
func (iso *isolator) settle(d amqp.Delivery, policy PendingPolicy) {
	defer func() {
		if r := recover(); r != nil {
			iso.logger.Error("panic while settling delivery",
				"queue", iso.queue,
				"deliveryTag", d.DeliveryTag,
				"panic", r,
				"stack", string(debug.Stack()),
			)
		}
	}()

	sent, err := policy.apply(d)
	if err != nil {
		iso.logger.Warn("failed to settle delivery",
			"queue", iso.queue,
			"deliveryTag", d.DeliveryTag,
			"policy", policy.String(),
			"error", err,
		)
		return
	}
	if sent {
		iso.logger.Debug("delivery rejected",
			"queue", iso.queue,
			"deliveryTag", d.DeliveryTag,
			"requeue", policy == RejectRequeue,
		)
	}
}
