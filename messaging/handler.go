package messaging

import (
	"context"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Metadata describes the delivery a message arrived in
type Metadata struct {
	Queue         string
	ConsumerTag   string
	DeliveryTag   uint64
	Redelivered   bool
	Exchange      string
	RoutingKey    string
	MessageID     string
	CorrelationID string
	ContentType   string
	Type          string
	Timestamp     time.Time
	Headers       amqp.Table
}

func newMetadata(queue string, d amqp.Delivery) Metadata {
	return Metadata{
		Queue:         queue,
		ConsumerTag:   d.ConsumerTag,
		DeliveryTag:   d.DeliveryTag,
		Redelivered:   d.Redelivered,
		Exchange:      d.Exchange,
		RoutingKey:    d.RoutingKey,
		MessageID:     d.MessageId,
		CorrelationID: d.CorrelationId,
		ContentType:   d.ContentType,
		Type:          d.Type,
		Timestamp:     d.Timestamp,
		Headers:       d.Headers,
	}
}

// Handler processes one message. Expected business failures should be
// reported as VerdictDecline; a returned error or a panic is treated as an
// unexpected failure and isolated.
type Handler[T any] interface {
	Handle(ctx context.Context, msg T, meta Metadata) (Verdict, error)
}

// HandlerFunc is a function adapter for Handler
type HandlerFunc[T any] func(ctx context.Context, msg T, meta Metadata) (Verdict, error)

// Handle implements Handler
func (f HandlerFunc[T]) Handle(ctx context.Context, msg T, meta Metadata) (Verdict, error) {
	return f(ctx, msg, meta)
}
