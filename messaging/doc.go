// Package messaging consumes a RabbitMQ queue with at-least-once delivery.
//
// This package implements:
//   - SubscriptionConfig: exchange, queue, binding, QoS and consumer identity of one subscription
//   - Subscriber: declares the topology, registers a prefetch-bounded consumer on a dedicated
//     channel, dispatches deliveries concurrently and tears everything down exactly once
//   - Pipeline: deserialize, invoke the handler, then acknowledge only on success
//   - Failure isolation: decode errors, handler errors and panics, and acknowledge failures are
//     logged and counted, never propagated to the delivery loop
//
// A message is acknowledged if and only if the subscription requires acknowledgements and the
// handler returned VerdictSuccess. Every other outcome leaves the message unacknowledged unless a
// PendingPolicy asks for an explicit reject.
//
// Example usage:
//
//	sub, err := messaging.NewSubscriber(ch, messaging.SubscriptionConfig{
//		ExchangeName:  "orders",
//		ExchangeKind:  messaging.ExchangeTopic,
//		QueueName:     "orders.created",
//		RouteKey:      "created",
//		Durable:       true,
//		RequireAck:    true,
//		PrefetchLimit: 10,
//		ConsumerName:  "billing",
//	}, serialization.NewJSONDeserializer[OrderCreated](),
//		messaging.HandlerFunc[OrderCreated](func(ctx context.Context, msg OrderCreated, meta messaging.Metadata) (messaging.Verdict, error) {
//			return messaging.VerdictSuccess, nil
//		}),
//	)
//	if err != nil {
//		return err
//	}
//	defer sub.Close()
package messaging
