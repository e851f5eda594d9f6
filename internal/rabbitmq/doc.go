// Package rabbitmq provides the broker-facing half of the consumer.
//
// This package includes:
//   - Channel: the broker client capability the consumer needs, satisfied by *amqp.Channel
//   - ConnectionManager: dials the broker and hands out dedicated channels
//   - DeclareTopology: idempotent exchange, queue and binding declaration, including the
//     delayed-message exchange variant
//   - Register: QoS configuration followed by consumer registration
//   - ConsumerTag: host|queue|name consumer identities for operational tracing
//
// Reconnection is not handled here. A closed connection is reported through
// the logger and IsConnected; the embedding application decides what to do.
package rabbitmq
