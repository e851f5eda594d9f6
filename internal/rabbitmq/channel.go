package rabbitmq

import (
	amqp "github.com/rabbitmq/amqp091-go"
)

// Channel is the subset of an AMQP channel used to declare topology and consume.
// Acknowledgements go through amqp.Delivery, whose Acknowledger is the channel
// the delivery arrived on.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Cancel(consumer string, noWait bool) error
	NotifyClose(receiver chan *amqp.Error) chan *amqp.Error
	IsClosed() bool
	Close() error
}

var _ Channel = (*amqp.Channel)(nil)
