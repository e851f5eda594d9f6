package rabbitmq

import (
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	// DelayedExchangeKind is the exchange type registered by the RabbitMQ
	// delayed-message plugin.
	DelayedExchangeKind = "x-delayed-message"

	// DelayedTypeArgument carries the routing behaviour of a delayed exchange.
	DelayedTypeArgument = "x-delayed-type"
)

// ExchangeDeclaration defines an exchange to be declared
type ExchangeDeclaration struct {
	Name       string
	Kind       string
	Durable    bool
	AutoDelete bool
	Delayed    bool
	Arguments  amqp.Table
}

// QueueDeclaration defines a queue to be declared
type QueueDeclaration struct {
	Name       string
	Durable    bool
	AutoDelete bool
	Exclusive  bool
	Arguments  amqp.Table
}

// Binding defines a queue-to-exchange binding
type Binding struct {
	Queue      string
	Exchange   string
	RoutingKey string
	Arguments  amqp.Table
}

// Topology is declared in order: exchanges, queues, bindings.
type Topology struct {
	Exchanges []ExchangeDeclaration
	Queues    []QueueDeclaration
	Bindings  []Binding
}

// DeclareTopology declares every element of the topology on ch.
// Redeclaring identical elements is a no-op on the broker. A conflicting
// redeclaration returns a *TopologyError matching ErrTopologyConflict, and
// leaves ch closed by the broker.
func DeclareTopology(ch Channel, topology Topology) error {
	for _, exchange := range topology.Exchanges {
		if err := declareExchange(ch, exchange); err != nil {
			return topologyError("exchange", exchange.Name, "declare", err)
		}
	}

	for _, queue := range topology.Queues {
		if err := declareQueue(ch, queue); err != nil {
			return topologyError("queue", queue.Name, "declare", err)
		}
	}

	for _, binding := range topology.Bindings {
		if err := bindQueue(ch, binding); err != nil {
			return topologyError("binding", binding.Queue+"->"+binding.Exchange, "bind", err)
		}
	}

	return nil
}

// kindAndArgs resolves the broker-side exchange type and arguments,
// swapping in the delayed-message form when requested.
func (d ExchangeDeclaration) kindAndArgs() (string, amqp.Table) {
	if !d.Delayed {
		return d.Kind, d.Arguments
	}
	args := amqp.Table{}
	for k, v := range d.Arguments {
		args[k] = v
	}
	args[DelayedTypeArgument] = d.Kind
	return DelayedExchangeKind, args
}

func declareExchange(ch Channel, exchange ExchangeDeclaration) error {
	if exchange.Name == "" || exchange.Kind == "" {
		return fmt.Errorf("%w: exchange name and kind are required", ErrInvalidTopology)
	}
	kind, args := exchange.kindAndArgs()
	return ch.ExchangeDeclare(
		exchange.Name,
		kind,
		exchange.Durable,
		exchange.AutoDelete,
		false, // internal
		false, // no-wait
		args,
	)
}

func declareQueue(ch Channel, queue QueueDeclaration) error {
	if queue.Name == "" {
		return fmt.Errorf("%w: queue name is required", ErrInvalidTopology)
	}
	_, err := ch.QueueDeclare(
		queue.Name,
		queue.Durable,
		queue.AutoDelete,
		queue.Exclusive,
		false, // no-wait
		queue.Arguments,
	)
	return err
}

func bindQueue(ch Channel, binding Binding) error {
	return ch.QueueBind(
		binding.Queue,
		binding.RoutingKey,
		binding.Exchange,
		false, // no-wait
		binding.Arguments,
	)
}

func topologyError(component, name, op string, err error) error {
	return &TopologyError{
		Component: component,
		Name:      name,
		Op:        op,
		Err:       err,
		Timestamp: time.Now(),
	}
}
