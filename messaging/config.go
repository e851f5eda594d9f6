package messaging

import (
	"fmt"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/glimte/mmate-consumer/internal/rabbitmq"
)

// maxPrefetchLimit is the largest prefetch-count AMQP can carry.
const maxPrefetchLimit = 65535

// ExchangeKind is the routing behaviour of an exchange
type ExchangeKind string

const (
	ExchangeDirect  ExchangeKind = amqp.ExchangeDirect
	ExchangeTopic   ExchangeKind = amqp.ExchangeTopic
	ExchangeFanout  ExchangeKind = amqp.ExchangeFanout
	ExchangeHeaders ExchangeKind = amqp.ExchangeHeaders
)

// ParseExchangeKind parses direct, topic, fanout or headers
func ParseExchangeKind(s string) (ExchangeKind, error) {
	kind := ExchangeKind(strings.ToLower(strings.TrimSpace(s)))
	if !kind.valid() {
		return "", fmt.Errorf("%w: unknown exchange kind %q", ErrConfiguration, s)
	}
	return kind, nil
}

func (k ExchangeKind) valid() bool {
	switch k {
	case ExchangeDirect, ExchangeTopic, ExchangeFanout, ExchangeHeaders:
		return true
	}
	return false
}

// usesRouteKey reports whether the exchange routes on the binding key
func (k ExchangeKind) usesRouteKey() bool {
	return k == ExchangeDirect || k == ExchangeTopic
}

// SubscriptionConfig describes one subscription. It is read once at construction.
type SubscriptionConfig struct {
	ExchangeName string
	ExchangeKind ExchangeKind
	QueueName    string
	RouteKey     string

	// Durable exchange and queue survive a broker restart
	Durable bool

	// RequireAck makes the consumer acknowledge explicitly. When false the
	// broker acknowledges on delivery, and exchange and queue are auto-delete.
	RequireAck bool

	// PrefetchLimit caps unacknowledged deliveries on the channel and
	// concurrently running handlers.
	PrefetchLimit int

	// ConsumerName is the last segment of the host|queue|name consumer tag
	ConsumerName string

	// DelayExchange declares the exchange through the delayed-message plugin
	DelayExchange bool
}

// Validate checks the configuration without contacting the broker
func (c SubscriptionConfig) Validate() error {
	var problems []string

	if c.ExchangeName == "" {
		problems = append(problems, "exchange name is required")
	}
	if c.QueueName == "" {
		problems = append(problems, "queue name is required")
	}
	if !c.ExchangeKind.valid() {
		problems = append(problems, fmt.Sprintf("unknown exchange kind %q", c.ExchangeKind))
	} else if c.RouteKey == "" && c.ExchangeKind.usesRouteKey() {
		problems = append(problems, fmt.Sprintf("route key is required for %s exchanges", c.ExchangeKind))
	}
	if c.PrefetchLimit < 1 || c.PrefetchLimit > maxPrefetchLimit {
		problems = append(problems, fmt.Sprintf("prefetch limit must be between 1 and %d, got %d", maxPrefetchLimit, c.PrefetchLimit))
	}
	if c.ConsumerName == "" {
		problems = append(problems, "consumer name is required")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrConfiguration, strings.Join(problems, "; "))
	}
	return nil
}

// autoDelete mirrors RequireAck: auto-acknowledged subscriptions own throwaway topology
func (c SubscriptionConfig) autoDelete() bool {
	return !c.RequireAck
}

func (c SubscriptionConfig) topology() rabbitmq.Topology {
	return rabbitmq.Topology{
		Exchanges: []rabbitmq.ExchangeDeclaration{{
			Name:       c.ExchangeName,
			Kind:       string(c.ExchangeKind),
			Durable:    c.Durable,
			AutoDelete: c.autoDelete(),
			Delayed:    c.DelayExchange,
		}},
		Queues: []rabbitmq.QueueDeclaration{{
			Name:       c.QueueName,
			Durable:    c.Durable,
			AutoDelete: c.autoDelete(),
			Exclusive:  false,
		}},
		Bindings: []rabbitmq.Binding{{
			Queue:      c.QueueName,
			Exchange:   c.ExchangeName,
			RoutingKey: c.RouteKey,
		}},
	}
}
