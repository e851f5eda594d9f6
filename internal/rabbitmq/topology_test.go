package rabbitmq

import (
	"errors"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glimte/mmate-consumer/internal/rabbitmqtest"
)

func ordersTopology() Topology {
	return Topology{
		Exchanges: []ExchangeDeclaration{{Name: "orders", Kind: amqp.ExchangeTopic, Durable: true}},
		Queues:    []QueueDeclaration{{Name: "orders.created", Durable: true}},
		Bindings:  []Binding{{Queue: "orders.created", Exchange: "orders", RoutingKey: "created"}},
	}
}

func TestDeclareTopology(t *testing.T) {
	t.Run("declares exchange, queue and binding in order", func(t *testing.T) {
		ch := rabbitmqtest.NewFakeChannel(1)

		require.NoError(t, DeclareTopology(ch, ordersTopology()))

		assert.Equal(t, []string{
			rabbitmqtest.OpExchangeDeclare,
			rabbitmqtest.OpQueueDeclare,
			rabbitmqtest.OpQueueBind,
		}, ch.Ops())
		assert.True(t, ch.Bound("orders.created", "created", "orders"))
	})

	t.Run("redeclaring identical topology is a no-op", func(t *testing.T) {
		ch := rabbitmqtest.NewFakeChannel(1)

		require.NoError(t, DeclareTopology(ch, ordersTopology()))
		require.NoError(t, DeclareTopology(ch, ordersTopology()))
		assert.False(t, ch.IsClosed())
	})

	t.Run("conflicting exchange fails fast", func(t *testing.T) {
		ch := rabbitmqtest.NewFakeChannel(1)
		require.NoError(t, DeclareTopology(ch, ordersTopology()))

		conflicting := ordersTopology()
		conflicting.Exchanges[0].Durable = false

		err := DeclareTopology(ch, conflicting)
		require.Error(t, err)

		var topoErr *TopologyError
		require.True(t, errors.As(err, &topoErr))
		assert.Equal(t, "exchange", topoErr.Component)
		assert.Equal(t, "orders", topoErr.Name)
		assert.ErrorIs(t, err, ErrTopologyConflict)
		assert.True(t, ch.IsClosed())
	})

	t.Run("conflicting queue fails fast", func(t *testing.T) {
		ch := rabbitmqtest.NewFakeChannel(1)
		require.NoError(t, DeclareTopology(ch, ordersTopology()))

		conflicting := ordersTopology()
		conflicting.Queues[0].AutoDelete = true

		err := DeclareTopology(ch, conflicting)
		var topoErr *TopologyError
		require.True(t, errors.As(err, &topoErr))
		assert.Equal(t, "queue", topoErr.Component)
		assert.ErrorIs(t, err, ErrTopologyConflict)
	})

	t.Run("missing names are rejected before reaching the broker", func(t *testing.T) {
		ch := rabbitmqtest.NewFakeChannel(1)

		err := DeclareTopology(ch, Topology{Exchanges: []ExchangeDeclaration{{Kind: "direct"}}})
		assert.ErrorIs(t, err, ErrInvalidTopology)
		assert.NotErrorIs(t, err, ErrTopologyConflict)
		assert.Empty(t, ch.Ops())
	})
}

func TestDelayedExchange(t *testing.T) {
	t.Run("declared as x-delayed-message with the routing kind as argument", func(t *testing.T) {
		ch := rabbitmqtest.NewFakeChannel(1)
		topology := Topology{Exchanges: []ExchangeDeclaration{
			{Name: "reminders", Kind: amqp.ExchangeDirect, Durable: true, Delayed: true},
		}}

		require.NoError(t, DeclareTopology(ch, topology))

		kind, args, ok := ch.Exchange("reminders")
		require.True(t, ok)
		assert.Equal(t, DelayedExchangeKind, kind)
		assert.Contains(t, args, "x-delayed-type:direct")
	})

	t.Run("caller arguments are preserved and not mutated", func(t *testing.T) {
		original := amqp.Table{"alternate-exchange": "unrouted"}
		decl := ExchangeDeclaration{Name: "reminders", Kind: amqp.ExchangeTopic, Delayed: true, Arguments: original}

		kind, args := decl.kindAndArgs()

		assert.Equal(t, DelayedExchangeKind, kind)
		assert.Equal(t, "unrouted", args["alternate-exchange"])
		assert.Equal(t, amqp.ExchangeTopic, args[DelayedTypeArgument])
		assert.NotContains(t, original, DelayedTypeArgument)
	})

	t.Run("plain exchange keeps its kind", func(t *testing.T) {
		decl := ExchangeDeclaration{Name: "orders", Kind: amqp.ExchangeFanout}
		kind, args := decl.kindAndArgs()
		assert.Equal(t, amqp.ExchangeFanout, kind)
		assert.Nil(t, args)
	})
}
