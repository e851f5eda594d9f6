package serialization

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type orderCancelled struct {
	Type    string `json:"type"`
	OrderID string `json:"orderId"`
	Reason  string `json:"reason"`
}

type typedOrderCreated struct {
	Type    string `json:"type"`
	OrderID string `json:"orderId"`
}

func TestTypeRegistry(t *testing.T) {
	t.Run("Register validates input", func(t *testing.T) {
		r := NewTypeRegistry()

		assert.Error(t, r.Register("", typedOrderCreated{}))
		assert.Error(t, r.Register("x", nil))
		assert.Error(t, r.Register("x", 42))
		assert.NoError(t, r.Register("OrderCreated", &typedOrderCreated{}))
	})

	t.Run("registering the same type twice is allowed", func(t *testing.T) {
		r := NewTypeRegistry()

		require.NoError(t, r.Register("OrderCreated", typedOrderCreated{}))
		assert.NoError(t, r.Register("OrderCreated", &typedOrderCreated{}))
		assert.Error(t, r.Register("OrderCreated", orderCancelled{}))
	})

	t.Run("ListTypes is sorted", func(t *testing.T) {
		r := NewTypeRegistry()
		require.NoError(t, r.Register("OrderCreated", typedOrderCreated{}))
		require.NoError(t, r.Register("OrderCancelled", orderCancelled{}))

		assert.Equal(t, []string{"OrderCancelled", "OrderCreated"}, r.ListTypes())
		assert.True(t, r.IsRegistered("OrderCreated"))
		assert.False(t, r.IsRegistered("OrderShipped"))
	})

	t.Run("Deserialize dispatches on the type field", func(t *testing.T) {
		r := NewTypeRegistry()
		require.NoError(t, r.Register("OrderCreated", typedOrderCreated{}))
		require.NoError(t, r.Register("OrderCancelled", orderCancelled{}))

		msg, err := r.Deserialize([]byte(`{"type":"OrderCancelled","orderId":"o-1","reason":"fraud"}`))
		require.NoError(t, err)

		cancelled, ok := msg.(*orderCancelled)
		require.True(t, ok)
		assert.Equal(t, "fraud", cancelled.Reason)
	})

	t.Run("custom type field", func(t *testing.T) {
		r := NewTypeRegistry(WithTypeField("kind"))
		require.NoError(t, r.Register("created", typedOrderCreated{}))

		msg, err := r.Deserialize([]byte(`{"kind":"created","orderId":"o-9"}`))
		require.NoError(t, err)
		assert.Equal(t, "o-9", msg.(*typedOrderCreated).OrderID)
	})

	t.Run("unregistered type", func(t *testing.T) {
		payload := []byte(`{"type":"OrderShipped","orderId":"o-1"}`)

		_, err := NewTypeRegistry().Deserialize(payload)
		var decodeErr *DecodeError
		assert.True(t, errors.As(err, &decodeErr))

		msg, err := NewTypeRegistry(WithStrictTypes(false)).Deserialize(payload)
		require.NoError(t, err)
		assert.Equal(t, "o-1", msg.(map[string]interface{})["orderId"])
	})

	t.Run("non-string type field", func(t *testing.T) {
		_, err := NewTypeRegistry().Deserialize([]byte(`{"type":7}`))
		assert.Error(t, err)
	})

	t.Run("not an object", func(t *testing.T) {
		_, err := NewTypeRegistry().Deserialize([]byte(`[1,2]`))
		assert.Error(t, err)
	})

	t.Run("satisfies Deserializer", func(t *testing.T) {
		var _ Deserializer[interface{}] = NewTypeRegistry()
	})
}
