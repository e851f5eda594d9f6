package serialization

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type orderCreated struct {
	OrderID string  `json:"orderId"`
	Amount  float64 `json:"amount"`
}

func TestJSONDeserializer(t *testing.T) {
	t.Run("decodes a well-formed payload", func(t *testing.T) {
		d := NewJSONDeserializer[orderCreated]()

		msg, err := d.Deserialize([]byte(`{"orderId":"o-1","amount":12.5}`))
		require.NoError(t, err)
		assert.Equal(t, orderCreated{OrderID: "o-1", Amount: 12.5}, msg)
	})

	t.Run("malformed payload returns a DecodeError", func(t *testing.T) {
		d := NewJSONDeserializer[orderCreated]()

		_, err := d.Deserialize([]byte(`{"orderId":`))

		var decodeErr *DecodeError
		require.True(t, errors.As(err, &decodeErr))
		assert.Equal(t, "serialization.orderCreated", decodeErr.Type)
	})

	t.Run("type mismatch returns a DecodeError", func(t *testing.T) {
		d := NewJSONDeserializer[orderCreated]()

		_, err := d.Deserialize([]byte(`{"amount":"lots"}`))
		var decodeErr *DecodeError
		assert.True(t, errors.As(err, &decodeErr))
	})

	t.Run("unknown fields are accepted unless strict", func(t *testing.T) {
		payload := []byte(`{"orderId":"o-1","extra":true}`)

		_, err := NewJSONDeserializer[orderCreated]().Deserialize(payload)
		assert.NoError(t, err)

		_, err = NewJSONDeserializer[orderCreated](WithStrictFields(true)).Deserialize(payload)
		assert.Error(t, err)
	})

	t.Run("empty body", func(t *testing.T) {
		_, err := NewJSONDeserializer[orderCreated]().Deserialize([]byte("  "))
		assert.ErrorIs(t, err, ErrEmptyPayload)

		msg, err := NewJSONDeserializer[orderCreated](WithAllowEmpty(true)).Deserialize(nil)
		assert.NoError(t, err)
		assert.Zero(t, msg)
	})

	t.Run("trailing data is rejected", func(t *testing.T) {
		_, err := NewJSONDeserializer[orderCreated]().Deserialize([]byte(`{"orderId":"a"} {"orderId":"b"}`))
		assert.Error(t, err)
	})

	t.Run("pointer targets", func(t *testing.T) {
		msg, err := NewJSONDeserializer[*orderCreated]().Deserialize([]byte(`{"orderId":"o-2"}`))
		require.NoError(t, err)
		require.NotNil(t, msg)
		assert.Equal(t, "o-2", msg.OrderID)
	})
}

func TestRawDeserializer(t *testing.T) {
	body := []byte("opaque")

	out, err := RawDeserializer{}.Deserialize(body)
	require.NoError(t, err)
	assert.Equal(t, body, out)

	body[0] = 'X'
	assert.Equal(t, "opaque", string(out))
}

func TestDeserializerFunc(t *testing.T) {
	var d Deserializer[int] = DeserializerFunc[int](func(data []byte) (int, error) {
		return len(data), nil
	})

	n, err := d.Deserialize([]byte("four"))
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}
