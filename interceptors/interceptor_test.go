package interceptors

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/glimte/mmate-consumer/messaging"
)

type orderCreated struct {
	OrderID string `json:"orderId"`
}

type mockHandler struct {
	mock.Mock
}

func (m *mockHandler) Handle(ctx context.Context, msg orderCreated, meta messaging.Metadata) (messaging.Verdict, error) {
	args := m.Called(ctx, msg, meta)
	return args.Get(0).(messaging.Verdict), args.Error(1)
}

func testMeta() messaging.Metadata {
	return messaging.Metadata{
		Queue:       "orders.created",
		ConsumerTag: "host|orders.created|billing",
		DeliveryTag: 42,
		Exchange:    "orders",
		RoutingKey:  "created",
		MessageID:   "msg-1",
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestChainOrder(t *testing.T) {
	var calls []string
	record := func(name string) Interceptor[orderCreated] {
		return NewInterceptorFunc[orderCreated](name, func(ctx context.Context, msg orderCreated, meta messaging.Metadata, next messaging.Handler[orderCreated]) (messaging.Verdict, error) {
			calls = append(calls, name+":before")
			verdict, err := next.Handle(ctx, msg, meta)
			calls = append(calls, name+":after")
			return verdict, err
		})
	}

	chain := NewChain(record("first"), record("second"))
	handler := chain.Then(messaging.HandlerFunc[orderCreated](func(context.Context, orderCreated, messaging.Metadata) (messaging.Verdict, error) {
		calls = append(calls, "handler")
		return messaging.VerdictSuccess, nil
	}))

	verdict, err := handler.Handle(context.Background(), orderCreated{}, testMeta())

	require.NoError(t, err)
	assert.Equal(t, messaging.VerdictSuccess, verdict)
	assert.Equal(t, []string{"first:before", "second:before", "handler", "second:after", "first:after"}, calls)
	assert.Equal(t, []string{"first", "second"}, chain.Names())
}

func TestEmptyChainCallsHandler(t *testing.T) {
	h := &mockHandler{}
	h.On("Handle", mock.Anything, orderCreated{OrderID: "o-1"}, testMeta()).Return(messaging.VerdictDecline, nil)

	verdict, err := NewChain[orderCreated]().Then(h).Handle(context.Background(), orderCreated{OrderID: "o-1"}, testMeta())

	require.NoError(t, err)
	assert.Equal(t, messaging.VerdictDecline, verdict)
	h.AssertExpectations(t)
}

func TestLoggingInterceptor(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	interceptor := NewLoggingInterceptor[orderCreated](logger)

	t.Run("logs the verdict", func(t *testing.T) {
		buf.Reset()
		h := &mockHandler{}
		h.On("Handle", mock.Anything, mock.Anything, mock.Anything).Return(messaging.VerdictSuccess, nil)

		_, err := interceptor.Intercept(context.Background(), orderCreated{}, testMeta(), h)

		require.NoError(t, err)
		assert.Contains(t, buf.String(), `"msg":"message handled"`)
		assert.Contains(t, buf.String(), `"verdict":"success"`)
	})

	t.Run("logs and returns handler errors", func(t *testing.T) {
		buf.Reset()
		h := &mockHandler{}
		h.On("Handle", mock.Anything, mock.Anything, mock.Anything).Return(messaging.VerdictUndetermined, errors.New("db down"))

		_, err := interceptor.Intercept(context.Background(), orderCreated{}, testMeta(), h)

		assert.EqualError(t, err, "db down")
		assert.Contains(t, buf.String(), `"msg":"message handler failed"`)
		assert.Contains(t, buf.String(), `"deliveryTag":42`)
	})

	assert.Equal(t, "LoggingInterceptor", interceptor.Name())
}

func TestTimeoutInterceptor(t *testing.T) {
	t.Run("returns the handler result in time", func(t *testing.T) {
		h := &mockHandler{}
		h.On("Handle", mock.Anything, mock.Anything, mock.Anything).Return(messaging.VerdictSuccess, nil)

		verdict, err := NewTimeoutInterceptor[orderCreated](time.Second).
			Intercept(context.Background(), orderCreated{}, testMeta(), h)

		require.NoError(t, err)
		assert.Equal(t, messaging.VerdictSuccess, verdict)
	})

	t.Run("gives up on slow handlers", func(t *testing.T) {
		slow := messaging.HandlerFunc[orderCreated](func(ctx context.Context, _ orderCreated, _ messaging.Metadata) (messaging.Verdict, error) {
			<-ctx.Done()
			time.Sleep(10 * time.Millisecond)
			return messaging.VerdictSuccess, nil
		})

		verdict, err := NewTimeoutInterceptor[orderCreated](20*time.Millisecond).
			Intercept(context.Background(), orderCreated{}, testMeta(), slow)

		assert.Equal(t, messaging.VerdictUndetermined, verdict)
		assert.ErrorIs(t, err, ErrHandlerTimeout)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("turns a panic into an error", func(t *testing.T) {
		panicking := messaging.HandlerFunc[orderCreated](func(context.Context, orderCreated, messaging.Metadata) (messaging.Verdict, error) {
			panic("boom")
		})

		_, err := NewTimeoutInterceptor[orderCreated](time.Second).
			Intercept(context.Background(), orderCreated{}, testMeta(), panicking)

		assert.ErrorIs(t, err, messaging.ErrPanic)
	})
}
