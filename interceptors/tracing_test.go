package interceptors

import (
	"context"
	"errors"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/glimte/mmate-consumer/messaging"
)

func newRecordingProvider() (*sdktrace.TracerProvider, *tracetest.SpanRecorder) {
	recorder := tracetest.NewSpanRecorder()
	return sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)), recorder
}

func TestHeaderCarrier(t *testing.T) {
	carrier := HeaderCarrier(amqp.Table{
		"traceparent": "00-abc-def-01",
		"raw":         []byte("bytes"),
		"count":       int32(3),
	})

	assert.Equal(t, "00-abc-def-01", carrier.Get("traceparent"))
	assert.Equal(t, "bytes", carrier.Get("raw"))
	assert.Equal(t, "3", carrier.Get("count"))
	assert.Empty(t, carrier.Get("missing"))
	assert.ElementsMatch(t, []string{"traceparent", "raw", "count"}, carrier.Keys())

	carrier.Set("tracestate", "k=v")
	assert.Equal(t, "k=v", carrier.Get("tracestate"))
}

func TestTracingInterceptorContinuesTrace(t *testing.T) {
	provider, recorder := newRecordingProvider()
	propagator := propagation.TraceContext{}

	parentCtx, parent := provider.Tracer("publisher").Start(context.Background(), "publish")
	headers := amqp.Table{}
	propagator.Inject(parentCtx, HeaderCarrier(headers))
	parent.End()

	meta := testMeta()
	meta.Headers = headers

	var handlerSpan trace.SpanContext
	interceptor := NewTracingInterceptor[orderCreated](WithTracerProvider(provider), WithPropagator(propagator))
	verdict, err := interceptor.Intercept(context.Background(), orderCreated{}, meta,
		messaging.HandlerFunc[orderCreated](func(ctx context.Context, _ orderCreated, _ messaging.Metadata) (messaging.Verdict, error) {
			handlerSpan = trace.SpanContextFromContext(ctx)
			return messaging.VerdictSuccess, nil
		}))

	require.NoError(t, err)
	assert.Equal(t, messaging.VerdictSuccess, verdict)

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	consumer := spans[1]
	assert.Equal(t, "orders.created process", consumer.Name())
	assert.Equal(t, trace.SpanKindConsumer, consumer.SpanKind())
	assert.Equal(t, parent.SpanContext().TraceID(), consumer.SpanContext().TraceID())
	assert.Equal(t, parent.SpanContext().SpanID(), consumer.Parent().SpanID())
	assert.Equal(t, consumer.SpanContext().SpanID(), handlerSpan.SpanID())
	assert.Contains(t, consumer.Attributes(), attribute.String("messaging.rabbitmq.destination.routing_key", "created"))
	assert.Contains(t, consumer.Attributes(), attribute.String("mmate.verdict", "success"))
}

func TestTracingInterceptorRecordsErrors(t *testing.T) {
	provider, recorder := newRecordingProvider()
	interceptor := NewTracingInterceptor[orderCreated](WithTracerProvider(provider))

	_, err := interceptor.Intercept(context.Background(), orderCreated{}, testMeta(),
		messaging.HandlerFunc[orderCreated](func(context.Context, orderCreated, messaging.Metadata) (messaging.Verdict, error) {
			return messaging.VerdictUndetermined, errors.New("db down")
		}))

	require.Error(t, err)
	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, "db down", spans[0].Status().Description)
	assert.False(t, spans[0].Parent().IsValid())
}
