package interceptors

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/glimte/mmate-consumer/messaging"
)

const tracerName = "github.com/glimte/mmate-consumer/interceptors"

// HeaderCarrier adapts AMQP headers to an OpenTelemetry TextMapCarrier.
// Set requires a non-nil table.
type HeaderCarrier amqp.Table

var _ propagation.TextMapCarrier = HeaderCarrier(nil)

// Get returns the header value for key as a string
func (c HeaderCarrier) Get(key string) string {
	switch v := c[key].(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// Set stores value under key
func (c HeaderCarrier) Set(key, value string) {
	c[key] = value
}

// Keys lists the header names
func (c HeaderCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for key := range c {
		keys = append(keys, key)
	}
	return keys
}

// TracingOption configures a TracingInterceptor
type TracingOption func(*tracingOptions)

type tracingOptions struct {
	provider   trace.TracerProvider
	propagator propagation.TextMapPropagator
}

// WithTracerProvider sets the provider spans are created from
func WithTracerProvider(provider trace.TracerProvider) TracingOption {
	return func(o *tracingOptions) {
		o.provider = provider
	}
}

// WithPropagator sets how trace context is read from headers
func WithPropagator(propagator propagation.TextMapPropagator) TracingOption {
	return func(o *tracingOptions) {
		o.propagator = propagator
	}
}

// TracingInterceptor wraps each handler call in a consumer span, continuing
// the trace the publisher injected into the message headers.
type TracingInterceptor[T any] struct {
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
}

// NewTracingInterceptor creates a new tracing interceptor. Without options it
// uses the global tracer provider and propagator.
func NewTracingInterceptor[T any](options ...TracingOption) *TracingInterceptor[T] {
	opts := tracingOptions{}
	for _, opt := range options {
		opt(&opts)
	}
	if opts.provider == nil {
		opts.provider = otel.GetTracerProvider()
	}
	if opts.propagator == nil {
		opts.propagator = otel.GetTextMapPropagator()
	}
	return &TracingInterceptor[T]{
		tracer:     opts.provider.Tracer(tracerName),
		propagator: opts.propagator,
	}
}

// Intercept implements Interceptor
func (i *TracingInterceptor[T]) Intercept(ctx context.Context, msg T, meta messaging.Metadata, next messaging.Handler[T]) (messaging.Verdict, error) {
	ctx = i.propagator.Extract(ctx, HeaderCarrier(meta.Headers))

	ctx, span := i.tracer.Start(ctx, meta.Queue+" process",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "rabbitmq"),
			attribute.String("messaging.operation.type", "process"),
			attribute.String("messaging.destination.name", meta.Exchange),
			attribute.String("messaging.rabbitmq.destination.routing_key", meta.RoutingKey),
			attribute.String("messaging.message.id", meta.MessageID),
			attribute.String("messaging.message.conversation_id", meta.CorrelationID),
			attribute.String("messaging.consumer.tag", meta.ConsumerTag),
			attribute.Int64("messaging.rabbitmq.message.delivery_tag", int64(meta.DeliveryTag)),
			attribute.Bool("messaging.rabbitmq.redelivered", meta.Redelivered),
		),
	)
	defer span.End()

	verdict, err := next.Handle(ctx, msg, meta)
	span.SetAttributes(attribute.String("mmate.verdict", verdict.String()))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return verdict, err
}

// Name implements Interceptor
func (i *TracingInterceptor[T]) Name() string {
	return "TracingInterceptor"
}
