package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"runtime/debug"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/glimte/mmate-consumer/serialization"
)

// PipelineConfig identifies the subscription a pipeline processes for
type PipelineConfig struct {
	Queue       string
	ConsumerTag string
	RequireAck  bool
}

// Pipeline decodes one delivery, hands it to the handler and settles it.
// Process is safe for concurrent use; each delivery is independent.
type Pipeline[T any] struct {
	cfg          PipelineConfig
	deserializer serialization.Deserializer[T]
	handler      Handler[T]
	opts         subscriberOptions
	logger       *slog.Logger
	isolator     *isolator
}

// NewPipeline creates a pipeline. Only the logger, metrics, policy and
// handler timeout options apply.
func NewPipeline[T any](cfg PipelineConfig, deserializer serialization.Deserializer[T], handler Handler[T], options ...SubscriberOption) *Pipeline[T] {
	opts := defaultSubscriberOptions()
	for _, opt := range options {
		opt(&opts)
	}
	return newPipeline(cfg, deserializer, handler, opts)
}

func newPipeline[T any](cfg PipelineConfig, deserializer serialization.Deserializer[T], handler Handler[T], opts subscriberOptions) *Pipeline[T] {
	logger := opts.logger.With("queue", cfg.Queue, "consumerTag", cfg.ConsumerTag)
	return &Pipeline[T]{
		cfg:          cfg,
		deserializer: deserializer,
		handler:      handler,
		opts:         opts,
		logger:       logger,
		isolator: &isolator{
			queue:       cfg.Queue,
			consumerTag: cfg.ConsumerTag,
			messageType: reflect.TypeFor[T]().String(),
			requireAck:  cfg.RequireAck,
			policy:      opts.failurePolicy,
			logger:      opts.logger,
			metrics:     opts.metrics,
		},
	}
}

// Process runs d through decode, dispatch and decide. It never panics and
// never returns an error; failures are isolated and reported in Result.Err.
func (p *Pipeline[T]) Process(ctx context.Context, d amqp.Delivery) (result Result) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			result = Result{
				Outcome: OutcomeFail,
				Verdict: result.Verdict,
				Err:     p.isolator.isolate(d, KindAcknowledge, &PanicError{Value: r, Stack: debug.Stack()}),
			}
		}
		p.opts.metrics.RecordDelivery(p.cfg.Queue, result.Outcome, time.Since(start))
	}()

	msg, err := p.decode(d.Body)
	if err != nil {
		return Result{Outcome: OutcomeFail, Err: p.isolator.isolate(d, KindDeserialization, err)}
	}

	verdict, err := p.invoke(ctx, msg, p.metadata(d))
	if err != nil {
		return Result{Outcome: OutcomeFail, Verdict: verdict, Err: p.isolator.isolate(d, KindHandler, err)}
	}

	return p.decide(d, verdict)
}

func (p *Pipeline[T]) decode(body []byte) (msg T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return p.deserializer.Deserialize(body)
}

// invoke calls the handler. A returned error wins over the verdict.
func (p *Pipeline[T]) invoke(ctx context.Context, msg T, meta Metadata) (verdict Verdict, err error) {
	defer func() {
		if r := recover(); r != nil {
			verdict = VerdictUndetermined
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()

	if p.opts.handlerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.handlerTimeout)
		defer cancel()
	}

	verdict, err = p.handler.Handle(ctx, msg, meta)
	if err != nil {
		return verdict, fmt.Errorf("handler failed: %w", err)
	}
	return verdict, nil
}

// decide acknowledges only a successful verdict on an explicitly acknowledged subscription
func (p *Pipeline[T]) decide(d amqp.Delivery, verdict Verdict) Result {
	if verdict != VerdictSuccess {
		if p.cfg.RequireAck {
			p.isolator.settle(d, p.opts.declinePolicy)
		}
		p.logger.Debug("delivery left pending",
			"deliveryTag", d.DeliveryTag,
			"verdict", verdict.String(),
		)
		return Result{Outcome: OutcomeLeave, Verdict: verdict}
	}

	if !p.cfg.RequireAck {
		return Result{Outcome: OutcomeAcknowledge, Verdict: verdict}
	}

	if err := d.Ack(false); err != nil {
		return Result{Outcome: OutcomeFail, Verdict: verdict, Err: p.isolator.isolate(d, KindAcknowledge, err)}
	}
	return Result{Outcome: OutcomeAcknowledge, Verdict: verdict, Acked: true}
}

func (p *Pipeline[T]) metadata(d amqp.Delivery) Metadata {
	meta := newMetadata(p.cfg.Queue, d)
	if meta.ConsumerTag == "" {
		meta.ConsumerTag = p.cfg.ConsumerTag
	}
	return meta
}
