// Package rabbitmqtest provides an in-memory broker channel for tests.
package rabbitmqtest

import (
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Op names recorded by FakeChannel, in AMQP method notation
const (
	OpExchangeDeclare = "exchange.declare"
	OpQueueDeclare    = "queue.declare"
	OpQueueBind       = "queue.bind"
	OpQos             = "basic.qos"
	OpConsume         = "basic.consume"
	OpCancel          = "basic.cancel"
	OpAck             = "basic.ack"
	OpNack            = "basic.nack"
	OpClose           = "channel.close"
)

type exchangeState struct {
	kind       string
	durable    bool
	autoDelete bool
	args       string
}

type queueState struct {
	durable    bool
	autoDelete bool
	exclusive  bool
}

// Nack records a negative acknowledgement
type Nack struct {
	Tag     uint64
	Requeue bool
}

// FakeChannel models the parts of broker behaviour the consumer relies on:
// idempotent declarations, 406 on conflicting redeclaration, a consumer
// delivery stream, and acknowledgements by delivery tag. It implements both
// rabbitmq.Channel and amqp.Acknowledger.
type FakeChannel struct {
	mu sync.Mutex

	exchanges map[string]exchangeState
	queues    map[string]queueState
	bindings  map[string]bool

	ops        []string
	prefetch   int
	autoAck    bool
	tag        string
	deliveries chan amqp.Delivery
	nextTag    uint64
	acks       []uint64
	nacks      []Nack
	dropped    []uint64
	closed     bool
	closeCalls int
	notify     []chan *amqp.Error

	// Fail* inject errors into the matching operation
	FailQos     error
	FailConsume error
	FailAck     error
	FailClose   error
	FailCancel  error
}

// NewFakeChannel creates a fake channel whose delivery stream buffers up to buffer messages
func NewFakeChannel(buffer int) *FakeChannel {
	return &FakeChannel{
		exchanges:  make(map[string]exchangeState),
		queues:     make(map[string]queueState),
		bindings:   make(map[string]bool),
		deliveries: make(chan amqp.Delivery, buffer),
	}
}

func preconditionFailed(format string, args ...interface{}) *amqp.Error {
	return &amqp.Error{Code: amqp.PreconditionFailed, Reason: "PRECONDITION_FAILED - " + fmt.Sprintf(format, args...), Server: true}
}

// closeLocked mirrors the broker closing the channel after a channel-level error
func (f *FakeChannel) closeLocked(err *amqp.Error) {
	if f.closed {
		return
	}
	f.closed = true
	for _, n := range f.notify {
		if err != nil {
			n <- err
		}
		close(n)
	}
	f.notify = nil
	if f.tag != "" {
		close(f.deliveries)
		f.tag = ""
	}
}

func (f *FakeChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, OpExchangeDeclare)
	if f.closed {
		return amqp.ErrClosed
	}

	state := exchangeState{kind: kind, durable: durable, autoDelete: autoDelete, args: fmt.Sprint(args)}
	if existing, ok := f.exchanges[name]; ok && existing != state {
		err := preconditionFailed("inequivalent arg for exchange '%s'", name)
		f.closeLocked(err)
		return err
	}
	f.exchanges[name] = state
	return nil
}

func (f *FakeChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, OpQueueDeclare)
	if f.closed {
		return amqp.Queue{}, amqp.ErrClosed
	}

	state := queueState{durable: durable, autoDelete: autoDelete, exclusive: exclusive}
	if existing, ok := f.queues[name]; ok && existing != state {
		err := preconditionFailed("inequivalent arg for queue '%s'", name)
		f.closeLocked(err)
		return amqp.Queue{}, err
	}
	f.queues[name] = state
	return amqp.Queue{Name: name}, nil
}

func (f *FakeChannel) QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, OpQueueBind)
	if f.closed {
		return amqp.ErrClosed
	}
	if _, ok := f.queues[name]; !ok {
		err := &amqp.Error{Code: amqp.NotFound, Reason: "NOT_FOUND - no queue '" + name + "'", Server: true}
		f.closeLocked(err)
		return err
	}
	if _, ok := f.exchanges[exchange]; !ok {
		err := &amqp.Error{Code: amqp.NotFound, Reason: "NOT_FOUND - no exchange '" + exchange + "'", Server: true}
		f.closeLocked(err)
		return err
	}
	f.bindings[name+"|"+key+"|"+exchange] = true
	return nil
}

func (f *FakeChannel) Qos(prefetchCount, prefetchSize int, global bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, OpQos)
	if f.closed {
		return amqp.ErrClosed
	}
	if f.FailQos != nil {
		return f.FailQos
	}
	f.prefetch = prefetchCount
	return nil
}

func (f *FakeChannel) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, OpConsume)
	if f.closed {
		return nil, amqp.ErrClosed
	}
	if f.FailConsume != nil {
		return nil, f.FailConsume
	}
	f.tag = consumer
	f.autoAck = autoAck
	return f.deliveries, nil
}

func (f *FakeChannel) Cancel(consumer string, noWait bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, OpCancel)
	if f.closed {
		return amqp.ErrClosed
	}
	if f.FailCancel != nil {
		return f.FailCancel
	}
	if f.tag == consumer && consumer != "" {
		close(f.deliveries)
		f.tag = ""
	}
	return nil
}

func (f *FakeChannel) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		close(receiver)
		return receiver
	}
	f.notify = append(f.notify, receiver)
	return receiver
}

func (f *FakeChannel) IsClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *FakeChannel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, OpClose)
	f.closeCalls++
	if f.closed {
		return amqp.ErrClosed
	}
	if f.FailClose != nil {
		return f.FailClose
	}
	f.closeLocked(nil)
	return nil
}

// Ack implements amqp.Acknowledger
func (f *FakeChannel) Ack(tag uint64, multiple bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, OpAck)
	if f.closed {
		return amqp.ErrClosed
	}
	if f.FailAck != nil {
		return f.FailAck
	}
	f.acks = append(f.acks, tag)
	return nil
}

// Nack implements amqp.Acknowledger
func (f *FakeChannel) Nack(tag uint64, multiple, requeue bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, OpNack)
	if f.closed {
		return amqp.ErrClosed
	}
	f.nacks = append(f.nacks, Nack{Tag: tag, Requeue: requeue})
	return nil
}

// Reject implements amqp.Acknowledger
func (f *FakeChannel) Reject(tag uint64, requeue bool) error {
	return f.Nack(tag, false, requeue)
}

// Publish pushes body to the registered consumer and returns its delivery tag.
// It blocks when the delivery buffer is full. A delivery racing a concurrent
// Cancel or Close is dropped and reported by Dropped.
func (f *FakeChannel) Publish(routingKey string, body []byte) uint64 {
	f.mu.Lock()
	if f.tag == "" {
		f.mu.Unlock()
		panic("rabbitmqtest: publish without a registered consumer")
	}
	f.nextTag++
	d := amqp.Delivery{
		Acknowledger: f,
		ConsumerTag:  f.tag,
		DeliveryTag:  f.nextTag,
		RoutingKey:   routingKey,
		ContentType:  "application/json",
		Body:         body,
	}
	deliveries := f.deliveries
	f.mu.Unlock()

	if !send(deliveries, d) {
		f.mu.Lock()
		f.dropped = append(f.dropped, d.DeliveryTag)
		f.mu.Unlock()
	}
	return d.DeliveryTag
}

// send reports false when the stream was closed before d was handed over
func send(deliveries chan<- amqp.Delivery, d amqp.Delivery) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	deliveries <- d
	return true
}

// Dropped returns tags of deliveries published after the stream closed
func (f *FakeChannel) Dropped() []uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uint64(nil), f.dropped...)
}

// BreakChannel simulates the broker closing the channel with err
func (f *FakeChannel) BreakChannel(err *amqp.Error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeLocked(err)
}

// Ops returns the recorded operations in call order
func (f *FakeChannel) Ops() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ops...)
}

// Acks returns acknowledged delivery tags in call order
func (f *FakeChannel) Acks() []uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uint64(nil), f.acks...)
}

// Nacks returns negative acknowledgements in call order
func (f *FakeChannel) Nacks() []Nack {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Nack(nil), f.nacks...)
}

// Prefetch returns the last QoS prefetch count
func (f *FakeChannel) Prefetch() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.prefetch
}

// AutoAck reports the autoAck flag of the registered consumer
func (f *FakeChannel) AutoAck() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.autoAck
}

// ConsumerTag returns the active consumer tag, or "" once cancelled
func (f *FakeChannel) ConsumerTag() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tag
}

// CloseCalls returns how many times Close was called
func (f *FakeChannel) CloseCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCalls
}

// Exchange reports the declared kind and arguments of an exchange
func (f *FakeChannel) Exchange(name string) (kind string, args string, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	state, ok := f.exchanges[name]
	return state.kind, state.args, ok
}

// Bound reports whether queue is bound to exchange with key
func (f *FakeChannel) Bound(queue, key, exchange string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bindings[queue+"|"+key+"|"+exchange]
}
