package messaging

import (
	"bytes"
	"io"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/mock"
)

type orderCreated struct {
	OrderID string  `json:"orderId"`
	Amount  float64 `json:"amount"`
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// syncBuffer lets the JSON log handler be written from dispatch goroutines
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func captureLogger() (*slog.Logger, *syncBuffer) {
	buf := &syncBuffer{}
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})), buf
}

// mockAcknowledger records settle calls on a delivery
type mockAcknowledger struct {
	mock.Mock
}

func (m *mockAcknowledger) Ack(tag uint64, multiple bool) error {
	args := m.Called(tag, multiple)
	return args.Error(0)
}

func (m *mockAcknowledger) Nack(tag uint64, multiple, requeue bool) error {
	args := m.Called(tag, multiple, requeue)
	return args.Error(0)
}

func (m *mockAcknowledger) Reject(tag uint64, requeue bool) error {
	args := m.Called(tag, requeue)
	return args.Error(0)
}

func delivery(ack amqp.Acknowledger, tag uint64, body string) amqp.Delivery {
	return amqp.Delivery{
		Acknowledger: ack,
		DeliveryTag:  tag,
		RoutingKey:   "created",
		Body:         []byte(body),
	}
}

type recordedDelivery struct {
	queue   string
	outcome Outcome
}

type recordingMetrics struct {
	mu         sync.Mutex
	deliveries []recordedDelivery
	failures   []ErrorKind
	inFlight   int
	maxFlight  int
}

func (m *recordingMetrics) RecordDelivery(queue string, outcome Outcome, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deliveries = append(m.deliveries, recordedDelivery{queue: queue, outcome: outcome})
}

func (m *recordingMetrics) RecordFailure(_ string, kind ErrorKind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, kind)
}

func (m *recordingMetrics) RecordInFlight(_ string, delta int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inFlight += delta
	if m.inFlight > m.maxFlight {
		m.maxFlight = m.inFlight
	}
}

func (m *recordingMetrics) Failures() []ErrorKind {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ErrorKind(nil), m.failures...)
}

func (m *recordingMetrics) Deliveries() []recordedDelivery {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]recordedDelivery(nil), m.deliveries...)
}

func (m *recordingMetrics) MaxInFlight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxFlight
}
