package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Dialer opens an AMQP connection
type Dialer func(url string) (*amqp.Connection, error)

// ConnectionManager owns one AMQP connection and hands out dedicated channels
type ConnectionManager struct {
	url            string
	dial           Dialer
	connectTimeout time.Duration
	logger         *slog.Logger

	mu          sync.RWMutex
	conn        *amqp.Connection
	isConnected bool
	done        chan struct{}
}

// ConnectionOption configures the ConnectionManager
type ConnectionOption func(*ConnectionManager)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.logger = logger
	}
}

// WithConnectTimeout bounds the initial dial
func WithConnectTimeout(timeout time.Duration) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.connectTimeout = timeout
	}
}

// WithDialer replaces amqp.Dial
func WithDialer(dial Dialer) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.dial = dial
	}
}

// NewConnectionManager creates a new connection manager
func NewConnectionManager(url string, options ...ConnectionOption) *ConnectionManager {
	cm := &ConnectionManager{
		url:            url,
		dial:           amqp.Dial,
		connectTimeout: 30 * time.Second,
		logger:         slog.Default(),
	}

	for _, opt := range options {
		opt(cm)
	}

	return cm
}

// Connect establishes the connection. Calling it while connected is a no-op.
func (cm *ConnectionManager) Connect(ctx context.Context) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.isConnected {
		return nil
	}

	connCtx, cancel := context.WithTimeout(ctx, cm.connectTimeout)
	defer cancel()

	type dialResult struct {
		conn *amqp.Connection
		err  error
	}
	resultCh := make(chan dialResult, 1)

	go func() {
		conn, err := cm.dial(cm.url)
		resultCh <- dialResult{conn: conn, err: err}
	}()

	select {
	case res := <-resultCh:
		if res.err != nil {
			return cm.connectionError("connect", res.err)
		}
		cm.conn = res.conn
		cm.isConnected = true
		cm.done = make(chan struct{})

		notifyClose := res.conn.NotifyClose(make(chan *amqp.Error, 1))
		go cm.watch(notifyClose, cm.done)

		cm.logger.Info("connected to RabbitMQ", "url", SanitizeURL(cm.url))
		return nil

	case <-connCtx.Done():
		// A dial that completes after the deadline must not leak its connection
		go func() {
			if res := <-resultCh; res.conn != nil {
				_ = res.conn.Close()
			}
		}()
		return cm.connectionError("connect", ErrConnectionTimeout)
	}
}

// Channel opens a new channel on the current connection. The caller owns it.
func (cm *ConnectionManager) Channel() (Channel, error) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	if !cm.isConnected || cm.conn == nil {
		return nil, ErrConnectionNotReady
	}
	if cm.conn.IsClosed() {
		return nil, ErrConnectionClosed
	}

	ch, err := cm.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrChannelCreationFailed, err)
	}
	return ch, nil
}

// IsConnected returns the connection status
func (cm *ConnectionManager) IsConnected() bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.isConnected && cm.conn != nil && !cm.conn.IsClosed()
}

// Close closes the connection
func (cm *ConnectionManager) Close() error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if !cm.isConnected {
		return nil
	}

	close(cm.done)
	cm.isConnected = false

	conn := cm.conn
	cm.conn = nil
	if conn == nil || conn.IsClosed() {
		return nil
	}
	if err := conn.Close(); err != nil {
		return cm.connectionError("close", err)
	}
	return nil
}

// watch logs an unexpected connection loss. Recovery is left to the caller.
func (cm *ConnectionManager) watch(notifyClose <-chan *amqp.Error, done <-chan struct{}) {
	select {
	case err, ok := <-notifyClose:
		if !ok || err == nil {
			return
		}
		cm.logger.Error("connection closed by broker",
			"error", err,
			"url", SanitizeURL(cm.url),
		)
		cm.mu.Lock()
		cm.isConnected = false
		cm.mu.Unlock()
	case <-done:
	}
}

func (cm *ConnectionManager) connectionError(op string, err error) error {
	return &ConnectionError{
		Op:        op,
		URL:       SanitizeURL(cm.url),
		Err:       err,
		Timestamp: time.Now(),
	}
}
