package health

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/glimte/mmate-consumer/messaging"
)

// ConnectionState reports whether the broker connection is usable
type ConnectionState interface {
	IsConnected() bool
}

// ConnectionChecker checks the broker connection
type ConnectionChecker struct {
	conn ConnectionState
}

// NewConnectionChecker creates a new connection checker
func NewConnectionChecker(conn ConnectionState) *ConnectionChecker {
	return &ConnectionChecker{conn: conn}
}

func (c *ConnectionChecker) Name() string {
	return "rabbitmq"
}

func (c *ConnectionChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
		Status:    StatusHealthy,
		Message:   "connection is open",
	}
	if !c.conn.IsConnected() {
		result.Status = StatusUnhealthy
		result.Message = "connection is closed"
	}
	result.Duration = time.Since(start)
	return result
}

// SubscriptionState exposes a subscription's counters
type SubscriptionState interface {
	Stats() messaging.Stats
}

// SubscriptionChecker reports a subscription unhealthy once its channel is
// gone, and degraded while every prefetch slot is busy.
type SubscriptionChecker struct {
	subscription  SubscriptionState
	prefetchLimit int
}

// NewSubscriptionChecker creates a checker for one subscription. A
// prefetchLimit of zero disables the saturation check.
func NewSubscriptionChecker(subscription SubscriptionState, prefetchLimit int) *SubscriptionChecker {
	return &SubscriptionChecker{subscription: subscription, prefetchLimit: prefetchLimit}
}

func (c *SubscriptionChecker) Name() string {
	return "subscription:" + c.subscription.Stats().Queue
}

func (c *SubscriptionChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	stats := c.subscription.Stats()
	result := CheckResult{
		Name:      "subscription:" + stats.Queue,
		Timestamp: start,
		Details: map[string]interface{}{
			"consumerTag":  stats.ConsumerTag,
			"inFlight":     stats.InFlight,
			"delivered":    stats.Delivered,
			"acknowledged": stats.Acknowledged,
			"left":         stats.Left,
			"failed":       stats.Failed,
		},
	}

	switch {
	case stats.Closed:
		result.Status = StatusUnhealthy
		result.Message = "subscription is closed"
	case stats.ChannelClosed:
		result.Status = StatusUnhealthy
		result.Message = "channel closed by broker"
	case c.prefetchLimit > 0 && stats.InFlight >= int64(c.prefetchLimit):
		result.Status = StatusDegraded
		result.Message = fmt.Sprintf("all %d prefetch slots busy", c.prefetchLimit)
	default:
		result.Status = StatusHealthy
		result.Message = "consuming"
	}

	result.Duration = time.Since(start)
	return result
}

// GoroutineChecker flags runaway goroutine growth, usually handlers that never return
type GoroutineChecker struct {
	warningThreshold  int
	criticalThreshold int
}

// NewGoroutineChecker creates a new goroutine checker
func NewGoroutineChecker(warningThreshold, criticalThreshold int) *GoroutineChecker {
	return &GoroutineChecker{
		warningThreshold:  warningThreshold,
		criticalThreshold: criticalThreshold,
	}
}

func (c *GoroutineChecker) Name() string {
	return "goroutines"
}

func (c *GoroutineChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	goroutines := runtime.NumGoroutine()
	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
		Details:   map[string]interface{}{"goroutines": goroutines},
	}

	switch {
	case goroutines > c.criticalThreshold:
		result.Status = StatusUnhealthy
		result.Message = fmt.Sprintf("too many goroutines: %d", goroutines)
	case goroutines > c.warningThreshold:
		result.Status = StatusDegraded
		result.Message = fmt.Sprintf("high goroutine count: %d", goroutines)
	default:
		result.Status = StatusHealthy
		result.Message = "goroutine count is normal"
	}

	result.Duration = time.Since(start)
	return result
}
