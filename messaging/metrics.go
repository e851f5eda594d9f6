package messaging

import "time"

// MetricsCollector receives consumption metrics
type MetricsCollector interface {
	// RecordDelivery records one finished pass through the pipeline
	RecordDelivery(queue string, outcome Outcome, duration time.Duration)

	// RecordFailure records an isolated failure
	RecordFailure(queue string, kind ErrorKind)

	// RecordInFlight adjusts the number of deliveries currently dispatching
	RecordInFlight(queue string, delta int)
}

// NoOpMetricsCollector is a no-op implementation of MetricsCollector
type NoOpMetricsCollector struct{}

// RecordDelivery does nothing
func (NoOpMetricsCollector) RecordDelivery(string, Outcome, time.Duration) {}

// RecordFailure does nothing
func (NoOpMetricsCollector) RecordFailure(string, ErrorKind) {}

// RecordInFlight does nothing
func (NoOpMetricsCollector) RecordInFlight(string, int) {}
