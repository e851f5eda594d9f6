// Package monitor exports consumption metrics to Prometheus.
package monitor

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/glimte/mmate-consumer/messaging"
)

const namespace = "mmate"

// PrometheusCollector implements messaging.MetricsCollector with Prometheus
// counters, a duration histogram and an in-flight gauge, all labelled by queue.
type PrometheusCollector struct {
	deliveries *prometheus.CounterVec
	failures   *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	inFlight   *prometheus.GaugeVec
}

var _ messaging.MetricsCollector = (*PrometheusCollector)(nil)

// NewPrometheusCollector creates the collector and registers its metrics with
// registerer. A nil registerer uses prometheus.DefaultRegisterer.
func NewPrometheusCollector(registerer prometheus.Registerer) (*PrometheusCollector, error) {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	c := &PrometheusCollector{
		deliveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "deliveries_total",
				Help:      "Deliveries processed, by outcome",
			},
			[]string{"queue", "outcome"},
		),
		failures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "failures_total",
				Help:      "Isolated failures, by kind",
			},
			[]string{"queue", "kind"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "delivery_duration_seconds",
				Help:      "Time from receipt to settle decision",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"queue", "outcome"},
		),
		inFlight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "deliveries_in_flight",
				Help:      "Deliveries currently dispatching",
			},
			[]string{"queue"},
		),
	}

	for _, collector := range []prometheus.Collector{c.deliveries, c.failures, c.duration, c.inFlight} {
		if err := registerer.Register(collector); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MustNewPrometheusCollector is like NewPrometheusCollector but panics on error
func MustNewPrometheusCollector(registerer prometheus.Registerer) *PrometheusCollector {
	c, err := NewPrometheusCollector(registerer)
	if err != nil {
		panic(err)
	}
	return c
}

// RecordDelivery implements messaging.MetricsCollector
func (c *PrometheusCollector) RecordDelivery(queue string, outcome messaging.Outcome, duration time.Duration) {
	c.deliveries.WithLabelValues(queue, outcome.String()).Inc()
	c.duration.WithLabelValues(queue, outcome.String()).Observe(duration.Seconds())
}

// RecordFailure implements messaging.MetricsCollector
func (c *PrometheusCollector) RecordFailure(queue string, kind messaging.ErrorKind) {
	c.failures.WithLabelValues(queue, kind.String()).Inc()
}

// RecordInFlight implements messaging.MetricsCollector
func (c *PrometheusCollector) RecordInFlight(queue string, delta int) {
	c.inFlight.WithLabelValues(queue).Add(float64(delta))
}
