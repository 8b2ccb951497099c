package kafka

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the Kafka audit publisher.
type Metrics struct {
	Produced              *prometheus.CounterVec
	ProduceFailures       prometheus.Counter
	CircuitBreakerDropped prometheus.Counter
	CircuitBreakerState   prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with audit publisher metrics registered.
func NewMetrics() *Metrics {
	return &Metrics{
		Produced: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tokenverif_audit_events_produced_total",
			Help: "Total number of audit events written to Kafka",
		}, []string{"category"}),
		ProduceFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tokenverif_audit_produce_failures_total",
			Help: "Total number of audit events that failed to reach Kafka",
		}),
		CircuitBreakerDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tokenverif_audit_circuit_breaker_dropped_total",
			Help: "Total number of audit events dropped while the circuit breaker was open",
		}),
		CircuitBreakerState: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "tokenverif_audit_circuit_breaker_state",
			Help: "Current circuit breaker state (0=closed/healthy, 1=open/unhealthy)",
		}),
	}
}

func (m *Metrics) IncProduced(category string) {
	if m == nil {
		return
	}
	m.Produced.WithLabelValues(category).Inc()
}

func (m *Metrics) IncProduceFailures() {
	if m == nil {
		return
	}
	m.ProduceFailures.Inc()
}

func (m *Metrics) IncCircuitBreakerDropped() {
	if m == nil {
		return
	}
	m.CircuitBreakerDropped.Inc()
}

func (m *Metrics) SetCircuitBreakerOpen(open bool) {
	if m == nil {
		return
	}
	if open {
		m.CircuitBreakerState.Set(1)
		return
	}
	m.CircuitBreakerState.Set(0)
}
