// Package metrics provides Prometheus metrics for the care gap services.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/drfirst/go-caregap/internal/domain/caregap"
	"github.com/drfirst/go-caregap/pkg/circuitbreaker"
)

// Evaluation triggers
const (
	TriggerPatientPortal = "patient_portal"
	TriggerAPI           = "api"
	TriggerBundle        = "bundle"
	TriggerRecordUpdate  = "record_update"
)

// Metrics holds all application metrics
type Metrics struct {
	EvaluationsTotal      *prometheus.CounterVec
	VerdictsTotal         *prometheus.CounterVec
	EvaluationDuration    prometheus.Histogram
	RecordLoadFailures    *prometheus.CounterVec
	KafkaMessagesProduced prometheus.Counter
	KafkaMessagesConsumed prometheus.Counter
	CircuitBreakerState   *prometheus.GaugeVec
}

// New creates all metrics and registers them with reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EvaluationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "caregap_evaluations_total",
			Help: "Total care gap evaluations by trigger",
		}, []string{"trigger"}),
		VerdictsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "caregap_verdicts_total",
			Help: "Total care gap verdicts by measure and status",
		}, []string{"measure_id", "status"}),
		EvaluationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "caregap_evaluation_duration_seconds",
			Help:    "Care gap evaluation duration including record loading",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}),
		RecordLoadFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "caregap_record_load_failures_total",
			Help: "Failed patient record loads by source",
		}, []string{"source"}),
		KafkaMessagesProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kafka_messages_produced_total",
			Help: "Total Kafka messages produced",
		}),
		KafkaMessagesConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kafka_messages_consumed_total",
			Help: "Total Kafka messages consumed",
		}),
		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"name"}),
	}

	reg.MustRegister(
		m.EvaluationsTotal,
		m.VerdictsTotal,
		m.EvaluationDuration,
		m.RecordLoadFailures,
		m.KafkaMessagesProduced,
		m.KafkaMessagesConsumed,
		m.CircuitBreakerState,
	)

	return m
}

// ObserveEvaluation records one completed evaluation
func (m *Metrics) ObserveEvaluation(trigger string, gaps []caregap.CareGap, elapsed time.Duration) {
	m.EvaluationsTotal.WithLabelValues(trigger).Inc()
	m.EvaluationDuration.Observe(elapsed.Seconds())
	for _, g := range gaps {
		m.VerdictsTotal.WithLabelValues(g.MeasureID, string(g.Status)).Inc()
	}
}

// ObserveBreakerState is a circuitbreaker.Config.OnStateChange hook
func (m *Metrics) ObserveBreakerState(name string, _, to circuitbreaker.State) {
	var v float64
	switch to {
	case circuitbreaker.StateOpen:
		v = 1
	case circuitbreaker.StateHalfOpen:
		v = 2
	}
	m.CircuitBreakerState.WithLabelValues(name).Set(v)
}

// Handler returns the Prometheus HTTP handler for g
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
