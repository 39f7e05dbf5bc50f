// Package metrics provides Prometheus metrics for the bot.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors on a private registry, so multiple
// instances can coexist within one process (tests construct their own).
type Metrics struct {
	registry *prometheus.Registry

	PipelineRunsTotal    *prometheus.CounterVec
	PipelineDuration     *prometheus.HistogramVec
	ExternalCallsTotal   *prometheus.CounterVec
	ExternalCallDuration *prometheus.HistogramVec
	StoreOpsTotal        *prometheus.CounterVec
	StoreOpDuration      *prometheus.HistogramVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Metrics{registry: reg}

	m.PipelineRunsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_pipeline_runs_total",
			Help: "Total number of pipeline runs",
		},
		[]string{"kind", "outcome"},
	)

	m.PipelineDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bot_pipeline_duration_seconds",
			Help:    "Duration of pipeline runs in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	m.ExternalCallsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_external_calls_total",
			Help: "Total number of external service calls",
		},
		[]string{"service", "status"},
	)

	m.ExternalCallDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bot_external_call_duration_seconds",
			Help:    "Duration of external service calls in seconds",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"service"},
	)

	m.StoreOpsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_store_operations_total",
			Help: "Total number of conversation store operations",
		},
		[]string{"operation", "status"},
	)

	m.StoreOpDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bot_store_operation_duration_seconds",
			Help:    "Duration of conversation store operations in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"operation"},
	)

	return m
}

// RecordPipeline records one pipeline run.
func (m *Metrics) RecordPipeline(kind, outcome string, duration time.Duration) {
	m.PipelineRunsTotal.WithLabelValues(kind, outcome).Inc()
	m.PipelineDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordExternalCall records one transcription or completion call.
func (m *Metrics) RecordExternalCall(service, status string, duration time.Duration) {
	m.ExternalCallsTotal.WithLabelValues(service, status).Inc()
	m.ExternalCallDuration.WithLabelValues(service).Observe(duration.Seconds())
}

// RecordStoreOp records one conversation store operation.
func (m *Metrics) RecordStoreOp(operation, status string, duration time.Duration) {
	m.StoreOpsTotal.WithLabelValues(operation, status).Inc()
	m.StoreOpDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// Handler serves this instance's registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
