// Package middleware provides cross-cutting concerns shared by the
// rollout pipeline's services.
package middleware

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ahrav/go-rollouts/internal/ports"
)

// Compile-time verification that PrometheusMetrics implements MetricsCollector.
var _ ports.MetricsCollector = (*PrometheusMetrics)(nil)

// PrometheusMetrics implements the MetricsCollector interface using
// Prometheus. It covers the pipeline's operational surface: model call
// traffic and token spend, task completion counts, reward
// distributions, and in-flight concurrency.
type PrometheusMetrics struct {
	modelLatency  *prometheus.HistogramVec
	modelRequests *prometheus.CounterVec
	modelTokens   *prometheus.CounterVec
	taskCounter   *prometheus.CounterVec
	rewards       *prometheus.HistogramVec
	systemGauges  *prometheus.GaugeVec
	opLatency     *prometheus.HistogramVec
}

// NewPrometheusMetrics creates a PrometheusMetrics instance and
// registers all metrics in the given registry. A nil registerer uses
// the global Prometheus registry.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PrometheusMetrics{
		modelLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "model_latency_seconds",
				Help:    "Latency of model generation calls.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"provider", "model", "status"},
		),
		modelRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "model_requests_total",
				Help: "Total model generation calls by outcome.",
			},
			[]string{"provider", "model", "status"},
		),
		modelTokens: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "model_tokens_total",
				Help: "Total tokens consumed by model generation calls.",
			},
			[]string{"provider", "model", "token_type"},
		),
		taskCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rollout_tasks_total",
				Help: "Total task attempts by outcome.",
			},
			[]string{"outcome"},
		),
		rewards: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rollout_reward",
				Help:    "Distribution of verified rollout rewards.",
				Buckets: prometheus.LinearBuckets(0, 0.1, 11),
			},
			[]string{"agent"},
		),
		systemGauges: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "rollout_system_state",
				Help: "Current pipeline state values, such as in-flight tasks.",
			},
			[]string{"metric"},
		),
		opLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rollout_operation_duration_seconds",
				Help:    "Execution time of pipeline operations.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

// RecordLatency records the execution time of a pipeline operation.
func (pm *PrometheusMetrics) RecordLatency(operation string, duration time.Duration, _ map[string]string) {
	pm.opLatency.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordCounter increments the counter matching the metric name.
func (pm *PrometheusMetrics) RecordCounter(metric string, value float64, labels map[string]string) {
	switch metric {
	case "model_requests_total":
		pm.modelRequests.WithLabelValues(
			labels["provider"], labels["model"], labels["status"],
		).Add(value)
	case "model_tokens_total":
		pm.modelTokens.WithLabelValues(
			labels["provider"], labels["model"], labels["token_type"],
		).Add(value)
	case "tasks_succeeded":
		pm.taskCounter.WithLabelValues("succeeded").Add(value)
	case "tasks_failed":
		pm.taskCounter.WithLabelValues("failed").Add(value)
	case "tool_errors":
		pm.taskCounter.WithLabelValues("tool_error").Add(value)
	default:
		pm.taskCounter.WithLabelValues(metric).Add(value)
	}
}

// RecordGauge sets the named system state gauge.
func (pm *PrometheusMetrics) RecordGauge(metric string, value float64, _ map[string]string) {
	pm.systemGauges.WithLabelValues(metric).Set(value)
}

// RecordHistogram records a value in the histogram matching the metric
// name.
func (pm *PrometheusMetrics) RecordHistogram(metric string, value float64, labels map[string]string) {
	switch metric {
	case "model_latency_seconds":
		pm.modelLatency.WithLabelValues(
			labels["provider"], labels["model"], labels["status"],
		).Observe(value)
	case "reward":
		pm.rewards.WithLabelValues(labels["agent"]).Observe(value)
	default:
		pm.opLatency.WithLabelValues(metric).Observe(value)
	}
}
