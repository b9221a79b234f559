package model

import (
	"context"
	"time"

	"github.com/ahrav/go-rollouts/internal/domain"
	"github.com/ahrav/go-rollouts/internal/ports"
)

// metricsModel records latency, request counts, and token usage per
// model for operational monitoring of collection runs.
type metricsModel struct {
	next      CoreModel
	provider  string
	collector ports.MetricsCollector
}

// MetricsMiddleware creates middleware that collects generation metrics.
func MetricsMiddleware(provider string, collector ports.MetricsCollector) Middleware {
	return func(next CoreModel) CoreModel {
		return &metricsModel{next: next, provider: provider, collector: collector}
	}
}

// Generate executes the call while recording latency, status, and token
// usage labeled by provider and model.
func (m *metricsModel) Generate(ctx context.Context, req *domain.ResponsesRequest) (*domain.ResponsesResponse, error) {
	start := time.Now()
	resp, err := m.next.Generate(ctx, req)

	labels := map[string]string{
		"provider": m.provider,
		"model":    m.next.Model(),
		"status":   "success",
	}
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			labels["status"] = "timeout"
		} else {
			labels["status"] = "error"
		}
	}

	if m.collector != nil {
		m.collector.RecordHistogram("model_latency_seconds", time.Since(start).Seconds(), labels)
		m.collector.RecordCounter("model_requests_total", 1, labels)

		if err == nil && resp.Usage != nil {
			labels["token_type"] = "input"
			m.collector.RecordCounter("model_tokens_total", float64(resp.Usage.InputTokens), labels)

			labels["token_type"] = "output"
			m.collector.RecordCounter("model_tokens_total", float64(resp.Usage.OutputTokens), labels)
		}
	}

	return resp, err
}

// Model returns the model name from the wrapped implementation.
func (m *metricsModel) Model() string { return m.next.Model() }
