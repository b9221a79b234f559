package model

import (
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/ahrav/go-rollouts/internal/ports"
)

// ServiceSettings is the settings block of a model service declaration.
type ServiceSettings struct {
	Provider string `yaml:"provider" validate:"required"`
	APIKey   string `yaml:"api_key" validate:"required"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`

	// Timeout bounds each generation call, e.g. "90s". Empty disables
	// the per-call timeout.
	Timeout string `yaml:"timeout"`

	// RateLimit paces requests per second; zero disables pacing.
	RateLimit float64 `yaml:"rate_limit" validate:"gte=0"`
	RateBurst int     `yaml:"rate_burst" validate:"gte=0"`

	// Tracing enables OpenTelemetry spans around generation calls.
	Tracing bool `yaml:"tracing"`
}

// BuildCoreModel assembles a provider backend from declared settings,
// wiring rate limiting, metrics, and tracing middleware as configured.
// collector may be nil.
func BuildCoreModel(name string, settings ServiceSettings, collector ports.MetricsCollector) (CoreModel, error) {
	var timeout time.Duration
	if settings.Timeout != "" {
		parsed, err := time.ParseDuration(settings.Timeout)
		if err != nil {
			return nil, fmt.Errorf("model service %s: invalid timeout %q: %w", name, settings.Timeout, err)
		}
		timeout = parsed
	}

	var middleware []Middleware
	if settings.RateLimit > 0 {
		burst := settings.RateBurst
		if burst <= 0 {
			burst = 1
		}
		middleware = append(middleware, RateLimitMiddleware(rate.Limit(settings.RateLimit), burst))
	}
	if collector != nil {
		middleware = append(middleware, MetricsMiddleware(settings.Provider, collector))
	}
	if settings.Tracing {
		middleware = append(middleware, TracingMiddleware(name))
	}

	core, err := NewCoreModel(settings.Provider, Config{
		APIKey:     settings.APIKey,
		Model:      settings.Model,
		BaseURL:    settings.BaseURL,
		Timeout:    timeout,
		Middleware: middleware,
	})
	if err != nil {
		return nil, fmt.Errorf("model service %s: %w", name, err)
	}
	return core, nil
}
