// Package model implements the model service: a Responses-API HTTP
// surface backed by pluggable LLM provider backends.
//
// Providers (OpenAI, Anthropic, Google) are abstracted behind the
// CoreModel interface and composed with middleware for timeouts, rate
// limiting, metrics, and tracing. The HTTP server in this package
// exposes the assembled backend at /v1/responses so agents address any
// provider through one wire shape.
//
// Basic usage:
//
//	core, err := model.NewCoreModel("openai", model.Config{
//	    APIKey: os.Getenv("OPENAI_API_KEY"),
//	    Model:  "gpt-4o-mini",
//	    Middleware: []model.Middleware{
//	        model.RateLimitMiddleware(20, 40),
//	        model.MetricsMiddleware("openai", collector),
//	    },
//	})
package model

import (
	"context"
	"fmt"
	"time"

	"github.com/ahrav/go-rollouts/internal/domain"
)

// CoreModel is the minimal backend contract: turn one Responses-API
// request into one response. Middleware wraps any conforming
// implementation, so cross-cutting concerns never leak into provider
// code.
type CoreModel interface {
	// Generate performs a single generation call. Implementations must
	// honor context cancellation and return provider errors wrapped
	// with enough classification to act on (auth, rate limit, server).
	Generate(ctx context.Context, req *domain.ResponsesRequest) (*domain.ResponsesResponse, error)

	// Model returns the backend's default model name, used when a
	// request leaves Model empty.
	Model() string
}

// Middleware wraps a CoreModel to add cross-cutting functionality.
type Middleware func(CoreModel) CoreModel

// Config holds construction options for a provider backend.
type Config struct {
	// APIKey authenticates requests to the provider.
	APIKey string `yaml:"api_key" validate:"required"`

	// Model is the default model for requests that do not name one.
	Model string `yaml:"model"`

	// BaseURL overrides the provider's default endpoint, mainly for
	// proxies and test doubles. Empty uses the provider default.
	BaseURL string `yaml:"base_url"`

	// Timeout bounds each generation call. Zero means no per-call
	// timeout; callers then rely on context deadlines.
	Timeout time.Duration `yaml:"timeout"`

	// Middleware is applied in order, first entry outermost.
	Middleware []Middleware `yaml:"-"`
}

// ProviderFactory creates a CoreModel from configuration.
type ProviderFactory func(Config) (CoreModel, error)

// Provider factories register themselves in init so adding a backend
// never touches assembly code.
var providerFactories = map[string]ProviderFactory{}

// RegisterProviderFactory registers a backend under a provider name.
func RegisterProviderFactory(provider string, factory ProviderFactory) {
	providerFactories[provider] = factory
}

// NewCoreModel builds the named provider backend and applies the
// configured middleware chain.
func NewCoreModel(provider string, cfg Config) (CoreModel, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: provider %s requires an API key", domain.ErrInvalidConfiguration, provider)
	}

	factory, ok := providerFactories[provider]
	if !ok {
		return nil, fmt.Errorf("%w: unknown provider %q", domain.ErrInvalidConfiguration, provider)
	}

	core, err := factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("create %s backend: %w", provider, err)
	}

	middleware := cfg.Middleware
	if cfg.Timeout > 0 {
		middleware = append([]Middleware{TimeoutMiddleware(cfg.Timeout)}, middleware...)
	}

	// Apply in reverse so the first middleware is the outermost.
	for i := len(middleware) - 1; i >= 0; i-- {
		core = middleware[i](core)
	}
	return core, nil
}
