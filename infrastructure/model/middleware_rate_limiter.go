package model

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/ahrav/go-rollouts/internal/domain"
)

// rateLimitedModel paces generation calls with a token bucket so a
// high-concurrency collection run stays inside provider rate limits.
type rateLimitedModel struct {
	next    CoreModel
	limiter *rate.Limiter
}

// RateLimitMiddleware creates middleware that enforces request pacing.
// limit is sustained requests per second; burst allows short spikes.
// All calls through the same middleware instance share one bucket.
func RateLimitMiddleware(limit rate.Limit, burst int) Middleware {
	limiter := rate.NewLimiter(limit, burst)
	return func(next CoreModel) CoreModel {
		return &rateLimitedModel{next: next, limiter: limiter}
	}
}

// Generate blocks until a token is available, then forwards the call.
func (r *rateLimitedModel) Generate(ctx context.Context, req *domain.ResponsesRequest) (*domain.ResponsesResponse, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}
	return r.next.Generate(ctx, req)
}

// Model returns the model name from the wrapped implementation.
func (r *rateLimitedModel) Model() string { return r.next.Model() }
