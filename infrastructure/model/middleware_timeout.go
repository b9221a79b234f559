package model

import (
	"context"
	"time"

	"github.com/ahrav/go-rollouts/internal/domain"
)

// timeoutModel bounds each generation call so a stalled provider cannot
// hang an agent loop indefinitely.
type timeoutModel struct {
	next    CoreModel
	timeout time.Duration
}

// TimeoutMiddleware creates middleware that enforces a per-call timeout.
func TimeoutMiddleware(timeout time.Duration) Middleware {
	return func(next CoreModel) CoreModel {
		return &timeoutModel{next: next, timeout: timeout}
	}
}

// Generate executes the call under a timeout context.
func (t *timeoutModel) Generate(ctx context.Context, req *domain.ResponsesRequest) (*domain.ResponsesResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.next.Generate(ctx, req)
}

// Model returns the model name from the wrapped implementation.
func (t *timeoutModel) Model() string { return t.next.Model() }
