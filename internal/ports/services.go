// Package ports defines the interfaces between the rollout pipeline and
// its collaborators: model services, resource services, service
// discovery, and operational metrics.
package ports

import (
	"context"
	"encoding/json"

	"github.com/ahrav/go-rollouts/internal/domain"
)

// ModelClient is the orchestrator's view of a model service: stateless
// text/tool-call generation behind a Responses-API-shaped endpoint.
type ModelClient interface {
	// Responses sends one generation request and returns the model's
	// ordered output items. Transport failures and non-2xx statuses are
	// returned as errors; the caller decides retry/skip policy.
	Responses(ctx context.Context, req domain.ResponsesRequest) (*domain.ResponsesResponse, error)
}

// ResourceClient is the orchestrator's view of a resource service:
// zero or more named tool endpoints plus one verification endpoint.
type ResourceClient interface {
	// CallTool invokes the named tool endpoint with the model-provided
	// argument blob and returns the tool's JSON result body.
	CallTool(ctx context.Context, name string, args json.RawMessage) (json.RawMessage, error)

	// Verify scores a completed interaction. A response without a
	// finite reward is an error, never a silent default.
	Verify(ctx context.Context, req domain.VerifyRequest) (*domain.VerifyResponse, error)
}

// ServiceResolver maps a logical (category, name) service identity to a
// reachable base URL. Resolution failures distinguish services missing
// from configuration (permanent) from services declared but not yet
// registered (transient).
type ServiceResolver interface {
	Resolve(category, name string) (string, error)
}

// AgentRunner produces one interaction record per task and verifies it.
// The in-process orchestrator is the canonical implementation; tests
// substitute scripted runners.
type AgentRunner interface {
	// Run drives the multi-turn loop for one task.
	Run(ctx context.Context, task domain.Task) (*domain.Interaction, error)

	// Verify scores a completed interaction exactly once.
	Verify(ctx context.Context, in *domain.Interaction) (*domain.VerifiedRollout, error)
}
