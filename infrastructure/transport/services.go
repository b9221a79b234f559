package transport

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ahrav/go-rollouts/internal/application"
	"github.com/ahrav/go-rollouts/internal/domain"
	"github.com/ahrav/go-rollouts/internal/ports"
)

// ModelServiceClient talks to one named model service over HTTP.
// It implements ports.ModelClient.
type ModelServiceClient struct {
	client *Client
	name   string
}

// NewModelServiceClient builds a client for the named model service.
func NewModelServiceClient(client *Client, name string) *ModelServiceClient {
	return &ModelServiceClient{client: client, name: name}
}

// Responses posts a generation request to the service's /v1/responses
// endpoint and returns the decoded response.
func (m *ModelServiceClient) Responses(ctx context.Context, req domain.ResponsesRequest) (*domain.ResponsesResponse, error) {
	var resp domain.ResponsesResponse
	if err := m.client.PostJSON(ctx, application.CategoryModel, m.name, "/v1/responses", req, &resp); err != nil {
		return nil, fmt.Errorf("model %s: %w", m.name, err)
	}
	return &resp, nil
}

// ResourceServiceClient talks to one named resource service over HTTP.
// It implements ports.ResourceClient.
type ResourceServiceClient struct {
	client *Client
	name   string
}

// NewResourceServiceClient builds a client for the named resource service.
func NewResourceServiceClient(client *Client, name string) *ResourceServiceClient {
	return &ResourceServiceClient{client: client, name: name}
}

// CallTool invokes a named tool endpoint with raw JSON arguments and
// returns the raw JSON result. The argument payload passes through
// untouched; the tool server owns its own argument validation.
func (r *ResourceServiceClient) CallTool(ctx context.Context, name string, args json.RawMessage) (json.RawMessage, error) {
	var result json.RawMessage
	payload := args
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	if err := r.client.PostJSON(ctx, application.CategoryResource, r.name, "/tools/"+name, payload, &result); err != nil {
		return nil, fmt.Errorf("tool %s on %s: %w", name, r.name, err)
	}
	return result, nil
}

// ListTools fetches the declarations of every tool the service exposes.
func (r *ResourceServiceClient) ListTools(ctx context.Context) ([]domain.ToolSpec, error) {
	var specs []domain.ToolSpec
	if err := r.client.GetJSON(ctx, application.CategoryResource, r.name, "/tools", &specs); err != nil {
		return nil, fmt.Errorf("list tools on %s: %w", r.name, err)
	}
	return specs, nil
}

// Verify submits a completed interaction for scoring.
func (r *ResourceServiceClient) Verify(ctx context.Context, req domain.VerifyRequest) (*domain.VerifyResponse, error) {
	var resp domain.VerifyResponse
	if err := r.client.PostJSON(ctx, application.CategoryResource, r.name, "/verify", req, &resp); err != nil {
		return nil, fmt.Errorf("verify on %s: %w", r.name, err)
	}
	return &resp, nil
}

var (
	_ ports.ModelClient    = (*ModelServiceClient)(nil)
	_ ports.ResourceClient = (*ResourceServiceClient)(nil)
)
