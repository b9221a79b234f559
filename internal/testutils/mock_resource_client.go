package testutils

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ahrav/go-rollouts/internal/domain"
	"github.com/ahrav/go-rollouts/internal/ports"
)

// Compile-time verification of interface conformance.
var _ ports.ResourceClient = (*MockResourceClient)(nil)

// MockResourceClient dispatches tool calls to registered handlers and
// answers verification with a configurable function. It records every
// tool call for assertions and is safe for concurrent use.
type MockResourceClient struct {
	mu        sync.Mutex
	tools     map[string]func(args json.RawMessage) (json.RawMessage, error)
	toolCalls []string

	// VerifyFunc answers Verify calls. When nil, verification echoes
	// the request with a fixed reward of 1.0.
	VerifyFunc func(req domain.VerifyRequest) (*domain.VerifyResponse, error)
}

// NewMockResourceClient builds an empty mock resource client.
func NewMockResourceClient() *MockResourceClient {
	return &MockResourceClient{
		tools: make(map[string]func(args json.RawMessage) (json.RawMessage, error)),
	}
}

// RegisterTool installs a handler for the named tool.
func (c *MockResourceClient) RegisterTool(name string, fn func(args json.RawMessage) (json.RawMessage, error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tools[name] = fn
}

// CallTool dispatches to the registered handler, failing on unknown
// tool names the way a real resource server answers 404.
func (c *MockResourceClient) CallTool(_ context.Context, name string, args json.RawMessage) (json.RawMessage, error) {
	c.mu.Lock()
	fn, ok := c.tools[name]
	c.toolCalls = append(c.toolCalls, name)
	c.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("unknown tool %q", name)
	}
	return fn(args)
}

// Verify answers with VerifyFunc or a fixed full reward.
func (c *MockResourceClient) Verify(_ context.Context, req domain.VerifyRequest) (*domain.VerifyResponse, error) {
	if c.VerifyFunc != nil {
		return c.VerifyFunc(req)
	}
	return &domain.VerifyResponse{
		RequestParameters:    req.RequestParameters,
		CompletedInteraction: req.CompletedInteraction,
		Reward:               1.0,
	}, nil
}

// ToolCalls returns the names of every tool invoked so far, in call
// order.
func (c *MockResourceClient) ToolCalls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.toolCalls))
	copy(out, c.toolCalls)
	return out
}
