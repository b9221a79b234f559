// Package testutils provides scripted doubles and task fixtures for
// testing the rollout pipeline without live services.
package testutils

import (
	"context"
	"fmt"
	"sync"

	"github.com/ahrav/go-rollouts/internal/domain"
	"github.com/ahrav/go-rollouts/internal/ports"
)

// Compile-time verification of interface conformance.
var _ ports.ModelClient = (*ScriptedModelClient)(nil)

// ScriptedModelClient replays a fixed sequence of model responses,
// recording every request it receives. It is safe for concurrent use;
// each call consumes the next scripted turn.
type ScriptedModelClient struct {
	mu       sync.Mutex
	turns    []ScriptedTurn
	next     int
	requests []domain.ResponsesRequest

	// Err, when set, is returned by every call instead of a turn.
	Err error
}

// ScriptedTurn is one scripted model reply.
type ScriptedTurn struct {
	Output []domain.Item
	Err    error
}

// NewScriptedModelClient builds a client that replays the given turns
// in order.
func NewScriptedModelClient(turns ...ScriptedTurn) *ScriptedModelClient {
	return &ScriptedModelClient{turns: turns}
}

// TextTurn scripts a reply containing a single assistant message.
func TextTurn(text string) ScriptedTurn {
	return ScriptedTurn{Output: []domain.Item{domain.NewAssistantMessage(text)}}
}

// ToolCallTurn scripts a reply requesting one tool invocation.
func ToolCallTurn(callID, name, arguments string) ScriptedTurn {
	return ScriptedTurn{Output: []domain.Item{{
		Type:      domain.ItemTypeFunctionCall,
		CallID:    callID,
		Name:      name,
		Arguments: arguments,
	}}}
}

// Responses returns the next scripted turn, failing once the script is
// exhausted.
func (c *ScriptedModelClient) Responses(_ context.Context, req domain.ResponsesRequest) (*domain.ResponsesResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.requests = append(c.requests, req)
	if c.Err != nil {
		return nil, c.Err
	}
	if c.next >= len(c.turns) {
		return nil, fmt.Errorf("model script exhausted after %d turns", len(c.turns))
	}

	turn := c.turns[c.next]
	c.next++
	if turn.Err != nil {
		return nil, turn.Err
	}
	return &domain.ResponsesResponse{
		ID:     fmt.Sprintf("resp_%d", c.next),
		Model:  "scripted",
		Output: turn.Output,
		Usage:  &domain.Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15},
	}, nil
}

// Requests returns a copy of every request received so far.
func (c *ScriptedModelClient) Requests() []domain.ResponsesRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.ResponsesRequest, len(c.requests))
	copy(out, c.requests)
	return out
}

// CallCount returns how many requests have been received.
func (c *ScriptedModelClient) CallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}
