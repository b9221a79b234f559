// Package domain contains the core value types exchanged between the
// rollout pipeline and its collaborating services: Responses-API items,
// tasks, interaction records, and metric aggregates.
package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Item types recognized in Responses-API input and output sequences.
const (
	// ItemTypeMessage is a conversational message carrying content parts.
	ItemTypeMessage = "message"
	// ItemTypeFunctionCall is a model-requested tool invocation.
	ItemTypeFunctionCall = "function_call"
	// ItemTypeFunctionCallOutput is the result of a tool invocation,
	// keyed back to its originating call by CallID.
	ItemTypeFunctionCallOutput = "function_call_output"
)

// Content part types carried inside message items.
const (
	ContentTypeInputText  = "input_text"
	ContentTypeOutputText = "output_text"
)

// Conversational roles used by message items.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ContentPart is one piece of a message item's content.
type ContentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Item is one element of a Responses-API input or output sequence.
// Exactly one of the type-specific field groups is populated depending
// on Type: messages carry Role and Content, function calls carry Name,
// Arguments and CallID, and function call outputs carry CallID and Output.
type Item struct {
	// Type discriminates the item variant; one of the ItemType constants.
	Type string `json:"type"`

	// ID is the provider-assigned item identifier, when present.
	ID string `json:"id,omitempty"`

	// Role and Content are populated for message items.
	Role    string        `json:"role,omitempty"`
	Content []ContentPart `json:"content,omitempty"`

	// Name, Arguments, and CallID are populated for function call items.
	// Arguments is the raw JSON-encoded argument blob as produced by the
	// model; it is passed through to the tool endpoint without decoding.
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
	CallID    string `json:"call_id,omitempty"`

	// Output is populated for function call output items.
	Output string `json:"output,omitempty"`

	// Status reports item completion state when the backend provides one.
	Status string `json:"status,omitempty"`
}

// NewUserMessage builds an input message item from plain text.
func NewUserMessage(text string) Item {
	return Item{
		Type:    ItemTypeMessage,
		Role:    RoleUser,
		Content: []ContentPart{{Type: ContentTypeInputText, Text: text}},
	}
}

// NewAssistantMessage builds an output message item from plain text.
func NewAssistantMessage(text string) Item {
	return Item{
		Type:    ItemTypeMessage,
		Role:    RoleAssistant,
		Content: []ContentPart{{Type: ContentTypeOutputText, Text: text}},
	}
}

// NewFunctionCallOutput builds the tool-result item for the given call id.
func NewFunctionCallOutput(callID, output string) Item {
	return Item{
		Type:   ItemTypeFunctionCallOutput,
		CallID: callID,
		Output: output,
	}
}

// Text concatenates the textual content parts of a message item.
// It returns an empty string for non-message items.
func (it Item) Text() string {
	if it.Type != ItemTypeMessage {
		return ""
	}
	var sb strings.Builder
	for _, part := range it.Content {
		sb.WriteString(part.Text)
	}
	return sb.String()
}

// ToolSpec declares a callable tool in a Responses-API request.
// Parameters holds the tool's JSON schema for its argument object.
type ToolSpec struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// ResponsesRequest is the Responses-API-shaped generation request sent
// to a model service. The zero value of every optional field means
// "backend default"; pointers distinguish unset from explicit zero.
type ResponsesRequest struct {
	Model           string     `json:"model,omitempty"`
	Input           []Item     `json:"input"`
	Tools           []ToolSpec `json:"tools,omitempty"`
	Temperature     *float64   `json:"temperature,omitempty"`
	TopP            *float64   `json:"top_p,omitempty"`
	MaxOutputTokens *int       `json:"max_output_tokens,omitempty"`
}

// Usage reports token consumption for one generation call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// ResponsesResponse is the model service's reply: an ordered list of
// output items, each either a message or a function call.
type ResponsesResponse struct {
	ID     string `json:"id"`
	Model  string `json:"model,omitempty"`
	Output []Item `json:"output"`
	Usage  *Usage `json:"usage,omitempty"`
}

// FunctionCalls returns the function call items in the response output,
// preserving their order of appearance.
func (r *ResponsesResponse) FunctionCalls() []Item {
	var calls []Item
	for _, it := range r.Output {
		if it.Type == ItemTypeFunctionCall {
			calls = append(calls, it)
		}
	}
	return calls
}

// FinalText concatenates the text of every message item in the response
// output. Multi-part messages are joined in order.
func (r *ResponsesResponse) FinalText() string {
	var sb strings.Builder
	for _, it := range r.Output {
		sb.WriteString(it.Text())
	}
	return sb.String()
}

// ParamsMap renders the request's generation parameters as a generic
// mapping, suitable for merging with per-run overrides.
func (r ResponsesRequest) ParamsMap() (map[string]any, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode request: %w", err)
	}
	return m, nil
}

// RequestFromParams is the inverse of ParamsMap.
func RequestFromParams(m map[string]any) (ResponsesRequest, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return ResponsesRequest{}, fmt.Errorf("encode params: %w", err)
	}
	var req ResponsesRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return ResponsesRequest{}, fmt.Errorf("decode params: %w", err)
	}
	return req, nil
}
