package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/google/uuid"

	"github.com/ahrav/go-rollouts/internal/domain"
)

const (
	// AnthropicDefaultModel is used when no model is configured.
	AnthropicDefaultModel = "claude-3-5-sonnet-20241022"

	// anthropicDefaultMaxTokens fills the required max_tokens field
	// when the request leaves it unset.
	anthropicDefaultMaxTokens = 4096
)

func init() {
	RegisterProviderFactory("anthropic", newAnthropicProvider)
}

// anthropicProvider bridges the Responses-API item model onto
// Anthropic's Messages API. System messages become the system prompt,
// function calls become tool_use blocks, and function call outputs
// become user-role tool_result blocks.
type anthropicProvider struct {
	client anthropic.Client
	model  string
}

func newAnthropicProvider(cfg Config) (CoreModel, error) {
	model := cfg.Model
	if model == "" {
		model = AnthropicDefaultModel
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &anthropicProvider{
		client: anthropic.NewClient(opts...),
		model:  model,
	}, nil
}

// Generate sends a Messages API request and translates the reply back
// into Responses-API output items.
func (p *anthropicProvider) Generate(ctx context.Context, req *domain.ResponsesRequest) (*domain.ResponsesResponse, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}

	message, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, p.wrapError(err)
	}
	return p.buildResponse(message), nil
}

func (p *anthropicProvider) buildParams(req *domain.ResponsesRequest) (anthropic.MessageNewParams, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}
	maxTokens := anthropicDefaultMaxTokens
	if req.MaxOutputTokens != nil {
		maxTokens = *req.MaxOutputTokens
	}

	messages, system, err := p.buildMessages(req.Input)
	if err != nil {
		return anthropic.MessageNewParams{}, err
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages:  messages,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}
	if req.TopP != nil {
		params.TopP = anthropic.Float(*req.TopP)
	}
	for _, tool := range req.Tools {
		toolParam := anthropic.ToolParam{Name: tool.Name}
		if tool.Description != "" {
			toolParam.Description = anthropic.String(tool.Description)
		}
		if props, ok := tool.Parameters["properties"]; ok {
			toolParam.InputSchema.Properties = props
		}
		if required, ok := tool.Parameters["required"].([]any); ok {
			for _, field := range required {
				if name, ok := field.(string); ok {
					toolParam.InputSchema.Required = append(toolParam.InputSchema.Required, name)
				}
			}
		}
		params.Tools = append(params.Tools, anthropic.ToolUnionParam{OfTool: &toolParam})
	}
	return params, nil
}

// buildMessages converts input items to Anthropic messages. System
// messages have no message role on this API, so their text is lifted
// into the returned system prompt.
func (p *anthropicProvider) buildMessages(items []domain.Item) ([]anthropic.MessageParam, string, error) {
	var messages []anthropic.MessageParam
	var system string

	for _, item := range items {
		switch item.Type {
		case domain.ItemTypeMessage:
			switch item.Role {
			case domain.RoleSystem:
				if system != "" {
					system += "\n\n"
				}
				system += item.Text()
			case domain.RoleAssistant:
				messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(item.Text())))
			default:
				messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(item.Text())))
			}

		case domain.ItemTypeFunctionCall:
			var input any
			if item.Arguments != "" {
				if err := json.Unmarshal([]byte(item.Arguments), &input); err != nil {
					return nil, "", fmt.Errorf("anthropic: decode arguments for call %s: %w", item.CallID, err)
				}
			}
			block := anthropic.ContentBlockParamUnion{
				OfToolUse: &anthropic.ToolUseBlockParam{
					ID:    item.CallID,
					Name:  item.Name,
					Input: input,
				},
			}
			messages = append(messages, anthropic.MessageParam{
				Role:    anthropic.MessageParamRoleAssistant,
				Content: []anthropic.ContentBlockParamUnion{block},
			})

		case domain.ItemTypeFunctionCallOutput:
			block := anthropic.ContentBlockParamUnion{
				OfToolResult: &anthropic.ToolResultBlockParam{
					ToolUseID: item.CallID,
					Content: []anthropic.ToolResultBlockParamContentUnion{
						{OfText: &anthropic.TextBlockParam{Text: item.Output}},
					},
				},
			}
			messages = append(messages, anthropic.MessageParam{
				Role:    anthropic.MessageParamRoleUser,
				Content: []anthropic.ContentBlockParamUnion{block},
			})

		default:
			return nil, "", fmt.Errorf("anthropic: unsupported input item type %q", item.Type)
		}
	}
	return messages, system, nil
}

func (p *anthropicProvider) buildResponse(message *anthropic.Message) *domain.ResponsesResponse {
	var output []domain.Item
	for _, block := range message.Content {
		switch content := block.AsAny().(type) {
		case anthropic.TextBlock:
			msg := domain.NewAssistantMessage(content.Text)
			msg.ID = "msg_" + uuid.NewString()
			msg.Status = "completed"
			output = append(output, msg)
		case anthropic.ToolUseBlock:
			output = append(output, domain.Item{
				Type:      domain.ItemTypeFunctionCall,
				ID:        "fc_" + uuid.NewString(),
				CallID:    content.ID,
				Name:      content.Name,
				Arguments: string(content.Input),
				Status:    "completed",
			})
		}
	}

	return &domain.ResponsesResponse{
		ID:     message.ID,
		Model:  string(message.Model),
		Output: output,
		Usage: &domain.Usage{
			InputTokens:  int(message.Usage.InputTokens),
			OutputTokens: int(message.Usage.OutputTokens),
			TotalTokens:  int(message.Usage.InputTokens + message.Usage.OutputTokens),
		},
	}
}

// wrapError classifies Anthropic SDK failures by status code.
func (p *anthropicProvider) wrapError(err error) error {
	var anthropicErr *anthropic.Error
	if errors.As(err, &anthropicErr) {
		switch anthropicErr.StatusCode {
		case 401:
			return fmt.Errorf("anthropic authentication failed: check API key: %w", err)
		case 429:
			return fmt.Errorf("anthropic rate limit exceeded: %w", err)
		case 400:
			return fmt.Errorf("anthropic rejected request: %w", err)
		case 500, 502, 503, 504:
			return fmt.Errorf("anthropic server error (%d): %w", anthropicErr.StatusCode, err)
		default:
			return fmt.Errorf("anthropic API error (%d): %w", anthropicErr.StatusCode, err)
		}
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("anthropic request aborted: %w", err)
	}
	return fmt.Errorf("anthropic request failed: %w", err)
}

// Model returns the configured default model name.
func (p *anthropicProvider) Model() string { return p.model }
