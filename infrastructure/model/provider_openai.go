package model

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"

	"github.com/ahrav/go-rollouts/internal/domain"
)

// OpenAIDefaultModel is used when neither the request nor the service
// settings name a model.
const OpenAIDefaultModel = "gpt-4o-mini"

func init() {
	RegisterProviderFactory("openai", newOpenAIProvider)
}

// openAIProvider bridges the Responses-API item model onto OpenAI's
// chat completions API: message items become chat messages, function
// call items become tool calls, and function call outputs become tool
// role messages keyed by tool call id.
type openAIProvider struct {
	client *openai.Client
	model  string
}

func newOpenAIProvider(cfg Config) (CoreModel, error) {
	model := cfg.Model
	if model == "" {
		model = OpenAIDefaultModel
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	if cfg.Timeout > 0 {
		clientConfig.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &openAIProvider{
		client: openai.NewClientWithConfig(clientConfig),
		model:  model,
	}, nil
}

// Generate sends a chat completion request and translates the reply
// back into Responses-API output items.
func (p *openAIProvider) Generate(ctx context.Context, req *domain.ResponsesRequest) (*domain.ResponsesResponse, error) {
	chatReq, err := p.buildRequest(req)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, p.wrapError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai: response contained no choices")
	}

	return p.buildResponse(&resp), nil
}

func (p *openAIProvider) buildRequest(req *domain.ResponsesRequest) (openai.ChatCompletionRequest, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}

	messages, err := p.buildMessages(req.Input)
	if err != nil {
		return openai.ChatCompletionRequest{}, err
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: messages,
	}
	if req.Temperature != nil {
		chatReq.Temperature = float32(*req.Temperature)
	}
	if req.TopP != nil {
		chatReq.TopP = float32(*req.TopP)
	}
	if req.MaxOutputTokens != nil {
		chatReq.MaxTokens = *req.MaxOutputTokens
	}
	for _, tool := range req.Tools {
		chatReq.Tools = append(chatReq.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			},
		})
	}
	return chatReq, nil
}

func (p *openAIProvider) buildMessages(items []domain.Item) ([]openai.ChatCompletionMessage, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(items))
	for _, item := range items {
		switch item.Type {
		case domain.ItemTypeMessage:
			messages = append(messages, openai.ChatCompletionMessage{
				Role:    item.Role,
				Content: item.Text(),
			})

		case domain.ItemTypeFunctionCall:
			messages = append(messages, openai.ChatCompletionMessage{
				Role: openai.ChatMessageRoleAssistant,
				ToolCalls: []openai.ToolCall{{
					ID:   item.CallID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      item.Name,
						Arguments: item.Arguments,
					},
				}},
			})

		case domain.ItemTypeFunctionCallOutput:
			messages = append(messages, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    item.Output,
				ToolCallID: item.CallID,
			})

		default:
			return nil, fmt.Errorf("openai: unsupported input item type %q", item.Type)
		}
	}
	return messages, nil
}

func (p *openAIProvider) buildResponse(resp *openai.ChatCompletionResponse) *domain.ResponsesResponse {
	choice := resp.Choices[0]

	var output []domain.Item
	if choice.Message.Content != "" {
		msg := domain.NewAssistantMessage(choice.Message.Content)
		msg.ID = "msg_" + uuid.NewString()
		msg.Status = "completed"
		output = append(output, msg)
	}
	for _, tc := range choice.Message.ToolCalls {
		output = append(output, domain.Item{
			Type:      domain.ItemTypeFunctionCall,
			ID:        "fc_" + uuid.NewString(),
			CallID:    tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
			Status:    "completed",
		})
	}

	return &domain.ResponsesResponse{
		ID:     resp.ID,
		Model:  resp.Model,
		Output: output,
		Usage: &domain.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		},
	}
}

// wrapError classifies OpenAI API failures so callers can distinguish
// auth and rate limit problems from transient server errors.
func (p *openAIProvider) wrapError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("openai request aborted: %w", err)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case http.StatusUnauthorized:
			return fmt.Errorf("openai authentication failed: check API key: %w", err)
		case http.StatusTooManyRequests:
			return fmt.Errorf("openai rate limit exceeded: %w", err)
		case http.StatusBadRequest:
			return fmt.Errorf("openai rejected request: %w", err)
		default:
			if apiErr.HTTPStatusCode >= 500 {
				return fmt.Errorf("openai server error (%d): %w", apiErr.HTTPStatusCode, err)
			}
			return fmt.Errorf("openai API error (%d): %w", apiErr.HTTPStatusCode, err)
		}
	}
	return fmt.Errorf("openai request failed: %w", err)
}

// Model returns the configured default model name.
func (p *openAIProvider) Model() string { return p.model }
