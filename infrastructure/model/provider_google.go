package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"google.golang.org/api/googleapi"
	"google.golang.org/genai"

	"github.com/ahrav/go-rollouts/internal/domain"
)

// GoogleDefaultModel is used when no model is configured.
const GoogleDefaultModel = "gemini-2.0-flash"

func init() {
	RegisterProviderFactory("google", newGoogleProvider)
}

// googleProvider bridges the Responses-API item model onto Google's
// Gemini API. Function calls become model-role functionCall parts and
// function call outputs become user-role functionResponse parts; the
// call id to tool name mapping is reconstructed from history because
// Gemini keys responses by function name.
type googleProvider struct {
	client *genai.Client
	model  string
}

func newGoogleProvider(cfg Config) (CoreModel, error) {
	model := cfg.Model
	if model == "" {
		model = GoogleDefaultModel
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create Google client: %w", err)
	}

	return &googleProvider{client: client, model: model}, nil
}

// Generate sends a Gemini request and translates the reply back into
// Responses-API output items.
func (p *googleProvider) Generate(ctx context.Context, req *domain.ResponsesRequest) (*domain.ResponsesResponse, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}

	contents, system, err := p.buildContents(req.Input)
	if err != nil {
		return nil, err
	}
	config := p.buildConfig(req, system)

	resp, err := p.client.Models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		return nil, p.wrapError(err)
	}
	return p.buildResponse(model, resp)
}

func (p *googleProvider) buildContents(items []domain.Item) ([]*genai.Content, string, error) {
	var contents []*genai.Content
	var system string

	// Gemini function responses are keyed by function name, while the
	// item model keys them by call id.
	callNames := make(map[string]string)

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
				contents = append(contents, genai.NewContentFromText(item.Text(), genai.RoleModel))
			default:
				contents = append(contents, genai.NewContentFromText(item.Text(), genai.RoleUser))
			}

		case domain.ItemTypeFunctionCall:
			args := map[string]any{}
			if item.Arguments != "" {
				if err := json.Unmarshal([]byte(item.Arguments), &args); err != nil {
					return nil, "", fmt.Errorf("google: decode arguments for call %s: %w", item.CallID, err)
				}
			}
			callNames[item.CallID] = item.Name
			part := genai.NewPartFromFunctionCall(item.Name, args)
			part.FunctionCall.ID = item.CallID
			contents = append(contents, genai.NewContentFromParts([]*genai.Part{part}, genai.RoleModel))

		case domain.ItemTypeFunctionCallOutput:
			name, ok := callNames[item.CallID]
			if !ok {
				return nil, "", fmt.Errorf("google: function call output %s has no preceding call", item.CallID)
			}
			part := genai.NewPartFromFunctionResponse(name, map[string]any{"output": item.Output})
			part.FunctionResponse.ID = item.CallID
			contents = append(contents, genai.NewContentFromParts([]*genai.Part{part}, genai.RoleUser))

		default:
			return nil, "", fmt.Errorf("google: unsupported input item type %q", item.Type)
		}
	}
	return contents, system, nil
}

func (p *googleProvider) buildConfig(req *domain.ResponsesRequest, system string) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{}

	if system != "" {
		config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if req.Temperature != nil {
		config.Temperature = genai.Ptr(float32(*req.Temperature))
	}
	if req.TopP != nil {
		config.TopP = genai.Ptr(float32(*req.TopP))
	}
	if req.MaxOutputTokens != nil {
		config.MaxOutputTokens = int32(*req.MaxOutputTokens)
	}
	if len(req.Tools) > 0 {
		var decls []*genai.FunctionDeclaration
		for _, tool := range req.Tools {
			decls = append(decls, &genai.FunctionDeclaration{
				Name:                 tool.Name,
				Description:          tool.Description,
				ParametersJsonSchema: tool.Parameters,
			})
		}
		config.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}
	return config
}

func (p *googleProvider) buildResponse(model string, resp *genai.GenerateContentResponse) (*domain.ResponsesResponse, error) {
	var output []domain.Item

	if text := resp.Text(); text != "" {
		msg := domain.NewAssistantMessage(text)
		msg.ID = "msg_" + uuid.NewString()
		msg.Status = "completed"
		output = append(output, msg)
	}
	for _, call := range resp.FunctionCalls() {
		args, err := json.Marshal(call.Args)
		if err != nil {
			return nil, fmt.Errorf("google: encode arguments for %s: %w", call.Name, err)
		}
		callID := call.ID
		if callID == "" {
			callID = "call_" + uuid.NewString()
		}
		output = append(output, domain.Item{
			Type:      domain.ItemTypeFunctionCall,
			ID:        "fc_" + uuid.NewString(),
			CallID:    callID,
			Name:      call.Name,
			Arguments: string(args),
			Status:    "completed",
		})
	}
	if len(output) == 0 {
		return nil, fmt.Errorf("google: response contained no text or function calls")
	}

	response := &domain.ResponsesResponse{
		ID:     "resp_" + uuid.NewString(),
		Model:  model,
		Output: output,
	}
	if resp.UsageMetadata != nil {
		response.Usage = &domain.Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:  int(resp.UsageMetadata.TotalTokenCount),
		}
	}
	return response, nil
}

// wrapError classifies Google API failures, surfacing safety filter
// blocks distinctly from auth and server errors.
func (p *googleProvider) wrapError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("google request aborted: %w", err)
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case 401, 403:
			return fmt.Errorf("google authentication failed: check API key: %w", err)
		case 429:
			return fmt.Errorf("google rate limit exceeded: %w", err)
		case 400:
			return fmt.Errorf("google rejected request: %w", err)
		default:
			if apiErr.Code >= 500 {
				return fmt.Errorf("google server error (%d): %w", apiErr.Code, err)
			}
			return fmt.Errorf("google API error (%d): %w", apiErr.Code, err)
		}
	}
	return fmt.Errorf("google request failed: %w", err)
}

// Model returns the configured default model name.
func (p *googleProvider) Model() string { return p.model }
