package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/ahrav/go-rollouts/internal/domain"
)

func googleForTest(t *testing.T) *googleProvider {
	t.Helper()
	core, err := newGoogleProvider(Config{APIKey: "test-key"})
	require.NoError(t, err)
	return core.(*googleProvider)
}

func TestGoogleBuildContents(t *testing.T) {
	p := googleForTest(t)

	items := []domain.Item{
		{Type: domain.ItemTypeMessage, Role: domain.RoleSystem,
			Content: []domain.ContentPart{{Type: domain.ContentTypeInputText, Text: "be terse"}}},
		domain.NewUserMessage("what is 2+2?"),
		{Type: domain.ItemTypeFunctionCall, CallID: "call_1", Name: "add", Arguments: `{"a":2,"b":2}`},
		domain.NewFunctionCallOutput("call_1", `{"result":4}`),
	}

	contents, system, err := p.buildContents(items)
	require.NoError(t, err)
	assert.Equal(t, "be terse", system)
	require.Len(t, contents, 3)

	assert.Equal(t, genai.RoleUser, string(contents[0].Role))

	// The call becomes a model-role functionCall part carrying the id.
	require.Len(t, contents[1].Parts, 1)
	call := contents[1].Parts[0].FunctionCall
	require.NotNil(t, call)
	assert.Equal(t, "call_1", call.ID)
	assert.Equal(t, "add", call.Name)
	assert.Equal(t, map[string]any{"a": 2.0, "b": 2.0}, call.Args)

	// The output becomes a user-role functionResponse keyed back to the
	// call's function name.
	response := contents[2].Parts[0].FunctionResponse
	require.NotNil(t, response)
	assert.Equal(t, "call_1", response.ID)
	assert.Equal(t, "add", response.Name)
	assert.Equal(t, map[string]any{"output": `{"result":4}`}, response.Response)
}

func TestGoogleBuildContentsOrphanOutput(t *testing.T) {
	p := googleForTest(t)

	_, _, err := p.buildContents([]domain.Item{
		domain.NewFunctionCallOutput("call_1", `{"result":4}`),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no preceding call")
}

func TestGoogleBuildConfig(t *testing.T) {
	p := googleForTest(t)

	req := &domain.ResponsesRequest{
		Temperature:     floatPtr(0.3),
		TopP:            floatPtr(0.95),
		MaxOutputTokens: intPtr(512),
		Tools: []domain.ToolSpec{{
			Type:       "function",
			Name:       "add",
			Parameters: map[string]any{"type": "object"},
		}},
	}

	config := p.buildConfig(req, "be terse")

	require.NotNil(t, config.SystemInstruction)
	require.NotNil(t, config.Temperature)
	assert.InDelta(t, 0.3, float64(*config.Temperature), 1e-6)
	assert.Equal(t, int32(512), config.MaxOutputTokens)
	require.Len(t, config.Tools, 1)
	require.Len(t, config.Tools[0].FunctionDeclarations, 1)
	assert.Equal(t, "add", config.Tools[0].FunctionDeclarations[0].Name)
}

func TestGoogleBuildResponse(t *testing.T) {
	p := googleForTest(t)

	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{
				Role: genai.RoleModel,
				Parts: []*genai.Part{
					{Text: "I will add them."},
					{FunctionCall: &genai.FunctionCall{
						ID:   "call_7",
						Name: "add",
						Args: map[string]any{"a": 2.0, "b": 2.0},
					}},
				},
			},
		}},
		UsageMetadata: &genai.GenerateContentResponseUsageMetadata{
			PromptTokenCount:     20,
			CandidatesTokenCount: 12,
			TotalTokenCount:      32,
		},
	}

	out, err := p.buildResponse("gemini-2.0-flash", resp)
	require.NoError(t, err)
	require.Len(t, out.Output, 2)

	assert.Equal(t, "I will add them.", out.Output[0].Text())
	assert.Equal(t, domain.ItemTypeFunctionCall, out.Output[1].Type)
	assert.Equal(t, "call_7", out.Output[1].CallID)
	assert.JSONEq(t, `{"a":2,"b":2}`, out.Output[1].Arguments)

	require.NotNil(t, out.Usage)
	assert.Equal(t, 32, out.Usage.TotalTokens)
}

func TestGoogleBuildResponseGeneratesMissingCallID(t *testing.T) {
	p := googleForTest(t)

	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{
				Role:  genai.RoleModel,
				Parts: []*genai.Part{{FunctionCall: &genai.FunctionCall{Name: "add"}}},
			},
		}},
	}

	out, err := p.buildResponse("gemini-2.0-flash", resp)
	require.NoError(t, err)
	require.Len(t, out.Output, 1)
	assert.NotEmpty(t, out.Output[0].CallID)
}

func TestGoogleBuildResponseEmpty(t *testing.T) {
	p := googleForTest(t)

	_, err := p.buildResponse("gemini-2.0-flash", &genai.GenerateContentResponse{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no text or function calls")
}
