package resource

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-rollouts/internal/domain"
)

func graderRequest(expected, answer string) domain.VerifyRequest {
	return domain.VerifyRequest{
		RequestParameters: domain.Task{
			Request:  domain.ResponsesRequest{Input: []domain.Item{domain.NewUserMessage("question")}},
			Metadata: map[string]any{DefaultAnswerKey: expected},
		},
		CompletedInteraction: []domain.Item{
			domain.NewUserMessage("question"),
			domain.NewAssistantMessage(answer),
		},
	}
}

func TestNewGraderValidatesConfig(t *testing.T) {
	tests := []struct {
		name    string
		config  GraderConfig
		wantErr bool
	}{
		{name: "defaults are valid", config: DefaultGraderConfig()},
		{name: "exact mode", config: GraderConfig{Mode: "exact"}},
		{name: "unknown mode", config: GraderConfig{Mode: "vibes"}, wantErr: true},
		{name: "missing mode", config: GraderConfig{}, wantErr: true},
		{name: "threshold above one", config: GraderConfig{Mode: "fuzzy", Threshold: 1.5}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewGrader(tt.config)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestGraderExactMode(t *testing.T) {
	grader, err := NewGrader(GraderConfig{Mode: "exact"})
	require.NoError(t, err)

	resp, err := grader.Verify(context.Background(), graderRequest("Paris", "paris"))
	require.NoError(t, err)
	// Case folding makes these identical.
	assert.Equal(t, 1.0, resp.Reward)

	resp, err = grader.Verify(context.Background(), graderRequest("Paris", "Lyon"))
	require.NoError(t, err)
	assert.Equal(t, 0.0, resp.Reward)
	assert.Equal(t, false, resp.Extra["matched"])
}

func TestGraderCaseSensitive(t *testing.T) {
	grader, err := NewGrader(GraderConfig{Mode: "exact", CaseSensitive: true})
	require.NoError(t, err)

	resp, err := grader.Verify(context.Background(), graderRequest("Paris", "paris"))
	require.NoError(t, err)
	assert.Equal(t, 0.0, resp.Reward)
}

func TestGraderFuzzyMode(t *testing.T) {
	grader, err := NewGrader(GraderConfig{Mode: "fuzzy", Threshold: 0.8})
	require.NoError(t, err)

	// One substitution in a ten-rune answer leaves similarity at 0.9.
	resp, err := grader.Verify(context.Background(), graderRequest("1234567890", "1234567899"))
	require.NoError(t, err)
	assert.InDelta(t, 0.9, resp.Reward, 1e-9)
	assert.InDelta(t, 0.9, resp.Extra["similarity"].(float64), 1e-9)
	assert.Equal(t, true, resp.Extra["matched"])
}

func TestGraderFuzzyBelowThreshold(t *testing.T) {
	grader, err := NewGrader(GraderConfig{Mode: "fuzzy", Threshold: 0.8})
	require.NoError(t, err)

	resp, err := grader.Verify(context.Background(), graderRequest("Paris", "Buenos Aires"))
	require.NoError(t, err)
	assert.Equal(t, 0.0, resp.Reward)
	// The raw similarity still rides along for metrics.
	assert.Greater(t, resp.Extra["similarity"].(float64), 0.0)
}

func TestGraderWhitespaceTrimmed(t *testing.T) {
	grader, err := NewGrader(GraderConfig{Mode: "exact"})
	require.NoError(t, err)

	resp, err := grader.Verify(context.Background(), graderRequest("Paris", "  Paris\n"))
	require.NoError(t, err)
	assert.Equal(t, 1.0, resp.Reward)
}

func TestGraderUsesLastAssistantMessage(t *testing.T) {
	grader, err := NewGrader(DefaultGraderConfig())
	require.NoError(t, err)

	req := graderRequest("Paris", "I need to think.")
	req.CompletedInteraction = append(req.CompletedInteraction,
		domain.NewFunctionCallOutput("call_1", `{"result":"ok"}`),
		domain.NewAssistantMessage("Paris"))

	resp, err := grader.Verify(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 1.0, resp.Reward)
}

func TestGraderMissingReferenceAnswer(t *testing.T) {
	grader, err := NewGrader(DefaultGraderConfig())
	require.NoError(t, err)

	req := graderRequest("Paris", "Paris")
	req.RequestParameters.Metadata = nil

	_, err = grader.Verify(context.Background(), req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), DefaultAnswerKey)
}

func TestGraderNonStringReferenceAnswer(t *testing.T) {
	grader, err := NewGrader(DefaultGraderConfig())
	require.NoError(t, err)

	req := graderRequest("Paris", "Paris")
	req.RequestParameters.Metadata[DefaultAnswerKey] = 42

	_, err = grader.Verify(context.Background(), req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a string")
}

func TestGraderCustomAnswerKey(t *testing.T) {
	grader, err := NewGrader(GraderConfig{Mode: "exact", AnswerKey: "gold"})
	require.NoError(t, err)

	req := domain.VerifyRequest{
		RequestParameters: domain.Task{
			Metadata: map[string]any{"gold": "42"},
		},
		CompletedInteraction: []domain.Item{domain.NewAssistantMessage("42")},
	}
	resp, err := grader.Verify(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 1.0, resp.Reward)
}

func TestGraderNoAssistantMessage(t *testing.T) {
	grader, err := NewGrader(GraderConfig{Mode: "exact"})
	require.NoError(t, err)

	req := domain.VerifyRequest{
		RequestParameters: domain.Task{
			Metadata: map[string]any{DefaultAnswerKey: "Paris"},
		},
		CompletedInteraction: []domain.Item{domain.NewUserMessage("question")},
	}
	resp, err := grader.Verify(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 0.0, resp.Reward)
}

func TestSimilarity(t *testing.T) {
	grader, err := NewGrader(DefaultGraderConfig())
	require.NoError(t, err)

	tests := []struct {
		s1, s2 string
		want   float64
	}{
		{"", "", 1.0},
		{"same", "same", 1.0},
		{"abcd", "abce", 0.75},
		{"a", "z", 0.0},
		{"héllo", "hello", 0.8},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, grader.similarity(tt.s1, tt.s2), 1e-9, "%q vs %q", tt.s1, tt.s2)
	}
}
