package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskUnmarshalJSON_SplitsRequestFromMetadata(t *testing.T) {
	row := `{
		"responses_create_params": {
			"model": "gpt-4o-mini",
			"input": [{"type": "message", "role": "user",
				"content": [{"type": "input_text", "text": "What is 2+2?"}]}],
			"temperature": 0.7
		},
		"expected_answer": "4",
		"task_id": "math-001"
	}`

	var task Task
	require.NoError(t, json.Unmarshal([]byte(row), &task))

	assert.Equal(t, "gpt-4o-mini", task.Request.Model)
	require.Len(t, task.Request.Input, 1)
	assert.Equal(t, "What is 2+2?", task.Request.Input[0].Text())
	require.NotNil(t, task.Request.Temperature)
	assert.InDelta(t, 0.7, *task.Request.Temperature, 1e-9)

	assert.Equal(t, "4", task.Metadata["expected_answer"])
	assert.Equal(t, "math-001", task.Metadata["task_id"])
	assert.NotContains(t, task.Metadata, "responses_create_params")
}

func TestTaskMarshalJSON_RoundTripsRow(t *testing.T) {
	task := Task{
		Request: ResponsesRequest{
			Input: []Item{NewUserMessage("hello")},
		},
		Metadata: map[string]any{"expected_answer": "world"},
	}

	raw, err := json.Marshal(task)
	require.NoError(t, err)

	var row map[string]any
	require.NoError(t, json.Unmarshal(raw, &row))
	assert.Contains(t, row, "responses_create_params")
	assert.Equal(t, "world", row["expected_answer"])

	var back Task
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, task.Metadata, back.Metadata)
	assert.Equal(t, "hello", back.Request.Input[0].Text())
}

func TestTaskClone_IsDeep(t *testing.T) {
	task := Task{
		Request:  ResponsesRequest{Input: []Item{NewUserMessage("original")}},
		Metadata: map[string]any{"key": "value"},
	}

	clone, err := task.Clone()
	require.NoError(t, err)

	clone.Request.Input[0].Content[0].Text = "mutated"
	clone.Metadata["key"] = "changed"

	assert.Equal(t, "original", task.Request.Input[0].Text())
	assert.Equal(t, "value", task.Metadata["key"])
}

func TestTaskWithOverrides(t *testing.T) {
	temp := 0.2
	task := Task{
		Request: ResponsesRequest{
			Model:       "base-model",
			Input:       []Item{NewUserMessage("prompt")},
			Temperature: &temp,
		},
		Metadata: map[string]any{"id": "t1"},
	}

	merged, err := task.WithOverrides(map[string]any{
		"temperature":       0.9,
		"max_output_tokens": 128,
	})
	require.NoError(t, err)

	// Override wins at matching keys.
	require.NotNil(t, merged.Request.Temperature)
	assert.InDelta(t, 0.9, *merged.Request.Temperature, 1e-9)
	require.NotNil(t, merged.Request.MaxOutputTokens)
	assert.Equal(t, 128, *merged.Request.MaxOutputTokens)

	// Task values absent from the override are preserved.
	assert.Equal(t, "base-model", merged.Request.Model)
	assert.Equal(t, "prompt", merged.Request.Input[0].Text())

	// The original task is untouched.
	assert.InDelta(t, 0.2, *task.Request.Temperature, 1e-9)
	assert.Nil(t, task.Request.MaxOutputTokens)
}

func TestTaskWithOverrides_EmptyIsIdentity(t *testing.T) {
	task := Task{Request: ResponsesRequest{Model: "m"}}
	merged, err := task.WithOverrides(nil)
	require.NoError(t, err)
	assert.Equal(t, task.Request.Model, merged.Request.Model)
}

func TestMergeMaps(t *testing.T) {
	tests := []struct {
		name     string
		base     map[string]any
		override map[string]any
		want     map[string]any
	}{
		{
			name:     "override wins at scalars",
			base:     map[string]any{"a": 1, "b": 2},
			override: map[string]any{"b": 3},
			want:     map[string]any{"a": 1, "b": 3},
		},
		{
			name:     "nested maps merge recursively",
			base:     map[string]any{"outer": map[string]any{"keep": 1, "swap": 2}},
			override: map[string]any{"outer": map[string]any{"swap": 9, "add": 3}},
			want:     map[string]any{"outer": map[string]any{"keep": 1, "swap": 9, "add": 3}},
		},
		{
			name:     "map replaced by scalar",
			base:     map[string]any{"k": map[string]any{"x": 1}},
			override: map[string]any{"k": "flat"},
			want:     map[string]any{"k": "flat"},
		},
		{
			name:     "sequences replace, not concatenate",
			base:     map[string]any{"list": []any{1, 2}},
			override: map[string]any{"list": []any{3}},
			want:     map[string]any{"list": []any{3}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MergeMaps(tt.base, tt.override)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMergeMaps_DoesNotMutateInputs(t *testing.T) {
	base := map[string]any{"nested": map[string]any{"a": 1}}
	override := map[string]any{"nested": map[string]any{"b": 2}}

	MergeMaps(base, override)

	assert.Equal(t, map[string]any{"a": 1}, base["nested"])
	assert.Equal(t, map[string]any{"b": 2}, override["nested"])
}
