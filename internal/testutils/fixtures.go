package testutils

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/ahrav/go-rollouts/internal/domain"
)

// NewTextTask builds a task with a single user message and optional
// metadata.
func NewTextTask(prompt string, metadata map[string]any) domain.Task {
	return domain.Task{
		Request: domain.ResponsesRequest{
			Input: []domain.Item{domain.NewUserMessage(prompt)},
		},
		Metadata: metadata,
	}
}

// WriteTaskFile writes tasks as JSONL into dir and returns the path.
func WriteTaskFile(t *testing.T, dir string, tasks []domain.Task) string {
	t.Helper()

	path := filepath.Join(dir, "tasks.jsonl")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create task file: %v", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	for i, task := range tasks {
		if err := enc.Encode(task); err != nil {
			t.Fatalf("encode task %d: %v", i, err)
		}
	}
	return path
}

// ReadJSONLLines decodes every line of a JSONL file into generic maps,
// failing the test on any malformed line.
func ReadJSONLLines(t *testing.T, path string) []map[string]any {
	t.Helper()

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}

	var rows []map[string]any
	dec := json.NewDecoder(bytes.NewReader(raw))
	for dec.More() {
		var row map[string]any
		if err := dec.Decode(&row); err != nil {
			t.Fatalf("decode line %d of %s: %v", len(rows)+1, path, err)
		}
		rows = append(rows, row)
	}
	return rows
}
