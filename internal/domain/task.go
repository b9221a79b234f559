package domain

import (
	"encoding/json"
	"fmt"
)

// taskRequestKey is the dataset row key holding the generation request.
const taskRequestKey = "responses_create_params"

// Task is one row of an input dataset: the Responses-API request that
// initiates the interaction, plus arbitrary task metadata consumed by
// the resource service's verification logic (expected answers, grading
// hints, identifiers). Tasks are immutable once read from the dataset;
// every transformation returns a new value.
type Task struct {
	// Request holds the generation parameters for the initial model call,
	// including input items and tool specifications.
	Request ResponsesRequest

	// Metadata carries every dataset row field other than the request,
	// untouched, for the verifier to interpret.
	Metadata map[string]any
}

// UnmarshalJSON splits a dataset row into the generation request and the
// remaining metadata fields.
func (t *Task) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	if reqRaw, ok := raw[taskRequestKey]; ok {
		if err := json.Unmarshal(reqRaw, &t.Request); err != nil {
			return fmt.Errorf("decode %s: %w", taskRequestKey, err)
		}
		delete(raw, taskRequestKey)
	}

	t.Metadata = make(map[string]any, len(raw))
	for k, v := range raw {
		var val any
		if err := json.Unmarshal(v, &val); err != nil {
			return fmt.Errorf("decode task field %q: %w", k, err)
		}
		t.Metadata[k] = val
	}
	return nil
}

// MarshalJSON re-flattens the task into a single JSON object with the
// generation request under its dataset key.
func (t Task) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(t.Metadata)+1)
	for k, v := range t.Metadata {
		out[k] = v
	}
	out[taskRequestKey] = t.Request
	return json.Marshal(out)
}

// Clone returns a deep copy of the task. The pipeline clones tasks at
// repeat-expansion time so later per-task parameter merges cannot alias.
func (t Task) Clone() (Task, error) {
	raw, err := json.Marshal(t)
	if err != nil {
		return Task{}, fmt.Errorf("encode task: %w", err)
	}
	var out Task
	if err := json.Unmarshal(raw, &out); err != nil {
		return Task{}, fmt.Errorf("decode task: %w", err)
	}
	return out, nil
}

// WithOverrides merges global per-run generation-parameter overrides
// into the task's own request. Override values win at matching keys;
// task values absent from the override are preserved. Nested mappings
// merge recursively; scalars and sequences replace.
func (t Task) WithOverrides(overrides map[string]any) (Task, error) {
	if len(overrides) == 0 {
		return t, nil
	}

	params, err := t.Request.ParamsMap()
	if err != nil {
		return Task{}, err
	}
	merged := MergeMaps(params, overrides)

	req, err := RequestFromParams(merged)
	if err != nil {
		return Task{}, err
	}

	out := t
	out.Request = req
	return out, nil
}

// MergeMaps deep-merges override into base and returns a new map.
// Keys from both sides are unioned; on conflict the override side wins
// unless both values are mappings, in which case they merge recursively.
// Neither input is modified.
func MergeMaps(base, override map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, ov := range override {
		if bm, ok := out[k].(map[string]any); ok {
			if om, ok := ov.(map[string]any); ok {
				out[k] = MergeMaps(bm, om)
				continue
			}
		}
		out[k] = ov
	}
	return out
}
