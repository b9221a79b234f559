package domain

import (
	"encoding/json"
	"fmt"
	"math"
)

// FinishReason records why an interaction stopped.
type FinishReason string

const (
	// FinishReasonStop means the model produced output with no further
	// tool calls.
	FinishReasonStop FinishReason = "stop"
	// FinishReasonMaxSteps means the configured step cap was reached.
	// This is a defined terminal state, not an error; the partial
	// trajectory is still returned for verification and filtering.
	FinishReasonMaxSteps FinishReason = "max_steps"
)

// Interaction is the complete recorded trace of one agent attempt at one
// task: the original task plus the full ordered sequence of input items,
// model outputs, and tool results accumulated over the multi-turn loop.
type Interaction struct {
	// Task is the original dataset row that initiated the interaction.
	Task Task `json:"task"`

	// Items is the running input at the end of the loop: the task's
	// initial input followed by every model output and tool result, in
	// the order the next model call would have seen them.
	Items []Item `json:"items"`

	// Output holds only the model-produced items across all turns,
	// in emission order.
	Output []Item `json:"output"`

	// ModelCalls is the number of model service calls issued.
	ModelCalls int `json:"model_calls"`

	// Finish records the terminal condition.
	Finish FinishReason `json:"finish_reason"`
}

// VerifyRequest is the payload for a resource service's /verify endpoint.
type VerifyRequest struct {
	RequestParameters    Task   `json:"request_parameters"`
	CompletedInteraction []Item `json:"completed_interaction"`
}

// VerifyResponse is what a verifier returns: the request fields echoed
// back, a mandatory numeric reward, and any number of auxiliary
// numeric or boolean metric fields.
type VerifyResponse struct {
	RequestParameters    Task   `json:"request_parameters"`
	CompletedInteraction []Item `json:"completed_interaction"`

	// Reward is the verifier's score. A missing or non-finite reward is
	// a verification error, never silently defaulted.
	Reward float64 `json:"reward"`

	// Extra carries every additional field returned by the verifier.
	Extra map[string]any `json:"-"`
}

// verifyResponseKnown mirrors VerifyResponse's fixed fields for decoding.
// Reward is a pointer so absence can be told apart from zero.
type verifyResponseKnown struct {
	RequestParameters    Task     `json:"request_parameters"`
	CompletedInteraction []Item   `json:"completed_interaction"`
	Reward               *float64 `json:"reward"`
}

// UnmarshalJSON decodes the fixed fields and collects everything else
// into Extra. It fails if the reward is absent or not a finite number.
func (v *VerifyResponse) UnmarshalJSON(data []byte) error {
	var known verifyResponseKnown
	if err := json.Unmarshal(data, &known); err != nil {
		return err
	}
	if known.Reward == nil {
		return ErrMissingReward
	}
	if math.IsNaN(*known.Reward) || math.IsInf(*known.Reward, 0) {
		return fmt.Errorf("%w: %v", ErrRewardNotFinite, *known.Reward)
	}

	var all map[string]any
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	delete(all, "request_parameters")
	delete(all, "completed_interaction")
	delete(all, "reward")

	v.RequestParameters = known.RequestParameters
	v.CompletedInteraction = known.CompletedInteraction
	v.Reward = *known.Reward
	v.Extra = all
	return nil
}

// MarshalJSON flattens Extra back alongside the fixed fields.
func (v VerifyResponse) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(v.Extra)+3)
	for k, val := range v.Extra {
		out[k] = val
	}
	out["request_parameters"] = v.RequestParameters
	out["completed_interaction"] = v.CompletedInteraction
	out["reward"] = v.Reward
	return json.Marshal(out)
}

// VerifiedRollout is an interaction extended by verification with a
// reward and optional auxiliary metric fields. It is the unit appended
// to the output dataset, one JSON line per rollout.
type VerifiedRollout struct {
	Task   Task
	Items  []Item
	Reward float64
	Extra  map[string]any
}

// NewVerifiedRollout combines a completed interaction with its verifier
// response. It validates that the reward is a finite number.
func NewVerifiedRollout(in *Interaction, vr *VerifyResponse) (*VerifiedRollout, error) {
	if math.IsNaN(vr.Reward) || math.IsInf(vr.Reward, 0) {
		return nil, fmt.Errorf("%w: %v", ErrRewardNotFinite, vr.Reward)
	}
	return &VerifiedRollout{
		Task:   in.Task,
		Items:  in.Items,
		Reward: vr.Reward,
		Extra:  vr.Extra,
	}, nil
}

// MetricFields returns the reward plus the auxiliary fields, the
// mapping folded into the run's aggregate metrics.
func (r *VerifiedRollout) MetricFields() map[string]any {
	out := make(map[string]any, len(r.Extra)+1)
	for k, v := range r.Extra {
		out[k] = v
	}
	out["reward"] = r.Reward
	return out
}

// MarshalJSON writes one output-file line: the task's fields, the full
// item sequence, the reward, and every auxiliary verifier field.
func (r VerifiedRollout) MarshalJSON() ([]byte, error) {
	taskRaw, err := json.Marshal(r.Task)
	if err != nil {
		return nil, fmt.Errorf("encode task: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(taskRaw, &out); err != nil {
		return nil, fmt.Errorf("flatten task: %w", err)
	}
	for k, v := range r.Extra {
		out[k] = v
	}
	out["completed_interaction"] = r.Items
	out["reward"] = r.Reward
	return json.Marshal(out)
}
