package resource

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/ahrav/go-rollouts/internal/domain"
)

// DefaultResultKey is the task metadata key holding the expected
// numeric result for calculator verification.
const DefaultResultKey = "expected_result"

// resultTolerance absorbs float formatting differences between the
// model's final answer and the expected value.
const resultTolerance = 1e-9

// binaryArgs is the argument shape shared by every calculator tool.
type binaryArgs struct {
	A float64 `json:"a"`
	B float64 `json:"b"`
}

type binaryResult struct {
	Result float64 `json:"result"`
}

// NewCalculatorServer assembles a resource server exposing arithmetic
// tools. It exercises the full multi-turn loop: the model must call
// tools, read their outputs, and state the final result, which
// verification then checks against the task's expected value.
func NewCalculatorServer(name string, logger *slog.Logger) *Server {
	s := NewServer(name, &calculatorVerifier{resultKey: DefaultResultKey}, logger)

	register := func(opName, description string, op func(a, b float64) (float64, error)) {
		s.RegisterTool(domain.ToolSpec{
			Type:        "function",
			Name:        opName,
			Description: description,
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"a": map[string]any{"type": "number"},
					"b": map[string]any{"type": "number"},
				},
				"required": []any{"a", "b"},
			},
		}, func(_ context.Context, raw json.RawMessage) (json.RawMessage, error) {
			var args binaryArgs
			if err := json.Unmarshal(raw, &args); err != nil {
				return nil, fmt.Errorf("%s: invalid arguments: %w", opName, err)
			}
			result, err := op(args.A, args.B)
			if err != nil {
				return nil, err
			}
			return json.Marshal(binaryResult{Result: result})
		})
	}

	register("add", "Add two numbers and return their sum.",
		func(a, b float64) (float64, error) { return a + b, nil })
	register("subtract", "Subtract b from a and return the difference.",
		func(a, b float64) (float64, error) { return a - b, nil })
	register("multiply", "Multiply two numbers and return their product.",
		func(a, b float64) (float64, error) { return a * b, nil })
	register("divide", "Divide a by b and return the quotient.",
		func(a, b float64) (float64, error) {
			if b == 0 {
				return 0, fmt.Errorf("divide: division by zero")
			}
			return a / b, nil
		})

	return s
}

// calculatorVerifier scores an interaction by checking whether the
// final assistant message states the expected numeric result.
type calculatorVerifier struct {
	resultKey string
}

func (v *calculatorVerifier) Verify(_ context.Context, req domain.VerifyRequest) (*domain.VerifyResponse, error) {
	expected, err := v.expectedResult(req.RequestParameters)
	if err != nil {
		return nil, err
	}

	finalText := finalAssistantText(req.CompletedInteraction)
	stated, found := lastNumber(finalText)

	reward := 0.0
	if found && math.Abs(stated-expected) <= resultTolerance {
		reward = 1.0
	}

	extra := map[string]any{"answer_found": found}
	if found {
		extra["stated_result"] = stated
	}

	return &domain.VerifyResponse{
		RequestParameters:    req.RequestParameters,
		CompletedInteraction: req.CompletedInteraction,
		Reward:               reward,
		Extra:                extra,
	}, nil
}

func (v *calculatorVerifier) expectedResult(task domain.Task) (float64, error) {
	raw, ok := task.Metadata[v.resultKey]
	if !ok {
		return 0, fmt.Errorf("task is missing expected result key %q", v.resultKey)
	}
	switch value := raw.(type) {
	case float64:
		return value, nil
	case int:
		return float64(value), nil
	case json.Number:
		return value.Float64()
	case string:
		return strconv.ParseFloat(value, 64)
	default:
		return 0, fmt.Errorf("expected result under %q is not numeric", v.resultKey)
	}
}

// lastNumber extracts the last parseable number from text, tolerating
// surrounding punctuation. Models tend to state the answer last.
func lastNumber(text string) (float64, bool) {
	fields := strings.Fields(text)
	for i := len(fields) - 1; i >= 0; i-- {
		token := strings.Trim(fields[i], ".,;:!?()[]$")
		token = strings.ReplaceAll(token, ",", "")
		if value, err := strconv.ParseFloat(token, 64); err == nil {
			return value, true
		}
	}
	return 0, false
}
