package application

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ahrav/go-rollouts/internal/domain"
	"github.com/ahrav/go-rollouts/internal/ports"
)

// Verify interface compliance at compile time.
var _ ports.AgentRunner = (*Orchestrator)(nil)

// LoopState identifies a phase of the multi-turn interaction loop.
type LoopState string

const (
	// StateAwaitingModel means the next action is a model service call
	// with the current running input.
	StateAwaitingModel LoopState = "awaiting_model"
	// StateExecutingTools means the latest model output requested tool
	// calls that have not yet been executed.
	StateExecutingTools LoopState = "executing_tools"
	// StateDone means the interaction is complete; no further model or
	// tool calls are issued.
	StateDone LoopState = "done"
)

// ToolFailurePolicy selects how a failed tool call affects the task.
type ToolFailurePolicy string

const (
	// ToolFailuresRecord surfaces a failed tool call to the model as a
	// failure-shaped tool output so it can observe and react. Sibling
	// tool calls in the same step are unaffected. This is the default.
	ToolFailuresRecord ToolFailurePolicy = "record"
	// ToolFailuresFatal aborts the task attempt on any tool failure.
	ToolFailuresFatal ToolFailurePolicy = "fatal"
)

// DefaultMaxSteps bounds the number of model calls per task when the
// agent declaration does not configure one.
const DefaultMaxSteps = 10

// OrchestratorConfig holds the agent loop's tunables, decoded from the
// agent service declaration's settings block.
type OrchestratorConfig struct {
	// MaxSteps caps the number of model service calls per task.
	// Reaching the cap is a defined terminal state, not an error.
	MaxSteps int `yaml:"max_steps" json:"max_steps" validate:"omitempty,min=1"`

	// ToolFailures selects the failure policy for tool calls.
	ToolFailures ToolFailurePolicy `yaml:"tool_failures" json:"tool_failures" validate:"omitempty,oneof=record fatal"`

	// Tools is the advertised tool surface, typically discovered from
	// the resource service at wiring time. Tasks that declare their own
	// tools keep them; the advertised set fills in for the rest.
	Tools []domain.ToolSpec `yaml:"-" json:"-"`
}

// withDefaults fills unset fields.
func (c OrchestratorConfig) withDefaults() OrchestratorConfig {
	if c.MaxSteps <= 0 {
		c.MaxSteps = DefaultMaxSteps
	}
	if c.ToolFailures == "" {
		c.ToolFailures = ToolFailuresRecord
	}
	return c
}

// Orchestrator drives the multi-turn control loop for one task at a
// time: it alternates model service calls with concurrent tool
// execution on the resource service until the model stops requesting
// tools or the step cap is reached. The orchestrator is stateless
// between tasks and safe for concurrent use by the collector.
type Orchestrator struct {
	model    ports.ModelClient
	resource ports.ResourceClient
	cfg      OrchestratorConfig
	logger   *slog.Logger
	metrics  ports.MetricsCollector
}

// NewOrchestrator wires an agent loop to its model and resource
// clients. logger and metrics may be nil.
func NewOrchestrator(
	model ports.ModelClient,
	resource ports.ResourceClient,
	cfg OrchestratorConfig,
	logger *slog.Logger,
	metrics ports.MetricsCollector,
) *Orchestrator {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Orchestrator{
		model:    model,
		resource: resource,
		cfg:      cfg.withDefaults(),
		logger:   logger,
		metrics:  metrics,
	}
}

// loopState is the explicit interaction state machine. Transitions are
// driven by Orchestrator.Run; keeping the state in a value makes each
// transition unit-testable without a live service.
type loopState struct {
	task  domain.Task
	state LoopState

	// items is the running input: initial task input plus every model
	// output and tool result in order.
	items []domain.Item
	// output accumulates model-produced items only.
	output []domain.Item
	// pendingCalls holds the latest model output's tool requests.
	pendingCalls []domain.Item

	modelCalls int
	finish     domain.FinishReason
}

func newLoopState(task domain.Task) *loopState {
	items := make([]domain.Item, len(task.Request.Input))
	copy(items, task.Request.Input)
	return &loopState{task: task, state: StateAwaitingModel, items: items}
}

func (s *loopState) interaction() *domain.Interaction {
	return &domain.Interaction{
		Task:       s.task,
		Items:      s.items,
		Output:     s.output,
		ModelCalls: s.modelCalls,
		Finish:     s.finish,
	}
}

// Run produces one interaction record for the task. A model service
// failure is fatal to this one attempt and is propagated, not retried;
// retry policy belongs to the collector.
func (o *Orchestrator) Run(ctx context.Context, task domain.Task) (*domain.Interaction, error) {
	st := newLoopState(task)

	for st.state != StateDone {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		var err error
		switch st.state {
		case StateAwaitingModel:
			err = o.stepModel(ctx, st)
		case StateExecutingTools:
			err = o.stepTools(ctx, st)
		default:
			err = fmt.Errorf("unknown loop state %q", st.state)
		}
		if err != nil {
			return nil, err
		}
	}

	return st.interaction(), nil
}

// stepModel performs the AwaitingModel transition: one model call with
// the current running input. Zero tool calls in the output, or hitting
// the step cap, terminates the loop; otherwise the requested calls move
// to the ExecutingTools phase.
func (o *Orchestrator) stepModel(ctx context.Context, st *loopState) error {
	req := st.task.Request
	req.Input = st.items
	if len(req.Tools) == 0 {
		req.Tools = o.cfg.Tools
	}

	start := time.Now()
	resp, err := o.model.Responses(ctx, req)
	elapsed := time.Since(start)
	if err != nil {
		return fmt.Errorf("model call %d: %w", st.modelCalls+1, err)
	}
	st.modelCalls++

	if o.metrics != nil {
		o.metrics.RecordLatency("model_call", elapsed, nil)
	}
	o.logger.Debug("model call completed",
		"step", st.modelCalls,
		"output_items", len(resp.Output),
		"elapsed", elapsed)

	st.items = append(st.items, resp.Output...)
	st.output = append(st.output, resp.Output...)
	st.pendingCalls = resp.FunctionCalls()

	switch {
	case len(st.pendingCalls) == 0:
		st.state = StateDone
		st.finish = domain.FinishReasonStop
	case st.modelCalls >= o.cfg.MaxSteps:
		// The cap is a defined terminal state; the partial trajectory
		// is still returned for verification and downstream filtering.
		o.logger.Debug("step cap reached", "max_steps", o.cfg.MaxSteps)
		st.state = StateDone
		st.finish = domain.FinishReasonMaxSteps
	default:
		st.state = StateExecutingTools
	}
	return nil
}

// stepTools performs the ExecutingTools transition: every tool call
// requested by the latest model turn is issued concurrently, and the
// outputs are re-attached in request order tagged by call id, so the
// next model call sees a deterministic call-to-result mapping
// regardless of network timing.
func (o *Orchestrator) stepTools(ctx context.Context, st *loopState) error {
	results := make([]domain.Item, len(st.pendingCalls))

	g, gctx := errgroup.WithContext(ctx)
	for i, call := range st.pendingCalls {
		g.Go(func() error {
			out, err := o.resource.CallTool(gctx, call.Name, json.RawMessage(call.Arguments))
			if err != nil {
				if o.cfg.ToolFailures == ToolFailuresFatal {
					return fmt.Errorf("tool %s (call %s): %w", call.Name, call.CallID, err)
				}
				if o.metrics != nil {
					o.metrics.RecordCounter("tool_errors", 1, map[string]string{"tool": call.Name})
				}
				o.logger.Warn("tool call failed", "tool", call.Name, "call_id", call.CallID, "error", err)
				results[i] = domain.NewFunctionCallOutput(call.CallID, toolFailureOutput(err))
				return nil
			}
			results[i] = domain.NewFunctionCallOutput(call.CallID, string(out))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	st.items = append(st.items, results...)
	st.pendingCalls = nil
	st.state = StateAwaitingModel
	return nil
}

// toolFailureOutput renders a failed tool call as a JSON body the model
// can observe in its next turn.
func toolFailureOutput(err error) string {
	body, mErr := json.Marshal(map[string]any{"error": err.Error()})
	if mErr != nil {
		return fmt.Sprintf(`{"error":%q}`, err.Error())
	}
	return string(body)
}

// Verify scores a completed interaction via the resource service's
// verification endpoint. Verification happens exactly once per
// interaction before the record is considered final; a response
// without a finite reward is an error, never a default.
func (o *Orchestrator) Verify(ctx context.Context, in *domain.Interaction) (*domain.VerifiedRollout, error) {
	resp, err := o.resource.Verify(ctx, domain.VerifyRequest{
		RequestParameters:    in.Task,
		CompletedInteraction: in.Items,
	})
	if err != nil {
		return nil, fmt.Errorf("verify: %w", err)
	}

	rollout, err := domain.NewVerifiedRollout(in, resp)
	if err != nil {
		return nil, err
	}
	if o.metrics != nil {
		o.metrics.RecordHistogram("reward", rollout.Reward, nil)
	}
	return rollout, nil
}
