package application

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/ahrav/go-rollouts/internal/domain"
	"github.com/ahrav/go-rollouts/internal/ports"
)

// UnboundedConcurrency disables the in-flight task bound. Unbounded
// collection is a deliberate opt-in, never the consequence of leaving a
// field unset; callers who want it say so explicitly.
const UnboundedConcurrency = -1

// CollectorConfig holds the run parameters for one collection.
type CollectorConfig struct {
	// Concurrency caps how many tasks are simultaneously in flight
	// through orchestration and verification. Must be positive or the
	// explicit UnboundedConcurrency sentinel; zero is rejected so an
	// accidental zero value cannot silently mean "no limit".
	Concurrency int

	// NumRepeats duplicates each task consecutively before collection,
	// for mean@k and preference-pair generation. Zero means 1.
	NumRepeats int

	// Overrides are global generation-parameter overrides merged into
	// each task's own request, override winning at matching keys.
	Overrides map[string]any
}

// TaskFailure identifies one failed task attempt by its position in the
// expanded task sequence.
type TaskFailure struct {
	Index int
	Err   error
}

// Summary is the final accounting for a collection run: every expanded
// task ends up either a verified rollout in the output file or a
// reported failure. Silently dropping failures is a correctness bug.
type Summary struct {
	Requested int
	Succeeded int
	Failed    int
	Metrics   map[string]float64
	Failures  []TaskFailure
}

// Collector is the top-level pipeline: it expands tasks per repeat
// count, drives the agent runner concurrently under a bounded
// concurrency gate, streams each verified rollout to the output file,
// and aggregates numeric metrics across completions.
type Collector struct {
	runner  ports.AgentRunner
	cfg     CollectorConfig
	logger  *slog.Logger
	metrics ports.MetricsCollector
}

// NewCollector builds a collector around an agent runner. logger and
// metrics may be nil.
func NewCollector(runner ports.AgentRunner, cfg CollectorConfig, logger *slog.Logger, metrics ports.MetricsCollector) *Collector {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Collector{runner: runner, cfg: cfg, logger: logger, metrics: metrics}
}

// ExpandTasks duplicates each task numRepeats times, keeping the copies
// adjacent (A, A, A, B, B, B) so positional pairing and grouping stay
// well-defined downstream. Copies are deep, never aliased.
func ExpandTasks(tasks []domain.Task, numRepeats int) ([]domain.Task, error) {
	if numRepeats <= 0 {
		numRepeats = 1
	}
	out := make([]domain.Task, 0, len(tasks)*numRepeats)
	for _, task := range tasks {
		for i := 0; i < numRepeats; i++ {
			clone, err := task.Clone()
			if err != nil {
				return nil, fmt.Errorf("expand task: %w", err)
			}
			out = append(out, clone)
		}
	}
	return out, nil
}

// Collect runs the full pipeline against the output path. The output
// file is opened in append mode, never truncated, so re-running the
// same command with the same path after an interrupted run continues
// adding lines; slicing already-completed rows out of the input is the
// caller's responsibility.
//
// A single task's failure is reported in the summary but does not abort
// remaining in-flight or queued tasks; the pipeline favors maximal
// completion over fail-fast.
func (c *Collector) Collect(ctx context.Context, tasks []domain.Task, outputPath string) (*Summary, error) {
	if c.cfg.Concurrency == 0 {
		return nil, fmt.Errorf("%w: concurrency must be positive or the explicit UnboundedConcurrency sentinel",
			domain.ErrInvalidConfiguration)
	}
	if c.cfg.Concurrency < 0 && c.cfg.Concurrency != UnboundedConcurrency {
		return nil, fmt.Errorf("%w: invalid concurrency %d", domain.ErrInvalidConfiguration, c.cfg.Concurrency)
	}

	expanded, err := ExpandTasks(tasks, c.cfg.NumRepeats)
	if err != nil {
		return nil, err
	}
	for i := range expanded {
		merged, err := expanded[i].WithOverrides(c.cfg.Overrides)
		if err != nil {
			return nil, fmt.Errorf("apply overrides to task %d: %w", i, err)
		}
		expanded[i] = merged
	}

	writer, err := openRolloutWriter(outputPath)
	if err != nil {
		return nil, err
	}
	defer writer.Close()

	acc := domain.NewMetricsAccumulator()

	// Counting semaphore; nil means unbounded, the documented opt-in.
	var gate chan struct{}
	if c.cfg.Concurrency > 0 {
		gate = make(chan struct{}, c.cfg.Concurrency)
	}

	var (
		wg         sync.WaitGroup
		failMu     sync.Mutex
		failures   []TaskFailure
		okMu       sync.Mutex
		successful int
	)
	recordFailure := func(index int, err error) {
		failMu.Lock()
		defer failMu.Unlock()
		failures = append(failures, TaskFailure{Index: index, Err: err})
	}

	for i, task := range expanded {
		wg.Add(1)
		go func() {
			defer wg.Done()

			if gate != nil {
				select {
				case gate <- struct{}{}:
					defer func() { <-gate }()
				case <-ctx.Done():
					recordFailure(i, ctx.Err())
					return
				}
			}
			if c.metrics != nil {
				c.metrics.RecordGauge("tasks_in_flight", float64(len(gate)), nil)
			}

			rollout, err := c.collectOne(ctx, task)
			if err != nil {
				c.logger.Warn("task attempt failed", "task", i, "error", err)
				if c.metrics != nil {
					c.metrics.RecordCounter("tasks_failed", 1, nil)
				}
				recordFailure(i, err)
				return
			}

			if err := writer.Append(rollout); err != nil {
				recordFailure(i, err)
				return
			}
			acc.Fold(rollout.MetricFields())
			if c.metrics != nil {
				c.metrics.RecordCounter("tasks_succeeded", 1, nil)
			}

			okMu.Lock()
			successful++
			okMu.Unlock()
		}()
	}
	wg.Wait()

	summary := &Summary{
		Requested: len(expanded),
		Succeeded: successful,
		Failed:    len(failures),
		Metrics:   acc.Means(),
		Failures:  failures,
	}
	c.logger.Info("collection finished",
		"requested", summary.Requested,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed)
	return summary, nil
}

// collectOne is the per-task unit of work: orchestrate, then verify.
func (c *Collector) collectOne(ctx context.Context, task domain.Task) (*domain.VerifiedRollout, error) {
	interaction, err := c.runner.Run(ctx, task)
	if err != nil {
		return nil, fmt.Errorf("orchestrate: %w", err)
	}
	return c.runner.Verify(ctx, interaction)
}

// rolloutWriter serializes verified rollouts as newline-delimited JSON.
// Appends are serialized under a mutex so concurrent completions cannot
// interleave partial lines.
type rolloutWriter struct {
	mu sync.Mutex
	f  *os.File
}

// openRolloutWriter opens the output file for appending, creating it if
// absent. The file is never truncated on start; that is what makes
// interrupted runs resumable.
func openRolloutWriter(path string) (*rolloutWriter, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open output %s: %w", path, err)
	}
	return &rolloutWriter{f: f}, nil
}

// Append writes one rollout as a single JSON line.
func (w *rolloutWriter) Append(r *domain.VerifiedRollout) error {
	line, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode rollout: %w", err)
	}
	line = append(line, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.f.Write(line); err != nil {
		return fmt.Errorf("append rollout: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying file.
func (w *rolloutWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.f.Close()
}
