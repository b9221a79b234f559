package main

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/ahrav/go-rollouts/infrastructure/transport"
	"github.com/ahrav/go-rollouts/internal/application"
)

// healthWaitTimeout bounds how long collect waits for the agent's
// collaborating services to come up.
const healthWaitTimeout = 30 * time.Second

type collectOptions struct {
	agent       string
	input       string
	output      string
	headURL     string
	limit       int
	numRepeats  int
	concurrency int
}

func newCollectCmd(opts *rootOptions) *cobra.Command {
	cOpts := &collectOptions{}

	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Run an agent over a task dataset and collect verified rollouts",
		Long: `collect reads tasks from a JSONL dataset, drives the named agent
over each one, verifies the completed interactions, and appends one
reward-annotated JSON line per success to the output file.

The output is opened in append mode, so re-running after an interrupt
continues adding lines instead of clobbering earlier work. Trim
already-collected rows from the input before resuming.

When the services run in another process (started with serve), pass
--head so collect fetches the resolved configuration and the live
endpoints from the head server instead of re-resolving local files.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCollect(cmd.Context(), cmd, opts, cOpts)
		},
	}

	cmd.Flags().StringVar(&cOpts.agent, "agent", "", "name of the declared agent to run (required)")
	cmd.Flags().StringVar(&cOpts.input, "input", "", "task dataset in JSONL form (required)")
	cmd.Flags().StringVar(&cOpts.output, "output", "", "output JSONL file, opened for append (required)")
	cmd.Flags().StringVar(&cOpts.headURL, "head", "",
		"head server base URL to fetch configuration and live endpoints from, e.g. http://127.0.0.1:11000")
	cmd.Flags().IntVar(&cOpts.limit, "limit", 0, "truncate the dataset to its first N tasks (0 = all)")
	cmd.Flags().IntVar(&cOpts.numRepeats, "num-repeats", 1, "consecutive attempts per task")
	cmd.Flags().IntVar(&cOpts.concurrency, "num-samples-in-parallel", 8,
		"max tasks in flight at once (-1 = unbounded)")
	_ = cmd.MarkFlagRequired("agent")
	_ = cmd.MarkFlagRequired("input")
	_ = cmd.MarkFlagRequired("output")

	return cmd
}

func runCollect(ctx context.Context, cmd *cobra.Command, opts *rootOptions, cOpts *collectOptions) error {
	cfg, registry, err := discoverServices(ctx, opts, cOpts)
	if err != nil {
		return err
	}
	logger := opts.logger()

	agent, ok := cfg.Service(cOpts.agent)
	if !ok {
		return fmt.Errorf("agent %q is not declared in the configuration", cOpts.agent)
	}
	if agent.Category != application.CategoryAgent {
		return fmt.Errorf("service %q has category %s, not agent", cOpts.agent, agent.Category)
	}

	modelRef, _ := agent.Ref(application.ModelServerRefKey)
	resourceRef, _ := agent.Ref(application.ResourceServerRefKey)

	var orchCfg application.OrchestratorConfig
	if err := agent.DecodeSettings(&orchCfg); err != nil {
		return fmt.Errorf("agent %s settings: %w", agent.Name, err)
	}

	client := transport.NewClient(registry, transport.ClientConfig{})

	waitCtx, cancel := context.WithTimeout(ctx, healthWaitTimeout)
	defer cancel()
	if err := transport.WaitHealthy(waitCtx, client, modelRef.Category, modelRef.Name); err != nil {
		return fmt.Errorf("model service not reachable: %w", err)
	}
	if err := transport.WaitHealthy(waitCtx, client, resourceRef.Category, resourceRef.Name); err != nil {
		return fmt.Errorf("resource service not reachable: %w", err)
	}

	modelClient := transport.NewModelServiceClient(client, modelRef.Name)
	resourceClient := transport.NewResourceServiceClient(client, resourceRef.Name)

	if tools, err := resourceClient.ListTools(ctx); err != nil {
		logger.Warn("tool discovery failed, continuing without advertised tools", "error", err)
	} else {
		orchCfg.Tools = tools
	}

	tasks, err := application.ReadTasks(cOpts.input, cOpts.limit)
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		return fmt.Errorf("dataset %s contains no tasks", cOpts.input)
	}

	orch := application.NewOrchestrator(modelClient, resourceClient, orchCfg, logger.With("agent", agent.Name), nil)
	collector := application.NewCollector(orch, application.CollectorConfig{
		Concurrency: cOpts.concurrency,
		NumRepeats:  cOpts.numRepeats,
	}, logger, nil)

	summary, err := collector.Collect(ctx, tasks, cOpts.output)
	if err != nil {
		return err
	}

	printSummary(cmd, summary, cOpts.output)
	if summary.Succeeded == 0 && summary.Failed > 0 {
		return fmt.Errorf("every task attempt failed")
	}
	return nil
}

// discoverServices produces the resolved configuration and a seeded
// registry. With --head, both come from the head server, so collect
// sees the exact ports the serving process bound. Without it, the
// local files must pin every server port: an auto-assigned port only
// exists in the process that assigned it, so seeding one here would
// point the registry at an endpoint nothing listens on.
func discoverServices(ctx context.Context, opts *rootOptions, cOpts *collectOptions) (*application.ResolvedConfig, *application.ServiceRegistry, error) {
	if cOpts.headURL != "" {
		headClient := transport.NewHeadClient(cOpts.headURL, transport.ClientConfig{Timeout: healthWaitTimeout})

		raw, err := headClient.FetchConfigYAML(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("fetch configuration from head server: %w", err)
		}
		cfg, err := application.NewLoader().LoadBytes(raw)
		if err != nil {
			return nil, nil, err
		}

		entries, err := headClient.FetchServices(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("fetch live services from head server: %w", err)
		}
		registry := application.NewServiceRegistry(cfg)
		for name, baseURL := range entries {
			if err := registry.Register(name, baseURL); err != nil {
				return nil, nil, fmt.Errorf("adopt head registration for %s: %w", name, err)
			}
		}
		return cfg, registry, nil
	}

	cfg, err := opts.loadConfig()
	if err != nil {
		return nil, nil, err
	}
	for _, decl := range cfg.Services() {
		if decl.Category == application.CategoryAgent {
			continue
		}
		if decl.AutoAssignedPort {
			return nil, nil, fmt.Errorf(
				"service %q has no declared port; the serving process assigned its own, so pass --head to discover it or pin the port in configuration",
				decl.Name)
		}
	}
	registry := application.NewServiceRegistry(cfg)
	if err := registry.SeedDeclared(); err != nil {
		return nil, nil, err
	}
	return cfg, registry, nil
}

func printSummary(cmd *cobra.Command, summary *application.Summary, output string) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "collected %d/%d rollouts into %s (%d failed)\n",
		summary.Succeeded, summary.Requested, output, summary.Failed)

	if len(summary.Metrics) > 0 {
		names := make([]string, 0, len(summary.Metrics))
		for name := range summary.Metrics {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(out, "  mean %s: %.4f\n", name, summary.Metrics[name])
		}
	}
	for _, failure := range summary.Failures {
		fmt.Fprintf(out, "  task %d failed: %v\n", failure.Index, failure.Err)
	}
}
