package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ahrav/go-rollouts/infrastructure/head"
	"github.com/ahrav/go-rollouts/infrastructure/middleware"
	"github.com/ahrav/go-rollouts/infrastructure/model"
	"github.com/ahrav/go-rollouts/infrastructure/resource"
	"github.com/ahrav/go-rollouts/internal/application"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the head server and every declared service",
		Long: `serve starts the head server plus every model and resource service
the configuration declares, all in one process. Services listen at
their configured or auto-assigned endpoints and register themselves in
the head server's registry. The process runs until interrupted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			logger := opts.logger()
			metrics := middleware.NewPrometheusMetrics(nil)

			registry := application.NewServiceRegistry(cfg)
			if err := registry.SeedDeclared(); err != nil {
				return err
			}

			g, ctx := errgroup.WithContext(cmd.Context())

			headSrv := head.NewServer(cfg, registry, logger.With("component", "head"))
			g.Go(func() error { return headSrv.ListenAndServe(ctx) })

			for _, decl := range cfg.Services() {
				addr := fmt.Sprintf("%s:%d", decl.Endpoint.Host, decl.Endpoint.Port)

				switch decl.Category {
				case application.CategoryModel:
					srv, err := buildModelServer(decl, metrics, logger)
					if err != nil {
						return err
					}
					g.Go(func() error { return srv.ListenAndServe(ctx, addr) })

				case application.CategoryResource:
					srv, err := buildResourceServer(decl, logger)
					if err != nil {
						return err
					}
					g.Go(func() error { return srv.ListenAndServe(ctx, addr) })

				case application.CategoryAgent:
					// Agents run inside collect, not as servers.
				}
			}

			logger.Info("services started", "head", cfg.Head().BaseURL())
			return g.Wait()
		},
	}
}

func buildModelServer(decl application.ServiceDecl, metrics *middleware.PrometheusMetrics, logger *slog.Logger) (*model.Server, error) {
	var settings model.ServiceSettings
	if err := decl.DecodeSettings(&settings); err != nil {
		return nil, fmt.Errorf("model service %s: %w", decl.Name, err)
	}

	core, err := model.BuildCoreModel(decl.Name, settings, metrics)
	if err != nil {
		return nil, err
	}
	return model.NewServer(core, logger.With("component", "model", "service", decl.Name)), nil
}

func buildResourceServer(decl application.ServiceDecl, logger *slog.Logger) (*resource.Server, error) {
	serviceLogger := logger.With("component", "resource", "service", decl.Name)

	switch decl.Kind {
	case "grader":
		config := resource.DefaultGraderConfig()
		if err := decl.DecodeSettings(&config); err != nil {
			return nil, fmt.Errorf("grader %s: %w", decl.Name, err)
		}
		return resource.NewGraderServer(decl.Name, config, serviceLogger)

	case "calculator":
		return resource.NewCalculatorServer(decl.Name, serviceLogger), nil

	default:
		return nil, fmt.Errorf("resource service %s: unsupported kind %q", decl.Name, decl.Kind)
	}
}
