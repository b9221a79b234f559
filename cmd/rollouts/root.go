package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ahrav/go-rollouts/internal/application"
)

// rootOptions carries the configuration flags shared by every
// subcommand.
type rootOptions struct {
	configPaths []string
	secretsPath string
	overrides   []string
	logLevel    string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "rollouts",
		Short: "Collect verified agent rollouts for training data generation",
		Long: `rollouts drives LLM agents against tool-providing resource servers,
verifies each completed interaction, and writes reward-annotated
records ready for downstream training.

Configuration is layered: base files merge in order, an optional
secrets overlay merges on top, and --set overrides win over both.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringSliceVarP(&opts.configPaths, "config", "c", nil,
		"base configuration files, merged in order (later wins)")
	cmd.PersistentFlags().StringVar(&opts.secretsPath, "secrets", "",
		"secrets overlay file merged over the base configuration")
	cmd.PersistentFlags().StringArrayVar(&opts.overrides, "set", nil,
		"configuration overrides as path.to.key=value (highest precedence)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info",
		"log level: debug, info, warn, error")

	cmd.AddCommand(
		newValidateCmd(opts),
		newServeCmd(opts),
		newCollectCmd(opts),
	)
	return cmd
}

// loadConfig resolves the layered configuration named by the shared
// flags.
func (o *rootOptions) loadConfig() (*application.ResolvedConfig, error) {
	if len(o.configPaths) == 0 {
		return nil, fmt.Errorf("at least one --config file is required")
	}
	loader := application.NewLoader()
	return loader.Load(application.LoadOptions{
		BaseSources:   o.configPaths,
		OverlaySource: o.secretsPath,
		Overrides:     o.overrides,
	})
}

// logger builds a structured logger at the configured level.
func (o *rootOptions) logger() *slog.Logger {
	var level slog.Level
	switch o.logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
