package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newValidateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Resolve and validate the layered configuration",
		Long: `validate merges the configuration layers, resolves variable
references, validates every service declaration, and prints the fully
resolved tree. All validation failures are reported together.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}

			raw, err := cfg.YAML()
			if err != nil {
				return fmt.Errorf("render configuration: %w", err)
			}
			cmd.Print(string(raw))

			services := cfg.Services()
			fmt.Fprintf(cmd.ErrOrStderr(), "\n%d service(s) declared:\n", len(services))
			for _, svc := range services {
				fmt.Fprintf(cmd.ErrOrStderr(), "  %s.%s.%s at %s\n",
					svc.Name, svc.Category, svc.Kind, svc.BaseURL())
			}
			return nil
		},
	}
}
