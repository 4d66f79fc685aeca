package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"pushgw/internal/config"
)

func newValidateCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Parse and validate the config, then exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.NewManager(*cfgPath).Load()
			if err != nil {
				return err
			}
			ds, err := cfg.Descriptors()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, d := range ds {
				fmt.Fprintf(out, "%s\t%s\t%s\n", d.Name(), d.Authority(), d.AuthMode())
			}
			fmt.Fprintf(out, "config ok: %d connection(s)\n", len(ds))
			return nil
		},
	}
}
