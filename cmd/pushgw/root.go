package main

import (
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	var cfgPath string
	root := &cobra.Command{
		Use:           "pushgw",
		Short:         "pushgw keeps push gateway connections alive",
		Long:          `pushgw maintains long-lived HTTP/2 connections to a push notification gateway and reconnects them with capped exponential backoff.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "./pushgw.yaml", "path to config (yaml or json)")

	root.AddCommand(
		newRunCmd(&cfgPath),
		newPushCmd(&cfgPath),
		newValidateCmd(&cfgPath),
	)
	return root
}
