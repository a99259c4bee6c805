package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"lectern/internal/config"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the lectern configuration file",
	}

	configCmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write a sample config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ctx.configPath()
			if err := config.WriteSample(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote sample config to %s\n", path)
			return nil
		},
	})

	configCmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Load and validate the config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Config OK (%s)\n", ctx.configPath())
			fmt.Fprintf(out, "  Data dir:  %s\n", cfg.Paths.DataDir)
			fmt.Fprintf(out, "  Cache dir: %s\n", cfg.Paths.CacheDir)
			fmt.Fprintf(out, "  Socket:    %s\n", cfg.Paths.Socket)
			fmt.Fprintf(out, "  Model:     %s\n", cfg.Summarizer.Model)
			return nil
		},
	})

	return configCmd
}
