package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"lectern/internal/ipc"
)

func newDaemonCommand(ctx *commandContext) *cobra.Command {
	daemonCmd := &cobra.Command{
		Use:   "daemon",
		Short: "Inspect and control the lecternd daemon",
	}

	daemonCmd.AddCommand(newDaemonStatusCommand(ctx))
	daemonCmd.AddCommand(newDaemonStopCommand(ctx))

	return daemonCmd
}

func newDaemonStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon and pipeline health",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.DaemonStatus()
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd, resp)
				}
				printDaemonStatus(cmd, resp)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit status as JSON")
	return cmd
}

func printDaemonStatus(cmd *cobra.Command, resp ipc.DaemonStatusResponse) {
	out := cmd.OutOrStdout()
	state := "stopped"
	if resp.Running {
		state = "running"
	}
	fmt.Fprintf(out, "Daemon: %s (pid %d)\n", state, resp.PID)
	fmt.Fprintf(out, "  Queue DB: %s\n", resp.QueueDBPath)
	fmt.Fprintf(out, "  Lock:     %s\n", resp.LockPath)
	if resp.Pipeline.LastError != "" {
		fmt.Fprintf(out, "  Last error: %s\n", resp.Pipeline.LastError)
	}
	if last := resp.Pipeline.LastJob; last != nil {
		fmt.Fprintf(out, "  Last job: %d (%s)\n", last.ID, formatStatusLabel(last.Status))
	}

	if len(resp.Pipeline.QueueStats) > 0 {
		names := make([]string, 0, len(resp.Pipeline.QueueStats))
		for name := range resp.Pipeline.QueueStats {
			names = append(names, name)
		}
		sort.Strings(names)
		fmt.Fprintln(out, "  Queue:")
		for _, name := range names {
			fmt.Fprintf(out, "    %-20s %d\n", formatStatusLabel(name), resp.Pipeline.QueueStats[name])
		}
	}

	if len(resp.Pipeline.StageHealth) > 0 {
		fmt.Fprintln(out, "  Stages:")
		for _, health := range resp.Pipeline.StageHealth {
			marker := "ok"
			if !health.Ready {
				marker = "NOT READY"
			}
			fmt.Fprintf(out, "    %-20s %s", health.Name, marker)
			if health.Detail != "" && !health.Ready {
				fmt.Fprintf(out, " (%s)", health.Detail)
			}
			fmt.Fprintln(out)
		}
	}
}

func newDaemonStopCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the running daemon's pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Stop()
				if err != nil {
					return err
				}
				if resp.Stopped {
					fmt.Fprintln(cmd.OutOrStdout(), "Daemon stopped")
				}
				return nil
			})
		},
	}
}
