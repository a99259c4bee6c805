package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"lectern/internal/api"
	"lectern/internal/ipc"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the job queue",
	}

	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueStatsCommand(ctx))
	queueCmd.AddCommand(newQueueRetryCommand(ctx))
	queueCmd.AddCommand(newQueueClearCommand(ctx))

	return queueCmd
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var statuses []string
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queued jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.QueueList(statuses)
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd, resp.Jobs)
				}
				if len(resp.Jobs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
					return nil
				}
				out := renderTable(tableSpec{
					headers:      []string{"ID", "Source", "Mode", "Status", "Progress", "Created"},
					rightAligned: []int{0},
				}, buildQueueListRows(resp.Jobs))
				fmt.Fprintln(cmd.OutOrStdout(), out)
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVar(&statuses, "status", nil, "Only show jobs with these statuses")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit jobs as JSON")
	return cmd
}

func buildQueueListRows(jobs []api.JobView) [][]string {
	rows := make([][]string, 0, len(jobs))
	for _, job := range jobs {
		progress := ""
		if job.Progress.Stage != "" {
			progress = fmt.Sprintf("%s %s", job.Progress.Stage, formatPercent(job.Progress.Percent))
		}
		rows = append(rows, []string{
			fmt.Sprintf("%d", job.ID),
			truncate(job.Source, 48),
			job.Mode,
			formatStatusLabel(job.Status),
			progress,
			job.CreatedAt,
		})
	}
	return rows
}

func newQueueStatsCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show job counts by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Stats()
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd, resp.Counts)
				}
				if len(resp.Counts) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
					return nil
				}
				names := make([]string, 0, len(resp.Counts))
				for name := range resp.Counts {
					names = append(names, name)
				}
				sort.Strings(names)
				rows := make([][]string, 0, len(names))
				total := 0
				for _, name := range names {
					rows = append(rows, []string{formatStatusLabel(name), fmt.Sprintf("%d", resp.Counts[name])})
					total += resp.Counts[name]
				}
				rows = append(rows, []string{"Total", fmt.Sprintf("%d", total)})
				out := renderTable(tableSpec{
					headers:      []string{"Status", "Count"},
					rightAligned: []int{1},
				}, rows)
				fmt.Fprintln(cmd.OutOrStdout(), out)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit counts as JSON")
	return cmd
}

func newQueueRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry [id...]",
		Short: "Reset failed jobs so the pipeline picks them up again",
		Long:  "Reset failed jobs to pending. With no arguments all failed jobs are retried.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parsePositiveIDs(args)
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.QueueRetry(ids)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d job(s) reset for retry\n", resp.Updated)
				return nil
			})
		},
	}
}

func newQueueClearCommand(ctx *commandContext) *cobra.Command {
	var failed bool
	var completed bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove jobs from the queue",
		Long:  "Remove completed jobs by default; use --failed for failed jobs or --all for everything.",
		RunE: func(cmd *cobra.Command, args []string) error {
			all, err := cmd.Flags().GetBool("all")
			if err != nil {
				return err
			}
			scope := "completed"
			switch {
			case all:
				scope = "all"
			case failed:
				scope = "failed"
			case completed:
				scope = "completed"
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.QueueClear(scope)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d job(s)\n", resp.Removed)
				return nil
			})
		},
	}

	cmd.Flags().Bool("all", false, "Remove every job, including the queue history")
	cmd.Flags().BoolVar(&failed, "failed", false, "Remove failed jobs")
	cmd.Flags().BoolVar(&completed, "completed", false, "Remove completed jobs (default)")
	return cmd
}
