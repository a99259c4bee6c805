package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"lectern/internal/api"
	"lectern/internal/ipc"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "status <id>",
		Short: "Show the status of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Status(id)
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd, resp.Job)
				}
				printJobDetail(cmd, resp.Job)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit the job as JSON")
	return cmd
}

func printJobDetail(cmd *cobra.Command, job api.JobView) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Job %d: %s\n", job.ID, formatStatusLabel(job.Status))
	fmt.Fprintf(out, "  Source:    %s\n", job.Source)
	fmt.Fprintf(out, "  Mode:      %s\n", job.Mode)
	if job.SlideSource != "" {
		fmt.Fprintf(out, "  Slides:    %s\n", job.SlideSource)
	}
	if job.Principal != "" {
		fmt.Fprintf(out, "  Principal: %s\n", job.Principal)
	}
	if job.Progress.Stage != "" || job.Progress.Message != "" {
		fmt.Fprintf(out, "  Progress:  %s %s", job.Progress.Stage, formatPercent(job.Progress.Percent))
		if job.Progress.Message != "" {
			fmt.Fprintf(out, " (%s)", job.Progress.Message)
		}
		fmt.Fprintln(out)
	}
	if job.PendingReason != "" {
		fmt.Fprintf(out, "  Waiting:   %s\n", job.PendingReason)
	}
	if job.ErrorMessage != "" {
		fmt.Fprintf(out, "  Error:     %s\n", job.ErrorMessage)
	}
	for _, reason := range job.Degraded {
		fmt.Fprintf(out, "  Degraded:  %s\n", reason)
	}
	if job.Status == "awaiting_operator" {
		fmt.Fprintf(out, "  Resolve with: lectern resolve %d retry|cancel|change_key\n", job.ID)
	}
}

func newResultCommand(ctx *commandContext) *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "result <id>",
		Short: "Print the final summary document of a completed job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Result(id)
				if err != nil {
					return err
				}
				if outputPath != "" {
					if err := os.WriteFile(outputPath, []byte(resp.Document), 0o644); err != nil {
						return fmt.Errorf("write result: %w", err)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Wrote result for job %d to %s\n", id, outputPath)
					return nil
				}
				fmt.Fprint(cmd.OutOrStdout(), resp.Document)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Write the document to a file instead of stdout")
	return cmd
}

func newResolveCommand(ctx *commandContext) *cobra.Command {
	var newKey string

	cmd := &cobra.Command{
		Use:   "resolve <id> <retry|cancel|change_key>",
		Short: "Resolve a job that is awaiting an operator decision",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			choice := strings.ToLower(strings.TrimSpace(args[1]))
			switch choice {
			case "retry", "cancel", "change_key":
			default:
				return fmt.Errorf("unknown choice %q (expected retry, cancel, or change_key)", args[1])
			}
			if choice == "change_key" && strings.TrimSpace(newKey) == "" {
				return fmt.Errorf("change_key requires --key")
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Resolve(id, choice, newKey)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Job %d is now %s\n", id, formatStatusLabel(resp.Job.Status))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&newKey, "key", "", "Replacement API key (required for change_key)")
	return cmd
}

func newCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Cancel(id)
				if err != nil {
					return err
				}
				if resp.Cancelled {
					fmt.Fprintf(cmd.OutOrStdout(), "Job %d cancellation requested\n", id)
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "Job %d could not be cancelled (already finished or not found)\n", id)
				}
				return nil
			})
		},
	}
}
