package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"lectern/internal/ipc"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var mode string
	var slides string
	var principal string
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "submit <source>",
		Short: "Submit a recording for summarization",
		Long: `Submit a recording for summarization.

The source may be a local file path, a YouTube URL, or a Google Drive link.
Use --slides to attach a slide deck (PDF path or URL) and --mode to pick
between lecture and meeting output.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			source := strings.TrimSpace(args[0])
			if source == "" {
				return fmt.Errorf("source must not be empty")
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Submit(ipc.SubmitRequest{
					Source:      source,
					Mode:        mode,
					SlideSource: slides,
					Principal:   principal,
				})
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd, resp.Job)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Job %d submitted (%s)\n", resp.Job.ID, resp.Job.Mode)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&mode, "mode", "lecture", "Summary mode: lecture or meeting")
	cmd.Flags().StringVar(&slides, "slides", "", "Slide deck to pair with the recording (PDF path or URL)")
	cmd.Flags().StringVar(&principal, "principal", "", "Credential pool to draw API keys from")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit the created job as JSON")

	return cmd
}
