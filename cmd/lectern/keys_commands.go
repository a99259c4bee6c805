package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"lectern/internal/ipc"
)

func newKeysCommand(ctx *commandContext) *cobra.Command {
	keysCmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage API credential pools",
		Long: `Manage the API credential pools used for summarization.

Each pool belongs to a principal; jobs submitted for that principal rotate
through its keys when the provider rate-limits. A pool holds at most five
keys.`,
	}

	keysCmd.AddCommand(newKeysAddCommand(ctx))
	keysCmd.AddCommand(newKeysRemoveCommand(ctx))
	keysCmd.AddCommand(newKeysListCommand(ctx))

	return keysCmd
}

func newKeysAddCommand(ctx *commandContext) *cobra.Command {
	var principal string

	cmd := &cobra.Command{
		Use:   "add <key>",
		Short: "Add an API key to a credential pool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.KeysAdd(principal, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Added credential %s (%s)\n",
					resp.Credential.ID, resp.Credential.MaskedKey)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&principal, "principal", "", "Credential pool to add the key to (default pool when empty)")
	return cmd
}

func newKeysRemoveCommand(ctx *commandContext) *cobra.Command {
	var principal string

	cmd := &cobra.Command{
		Use:   "remove <id-or-key>",
		Short: "Remove a credential from a pool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.KeysRemove(principal, args[0])
				if err != nil {
					return err
				}
				if resp.Removed {
					fmt.Fprintln(cmd.OutOrStdout(), "Credential removed")
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&principal, "principal", "", "Credential pool to remove the key from")
	return cmd
}

func newKeysListCommand(ctx *commandContext) *cobra.Command {
	var principal string
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the credentials in a pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.KeysList(principal)
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd, resp.Credentials)
				}
				if len(resp.Credentials) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No credentials in pool")
					return nil
				}
				rows := make([][]string, 0, len(resp.Credentials))
				for _, cred := range resp.Credentials {
					cooldown := ""
					if cred.CoolingDown {
						cooldown = cred.CooldownUntil
					}
					rows = append(rows, []string{
						cred.ID,
						cred.MaskedKey,
						fmt.Sprintf("%d", cred.UsageCount),
						yesNo(cred.CoolingDown),
						cooldown,
					})
				}
				out := renderTable(tableSpec{
					headers:      []string{"ID", "Key", "Uses", "Cooling", "Until"},
					rightAligned: []int{2},
				}, rows)
				fmt.Fprintln(cmd.OutOrStdout(), out)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&principal, "principal", "", "Credential pool to list")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit credentials as JSON")
	return cmd
}
