package main

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func newKeysCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage API keys (admin)",
	}
	cmd.AddCommand(newKeysCreateCmd(opts), newKeysListCmd(opts), newKeysRevokeCmd(opts))
	return cmd
}

func newKeysCreateCmd(opts *rootOptions) *cobra.Command {
	var scopes []string
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create an API key; the raw key is shown only once",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			created, err := opts.client().CreateKey(cmd.Context(), args[0], scopes)
			if err != nil {
				return err
			}
			return opts.render(cmd.OutOrStdout(), created, func(tw *tabwriter.Writer) {
				fmt.Fprintf(tw, "id\t%s\n", created.APIKey.ID)
				fmt.Fprintf(tw, "name\t%s\n", created.APIKey.Name)
				fmt.Fprintf(tw, "scopes\t%s\n", strings.Join(created.APIKey.Scopes, ","))
				fmt.Fprintf(tw, "key\t%s\n", created.Key)
			})
		},
	}
	cmd.Flags().StringSliceVar(&scopes, "scope", nil, "Scopes to grant: read, stage, admin (default read,stage)")
	return cmd
}

func newKeysListCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			keys, err := opts.client().ListKeys(cmd.Context())
			if err != nil {
				return err
			}
			return opts.render(cmd.OutOrStdout(), keys, func(tw *tabwriter.Writer) {
				fmt.Fprintln(tw, "ID\tNAME\tPREFIX\tSCOPES\tLAST USED")
				for _, k := range keys {
					lastUsed := "never"
					if k.LastUsedAt != nil {
						lastUsed = k.LastUsedAt.Format(time.RFC3339)
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", k.ID, k.Name, k.KeyPrefix, strings.Join(k.Scopes, ","), lastUsed)
				}
			})
		},
	}
}

func newKeysRevokeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <key-id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid key id %q", args[0])
			}
			if err := opts.client().RevokeKey(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "revoked %s\n", id)
			return nil
		},
	}
}
