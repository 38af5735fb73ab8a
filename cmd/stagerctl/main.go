// Package main is stagerctl, a command line client for the Stager API.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/kiranshivaraju/stager/internal/client"
	"github.com/spf13/cobra"
)

const (
	outputTable = "table"
	outputJSON  = "json"
)

// rootOptions holds the flags shared by every command.
type rootOptions struct {
	server  string
	apiKey  string
	output  string
	timeout time.Duration
	retries int
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "stagerctl: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "stagerctl",
		Short: "Stager API command line client",
		Long: `stagerctl talks to a Stager API server: browse the style and furniture catalog,
estimate and submit virtual staging jobs, follow them until they finish, and manage credits and API keys.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.output != outputTable && opts.output != outputJSON {
				return fmt.Errorf("--output must be one of %s, %s; got %q", outputTable, outputJSON, opts.output)
			}
			return nil
		},
	}
	cmd.PersistentFlags().StringVarP(&opts.server, "server", "s", envOr("STAGER_URL", "http://localhost:8080"), "Stager API base URL (env STAGER_URL)")
	cmd.PersistentFlags().StringVarP(&opts.apiKey, "api-key", "k", os.Getenv("STAGER_API_KEY"), "API key (env STAGER_API_KEY)")
	cmd.PersistentFlags().StringVarP(&opts.output, "output", "o", outputTable, "Output format: table or json")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "Per-request timeout")
	cmd.PersistentFlags().IntVar(&opts.retries, "retries", 2, "Retries for idempotent requests on transient errors")

	cmd.AddCommand(
		newHealthCmd(opts),
		newStylesCmd(opts),
		newItemsCmd(opts),
		newEstimateCmd(opts),
		newDetectCmd(opts),
		newCreditsCmd(opts),
		newJobsCmd(opts),
		newKeysCmd(opts),
	)
	return cmd
}

func (o *rootOptions) client() *client.Client {
	return client.New(o.server, o.apiKey,
		client.WithTimeout(o.timeout),
		client.WithRetries(o.retries, 500*time.Millisecond),
	)
}

// render prints v as indented JSON or hands the writer to table.
func (o *rootOptions) render(w io.Writer, v any, table func(*tabwriter.Writer)) error {
	if o.output == outputJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	table(tw)
	return tw.Flush()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
