package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"ehranchor/internal/client"
)

type options struct {
	server  string
	timeout time.Duration
	output  string
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "ehrctl",
		Short:         "Anchor, verify and fetch encrypted medical documents",
		Long:          "A command-line client for the ehr-api service.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.output != "text" && opts.output != "json" {
				return fmt.Errorf("unknown output format %q: want text or json", opts.output)
			}
			return nil
		},
	}

	server := os.Getenv("EHR_SERVER")
	if server == "" {
		server = "http://localhost:4000"
	}
	root.PersistentFlags().StringVar(&opts.server, "server", server, "API base URL (env EHR_SERVER)")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", time.Minute, "Overall deadline of a command")
	root.PersistentFlags().StringVar(&opts.output, "output", "text", "Output format: text|json")

	root.AddCommand(
		newRegisterCmd(opts),
		newShowCmd(opts),
		newHistoryCmd(opts),
		newAnchorCmd(opts),
		newVerifyCmd(opts),
		newFetchCmd(opts),
		newPrivateCmd(opts),
		newOrphansCmd(opts),
	)
	return root
}

func (o *options) client() *client.Client {
	return client.New(client.Config{BaseURL: o.server, Timeout: o.timeout})
}

func (o *options) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), o.timeout)
}

// print writes v as indented JSON, or calls text for the human format
func (o *options) print(w io.Writer, v interface{}, text func(io.Writer)) error {
	if o.output == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(w)
	return nil
}

// writeOutput writes data to path, or to w when path is empty or "-"
func writeOutput(w io.Writer, path string, data []byte) error {
	if path == "" || path == "-" {
		_, err := w.Write(data)
		return err
	}
	return os.WriteFile(path, data, 0600)
}
