// Package cmd is the dispatchctl command line. Every command is a thin
// wrapper over client.APIClient and prints the server's JSON answer.
package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/LeventeLantos/social-dispatch/internal/api"
	"github.com/LeventeLantos/social-dispatch/internal/client"
)

const defaultServer = "http://localhost:8080"

type options struct {
	server  string
	timeout time.Duration
}

func (o *options) client() *client.APIClient {
	return client.NewAPIClient(o.server, o.timeout)
}

// NewRootCmd builds a fresh command tree.
func NewRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "dispatchctl",
		Short: "Create and send social messages through a dispatcher",
		Long: `dispatchctl talks to a running dispatcher over HTTP. It creates
messages for WhatsApp, Facebook and Instagram, sends or retries them and
checks platform connections.`,
		SilenceUsage: true,
	}

	server := os.Getenv("DISPATCH_SERVER")
	if server == "" {
		server = defaultServer
	}
	root.PersistentFlags().StringVar(&opts.server, "server", server, "Dispatcher base URL (env DISPATCH_SERVER)")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "HTTP timeout")

	root.AddCommand(
		newCreateCmd(opts),
		newSendCmd(opts),
		newRetryCmd(opts),
		newGetCmd(opts),
		newListCmd(opts),
		newTestConnectionCmd(opts),
	)
	return root
}

func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func printJSON(w io.Writer, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}

// printResult prints res and turns an unsuccessful call into an error, so
// the exit status follows the success flag.
func printResult(cmd *cobra.Command, res api.Result, err error) error {
	var apiErr *client.APIError
	if err != nil && !errors.As(err, &apiErr) {
		return err
	}
	if perr := printJSON(cmd.OutOrStdout(), res); perr != nil {
		return perr
	}
	if !res.Success {
		return errors.New(res.Message)
	}
	return nil
}
