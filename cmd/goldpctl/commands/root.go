package commands

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/dantte-lp/goldp/internal/server"
)

var (
	// client is the inspection API client, initialized in PersistentPreRunE.
	client *server.Client

	// outputFormat controls the output format for all commands (table, json or yaml).
	outputFormat string

	// serverAddr is the daemon address (host:port) for the ConnectRPC connection.
	serverAddr string

	// timeout bounds every API call.
	timeout time.Duration
)

// rootCmd is the top-level cobra command for goldpctl.
var rootCmd = &cobra.Command{
	Use:   "goldpctl",
	Short: "CLI client for the goldp daemon",
	Long:  "goldpctl communicates with the goldp daemon via ConnectRPC to inspect label bindings and MP2MP trees.",
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		client = server.NewClient(
			http.DefaultClient,
			"http://"+serverAddr,
		)

		return nil
	},
	// Silence cobra's built-in usage/error printing so we control it.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverAddr, "addr", "localhost:50061",
		"goldp daemon address (host:port)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table",
		"output format: table, json, yaml")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Second,
		"API call timeout")

	rootCmd.AddCommand(libCmd())
	rootCmd.AddCommand(lspCmd())
	rootCmd.AddCommand(mp2mpCmd())
	rootCmd.AddCommand(neighborCmd())
	rootCmd.AddCommand(messagesCmd())
	rootCmd.AddCommand(gcCmd())
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(shellCmd())
}

// Execute runs the root command and exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
