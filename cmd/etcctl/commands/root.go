// Package commands implements the etcctl CLI commands.
package commands

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	// httpClient is the shared HTTP client for every subcommand.
	httpClient = &http.Client{Timeout: 5 * time.Second}

	// outputFormat controls the output format for all commands (table or json).
	outputFormat string

	// serverAddr is the etcd control-plane address (host:port).
	serverAddr string
)

// rootCmd is the top-level cobra command for etcctl.
var rootCmd = &cobra.Command{
	Use:   "etcctl",
	Short: "CLI client for the etcd mesh node",
	Long:  "etcctl drives an etcd node's HTTP control plane: triggering events, issuing commands, and reading tree/route state.",
	// Silence cobra's built-in usage/error printing so we control it.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverAddr, "addr", "localhost:8080",
		"etcd control-plane address (host:port)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table",
		"output format: table, json")

	rootCmd.AddCommand(triggerCmd())
	rootCmd.AddCommand(commandCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(parentsCmd())
	rootCmd.AddCommand(forwardTableCmd())
	rootCmd.AddCommand(versionCmd())
}

// Execute runs the root command and exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// baseURL returns the control plane's HTTP base URL.
func baseURL() string {
	return "http://" + serverAddr
}
