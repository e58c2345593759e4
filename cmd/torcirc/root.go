package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command for torcirc.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "torcirc",
		Short: "Tor exit-identity pool and scrape dispatch daemon",
		Long: `torcirc runs a pool of isolated Tor circuits and dispatches scrape
jobs across them. Each circuit carries its own exit identity; failing
identities are rotated in place via NEWNYM, and broken circuits are torn
down and replaced.

By default, circuits run as embedded Tor processes. Use --runtime docker
to run one Tor container per circuit instead.`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags that apply to all commands
	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")

	// Add subcommands
	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewReportCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
