// Package cli implements the nodewarden command-line interface using cobra.
package cli

import (
	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags.
var Version = "0.1.0-dev"

// Execute runs the root command.
func Execute() error {
	return rootCmd().Execute()
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "nodewarden",
		Short: "Host monitoring agent",
		Long: `Nodewarden probes local system and service state and ships metrics to a
collection API over an authenticated channel.

The API is treated as a partially untrusted configuration source: every
configuration tree it returns is validated against a fixed whitelist schema
before any collector acts on it. Endpoints are pinned to loopback,
credentials are stripped of protocol delimiters, and transport security
cannot be switched off remotely.

Quick start:
  nodewarden run --config /etc/nodewarden/nodewarden.yaml
  nodewarden run --dry-run
  nodewarden check --config /etc/nodewarden/nodewarden.yaml`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(
		runCmd(),
		checkCmd(),
		versionCmd(),
	)

	return cmd
}
