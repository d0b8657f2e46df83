// Package cli implements the greenhouse command-line interface using Cobra.
// Each subcommand maps to one external interface of the running system:
// serve (long-running daemon + HTTP API), goal (one-shot workflow ingress),
// and status (poll a running instance).
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "greenhouse",
	Short: "Greenhouse — supervisory control and analytics platform",
	Long: `Greenhouse runs a digital-twin simulation behind a multi-agent control
plane: a bus of role-specialized agents executes validation-chain workflows
over a greenhouse's sensors and actuators, mediated by a safety watchdog and
an industrial bridge.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	rootCmd.Version = version

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
