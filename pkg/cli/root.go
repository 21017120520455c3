// Package cli provides the stubd command tree.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version is injected during build.
	Version = "dev"
	// Commit is injected during build.
	Commit = "none"
	// BuildDate is injected during build.
	BuildDate = "unknown"
)

// rootCmd is the base command when called without subcommands.
var rootCmd = &cobra.Command{
	Use:   "stubd",
	Short: "stubd is an HTTP test double with contract recording",
	Long: `stubd stands in for a real HTTP dependency during automated testing.
Register interactions (request pattern + response) through collection files
or the control API, point the code under test at the mock port, and stubd
answers matching requests with the configured responses while tracking
which interactions were exercised. Contract interactions additionally feed
pact-style consumer-driven contract documents.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Main runs the root command and returns a process exit code.
func Main() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}

// Execute runs the root command and exits the process on failure. It is
// called by main.main().
func Execute() {
	os.Exit(Main())
}
