// Package cmd implements the procjobs command tree.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var versionInfo = struct {
	Version   string
	Commit    string
	BuildDate string
}{
	Version:   "dev",
	Commit:    "HEAD",
	BuildDate: "unknown",
}

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "procjobs",
	Short: "Job lifecycle and query service for process execution",
	Long: `procjobs tracks process execution jobs: submission with sync/async
negotiation, status monitoring, filtered and grouped listings, and dismissal.

Jobs are persisted in a local SQLite database and exposed over HTTP.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// SetVersionInfo records build-time version metadata for the version command.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

// Execute runs the root command and exits non-zero on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: ./procjobs.yaml)")
}
