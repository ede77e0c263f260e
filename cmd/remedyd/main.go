// Remedyd drives automated fixes for reported problems: it reads an issue,
// delegates analysis, implementation and critique to LLM agents, opens a
// proposal, and iterates on reviewer and CI feedback until the critic is
// satisfied or the iteration budget runs out.
//
// Usage:
//
//	# Fix a reported issue end to end
//	remedyd run owner/repo#123
//
//	# Pick up review of an already-open proposal
//	remedyd resume owner/repo#123 --proposal owner/repo#456
//
//	# Serve the run-inspection API and accept workflow launches over HTTP
//	remedyd serve
//
// Configuration is loaded from ~/.config/remedyd/config.yaml (or
// /etc/remedyd/config.yaml) and REMEDYD-relevant environment variables. See
// internal/config for details.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "remedyd",
	Short:         "Automated fix workflow for reported problems",
	Long:          "remedyd turns a reported problem into a reviewed proposal: analyze, implement, critique, iterate.",
	SilenceUsage:  true,
	SilenceErrors: false,
	Version:       version,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("remedyd by Fyrsmith Labs\n")
		fmt.Printf("Version:    %s\n", version)
		fmt.Printf("Commit:     %s\n", gitCommit)
		fmt.Printf("Build Date: %s\n", buildDate)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (default: ~/.config/remedyd/config.yaml)")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}
