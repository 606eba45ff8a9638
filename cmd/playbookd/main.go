// Package main implements the playbookd CLI: one closed improvement cycle
// per invocation, driven by the configured roles and test tool.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	// configPath is the YAML config file; empty means defaults + env.
	configPath string
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "playbookd",
	Short: "Closed-cycle playbook improvement runner",
	Long: `playbookd runs one plan/build/test/review/document cycle against a
strategy playbook, invoking the producer, critic, and curator roles through
the configured backend (or their local implementations when offline).`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.yaml")
	rootCmd.AddCommand(runCmd)
}
