// Package main implements pbctl, the developer CLI for role registries and
// transcript inspection.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "pbctl",
	Short:   "Developer tools for playbookd",
	Version: version,
}

func init() {
	rootCmd.AddCommand(registryCmd)
	rootCmd.AddCommand(transcriptCmd)
}
