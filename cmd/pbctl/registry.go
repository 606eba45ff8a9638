package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/playbookd/internal/registry"
	"github.com/fyrsmithlabs/playbookd/internal/roles"
)

var (
	registryPath string
	scaffoldRole string
)

var registryCmd = &cobra.Command{
	Use:   "registry",
	Short: "Manage role registries",
}

var registryScaffoldCmd = &cobra.Command{
	Use:   "scaffold <name>",
	Short: "Add a descriptor skeleton to the registry",
	Long: `Add a descriptor skeleton for a new role implementation.

Examples:
  pbctl registry scaffold fast-producer --role producer
  pbctl registry scaffold strict-critic --role critic --file roles.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runScaffold,
}

var registryValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate every descriptor in the registry",
	Args:  cobra.NoArgs,
	RunE:  runValidate,
}

var registryPreviewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Print a human-readable registry listing",
	Args:  cobra.NoArgs,
	RunE:  runPreview,
}

func init() {
	registryCmd.PersistentFlags().StringVar(&registryPath, "file", "roles.yaml", "registry file")
	registryScaffoldCmd.Flags().StringVar(&scaffoldRole, "role", "producer", "role kind: producer, critic, or curator")
	registryCmd.AddCommand(registryScaffoldCmd)
	registryCmd.AddCommand(registryValidateCmd)
	registryCmd.AddCommand(registryPreviewCmd)
}

func runScaffold(cmd *cobra.Command, args []string) error {
	r, err := registry.Open(registryPath)
	if err != nil {
		return err
	}

	d := registry.Scaffold(args[0], roles.Name(scaffoldRole))
	if err := r.Add(d); err != nil {
		return err
	}
	if err := r.Save(); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "scaffolded %s (%s) in %s\n", d.Name, d.Role, registryPath)
	return nil
}

func runValidate(cmd *cobra.Command, _ []string) error {
	r, err := registry.Open(registryPath)
	if err != nil {
		return err
	}
	if err := r.Validate(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %d descriptors, all valid\n", registryPath, len(r.Descriptors()))
	return nil
}

func runPreview(cmd *cobra.Command, _ []string) error {
	r, err := registry.Open(registryPath)
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), r.Preview())
	return nil
}
