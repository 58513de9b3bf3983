package commands

import (
	"github.com/spf13/cobra"

	"github.com/strandtools/strand/cmd/strand/handlers"
)

// Config returns the parent command for configuration management.
func Config() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Create and edit cluster configurations",
	}

	cmd.AddCommand(configInit())
	cmd.AddCommand(configEdit())

	return cmd
}

func configInit() *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Interactively create a cluster configuration",
		Long: `Interactively create a cluster configuration file.

The wizard asks about:

  - Cluster identity (name and location)
  - Head and compute server types, compute node count
  - Data volume size and export options
  - SSH key paths (a fresh keypair is generated when missing)
  - The optional scratch stack

The resulting YAML is written to the output path. Existing key files
are never overwritten.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.ConfigInit(cmd.Context(), outputPath)
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "strand.yaml", "Output file path")

	return cmd
}

func configEdit() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "edit",
		Short: "Edit an existing configuration through the wizard",
		Long: `Edit an existing configuration file through the wizard.

The wizard is pre-filled with the current values. Before anything is
written, the original file is preserved as a timestamped .bak copy next
to it.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.ConfigEdit(cmd.Context(), configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file (default: strand.yaml)")

	return cmd
}
