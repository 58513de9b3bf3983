package commands

import (
	"github.com/spf13/cobra"

	"github.com/strandtools/strand/cmd/strand/handlers"
)

// Info returns the command for inspecting live cluster resources.
//
// The command compares what the configuration declares against what
// actually exists in the cloud project and prints a per-resource
// report, plus addresses for everything that is reachable.
func Info() *cobra.Command {
	var configPath string
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "info",
		Short: "Show live status of cluster resources",
		Long: `Show the live status of every resource the configuration declares.

Each resource is reported as OK or MISSING: network, firewall, SSH key,
head node, compute nodes, the data volume and, when configured, the
scratch stack. Reachable servers are listed with their addresses.

Examples:
  # Inspect the cluster from strand.yaml
  strand info

  # Inspect a specific configuration
  strand info -c experiments.yaml

  # Status in JSON format
  strand info --json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.Info(cmd.Context(), configPath, jsonOutput)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file (default: strand.yaml)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	return cmd
}
