package commands

import (
	"github.com/spf13/cobra"

	"github.com/strandtools/strand/cmd/strand/handlers"
)

// Stop returns the stop command.
//
// Stop releases the billable compute of a cluster while keeping the
// durable resources, so a later create picks up the same data volume.
func Stop() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Release the cluster's servers, keep network and data",
		Long: `Release the cluster's servers while keeping durable resources.

The head and compute servers are deleted; the private network, firewall,
SSH key and the shared data volume stay. A subsequent 'strand create'
reattaches the volume to a fresh head node with its data intact.

Safe to run on a partially-created cluster: resources that do not exist
are skipped.

Example:
  strand stop -c experiments.yaml`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.Stop(cmd.Context(), configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file (default: strand.yaml)")

	return cmd
}
