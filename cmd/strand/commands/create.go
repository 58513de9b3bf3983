package commands

import (
	"github.com/spf13/cobra"

	"github.com/strandtools/strand/cmd/strand/handlers"
)

// Create returns the command for provisioning a cluster.
//
// This command brings up the full cluster: private network, firewall,
// SSH key, head node with its data volume, and the compute pool, then
// converges storage and mounts across all nodes.
//
// Environment variables:
//
//	HCLOUD_TOKEN: Hetzner Cloud API token (required)
func Create() *cobra.Command {
	var opts handlers.CreateOptions

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create or adopt the cluster and converge every node",
		Long: `Create the cluster declared in the configuration file.

This command provisions the private network, firewall, SSH key, head
node with its shared data volume, and the compute pool, then bootstraps
every node: the head formats (first run only) and exports the volume,
compute nodes mount it.

Re-running create on an existing cluster adopts what is already there
and only applies the difference.

If no config file is specified, it looks for strand.yaml in the current
directory. Use 'strand config init' to create one.

Examples:
  # Create cluster using strand.yaml in current directory
  strand create

  # Create cluster using a specific config file
  strand create -c experiments.yaml

  # Re-apply after raising compute.count
  strand create`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.Create(cmd.Context(), &opts)
		},
	}

	cmd.Flags().StringVarP(&opts.ConfigPath, "config", "c", "", "Path to configuration file (default: strand.yaml)")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address during the run")
	cmd.Flags().BoolVar(&opts.Plain, "plain", false, "Disable the live dashboard, print plain log lines")

	return cmd
}
