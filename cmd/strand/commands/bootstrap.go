package commands

import (
	"github.com/spf13/cobra"

	"github.com/strandtools/strand/cmd/strand/handlers"
)

// Bootstrap returns the command for re-converging an existing cluster.
//
// This command skips resource provisioning and only re-runs the node
// software convergence: head storage and export, compute mounts. Useful
// after a node reboot or a manual configuration drift.
func Bootstrap() *cobra.Command {
	var opts handlers.BootstrapOptions

	cmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Re-converge storage and mounts on an existing cluster",
		Long: `Re-run node convergence on an already provisioned cluster.

The cloud resources are discovered, not created: the head node and
compute pool must already exist. The head's storage, export and every
compute mount are then brought back to the declared state. Steps whose
state is already correct report "unchanged" and touch nothing.

Examples:
  # Re-converge after a head node reboot
  strand bootstrap

  # Re-converge a specific cluster
  strand bootstrap -c experiments.yaml`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.Bootstrap(cmd.Context(), &opts)
		},
	}

	cmd.Flags().StringVarP(&opts.ConfigPath, "config", "c", "", "Path to configuration file (default: strand.yaml)")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address during the run")
	cmd.Flags().BoolVar(&opts.Plain, "plain", false, "Disable the live dashboard, print plain log lines")

	return cmd
}
