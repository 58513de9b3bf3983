package commands

import (
	"github.com/spf13/cobra"

	"github.com/strandtools/strand/cmd/strand/handlers"
)

// Destroy returns the destroy command.
//
// The destroy command removes all cluster resources from Hetzner
// Cloud, the shared data volume included, and finishes with a sweep
// over everything still carrying the cluster label.
func Destroy() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "destroy",
		Short: "Destroy the cluster and all associated resources",
		Long: `Destroy removes all cluster resources from Hetzner Cloud.

This command deletes every resource associated with the cluster:
  - Servers (head and compute nodes)
  - The shared data volume
  - Firewall
  - Network and subnets
  - SSH key
  - The scratch stack and its manifest, if one exists

Resources are deleted in dependency order. A final sweep removes any
leftover resource still labeled with the cluster name, so interrupted
creates do not leave billable debris behind.

Safe to run on a partially-created cluster: absent resources are
skipped, and individual release failures are collected and reported
instead of aborting the teardown.

Example:
  strand destroy -c experiments.yaml

WARNING: This operation is irreversible. All data on the shared volume
and the scratch stack is lost.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.Destroy(cmd.Context(), configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to cluster configuration file (required)")
	_ = cmd.MarkFlagRequired("config")

	return cmd
}
