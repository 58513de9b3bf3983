package commands

import (
	"github.com/spf13/cobra"

	"github.com/strandtools/strand/cmd/strand/handlers"
)

// Scratch returns the parent command for scratch stack operations.
//
// The scratch stack is the optional high-throughput filesystem for
// intermediate data. It has a lifecycle of its own, independent of the
// cluster that mounts it, tracked through a manifest in object storage.
func Scratch() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scratch",
		Short: "Manage the scratch filesystem stack",
		Long: `Manage the optional high-throughput scratch filesystem stack.

The stack consists of storage servers carrying striped target volumes.
Its state is tracked through a manifest in object storage and moves
through: absent -> creating -> available -> mounted -> destroying.

Creation can run concurrently with cluster provisioning; mount waits
until the stack reports available.`,
	}

	cmd.AddCommand(scratchCreate())
	cmd.AddCommand(scratchMount())
	cmd.AddCommand(scratchUnmount())
	cmd.AddCommand(scratchDestroy())
	cmd.AddCommand(scratchSpec())

	return cmd
}

func scratchCreate() *cobra.Command {
	var (
		configPath string
		recreate   bool
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create the scratch stack and wait until it is available",
		Long: `Create the scratch stack declared under 'scratch:' in the config.

Storage servers and their target volumes are provisioned, each target
formatted once, and the manifest uploaded to object storage. The command
returns when the stack reports available.

Use --recreate to tear an existing stack down first and build a fresh
one; all scratch data is lost.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.ScratchCreate(cmd.Context(), configPath, recreate)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file (default: strand.yaml)")
	cmd.Flags().BoolVar(&recreate, "recreate", false, "Destroy an existing stack first, then create anew")

	return cmd
}

func scratchMount() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "mount",
		Short: "Mount the scratch filesystem on every cluster node",
		Long: `Mount the scratch filesystem on the head and all compute nodes.

Waits until the stack is available, then applies the client mount on
each node. Mounting restarts the client stack on the nodes, which makes
them briefly unreachable; in-flight jobs should be drained first.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.ScratchMount(cmd.Context(), configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file (default: strand.yaml)")

	return cmd
}

func scratchUnmount() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "unmount",
		Short: "Unmount the scratch filesystem from every cluster node",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.ScratchUnmount(cmd.Context(), configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file (default: strand.yaml)")

	return cmd
}

func scratchDestroy() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "destroy",
		Short: "Destroy the scratch stack and delete its manifest",
		Long: `Destroy the scratch stack.

Deletes the storage servers, their target volumes and the manifest in
object storage. All scratch data is lost.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.ScratchDestroy(cmd.Context(), configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file (required)")
	_ = cmd.MarkFlagRequired("config")

	return cmd
}

func scratchSpec() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "spec",
		Short: "Print the mount spec of an available stack",
		Long: `Print the mgmt:/fsname mount spec of the scratch stack.

Fails when the stack is not yet available.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.ScratchSpec(cmd.Context(), configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file (default: strand.yaml)")

	return cmd
}
