// Package commands defines the CLI command structure and flag bindings.
//
// This package contains cobra command definitions that handle argument
// parsing, flag binding, and validation. Command execution is delegated
// to handler functions in the handlers package.
package commands

import "github.com/spf13/cobra"

// Root returns the root command for the strand CLI.
//
// The root command serves as the entry point and parent for all
// subcommands. It provides basic CLI metadata and organizes the
// command hierarchy.
func Root() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "strand",
		Short: "Provision ephemeral data-processing clusters on Hetzner Cloud",
	}

	// Core commands
	cmd.AddCommand(Config())
	cmd.AddCommand(Create())
	cmd.AddCommand(Bootstrap())
	cmd.AddCommand(Info())
	cmd.AddCommand(Stop())
	cmd.AddCommand(Destroy())

	// Stack and utility commands
	cmd.AddCommand(Scratch())
	cmd.AddCommand(Run())
	cmd.AddCommand(Version())
	cmd.AddCommand(Completion())

	return cmd
}
