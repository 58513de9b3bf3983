package commands

import (
	"github.com/spf13/cobra"

	"github.com/strandtools/strand/cmd/strand/handlers"
)

// Run returns the command for executing a program with dropped privileges.
//
// Useful when strand itself runs under sudo (for local mount helpers)
// but a follow-up program should run as the invoking user again.
func Run() *cobra.Command {
	var roots []string

	cmd := &cobra.Command{
		Use:   "run -- command [args...]",
		Short: "Run a command as the invoking user",
		Long: `Run a command with the privileges of the invoking user.

When strand is run under sudo, the wrapped command is executed with the
original user's uid, gid and HOME instead of root's. Arguments are
checked against a small allowlist of path roots; anything that looks
like path traversal or an unexpected absolute path is rejected before
the command starts.

Examples:
  # Copy results off the shared volume as the invoking user
  sudo strand run --root /encrypted -- cp -r /encrypted/results /home/alice/results

  # Bare commands need no path allowance
  sudo strand run -- whoami`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return handlers.Run(cmd.Context(), roots, args)
		},
	}

	cmd.Flags().StringArrayVar(&roots, "root", nil, "Additional allowed path root for arguments (repeatable)")

	return cmd
}
