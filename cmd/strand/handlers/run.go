package handlers

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/strandtools/strand/internal/privexec"
)

// privRunner is the part of privexec.Wrapper the handler uses.
type privRunner interface {
	Run(ctx context.Context, name string, args ...string) error
}

// Factory function variables for run - can be replaced in tests.
var (
	// invokingIdentity resolves who originally invoked the process.
	invokingIdentity = privexec.InvokingIdentity

	// newPrivWrapper builds the privilege-dropping wrapper.
	newPrivWrapper = func(id privexec.Identity, roots ...string) (privRunner, error) {
		return privexec.NewWrapper(id, roots...)
	}
)

// Run executes a command as the invoking user.
//
// Under sudo, SUDO_UID and SUDO_GID name the original user; the wrapped
// command runs with that identity, a scrubbed environment and the
// user's home as working directory. Arguments are sanitized before
// anything is spawned: shell metacharacters, path traversal, and
// absolute paths outside the allowed roots are all rejected.
func Run(ctx context.Context, roots []string, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("no command given")
	}

	id, err := invokingIdentity()
	if err != nil {
		return fmt.Errorf("failed to resolve invoking user: %w", err)
	}

	wrapper, err := newPrivWrapper(id, roots...)
	if err != nil {
		return err
	}

	log.Printf("Running as %s (uid %d): %s", id.Username, id.UID, strings.Join(args, " "))
	return wrapper.Run(ctx, args[0], args[1:]...)
}
