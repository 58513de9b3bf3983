package provisioning

import (
	"context"

	"github.com/strandtools/strand/internal/config"
	hcloud_internal "github.com/strandtools/strand/internal/platform/hcloud"
	"github.com/strandtools/strand/internal/provisioning/converge"
)

// RunnerFactory builds the remote execution transport for one node
// address. Production wires an SSH client; tests wire scripted fakes.
type RunnerFactory func(addr string) (converge.Runner, error)

// Context wraps all dependencies and state needed for a provisioning phase.
type Context struct {
	context.Context
	Config   *config.Config
	State    *State
	Infra    hcloud_internal.InfrastructureManager
	Runners  RunnerFactory
	Observer Observer
	Timeouts *config.Timeouts
}

// NewContext creates a new provisioning context.
func NewContext(
	ctx context.Context,
	cfg *config.Config,
	infra hcloud_internal.InfrastructureManager,
	runners RunnerFactory,
) *Context {
	return &Context{
		Context:  ctx,
		Config:   cfg,
		State:    NewState(),
		Infra:    infra,
		Runners:  runners,
		Observer: NewConsoleObserver(),
		Timeouts: config.LoadTimeouts(),
	}
}
