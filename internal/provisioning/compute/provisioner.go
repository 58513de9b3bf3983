// Package compute provisions the cluster's servers and the shared data
// volume.
//
// The head node comes first and gets the data volume attached; compute
// servers are then created in parallel. Every server joins the node
// subnet under a deterministic address so later phases can reach nodes
// without discovery.
package compute

import (
	"fmt"

	"github.com/strandtools/strand/internal/config"
	"github.com/strandtools/strand/internal/provisioning"
)

const phase = "compute"

// Host numbers inside the node subnet. The cloud gateway owns the first
// usable address, the head node takes the next one, and compute servers
// start at ten so the pool can grow without renumbering.
const (
	headHostNum       = 2
	computeHostOffset = 10
)

// Provisioner implements the compute phase.
type Provisioner struct{}

// NewProvisioner creates a new compute provisioner.
func NewProvisioner() *Provisioner {
	return &Provisioner{}
}

// Name implements the provisioning.Phase interface.
func (p *Provisioner) Name() string {
	return phase
}

// Provision implements the provisioning.Phase interface.
func (p *Provisioner) Provision(ctx *provisioning.Context) error {
	if ctx.State.Network == nil {
		return fmt.Errorf("compute phase requires the cluster network; run infrastructure first")
	}

	subnet, err := config.NodeSubnet(ctx.Config.NetworkCIDR)
	if err != nil {
		return err
	}

	head, err := p.provisionHead(ctx, subnet)
	if err != nil {
		return err
	}
	if err := p.provisionDataVolume(ctx, head); err != nil {
		return err
	}
	return p.provisionComputePool(ctx, subnet)
}

func report(ctx *provisioning.Context, kind, name string, status provisioning.Status, detail string) {
	ctx.State.Report.Add(provisioning.Entry{Kind: kind, Name: name, Status: status, Detail: detail})
}

func fail(ctx *provisioning.Context, kind, name string, err error) error {
	ctx.State.Report.Add(provisioning.Entry{Kind: kind, Name: name, Status: provisioning.StatusFailed, Err: err})
	return err
}
