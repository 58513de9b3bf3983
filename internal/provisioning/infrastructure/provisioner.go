// Package infrastructure provisions the resources every node depends
// on: the private network with its node subnet, the cluster firewall,
// and the uploaded SSH key.
//
// All resources are created idempotently and labeled for cluster
// association, so re-running the phase adopts what already exists.
package infrastructure

import (
	"github.com/strandtools/strand/internal/provisioning"
)

const phase = "infrastructure"

// Provisioner implements the infrastructure phase.
type Provisioner struct{}

// NewProvisioner creates a new infrastructure provisioner.
func NewProvisioner() *Provisioner {
	return &Provisioner{}
}

// Name implements the provisioning.Phase interface.
func (p *Provisioner) Name() string {
	return phase
}

// Provision implements the provisioning.Phase interface. Later phases
// need everything built here, so the first failure aborts the phase.
func (p *Provisioner) Provision(ctx *provisioning.Context) error {
	if err := p.provisionNetwork(ctx); err != nil {
		return err
	}
	if err := p.provisionFirewall(ctx); err != nil {
		return err
	}
	return p.provisionSSHKey(ctx)
}

// report records one resource outcome.
func report(ctx *provisioning.Context, kind, name string, status provisioning.Status, detail string) {
	ctx.State.Report.Add(provisioning.Entry{Kind: kind, Name: name, Status: status, Detail: detail})
}

// fail records a failed resource and hands the error back to the
// pipeline.
func fail(ctx *provisioning.Context, kind, name string, err error) error {
	ctx.State.Report.Add(provisioning.Entry{Kind: kind, Name: name, Status: provisioning.StatusFailed, Err: err})
	return err
}
