// Package destroy releases the cloud resources a cluster holds.
//
// Teardown is safe on a partially-created cluster: resources already
// absent are reported as such and skipped. Every release failure is
// accumulated and surfaced at the end; one stuck resource neither
// stops the remaining releases nor hides behind another's success.
// Stop mode releases only the servers and keeps the durable resources,
// so a later create re-adopts the network and finds the data volume
// with its contents intact.
package destroy

import (
	"context"
	"fmt"
	"sort"

	hcloud_internal "github.com/strandtools/strand/internal/platform/hcloud"
	"github.com/strandtools/strand/internal/provisioning"
	"github.com/strandtools/strand/internal/util/labels"
	"github.com/strandtools/strand/internal/util/naming"
)

// Provisioner implements the stop and destroy phases.
type Provisioner struct {
	keepDurable bool
}

// NewProvisioner creates a provisioner that releases everything the
// cluster owns.
func NewProvisioner() *Provisioner {
	return &Provisioner{}
}

// NewStopProvisioner creates a provisioner that releases only the
// servers. The network, firewall, SSH key and data volume stay behind
// for the next start.
func NewStopProvisioner() *Provisioner {
	return &Provisioner{keepDurable: true}
}

// Name implements the provisioning.Phase interface.
func (p *Provisioner) Name() string {
	if p.keepDurable {
		return "stop"
	}
	return "destroy"
}

// Provision implements the provisioning.Phase interface. Releases run
// in dependency order: servers hold volume attachments and network
// memberships, so they go first.
func (p *Provisioner) Provision(ctx *provisioning.Context) error {
	cfg := ctx.Config
	ctx.Observer.Printf("[%s] Releasing resources of cluster %s...", p.Name(), cfg.ClusterName)

	cleanup := &hcloud_internal.CleanupError{}

	p.releaseServers(ctx, cleanup)

	if p.keepDurable {
		ctx.Observer.Printf("[%s] Keeping network, firewall, SSH key and data volume of %s", p.Name(), cfg.ClusterName)
	} else {
		p.releaseVolume(ctx, cleanup)
		p.release(ctx, cleanup, "firewall", naming.Firewall(cfg.ClusterName),
			func(c context.Context, name string) (bool, error) {
				firewall, err := ctx.Infra.GetFirewall(c, name)
				return firewall != nil, err
			},
			ctx.Infra.DeleteFirewall,
		)
		p.release(ctx, cleanup, "network", naming.Network(cfg.ClusterName),
			func(c context.Context, name string) (bool, error) {
				network, err := ctx.Infra.GetNetwork(c, name)
				return network != nil, err
			},
			ctx.Infra.DeleteNetwork,
		)
		p.release(ctx, cleanup, "ssh-key", naming.SSHKey(cfg.ClusterName),
			func(c context.Context, name string) (bool, error) {
				key, err := ctx.Infra.GetSSHKey(c, name)
				return key != nil, err
			},
			ctx.Infra.DeleteSSHKey,
		)
		p.sweepLabeled(ctx, cleanup)
	}

	if cleanup.HasErrors() {
		return fmt.Errorf("%s incomplete: %w", p.Name(), cleanup)
	}
	ctx.Observer.Printf("[%s] Cluster %s released", p.Name(), cfg.ClusterName)
	return nil
}

// releaseServers deletes every server of the cluster, discovered by
// label and merged with the declared names so a scaled-down declaration
// still reclaims servers a previous run created. Scratch servers belong
// to the stack's own lifecycle and are excluded here; the final label
// sweep reclaims orphans.
func (p *Provisioner) releaseServers(ctx *provisioning.Context, cleanup *hcloud_internal.CleanupError) {
	for _, name := range p.serverNames(ctx, cleanup) {
		p.release(ctx, cleanup, "server", name,
			func(c context.Context, name string) (bool, error) {
				server, err := ctx.Infra.GetServerByName(c, name)
				return server != nil, err
			},
			ctx.Infra.DeleteServer,
		)
	}
}

func (p *Provisioner) serverNames(ctx *provisioning.Context, cleanup *hcloud_internal.CleanupError) []string {
	cfg := ctx.Config
	seen := make(map[string]struct{})
	var names []string
	add := func(name string) {
		if _, ok := seen[name]; !ok {
			seen[name] = struct{}{}
			names = append(names, name)
		}
	}

	servers, err := ctx.Infra.GetServersByLabel(ctx, labels.ForCluster(cfg.ClusterName).Build())
	if err != nil {
		// Discovery failing must not stop teardown; the declared names
		// below still cover everything this configuration created.
		cleanup.Add(fmt.Errorf("server discovery: %w", err))
		ctx.Observer.Printf("[%s] Server discovery by label failed, falling back to declared names: %v", p.Name(), err)
	}
	for _, server := range servers {
		if server.Labels[labels.KeyRole] == labels.RoleScratch {
			continue
		}
		add(server.Name)
	}
	add(naming.HeadNode(cfg.ClusterName))
	for i := 0; i < cfg.Compute.Count; i++ {
		add(naming.ComputeNode(cfg.ClusterName, i))
	}

	sort.Strings(names)
	return names
}

// releaseVolume deletes the data volume. A volume still attached means
// its server failed to delete; it is detached explicitly so the volume
// can be released regardless.
func (p *Provisioner) releaseVolume(ctx *provisioning.Context, cleanup *hcloud_internal.CleanupError) {
	name := naming.DataVolume(ctx.Config.ClusterName)
	dctx, cancel := context.WithTimeout(ctx, ctx.Timeouts.Delete)
	defer cancel()

	volume, err := ctx.Infra.GetVolumeByName(dctx, name)
	if err != nil {
		p.fail(ctx, cleanup, "volume", name, err)
		return
	}
	if volume == nil {
		ctx.State.Report.Add(provisioning.Entry{Kind: "volume", Name: name, Status: provisioning.StatusAbsent, Detail: "already absent"})
		return
	}

	if volume.Server != nil {
		if err := ctx.Infra.DetachVolume(dctx, volume); err != nil {
			p.fail(ctx, cleanup, "volume", name, fmt.Errorf("detach: %w", err))
			return
		}
	}

	provisioning.LogResourceDeleting(ctx.Observer, p.Name(), "volume", name)
	if err := ctx.Infra.DeleteVolume(dctx, name); err != nil {
		p.fail(ctx, cleanup, "volume", name, err)
		return
	}
	provisioning.LogResourceDeleted(ctx.Observer, p.Name(), "volume", name)
	ctx.State.Report.Add(provisioning.Entry{Kind: "volume", Name: name, Status: provisioning.StatusConverged, Detail: "released"})
}

// release probes one named resource and deletes it when present,
// reporting the outcome distinctly: absent, released, or failed.
func (p *Provisioner) release(
	ctx *provisioning.Context,
	cleanup *hcloud_internal.CleanupError,
	kind, name string,
	probe func(context.Context, string) (bool, error),
	remove func(context.Context, string) error,
) {
	dctx, cancel := context.WithTimeout(ctx, ctx.Timeouts.Delete)
	defer cancel()

	exists, err := probe(dctx, name)
	if err != nil {
		p.fail(ctx, cleanup, kind, name, fmt.Errorf("lookup: %w", err))
		return
	}
	if !exists {
		ctx.State.Report.Add(provisioning.Entry{Kind: kind, Name: name, Status: provisioning.StatusAbsent, Detail: "already absent"})
		return
	}

	provisioning.LogResourceDeleting(ctx.Observer, p.Name(), kind, name)
	if err := remove(dctx, name); err != nil {
		p.fail(ctx, cleanup, kind, name, err)
		return
	}
	provisioning.LogResourceDeleted(ctx.Observer, p.Name(), kind, name)
	ctx.State.Report.Add(provisioning.Entry{Kind: kind, Name: name, Status: provisioning.StatusConverged, Detail: "released"})
}

// sweepLabeled reclaims anything still carrying the cluster label:
// scratch stack leftovers, renamed resources, or resources a racing
// probe missed. Nothing billable may survive a destroy.
func (p *Provisioner) sweepLabeled(ctx *provisioning.Context, cleanup *hcloud_internal.CleanupError) {
	cfg := ctx.Config
	ctx.Observer.Printf("[%s] Sweeping leftovers labeled %s...", p.Name(), labels.ClusterSelector(cfg.ClusterName))
	if err := ctx.Infra.CleanupByLabel(ctx, labels.ForCluster(cfg.ClusterName).Build()); err != nil {
		cleanup.Add(fmt.Errorf("label sweep: %w", err))
		ctx.State.Report.Add(provisioning.Entry{Kind: "cluster", Name: cfg.ClusterName, Status: provisioning.StatusFailed, Detail: "label sweep", Err: err})
	}
}

func (p *Provisioner) fail(ctx *provisioning.Context, cleanup *hcloud_internal.CleanupError, kind, name string, err error) {
	ctx.State.Report.Add(provisioning.Entry{Kind: kind, Name: name, Status: provisioning.StatusFailed, Err: err})
	cleanup.Add(fmt.Errorf("%s %q: %w", kind, name, err))
}
