package infrastructure

import (
	"fmt"
	"strconv"

	"github.com/hetznercloud/hcloud-go/v2/hcloud"

	"github.com/strandtools/strand/internal/config"
	"github.com/strandtools/strand/internal/provisioning"
	"github.com/strandtools/strand/internal/util/labels"
	"github.com/strandtools/strand/internal/util/naming"
)

// provisionNetwork ensures the cluster network and carves the node
// subnet from it. The network holds the full configured range; nodes
// get addresses from the first /24 so the scratch stack can claim the
// next one without overlapping.
func (p *Provisioner) provisionNetwork(ctx *provisioning.Context) error {
	cfg := ctx.Config
	name := naming.Network(cfg.ClusterName)
	ctx.Observer.Printf("[%s] Reconciling network %s...", phase, name)

	existing, err := ctx.Infra.GetNetwork(ctx, name)
	if err != nil {
		return fail(ctx, "network", name, fmt.Errorf("failed to look up network %s: %w", name, err))
	}

	clusterLabels := labels.ForCluster(cfg.ClusterName).Build()
	network, err := ctx.Infra.EnsureNetwork(ctx, name, cfg.NetworkCIDR, clusterLabels)
	if err != nil {
		return fail(ctx, "network", name, err)
	}
	ctx.State.Network = network

	if existing != nil {
		provisioning.LogResourceExists(ctx.Observer, phase, "network", name, strconv.FormatInt(network.ID, 10))
		report(ctx, "network", name, provisioning.StatusSatisfied, cfg.NetworkCIDR)
	} else {
		provisioning.LogResourceCreated(ctx.Observer, phase, "network", name, strconv.FormatInt(network.ID, 10))
		report(ctx, "network", name, provisioning.StatusConverged, "created with range "+cfg.NetworkCIDR)
	}

	return p.provisionNodeSubnet(ctx, existing)
}

// provisionNodeSubnet adds the node /24 to the network. The probe uses
// the network as it looked before EnsureNetwork so a fresh network
// always reads as converged.
func (p *Provisioner) provisionNodeSubnet(ctx *provisioning.Context, existing *hcloud.Network) error {
	cfg := ctx.Config

	nodeSubnet, err := config.NodeSubnet(cfg.NetworkCIDR)
	if err != nil {
		return fail(ctx, "subnet", cfg.NetworkCIDR, err)
	}
	subnet := nodeSubnet.String()

	present := false
	if existing != nil {
		for _, s := range existing.Subnets {
			if s.IPRange != nil && s.IPRange.String() == subnet {
				present = true
				break
			}
		}
	}

	if err := ctx.Infra.EnsureSubnet(ctx, ctx.State.Network, subnet, cfg.NetworkZone); err != nil {
		return fail(ctx, "subnet", subnet, fmt.Errorf("failed to ensure node subnet %s: %w", subnet, err))
	}

	if present {
		report(ctx, "subnet", subnet, provisioning.StatusSatisfied, "node subnet")
	} else {
		report(ctx, "subnet", subnet, provisioning.StatusConverged, "node subnet carved from "+cfg.NetworkCIDR)
	}
	return nil
}
