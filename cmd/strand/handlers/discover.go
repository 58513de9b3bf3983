package handlers

import (
	"context"
	"fmt"
	"sort"

	"github.com/hetznercloud/hcloud-go/v2/hcloud"

	"github.com/strandtools/strand/internal/config"
	hcloud_internal "github.com/strandtools/strand/internal/platform/hcloud"
	"github.com/strandtools/strand/internal/provisioning"
	"github.com/strandtools/strand/internal/util/labels"
	"github.com/strandtools/strand/internal/util/naming"
)

// discoverNodes finds the cluster's existing head and compute servers
// by role label. Commands that act on a running cluster (bootstrap,
// scratch mount) discover nodes instead of creating them.
func discoverNodes(ctx context.Context, infra hcloud_internal.InfrastructureManager, cfg *config.Config) (*provisioning.Node, []*provisioning.Node, error) {
	headServers, err := infra.GetServersByLabel(ctx, labels.ForCluster(cfg.ClusterName).Role(labels.RoleHead).Build())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to discover head node: %w", err)
	}
	if len(headServers) == 0 {
		return nil, nil, fmt.Errorf("no head node found for cluster %s; run 'strand create' first", cfg.ClusterName)
	}
	head := nodeFromServer(headServers[0], provisioning.RoleHead)

	computeServers, err := infra.GetServersByLabel(ctx, labels.ForCluster(cfg.ClusterName).Role(labels.RoleCompute).Build())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to discover compute nodes: %w", err)
	}
	sort.Slice(computeServers, func(i, j int) bool {
		return computeServers[i].Name < computeServers[j].Name
	})

	compute := make([]*provisioning.Node, 0, len(computeServers))
	for _, server := range computeServers {
		compute = append(compute, nodeFromServer(server, provisioning.RoleCompute))
	}
	return head, compute, nil
}

// nodeFromServer builds the provisioning view of an existing server.
func nodeFromServer(server *hcloud.Server, role provisioning.Role) *provisioning.Node {
	return &provisioning.Node{
		Name:      server.Name,
		Role:      role,
		ServerID:  server.ID,
		PublicIP:  provisioning.PublicAddr(server),
		PrivateIP: provisioning.PrivateAddr(server, ""),
	}
}

// discoverVolume finds the cluster's data volume and records the device
// path it appears under on the head node.
func discoverVolume(pctx *provisioning.Context, cfg *config.Config) error {
	name := naming.DataVolume(cfg.ClusterName)
	volume, err := pctx.Infra.GetVolumeByName(pctx, name)
	if err != nil {
		return fmt.Errorf("failed to discover data volume: %w", err)
	}
	if volume == nil {
		return fmt.Errorf("data volume %s not found; run 'strand create' first", name)
	}

	pctx.State.Volume = volume
	pctx.State.VolumeDevice = volume.LinuxDevice
	if cfg.Volume.Device != "" {
		pctx.State.VolumeDevice = cfg.Volume.Device
	}
	return nil
}
