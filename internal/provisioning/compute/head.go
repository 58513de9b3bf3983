package compute

import (
	"fmt"
	"net"
	"strconv"

	"github.com/hetznercloud/hcloud-go/v2/hcloud"

	hcloud_internal "github.com/strandtools/strand/internal/platform/hcloud"
	"github.com/strandtools/strand/internal/provisioning"
	"github.com/strandtools/strand/internal/util/labels"
	"github.com/strandtools/strand/internal/util/naming"
	"github.com/strandtools/strand/internal/util/netutil"
)

// provisionHead ensures the head server. It owns the shared data volume
// and exports it to the rest of the cluster, so everything else waits
// for it.
func (p *Provisioner) provisionHead(ctx *provisioning.Context, subnet *net.IPNet) (*hcloud.Server, error) {
	cfg := ctx.Config
	name := naming.HeadNode(cfg.ClusterName)
	ctx.Observer.Printf("[%s] Reconciling head server %s...", phase, name)

	ip, err := netutil.NthHost(subnet, headHostNum)
	if err != nil {
		return nil, fail(ctx, "server", name, err)
	}

	existing, err := ctx.Infra.GetServerByName(ctx, name)
	if err != nil {
		return nil, fail(ctx, "server", name, fmt.Errorf("failed to look up server %s: %w", name, err))
	}

	server, err := ctx.Infra.EnsureServer(ctx, hcloud_internal.ServerCreateOpts{
		Name:       name,
		ServerType: cfg.Head.ServerType,
		Image:      cfg.Image,
		Location:   cfg.Location,
		SSHKeys:    []string{naming.SSHKey(cfg.ClusterName)},
		Labels:     labels.ForCluster(cfg.ClusterName).Role(labels.RoleHead).Build(),
		NetworkID:  ctx.State.Network.ID,
		PrivateIP:  ip.String(),
	})
	if err != nil {
		return nil, fail(ctx, "server", name, err)
	}

	ctx.State.Head = &provisioning.Node{
		Name:      name,
		Role:      provisioning.RoleHead,
		ServerID:  server.ID,
		PublicIP:  provisioning.PublicAddr(server),
		PrivateIP: provisioning.PrivateAddr(server, ip.String()),
	}

	if existing != nil {
		provisioning.LogResourceExists(ctx.Observer, phase, "server", name, strconv.FormatInt(server.ID, 10))
		report(ctx, "server", name, provisioning.StatusSatisfied, ctx.State.Head.PrivateIP)
	} else {
		provisioning.LogResourceCreated(ctx.Observer, phase, "server", name, strconv.FormatInt(server.ID, 10))
		report(ctx, "server", name, provisioning.StatusConverged, "created at "+ctx.State.Head.PrivateIP)
	}
	return server, nil
}

// provisionDataVolume ensures the shared data volume and attaches it to
// the head server. The device path the volume appears under feeds the
// head's storage steps during bootstrap.
func (p *Provisioner) provisionDataVolume(ctx *provisioning.Context, head *hcloud.Server) error {
	cfg := ctx.Config
	name := naming.DataVolume(cfg.ClusterName)

	existing, err := ctx.Infra.GetVolumeByName(ctx, name)
	if err != nil {
		return fail(ctx, "volume", name, fmt.Errorf("failed to look up volume %s: %w", name, err))
	}

	volume, err := ctx.Infra.EnsureVolume(ctx, name, cfg.Volume.SizeGB, cfg.Location, labels.ForCluster(cfg.ClusterName).Build())
	if err != nil {
		return fail(ctx, "volume", name, err)
	}

	device, err := ctx.Infra.AttachVolume(ctx, volume, head)
	if err != nil {
		return fail(ctx, "volume", name, fmt.Errorf("failed to attach volume %s: %w", name, err))
	}

	ctx.State.Volume = volume
	ctx.State.VolumeDevice = device
	if cfg.Volume.Device != "" {
		ctx.State.VolumeDevice = cfg.Volume.Device
	}

	detail := fmt.Sprintf("%dGB at %s", volume.Size, ctx.State.VolumeDevice)
	if existing != nil {
		provisioning.LogResourceExists(ctx.Observer, phase, "volume", name, strconv.FormatInt(volume.ID, 10))
		report(ctx, "volume", name, provisioning.StatusSatisfied, detail)
	} else {
		provisioning.LogResourceCreated(ctx.Observer, phase, "volume", name, strconv.FormatInt(volume.ID, 10))
		report(ctx, "volume", name, provisioning.StatusConverged, "created, "+detail)
	}
	return nil
}
