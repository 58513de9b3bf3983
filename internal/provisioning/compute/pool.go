package compute

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync/atomic"

	hcloud_internal "github.com/strandtools/strand/internal/platform/hcloud"
	"github.com/strandtools/strand/internal/provisioning"
	"github.com/strandtools/strand/internal/util/async"
	"github.com/strandtools/strand/internal/util/labels"
	"github.com/strandtools/strand/internal/util/naming"
	"github.com/strandtools/strand/internal/util/netutil"
)

// provisionComputePool creates the compute servers in parallel. Every
// server gets its outcome recorded individually; one failing does not
// stop its siblings, but any failure fails the phase once all are done.
func (p *Provisioner) provisionComputePool(ctx *provisioning.Context, subnet *net.IPNet) error {
	cfg := ctx.Config
	count := cfg.Compute.Count
	if count == 0 {
		ctx.Observer.Printf("[%s] No compute servers declared", phase)
		return nil
	}
	ctx.Observer.Printf("[%s] Reconciling %d compute servers...", phase, count)

	nodes := make([]*provisioning.Node, count)
	var done atomic.Int32
	tasks := make([]async.Task, count)
	for i := 0; i < count; i++ {
		name := naming.ComputeNode(cfg.ClusterName, i)
		ip, err := netutil.NthHost(subnet, computeHostOffset+i)
		if err != nil {
			return fail(ctx, "server", name, err)
		}
		index := i
		tasks[i] = async.Task{
			Name: name,
			Func: func(context.Context) error {
				node, err := p.ensureComputeServer(ctx, name, ip.String())
				if err != nil {
					return err
				}
				nodes[index] = node
				ctx.Observer.Progress(phase, int(done.Add(1)), count)
				return nil
			},
		}
	}

	results := async.RunAll(ctx, tasks)
	for _, node := range nodes {
		if node != nil {
			ctx.State.Compute = append(ctx.State.Compute, node)
		}
	}
	if err := async.Join(results); err != nil {
		return fmt.Errorf("compute pool incomplete: %w", err)
	}
	return nil
}

func (p *Provisioner) ensureComputeServer(ctx *provisioning.Context, name, privateIP string) (*provisioning.Node, error) {
	cfg := ctx.Config

	existing, err := ctx.Infra.GetServerByName(ctx, name)
	if err != nil {
		return nil, fail(ctx, "server", name, fmt.Errorf("failed to look up server %s: %w", name, err))
	}

	server, err := ctx.Infra.EnsureServer(ctx, hcloud_internal.ServerCreateOpts{
		Name:       name,
		ServerType: cfg.Compute.ServerType,
		Image:      cfg.Image,
		Location:   cfg.Location,
		SSHKeys:    []string{naming.SSHKey(cfg.ClusterName)},
		Labels:     labels.ForCluster(cfg.ClusterName).Role(labels.RoleCompute).Build(),
		NetworkID:  ctx.State.Network.ID,
		PrivateIP:  privateIP,
	})
	if err != nil {
		return nil, fail(ctx, "server", name, err)
	}

	node := &provisioning.Node{
		Name:      name,
		Role:      provisioning.RoleCompute,
		ServerID:  server.ID,
		PublicIP:  provisioning.PublicAddr(server),
		PrivateIP: provisioning.PrivateAddr(server, privateIP),
	}

	if existing != nil {
		provisioning.LogResourceExists(ctx.Observer, phase, "server", name, strconv.FormatInt(server.ID, 10))
		report(ctx, "server", name, provisioning.StatusSatisfied, node.PrivateIP)
	} else {
		provisioning.LogResourceCreated(ctx.Observer, phase, "server", name, strconv.FormatInt(server.ID, 10))
		report(ctx, "server", name, provisioning.StatusConverged, "created at "+node.PrivateIP)
	}
	return node, nil
}
