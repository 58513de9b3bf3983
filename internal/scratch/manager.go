// Package scratch manages the optional high-throughput scratch
// filesystem stack: storage servers carrying striped target volumes,
// tracked through a manifest in object storage and mounted by cluster
// nodes over the private network.
//
// The stack has its own lifecycle, independent of the cluster that
// mounts it. Creation may run concurrently with cluster bootstrap;
// Mount blocks until the manifest reports the stack available.
package scratch

import (
	"context"
	"fmt"
	"net"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/strandtools/strand/internal/config"
	hcloud_internal "github.com/strandtools/strand/internal/platform/hcloud"
	"github.com/strandtools/strand/internal/platform/objstore"
	"github.com/strandtools/strand/internal/provisioning"
	"github.com/strandtools/strand/internal/provisioning/converge"
	"github.com/strandtools/strand/internal/provisioning/remotefs"
	"github.com/strandtools/strand/internal/provisioning/storage"
	"github.com/strandtools/strand/internal/util/async"
	"github.com/strandtools/strand/internal/util/labels"
	"github.com/strandtools/strand/internal/util/naming"
	"github.com/strandtools/strand/internal/util/netutil"
	"github.com/strandtools/strand/internal/util/retry"
)

const phaseName = "scratch"

// scratchHostOffset is where storage server addresses start within the
// scratch subnet. The gateway sits at offset 1.
const scratchHostOffset = 10

// Manager drives the scratch stack lifecycle against the cloud control
// plane and the manifest store.
type Manager struct {
	cfg     *config.Config
	infra   hcloud_internal.InfrastructureManager
	store   objstore.Store
	runners provisioning.RunnerFactory

	Observer provisioning.Observer
	Timeouts *config.Timeouts
}

// NewManager returns a Manager with console observability and timeouts
// from the environment. Both are exported fields, replaceable before
// the first call.
func NewManager(cfg *config.Config, infra hcloud_internal.InfrastructureManager, store objstore.Store, runners provisioning.RunnerFactory) *Manager {
	return &Manager{
		cfg:      cfg,
		infra:    infra,
		store:    store,
		runners:  runners,
		Observer: provisioning.NewConsoleObserver(),
		Timeouts: config.LoadTimeouts(),
	}
}

func (m *Manager) bucket() string {
	if m.cfg.ObjectStore != nil && m.cfg.ObjectStore.Bucket != "" {
		return m.cfg.ObjectStore.Bucket
	}
	return naming.ManifestBucket(m.cfg.ClusterName)
}

func (m *Manager) key() string    { return naming.ManifestKey(m.cfg.ClusterName) }
func (m *Manager) fsName() string { return naming.ScratchFs(m.cfg.ClusterName) }

// State reads the stack's recorded state from its manifest. A missing
// bucket or manifest means the stack is absent.
func (m *Manager) State(ctx context.Context) (StackState, *Manifest, error) {
	data, err := m.store.GetObject(ctx, m.bucket(), m.key())
	if err != nil {
		if objstore.IsNotFound(err) {
			return StackAbsent, nil, nil
		}
		return StackAbsent, nil, fmt.Errorf("failed to read stack manifest: %w", err)
	}
	manifest, err := ParseManifest(data)
	if err != nil {
		return StackAbsent, nil, err
	}
	return manifest.State, manifest, nil
}

// save writes the manifest back to the store, stamping the update time.
func (m *Manager) save(ctx context.Context, manifest *Manifest) error {
	manifest.UpdatedAt = time.Now().UTC()
	data, err := manifest.Render()
	if err != nil {
		return fmt.Errorf("failed to render stack manifest: %w", err)
	}
	if err := m.store.PutObject(ctx, m.bucket(), m.key(), data); err != nil {
		return fmt.Errorf("failed to store stack manifest: %w", err)
	}
	return nil
}

// advance transitions the manifest and persists the new state, so
// concurrent invocations observe lifecycle changes as soon as they
// happen.
func (m *Manager) advance(ctx context.Context, manifest *Manifest, to StackState) error {
	if err := manifest.Transition(to); err != nil {
		return err
	}
	return m.save(ctx, manifest)
}

// Create builds the scratch stack: a subnet of its own, NodeCount
// storage servers with TargetsPerNode volumes each, formatted and
// mounted as targets, with the manifest tracking progress. An already
// available stack is adopted unchanged unless recreate is set, which
// destroys it first.
func (m *Manager) Create(ctx context.Context, recreate bool) (*Manifest, error) {
	if m.cfg.Scratch == nil {
		return nil, fmt.Errorf("no scratch stack declared in configuration")
	}

	state, existing, err := m.State(ctx)
	if err != nil {
		return nil, err
	}

	switch state {
	case StackAvailable, StackMounted:
		if !recreate {
			provisioning.LogResourceExists(m.Observer, phaseName, "scratch stack", m.fsName(), existing.FsSpec())
			return existing, nil
		}
		m.Observer.Printf("[Scratch] Recreating %s: destroying the existing stack first", m.fsName())
		if err := m.Destroy(ctx); err != nil {
			return nil, err
		}
	case StackCreating:
		return nil, fmt.Errorf("scratch stack %s is already being created; wait for it or destroy it", m.fsName())
	case StackDestroying:
		return nil, fmt.Errorf("scratch stack %s is being destroyed; retry once it is gone", m.fsName())
	}

	spec := m.cfg.Scratch
	manifest := &Manifest{
		Cluster:        m.cfg.ClusterName,
		FsName:         m.fsName(),
		State:          StackAbsent,
		Mountpoint:     spec.Mountpoint,
		NodeCount:      spec.NodeCount,
		TargetsPerNode: spec.TargetsPerNode,
		SizeGB:         spec.SizeGB,
		CreatedAt:      time.Now().UTC(),
	}

	if err := m.store.EnsureBucket(ctx, m.bucket()); err != nil {
		return nil, err
	}
	if err := m.advance(ctx, manifest, StackCreating); err != nil {
		return nil, err
	}

	if err := m.build(ctx, manifest); err != nil {
		return nil, fmt.Errorf("scratch stack creation failed, manifest left in %s for inspection: %w", StackCreating, err)
	}

	if err := m.advance(ctx, manifest, StackAvailable); err != nil {
		return nil, err
	}
	m.Observer.Printf("[Scratch] Stack available at %s", manifest.FsSpec())
	return manifest, nil
}

// build provisions the stack's cloud resources and prepares the target
// filesystems. Every Ensure call is idempotent, so a re-created stack
// adopts whatever a failed earlier attempt left behind.
func (m *Manager) build(ctx context.Context, manifest *Manifest) error {
	cfg := m.cfg
	spec := cfg.Scratch
	clusterLabels := labels.ForCluster(cfg.ClusterName).Build()
	stackLabels := labels.ForCluster(cfg.ClusterName).Role(labels.RoleScratch).Stack(manifest.FsName).Build()

	network, err := m.infra.EnsureNetwork(ctx, naming.Network(cfg.ClusterName), cfg.NetworkCIDR, clusterLabels)
	if err != nil {
		return err
	}
	subnet, err := config.ScratchSubnet(cfg.NetworkCIDR)
	if err != nil {
		return err
	}
	if err := m.infra.EnsureSubnet(ctx, network, subnet.String(), cfg.NetworkZone); err != nil {
		return err
	}

	publicKey, err := os.ReadFile(cfg.SSH.PublicKeyPath)
	if err != nil {
		return fmt.Errorf("failed to read SSH public key: %w", err)
	}
	if _, err := m.infra.EnsureSSHKey(ctx, naming.SSHKey(cfg.ClusterName), strings.TrimSpace(string(publicKey)), clusterLabels); err != nil {
		return err
	}

	sizePerTarget := spec.SizeGB / spec.NodeCount / spec.TargetsPerNode

	nodes := make([]ManifestNode, spec.NodeCount)
	tasks := make([]async.Task, 0, spec.NodeCount)
	for i := 0; i < spec.NodeCount; i++ {
		tasks = append(tasks, async.Task{
			Name: naming.ScratchNode(cfg.ClusterName, i),
			Func: func(ctx context.Context) error {
				node, err := m.buildNode(ctx, network.ID, subnet, i, sizePerTarget, stackLabels)
				if err != nil {
					return err
				}
				nodes[i] = *node
				return nil
			},
		})
	}
	if err := async.Join(async.RunAll(ctx, tasks)); err != nil {
		return err
	}
	manifest.Nodes = nodes

	// The first storage server doubles as the management node clients
	// name in their mount spec.
	manifest.MgtIP = nodes[0].PrivateIP

	return m.prepareTargets(ctx, manifest)
}

// buildNode creates one storage server and its target volumes.
func (m *Manager) buildNode(ctx context.Context, networkID int64, subnet *net.IPNet, index, sizePerTarget int, stackLabels map[string]string) (*ManifestNode, error) {
	cfg := m.cfg
	name := naming.ScratchNode(cfg.ClusterName, index)

	ip, err := netutil.NthHost(subnet, scratchHostOffset+index)
	if err != nil {
		return nil, err
	}

	server, err := m.infra.EnsureServer(ctx, hcloud_internal.ServerCreateOpts{
		Name:       name,
		ServerType: cfg.Scratch.ServerType,
		Image:      cfg.Image,
		Location:   cfg.Location,
		SSHKeys:    []string{naming.SSHKey(cfg.ClusterName)},
		Labels:     stackLabels,
		NetworkID:  networkID,
		PrivateIP:  ip.String(),
	})
	if err != nil {
		return nil, err
	}

	node := &ManifestNode{
		Name:      name,
		ServerID:  server.ID,
		PublicIP:  provisioning.PublicAddr(server),
		PrivateIP: provisioning.PrivateAddr(server, ip.String()),
	}

	for t := 0; t < cfg.Scratch.TargetsPerNode; t++ {
		volume, err := m.infra.EnsureVolume(ctx, naming.ScratchVolume(cfg.ClusterName, index, t), sizePerTarget, cfg.Location, stackLabels)
		if err != nil {
			return nil, err
		}
		device, err := m.infra.AttachVolume(ctx, volume, server)
		if err != nil {
			return nil, err
		}
		node.Targets = append(node.Targets, device)
	}

	m.Observer.Printf("[Scratch] Server %s ready with %d targets", name, len(node.Targets))
	return node, nil
}

// prepareTargets formats and mounts every target volume on every
// storage server, concurrently across servers.
func (m *Manager) prepareTargets(ctx context.Context, manifest *Manifest) error {
	var done atomic.Int32
	total := len(manifest.Nodes)

	tasks := make([]async.Task, 0, total)
	for i := range manifest.Nodes {
		node := &manifest.Nodes[i]
		tasks = append(tasks, async.Task{
			Name: node.Name,
			Func: func(ctx context.Context) error {
				if err := m.prepareNode(ctx, manifest.FsName, node); err != nil {
					return err
				}
				m.Observer.Progress(phaseName, int(done.Add(1)), total)
				return nil
			},
		})
	}
	return async.Join(async.RunAll(ctx, tasks))
}

// prepareNode converges one storage server's target filesystems. The
// format step's signature probe keeps re-runs from wiping targets that
// already hold data.
func (m *Manager) prepareNode(ctx context.Context, fsName string, node *ManifestNode) error {
	runner, err := m.runners(node.PublicIP)
	if err != nil {
		return fmt.Errorf("failed to reach %s: %w", node.Name, err)
	}

	steps := make([]converge.Step, 0, 3*len(node.Targets))
	for t, device := range node.Targets {
		target := storage.Volume{
			Device:     device,
			Mountpoint: fmt.Sprintf("/srv/%s/target-%d", fsName, t),
			Filesystem: "ext4",
			Options:    "noatime",
		}
		steps = append(steps,
			storage.EnsureDirectory(target.Mountpoint),
			storage.FormatIfUnformatted(target.Device, target.Filesystem),
			storage.EnsureMounted(target),
		)
	}

	nodeCtx, cancel := context.WithTimeout(ctx, m.Timeouts.NodeConverge)
	defer cancel()

	_, err = converge.RunSteps(nodeCtx, runner, steps, func(r converge.TaskResult) {
		provisioning.LogStepResult(m.Observer, phaseName, node.Name, r)
	})
	if err != nil {
		return fmt.Errorf("target preparation on %s failed: %w", node.Name, err)
	}
	return nil
}

// WaitAvailable blocks until the stack manifest reports available,
// polling the store. An absent manifest keeps the wait alive: when
// creation runs concurrently, the manifest may not have been written
// yet when the first poll lands. The context and the StackAvailable
// timeout bound the wait.
func (m *Manager) WaitAvailable(ctx context.Context) (*Manifest, error) {
	waitCtx, cancel := context.WithTimeout(ctx, m.Timeouts.StackAvailable)
	defer cancel()

	ticker := time.NewTicker(m.Timeouts.StackPoll)
	defer ticker.Stop()

	reported := StackState("unpolled")
	for {
		state, manifest, err := m.State(waitCtx)
		switch {
		case err != nil:
			// The store may blip during a long wait; keep polling.
			m.Observer.Printf("[Scratch] Manifest read failed, retrying: %v", err)
		case state == StackAvailable || state == StackMounted:
			return manifest, nil
		case state == StackDestroying:
			return nil, fmt.Errorf("scratch stack is being destroyed and will not become available")
		case state != reported:
			m.Observer.Printf("[Scratch] Stack is %s; waiting for it to become available", state)
			reported = state
		}

		select {
		case <-waitCtx.Done():
			return nil, fmt.Errorf("scratch stack did not become available: %w", waitCtx.Err())
		case <-ticker.C:
		}
	}
}

// FsSpec returns the mount source of the stack, failing when it is not
// in a state a client could mount.
func (m *Manager) FsSpec(ctx context.Context) (string, error) {
	state, manifest, err := m.State(ctx)
	if err != nil {
		return "", err
	}
	switch state {
	case StackAvailable, StackMounted:
		return manifest.FsSpec(), nil
	case StackAbsent:
		return "", fmt.Errorf("no scratch stack exists for cluster %s", m.cfg.ClusterName)
	default:
		return "", fmt.Errorf("scratch stack is %s, not mountable", state)
	}
}

// Mount mounts the scratch filesystem on the given nodes, blocking
// until the stack is available. Cluster provisioning can therefore
// start the stack and the nodes concurrently and rendezvous here. The
// manifest moves to mounted only when every node converged; a partial
// failure leaves it available so a later retry mounts the stragglers.
func (m *Manager) Mount(ctx context.Context, nodes []*provisioning.Node) (*provisioning.Report, error) {
	report := provisioning.NewReport()
	if len(nodes) == 0 {
		return report, fmt.Errorf("no nodes to mount the scratch filesystem on")
	}

	manifest, err := m.WaitAvailable(ctx)
	if err != nil {
		return report, err
	}

	m.Observer.Printf("[Scratch] Mounting %s on %d nodes; client reconfiguration may briefly disrupt them",
		manifest.FsSpec(), len(nodes))

	mount := remotefs.Mount{
		Source:     manifest.FsSpec(),
		Mountpoint: manifest.Mountpoint,
		Type:       "lustre",
	}

	tasks := make([]async.Task, 0, len(nodes))
	for _, node := range nodes {
		tasks = append(tasks, async.Task{
			Name: node.Name,
			Func: func(ctx context.Context) error {
				return m.mountNode(ctx, node, mount, report)
			},
		})
	}
	if err := async.Join(async.RunAll(ctx, tasks)); err != nil {
		return report, fmt.Errorf("scratch mount incomplete: %w", err)
	}

	if manifest.State != StackMounted {
		if err := m.advance(ctx, manifest, StackMounted); err != nil {
			return report, err
		}
	}
	return report, nil
}

// mountNode converges one node onto the scratch mount, retrying the
// whole plan on transient failures. The storage servers may still be
// settling when the first attempt lands.
func (m *Manager) mountNode(ctx context.Context, node *provisioning.Node, mount remotefs.Mount, report *provisioning.Report) error {
	runner, err := m.runners(node.PublicIP)
	if err != nil {
		report.Add(provisioning.Entry{Kind: "node", Name: node.Name, Status: provisioning.StatusFailed, Detail: "unreachable", Err: err})
		return err
	}

	nodeCtx, cancel := context.WithTimeout(ctx, m.Timeouts.NodeConverge)
	defer cancel()

	var rs *converge.ResultSet
	err = retry.Do(nodeCtx, func() error {
		var runErr error
		rs, runErr = converge.RunSteps(nodeCtx, runner, remotefs.Plan([]remotefs.Mount{mount}), func(r converge.TaskResult) {
			provisioning.LogStepResult(m.Observer, phaseName, node.Name, r)
		})
		return runErr
	}, retry.Attempts(m.Timeouts.RetryMaxAttempts), retry.Delay(m.Timeouts.RetryInitialDelay))
	if err != nil {
		report.Add(provisioning.Entry{Kind: "node", Name: node.Name, Status: provisioning.StatusFailed, Err: err})
		return err
	}

	status, detail := provisioning.StatusFromResults(rs)
	report.Add(provisioning.Entry{Kind: "node", Name: node.Name, Status: status, Detail: detail})
	return nil
}

// Unmount removes the scratch mount from the given nodes and, when
// every node converged, moves a mounted stack back to available.
func (m *Manager) Unmount(ctx context.Context, nodes []*provisioning.Node) (*provisioning.Report, error) {
	report := provisioning.NewReport()

	state, manifest, err := m.State(ctx)
	if err != nil {
		return report, err
	}
	if state == StackAbsent {
		return report, fmt.Errorf("no scratch stack exists for cluster %s", m.cfg.ClusterName)
	}

	tasks := make([]async.Task, 0, len(nodes))
	for _, node := range nodes {
		tasks = append(tasks, async.Task{
			Name: node.Name,
			Func: func(ctx context.Context) error {
				return m.unmountNode(ctx, node, manifest.Mountpoint, report)
			},
		})
	}
	if err := async.Join(async.RunAll(ctx, tasks)); err != nil {
		return report, fmt.Errorf("scratch unmount incomplete: %w", err)
	}

	if state == StackMounted {
		if err := m.advance(ctx, manifest, StackAvailable); err != nil {
			return report, err
		}
	}
	return report, nil
}

func (m *Manager) unmountNode(ctx context.Context, node *provisioning.Node, mountpoint string, report *provisioning.Report) error {
	runner, err := m.runners(node.PublicIP)
	if err != nil {
		report.Add(provisioning.Entry{Kind: "node", Name: node.Name, Status: provisioning.StatusFailed, Detail: "unreachable", Err: err})
		return err
	}

	nodeCtx, cancel := context.WithTimeout(ctx, m.Timeouts.NodeConverge)
	defer cancel()

	rs, err := converge.RunSteps(nodeCtx, runner, []converge.Step{remotefs.EnsureUnmounted(mountpoint)}, func(r converge.TaskResult) {
		provisioning.LogStepResult(m.Observer, phaseName, node.Name, r)
	})
	if err != nil {
		report.Add(provisioning.Entry{Kind: "node", Name: node.Name, Status: provisioning.StatusFailed, Err: err})
		return err
	}

	status, detail := provisioning.StatusFromResults(rs)
	report.Add(provisioning.Entry{Kind: "node", Name: node.Name, Status: status, Detail: detail})
	return nil
}

// Destroy releases every stack resource and removes the manifest. The
// manifest is flipped to destroying first so a concurrent Mount fails
// fast instead of mounting a filesystem being torn down. Destroying an
// absent stack is a no-op.
func (m *Manager) Destroy(ctx context.Context) error {
	state, manifest, err := m.State(ctx)
	if err != nil {
		return err
	}
	if state == StackAbsent {
		m.Observer.Printf("[Scratch] No stack manifest for cluster %s; nothing to destroy", m.cfg.ClusterName)
		return nil
	}

	if state != StackDestroying {
		if err := m.advance(ctx, manifest, StackDestroying); err != nil {
			return err
		}
	}

	stackLabels := labels.ForCluster(m.cfg.ClusterName).Role(labels.RoleScratch).Build()
	if err := m.infra.CleanupByLabel(ctx, stackLabels); err != nil {
		return fmt.Errorf("failed to release scratch stack resources: %w", err)
	}

	if err := m.store.DeleteObject(ctx, m.bucket(), m.key()); err != nil {
		return fmt.Errorf("failed to remove stack manifest: %w", err)
	}
	m.Observer.Printf("[Scratch] Stack %s destroyed", m.fsName())
	return nil
}
