// Package bootstrap converges the provisioned servers into a working
// cluster.
//
// The head node formats and mounts the shared data volume and exports
// it; compute nodes then mount the export. Ordering is strict: no
// compute node starts until the head's export result is recorded. Any
// compute address not yet covered by the export grant is added and the
// export refreshed before the first mount attempt, so compute nodes
// never spin against a denied mount. Compute nodes run concurrently and
// their outcomes are reported independently.
package bootstrap

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/strandtools/strand/internal/provisioning"
	"github.com/strandtools/strand/internal/provisioning/converge"
	"github.com/strandtools/strand/internal/provisioning/remotefs"
	"github.com/strandtools/strand/internal/provisioning/storage"
	"github.com/strandtools/strand/internal/util/async"
	"github.com/strandtools/strand/internal/util/retry"
)

const phase = "bootstrap"

// Provisioner implements the bootstrap phase.
type Provisioner struct{}

// NewProvisioner creates a new bootstrap provisioner.
func NewProvisioner() *Provisioner {
	return &Provisioner{}
}

// Name implements the provisioning.Phase interface.
func (p *Provisioner) Name() string {
	return phase
}

// Provision implements the provisioning.Phase interface.
func (p *Provisioner) Provision(ctx *provisioning.Context) error {
	if ctx.State.Head == nil {
		return fmt.Errorf("bootstrap phase requires provisioned nodes; run compute first")
	}
	if ctx.Runners == nil {
		return fmt.Errorf("bootstrap phase requires a remote runner factory")
	}

	cfg := ctx.Config
	grant := provisioning.NewExportGrant(
		ctx.State.Head.PrivateIP+":"+cfg.ExportPath(),
		cfg.ExportPath(),
		cfg.Export.Options,
		cfg.Export.Clients,
	)
	ctx.State.Export = grant

	if err := p.convergeHead(ctx, grant); err != nil {
		return err
	}
	return p.convergeComputeNodes(ctx, grant)
}

// convergeHead runs the head task list. The export step is last in the
// plan, so once this returns the export identity is live and recorded.
func (p *Provisioner) convergeHead(ctx *provisioning.Context, grant *provisioning.ExportGrant) error {
	cfg := ctx.Config
	head := ctx.State.Head
	ctx.Observer.Printf("[%s] Converging head node %s...", phase, head.Name)

	runner, err := p.reachNode(ctx, head)
	if err != nil {
		return fmt.Errorf("head node %s: %w", head.Name, err)
	}

	vol := storage.Volume{
		Device:     ctx.State.VolumeDevice,
		Mountpoint: cfg.Volume.Mountpoint,
		Filesystem: cfg.Volume.Filesystem,
		Options:    cfg.Volume.Options,
	}
	if vol.Device == "" {
		return fmt.Errorf("no data volume device known for head node %s", head.Name)
	}
	exp := storage.Export{Path: grant.Path, Clients: grant.Clients(), Options: grant.Options}

	nodeCtx, cancel := context.WithTimeout(ctx, ctx.Timeouts.NodeConverge)
	defer cancel()

	rs, err := converge.RunSteps(nodeCtx, runner, storage.Plan(vol, exp, cfg.SSH.User), stepReporter(ctx, head.Name))
	if err != nil {
		status, detail := provisioning.StatusFromResults(rs)
		ctx.State.Report.Add(provisioning.Entry{Kind: "node", Name: head.Name, Status: status, Detail: detail, Err: err})
		return fmt.Errorf("head bootstrap failed: %w", err)
	}

	status, detail := provisioning.StatusFromResults(rs)
	ctx.State.Report.Add(provisioning.Entry{Kind: "node", Name: head.Name, Status: status, Detail: detail})
	return nil
}

// convergeComputeNodes grants any uncovered compute address, refreshes
// the export once when the grant changed, then mounts every compute
// node in parallel. One node failing does not stop its siblings; the
// phase fails after all of them finished.
func (p *Provisioner) convergeComputeNodes(ctx *provisioning.Context, grant *provisioning.ExportGrant) error {
	nodes := ctx.State.Compute
	if len(nodes) == 0 {
		ctx.Observer.Printf("[%s] No compute nodes to converge", phase)
		return nil
	}

	for _, node := range nodes {
		if !grant.Covers(node.PrivateIP) {
			grant.AddClient(node.PrivateIP)
		}
	}
	if err := p.refreshExport(ctx, grant); err != nil {
		return err
	}

	ctx.Observer.Printf("[%s] Converging %d compute nodes...", phase, len(nodes))
	mount := remotefs.Mount{Source: grant.Source, Mountpoint: ctx.Config.Volume.Mountpoint}

	total := len(nodes)
	var done atomic.Int32
	tasks := make([]async.Task, 0, total)
	for _, node := range nodes {
		tasks = append(tasks, async.Task{
			Name: node.Name,
			Func: func(context.Context) error {
				if err := p.convergeComputeNode(ctx, node, mount); err != nil {
					return err
				}
				ctx.Observer.Progress(phase, int(done.Add(1)), total)
				return nil
			},
		})
	}

	if err := async.Join(async.RunAll(ctx, tasks)); err != nil {
		return fmt.Errorf("bootstrap incomplete: %w", err)
	}
	return nil
}

func (p *Provisioner) convergeComputeNode(ctx *provisioning.Context, node *provisioning.Node, mount remotefs.Mount) error {
	runner, err := p.reachNode(ctx, node)
	if err != nil {
		return err
	}

	nodeCtx, cancel := context.WithTimeout(ctx, ctx.Timeouts.NodeConverge)
	defer cancel()

	// A mount against an export that is not serving yet fails with a
	// plain error; the whole plan is retried and converged steps
	// re-probe as unchanged.
	var rs *converge.ResultSet
	err = retry.Do(nodeCtx, func() error {
		var runErr error
		rs, runErr = converge.RunSteps(nodeCtx, runner, remotefs.Plan([]remotefs.Mount{mount}), stepReporter(ctx, node.Name))
		return runErr
	}, retry.Attempts(ctx.Timeouts.RetryMaxAttempts), retry.Delay(ctx.Timeouts.RetryInitialDelay))
	if err != nil {
		status, detail := provisioning.StatusFromResults(rs)
		ctx.State.Report.Add(provisioning.Entry{Kind: "node", Name: node.Name, Status: status, Detail: detail, Err: err})
		return err
	}

	status, detail := provisioning.StatusFromResults(rs)
	ctx.State.Report.Add(provisioning.Entry{Kind: "node", Name: node.Name, Status: status, Detail: detail})
	return nil
}

// refreshExport reasserts the export entry with the full client list.
// The capability probe guards it the same way the head plan does, so a
// head without export tooling skips the refresh instead of failing.
func (p *Provisioner) refreshExport(ctx *provisioning.Context, grant *provisioning.ExportGrant) error {
	if !grant.Dirty() {
		return nil
	}
	head := ctx.State.Head
	ctx.Observer.Printf("[%s] Refreshing export on %s for %d clients...", phase, head.Name, len(grant.Clients()))

	runner, err := ctx.Runners(head.PublicIP)
	if err != nil {
		return fmt.Errorf("head node %s is unreachable: %w", head.Name, err)
	}

	export := storage.EnsureExported(storage.Export{Path: grant.Path, Clients: grant.Clients(), Options: grant.Options})
	export.When = converge.IfAvailable(storage.ProbeExportStepName)
	steps := []converge.Step{storage.ProbeExportCapability(), export}

	nodeCtx, cancel := context.WithTimeout(ctx, ctx.Timeouts.NodeConverge)
	defer cancel()
	if _, err := converge.RunSteps(nodeCtx, runner, steps, stepReporter(ctx, head.Name)); err != nil {
		return fmt.Errorf("export refresh failed: %w", err)
	}
	grant.ClearDirty()
	return nil
}

// reachNode builds the node's runner and waits for it to accept
// connections. A node that cannot be reached is reported distinctly
// from one whose convergence failed.
func (p *Provisioner) reachNode(ctx *provisioning.Context, node *provisioning.Node) (converge.Runner, error) {
	runner, err := ctx.Runners(node.PublicIP)
	if err == nil {
		err = waitReady(ctx, runner, ctx.Timeouts.SSHReady)
	}
	if err != nil {
		ctx.State.Report.Add(provisioning.Entry{Kind: "node", Name: node.Name, Status: provisioning.StatusFailed, Detail: "unreachable", Err: err})
		return nil, fmt.Errorf("unreachable: %w", err)
	}
	return runner, nil
}

// readyWaiter is implemented by transports that can block until the
// node accepts connections. The SSH client does; scripted test runners
// do not need to.
type readyWaiter interface {
	WaitReady(ctx context.Context) error
}

func waitReady(ctx context.Context, r converge.Runner, timeout time.Duration) error {
	w, ok := r.(readyWaiter)
	if !ok {
		return nil
	}
	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return w.WaitReady(wctx)
}

func stepReporter(ctx *provisioning.Context, node string) converge.Reporter {
	return func(result converge.TaskResult) {
		provisioning.LogStepResult(ctx.Observer, phase, node, result)
	}
}
