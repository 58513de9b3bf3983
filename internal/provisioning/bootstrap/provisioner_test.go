package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strandtools/strand/internal/config"
	hcloud_internal "github.com/strandtools/strand/internal/platform/hcloud"
	"github.com/strandtools/strand/internal/provisioning"
	"github.com/strandtools/strand/internal/provisioning/converge"
	"github.com/strandtools/strand/internal/provisioning/storage"
)

const (
	headName    = "alpha-head"
	headPublic  = "203.0.113.2"
	headPrivate = "10.0.0.2"
	testDevice  = "/dev/disk/by-id/scsi-0HC_Volume_7"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{
		ClusterName: "alpha",
		NetworkCIDR: "10.0.0.0/16",
		Compute:     config.ComputeSpec{Count: 2},
		SSH:         config.SSHSpec{PrivateKeyPath: "/tmp/id", PublicKeyPath: "/tmp/id.pub"},
	}
	cfg.ApplyDefaults()
	require.NoError(t, cfg.Validate())
	return cfg
}

// hostCommand is one executed command attributed to its host. The fake
// cluster keeps a single ordered log across all hosts so tests can
// assert cross-node ordering.
type hostCommand struct {
	host string
	cmd  string
}

// fakeCluster wires fake hosts together: runners are looked up by
// public address, NFS sources resolve through private addresses, and a
// mount of host:path only succeeds once the serving host has applied
// an exports entry covering the client.
type fakeCluster struct {
	mu        sync.Mutex
	log       []hostCommand
	byPublic  map[string]*fakeHost
	byPrivate map[string]*fakeHost
}

func newFakeCluster() *fakeCluster {
	return &fakeCluster{
		byPublic:  make(map[string]*fakeHost),
		byPrivate: make(map[string]*fakeHost),
	}
}

func (c *fakeCluster) addHost(name, public, private string) *fakeHost {
	h := &fakeHost{
		cluster:     c,
		name:        name,
		private:     private,
		dirs:        make(map[string]bool),
		formatted:   make(map[string]string),
		mounted:     make(map[string]string),
		fstab:       make(map[string]bool),
		exports:     make(map[string]string),
		served:      make(map[string]string),
		hasExportfs: true,
	}
	c.byPublic[public] = h
	c.byPrivate[private] = h
	return h
}

func (c *fakeCluster) runnerFor(addr string) (converge.Runner, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.byPublic[addr]
	if !ok {
		return nil, fmt.Errorf("no route to %s", addr)
	}
	return h, nil
}

// history returns a copy of the global command log.
func (c *fakeCluster) history() []hostCommand {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]hostCommand(nil), c.log...)
}

// count tallies logged commands containing substr; host "" matches all.
func (c *fakeCluster) count(host, substr string) int {
	n := 0
	for _, entry := range c.history() {
		if (host == "" || entry.host == host) && strings.Contains(entry.cmd, substr) {
			n++
		}
	}
	return n
}

// mountPermitted checks whether the host serving source has applied an
// exports entry covering the client address. Called with c.mu held.
func (c *fakeCluster) mountPermitted(source, client string) error {
	addr, path, ok := strings.Cut(source, ":")
	if !ok {
		return nil
	}
	server := c.byPrivate[addr]
	if server == nil {
		return fmt.Errorf("no route to host %s", addr)
	}
	line, ok := server.served[path]
	if !ok {
		return fmt.Errorf("access denied by server while mounting %s", source)
	}
	ip := net.ParseIP(client)
	for _, field := range strings.Fields(line)[1:] {
		grant, _, _ := strings.Cut(field, "(")
		if grant == client {
			return nil
		}
		if _, cidr, err := net.ParseCIDR(grant); err == nil && ip != nil && cidr.Contains(ip) {
			return nil
		}
	}
	return fmt.Errorf("access denied by server while mounting %s", source)
}

// fakeHost emulates the slice of a Linux host the converge steps touch:
// a directory set, filesystem signatures, the mount table, fstab, and
// the exports file with its applied snapshot. All state mutates under
// the cluster lock so concurrent node convergence stays consistent.
type fakeHost struct {
	cluster *fakeCluster
	name    string
	private string

	dirs      map[string]bool
	formatted map[string]string // device -> filesystem signature
	mounted   map[string]string // mountpoint -> source
	fstab     map[string]bool
	exports   map[string]string // path -> current /etc/exports line
	served    map[string]string // exports snapshot applied by exportfs -ra

	hasExportfs  bool
	refuseMounts bool
	failFormat   bool
}

func (h *fakeHost) Run(_ context.Context, cmd string) (converge.Output, error) {
	c := h.cluster
	c.mu.Lock()
	defer c.mu.Unlock()
	c.log = append(c.log, hostCommand{host: h.name, cmd: cmd})

	q := quotedArgs(cmd)
	switch {
	case strings.HasPrefix(cmd, "test -d "):
		if h.dirs[q[0]] {
			return converge.Output{}, nil
		}
		return converge.Output{ExitCode: 1}, nil
	case strings.HasPrefix(cmd, "test -e "):
		if h.dirs[q[0]] {
			return converge.Output{}, nil
		}
		return converge.Output{ExitCode: 1}, nil
	case strings.HasPrefix(cmd, "mkdir -p "):
		h.dirs[q[0]] = true
		return converge.Output{}, nil
	case strings.HasPrefix(cmd, "blkid "):
		if sig := h.formatted[q[0]]; sig != "" {
			return converge.Output{Stdout: sig + "\n"}, nil
		}
		return converge.Output{ExitCode: 2}, nil
	case strings.HasPrefix(cmd, "mkfs -t "):
		if h.failFormat {
			return converge.Output{ExitCode: 1, Stdout: "mkfs: cannot open device"}, nil
		}
		h.formatted[q[1]] = q[0]
		return converge.Output{}, nil
	case strings.HasPrefix(cmd, "findmnt "):
		if source, ok := h.mounted[q[0]]; ok {
			return converge.Output{Stdout: source + "\n"}, nil
		}
		return converge.Output{ExitCode: 1}, nil
	case strings.Contains(cmd, ">> /etc/fstab"):
		h.fstab[q[0]] = true
		return converge.Output{}, nil
	case strings.HasPrefix(cmd, "mount -t "):
		source, mountpoint := q[2], q[3]
		if h.refuseMounts {
			return converge.Output{ExitCode: 32, Stdout: "mount refused"}, nil
		}
		if strings.Contains(source, ":") {
			if err := c.mountPermitted(source, h.private); err != nil {
				return converge.Output{ExitCode: 32, Stdout: err.Error()}, nil
			}
		}
		h.mounted[mountpoint] = source
		return converge.Output{}, nil
	case cmd == "mount -a":
		return converge.Output{}, nil
	case strings.HasPrefix(cmd, "chown "):
		return converge.Output{}, nil
	case cmd == "command -v exportfs":
		if h.hasExportfs {
			return converge.Output{Stdout: "/usr/sbin/exportfs\n"}, nil
		}
		return converge.Output{ExitCode: 1}, nil
	case strings.HasPrefix(cmd, "grep -s -- "):
		path := strings.TrimSuffix(strings.TrimPrefix(q[0], "^"), " ")
		if line, ok := h.exports[path]; ok {
			return converge.Output{Stdout: line + "\n"}, nil
		}
		return converge.Output{ExitCode: 1}, nil
	case strings.Contains(cmd, ">> /etc/exports"):
		line := q[1]
		h.exports[strings.Fields(line)[0]] = line
		return converge.Output{}, nil
	case strings.HasPrefix(cmd, "sed -i 's#^"):
		body := strings.TrimSuffix(strings.TrimPrefix(q[0], "s#^"), "#")
		parts := strings.SplitN(body, "#", 2)
		path := strings.Fields(parts[0])[0]
		h.exports[path] = parts[1]
		return converge.Output{}, nil
	case cmd == "exportfs -ra":
		h.served = make(map[string]string, len(h.exports))
		for path, line := range h.exports {
			h.served[path] = line
		}
		return converge.Output{}, nil
	}
	return converge.Output{}, nil
}

// quotedArgs extracts the single-quoted segments of a shell command in
// order. The production steps quote every variable argument, so this
// recovers exactly the operands.
func quotedArgs(cmd string) []string {
	var parts []string
	for {
		i := strings.IndexByte(cmd, '\'')
		if i < 0 {
			return parts
		}
		cmd = cmd[i+1:]
		j := strings.IndexByte(cmd, '\'')
		if j < 0 {
			return parts
		}
		parts = append(parts, cmd[:j])
		cmd = cmd[j+1:]
	}
}

// seedConverged puts a host into the state a successful bootstrap
// leaves behind, so reruns can assert read-only behavior.
func (h *fakeHost) seedConverged(mountpoint, device, fstype, source string) {
	h.dirs[mountpoint] = true
	if device != "" {
		h.formatted[device] = fstype
		h.mounted[mountpoint] = device
	}
	if source != "" {
		h.mounted[mountpoint] = source
	}
}

func (h *fakeHost) seedExport(line string) {
	path := strings.Fields(line)[0]
	h.exports[path] = line
	h.served[path] = line
}

type harness struct {
	cluster  *fakeCluster
	ctx      *provisioning.Context
	observer *provisioning.MockObserver

	head, compute0, compute1 *fakeHost
}

func newHarness(t *testing.T, cfg *config.Config) *harness {
	t.Helper()
	cluster := newFakeCluster()
	observer := provisioning.NewMockObserver()

	ctx := provisioning.NewContext(context.Background(), cfg, &hcloud_internal.MockClient{}, cluster.runnerFor)
	ctx.Observer = observer
	ctx.Timeouts = &config.Timeouts{
		SSHReady:          time.Second,
		NodeConverge:      5 * time.Second,
		RetryMaxAttempts:  2,
		RetryInitialDelay: time.Millisecond,
	}
	ctx.State.Head = &provisioning.Node{Name: headName, Role: provisioning.RoleHead, PublicIP: headPublic, PrivateIP: headPrivate}
	ctx.State.Compute = []*provisioning.Node{
		{Name: "alpha-compute-0", Role: provisioning.RoleCompute, PublicIP: "203.0.113.10", PrivateIP: "10.0.0.10"},
		{Name: "alpha-compute-1", Role: provisioning.RoleCompute, PublicIP: "203.0.113.11", PrivateIP: "10.0.0.11"},
	}
	ctx.State.VolumeDevice = testDevice

	return &harness{
		cluster:  cluster,
		ctx:      ctx,
		observer: observer,
		head:     cluster.addHost(headName, headPublic, headPrivate),
		compute0: cluster.addHost("alpha-compute-0", "203.0.113.10", "10.0.0.10"),
		compute1: cluster.addHost("alpha-compute-1", "203.0.113.11", "10.0.0.11"),
	}
}

func entryFor(t *testing.T, report *provisioning.Report, name string) provisioning.Entry {
	t.Helper()
	for _, entry := range report.Entries() {
		if entry.Name == name {
			return entry
		}
	}
	t.Fatalf("no report entry for %s in %+v", name, report.Entries())
	return provisioning.Entry{}
}

func TestBootstrapConvergesFreshCluster(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testConfig(t))

	require.NoError(t, NewProvisioner().Provision(h.ctx))

	wantExport := storage.ExportLine(storage.Export{
		Path:    "/encrypted",
		Clients: []string{"10.0.0.0/24"},
		Options: "rw,no_root_squash,sync",
	})
	assert.Equal(t, wantExport, h.head.exports["/encrypted"])
	assert.Equal(t, wantExport, h.head.served["/encrypted"], "export must be applied, not just written")
	assert.Equal(t, "ext4", h.head.formatted[testDevice])
	assert.Equal(t, testDevice, h.head.mounted["/encrypted"])

	for _, compute := range []*fakeHost{h.compute0, h.compute1} {
		assert.Equal(t, headPrivate+":/encrypted", compute.mounted["/encrypted"], compute.name)
	}

	report := h.ctx.State.Report
	assert.False(t, report.HasFailures())
	for _, name := range []string{headName, "alpha-compute-0", "alpha-compute-1"} {
		entry := entryFor(t, report, name)
		assert.Equal(t, "node", entry.Kind, name)
		assert.Equal(t, provisioning.StatusConverged, entry.Status, name)
	}

	grant := h.ctx.State.Export
	require.NotNil(t, grant)
	assert.Equal(t, headPrivate+":/encrypted", grant.Source)
	assert.Equal(t, []string{"10.0.0.0/24"}, grant.Clients(), "covered node addresses are not re-granted")
	assert.False(t, grant.Dirty())

	assert.Equal(t, 1, h.cluster.count(headName, "exportfs -ra"), "no refresh when the subnet grant covers every node")
	assert.Contains(t, h.observer.Lines(), "[bootstrap] 2/2")
}

func TestBootstrapRunsExportBeforeComputeCommands(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testConfig(t))

	require.NoError(t, NewProvisioner().Provision(h.ctx))

	exportIdx, firstComputeIdx := -1, -1
	for i, entry := range h.cluster.history() {
		if entry.host == headName && entry.cmd == "exportfs -ra" {
			exportIdx = i
		}
		if entry.host != headName && firstComputeIdx == -1 {
			firstComputeIdx = i
		}
	}
	require.GreaterOrEqual(t, exportIdx, 0)
	require.GreaterOrEqual(t, firstComputeIdx, 0)
	assert.Less(t, exportIdx, firstComputeIdx, "no compute node may start before the head's export is applied")
}

func TestBootstrapRerunMakesNoChanges(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testConfig(t))

	exportLine := storage.ExportLine(storage.Export{
		Path:    "/encrypted",
		Clients: []string{"10.0.0.0/24"},
		Options: "rw,no_root_squash,sync",
	})
	h.head.seedConverged("/encrypted", testDevice, "ext4", "")
	h.head.seedExport(exportLine)
	h.compute0.seedConverged("/encrypted", "", "", headPrivate+":/encrypted")
	h.compute1.seedConverged("/encrypted", "", "", headPrivate+":/encrypted")

	require.NoError(t, NewProvisioner().Provision(h.ctx))

	for _, name := range []string{headName, "alpha-compute-0", "alpha-compute-1"} {
		entry := entryFor(t, h.ctx.State.Report, name)
		assert.Equal(t, provisioning.StatusSatisfied, entry.Status, name)
	}

	for _, mutation := range []string{"mkfs", "mkdir", "mount -t", "chown", "exportfs -ra", ">> /etc", "sed -i"} {
		assert.Zero(t, h.cluster.count("", mutation), "rerun must not issue %q", mutation)
	}
}

func TestBootstrapGrantsUncoveredComputeAddresses(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	cfg.Export.Clients = []string{"192.0.2.50"}
	h := newHarness(t, cfg)

	require.NoError(t, NewProvisioner().Provision(h.ctx))

	wantLine := storage.ExportLine(storage.Export{
		Path:    "/encrypted",
		Clients: []string{"10.0.0.10", "10.0.0.11", "192.0.2.50"},
		Options: "rw,no_root_squash,sync",
	})
	assert.Equal(t, wantLine, h.head.served["/encrypted"])

	grant := h.ctx.State.Export
	require.NotNil(t, grant)
	assert.Equal(t, []string{"10.0.0.10", "10.0.0.11", "192.0.2.50"}, grant.Clients())
	assert.False(t, grant.Dirty(), "refresh clears the dirty flag")

	assert.Equal(t, 2, h.cluster.count(headName, "exportfs -ra"), "initial apply plus one refresh")

	lastExportIdx, firstMountIdx := -1, -1
	for i, entry := range h.cluster.history() {
		if entry.host == headName && entry.cmd == "exportfs -ra" {
			lastExportIdx = i
		}
		if entry.host != headName && strings.HasPrefix(entry.cmd, "mount -t ") && firstMountIdx == -1 {
			firstMountIdx = i
		}
	}
	require.GreaterOrEqual(t, firstMountIdx, 0)
	assert.Less(t, lastExportIdx, firstMountIdx, "refresh must land before the first compute mount")

	assert.Equal(t, headPrivate+":/encrypted", h.compute0.mounted["/encrypted"])
	assert.Equal(t, headPrivate+":/encrypted", h.compute1.mounted["/encrypted"])
}

func TestBootstrapComputeFailureDoesNotStopSiblings(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testConfig(t))
	h.compute0.refuseMounts = true

	err := NewProvisioner().Provision(h.ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bootstrap incomplete")
	assert.Contains(t, err.Error(), "alpha-compute-0")

	report := h.ctx.State.Report
	assert.Equal(t, provisioning.StatusConverged, entryFor(t, report, headName).Status)
	assert.Equal(t, provisioning.StatusConverged, entryFor(t, report, "alpha-compute-1").Status)

	failed := entryFor(t, report, "alpha-compute-0")
	assert.Equal(t, provisioning.StatusFailed, failed.Status)
	require.Error(t, failed.Err)

	assert.Equal(t, headPrivate+":/encrypted", h.compute1.mounted["/encrypted"])
	assert.Empty(t, h.compute0.mounted)
}

func TestBootstrapRetriesComputeMountUntilExportServes(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testConfig(t))
	h.compute0.refuseMounts = true

	_ = NewProvisioner().Provision(h.ctx)

	attempts := h.cluster.count("alpha-compute-0", "mount -t ")
	assert.Equal(t, 2, attempts, "a refused mount consumes the whole retry budget")
}

func TestBootstrapReportsUnreachableNodeDistinctly(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testConfig(t))
	h.cluster.mu.Lock()
	delete(h.cluster.byPublic, "203.0.113.11")
	h.cluster.mu.Unlock()

	err := NewProvisioner().Provision(h.ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "alpha-compute-1")

	entry := entryFor(t, h.ctx.State.Report, "alpha-compute-1")
	assert.Equal(t, provisioning.StatusFailed, entry.Status)
	assert.Equal(t, "unreachable", entry.Detail)
	require.Error(t, entry.Err)
	assert.Contains(t, entry.Err.Error(), "no route to 203.0.113.11")

	assert.Equal(t, provisioning.StatusConverged, entryFor(t, h.ctx.State.Report, "alpha-compute-0").Status)
	assert.Zero(t, h.cluster.count("alpha-compute-1", ""), "an unreachable node runs nothing")
}

// stalledRunner reaches the node but never becomes ready, the shape of
// a server that booted without its SSH daemon.
type stalledRunner struct{ converge.Runner }

func (stalledRunner) WaitReady(context.Context) error {
	return errors.New("ssh handshake timed out")
}

func TestBootstrapWaitsForNodeReadiness(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testConfig(t))
	base := h.cluster.runnerFor
	h.ctx.Runners = func(addr string) (converge.Runner, error) {
		runner, err := base(addr)
		if err != nil {
			return nil, err
		}
		if addr == "203.0.113.10" {
			return stalledRunner{runner}, nil
		}
		return runner, nil
	}

	err := NewProvisioner().Provision(h.ctx)
	require.Error(t, err)

	entry := entryFor(t, h.ctx.State.Report, "alpha-compute-0")
	assert.Equal(t, provisioning.StatusFailed, entry.Status)
	assert.Equal(t, "unreachable", entry.Detail)
	assert.Contains(t, entry.Err.Error(), "ssh handshake timed out")

	assert.Zero(t, h.cluster.count("alpha-compute-0", ""), "a node that never got ready runs nothing")
	assert.Equal(t, provisioning.StatusConverged, entryFor(t, h.ctx.State.Report, "alpha-compute-1").Status)
}

func TestBootstrapSkipsExportWithoutTooling(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testConfig(t))
	h.head.hasExportfs = false

	err := NewProvisioner().Provision(h.ctx)
	require.Error(t, err, "compute mounts cannot succeed against a head that serves nothing")

	head := entryFor(t, h.ctx.State.Report, headName)
	assert.Equal(t, provisioning.StatusConverged, head.Status, "a skipped export is not a head failure")

	var skipped bool
	for _, event := range h.observer.EventsOfType(provisioning.EventStepResult) {
		if event.Fields["step"] == storage.ExportStepName("/encrypted") && event.Fields["status"] == string(converge.StatusSkipped) {
			skipped = true
		}
	}
	assert.True(t, skipped, "the export step must be reported as skipped")

	assert.Zero(t, h.cluster.count("", "exportfs -ra"), "nothing is exported without the tooling")
	assert.Zero(t, h.cluster.count("", ">> /etc/exports"))
	for _, name := range []string{"alpha-compute-0", "alpha-compute-1"} {
		assert.Equal(t, provisioning.StatusFailed, entryFor(t, h.ctx.State.Report, name).Status, name)
	}
}

func TestBootstrapHeadFailureStopsComputeNodes(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testConfig(t))
	h.head.failFormat = true

	err := NewProvisioner().Provision(h.ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "head bootstrap failed")

	entry := entryFor(t, h.ctx.State.Report, headName)
	assert.Equal(t, provisioning.StatusFailed, entry.Status)

	assert.Zero(t, h.cluster.count("alpha-compute-0", ""))
	assert.Zero(t, h.cluster.count("alpha-compute-1", ""))
	assert.Len(t, h.ctx.State.Report.Entries(), 1, "no compute outcome exists when the head never converged")
	assert.Empty(t, h.head.mounted, "a format failure leaves nothing mounted")
}

func TestBootstrapRequiresProvisionedNodes(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testConfig(t))
	h.ctx.State.Head = nil

	err := NewProvisioner().Provision(h.ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires provisioned nodes")
}

func TestBootstrapRequiresRunnerFactory(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testConfig(t))
	h.ctx.Runners = nil

	err := NewProvisioner().Provision(h.ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "remote runner factory")
}

func TestBootstrapRequiresVolumeDevice(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testConfig(t))
	h.ctx.State.VolumeDevice = ""

	err := NewProvisioner().Provision(h.ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no data volume device")
}

func TestBootstrapWithoutComputeNodes(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testConfig(t))
	h.ctx.State.Compute = nil

	require.NoError(t, NewProvisioner().Provision(h.ctx))

	assert.Equal(t, provisioning.StatusConverged, entryFor(t, h.ctx.State.Report, headName).Status)
	assert.Contains(t, h.observer.Lines(), "[bootstrap] No compute nodes to converge")
}
