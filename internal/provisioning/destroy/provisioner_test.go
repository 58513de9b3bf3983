package destroy

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/hetznercloud/hcloud-go/v2/hcloud"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strandtools/strand/internal/config"
	hcloud_internal "github.com/strandtools/strand/internal/platform/hcloud"
	"github.com/strandtools/strand/internal/provisioning"
	"github.com/strandtools/strand/internal/util/labels"
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

// fakeCloud keeps named resources in maps, records every deletion in
// order, and lets tests pin failures on individual resources.
type fakeCloud struct {
	hcloud_internal.MockClient

	mu        sync.Mutex
	servers   map[string]*hcloud.Server
	volumes   map[string]*hcloud.Volume
	firewalls map[string]*hcloud.Firewall
	networks  map[string]*hcloud.Network
	sshKeys   map[string]*hcloud.SSHKey

	deleted  []string // "kind/name" in deletion order
	detached []string
	sweeps   []map[string]string

	failures     map[string]error // "kind/name" -> injected delete error
	discoveryErr error
	sweepErr     error
}

func newFakeCloud() *fakeCloud {
	f := &fakeCloud{
		servers:   make(map[string]*hcloud.Server),
		volumes:   make(map[string]*hcloud.Volume),
		firewalls: make(map[string]*hcloud.Firewall),
		networks:  make(map[string]*hcloud.Network),
		sshKeys:   make(map[string]*hcloud.SSHKey),
		failures:  make(map[string]error),
	}

	f.GetServerByNameFunc = func(_ context.Context, name string) (*hcloud.Server, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.servers[name], nil
	}
	f.GetServersByLabelFunc = func(_ context.Context, selector map[string]string) ([]*hcloud.Server, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.discoveryErr != nil {
			return nil, f.discoveryErr
		}
		var out []*hcloud.Server
		for _, server := range f.servers {
			if labelsMatch(server.Labels, selector) {
				out = append(out, server)
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
		return out, nil
	}
	f.DeleteServerFunc = func(_ context.Context, name string) error {
		return f.remove("server", name, func() { delete(f.servers, name) })
	}
	f.GetVolumeByNameFunc = func(_ context.Context, name string) (*hcloud.Volume, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.volumes[name], nil
	}
	f.DetachVolumeFunc = func(_ context.Context, volume *hcloud.Volume) error {
		f.mu.Lock()
		defer f.mu.Unlock()
		volume.Server = nil
		f.detached = append(f.detached, volume.Name)
		return nil
	}
	f.DeleteVolumeFunc = func(_ context.Context, name string) error {
		return f.remove("volume", name, func() { delete(f.volumes, name) })
	}
	f.GetFirewallFunc = func(_ context.Context, name string) (*hcloud.Firewall, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.firewalls[name], nil
	}
	f.DeleteFirewallFunc = func(_ context.Context, name string) error {
		return f.remove("firewall", name, func() { delete(f.firewalls, name) })
	}
	f.GetNetworkFunc = func(_ context.Context, name string) (*hcloud.Network, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.networks[name], nil
	}
	f.DeleteNetworkFunc = func(_ context.Context, name string) error {
		return f.remove("network", name, func() { delete(f.networks, name) })
	}
	f.GetSSHKeyFunc = func(_ context.Context, name string) (*hcloud.SSHKey, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.sshKeys[name], nil
	}
	f.DeleteSSHKeyFunc = func(_ context.Context, name string) error {
		return f.remove("ssh-key", name, func() { delete(f.sshKeys, name) })
	}
	f.CleanupByLabelFunc = func(_ context.Context, selector map[string]string) error {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.sweeps = append(f.sweeps, selector)
		return f.sweepErr
	}

	return f
}

func (f *fakeCloud) remove(kind, name string, drop func()) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failures[kind+"/"+name]; err != nil {
		return err
	}
	drop()
	f.deleted = append(f.deleted, kind+"/"+name)
	return nil
}

func (f *fakeCloud) addServer(name string, role string) *hcloud.Server {
	server := &hcloud.Server{
		ID:     int64(len(f.servers) + 1),
		Name:   name,
		Labels: labels.ForCluster("alpha").Role(role).Build(),
	}
	f.servers[name] = server
	return server
}

// seedFullCluster populates every resource a complete cluster owns.
func (f *fakeCloud) seedFullCluster() {
	f.addServer("alpha-head", labels.RoleHead)
	f.addServer("alpha-compute-0", labels.RoleCompute)
	f.addServer("alpha-compute-1", labels.RoleCompute)
	f.volumes["alpha-data"] = &hcloud.Volume{ID: 40, Name: "alpha-data"}
	f.firewalls["alpha-fw"] = &hcloud.Firewall{ID: 50, Name: "alpha-fw"}
	f.networks["alpha-net"] = &hcloud.Network{ID: 60, Name: "alpha-net"}
	f.sshKeys["alpha-key"] = &hcloud.SSHKey{ID: 70, Name: "alpha-key"}
}

func labelsMatch(have, want map[string]string) bool {
	for k, v := range want {
		if have[k] != v {
			return false
		}
	}
	return true
}

func testContext(t *testing.T, cloud *fakeCloud) (*provisioning.Context, *provisioning.MockObserver) {
	t.Helper()
	observer := provisioning.NewMockObserver()
	ctx := provisioning.NewContext(context.Background(), testConfig(t), cloud, nil)
	ctx.Observer = observer
	ctx.Timeouts = &config.Timeouts{Delete: time.Second}
	return ctx, observer
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

func TestDestroyReleasesEverythingInOrder(t *testing.T) {
	t.Parallel()
	cloud := newFakeCloud()
	cloud.seedFullCluster()
	ctx, _ := testContext(t, cloud)

	require.NoError(t, NewProvisioner().Provision(ctx))

	assert.Equal(t, []string{
		"server/alpha-compute-0",
		"server/alpha-compute-1",
		"server/alpha-head",
		"volume/alpha-data",
		"firewall/alpha-fw",
		"network/alpha-net",
		"ssh-key/alpha-key",
	}, cloud.deleted, "servers release before the resources they hold onto")

	require.Len(t, cloud.sweeps, 1)
	assert.Equal(t, "alpha", cloud.sweeps[0][labels.KeyCluster])

	report := ctx.State.Report
	assert.False(t, report.HasFailures())
	for _, name := range []string{"alpha-head", "alpha-compute-0", "alpha-compute-1", "alpha-data", "alpha-fw", "alpha-net", "alpha-key"} {
		entry := entryFor(t, report, name)
		assert.Equal(t, provisioning.StatusConverged, entry.Status, name)
		assert.Equal(t, "released", entry.Detail, name)
	}
}

func TestDestroySkipsAbsentResources(t *testing.T) {
	t.Parallel()
	cloud := newFakeCloud()
	cloud.addServer("alpha-head", labels.RoleHead)
	cloud.networks["alpha-net"] = &hcloud.Network{ID: 60, Name: "alpha-net"}
	ctx, _ := testContext(t, cloud)

	require.NoError(t, NewProvisioner().Provision(ctx))

	assert.Equal(t, []string{"server/alpha-head", "network/alpha-net"}, cloud.deleted)

	report := ctx.State.Report
	assert.Equal(t, provisioning.StatusConverged, entryFor(t, report, "alpha-head").Status)
	assert.Equal(t, provisioning.StatusConverged, entryFor(t, report, "alpha-net").Status)
	for _, name := range []string{"alpha-compute-0", "alpha-compute-1", "alpha-data", "alpha-fw", "alpha-key"} {
		entry := entryFor(t, report, name)
		assert.Equal(t, provisioning.StatusAbsent, entry.Status, name)
		assert.Equal(t, "already absent", entry.Detail, name)
	}
}

func TestDestroyAccumulatesFailures(t *testing.T) {
	t.Parallel()
	cloud := newFakeCloud()
	cloud.seedFullCluster()
	cloud.failures["server/alpha-compute-0"] = errors.New("server is locked")
	cloud.failures["firewall/alpha-fw"] = errors.New("firewall still in use")
	ctx, _ := testContext(t, cloud)

	err := NewProvisioner().Provision(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "destroy incomplete")
	assert.Contains(t, err.Error(), "alpha-compute-0")
	assert.Contains(t, err.Error(), "alpha-fw")

	var cleanup *hcloud_internal.CleanupError
	require.ErrorAs(t, err, &cleanup)
	assert.Len(t, cleanup.Errors, 2)

	// Everything not stuck was still released.
	assert.Contains(t, cloud.deleted, "server/alpha-compute-1")
	assert.Contains(t, cloud.deleted, "server/alpha-head")
	assert.Contains(t, cloud.deleted, "volume/alpha-data")
	assert.Contains(t, cloud.deleted, "network/alpha-net")
	assert.Contains(t, cloud.deleted, "ssh-key/alpha-key")

	report := ctx.State.Report
	require.Len(t, report.Failures(), 2)
	assert.Equal(t, provisioning.StatusFailed, entryFor(t, report, "alpha-compute-0").Status)
	assert.Equal(t, provisioning.StatusFailed, entryFor(t, report, "alpha-fw").Status)
}

func TestDestroyDetachesStuckVolume(t *testing.T) {
	t.Parallel()
	cloud := newFakeCloud()
	head := cloud.addServer("alpha-head", labels.RoleHead)
	cloud.volumes["alpha-data"] = &hcloud.Volume{ID: 40, Name: "alpha-data", Server: head}
	cloud.failures["server/alpha-head"] = errors.New("deletion rate limited")
	ctx, _ := testContext(t, cloud)

	err := NewProvisioner().Provision(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "alpha-head")

	assert.Equal(t, []string{"alpha-data"}, cloud.detached, "an attached volume is detached before deletion")
	assert.Contains(t, cloud.deleted, "volume/alpha-data")
	assert.Equal(t, provisioning.StatusConverged, entryFor(t, ctx.State.Report, "alpha-data").Status)
	assert.Equal(t, provisioning.StatusFailed, entryFor(t, ctx.State.Report, "alpha-head").Status)
}

func TestDestroyReclaimsServersBeyondDeclaredCount(t *testing.T) {
	t.Parallel()
	cloud := newFakeCloud()
	cloud.seedFullCluster()
	cloud.addServer("alpha-compute-5", labels.RoleCompute)
	ctx, _ := testContext(t, cloud)

	require.NoError(t, NewProvisioner().Provision(ctx))

	assert.Contains(t, cloud.deleted, "server/alpha-compute-5", "label discovery reclaims servers the declaration no longer names")
	assert.Equal(t, provisioning.StatusConverged, entryFor(t, ctx.State.Report, "alpha-compute-5").Status)
}

func TestDestroyLeavesScratchServersToTheSweep(t *testing.T) {
	t.Parallel()
	cloud := newFakeCloud()
	cloud.addServer("alpha-head", labels.RoleHead)
	cloud.addServer("alpha-scratch-0", labels.RoleScratch)
	ctx, _ := testContext(t, cloud)

	require.NoError(t, NewProvisioner().Provision(ctx))

	assert.NotContains(t, cloud.deleted, "server/alpha-scratch-0")
	assert.Len(t, cloud.sweeps, 1, "the label sweep still reclaims stack leftovers")
	for _, entry := range ctx.State.Report.Entries() {
		assert.NotEqual(t, "alpha-scratch-0", entry.Name)
	}
}

func TestDestroyContinuesWhenDiscoveryFails(t *testing.T) {
	t.Parallel()
	cloud := newFakeCloud()
	cloud.seedFullCluster()
	cloud.discoveryErr = errors.New("api unavailable")
	ctx, _ := testContext(t, cloud)

	err := NewProvisioner().Provision(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server discovery")

	// The declared names still cover the whole cluster.
	assert.Contains(t, cloud.deleted, "server/alpha-head")
	assert.Contains(t, cloud.deleted, "server/alpha-compute-0")
	assert.Contains(t, cloud.deleted, "server/alpha-compute-1")
}

func TestDestroySweepFailureIsReported(t *testing.T) {
	t.Parallel()
	cloud := newFakeCloud()
	cloud.sweepErr = errors.New("rate limited")
	ctx, _ := testContext(t, cloud)

	err := NewProvisioner().Provision(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "label sweep")

	entry := entryFor(t, ctx.State.Report, "alpha")
	assert.Equal(t, "cluster", entry.Kind)
	assert.Equal(t, provisioning.StatusFailed, entry.Status)
}

func TestStopReleasesOnlyServers(t *testing.T) {
	t.Parallel()
	cloud := newFakeCloud()
	cloud.seedFullCluster()
	ctx, observer := testContext(t, cloud)

	provisioner := NewStopProvisioner()
	assert.Equal(t, "stop", provisioner.Name())
	require.NoError(t, provisioner.Provision(ctx))

	assert.Equal(t, []string{
		"server/alpha-compute-0",
		"server/alpha-compute-1",
		"server/alpha-head",
	}, cloud.deleted)
	assert.Empty(t, cloud.sweeps, "stop never sweeps by label")

	assert.NotNil(t, cloud.volumes["alpha-data"], "the data volume survives a stop")
	assert.NotNil(t, cloud.networks["alpha-net"])
	assert.NotNil(t, cloud.firewalls["alpha-fw"])
	assert.NotNil(t, cloud.sshKeys["alpha-key"])

	assert.Len(t, ctx.State.Report.Entries(), 3, "stop reports only server outcomes")

	var kept bool
	for _, line := range observer.Lines() {
		if line == fmt.Sprintf("[stop] Keeping network, firewall, SSH key and data volume of %s", "alpha") {
			kept = true
		}
	}
	assert.True(t, kept)
}

func TestStopOnPartiallyCreatedCluster(t *testing.T) {
	t.Parallel()
	cloud := newFakeCloud()
	cloud.addServer("alpha-compute-1", labels.RoleCompute)
	ctx, _ := testContext(t, cloud)

	require.NoError(t, NewStopProvisioner().Provision(ctx))

	report := ctx.State.Report
	assert.Equal(t, provisioning.StatusConverged, entryFor(t, report, "alpha-compute-1").Status)
	assert.Equal(t, provisioning.StatusAbsent, entryFor(t, report, "alpha-compute-0").Status)
	assert.Equal(t, provisioning.StatusAbsent, entryFor(t, report, "alpha-head").Status)
}

func TestDestroyName(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "destroy", NewProvisioner().Name())
}
