package infrastructure

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hetznercloud/hcloud-go/v2/hcloud"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strandtools/strand/internal/config"
	hcloud_internal "github.com/strandtools/strand/internal/platform/hcloud"
	"github.com/strandtools/strand/internal/provisioning"
	"github.com/strandtools/strand/internal/util/keygen"
	"github.com/strandtools/strand/internal/util/labels"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	pair, err := keygen.GenerateRSAKeyPair(2048)
	require.NoError(t, err)

	dir := t.TempDir()
	priv := filepath.Join(dir, "id_rsa")
	require.NoError(t, os.WriteFile(priv, pair.PrivateKey, 0o600))
	require.NoError(t, os.WriteFile(priv+".pub", pair.PublicKey, 0o644))

	cfg := &config.Config{
		ClusterName: "alpha",
		NetworkCIDR: "10.0.0.0/16",
		SSH:         config.SSHSpec{User: "root", PrivateKeyPath: priv, PublicKeyPath: priv + ".pub"},
	}
	cfg.ApplyDefaults()
	require.NoError(t, cfg.Validate())
	return cfg
}

func testContext(t *testing.T, infra hcloud_internal.InfrastructureManager) *provisioning.Context {
	t.Helper()
	ctx := provisioning.NewContext(context.Background(), testConfig(t), infra, nil)
	ctx.Observer = provisioning.NewMockObserver()
	return ctx
}

func entryFor(t *testing.T, report *provisioning.Report, kind string) provisioning.Entry {
	t.Helper()
	for _, entry := range report.Entries() {
		if entry.Kind == kind {
			return entry
		}
	}
	t.Fatalf("no %s entry in report: %v", kind, report.Entries())
	return provisioning.Entry{}
}

func TestProvisionCreatesEverythingFresh(t *testing.T) {
	t.Parallel()

	var (
		gotNetworkCIDR string
		gotSubnet      string
		gotZone        string
		gotSelector    string
		gotKeyMaterial string
	)
	infra := &hcloud_internal.MockClient{
		EnsureNetworkFunc: func(ctx context.Context, name, ipRange string, l map[string]string) (*hcloud.Network, error) {
			gotNetworkCIDR = ipRange
			_, ipNet, _ := net.ParseCIDR(ipRange)
			return &hcloud.Network{ID: 7, Name: name, IPRange: ipNet}, nil
		},
		EnsureSubnetFunc: func(ctx context.Context, network *hcloud.Network, ipRange, zone string) error {
			gotSubnet, gotZone = ipRange, zone
			return nil
		},
		EnsureFirewallFunc: func(ctx context.Context, name string, rules []hcloud.FirewallRule, l map[string]string, selector string) (*hcloud.Firewall, error) {
			gotSelector = selector
			return &hcloud.Firewall{ID: 8, Name: name, Rules: rules}, nil
		},
		EnsureSSHKeyFunc: func(ctx context.Context, name, publicKey string, l map[string]string) (*hcloud.SSHKey, error) {
			gotKeyMaterial = publicKey
			return &hcloud.SSHKey{ID: 9, Name: name}, nil
		},
	}
	ctx := testContext(t, infra)

	require.NoError(t, NewProvisioner().Provision(ctx))

	assert.Equal(t, "10.0.0.0/16", gotNetworkCIDR)
	assert.Equal(t, "10.0.0.0/24", gotSubnet, "node subnet is the first /24")
	assert.Equal(t, "eu-central", gotZone)
	assert.Equal(t, "strand.dev/cluster=alpha", gotSelector)
	assert.True(t, strings.HasPrefix(gotKeyMaterial, "ssh-rsa "))

	require.NotNil(t, ctx.State.Network)
	require.NotNil(t, ctx.State.Firewall)
	require.NotNil(t, ctx.State.SSHKey)
	assert.Equal(t, "203.0.113.10", ctx.State.PublicIP)

	for _, kind := range []string{"network", "subnet", "firewall", "ssh-key"} {
		assert.Equal(t, provisioning.StatusConverged, entryFor(t, ctx.State.Report, kind).Status, kind)
	}
}

func TestProvisionAdoptsExistingResources(t *testing.T) {
	t.Parallel()

	_, clusterNet, _ := net.ParseCIDR("10.0.0.0/16")
	_, nodeNet, _ := net.ParseCIDR("10.0.0.0/24")
	existingNetwork := &hcloud.Network{
		ID:      7,
		Name:    "alpha-net",
		IPRange: clusterNet,
		Subnets: []hcloud.NetworkSubnet{{IPRange: nodeNet}},
	}
	existingFirewall := &hcloud.Firewall{
		ID:    8,
		Name:  "alpha-fw",
		Rules: firewallRules("203.0.113.10", "10.0.0.0/16"),
	}

	infra := &hcloud_internal.MockClient{
		GetNetworkFunc: func(ctx context.Context, name string) (*hcloud.Network, error) {
			return existingNetwork, nil
		},
		EnsureNetworkFunc: func(ctx context.Context, name, ipRange string, l map[string]string) (*hcloud.Network, error) {
			return existingNetwork, nil
		},
		GetFirewallFunc: func(ctx context.Context, name string) (*hcloud.Firewall, error) {
			return existingFirewall, nil
		},
		GetSSHKeyFunc: func(ctx context.Context, name string) (*hcloud.SSHKey, error) {
			return &hcloud.SSHKey{ID: 9, Name: name}, nil
		},
	}
	ctx := testContext(t, infra)

	require.NoError(t, NewProvisioner().Provision(ctx))

	for _, kind := range []string{"network", "subnet", "firewall", "ssh-key"} {
		assert.Equal(t, provisioning.StatusSatisfied, entryFor(t, ctx.State.Report, kind).Status, kind)
	}
}

func TestProvisionConvergesDriftedFirewallRules(t *testing.T) {
	t.Parallel()

	stale := &hcloud.Firewall{
		ID:    8,
		Name:  "alpha-fw",
		Rules: firewallRules("198.51.100.7", "10.0.0.0/16"),
	}
	infra := &hcloud_internal.MockClient{
		GetFirewallFunc: func(ctx context.Context, name string) (*hcloud.Firewall, error) {
			return stale, nil
		},
	}
	ctx := testContext(t, infra)

	require.NoError(t, NewProvisioner().Provision(ctx))

	entry := entryFor(t, ctx.State.Report, "firewall")
	assert.Equal(t, provisioning.StatusConverged, entry.Status)
	assert.Equal(t, "rules updated", entry.Detail)
}

func TestProvisionKeepsSSHOpenWithoutPublicIP(t *testing.T) {
	t.Parallel()

	var gotRules []hcloud.FirewallRule
	infra := &hcloud_internal.MockClient{
		GetPublicIPFunc: func(ctx context.Context) (string, error) {
			return "", errors.New("checkip unreachable")
		},
		EnsureFirewallFunc: func(ctx context.Context, name string, rules []hcloud.FirewallRule, l map[string]string, selector string) (*hcloud.Firewall, error) {
			gotRules = rules
			return &hcloud.Firewall{ID: 8, Name: name, Rules: rules}, nil
		},
	}
	ctx := testContext(t, infra)

	require.NoError(t, NewProvisioner().Provision(ctx))
	assert.Empty(t, ctx.State.PublicIP)

	require.NotEmpty(t, gotRules)
	ssh := gotRules[0]
	require.Len(t, ssh.SourceIPs, 2, "SSH falls back to open ingress")
	assert.Equal(t, "0.0.0.0/0", ssh.SourceIPs[0].String())
	assert.Equal(t, "::/0", ssh.SourceIPs[1].String())

	observer := ctx.Observer.(*provisioning.MockObserver)
	found := false
	for _, line := range observer.Lines() {
		if strings.Contains(line, "Public IP lookup failed") {
			found = true
		}
	}
	assert.True(t, found, "fallback must be announced")
}

func TestProvisionFailsWhenPublicKeyMissing(t *testing.T) {
	t.Parallel()

	ctx := testContext(t, &hcloud_internal.MockClient{})
	ctx.Config.SSH.PublicKeyPath = filepath.Join(t.TempDir(), "absent.pub")

	err := NewProvisioner().Provision(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read public key")

	entry := entryFor(t, ctx.State.Report, "ssh-key")
	assert.Equal(t, provisioning.StatusFailed, entry.Status)
	assert.Error(t, entry.Err)
}

func TestProvisionAbortsOnNetworkLookupFailure(t *testing.T) {
	t.Parallel()

	ensureCalled := false
	infra := &hcloud_internal.MockClient{
		GetNetworkFunc: func(ctx context.Context, name string) (*hcloud.Network, error) {
			return nil, errors.New("api down")
		},
		EnsureNetworkFunc: func(ctx context.Context, name, ipRange string, l map[string]string) (*hcloud.Network, error) {
			ensureCalled = true
			return nil, nil
		},
	}
	ctx := testContext(t, infra)

	err := NewProvisioner().Provision(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to look up network")
	assert.False(t, ensureCalled)

	entries := ctx.State.Report.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, provisioning.StatusFailed, entries[0].Status)
}

func TestFirewallRules(t *testing.T) {
	t.Parallel()

	rules := firewallRules("198.51.100.7", "10.0.0.0/16")
	require.Len(t, rules, 4)

	ssh := rules[0]
	assert.Equal(t, hcloud.FirewallRuleProtocolTCP, ssh.Protocol)
	require.NotNil(t, ssh.Port)
	assert.Equal(t, "22", *ssh.Port)
	require.Len(t, ssh.SourceIPs, 1)
	assert.Equal(t, "198.51.100.7/32", ssh.SourceIPs[0].String())

	icmp := rules[3]
	assert.Equal(t, hcloud.FirewallRuleProtocolICMP, icmp.Protocol)
	assert.Nil(t, icmp.Port)
	require.Len(t, icmp.SourceIPs, 1)
	assert.Equal(t, "10.0.0.0/16", icmp.SourceIPs[0].String())
}

func TestRulesEqual(t *testing.T) {
	t.Parallel()

	base := firewallRules("198.51.100.7", "10.0.0.0/16")
	assert.True(t, rulesEqual(firewallRules("198.51.100.7", "10.0.0.0/16"), base))
	assert.False(t, rulesEqual(firewallRules("203.0.113.9", "10.0.0.0/16"), base), "different operator address")
	assert.False(t, rulesEqual(base[:3], base), "missing rule")
}

func TestProvisionAppliesClusterLabels(t *testing.T) {
	t.Parallel()

	want := labels.ForCluster("alpha").Build()
	var got []map[string]string
	infra := &hcloud_internal.MockClient{
		EnsureNetworkFunc: func(ctx context.Context, name, ipRange string, l map[string]string) (*hcloud.Network, error) {
			got = append(got, l)
			_, ipNet, _ := net.ParseCIDR(ipRange)
			return &hcloud.Network{ID: 7, Name: name, IPRange: ipNet}, nil
		},
		EnsureFirewallFunc: func(ctx context.Context, name string, rules []hcloud.FirewallRule, l map[string]string, selector string) (*hcloud.Firewall, error) {
			got = append(got, l)
			return &hcloud.Firewall{ID: 8, Name: name}, nil
		},
		EnsureSSHKeyFunc: func(ctx context.Context, name, publicKey string, l map[string]string) (*hcloud.SSHKey, error) {
			got = append(got, l)
			return &hcloud.SSHKey{ID: 9, Name: name}, nil
		},
	}
	ctx := testContext(t, infra)

	require.NoError(t, NewProvisioner().Provision(ctx))
	require.Len(t, got, 3)
	for _, l := range got {
		assert.Equal(t, want, l)
	}
}
