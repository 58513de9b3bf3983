package hcloud

import (
	"context"
	"net"

	"github.com/hetznercloud/hcloud-go/v2/hcloud"
)

// MockClient is a swappable-function implementation of
// InfrastructureManager. Unset functions return workable defaults so a
// test only wires the calls it cares about.
type MockClient struct {
	EnsureServerFunc      func(ctx context.Context, opts ServerCreateOpts) (*hcloud.Server, error)
	DeleteServerFunc      func(ctx context.Context, name string) error
	GetServerByNameFunc   func(ctx context.Context, name string) (*hcloud.Server, error)
	GetServersByLabelFunc func(ctx context.Context, labels map[string]string) ([]*hcloud.Server, error)

	EnsureVolumeFunc    func(ctx context.Context, name string, sizeGB int, location string, labels map[string]string) (*hcloud.Volume, error)
	AttachVolumeFunc    func(ctx context.Context, volume *hcloud.Volume, server *hcloud.Server) (string, error)
	DetachVolumeFunc    func(ctx context.Context, volume *hcloud.Volume) error
	DeleteVolumeFunc    func(ctx context.Context, name string) error
	GetVolumeByNameFunc func(ctx context.Context, name string) (*hcloud.Volume, error)

	EnsureNetworkFunc func(ctx context.Context, name, ipRange string, labels map[string]string) (*hcloud.Network, error)
	EnsureSubnetFunc  func(ctx context.Context, network *hcloud.Network, ipRange, networkZone string) error
	DeleteNetworkFunc func(ctx context.Context, name string) error
	GetNetworkFunc    func(ctx context.Context, name string) (*hcloud.Network, error)

	EnsureFirewallFunc func(ctx context.Context, name string, rules []hcloud.FirewallRule, labels map[string]string, applyToLabelSelector string) (*hcloud.Firewall, error)
	DeleteFirewallFunc func(ctx context.Context, name string) error
	GetFirewallFunc    func(ctx context.Context, name string) (*hcloud.Firewall, error)

	EnsureSSHKeyFunc func(ctx context.Context, name, publicKey string, labels map[string]string) (*hcloud.SSHKey, error)
	DeleteSSHKeyFunc func(ctx context.Context, name string) error
	GetSSHKeyFunc    func(ctx context.Context, name string) (*hcloud.SSHKey, error)

	CleanupByLabelFunc func(ctx context.Context, labels map[string]string) error
	GetPublicIPFunc    func(ctx context.Context) (string, error)
}

var _ InfrastructureManager = (*MockClient)(nil)

// EnsureServer mocks server creation. The default fabricates a server
// named after the request, attached under the requested private IP.
func (m *MockClient) EnsureServer(ctx context.Context, opts ServerCreateOpts) (*hcloud.Server, error) {
	if m.EnsureServerFunc != nil {
		return m.EnsureServerFunc(ctx, opts)
	}
	server := &hcloud.Server{ID: 1, Name: opts.Name}
	if opts.PrivateIP != "" {
		server.PrivateNet = []hcloud.ServerPrivateNet{{
			Network: &hcloud.Network{ID: opts.NetworkID},
			IP:      net.ParseIP(opts.PrivateIP),
		}}
	}
	return server, nil
}

// DeleteServer mocks server deletion.
func (m *MockClient) DeleteServer(ctx context.Context, name string) error {
	if m.DeleteServerFunc != nil {
		return m.DeleteServerFunc(ctx, name)
	}
	return nil
}

// GetServerByName mocks server lookup. The default reports not found.
func (m *MockClient) GetServerByName(ctx context.Context, name string) (*hcloud.Server, error) {
	if m.GetServerByNameFunc != nil {
		return m.GetServerByNameFunc(ctx, name)
	}
	return nil, nil
}

// GetServersByLabel mocks label listing.
func (m *MockClient) GetServersByLabel(ctx context.Context, labels map[string]string) ([]*hcloud.Server, error) {
	if m.GetServersByLabelFunc != nil {
		return m.GetServersByLabelFunc(ctx, labels)
	}
	return nil, nil
}

// EnsureVolume mocks volume creation.
func (m *MockClient) EnsureVolume(ctx context.Context, name string, sizeGB int, location string, labels map[string]string) (*hcloud.Volume, error) {
	if m.EnsureVolumeFunc != nil {
		return m.EnsureVolumeFunc(ctx, name, sizeGB, location, labels)
	}
	return &hcloud.Volume{ID: 1, Name: name, Size: sizeGB, LinuxDevice: "/dev/disk/by-id/scsi-0HC_Volume_1"}, nil
}

// AttachVolume mocks volume attachment.
func (m *MockClient) AttachVolume(ctx context.Context, volume *hcloud.Volume, server *hcloud.Server) (string, error) {
	if m.AttachVolumeFunc != nil {
		return m.AttachVolumeFunc(ctx, volume, server)
	}
	return volume.LinuxDevice, nil
}

// DetachVolume mocks volume detachment.
func (m *MockClient) DetachVolume(ctx context.Context, volume *hcloud.Volume) error {
	if m.DetachVolumeFunc != nil {
		return m.DetachVolumeFunc(ctx, volume)
	}
	return nil
}

// DeleteVolume mocks volume deletion.
func (m *MockClient) DeleteVolume(ctx context.Context, name string) error {
	if m.DeleteVolumeFunc != nil {
		return m.DeleteVolumeFunc(ctx, name)
	}
	return nil
}

// GetVolumeByName mocks volume lookup. The default reports not found.
func (m *MockClient) GetVolumeByName(ctx context.Context, name string) (*hcloud.Volume, error) {
	if m.GetVolumeByNameFunc != nil {
		return m.GetVolumeByNameFunc(ctx, name)
	}
	return nil, nil
}

// EnsureNetwork mocks network creation.
func (m *MockClient) EnsureNetwork(ctx context.Context, name, ipRange string, labels map[string]string) (*hcloud.Network, error) {
	if m.EnsureNetworkFunc != nil {
		return m.EnsureNetworkFunc(ctx, name, ipRange, labels)
	}
	_, ipNet, _ := net.ParseCIDR(ipRange)
	return &hcloud.Network{ID: 1, Name: name, IPRange: ipNet}, nil
}

// EnsureSubnet mocks subnet creation.
func (m *MockClient) EnsureSubnet(ctx context.Context, network *hcloud.Network, ipRange, networkZone string) error {
	if m.EnsureSubnetFunc != nil {
		return m.EnsureSubnetFunc(ctx, network, ipRange, networkZone)
	}
	return nil
}

// DeleteNetwork mocks network deletion.
func (m *MockClient) DeleteNetwork(ctx context.Context, name string) error {
	if m.DeleteNetworkFunc != nil {
		return m.DeleteNetworkFunc(ctx, name)
	}
	return nil
}

// GetNetwork mocks network lookup. The default reports not found.
func (m *MockClient) GetNetwork(ctx context.Context, name string) (*hcloud.Network, error) {
	if m.GetNetworkFunc != nil {
		return m.GetNetworkFunc(ctx, name)
	}
	return nil, nil
}

// EnsureFirewall mocks firewall creation.
func (m *MockClient) EnsureFirewall(ctx context.Context, name string, rules []hcloud.FirewallRule, labels map[string]string, applyToLabelSelector string) (*hcloud.Firewall, error) {
	if m.EnsureFirewallFunc != nil {
		return m.EnsureFirewallFunc(ctx, name, rules, labels, applyToLabelSelector)
	}
	return &hcloud.Firewall{ID: 1, Name: name}, nil
}

// DeleteFirewall mocks firewall deletion.
func (m *MockClient) DeleteFirewall(ctx context.Context, name string) error {
	if m.DeleteFirewallFunc != nil {
		return m.DeleteFirewallFunc(ctx, name)
	}
	return nil
}

// GetFirewall mocks firewall lookup. The default reports not found.
func (m *MockClient) GetFirewall(ctx context.Context, name string) (*hcloud.Firewall, error) {
	if m.GetFirewallFunc != nil {
		return m.GetFirewallFunc(ctx, name)
	}
	return nil, nil
}

// EnsureSSHKey mocks SSH key upload.
func (m *MockClient) EnsureSSHKey(ctx context.Context, name, publicKey string, labels map[string]string) (*hcloud.SSHKey, error) {
	if m.EnsureSSHKeyFunc != nil {
		return m.EnsureSSHKeyFunc(ctx, name, publicKey, labels)
	}
	return &hcloud.SSHKey{ID: 1, Name: name}, nil
}

// DeleteSSHKey mocks SSH key deletion.
func (m *MockClient) DeleteSSHKey(ctx context.Context, name string) error {
	if m.DeleteSSHKeyFunc != nil {
		return m.DeleteSSHKeyFunc(ctx, name)
	}
	return nil
}

// GetSSHKey mocks SSH key lookup. The default reports not found.
func (m *MockClient) GetSSHKey(ctx context.Context, name string) (*hcloud.SSHKey, error) {
	if m.GetSSHKeyFunc != nil {
		return m.GetSSHKeyFunc(ctx, name)
	}
	return nil, nil
}

// CleanupByLabel mocks the cleanup sweep.
func (m *MockClient) CleanupByLabel(ctx context.Context, labels map[string]string) error {
	if m.CleanupByLabelFunc != nil {
		return m.CleanupByLabelFunc(ctx, labels)
	}
	return nil
}

// GetPublicIP mocks public IP discovery.
func (m *MockClient) GetPublicIP(ctx context.Context) (string, error) {
	if m.GetPublicIPFunc != nil {
		return m.GetPublicIPFunc(ctx)
	}
	return "203.0.113.10", nil
}
