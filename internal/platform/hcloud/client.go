// Package hcloud wraps the Hetzner Cloud API behind the narrow
// interfaces the provisioning phases consume. All Ensure operations are
// idempotent: they return the existing resource when one with the same
// name is already present, after validating that it matches what the
// caller asked for.
package hcloud

import (
	"context"

	"github.com/hetznercloud/hcloud-go/v2/hcloud"
)

// ServerCreateOpts holds all parameters for creating a server.
type ServerCreateOpts struct {
	Name       string
	ServerType string
	Image      string
	Location   string
	SSHKeys    []string
	Labels     map[string]string
	UserData   string

	// NetworkID and PrivateIP attach the server to a private network at
	// creation. Both must be set together or both left empty.
	NetworkID int64
	PrivateIP string
}

// ServerProvisioner manages cluster node servers.
type ServerProvisioner interface {
	// EnsureServer returns the server with the given name, creating it
	// if absent. An existing server is returned as-is.
	EnsureServer(ctx context.Context, opts ServerCreateOpts) (*hcloud.Server, error)
	DeleteServer(ctx context.Context, name string) error
	GetServerByName(ctx context.Context, name string) (*hcloud.Server, error)
	GetServersByLabel(ctx context.Context, labels map[string]string) ([]*hcloud.Server, error)
}

// VolumeManager manages persistent block volumes.
type VolumeManager interface {
	// EnsureVolume returns the named volume, creating it with the given
	// size if absent. An existing smaller volume is an error; resizing
	// is not transparent to a mounted filesystem.
	EnsureVolume(ctx context.Context, name string, sizeGB int, location string, labels map[string]string) (*hcloud.Volume, error)
	// AttachVolume attaches the volume to the server and returns the
	// Linux device path it appears under. Attaching a volume already on
	// that server is a no-op; attached elsewhere is an error.
	AttachVolume(ctx context.Context, volume *hcloud.Volume, server *hcloud.Server) (string, error)
	DetachVolume(ctx context.Context, volume *hcloud.Volume) error
	DeleteVolume(ctx context.Context, name string) error
	GetVolumeByName(ctx context.Context, name string) (*hcloud.Volume, error)
}

// NetworkManager manages private networks.
type NetworkManager interface {
	EnsureNetwork(ctx context.Context, name, ipRange string, labels map[string]string) (*hcloud.Network, error)
	EnsureSubnet(ctx context.Context, network *hcloud.Network, ipRange, networkZone string) error
	DeleteNetwork(ctx context.Context, name string) error
	GetNetwork(ctx context.Context, name string) (*hcloud.Network, error)
}

// FirewallManager manages firewalls.
type FirewallManager interface {
	EnsureFirewall(ctx context.Context, name string, rules []hcloud.FirewallRule, labels map[string]string, applyToLabelSelector string) (*hcloud.Firewall, error)
	DeleteFirewall(ctx context.Context, name string) error
	GetFirewall(ctx context.Context, name string) (*hcloud.Firewall, error)
}

// SSHKeyManager manages uploaded SSH public keys.
type SSHKeyManager interface {
	EnsureSSHKey(ctx context.Context, name, publicKey string, labels map[string]string) (*hcloud.SSHKey, error)
	DeleteSSHKey(ctx context.Context, name string) error
	GetSSHKey(ctx context.Context, name string) (*hcloud.SSHKey, error)
}

// InfrastructureManager combines every control-plane concern the
// provisioning phases need.
type InfrastructureManager interface {
	ServerProvisioner
	VolumeManager
	NetworkManager
	FirewallManager
	SSHKeyManager

	// CleanupByLabel deletes every resource carrying the label set, in
	// dependency order, collecting per-resource failures.
	CleanupByLabel(ctx context.Context, labels map[string]string) error

	// GetPublicIP returns the public IPv4 address of the machine
	// running this tool, for scoping SSH firewall rules.
	GetPublicIP(ctx context.Context) (string, error)
}
