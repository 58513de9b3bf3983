package config

import (
	"bytes"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by Load when the config file leaves fields empty.
// Volume and export defaults match the conventional head-node layout: an
// ext4 data volume on /encrypted exported read-write to the node subnet.
const (
	DefaultLocation    = "fsn1"
	DefaultNetworkZone = "eu-central"
	DefaultNetworkCIDR = "10.0.0.0/23"
	DefaultImage       = "debian-12"
	DefaultServerType  = "cx32"

	DefaultVolumeSizeGB  = 200
	DefaultMountpoint    = "/encrypted"
	DefaultFilesystem    = "ext4"
	DefaultMountOptions  = "noatime,nodiratime"
	DefaultExportOptions = "rw,no_root_squash,sync"

	DefaultSSHUser = "root"

	DefaultScratchServerType = "cx42"
	DefaultScratchNodeCount  = 4
	DefaultScratchTargets    = 4
	DefaultScratchSizeGB     = 2048
	DefaultScratchMountpoint = "/scratch"
)

var clusterNamePattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,30}[a-z0-9])?$`)

// Load reads, defaults, and validates a cluster specification.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the config as YAML, creating parent directories as needed.
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Backup copies the config file aside with a timestamp suffix before an
// edit rewrites it. Returns the backup path.
func Backup(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read config for backup: %w", err)
	}
	backup := fmt.Sprintf("%s.%s.bak", path, time.Now().Format("20060102-150405"))
	if err := os.WriteFile(backup, data, 0o600); err != nil {
		return "", fmt.Errorf("failed to write backup: %w", err)
	}
	return backup, nil
}

// ApplyDefaults fills empty fields with the package defaults.
func (c *Config) ApplyDefaults() {
	if c.Location == "" {
		c.Location = DefaultLocation
	}
	if c.NetworkZone == "" {
		c.NetworkZone = DefaultNetworkZone
	}
	if c.NetworkCIDR == "" {
		c.NetworkCIDR = DefaultNetworkCIDR
	}
	if c.Image == "" {
		c.Image = DefaultImage
	}
	if c.Head.ServerType == "" {
		c.Head.ServerType = DefaultServerType
	}
	if c.Compute.ServerType == "" {
		c.Compute.ServerType = DefaultServerType
	}
	if c.Volume.SizeGB == 0 {
		c.Volume.SizeGB = DefaultVolumeSizeGB
	}
	if c.Volume.Mountpoint == "" {
		c.Volume.Mountpoint = DefaultMountpoint
	}
	if c.Volume.Filesystem == "" {
		c.Volume.Filesystem = DefaultFilesystem
	}
	if c.Volume.Options == "" {
		c.Volume.Options = DefaultMountOptions
	}
	if c.Export.Options == "" {
		c.Export.Options = DefaultExportOptions
	}
	if len(c.Export.Clients) == 0 {
		if subnet, err := NodeSubnet(c.NetworkCIDR); err == nil {
			c.Export.Clients = []string{subnet.String()}
		}
	}
	if c.SSH.User == "" {
		c.SSH.User = DefaultSSHUser
	}

	if c.Scratch != nil {
		if c.Scratch.ServerType == "" {
			c.Scratch.ServerType = DefaultScratchServerType
		}
		if c.Scratch.NodeCount == 0 {
			c.Scratch.NodeCount = DefaultScratchNodeCount
		}
		if c.Scratch.TargetsPerNode == 0 {
			c.Scratch.TargetsPerNode = DefaultScratchTargets
		}
		if c.Scratch.SizeGB == 0 {
			c.Scratch.SizeGB = DefaultScratchSizeGB
		}
		if c.Scratch.Mountpoint == "" {
			c.Scratch.Mountpoint = DefaultScratchMountpoint
		}
	}
}

// Validate checks the specification for contradictions before any cloud
// call is made.
func (c *Config) Validate() error {
	if c.ClusterName == "" {
		return fmt.Errorf("cluster_name is required")
	}
	if !clusterNamePattern.MatchString(c.ClusterName) {
		return fmt.Errorf("cluster_name %q must be lowercase alphanumeric with hyphens, at most 32 characters", c.ClusterName)
	}
	if c.Compute.Count < 0 {
		return fmt.Errorf("compute.count must not be negative")
	}
	if _, err := NodeSubnet(c.NetworkCIDR); err != nil {
		return err
	}
	switch c.Volume.Filesystem {
	case "ext4", "xfs":
	default:
		return fmt.Errorf("volume.filesystem %q not supported (ext4, xfs)", c.Volume.Filesystem)
	}
	if c.Volume.SizeGB < 10 {
		return fmt.Errorf("volume.size_gb must be at least 10")
	}
	if !filepath.IsAbs(c.Volume.Mountpoint) {
		return fmt.Errorf("volume.mountpoint must be an absolute path")
	}
	for _, client := range c.Export.Clients {
		if err := validateClient(client); err != nil {
			return err
		}
	}
	if c.SSH.PrivateKeyPath == "" || c.SSH.PublicKeyPath == "" {
		return fmt.Errorf("ssh.private_key_path and ssh.public_key_path are required")
	}

	if c.Scratch != nil {
		if c.Scratch.NodeCount < 1 {
			return fmt.Errorf("scratch.node_count must be at least 1")
		}
		if c.Scratch.TargetsPerNode < 1 {
			return fmt.Errorf("scratch.targets_per_node must be at least 1")
		}
		if c.Scratch.SizeGB < c.Scratch.NodeCount*c.Scratch.TargetsPerNode*10 {
			return fmt.Errorf("scratch.size_gb too small for %d nodes with %d targets each",
				c.Scratch.NodeCount, c.Scratch.TargetsPerNode)
		}
		if !filepath.IsAbs(c.Scratch.Mountpoint) {
			return fmt.Errorf("scratch.mountpoint must be an absolute path")
		}
		if c.ObjectStore == nil {
			return fmt.Errorf("scratch requires object_store for the stack manifest")
		}
	}
	if c.ObjectStore != nil {
		if c.ObjectStore.Endpoint == "" || c.ObjectStore.Region == "" {
			return fmt.Errorf("object_store.endpoint and object_store.region are required")
		}
		if c.ObjectStore.AccessKeyEnv == "" || c.ObjectStore.SecretKeyEnv == "" {
			return fmt.Errorf("object_store.access_key_env and object_store.secret_key_env are required")
		}
	}
	return nil
}

// NodeSubnet returns the /24 node subnet carved from the cluster network.
// The network itself must be a /23 or larger so the node subnet leaves room
// for the scratch stack and future pools.
func NodeSubnet(cidr string) (*net.IPNet, error) {
	_, network, err := net.ParseCIDR(cidr)
	if err != nil {
		return nil, fmt.Errorf("network_cidr %q is not a valid CIDR: %w", cidr, err)
	}
	ones, bits := network.Mask.Size()
	if bits != 32 {
		return nil, fmt.Errorf("network_cidr %q must be IPv4", cidr)
	}
	if ones > 23 {
		return nil, fmt.Errorf("network_cidr %q too small: need a /23 or larger", cidr)
	}
	return &net.IPNet{
		IP:   network.IP,
		Mask: net.CIDRMask(24, 32),
	}, nil
}

// ScratchSubnet returns the /24 the scratch stack servers live in: the
// second /24 of the cluster network, right after the node subnet.
func ScratchSubnet(cidr string) (*net.IPNet, error) {
	nodes, err := NodeSubnet(cidr)
	if err != nil {
		return nil, err
	}
	ip := nodes.IP.To4()
	return &net.IPNet{
		IP:   net.IPv4(ip[0], ip[1], ip[2]+1, 0).To4(),
		Mask: net.CIDRMask(24, 32),
	}, nil
}

func validateClient(client string) error {
	if _, _, err := net.ParseCIDR(client); err == nil {
		return nil
	}
	if ip := net.ParseIP(client); ip != nil {
		return nil
	}
	return fmt.Errorf("export client %q is neither an IP nor a CIDR", client)
}
