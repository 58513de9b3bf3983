// Package config defines the declarative cluster specification and loads it
// from YAML. A Config describes the desired cluster: node counts and types,
// the network, the shared data volume and its export, and the optional
// scratch filesystem stack. Provisioning compares this declaration against
// live cloud state and applies the difference.
package config

// Config is the declarative cluster specification.
type Config struct {
	ClusterName string `yaml:"cluster_name"`
	Location    string `yaml:"location"`
	NetworkZone string `yaml:"network_zone"`

	// NetworkCIDR is the private network range. Must be a /23 or larger;
	// one /24 node subnet is carved from it.
	NetworkCIDR string `yaml:"network_cidr"`

	// Image is the OS image for every node.
	Image string `yaml:"image"`

	Head    HeadSpec    `yaml:"head"`
	Compute ComputeSpec `yaml:"compute"`
	Volume  VolumeSpec  `yaml:"volume"`
	Export  ExportSpec  `yaml:"export"`
	SSH     SSHSpec     `yaml:"ssh"`

	Scratch     *ScratchSpec     `yaml:"scratch,omitempty"`
	ObjectStore *ObjectStoreSpec `yaml:"object_store,omitempty"`
}

// HeadSpec describes the head node, which owns and exports shared storage.
type HeadSpec struct {
	ServerType string `yaml:"server_type"`
}

// ComputeSpec describes the compute node pool.
type ComputeSpec struct {
	ServerType string `yaml:"server_type"`
	Count      int    `yaml:"count"`
}

// VolumeSpec describes the shared data volume attached to the head node.
// Device may be left empty, in which case the path reported by the cloud
// provider for the attached volume is used.
type VolumeSpec struct {
	SizeGB     int    `yaml:"size_gb"`
	Device     string `yaml:"device,omitempty"`
	Mountpoint string `yaml:"mountpoint"`
	Filesystem string `yaml:"filesystem"`
	Options    string `yaml:"options"`
}

// ExportSpec describes the NFS export of the data volume.
type ExportSpec struct {
	// Path defaults to the volume mountpoint when empty.
	Path    string   `yaml:"path,omitempty"`
	Clients []string `yaml:"clients"`
	Options string   `yaml:"options"`
}

// SSHSpec holds the key pair used to reach nodes.
type SSHSpec struct {
	User           string `yaml:"user"`
	PrivateKeyPath string `yaml:"private_key_path"`
	PublicKeyPath  string `yaml:"public_key_path"`
}

// ScratchSpec describes the optional distributed scratch filesystem stack.
// The stack has its own lifecycle, independent of the node cluster.
type ScratchSpec struct {
	ServerType     string `yaml:"server_type"`
	NodeCount      int    `yaml:"node_count"`
	TargetsPerNode int    `yaml:"targets_per_node"`
	SizeGB         int    `yaml:"size_gb"`

	// Mountpoint is where cluster nodes mount the scratch filesystem.
	Mountpoint string `yaml:"mountpoint"`
}

// ObjectStoreSpec points at an S3-compatible endpoint holding stack
// manifests. Credentials are read from the named environment variables so
// secrets never land in the config file.
type ObjectStoreSpec struct {
	Endpoint     string `yaml:"endpoint"`
	Region       string `yaml:"region"`
	Bucket       string `yaml:"bucket,omitempty"`
	AccessKeyEnv string `yaml:"access_key_env"`
	SecretKeyEnv string `yaml:"secret_key_env"`
}

// ExportPath returns the export path, defaulting to the volume mountpoint.
func (c *Config) ExportPath() string {
	if c.Export.Path != "" {
		return c.Export.Path
	}
	return c.Volume.Mountpoint
}
