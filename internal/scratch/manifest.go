package scratch

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Manifest records everything a later invocation needs to find, mount
// or destroy a scratch stack. It lives in object storage rather than on
// any node, so it survives the cluster that created it.
type Manifest struct {
	Cluster        string         `yaml:"cluster"`
	FsName         string         `yaml:"fs_name"`
	State          StackState     `yaml:"state"`
	MgtIP          string         `yaml:"mgt_ip,omitempty"`
	Mountpoint     string         `yaml:"mountpoint"`
	NodeCount      int            `yaml:"node_count"`
	TargetsPerNode int            `yaml:"targets_per_node"`
	SizeGB         int            `yaml:"size_gb"`
	Nodes          []ManifestNode `yaml:"nodes,omitempty"`
	CreatedAt      time.Time      `yaml:"created_at"`
	UpdatedAt      time.Time      `yaml:"updated_at"`
}

// ManifestNode is one storage server of the stack.
type ManifestNode struct {
	Name      string   `yaml:"name"`
	ServerID  int64    `yaml:"server_id"`
	PublicIP  string   `yaml:"public_ip,omitempty"`
	PrivateIP string   `yaml:"private_ip"`
	Targets   []string `yaml:"targets,omitempty"`
}

// FsSpec returns the mount source in management-node:/fsname form, the
// spec a client hands to mount.
func (m *Manifest) FsSpec() string {
	return fmt.Sprintf("%s:/%s", m.MgtIP, m.FsName)
}

// Render serializes the manifest for object storage.
func (m *Manifest) Render() ([]byte, error) {
	return yaml.Marshal(m)
}

// ParseManifest deserializes a stored manifest, rejecting documents
// that do not hold one.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse stack manifest: %w", err)
	}
	if m.Cluster == "" || m.State == "" {
		return nil, fmt.Errorf("stack manifest is missing cluster or state")
	}
	return &m, nil
}
