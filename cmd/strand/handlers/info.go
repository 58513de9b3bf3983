package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/hetznercloud/hcloud-go/v2/hcloud"
	"github.com/mattn/go-isatty"

	"github.com/strandtools/strand/internal/config"
	hcloud_internal "github.com/strandtools/strand/internal/platform/hcloud"
	"github.com/strandtools/strand/internal/provisioning"
	"github.com/strandtools/strand/internal/util/labels"
	"github.com/strandtools/strand/internal/util/naming"
)

// InfoStatus is the live view of one cluster's resources.
type InfoStatus struct {
	ClusterName string           `json:"clusterName"`
	Location    string           `json:"location"`
	State       string           `json:"state"`
	Resources   []ResourceStatus `json:"resources"`
	Nodes       []NodeStatus     `json:"nodes,omitempty"`
	Scratch     *ScratchStatus   `json:"scratch,omitempty"`
}

// ResourceStatus reports whether one declared resource exists.
type ResourceStatus struct {
	Kind    string `json:"kind"`
	Name    string `json:"name"`
	Present bool   `json:"present"`
	Detail  string `json:"detail,omitempty"`
}

// NodeStatus lists one reachable server with its addresses.
type NodeStatus struct {
	Name      string `json:"name"`
	Role      string `json:"role"`
	PublicIP  string `json:"publicIP,omitempty"`
	PrivateIP string `json:"privateIP,omitempty"`
}

// ScratchStatus reports the scratch stack's position in its lifecycle.
type ScratchStatus struct {
	State      string `json:"state"`
	FsSpec     string `json:"fsSpec,omitempty"`
	NodesFound int    `json:"nodesFound"`
	Declared   int    `json:"declared"`
}

// Info compares the configuration against live cloud state and prints a
// per-resource report: OK for resources that exist, MISSING for ones
// that do not.
func Info(ctx context.Context, configPath string, jsonOutput bool) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	status, err := gatherInfo(ctx, initializeClient(), cfg)
	if err != nil {
		return err
	}

	if jsonOutput {
		data, err := json.MarshalIndent(status, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal status: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}

	if isInteractiveTTY() {
		fmt.Print(renderInfoStyled(status))
	} else {
		fmt.Print(renderInfoPlain(status))
	}
	return nil
}

// gatherInfo probes every resource the config declares.
func gatherInfo(ctx context.Context, infra hcloud_internal.InfrastructureManager, cfg *config.Config) (*InfoStatus, error) {
	status := &InfoStatus{
		ClusterName: cfg.ClusterName,
		Location:    cfg.Location,
	}

	state, err := provisioning.DeriveClusterState(ctx, infra, cfg)
	if err != nil {
		return nil, err
	}

	cluster := cfg.ClusterName

	network, _ := infra.GetNetwork(ctx, naming.Network(cluster))
	networkDetail := ""
	if network != nil {
		networkDetail = network.IPRange.String()
	}
	status.addResource("network", naming.Network(cluster), network != nil, networkDetail)

	firewall, _ := infra.GetFirewall(ctx, naming.Firewall(cluster))
	status.addResource("firewall", naming.Firewall(cluster), firewall != nil, "")

	sshKey, _ := infra.GetSSHKey(ctx, naming.SSHKey(cluster))
	status.addResource("ssh-key", naming.SSHKey(cluster), sshKey != nil, "")

	volume, _ := infra.GetVolumeByName(ctx, naming.DataVolume(cluster))
	volumeDetail := ""
	if volume != nil {
		volumeDetail = fmt.Sprintf("%dGB", volume.Size)
	}
	status.addResource("volume", naming.DataVolume(cluster), volume != nil, volumeDetail)

	head, err := infra.GetServerByName(ctx, naming.HeadNode(cluster))
	if err != nil {
		return nil, fmt.Errorf("failed to inspect head node: %w", err)
	}
	status.addResource("server", naming.HeadNode(cluster), head != nil, serverDetail(head))
	if head != nil {
		status.addNode(head, labels.RoleHead)
	}

	for i := range cfg.Compute.Count {
		name := naming.ComputeNode(cluster, i)
		server, err := infra.GetServerByName(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("failed to inspect compute node %s: %w", name, err)
		}
		status.addResource("server", name, server != nil, serverDetail(server))
		if server != nil {
			status.addNode(server, labels.RoleCompute)
		}
	}

	// No servers but durable resources still around reads as stopped,
	// which the role-label count alone cannot tell from absent.
	if state == provisioning.ClusterAbsent && (network != nil || volume != nil) {
		state = provisioning.ClusterStopped
	}
	status.State = string(state)

	if cfg.Scratch != nil {
		status.Scratch = gatherScratchInfo(ctx, infra, cfg)
	}

	return status, nil
}

// gatherScratchInfo reads the stack's manifest state when credentials
// allow, and counts its servers either way.
func gatherScratchInfo(ctx context.Context, infra hcloud_internal.InfrastructureManager, cfg *config.Config) *ScratchStatus {
	info := &ScratchStatus{
		State:    "unknown",
		Declared: cfg.Scratch.NodeCount,
	}

	servers, err := infra.GetServersByLabel(ctx, labels.ForCluster(cfg.ClusterName).Role(labels.RoleScratch).Build())
	if err == nil {
		info.NodesFound = len(servers)
	}

	if cfg.ObjectStore == nil {
		return info
	}
	store, err := newObjectStore(cfg.ObjectStore)
	if err != nil {
		info.State = "unknown (object store credentials not set)"
		return info
	}

	mgr := newScratchManager(cfg, infra, store, nil)
	state, manifest, err := mgr.State(ctx)
	if err != nil {
		info.State = fmt.Sprintf("unknown (%v)", err)
		return info
	}
	info.State = string(state)
	if manifest != nil {
		info.FsSpec = manifest.FsSpec()
	}
	return info
}

func (s *InfoStatus) addResource(kind, name string, present bool, detail string) {
	s.Resources = append(s.Resources, ResourceStatus{Kind: kind, Name: name, Present: present, Detail: detail})
}

func (s *InfoStatus) addNode(server *hcloud.Server, role string) {
	s.Nodes = append(s.Nodes, NodeStatus{
		Name:      server.Name,
		Role:      role,
		PublicIP:  provisioning.PublicAddr(server),
		PrivateIP: provisioning.PrivateAddr(server, ""),
	})
}

func serverDetail(server *hcloud.Server) string {
	if server == nil {
		return ""
	}
	return provisioning.PublicAddr(server)
}

func isInteractiveTTY() bool {
	return isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
}
