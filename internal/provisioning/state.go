package provisioning

import (
	"net"
	"sort"
	"sync"

	"github.com/hetznercloud/hcloud-go/v2/hcloud"
)

// Role identifies what a node does in the cluster.
type Role string

const (
	RoleHead    Role = "head"
	RoleCompute Role = "compute"
	RoleScratch Role = "scratch"
)

// Node is one provisioned cluster member.
type Node struct {
	Name      string
	Role      Role
	ServerID  int64
	PublicIP  string
	PrivateIP string
}

// State holds the shared results of provisioning phases.
// It is progressively populated as each phase completes and is passed
// to subsequent phases that need earlier results.
type State struct {
	// Infrastructure results (populated by the infrastructure phase)
	Network  *hcloud.Network
	Firewall *hcloud.Firewall
	SSHKey   *hcloud.SSHKey
	PublicIP string // current execution environment's public IPv4

	// Compute results (populated by the compute phase)
	Head         *Node
	Compute      []*Node
	Volume       *hcloud.Volume
	VolumeDevice string // Linux device path of the attached data volume

	// Export rendezvous (populated by the bootstrap phase)
	Export *ExportGrant

	// Report accumulates per-resource outcomes across all phases.
	Report *Report
}

// NewState creates an empty provisioning state.
func NewState() *State {
	return &State{Report: NewReport()}
}

// Nodes returns the head node followed by the compute nodes.
func (s *State) Nodes() []*Node {
	var nodes []*Node
	if s.Head != nil {
		nodes = append(nodes, s.Head)
	}
	return append(nodes, s.Compute...)
}

// PublicAddr returns the server's public IPv4 address, empty when the
// server has none.
func PublicAddr(server *hcloud.Server) string {
	if server.PublicNet.IPv4.IP != nil {
		return server.PublicNet.IPv4.IP.String()
	}
	return ""
}

// PrivateAddr prefers the address the cloud reports; a pre-existing
// server keeps whatever it was created with.
func PrivateAddr(server *hcloud.Server, requested string) string {
	for _, pn := range server.PrivateNet {
		if pn.IP != nil {
			return pn.IP.String()
		}
	}
	return requested
}

// ExportGrant records a directory the head node exports and the clients
// granted access. Compute node bootstraps append their own address
// concurrently, so the client list is mutex-guarded; no append is ever
// lost.
type ExportGrant struct {
	// Source is what clients mount, host:path.
	Source string
	// Path is the exported directory on the head node.
	Path string
	// Options apply to every client entry.
	Options string

	mu      sync.Mutex
	clients map[string]struct{}
	dirty   bool
}

// NewExportGrant seeds a grant with the declared client list.
func NewExportGrant(source, path, options string, clients []string) *ExportGrant {
	g := &ExportGrant{
		Source:  source,
		Path:    path,
		Options: options,
		clients: make(map[string]struct{}, len(clients)),
	}
	for _, client := range clients {
		g.clients[client] = struct{}{}
	}
	return g
}

// Covers reports whether addr is already granted, either directly or
// through a CIDR client entry. A node covered by the declared subnet
// grant does not need its own entry.
func (g *ExportGrant) Covers(addr string) bool {
	ip := net.ParseIP(addr)
	g.mu.Lock()
	defer g.mu.Unlock()
	for client := range g.clients {
		if client == addr {
			return true
		}
		if ip == nil {
			continue
		}
		if _, ipNet, err := net.ParseCIDR(client); err == nil && ipNet.Contains(ip) {
			return true
		}
	}
	return false
}

// AddClient grants an additional client. Reports whether the grant
// changed; re-adding a known client does not.
func (g *ExportGrant) AddClient(addr string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.clients[addr]; ok {
		return false
	}
	g.clients[addr] = struct{}{}
	g.dirty = true
	return true
}

// Clients returns the granted clients, sorted so the rendered export
// entry is stable across runs.
func (g *ExportGrant) Clients() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, 0, len(g.clients))
	for client := range g.clients {
		out = append(out, client)
	}
	sort.Strings(out)
	return out
}

// Dirty reports whether clients were added since the last ClearDirty,
// meaning the head node's export entry needs a refresh.
func (g *ExportGrant) Dirty() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dirty
}

// ClearDirty marks the current client list as applied.
func (g *ExportGrant) ClearDirty() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.dirty = false
}
