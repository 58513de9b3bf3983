//go:build integration

package integration

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"

	"github.com/hetznercloud/hcloud-go/v2/hcloud"

	hcloud_internal "github.com/strandtools/strand/internal/platform/hcloud"
	"github.com/strandtools/strand/internal/provisioning/converge"
)

// hostCommand is one executed command attributed to its host. The sim
// keeps a single ordered log across all hosts so specs can count the
// mutations a lifecycle stage issued.
type hostCommand struct {
	host string
	cmd  string
}

// cloudSim is an in-memory rendition of the cloud control plane and the
// machines behind it. Control-plane calls mutate resource maps; every
// created server is backed by a simHost the runner factory routes to by
// public address, so converge steps run against live simulated host
// state instead of canned responses.
type cloudSim struct {
	hcloud_internal.MockClient

	mu        sync.Mutex
	servers   map[string]*hcloud.Server
	volumes   map[string]*hcloud.Volume
	networks  map[string]*hcloud.Network
	firewalls map[string]*hcloud.Firewall
	sshKeys   map[string]*hcloud.SSHKey

	hosts     map[string]*simHost
	byPublic  map[string]*simHost
	byPrivate map[string]*simHost

	// volumeFs maps a volume's device path to its filesystem signature.
	// It lives on the sim rather than on a host so data survives server
	// recreation the way a real block volume does.
	volumeFs map[string]string

	log        []hostCommand
	nextID     int64
	nextPublic int
}

func newCloudSim() *cloudSim {
	f := &cloudSim{
		servers:    make(map[string]*hcloud.Server),
		volumes:    make(map[string]*hcloud.Volume),
		networks:   make(map[string]*hcloud.Network),
		firewalls:  make(map[string]*hcloud.Firewall),
		sshKeys:    make(map[string]*hcloud.SSHKey),
		hosts:      make(map[string]*simHost),
		byPublic:   make(map[string]*simHost),
		byPrivate:  make(map[string]*simHost),
		volumeFs:   make(map[string]string),
		nextPublic: 20,
	}

	f.EnsureServerFunc = func(_ context.Context, opts hcloud_internal.ServerCreateOpts) (*hcloud.Server, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if existing, ok := f.servers[opts.Name]; ok {
			return existing, nil
		}
		f.nextID++
		public := fmt.Sprintf("203.0.113.%d", f.nextPublic)
		f.nextPublic++
		server := &hcloud.Server{
			ID:     f.nextID,
			Name:   opts.Name,
			Labels: opts.Labels,
			PublicNet: hcloud.ServerPublicNet{
				IPv4: hcloud.ServerPublicNetIPv4{IP: net.ParseIP(public)},
			},
		}
		if opts.PrivateIP != "" {
			server.PrivateNet = []hcloud.ServerPrivateNet{{
				Network: &hcloud.Network{ID: opts.NetworkID},
				IP:      net.ParseIP(opts.PrivateIP),
			}}
		}
		f.servers[opts.Name] = server
		f.addHostLocked(opts.Name, public, opts.PrivateIP)
		return server, nil
	}
	f.GetServerByNameFunc = func(_ context.Context, name string) (*hcloud.Server, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.servers[name], nil
	}
	f.GetServersByLabelFunc = func(_ context.Context, selector map[string]string) ([]*hcloud.Server, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
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
		f.mu.Lock()
		defer f.mu.Unlock()
		f.deleteServerLocked(name)
		return nil
	}

	f.EnsureVolumeFunc = func(_ context.Context, name string, sizeGB int, _ string, volumeLabels map[string]string) (*hcloud.Volume, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if existing, ok := f.volumes[name]; ok {
			return existing, nil
		}
		f.nextID++
		volume := &hcloud.Volume{
			ID:          f.nextID,
			Name:        name,
			Size:        sizeGB,
			Labels:      volumeLabels,
			LinuxDevice: fmt.Sprintf("/dev/disk/by-id/scsi-0HC_Volume_%d", f.nextID),
		}
		f.volumes[name] = volume
		return volume, nil
	}
	f.AttachVolumeFunc = func(_ context.Context, volume *hcloud.Volume, server *hcloud.Server) (string, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		stored, ok := f.volumes[volume.Name]
		if !ok {
			return "", fmt.Errorf("volume %s does not exist", volume.Name)
		}
		if stored.Server != nil && stored.Server.ID != server.ID {
			return "", fmt.Errorf("volume %s is attached to server %d", volume.Name, stored.Server.ID)
		}
		stored.Server = &hcloud.Server{ID: server.ID}
		return stored.LinuxDevice, nil
	}
	f.DetachVolumeFunc = func(_ context.Context, volume *hcloud.Volume) error {
		f.mu.Lock()
		defer f.mu.Unlock()
		if stored, ok := f.volumes[volume.Name]; ok {
			stored.Server = nil
		}
		return nil
	}
	f.DeleteVolumeFunc = func(_ context.Context, name string) error {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.deleteVolumeLocked(name)
		return nil
	}
	f.GetVolumeByNameFunc = func(_ context.Context, name string) (*hcloud.Volume, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.volumes[name], nil
	}

	f.EnsureNetworkFunc = func(_ context.Context, name, ipRange string, networkLabels map[string]string) (*hcloud.Network, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if existing, ok := f.networks[name]; ok {
			return existing, nil
		}
		_, ipNet, err := net.ParseCIDR(ipRange)
		if err != nil {
			return nil, err
		}
		f.nextID++
		network := &hcloud.Network{ID: f.nextID, Name: name, IPRange: ipNet, Labels: networkLabels}
		f.networks[name] = network
		return network, nil
	}
	f.EnsureSubnetFunc = func(_ context.Context, network *hcloud.Network, ipRange, networkZone string) error {
		f.mu.Lock()
		defer f.mu.Unlock()
		stored, ok := f.networks[network.Name]
		if !ok {
			return fmt.Errorf("network %s does not exist", network.Name)
		}
		for _, subnet := range stored.Subnets {
			if subnet.IPRange != nil && subnet.IPRange.String() == ipRange {
				return nil
			}
		}
		_, ipNet, err := net.ParseCIDR(ipRange)
		if err != nil {
			return err
		}
		stored.Subnets = append(stored.Subnets, hcloud.NetworkSubnet{
			Type:        hcloud.NetworkSubnetTypeCloud,
			IPRange:     ipNet,
			NetworkZone: hcloud.NetworkZone(networkZone),
		})
		return nil
	}
	f.GetNetworkFunc = func(_ context.Context, name string) (*hcloud.Network, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.networks[name], nil
	}
	f.DeleteNetworkFunc = func(_ context.Context, name string) error {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.networks, name)
		return nil
	}

	f.EnsureFirewallFunc = func(_ context.Context, name string, rules []hcloud.FirewallRule, firewallLabels map[string]string, _ string) (*hcloud.Firewall, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if existing, ok := f.firewalls[name]; ok {
			existing.Rules = rules
			return existing, nil
		}
		f.nextID++
		firewall := &hcloud.Firewall{ID: f.nextID, Name: name, Rules: rules, Labels: firewallLabels}
		f.firewalls[name] = firewall
		return firewall, nil
	}
	f.GetFirewallFunc = func(_ context.Context, name string) (*hcloud.Firewall, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.firewalls[name], nil
	}
	f.DeleteFirewallFunc = func(_ context.Context, name string) error {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.firewalls, name)
		return nil
	}

	f.EnsureSSHKeyFunc = func(_ context.Context, name, _ string, keyLabels map[string]string) (*hcloud.SSHKey, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if existing, ok := f.sshKeys[name]; ok {
			return existing, nil
		}
		f.nextID++
		key := &hcloud.SSHKey{ID: f.nextID, Name: name, Labels: keyLabels}
		f.sshKeys[name] = key
		return key, nil
	}
	f.GetSSHKeyFunc = func(_ context.Context, name string) (*hcloud.SSHKey, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.sshKeys[name], nil
	}
	f.DeleteSSHKeyFunc = func(_ context.Context, name string) error {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.sshKeys, name)
		return nil
	}

	f.CleanupByLabelFunc = func(_ context.Context, selector map[string]string) error {
		f.mu.Lock()
		defer f.mu.Unlock()
		for name, server := range f.servers {
			if labelsMatch(server.Labels, selector) {
				f.deleteServerLocked(name)
			}
		}
		for name, volume := range f.volumes {
			if labelsMatch(volume.Labels, selector) {
				f.deleteVolumeLocked(name)
			}
		}
		for name, firewall := range f.firewalls {
			if labelsMatch(firewall.Labels, selector) {
				delete(f.firewalls, name)
			}
		}
		for name, network := range f.networks {
			if labelsMatch(network.Labels, selector) {
				delete(f.networks, name)
			}
		}
		for name, key := range f.sshKeys {
			if labelsMatch(key.Labels, selector) {
				delete(f.sshKeys, name)
			}
		}
		return nil
	}

	return f
}

func (f *cloudSim) addHostLocked(name, public, private string) {
	h := &simHost{
		sim:     f,
		name:    name,
		private: private,
		dirs:    make(map[string]bool),
		mounted: make(map[string]string),
		fstab:   make(map[string]bool),
		exports: make(map[string]string),
		served:  make(map[string]string),
	}
	f.hosts[name] = h
	f.byPublic[public] = h
	f.byPrivate[private] = h
}

func (f *cloudSim) deleteServerLocked(name string) {
	server, ok := f.servers[name]
	if !ok {
		return
	}
	// The cloud detaches volumes when their server goes away.
	for _, volume := range f.volumes {
		if volume.Server != nil && volume.Server.ID == server.ID {
			volume.Server = nil
		}
	}
	delete(f.servers, name)
	if h, ok := f.hosts[name]; ok {
		delete(f.hosts, name)
		for public, host := range f.byPublic {
			if host == h {
				delete(f.byPublic, public)
			}
		}
		delete(f.byPrivate, h.private)
	}
}

func (f *cloudSim) deleteVolumeLocked(name string) {
	if volume, ok := f.volumes[name]; ok {
		delete(f.volumeFs, volume.LinuxDevice)
	}
	delete(f.volumes, name)
}

// runnerFor is the provisioning.RunnerFactory of the sim: commands for a
// public address land on the host registered under it.
func (f *cloudSim) runnerFor(addr string) (converge.Runner, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.byPublic[addr]
	if !ok {
		return nil, fmt.Errorf("no route to %s", addr)
	}
	return h, nil
}

func (f *cloudSim) host(name string) *simHost {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hosts[name]
}

func (f *cloudSim) volumeDevice(name string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if volume, ok := f.volumes[name]; ok {
		return volume.LinuxDevice
	}
	return ""
}

func (f *cloudSim) volumeSize(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if volume, ok := f.volumes[name]; ok {
		return volume.Size
	}
	return 0
}

func (f *cloudSim) serverNames() []string   { return sortedKeys(f, f.servers) }
func (f *cloudSim) volumeNames() []string   { return sortedKeys(f, f.volumes) }
func (f *cloudSim) networkNames() []string  { return sortedKeys(f, f.networks) }
func (f *cloudSim) firewallNames() []string { return sortedKeys(f, f.firewalls) }
func (f *cloudSim) sshKeyNames() []string   { return sortedKeys(f, f.sshKeys) }

func sortedKeys[T any](f *cloudSim, m map[string]T) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// mark returns the current command log length; countFrom counts the
// commands issued after a mark that contain substr. An empty substr
// matches everything.
func (f *cloudSim) mark() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.log)
}

func (f *cloudSim) countFrom(mark int, substr string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, entry := range f.log[mark:] {
		if strings.Contains(entry.cmd, substr) {
			n++
		}
	}
	return n
}

// mountPermitted decides whether client may mount source. NFS grants
// come from the serving host's applied exports; any other remote
// filesystem serves once the storage server has its target filesystems
// mounted. Called with f.mu held.
func (f *cloudSim) mountPermitted(fstype, source, client string) error {
	addr, path, ok := strings.Cut(source, ":")
	if !ok {
		return nil
	}
	server := f.byPrivate[addr]
	if server == nil {
		return fmt.Errorf("no route to host %s", addr)
	}

	if fstype != "nfs" {
		prefix := "/srv" + path + "/"
		for mountpoint := range server.mounted {
			if strings.HasPrefix(mountpoint, prefix) {
				return nil
			}
		}
		return fmt.Errorf("%s is not serving %s", addr, path)
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

func labelsMatch(have, want map[string]string) bool {
	for k, v := range want {
		if have[k] != v {
			return false
		}
	}
	return true
}

// simHost emulates the slice of a Linux host the converge steps touch:
// a directory set, the mount table, fstab, and the exports file with
// its applied snapshot. Filesystem signatures live on the sim's volume
// map. All state mutates under the sim lock so concurrent node
// convergence stays consistent.
type simHost struct {
	sim     *cloudSim
	name    string
	private string

	dirs    map[string]bool
	mounted map[string]string // mountpoint -> source
	fstab   map[string]bool
	exports map[string]string // path -> current /etc/exports line
	served  map[string]string // exports snapshot applied by exportfs -ra
}

func (h *simHost) Run(_ context.Context, cmd string) (converge.Output, error) {
	f := h.sim
	f.mu.Lock()
	defer f.mu.Unlock()
	f.log = append(f.log, hostCommand{host: h.name, cmd: cmd})

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
		if sig := f.volumeFs[q[0]]; sig != "" {
			return converge.Output{Stdout: sig + "\n"}, nil
		}
		return converge.Output{ExitCode: 2}, nil
	case strings.HasPrefix(cmd, "mkfs -t "):
		f.volumeFs[q[1]] = q[0]
		return converge.Output{}, nil
	case strings.HasPrefix(cmd, "findmnt "):
		if source, ok := h.mounted[q[0]]; ok {
			return converge.Output{Stdout: source + "\n"}, nil
		}
		return converge.Output{ExitCode: 1}, nil
	case strings.Contains(cmd, ">> /etc/fstab"):
		h.fstab[q[0]] = true
		return converge.Output{}, nil
	case strings.HasPrefix(cmd, "grep -qsF -- "):
		if h.inFstab(q[0]) {
			return converge.Output{}, nil
		}
		return converge.Output{ExitCode: 1}, nil
	case strings.HasPrefix(cmd, "sed -i -e "):
		mountpoint := strings.TrimSuffix(strings.TrimPrefix(q[0], `\# `), " #d")
		for line := range h.fstab {
			if strings.Contains(line, " "+mountpoint+" ") {
				delete(h.fstab, line)
			}
		}
		return converge.Output{}, nil
	case strings.HasPrefix(cmd, "mount -t "):
		fstype, source, mountpoint := q[0], q[2], q[3]
		if strings.Contains(source, ":") {
			if err := f.mountPermitted(fstype, source, h.private); err != nil {
				return converge.Output{ExitCode: 32, Stdout: err.Error()}, nil
			}
		}
		h.mounted[mountpoint] = source
		return converge.Output{}, nil
	case strings.HasPrefix(cmd, "umount "):
		delete(h.mounted, q[0])
		return converge.Output{}, nil
	case cmd == "mount -a":
		return converge.Output{}, nil
	case strings.HasPrefix(cmd, "chown "):
		return converge.Output{}, nil
	case cmd == "command -v exportfs":
		return converge.Output{Stdout: "/usr/sbin/exportfs\n"}, nil
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

// inFstab reports whether any fstab line contains substr.
func (h *simHost) inFstab(substr string) bool {
	for line := range h.fstab {
		if strings.Contains(line, substr) {
			return true
		}
	}
	return false
}

// quotedArgs extracts the single-quoted segments of a shell command in
// order. The converge steps quote every variable argument, so this
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
