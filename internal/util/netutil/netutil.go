// Package netutil provides the small address and reachability helpers
// shared by the provisioning phases.
package netutil

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"
)

// NthHost returns the nth address of the subnet, counting from the
// network address. Hetzner reserves the first usable address of each
// subnet for the gateway, so callers hand out hosts from offset 2 up.
func NthHost(subnet *net.IPNet, n int) (net.IP, error) {
	ip := subnet.IP.To4()
	if ip == nil {
		return nil, fmt.Errorf("subnet %s is not IPv4", subnet)
	}
	if n < 0 {
		return nil, fmt.Errorf("host offset %d is negative", n)
	}

	addr := binary.BigEndian.Uint32(ip) + uint32(n)
	host := make(net.IP, net.IPv4len)
	binary.BigEndian.PutUint32(host, addr)

	if !subnet.Contains(host) {
		return nil, fmt.Errorf("host offset %d does not fit in %s", n, subnet)
	}
	return host, nil
}

// WaitForPort waits for a TCP port to accept connections. A cheap
// reachability probe used before paying for an authenticated handshake.
func WaitForPort(ctx context.Context, ip string, port int, timeout time.Duration) error {
	address := net.JoinHostPort(ip, strconv.Itoa(port))

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		conn, err := net.DialTimeout("tcp", address, 2*time.Second)
		if err == nil {
			_ = conn.Close()
			return nil
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("timeout waiting for %s", address)
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
