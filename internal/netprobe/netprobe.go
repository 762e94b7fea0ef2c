// Package netprobe answers two questions about local TCP ports: can we
// listen on one, and which process currently holds one. Ownership lookup
// failures are treated as "unknown", never as errors, because the callers
// (port reconciliation, the diagnostic battery) must keep going either way.
package netprobe

import (
	"fmt"
	"net"
	"time"

	gopsnet "github.com/shirou/gopsutil/v4/net"
)

// IsAvailable reports whether a listening socket can be bound on the
// wildcard address for port. The transient bind is the only side effect.
func IsAvailable(port int) bool {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return false
	}
	_ = ln.Close()
	return true
}

// FindOwningProcess returns the PID of the process listening on port.
// The second return is false when no owner exists or the OS query fails;
// query failure is deliberately indistinguishable from "no owner".
func FindOwningProcess(port int) (int, bool) {
	conns, err := gopsnet.Connections("tcp")
	if err != nil {
		return 0, false
	}
	for _, c := range conns {
		if c.Status != "LISTEN" {
			continue
		}
		if int(c.Laddr.Port) == port && c.Pid > 0 {
			return int(c.Pid), true
		}
	}
	return 0, false
}

// IsListening reports whether something accepts connections on host:port.
// Unlike IsAvailable it dials instead of binding, so it also sees sockets
// bound to loopback only.
func IsListening(host string, port int, timeout time.Duration) bool {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(host, fmt.Sprintf("%d", port)), timeout)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
