// Package origin describes where a transport connection came from.
//
// An Origin is a closed union of UnixSocket and TCP. The broker uses it
// to decide automatic trust elevation and to pin tokens to the
// connection that issued them.
package origin

import (
	"fmt"
	"net"
	"strconv"
)

// haInterconnectAddrs are the link-local addresses reserved for
// controller-to-controller traffic on HA systems.
var haInterconnectAddrs = map[string]bool{
	"169.254.10.1": true,
	"169.254.10.2": true,
}

// Origin is the transport-level source of a connection.
type Origin interface {
	String() string
	// Match reports whether other has the same kind and the same
	// discriminator (uid for Unix sockets, address for TCP).
	Match(other Origin) bool

	isOrigin()
}

// UnixSocket is a peer on the local Unix socket, identified by its
// SO_PEERCRED credentials.
type UnixSocket struct {
	PID int
	UID int
	GID int
}

func (UnixSocket) isOrigin() {}

func (o UnixSocket) String() string {
	return fmt.Sprintf("UNIX socket (pid=%d, uid=%d, gid=%d)", o.PID, o.UID, o.GID)
}

func (o UnixSocket) Match(other Origin) bool {
	u, ok := other.(UnixSocket)
	return ok && u.UID == o.UID
}

// IsRoot reports whether the peer runs as uid 0.
func (o UnixSocket) IsRoot() bool { return o.UID == 0 }

// TCP is a remote peer reached over TCP/IP.
type TCP struct {
	Addr string
	Port int
}

func (TCP) isOrigin() {}

func (o TCP) String() string {
	return net.JoinHostPort(o.Addr, strconv.Itoa(o.Port))
}

func (o TCP) Match(other Origin) bool {
	t, ok := other.(TCP)
	return ok && t.Addr == o.Addr
}

// IsLoopback reports whether the peer address is in 127.0.0.0/8 or is ::1.
func (o TCP) IsLoopback() bool {
	ip := net.ParseIP(o.Addr)
	if ip == nil {
		return false
	}
	if v4 := ip.To4(); v4 != nil {
		return v4[0] == 127
	}
	return ip.Equal(net.IPv6loopback)
}

// IsHAPeer reports whether the peer is the paired HA controller.
func (o TCP) IsHAPeer() bool {
	return IsHAConnection(o.Addr, o.Port)
}

// IsHAConnection reports whether a remote endpoint is an HA counterpart:
// a privileged source port on one of the fixed interconnect addresses.
func IsHAConnection(addr string, port int) bool {
	return port <= 1024 && haInterconnectAddrs[addr]
}

// FromTCPAddr converts a TCP network address into an Origin.
func FromTCPAddr(addr net.Addr) (TCP, bool) {
	tcp, ok := addr.(*net.TCPAddr)
	if !ok {
		return TCP{}, false
	}
	return TCP{Addr: tcp.IP.String(), Port: tcp.Port}, true
}
