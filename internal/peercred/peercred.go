// Package peercred identifies the process on the other side of a local
// connection.
package peercred

import (
	"errors"
	"fmt"
	"net"

	"github.com/prometheus/procfs"
)

// ErrNotFound is returned when no socket or no live process matches the
// peer address.
var ErrNotFound = errors.New("peer process not found")

// Resolver looks up loopback TCP peers through the proc filesystem.
type Resolver struct {
	fs procfs.FS
}

// NewResolver opens the default proc mount.
func NewResolver() (*Resolver, error) {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return nil, err
	}
	return &Resolver{fs: fs}, nil
}

// NewResolverAt opens the proc filesystem mounted at mountPoint.
func NewResolverAt(mountPoint string) (*Resolver, error) {
	fs, err := procfs.NewFS(mountPoint)
	if err != nil {
		return nil, err
	}
	return &Resolver{fs: fs}, nil
}

// TCPPeerEUID returns the effective uid of the process holding the TCP
// socket bound locally to addr:port. On a loopback connection that
// socket is the client's end. The socket table's own uid column records
// who created the socket, not who holds it now, so the owning process is
// found by inode and its status read.
func (r *Resolver) TCPPeerEUID(addr string, port int) (int, error) {
	ip := net.ParseIP(addr)
	if ip == nil {
		return 0, &net.AddrError{Err: "invalid address", Addr: addr}
	}
	inode, err := r.socketInode(ip, port)
	if err != nil {
		return 0, err
	}
	proc, err := r.socketHolder(inode)
	if err != nil {
		return 0, err
	}
	status, err := proc.NewStatus()
	if err != nil {
		// Exited between the fd scan and now.
		return 0, fmt.Errorf("%w: pid %d: %v", ErrNotFound, proc.PID, err)
	}
	return int(status.UIDs[1]), nil
}

func (r *Resolver) socketInode(ip net.IP, port int) (uint64, error) {
	v4, err := r.fs.NetTCP()
	if err != nil {
		return 0, err
	}
	if inode, ok := findInode(v4, ip, port); ok {
		return inode, nil
	}

	// IPv6 may be disabled on the host.
	v6, err := r.fs.NetTCP6()
	if err != nil {
		return 0, ErrNotFound
	}
	if inode, ok := findInode(v6, ip, port); ok {
		return inode, nil
	}
	return 0, ErrNotFound
}

func findInode(table procfs.NetTCP, ip net.IP, port int) (uint64, bool) {
	for _, line := range table {
		if line.LocalPort == uint64(port) && line.LocalAddr.Equal(ip) && line.Inode != 0 {
			return line.Inode, true
		}
	}
	return 0, false
}

// socketHolder finds the process with an open descriptor on the socket.
// Processes that vanish mid-scan are skipped.
func (r *Resolver) socketHolder(inode uint64) (procfs.Proc, error) {
	procs, err := r.fs.AllProcs()
	if err != nil {
		return procfs.Proc{}, err
	}
	want := fmt.Sprintf("socket:[%d]", inode)
	for _, p := range procs {
		targets, err := p.FileDescriptorTargets()
		if err != nil {
			continue
		}
		for _, target := range targets {
			if target == want {
				return p, nil
			}
		}
	}
	return procfs.Proc{}, ErrNotFound
}
