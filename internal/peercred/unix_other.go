//go:build !linux

package peercred

import (
	"errors"
	"net"

	"github.com/org/authbroker/internal/origin"
)

// UnixPeer is only supported on Linux.
func UnixPeer(*net.UnixConn) (origin.UnixSocket, error) {
	return origin.UnixSocket{}, errors.New("peer credentials are not supported on this platform")
}
